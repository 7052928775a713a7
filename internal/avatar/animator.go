package avatar

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
)

// AnimatorConfig holds the animation constants
type AnimatorConfig struct {
	PoseLerp           float32 // per-frame factor at 60fps
	MouthLerp          float32
	BlinkChanceIdle    float64 // per-frame probability
	BlinkChanceActive  float64
	BreathingRate      float32 // radians per second
	BreathingAmplitude float32
	SwayRate           float32
	SwayAmplitude      float32
}

// DefaultAnimatorConfig returns the stock animation constants
func DefaultAnimatorConfig() AnimatorConfig {
	return AnimatorConfig{
		PoseLerp:           0.05,
		MouthLerp:          0.3,
		BlinkChanceIdle:    0.005,
		BlinkChanceActive:  0.002,
		BreathingRate:      1.0,
		BreathingAmplitude: 0.03,
		SwayRate:           0.5,
		SwayAmplitude:      0.02,
	}
}

// Frame is the output of one animation step
type Frame struct {
	Pose     mgl32.Vec3 // neckX, neckY, spineY
	Mouth    float32
	ChestX   float32
	NeckSway float32
	Blink    bool
}

// Animator smooths pose and mouth toward their targets and layers
// breathing, sway and random blinks on top. It is driven from a single
// goroutine.
type Animator struct {
	cfg     AnimatorConfig
	rng     *rand.Rand
	pose    mgl32.Vec3
	mouth   float32
	elapsed float64
}

// NewAnimator creates an animator. A nil rng uses a time-seeded source.
func NewAnimator(cfg AnimatorConfig, rng *rand.Rand) *Animator {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Animator{cfg: cfg, rng: rng}
}

// Step advances by dt seconds. idle selects the higher blink chance.
func (a *Animator) Step(dt float64, target mgl32.Vec3, amplitude float32, idle bool) Frame {
	if dt < 0 {
		dt = 0
	}
	a.elapsed += dt

	pf := smoothing(a.cfg.PoseLerp, dt)
	a.pose = a.pose.Add(target.Sub(a.pose).Mul(pf))

	mf := smoothing(a.cfg.MouthLerp, dt)
	a.mouth += (clamp(amplitude, 0, 1) - a.mouth) * mf

	t := a.elapsed
	chance := a.cfg.BlinkChanceActive
	if idle {
		chance = a.cfg.BlinkChanceIdle
	}

	return Frame{
		Pose:     a.pose,
		Mouth:    a.mouth,
		ChestX:   float32(math.Sin(t*float64(a.cfg.BreathingRate))) * a.cfg.BreathingAmplitude,
		NeckSway: float32(math.Sin(t*float64(a.cfg.SwayRate))) * a.cfg.SwayAmplitude,
		Blink:    a.rng.Float64() < chance,
	}
}

// Apply pushes a frame to a renderer
func (f Frame) Apply(r Renderer) {
	r.SetPoseTarget(f.Pose[0], f.Pose[1], f.Pose[2])
	r.SetAmplitude(f.Mouth)
	r.SetIdleMotion(f.ChestX, f.NeckSway)
	if f.Blink {
		r.TriggerBlink()
	}
}

// Elapsed returns the animation clock in seconds
func (a *Animator) Elapsed() float64 {
	return a.elapsed
}

// smoothing converts a per-frame factor at 60fps into one for dt
func smoothing(factor float32, dt float64) float32 {
	if dt <= 0 {
		return factor
	}
	return 1 - float32(math.Pow(float64(1-factor), dt*60))
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
