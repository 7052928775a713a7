// Package avatar animates the assistant's humanoid rig: the per-frame
// animator and a headless rig bound to a glTF/VRM document.
package avatar

// Renderer receives the animated values every frame
type Renderer interface {
	// SetPoseTarget sets neck pitch, neck yaw and spine yaw in radians
	SetPoseTarget(neckX, neckY, spineY float32)
	// SetAmplitude sets the mouth-open weight in [0,1]
	SetAmplitude(v float32)
	// SetState tells the renderer the conversational phase
	SetState(name string)
	// TriggerBlink closes the eyes briefly
	TriggerBlink()
	// SetIdleMotion sets chest pitch from breathing and the neck sway offset
	SetIdleMotion(chestX, neckSway float32)
}

// Nop discards everything
type Nop struct{}

func (Nop) SetPoseTarget(_, _, _ float32) {}
func (Nop) SetAmplitude(float32)          {}
func (Nop) SetState(string)               {}
func (Nop) TriggerBlink()                 {}
func (Nop) SetIdleMotion(_, _ float32)    {}
