package avatar

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/rs/zerolog"
)

// Bone roles driven by the rig
const (
	BoneNeck          = "neck"
	BoneChest         = "chest"
	BoneSpine         = "spine"
	BoneLeftUpperArm  = "leftUpperArm"
	BoneRightUpperArm = "rightUpperArm"
)

// Expressions driven by the rig
const (
	ExpressionMouth = "aa"
	ExpressionBlink = "blink"
)

// armRestZ lowers the arms out of the T-pose
const armRestZ = 1.2

// morph target names tried when the model has no VRM expression binds
var expressionCandidates = map[string][]string{
	ExpressionMouth: {"aa", "a", "mouthOpen", "jawOpen", "Fcl_MTH_A"},
	ExpressionBlink: {"blink", "eyeBlink", "eyesClosed", "Fcl_EYE_Close"},
}

// vrm0 preset names differ from vrm1 for the mouth
var vrm0Presets = map[string]string{
	ExpressionMouth: "a",
	ExpressionBlink: "blink",
}

type morphBind struct {
	mesh   int
	index  int
	weight float64
}

type bone struct {
	node int
	rest mgl32.Quat
}

// Rig is a headless humanoid rig. With a document it writes bone rotations
// into the document's nodes and expression weights into its meshes;
// without one it only tracks the values. Safe for concurrent use.
type Rig struct {
	doc    *gltf.Document
	logger zerolog.Logger

	blinkDuration time.Duration

	mu          sync.Mutex
	bones       map[string]bone
	expressions map[string][]morphBind
	pose        mgl32.Vec3
	chestX      float32
	neckSway    float32
	mouth       float32
	blink       float32
	state       string
	blinkTimer  *time.Timer
	blinks      int
}

// LoadRig opens a .gltf, .glb or .vrm file
func LoadRig(path string, blinkDuration time.Duration, logger zerolog.Logger) (*Rig, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	return NewRig(doc, blinkDuration, logger), nil
}

// NewRig binds a rig to doc. A nil doc gives a rig that only tracks values.
func NewRig(doc *gltf.Document, blinkDuration time.Duration, logger zerolog.Logger) *Rig {
	if blinkDuration <= 0 {
		blinkDuration = 150 * time.Millisecond
	}
	r := &Rig{
		doc:           doc,
		logger:        logger.With().Str("component", "rig").Logger(),
		blinkDuration: blinkDuration,
		bones:         make(map[string]bone),
		expressions:   make(map[string][]morphBind),
		state:         "idle",
	}
	if doc == nil {
		return r
	}

	r.bindHumanoid()
	r.bindExpressions()

	for _, role := range []string{BoneNeck, BoneChest, BoneSpine} {
		if _, ok := r.bones[role]; !ok {
			r.logger.Warn().Str("bone", role).Msg("Model has no bone for role")
		}
	}
	for _, name := range []string{ExpressionMouth, ExpressionBlink} {
		if len(r.expressions[name]) == 0 {
			r.logger.Warn().Str("expression", name).Msg("Model has no morph target for expression")
		}
	}

	r.rotate(BoneLeftUpperArm, mgl32.Vec3{0, 0, -armRestZ})
	r.rotate(BoneRightUpperArm, mgl32.Vec3{0, 0, armRestZ})

	r.logger.Info().
		Int("bones", len(r.bones)).
		Int("expressions", len(r.expressions)).
		Msg("Rig bound to model")
	return r
}

// SetPoseTarget implements Renderer
func (r *Rig) SetPoseTarget(neckX, neckY, spineY float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pose = mgl32.Vec3{neckX, neckY, spineY}
	r.applyPose()
}

// SetIdleMotion implements Renderer
func (r *Rig) SetIdleMotion(chestX, neckSway float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chestX = chestX
	r.neckSway = neckSway
	r.applyPose()
}

// SetAmplitude implements Renderer
func (r *Rig) SetAmplitude(v float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mouth = clamp(v, 0, 1)
	r.setExpression(ExpressionMouth, r.mouth)
}

// SetState implements Renderer
func (r *Rig) SetState(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != name {
		r.logger.Debug().Str("from", r.state).Str("to", name).Msg("Rig state")
	}
	r.state = name
}

// TriggerBlink closes the eyes and reopens them after the blink duration
func (r *Rig) TriggerBlink() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.blinks++
	r.blink = 1
	r.setExpression(ExpressionBlink, 1)

	if r.blinkTimer != nil {
		r.blinkTimer.Stop()
	}
	r.blinkTimer = time.AfterFunc(r.blinkDuration, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.blink = 0
		r.setExpression(ExpressionBlink, 0)
	})
}

// Snapshot is the rig's current values
type Snapshot struct {
	Pose     mgl32.Vec3
	ChestX   float32
	NeckSway float32
	Mouth    float32
	Blink    float32
	Blinks   int
	State    string
}

// Snapshot returns the current values
func (r *Rig) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Pose:     r.pose,
		ChestX:   r.chestX,
		NeckSway: r.neckSway,
		Mouth:    r.mouth,
		Blink:    r.blink,
		Blinks:   r.blinks,
		State:    r.state,
	}
}

// BoneRotation returns the node rotation currently written for role
func (r *Rig) BoneRotation(role string) (mgl32.Quat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bones[role]
	if !ok {
		return mgl32.QuatIdent(), false
	}
	rot := r.doc.Nodes[b.node].Rotation
	return mgl32.Quat{W: float32(rot[3]), V: mgl32.Vec3{float32(rot[0]), float32(rot[1]), float32(rot[2])}}, true
}

// Close stops a pending blink timer
func (r *Rig) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blinkTimer != nil {
		r.blinkTimer.Stop()
	}
}

// applyPose writes neck, chest and spine rotations. Caller holds mu.
func (r *Rig) applyPose() {
	r.rotate(BoneNeck, mgl32.Vec3{r.pose[0], r.pose[1] + r.neckSway, 0})
	r.rotate(BoneChest, mgl32.Vec3{r.chestX, 0, 0})
	r.rotate(BoneSpine, mgl32.Vec3{0, r.pose[2], 0})
}

// rotate sets a bone to its rest rotation followed by euler XYZ angles
func (r *Rig) rotate(role string, euler mgl32.Vec3) {
	b, ok := r.bones[role]
	if !ok {
		return
	}
	q := b.rest.Mul(mgl32.AnglesToQuat(euler[0], euler[1], euler[2], mgl32.XYZ)).Normalize()
	r.doc.Nodes[b.node].Rotation = [4]float64{float64(q.V[0]), float64(q.V[1]), float64(q.V[2]), float64(q.W)}
}

func (r *Rig) setExpression(name string, v float32) {
	for _, bind := range r.expressions[name] {
		mesh := r.doc.Meshes[bind.mesh]
		if bind.index >= len(mesh.Weights) {
			continue
		}
		mesh.Weights[bind.index] = float64(v) * bind.weight
	}
}

type vrm0Extension struct {
	Humanoid struct {
		HumanBones []struct {
			Bone string `json:"bone"`
			Node int    `json:"node"`
		} `json:"humanBones"`
	} `json:"humanoid"`
	BlendShapeMaster struct {
		BlendShapeGroups []struct {
			Name       string `json:"name"`
			PresetName string `json:"presetName"`
			Binds      []struct {
				Mesh   int     `json:"mesh"`
				Index  int     `json:"index"`
				Weight float64 `json:"weight"` // 0..100
			} `json:"binds"`
		} `json:"blendShapeGroups"`
	} `json:"blendShapeMaster"`
}

type vrm1Extension struct {
	Humanoid struct {
		HumanBones map[string]struct {
			Node int `json:"node"`
		} `json:"humanBones"`
	} `json:"humanoid"`
	Expressions struct {
		Preset map[string]struct {
			MorphTargetBinds []struct {
				Node   int     `json:"node"`
				Index  int     `json:"index"`
				Weight float64 `json:"weight"` // 0..1
			} `json:"morphTargetBinds"`
		} `json:"preset"`
	} `json:"expressions"`
}

// extension decodes a document extension kept as raw JSON
func (r *Rig) extension(name string, v any) bool {
	raw, ok := r.doc.Extensions[name]
	if !ok {
		return false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		r.logger.Warn().Err(err).Str("extension", name).Msg("Ignoring unreadable extension")
		return false
	}
	return true
}

func (r *Rig) bindBone(role string, node int) {
	if node < 0 || node >= len(r.doc.Nodes) {
		return
	}
	rot := r.doc.Nodes[node].Rotation
	rest := mgl32.Quat{W: float32(rot[3]), V: mgl32.Vec3{float32(rot[0]), float32(rot[1]), float32(rot[2])}}
	if rest.Len() == 0 {
		rest = mgl32.QuatIdent()
	}
	r.bones[role] = bone{node: node, rest: rest}
}

func (r *Rig) bindHumanoid() {
	var v1 vrm1Extension
	if r.extension("VRMC_vrm", &v1) {
		for role, b := range v1.Humanoid.HumanBones {
			r.bindBone(role, b.Node)
		}
	}

	var v0 vrm0Extension
	if r.extension("VRM", &v0) {
		for _, b := range v0.Humanoid.HumanBones {
			if _, ok := r.bones[b.Bone]; !ok {
				r.bindBone(b.Bone, b.Node)
			}
		}
	}

	// plain glTF: match node names
	for _, role := range []string{BoneNeck, BoneChest, BoneSpine, BoneLeftUpperArm, BoneRightUpperArm} {
		if _, ok := r.bones[role]; ok {
			continue
		}
		for i, n := range r.doc.Nodes {
			if strings.EqualFold(n.Name, role) {
				r.bindBone(role, i)
				break
			}
		}
	}
}

func (r *Rig) bindExpressions() {
	var v1 vrm1Extension
	if r.extension("VRMC_vrm", &v1) {
		for _, name := range []string{ExpressionMouth, ExpressionBlink} {
			for _, b := range v1.Expressions.Preset[name].MorphTargetBinds {
				if b.Node < 0 || b.Node >= len(r.doc.Nodes) || r.doc.Nodes[b.Node].Mesh == nil {
					continue
				}
				r.addBind(name, *r.doc.Nodes[b.Node].Mesh, b.Index, b.Weight)
			}
		}
	}

	var v0 vrm0Extension
	if r.extension("VRM", &v0) {
		for _, name := range []string{ExpressionMouth, ExpressionBlink} {
			if len(r.expressions[name]) > 0 {
				continue
			}
			for _, g := range v0.BlendShapeMaster.BlendShapeGroups {
				if !strings.EqualFold(g.PresetName, vrm0Presets[name]) {
					continue
				}
				for _, b := range g.Binds {
					r.addBind(name, b.Mesh, b.Index, b.Weight/100)
				}
			}
		}
	}

	for _, name := range []string{ExpressionMouth, ExpressionBlink} {
		if len(r.expressions[name]) > 0 {
			continue
		}
		for mi, mesh := range r.doc.Meshes {
			for ti, target := range targetNames(mesh) {
				if matchesAny(target, expressionCandidates[name]) {
					r.addBind(name, mi, ti, 1)
				}
			}
		}
	}
}

func (r *Rig) addBind(name string, mesh, index int, weight float64) {
	if mesh < 0 || mesh >= len(r.doc.Meshes) || index < 0 {
		return
	}
	m := r.doc.Meshes[mesh]
	if len(m.Weights) <= index {
		count := index + 1
		if len(m.Primitives) > 0 && len(m.Primitives[0].Targets) > count {
			count = len(m.Primitives[0].Targets)
		}
		weights := make([]float64, count)
		copy(weights, m.Weights)
		m.Weights = weights
	}
	r.expressions[name] = append(r.expressions[name], morphBind{mesh: mesh, index: index, weight: weight})
}

// targetNames reads the morph target names exporters put in mesh extras
func targetNames(mesh *gltf.Mesh) []string {
	extras, ok := mesh.Extras.(map[string]any)
	if !ok {
		return nil
	}
	list, ok := extras["targetNames"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, len(list))
	for i, n := range list {
		if s, ok := n.(string); ok {
			names[i] = s
		}
	}
	return names
}

func matchesAny(name string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(name, c) {
			return true
		}
	}
	return false
}
