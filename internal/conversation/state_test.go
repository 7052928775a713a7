package conversation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/normanking/astraavatar/internal/protocol"
)

func TestNewState_StartsIdle(t *testing.T) {
	s := NewState(nil)

	assert.Equal(t, Idle, s.Current())
	assert.Equal(t, Pose{}, s.Pose())
	assert.Equal(t, "Astra is Idle", s.Label())
}

func TestApply_StateEvent(t *testing.T) {
	s := NewState(nil)

	tr := s.Apply(protocol.StateEvent{State: Thinking})
	assert.Equal(t, Transition{From: Idle, To: Thinking, Changed: true}, tr)
	assert.Equal(t, Pose{-0.25, 0.35, 0.05}, s.Pose())
	assert.Equal(t, "Astra is Thinking...", s.Label())

	tr = s.Apply(protocol.StateEvent{State: Thinking})
	assert.False(t, tr.Changed)
}

func TestApply_UnknownStateFallsBackToIdle(t *testing.T) {
	s := NewState(nil)

	s.Apply(protocol.StateEvent{State: "dancing"})

	assert.Equal(t, "dancing", s.Current())
	assert.Equal(t, DefaultTable()[Idle].Pose, s.Pose())
	assert.Equal(t, DefaultTable()[Idle].Label, s.Label())
}

func TestApply_ChunkImpliesResponding(t *testing.T) {
	s := NewState(nil)
	s.Apply(protocol.StateEvent{State: Searching})

	tr := s.Apply(protocol.ChunkEvent{Text: "Hel"})
	assert.Equal(t, Transition{From: Searching, To: Responding, Changed: true}, tr)

	tr = s.Apply(protocol.ChunkEvent{Text: "lo"})
	assert.Equal(t, Transition{From: Responding, To: Responding, Changed: false}, tr)
}

func TestApply_StateEventWinsMidStream(t *testing.T) {
	s := NewState(nil)
	s.Apply(protocol.ChunkEvent{Text: "Let me check"})

	s.Apply(protocol.StateEvent{State: Searching})
	assert.Equal(t, Searching, s.Current())
}

func TestApply_EndReturnsToIdle(t *testing.T) {
	s := NewState(nil)
	s.Apply(protocol.ChunkEvent{Text: "x"})

	tr := s.Apply(protocol.EndEvent{FinalText: "x"})
	assert.Equal(t, Transition{From: Responding, To: Idle, Changed: true}, tr)

	// end with nothing before it still lands on idle
	s.Apply(protocol.StateEvent{State: Thinking})
	s.Apply(protocol.EndEvent{})
	assert.Equal(t, Idle, s.Current())
}

func TestApply_AudioIsOrthogonal(t *testing.T) {
	s := NewState(nil)
	s.Apply(protocol.StateEvent{State: Thinking})

	tr := s.Apply(protocol.AudioEvent{URL: "a.mp3"})
	assert.False(t, tr.Changed)
	assert.Equal(t, Thinking, s.Current())
}

func TestApply_CurrentTracksLastStateEvent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	names := []string{Idle, Thinking, Searching, Responding, "", "unknown", "IDLE"}
	s := NewState(nil)

	for i := 0; i < 500; i++ {
		name := names[rng.Intn(len(names))]
		s.Apply(protocol.StateEvent{State: name})

		assert.Equal(t, name, s.Current())
		assert.NotPanics(t, func() {
			_ = s.Pose()
			_ = s.Label()
		})
	}
}

func TestSetTable(t *testing.T) {
	s := NewState(nil)
	s.SetTable(Table{"waving": {Pose: Pose{0.1, 0.2, 0.3}, Label: "Astra waves"}})

	s.Apply(protocol.StateEvent{State: "waving"})
	assert.Equal(t, "Astra waves", s.Label())
	assert.Equal(t, Pose{0.1, 0.2, 0.3}, s.Pose())

	// idle is always present
	s.Apply(protocol.StateEvent{State: Thinking})
	assert.Equal(t, "Astra is Idle", s.Label())
}

func TestReset(t *testing.T) {
	s := NewState(nil)
	s.Apply(protocol.StateEvent{State: Responding})
	s.Reset()
	assert.Equal(t, Idle, s.Current())
}
