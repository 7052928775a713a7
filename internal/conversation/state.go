// Package conversation tracks the assistant's conversational phase and maps
// each phase to an avatar pose and a status label.
package conversation

import (
	"github.com/normanking/astraavatar/internal/protocol"
)

// Phase names the server is known to send
const (
	Idle       = "idle"
	Thinking   = "thinking"
	Searching  = "searching"
	Responding = "responding"
)

// Pose holds joint offsets in radians
type Pose struct {
	NeckX  float32
	NeckY  float32
	SpineY float32
}

// Phase is the presentation of one conversational phase
type Phase struct {
	Pose  Pose
	Label string
}

// Table maps phase names to their presentation. It must contain Idle.
type Table map[string]Phase

// DefaultTable returns the stock poses and labels
func DefaultTable() Table {
	return Table{
		Idle:       {Pose: Pose{0, 0, 0}, Label: "Astra is Idle"},
		Thinking:   {Pose: Pose{-0.25, 0.35, 0.05}, Label: "Astra is Thinking..."},
		Searching:  {Pose: Pose{-0.15, -0.4, -0.05}, Label: "Searching Knowledge Base..."},
		Responding: {Pose: Pose{0.05, 0, 0}, Label: "Astra is Responding"},
	}
}

// lookup returns the entry for name, falling back to Idle
func (t Table) lookup(name string) Phase {
	if p, ok := t[name]; ok {
		return p
	}
	return t[Idle]
}

// Transition describes the effect of applying one event
type Transition struct {
	From    string
	To      string
	Changed bool
}

// State is the conversational state machine. It is not safe for concurrent
// use; the owner confines it to one goroutine.
type State struct {
	current string
	table   Table
}

// NewState creates a state in Idle. A nil table uses DefaultTable.
func NewState(table Table) *State {
	s := &State{current: Idle}
	s.SetTable(table)
	return s
}

// Apply advances the state for one inbound event.
//
// A state frame always wins, even mid-response. A chunk implies Responding.
// An end returns to Idle. Audio does not affect the phase.
func (s *State) Apply(ev protocol.Event) Transition {
	from := s.current

	switch e := ev.(type) {
	case protocol.StateEvent:
		s.current = e.State
	case protocol.ChunkEvent:
		if s.current != Responding {
			s.current = Responding
		}
	case protocol.EndEvent:
		s.current = Idle
	}

	return Transition{From: from, To: s.current, Changed: from != s.current}
}

// Current returns the raw name of the most recently applied phase
func (s *State) Current() string {
	return s.current
}

// Pose returns the pose target of the current phase
func (s *State) Pose() Pose {
	return s.table.lookup(s.current).Pose
}

// Label returns the status label of the current phase
func (s *State) Label() string {
	return s.table.lookup(s.current).Label
}

// SetTable swaps the presentation table. Tables without an Idle entry get
// the default Idle entry added.
func (s *State) SetTable(table Table) {
	if table == nil {
		table = DefaultTable()
	}
	if _, ok := table[Idle]; !ok {
		merged := make(Table, len(table)+1)
		for k, v := range table {
			merged[k] = v
		}
		merged[Idle] = DefaultTable()[Idle]
		table = merged
	}
	s.table = table
}

// Reset returns to Idle
func (s *State) Reset() {
	s.current = Idle
}
