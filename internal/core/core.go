// Package core wires the connection, playback queue, conversation state,
// transcript, UI and avatar together and runs them on one executor.
package core

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"

	"github.com/normanking/astraavatar/internal/avatar"
	"github.com/normanking/astraavatar/internal/bus"
	"github.com/normanking/astraavatar/internal/conversation"
	"github.com/normanking/astraavatar/internal/playback"
	"github.com/normanking/astraavatar/internal/protocol"
	"github.com/normanking/astraavatar/internal/transcript"
)

// UI is the presentation surface driven by the core
type UI interface {
	SetStatus(label string)
	AppendUserMessage(text string)
	StartStreamingMessage()
	AppendToStreamingMessage(text string)
	FinalizeStreamingMessage(text string)
}

// Sender transmits a user utterance to the backend
type Sender interface {
	Send(text string) error
}

// Deps are the collaborators owned by the caller
type Deps struct {
	UI         UI
	Sender     Sender
	Renderer   avatar.Renderer
	Queue      *playback.Queue
	State      *conversation.State
	Transcript *transcript.Transcript
	EventBus   *bus.EventBus
	Logger     zerolog.Logger
}

// Options tune the animation loop
type Options struct {
	FrameRate int
	Animator  avatar.AnimatorConfig
	Rand      *rand.Rand
}

// Core is the coordination loop. Every method that touches shared state
// posts a closure that Run executes, so nothing needs a lock.
type Core struct {
	ui         UI
	sender     Sender
	renderer   avatar.Renderer
	queue      *playback.Queue
	state      *conversation.State
	transcript *transcript.Transcript
	animator   *avatar.Animator
	eventBus   *bus.EventBus
	logger     zerolog.Logger

	frameInterval time.Duration
	inbox         chan func()
	done          chan struct{}
}

// New creates a core. Nil State, Transcript and Renderer get defaults, as
// does a zero animator config.
func New(deps Deps, opts Options) *Core {
	if opts.FrameRate <= 0 {
		opts.FrameRate = 60
	}
	if opts.Animator == (avatar.AnimatorConfig{}) {
		opts.Animator = avatar.DefaultAnimatorConfig()
	}
	if deps.State == nil {
		deps.State = conversation.NewState(nil)
	}
	if deps.Transcript == nil {
		deps.Transcript = transcript.New("", 0)
	}
	if deps.Renderer == nil {
		deps.Renderer = avatar.Nop{}
	}

	return &Core{
		ui:            deps.UI,
		sender:        deps.Sender,
		renderer:      deps.Renderer,
		queue:         deps.Queue,
		state:         deps.State,
		transcript:    deps.Transcript,
		animator:      avatar.NewAnimator(opts.Animator, opts.Rand),
		eventBus:      deps.EventBus,
		logger:        deps.Logger.With().Str("component", "core").Logger(),
		frameInterval: time.Second / time.Duration(opts.FrameRate),
		inbox:         make(chan func(), 256),
		done:          make(chan struct{}),
	}
}

// HandleEvent schedules an inbound event. It is safe to call from any
// goroutine and preserves call order.
func (c *Core) HandleEvent(ev protocol.Event) {
	c.post(func() { c.dispatch(ev) })
}

// Submit schedules a user utterance
func (c *Core) Submit(text string) {
	c.post(func() { c.submit(text) })
}

// SetTable schedules a swap of the pose and label table
func (c *Core) SetTable(table conversation.Table) {
	c.post(func() {
		c.state.SetTable(table)
		c.ui.SetStatus(c.state.Label())
		c.logger.Info().Int("phases", len(table)).Msg("Presentation table updated")
	})
}

// Run executes posted work, animation ticks and playback completions
// until ctx is cancelled.
func (c *Core) Run(ctx context.Context) error {
	defer close(c.done)

	ticker := time.NewTicker(c.frameInterval)
	defer ticker.Stop()

	c.ui.SetStatus(c.state.Label())
	c.renderer.SetState(c.state.Current())

	c.logger.Info().Dur("frame_interval", c.frameInterval).Msg("Coordination loop started")

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Coordination loop stopped")
			return nil

		case fn := <-c.inbox:
			fn()

		case comp := <-c.queue.Completions():
			c.queue.Complete(comp)

		case now := <-ticker.C:
			c.tick(now.Sub(last).Seconds())
			last = now
		}
	}
}

func (c *Core) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

// tick advances the animation by dt seconds
func (c *Core) tick(dt float64) {
	pose := c.state.Pose()
	target := mgl32.Vec3{pose.NeckX, pose.NeckY, pose.SpineY}
	amplitude := c.queue.CurrentAmplitude()

	frame := c.animator.Step(dt, target, amplitude, c.state.Current() == conversation.Idle)
	frame.Apply(c.renderer)
}

func (c *Core) dispatch(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.StateEvent:
		tr := c.applyState(ev)
		if tr.Changed && tr.To == conversation.Responding && !c.transcript.HasOpen() {
			c.startMessage()
		}

	case protocol.ChunkEvent:
		// the phase moves to responding before any text lands
		c.applyState(ev)
		if !c.transcript.HasOpen() {
			c.startMessage()
		}
		c.transcript.Append(e.Text)
		c.ui.AppendToStreamingMessage(e.Text)

	case protocol.AudioEvent:
		c.queue.Enqueue(e.URL)

	case protocol.EndEvent:
		if !c.transcript.HasOpen() && e.FinalText != "" {
			c.startMessage()
		}
		if c.transcript.Finalize(e.FinalText) {
			c.ui.FinalizeStreamingMessage(e.FinalText)
			c.eventBus.Publish(bus.Event{
				Type: bus.EventTypeResponseDone,
				Data: map[string]any{"length": len(e.FinalText)},
			})
		}
		c.applyState(ev)
	}
}

// applyState runs the state machine and mirrors a change to the UI,
// renderer and bus
func (c *Core) applyState(ev protocol.Event) conversation.Transition {
	tr := c.state.Apply(ev)
	if _, ok := ev.(protocol.StateEvent); !tr.Changed && !ok {
		return tr
	}

	c.ui.SetStatus(c.state.Label())
	c.renderer.SetState(tr.To)

	if tr.Changed {
		c.logger.Debug().Str("from", tr.From).Str("to", tr.To).Msg("State changed")
		c.eventBus.Publish(bus.Event{
			Type: bus.EventTypeStateChanged,
			Data: map[string]any{"from": tr.From, "to": tr.To},
		})
	}
	return tr
}

func (c *Core) startMessage() {
	c.transcript.Start()
	c.ui.StartStreamingMessage()
}

func (c *Core) submit(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if err := c.queue.InitAnalysis(); err != nil {
		c.logger.Debug().Err(err).Msg("Spectrum analysis unavailable")
	}

	c.transcript.AddUser(text)
	c.ui.AppendUserMessage(text)
	c.eventBus.Publish(bus.Event{
		Type: bus.EventTypeUserMessage,
		Data: map[string]any{"length": len(text)},
	})

	if err := c.sender.Send(text); err != nil {
		c.logger.Warn().Err(err).Msg("User message not sent")
	}
}
