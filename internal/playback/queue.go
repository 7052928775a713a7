// Package playback plays assistant audio tracks one at a time and samples
// the playing track's spectrum for lip-sync.
package playback

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/astraavatar/internal/bus"
)

// ErrNoAnalyser is returned by outputs that cannot provide spectrum data
var ErrNoAnalyser = errors.New("spectrum analysis unavailable")

// Status of a track
type Status int

const (
	Queued Status = iota
	Playing
	Finished
	Failed
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "queued"
	case Playing:
		return "playing"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Track is one playable resource
type Track struct {
	ID     string
	URL    string
	Status Status
	Err    error
}

// Analyser exposes the frequency spectrum of what is currently playing
type Analyser interface {
	// BinCount returns the number of frequency bins
	BinCount() int
	// ByteFrequencyData fills dst with bin magnitudes scaled to 0..255
	ByteFrequencyData(dst []byte)
}

// Output is the shared playback resource. Play must not block; it reports
// a start failure directly and any later outcome through done, which is
// called exactly once when Play returned nil.
type Output interface {
	Play(url string, done func(error)) error
	// Active reports whether audio is audible right now
	Active() bool
	// Analyser creates or returns the spectrum tap of the output
	Analyser() (Analyser, error)
}

// Completion reports the end of a track
type Completion struct {
	TrackID string
	Err     error
}

// Config holds queue options
type Config struct {
	// Sensitivity divides the mean bin magnitude (0..255) to get amplitude
	Sensitivity float64
}

// Queue is a FIFO of tracks played strictly one after another.
//
// Enqueue, Complete, InitAnalysis and CurrentAmplitude are called from
// the owner's executor goroutine. Output callbacks only post to the
// completions channel.
type Queue struct {
	out         Output
	sensitivity float64
	logger      zerolog.Logger
	eventBus    *bus.EventBus

	pending []*Track
	current *Track

	analyser Analyser
	bins     []byte

	completions chan Completion
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewQueue creates a queue playing through out
func NewQueue(out Output, cfg Config, eventBus *bus.EventBus, logger zerolog.Logger) *Queue {
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = 60
	}
	return &Queue{
		out:         out,
		sensitivity: cfg.Sensitivity,
		logger:      logger.With().Str("component", "playback").Logger(),
		eventBus:    eventBus,
		completions: make(chan Completion, 64),
		stop:        make(chan struct{}),
	}
}

// Completions delivers track outcomes to be applied with Complete
func (q *Queue) Completions() <-chan Completion {
	return q.completions
}

// Enqueue appends a track and starts playback if nothing is playing
func (q *Queue) Enqueue(url string) *Track {
	t := &Track{ID: uuid.NewString(), URL: url, Status: Queued}
	q.pending = append(q.pending, t)

	q.logger.Debug().Str("track", t.ID).Str("url", url).Int("pending", len(q.pending)).Msg("Track queued")
	q.publish(bus.EventTypeTrackQueued, t)

	q.advance()
	return t
}

// Complete applies a completion. Completions for anything other than the
// current track are ignored.
func (q *Queue) Complete(c Completion) {
	if q.current == nil || q.current.ID != c.TrackID {
		q.logger.Debug().Str("track", c.TrackID).Msg("Ignoring stale completion")
		return
	}
	q.finish(q.current, c.Err)
	q.advance()
}

// Current returns the playing track, if any
func (q *Queue) Current() *Track {
	return q.current
}

// Pending returns the number of tracks waiting to play
func (q *Queue) Pending() int {
	return len(q.pending)
}

// InitAnalysis wires up the spectrum tap. It is idempotent.
func (q *Queue) InitAnalysis() error {
	if q.analyser != nil {
		return nil
	}
	a, err := q.out.Analyser()
	if err != nil {
		return err
	}
	if a == nil {
		return ErrNoAnalyser
	}
	q.analyser = a
	q.bins = make([]byte, a.BinCount())
	q.logger.Debug().Int("bins", len(q.bins)).Msg("Spectrum analysis initialized")
	return nil
}

// CurrentAmplitude returns the mean spectrum magnitude of the playing track
// scaled into [0,1]. It is 0 whenever there is nothing to measure.
func (q *Queue) CurrentAmplitude() float32 {
	if q.analyser == nil || q.current == nil || len(q.bins) == 0 || !q.out.Active() {
		return 0
	}

	q.analyser.ByteFrequencyData(q.bins)

	var sum int
	for _, b := range q.bins {
		sum += int(b)
	}
	avg := float64(sum) / float64(len(q.bins))

	v := avg / q.sensitivity
	if v > 1 {
		v = 1
	}
	if v < 0 {
		v = 0
	}
	return float32(v)
}

// Close stops accepting completions from the output
func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.stop) })
}

// advance starts pending tracks until one is playing or none remain
func (q *Queue) advance() {
	for q.current == nil && len(q.pending) > 0 {
		t := q.pending[0]
		q.pending = q.pending[1:]

		t.Status = Playing
		q.current = t
		q.logger.Info().Str("track", t.ID).Str("url", t.URL).Msg("Playing track")
		q.publish(bus.EventTypeTrackStarted, t)

		id := t.ID
		if err := q.out.Play(t.URL, func(err error) { q.post(Completion{TrackID: id, Err: err}) }); err != nil {
			q.finish(t, err)
		}
	}
}

func (q *Queue) finish(t *Track, err error) {
	if err != nil {
		t.Status = Failed
		t.Err = err
		q.logger.Warn().Err(err).Str("track", t.ID).Str("url", t.URL).Msg("Playback failed")
		q.publish(bus.EventTypeTrackFailed, t)
	} else {
		t.Status = Finished
		q.logger.Debug().Str("track", t.ID).Msg("Track finished")
		q.publish(bus.EventTypeTrackFinished, t)
	}
	if q.current == t {
		q.current = nil
	}
}

func (q *Queue) post(c Completion) {
	select {
	case q.completions <- c:
	case <-q.stop:
	}
}

func (q *Queue) publish(eventType bus.EventType, t *Track) {
	data := map[string]any{
		"track_id": t.ID,
		"url":      t.URL,
		"status":   t.Status.String(),
	}
	if t.Err != nil {
		data["error"] = t.Err.Error()
	}
	q.eventBus.Publish(bus.Event{Type: eventType, Data: data})
}
