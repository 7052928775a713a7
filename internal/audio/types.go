// Package audio plays assistant audio on the local output device and taps
// the played samples for spectrum analysis.
package audio

import (
	"errors"
)

// Common errors
var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrDeviceClosed      = errors.New("audio device closed")
	ErrEmptyTrack        = errors.New("audio track has no samples")
)

// PCM is decoded mono audio in the range [-1, 1]
type PCM struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playing time in seconds
func (p *PCM) Duration() float64 {
	if p.SampleRate == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}
