package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Decode sniffs the container and decodes WAV or MP3 data to mono PCM
func Decode(data []byte) (*PCM, error) {
	switch {
	case isWAV(data):
		return decodeWAV(data)
	case isMP3(data):
		return decodeMP3(data)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func isMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	// MPEG frame sync
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

func decodeWAV(data []byte) (*PCM, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav", ErrUnsupportedFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: wav without format", ErrUnsupportedFormat)
	}

	channels := buf.Format.NumChannels
	bitDepth := int(d.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupportedFormat, bitDepth)
	}

	var offset float32
	scale := float32(int64(1) << (bitDepth - 1))
	if bitDepth == 8 {
		// 8-bit PCM is unsigned
		offset = 128
		scale = 128
	}

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += (float32(buf.Data[i*channels+c]) - offset) / scale
		}
		samples[i] = sum / float32(channels)
	}

	return &PCM{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

func decodeMP3(data []byte) (*PCM, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	// go-mp3 always yields 16-bit little-endian stereo
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		l := int16(binary.LittleEndian.Uint16(raw[i*4:]))
		r := int16(binary.LittleEndian.Uint16(raw[i*4+2:]))
		samples[i] = (float32(l) + float32(r)) / 2 / 32768.0
	}

	return &PCM{Samples: samples, SampleRate: d.SampleRate()}, nil
}

// Resample converts mono samples between rates by linear interpolation
func Resample(in []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}

	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(in) - 1

	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*frac
	}
	return out
}
