package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/normanking/astraavatar/internal/playback"
)

// DeviceConfig configures the output device
type DeviceConfig struct {
	SampleRate int
	Volume     float64
	Analyser   AnalyserConfig
}

type activeTrack struct {
	url     string
	samples []float32
	pos     int
	done    func(error)
}

// DeviceOutput plays tracks through one shared miniaudio playback device.
// The device is opened on first use and kept for the rest of the session.
type DeviceOutput struct {
	cfg     DeviceConfig
	fetcher *Fetcher
	logger  zerolog.Logger

	// openDevice is replaced in tests. It runs without mu held: the
	// backend may call render before the device start returns.
	openDevice func() error
	openMu     sync.Mutex
	opened     bool // guarded by openMu

	mu       sync.Mutex
	audioCtx *malgo.AllocatedContext
	device   *malgo.Device
	closed   bool
	track    *activeTrack
	analyser *Analyser
	mono     []float32
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewDeviceOutput creates an output that downloads tracks with fetcher
func NewDeviceOutput(cfg DeviceConfig, fetcher *Fetcher, logger zerolog.Logger) *DeviceOutput {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Volume <= 0 || cfg.Volume > 1 {
		cfg.Volume = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &DeviceOutput{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger.With().Str("component", "audio-output").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
	o.openDevice = o.initDevice
	return o
}

// Play opens the device if needed, loads url and plays it once decoded,
// all off the caller's goroutine. Only a closed output fails the start;
// device, download and decode errors arrive via done.
func (o *DeviceOutput) Play(url string, done func(error)) error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return ErrDeviceClosed
	}

	go func() {
		if err := o.ensureDevice(); err != nil {
			done(err)
			return
		}

		pcm, err := o.load(url)
		if err != nil {
			done(err)
			return
		}

		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			done(ErrDeviceClosed)
			return
		}
		o.track = &activeTrack{url: url, samples: pcm.Samples, done: done}
		o.mu.Unlock()

		o.logger.Debug().
			Str("url", url).
			Float64("seconds", pcm.Duration()).
			Msg("Track loaded")
	}()
	return nil
}

// ensureDevice opens the playback device once. A failed open is retried
// by the next track.
func (o *DeviceOutput) ensureDevice() error {
	o.openMu.Lock()
	defer o.openMu.Unlock()
	if o.opened {
		return nil
	}
	if err := o.openDevice(); err != nil {
		o.logger.Warn().Err(err).Msg("Playback device unavailable")
		return fmt.Errorf("open playback device: %w", err)
	}
	o.opened = true
	return nil
}

func (o *DeviceOutput) load(url string) (*PCM, error) {
	data, err := o.fetcher.Fetch(o.ctx, url)
	if err != nil {
		return nil, err
	}
	pcm, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if len(pcm.Samples) == 0 {
		return nil, ErrEmptyTrack
	}
	pcm.Samples = Resample(pcm.Samples, pcm.SampleRate, o.cfg.SampleRate)
	pcm.SampleRate = o.cfg.SampleRate
	return pcm, nil
}

// Active reports whether a track is being rendered
func (o *DeviceOutput) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.track != nil
}

// Analyser creates the spectrum tap on first call
func (o *DeviceOutput) Analyser() (playback.Analyser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrDeviceClosed
	}
	if o.analyser == nil {
		o.analyser = NewAnalyser(o.cfg.Analyser)
	}
	return o.analyser, nil
}

// Close releases the device. A track still playing is reported as failed.
func (o *DeviceOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.cancel()
	track := o.track
	o.track = nil
	device, audioCtx := o.device, o.audioCtx
	o.device, o.audioCtx = nil, nil
	o.mu.Unlock()

	if track != nil {
		go track.done(ErrDeviceClosed)
	}
	if device != nil {
		device.Uninit()
	}
	if audioCtx != nil {
		_ = audioCtx.Uninit()
		audioCtx.Free()
	}
	return nil
}

func (o *DeviceOutput) initDevice() error {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		o.logger.Debug().Str("malgo", message).Msg("miniaudio")
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	sampleRate := uint32(o.cfg.SampleRate)
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format)

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = sampleRate
	config.Playback.Format = format
	config.Playback.Channels = 1
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = sampleRate / 100 // ~10ms keeps the analyser current
	config.Periods = 4

	device, err := malgo.InitDevice(audioCtx.Context, config, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			o.render(pOutput, int(frameCount), bytesPerFrame)
		},
	})
	if err != nil {
		_ = audioCtx.Uninit()
		audioCtx.Free()
		return fmt.Errorf("init playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = audioCtx.Uninit()
		audioCtx.Free()
		return fmt.Errorf("start playback device: %w", err)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		device.Uninit()
		_ = audioCtx.Uninit()
		audioCtx.Free()
		return ErrDeviceClosed
	}
	o.audioCtx = audioCtx
	o.device = device
	o.mu.Unlock()

	o.logger.Info().Uint32("sample_rate", sampleRate).Msg("Playback device started")
	return nil
}

// render fills one device period with mono S16 samples from the current
// track, or silence, and feeds the same samples to the analyser.
func (o *DeviceOutput) render(out []byte, frames, bytesPerFrame int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cap(o.mono) < frames {
		o.mono = make([]float32, frames)
	}
	mono := o.mono[:frames]
	clear(mono)

	if t := o.track; t != nil {
		n := copy(mono, t.samples[t.pos:])
		t.pos += n
		if t.pos >= len(t.samples) {
			o.track = nil
			go t.done(nil)
		}
	}

	vol := float32(o.cfg.Volume)
	for i, s := range mono {
		v := s * vol
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		off := i * bytesPerFrame
		if off+2 > len(out) {
			break
		}
		binary.LittleEndian.PutUint16(out[off:], uint16(int16(math.Round(float64(v)*32767))))
	}

	if o.analyser != nil {
		o.analyser.Write(mono)
	}
}
