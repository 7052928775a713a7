package audio

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeWAV writes a 16-bit wav with the given interleaved samples
func encodeWAV(t *testing.T, rate, channels int, data []int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	return out
}

func sine(n, rate int, freq, amp float64) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = int(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestDecode_WAVStereoDownmix(t *testing.T) {
	// left full positive, right silent
	data := []int{16384, 0, 16384, 0, -16384, 0}
	pcm, err := Decode(encodeWAV(t, 22050, 2, data))
	require.NoError(t, err)

	assert.Equal(t, 22050, pcm.SampleRate)
	require.Len(t, pcm.Samples, 3)
	assert.InDelta(t, 0.25, pcm.Samples[0], 1e-3)
	assert.InDelta(t, -0.25, pcm.Samples[2], 1e-3)
}

func TestDecode_Unsupported(t *testing.T) {
	_, err := Decode([]byte("OggS\x00\x02 not audio we know"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Decode(nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDecode_BrokenMP3(t *testing.T) {
	_, err := Decode([]byte("ID3\x04\x00\x00\x00\x00\x00\x00garbage"))
	assert.Error(t, err)
}

func TestResample(t *testing.T) {
	in := []float32{0, 1, 0, -1}

	assert.Equal(t, in, Resample(in, 16000, 16000))

	up := Resample(in, 1, 2)
	require.Len(t, up, 8)
	assert.InDelta(t, 0.5, up[1], 1e-6)
	assert.InDelta(t, 1, up[2], 1e-6)
	assert.InDelta(t, -1, up[7], 1e-6)

	down := Resample(in, 2, 1)
	assert.Equal(t, []float32{0, 0}, down)
}

func TestAnalyser_SilenceIsZero(t *testing.T) {
	a := NewAnalyser(DefaultAnalyserConfig())
	require.Equal(t, 128, a.BinCount())

	a.Write(make([]float32, 512))
	bins := make([]byte, a.BinCount())
	a.ByteFrequencyData(bins)

	for i, b := range bins {
		assert.Zero(t, b, "bin %d", i)
	}
}

func TestAnalyser_ToneLandsInItsBin(t *testing.T) {
	cfg := DefaultAnalyserConfig()
	cfg.SmoothingTimeConstant = 0
	a := NewAnalyser(cfg)

	const rate = 48000
	// bin k covers k*rate/fftSize Hz; pick the center of bin 16
	freq := 16.0 * rate / 256
	samples := make([]float32, 256)
	for i := range samples {
		samples[i] = float32(0.02 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	a.Write(samples)

	bins := make([]byte, a.BinCount())
	a.ByteFrequencyData(bins)

	peak := 0
	for i := range bins {
		if bins[i] > bins[peak] {
			peak = i
		}
	}
	assert.Equal(t, 16, peak)
	assert.Greater(t, bins[16], bins[40])
}

func TestAnalyser_SmoothingDecaysTowardSilence(t *testing.T) {
	a := NewAnalyser(DefaultAnalyserConfig())

	samples := make([]float32, 256)
	for i := range samples {
		samples[i] = float32(0.01 * math.Sin(2*math.Pi*8*float64(i)/256))
	}
	a.Write(samples)
	bins := make([]byte, a.BinCount())
	for i := 0; i < 10; i++ {
		a.ByteFrequencyData(bins)
	}
	loud := bins[8]
	require.NotZero(t, loud)

	a.Write(make([]float32, 256))
	a.ByteFrequencyData(bins)
	assert.Less(t, bins[8], loud)
	assert.NotZero(t, bins[8], "smoothing keeps some energy for one frame")
}

func TestFetcher_ResolvesRelativeURLs(t *testing.T) {
	f, err := NewFetcher("http://localhost:8000", time.Second)
	require.NoError(t, err)

	got, err := f.Resolve("/static/audio/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/static/audio/a.mp3", got)

	got, err = f.Resolve("https://cdn.example.com/b.mp3")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/b.mp3", got)

	bare, err := NewFetcher("", time.Second)
	require.NoError(t, err)
	_, err = bare.Resolve("a.mp3")
	assert.Error(t, err)
}

func TestFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/ok.wav" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("RIFF"))
	}))
	defer srv.Close()

	f, err := NewFetcher(srv.URL, time.Second)
	require.NoError(t, err)

	data, err := f.Fetch(context.Background(), "/audio/ok.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), data)

	_, err = f.Fetch(context.Background(), "/audio/missing.wav")
	assert.ErrorContains(t, err, "status 404")
}

func newTestOutput(t *testing.T, handler http.Handler) *DeviceOutput {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f, err := NewFetcher(srv.URL, time.Second)
	require.NoError(t, err)

	o := NewDeviceOutput(DeviceConfig{SampleRate: 8000, Analyser: DefaultAnalyserConfig()}, f, zerolog.Nop())
	o.openDevice = func() error { return nil }
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestDeviceOutput_PlaysTrackToCompletion(t *testing.T) {
	clip := encodeWAV(t, 8000, 1, sine(400, 8000, 500, 0.5))
	o := newTestOutput(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(clip)
	}))

	a, err := o.Analyser()
	require.NoError(t, err)
	assert.Equal(t, 128, a.BinCount())

	done := make(chan error, 1)
	require.NoError(t, o.Play("/clip.wav", func(err error) { done <- err }))

	require.Eventually(t, o.Active, time.Second, 5*time.Millisecond)

	out := make([]byte, 160*2)
	o.render(out, 160, 2)
	o.render(out, 160, 2)
	assert.True(t, o.Active(), "80 of 400 samples remain")
	bins := make([]byte, a.BinCount())
	a.ByteFrequencyData(bins)
	assert.NotEqual(t, make([]byte, len(bins)), bins)

	o.render(out, 160, 2)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("track did not complete")
	}
	assert.False(t, o.Active())
}

func TestDeviceOutput_LoadFailureReportedThroughDone(t *testing.T) {
	o := newTestOutput(t, http.NotFoundHandler())

	done := make(chan error, 1)
	require.NoError(t, o.Play("/missing.mp3", func(err error) { done <- err }))

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "404")
	case <-time.After(time.Second):
		t.Fatal("failure not reported")
	}
	assert.False(t, o.Active())
}

func TestDeviceOutput_DeviceFailureReportedThroughDone(t *testing.T) {
	o := newTestOutput(t, http.NotFoundHandler())
	o.openDevice = func() error { return errors.New("no output device") }

	done := make(chan error, 1)
	require.NoError(t, o.Play("/a.wav", func(err error) { done <- err }))

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "no output device")
	case <-time.After(time.Second):
		t.Fatal("failure not reported")
	}
	assert.False(t, o.Active())
}

func TestDeviceOutput_DeviceStartMayRender(t *testing.T) {
	clip := encodeWAV(t, 8000, 1, sine(400, 8000, 100, 0.5))
	o := newTestOutput(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(clip)
	}))

	// backends pre-fill the stream from their own thread before start returns
	o.openDevice = func() error {
		prefilled := make(chan struct{})
		go func() {
			o.render(make([]byte, 160*2), 160, 2)
			close(prefilled)
		}()
		select {
		case <-prefilled:
			return nil
		case <-time.After(time.Second):
			return errors.New("render blocked during device start")
		}
	}

	done := make(chan error, 1)
	require.NoError(t, o.Play("/clip.wav", func(err error) { done <- err }))
	require.Eventually(t, o.Active, 2*time.Second, 5*time.Millisecond)

	o.render(make([]byte, 400*2), 400, 2)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("track did not complete")
	}
}

func TestDeviceOutput_PlayDoesNotWaitForDevice(t *testing.T) {
	o := newTestOutput(t, http.NotFoundHandler())
	release := make(chan struct{})
	o.openDevice = func() error {
		<-release
		return nil
	}

	returned := make(chan error, 1)
	go func() { returned <- o.Play("/a.wav", func(error) {}) }()

	select {
	case err := <-returned:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Play waited for the device to open")
	}
	close(release)
}

func TestDeviceOutput_ClosedRejectsPlay(t *testing.T) {
	o := newTestOutput(t, http.NotFoundHandler())
	require.NoError(t, o.Close())

	assert.ErrorIs(t, o.Play("/a.wav", func(error) {}), ErrDeviceClosed)
	_, err := o.Analyser()
	assert.ErrorIs(t, err, ErrDeviceClosed)
}
