// Package config provides configuration management for the astra client
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Connection ConnectionConfig `mapstructure:"connection" yaml:"connection"`
	Audio      AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Avatar     AvatarConfig     `mapstructure:"avatar" yaml:"avatar"`
	UI         UIConfig         `mapstructure:"ui" yaml:"ui"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// ConnectionConfig configures the backend websocket
type ConnectionConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"` // 0 disables keepalive pings
	SendBuffer       int           `mapstructure:"send_buffer" yaml:"send_buffer"`
}

// AudioConfig configures playback and spectrum analysis
type AudioConfig struct {
	BaseURL               string        `mapstructure:"base_url" yaml:"base_url"` // relative track URLs resolve against this
	FetchTimeout          time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	SampleRate            int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Volume                float64       `mapstructure:"volume" yaml:"volume"` // 0.0 to 1.0
	LipSyncSensitivity    float64       `mapstructure:"lip_sync_sensitivity" yaml:"lip_sync_sensitivity"`
	FFTSize               int           `mapstructure:"fft_size" yaml:"fft_size"`
	SmoothingTimeConstant float64       `mapstructure:"smoothing_time_constant" yaml:"smoothing_time_constant"`
	MinDecibels           float64       `mapstructure:"min_decibels" yaml:"min_decibels"`
	MaxDecibels           float64       `mapstructure:"max_decibels" yaml:"max_decibels"`
}

// Pose is a set of joint offsets in radians
type Pose struct {
	NeckX  float64 `mapstructure:"neck_x" yaml:"neck_x"`
	NeckY  float64 `mapstructure:"neck_y" yaml:"neck_y"`
	SpineY float64 `mapstructure:"spine_y" yaml:"spine_y"`
}

// AvatarConfig configures the rig and its animation
type AvatarConfig struct {
	ModelPath          string          `mapstructure:"model_path" yaml:"model_path"`
	FrameRate          int             `mapstructure:"frame_rate" yaml:"frame_rate"`
	PoseLerpFactor     float64         `mapstructure:"pose_lerp_factor" yaml:"pose_lerp_factor"`     // lower is slower
	LipSyncSmoothing   float64         `mapstructure:"lip_sync_smoothing" yaml:"lip_sync_smoothing"` // per-frame factor toward the sample
	BlinkChanceIdle    float64         `mapstructure:"blink_chance_idle" yaml:"blink_chance_idle"`
	BlinkChanceActive  float64         `mapstructure:"blink_chance_active" yaml:"blink_chance_active"`
	BlinkDuration      time.Duration   `mapstructure:"blink_duration" yaml:"blink_duration"`
	BreathingRate      float64         `mapstructure:"breathing_rate" yaml:"breathing_rate"` // radians per second
	BreathingAmplitude float64         `mapstructure:"breathing_amplitude" yaml:"breathing_amplitude"`
	SwayRate           float64         `mapstructure:"sway_rate" yaml:"sway_rate"`
	SwayAmplitude      float64         `mapstructure:"sway_amplitude" yaml:"sway_amplitude"`
	Poses              map[string]Pose `mapstructure:"poses" yaml:"poses"`
}

// UIConfig configures status text and the transcript
type UIConfig struct {
	AssistantName string            `mapstructure:"assistant_name" yaml:"assistant_name"`
	MaxEntries    int               `mapstructure:"max_entries" yaml:"max_entries"`
	StatusText    map[string]string `mapstructure:"status_text" yaml:"status_text"`
}

// LogConfig configures logging
type LogConfig struct {
	Dir   string `mapstructure:"dir" yaml:"dir"`
	Level string `mapstructure:"level" yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"` // empty disables the listener
}

// DefaultConfig returns the stock configuration of the web client
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			URL:              "ws://localhost:8000/ws",
			ReconnectDelay:   3 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     30 * time.Second,
			SendBuffer:       16,
		},
		Audio: AudioConfig{
			BaseURL:               "http://localhost:8000",
			FetchTimeout:          15 * time.Second,
			SampleRate:            48000,
			Volume:                1.0,
			LipSyncSensitivity:    60,
			FFTSize:               256,
			SmoothingTimeConstant: 0.8,
			MinDecibels:           -100,
			MaxDecibels:           -30,
		},
		Avatar: AvatarConfig{
			ModelPath:          "",
			FrameRate:          60,
			PoseLerpFactor:     0.05,
			LipSyncSmoothing:   0.3,
			BlinkChanceIdle:    0.005,
			BlinkChanceActive:  0.002,
			BlinkDuration:      150 * time.Millisecond,
			BreathingRate:      1.0,
			BreathingAmplitude: 0.03,
			SwayRate:           0.5,
			SwayAmplitude:      0.02,
			Poses: map[string]Pose{
				"idle":       {NeckX: 0, NeckY: 0, SpineY: 0},
				"thinking":   {NeckX: -0.25, NeckY: 0.35, SpineY: 0.05},
				"searching":  {NeckX: -0.15, NeckY: -0.4, SpineY: -0.05},
				"responding": {NeckX: 0.05, NeckY: 0, SpineY: 0},
			},
		},
		UI: UIConfig{
			AssistantName: "astra",
			MaxEntries:    200,
			StatusText: map[string]string{
				"idle":       "Astra is Idle",
				"thinking":   "Astra is Thinking...",
				"searching":  "Searching Knowledge Base...",
				"responding": "Astra is Responding",
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate reports configuration the client cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Connection.URL == "" {
		errs = append(errs, errors.New("connection.url is required"))
	}
	if c.Connection.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("connection.reconnect_delay must be positive"))
	}
	if c.Audio.LipSyncSensitivity <= 0 {
		errs = append(errs, errors.New("audio.lip_sync_sensitivity must be positive"))
	}
	if n := c.Audio.FFTSize; n < 32 || n&(n-1) != 0 {
		errs = append(errs, fmt.Errorf("audio.fft_size must be a power of two >= 32, got %d", n))
	}
	if c.Avatar.FrameRate <= 0 {
		errs = append(errs, errors.New("avatar.frame_rate must be positive"))
	}
	if f := c.Avatar.PoseLerpFactor; f <= 0 || f > 1 {
		errs = append(errs, fmt.Errorf("avatar.pose_lerp_factor must be in (0,1], got %v", f))
	}
	if f := c.Avatar.LipSyncSmoothing; f <= 0 || f > 1 {
		errs = append(errs, fmt.Errorf("avatar.lip_sync_smoothing must be in (0,1], got %v", f))
	}
	if _, ok := c.Avatar.Poses["idle"]; !ok {
		errs = append(errs, errors.New("avatar.poses must define idle"))
	}
	if _, ok := c.UI.StatusText["idle"]; !ok {
		errs = append(errs, errors.New("ui.status_text must define idle"))
	}

	return errors.Join(errs...)
}

// envKeys are settings that may be overridden from ASTRA_* variables
// without appearing in a config file.
var envKeys = []string{
	"connection.url",
	"connection.reconnect_delay",
	"audio.base_url",
	"audio.lip_sync_sensitivity",
	"avatar.model_path",
	"avatar.frame_rate",
	"log.dir",
	"log.level",
	"metrics.addr",
}

// Loader reads configuration from a file and the environment
type Loader struct {
	v        *viper.Viper
	explicit bool
}

// NewLoader creates a loader. An empty path searches ~/.astra and the
// working directory for config.yaml.
func NewLoader(path string) *Loader {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ASTRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	return &Loader{v: v, explicit: path != ""}
}

// Load reads configuration from file and environment
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Load reads the config file if present and overlays it on the defaults.
// A missing file in the default locations is written out with defaults.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.explicit || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Save(cfg); err != nil {
			return cfg, err
		}
		// pick up the file just written so Watch has something to watch
		_ = l.v.ReadInConfig()
	}

	return l.decode()
}

// Watch re-reads the file whenever it changes and passes the result on.
func (l *Loader) Watch(onChange func(*Config, error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(l.decode())
	})
	l.v.WatchConfig()
}

// File returns the config file in use, if any
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) decode() (*Config, error) {
	cfg := DefaultConfig()
	if err := l.v.Unmarshal(cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to ~/.astra/config.yaml
func Save(cfg *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	v := viper.New()
	v.Set("connection", cfg.Connection)
	v.Set("audio", cfg.Audio)
	v.Set("avatar", cfg.Avatar)
	v.Set("ui", cfg.UI)
	v.Set("log", cfg.Log)
	v.Set("metrics", cfg.Metrics)

	return v.WriteConfigAs(filepath.Join(configDir, "config.yaml"))
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".astra"), nil
}
