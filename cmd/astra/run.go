package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/normanking/astraavatar/internal/audio"
	"github.com/normanking/astraavatar/internal/avatar"
	"github.com/normanking/astraavatar/internal/bus"
	"github.com/normanking/astraavatar/internal/config"
	"github.com/normanking/astraavatar/internal/conn"
	"github.com/normanking/astraavatar/internal/conversation"
	"github.com/normanking/astraavatar/internal/core"
	"github.com/normanking/astraavatar/internal/logging"
	"github.com/normanking/astraavatar/internal/metrics"
	"github.com/normanking/astraavatar/internal/playback"
	"github.com/normanking/astraavatar/internal/transcript"
	"github.com/normanking/astraavatar/internal/ui"
)

func run(cmd *cobra.Command, f flags) error {
	loadEnvFiles()

	loader := config.NewLoader(f.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, f, cfg)

	logCfg := logging.DefaultConfig()
	if cfg.Log.Dir != "" {
		logCfg.LogDir = cfg.Log.Dir
	}
	logCfg.Level = cfg.Log.Level
	// the terminal UI owns the screen
	logCfg.Console = f.headless

	syslog, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer syslog.Close()
	logger := syslog.Zerolog()

	logger.Info().
		Str("version", version).
		Str("config", loader.File()).
		Str("url", cfg.Connection.URL).
		Msg("Starting astra")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := bus.NewEventBus()

	m := metrics.New()
	m.Subscribe(eventBus)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, syslog.Component("metrics")); err != nil {
				logger.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	// Audio
	fetcher, err := audio.NewFetcher(cfg.Audio.BaseURL, cfg.Audio.FetchTimeout)
	if err != nil {
		return fmt.Errorf("audio fetcher: %w", err)
	}
	output := audio.NewDeviceOutput(audio.DeviceConfig{
		SampleRate: cfg.Audio.SampleRate,
		Volume:     cfg.Audio.Volume,
		Analyser: audio.AnalyserConfig{
			FFTSize:               cfg.Audio.FFTSize,
			SmoothingTimeConstant: cfg.Audio.SmoothingTimeConstant,
			MinDecibels:           cfg.Audio.MinDecibels,
			MaxDecibels:           cfg.Audio.MaxDecibels,
		},
	}, fetcher, logger)
	defer output.Close()

	queue := playback.NewQueue(output, playback.Config{Sensitivity: cfg.Audio.LipSyncSensitivity}, eventBus, logger)
	defer queue.Close()

	// Avatar
	rig, err := loadRig(cfg, syslog)
	if err != nil {
		return err
	}
	defer rig.Close()

	// Backend connection
	manager := conn.NewManager(conn.Config{
		URL:              cfg.Connection.URL,
		ReconnectDelay:   cfg.Connection.ReconnectDelay,
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		PingInterval:     cfg.Connection.PingInterval,
		SendBuffer:       cfg.Connection.SendBuffer,
	}, eventBus, logger)
	defer manager.Close()

	// UI and core
	var c *core.Core
	submit := func(text string) { c.Submit(text) }

	var (
		presenter core.UI
		tui       *ui.TUI
	)
	if f.headless {
		presenter = ui.NewLogUI(cfg.UI.AssistantName, logger)
	} else {
		tui = ui.NewTUI(ui.Options{
			Assistant:  cfg.UI.AssistantName,
			MaxEntries: cfg.UI.MaxEntries,
			Submit:     submit,
		})
		tui.WatchConnection(eventBus)
		presenter = tui
	}

	c = core.New(core.Deps{
		UI:         presenter,
		Sender:     manager,
		Renderer:   rig,
		Queue:      queue,
		State:      conversation.NewState(tableFromConfig(cfg)),
		Transcript: transcript.New(cfg.UI.AssistantName, cfg.UI.MaxEntries),
		EventBus:   eventBus,
		Logger:     logger,
	}, core.Options{
		FrameRate: cfg.Avatar.FrameRate,
		Animator:  animatorConfig(cfg),
	})
	manager.OnEvent(c.HandleEvent)

	if loader.File() != "" {
		loader.Watch(func(next *config.Config, err error) {
			if err != nil {
				logger.Warn().Err(err).Str("config", loader.File()).Msg("Ignoring config change")
				return
			}
			c.SetTable(tableFromConfig(next))
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	coreDone := make(chan error, 1)
	go func() { coreDone <- c.Run(ctx) }()

	// dial off the main goroutine so the UI is up before the first status lands
	go func() {
		if err := manager.Connect(ctx); err != nil {
			// a reconnect is already scheduled
			logger.Warn().Err(err).Msg("Backend not reachable yet")
		}
	}()

	if tui != nil {
		err = tui.Run(ctx)
	} else {
		go func() {
			if err := ui.ReadLines(ctx, os.Stdin, submit); err != nil {
				logger.Warn().Err(err).Msg("Reading stdin failed")
			}
		}()
		<-ctx.Done()
	}

	cancel()
	<-coreDone
	logger.Info().Msg("Astra stopped")
	return err
}

// loadEnvFiles loads .env files into the process environment. Earlier
// files win and existing variables are never overridden.
func loadEnvFiles() {
	paths := []string{".env"}
	if dir, err := config.GetConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ".env"))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func applyFlags(cmd *cobra.Command, f flags, cfg *config.Config) {
	fl := cmd.Flags()
	if fl.Changed("url") {
		cfg.Connection.URL = f.url
	}
	if fl.Changed("model") {
		cfg.Avatar.ModelPath = f.modelPath
	}
	if fl.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if fl.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
}

func loadRig(cfg *config.Config, syslog *logging.Logger) (*avatar.Rig, error) {
	logger := syslog.Component("avatar")
	if cfg.Avatar.ModelPath == "" {
		logger.Info().Msg("No avatar model configured, tracking rig values only")
		return avatar.NewRig(nil, cfg.Avatar.BlinkDuration, logger), nil
	}
	rig, err := avatar.LoadRig(cfg.Avatar.ModelPath, cfg.Avatar.BlinkDuration, logger)
	if err != nil {
		return nil, fmt.Errorf("load avatar: %w", err)
	}
	return rig, nil
}
