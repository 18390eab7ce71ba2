package bootstrap

import (
	"context"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"voxlink/internal/audio"
	"voxlink/internal/config"
	"voxlink/internal/observe"
	"voxlink/internal/pcm"
	"voxlink/internal/ports"
	"voxlink/internal/providers/backend"
	"voxlink/internal/providers/socket"
	"voxlink/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Client *usecase.Client
	Config config.Config
	Logger *slog.Logger

	shutdownMetrics func(context.Context) error
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, clipboard ports.Clipboard) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return Services{}, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Addr != "" {
		shutdownMetrics, err = observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "voxlink"})
		if err != nil {
			return Services{}, err
		}
	}

	sessionID := usecase.NewSessionID()
	secure := config.SecureForMic(cfg.Agent.BaseURL)
	if !secure {
		logger.Warn("agent origin is not secure; microphone capture is disabled", "base_url", cfg.Agent.BaseURL)
	}

	client := usecase.NewClient(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		audio.NewFFMPEGPlayer(cfg.Audio.PlayerCommand),
		socket.NewDialer(socket.Config{HandshakeTimeout: cfg.Agent.HandshakeTimeout}),
		backend.NewClient(backend.Config{
			BaseURL: cfg.Agent.BaseURL,
			Timeout: cfg.Agent.RequestTimeout,
		}),
		clipboard,
		eventSink,
		observe.DefaultMetrics(),
		logger,
		usecase.Config{
			SessionID:        sessionID,
			AgentURL:         cfg.Agent.SessionURL(sessionID),
			TranscriptionURL: cfg.Agent.TranscriptionURL(),
			SecureTransport:  secure,
			Input: ports.AudioConfig{
				SampleRate: pcm.SampleRate,
				Channels:   pcm.Channels,
				Format:     cfg.Audio.InputFormat,
				Device:     cfg.Audio.InputDevice,
			},
			Output: ports.AudioConfig{
				SampleRate: pcm.SampleRate,
				Channels:   pcm.Channels,
				Format:     cfg.Audio.OutputFormat,
				Device:     cfg.Audio.OutputDevice,
			},
			WindowSize:     cfg.Audio.WindowSize,
			ReconnectDelay: cfg.Transcript.ReconnectDelay,
			DisplayWindow:  cfg.Transcript.DisplayWindow,
		},
	)

	return Services{
		Client:          client,
		Config:          cfg,
		Logger:          logger,
		shutdownMetrics: shutdownMetrics,
	}, nil
}

// Run drives the background loops until ctx is cancelled.
func (s Services) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Client.RunTranscripts(gctx)
	})
	if s.Config.Metrics.Addr != "" {
		g.Go(func() error {
			return observe.ServeMetrics(gctx, s.Config.Metrics.Addr)
		})
	}

	return g.Wait()
}

// Close releases the audio pipeline and flushes metrics.
func (s Services) Close(ctx context.Context) error {
	if s.Client != nil {
		s.Client.Shutdown()
	}
	if s.shutdownMetrics != nil {
		return s.shutdownMetrics(ctx)
	}
	return nil
}
