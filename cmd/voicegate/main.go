// voicegate daemon - captures the microphone, gates it on voice activity and
// streams speech to the transcription service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	audiocap "github.com/GriffinCanCode/voicegate/internal/audio"
	"github.com/GriffinCanCode/voicegate/internal/config"
	"github.com/GriffinCanCode/voicegate/internal/control"
	"github.com/GriffinCanCode/voicegate/internal/observe"
	"github.com/GriffinCanCode/voicegate/internal/orchestrator"
	"github.com/GriffinCanCode/voicegate/internal/orchestrator/audio"
	"github.com/GriffinCanCode/voicegate/internal/orchestrator/display"
	"github.com/GriffinCanCode/voicegate/internal/orchestrator/transcript"
	"github.com/GriffinCanCode/voicegate/internal/resilience"
	"github.com/GriffinCanCode/voicegate/internal/server"
	"github.com/GriffinCanCode/voicegate/internal/transport"
	"github.com/GriffinCanCode/voicegate/internal/vad"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("voicegate exited", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsEnabled {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voicegate"})
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.Background()) }()
	}
	metrics := observe.DefaultMetrics()

	breaker := resilience.New(resilience.ConnectConfig(cfg.BreakerThreshold, cfg.BreakerReset)).
		WithHook(func(from, to resilience.State) {
			slog.Warn("speech service breaker", "from", from.String(), "to", to.String())
		})
	dialer, err := transport.NewDialer(cfg.STTURL,
		transport.WithLanguage(cfg.Language),
		transport.WithSampleRate(cfg.SampleRate),
		transport.WithEncoding(cfg.Encoding),
		transport.WithConnectTimeout(cfg.ConnectTimeout),
		transport.WithBreaker(breaker),
	)
	if err != nil {
		return err
	}

	capturer := audiocap.NewCapturer(audiocap.CaptureConfig{
		SampleRate:      cfg.SampleRate,
		FrameSize:       cfg.FrameSize,
		Device:          cfg.AudioDevice,
		ExcludedDevices: cfg.ExcludedAudioDevices,
	})

	sink := &lateSink{}
	mgr := orchestrator.New(orchestrator.CaptureOpener(capturer), orchestrator.TransportDialer(dialer), orchestrator.Options{
		Processor: audio.Config{
			Source:    cfg.ActivitySource,
			FFTSize:   cfg.FFTSize,
			DecayRate: cfg.ActivityDecay,
			VAD: vad.Config{
				SilenceThreshold: cfg.SilenceThreshold,
				VoicePeakFactor:  cfg.VoicePeakFactor,
				MinActivity:      cfg.MinActivity,
				PauseAfter:       cfg.PauseAfter,
				DisconnectAfter:  cfg.DisconnectAfter,
			},
		},
		DisplaySink: sink,
		DisplayRate: cfg.DisplayRate,
		Metrics:     metrics,
		Transcripts: transcript.NewStore(cfg.TranscriptHistory, orchestrator.TranscriptEventBuffer),
	})
	srv := server.New(mgr)
	sink.srv = srv

	svc := control.NewService(mgr)
	grpcServer := control.NewGRPCServer(svc)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	srv.Start(gctx)
	go svc.Run(gctx)

	g.Go(func() error {
		slog.Info("http server starting", "addr", cfg.HTTPAddr, "stt", cfg.STTURL)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		slog.Info("control server starting", "addr", cfg.GRPCAddr)
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		return mgr.Run(gctx, cfg.AutoStart)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		mgr.Terminate()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

// lateSink breaks the construction cycle between the manager and the server.
type lateSink struct {
	srv *server.Server
}

func (s *lateSink) PushDisplay(f display.Frame) bool {
	if s.srv == nil {
		return false
	}
	return s.srv.PushDisplay(f)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
