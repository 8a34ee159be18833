// Livescribe server - streams speaker-attributed transcription from a
// microphone or WAV file over HTTP and WebSocket
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pzarzycki/livescribe/internal/asr"
	"github.com/pzarzycki/livescribe/internal/audio"
	"github.com/pzarzycki/livescribe/internal/config"
	"github.com/pzarzycki/livescribe/internal/controller"
	"github.com/pzarzycki/livescribe/internal/diar"
	"github.com/pzarzycki/livescribe/internal/server"
	"github.com/pzarzycki/livescribe/internal/source"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()

	recognizer, err := buildRecognizer(cfg)
	if err != nil {
		slog.Error("failed to set up recognizer", "error", err)
		os.Exit(1)
	}
	embedder, err := buildEmbedder(cfg)
	if err != nil {
		slog.Error("failed to set up embedder", "error", err)
		os.Exit(1)
	}

	clusterer := diar.NewClusterer(diar.ClustererConfig{
		MaxSpeakers:     cfg.MaxSpeakers,
		Threshold:       float32(cfg.SimilarityThreshold),
		SwitchMargin:    float32(cfg.SwitchMargin),
		StabilityFrames: cfg.StabilityFrames,
	})

	var ctrl *controller.Controller
	analyzer := diar.NewFrameAnalyzer(embedder, clusterer, diar.AnalyzerConfig{
		SampleRate:  cfg.SampleRate,
		HopMS:       cfg.FrameHopMs,
		WindowMS:    cfg.FrameWindowMs,
		RetentionMS: int64(cfg.FrameRetentionS) * 1000,
	}, func(err error) {
		if ctrl != nil {
			ctrl.ReportError(err)
		}
	})

	ctrl, err = controller.New(recognizer, analyzer, clusterer, controller.Config{
		SampleRate:       cfg.SampleRate,
		WindowSeconds:    cfg.WindowDurationS,
		OverlapSeconds:   cfg.OverlapDurationS,
		SilenceFloorDBFS: cfg.SilenceFloorDBFS,
		QueueBound:       cfg.QueueBound,
	})
	if err != nil {
		slog.Error("invalid pipeline configuration", "error", err)
		os.Exit(1)
	}

	srv := server.New(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctrl.Start(ctx); err != nil {
		slog.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}

	onAudio := func(samples []int16, sampleRate, channels int) {
		if channels > 1 {
			samples = audio.Downmix(samples, channels)
		}
		ctrl.AddAudio(samples, sampleRate)
	}
	onError := func(err error, fatal bool) {
		slog.Error("audio source error", "error", err, "fatal", fatal)
		ctrl.ReportError(err)
	}

	src, fileDone := buildSource(cfg, onAudio, onError)
	if err := src.Start(ctx); err != nil {
		slog.Error("failed to start audio source", "error", err)
		ctrl.Stop()
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("livescribe server starting", "http", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		slog.Info("shutting down...")
	case <-fileDone:
		slog.Info("input file finished, shutting down...")
	}
	cancel()

	src.Stop()
	ctrl.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("shutdown complete", "segments", len(ctrl.Segments()), "speakers", ctrl.SpeakerCount())
}

func buildRecognizer(cfg *config.Config) (asr.Recognizer, error) {
	if cfg.RecognizerCmd == "" {
		slog.Warn("RECOGNIZER_CMD not set, using mock recognizer")
		return asr.NewMockRecognizer(), nil
	}
	return asr.NewExecRecognizer(cfg.RecognizerCmd, cfg.RecognizerModel)
}

func buildEmbedder(cfg *config.Config) (diar.Embedder, error) {
	if cfg.EmbedderKind == "neural" {
		emb, err := diar.NewExecEmbedder(cfg.EmbedderCmd, cfg.EmbedderModel, 0)
		if err != nil {
			return nil, err
		}
		return emb, nil
	}
	return diar.NewLogMelEmbedder(0), nil
}

// buildSource picks file replay or live capture. The done channel fires
// when a file source runs out of audio; for devices it never fires.
func buildSource(cfg *config.Config, cb source.Callback, errFn source.ErrorFunc) (source.Source, <-chan struct{}) {
	if cfg.InputFile != "" {
		fs := source.NewFileSource(cfg.InputFile, cfg.ChunkMs, true, cb, errFn)
		return fs, fs.Done()
	}
	ds := source.NewDeviceSource(cfg.InputDevice, cfg.SampleRate, cfg.ChunkMs, cb, errFn)
	return ds, make(chan struct{})
}
