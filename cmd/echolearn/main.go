package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ErDashrath/EchoLearn-sub001/internal/config"
	"github.com/ErDashrath/EchoLearn-sub001/internal/device"
	"github.com/ErDashrath/EchoLearn-sub001/internal/httpapi"
	"github.com/ErDashrath/EchoLearn-sub001/internal/observability"
	"github.com/ErDashrath/EchoLearn-sub001/internal/playback"
	"github.com/ErDashrath/EchoLearn-sub001/internal/stt"
	"github.com/ErDashrath/EchoLearn-sub001/internal/tts"
	"github.com/ErDashrath/EchoLearn-sub001/internal/voice"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stages := observability.NewStageWindow(256)

	var (
		capture     voice.CaptureDevice
		recognizer  voice.Recognizer
		synthesizer voice.Synthesizer
		player      voice.Player
	)

	driver := cfg.AudioDriver
	if driver == "auto" {
		if strings.TrimSpace(cfg.WhisperModelPath) == "" {
			driver = "mock"
			log.Printf("audio driver: mock (WHISPER_MODEL_PATH not set)")
		} else {
			driver = "native"
		}
	}

	switch driver {
	case "native":
		gateway := device.NewGateway()
		defer gateway.Close()
		capture = gateway

		recognizer, err = stt.New(stt.Config{
			ModelPath:    cfg.WhisperModelPath,
			ModelBaseURL: cfg.WhisperModelBaseURL,
			Language:     cfg.WhisperLanguage,
			Threads:      cfg.WhisperThreads,
			BeamSize:     cfg.WhisperBeamSize,
		})
		if err != nil {
			log.Fatalf("stt init failed: %v", err)
		}
		synthesizer, err = tts.NewClient(tts.Config{
			BaseURL:      cfg.TTSBaseURL,
			ModelBaseURL: cfg.TTSModelBaseURL,
			Timeout:      cfg.TTSTimeout,
		})
		if err != nil {
			log.Fatalf("tts init failed: %v", err)
		}
		player = playback.NewPlayer()
		log.Printf("audio driver: native (whisper + tts server + speaker)")
	case "mock":
		capture = voice.NewMockDevice()
		recognizer = voice.NewMockRecognizer()
		synthesizer = voice.NewMockSynthesizer()
		player = voice.NewMockPlayer()
		log.Printf("audio driver: mock")
	}

	defaultVoice := voice.DefaultProfile()
	if p, ok := voice.ProfileByID(cfg.DefaultVoiceID); ok {
		defaultVoice = p
	}

	ctrl := voice.NewController(voice.Options{
		Device:      capture,
		Recognizer:  recognizer,
		Synthesizer: synthesizer,
		Player:      player,
		Metrics:     metrics,
		Stages:      stages,
		CaptureParams: voice.CaptureParams{
			SampleRate:    cfg.CaptureSampleRate,
			Channels:      1,
			ChunkPeriod:   cfg.CaptureChunkPeriod,
			EchoCancel:    true,
			NoiseSuppress: true,
		},
		MinUtteranceBytes: cfg.MinUtteranceBytes,
		DefaultConfig: voice.Config{
			Voice:  defaultVoice,
			Speed:  cfg.DefaultSpeed,
			Volume: cfg.DefaultVolume,
		},
	})
	defer ctrl.Dispose()

	// Warm the engines in the background so the first utterance is fast;
	// failures stay recoverable via the initialize endpoint.
	go func() {
		warmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if !ctrl.Initialize(warmCtx) {
			log.Printf("engine warm-up incomplete: %s", ctrl.Snapshot().Err)
		}
	}()

	api := httpapi.New(cfg, ctrl, synthesizer, metrics, stages)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
