// Command hermod runs the voice assistant orchestration client: the dialog
// manager, the pipeline services for its configured backends, the Hermes
// MQTT transport and the embedded HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/internal/audio"
	"github.com/hermodvoice/hermod/internal/dialog"
	"github.com/hermodvoice/hermod/internal/httpclient"
	"github.com/hermodvoice/hermod/internal/middleware"
	"github.com/hermodvoice/hermod/internal/mqtt"
	"github.com/hermodvoice/hermod/internal/services/audioplaying"
	"github.com/hermodvoice/hermod/internal/services/intenthandling"
	"github.com/hermodvoice/hermod/internal/services/intentrecognition"
	"github.com/hermodvoice/hermod/internal/services/speechtotext"
	"github.com/hermodvoice/hermod/internal/services/texttospeech"
	"github.com/hermodvoice/hermod/internal/services/wakeword"
	"github.com/hermodvoice/hermod/internal/webserver"
	"github.com/hermodvoice/hermod/pkg/action"
	"github.com/hermodvoice/hermod/pkg/events"
)

func main() {
	envFile := pflag.String("env-file", "", "load environment from this file before parsing config")
	logLevel := pflag.String("log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	pflag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			slog.Error("loading env file", "path", *envFile, "error", err)
			os.Exit(1)
		}
	} else {
		// Best effort: a local .env is optional.
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	setupLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(cfg.EventReplay)
	mw := middleware.New(cfg, bus)

	// --- Transports ---
	httpc := httpclient.New(cfg.HTTP, cfg.IntentHandling == config.IntentHandlingWithRecognition)
	mqttc := mqtt.New(cfg.MQTT, cfg.SiteID, mw, bus)
	if cfg.UsesMQTT() {
		if err := mqttc.Connect(ctx); err != nil {
			return err
		}
		defer mqttc.Disconnect()
	}

	// --- Audio capture ---
	mic := audio.NewMicSource(cfg.Recording)
	recorder := audio.NewRecorder(mic, cfg.Recording)
	recorder.SetSilenceHandler(func() {
		mw.Local(action.Action{Kind: action.StopListening})
	})
	go func() {
		if err := recorder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("audio capture stopped", "error", err)
		}
	}()

	// --- Pipeline services ---
	stt := speechtotext.New(cfg.SpeechToText, cfg.Recording, httpc, mqttc, recorder, mw)
	nlu := intentrecognition.New(cfg.IntentRecognition, httpc, mqttc, mw)
	handler := intenthandling.New(cfg.IntentHandling, httpc, mw)
	tts := texttospeech.New(cfg.TextToSpeech, httpc, mqttc, mw)
	player := audioplaying.New(cfg.AudioPlaying, audioplaying.NewBeepPlayer(), httpc, mqttc, mw)
	detector := wakeword.NewEnergyDetector(recorder,
		cfg.Recording.SilenceThreshold, 0, 0)
	wake := wakeword.New(cfg.WakeWord, detector, mqttc, mw)

	// --- Dialog manager ---
	mgr := dialog.New(cfg, bus, stt, nlu, handler, tts, player, wake)
	mw.Attach(mgr)
	go mw.Run(ctx)
	defer mw.Close()

	mqttc.SetHotwordToggleHandler(func(enabled bool) {
		if enabled {
			if err := wake.StartDetection(ctx); err != nil {
				slog.Warn("enabling wake word detection", "error", err)
			}
			return
		}
		wake.StopDetection()
	})

	if err := mgr.Start(ctx); err != nil {
		return err
	}

	// --- HTTP API ---
	var srv *webserver.Server
	if cfg.WebServer.Enabled {
		srv = webserver.New(cfg.WebServer, mw, bus, map[string]webserver.StateReporter{
			"wake_word":          wake,
			"speech_to_text":     stt,
			"intent_recognition": nlu,
			"intent_handling":    handler,
			"text_to_speech":     tts,
			"audio_playing":      player,
			"mqtt":               mqttc,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("http api failed", "error", err)
				stop()
			}
		}()
	}

	slog.Info("hermod started", "site_id", cfg.SiteID)
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http api shutdown", "error", err)
		}
	}
	mgr.Stop(shutdownCtx)
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
