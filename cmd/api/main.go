package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/voice-assistant/backend/internal/config"
	"github.com/zhouzirui/voice-assistant/backend/internal/handler"
	"github.com/zhouzirui/voice-assistant/backend/internal/handler/session"
	"github.com/zhouzirui/voice-assistant/backend/internal/logging"
	"github.com/zhouzirui/voice-assistant/backend/internal/service/ai"
	"github.com/zhouzirui/voice-assistant/backend/internal/service/pipeline"
	sessionservice "github.com/zhouzirui/voice-assistant/backend/internal/service/session"
	"github.com/zhouzirui/voice-assistant/backend/internal/service/speech"
	"github.com/zhouzirui/voice-assistant/backend/internal/service/voice"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, continuing with system environment variables only", zap.Error(envErr))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// 火山引擎语音凭证可选，仅在配置后启用云端音色与识别
	speechConfig := speech.NewVolcengineConfig(cfg.Speech)
	if speechConfig == nil {
		logger.Info("volcengine speech credentials not configured, cloud voices disabled")
	}

	sources, err := voice.LoadSources(cfg.Voice.ConfigDir, cfg.Voice.ModelRoot, logger)
	if err != nil {
		return fmt.Errorf("load voices: %w", err)
	}
	catalog := voice.Build(ctx, sources, cfg.Voice.DefaultPersonality, speech.VoiceFactory{
		PiperBinary: cfg.Voice.PiperBinary,
		Volcengine:  speechConfig,
		Logger:      logger,
	}, logger)
	logger.Info("voice catalog ready",
		zap.Int("voices", catalog.Len()),
		zap.String("default", catalog.DefaultPersonality()),
	)

	recognizer, err := speech.NewRecognizer(cfg.STT, speechConfig, logger)
	if err != nil {
		return err
	}
	transcriber := speech.NewTranscriber(recognizer, cfg.STT.AudioFormat, cfg.STT.Language, logger)

	responder, err := ai.NewResponder(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init responder: %w", err)
	}

	pool := pipeline.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueTimeout, logger)
	orchestrator := pipeline.NewOrchestrator(transcriber, responder, catalog, pool, logger)

	registry := sessionservice.NewRegistry(logger)
	defer registry.Close()

	ws := session.NewWebSocketHandler(registry, catalog, orchestrator, logger)
	router := handler.NewRouter(catalog, ws, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("voice assistant backend listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("stt_provider", cfg.STT.Provider),
		zap.Int("workers", pool.Size()),
	)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
