package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/phonebridge/internal/bridge"
	"github.com/ent0n29/phonebridge/internal/callconfig"
	"github.com/ent0n29/phonebridge/internal/config"
	"github.com/ent0n29/phonebridge/internal/convai"
	"github.com/ent0n29/phonebridge/internal/httpapi"
	"github.com/ent0n29/phonebridge/internal/logging"
	"github.com/ent0n29/phonebridge/internal/observability"
	"github.com/ent0n29/phonebridge/internal/outbound"
	"github.com/ent0n29/phonebridge/internal/provision"
	"github.com/ent0n29/phonebridge/internal/transcript"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("dotenv error: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, syncLogs, err := logging.New(logging.Config{
		Level:          cfg.LogLevel,
		Format:         cfg.LogFormat,
		File:           cfg.LogFile,
		FileMaxMB:      cfg.LogFileMaxMB,
		FileMaxBackups: cfg.LogFileMaxBackups,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = syncLogs() }()

	if cfg.ElevenLabsAPIKey == "" || cfg.ElevenLabsAgentID == "" {
		logger.Warn("ELEVENLABS_API_KEY or ELEVENLABS_AGENT_ID not set; calls will not reach an agent")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	configs, err := callconfig.NewStore(ctx, callconfig.Options{
		RedisURL:       cfg.RedisURL,
		RedisKeyPrefix: cfg.RedisKeyPrefix,
		RedisTTL:       cfg.RedisTTL,
		DatabaseURL:    cfg.DatabaseURL,
	})
	if err != nil {
		logger.Fatal("config store init failed", zap.Error(err))
	}
	defer configs.Close()

	sink, err := transcript.NewSink(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("transcript sink init failed", zap.Error(err))
	}
	defer sink.Close()

	recorder := transcript.NewRecorder(sink, logger.Named("transcript"), transcript.RecorderOptions{
		QueueSize:    cfg.TranscriptQueueSize,
		WriteTimeout: cfg.StoreTimeout,
		RedactPII:    cfg.TranscriptRedactPII,
		OnDrop: func(reason string) {
			metrics.TranscriptDrops.WithLabelValues(reason).Inc()
		},
	})
	logger.Info("storage ready",
		zap.String("config_store", configs.Mode()),
		zap.String("transcript_sink", recorder.Mode()),
	)

	registry := bridge.NewRegistry(bridge.Deps{
		Provisioner: provision.NewElevenLabsProvisioner(provision.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			BaseURL: cfg.ElevenLabsAPIBaseURL,
			Timeout: cfg.ProvisionTimeout,
		}),
		Dialer: convai.NewDialer(convai.Config{
			HandshakeTimeout: cfg.ProvisionTimeout,
			ReadTimeout:      cfg.WSReadTimeout,
		}),
		Configs:     configs,
		Transcripts: recorder,
		Metrics:     metrics,
		Logger:      logger.Named("bridge"),
		Defaults: bridge.Defaults{
			AgentID:      cfg.ElevenLabsAgentID,
			Prompt:       cfg.DefaultPrompt,
			FirstMessage: cfg.DefaultFirstMessage,
		},
		ProvisionTimeout: cfg.ProvisionTimeout,
		StoreTimeout:     cfg.StoreTimeout,
	})

	var caller outbound.Caller
	switch {
	case !cfg.OutboundEnabled():
		logger.Info("outbound calling disabled: twilio credentials not set")
	case cfg.PublicHost == "":
		logger.Warn("outbound calling disabled: APP_PUBLIC_HOST is required to build the stream url")
	default:
		caller = outbound.NewTwilioDialer(outbound.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioPhoneNumber,
			PublicHost: cfg.PublicHost,
		})
	}
	outboundSvc := outbound.NewService(caller, configs, recorder, logger.Named("outbound"), cfg.StoreTimeout)

	api := httpapi.New(cfg, httpapi.Deps{
		Registry:    registry,
		Configs:     configs,
		Transcripts: recorder,
		Outbound:    outboundSvc,
		Metrics:     metrics,
		Logger:      logger.Named("http"),
	})
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	// Hijacked websocket connections outlive Shutdown; end them explicitly.
	registry.CloseAll()
	if err := registry.Wait(shutdownCtx); err != nil {
		logger.Warn("sessions still running at shutdown", zap.Int("count", registry.Count()), zap.Error(err))
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Warn("transcript flush incomplete", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
