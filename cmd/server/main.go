package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"repage/internal/api"
	"repage/internal/browser"
	"repage/internal/config"
	"repage/internal/db"
	"repage/internal/llm"
	"repage/internal/logging"
	"repage/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "console", "repage").Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, "repage")
	if cfg.UsesDefaultSecret() {
		logger.Warn().Msg("SECRET_KEY is not set; stored API keys are sealed with the built-in development key")
	}

	conn, err := db.Open(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer conn.Close()

	storage, err := services.NewFileStorage(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open storage")
	}
	box, err := services.NewSecretBox(cfg.SecretKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("derive secret key")
	}

	templateService := services.NewTemplateService(conn)
	settingsService := services.NewSettingsService(conn, box, cfg.DefaultConverter)
	synthesizer := services.NewSynthesizer(llm.NewClient, logger)
	conversionService := services.NewConversionService(
		conn,
		services.ConversionOptions{
			MaxUploadSize:    cfg.MaxUploadSize,
			DefaultConverter: cfg.DefaultConverter,
		},
		storage,
		box,
		synthesizer,
		services.NewSelectorFactory(llm.NewClient, logger),
		logger,
	)
	fetcher := browser.New(logger, browser.WithChromePath(cfg.ChromePath))
	learningService := services.NewLearningService(templateService, fetcher, llm.NewClient, logger)

	server := api.NewServer(api.Deps{
		AppName:     cfg.AppName,
		DBPath:      cfg.Database,
		Templates:   templateService,
		Settings:    settingsService,
		Conversions: conversionService,
		Learner:     learningService,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}
