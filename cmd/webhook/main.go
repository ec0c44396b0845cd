package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mahdiyar-oraei/rag/internal/config"
	"github.com/mahdiyar-oraei/rag/internal/embedding"
	"github.com/mahdiyar-oraei/rag/internal/llm"
	"github.com/mahdiyar-oraei/rag/internal/messenger"
	"github.com/mahdiyar-oraei/rag/internal/rag"
	"github.com/mahdiyar-oraei/rag/internal/storage"
	"github.com/mahdiyar-oraei/rag/internal/vectordb"
	"github.com/mahdiyar-oraei/rag/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "Path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setupLogging(cfg.LogLevel)
	log.Debug().Interface("config", cfg).Msg("Loaded config")

	store, err := storage.Open(cfg.Storage.DBPath, cfg.Storage.Debug)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening database")
	}
	defer store.Close()
	if err := store.Init(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}

	sender := messenger.New(cfg.Messenger)

	// The vector store and the API clients load on the first linked-user
	// message, not at boot.
	chainFn := func() (webhook.Answerer, error) {
		if err := cfg.ValidateForChat(); err != nil {
			return nil, err
		}
		vecStore, err := vectordb.Open(cfg.Storage.VectorDBPath, cfg.Storage.CollectionName)
		if err != nil {
			return nil, fmt.Errorf("open vector database: %w", err)
		}
		embedder, err := embedding.New(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		completer, err := llm.New(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		return rag.NewChain(vecStore, embedder, completer, cfg), nil
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.Recover())
	webhook.NewHandler(cfg, store, sender, chainFn).Register(e)

	log.Info().Str("port", cfg.Server.WebhookPort).Msg("Starting webhook listener")
	if err := e.Start(":" + cfg.Server.WebhookPort); err != nil {
		log.Fatal().Err(err).Msg("Webhook listener stopped")
	}
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()
}
