package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mahdiyar-oraei/rag/internal/config"
	"github.com/mahdiyar-oraei/rag/internal/embedding"
	"github.com/mahdiyar-oraei/rag/internal/hubspot"
	"github.com/mahdiyar-oraei/rag/internal/ingest"
	"github.com/mahdiyar-oraei/rag/internal/llm"
	"github.com/mahdiyar-oraei/rag/internal/rag"
	"github.com/mahdiyar-oraei/rag/internal/storage"
	"github.com/mahdiyar-oraei/rag/internal/vectordb"
	"github.com/mahdiyar-oraei/rag/internal/web"
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

	if err := cfg.ValidateForChat(); err != nil {
		log.Fatal().Err(err).Msg("Missing required configuration")
	}

	store, err := storage.Open(cfg.Storage.DBPath, cfg.Storage.Debug)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening database")
	}
	defer store.Close()
	if err := store.Init(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}

	vecStore, err := vectordb.Open(cfg.Storage.VectorDBPath, cfg.Storage.CollectionName)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector database")
	}

	embedder, err := embedding.New(cfg.OpenAI)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	completer, err := llm.New(cfg.OpenAI)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chat model")
	}

	chain := rag.NewChain(vecStore, embedder, completer, cfg)
	pipeline := ingest.NewPipeline(embedder, vecStore, cfg)

	var crm web.CRMLoader
	if cfg.HubSpot.AccessToken != "" {
		client, err := hubspot.New(cfg.HubSpot)
		if err != nil {
			log.Fatal().Err(err).Msg("Error initializing HubSpot client")
		}
		crm = client
	} else {
		log.Warn().Msg("HUBSPOT_ACCESS_TOKEN not set, CRM sync disabled")
	}

	server := web.NewServer(cfg, chain, pipeline, store, crm)
	log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
	if err := server.Start(":" + cfg.Server.Port); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
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
