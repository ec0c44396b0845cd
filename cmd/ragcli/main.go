package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mahdiyar-oraei/rag/internal/config"
	"github.com/mahdiyar-oraei/rag/internal/embedding"
	"github.com/mahdiyar-oraei/rag/internal/ingest"
	"github.com/mahdiyar-oraei/rag/internal/llm"
	"github.com/mahdiyar-oraei/rag/internal/parser"
	"github.com/mahdiyar-oraei/rag/internal/rag"
	"github.com/mahdiyar-oraei/rag/internal/vectordb"
)

func main() {
	configPath := flag.String("config", "", "Path to an optional YAML config file")
	filePath := flag.String("file", "", "Path to a document file to index")
	query := flag.String("query", "", "Query to be answered")
	dryRun := flag.Bool("dry-run", false, "Parse only, do not embed or store")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setupLogging(cfg.LogLevel)

	switch {
	case *filePath != "" && *query != "":
		log.Fatal().Msg("Provide either -file or -query, not both")
	case *filePath != "":
		indexFile(context.Background(), cfg, *filePath, *dryRun)
	case *query != "":
		runQuery(context.Background(), cfg, *query)
	default:
		log.Fatal().Msg("Provide a document with -file or a question with -query")
	}
}

func indexFile(ctx context.Context, cfg *config.Config, filePath string, dryRun bool) {
	if dryRun {
		docs, err := parser.Parse(filePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Error parsing document")
		}
		prettyPrint(docs)
		return
	}

	if err := cfg.ValidateForChat(); err != nil {
		log.Fatal().Err(err).Msg("Missing required configuration")
	}

	vecStore, err := vectordb.Open(cfg.Storage.VectorDBPath, cfg.Storage.CollectionName)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening vector database")
	}
	embedder, err := embedding.New(cfg.OpenAI)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	pipeline := ingest.NewPipeline(embedder, vecStore, cfg)
	chunks, err := pipeline.IndexFiles(ctx, []string{filePath})
	if err != nil {
		log.Fatal().Err(err).Msg("Error indexing document")
	}
	log.Info().Int("chunks", chunks).Msg("Indexed document")
}

func runQuery(ctx context.Context, cfg *config.Config, query string) {
	if err := cfg.ValidateForChat(); err != nil {
		log.Fatal().Err(err).Msg("Missing required configuration")
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
	corrected, err := chain.CorrectQuery(ctx, query)
	if err != nil {
		log.Fatal().Err(err).Msg("Error correcting query")
	}
	resp, err := chain.Query(ctx, corrected)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	fmt.Printf("Query: %s\n\n", corrected)
	fmt.Printf("Answer: %s\n\n", resp.Answer)
	fmt.Printf("Sources: %d chunk(s)\n", len(resp.Sources))
}

func prettyPrint(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Println(string(b))
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
