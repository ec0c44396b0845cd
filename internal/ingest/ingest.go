package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mahdiyar-oraei/rag/internal/config"
	"github.com/mahdiyar-oraei/rag/internal/document"
	"github.com/mahdiyar-oraei/rag/internal/parser"
	"github.com/mahdiyar-oraei/rag/internal/splitter"
	"github.com/mahdiyar-oraei/rag/internal/vectordb"
)

// Embedder embeds batches of chunk texts.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore receives embedded chunks.
type VectorStore interface {
	AddDocuments(ctx context.Context, docs []vectordb.Doc) error
	Reset() error
	Count() int
}

// ProgressFunc reports batched ingestion progress for UIs and logs.
type ProgressFunc func(processed, total int, msg string)

// Pipeline runs load → split → embed → store.
type Pipeline struct {
	splitter *splitter.Splitter
	embedder Embedder
	store    VectorStore
	cfg      *config.Config
}

func NewPipeline(embedder Embedder, store VectorStore, cfg *config.Config) *Pipeline {
	return &Pipeline{
		splitter: splitter.New(cfg.RAG),
		embedder: embedder,
		store:    store,
		cfg:      cfg,
	}
}

// IndexFiles parses and indexes the given files, appending to the existing
// collection. Returns the number of chunks stored.
func (p *Pipeline) IndexFiles(ctx context.Context, paths []string) (int, error) {
	var docs []document.Document
	for _, path := range paths {
		parsed, err := parser.Parse(path)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", path, err)
		}
		docs = append(docs, parsed...)
	}
	if len(docs) == 0 {
		return 0, fmt.Errorf("no parseable content in %d file(s)", len(paths))
	}

	chunks, err := p.splitter.Split(docs)
	if err != nil {
		return 0, err
	}
	if err := p.embedAndStore(ctx, chunks); err != nil {
		return 0, err
	}
	log.Info().Int("files", len(paths)).Int("chunks", len(chunks)).Msg("Indexed files")
	return len(chunks), nil
}

// IngestDocuments replaces the collection with the given documents, working
// in batches to keep memory bounded on large CRM syncs.
func (p *Pipeline) IngestDocuments(ctx context.Context, docs []document.Document, onProgress ProgressFunc) error {
	if len(docs) == 0 {
		return fmt.Errorf("no documents to ingest")
	}

	if err := p.store.Reset(); err != nil {
		return err
	}

	batchSize := p.cfg.RAG.IngestBatchSize
	if batchSize <= 0 {
		batchSize = len(docs)
	}
	total := len(docs)
	totalBatches := (total + batchSize - 1) / batchSize
	processed := 0

	for i := 0; i < total; i += batchSize {
		end := i + batchSize
		if end > total {
			end = total
		}
		batch := docs[i:end]

		chunks, err := p.splitter.Split(batch)
		if err != nil {
			return err
		}
		if err := p.embedAndStore(ctx, chunks); err != nil {
			return err
		}

		processed += len(batch)
		batchNum := i/batchSize + 1
		msg := fmt.Sprintf("Embedding batch %d/%d (%d/%d records)", batchNum, totalBatches, processed, total)
		log.Debug().Msg(msg)
		if onProgress != nil {
			onProgress(processed, total, msg)
		}
	}
	return nil
}

func (p *Pipeline) embedAndStore(ctx context.Context, chunks []document.Document) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: %d vectors for %d chunks", len(vectors), len(chunks))
	}

	docs := make([]vectordb.Doc, len(chunks))
	for i, chunk := range chunks {
		docs[i] = vectordb.Doc{Document: chunk, Embedding: vectors[i]}
	}
	return p.store.AddDocuments(ctx, docs)
}
