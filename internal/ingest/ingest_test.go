package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahdiyar-oraei/rag/internal/config"
	"github.com/mahdiyar-oraei/rag/internal/document"
	"github.com/mahdiyar-oraei/rag/internal/vectordb"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

type fakeStore struct {
	docs   []vectordb.Doc
	resets int
}

func (f *fakeStore) AddDocuments(ctx context.Context, docs []vectordb.Doc) error {
	f.docs = append(f.docs, docs...)
	return nil
}

func (f *fakeStore) Reset() error {
	f.resets++
	f.docs = nil
	return nil
}

func (f *fakeStore) Count() int { return len(f.docs) }

func newTestPipeline(embedder Embedder, store VectorStore) *Pipeline {
	cfg, _ := config.Load("")
	cfg.RAG.ChunkSize = 100
	cfg.RAG.ChunkOverlap = 10
	cfg.RAG.IngestBatchSize = 2
	return NewPipeline(embedder, store, cfg)
}

func TestIndexFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("the quick brown fox"), 0o644))

	store := &fakeStore{}
	pipeline := newTestPipeline(&fakeEmbedder{}, store)

	n, err := pipeline.IndexFiles(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.docs, 1)

	assert.Equal(t, "the quick brown fox", store.docs[0].Content)
	assert.Equal(t, []float32{1, 0, 0}, store.docs[0].Embedding)
	assert.Equal(t, "notes.txt", store.docs[0].Metadata[document.MetaFilename])
	// appending, not replacing
	assert.Equal(t, 0, store.resets)
}

func TestIndexFilesParseError(t *testing.T) {
	pipeline := newTestPipeline(&fakeEmbedder{}, &fakeStore{})

	_, err := pipeline.IndexFiles(context.Background(), []string{filepath.Join(t.TempDir(), "gone.txt")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestIndexFilesNoContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank.txt")
	require.NoError(t, os.WriteFile(path, []byte("   \n"), 0o644))

	pipeline := newTestPipeline(&fakeEmbedder{}, &fakeStore{})

	_, err := pipeline.IndexFiles(context.Background(), []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no parseable content")
}

func TestIngestDocumentsBatches(t *testing.T) {
	embedder := &fakeEmbedder{}
	store := &fakeStore{}
	pipeline := newTestPipeline(embedder, store)

	docs := []document.Document{
		document.New("record one", nil),
		document.New("record two", nil),
		document.New("record three", nil),
		document.New("record four", nil),
		document.New("record five", nil),
	}

	var progress []int
	var lastMsg string
	err := pipeline.IngestDocuments(context.Background(), docs, func(processed, total int, msg string) {
		progress = append(progress, processed)
		assert.Equal(t, 5, total)
		lastMsg = msg
	})
	require.NoError(t, err)

	// batch size 2 → 3 batches
	assert.Equal(t, []int{2, 4, 5}, progress)
	assert.Equal(t, 3, embedder.calls)
	assert.Equal(t, "Embedding batch 3/3 (5/5 records)", lastMsg)
	assert.Equal(t, 1, store.resets)
	assert.Len(t, store.docs, 5)
}

func TestIngestDocumentsEmpty(t *testing.T) {
	pipeline := newTestPipeline(&fakeEmbedder{}, &fakeStore{})

	err := pipeline.IngestDocuments(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no documents to ingest")
}

func TestIngestDocumentsEmbedError(t *testing.T) {
	store := &fakeStore{}
	pipeline := newTestPipeline(&fakeEmbedder{err: errors.New("quota exceeded")}, store)

	err := pipeline.IngestDocuments(context.Background(), []document.Document{
		document.New("record", nil),
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}
