package splitter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahdiyar-oraei/rag/internal/config"
	"github.com/mahdiyar-oraei/rag/internal/document"
)

func TestSplitShortDocument(t *testing.T) {
	s := New(config.RAGConfig{ChunkSize: 100, ChunkOverlap: 10})

	docs := []document.Document{
		document.New("short text", map[string]string{document.MetaFilename: "a.txt"}),
	}
	chunks, err := s.Split(docs)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "short text", chunks[0].Content)
	assert.Equal(t, "a.txt", chunks[0].Metadata[document.MetaFilename])
	assert.Equal(t, "1", chunks[0].Metadata[document.MetaChunk])
}

func TestSplitLongDocument(t *testing.T) {
	s := New(config.RAGConfig{ChunkSize: 50, ChunkOverlap: 5})

	long := strings.Repeat("sentence one here. ", 20)
	docs := []document.Document{
		document.New(long, map[string]string{document.MetaFilename: "b.txt"}),
	}
	chunks, err := s.Split(docs)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), 60)
		assert.Equal(t, "b.txt", c.Metadata[document.MetaFilename])
		assert.NotEmpty(t, c.Metadata[document.MetaChunk])
		if i == 0 {
			assert.Equal(t, "1", c.Metadata[document.MetaChunk])
		}
	}
}

func TestSplitMetadataIsolated(t *testing.T) {
	s := New(config.RAGConfig{ChunkSize: 100, ChunkOverlap: 0})

	src := map[string]string{document.MetaFilename: "c.txt"}
	chunks, err := s.Split([]document.Document{document.New("hello", src)})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunks[0].Metadata[document.MetaFilename] = "mutated"
	assert.Equal(t, "c.txt", src[document.MetaFilename])
}

func TestSplitEmptyInput(t *testing.T) {
	s := New(config.RAGConfig{ChunkSize: 100, ChunkOverlap: 0})
	chunks, err := s.Split(nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
