package splitter

import (
	"fmt"
	"strconv"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/mahdiyar-oraei/rag/internal/config"
	"github.com/mahdiyar-oraei/rag/internal/document"
)

// Splitter chunks documents with a recursive character splitter so chunks
// break on paragraph and sentence boundaries where possible.
type Splitter struct {
	inner textsplitter.RecursiveCharacter
}

func New(cfg config.RAGConfig) *Splitter {
	return &Splitter{
		inner: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
	}
}

// Split chunks each document, copying its metadata onto every chunk and
// recording the chunk ordinal.
func (s *Splitter) Split(docs []document.Document) ([]document.Document, error) {
	var out []document.Document
	for _, doc := range docs {
		pieces, err := s.inner.SplitText(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("split document: %w", err)
		}
		for i, piece := range pieces {
			md := doc.CloneMetadata()
			md[document.MetaChunk] = strconv.Itoa(i + 1)
			out = append(out, document.Document{Content: piece, Metadata: md})
		}
	}
	return out, nil
}
