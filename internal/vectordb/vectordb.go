package vectordb

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/mahdiyar-oraei/rag/internal/document"
)

const compress = false

// Result is a retrieved document with its cosine similarity to the query.
type Result struct {
	document.Document
	Similarity float32
}

// Store wraps a persistent chromem-go collection. Embeddings are always
// computed by the caller, so the collection's own embedding func stays nil.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	name       string
}

// Open creates or loads the persistent database at path and its collection.
func Open(path, collectionName string) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("open vector database: %w", err)
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create/get collection: %w", err)
	}
	return &Store{db: db, collection: collection, name: collectionName}, nil
}

// Reset drops and recreates the collection. Used by the batched reindex path
// for replace semantics.
func (s *Store) Reset() error {
	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	collection, err := s.db.GetOrCreateCollection(s.name, nil, nil)
	if err != nil {
		return fmt.Errorf("recreate collection: %w", err)
	}
	s.collection = collection
	return nil
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	return s.collection.Count()
}

// AddDocuments stores pre-embedded documents. Documents without an ID get a
// random one.
func (s *Store) AddDocuments(ctx context.Context, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}
	chromemDocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.New().String()
		}
		chromemDocs[i] = chromem.Document{
			ID:        id,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: d.Embedding,
		}
	}
	if err := s.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// Doc is a document paired with its embedding, ready for storage.
type Doc struct {
	document.Document
	Embedding []float32
}

// Query runs a similarity search. k is clamped to the collection size;
// an empty collection yields no results rather than an error.
func (s *Store) Query(ctx context.Context, embedding []float32, k int, where map[string]string) ([]Result, error) {
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       k,
		Where:          where,
	})
	if err != nil {
		return nil, fmt.Errorf("query by similarity: %w", err)
	}

	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{
			Document: document.Document{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: r.Metadata,
			},
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

// QueryForContact retrieves documents scoped to one CRM contact: the
// contact's own record plus deals associated with it. chromem metadata
// filters are AND-equality only, so the two legs run separately and merge.
func (s *Store) QueryForContact(ctx context.Context, embedding []float32, k int, contactID string) ([]Result, error) {
	own, err := s.Query(ctx, embedding, k, map[string]string{document.MetaObjectID: contactID})
	if err != nil {
		return nil, err
	}
	associated, err := s.Query(ctx, embedding, k, map[string]string{document.MetaContactID: contactID})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(own)+len(associated))
	merged := make([]Result, 0, len(own)+len(associated))
	for _, r := range append(own, associated...) {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}
