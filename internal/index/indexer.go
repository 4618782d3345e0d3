// Package index turns chunks into vector-store records and serves similarity
// search over them. Each request's chunks are tagged with a document ID so
// concurrent requests never see each other's context.
package index

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"docquery/internal/resilience"
	"docquery/internal/text"
)

// Record is one vector-store entry: a chunk plus its embedding and a stable
// identifier inside the store.
type Record struct {
	ID         string
	Content    string
	Vector     []float32
	DocumentID string
	ChunkIndex int
	Source     string
}

// SearchResult is a retrieved chunk with its similarity score.
type SearchResult struct {
	Content  string
	Score    float32
	Metadata map[string]interface{}
}

// Embedder produces embedding vectors, singly or batched.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the external vector index.
type Store interface {
	UpsertBatch(ctx context.Context, records []Record) error
	Search(ctx context.Context, query string, vector []float32, documentID string, limit int) ([]SearchResult, error)
}

// Indexer embeds chunks in batches sized to the embedding API's practical
// limits and upserts them in batches sized to the store's bulk-write limits.
type Indexer struct {
	embedder    Embedder
	store       Store
	embedBatch  int
	upsertBatch int
}

func NewIndexer(embedder Embedder, store Store, embedBatch, upsertBatch int) *Indexer {
	return &Indexer{
		embedder:    embedder,
		store:       store,
		embedBatch:  embedBatch,
		upsertBatch: upsertBatch,
	}
}

// IndexChunks builds a fresh per-document collection from chunks and returns a
// Searcher attached to it.
func (ix *Indexer) IndexChunks(ctx context.Context, documentID string, chunks []text.Chunk) (*Searcher, error) {
	if len(chunks) == 0 {
		return nil, &resilience.VectorStoreError{Operation: "index_chunks", Detail: "no chunks to index"}
	}

	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			ID:         uuid.New().String(),
			Content:    c.Content,
			DocumentID: documentID,
			ChunkIndex: i,
			Source:     c.Metadata["source"],
		}
	}

	for start := 0; start < len(records); start += ix.embedBatch {
		end := min(start+ix.embedBatch, len(records))
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = records[i].Content
		}
		vectors, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, &resilience.VectorStoreError{Operation: "embed_chunks", Detail: err.Error()}
		}
		if len(vectors) != len(texts) {
			return nil, &resilience.VectorStoreError{Operation: "embed_chunks", Detail: "embedding count does not match input batch"}
		}
		for i := start; i < end; i++ {
			records[i].Vector = vectors[i-start]
		}
	}

	for start := 0; start < len(records); start += ix.upsertBatch {
		end := min(start+ix.upsertBatch, len(records))
		if err := ix.store.UpsertBatch(ctx, records[start:end]); err != nil {
			return nil, &resilience.VectorStoreError{Operation: "upsert_chunks", Detail: err.Error()}
		}
	}

	slog.InfoContext(ctx, "chunks indexed", "document_id", documentID, "chunks", len(records))
	return ix.Searcher(documentID), nil
}

// Searcher attaches to an existing per-document collection for search only.
func (ix *Indexer) Searcher(documentID string) *Searcher {
	return &Searcher{embedder: ix.embedder, store: ix.store, documentID: documentID}
}

// Searcher answers similarity queries against one document's records.
type Searcher struct {
	embedder   Embedder
	store      Store
	documentID string
}

func (s *Searcher) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &resilience.VectorStoreError{Operation: "query_embedding", Detail: err.Error()}
	}

	results, err := s.store.Search(ctx, query, vector, s.documentID, k)
	if err != nil {
		return nil, &resilience.VectorStoreError{Operation: "similarity_search", Detail: err.Error()}
	}
	return results, nil
}
