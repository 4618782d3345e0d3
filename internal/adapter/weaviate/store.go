// Package weaviate adapts the Weaviate client to the vector store interfaces
// used by indexing and retrieval.
package weaviate

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"docquery/internal/index"
)

// hybridAlpha balances keyword and vector search. 0.75 favors the vector side
// while keeping exact-term matches in play.
const hybridAlpha = 0.75

type Store struct {
	client *weaviate.Client
	class  string
}

func NewStore(client *weaviate.Client, class string) *Store {
	return &Store{client: client, class: class}
}

// ClassExists reports whether the chunk class is present in the schema.
func (s *Store) ClassExists(ctx context.Context) (bool, error) {
	return s.client.Schema().ClassExistenceChecker().WithClassName(s.class).Do(ctx)
}

// EnsureClass creates the chunk class if it is missing. It returns true when a
// class was actually created, so callers can wait for the index to settle.
func (s *Store) EnsureClass(ctx context.Context) (bool, error) {
	exists, err := s.ClassExists(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	class := &models.Class{
		Class:       s.class,
		Description: "A chunk of a processed document",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "documentId", DataType: []string{"string"}}, // exact match per request
			{Name: "chunkIndex", DataType: []string{"int"}},
			{Name: "source", DataType: []string{"string"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// UpsertBatch writes records in a single batch call. Records carry their own
// IDs, so re-running a batch overwrites rather than duplicates.
func (s *Store) UpsertBatch(ctx context.Context, records []index.Record) error {
	if len(records) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(records))
	for i, r := range records {
		objects[i] = &models.Object{
			Class: s.class,
			ID:    strfmt.UUID(r.ID),
			Properties: map[string]interface{}{
				"content":    r.Content,
				"documentId": r.DocumentID,
				"chunkIndex": r.ChunkIndex,
				"source":     r.Source,
			},
			Vector: r.Vector,
		}
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}
	for _, obj := range res {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// Search runs a hybrid query scoped to one document's chunks.
func (s *Store) Search(ctx context.Context, query string, vector []float32, documentID string, limit int) ([]index.SearchResult, error) {
	hybrid := s.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query).
		WithVector(vector).
		WithAlpha(hybridAlpha)

	where := filters.Where().
		WithPath([]string{"documentId"}).
		WithOperator(filters.Equal).
		WithValueString(documentID)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "documentId"},
		{Name: "chunkIndex"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "score"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithHybrid(hybrid).
		WithWhere(where).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var results []index.SearchResult
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if chunks, ok := data[s.class].([]interface{}); ok {
			for _, c := range chunks {
				props, ok := c.(map[string]interface{})
				if !ok {
					continue
				}
				result := index.SearchResult{
					Metadata: make(map[string]interface{}),
				}
				if content, ok := props["content"].(string); ok {
					result.Content = content
				}
				if docID, ok := props["documentId"].(string); ok {
					result.Metadata["documentId"] = docID
				}
				if idx, ok := props["chunkIndex"].(float64); ok {
					result.Metadata["chunkIndex"] = int(idx)
				}
				if source, ok := props["source"].(string); ok {
					result.Metadata["source"] = source
				}
				if additional, ok := props["_additional"].(map[string]interface{}); ok {
					// Score arrives as a string on some server versions and a
					// number on others.
					if score, ok := additional["score"].(string); ok {
						var fScore float64
						fmt.Sscanf(score, "%f", &fScore)
						result.Score = float32(fScore)
					} else if score, ok := additional["score"].(float64); ok {
						result.Score = float32(score)
					}
				}
				results = append(results, result)
			}
		}
	}

	return results, nil
}
