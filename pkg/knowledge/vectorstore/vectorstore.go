// Package vectorstore wraps the qdrant gRPC client with the narrow
// surface the knowledge engine actually needs: upsert chunk vectors,
// cosine top-k query, and delete-by-document.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Point is one chunk's embedding plus the payload carried alongside it in
// qdrant, used to resolve a vector hit back to its owning document/chunk
// without a round trip to the relational store.
type Point struct {
	ChunkID    string
	DocumentID string
	Index      int
	Vector     []float32
}

// Hit is one ranked result from a cosine query.
type Hit struct {
	ChunkID    string
	DocumentID string
	Score      float32
}

// Store is a thin wrapper over a single qdrant collection.
type Store struct {
	client     *qdrant.Client
	collection string
}

// Config addresses the qdrant instance and names the collection this
// Store operates on.
type Config struct {
	Host           string
	Port           int
	APIKey         string
	Collection     string
	VectorDim      uint64
}

// Open connects to qdrant and ensures the target collection exists with
// cosine distance, creating it if this is a first run.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	exists, err := client.CollectionExists(ctx, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("check qdrant collection %s: %w", cfg.Collection, err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     cfg.VectorDim,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("create qdrant collection %s: %w", cfg.Collection, err)
		}
	}

	return &Store{client: client, collection: cfg.Collection}, nil
}

// Upsert writes or replaces a batch of chunk vectors.
func (s *Store) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qpoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ChunkID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"document_id": p.DocumentID,
				"index":       p.Index,
			}),
		}
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), s.collection, err)
	}
	return nil
}

// Query runs a cosine top-k search against the stored vectors.
func (s *Store) Query(ctx context.Context, vector []float32, limit uint64) ([]Hit, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.collection, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hit := Hit{ChunkID: p.Id.GetUuid(), Score: p.Score}
		if docID, ok := p.Payload["document_id"]; ok {
			hit.DocumentID = docID.GetStringValue()
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteByDocument removes every vector belonging to a document, used
// when the indexer re-chunks or retires it.
func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("delete vectors for document %s: %w", documentID, err)
	}
	return nil
}
