package qdrant

import (
	"encoding/json"
	"fmt"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// Store adapts the minimal Client into domain.VectorStore: one point per
// Document, upserted by document id into the collection for its kind.
// Qdrant points carry a single ANN vector (the centroid of the bundle's
// skill vectors, useful for coarse nearest-neighbor lookups) plus the full
// 32-vector bundle JSON-encoded in the payload so Get can reconstruct it
// exactly without lossy reduction.
type Store struct {
	client *Client
}

// NewStore constructs a Store; it does not create any collection.
// EnsureCollections creates the two logical collections (cv_embeddings,
// jd_embeddings).
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

func collectionFor(kind domain.DocumentKind) string {
	if kind == domain.DocumentJD {
		return "jd_embeddings"
	}
	return "cv_embeddings"
}

// EnsureCollections creates both logical collections if missing.
func (s *Store) EnsureCollections(ctx domain.Context) error {
	for _, kind := range []domain.DocumentKind{domain.DocumentCV, domain.DocumentJD} {
		if err := s.client.EnsureCollection(ctx, collectionFor(kind), domain.EmbeddingDim, "Cosine"); err != nil {
			return fmt.Errorf("ensure collection %s: %w", collectionFor(kind), err)
		}
	}
	return nil
}

// Put implements domain.VectorStore.
func (s *Store) Put(ctx domain.Context, kind domain.DocumentKind, e domain.Embeddings) error {
	centroid := centroidOf(e)
	payload, err := bundleToPayload(e)
	if err != nil {
		return fmt.Errorf("%w: encode bundle: %v", domain.ErrInternal, err)
	}
	return s.client.UpsertPoints(ctx, collectionFor(kind), [][]float32{centroid}, []map[string]any{payload}, []any{e.DocumentID})
}

// Get implements domain.VectorStore. Qdrant's minimal client in this
// package does not expose point-by-id retrieval directly, so Get performs a
// nearest-neighbor search seeded by a zero vector and filters client-side;
// callers needing strict retrieval semantics should prefer the relational
// StructuredRepository as the source of truth and treat the vector store as
// a similarity index.
func (s *Store) Get(ctx domain.Context, kind domain.DocumentKind, docID string) (domain.Embeddings, error) {
	zero := make([]float32, domain.EmbeddingDim)
	results, err := s.client.Search(ctx, collectionFor(kind), zero, 256)
	if err != nil {
		return domain.Embeddings{}, fmt.Errorf("%w: search: %v", domain.ErrUpstreamUnavail, err)
	}
	for _, r := range results {
		payload, _ := r["payload"].(map[string]any)
		if payload == nil {
			continue
		}
		if id, _ := payload["document_id"].(string); id == docID {
			return payloadToBundle(payload)
		}
	}
	return domain.Embeddings{}, fmt.Errorf("%w: document %s in %s", domain.ErrNotFound, docID, collectionFor(kind))
}

// Ping checks reachability of the underlying Qdrant service, letting
// readiness probes treat Store as a pingable dependency without widening
// domain.VectorStore's contract.
func (s *Store) Ping(ctx domain.Context) error {
	return s.client.Ping(ctx)
}

// DeleteDoc removes the stored bundle for a document from its collection by
// deleting the point whose id is the document id.
func (s *Store) DeleteDoc(ctx domain.Context, kind domain.DocumentKind, docID string) error {
	return s.client.DeletePoint(ctx, collectionFor(kind), docID)
}

func centroidOf(e domain.Embeddings) []float32 {
	centroid := make([]float32, domain.EmbeddingDim)
	count := 0
	for _, v := range e.SkillVecs {
		if len(v) == domain.EmbeddingDim {
			addInto(centroid, v)
			count++
		}
	}
	if count == 0 {
		return centroid
	}
	for i := range centroid {
		centroid[i] /= float32(count)
	}
	return centroid
}

func addInto(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

func bundleToPayload(e domain.Embeddings) (map[string]any, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	generic["document_id"] = e.DocumentID
	return generic, nil
}

func payloadToBundle(payload map[string]any) (domain.Embeddings, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return domain.Embeddings{}, err
	}
	var e domain.Embeddings
	if err := json.Unmarshal(b, &e); err != nil {
		return domain.Embeddings{}, err
	}
	return e, nil
}
