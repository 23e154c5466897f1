package usecase

import (
	"fmt"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// ReadinessCheck is a single dependency probe result surfaced by /health.
type ReadinessCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details"`
}

// pingable is implemented by adapters that expose a cheap liveness probe
// (e.g. the Qdrant client); readiness checks use it via type assertion so
// domain.VectorStore/domain.AIClient don't need a Ping method in their
// narrow port contracts.
type pingable interface {
	Ping(ctx domain.Context) error
}

// ReadinessService aggregates health probes across the pipeline's
// dependencies for the HTTP /health endpoint.
type ReadinessService struct {
	Queue   domain.Queue
	Vectors domain.VectorStore
	AI      domain.AIClient
}

// NewReadinessService constructs a ReadinessService.
func NewReadinessService(queue domain.Queue, vectors domain.VectorStore, ai domain.AIClient) ReadinessService {
	return ReadinessService{Queue: queue, Vectors: vectors, AI: ai}
}

// Check runs every configured probe and returns one result per dependency.
func (s ReadinessService) Check(ctx domain.Context) []ReadinessCheck {
	var checks []ReadinessCheck

	queueCheck := ReadinessCheck{Name: "queue", Details: "queue not configured"}
	if s.Queue != nil {
		if depth, err := s.Queue.Depth(ctx); err != nil {
			queueCheck.Details = fmt.Sprintf("queue error: %v", err)
		} else {
			queueCheck.OK = true
			queueCheck.Details = fmt.Sprintf("depth=%d", depth)
		}
	}
	checks = append(checks, queueCheck)

	vectorCheck := ReadinessCheck{Name: "vector_store", Details: "vector store not configured"}
	if p, ok := s.Vectors.(pingable); ok {
		if err := p.Ping(ctx); err != nil {
			vectorCheck.Details = fmt.Sprintf("vector store error: %v", err)
		} else {
			vectorCheck.OK = true
			vectorCheck.Details = "reachable"
		}
	} else if s.Vectors != nil {
		vectorCheck.OK = true
		vectorCheck.Details = "configured (no ping support)"
	}
	checks = append(checks, vectorCheck)

	aiCheck := ReadinessCheck{Name: "ai_client", Details: "ai client not configured"}
	if s.AI != nil {
		if _, err := s.AI.Embed(ctx, []string{"readiness probe"}); err != nil {
			aiCheck.Details = fmt.Sprintf("ai client error: %v", err)
		} else {
			aiCheck.OK = true
			aiCheck.Details = "reachable"
		}
	}
	checks = append(checks, aiCheck)

	return checks
}
