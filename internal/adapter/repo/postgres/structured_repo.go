package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// StructuredRepo persists and loads extractor output from PostgreSQL.
type StructuredRepo struct{ Pool PgxPool }

// NewStructuredRepo constructs a StructuredRepo with the given pool.
func NewStructuredRepo(p PgxPool) *StructuredRepo { return &StructuredRepo{Pool: p} }

// Upsert inserts or replaces the Structured record for a Document.
func (r *StructuredRepo) Upsert(ctx domain.Context, s domain.Structured) error {
	tracer := otel.Tracer("repo.structured")
	ctx, span := tracer.Start(ctx, "structured.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "structured"),
	)
	q := `INSERT INTO structured (document_id, title, category, experience_years, skills, responsibilities, prompt_version, model_id, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	      ON CONFLICT (document_id) DO UPDATE SET
	        title=EXCLUDED.title, category=EXCLUDED.category, experience_years=EXCLUDED.experience_years,
	        skills=EXCLUDED.skills, responsibilities=EXCLUDED.responsibilities,
	        prompt_version=EXCLUDED.prompt_version, model_id=EXCLUDED.model_id`
	_, err := r.Pool.Exec(ctx, q, s.DocumentID, s.Title, s.Category, s.ExperienceYears,
		s.Skills[:], s.Responsibilities[:], s.PromptVersion, s.ModelID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=structured.upsert: %w", err)
	}
	return nil
}

// GetByDocumentID loads the Structured record for a Document.
func (r *StructuredRepo) GetByDocumentID(ctx domain.Context, docID string) (domain.Structured, error) {
	tracer := otel.Tracer("repo.structured")
	ctx, span := tracer.Start(ctx, "structured.GetByDocumentID")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "structured"),
	)
	q := `SELECT document_id, title, category, experience_years, skills, responsibilities, prompt_version, model_id, created_at
	      FROM structured WHERE document_id=$1`
	row := r.Pool.QueryRow(ctx, q, docID)
	var s domain.Structured
	var skills, resps []string
	if err := row.Scan(&s.DocumentID, &s.Title, &s.Category, &s.ExperienceYears, &skills, &resps, &s.PromptVersion, &s.ModelID, &s.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Structured{}, fmt.Errorf("op=structured.get: %w", domain.ErrNotFound)
		}
		return domain.Structured{}, fmt.Errorf("op=structured.get: %w", err)
	}
	copy(s.Skills[:], skills)
	copy(s.Responsibilities[:], resps)
	return s, nil
}
