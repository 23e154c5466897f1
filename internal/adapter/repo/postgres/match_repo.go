package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// MatchRepo persists and loads computed match results, keyed by the CV/JD
// pair and the weights version that produced them, so a weights rollout
// never serves a stale score computed under the previous weighting.
type MatchRepo struct{ Pool PgxPool }

// NewMatchRepo constructs a MatchRepo with the given pool.
func NewMatchRepo(p PgxPool) *MatchRepo { return &MatchRepo{Pool: p} }

// Upsert inserts or replaces the Match for a (cv_id, jd_id, weights_version) key.
func (r *MatchRepo) Upsert(ctx domain.Context, m domain.Match) error {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "matches"),
	)
	breakdown, err := json.Marshal(m.Breakdown)
	if err != nil {
		return fmt.Errorf("op=match.upsert.marshal: %w", err)
	}
	q := `INSERT INTO matches (cv_id, jd_id, weights_version, composite_score, breakdown, computed_at)
	      VALUES ($1,$2,$3,$4,$5,$6)
	      ON CONFLICT (cv_id, jd_id, weights_version) DO UPDATE SET
	        composite_score=EXCLUDED.composite_score, breakdown=EXCLUDED.breakdown, computed_at=EXCLUDED.computed_at`
	now := m.ComputedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err = r.Pool.Exec(ctx, q, m.CVID, m.JDID, m.WeightsVersion, m.CompositeScore, breakdown, now)
	if err != nil {
		return fmt.Errorf("op=match.upsert: %w", err)
	}
	return nil
}

// Get loads the Match for a (cv_id, jd_id, weights_version) key.
func (r *MatchRepo) Get(ctx domain.Context, cvID, jdID, weightsVersion string) (domain.Match, error) {
	tracer := otel.Tracer("repo.matches")
	ctx, span := tracer.Start(ctx, "matches.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "matches"),
	)
	q := `SELECT cv_id, jd_id, weights_version, composite_score, breakdown, computed_at
	      FROM matches WHERE cv_id=$1 AND jd_id=$2 AND weights_version=$3`
	row := r.Pool.QueryRow(ctx, q, cvID, jdID, weightsVersion)
	var m domain.Match
	var breakdown []byte
	if err := row.Scan(&m.CVID, &m.JDID, &m.WeightsVersion, &m.CompositeScore, &breakdown, &m.ComputedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Match{}, fmt.Errorf("op=match.get: %w", domain.ErrNotFound)
		}
		return domain.Match{}, fmt.Errorf("op=match.get: %w", err)
	}
	if err := json.Unmarshal(breakdown, &m.Breakdown); err != nil {
		return domain.Match{}, fmt.Errorf("op=match.get.unmarshal: %w", err)
	}
	return m, nil
}
