// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx domain.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx domain.Context, sql string, args ...any) pgx.Row
	Query(ctx domain.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx domain.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// DocumentRepo persists and loads Documents using a minimal pgx pool.
type DocumentRepo struct{ Pool PgxPool }

// NewDocumentRepo constructs a DocumentRepo with the given pool.
func NewDocumentRepo(p PgxPool) *DocumentRepo { return &DocumentRepo{Pool: p} }

// Create stores a new Document and returns its id (generates one if empty).
func (r *DocumentRepo) Create(ctx domain.Context, d domain.Document) (string, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "documents"),
	)
	id := d.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO documents (id, kind, raw_text, content_hash, filename, mime, size, status, warnings, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.Pool.Exec(ctx, q, id, d.Kind, d.RawText, d.ContentHash, d.Filename, d.MIME, d.Size, d.Status, d.Warnings, now, now)
	if err != nil {
		return "", fmt.Errorf("op=document.create: %w", err)
	}
	return id, nil
}

// Get loads a Document by id.
func (r *DocumentRepo) Get(ctx domain.Context, id string) (domain.Document, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "documents"),
	)
	q := `SELECT id, kind, raw_text, content_hash, filename, mime, size, status, warnings, created_at, updated_at
	      FROM documents WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var d domain.Document
	if err := row.Scan(&d.ID, &d.Kind, &d.RawText, &d.ContentHash, &d.Filename, &d.MIME, &d.Size, &d.Status, &d.Warnings, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Document{}, fmt.Errorf("op=document.get: %w", domain.ErrNotFound)
		}
		return domain.Document{}, fmt.Errorf("op=document.get: %w", err)
	}
	return d, nil
}

// UpdateStatus updates a Document's pipeline status and warnings.
func (r *DocumentRepo) UpdateStatus(ctx domain.Context, id string, status domain.DocumentStatus, warnings []string) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "documents"),
	)
	q := `UPDATE documents SET status=$2, warnings=$3, updated_at=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status, warnings, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=document.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=document.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// FindByContentHash loads a Document by its content hash, used to dedupe
// re-uploads of the same file before enqueueing a fresh ingest job.
func (r *DocumentRepo) FindByContentHash(ctx domain.Context, hash string) (domain.Document, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.FindByContentHash")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "documents"),
	)
	q := `SELECT id, kind, raw_text, content_hash, filename, mime, size, status, warnings, created_at, updated_at
	      FROM documents WHERE content_hash=$1 ORDER BY created_at DESC LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, hash)
	var d domain.Document
	if err := row.Scan(&d.ID, &d.Kind, &d.RawText, &d.ContentHash, &d.Filename, &d.MIME, &d.Size, &d.Status, &d.Warnings, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Document{}, fmt.Errorf("op=document.find_by_hash: %w", domain.ErrNotFound)
		}
		return domain.Document{}, fmt.Errorf("op=document.find_by_hash: %w", err)
	}
	return d, nil
}

// Delete removes a Document record.
func (r *DocumentRepo) Delete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "documents"),
	)
	q := `DELETE FROM documents WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("op=document.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=document.delete: %w", domain.ErrNotFound)
	}
	return nil
}
