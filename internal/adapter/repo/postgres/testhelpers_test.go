package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row
type rowStub struct{ scan func(dest ...any) error }
func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// poolStub implements postgres.PgxPool for tests
// It stubs Exec and QueryRow behavior
// Define in a shared helper so multiple *_test.go files can reuse it without redefs

type poolStub struct{
	execErr error
	execTag pgconn.CommandTag
	row    rowStub
}

func (p *poolStub) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	if p.execErr != nil {
		return pgconn.CommandTag{}, p.execErr
	}
	if p.execTag.String() == "" {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return p.execTag, nil
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if p.row.scan == nil { return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }} }
	return p.row
}

func (p *poolStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("Query not stubbed")
}

func (p *poolStub) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("BeginTx not stubbed")
}

// zeroRowsTag simulates an UPDATE/DELETE that matched no rows.
var zeroRowsTag = pgconn.NewCommandTag("UPDATE 0")

// pgxErrNoRows is a test-local alias for pgx.ErrNoRows so _test.go files
// don't each need their own pgx import just for this sentinel.
var pgxErrNoRows = pgx.ErrNoRows
