package asynqadp

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvmatch/matching-engine/internal/domain"
)

type fakeDepthQueue struct{ depth int }

func (f fakeDepthQueue) EnqueueIngest(domain.Context, domain.IngestTaskPayload, domain.Priority, string) (string, error) {
	return "", nil
}
func (f fakeDepthQueue) EnqueueMatch(domain.Context, domain.MatchTaskPayload, domain.Priority, string) (string, error) {
	return "", nil
}
func (f fakeDepthQueue) EnqueueBulkMatch(domain.Context, domain.BulkMatchTaskPayload, domain.Priority, string) (string, error) {
	return "", nil
}
func (f fakeDepthQueue) Depth(domain.Context) (int, error) { return f.depth, nil }

func (f fakeDepthQueue) Promote(domain.Context, string, domain.Priority, domain.Priority) error {
	return nil
}

type fakePool struct {
	count    int
	scaleUps int
	scaleDowns int
}

func (p *fakePool) Count() int { return p.count }
func (p *fakePool) ScaleUp(context.Context) error {
	p.count++
	p.scaleUps++
	return nil
}
func (p *fakePool) ScaleDown() error {
	p.count--
	p.scaleDowns++
	return nil
}

type fakeSampler struct{ mem, cpu float64 }

func (f fakeSampler) MemPercent() (float64, error) { return f.mem, nil }
func (f fakeSampler) CPUPercent() (float64, error) { return f.cpu, nil }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestScaler_ScalesUpWhenDepthHighAndResourcesHaveHeadroom(t *testing.T) {
	t.Parallel()
	pool := &fakePool{count: 8}
	s := NewScaler(ScalerConfig{Min: 8, Max: 64, DepthHigh: 2000, DepthLow: 200, MemHighPct: 80, CPUHighPct: 85, IdleTimeout: 30 * time.Second}, fakeDepthQueue{depth: 3000}, pool, testLogger())
	s.resource = fakeSampler{mem: 40, cpu: 30}

	s.tick(context.Background())
	assert.Equal(t, 1, pool.scaleUps)
	assert.Equal(t, 9, pool.count)
}

func TestScaler_DoesNotScaleUpWhenMemorySaturated(t *testing.T) {
	t.Parallel()
	pool := &fakePool{count: 8}
	s := NewScaler(ScalerConfig{Min: 8, Max: 64, DepthHigh: 2000, DepthLow: 200, MemHighPct: 80, CPUHighPct: 85}, fakeDepthQueue{depth: 3000}, pool, testLogger())
	s.resource = fakeSampler{mem: 95, cpu: 30}

	s.tick(context.Background())
	assert.Equal(t, 0, pool.scaleUps)
}

func TestScaler_RefusesScaleUpPastMax(t *testing.T) {
	t.Parallel()
	pool := &fakePool{count: 64}
	s := NewScaler(ScalerConfig{Min: 8, Max: 64, DepthHigh: 2000, DepthLow: 200, MemHighPct: 80, CPUHighPct: 85}, fakeDepthQueue{depth: 9000}, pool, testLogger())
	s.resource = fakeSampler{mem: 10, cpu: 10}

	s.tick(context.Background())
	assert.Equal(t, 0, pool.scaleUps)
}

func TestScaler_ScalesDownOnlyAfterSustainedIdle(t *testing.T) {
	t.Parallel()
	pool := &fakePool{count: 10}
	cfg := ScalerConfig{Min: 8, Max: 64, DepthHigh: 2000, DepthLow: 200, MemHighPct: 80, CPUHighPct: 85, IdleTimeout: 30 * time.Second}
	s := NewScaler(cfg, fakeDepthQueue{depth: 50}, pool, testLogger())
	s.resource = fakeSampler{mem: 10, cpu: 10}

	s.tick(context.Background())
	assert.Equal(t, 0, pool.scaleDowns, "first below-low tick only starts the idle timer")

	s.belowLowSince = time.Now().Add(-cfg.IdleTimeout - time.Second)
	s.tick(context.Background())
	require.Equal(t, 1, pool.scaleDowns)
	assert.Equal(t, 9, pool.count)
}

func TestScaler_RefusesScaleDownAtMin(t *testing.T) {
	t.Parallel()
	pool := &fakePool{count: 8}
	s := NewScaler(ScalerConfig{Min: 8, Max: 64, DepthHigh: 2000, DepthLow: 200}, fakeDepthQueue{depth: 10}, pool, testLogger())
	s.resource = fakeSampler{mem: 10, cpu: 10}

	s.tick(context.Background())
	assert.Equal(t, 0, pool.scaleDowns)
}
