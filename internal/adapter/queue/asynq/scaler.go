package asynqadp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/cvmatch/matching-engine/internal/domain"
)

// ScalerConfig mirrors the supervisor thresholds: scale up when queue depth
// exceeds DepthHigh and headroom remains on memory/CPU, scale down when
// depth falls under DepthLow and the pool has been idle past IdleTimeout.
type ScalerConfig struct {
	Min, Max          int
	DepthHigh, DepthLow int
	MemHighPct, CPUHighPct float64
	Interval, IdleTimeout time.Duration
}

// resourceSampler reports current memory and CPU utilization, narrowed so
// tests can stub it instead of reading real host stats.
type resourceSampler interface {
	MemPercent() (float64, error)
	CPUPercent() (float64, error)
}

type gopsutilSampler struct{}

func (gopsutilSampler) MemPercent() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

func (gopsutilSampler) CPUPercent() (float64, error) {
	pcts, err := cpu.Percent(0, false)
	if err != nil || len(pcts) == 0 {
		return 0, err
	}
	return pcts[0], nil
}

// workerPool is the subset of *Worker-pool lifecycle the Scaler drives.
// Implemented by WorkerPool below; narrowed for tests.
type workerPool interface {
	Count() int
	ScaleUp(ctx context.Context) error
	ScaleDown() error
}

// Scaler is the auto-scaling supervisor: every Interval it samples queue
// depth plus host memory/CPU and adjusts the worker pool size within
// [Min, Max], refusing to scale up while memory or CPU is saturated and
// refusing to scale down until the pool has gone idle for IdleTimeout.
type Scaler struct {
	cfg      ScalerConfig
	queue    domain.Queue
	pool     workerPool
	resource resourceSampler
	log      *slog.Logger

	mu            sync.Mutex
	lastScaleDown time.Time
	belowLowSince time.Time
}

// NewScaler constructs a Scaler driving pool against queue depth and host
// resource utilization.
func NewScaler(cfg ScalerConfig, queue domain.Queue, pool workerPool, log *slog.Logger) *Scaler {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Scaler{cfg: cfg, queue: queue, pool: pool, resource: gopsutilSampler{}, log: log}
}

// Run blocks, ticking every cfg.Interval until ctx is cancelled.
func (s *Scaler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scaler) tick(ctx context.Context) {
	depth, err := s.queue.Depth(ctx)
	if err != nil {
		s.log.Warn("scaler: queue depth probe failed", "error", err)
		return
	}
	memPct, err := s.resource.MemPercent()
	if err != nil {
		s.log.Warn("scaler: mem probe failed", "error", err)
	}
	cpuPct, err := s.resource.CPUPercent()
	if err != nil {
		s.log.Warn("scaler: cpu probe failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	workers := s.pool.Count()
	switch {
	case depth > s.cfg.DepthHigh && memPct < s.cfg.MemHighPct && cpuPct < s.cfg.CPUHighPct && workers < s.cfg.Max:
		s.belowLowSince = time.Time{}
		if err := s.pool.ScaleUp(ctx); err != nil {
			s.log.Error("scaler: scale up failed", "error", err)
			return
		}
		s.log.Info("scaler: scaled up", "workers", workers+1, "queue_depth", depth)
	case depth < s.cfg.DepthLow && workers > s.cfg.Min:
		if s.belowLowSince.IsZero() {
			s.belowLowSince = time.Now()
			return
		}
		if time.Since(s.belowLowSince) < s.cfg.IdleTimeout {
			return
		}
		if err := s.pool.ScaleDown(); err != nil {
			s.log.Error("scaler: scale down failed", "error", err)
			return
		}
		s.belowLowSince = time.Time{}
		s.log.Info("scaler: scaled down", "workers", workers-1, "queue_depth", depth)
	default:
		s.belowLowSince = time.Time{}
	}
}
