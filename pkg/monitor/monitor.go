// Package monitor tracks tensor and process memory usage on the client and
// decides when cleanup is required.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
)

const (
	DefaultMaxTensors = 5000
	DefaultMaxBytes   = 512 << 20
)

type Snapshot struct {
	LiveTensorCount   int             `json:"live_tensor_count"`
	LiveBytes         int64           `json:"live_bytes"`
	PinnedTensorCount int             `json:"pinned_tensor_count"`
	Process           *ProcessMetrics `json:"process,omitempty"`
}

type Thresholds struct {
	MaxTensors  int    `env:"MAX_TENSORS"   envDefault:"5000"      toml:"max_tensors"`
	MaxBytes    int64  `env:"MAX_BYTES"     envDefault:"536870912" toml:"max_bytes"`
	MaxRSSBytes uint64 `env:"MAX_RSS_BYTES" envDefault:"0"         toml:"max_rss_bytes"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxTensors: DefaultMaxTensors,
		MaxBytes:   DefaultMaxBytes,
	}
}

type Health struct {
	Healthy  bool     `json:"healthy"`
	Warnings []string `json:"warnings,omitempty"`
}

// Err returns nil for a healthy result and otherwise an error matching
// pkg/errors.ErrResourceExhaustion.
func (h Health) Err() error {
	if h.Healthy {
		return nil
	}

	errs := []error{pkgerrors.ErrResourceExhaustion}
	for _, w := range h.Warnings {
		errs = append(errs, errors.New(w))
	}

	return errors.Join(errs...)
}

// IsHealthy compares a snapshot with thresholds. Exceeding a limit yields
// a warning; zero limits are ignored.
func IsHealthy(s Snapshot, th Thresholds) Health {
	h := Health{Healthy: true}
	if th.MaxTensors > 0 && s.LiveTensorCount > th.MaxTensors {
		h.Warnings = append(h.Warnings, fmt.Sprintf("live tensor count %d exceeds %d", s.LiveTensorCount, th.MaxTensors))
	}
	if th.MaxBytes > 0 && s.LiveBytes > th.MaxBytes {
		h.Warnings = append(h.Warnings, fmt.Sprintf("live tensor bytes %d exceed %d", s.LiveBytes, th.MaxBytes))
	}
	if th.MaxRSSBytes > 0 && s.Process != nil && s.Process.RSSBytes > th.MaxRSSBytes {
		h.Warnings = append(h.Warnings, fmt.Sprintf("process rss %d exceeds %d", s.Process.RSSBytes, th.MaxRSSBytes))
	}
	h.Healthy = len(h.Warnings) == 0

	return h
}

type Monitor struct {
	tracker *Tracker
	sampler *ProcessSampler
	logger  *slog.Logger

	mu     sync.RWMutex
	latest *ProcessMetrics
}

// New returns a monitor over tracker. sampler may be nil, in which case
// snapshots carry tensor counts only.
func New(tracker *Tracker, sampler *ProcessSampler, logger *slog.Logger) *Monitor {
	return &Monitor{
		tracker: tracker,
		sampler: sampler,
		logger:  logger,
	}
}

func (m *Monitor) Tracker() *Tracker {
	return m.tracker
}

func (m *Monitor) Snapshot() Snapshot {
	count, pinned, bytes := m.tracker.Counts()
	s := Snapshot{
		LiveTensorCount:   count,
		LiveBytes:         bytes,
		PinnedTensorCount: pinned,
	}

	m.mu.RLock()
	if m.latest != nil {
		latest := *m.latest
		s.Process = &latest
	}
	m.mu.RUnlock()

	return s
}

// Check takes a snapshot, evaluates it and forces a cleanup when any
// threshold is exceeded. The returned health reflects the state before
// cleanup.
func (m *Monitor) Check(stage string, th Thresholds) Health {
	s := m.Snapshot()
	h := IsHealthy(s, th)
	if h.Healthy {
		m.logger.Debug("Resource check passed",
			slog.String("stage", stage),
			slog.Int("live_tensors", s.LiveTensorCount),
			slog.Int64("live_bytes", s.LiveBytes),
		)

		return h
	}

	m.logger.Warn("Resource thresholds exceeded, forcing cleanup",
		slog.String("stage", stage),
		slog.Any("warnings", h.Warnings),
	)
	m.Cleanup()

	return h
}

// Cleanup releases every unpinned tracked tensor. It is safe to call at
// any time, any number of times.
func (m *Monitor) Cleanup() (released int) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Recovered from panic during cleanup", slog.Any("panic", r))
		}
	}()

	released = m.tracker.releaseUnpinned()
	if released > 0 {
		runtime.GC()
		m.logger.Debug("Released intermediate tensors", slog.Int("count", released))
	}

	return released
}

// Run samples process metrics every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if m.sampler == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Resource sampler stopped by context")

			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	metrics, err := m.sampler.Collect(ctx)
	if err != nil {
		m.logger.Warn("Failed to collect process metrics", slog.Any("error", err))

		return
	}

	m.mu.Lock()
	m.latest = &metrics
	m.mu.Unlock()

	m.logger.Debug("Collected process metrics",
		slog.Float64("cpu_percent", metrics.CPUPercent),
		slog.Uint64("rss_bytes", metrics.RSSBytes),
	)
}
