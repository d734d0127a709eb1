package monitor

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type ProcessMetrics struct {
	CPUPercent     float64   `json:"cpu_percent"`
	RSSBytes       uint64    `json:"rss_bytes"`
	MemoryPercent  float32   `json:"memory_percent"`
	HeapAllocBytes uint64    `json:"heap_alloc_bytes"`
	ThreadCount    int32     `json:"thread_count"`
	Goroutines     int       `json:"goroutines"`
	Timestamp      time.Time `json:"timestamp"`
}

type ProcessSampler struct {
	proc *process.Process
}

func NewProcessSampler(pid int32) (*ProcessSampler, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}

	return &ProcessSampler{proc: proc}, nil
}

// Collect samples the process. Individual readings that fail on the current
// platform are left at zero.
func (s *ProcessSampler) Collect(ctx context.Context) (ProcessMetrics, error) {
	metrics := ProcessMetrics{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	metrics.HeapAllocBytes = ms.HeapAlloc

	if err := ctx.Err(); err != nil {
		return metrics, err
	}

	if cpuPercent, err := s.proc.CPUPercentWithContext(ctx); err == nil {
		metrics.CPUPercent = cpuPercent
	}
	if memInfo, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
		metrics.RSSBytes = memInfo.RSS
	}
	if memPercent, err := s.proc.MemoryPercentWithContext(ctx); err == nil {
		metrics.MemoryPercent = memPercent
	}
	if numThreads, err := s.proc.NumThreadsWithContext(ctx); err == nil {
		metrics.ThreadCount = numThreads
	}

	return metrics, nil
}
