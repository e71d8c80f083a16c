package scheduler

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/slatehq/slate/errors"
	"github.com/slatehq/slate/studio/calendar"
	"github.com/slatehq/slate/studio/jobs"
)

// Statistics is the operational snapshot served by /api/statistics.
type Statistics struct {
	TotalJobs    int                         `json:"total_jobs"`
	ActiveJobs   int                         `json:"active_jobs"`
	StatusCounts map[jobs.Status]int         `json:"status_counts"`
	Totals       Totals                      `json:"totals"`
	Executor     ExecutorStats               `json:"executor"`
	Slots        map[calendar.SlotStatus]int `json:"slots"`
	System       SystemStats                 `json:"system"`

	SchedulerRunning bool      `json:"scheduler_running"`
	StartedAt        time.Time `json:"started_at"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
}

// Totals accumulates terminal outcomes.
type Totals struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// ExecutorStats reports executor occupancy.
type ExecutorStats struct {
	Active   int `json:"active"`
	Queued   int `json:"queued"`
	Capacity int `json:"capacity"`
}

// SystemStats carries process and host resource figures.
type SystemStats struct {
	Goroutines      int     `json:"goroutines"`
	ProcessMemoryMB float64 `json:"process_memory_mb"`
	SystemMemoryPct float64 `json:"system_memory_pct"`
}

// Statistics assembles the current snapshot. Host memory figures degrade to
// zero when the platform probe fails; everything else is authoritative.
func (s *Scheduler) Statistics() (*Statistics, error) {
	counts, err := s.queue.Counts()
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	stats := &Statistics{
		TotalJobs:    total,
		ActiveJobs:   s.exec.ActiveCount(),
		StatusCounts: counts,
		Totals: Totals{
			Completed: counts[jobs.StatusCompleted],
			Failed:    counts[jobs.StatusFailed],
			Cancelled: counts[jobs.StatusCancelled],
		},
		Executor: ExecutorStats{
			Active:   s.exec.ActiveCount(),
			Queued:   s.exec.QueuedCount(),
			Capacity: s.exec.Capacity(),
		},
		Slots:            s.cal.SlotCounts(),
		System:           systemStats(),
		SchedulerRunning: s.running.Load(),
		StartedAt:        s.startedAt,
	}
	if !s.startedAt.IsZero() {
		stats.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}
	return stats, nil
}

func systemStats() SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := SystemStats{
		Goroutines:      runtime.NumGoroutine(),
		ProcessMemoryMB: float64(memStats.Alloc) / (1024 * 1024),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.SystemMemoryPct = vm.UsedPercent
	}
	return stats
}
