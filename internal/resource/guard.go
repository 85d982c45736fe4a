// Package resource samples CPU/memory usage and rate-limits the broker
// loop's input-driven work. It never touches goroutine limits or
// connection admission: the broker's core loop has no goroutines and never
// refuses a TCP accept on resource grounds, it only rate-limits datagram
// ingestion and backlog drain, the two operations whose cost scales with
// external input.
package resource

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/time/rate"

	"github.com/adred/topicbroker/internal/logging"
	"github.com/adred/topicbroker/internal/metrics"
)

// Limits configures the guard's thresholds and rate limits.
type Limits struct {
	CPURejectThreshold float64
	CPUPauseThreshold  float64
	MaxDatagramsPerSec int
	MaxDrainPerSec     int
}

// Guard samples CPU/memory periodically and rate-limits the two
// broker-loop operations whose cost scales with external input:
// datagram ingestion and backlog-drain retransmits.
type Guard struct {
	limits Limits
	logger zerolog.Logger

	datagramLimiter *rate.Limiter
	drainLimiter    *rate.Limiter

	currentCPU atomic.Value // float64
}

// New builds a Guard from the given limits.
func New(limits Limits, logger zerolog.Logger) *Guard {
	g := &Guard{
		limits:          limits,
		logger:          logger,
		datagramLimiter: rate.NewLimiter(rate.Limit(limits.MaxDatagramsPerSec), limits.MaxDatagramsPerSec*2),
		drainLimiter:    rate.NewLimiter(rate.Limit(limits.MaxDrainPerSec), limits.MaxDrainPerSec*2),
	}
	g.currentCPU.Store(0.0)
	return g
}

// AllowDatagram reports whether a just-received datagram should be
// processed, per the ingestion rate limit.
func (g *Guard) AllowDatagram() bool {
	return g.datagramLimiter.Allow()
}

// AllowDrainSend reports whether the next backlog-drain send should proceed
// now, per the drain rate limit.
func (g *Guard) AllowDrainSend() bool {
	return g.drainLimiter.Allow()
}

// ShouldPauseIngestion reports whether CPU is high enough that the broker
// loop should skip optional work this iteration. Its only use is skipping
// the per-datagram registry metrics refresh; backlog drains ignore it.
func (g *Guard) ShouldPauseIngestion() bool {
	return g.currentCPU.Load().(float64) > g.limits.CPUPauseThreshold
}

// Sample refreshes CPU/memory readings and the corresponding gauges. Meant
// to be called periodically from a background goroutine, never from the
// core loop.
func (g *Guard) Sample() {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to sample cpu usage")
	} else if len(cpuPercent) > 0 {
		g.currentCPU.Store(cpuPercent[0])
		metrics.CPUUsagePercent.Set(cpuPercent[0])
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metrics.MemoryUsageBytes.Set(float64(mem.Alloc))

	g.logger.Debug().
		Float64("cpu_percent", g.currentCPU.Load().(float64)).
		Uint64("memory_bytes", mem.Alloc).
		Msg("resource sample")
}

// StartMonitoring samples on a fixed interval until ctx is cancelled. A
// panic in the sampler is recovered and logged; it stops monitoring but
// does not crash the broker.
func (g *Guard) StartMonitoring(ctx context.Context, interval time.Duration) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.LogPanic(g.logger, r, "resource monitor panicked")
			}
		}()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Sample()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// MemoryLimit returns the container memory limit in bytes, supporting
// both cgroup v1 and v2, falling back to 0 (no limit detected).
func MemoryLimit() (int64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			return strconv.ParseInt(limitStr, 10, 64)
		}
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		return strconv.ParseInt(limitStr, 10, 64)
	}

	return 0, nil
}
