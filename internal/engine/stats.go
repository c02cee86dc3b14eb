package engine

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	errspkg "github.com/drblury/procflow/internal/engine/errors"
	"github.com/drblury/procflow/internal/engine/jsoncodec"
)

const latencySampleSize = 256

// HandlerStats aggregates execution metrics for one registered handler
// across all instances dispatched by an engine.
type HandlerStats struct {
	mu sync.Mutex `json:"-"`

	handlerRef string `json:"-"`

	TasksDispatched  uint64    `json:"tasks_dispatched"`
	TasksFailed      uint64    `json:"tasks_failed"`
	TotalBusyTime    int64     `json:"total_busy_time_ns"`
	LastDispatchedAt time.Time `json:"last_dispatched_at"`

	Latency LatencyMetrics `json:"latency"`
	Errors  ErrorBreakdown `json:"errors"`

	latencyWindow *latencyWindow `json:"-"`
}

type HandlerInfo struct {
	Ref   string        `json:"ref"`
	Stats *HandlerStats `json:"stats"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ErrorBreakdown struct {
	Timeout   uint64 `json:"timeout"`
	Execution uint64 `json:"execution"`
	Cancelled uint64 `json:"cancelled"`
	Other     uint64 `json:"other"`
	LastError string `json:"last_error,omitempty"`
}

type errorCategory string

const (
	errorCategoryNone      errorCategory = "none"
	errorCategoryTimeout   errorCategory = "timeout"
	errorCategoryExecution errorCategory = "execution"
	errorCategoryCancelled errorCategory = "cancelled"
	errorCategoryOther     errorCategory = "other"
)

func newHandlerStats(ref string) *HandlerStats {
	return &HandlerStats{
		handlerRef:    ref,
		latencyWindow: newLatencyWindow(latencySampleSize),
	}
}

// recordDispatch folds one finished task execution into the stats.
func (h *HandlerStats) recordDispatch(duration time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.TasksDispatched++
	if err != nil {
		h.TasksFailed++
	}
	h.TotalBusyTime += int64(duration)
	h.LastDispatchedAt = time.Now().UTC()

	if h.latencyWindow != nil {
		h.latencyWindow.Add(duration)
		snapshot := h.latencyWindow.Snapshot()
		snapshot.LastNs = int64(duration)
		if h.TasksDispatched > 0 {
			snapshot.AverageNs = h.TotalBusyTime / int64(h.TasksDispatched)
		}
		h.Latency = snapshot
	}

	h.Errors.Record(classifyTaskError(err), err)
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type Alias HandlerStats
	return jsoncodec.Marshal((*Alias)(h))
}

func (e *ErrorBreakdown) Record(category errorCategory, err error) {
	switch category {
	case errorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case errorCategoryTimeout:
		e.Timeout++
	case errorCategoryExecution:
		e.Execution++
	case errorCategoryCancelled:
		e.Cancelled++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

func classifyTaskError(err error) errorCategory {
	if err == nil {
		return errorCategoryNone
	}
	var timeout *errspkg.TimeoutError
	if errors.As(err, &timeout) {
		return errorCategoryTimeout
	}
	var exec *errspkg.HandlerExecutionError
	if errors.As(err, &exec) {
		return errorCategoryExecution
	}
	if errors.Is(err, errspkg.ErrCancelled) || errors.Is(err, context.Canceled) {
		return errorCategoryCancelled
	}
	return errorCategoryOther
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil {
		return metrics
	}
	if lw.filled == 0 {
		metrics.LastNs = lw.last
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}
