package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	optimizationStartedTotal   atomic.Uint64
	optimizationCompletedTotal atomic.Uint64
	optimizationFailedTotal    atomic.Uint64

	gatePassTotal    atomic.Uint64
	gateFailTotal    atomic.Uint64
	gateForcedTotal  atomic.Uint64
	gateBlockedTotal atomic.Uint64

	continuationMintedTotal  atomic.Uint64
	continuationResumedTotal atomic.Uint64

	streamEventsEmittedTotal atomic.Uint64

	workerJobsReceivedTotal             atomic.Uint64
	workerJobsCompletedTotal            atomic.Uint64
	workerJobsFailedTotal               atomic.Uint64
	workerJobsDeletedUnrecoverableTotal atomic.Uint64

	optimizationDuration = newHistogram([]float64{500, 1000, 2000, 5000, 10000, 30000, 60000, 120000, 300000})
	optimizationRounds   = newHistogram([]float64{1, 2, 3, 4, 5})
)

// IncOptimizationStarted increments the started counter.
func IncOptimizationStarted() {
	optimizationStartedTotal.Add(1)
}

// IncOptimizationCompleted increments the completed counter.
func IncOptimizationCompleted() {
	optimizationCompletedTotal.Add(1)
}

// IncOptimizationFailed increments the failed counter.
func IncOptimizationFailed() {
	optimizationFailedTotal.Add(1)
}

// IncGatePass counts a gatekeeper pass verdict.
func IncGatePass() {
	gatePassTotal.Add(1)
}

// IncGateFail counts a gatekeeper fail verdict that loops another round.
func IncGateFail() {
	gateFailTotal.Add(1)
}

// IncGateForced counts a forced pass-through at the round ceiling.
func IncGateForced() {
	gateForcedTotal.Add(1)
}

// IncGateBlocked counts a session-fatal gate verdict.
func IncGateBlocked() {
	gateBlockedTotal.Add(1)
}

// IncContinuationMinted counts a pause token minted.
func IncContinuationMinted() {
	continuationMintedTotal.Add(1)
}

// IncContinuationResumed counts a pause token consumed by a resume.
func IncContinuationResumed() {
	continuationResumedTotal.Add(1)
}

// IncStreamEventEmitted counts one protocol frame written to a client.
func IncStreamEventEmitted() {
	streamEventsEmittedTotal.Add(1)
}

// IncWorkerJobsReceived counts a queue message picked up by the worker.
func IncWorkerJobsReceived() {
	workerJobsReceivedTotal.Add(1)
}

// IncWorkerJobsCompleted counts a queue job finished and deleted.
func IncWorkerJobsCompleted() {
	workerJobsCompletedTotal.Add(1)
}

// IncWorkerJobsFailed counts a queue job that errored and will be retried.
func IncWorkerJobsFailed() {
	workerJobsFailedTotal.Add(1)
}

// IncWorkerJobsDeletedUnrecoverable counts a malformed queue message
// deleted without processing.
func IncWorkerJobsDeletedUnrecoverable() {
	workerJobsDeletedUnrecoverableTotal.Add(1)
}

// ObserveOptimizationDuration records how long a session ran, start to
// terminal event, in milliseconds.
func ObserveOptimizationDuration(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	optimizationDuration.Observe(ms)
}

// ObserveOptimizationRounds records how many writer/critic rounds a
// completed session took.
func ObserveOptimizationRounds(rounds int) {
	if rounds < 0 {
		rounds = 0
	}
	optimizationRounds.Observe(float64(rounds))
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "optimization_started_total", "Total optimization sessions started", optimizationStartedTotal.Load())
	writeCounter(&buf, "optimization_completed_total", "Total optimization sessions completed", optimizationCompletedTotal.Load())
	writeCounter(&buf, "optimization_failed_total", "Total optimization sessions failed", optimizationFailedTotal.Load())
	writeCounter(&buf, "gate_pass_total", "Total gatekeeper pass verdicts", gatePassTotal.Load())
	writeCounter(&buf, "gate_fail_total", "Total gatekeeper fail verdicts", gateFailTotal.Load())
	writeCounter(&buf, "gate_forced_total", "Total forced gate pass-throughs", gateForcedTotal.Load())
	writeCounter(&buf, "gate_blocked_total", "Total session-fatal gate verdicts", gateBlockedTotal.Load())
	writeCounter(&buf, "continuation_minted_total", "Total continuation tokens minted", continuationMintedTotal.Load())
	writeCounter(&buf, "continuation_resumed_total", "Total continuation tokens consumed", continuationResumedTotal.Load())
	writeCounter(&buf, "stream_events_emitted_total", "Total protocol frames written to clients", streamEventsEmittedTotal.Load())
	writeCounter(&buf, "worker_jobs_received_total", "Total queue messages received by the worker", workerJobsReceivedTotal.Load())
	writeCounter(&buf, "worker_jobs_completed_total", "Total queue jobs completed", workerJobsCompletedTotal.Load())
	writeCounter(&buf, "worker_jobs_failed_total", "Total queue jobs failed", workerJobsFailedTotal.Load())
	writeCounter(&buf, "worker_jobs_deleted_unrecoverable_total", "Total malformed queue messages deleted", workerJobsDeletedUnrecoverableTotal.Load())
	writeHistogram(&buf, "optimization_duration_ms", "Session duration in milliseconds", optimizationDuration.Snapshot())
	writeHistogram(&buf, "optimization_rounds", "Writer/critic rounds per completed session", optimizationRounds.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// NowMillis returns current time in milliseconds, useful for callers without time utilities.
func NowMillis() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
