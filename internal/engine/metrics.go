package engine

import (
	"sync"
	"time"

	"github.com/rawblock/pattern-engine/pkg/models"
)

// Recorder receives orchestrator events for an external metrics backend.
type Recorder interface {
	AnalysisCompleted(duration time.Duration, detected []string, riskScore float64)
	AnalysisFailed()
	CacheHit()
	CacheMiss()
	DetectorFault(patternID string)
}

type nopRecorder struct{}

func (nopRecorder) AnalysisCompleted(time.Duration, []string, float64) {}
func (nopRecorder) AnalysisFailed()                                    {}
func (nopRecorder) CacheHit()                                          {}
func (nopRecorder) CacheMiss()                                         {}
func (nopRecorder) DetectorFault(string)                               {}

// runningMetrics are the in-process counters behind Metrics().
type runningMetrics struct {
	mu sync.Mutex

	totalAnalyses  int64
	failedAnalyses int64
	cacheHits      int64
	cacheMisses    int64
	avgProcessing  float64 // ms, incremental mean over fresh analyses
	detections     map[string]int64
	faults         map[string]int64
}

func newRunningMetrics() *runningMetrics {
	return &runningMetrics{
		detections: make(map[string]int64),
		faults:     make(map[string]int64),
	}
}

func (m *runningMetrics) hit() {
	m.mu.Lock()
	m.cacheHits++
	m.mu.Unlock()
}

func (m *runningMetrics) miss() {
	m.mu.Lock()
	m.cacheMisses++
	m.mu.Unlock()
}

func (m *runningMetrics) failed() {
	m.mu.Lock()
	m.failedAnalyses++
	m.mu.Unlock()
}

func (m *runningMetrics) fault(patternID string) {
	m.mu.Lock()
	m.faults[patternID]++
	m.mu.Unlock()
}

func (m *runningMetrics) completed(processingMs float64, detected []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalAnalyses++
	m.avgProcessing += (processingMs - m.avgProcessing) / float64(m.totalAnalyses)
	for _, id := range detected {
		m.detections[id]++
	}
}

func (m *runningMetrics) snapshot(cacheSize int) models.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := models.MetricsSnapshot{
		TotalAnalyses:       m.totalAnalyses,
		FailedAnalyses:      m.failedAnalyses,
		CacheHits:           m.cacheHits,
		CacheMisses:         m.cacheMisses,
		AvgProcessingTimeMs: m.avgProcessing,
		DetectionsByPattern: make(map[string]int64, len(m.detections)),
		DetectorFaults:      make(map[string]int64, len(m.faults)),
		CacheSize:           cacheSize,
	}
	if lookups := m.cacheHits + m.cacheMisses; lookups > 0 {
		snap.CacheHitRate = float64(m.cacheHits) / float64(lookups)
	}
	for k, v := range m.detections {
		snap.DetectionsByPattern[k] = v
	}
	for k, v := range m.faults {
		snap.DetectorFaults[k] = v
	}
	return snap
}
