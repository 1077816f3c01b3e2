// Package engine runs the behavioral detectors against an address history and
// aggregates their results into a risk assessment.
// Flow: cache → history fetch → detector selection → detection → aggregation
package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rawblock/pattern-engine/internal/heuristics"
	"github.com/rawblock/pattern-engine/internal/patterns"
	"github.com/rawblock/pattern-engine/pkg/models"
)

const (
	DefaultTimeRangeHours = 24.0
	DefaultMinConfidence  = 0.5
	DefaultCacheTTL       = 30 * time.Minute
	DefaultMaxConcurrent  = 10
	MaxBatchSize          = 1000
	HighRiskThreshold     = 0.7
)

// ResultSink receives every freshly computed analysis (not cache hits).
// Errors are logged and never fail the analysis.
type ResultSink interface {
	Consume(ctx context.Context, result models.PatternAnalysisResult) error
}

// AnalysisRequest describes one single-address analysis.
type AnalysisRequest struct {
	Address        string
	Blockchain     string
	PatternTypes   []models.PatternType // Empty means all
	MinSeverity    models.Severity      // Empty means no floor
	TimeRangeHours float64              // <= 0 means DefaultTimeRangeHours
	MinConfidence  float64              // Clamped to [0,1]
}

// Options for creating an Orchestrator.
type Options struct {
	// Required
	Library         *patterns.Library
	HistoryProvider HistoryProvider

	// Optional; defaults applied by New
	Detectors     []heuristics.Detector
	Cache         Cache
	Logger        *zap.Logger
	Recorder      Recorder
	Sinks         []ResultSink
	MaxConcurrent int
}

// Orchestrator coordinates detection for single addresses and batches. One
// instance owns its cache and metrics.
type Orchestrator struct {
	library   *patterns.Library
	provider  HistoryProvider
	detectors map[string]heuristics.Detector
	cache     Cache
	metrics   *runningMetrics
	recorder  Recorder
	sinks     []ResultSink
	logger    *zap.Logger

	maxConcurrent int
	now           func() time.Time
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Library == nil {
		opts.Library = patterns.NewLibrary()
	}
	if opts.Detectors == nil {
		opts.Detectors = heuristics.DefaultDetectors()
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache(DefaultCacheTTL)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}

	detectors := make(map[string]heuristics.Detector, len(opts.Detectors))
	for _, d := range opts.Detectors {
		detectors[d.ID()] = d
	}

	return &Orchestrator{
		library:       opts.Library,
		provider:      opts.HistoryProvider,
		detectors:     detectors,
		cache:         opts.Cache,
		metrics:       newRunningMetrics(),
		recorder:      opts.Recorder,
		sinks:         opts.Sinks,
		logger:        opts.Logger.Named("orchestrator"),
		maxConcurrent: opts.MaxConcurrent,
		now:           time.Now,
	}
}

// Library exposes the signature catalog for administrative endpoints.
func (o *Orchestrator) Library() *patterns.Library {
	return o.library
}

// AnalyzeAddress runs every eligible detector against the address history.
//
// A history fetch failure is returned as an error wrapping ErrHistoryFetch,
// alongside a result whose metadata carries the reason. Detector panics are
// recovered and skipped.
func (o *Orchestrator) AnalyzeAddress(ctx context.Context, req AnalysisRequest) (models.PatternAnalysisResult, error) {
	req = normalizeRequest(req)
	if req.Address == "" {
		return models.PatternAnalysisResult{}, ErrInvalidAddress
	}

	key := cacheKey(req)
	if cached, ok := o.cache.Get(key); ok {
		o.metrics.hit()
		o.recorder.CacheHit()
		o.logger.Debug("cache hit", zap.String("address", req.Address))
		return cached, nil
	}
	o.metrics.miss()
	o.recorder.CacheMiss()

	start := o.now()
	result := models.PatternAnalysisResult{
		AnalysisID:     uuid.NewString(),
		Address:        req.Address,
		Blockchain:     req.Blockchain,
		Patterns:       []models.PatternResult{},
		TimeRangeHours: req.TimeRangeHours,
		AnalysisStart:  start.Add(-time.Duration(req.TimeRangeHours * float64(time.Hour))).UTC(),
		AnalysisEnd:    start.UTC(),
		Metadata:       map[string]any{},
	}

	if o.provider == nil {
		return o.fail(result, start, ErrNoHistorySource)
	}
	txs, err := o.provider.GetTransactionHistory(ctx, req.Address, req.Blockchain, req.TimeRangeHours)
	if err != nil {
		return o.fail(result, start, err)
	}
	result.TotalTransactionsAnalyzed = len(txs)

	if len(txs) == 0 {
		result.Metadata["reason"] = "no_transactions"
		return o.complete(ctx, key, result, start, nil), nil
	}

	var detected []string
	evaluated := 0
	var faulted []string
	for _, sel := range o.selectDetectors(req) {
		evaluated++
		res, ok := o.runDetector(sel, txs, req)
		if !ok {
			faulted = append(faulted, sel.detector.ID())
			continue
		}
		if !res.Detected {
			continue
		}
		result.Patterns = append(result.Patterns, res)
		detected = append(detected, res.PatternID)
	}

	result.OverallRiskScore = OverallRiskScore(result.Patterns)
	result.Metadata["patterns_evaluated"] = evaluated
	if len(faulted) > 0 {
		result.Metadata["detector_faults"] = faulted
	}

	return o.complete(ctx, key, result, start, detected), nil
}

func (o *Orchestrator) fail(result models.PatternAnalysisResult, start time.Time, cause error) (models.PatternAnalysisResult, error) {
	o.metrics.failed()
	o.recorder.AnalysisFailed()
	o.logger.Warn("history fetch failed", zap.String("address", result.Address), zap.Error(cause))

	result.Metadata["error"] = cause.Error()
	result.ProcessingTimeMs = msSince(o.now(), start)
	return result, fmt.Errorf("%w: %s: %w", ErrHistoryFetch, result.Address, cause)
}

func (o *Orchestrator) complete(ctx context.Context, key string, result models.PatternAnalysisResult, start time.Time, detected []string) models.PatternAnalysisResult {
	elapsed := o.now().Sub(start)
	result.ProcessingTimeMs = float64(elapsed.Microseconds()) / 1000

	o.cache.Set(key, result)
	o.metrics.completed(result.ProcessingTimeMs, detected)
	o.recorder.AnalysisCompleted(elapsed, detected, result.OverallRiskScore)

	o.logger.Info("analysis complete",
		zap.String("address", result.Address),
		zap.String("blockchain", result.Blockchain),
		zap.Int("transactions", result.TotalTransactionsAnalyzed),
		zap.Int("detected", len(result.Patterns)),
		zap.Float64("risk_score", result.OverallRiskScore),
		zap.Duration("duration", elapsed))

	for _, sink := range o.sinks {
		if err := sink.Consume(ctx, result); err != nil {
			o.logger.Error("result sink failed", zap.String("analysis_id", result.AnalysisID), zap.Error(err))
		}
	}
	return result
}

// selection pairs a wired detector with the signature snapshot it runs under.
type selection struct {
	detector  heuristics.Detector
	signature models.PatternSignature
}

// selectDetectors returns the wired detectors whose signatures are enabled
// and pass the request filters, in library order.
func (o *Orchestrator) selectDetectors(req AnalysisRequest) []selection {
	var wanted map[models.PatternType]bool
	if len(req.PatternTypes) > 0 {
		wanted = make(map[models.PatternType]bool, len(req.PatternTypes))
		for _, t := range req.PatternTypes {
			wanted[t] = true
		}
	}

	var out []selection
	for _, id := range o.library.IDs() {
		sig, ok := o.library.Get(id)
		if !ok || !sig.Enabled || !o.library.Executable(id) {
			continue
		}
		d, wired := o.detectors[id]
		if !wired {
			continue
		}
		if wanted != nil && !wanted[sig.PatternType] {
			continue
		}
		if req.MinSeverity != "" && !sig.Severity.AtLeast(req.MinSeverity) {
			continue
		}
		out = append(out, selection{detector: d, signature: sig})
	}
	return out
}

// runDetector invokes one detector, converting a panic into ok=false. The
// signature's MinTransactions is checked before the detector sees the
// history.
func (o *Orchestrator) runDetector(sel selection, txs []models.Transaction, req AnalysisRequest) (res models.PatternResult, ok bool) {
	d := sel.detector
	if len(txs) < sel.signature.MinTransactions {
		empty := models.NewEmptyResult(d.ID(), d.Name(), heuristics.ReasonInsufficientTransactions)
		empty.Metadata["min_transactions"] = sel.signature.MinTransactions
		return empty, true
	}
	defer func() {
		if r := recover(); r != nil {
			o.metrics.fault(d.ID())
			o.recorder.DetectorFault(d.ID())
			o.logger.Error("detector panicked",
				zap.String("pattern_id", d.ID()),
				zap.String("address", req.Address),
				zap.Any("panic", r))
			res, ok = models.PatternResult{}, false
		}
	}()
	return d.Detect(txs, req.Address, req.MinConfidence), true
}

// OverallRiskScore is max(confidence × severity weight) over detected
// results, 0 when none.
func OverallRiskScore(results []models.PatternResult) float64 {
	risk := 0.0
	for _, r := range results {
		if !r.Detected {
			continue
		}
		risk = math.Max(risk, r.ConfidenceScore*r.Severity.Weight())
	}
	return math.Min(1, math.Max(0, risk))
}

// Metrics returns a snapshot of the running counters.
func (o *Orchestrator) Metrics() models.MetricsSnapshot {
	return o.metrics.snapshot(o.cache.Len())
}

// ClearCache drops every cached analysis.
func (o *Orchestrator) ClearCache() {
	o.cache.Clear()
	o.logger.Info("cache cleared")
}

func normalizeRequest(req AnalysisRequest) AnalysisRequest {
	req.Address = strings.TrimSpace(req.Address)
	req.Blockchain = strings.ToLower(strings.TrimSpace(req.Blockchain))
	if req.Blockchain == "" {
		req.Blockchain = "bitcoin"
	}
	if req.TimeRangeHours <= 0 {
		req.TimeRangeHours = DefaultTimeRangeHours
	}
	req.MinConfidence = math.Min(1, math.Max(0, req.MinConfidence))
	return req
}

// cacheKey folds every request parameter into one key. Pattern types are
// sorted so filter order does not split the cache.
func cacheKey(req AnalysisRequest) string {
	types := make([]string, len(req.PatternTypes))
	for i, t := range req.PatternTypes {
		types[i] = string(t)
	}
	sort.Strings(types)
	return fmt.Sprintf("%s|%s|%s|%s|%g|%g",
		req.Address, req.Blockchain, strings.Join(types, ","), req.MinSeverity, req.TimeRangeHours, req.MinConfidence)
}

func msSince(now, start time.Time) float64 {
	return float64(now.Sub(start).Microseconds()) / 1000
}
