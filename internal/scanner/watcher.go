// Package scanner keeps a watch list of addresses under continuous analysis.
package scanner

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/pattern-engine/internal/engine"
	"github.com/rawblock/pattern-engine/pkg/models"
)

var ErrScanInProgress = errors.New("watch scan already in progress")

// Analyzer runs batch analyses. *engine.Orchestrator satisfies it.
type Analyzer interface {
	BatchAnalyze(ctx context.Context, req engine.BatchRequest) (models.BatchAnalysisResult, error)
}

// Options for creating a Watcher.
type Options struct {
	Interval      time.Duration // <= 0 disables the periodic loop
	Blockchain    string
	MinConfidence float64
	Logger        *zap.Logger
}

// Watcher re-analyzes every watched address once per interval. Analyses go
// through the orchestrator, so results within the cache TTL are served from
// cache and only fresh analyses reach the result sinks.
type Watcher struct {
	analyzer Analyzer
	opts     Options
	logger   *zap.Logger

	mu      sync.RWMutex
	watched map[string]struct{}

	// Progress tracking (atomic for safe concurrent reads)
	isRunning     atomic.Bool
	passes        atomic.Int64
	totalAnalyzed atomic.Int64
	totalFailed   atomic.Int64
	totalHighRisk atomic.Int64
	lastPassUnix  atomic.Int64
}

// Progress represents the watcher's current state for the API
type Progress struct {
	IsRunning     bool       `json:"is_running"`
	Watched       int        `json:"watched"`
	Passes        int64      `json:"passes"`
	TotalAnalyzed int64      `json:"total_analyzed"`
	TotalFailed   int64      `json:"total_failed"`
	TotalHighRisk int64      `json:"total_high_risk"`
	LastPass      *time.Time `json:"last_pass,omitempty"`
}

func NewWatcher(analyzer Analyzer, opts Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = engine.DefaultMinConfidence
	}
	return &Watcher{
		analyzer: analyzer,
		opts:     opts,
		logger:   opts.Logger.Named("watcher"),
		watched:  make(map[string]struct{}),
	}
}

// Add watches the given addresses and returns how many were new.
func (w *Watcher) Add(addresses ...string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	added := 0
	for _, a := range addresses {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := w.watched[a]; !ok {
			w.watched[a] = struct{}{}
			added++
		}
	}
	return added
}

// Remove stops watching address.
func (w *Watcher) Remove(address string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[address]; !ok {
		return false
	}
	delete(w.watched, address)
	return true
}

// Addresses returns the watch list sorted.
func (w *Watcher) Addresses() []string {
	w.mu.RLock()
	out := make([]string, 0, len(w.watched))
	for a := range w.watched {
		out = append(out, a)
	}
	w.mu.RUnlock()
	sort.Strings(out)
	return out
}

// GetProgress returns the current scanning progress (thread-safe)
func (w *Watcher) GetProgress() Progress {
	p := Progress{
		IsRunning:     w.isRunning.Load(),
		Watched:       len(w.Addresses()),
		Passes:        w.passes.Load(),
		TotalAnalyzed: w.totalAnalyzed.Load(),
		TotalFailed:   w.totalFailed.Load(),
		TotalHighRisk: w.totalHighRisk.Load(),
	}
	if ts := w.lastPassUnix.Load(); ts > 0 {
		t := time.Unix(ts, 0).UTC()
		p.LastPass = &t
	}
	return p
}

// Run scans on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	if w.opts.Interval <= 0 {
		w.logger.Info("periodic watch disabled")
		return
	}
	w.logger.Info("starting watcher", zap.Duration("interval", w.opts.Interval))

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping watcher")
			return
		case <-ticker.C:
			if err := w.ScanOnce(ctx); err != nil && !errors.Is(err, ErrScanInProgress) {
				w.logger.Warn("watch pass failed", zap.Error(err))
			}
		}
	}
}

// ScanOnce analyzes every watched address, in chunks of at most
// engine.MaxBatchSize. Only one pass runs at a time.
func (w *Watcher) ScanOnce(ctx context.Context) error {
	if !w.isRunning.CompareAndSwap(false, true) {
		return ErrScanInProgress
	}
	defer w.isRunning.Store(false)

	addresses := w.Addresses()
	if len(addresses) == 0 {
		return nil
	}

	start := time.Now()
	var analyzed, failed, highRisk int
	for from := 0; from < len(addresses); from += engine.MaxBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		to := min(from+engine.MaxBatchSize, len(addresses))

		out, err := w.analyzer.BatchAnalyze(ctx, engine.BatchRequest{
			Addresses:     addresses[from:to],
			Blockchain:    w.opts.Blockchain,
			MinConfidence: w.opts.MinConfidence,
		})
		if err != nil {
			return err
		}
		analyzed += out.SuccessfulAnalyses
		failed += out.FailedAnalyses
		highRisk += out.HighRiskAddresses
	}

	w.passes.Add(1)
	w.totalAnalyzed.Add(int64(analyzed))
	w.totalFailed.Add(int64(failed))
	w.totalHighRisk.Add(int64(highRisk))
	w.lastPassUnix.Store(time.Now().Unix())

	w.logger.Info("watch pass complete",
		zap.Int("addresses", len(addresses)),
		zap.Int("analyzed", analyzed),
		zap.Int("failed", failed),
		zap.Int("high_risk", highRisk),
		zap.Duration("duration", time.Since(start)))
	return nil
}
