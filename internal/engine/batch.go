package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rawblock/pattern-engine/pkg/models"
)

// BatchRequest applies the same filters to every address.
type BatchRequest struct {
	Addresses      []string
	Blockchain     string
	PatternTypes   []models.PatternType
	MinSeverity    models.Severity
	TimeRangeHours float64
	MinConfidence  float64
	MaxConcurrent  int // <= 0 uses the orchestrator default
}

// BatchAnalyze analyzes every address with at most MaxConcurrent analyses in
// flight. A failing address lands in Failed and never aborts the batch.
// Duplicate addresses are analyzed once.
func (o *Orchestrator) BatchAnalyze(ctx context.Context, req BatchRequest) (models.BatchAnalysisResult, error) {
	addresses := dedupe(req.Addresses)
	if len(addresses) == 0 {
		return models.BatchAnalysisResult{}, ErrEmptyBatch
	}
	if len(addresses) > MaxBatchSize {
		return models.BatchAnalysisResult{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(addresses), MaxBatchSize)
	}

	limit := req.MaxConcurrent
	if limit <= 0 {
		limit = o.maxConcurrent
	}

	start := o.now()
	out := models.BatchAnalysisResult{
		Results: make(map[string]models.PatternAnalysisResult, len(addresses)),
		Failed:  make(map[string]string),
	}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(limit)
	for _, addr := range addresses {
		addr := addr
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				out.Failed[addr] = err.Error()
				mu.Unlock()
				return nil
			}
			res, err := o.AnalyzeAddress(ctx, AnalysisRequest{
				Address:        addr,
				Blockchain:     req.Blockchain,
				PatternTypes:   req.PatternTypes,
				MinSeverity:    req.MinSeverity,
				TimeRangeHours: req.TimeRangeHours,
				MinConfidence:  req.MinConfidence,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failed[addr] = err.Error()
				return nil
			}
			out.Results[addr] = res
			return nil
		})
	}
	// Workers never return errors; failures are collected per address.
	_ = g.Wait()

	out.SuccessfulAnalyses = len(out.Results)
	out.FailedAnalyses = len(out.Failed)
	for _, res := range out.Results {
		out.TotalPatternsDetected += len(res.Patterns)
		if res.OverallRiskScore >= HighRiskThreshold {
			out.HighRiskAddresses++
		}
	}
	out.ProcessingTimeMs = msSince(o.now(), start)

	o.logger.Info("batch complete",
		zap.Int("addresses", len(addresses)),
		zap.Int("successful", out.SuccessfulAnalyses),
		zap.Int("failed", out.FailedAnalyses),
		zap.Int("high_risk", out.HighRiskAddresses),
		zap.Duration("duration", time.Duration(out.ProcessingTimeMs*float64(time.Millisecond))))

	return out, nil
}

func dedupe(addresses []string) []string {
	seen := make(map[string]bool, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
