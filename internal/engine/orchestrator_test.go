package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/rawblock/pattern-engine/internal/engine"
	"github.com/rawblock/pattern-engine/internal/engine/mocks"
	"github.com/rawblock/pattern-engine/internal/heuristics"
	"github.com/rawblock/pattern-engine/internal/patterns"
	"github.com/rawblock/pattern-engine/pkg/models"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// providerFunc adapts a function to engine.HistoryProvider.
type providerFunc func(ctx context.Context, address, blockchain string, hours float64) ([]models.Transaction, error)

func (f providerFunc) GetTransactionHistory(ctx context.Context, address, blockchain string, hours float64) ([]models.Transaction, error) {
	return f(ctx, address, blockchain, hours)
}

func peelHistory(address string) []models.Transaction {
	amounts := []float64{1.0, 0.5, 0.25, 0.125}
	txs := make([]models.Transaction, len(amounts))
	for i, a := range amounts {
		txs[i] = models.Transaction{
			Hash:       fmt.Sprintf("%s-peel-%d", address, i),
			Address:    address,
			Amount:     a,
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			Sender:     address,
			Recipient:  fmt.Sprintf("r%d", i),
			Blockchain: "bitcoin",
		}
	}
	return txs
}

func mixedHistory(address string) []models.Transaction {
	txs := peelHistory(address)
	for i, a := range []float64{1.0, 5.0, 10.0, 0.5, 1.01, 3.3} {
		txs = append(txs, models.Transaction{
			Hash:      fmt.Sprintf("%s-mixed-%d", address, i),
			Address:   address,
			Amount:    a,
			Timestamp: base.Add(time.Duration(10+i*7) * time.Hour),
			Sender:    fmt.Sprintf("s%d", i),
			Recipient: address,
		})
	}
	return txs
}

func newOrchestrator(provider engine.HistoryProvider) *engine.Orchestrator {
	return engine.New(engine.Options{
		Library:         patterns.NewLibrary(),
		HistoryProvider: provider,
		Logger:          zap.NewNop(),
	})
}

func TestAnalyzeAddress_DetectsPeelingChain(t *testing.T) {
	o := newOrchestrator(providerFunc(func(_ context.Context, address, _ string, _ float64) ([]models.Transaction, error) {
		return peelHistory(address), nil
	}))

	res, err := o.AnalyzeAddress(context.Background(), engine.AnalysisRequest{
		Address:       "wallet",
		Blockchain:    "bitcoin",
		MinConfidence: 0.5,
	})
	require.NoError(t, err)

	peel, ok := res.Pattern(patterns.IDPeelingChain)
	require.True(t, ok)
	assert.True(t, peel.Detected)
	assert.Equal(t, 4, res.TotalTransactionsAnalyzed)
	assert.Equal(t, 24.0, res.TimeRangeHours)
	assert.NotEmpty(t, res.AnalysisID)
	assert.InDelta(t, peel.ConfidenceScore*models.SeverityHigh.Weight(), res.OverallRiskScore, 1e-9)
	for _, p := range res.Patterns {
		assert.True(t, p.Detected)
	}
}

func TestAnalyzeAddress_IdempotentWithinTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider := mocks.NewMockHistoryProvider(ctrl)
	provider.EXPECT().
		GetTransactionHistory(gomock.Any(), "wallet", "bitcoin", 48.0).
		Return(peelHistory("wallet"), nil).
		Times(1)

	o := newOrchestrator(provider)
	req := engine.AnalysisRequest{Address: "wallet", Blockchain: "bitcoin", TimeRangeHours: 48, MinConfidence: 0.5}

	first, err := o.AnalyzeAddress(context.Background(), req)
	require.NoError(t, err)
	second, err := o.AnalyzeAddress(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	m := o.Metrics()
	assert.Equal(t, int64(1), m.CacheHits)
	assert.Equal(t, int64(1), m.CacheMisses)
	assert.Equal(t, 0.5, m.CacheHitRate)
	assert.Equal(t, int64(1), m.TotalAnalyses)
	assert.Equal(t, int64(1), m.DetectionsByPattern[patterns.IDPeelingChain])
	assert.Equal(t, 1, m.CacheSize)
}

func TestAnalyzeAddress_CallerOwnsReturnedResult(t *testing.T) {
	o := newOrchestrator(providerFunc(func(_ context.Context, address, _ string, _ float64) ([]models.Transaction, error) {
		return peelHistory(address), nil
	}))
	req := engine.AnalysisRequest{Address: "wallet", MinConfidence: 0.5}

	first, err := o.AnalyzeAddress(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, first.Patterns)
	want := first.Patterns[0].ConfidenceScore

	first.Patterns[0].ConfidenceScore = 0
	first.Patterns[0].Metadata["edited"] = true
	first.Patterns[0].IndicatorsMet[0] = "edited"
	first.Metadata["edited"] = true

	again, err := o.AnalyzeAddress(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.Metrics().CacheHits)
	assert.Equal(t, want, again.Patterns[0].ConfidenceScore)
	assert.NotContains(t, again.Patterns[0].Metadata, "edited")
	assert.NotEqual(t, "edited", again.Patterns[0].IndicatorsMet[0])
	assert.NotContains(t, again.Metadata, "edited")
}

func TestAnalyzeAddress_SignatureMinTransactions(t *testing.T) {
	o := newOrchestrator(providerFunc(func(_ context.Context, address, _ string, _ float64) ([]models.Transaction, error) {
		return peelHistory(address), nil
	}))
	req := engine.AnalysisRequest{Address: "wallet", MinConfidence: 0.5}

	res, err := o.AnalyzeAddress(context.Background(), req)
	require.NoError(t, err)
	_, ok := res.Pattern(patterns.IDPeelingChain)
	require.True(t, ok)

	minTx := 50
	require.True(t, o.Library().Update(patterns.IDPeelingChain, patterns.SignatureUpdate{MinTransactions: &minTx}))
	o.ClearCache()

	res, err = o.AnalyzeAddress(context.Background(), req)
	require.NoError(t, err)
	_, ok = res.Pattern(patterns.IDPeelingChain)
	assert.False(t, ok, "4 transfers are below the updated minimum of 50")
}

func TestAnalyzeAddress_ClearCacheForcesRefetch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider := mocks.NewMockHistoryProvider(ctrl)
	provider.EXPECT().
		GetTransactionHistory(gomock.Any(), "wallet", gomock.Any(), gomock.Any()).
		Return(peelHistory("wallet"), nil).
		Times(2)

	o := newOrchestrator(provider)
	req := engine.AnalysisRequest{Address: "wallet", MinConfidence: 0.5}

	_, err := o.AnalyzeAddress(context.Background(), req)
	require.NoError(t, err)
	o.ClearCache()
	assert.Equal(t, 0, o.Metrics().CacheSize)
	_, err = o.AnalyzeAddress(context.Background(), req)
	require.NoError(t, err)
}

func TestAnalyzeAddress_EmptyHistory(t *testing.T) {
	o := newOrchestrator(providerFunc(func(context.Context, string, string, float64) ([]models.Transaction, error) {
		return nil, nil
	}))

	res, err := o.AnalyzeAddress(context.Background(), engine.AnalysisRequest{Address: "quiet", MinConfidence: 0.5})
	require.NoError(t, err)
	assert.Empty(t, res.Patterns)
	assert.NotNil(t, res.Patterns)
	assert.Equal(t, 0.0, res.OverallRiskScore)
	assert.Equal(t, "no_transactions", res.Metadata["reason"])
}

func TestAnalyzeAddress_FetchFailure(t *testing.T) {
	boom := errors.New("node unreachable")
	o := newOrchestrator(providerFunc(func(context.Context, string, string, float64) ([]models.Transaction, error) {
		return nil, boom
	}))

	res, err := o.AnalyzeAddress(context.Background(), engine.AnalysisRequest{Address: "wallet"})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrHistoryFetch)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "node unreachable", res.Metadata["error"])
	assert.Equal(t, int64(1), o.Metrics().FailedAnalyses)

	_, err = o.AnalyzeAddress(context.Background(), engine.AnalysisRequest{Address: "  "})
	assert.ErrorIs(t, err, engine.ErrInvalidAddress)
}

type panickingDetector struct{ id string }

func (p panickingDetector) ID() string                      { return p.id }
func (p panickingDetector) Name() string                    { return "Broken" }
func (p panickingDetector) PatternType() models.PatternType { return models.PatternPeelingChain }
func (p panickingDetector) Detect([]models.Transaction, string, float64) models.PatternResult {
	var m map[string]int
	m["boom"]++
	return models.PatternResult{}
}

func TestAnalyzeAddress_DetectorPanicIsIsolated(t *testing.T) {
	o := engine.New(engine.Options{
		Library: patterns.NewLibrary(),
		HistoryProvider: providerFunc(func(_ context.Context, address, _ string, _ float64) ([]models.Transaction, error) {
			return mixedHistory(address), nil
		}),
		Detectors: []heuristics.Detector{
			panickingDetector{id: patterns.IDPeelingChain},
			heuristics.NewRoundAmountDetector(heuristics.DefaultRoundAmountConfig()),
		},
		Logger: zap.NewNop(),
	})

	res, err := o.AnalyzeAddress(context.Background(), engine.AnalysisRequest{Address: "wallet", MinConfidence: 0.3})
	require.NoError(t, err)

	_, ok := res.Pattern(patterns.IDRoundAmountPatterns)
	assert.True(t, ok)
	_, ok = res.Pattern(patterns.IDPeelingChain)
	assert.False(t, ok)
	assert.Equal(t, []string{patterns.IDPeelingChain}, res.Metadata["detector_faults"])
	assert.Equal(t, int64(1), o.Metrics().DetectorFaults[patterns.IDPeelingChain])
}

func TestAnalyzeAddress_Filters(t *testing.T) {
	provider := providerFunc(func(_ context.Context, address, _ string, _ float64) ([]models.Transaction, error) {
		return mixedHistory(address), nil
	})

	t.Run("pattern type", func(t *testing.T) {
		o := newOrchestrator(provider)
		res, err := o.AnalyzeAddress(context.Background(), engine.AnalysisRequest{
			Address:       "wallet",
			PatternTypes:  []models.PatternType{models.PatternRoundAmounts},
			MinConfidence: 0.3,
		})
		require.NoError(t, err)
		require.Len(t, res.Patterns, 1)
		assert.Equal(t, patterns.IDRoundAmountPatterns, res.Patterns[0].PatternID)
	})

	t.Run("minimum severity by rank", func(t *testing.T) {
		o := newOrchestrator(provider)
		res, err := o.AnalyzeAddress(context.Background(), engine.AnalysisRequest{
			Address:       "wallet",
			MinSeverity:   models.SeverityHigh,
			MinConfidence: 0.3,
		})
		require.NoError(t, err)
		_, ok := res.Pattern(patterns.IDRoundAmountPatterns)
		assert.False(t, ok, "medium signature must be filtered by a high floor")
		_, ok = res.Pattern(patterns.IDPeelingChain)
		assert.True(t, ok)
	})

	t.Run("disabled signature", func(t *testing.T) {
		o := newOrchestrator(provider)
		require.True(t, o.Library().Disable(patterns.IDPeelingChain))
		res, err := o.AnalyzeAddress(context.Background(), engine.AnalysisRequest{Address: "wallet", MinConfidence: 0.3})
		require.NoError(t, err)
		_, ok := res.Pattern(patterns.IDPeelingChain)
		assert.False(t, ok)
	})
}

func TestAnalyzeAddress_MonotonicInMinConfidence(t *testing.T) {
	o := newOrchestrator(providerFunc(func(_ context.Context, address, _ string, _ float64) ([]models.Transaction, error) {
		return mixedHistory(address), nil
	}))

	prev := -1
	for step := 0; step <= 10; step++ {
		res, err := o.AnalyzeAddress(context.Background(), engine.AnalysisRequest{
			Address:       "wallet",
			MinConfidence: float64(step) / 10,
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.OverallRiskScore, 0.0)
		assert.LessOrEqual(t, res.OverallRiskScore, 1.0)
		if prev >= 0 {
			assert.LessOrEqual(t, len(res.Patterns), prev, "minConfidence=%.1f", float64(step)/10)
		}
		prev = len(res.Patterns)
	}
}

func TestOverallRiskScore(t *testing.T) {
	results := []models.PatternResult{
		{PatternID: "a", Detected: true, ConfidenceScore: 0.8, Severity: models.SeverityHigh},
		{PatternID: "b", Detected: true, ConfidenceScore: 0.6, Severity: models.SeverityMedium},
	}
	assert.InDelta(t, 0.48, engine.OverallRiskScore(results), 1e-9)
	assert.Equal(t, 0.0, engine.OverallRiskScore(nil))

	severe := []models.PatternResult{{Detected: true, ConfidenceScore: 1, Severity: models.SeveritySevere}}
	assert.Equal(t, 1.0, engine.OverallRiskScore(severe))
}
