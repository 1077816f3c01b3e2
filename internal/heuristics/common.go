package heuristics

import (
	"math"
	"sort"
	"time"

	"github.com/rawblock/pattern-engine/pkg/models"
)

// Detector is the contract every behavioral heuristic implements. Detect is a
// pure function of its inputs: it never mutates txs and never returns an
// error. Undersized or unusable input yields a "not detected" result that
// carries metadata["detection_reason"].
type Detector interface {
	ID() string
	Name() string
	PatternType() models.PatternType
	Detect(txs []models.Transaction, address string, minConfidence float64) models.PatternResult
}

// Detection reasons reported in metadata["detection_reason"].
const (
	ReasonInsufficientTransactions = "insufficient_transactions"
	ReasonBelowMinConfidence       = "below_min_confidence"
	ReasonNoPatternFound           = "no_pattern_found"
)

// DefaultDetectors returns the six wired detectors with default configs, in
// library order.
func DefaultDetectors() []Detector {
	return []Detector{
		NewPeelingChainDetector(DefaultPeelingChainConfig()),
		NewLayeringDetector(DefaultLayeringConfig()),
		NewCustodyChangeDetector(DefaultCustodyChangeConfig()),
		NewSynchronizedTransferDetector(DefaultSynchronizedTransferConfig()),
		NewOffPeakActivityDetector(DefaultOffPeakActivityConfig()),
		NewRoundAmountDetector(DefaultRoundAmountConfig()),
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ratio returns num/den, or 0 when den is zero.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	acc := 0.0
	for _, v := range values {
		d := v - m
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(values)))
}

// relativeChange is |a-b| / max(|a|,|b|), 0 when both are 0.
func relativeChange(a, b float64) float64 {
	return ratio(math.Abs(a-b), math.Max(math.Abs(a), math.Abs(b)))
}

// sortedByTime returns a time-ordered copy of txs.
func sortedByTime(txs []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func amounts(txs []models.Transaction) []float64 {
	out := make([]float64, len(txs))
	for i, tx := range txs {
		out[i] = tx.Amount
	}
	return out
}

// intervalsSeconds returns gaps between consecutive (time-ordered) txs.
func intervalsSeconds(txs []models.Transaction) []float64 {
	if len(txs) < 2 {
		return nil
	}
	out := make([]float64, 0, len(txs)-1)
	for i := 1; i < len(txs); i++ {
		out = append(out, txs[i].Timestamp.Sub(txs[i-1].Timestamp).Seconds())
	}
	return out
}

func spanHours(txs []models.Transaction) float64 {
	if len(txs) < 2 {
		return 0
	}
	return txs[len(txs)-1].Timestamp.Sub(txs[0].Timestamp).Hours()
}

func hashes(txs []models.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.Hash
	}
	return out
}

// confidenceTier maps a confidence to low/medium/high.
func confidenceTier(confidence float64) models.Severity {
	switch {
	case confidence >= 0.8:
		return models.SeverityHigh
	case confidence >= 0.6:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// newDetectedResult starts a positive result; finalize decides whether it
// survives the confidence floor.
func newDetectedResult(id, name string, confidence float64) models.PatternResult {
	return models.PatternResult{
		PatternID:        id,
		PatternName:      name,
		Detected:         true,
		ConfidenceScore:  confidence,
		Severity:         models.SeverityLow,
		Evidence:         []models.PatternEvidence{},
		IndicatorsMet:    []string{},
		IndicatorsMissed: []string{},
		Metadata:         map[string]any{},
		DetectedAt:       time.Now().UTC(),
	}
}

// finalize clamps the score and demotes results that fall below the floor
// (or carry no signal at all) to the canonical empty result.
func finalize(res models.PatternResult, minConfidence float64) models.PatternResult {
	res.ConfidenceScore = clamp01(res.ConfidenceScore)
	if !res.Detected {
		return res
	}
	if res.ConfidenceScore <= 0 {
		return models.NewEmptyResult(res.PatternID, res.PatternName, ReasonNoPatternFound)
	}
	if res.ConfidenceScore < minConfidence {
		empty := models.NewEmptyResult(res.PatternID, res.PatternName, ReasonBelowMinConfidence)
		empty.Metadata["best_confidence"] = res.ConfidenceScore
		empty.Metadata["min_confidence"] = minConfidence
		return empty
	}
	for i := range res.Evidence {
		res.Evidence[i].ConfidenceContribution = clamp01(res.Evidence[i].ConfidenceContribution)
	}
	return res
}
