package heuristics

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/rawblock/pattern-engine/pkg/models"
)

// Round Amount Detection Module
//
// Structuring and mixer deposits gravitate to round denominations. A transfer
// is "round" when it sits within Tolerance (relative) of one of the
// denominations below.
//
//   confidence = min(MaxConfidence, roundRatio × 1.5)

var defaultDenominations = []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000}

// RoundAmountConfig tunes the round amount detector.
type RoundAmountConfig struct {
	Denominations   []float64
	Tolerance       float64
	MinRoundCount   int
	MinTransactions int
	MaxConfidence   float64
}

// DefaultRoundAmountConfig returns the production defaults.
func DefaultRoundAmountConfig() RoundAmountConfig {
	return RoundAmountConfig{
		Denominations:   append([]float64(nil), defaultDenominations...),
		Tolerance:       0.05,
		MinRoundCount:   3,
		MinTransactions: 3,
		MaxConfidence:   0.9,
	}
}

type RoundAmountDetector struct {
	cfg RoundAmountConfig
}

func NewRoundAmountDetector(cfg RoundAmountConfig) *RoundAmountDetector {
	return &RoundAmountDetector{cfg: cfg}
}

func (d *RoundAmountDetector) ID() string                      { return "round_amount_patterns" }
func (d *RoundAmountDetector) Name() string                    { return "Round Amount Patterns" }
func (d *RoundAmountDetector) PatternType() models.PatternType { return models.PatternRoundAmounts }

func (d *RoundAmountDetector) Detect(txs []models.Transaction, address string, minConfidence float64) models.PatternResult {
	if len(txs) < d.cfg.MinTransactions || len(txs) == 0 {
		return models.NewEmptyResult(d.ID(), d.Name(), ReasonInsufficientTransactions)
	}

	counts := make(map[float64]int)
	var round []models.Transaction
	for _, tx := range txs {
		denom, ok := d.match(tx.Amount)
		if !ok {
			continue
		}
		counts[denom]++
		round = append(round, tx)
	}
	if len(round) < d.cfg.MinRoundCount {
		res := models.NewEmptyResult(d.ID(), d.Name(), ReasonInsufficientTransactions)
		res.Metadata["round_transactions"] = len(round)
		return res
	}

	roundRatio := float64(len(round)) / float64(len(txs))
	confidence := min(d.cfg.MaxConfidence, roundRatio*1.5)

	res := newDetectedResult(d.ID(), d.Name(), confidence)
	res.TransactionCount = len(round)
	res.TimeWindowHours = spanHours(sortedByTime(txs))
	res.Severity = confidenceTier(confidence)
	res.IndicatorsMet = append(res.IndicatorsMet, "round_denominations", "repeated_round_transfers")

	for _, tx := range round {
		denom, _ := d.match(tx.Amount)
		res.Evidence = append(res.Evidence, models.PatternEvidence{
			EvidenceType:           "round_amount",
			Description:            fmt.Sprintf("%.8g is within %.0f%% of %s", tx.Amount, d.cfg.Tolerance*100, formatDenomination(denom)),
			ConfidenceContribution: confidence / float64(len(round)),
			TransactionHash:        tx.Hash,
			Address:                address,
			Timestamp:              tx.Timestamp,
		})
	}

	res.Metadata["round_ratio"] = roundRatio
	res.Metadata["round_transactions"] = len(round)
	res.Metadata["common_round_amounts"] = commonDenominations(counts, 5)

	return finalize(res, minConfidence)
}

func (d *RoundAmountDetector) match(amount float64) (float64, bool) {
	best, bestDiff, found := 0.0, math.Inf(1), false
	for _, denom := range d.cfg.Denominations {
		if denom <= 0 {
			continue
		}
		diff := math.Abs(amount-denom) / denom
		if diff <= d.cfg.Tolerance && diff < bestDiff {
			best, bestDiff, found = denom, diff, true
		}
	}
	return best, found
}

// nearestDenomination matches amount against the default denominations.
func nearestDenomination(amount, tolerance float64) (float64, bool) {
	d := RoundAmountDetector{cfg: RoundAmountConfig{Denominations: defaultDenominations, Tolerance: tolerance}}
	return d.match(amount)
}

// commonDenominations returns the top n denominations by count, formatted
// like "1.0" or "0.5".
func commonDenominations(counts map[float64]int, n int) []string {
	keys := make([]float64, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = formatDenomination(k)
	}
	return out
}

func formatDenomination(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
