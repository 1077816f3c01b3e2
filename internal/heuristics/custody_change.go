package heuristics

import (
	"fmt"
	"math"

	"github.com/rawblock/pattern-engine/pkg/models"
)

// Custody Change Detection Module
//
// When a wallet changes hands the new owner rarely behaves like the old one.
// Three independent sub-scores in [0,1] are averaged:
//
//   1. Behavior change: first half vs second half of history, comparing
//      amount spread (stddev), timing regularity (CV of intervals) and
//      counterparty diversity.
//   2. Inactivity: the longest dormant gap, counted only beyond
//      InactivityThresholdDays and normalised against a 30-day cap.
//   3. Amount change: mean of the last RecentWindow transfers against the
//      mean of everything earlier, normalised by AmountChangeThreshold.
//
// The CV measure follows the regularity scoring used for behavioral
// fingerprinting: a low CV means machine-like cadence, a shift in CV means
// the cadence changed.

// CustodyChangeConfig tunes the custody change detector.
type CustodyChangeConfig struct {
	MinTransactions         int
	InactivityThresholdDays float64
	InactivityCapDays       float64
	AmountChangeThreshold   float64
	RecentWindow            int
	IndicatorThreshold      float64 // Sub-score needed to count as "met"
}

// DefaultCustodyChangeConfig returns the production defaults.
func DefaultCustodyChangeConfig() CustodyChangeConfig {
	return CustodyChangeConfig{
		MinTransactions:         10,
		InactivityThresholdDays: 7,
		InactivityCapDays:       30,
		AmountChangeThreshold:   2.0,
		RecentWindow:            5,
		IndicatorThreshold:      0.6,
	}
}

// CustodyChangeDetector scores signs that a wallet changed owner.
type CustodyChangeDetector struct {
	cfg CustodyChangeConfig
}

func NewCustodyChangeDetector(cfg CustodyChangeConfig) *CustodyChangeDetector {
	return &CustodyChangeDetector{cfg: cfg}
}

func (d *CustodyChangeDetector) ID() string                      { return "custody_change" }
func (d *CustodyChangeDetector) Name() string                    { return "Custody Change" }
func (d *CustodyChangeDetector) PatternType() models.PatternType { return models.PatternCustodyChange }

func (d *CustodyChangeDetector) Detect(txs []models.Transaction, address string, minConfidence float64) models.PatternResult {
	if len(txs) < d.cfg.MinTransactions || len(txs) < 2 {
		return models.NewEmptyResult(d.ID(), d.Name(), ReasonInsufficientTransactions)
	}
	sorted := sortedByTime(txs)

	behavior := d.behaviorChange(sorted)
	inactivity, gapDays, gapAt := d.inactivity(sorted)
	amountShift, recentAvg, earlierAvg := d.amountChange(sorted)

	confidence := (behavior + inactivity + amountShift) / 3

	res := newDetectedResult(d.ID(), d.Name(), confidence)
	res.TransactionCount = len(sorted)
	res.TimeWindowHours = spanHours(sorted)
	res.Severity = confidenceTier(confidence)

	subs := []struct {
		name  string
		score float64
		desc  string
	}{
		{"behavior_change", behavior, "amount, timing and counterparty profile shifted between halves of history"},
		{"inactivity_period", inactivity, fmt.Sprintf("dormant for %.1f days", gapDays)},
		{"amount_change", amountShift, fmt.Sprintf("recent average %.8g vs earlier %.8g", recentAvg, earlierAvg)},
	}
	for _, s := range subs {
		if s.score > d.cfg.IndicatorThreshold {
			res.IndicatorsMet = append(res.IndicatorsMet, s.name)
		} else {
			res.IndicatorsMissed = append(res.IndicatorsMissed, s.name)
		}
		if s.score <= 0 {
			continue
		}
		ev := models.PatternEvidence{
			EvidenceType:           s.name,
			Description:            s.desc,
			ConfidenceContribution: s.score / 3,
			Address:                address,
			Timestamp:              sorted[len(sorted)-1].Timestamp,
		}
		if s.name == "inactivity_period" {
			ev.Timestamp = gapAt.Timestamp
			ev.TransactionHash = gapAt.Hash
		}
		res.Evidence = append(res.Evidence, ev)
	}

	res.Metadata["behavior_change_score"] = behavior
	res.Metadata["inactivity_score"] = inactivity
	res.Metadata["amount_change_score"] = amountShift
	res.Metadata["longest_gap_days"] = gapDays

	return finalize(res, minConfidence)
}

func (d *CustodyChangeDetector) behaviorChange(sorted []models.Transaction) float64 {
	mid := len(sorted) / 2
	first, second := sorted[:mid], sorted[mid:]

	spread := relativeChange(stddev(amounts(first)), stddev(amounts(second)))
	timing := relativeChange(intervalCV(first), intervalCV(second))
	diversity := relativeChange(counterpartyDiversity(first), counterpartyDiversity(second))

	return clamp01((spread + timing + diversity) / 3)
}

func (d *CustodyChangeDetector) inactivity(sorted []models.Transaction) (score, gapDays float64, at models.Transaction) {
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Timestamp.Sub(sorted[i-1].Timestamp).Hours() / 24
		if gap > gapDays {
			gapDays = gap
			at = sorted[i]
		}
	}
	if gapDays <= d.cfg.InactivityThresholdDays || d.cfg.InactivityCapDays <= 0 {
		return 0, gapDays, at
	}
	return clamp01(gapDays / d.cfg.InactivityCapDays), gapDays, at
}

func (d *CustodyChangeDetector) amountChange(sorted []models.Transaction) (score, recentAvg, earlierAvg float64) {
	window := d.cfg.RecentWindow
	if window <= 0 || window >= len(sorted) {
		return 0, 0, 0
	}
	cut := len(sorted) - window
	recentAvg = mean(amounts(sorted[cut:]))
	earlierAvg = mean(amounts(sorted[:cut]))
	if earlierAvg == 0 || d.cfg.AmountChangeThreshold <= 0 {
		return 0, recentAvg, earlierAvg
	}
	rel := math.Abs(recentAvg-earlierAvg) / earlierAvg
	return clamp01(rel / d.cfg.AmountChangeThreshold), recentAvg, earlierAvg
}

// intervalCV is the coefficient of variation of inter-transaction gaps.
func intervalCV(txs []models.Transaction) float64 {
	iv := intervalsSeconds(txs)
	return ratio(stddev(iv), mean(iv))
}

func counterpartyDiversity(txs []models.Transaction) float64 {
	if len(txs) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		if cp := tx.Counterparty(); cp != "" {
			seen[cp] = struct{}{}
		}
	}
	return float64(len(seen)) / float64(len(txs))
}
