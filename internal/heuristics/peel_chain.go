package heuristics

import (
	"fmt"
	"sort"

	"github.com/rawblock/pattern-engine/pkg/models"
)

// Peeling Chain Detection Module
//
// A peeling chain drains a wallet in steps: each transfer is smaller than the
// one before it and lands on a fresh recipient, typically within hours.
//
//   t₀: 1.000 → R₁
//   t₁: 0.500 → R₂
//   t₂: 0.250 → R₃
//   ...
//
// Detection signals:
//   - Monotonic decrease of at least `AmountTolerance` per step, from a
//     positive amount
//   - Recipient changes on every step
//   - Consecutive steps no more than `MaxTimeGapHours` apart
//   - Steps that halve the amount score highest
//
// Sequences are extended greedily over the time-ordered history; only maximal
// sequences of at least `MinSequenceLength` steps are scored.

// PeelingChainConfig tunes the peeling chain detector.
type PeelingChainConfig struct {
	MinSequenceLength int     // Minimum steps in a chain
	MaxTimeGapHours   float64 // Max gap between consecutive steps
	AmountTolerance   float64 // Minimum fractional decrease per step
}

// DefaultPeelingChainConfig returns the production defaults.
func DefaultPeelingChainConfig() PeelingChainConfig {
	return PeelingChainConfig{
		MinSequenceLength: 3,
		MaxTimeGapHours:   24,
		AmountTolerance:   0.05,
	}
}

// PeelingChainDetector finds serial decreasing transfers.
type PeelingChainDetector struct {
	cfg PeelingChainConfig
}

func NewPeelingChainDetector(cfg PeelingChainConfig) *PeelingChainDetector {
	return &PeelingChainDetector{cfg: cfg}
}

func (d *PeelingChainDetector) ID() string                      { return "peeling_chain" }
func (d *PeelingChainDetector) Name() string                    { return "Peeling Chain" }
func (d *PeelingChainDetector) PatternType() models.PatternType { return models.PatternPeelingChain }

// peelSequence is one maximal chain plus its score.
type peelSequence struct {
	txs           []models.Transaction
	confidence    float64
	avgDecrease   float64 // mean (1 - next/prev) over steps
	spanHours     float64
	uniqueTargets int
}

// Detect scans the history for peeling sequences and reports the strongest.
func (d *PeelingChainDetector) Detect(txs []models.Transaction, address string, minConfidence float64) models.PatternResult {
	minLen := d.cfg.MinSequenceLength
	if minLen < 2 {
		minLen = 2
	}
	if len(txs) < minLen {
		return models.NewEmptyResult(d.ID(), d.Name(), ReasonInsufficientTransactions)
	}

	sorted := sortedByTime(txs)
	var sequences []peelSequence

	for i := 0; i < len(sorted); {
		end := i
		for end+1 < len(sorted) && d.continues(sorted[end], sorted[end+1]) {
			end++
		}
		if end-i+1 >= minLen {
			sequences = append(sequences, d.score(sorted[i:end+1], minLen))
			i = end + 1
			continue
		}
		i++
	}

	if len(sequences) == 0 {
		return models.NewEmptyResult(d.ID(), d.Name(), ReasonNoPatternFound)
	}

	sort.SliceStable(sequences, func(a, b int) bool {
		return sequences[a].confidence > sequences[b].confidence
	})
	best := sequences[0]

	res := newDetectedResult(d.ID(), d.Name(), best.confidence)
	res.TransactionCount = len(best.txs)
	res.TimeWindowHours = best.spanHours
	res.Severity = d.severity(best.confidence, len(best.txs))

	res.IndicatorsMet = append(res.IndicatorsMet, "sequence_length", "amount_decrease", "recipient_rotation")
	if best.spanHours <= 24 {
		res.IndicatorsMet = append(res.IndicatorsMet, "time_compression")
	} else {
		res.IndicatorsMissed = append(res.IndicatorsMissed, "time_compression")
	}

	for idx, seq := range sequences {
		if idx >= 5 {
			break
		}
		first := seq.txs[0]
		res.Evidence = append(res.Evidence, models.PatternEvidence{
			EvidenceType:           "peeling_sequence",
			Description:            fmt.Sprintf("%d-step peeling sequence over %.1fh, avg decrease %.0f%%", len(seq.txs), seq.spanHours, seq.avgDecrease*100),
			ConfidenceContribution: seq.confidence,
			TransactionHash:        first.Hash,
			Address:                address,
			Timestamp:              first.Timestamp,
			Metadata: map[string]any{
				"sequence":               hashes(seq.txs),
				"amounts":                amounts(seq.txs),
				"average_decrease_ratio": seq.avgDecrease,
				"time_span_hours":        seq.spanHours,
				"unique_recipients":      seq.uniqueTargets,
			},
		})
	}

	res.Metadata["sequences_found"] = len(sequences)
	res.Metadata["longest_sequence"] = longestPeel(sequences)
	res.Metadata["average_decrease_ratio"] = best.avgDecrease
	res.Metadata["time_span_hours"] = best.spanHours
	res.Metadata["unique_recipients"] = best.uniqueTargets

	return finalize(res, minConfidence)
}

func (d *PeelingChainDetector) continues(prev, next models.Transaction) bool {
	gap := next.Timestamp.Sub(prev.Timestamp).Hours()
	if gap < 0 || gap > d.cfg.MaxTimeGapHours {
		return false
	}
	// Zero-value transfers (contract calls) cannot peel anything.
	if prev.Amount <= 0 || next.Amount > prev.Amount*(1-d.cfg.AmountTolerance) {
		return false
	}
	return next.Recipient != prev.Recipient
}

func (d *PeelingChainDetector) score(seq []models.Transaction, minLen int) peelSequence {
	out := peelSequence{txs: seq, spanHours: spanHours(seq)}

	conf := 0.5
	conf += min(0.3, float64(len(seq)-minLen)*0.1)

	// Consistency: a step that halves the amount is ideal.
	var decreases, closeness []float64
	for i := 1; i < len(seq); i++ {
		dec := 1 - ratio(seq[i].Amount, seq[i-1].Amount)
		if seq[i-1].Amount == 0 {
			dec = 0
		}
		decreases = append(decreases, dec)
		dist := dec - 0.5
		if dist < 0 {
			dist = -dist
		}
		closeness = append(closeness, max(0, 1-dist/0.5))
	}
	out.avgDecrease = mean(decreases)
	conf += 0.2 * mean(closeness)

	switch {
	case out.spanHours <= 1:
		conf += 0.1
	case out.spanHours <= 6:
		conf += 0.075
	case out.spanHours <= 12:
		conf += 0.05
	case out.spanHours <= 24:
		conf += 0.025
	}

	targets := make(map[string]struct{}, len(seq))
	for _, tx := range seq {
		targets[tx.Recipient] = struct{}{}
	}
	out.uniqueTargets = len(targets)
	out.confidence = clamp01(conf)
	return out
}

func (d *PeelingChainDetector) severity(confidence float64, length int) models.Severity {
	if confidence >= 0.9 && length >= 5 {
		return models.SeverityCritical
	}
	return confidenceTier(confidence)
}

func longestPeel(seqs []peelSequence) int {
	longest := 0
	for _, s := range seqs {
		if len(s.txs) > longest {
			longest = len(s.txs)
		}
	}
	return longest
}
