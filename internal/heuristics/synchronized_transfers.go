package heuristics

import (
	"fmt"
	"sort"

	"github.com/rawblock/pattern-engine/pkg/models"
)

// Synchronized Transfer Detection Module
//
// Coordinated actors (or one actor driving many wallets) tend to fire
// near-identical amounts within the same few minutes. Transfers are grouped
// around an anchor: every later transfer within SyncWindowSeconds whose amount
// is within AmountTolerance of the anchor joins its group. A group qualifies
// with at least MinTransfers members from at least MinAddresses senders.

// SynchronizedTransferConfig tunes the synchronized transfer detector.
type SynchronizedTransferConfig struct {
	SyncWindowSeconds float64
	AmountTolerance   float64 // Relative amount difference
	MinTransfers      int
	MinAddresses      int // Distinct senders per group
}

// DefaultSynchronizedTransferConfig returns the production defaults.
func DefaultSynchronizedTransferConfig() SynchronizedTransferConfig {
	return SynchronizedTransferConfig{
		SyncWindowSeconds: 300,
		AmountTolerance:   0.10,
		MinTransfers:      2,
		MinAddresses:      2,
	}
}

// SynchronizedTransferDetector groups near-simultaneous look-alike transfers.
type SynchronizedTransferDetector struct {
	cfg SynchronizedTransferConfig
}

func NewSynchronizedTransferDetector(cfg SynchronizedTransferConfig) *SynchronizedTransferDetector {
	return &SynchronizedTransferDetector{cfg: cfg}
}

func (d *SynchronizedTransferDetector) ID() string   { return "synchronized_transfers" }
func (d *SynchronizedTransferDetector) Name() string { return "Synchronized Transfers" }
func (d *SynchronizedTransferDetector) PatternType() models.PatternType {
	return models.PatternSynchronizedTransfers
}

type syncGroup struct {
	txs        []models.Transaction
	senders    int
	confidence float64
}

func (d *SynchronizedTransferDetector) Detect(txs []models.Transaction, address string, minConfidence float64) models.PatternResult {
	minTransfers := max(d.cfg.MinTransfers, 2)
	if len(txs) < minTransfers {
		return models.NewEmptyResult(d.ID(), d.Name(), ReasonInsufficientTransactions)
	}

	sorted := sortedByTime(txs)
	used := make([]bool, len(sorted))
	var groups []syncGroup

	for i := range sorted {
		if used[i] {
			continue
		}
		members := []int{i}
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Timestamp.Sub(sorted[i].Timestamp).Seconds() > d.cfg.SyncWindowSeconds {
				break
			}
			if used[j] {
				continue
			}
			if relativeChange(sorted[i].Amount, sorted[j].Amount) <= d.cfg.AmountTolerance {
				members = append(members, j)
			}
		}
		if len(members) < minTransfers {
			continue
		}

		group := syncGroup{txs: make([]models.Transaction, 0, len(members))}
		senders := make(map[string]struct{})
		for _, idx := range members {
			group.txs = append(group.txs, sorted[idx])
			senders[sorted[idx].Sender] = struct{}{}
		}
		group.senders = len(senders)
		if group.senders < d.cfg.MinAddresses {
			continue
		}
		for _, idx := range members {
			used[idx] = true
		}

		conf := 0.6
		conf += min(0.3, float64(len(group.txs)-1)*0.1)
		conf += min(0.1, float64(group.senders-1)*0.05)
		group.confidence = clamp01(conf)
		groups = append(groups, group)
	}

	if len(groups) == 0 {
		return models.NewEmptyResult(d.ID(), d.Name(), ReasonNoPatternFound)
	}

	sort.SliceStable(groups, func(a, b int) bool { return groups[a].confidence > groups[b].confidence })
	best := groups[0]

	total := 0
	for _, g := range groups {
		total += len(g.txs)
	}

	res := newDetectedResult(d.ID(), d.Name(), best.confidence)
	res.TransactionCount = total
	res.TimeWindowHours = spanHours(best.txs)
	res.Severity = confidenceTier(best.confidence)
	res.IndicatorsMet = append(res.IndicatorsMet, "timing_window", "amount_similarity", "multiple_senders")

	for _, g := range groups {
		res.Evidence = append(res.Evidence, models.PatternEvidence{
			EvidenceType:           "synchronized_group",
			Description:            fmt.Sprintf("%d transfers from %d senders within %.0fs", len(g.txs), g.senders, spanHours(g.txs)*3600),
			ConfidenceContribution: g.confidence,
			TransactionHash:        g.txs[0].Hash,
			Address:                address,
			Timestamp:              g.txs[0].Timestamp,
			Metadata: map[string]any{
				"transactions": hashes(g.txs),
				"amounts":      amounts(g.txs),
				"senders":      g.senders,
			},
		})
	}

	res.Metadata["groups_found"] = len(groups)
	res.Metadata["largest_group"] = len(best.txs)
	res.Metadata["distinct_senders"] = best.senders

	return finalize(res, minConfidence)
}
