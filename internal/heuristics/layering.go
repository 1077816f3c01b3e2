package heuristics

import (
	"fmt"

	"github.com/rawblock/pattern-engine/pkg/models"
)

// Layering Detection Module
//
// Layering pushes funds through a long run of intermediary addresses so the
// destination is many hops from the source:
//
//   A → H₁ → H₂ → H₃ → H₄ → H₅ → ...
//
// The detector builds a bounded directed graph from the observed transfers
// (BFS outward from the analysed address, capped at MaxGraphNodes), then
// enumerates simple, time-ordered paths of MinHops..MaxHops edges whose whole
// run completes within MaxTimeGapHours. The best-scoring path wins.
//
// Signals:
//   - Hop count (7+ is "extended")
//   - Distinct intermediaries on the path
//   - Mixer/privacy-service touchpoints, or secondary mixing signs
//     (round amounts, near-identical amounts, sub-5-minute hops)
//   - Absence of a business relationship (fewer than two exchange hops)
//   - Time compression

// LayeringConfig tunes the layering detector.
type LayeringConfig struct {
	MinHops                 int
	MaxHops                 int
	MaxTimeGapHours         float64 // Whole-path budget
	MinUniqueCounterparties int
	MaxGraphNodes           int
	MaxPathsExplored        int // DFS budget
}

// DefaultLayeringConfig returns the production defaults.
func DefaultLayeringConfig() LayeringConfig {
	return LayeringConfig{
		MinHops:                 5,
		MaxHops:                 10,
		MaxTimeGapHours:         72,
		MinUniqueCounterparties: 3,
		MaxGraphNodes:           100,
		MaxPathsExplored:        20000,
	}
}

// LayeringDetector finds long multi-hop fund paths.
type LayeringDetector struct {
	cfg LayeringConfig
}

func NewLayeringDetector(cfg LayeringConfig) *LayeringDetector {
	return &LayeringDetector{cfg: cfg}
}

func (d *LayeringDetector) ID() string                      { return "advanced_layering" }
func (d *LayeringDetector) Name() string                    { return "Advanced Layering" }
func (d *LayeringDetector) PatternType() models.PatternType { return models.PatternLayering }

type flowEdge struct {
	to string
	tx models.Transaction
}

type layeringPath struct {
	nodes      []string
	edges      []models.Transaction
	confidence float64

	mixerHits        int
	exchangeHits     int
	secondarySignals []string
	uniqueNodes      int
	spanHours        float64
}

// Detect returns the strongest layering path starting at address.
func (d *LayeringDetector) Detect(txs []models.Transaction, address string, minConfidence float64) models.PatternResult {
	if len(txs) < d.cfg.MinHops || address == "" {
		return models.NewEmptyResult(d.ID(), d.Name(), ReasonInsufficientTransactions)
	}

	graph := d.buildGraph(sortedByTime(txs), address)
	best, found := d.bestPath(graph, address)
	if !found {
		return models.NewEmptyResult(d.ID(), d.Name(), ReasonNoPatternFound)
	}

	hops := len(best.edges)
	res := newDetectedResult(d.ID(), d.Name(), best.confidence)
	res.TransactionCount = hops
	res.TimeWindowHours = best.spanHours
	res.Severity = d.severity(best.confidence, hops)

	res.IndicatorsMet = append(res.IndicatorsMet, "multi_hop_path")
	if hops >= 7 {
		res.IndicatorsMet = append(res.IndicatorsMet, "extended_hop_count")
	} else {
		res.IndicatorsMissed = append(res.IndicatorsMissed, "extended_hop_count")
	}
	if best.uniqueNodes >= d.cfg.MinUniqueCounterparties {
		res.IndicatorsMet = append(res.IndicatorsMet, "counterparty_diversity")
	} else {
		res.IndicatorsMissed = append(res.IndicatorsMissed, "counterparty_diversity")
	}
	if best.mixerHits > 0 || len(best.secondarySignals) > 0 {
		res.IndicatorsMet = append(res.IndicatorsMet, "mixing_indicators")
	} else {
		res.IndicatorsMissed = append(res.IndicatorsMissed, "mixing_indicators")
	}
	if best.exchangeHits < 2 {
		res.IndicatorsMet = append(res.IndicatorsMet, "no_business_relationship")
	} else {
		res.IndicatorsMissed = append(res.IndicatorsMissed, "no_business_relationship")
	}

	for i, tx := range best.edges {
		res.Evidence = append(res.Evidence, models.PatternEvidence{
			EvidenceType:           "layering_hop",
			Description:            fmt.Sprintf("hop %d: %s → %s (%.8g)", i+1, tx.Sender, tx.Recipient, tx.Amount),
			ConfidenceContribution: best.confidence / float64(hops),
			TransactionHash:        tx.Hash,
			Address:                tx.Recipient,
			Timestamp:              tx.Timestamp,
		})
	}

	res.Metadata["path"] = best.nodes
	res.Metadata["hop_count"] = hops
	res.Metadata["unique_counterparties"] = best.uniqueNodes
	res.Metadata["mixer_touchpoints"] = best.mixerHits
	res.Metadata["exchange_touchpoints"] = best.exchangeHits
	res.Metadata["secondary_mixing_signals"] = best.secondarySignals
	res.Metadata["time_span_hours"] = best.spanHours

	return finalize(res, minConfidence)
}

// buildGraph keeps only edges reachable from root, visiting at most
// MaxGraphNodes addresses.
func (d *LayeringDetector) buildGraph(txs []models.Transaction, root string) map[string][]flowEdge {
	all := make(map[string][]flowEdge)
	for _, tx := range txs {
		if tx.Sender == "" || tx.Recipient == "" || tx.Sender == tx.Recipient {
			continue
		}
		all[tx.Sender] = append(all[tx.Sender], flowEdge{to: tx.Recipient, tx: tx})
	}

	graph := make(map[string][]flowEdge)
	visited := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, e := range all[node] {
			graph[node] = append(graph[node], e)
			if visited[e.to] || len(visited) >= d.cfg.MaxGraphNodes {
				continue
			}
			visited[e.to] = true
			queue = append(queue, e.to)
		}
	}
	return graph
}

func (d *LayeringDetector) bestPath(graph map[string][]flowEdge, root string) (layeringPath, bool) {
	var (
		best     layeringPath
		found    bool
		explored int
		nodes    = []string{root}
		edges    []models.Transaction
		onPath   = map[string]bool{root: true}
	)

	var walk func(node string)
	walk = func(node string) {
		if explored >= d.cfg.MaxPathsExplored {
			return
		}
		if len(edges) >= d.cfg.MinHops {
			explored++
			p := d.score(nodes, edges, root)
			if !found || p.confidence > best.confidence ||
				(p.confidence == best.confidence && len(p.edges) > len(best.edges)) {
				best, found = p, true
			}
		}
		if len(edges) >= d.cfg.MaxHops {
			return
		}
		for _, e := range graph[node] {
			if onPath[e.to] {
				continue
			}
			if len(edges) > 0 {
				last := edges[len(edges)-1]
				if e.tx.Timestamp.Before(last.Timestamp) {
					continue
				}
				if e.tx.Timestamp.Sub(edges[0].Timestamp).Hours() > d.cfg.MaxTimeGapHours {
					continue
				}
			}
			onPath[e.to] = true
			nodes = append(nodes, e.to)
			edges = append(edges, e.tx)
			walk(e.to)
			edges = edges[:len(edges)-1]
			nodes = nodes[:len(nodes)-1]
			delete(onPath, e.to)
		}
	}
	walk(root)
	return best, found
}

func (d *LayeringDetector) score(nodes []string, edges []models.Transaction, root string) layeringPath {
	p := layeringPath{
		nodes: append([]string(nil), nodes...),
		edges: append([]models.Transaction(nil), edges...),
	}
	hops := len(edges)
	p.spanHours = spanHours(p.edges)

	for _, n := range p.nodes {
		if n == root {
			continue
		}
		p.uniqueNodes++
		if IsKnownMixer(n) {
			p.mixerHits++
		}
		if _, ok := KnownExchange(n); ok {
			p.exchangeHits++
		}
	}
	p.secondarySignals = secondaryMixingSignals(p.edges)

	conf := 0.4
	conf += min(0.3, float64(hops-d.cfg.MinHops+1)*0.05)

	minUnique := d.cfg.MinUniqueCounterparties
	if minUnique > 0 && p.uniqueNodes >= minUnique {
		conf += 0.1 + 0.1*min(1, float64(p.uniqueNodes-minUnique)/float64(minUnique))
	}

	conf += min(0.2, 0.1*float64(p.mixerHits))
	if p.exchangeHits < 2 {
		conf += 0.1
	}

	switch {
	case p.spanHours <= 6:
		conf += 0.1
	case p.spanHours <= 24:
		conf += 0.05
	case p.spanHours <= d.cfg.MaxTimeGapHours:
		conf += 0.02
	}

	p.confidence = clamp01(conf)
	return p
}

// secondaryMixingSignals looks for mixer-like structure without a named
// mixer on the path.
func secondaryMixingSignals(edges []models.Transaction) []string {
	signals := []string{}
	if len(edges) == 0 {
		return signals
	}

	round := 0
	for _, tx := range edges {
		if _, ok := nearestDenomination(tx.Amount, 0.05); ok {
			round++
		}
	}
	if float64(round)/float64(len(edges)) >= 0.5 {
		signals = append(signals, "round_amount_clustering")
	}

	vals := amounts(edges)
	if m := mean(vals); m > 0 && stddev(vals)/m < 0.1 {
		signals = append(signals, "amount_similarity")
	}

	if iv := intervalsSeconds(edges); len(iv) > 0 && mean(iv) < 300 {
		signals = append(signals, "rapid_hops")
	}
	return signals
}

func (d *LayeringDetector) severity(confidence float64, hops int) models.Severity {
	if confidence >= 0.9 && hops >= 7 {
		return models.SeverityCritical
	}
	return confidenceTier(confidence)
}
