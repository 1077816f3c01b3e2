package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the five-level risk tier attached to a pattern. The spellings are
// stored by downstream reporting and must not change.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeveritySevere   Severity = "severe"
)

var severityRanks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
	SeveritySevere:   5,
}

var severityWeights = map[Severity]float64{
	SeverityLow:      0.1,
	SeverityMedium:   0.3,
	SeverityHigh:     0.6,
	SeverityCritical: 0.9,
	SeveritySevere:   1.0,
}

// Rank orders severities low < medium < high < critical < severe.
// Unknown values rank 0.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// AtLeast reports whether s is at or above min in declared rank.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// Weight is the multiplier used when folding a pattern's confidence into the
// overall risk score.
func (s Severity) Weight() float64 {
	return severityWeights[s]
}

// Valid reports whether s is one of the five declared levels.
func (s Severity) Valid() bool {
	_, ok := severityRanks[s]
	return ok
}

// ParseSeverity accepts any casing of the five severity spellings.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

// PatternType identifies the behavior a signature describes.
type PatternType string

const (
	PatternPeelingChain          PatternType = "peeling_chain"
	PatternLayering              PatternType = "layering"
	PatternCustodyChange         PatternType = "custody_change"
	PatternSynchronizedTransfers PatternType = "synchronized_transfers"
	PatternOffPeakActivity       PatternType = "off_peak_activity"
	PatternRoundAmounts          PatternType = "round_amounts"

	// Catalogued but without a wired detector.
	PatternHighFrequencyTrading PatternType = "high_frequency_trading"
	PatternStructuring          PatternType = "structuring"
	PatternMixerUsage           PatternType = "mixer_usage"
	PatternBridgeHopping        PatternType = "bridge_hopping"
)

var knownPatternTypes = map[PatternType]bool{
	PatternPeelingChain:          true,
	PatternLayering:              true,
	PatternCustodyChange:         true,
	PatternSynchronizedTransfers: true,
	PatternOffPeakActivity:       true,
	PatternRoundAmounts:          true,
	PatternHighFrequencyTrading:  true,
	PatternStructuring:           true,
	PatternMixerUsage:            true,
	PatternBridgeHopping:         true,
}

// ParsePatternType validates a pattern type string.
func ParsePatternType(v string) (PatternType, error) {
	t := PatternType(strings.ToLower(strings.TrimSpace(v)))
	if !knownPatternTypes[t] {
		return "", fmt.Errorf("unknown pattern type %q", v)
	}
	return t, nil
}

// IndicatorType classifies a sub-signal inside a signature.
type IndicatorType string

const (
	IndicatorTiming       IndicatorType = "timing"
	IndicatorAmount       IndicatorType = "amount"
	IndicatorFrequency    IndicatorType = "frequency"
	IndicatorCounterparty IndicatorType = "counterparty"
	IndicatorSequence     IndicatorType = "sequence"
	IndicatorGeographic   IndicatorType = "geographic"
	IndicatorBehavioral   IndicatorType = "behavioral"
)

// PatternIndicator is descriptive metadata: detectors do not derive their
// scores from these weights.
type PatternIndicator struct {
	IndicatorType IndicatorType `json:"indicator_type"`
	Threshold     float64       `json:"threshold"` // > 0
	Weight        float64       `json:"weight"`    // (0, 1]
	Description   string        `json:"description"`
}

// PatternSignature is the configuration of one pattern in the library.
type PatternSignature struct {
	PatternID       string             `json:"pattern_id"`
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	PatternType     PatternType        `json:"pattern_type"`
	Severity        Severity           `json:"severity"`
	Indicators      []PatternIndicator `json:"indicators"`
	MinTransactions int                `json:"min_transactions"`
	TimeWindowHours float64            `json:"time_window_hours"`
	Enabled         bool               `json:"enabled"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate library state.
func (s PatternSignature) Clone() PatternSignature {
	out := s
	out.Indicators = append([]PatternIndicator(nil), s.Indicators...)
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// PatternEvidence is one justification item. ConfidenceContribution is
// explanatory only and is not summed into the final score.
type PatternEvidence struct {
	EvidenceType           string         `json:"evidence_type"`
	Description            string         `json:"description"`
	ConfidenceContribution float64        `json:"confidence_contribution"`
	TransactionHash        string         `json:"transaction_hash,omitempty"`
	Address                string         `json:"address,omitempty"`
	Timestamp              time.Time      `json:"timestamp"`
	Metadata               map[string]any `json:"metadata,omitempty"`
}

// PatternResult is the output of one detector run for one address.
type PatternResult struct {
	PatternID        string            `json:"pattern_id"`
	PatternName      string            `json:"pattern_name"`
	Detected         bool              `json:"detected"`
	ConfidenceScore  float64           `json:"confidence_score"`
	Severity         Severity          `json:"severity"`
	Evidence         []PatternEvidence `json:"evidence"`
	IndicatorsMet    []string          `json:"indicators_met"`
	IndicatorsMissed []string          `json:"indicators_missed"`
	TransactionCount int               `json:"transaction_count"`
	TimeWindowHours  float64           `json:"time_window_hours"`
	Metadata         map[string]any    `json:"metadata"`
	DetectedAt       time.Time         `json:"detected_at"`
}

// DetectionReason returns the "not detected" explanation, if any.
func (r PatternResult) DetectionReason() string {
	if r.Metadata == nil {
		return ""
	}
	reason, _ := r.Metadata["detection_reason"].(string)
	return reason
}

// NewEmptyResult builds the canonical "not detected" result.
func NewEmptyResult(patternID, patternName, reason string) PatternResult {
	return PatternResult{
		PatternID:        patternID,
		PatternName:      patternName,
		Detected:         false,
		ConfidenceScore:  0,
		Severity:         SeverityLow,
		Evidence:         []PatternEvidence{},
		IndicatorsMet:    []string{},
		IndicatorsMissed: []string{},
		Metadata:         map[string]any{"detection_reason": reason},
		DetectedAt:       time.Now().UTC(),
	}
}

// PatternAnalysisResult aggregates every detected pattern for one address.
type PatternAnalysisResult struct {
	AnalysisID                string          `json:"analysis_id"`
	Address                   string          `json:"address"`
	Blockchain                string          `json:"blockchain"`
	Patterns                  []PatternResult `json:"patterns"`
	OverallRiskScore          float64         `json:"overall_risk_score"`
	TotalTransactionsAnalyzed int             `json:"total_transactions_analyzed"`
	TimeRangeHours            float64         `json:"time_range_hours"`
	AnalysisStart             time.Time       `json:"analysis_start"`
	AnalysisEnd               time.Time       `json:"analysis_end"`
	ProcessingTimeMs          float64         `json:"processing_time_ms"`
	Metadata                  map[string]any  `json:"metadata"`
}

// Pattern returns the detected pattern with the given id.
func (r PatternAnalysisResult) Pattern(id string) (PatternResult, bool) {
	for _, p := range r.Patterns {
		if p.PatternID == id {
			return p, true
		}
	}
	return PatternResult{}, false
}

// Clone returns a deep copy whose patterns, evidence and metadata share no
// memory with r.
func (r PatternAnalysisResult) Clone() PatternAnalysisResult {
	out := r
	out.Metadata = cloneMetadata(r.Metadata)
	if r.Patterns != nil {
		out.Patterns = make([]PatternResult, len(r.Patterns))
		for i, p := range r.Patterns {
			out.Patterns[i] = p.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of r.
func (r PatternResult) Clone() PatternResult {
	out := r
	out.Metadata = cloneMetadata(r.Metadata)
	out.IndicatorsMet = cloneStrings(r.IndicatorsMet)
	out.IndicatorsMissed = cloneStrings(r.IndicatorsMissed)
	if r.Evidence != nil {
		out.Evidence = make([]PatternEvidence, len(r.Evidence))
		for i, e := range r.Evidence {
			e.Metadata = cloneMetadata(e.Metadata)
			out.Evidence[i] = e
		}
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the container types detectors put in metadata. Scalars
// are returned as is.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMetadata(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return cloneStrings(t)
	case []float64:
		return append(make([]float64, 0, len(t)), t...)
	case []int:
		return append(make([]int, 0, len(t)), t...)
	case map[string]int:
		out := make(map[string]int, len(t))
		for k, n := range t {
			out[k] = n
		}
		return out
	case map[int]int:
		out := make(map[int]int, len(t))
		for k, n := range t {
			out[k] = n
		}
		return out
	case map[string]float64:
		out := make(map[string]float64, len(t))
		for k, n := range t {
			out[k] = n
		}
		return out
	default:
		return v
	}
}

// BatchAnalysisResult is the outcome of a batch call.
type BatchAnalysisResult struct {
	Results               map[string]PatternAnalysisResult `json:"results"`
	Failed                map[string]string                `json:"failed"`
	SuccessfulAnalyses    int                              `json:"successful_analyses"`
	FailedAnalyses        int                              `json:"failed_analyses"`
	TotalPatternsDetected int                              `json:"total_patterns_detected"`
	HighRiskAddresses     int                              `json:"high_risk_addresses"`
	ProcessingTimeMs      float64                          `json:"processing_time_ms"`
}

// MetricsSnapshot is a point-in-time copy of orchestrator counters.
type MetricsSnapshot struct {
	TotalAnalyses       int64            `json:"total_analyses"`
	FailedAnalyses      int64            `json:"failed_analyses"`
	CacheHits           int64            `json:"cache_hits"`
	CacheMisses         int64            `json:"cache_misses"`
	CacheHitRate        float64          `json:"cache_hit_rate"`
	AvgProcessingTimeMs float64          `json:"avg_processing_time_ms"`
	DetectionsByPattern map[string]int64 `json:"detections_by_pattern"`
	DetectorFaults      map[string]int64 `json:"detector_faults"`
	CacheSize           int              `json:"cache_size"`
}
