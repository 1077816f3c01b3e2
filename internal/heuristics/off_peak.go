package heuristics

import (
	"fmt"

	"github.com/rawblock/pattern-engine/pkg/models"
)

// Off-Peak Activity Detection Module
//
// Share of activity in the 22:00-06:59 UTC band, boosted when the off-peak
// transfers are high value:
//
//   confidence = 0.6 × offPeakShare + 0.4 × highValueShareOfOffPeak

// OffPeakActivityConfig tunes the off-peak detector.
type OffPeakActivityConfig struct {
	MinTransactions    int
	OffPeakHours       []int // UTC hours
	HighValueThreshold float64
}

// DefaultOffPeakActivityConfig returns the production defaults.
func DefaultOffPeakActivityConfig() OffPeakActivityConfig {
	return OffPeakActivityConfig{
		MinTransactions:    5,
		OffPeakHours:       []int{22, 23, 0, 1, 2, 3, 4, 5, 6},
		HighValueThreshold: 1000,
	}
}

type OffPeakActivityDetector struct {
	cfg     OffPeakActivityConfig
	offPeak map[int]bool
}

func NewOffPeakActivityDetector(cfg OffPeakActivityConfig) *OffPeakActivityDetector {
	hours := make(map[int]bool, len(cfg.OffPeakHours))
	for _, h := range cfg.OffPeakHours {
		hours[h] = true
	}
	return &OffPeakActivityDetector{cfg: cfg, offPeak: hours}
}

func (d *OffPeakActivityDetector) ID() string                      { return "off_peak_activity" }
func (d *OffPeakActivityDetector) Name() string                    { return "Off-Peak Activity" }
func (d *OffPeakActivityDetector) PatternType() models.PatternType { return models.PatternOffPeakActivity }

func (d *OffPeakActivityDetector) Detect(txs []models.Transaction, address string, minConfidence float64) models.PatternResult {
	if len(txs) < d.cfg.MinTransactions || len(txs) == 0 {
		return models.NewEmptyResult(d.ID(), d.Name(), ReasonInsufficientTransactions)
	}

	hourly := make(map[int]int)
	var offPeak, highValue []models.Transaction
	for _, tx := range txs {
		h := tx.Timestamp.UTC().Hour()
		hourly[h]++
		if !d.offPeak[h] {
			continue
		}
		offPeak = append(offPeak, tx)
		if tx.Amount >= d.cfg.HighValueThreshold {
			highValue = append(highValue, tx)
		}
	}
	if len(offPeak) == 0 {
		return models.NewEmptyResult(d.ID(), d.Name(), ReasonNoPatternFound)
	}

	offShare := float64(len(offPeak)) / float64(len(txs))
	hvShare := ratio(float64(len(highValue)), float64(len(offPeak)))
	confidence := 0.6*offShare + 0.4*hvShare

	res := newDetectedResult(d.ID(), d.Name(), confidence)
	res.TransactionCount = len(offPeak)
	res.TimeWindowHours = spanHours(sortedByTime(txs))
	res.Severity = confidenceTier(confidence)

	if offShare >= 0.5 {
		res.IndicatorsMet = append(res.IndicatorsMet, "off_peak_concentration")
	} else {
		res.IndicatorsMissed = append(res.IndicatorsMissed, "off_peak_concentration")
	}
	if len(highValue) > 0 {
		res.IndicatorsMet = append(res.IndicatorsMet, "high_value_off_peak")
	} else {
		res.IndicatorsMissed = append(res.IndicatorsMissed, "high_value_off_peak")
	}

	res.Evidence = append(res.Evidence, models.PatternEvidence{
		EvidenceType:           "off_peak_share",
		Description:            fmt.Sprintf("%d of %d transactions between 22:00 and 06:59 UTC", len(offPeak), len(txs)),
		ConfidenceContribution: 0.6 * offShare,
		Address:                address,
		Timestamp:              offPeak[0].Timestamp,
	})
	for _, tx := range highValue {
		res.Evidence = append(res.Evidence, models.PatternEvidence{
			EvidenceType:           "high_value_off_peak",
			Description:            fmt.Sprintf("%.8g at %s UTC", tx.Amount, tx.Timestamp.UTC().Format("15:04")),
			ConfidenceContribution: ratio(0.4, float64(len(offPeak))),
			TransactionHash:        tx.Hash,
			Address:                address,
			Timestamp:              tx.Timestamp,
		})
	}

	res.Metadata["off_peak_ratio"] = offShare
	res.Metadata["high_value_ratio"] = hvShare
	res.Metadata["hour_distribution"] = hourly

	return finalize(res, minConfidence)
}
