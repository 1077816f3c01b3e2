package patterns

import "github.com/rawblock/pattern-engine/pkg/models"

// Built-in signature catalog.
//
// Six of these have a wired detector in internal/heuristics. The remaining
// four (high_frequency_trading, structuring, mixer_usage, bridge_hopping) are
// catalogued for reporting and carry metadata["executable"] = false; the
// orchestrator never runs them.

// Default pattern ids. These are foreign keys in persisted reports.
const (
	IDPeelingChain          = "peeling_chain"
	IDAdvancedLayering      = "advanced_layering"
	IDCustodyChange         = "custody_change"
	IDSynchronizedTransfers = "synchronized_transfers"
	IDOffPeakActivity       = "off_peak_activity"
	IDRoundAmountPatterns   = "round_amount_patterns"
	IDHighFrequencyTrading  = "high_frequency_trading"
	IDStructuring           = "structuring"
	IDMixerUsage            = "mixer_usage"
	IDBridgeHopping         = "bridge_hopping"
)

func defaultSignatures() []models.PatternSignature {
	return []models.PatternSignature{
		{
			PatternID:   IDPeelingChain,
			Name:        "Peeling Chain",
			Description: "Serial transfers of decreasing amounts to fresh recipients, draining a wallet step by step",
			PatternType: models.PatternPeelingChain,
			Severity:    models.SeverityHigh,
			Indicators: []models.PatternIndicator{
				{IndicatorType: models.IndicatorSequence, Threshold: 3, Weight: 0.4, Description: "At least three linked peel steps"},
				{IndicatorType: models.IndicatorAmount, Threshold: 0.05, Weight: 0.3, Description: "Each step at least 5% smaller than the previous"},
				{IndicatorType: models.IndicatorTiming, Threshold: 24, Weight: 0.2, Description: "Steps no more than 24 hours apart"},
				{IndicatorType: models.IndicatorCounterparty, Threshold: 1, Weight: 0.1, Description: "Recipient changes on every step"},
			},
			MinTransactions: 3,
			TimeWindowHours: 168,
			Enabled:         true,
			Metadata:        map[string]any{"executable": true, "category": "obfuscation"},
		},
		{
			PatternID:   IDAdvancedLayering,
			Name:        "Advanced Layering",
			Description: "Funds moved through five or more intermediary hops in a short window to obscure origin",
			PatternType: models.PatternLayering,
			Severity:    models.SeverityCritical,
			Indicators: []models.PatternIndicator{
				{IndicatorType: models.IndicatorSequence, Threshold: 5, Weight: 0.35, Description: "Path of at least five hops"},
				{IndicatorType: models.IndicatorCounterparty, Threshold: 3, Weight: 0.25, Description: "At least three distinct counterparties on the path"},
				{IndicatorType: models.IndicatorTiming, Threshold: 72, Weight: 0.2, Description: "Whole path completed within 72 hours"},
				{IndicatorType: models.IndicatorBehavioral, Threshold: 1, Weight: 0.2, Description: "Mixing service or privacy protocol touched"},
			},
			MinTransactions: 5,
			TimeWindowHours: 72,
			Enabled:         true,
			Metadata:        map[string]any{"executable": true, "category": "obfuscation"},
		},
		{
			PatternID:   IDCustodyChange,
			Name:        "Custody Change",
			Description: "Abrupt change in behavior suggesting the wallet changed hands",
			PatternType: models.PatternCustodyChange,
			Severity:    models.SeverityMedium,
			Indicators: []models.PatternIndicator{
				{IndicatorType: models.IndicatorBehavioral, Threshold: 0.6, Weight: 0.4, Description: "Amount, timing and counterparty profile shift between halves of history"},
				{IndicatorType: models.IndicatorTiming, Threshold: 7, Weight: 0.3, Description: "Dormancy of more than seven days"},
				{IndicatorType: models.IndicatorAmount, Threshold: 2, Weight: 0.3, Description: "Recent amounts differ from history by 2x or more"},
			},
			MinTransactions: 10,
			TimeWindowHours: 720,
			Enabled:         true,
			Metadata:        map[string]any{"executable": true, "category": "ownership"},
		},
		{
			PatternID:   IDSynchronizedTransfers,
			Name:        "Synchronized Transfers",
			Description: "Near-identical amounts sent by several senders within the same few minutes",
			PatternType: models.PatternSynchronizedTransfers,
			Severity:    models.SeverityHigh,
			Indicators: []models.PatternIndicator{
				{IndicatorType: models.IndicatorTiming, Threshold: 300, Weight: 0.4, Description: "Transfers within 300 seconds of each other"},
				{IndicatorType: models.IndicatorAmount, Threshold: 0.1, Weight: 0.3, Description: "Amounts within 10% of each other"},
				{IndicatorType: models.IndicatorCounterparty, Threshold: 2, Weight: 0.3, Description: "At least two distinct senders"},
			},
			MinTransactions: 2,
			TimeWindowHours: 24,
			Enabled:         true,
			Metadata:        map[string]any{"executable": true, "category": "coordination"},
		},
		{
			PatternID:   IDOffPeakActivity,
			Name:        "Off-Peak Activity",
			Description: "Activity concentrated in low-traffic UTC hours, often to evade manual review",
			PatternType: models.PatternOffPeakActivity,
			Severity:    models.SeverityLow,
			Indicators: []models.PatternIndicator{
				{IndicatorType: models.IndicatorTiming, Threshold: 0.5, Weight: 0.6, Description: "Share of transactions between 22:00 and 06:59 UTC"},
				{IndicatorType: models.IndicatorAmount, Threshold: 1000, Weight: 0.4, Description: "High-value transfers during off-peak hours"},
			},
			MinTransactions: 5,
			TimeWindowHours: 168,
			Enabled:         true,
			Metadata:        map[string]any{"executable": true, "category": "timing"},
		},
		{
			PatternID:   IDRoundAmountPatterns,
			Name:        "Round Amount Patterns",
			Description: "Repeated transfers of round denominations typical of structuring or mixer deposits",
			PatternType: models.PatternRoundAmounts,
			Severity:    models.SeverityMedium,
			Indicators: []models.PatternIndicator{
				{IndicatorType: models.IndicatorAmount, Threshold: 0.05, Weight: 0.7, Description: "Amount within 5% of a common denomination"},
				{IndicatorType: models.IndicatorFrequency, Threshold: 3, Weight: 0.3, Description: "At least three round transfers"},
			},
			MinTransactions: 3,
			TimeWindowHours: 168,
			Enabled:         true,
			Metadata:        map[string]any{"executable": true, "category": "structuring"},
		},
		{
			PatternID:   IDHighFrequencyTrading,
			Name:        "High Frequency Trading",
			Description: "Bursts of automated transfers at machine cadence",
			PatternType: models.PatternHighFrequencyTrading,
			Severity:    models.SeverityMedium,
			Indicators: []models.PatternIndicator{
				{IndicatorType: models.IndicatorFrequency, Threshold: 100, Weight: 0.6, Description: "More than 100 transfers per hour"},
				{IndicatorType: models.IndicatorTiming, Threshold: 0.8, Weight: 0.4, Description: "Highly regular inter-transfer intervals"},
			},
			MinTransactions: 50,
			TimeWindowHours: 1,
			Enabled:         true,
			Metadata:        map[string]any{"executable": false, "category": "automation"},
		},
		{
			PatternID:   IDStructuring,
			Name:        "Structuring",
			Description: "Amounts split to stay just under reporting thresholds",
			PatternType: models.PatternStructuring,
			Severity:    models.SeverityHigh,
			Indicators: []models.PatternIndicator{
				{IndicatorType: models.IndicatorAmount, Threshold: 10000, Weight: 0.6, Description: "Transfers clustered just below 10,000"},
				{IndicatorType: models.IndicatorFrequency, Threshold: 3, Weight: 0.4, Description: "Several sub-threshold transfers in the window"},
			},
			MinTransactions: 3,
			TimeWindowHours: 24,
			Enabled:         true,
			Metadata:        map[string]any{"executable": false, "category": "structuring"},
		},
		{
			PatternID:   IDMixerUsage,
			Name:        "Mixer Usage",
			Description: "Direct interaction with a known mixing service",
			PatternType: models.PatternMixerUsage,
			Severity:    models.SeveritySevere,
			Indicators: []models.PatternIndicator{
				{IndicatorType: models.IndicatorCounterparty, Threshold: 1, Weight: 0.8, Description: "Counterparty is a known mixer"},
				{IndicatorType: models.IndicatorAmount, Threshold: 0.1, Weight: 0.2, Description: "Fixed-denomination deposits"},
			},
			MinTransactions: 1,
			TimeWindowHours: 720,
			Enabled:         true,
			Metadata:        map[string]any{"executable": false, "category": "obfuscation"},
		},
		{
			PatternID:   IDBridgeHopping,
			Name:        "Bridge Hopping",
			Description: "Rapid movement across several cross-chain bridges",
			PatternType: models.PatternBridgeHopping,
			Severity:    models.SeverityHigh,
			Indicators: []models.PatternIndicator{
				{IndicatorType: models.IndicatorSequence, Threshold: 2, Weight: 0.5, Description: "Two or more bridge hops"},
				{IndicatorType: models.IndicatorTiming, Threshold: 6, Weight: 0.3, Description: "Hops within six hours"},
				{IndicatorType: models.IndicatorGeographic, Threshold: 2, Weight: 0.2, Description: "Funds land on two or more chains"},
			},
			MinTransactions: 2,
			TimeWindowHours: 48,
			Enabled:         true,
			Metadata:        map[string]any{"executable": false, "category": "cross_chain"},
		},
	}
}
