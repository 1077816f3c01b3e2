package heuristics

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/pattern-engine/pkg/models"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func tx(hash string, amount float64, at time.Time, sender, recipient string) models.Transaction {
	return models.Transaction{
		Hash:       hash,
		Address:    sender,
		Amount:     amount,
		Timestamp:  at,
		Sender:     sender,
		Recipient:  recipient,
		Blockchain: "bitcoin",
	}
}

func TestPeelingChain_HalvingSequence(t *testing.T) {
	txs := []models.Transaction{
		tx("t1", 1.0, base, "wallet", "r1"),
		tx("t2", 0.5, base.Add(1*time.Hour), "wallet", "r2"),
		tx("t3", 0.25, base.Add(2*time.Hour), "wallet", "r3"),
		tx("t4", 0.125, base.Add(3*time.Hour), "wallet", "r4"),
	}

	res := NewPeelingChainDetector(DefaultPeelingChainConfig()).Detect(txs, "wallet", 0.5)

	require.True(t, res.Detected)
	assert.Equal(t, "peeling_chain", res.PatternID)
	assert.GreaterOrEqual(t, res.TransactionCount, 3)
	assert.Greater(t, res.ConfidenceScore, 0.5)
	// 0.5 base + 0.1 length + 0.2 consistency + 0.075 compression
	assert.InDelta(t, 0.875, res.ConfidenceScore, 1e-9)
	assert.Equal(t, models.SeverityHigh, res.Severity)
	assert.Contains(t, res.IndicatorsMet, "time_compression")
	assert.Equal(t, 4, res.Metadata["unique_recipients"])
	require.NotEmpty(t, res.Evidence)
	assert.Equal(t, []string{"t1", "t2", "t3", "t4"}, res.Evidence[0].Metadata["sequence"])
}

func TestPeelingChain_UnsortedInputAndSameRecipient(t *testing.T) {
	d := NewPeelingChainDetector(DefaultPeelingChainConfig())

	shuffled := []models.Transaction{
		tx("t3", 0.25, base.Add(2*time.Hour), "wallet", "r3"),
		tx("t1", 1.0, base, "wallet", "r1"),
		tx("t2", 0.5, base.Add(1*time.Hour), "wallet", "r2"),
	}
	original := append([]models.Transaction(nil), shuffled...)
	res := d.Detect(shuffled, "wallet", 0.5)
	assert.True(t, res.Detected)
	assert.Equal(t, original, shuffled, "input must not be reordered")

	sameRecipient := []models.Transaction{
		tx("t1", 1.0, base, "wallet", "r1"),
		tx("t2", 0.5, base.Add(1*time.Hour), "wallet", "r1"),
		tx("t3", 0.25, base.Add(2*time.Hour), "wallet", "r1"),
	}
	res = d.Detect(sameRecipient, "wallet", 0.5)
	assert.False(t, res.Detected)
	assert.Equal(t, ReasonNoPatternFound, res.DetectionReason())
}

func TestPeelingChain_BelowMinConfidence(t *testing.T) {
	txs := []models.Transaction{
		tx("t1", 1.0, base, "wallet", "r1"),
		tx("t2", 0.5, base.Add(1*time.Hour), "wallet", "r2"),
		tx("t3", 0.25, base.Add(2*time.Hour), "wallet", "r3"),
		tx("t4", 0.125, base.Add(3*time.Hour), "wallet", "r4"),
	}

	res := NewPeelingChainDetector(DefaultPeelingChainConfig()).Detect(txs, "wallet", 0.95)

	assert.False(t, res.Detected)
	assert.Equal(t, 0.0, res.ConfidenceScore)
	assert.Equal(t, ReasonBelowMinConfidence, res.DetectionReason())
}

func TestPeelingChain_ZeroValueTransfersIgnored(t *testing.T) {
	txs := []models.Transaction{
		tx("c1", 0, base, "wallet", "contract-a"),
		tx("c2", 0, base.Add(1*time.Hour), "wallet", "contract-b"),
		tx("c3", 0, base.Add(2*time.Hour), "wallet", "contract-c"),
	}

	res := NewPeelingChainDetector(DefaultPeelingChainConfig()).Detect(txs, "wallet", 0.5)

	assert.False(t, res.Detected)
	assert.Equal(t, ReasonNoPatternFound, res.DetectionReason())
}

func layeringChain(intermediaries []string) []models.Transaction {
	amounts := []float64{6, 4.4, 3.3, 2.6, 2.2, 1.7, 1.3}
	nodes := append([]string{"origin"}, intermediaries...)
	var txs []models.Transaction
	for i := 0; i+1 < len(nodes); i++ {
		txs = append(txs, tx(fmt.Sprintf("h%d", i), amounts[i], base.Add(time.Duration(i*10)*time.Minute), nodes[i], nodes[i+1]))
	}
	return txs
}

func TestLayering_SixHopPath(t *testing.T) {
	txs := layeringChain([]string{"n1", "n2", "n3", "n4", "n5", "n6"})

	res := NewLayeringDetector(DefaultLayeringConfig()).Detect(txs, "origin", 0.5)

	require.True(t, res.Detected)
	assert.Equal(t, 6, res.TransactionCount)
	// 0.4 base + 0.1 hops + 0.2 diversity + 0.1 no business + 0.1 compression
	assert.InDelta(t, 0.9, res.ConfidenceScore, 1e-9)
	assert.Equal(t, models.SeverityHigh, res.Severity)
	assert.Contains(t, res.IndicatorsMissed, "extended_hop_count")
	assert.Contains(t, res.IndicatorsMissed, "mixing_indicators")
	assert.Contains(t, res.IndicatorsMet, "no_business_relationship")
	assert.Len(t, res.Evidence, 6)
}

func TestLayering_MixerTouchpointRaisesConfidence(t *testing.T) {
	txs := layeringChain([]string{"n1", "tornado-pool", "n3", "n4", "n5", "n6", "n7"})

	res := NewLayeringDetector(DefaultLayeringConfig()).Detect(txs, "origin", 0.5)

	require.True(t, res.Detected)
	assert.Equal(t, 1.0, res.ConfidenceScore)
	assert.Equal(t, models.SeverityCritical, res.Severity)
	assert.Contains(t, res.IndicatorsMet, "mixing_indicators")
	assert.Contains(t, res.IndicatorsMet, "extended_hop_count")
	assert.Equal(t, 1, res.Metadata["mixer_touchpoints"])
}

func TestLayering_ShortOrSlowPathNotDetected(t *testing.T) {
	d := NewLayeringDetector(DefaultLayeringConfig())

	short := layeringChain([]string{"n1", "n2", "n3", "n4"})
	short = append(short, tx("x", 1, base, "elsewhere", "other"))
	res := d.Detect(short, "origin", 0.5)
	assert.False(t, res.Detected)
	assert.Equal(t, ReasonNoPatternFound, res.DetectionReason())

	slow := layeringChain([]string{"n1", "n2", "n3", "n4", "n5"})
	slow[4].Timestamp = base.Add(100 * time.Hour)
	res = d.Detect(slow, "origin", 0.5)
	assert.False(t, res.Detected, "path exceeds the 72h budget")
	assert.Equal(t, ReasonNoPatternFound, res.DetectionReason())
}

func TestLayering_TwoExchangesImplyBusinessRelationship(t *testing.T) {
	txs := layeringChain([]string{"n1", "binance-a", "n3", "kraken-b", "n5", "n6"})

	res := NewLayeringDetector(DefaultLayeringConfig()).Detect(txs, "origin", 0.5)

	require.True(t, res.Detected)
	// 0.4 base + 0.1 hops + 0.2 diversity + 0.1 compression, no business bonus
	assert.InDelta(t, 0.8, res.ConfidenceScore, 1e-9)
	assert.Contains(t, res.IndicatorsMissed, "no_business_relationship")
	assert.NotContains(t, res.IndicatorsMet, "no_business_relationship")
	assert.Equal(t, 2, res.Metadata["exchange_touchpoints"])
}

func TestCustodyChange_OwnerSwitch(t *testing.T) {
	var txs []models.Transaction
	for i := 0; i < 7; i++ {
		txs = append(txs, tx(fmt.Sprintf("old%d", i), 1.0, base.Add(time.Duration(i)*24*time.Hour), "wallet", "payroll"))
	}
	resumed := base.Add(26 * 24 * time.Hour)
	for i := 0; i < 5; i++ {
		txs = append(txs, tx(fmt.Sprintf("new%d", i), 10.0, resumed.Add(time.Duration(i)*time.Hour), "wallet", fmt.Sprintf("fresh%d", i)))
	}

	res := NewCustodyChangeDetector(DefaultCustodyChangeConfig()).Detect(txs, "wallet", 0.5)

	require.True(t, res.Detected)
	assert.Greater(t, res.ConfidenceScore, 0.6)
	assert.ElementsMatch(t, []string{"behavior_change", "inactivity_period", "amount_change"}, res.IndicatorsMet)
	assert.Greater(t, res.Metadata["longest_gap_days"], 7.0)
}

// dormantWallet is two identical six-day runs of steady payments separated
// by gapDays, so only the inactivity sub-score can move.
func dormantWallet(gapDays int) []models.Transaction {
	var txs []models.Transaction
	for i := 0; i < 12; i++ {
		day := i
		if i >= 6 {
			day = i - 1 + gapDays
		}
		txs = append(txs, tx(fmt.Sprintf("t%d", i), 2.0, base.Add(time.Duration(day)*24*time.Hour), "wallet", "merchant"))
	}
	return txs
}

func TestCustodyChange_InactivityAlone(t *testing.T) {
	d := NewCustodyChangeDetector(DefaultCustodyChangeConfig())

	res := d.Detect(dormantWallet(7), "wallet", 0.05)
	assert.False(t, res.Detected, "a 7-day gap is not beyond the threshold")
	assert.Equal(t, ReasonNoPatternFound, res.DetectionReason())

	res = d.Detect(dormantWallet(8), "wallet", 0.05)
	require.True(t, res.Detected)
	assert.InDelta(t, 8.0/30, res.Metadata["inactivity_score"], 1e-9)
	assert.InDelta(t, 8.0/90, res.ConfidenceScore, 1e-9)
	assert.Contains(t, res.IndicatorsMissed, "inactivity_period")

	res = d.Detect(dormantWallet(21), "wallet", 0.05)
	require.True(t, res.Detected)
	assert.Equal(t, 0.0, res.Metadata["behavior_change_score"])
	assert.Equal(t, 0.0, res.Metadata["amount_change_score"])
	assert.InDelta(t, 0.7/3, res.ConfidenceScore, 1e-9)
	assert.Equal(t, []string{"inactivity_period"}, res.IndicatorsMet)
	assert.InDelta(t, 21.0, res.Metadata["longest_gap_days"], 1e-9)
}

func TestCustodyChange_SteadyWalletNotDetected(t *testing.T) {
	var txs []models.Transaction
	for i := 0; i < 12; i++ {
		txs = append(txs, tx(fmt.Sprintf("t%d", i), 2.0, base.Add(time.Duration(i)*24*time.Hour), "wallet", "merchant"))
	}

	res := NewCustodyChangeDetector(DefaultCustodyChangeConfig()).Detect(txs, "wallet", 0.1)

	assert.False(t, res.Detected)
	assert.NotEmpty(t, res.DetectionReason())
}

func TestSynchronizedTransfers_GroupAcrossSenders(t *testing.T) {
	d := NewSynchronizedTransferDetector(DefaultSynchronizedTransferConfig())
	txs := []models.Transaction{
		tx("s1", 5.0, base, "s-one", "collector"),
		tx("s2", 5.2, base.Add(60*time.Second), "s-two", "collector"),
		tx("s3", 4.9, base.Add(120*time.Second), "s-three", "collector"),
		tx("late", 5.0, base.Add(2*time.Hour), "s-four", "collector"),
	}

	res := d.Detect(txs, "collector", 0.5)

	require.True(t, res.Detected)
	// 0.6 base + 0.2 size + 0.1 diversity
	assert.InDelta(t, 0.9, res.ConfidenceScore, 1e-9)
	assert.Equal(t, 3, res.TransactionCount)
	assert.Equal(t, 1, res.Metadata["groups_found"])
}

func TestSynchronizedTransfers_SingleSenderDoesNotQualify(t *testing.T) {
	d := NewSynchronizedTransferDetector(DefaultSynchronizedTransferConfig())
	txs := []models.Transaction{
		tx("s1", 5.0, base, "same", "collector"),
		tx("s2", 5.0, base.Add(30*time.Second), "same", "collector"),
	}

	res := d.Detect(txs, "collector", 0.5)

	assert.False(t, res.Detected)
	assert.Equal(t, ReasonNoPatternFound, res.DetectionReason())
}

func TestOffPeakActivity(t *testing.T) {
	d := NewOffPeakActivityDetector(DefaultOffPeakActivityConfig())
	night := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	txs := []models.Transaction{
		tx("n1", 1500, night, "wallet", "a"),
		tx("n2", 2500, night.Add(2*time.Hour), "wallet", "b"),
		tx("n3", 1200, night.Add(3*time.Hour), "wallet", "c"),
		tx("n4", 5000, night.Add(4*time.Hour), "wallet", "d"),
		tx("d1", 10, time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC), "wallet", "e"),
	}

	res := d.Detect(txs, "wallet", 0.5)

	require.True(t, res.Detected)
	// 0.6 × 4/5 + 0.4 × 4/4
	assert.InDelta(t, 0.88, res.ConfidenceScore, 1e-9)
	assert.Equal(t, 4, res.TransactionCount)
	assert.Contains(t, res.IndicatorsMet, "high_value_off_peak")

	var daytime []models.Transaction
	for i := 0; i < 5; i++ {
		daytime = append(daytime, tx(fmt.Sprintf("d%d", i), 1500, base.Add(time.Duration(i)*time.Hour), "wallet", "x"))
	}
	res = d.Detect(daytime, "wallet", 0.5)
	assert.False(t, res.Detected)
}

func TestRoundAmounts_NearOne(t *testing.T) {
	txs := []models.Transaction{
		tx("r1", 1.0, base, "wallet", "a"),
		tx("r2", 1.005, base.Add(time.Hour), "wallet", "b"),
		tx("r3", 0.995, base.Add(2*time.Hour), "wallet", "c"),
		tx("r4", 1.009, base.Add(3*time.Hour), "wallet", "d"),
		tx("r5", 0.991, base.Add(4*time.Hour), "wallet", "e"),
	}

	res := NewRoundAmountDetector(DefaultRoundAmountConfig()).Detect(txs, "wallet", 0.5)

	require.True(t, res.Detected)
	assert.Equal(t, 0.9, res.ConfidenceScore)
	assert.Equal(t, 5, res.TransactionCount)
	assert.Contains(t, res.Metadata["common_round_amounts"], "1.0")
}

func TestRoundAmounts_SparseRoundsBelowFloor(t *testing.T) {
	amounts := []float64{1.0, 5.0, 10.0, 1.37, 2.71, 3.14, 7.77, 13.3, 23.4, 77.7}
	var txs []models.Transaction
	for i, a := range amounts {
		txs = append(txs, tx(fmt.Sprintf("t%d", i), a, base.Add(time.Duration(i)*time.Hour), "wallet", "x"))
	}

	d := NewRoundAmountDetector(DefaultRoundAmountConfig())

	res := d.Detect(txs, "wallet", 0.5)
	assert.False(t, res.Detected)
	assert.Equal(t, ReasonBelowMinConfidence, res.DetectionReason())

	res = d.Detect(txs, "wallet", 0.4)
	assert.True(t, res.Detected)
	assert.InDelta(t, 0.45, res.ConfidenceScore, 1e-9)
}

func TestFormatDenomination(t *testing.T) {
	assert.Equal(t, "1.0", formatDenomination(1))
	assert.Equal(t, "1000.0", formatDenomination(1000))
	assert.Equal(t, "0.5", formatDenomination(0.5))
	assert.Equal(t, "0.1", formatDenomination(0.1))
}

func TestAllDetectors_SingleTransaction(t *testing.T) {
	single := []models.Transaction{tx("only", 1.0, base, "wallet", "x")}

	for _, d := range DefaultDetectors() {
		t.Run(d.ID(), func(t *testing.T) {
			res := d.Detect(single, "wallet", 0.5)
			assert.False(t, res.Detected)
			assert.Equal(t, 0.0, res.ConfidenceScore)
			assert.NotEmpty(t, res.DetectionReason())
			assert.Equal(t, d.ID(), res.PatternID)
		})
	}
}

func TestAllDetectors_EmptyInput(t *testing.T) {
	for _, d := range DefaultDetectors() {
		res := d.Detect(nil, "wallet", 0)
		assert.False(t, res.Detected, d.ID())
		assert.Equal(t, ReasonInsufficientTransactions, res.DetectionReason(), d.ID())
	}
}

func TestAllDetectors_ConfidenceBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	addrs := []string{"wallet", "a", "b", "c", "tornado-x", "binance-hot", "d", "e"}

	for round := 0; round < 50; round++ {
		n := rng.Intn(40)
		txs := make([]models.Transaction, 0, n)
		for i := 0; i < n; i++ {
			at := base.Add(time.Duration(rng.Intn(72*60)) * time.Minute)
			amount := rng.Float64() * 2000
			if rng.Intn(4) == 0 {
				amount = 0
			}
			txs = append(txs, tx(fmt.Sprintf("g%d-%d", round, i), amount, at,
				addrs[rng.Intn(len(addrs))], addrs[rng.Intn(len(addrs))]))
		}

		for _, d := range DefaultDetectors() {
			minConf := rng.Float64()
			res := d.Detect(txs, "wallet", minConf)
			assert.GreaterOrEqual(t, res.ConfidenceScore, 0.0, d.ID())
			assert.LessOrEqual(t, res.ConfidenceScore, 1.0, d.ID())
			if res.Detected {
				assert.GreaterOrEqual(t, res.ConfidenceScore, minConf, d.ID())
				assert.True(t, res.Severity.Valid(), d.ID())
			} else {
				assert.NotEmpty(t, res.DetectionReason(), d.ID())
			}
		}
	}
}

func TestKnownEntities(t *testing.T) {
	assert.True(t, IsKnownMixer("Tornado-Cash-Router"))
	assert.True(t, IsKnownMixer("wasabi-coordinator"))
	assert.False(t, IsKnownMixer("bc1qplainaddress"))
	assert.False(t, IsKnownMixer(""))

	name, ok := KnownExchange("3AfBdeS2QYHSM3PQ9bfXuUbJPMiXYZ")
	assert.True(t, ok)
	assert.Equal(t, "Kraken", name)

	_, ok = KnownExchange("binance-hot-wallet-7")
	assert.True(t, ok)

	_, ok = KnownExchange("bc1qplainaddress")
	assert.False(t, ok)
}
