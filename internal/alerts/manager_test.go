package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/pattern-engine/pkg/models"
)

type recordingSink struct {
	mu     sync.Mutex
	got    []Alert
	err    error
	closed bool
}

func (s *recordingSink) Publish(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, a)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func riskyResult(risk float64) models.PatternAnalysisResult {
	return models.PatternAnalysisResult{
		AnalysisID:       "0d1c3c52-5a0f-4a5b-9f33-2a4cfbe2b0a1",
		Address:          "bc1qrisky",
		Blockchain:       "bitcoin",
		OverallRiskScore: risk,
		Patterns: []models.PatternResult{
			{PatternID: "round_amount_patterns", PatternName: "Round Amount Patterns", Detected: true, Severity: models.SeverityMedium},
			{PatternID: "peeling_chain", PatternName: "Peeling Chain", Detected: true, Severity: models.SeverityCritical},
		},
	}
}

func TestConsumeBelowThresholdIsSilent(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager(Options{MinRiskScore: 0.5, Sinks: []Sink{sink}})

	require.NoError(t, m.Consume(context.Background(), riskyResult(0.49)))
	assert.Empty(t, m.Recent(0))
	assert.Empty(t, sink.got)
}

func TestConsumeRaisesAlert(t *testing.T) {
	sink := &recordingSink{}
	var broadcast []Alert
	m := NewManager(Options{
		MinRiskScore: 0.5,
		Sinks:        []Sink{sink},
		Broadcast:    func(a Alert) { broadcast = append(broadcast, a) },
	})

	require.NoError(t, m.Consume(context.Background(), riskyResult(0.81)))

	recent := m.Recent(10)
	require.Len(t, recent, 1)
	a := recent[0]
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.Timestamp.IsZero())
	assert.Equal(t, models.SeverityCritical, a.Severity)
	assert.Equal(t, AlertTypeHighRisk, a.AlertType)
	assert.Equal(t, []string{"peeling_chain", "round_amount_patterns"}, a.Patterns)
	assert.InDelta(t, 0.81, a.RiskScore, 1e-9)
	assert.Contains(t, a.Description, "Peeling Chain")

	require.Len(t, broadcast, 1)
	assert.Equal(t, a.ID, broadcast[0].ID)
	require.Len(t, sink.got, 1)
}

func TestEmitJoinsSinkErrors(t *testing.T) {
	bad := &recordingSink{err: errors.New("broker down")}
	good := &recordingSink{}
	m := NewManager(Options{Sinks: []Sink{bad, good}})

	err := m.Emit(context.Background(), Alert{Address: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, good.got, 1, "later sinks still receive the alert")
	assert.Len(t, m.Recent(0), 1)
}

func TestRecentIsCappedAndNewestFirst(t *testing.T) {
	m := NewManager(Options{MaxHistory: 3})
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Emit(context.Background(), Alert{Address: fmt.Sprintf("a%d", i)}))
	}

	all := m.Recent(0)
	require.Len(t, all, 3)
	assert.Equal(t, "a4", all[0].Address)
	assert.Equal(t, "a2", all[2].Address)

	assert.Len(t, m.Recent(2), 2)
}

func TestBySeverity(t *testing.T) {
	m := NewManager(Options{})
	ctx := context.Background()
	require.NoError(t, m.Emit(ctx, Alert{Address: "low", Severity: models.SeverityLow}))
	require.NoError(t, m.Emit(ctx, Alert{Address: "high", Severity: models.SeverityHigh}))
	require.NoError(t, m.Emit(ctx, Alert{Address: "severe", Severity: models.SeveritySevere}))

	got := m.BySeverity(models.SeverityHigh)
	require.Len(t, got, 2)
	assert.Equal(t, "severe", got[0].Address)
	assert.Equal(t, "high", got[1].Address)
}

func TestCloseClosesSinks(t *testing.T) {
	s := &recordingSink{}
	m := NewManager(Options{Sinks: []Sink{s}})
	require.NoError(t, m.Close())
	assert.True(t, s.closed)
}

func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return cfg
}

func TestKafkaSinkPublishesEnvelope(t *testing.T) {
	p := mocks.NewSyncProducer(t, producerConfig())
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env Envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.Type != AlertTypeHighRisk || env.TS == 0 {
			return fmt.Errorf("unexpected envelope %+v", env)
		}
		var a Alert
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return err
		}
		if a.Address != "bc1qrisky" {
			return fmt.Errorf("unexpected address %q", a.Address)
		}
		return nil
	})

	sink := NewKafkaSinkWithProducer(p, "pattern-alerts")
	alert := FromAnalysis(riskyResult(0.9))
	require.NoError(t, sink.Publish(context.Background(), alert))
	require.NoError(t, sink.Close())
}

func TestKafkaSinkWrapsSendError(t *testing.T) {
	p := mocks.NewSyncProducer(t, producerConfig())
	p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSinkWithProducer(p, "pattern-alerts")
	err := sink.Publish(context.Background(), Alert{AlertType: AlertTypeHighRisk})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}

func TestKafkaSinkHonorsCancelledContext(t *testing.T) {
	p := mocks.NewSyncProducer(t, producerConfig())
	sink := NewKafkaSinkWithProducer(p, "pattern-alerts")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sink.Publish(ctx, Alert{}), context.Canceled)
	require.NoError(t, sink.Close())
}
