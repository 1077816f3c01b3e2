package alerts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rawblock/pattern-engine/pkg/models"
)

// Alert Manager
//
// Turns high-risk analyses into structured alerts for SOC tooling. Alerts are:
//   1. Broadcast via callback to connected dashboards (WebSocket hub)
//   2. Published to every registered Sink (Kafka)
//   3. Stored in memory for recent alert history
//
// Only analyses whose overall risk score reaches MinRiskScore raise an alert.

const AlertTypeHighRisk = "high_risk_address"

// Alert represents a structured risk alert
type Alert struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Severity    models.Severity `json:"severity"` // Highest severity among detected patterns
	AlertType   string          `json:"alert_type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Address     string          `json:"address"`
	Blockchain  string          `json:"blockchain"`
	AnalysisID  string          `json:"analysis_id"`
	RiskScore   float64         `json:"risk_score"`
	Patterns    []string        `json:"patterns"`
}

// Sink delivers alerts to an external system.
type Sink interface {
	Publish(ctx context.Context, alert Alert) error
	Close() error
}

// Options for creating a Manager.
type Options struct {
	MinRiskScore float64
	MaxHistory   int // Defaults to 1000
	Broadcast    func(Alert)
	Sinks        []Sink
	Logger       *zap.Logger
}

// Manager handles alert emission and history.
type Manager struct {
	mu         sync.RWMutex
	recent     []Alert
	maxHistory int

	minRisk   float64
	broadcast func(Alert)
	sinks     []Sink
	logger    *zap.Logger
}

func NewManager(opts Options) *Manager {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 1000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		recent:     make([]Alert, 0),
		maxHistory: opts.MaxHistory,
		minRisk:    opts.MinRiskScore,
		broadcast:  opts.Broadcast,
		sinks:      opts.Sinks,
		logger:     opts.Logger.Named("alerts"),
	}
}

// Consume raises an alert for a sufficiently risky analysis. It satisfies
// engine.ResultSink.
func (m *Manager) Consume(ctx context.Context, result models.PatternAnalysisResult) error {
	if len(result.Patterns) == 0 || result.OverallRiskScore < m.minRisk {
		return nil
	}
	return m.Emit(ctx, FromAnalysis(result))
}

// FromAnalysis builds the alert for an analysis result.
func FromAnalysis(result models.PatternAnalysisResult) Alert {
	sev := models.SeverityLow
	ids := make([]string, 0, len(result.Patterns))
	names := make([]string, 0, len(result.Patterns))
	for _, p := range result.Patterns {
		if !p.Detected {
			continue
		}
		ids = append(ids, p.PatternID)
		names = append(names, p.PatternName)
		if p.Severity.Rank() > sev.Rank() {
			sev = p.Severity
		}
	}
	sort.Strings(ids)

	return Alert{
		Severity:    sev,
		AlertType:   AlertTypeHighRisk,
		Title:       fmt.Sprintf("High-risk behavior on %s", result.Address),
		Description: fmt.Sprintf("Risk score %.2f. Patterns: %s", result.OverallRiskScore, strings.Join(names, ", ")),
		Address:     result.Address,
		Blockchain:  result.Blockchain,
		AnalysisID:  result.AnalysisID,
		RiskScore:   result.OverallRiskScore,
		Patterns:    ids,
	}
}

// Emit stores, broadcasts and publishes an alert. Sink failures do not stop
// delivery to the remaining sinks; they are joined into the returned error.
func (m *Manager) Emit(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	m.mu.Lock()
	m.recent = append(m.recent, alert)
	if len(m.recent) > m.maxHistory {
		m.recent = m.recent[len(m.recent)-m.maxHistory:]
	}
	m.mu.Unlock()

	if m.broadcast != nil {
		m.broadcast(alert)
	}

	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, alert); err != nil {
			m.logger.Error("alert sink failed", zap.String("alert_id", alert.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}

	m.logger.Info("alert emitted",
		zap.String("severity", string(alert.Severity)),
		zap.String("address", alert.Address),
		zap.Float64("risk_score", alert.RiskScore),
		zap.Strings("patterns", alert.Patterns))
	return errors.Join(errs...)
}

// Recent returns up to limit alerts, most recent first. limit <= 0 returns
// all retained alerts.
func (m *Manager) Recent(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.recent) {
		limit = len(m.recent)
	}
	out := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.recent[len(m.recent)-1-i]
	}
	return out
}

// BySeverity returns retained alerts at or above min, most recent first.
func (m *Manager) BySeverity(min models.Severity) []Alert {
	all := m.Recent(0)
	out := make([]Alert, 0, len(all))
	for _, a := range all {
		if a.Severity.AtLeast(min) {
			out = append(out, a)
		}
	}
	return out
}

// Close closes every sink.
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
