package patterns

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rawblock/pattern-engine/pkg/models"
)

// Pattern Signature Library
//
// In-process catalog of pattern definitions. Reads dominate: the orchestrator
// consults the library on every analysis, while enable/disable/update are
// rare administrative actions. A single RWMutex covers both.
//
// Signatures are never deleted. Getters hand out copies so callers cannot
// mutate library state behind the lock.

var (
	ErrPatternNotFound  = errors.New("pattern not found")
	ErrDuplicatePattern = errors.New("pattern id already registered")
	ErrInvalidSignature = errors.New("invalid pattern signature")
)

// Statistics summarises the catalog.
type Statistics struct {
	Total                   int                        `json:"total"`
	Enabled                 int                        `json:"enabled"`
	ByType                  map[models.PatternType]int `json:"by_type"`
	BySeverity              map[models.Severity]int    `json:"by_severity"`
	AvgIndicatorsPerPattern float64                    `json:"avg_indicators_per_pattern"`
	AvgTimeWindowHours      float64                    `json:"avg_time_window_hours"`
}

// SignatureUpdate carries the fields to change; nil fields are left as is.
type SignatureUpdate struct {
	Name            *string
	Description     *string
	Severity        *models.Severity
	Indicators      []models.PatternIndicator
	MinTransactions *int
	TimeWindowHours *float64
	Enabled         *bool
	Metadata        map[string]any
}

// Library holds pattern signatures keyed by lower-cased id.
type Library struct {
	mu         sync.RWMutex
	signatures map[string]models.PatternSignature
	order      []string
}

// NewLibrary returns a library seeded with the ten built-in signatures.
func NewLibrary() *Library {
	l := NewEmptyLibrary()
	for _, sig := range defaultSignatures() {
		// Built-ins are known valid.
		_ = l.Add(sig)
	}
	return l
}

// NewEmptyLibrary returns a library with no signatures.
func NewEmptyLibrary() *Library {
	return &Library{
		signatures: make(map[string]models.PatternSignature),
	}
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Get returns a copy of the signature with the given id.
func (l *Library) Get(id string) (models.PatternSignature, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sig, ok := l.signatures[normalizeID(id)]
	if !ok {
		return models.PatternSignature{}, false
	}
	return sig.Clone(), true
}

// All returns copies of every signature.
func (l *Library) All() map[string]models.PatternSignature {
	return l.filter(func(models.PatternSignature) bool { return true })
}

// ByType returns signatures of one pattern type.
func (l *Library) ByType(t models.PatternType) map[string]models.PatternSignature {
	return l.filter(func(s models.PatternSignature) bool { return s.PatternType == t })
}

// BySeverity returns signatures declared at exactly the given severity.
func (l *Library) BySeverity(sev models.Severity) map[string]models.PatternSignature {
	return l.filter(func(s models.PatternSignature) bool { return s.Severity == sev })
}

// Enabled returns signatures whose enabled flag is set.
func (l *Library) Enabled() map[string]models.PatternSignature {
	return l.filter(func(s models.PatternSignature) bool { return s.Enabled })
}

// IDs returns pattern ids in registration order.
func (l *Library) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

// Executable reports whether the signature has a wired detector.
func (l *Library) Executable(id string) bool {
	sig, ok := l.Get(id)
	if !ok {
		return false
	}
	exec, ok := sig.Metadata["executable"].(bool)
	return !ok || exec
}

func (l *Library) filter(keep func(models.PatternSignature) bool) map[string]models.PatternSignature {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]models.PatternSignature)
	for id, sig := range l.signatures {
		if keep(sig) {
			out[id] = sig.Clone()
		}
	}
	return out
}

// Add registers a new signature. The id is lower-cased.
func (l *Library) Add(sig models.PatternSignature) error {
	sig.PatternID = normalizeID(sig.PatternID)
	if err := validate(sig); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.signatures[sig.PatternID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePattern, sig.PatternID)
	}
	l.signatures[sig.PatternID] = sig.Clone()
	l.order = append(l.order, sig.PatternID)
	return nil
}

// Update applies the non-nil fields of u. Returns false when the id is
// unknown or the resulting signature would be invalid.
func (l *Library) Update(id string, u SignatureUpdate) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := normalizeID(id)
	current, ok := l.signatures[key]
	if !ok {
		return false
	}

	next := current.Clone()
	if u.Name != nil {
		next.Name = *u.Name
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.Severity != nil {
		next.Severity = *u.Severity
	}
	if u.Indicators != nil {
		next.Indicators = append([]models.PatternIndicator(nil), u.Indicators...)
	}
	if u.MinTransactions != nil {
		next.MinTransactions = *u.MinTransactions
	}
	if u.TimeWindowHours != nil {
		next.TimeWindowHours = *u.TimeWindowHours
	}
	if u.Enabled != nil {
		next.Enabled = *u.Enabled
	}
	if u.Metadata != nil {
		if next.Metadata == nil {
			next.Metadata = make(map[string]any, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			next.Metadata[k] = v
		}
	}

	if validate(next) != nil {
		return false
	}
	l.signatures[key] = next
	return true
}

// Enable turns a signature on.
func (l *Library) Enable(id string) bool {
	return l.setEnabled(id, true)
}

// Disable turns a signature off.
func (l *Library) Disable(id string) bool {
	return l.setEnabled(id, false)
}

func (l *Library) setEnabled(id string, enabled bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := normalizeID(id)
	sig, ok := l.signatures[key]
	if !ok {
		return false
	}
	sig.Enabled = enabled
	l.signatures[key] = sig
	return true
}

// Statistics computes catalog-wide counts and averages.
func (l *Library) Statistics() Statistics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Statistics{
		Total:      len(l.signatures),
		ByType:     make(map[models.PatternType]int),
		BySeverity: make(map[models.Severity]int),
	}
	if stats.Total == 0 {
		return stats
	}

	indicators := 0
	window := 0.0
	for _, sig := range l.signatures {
		if sig.Enabled {
			stats.Enabled++
		}
		stats.ByType[sig.PatternType]++
		stats.BySeverity[sig.Severity]++
		indicators += len(sig.Indicators)
		window += sig.TimeWindowHours
	}
	stats.AvgIndicatorsPerPattern = float64(indicators) / float64(stats.Total)
	stats.AvgTimeWindowHours = window / float64(stats.Total)
	return stats
}

func validate(sig models.PatternSignature) error {
	if sig.PatternID == "" {
		return fmt.Errorf("%w: empty pattern id", ErrInvalidSignature)
	}
	if sig.PatternType == "" {
		return fmt.Errorf("%w: %s has no pattern type", ErrInvalidSignature, sig.PatternID)
	}
	if !sig.Severity.Valid() {
		return fmt.Errorf("%w: %s has unknown severity %q", ErrInvalidSignature, sig.PatternID, sig.Severity)
	}
	if sig.MinTransactions < 0 || sig.TimeWindowHours < 0 {
		return fmt.Errorf("%w: %s has negative limits", ErrInvalidSignature, sig.PatternID)
	}
	for _, ind := range sig.Indicators {
		if ind.Threshold <= 0 {
			return fmt.Errorf("%w: %s indicator %s threshold must be > 0", ErrInvalidSignature, sig.PatternID, ind.IndicatorType)
		}
		if ind.Weight <= 0 || ind.Weight > 1 {
			return fmt.Errorf("%w: %s indicator %s weight must be in (0,1]", ErrInvalidSignature, sig.PatternID, ind.IndicatorType)
		}
	}
	return nil
}
