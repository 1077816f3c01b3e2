package engine

//go:generate mockgen -destination=mocks/mock_history_provider.go -package=mocks github.com/rawblock/pattern-engine/internal/engine HistoryProvider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rawblock/pattern-engine/pkg/models"
)

var (
	ErrHistoryFetch    = errors.New("transaction history fetch failed")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrBatchTooLarge   = errors.New("batch exceeds maximum size")
	ErrEmptyBatch      = errors.New("batch has no addresses")
	ErrNoHistorySource = errors.New("no history provider configured")
)

// HistoryProvider returns the transfers touching address within the last
// timeRangeHours. Order is unspecified. An address with no activity yields an
// empty slice and a nil error.
type HistoryProvider interface {
	GetTransactionHistory(ctx context.Context, address, blockchain string, timeRangeHours float64) ([]models.Transaction, error)
}

// RetryConfig controls RetryingProvider.
type RetryConfig struct {
	Timeout         time.Duration // Per attempt
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns the service defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
	}
}

// RetryingProvider bounds each fetch with a timeout and retries transient
// failures with exponential backoff. ErrInvalidAddress is never retried.
type RetryingProvider struct {
	inner  HistoryProvider
	cfg    RetryConfig
	logger *zap.Logger
}

func NewRetryingProvider(inner HistoryProvider, cfg RetryConfig, logger *zap.Logger) *RetryingProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingProvider{inner: inner, cfg: cfg, logger: logger.Named("history")}
}

func (p *RetryingProvider) GetTransactionHistory(ctx context.Context, address, blockchain string, timeRangeHours float64) ([]models.Transaction, error) {
	var (
		txs     []models.Transaction
		attempt int
	)

	operation := func() error {
		attempt++
		callCtx := ctx
		if p.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
			defer cancel()
		}

		var err error
		txs, err = p.inner.GetTransactionHistory(callCtx, address, blockchain, timeRangeHours)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidAddress) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		p.logger.Warn("history fetch attempt failed",
			zap.String("address", address),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.cfg.InitialInterval
	expBackoff.MaxInterval = p.cfg.MaxInterval
	expBackoff.MaxElapsedTime = p.cfg.MaxElapsedTime

	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(max(p.cfg.MaxRetries, 0))), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("fetch history for %s after %d attempts: %w", address, attempt, err)
	}
	return txs, nil
}

// TransferRecorder stores fetched transfers so a local source can serve them
// later.
type TransferRecorder interface {
	RecordTransfers(ctx context.Context, txs []models.Transaction) error
}

// WriteThroughProvider copies every successful fetch into a TransferRecorder.
// Recording failures are logged and never fail the fetch.
type WriteThroughProvider struct {
	inner  HistoryProvider
	store  TransferRecorder
	logger *zap.Logger
}

func NewWriteThroughProvider(inner HistoryProvider, store TransferRecorder, logger *zap.Logger) *WriteThroughProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WriteThroughProvider{inner: inner, store: store, logger: logger.Named("history")}
}

func (p *WriteThroughProvider) GetTransactionHistory(ctx context.Context, address, blockchain string, timeRangeHours float64) ([]models.Transaction, error) {
	txs, err := p.inner.GetTransactionHistory(ctx, address, blockchain, timeRangeHours)
	if err != nil || len(txs) == 0 {
		return txs, err
	}
	if err := p.store.RecordTransfers(ctx, txs); err != nil {
		p.logger.Warn("recording transfers failed",
			zap.String("address", address),
			zap.Int("transfers", len(txs)),
			zap.Error(err))
	}
	return txs, nil
}
