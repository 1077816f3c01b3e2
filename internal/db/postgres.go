package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rawblock/pattern-engine/pkg/models"
)

// schemaSQL is compiled into the binary so the runtime image does not need
// the .sql file.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore serves address histories from address_transfers and persists
// analysis results.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	logger = logger.Named("db")
	logger.Info("connected to PostgreSQL")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	s.logger.Info("pattern schema initialized")
	return nil
}

// Ping reports database reachability for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const historySQL = `
	SELECT hash, address, amount, block_time, sender, recipient, blockchain,
	       block_number, gas_used, gas_price
	FROM address_transfers
	WHERE address = $1
	  AND blockchain = $2
	  AND block_time >= NOW() - make_interval(secs => $3)
	ORDER BY block_time ASC`

// GetTransactionHistory implements engine.HistoryProvider.
func (s *PostgresStore) GetTransactionHistory(ctx context.Context, address, blockchain string, timeRangeHours float64) ([]models.Transaction, error) {
	rows, err := s.pool.Query(ctx, historySQL, address, normalizeChain(blockchain), timeRangeHours*3600)
	if err != nil {
		return nil, fmt.Errorf("query address_transfers: %w", err)
	}

	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Transaction, error) {
		var t models.Transaction
		err := row.Scan(&t.Hash, &t.Address, &t.Amount, &t.Timestamp, &t.Sender, &t.Recipient,
			&t.Blockchain, &t.BlockNumber, &t.GasUsed, &t.GasPrice)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan address_transfers: %w", err)
	}
	return txs, nil
}

const insertTransferSQL = `
	INSERT INTO address_transfers
	(hash, address, blockchain, amount, block_time, sender, recipient, block_number, gas_used, gas_price)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (hash, address, sender, recipient) DO NOTHING`

// RecordTransfers bulk-inserts collected transfers, ignoring duplicates. It
// satisfies engine.TransferRecorder.
func (s *PostgresStore) RecordTransfers(ctx context.Context, txs []models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	if err := s.pool.SendBatch(ctx, transferBatch(txs)).Close(); err != nil {
		return fmt.Errorf("insert address_transfers: %w", err)
	}
	s.logger.Debug("transfers recorded", zap.Int("transfers", len(txs)))
	return nil
}

func transferBatch(txs []models.Transaction) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, t := range txs {
		batch.Queue(insertTransferSQL, t.Hash, t.Address, normalizeChain(t.Blockchain), t.Amount, t.Timestamp,
			t.Sender, t.Recipient, t.BlockNumber, t.GasUsed, t.GasPrice)
	}
	return batch
}

const insertAnalysisSQL = `
	INSERT INTO pattern_analyses
	(analysis_id, address, blockchain, overall_risk_score, total_transactions, time_range_hours,
	 processing_time_ms, analysis_start, analysis_end, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (analysis_id) DO NOTHING`

const insertDetectionSQL = `
	INSERT INTO pattern_detections
	(analysis_id, pattern_id, confidence_score, severity, transaction_count,
	 indicators_met, indicators_missed, evidence, metadata, detected_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (analysis_id, pattern_id) DO NOTHING`

// Consume persists the analysis and its detections atomically. It satisfies
// engine.ResultSink.
func (s *PostgresStore) Consume(ctx context.Context, result models.PatternAnalysisResult) error {
	id, err := uuid.Parse(result.AnalysisID)
	if err != nil {
		return fmt.Errorf("analysis id %q: %w", result.AnalysisID, err)
	}
	meta, err := json.Marshal(nonNilMap(result.Metadata))
	if err != nil {
		return fmt.Errorf("encode analysis metadata: %w", err)
	}
	detections, err := detectionArgs(id, result.Patterns)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertAnalysisSQL, id, result.Address, normalizeChain(result.Blockchain),
		result.OverallRiskScore, result.TotalTransactionsAnalyzed, result.TimeRangeHours,
		result.ProcessingTimeMs, result.AnalysisStart, result.AnalysisEnd, meta)
	if err != nil {
		return fmt.Errorf("failed to insert pattern_analyses: %w", err)
	}

	for _, args := range detections {
		if _, err := tx.Exec(ctx, insertDetectionSQL, args...); err != nil {
			return fmt.Errorf("failed to insert pattern_detections: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit analysis %s: %w", id, err)
	}
	s.logger.Debug("analysis persisted",
		zap.String("analysis_id", result.AnalysisID),
		zap.Int("detections", len(detections)))
	return nil
}

// detectionArgs builds one insertDetectionSQL argument list per detected
// pattern.
func detectionArgs(id uuid.UUID, results []models.PatternResult) ([][]any, error) {
	var out [][]any
	for _, r := range results {
		if !r.Detected {
			continue
		}
		evidence, err := json.Marshal(r.Evidence)
		if err != nil {
			return nil, fmt.Errorf("encode evidence for %s: %w", r.PatternID, err)
		}
		meta, err := json.Marshal(nonNilMap(r.Metadata))
		if err != nil {
			return nil, fmt.Errorf("encode metadata for %s: %w", r.PatternID, err)
		}
		out = append(out, []any{
			id,
			strings.ToLower(r.PatternID),
			r.ConfidenceScore,
			string(r.Severity),
			r.TransactionCount,
			nonNilStrings(r.IndicatorsMet),
			nonNilStrings(r.IndicatorsMissed),
			evidence,
			meta,
			r.DetectedAt,
		})
	}
	return out, nil
}

func normalizeChain(chain string) string {
	chain = strings.ToLower(strings.TrimSpace(chain))
	if chain == "" || chain == "btc" {
		return "bitcoin"
	}
	return chain
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
