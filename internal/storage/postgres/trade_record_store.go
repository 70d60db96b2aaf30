package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/observability"
	"solana-amm-client/internal/storage"
)

// TradeRecordStore implements storage.TradeRecordStore using PostgreSQL.
// Raw token amounts are stored as BIGINT and converted at the boundary.
type TradeRecordStore struct {
	pool *Pool
}

// NewTradeRecordStore creates a new TradeRecordStore.
func NewTradeRecordStore(pool *Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)

const tradeRecordColumns = `
	signature, input_mint, output_mint, pool,
	amount_in, amount_out, min_amount_out, price_impact,
	state, submitted_at, confirmed_at
`

// Insert adds a new record. Returns ErrDuplicateKey if signature exists.
func (s *TradeRecordStore) Insert(ctx context.Context, t *domain.TradeRecord) error {
	query := `
		INSERT INTO trade_records (` + tradeRecordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		t.Signature, t.InputMint, t.OutputMint, t.Pool,
		int64(t.AmountIn), int64(t.AmountOut), int64(t.MinAmountOut), t.PriceImpact,
		string(t.State), t.SubmittedAt, t.ConfirmedAt,
	)
	observability.RecordDBQuery("postgres", "insert_trade_record", time.Since(start).Seconds(), err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade record: %w", err)
	}
	return nil
}

// UpdateState moves a record to its terminal state. Returns ErrNotFound if
// the signature does not exist.
func (s *TradeRecordStore) UpdateState(ctx context.Context, signature string, state domain.TradeState, confirmedAtMs int64) error {
	query := `
		UPDATE trade_records
		SET state = $2, confirmed_at = $3
		WHERE signature = $1
	`

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, signature, string(state), confirmedAtMs)
	observability.RecordDBQuery("postgres", "update_trade_record", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("update trade record state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetBySignature retrieves a record. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetBySignature(ctx context.Context, signature string) (*domain.TradeRecord, error) {
	query := `
		SELECT ` + tradeRecordColumns + `
		FROM trade_records
		WHERE signature = $1
	`

	start := time.Now()
	row := s.pool.QueryRow(ctx, query, signature)
	t, err := scanTradeRecord(row)
	observability.RecordDBQuery("postgres", "get_trade_record", time.Since(start).Seconds(), err)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade record by signature: %w", err)
	}
	return t, nil
}

// GetByMint retrieves all records trading the mint on either side, ordered
// by submission time ASC.
func (s *TradeRecordStore) GetByMint(ctx context.Context, mint string) ([]*domain.TradeRecord, error) {
	query := `
		SELECT ` + tradeRecordColumns + `
		FROM trade_records
		WHERE input_mint = $1 OR output_mint = $1
		ORDER BY submitted_at ASC, signature ASC
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, mint)
	observability.RecordDBQuery("postgres", "get_trade_records", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("get trade records by mint: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

// scanTradeRecord scans a single row into a TradeRecord.
func scanTradeRecord(row pgx.Row) (*domain.TradeRecord, error) {
	var t domain.TradeRecord
	var amountIn, amountOut, minAmountOut int64
	var state string

	err := row.Scan(
		&t.Signature, &t.InputMint, &t.OutputMint, &t.Pool,
		&amountIn, &amountOut, &minAmountOut, &t.PriceImpact,
		&state, &t.SubmittedAt, &t.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}

	t.AmountIn = uint64(amountIn)
	t.AmountOut = uint64(amountOut)
	t.MinAmountOut = uint64(minAmountOut)
	t.State = domain.TradeState(state)
	return &t, nil
}

// scanTradeRecords scans multiple rows into a slice of TradeRecord.
func scanTradeRecords(rows pgx.Rows) ([]*domain.TradeRecord, error) {
	var records []*domain.TradeRecord

	for rows.Next() {
		t, err := scanTradeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade record row: %w", err)
		}
		records = append(records, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade record rows: %w", err)
	}

	return records, nil
}
