// Package storage defines the persistence interfaces for price samples and
// trade records, with in-memory, ClickHouse, and Postgres implementations.
package storage

import (
	"context"

	"solana-amm-client/internal/domain"
)

// PriceSampleStore provides access to price_samples storage. Samples are the
// raw observations behind candle aggregation; the store is append-only.
type PriceSampleStore interface {
	// Insert adds one sample. Returns ErrDuplicateKey if (mint, pool, timestamp) exists.
	Insert(ctx context.Context, s *domain.PriceSample) error

	// InsertBulk adds multiple samples. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, samples []*domain.PriceSample) error

	// GetByMint retrieves all samples for a mint, ordered by timestamp ASC.
	GetByMint(ctx context.Context, mint string) ([]*domain.PriceSample, error)

	// GetByTimeRange retrieves samples for a mint within [start, end] seconds (inclusive).
	GetByTimeRange(ctx context.Context, mint string, start, end int64) ([]*domain.PriceSample, error)
}

// TradeRecordStore provides access to trade_records storage. Records are
// journaled at submission and finalized once; the terminal update is the
// only write after insert.
type TradeRecordStore interface {
	// Insert adds a new record. Returns ErrDuplicateKey if signature exists.
	Insert(ctx context.Context, t *domain.TradeRecord) error

	// UpdateState moves a record to its terminal state. Returns ErrNotFound
	// if the signature does not exist.
	UpdateState(ctx context.Context, signature string, state domain.TradeState, confirmedAtMs int64) error

	// GetBySignature retrieves a record. Returns ErrNotFound if not exists.
	GetBySignature(ctx context.Context, signature string) (*domain.TradeRecord, error)

	// GetByMint retrieves all records trading the mint on either side,
	// ordered by submission time ASC.
	GetByMint(ctx context.Context, mint string) ([]*domain.TradeRecord, error)
}
