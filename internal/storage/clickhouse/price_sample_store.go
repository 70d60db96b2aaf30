package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/observability"
	"solana-amm-client/internal/storage"
)

// PriceSampleStore implements storage.PriceSampleStore using ClickHouse.
// MergeTree does not enforce uniqueness, so duplicates are detected with an
// explicit existence check before insert.
type PriceSampleStore struct {
	conn *Conn
}

// NewPriceSampleStore creates a new PriceSampleStore.
func NewPriceSampleStore(conn *Conn) *PriceSampleStore {
	return &PriceSampleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceSampleStore = (*PriceSampleStore)(nil)

// Insert adds one sample. Returns ErrDuplicateKey if (mint, pool, timestamp) exists.
func (s *PriceSampleStore) Insert(ctx context.Context, sample *domain.PriceSample) error {
	return s.InsertBulk(ctx, []*domain.PriceSample{sample})
}

// InsertBulk adds multiple samples. Fails entire batch on any duplicate
// (mint, pool, timestamp).
func (s *PriceSampleStore) InsertBulk(ctx context.Context, samples []*domain.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	start := time.Now()

	type key struct {
		mint      string
		pool      string
		timestamp int64
	}
	seen := make(map[key]struct{})
	for _, p := range samples {
		k := key{p.Mint, p.Pool, p.Timestamp}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, p := range samples {
		exists, err := s.exists(ctx, p.Mint, p.Pool, p.Timestamp)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_samples (
			mint, pool, price, liquidity, slot, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range samples {
		err = batch.Append(
			p.Mint, p.Pool, p.Price, p.Liquidity, uint64(p.Slot), uint64(p.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	err = batch.Send()
	observability.RecordDBQuery("clickhouse", "insert_price_samples", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByMint retrieves all samples for a mint, ordered by timestamp ASC.
func (s *PriceSampleStore) GetByMint(ctx context.Context, mint string) ([]*domain.PriceSample, error) {
	query := `
		SELECT mint, pool, price, liquidity, slot, timestamp
		FROM price_samples
		WHERE mint = ?
		ORDER BY timestamp ASC, pool ASC
	`

	start := time.Now()
	rows, err := s.conn.Query(ctx, query, mint)
	observability.RecordDBQuery("clickhouse", "get_price_samples", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query by mint: %w", err)
	}
	defer rows.Close()

	return scanPriceSamples(rows)
}

// GetByTimeRange retrieves samples for a mint within [start, end] (inclusive).
func (s *PriceSampleStore) GetByTimeRange(ctx context.Context, mint string, startTs, endTs int64) ([]*domain.PriceSample, error) {
	query := `
		SELECT mint, pool, price, liquidity, slot, timestamp
		FROM price_samples
		WHERE mint = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, pool ASC
	`

	start := time.Now()
	rows, err := s.conn.Query(ctx, query, mint, uint64(startTs), uint64(endTs))
	observability.RecordDBQuery("clickhouse", "get_price_samples", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanPriceSamples(rows)
}

// exists checks if a sample with the given key exists.
func (s *PriceSampleStore) exists(ctx context.Context, mint, pool string, timestamp int64) (bool, error) {
	query := `
		SELECT count(*) FROM price_samples
		WHERE mint = ? AND pool = ? AND timestamp = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, mint, pool, uint64(timestamp)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRows is the subset of driver.Rows the scanners need.
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanPriceSamples scans multiple rows.
func scanPriceSamples(rows chRows) ([]*domain.PriceSample, error) {
	var samples []*domain.PriceSample

	for rows.Next() {
		var p domain.PriceSample
		var slot, timestamp uint64

		err := rows.Scan(&p.Mint, &p.Pool, &p.Price, &p.Liquidity, &slot, &timestamp)
		if err != nil {
			return nil, fmt.Errorf("scan price sample row: %w", err)
		}

		p.Slot = int64(slot)
		p.Timestamp = int64(timestamp)
		samples = append(samples, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price sample rows: %w", err)
	}

	return samples, nil
}
