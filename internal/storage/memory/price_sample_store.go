package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/storage"
)

// PriceSampleStore is an in-memory implementation of storage.PriceSampleStore.
type PriceSampleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PriceSample // keyed by (mint, pool, timestamp)
}

// NewPriceSampleStore creates a new in-memory price sample store.
func NewPriceSampleStore() *PriceSampleStore {
	return &PriceSampleStore{
		data: make(map[string]*domain.PriceSample),
	}
}

// sampleKey generates a unique key for a sample.
func sampleKey(mint, pool string, timestamp int64) string {
	return fmt.Sprintf("%s|%s|%d", mint, pool, timestamp)
}

// Insert adds one sample. Returns ErrDuplicateKey if the key exists.
func (s *PriceSampleStore) Insert(ctx context.Context, sample *domain.PriceSample) error {
	return s.InsertBulk(ctx, []*domain.PriceSample{sample})
}

// InsertBulk adds multiple samples. Fails entire batch on duplicate.
func (s *PriceSampleStore) InsertBulk(_ context.Context, samples []*domain.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(samples))

	for _, p := range samples {
		if p == nil || p.Mint == "" {
			return storage.ErrInvalidInput
		}
		key := sampleKey(p.Mint, p.Pool, p.Timestamp)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, p := range samples {
		key := sampleKey(p.Mint, p.Pool, p.Timestamp)
		sampleCopy := *p
		s.data[key] = &sampleCopy
	}

	return nil
}

// GetByMint retrieves all samples for a mint, ordered by timestamp ASC.
func (s *PriceSampleStore) GetByMint(_ context.Context, mint string) ([]*domain.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceSample
	for _, p := range s.data {
		if p.Mint == mint {
			sampleCopy := *p
			result = append(result, &sampleCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})

	return result, nil
}

// GetByTimeRange retrieves samples for a mint within [start, end] (inclusive).
func (s *PriceSampleStore) GetByTimeRange(_ context.Context, mint string, start, end int64) ([]*domain.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceSample
	for _, p := range s.data {
		if p.Mint == mint && p.Timestamp >= start && p.Timestamp <= end {
			sampleCopy := *p
			result = append(result, &sampleCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})

	return result, nil
}

var _ storage.PriceSampleStore = (*PriceSampleStore)(nil)
