package memory

import (
	"context"
	"sort"
	"sync"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/storage"
)

// TradeRecordStore is an in-memory implementation of storage.TradeRecordStore.
type TradeRecordStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeRecord // keyed by signature
}

// NewTradeRecordStore creates a new in-memory trade record store.
func NewTradeRecordStore() *TradeRecordStore {
	return &TradeRecordStore{
		data: make(map[string]*domain.TradeRecord),
	}
}

// Insert adds a new record. Returns ErrDuplicateKey if signature exists.
func (s *TradeRecordStore) Insert(_ context.Context, t *domain.TradeRecord) error {
	if t == nil || t.Signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.Signature]; exists {
		return storage.ErrDuplicateKey
	}

	recordCopy := *t
	s.data[t.Signature] = &recordCopy
	return nil
}

// UpdateState moves a record to its terminal state.
func (s *TradeRecordStore) UpdateState(_ context.Context, signature string, state domain.TradeState, confirmedAtMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data[signature]
	if !ok {
		return storage.ErrNotFound
	}

	t.State = state
	t.ConfirmedAt = confirmedAtMs
	return nil
}

// GetBySignature retrieves a record. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetBySignature(_ context.Context, signature string) (*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[signature]
	if !ok {
		return nil, storage.ErrNotFound
	}

	recordCopy := *t
	return &recordCopy, nil
}

// GetByMint retrieves all records trading the mint, ordered by submission ASC.
func (s *TradeRecordStore) GetByMint(_ context.Context, mint string) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeRecord
	for _, t := range s.data {
		if t.InputMint == mint || t.OutputMint == mint {
			recordCopy := *t
			result = append(result, &recordCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt < result[j].SubmittedAt
	})

	return result, nil
}

var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)
