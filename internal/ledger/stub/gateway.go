// Package stub provides an in-memory ledger.Gateway for testing.
package stub

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/ledger"
)

// Gateway implements ledger.Gateway backed by maps.
type Gateway struct {
	mu sync.Mutex

	Accounts map[string]ledger.Account
	Statuses map[string]*ledger.SignatureStatus

	// SubmitErr, when set, fails the next SubmitTransaction calls.
	SubmitErr error
	// SubmitErrCount, when positive, limits SubmitErr to that many
	// failures before submissions succeed again. Zero fails every call
	// while SubmitErr is set.
	SubmitErrCount int
	// Submitted collects serialized transactions in submission order.
	Submitted [][]byte

	// Recent is the blockhash served by LatestBlockhash.
	Recent ledger.Blockhash

	nextSig int
}

// NewGateway creates an empty stub gateway.
func NewGateway() *Gateway {
	return &Gateway{
		Accounts: make(map[string]ledger.Account),
		Statuses: make(map[string]*ledger.SignatureStatus),
		Recent:   ledger.Blockhash{Blockhash: base58.Encode(bytes.Repeat([]byte{0xbb}, 32)), LastValidBlockHeight: 1000},
	}
}

// SetAccount stores an account under pubkey.
func (g *Gateway) SetAccount(pubkey string, owner string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Accounts[pubkey] = ledger.Account{Lamports: 1, Owner: owner, Data: data}
}

// DeleteAccount removes an account.
func (g *Gateway) DeleteAccount(pubkey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.Accounts, pubkey)
}

// SetStatus stores a signature status.
func (g *Gateway) SetStatus(signature string, status *ledger.SignatureStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Statuses[signature] = status
}

// ReadAccount fetches one account from the stub store.
func (g *Gateway) ReadAccount(_ context.Context, pubkey string) (*ledger.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	acc, ok := g.Accounts[pubkey]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", domain.ErrNotFound, pubkey)
	}
	cp := acc
	return &cp, nil
}

// ReadAccounts fetches several accounts; missing ones are nil entries.
func (g *Gateway) ReadAccounts(_ context.Context, pubkeys []string) ([]*ledger.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*ledger.Account, len(pubkeys))
	for i, pk := range pubkeys {
		if acc, ok := g.Accounts[pk]; ok {
			cp := acc
			out[i] = &cp
		}
	}
	return out, nil
}

// ScanAccounts lists accounts owned by programID matching the filter.
func (g *Gateway) ScanAccounts(_ context.Context, programID string, filter *ledger.ScanFilter) ([]ledger.KeyedAccount, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []ledger.KeyedAccount
	for pk, acc := range g.Accounts {
		if acc.Owner != programID {
			continue
		}
		if !matches(acc, filter) {
			continue
		}
		out = append(out, ledger.KeyedAccount{Pubkey: pk, Account: acc})
	}
	return out, nil
}

func matches(acc ledger.Account, filter *ledger.ScanFilter) bool {
	if filter == nil {
		return true
	}
	if filter.DataSize > 0 && uint64(len(acc.Data)) != filter.DataSize {
		return false
	}
	for _, m := range filter.Memcmp {
		end := m.Offset + uint64(len(m.Bytes))
		if end > uint64(len(acc.Data)) {
			return false
		}
		if !bytes.Equal(acc.Data[m.Offset:end], m.Bytes) {
			return false
		}
	}
	return true
}

// SubmitTransaction records the transaction and returns a synthetic signature.
func (g *Gateway) SubmitTransaction(_ context.Context, serialized []byte) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SubmitErr != nil {
		err := g.SubmitErr
		if g.SubmitErrCount > 0 {
			g.SubmitErrCount--
			if g.SubmitErrCount == 0 {
				g.SubmitErr = nil
			}
		}
		return "", err
	}
	g.Submitted = append(g.Submitted, append([]byte(nil), serialized...))
	g.nextSig++
	return fmt.Sprintf("stubsig%d", g.nextSig), nil
}

// GetSignatureStatus returns a stored status, or nil when unknown.
func (g *Gateway) GetSignatureStatus(_ context.Context, signature string) (*ledger.SignatureStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.Statuses[signature]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

// LatestBlockhash returns the configured blockhash.
func (g *Gateway) LatestBlockhash(_ context.Context) (*ledger.Blockhash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := g.Recent
	return &cp, nil
}
