// Package token reads token mints, holder counts and Metaplex metadata.
package token

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/ledger"
	"solana-amm-client/internal/pool"
	"solana-amm-client/internal/solkey"
)

// metadata account prefix: key (1) + update authority (32) + mint (32).
const metadataHeaderSize = 65

// Service resolves token information from the ledger.
type Service struct {
	gw  ledger.Gateway
	log *zap.Logger
}

// NewService creates a token service.
func NewService(gw ledger.Gateway, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{gw: gw, log: log}
}

// GetTokenInfo reads a mint's supply and decimals, counts its holders and
// attaches Metaplex metadata when a metadata account exists. Metadata and
// holder count are best-effort; the mint itself must exist and decode.
func (s *Service) GetTokenInfo(ctx context.Context, mint string) (*domain.TokenInfo, error) {
	acct, err := s.gw.ReadAccount(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("read mint %s: %w", mint, err)
	}

	decoded, err := pool.DecodeMint(acct.Data)
	if err != nil {
		return nil, fmt.Errorf("mint %s: %w", mint, err)
	}

	info := &domain.TokenInfo{
		Mint:     mint,
		Decimals: decoded.Decimals,
		Supply:   decoded.Supply,
	}

	holders, err := s.holderCount(ctx, mint)
	if err != nil {
		s.log.Warn("holder count unavailable",
			zap.String("mint", mint),
			zap.Error(err))
	} else {
		info.HolderCount = holders
	}

	meta, err := s.GetMetadata(ctx, mint)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("metadata unavailable",
			zap.String("mint", mint),
			zap.Error(err))
	}
	info.Metadata = meta

	return info, nil
}

// holderCount scans the token program for accounts of the mint and counts
// those holding a non-zero balance.
func (s *Service) holderCount(ctx context.Context, mint string) (uint64, error) {
	mintRaw, err := solkey.Decode32(mint)
	if err != nil {
		return 0, fmt.Errorf("%w: mint %s: %v", domain.ErrInvalidParams, mint, err)
	}

	accounts, err := s.gw.ScanAccounts(ctx, solkey.TokenProgram, &ledger.ScanFilter{
		DataSize: pool.TokenAccountSize,
		Memcmp: []ledger.MemcmpFilter{
			{Offset: 0, Bytes: mintRaw[:]},
		},
	})
	if err != nil {
		return 0, err
	}

	var holders uint64
	for _, ka := range accounts {
		ta, err := pool.DecodeTokenAccount(ka.Account.Data)
		if err != nil {
			continue
		}
		if ta.Amount > 0 {
			holders++
		}
	}
	return holders, nil
}

// GetMetadata reads the Metaplex metadata account for a mint. Returns
// ErrNotFound when no metadata account exists.
func (s *Service) GetMetadata(ctx context.Context, mint string) (*domain.TokenMetadata, error) {
	addr, err := solkey.MetadataAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("derive metadata address: %w", err)
	}

	acct, err := s.gw.ReadAccount(ctx, addr)
	if err != nil {
		return nil, err
	}

	meta, err := decodeMetadata(acct.Data)
	if err != nil {
		return nil, fmt.Errorf("metadata for %s: %w", mint, err)
	}
	return meta, nil
}

// decodeMetadata parses the borsh-serialized Metaplex metadata layout: a
// fixed header followed by three length-prefixed strings (name, symbol,
// uri). On-chain strings are zero-padded to their allocated capacity.
func decodeMetadata(data []byte) (*domain.TokenMetadata, error) {
	offset := metadataHeaderSize

	name, offset, err := readBorshString(data, offset)
	if err != nil {
		return nil, err
	}
	symbol, offset, err := readBorshString(data, offset)
	if err != nil {
		return nil, err
	}
	uri, _, err := readBorshString(data, offset)
	if err != nil {
		return nil, err
	}

	return &domain.TokenMetadata{
		Name:   trimPadding(name),
		Symbol: trimPadding(symbol),
		URI:    trimPadding(uri),
	}, nil
}

// readBorshString reads a u32-length-prefixed string at offset.
func readBorshString(data []byte, offset int) (string, int, error) {
	if offset+4 > len(data) {
		return "", 0, fmt.Errorf("%w: metadata truncated at offset %d", domain.ErrDecode, offset)
	}
	length := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if length < 0 || offset+length > len(data) {
		return "", 0, fmt.Errorf("%w: metadata string overruns account (len %d at %d)",
			domain.ErrDecode, length, offset)
	}
	return string(data[offset : offset+length]), offset + length, nil
}

// trimPadding removes the trailing zero padding of an on-chain string.
func trimPadding(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return s[:i]
		}
	}
	return s
}
