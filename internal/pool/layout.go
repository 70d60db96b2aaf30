// Package pool discovers AMM pools on chain and decodes their accounts.
package pool

import (
	"encoding/binary"
	"fmt"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/solkey"
)

// Pool account layout. Fixed offsets, little-endian integers.
const (
	// PoolAccountSize is the serialized size of a pool account.
	PoolAccountSize = 300

	offTokenAMint  = 8
	offTokenBMint  = 40
	offTokenAVault = 72
	offTokenBVault = 104
	offLPMint      = 136
	offFeeAccount  = 168
	offTradeFeeBps = 200

	// maxTradeFeeBps bounds the trade fee; the basis-point denominator is
	// 10000 and a fee at or above it would consume the whole input.
	maxTradeFeeBps = 9999
)

// PoolDiscriminator tags pool accounts. Occupies the first 8 bytes.
var PoolDiscriminator = [8]byte{0x50, 0x4f, 0x4f, 0x4c, 0x41, 0x43, 0x43, 0x54}

// SPL token account layout.
const (
	// TokenAccountSize is the serialized size of an SPL token account.
	TokenAccountSize = 165

	offTokenMint   = 0
	offTokenOwner  = 32
	offTokenAmount = 64
)

// SPL mint layout.
const (
	// MintAccountSize is the serialized size of an SPL mint.
	MintAccountSize = 82

	offMintSupply   = 36
	offMintDecimals = 44
)

// DecodePoolAccount decodes the static fields of a pool account. Reserve
// amounts, decimals, and LP supply come from separate vault and mint reads.
func DecodePoolAccount(pubkey string, data []byte) (*domain.Pool, error) {
	if len(data) < PoolAccountSize {
		return nil, fmt.Errorf("%w: pool %s: %d bytes, need %d", domain.ErrDecode, pubkey, len(data), PoolAccountSize)
	}
	if [8]byte(data[:8]) != PoolDiscriminator {
		return nil, fmt.Errorf("%w: pool %s: bad discriminator", domain.ErrDecode, pubkey)
	}

	feeBps := binary.LittleEndian.Uint16(data[offTradeFeeBps : offTradeFeeBps+2])
	if feeBps > maxTradeFeeBps {
		return nil, fmt.Errorf("%w: pool %s: trade fee %d bps out of range", domain.ErrDecode, pubkey, feeBps)
	}

	return &domain.Pool{
		Address:     pubkey,
		TokenAMint:  solkey.Encode(data[offTokenAMint : offTokenAMint+32]),
		TokenBMint:  solkey.Encode(data[offTokenBMint : offTokenBMint+32]),
		TokenAVault: solkey.Encode(data[offTokenAVault : offTokenAVault+32]),
		TokenBVault: solkey.Encode(data[offTokenBVault : offTokenBVault+32]),
		LPMint:      solkey.Encode(data[offLPMint : offLPMint+32]),
		FeeAccount:  solkey.Encode(data[offFeeAccount : offFeeAccount+32]),
		TradeFeeBps: feeBps,
	}, nil
}

// EncodePoolAccount serializes a pool's static fields into account form.
func EncodePoolAccount(p *domain.Pool) ([]byte, error) {
	data := make([]byte, PoolAccountSize)
	copy(data[:8], PoolDiscriminator[:])

	for _, field := range []struct {
		off  int
		addr string
	}{
		{offTokenAMint, p.TokenAMint},
		{offTokenBMint, p.TokenBMint},
		{offTokenAVault, p.TokenAVault},
		{offTokenBVault, p.TokenBVault},
		{offLPMint, p.LPMint},
		{offFeeAccount, p.FeeAccount},
	} {
		raw, err := solkey.Decode32(field.addr)
		if err != nil {
			return nil, err
		}
		copy(data[field.off:field.off+32], raw[:])
	}

	binary.LittleEndian.PutUint16(data[offTradeFeeBps:offTradeFeeBps+2], p.TradeFeeBps)
	return data, nil
}

// TokenAccount is a decoded SPL token account.
type TokenAccount struct {
	Mint   string
	Owner  string
	Amount uint64
}

// DecodeTokenAccount decodes an SPL token account.
func DecodeTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) < TokenAccountSize {
		return nil, fmt.Errorf("%w: token account: %d bytes, need %d", domain.ErrDecode, len(data), TokenAccountSize)
	}
	return &TokenAccount{
		Mint:   solkey.Encode(data[offTokenMint : offTokenMint+32]),
		Owner:  solkey.Encode(data[offTokenOwner : offTokenOwner+32]),
		Amount: binary.LittleEndian.Uint64(data[offTokenAmount : offTokenAmount+8]),
	}, nil
}

// EncodeTokenAccount serializes an SPL token account.
func EncodeTokenAccount(a *TokenAccount) ([]byte, error) {
	data := make([]byte, TokenAccountSize)
	mint, err := solkey.Decode32(a.Mint)
	if err != nil {
		return nil, err
	}
	owner, err := solkey.Decode32(a.Owner)
	if err != nil {
		return nil, err
	}
	copy(data[offTokenMint:], mint[:])
	copy(data[offTokenOwner:], owner[:])
	binary.LittleEndian.PutUint64(data[offTokenAmount:offTokenAmount+8], a.Amount)
	return data, nil
}

// Mint is a decoded SPL mint.
type Mint struct {
	Supply   uint64
	Decimals uint8
}

// DecodeMint decodes an SPL mint account.
func DecodeMint(data []byte) (*Mint, error) {
	if len(data) < MintAccountSize {
		return nil, fmt.Errorf("%w: mint: %d bytes, need %d", domain.ErrDecode, len(data), MintAccountSize)
	}
	return &Mint{
		Supply:   binary.LittleEndian.Uint64(data[offMintSupply : offMintSupply+8]),
		Decimals: data[offMintDecimals],
	}, nil
}

// EncodeMint serializes an SPL mint account.
func EncodeMint(m *Mint) []byte {
	data := make([]byte, MintAccountSize)
	binary.LittleEndian.PutUint64(data[offMintSupply:offMintSupply+8], m.Supply)
	data[offMintDecimals] = m.Decimals
	return data
}
