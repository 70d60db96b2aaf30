package pool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/solkey"
)

func testAddr(tag byte) string {
	var b [32]byte
	for i := range b {
		b[i] = tag
	}
	return solkey.Encode(b[:])
}

func testPool() *domain.Pool {
	return &domain.Pool{
		Address:     testAddr(1),
		TokenAMint:  testAddr(2),
		TokenBMint:  testAddr(3),
		TokenAVault: testAddr(4),
		TokenBVault: testAddr(5),
		LPMint:      testAddr(6),
		FeeAccount:  testAddr(7),
		TradeFeeBps: 30,
	}
}

func TestPoolAccountRoundTrip(t *testing.T) {
	p := testPool()

	data, err := EncodePoolAccount(p)
	require.NoError(t, err)
	require.Len(t, data, PoolAccountSize)

	got, err := DecodePoolAccount(p.Address, data)
	require.NoError(t, err)
	require.Equal(t, p.TokenAMint, got.TokenAMint)
	require.Equal(t, p.TokenBMint, got.TokenBMint)
	require.Equal(t, p.TokenAVault, got.TokenAVault)
	require.Equal(t, p.TokenBVault, got.TokenBVault)
	require.Equal(t, p.LPMint, got.LPMint)
	require.Equal(t, p.FeeAccount, got.FeeAccount)
	require.Equal(t, uint16(30), got.TradeFeeBps)
}

func TestDecodePoolAccountTooShort(t *testing.T) {
	_, err := DecodePoolAccount(testAddr(1), make([]byte, PoolAccountSize-1))
	require.ErrorIs(t, err, domain.ErrDecode)
}

func TestDecodePoolAccountBadDiscriminator(t *testing.T) {
	data, err := EncodePoolAccount(testPool())
	require.NoError(t, err)
	data[0] ^= 0xff

	_, err = DecodePoolAccount(testAddr(1), data)
	require.ErrorIs(t, err, domain.ErrDecode)
}

func TestDecodePoolAccountFeeOutOfRange(t *testing.T) {
	p := testPool()
	p.TradeFeeBps = 10_000
	data, err := EncodePoolAccount(p)
	require.NoError(t, err)

	_, err = DecodePoolAccount(p.Address, data)
	require.ErrorIs(t, err, domain.ErrDecode)

	// 9999 bps is the last representable fee.
	p.TradeFeeBps = 9_999
	data, err = EncodePoolAccount(p)
	require.NoError(t, err)
	got, err := DecodePoolAccount(p.Address, data)
	require.NoError(t, err)
	require.Equal(t, uint16(9_999), got.TradeFeeBps)
}

func TestTokenAccountRoundTrip(t *testing.T) {
	acc := &TokenAccount{
		Mint:   testAddr(2),
		Owner:  testAddr(9),
		Amount: 123_456_789,
	}

	data, err := EncodeTokenAccount(acc)
	require.NoError(t, err)
	require.Len(t, data, TokenAccountSize)

	got, err := DecodeTokenAccount(data)
	require.NoError(t, err)
	require.Equal(t, acc, got)
}

func TestDecodeTokenAccountTooShort(t *testing.T) {
	_, err := DecodeTokenAccount(make([]byte, 64))
	require.ErrorIs(t, err, domain.ErrDecode)
}

func TestMintRoundTrip(t *testing.T) {
	m := &Mint{Supply: 1_000_000_000_000, Decimals: 9}

	got, err := DecodeMint(EncodeMint(m))
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestDecodeMintTooShort(t *testing.T) {
	_, err := DecodeMint(make([]byte, 44))
	require.ErrorIs(t, err, domain.ErrDecode)
}
