package token

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/ledger/stub"
	"solana-amm-client/internal/pool"
	"solana-amm-client/internal/solkey"
)

func tokenTestAddr(tag byte) string {
	return base58.Encode(bytes.Repeat([]byte{tag}, 32))
}

// borshString writes a u32-length-prefixed string padded to capacity, the
// way Metaplex serializes fixed-capacity fields.
func borshString(s string, capacity int) []byte {
	buf := make([]byte, 4+capacity)
	binary.LittleEndian.PutUint32(buf[:4], uint32(capacity))
	copy(buf[4:], s)
	return buf
}

func metadataAccount(name, symbol, uri string) []byte {
	data := make([]byte, metadataHeaderSize)
	data = append(data, borshString(name, 32)...)
	data = append(data, borshString(symbol, 10)...)
	data = append(data, borshString(uri, 200)...)
	return data
}

func seedMint(t *testing.T, gw *stub.Gateway, mint string, supply uint64, decimals uint8) {
	t.Helper()
	gw.SetAccount(mint, solkey.TokenProgram, pool.EncodeMint(&pool.Mint{
		Supply:   supply,
		Decimals: decimals,
	}))
}

func seedHolder(t *testing.T, gw *stub.Gateway, addr, mint, owner string, amount uint64) {
	t.Helper()
	data, err := pool.EncodeTokenAccount(&pool.TokenAccount{
		Mint:   mint,
		Owner:  owner,
		Amount: amount,
	})
	require.NoError(t, err)
	gw.SetAccount(addr, solkey.TokenProgram, data)
}

func TestGetTokenInfo(t *testing.T) {
	gw := stub.NewGateway()
	mint := tokenTestAddr(0x11)
	seedMint(t, gw, mint, 1_000_000_000, 6)

	seedHolder(t, gw, tokenTestAddr(0x21), mint, tokenTestAddr(0x31), 500)
	seedHolder(t, gw, tokenTestAddr(0x22), mint, tokenTestAddr(0x32), 0)
	seedHolder(t, gw, tokenTestAddr(0x23), mint, tokenTestAddr(0x33), 1)
	// Account of a different mint must not count.
	seedHolder(t, gw, tokenTestAddr(0x24), tokenTestAddr(0x12), tokenTestAddr(0x34), 99)

	metaAddr, err := solkey.MetadataAddress(mint)
	require.NoError(t, err)
	gw.SetAccount(metaAddr, solkey.MetaplexProgram,
		metadataAccount("Wrapped Test", "WTST", "https://example.com/meta.json"))

	svc := NewService(gw, zap.NewNop())
	info, err := svc.GetTokenInfo(context.Background(), mint)
	require.NoError(t, err)

	require.Equal(t, mint, info.Mint)
	require.Equal(t, uint8(6), info.Decimals)
	require.Equal(t, uint64(1_000_000_000), info.Supply)
	require.Equal(t, uint64(2), info.HolderCount)

	require.NotNil(t, info.Metadata)
	require.Equal(t, "Wrapped Test", info.Metadata.Name)
	require.Equal(t, "WTST", info.Metadata.Symbol)
	require.Equal(t, "https://example.com/meta.json", info.Metadata.URI)
}

func TestGetTokenInfoWithoutMetadata(t *testing.T) {
	gw := stub.NewGateway()
	mint := tokenTestAddr(0x41)
	seedMint(t, gw, mint, 42, 9)

	svc := NewService(gw, zap.NewNop())
	info, err := svc.GetTokenInfo(context.Background(), mint)
	require.NoError(t, err)

	require.Nil(t, info.Metadata)
	require.Equal(t, uint64(0), info.HolderCount)
	require.Equal(t, uint8(9), info.Decimals)
}

func TestGetTokenInfoMintMissing(t *testing.T) {
	svc := NewService(stub.NewGateway(), zap.NewNop())
	_, err := svc.GetTokenInfo(context.Background(), tokenTestAddr(0x51))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetTokenInfoMintMalformed(t *testing.T) {
	gw := stub.NewGateway()
	mint := tokenTestAddr(0x61)
	gw.SetAccount(mint, solkey.TokenProgram, []byte{1, 2, 3})

	svc := NewService(gw, zap.NewNop())
	_, err := svc.GetTokenInfo(context.Background(), mint)
	require.ErrorIs(t, err, domain.ErrDecode)
}

func TestGetMetadataTruncated(t *testing.T) {
	gw := stub.NewGateway()
	mint := tokenTestAddr(0x71)
	seedMint(t, gw, mint, 1, 0)

	metaAddr, err := solkey.MetadataAddress(mint)
	require.NoError(t, err)

	// String length claims more bytes than the account holds.
	data := make([]byte, metadataHeaderSize+4)
	binary.LittleEndian.PutUint32(data[metadataHeaderSize:], 1000)
	gw.SetAccount(metaAddr, solkey.MetaplexProgram, data)

	svc := NewService(gw, zap.NewNop())
	_, err = svc.GetMetadata(context.Background(), mint)
	require.ErrorIs(t, err, domain.ErrDecode)

	// GetTokenInfo treats broken metadata as absent.
	info, err := svc.GetTokenInfo(context.Background(), mint)
	require.NoError(t, err)
	require.Nil(t, info.Metadata)
}

func TestDecodeMetadataStopsAtPadding(t *testing.T) {
	meta, err := decodeMetadata(metadataAccount("AB", "C", ""))
	require.NoError(t, err)
	require.Equal(t, "AB", meta.Name)
	require.Equal(t, "C", meta.Symbol)
	require.Equal(t, "", meta.URI)
}
