package trade

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/solkey"
)

func instructionTestPool() *domain.Pool {
	return &domain.Pool{
		Address:     testAddr(1),
		TokenAMint:  testAddr(2),
		TokenBMint:  testAddr(3),
		TokenAVault: testAddr(4),
		TokenBVault: testAddr(5),
		LPMint:      testAddr(6),
		FeeAccount:  testAddr(7),
	}
}

func TestSwapInstructionData(t *testing.T) {
	p := instructionTestPool()
	program := testAddr(8)
	user := testAddr(9)

	ix, err := SwapInstruction(program, p, user, testAddr(10), testAddr(11), p.TokenAMint, 1_000_000, 990_000)
	require.NoError(t, err)

	require.Equal(t, program, ix.ProgramID)
	require.Len(t, ix.Data, 17)
	require.Equal(t, byte(swapInstructionTag), ix.Data[0])
	require.Equal(t, uint64(1_000_000), binary.LittleEndian.Uint64(ix.Data[1:9]))
	require.Equal(t, uint64(990_000), binary.LittleEndian.Uint64(ix.Data[9:17]))
}

func TestSwapInstructionVaultDirection(t *testing.T) {
	p := instructionTestPool()
	program := testAddr(8)
	user := testAddr(9)

	// A-side input: vault A before vault B.
	ix, err := SwapInstruction(program, p, user, testAddr(10), testAddr(11), p.TokenAMint, 100, 90)
	require.NoError(t, err)
	require.Equal(t, p.TokenAVault, ix.Accounts[5].Pubkey)
	require.Equal(t, p.TokenBVault, ix.Accounts[6].Pubkey)

	// B-side input flips the vault order.
	ix, err = SwapInstruction(program, p, user, testAddr(10), testAddr(11), p.TokenBMint, 100, 90)
	require.NoError(t, err)
	require.Equal(t, p.TokenBVault, ix.Accounts[5].Pubkey)
	require.Equal(t, p.TokenAVault, ix.Accounts[6].Pubkey)
}

func TestSwapInstructionAccountRoles(t *testing.T) {
	p := instructionTestPool()
	user := testAddr(9)

	ix, err := SwapInstruction(testAddr(8), p, user, testAddr(10), testAddr(11), p.TokenAMint, 100, 90)
	require.NoError(t, err)
	require.Len(t, ix.Accounts, 9)

	// Only the user signs; the authority PDA and token program are readonly.
	for i, meta := range ix.Accounts {
		require.Equal(t, meta.Pubkey == user, meta.IsSigner, "account %d", i)
	}
	require.False(t, ix.Accounts[1].IsWritable) // authority
	require.Equal(t, solkey.TokenProgram, ix.Accounts[8].Pubkey)
	require.False(t, ix.Accounts[8].IsWritable)
}

func TestPoolAuthorityDeterministic(t *testing.T) {
	a, err := PoolAuthority(testAddr(8), testAddr(1))
	require.NoError(t, err)
	b, err := PoolAuthority(testAddr(8), testAddr(1))
	require.NoError(t, err)
	require.Equal(t, a, b)

	other, err := PoolAuthority(testAddr(8), testAddr(2))
	require.NoError(t, err)
	require.NotEqual(t, a, other)
}

func TestCreateATAInstruction(t *testing.T) {
	owner := testAddr(9)
	mint := testAddr(2)

	ix, err := CreateATAInstruction(owner, owner, mint)
	require.NoError(t, err)

	require.Equal(t, solkey.AssociatedTokenProgram, ix.ProgramID)
	require.Len(t, ix.Accounts, 6)
	require.True(t, ix.Accounts[0].IsSigner)

	wantATA, err := solkey.AssociatedTokenAddress(owner, mint)
	require.NoError(t, err)
	require.Equal(t, wantATA, ix.Accounts[1].Pubkey)
	require.Empty(t, ix.Data)
}
