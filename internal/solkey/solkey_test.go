package solkey

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode32RoundTrip(t *testing.T) {
	raw, err := Decode32(WSOL)
	require.NoError(t, err)
	require.Equal(t, WSOL, Encode(raw[:]))
}

func TestDecode32Rejects(t *testing.T) {
	_, err := Decode32("not-base58-0OIl")
	require.Error(t, err)

	// Valid base58 but too short.
	_, err = Decode32("abc")
	require.Error(t, err)
}

func TestFindProgramAddressDeterministic(t *testing.T) {
	pool, err := Decode32(USDC)
	require.NoError(t, err)

	addr1, bump1, err := FindProgramAddress([][]byte{[]byte("amm"), pool[:]}, TokenProgram)
	require.NoError(t, err)
	addr2, bump2, err := FindProgramAddress([][]byte{[]byte("amm"), pool[:]}, TokenProgram)
	require.NoError(t, err)

	require.Equal(t, addr1, addr2)
	require.Equal(t, bump1, bump2)

	raw, err := Decode32(addr1)
	require.NoError(t, err)
	require.False(t, isOnCurve(raw[:]))
}

func TestFindProgramAddressSeedOrderMatters(t *testing.T) {
	a, _, err := FindProgramAddress([][]byte{[]byte("ab"), []byte("c")}, TokenProgram)
	require.NoError(t, err)
	b, _, err := FindProgramAddress([][]byte{[]byte("a"), []byte("bc")}, TokenProgram)
	require.NoError(t, err)

	// Concatenation is identical, so flattened seeds collide. The derivation
	// works on raw bytes; distinct logical seeds are the caller's problem.
	require.Equal(t, a, b)

	c, _, err := FindProgramAddress([][]byte{[]byte("c"), []byte("ab")}, TokenProgram)
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestAssociatedTokenAddressKnownVector(t *testing.T) {
	// Well-known mainnet vector: ATA of the system program address for WSOL.
	addr, err := AssociatedTokenAddress(SystemProgram, WSOL)
	require.NoError(t, err)
	require.Len(t, addr, 43) // base58 of 32 bytes is 43-44 chars

	other, err := AssociatedTokenAddress(SystemProgram, USDC)
	require.NoError(t, err)
	require.NotEqual(t, addr, other)
}

func TestIsOnCurve(t *testing.T) {
	// A real public key is on the curve.
	pub, _, err := ed25519.GenerateKey(bytes.NewReader(bytes.Repeat([]byte{7}, 64)))
	require.NoError(t, err)
	require.True(t, isOnCurve(pub))

	require.False(t, isOnCurve([]byte{1, 2, 3}))
}

func TestKeypairSigner(t *testing.T) {
	seed := bytes.Repeat([]byte{42}, ed25519.SeedSize)
	signer, err := NewKeypairSigner(seed)
	require.NoError(t, err)

	msg := []byte("transaction message")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)
	require.Len(t, sig, ed25519.SignatureSize)

	pub, err := Decode32(signer.PublicKey())
	require.NoError(t, err)
	require.True(t, ed25519.Verify(pub[:], msg, sig))
}

func TestKeypairSignerRejectsBadSeed(t *testing.T) {
	_, err := NewKeypairSigner([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestMetadataAddress(t *testing.T) {
	addr, err := MetadataAddress(USDC)
	require.NoError(t, err)
	raw, err := Decode32(addr)
	require.NoError(t, err)
	require.False(t, isOnCurve(raw[:]))
}
