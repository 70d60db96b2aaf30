// Package solkey provides base58 address handling, program-derived address
// computation, and transaction signing primitives.
package solkey

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program and mint addresses.
const (
	// SystemProgram is the Solana system program ID.
	SystemProgram = "11111111111111111111111111111111"
	// TokenProgram is the SPL token program ID.
	TokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	// AssociatedTokenProgram is the SPL associated-token-account program ID.
	AssociatedTokenProgram = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	// MetaplexProgram is the Metaplex token-metadata program ID.
	MetaplexProgram = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"

	// WSOL is the wrapped SOL mint.
	WSOL = "So11111111111111111111111111111111111111112"
	// USDC is the USDC mint, used as the USD reference leg.
	USDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Decode32 decodes a base58 address into its 32-byte form.
func Decode32(addr string) ([32]byte, error) {
	var out [32]byte
	raw, err := base58.Decode(addr)
	if err != nil {
		return out, fmt.Errorf("decode address %q: %w", addr, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("address %q: expected 32 bytes, got %d", addr, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// Encode encodes 32 raw bytes as a base58 address.
func Encode(raw []byte) string {
	return base58.Encode(raw)
}

// isOnCurve reports whether a 32-byte point decodes as a valid ed25519
// curve point. PDAs must be off-curve so no private key can exist for them.
func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// FindProgramAddress derives a program address from seeds, walking the bump
// seed down from 255 until the resulting hash is off the ed25519 curve.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := Decode32(programID)
	if err != nil {
		return "", 0, err
	}

	for bump := 255; bump >= 0; bump-- {
		data := make([]byte, 0, 128)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, byte(bump))
		data = append(data, program[:]...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), uint8(bump), nil
		}
	}

	return "", 0, fmt.Errorf("no viable bump seed for program %s", programID)
}

// AssociatedTokenAddress derives the associated token account for a wallet
// and mint.
func AssociatedTokenAddress(wallet, mint string) (string, error) {
	walletKey, err := Decode32(wallet)
	if err != nil {
		return "", err
	}
	tokenProgram, err := Decode32(TokenProgram)
	if err != nil {
		return "", err
	}
	mintKey, err := Decode32(mint)
	if err != nil {
		return "", err
	}

	addr, _, err := FindProgramAddress(
		[][]byte{walletKey[:], tokenProgram[:], mintKey[:]},
		AssociatedTokenProgram,
	)
	return addr, err
}

// MetadataAddress derives the Metaplex metadata account for a mint.
func MetadataAddress(mint string) (string, error) {
	program, err := Decode32(MetaplexProgram)
	if err != nil {
		return "", err
	}
	mintKey, err := Decode32(mint)
	if err != nil {
		return "", err
	}

	addr, _, err := FindProgramAddress(
		[][]byte{[]byte("metadata"), program[:], mintKey[:]},
		MetaplexProgram,
	)
	return addr, err
}

// Signer signs transaction messages. The engine never manages keys itself;
// callers supply whatever implementation suits them.
type Signer interface {
	// PublicKey returns the signing key's base58 address.
	PublicKey() string

	// Sign returns the ed25519 signature over the serialized message.
	Sign(message []byte) ([]byte, error)
}

// KeypairSigner is an in-memory ed25519 Signer.
type KeypairSigner struct {
	priv ed25519.PrivateKey
	pub  string
}

// NewKeypairSigner builds a signer from a 32-byte ed25519 seed.
func NewKeypairSigner(seed []byte) (*KeypairSigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed: expected %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeypairSigner{
		priv: priv,
		pub:  base58.Encode(pub),
	}, nil
}

// PublicKey returns the base58 public key.
func (s *KeypairSigner) PublicKey() string {
	return s.pub
}

// Sign signs the message with the keypair.
func (s *KeypairSigner) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, message), nil
}
