// Package trade executes swaps: it builds and signs legacy transaction
// messages, submits them, and walks each trade through an explicit state
// machine until the outcome is known.
package trade

import (
	"fmt"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/solkey"
)

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	Pubkey     string
	IsSigner   bool
	IsWritable bool
}

// Instruction is one program invocation before compilation.
type Instruction struct {
	ProgramID string
	Accounts  []AccountMeta
	Data      []byte
}

// appendCompactU16 appends the shortvec encoding of v.
func appendCompactU16(buf []byte, v int) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// accountEntry tracks the merged signer/writable flags of one key.
type accountEntry struct {
	pubkey   string
	signer   bool
	writable bool
}

// BuildMessage compiles instructions into a serialized legacy message. The
// payer is the first account and first signer. Account ordering follows the
// wire convention: writable signers, readonly signers, writable non-signers,
// readonly non-signers.
func BuildMessage(payer, recentBlockhash string, instrs []Instruction) ([]byte, error) {
	if len(instrs) == 0 {
		return nil, fmt.Errorf("%w: no instructions", domain.ErrInvalidParams)
	}

	entries := []*accountEntry{{pubkey: payer, signer: true, writable: true}}
	index := map[string]*accountEntry{payer: entries[0]}

	upsert := func(pubkey string, signer, writable bool) {
		if e, ok := index[pubkey]; ok {
			e.signer = e.signer || signer
			e.writable = e.writable || writable
			return
		}
		e := &accountEntry{pubkey: pubkey, signer: signer, writable: writable}
		entries = append(entries, e)
		index[pubkey] = e
	}

	for _, ins := range instrs {
		for _, meta := range ins.Accounts {
			upsert(meta.Pubkey, meta.IsSigner, meta.IsWritable)
		}
		upsert(ins.ProgramID, false, false)
	}

	// Partition preserving first-seen order within each class. The payer is
	// a writable signer, so it stays first.
	var ordered []*accountEntry
	for _, class := range []func(*accountEntry) bool{
		func(e *accountEntry) bool { return e.signer && e.writable },
		func(e *accountEntry) bool { return e.signer && !e.writable },
		func(e *accountEntry) bool { return !e.signer && e.writable },
		func(e *accountEntry) bool { return !e.signer && !e.writable },
	} {
		for _, e := range entries {
			if class(e) {
				ordered = append(ordered, e)
			}
		}
	}

	position := make(map[string]int, len(ordered))
	var numSigners, numReadonlySigned, numReadonlyUnsigned int
	for i, e := range ordered {
		position[e.pubkey] = i
		if e.signer {
			numSigners++
			if !e.writable {
				numReadonlySigned++
			}
		} else if !e.writable {
			numReadonlyUnsigned++
		}
	}

	var buf []byte
	buf = append(buf, byte(numSigners), byte(numReadonlySigned), byte(numReadonlyUnsigned))

	buf = appendCompactU16(buf, len(ordered))
	for _, e := range ordered {
		raw, err := solkey.Decode32(e.pubkey)
		if err != nil {
			return nil, err
		}
		buf = append(buf, raw[:]...)
	}

	blockhash, err := solkey.Decode32(recentBlockhash)
	if err != nil {
		return nil, fmt.Errorf("blockhash: %w", err)
	}
	buf = append(buf, blockhash[:]...)

	buf = appendCompactU16(buf, len(instrs))
	for _, ins := range instrs {
		buf = append(buf, byte(position[ins.ProgramID]))
		buf = appendCompactU16(buf, len(ins.Accounts))
		for _, meta := range ins.Accounts {
			buf = append(buf, byte(position[meta.Pubkey]))
		}
		buf = appendCompactU16(buf, len(ins.Data))
		buf = append(buf, ins.Data...)
	}

	return buf, nil
}

// AssembleTransaction prepends the signature section to a serialized message.
func AssembleTransaction(message []byte, signatures [][]byte) ([]byte, error) {
	var buf []byte
	buf = appendCompactU16(buf, len(signatures))
	for _, sig := range signatures {
		if len(sig) != 64 {
			return nil, fmt.Errorf("%w: signature must be 64 bytes, got %d", domain.ErrInvalidParams, len(sig))
		}
		buf = append(buf, sig...)
	}
	return append(buf, message...), nil
}
