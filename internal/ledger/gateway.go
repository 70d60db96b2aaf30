// Package ledger provides read and write access to the chain:
// a JSON-RPC gateway for account reads and transaction submission,
// and a WebSocket stream for live account updates.
package ledger

import "context"

// Account is a decoded on-chain account.
type Account struct {
	Lamports uint64
	Owner    string
	Data     []byte
}

// KeyedAccount pairs an account with its address.
type KeyedAccount struct {
	Pubkey  string
	Account Account
}

// ScanFilter narrows a program-account scan.
type ScanFilter struct {
	// DataSize matches accounts of exactly this byte length. Zero disables.
	DataSize uint64
	// Memcmp matches accounts whose data at Offset equals Bytes.
	Memcmp []MemcmpFilter
}

// MemcmpFilter is a byte-equality filter at a fixed offset.
type MemcmpFilter struct {
	Offset uint64
	Bytes  []byte
}

// SignatureStatus reports the confirmation state of a submitted transaction.
type SignatureStatus struct {
	Slot               int64
	Confirmations      *uint64
	ConfirmationStatus string
	// Err is non-nil when the ledger executed and rejected the transaction.
	Err interface{}
}

// Blockhash is a recent blockhash and its expiry height.
type Blockhash struct {
	Blockhash            string
	LastValidBlockHeight uint64
}

// Gateway abstracts the request/response side of the chain.
type Gateway interface {
	// ReadAccount fetches one account. Returns domain.ErrNotFound when the
	// account does not exist.
	ReadAccount(ctx context.Context, pubkey string) (*Account, error)

	// ReadAccounts fetches several accounts in one call. Missing accounts
	// come back as nil entries at their position.
	ReadAccounts(ctx context.Context, pubkeys []string) ([]*Account, error)

	// ScanAccounts lists accounts owned by a program, optionally filtered.
	ScanAccounts(ctx context.Context, programID string, filter *ScanFilter) ([]KeyedAccount, error)

	// SubmitTransaction sends a signed serialized transaction and returns
	// its signature.
	SubmitTransaction(ctx context.Context, serialized []byte) (string, error)

	// GetSignatureStatus returns the status of a signature, or nil when the
	// ledger has no record of it.
	GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error)

	// LatestBlockhash fetches a recent blockhash for transaction assembly.
	LatestBlockhash(ctx context.Context) (*Blockhash, error)
}
