package domain

import "errors"

// Error taxonomy for the engine. Transport failures are retried locally with
// backoff inside the gateway clients; everything else propagates unchanged to
// the caller with wrapped context (mint, pool address, amounts).
var (
	// ErrTransport means the ledger was unreachable after bounded retries.
	ErrTransport = errors.New("ledger transport failure")

	// ErrNotFound means the referenced account does not exist.
	ErrNotFound = errors.New("account not found")

	// ErrDecode means the account data does not match the expected layout
	// (typically a protocol-version mismatch). Not retryable.
	ErrDecode = errors.New("account layout mismatch")

	// ErrNoLiquidity means no pool exists for the requested token.
	ErrNoLiquidity = errors.New("no liquidity pool found")

	// ErrInsufficientLiquidity means the pool reserves cannot support the
	// requested trade with a non-zero output.
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")

	// ErrInvalidParams means caller input failed validation. Never retried.
	ErrInvalidParams = errors.New("invalid trade parameters")

	// ErrStalePool means the pool snapshot backing an operation is older
	// than the freshness bound; the caller must re-fetch.
	ErrStalePool = errors.New("pool snapshot stale")

	// ErrQuoteExpired means a quote aged past its freshness window; the
	// caller must re-quote.
	ErrQuoteExpired = errors.New("quote expired")

	// ErrSlippageExceeded means the trade would (or did) execute below
	// MinAmountOut. Never auto-retried with the same quote.
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrInsufficientHistory means no price samples exist for the mint.
	ErrInsufficientHistory = errors.New("no historical price data")

	// ErrUnknownOutcome means a submitted transaction's finality could not
	// be established before the caller gave up. The signature is carried in
	// the wrapping error; the trade may still land.
	ErrUnknownOutcome = errors.New("transaction outcome unknown")

	// ErrBusClosed means the price event bus (or a per-mint subscription)
	// reached its terminal state after exhausting reconnection attempts.
	ErrBusClosed = errors.New("price event bus closed")
)
