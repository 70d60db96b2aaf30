// Package domain holds the value types shared across the engine.
// All of them are immutable snapshots: a new query produces a new value,
// nothing is mutated in place.
package domain

import "time"

// Pool is a point-in-time snapshot of an AMM pool account with its vault
// balances and mint metadata resolved.
type Pool struct {
	Address string // pool account address (base58)

	TokenAMint string
	TokenBMint string

	// Vault accounts holding the reserves.
	TokenAVault string
	TokenBVault string

	LPMint     string
	FeeAccount string

	TradeFeeBps uint16 // in [0, 10000)

	TokenADecimals uint8
	TokenBDecimals uint8

	// Reserve balances in raw token units.
	TokenAReserveAmount uint64
	TokenBReserveAmount uint64

	LPSupply uint64

	// FetchedAt is when the snapshot was assembled; staleness checks in the
	// quote engine and trade executor compare against it.
	FetchedAt time.Time
}

// Liquidity returns the aggregate reserve value used for pool ranking and
// secure-price weighting: the sum of both raw reserves.
func (p *Pool) Liquidity() uint64 {
	return p.TokenAReserveAmount + p.TokenBReserveAmount
}

// HasToken reports whether mint is on either side of the pool.
func (p *Pool) HasToken(mint string) bool {
	return p.TokenAMint == mint || p.TokenBMint == mint
}

// OtherToken returns the counterparty mint for mint, or "" if mint is not in
// the pool.
func (p *Pool) OtherToken(mint string) string {
	switch mint {
	case p.TokenAMint:
		return p.TokenBMint
	case p.TokenBMint:
		return p.TokenAMint
	}
	return ""
}

// ScanStats describes the bounds of a pool discovery scan so callers can
// detect truncated results instead of silently missing pools.
type ScanStats struct {
	Scanned   int
	Matched   int
	Truncated bool
}

// Price is a derived token price.
type Price struct {
	Mint      string
	SolPrice  float64 // price in the network's native asset
	USDPrice  float64 // meaningful only when USDQuoted
	USDQuoted bool    // false when no native/stable pool backed the USD leg
	Liquidity uint64  // reserve basis the price was computed from
	Timestamp int64   // unix seconds
}

// TimeFrame is a fixed candle bucket width.
type TimeFrame int

// Supported candle timeframes.
const (
	TimeFrameM1 TimeFrame = iota
	TimeFrameM5
	TimeFrameM15
	TimeFrameH1
	TimeFrameH4
	TimeFrameD1
)

// Seconds returns the bucket width in seconds.
func (tf TimeFrame) Seconds() int64 {
	switch tf {
	case TimeFrameM1:
		return 60
	case TimeFrameM5:
		return 300
	case TimeFrameM15:
		return 900
	case TimeFrameH1:
		return 3600
	case TimeFrameH4:
		return 14400
	case TimeFrameD1:
		return 86400
	}
	return 60
}

// String returns the conventional short form ("1m", "1h", ...).
func (tf TimeFrame) String() string {
	switch tf {
	case TimeFrameM1:
		return "1m"
	case TimeFrameM5:
		return "5m"
	case TimeFrameM15:
		return "15m"
	case TimeFrameH1:
		return "1h"
	case TimeFrameH4:
		return "4h"
	case TimeFrameD1:
		return "1d"
	}
	return "1m"
}

// Candle is a closed OHLCV bucket. Invariant: Low <= Open, Close <= High.
type Candle struct {
	Timestamp int64 // bucket start, unix seconds
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	TimeFrame TimeFrame
}

// PriceSample is a single raw price observation for a mint, recorded by the
// event bus and aggregated into candles.
type PriceSample struct {
	Mint      string
	Pool      string
	Price     float64 // SOL price
	Liquidity uint64
	Slot      int64
	Timestamp int64 // unix seconds
}

// TradeParams are the caller-supplied swap parameters.
type TradeParams struct {
	InputMint   string
	OutputMint  string
	AmountIn    uint64 // raw units, must be > 0
	SlippageBps uint16 // in [0, 10000]
	User        string // owner of the token accounts
}

// Quote is a computed trade quote. Valid only within its freshness window;
// the trade executor re-derives or rejects expired quotes.
type Quote struct {
	AmountOut    uint64
	MinAmountOut uint64 // AmountOut adjusted down by slippage; always <= AmountOut
	PriceImpact  float64
	FeeAmount    uint64
	Pool         string // pool address the quote executes against
	GeneratedAt  time.Time
}

// TradeState is the explicit per-trade state machine the executor walks
// through. Retries and cancellation re-enter at well-defined states.
type TradeState string

// Trade lifecycle states.
const (
	TradeStateQuoted    TradeState = "QUOTED"
	TradeStateSubmitted TradeState = "SUBMITTED"
	TradeStateConfirmed TradeState = "CONFIRMED"
	TradeStateFailed    TradeState = "FAILED"
)

// TradeRecord is the journal row for an executed swap.
type TradeRecord struct {
	Signature    string
	InputMint    string
	OutputMint   string
	Pool         string
	AmountIn     uint64
	AmountOut    uint64
	MinAmountOut uint64
	PriceImpact  float64
	State        TradeState
	SubmittedAt  int64 // unix ms
	ConfirmedAt  int64 // unix ms, 0 if never confirmed
}

// TokenMetadata is the optional off-chain-name layer of a token.
type TokenMetadata struct {
	Name   string
	Symbol string
	URI    string
}

// TokenInfo is a read-only projection of on-chain token state.
type TokenInfo struct {
	Mint        string
	Decimals    uint8
	Supply      uint64
	HolderCount uint64
	Metadata    *TokenMetadata // nil when no metadata account exists
}
