// Package quote computes bounded-slippage swap quotes over constant-product
// pools. All amount arithmetic is integer; big.Int guards the reserve
// product against uint64 overflow.
package quote

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/observability"
)

// Policy defaults.
const (
	// DefaultMaxPoolAge is how stale a pool snapshot may be before the
	// engine refuses to quote against it.
	DefaultMaxPoolAge = 10 * time.Second

	// BpsDenominator is the basis-point scale for fees and slippage.
	BpsDenominator = 10000
)

// PoolSource lists and refreshes pools; satisfied by pool.Registry.
type PoolSource interface {
	FindPoolsByTokens(ctx context.Context, mintA, mintB string) ([]domain.Pool, domain.ScanStats, error)
	GetPoolInfo(ctx context.Context, address string) (*domain.Pool, error)
}

// Engine produces quotes against the deepest viable pool for a pair.
type Engine struct {
	pools      PoolSource
	log        *zap.Logger
	maxPoolAge time.Duration
}

// EngineOption configures Engine.
type EngineOption func(*Engine)

// WithMaxPoolAge overrides the staleness bound.
func WithMaxPoolAge(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.maxPoolAge = d
	}
}

// NewEngine creates a quote engine over the pool source.
func NewEngine(pools PoolSource, log *zap.Logger, opts ...EngineOption) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		pools:      pools,
		log:        log,
		maxPoolAge: DefaultMaxPoolAge,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Swap is the raw result of pushing an input through one pool.
type Swap struct {
	AmountOut   uint64
	FeeAmount   uint64
	PriceImpact float64
}

// ComputeSwap runs the constant-product formula with the fee taken from the
// input side. Rounding always favors the pool: the fee rounds down off the
// input, the output rounds down.
func ComputeSwap(p *domain.Pool, inputMint string, amountIn uint64) (*Swap, error) {
	if amountIn == 0 {
		return nil, fmt.Errorf("%w: zero input amount", domain.ErrInvalidParams)
	}

	var reserveIn, reserveOut uint64
	switch inputMint {
	case p.TokenAMint:
		reserveIn, reserveOut = p.TokenAReserveAmount, p.TokenBReserveAmount
	case p.TokenBMint:
		reserveIn, reserveOut = p.TokenBReserveAmount, p.TokenAReserveAmount
	default:
		return nil, fmt.Errorf("%w: mint %s not in pool %s", domain.ErrInvalidParams, inputMint, p.Address)
	}

	if reserveIn == 0 || reserveOut == 0 {
		return nil, fmt.Errorf("%w: pool %s has an empty reserve", domain.ErrNoLiquidity, p.Address)
	}

	// A fee at or above the denominator consumes the whole input; no valid
	// pool carries one.
	if int(p.TradeFeeBps) >= BpsDenominator {
		return nil, fmt.Errorf("%w: pool %s: trade fee %d bps out of range", domain.ErrDecode, p.Address, p.TradeFeeBps)
	}

	fee := new(big.Int).SetUint64(amountIn)
	fee.Mul(fee, big.NewInt(int64(p.TradeFeeBps)))
	fee.Quo(fee, big.NewInt(BpsDenominator))
	feeAmount := fee.Uint64()
	amountInAfterFee := amountIn - feeAmount

	if amountInAfterFee == 0 {
		return nil, fmt.Errorf("%w: input consumed entirely by fee", domain.ErrInsufficientLiquidity)
	}

	// amountOut = reserveOut - (reserveIn * reserveOut) / (reserveIn + amountInAfterFee)
	rIn := new(big.Int).SetUint64(reserveIn)
	rOut := new(big.Int).SetUint64(reserveOut)
	product := new(big.Int).Mul(rIn, rOut)
	denom := new(big.Int).Add(rIn, new(big.Int).SetUint64(amountInAfterFee))
	newReserveOut := new(big.Int).Quo(product, denom)
	out := new(big.Int).Sub(rOut, newReserveOut)

	if !out.IsUint64() {
		return nil, fmt.Errorf("%w: output overflows", domain.ErrInsufficientLiquidity)
	}
	amountOut := out.Uint64()
	if amountOut == 0 {
		return nil, fmt.Errorf("%w: output rounds to zero", domain.ErrInsufficientLiquidity)
	}
	if amountOut >= reserveOut {
		return nil, fmt.Errorf("%w: output would drain pool %s", domain.ErrInsufficientLiquidity, p.Address)
	}

	spot := float64(reserveOut) / float64(reserveIn)
	executed := float64(amountOut) / float64(amountIn)
	impact := (spot - executed) / spot
	if impact < 0 {
		impact = 0
	}

	return &Swap{
		AmountOut:   amountOut,
		FeeAmount:   feeAmount,
		PriceImpact: impact,
	}, nil
}

// MinAmountOut applies the slippage bound to an output amount, rounding
// down so the bound never exceeds the quoted output.
func MinAmountOut(amountOut uint64, slippageBps uint16) uint64 {
	keep := new(big.Int).SetUint64(amountOut)
	keep.Mul(keep, big.NewInt(int64(BpsDenominator-uint32(slippageBps))))
	keep.Quo(keep, big.NewInt(BpsDenominator))
	return keep.Uint64()
}

func validate(params *domain.TradeParams) error {
	switch {
	case params == nil:
		return fmt.Errorf("%w: nil params", domain.ErrInvalidParams)
	case params.InputMint == "" || params.OutputMint == "":
		return fmt.Errorf("%w: empty mint", domain.ErrInvalidParams)
	case params.InputMint == params.OutputMint:
		return fmt.Errorf("%w: identical mints", domain.ErrInvalidParams)
	case params.AmountIn == 0:
		return fmt.Errorf("%w: zero input amount", domain.ErrInvalidParams)
	case params.SlippageBps > BpsDenominator:
		return fmt.Errorf("%w: slippage %d exceeds %d bps", domain.ErrInvalidParams, params.SlippageBps, BpsDenominator)
	}
	return nil
}

// GetQuoteWithValidation validates the parameters, picks the pool yielding
// the best output for the pair, and returns a quote with the slippage bound
// applied. Pools staler than the age bound are refreshed first; a pool that
// cannot be refreshed is skipped, and if no pool remains the caller gets
// ErrStalePool.
func (e *Engine) GetQuoteWithValidation(ctx context.Context, params *domain.TradeParams) (*domain.Quote, error) {
	if err := validate(params); err != nil {
		observability.RecordQuoteError("invalid_params")
		return nil, err
	}

	pools, _, err := e.pools.FindPoolsByTokens(ctx, params.InputMint, params.OutputMint)
	if err != nil {
		observability.RecordQuoteError("discovery")
		return nil, err
	}
	if len(pools) == 0 {
		observability.RecordQuoteError("no_pool")
		return nil, fmt.Errorf("%w: no pool for %s/%s", domain.ErrNoLiquidity, params.InputMint, params.OutputMint)
	}

	var (
		best     *Swap
		bestPool *domain.Pool
		sawStale bool
		lastErr  error
	)
	for i := range pools {
		p := &pools[i]

		if time.Since(p.FetchedAt) > e.maxPoolAge {
			fresh, err := e.pools.GetPoolInfo(ctx, p.Address)
			if err != nil {
				sawStale = true
				e.log.Warn("could not refresh stale pool",
					zap.String("pool", p.Address),
					zap.Error(err))
				continue
			}
			p = fresh
		}

		swap, err := ComputeSwap(p, params.InputMint, params.AmountIn)
		if err != nil {
			lastErr = err
			continue
		}

		if best == nil ||
			swap.AmountOut > best.AmountOut ||
			(swap.AmountOut == best.AmountOut && p.Liquidity() > bestPool.Liquidity()) {
			best = swap
			bestPool = p
		}
	}

	if best == nil {
		switch {
		case sawStale:
			observability.RecordQuoteError("stale_pool")
			return nil, fmt.Errorf("%w: no refreshable pool for %s/%s", domain.ErrStalePool, params.InputMint, params.OutputMint)
		case lastErr != nil:
			observability.RecordQuoteError("insufficient_liquidity")
			return nil, lastErr
		default:
			observability.RecordQuoteError("no_pool")
			return nil, fmt.Errorf("%w: no usable pool", domain.ErrNoLiquidity)
		}
	}

	observability.QuotesGenerated.Inc()
	return &domain.Quote{
		AmountOut:    best.AmountOut,
		MinAmountOut: MinAmountOut(best.AmountOut, params.SlippageBps),
		PriceImpact:  best.PriceImpact,
		FeeAmount:    best.FeeAmount,
		Pool:         bestPool.Address,
		GeneratedAt:  time.Now(),
	}, nil
}
