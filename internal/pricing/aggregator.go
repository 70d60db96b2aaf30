// Package pricing derives token prices from pool reserves. The secure price
// filters thin and outlier pools before liquidity-weighting the rest.
package pricing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/observability"
	"solana-amm-client/internal/solkey"
)

// Aggregation policy defaults.
const (
	// DefaultMinLiquidity is the raw-unit reserve floor below which a pool
	// is too thin to trust for pricing.
	DefaultMinLiquidity = 1000

	// DefaultOutlierTolerance is the max relative deviation from the median
	// before a pool is excluded from the secure price.
	DefaultOutlierTolerance = 0.10
)

// PoolSource lists pools; satisfied by pool.Registry.
type PoolSource interface {
	FindTokenPools(ctx context.Context, mint string) ([]domain.Pool, domain.ScanStats, error)
	FindPoolsByTokens(ctx context.Context, mintA, mintB string) ([]domain.Pool, domain.ScanStats, error)
}

// Aggregator computes current and secure prices for tokens against the
// native asset, with a USD leg through the reference stable pool.
type Aggregator struct {
	pools            PoolSource
	log              *zap.Logger
	minLiquidity     uint64
	outlierTolerance float64
}

// AggregatorOption configures Aggregator.
type AggregatorOption func(*Aggregator)

// WithMinLiquidity overrides the liquidity floor.
func WithMinLiquidity(min uint64) AggregatorOption {
	return func(a *Aggregator) {
		a.minLiquidity = min
	}
}

// WithOutlierTolerance overrides the outlier deviation bound.
func WithOutlierTolerance(tol float64) AggregatorOption {
	return func(a *Aggregator) {
		a.outlierTolerance = tol
	}
}

// NewAggregator creates a price aggregator over the pool source.
func NewAggregator(pools PoolSource, log *zap.Logger, opts ...AggregatorOption) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Aggregator{
		pools:            pools,
		log:              log,
		minLiquidity:     DefaultMinLiquidity,
		outlierTolerance: DefaultOutlierTolerance,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PoolSpotPrice returns the mint's spot price in the pool's counter token,
// adjusted for decimals. Zero reserves yield an error.
func PoolSpotPrice(p *domain.Pool, mint string) (float64, error) {
	var tokenReserve, counterReserve uint64
	var tokenDec, counterDec uint8

	switch mint {
	case p.TokenAMint:
		tokenReserve, counterReserve = p.TokenAReserveAmount, p.TokenBReserveAmount
		tokenDec, counterDec = p.TokenADecimals, p.TokenBDecimals
	case p.TokenBMint:
		tokenReserve, counterReserve = p.TokenBReserveAmount, p.TokenAReserveAmount
		tokenDec, counterDec = p.TokenBDecimals, p.TokenADecimals
	default:
		return 0, fmt.Errorf("%w: mint %s not in pool %s", domain.ErrInvalidParams, mint, p.Address)
	}

	if tokenReserve == 0 || counterReserve == 0 {
		return 0, fmt.Errorf("%w: pool %s has an empty reserve", domain.ErrNoLiquidity, p.Address)
	}

	token := float64(tokenReserve) / math.Pow10(int(tokenDec))
	counter := float64(counterReserve) / math.Pow10(int(counterDec))
	return counter / token, nil
}

// nativePools lists the mint's pools against the native asset, most liquid
// first, skipping pools with an empty side.
func (a *Aggregator) nativePools(ctx context.Context, mint string) ([]domain.Pool, error) {
	pools, _, err := a.pools.FindPoolsByTokens(ctx, mint, solkey.WSOL)
	if err != nil {
		return nil, err
	}

	usable := pools[:0]
	for _, p := range pools {
		if p.TokenAReserveAmount > 0 && p.TokenBReserveAmount > 0 {
			usable = append(usable, p)
		}
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("%w: no native pools for %s", domain.ErrNoLiquidity, mint)
	}

	sort.Slice(usable, func(i, j int) bool {
		return usable[i].Liquidity() > usable[j].Liquidity()
	})
	return usable, nil
}

// GetCurrentPrice returns the mint's spot price from its deepest native
// pool. No filtering is applied; callers needing manipulation resistance
// use GetSecurePrice.
func (a *Aggregator) GetCurrentPrice(ctx context.Context, mint string) (*domain.Price, error) {
	pools, err := a.nativePools(ctx, mint)
	if err != nil {
		return nil, err
	}

	best := pools[0]
	solPrice, err := PoolSpotPrice(&best, mint)
	if err != nil {
		return nil, err
	}

	usd, usdQuoted := a.solUSDBestEffort(ctx)
	observability.RecordPriceComputed("current")
	return &domain.Price{
		Mint:      mint,
		SolPrice:  solPrice,
		USDPrice:  solPrice * usd,
		USDQuoted: usdQuoted,
		Liquidity: best.Liquidity(),
		Timestamp: time.Now().Unix(),
	}, nil
}

// GetSecurePrice returns a manipulation-resistant price: pools below the
// liquidity floor are dropped, pools deviating beyond the tolerance from
// the median are dropped, and the survivors are liquidity-weighted. When
// every pool is filtered out, the deepest pool's price is returned with its
// Liquidity below the floor so callers can see the reduced confidence.
func (a *Aggregator) GetSecurePrice(ctx context.Context, mint string) (*domain.Price, error) {
	pools, err := a.nativePools(ctx, mint)
	if err != nil {
		return nil, err
	}

	type obs struct {
		price     float64
		liquidity uint64
	}
	var candidates []obs
	for i := range pools {
		p := &pools[i]
		if p.Liquidity() <= a.minLiquidity {
			observability.RecordPoolExcluded("low_liquidity")
			continue
		}
		price, err := PoolSpotPrice(p, mint)
		if err != nil {
			continue
		}
		candidates = append(candidates, obs{price: price, liquidity: p.Liquidity()})
	}

	if len(candidates) == 0 {
		return a.fallbackPrice(ctx, mint, pools)
	}

	prices := make([]float64, len(candidates))
	for i, c := range candidates {
		prices[i] = c.price
	}
	med := median(prices)

	var weightedSum, totalWeight float64
	var maxLiquidity uint64
	kept := 0
	for _, c := range candidates {
		if med > 0 && math.Abs(c.price-med)/med > a.outlierTolerance {
			observability.RecordPoolExcluded("outlier")
			continue
		}
		weightedSum += c.price * float64(c.liquidity)
		totalWeight += float64(c.liquidity)
		if c.liquidity > maxLiquidity {
			maxLiquidity = c.liquidity
		}
		kept++
	}

	if kept == 0 || totalWeight == 0 {
		return a.fallbackPrice(ctx, mint, pools)
	}

	solPrice := weightedSum / totalWeight
	usd, usdQuoted := a.solUSDBestEffort(ctx)
	observability.RecordPriceComputed("secure")
	return &domain.Price{
		Mint:      mint,
		SolPrice:  solPrice,
		USDPrice:  solPrice * usd,
		USDQuoted: usdQuoted,
		Liquidity: maxLiquidity,
		Timestamp: time.Now().Unix(),
	}, nil
}

// fallbackPrice serves the deepest pool's spot price when filtering left
// nothing. The reported liquidity is capped at the floor so the result is
// visibly low-confidence.
func (a *Aggregator) fallbackPrice(ctx context.Context, mint string, pools []domain.Pool) (*domain.Price, error) {
	best := pools[0]
	solPrice, err := PoolSpotPrice(&best, mint)
	if err != nil {
		return nil, err
	}

	liquidity := best.Liquidity()
	if liquidity > a.minLiquidity {
		liquidity = a.minLiquidity
	}

	observability.DefaultMetrics.SecurePriceFallback.Inc()
	a.log.Warn("secure price fell back to unfiltered pool",
		zap.String("mint", mint),
		zap.String("pool", best.Address))

	usd, usdQuoted := a.solUSDBestEffort(ctx)
	return &domain.Price{
		Mint:      mint,
		SolPrice:  solPrice,
		USDPrice:  solPrice * usd,
		USDQuoted: usdQuoted,
		Liquidity: liquidity,
		Timestamp: time.Now().Unix(),
	}, nil
}

// SolUSDPrice returns the native asset's USD price from the deepest
// native/stable pool. There is no default: without such a pool the caller
// gets ErrNoLiquidity.
func (a *Aggregator) SolUSDPrice(ctx context.Context) (float64, error) {
	pools, _, err := a.pools.FindPoolsByTokens(ctx, solkey.WSOL, solkey.USDC)
	if err != nil {
		return 0, err
	}

	var best *domain.Pool
	for i := range pools {
		p := &pools[i]
		if p.TokenAReserveAmount == 0 || p.TokenBReserveAmount == 0 {
			continue
		}
		if best == nil || p.Liquidity() > best.Liquidity() {
			best = p
		}
	}
	if best == nil {
		return 0, fmt.Errorf("%w: no native/stable pool", domain.ErrNoLiquidity)
	}

	return PoolSpotPrice(best, solkey.WSOL)
}

// solUSDBestEffort returns the USD leg and whether it is quoted. A missing
// USD reference must not fail native-denominated pricing; the returned flag
// lets callers tell an unquoted leg from a real zero.
func (a *Aggregator) solUSDBestEffort(ctx context.Context) (float64, bool) {
	usd, err := a.SolUSDPrice(ctx)
	if err != nil {
		a.log.Warn("usd reference pool unavailable", zap.Error(err))
		return 0, false
	}
	return usd, true
}

// median returns the middle value, averaging the two central elements for
// even-length input. The input slice is not modified.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
