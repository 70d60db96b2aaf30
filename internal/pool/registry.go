package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/ledger"
	"solana-amm-client/internal/observability"
)

// DefaultCacheTTL bounds how long cached pool state is served before a
// fresh ledger read.
const DefaultCacheTTL = 30 * time.Second

// readBatchSize is the getMultipleAccounts limit.
const readBatchSize = 100

// DefaultMaxScanAccounts bounds how many accounts a discovery scan will
// decode before reporting truncation.
const DefaultMaxScanAccounts = 10000

// Registry discovers and caches AMM pools owned by a program.
type Registry struct {
	gw              ledger.Gateway
	programID       string
	cacheTTL        time.Duration
	maxScanAccounts int
	log             *zap.Logger

	mu        sync.RWMutex
	pools     map[string]*domain.Pool
	allPools  []domain.Pool
	allStats  domain.ScanStats
	scannedAt time.Time
}

// RegistryOption configures Registry.
type RegistryOption func(*Registry)

// WithCacheTTL overrides the pool cache TTL.
func WithCacheTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.cacheTTL = ttl
	}
}

// WithMaxScanAccounts overrides the discovery scan bound.
func WithMaxScanAccounts(n int) RegistryOption {
	return func(r *Registry) {
		r.maxScanAccounts = n
	}
}

// NewRegistry creates a registry for pools owned by programID.
func NewRegistry(gw ledger.Gateway, programID string, log *zap.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		gw:              gw,
		programID:       programID,
		cacheTTL:        DefaultCacheTTL,
		maxScanAccounts: DefaultMaxScanAccounts,
		log:             log,
		pools:           make(map[string]*domain.Pool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// scan lists all pool accounts and decodes them. Undecodable accounts are
// skipped and counted, not fatal: one malformed account must not hide the
// rest of the market.
func (r *Registry) scan(ctx context.Context) ([]domain.Pool, domain.ScanStats, error) {
	accounts, err := r.gw.ScanAccounts(ctx, r.programID, &ledger.ScanFilter{
		DataSize: PoolAccountSize,
		Memcmp:   []ledger.MemcmpFilter{{Offset: 0, Bytes: PoolDiscriminator[:]}},
	})
	if err != nil {
		return nil, domain.ScanStats{}, err
	}

	stats := domain.ScanStats{Scanned: len(accounts)}
	if len(accounts) > r.maxScanAccounts {
		accounts = accounts[:r.maxScanAccounts]
		stats.Truncated = true
	}

	pools := make([]domain.Pool, 0, len(accounts))
	for _, acc := range accounts {
		p, err := DecodePoolAccount(acc.Pubkey, acc.Account.Data)
		if err != nil {
			stats.Truncated = true
			observability.DefaultMetrics.PoolDecodeErrors.Inc()
			r.log.Warn("skipping undecodable pool account",
				zap.String("pubkey", acc.Pubkey),
				zap.Error(err))
			continue
		}
		pools = append(pools, *p)
	}
	stats.Matched = len(pools)

	if err := r.hydrate(ctx, pools); err != nil {
		return nil, stats, err
	}

	observability.PoolsScanned.Add(float64(stats.Scanned))
	return pools, stats, nil
}

// hydrate fills reserves, decimals, and LP supply from vault and mint reads.
func (r *Registry) hydrate(ctx context.Context, pools []domain.Pool) error {
	if len(pools) == 0 {
		return nil
	}

	keys := make([]string, 0, len(pools)*5)
	for _, p := range pools {
		keys = append(keys, p.TokenAVault, p.TokenBVault, p.TokenAMint, p.TokenBMint, p.LPMint)
	}

	accounts := make([]*ledger.Account, 0, len(keys))
	for start := 0; start < len(keys); start += readBatchSize {
		end := start + readBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch, err := r.gw.ReadAccounts(ctx, keys[start:end])
		if err != nil {
			return err
		}
		accounts = append(accounts, batch...)
	}

	now := time.Now()
	for i := range pools {
		base := i * 5
		vaultA, vaultB := accounts[base], accounts[base+1]
		mintA, mintB, lpMint := accounts[base+2], accounts[base+3], accounts[base+4]

		if vaultA == nil || vaultB == nil {
			return fmt.Errorf("%w: vault of pool %s", domain.ErrNotFound, pools[i].Address)
		}

		ta, err := DecodeTokenAccount(vaultA.Data)
		if err != nil {
			return fmt.Errorf("pool %s vault A: %w", pools[i].Address, err)
		}
		tb, err := DecodeTokenAccount(vaultB.Data)
		if err != nil {
			return fmt.Errorf("pool %s vault B: %w", pools[i].Address, err)
		}
		pools[i].TokenAReserveAmount = ta.Amount
		pools[i].TokenBReserveAmount = tb.Amount

		if mintA != nil {
			if m, err := DecodeMint(mintA.Data); err == nil {
				pools[i].TokenADecimals = m.Decimals
			}
		}
		if mintB != nil {
			if m, err := DecodeMint(mintB.Data); err == nil {
				pools[i].TokenBDecimals = m.Decimals
			}
		}
		if lpMint != nil {
			if m, err := DecodeMint(lpMint.Data); err == nil {
				pools[i].LPSupply = m.Supply
			}
		}

		pools[i].FetchedAt = now
	}

	return nil
}

// AllPools returns every pool of the program, served from cache within the
// TTL. The stats describe the scan that produced the cached snapshot.
func (r *Registry) AllPools(ctx context.Context) ([]domain.Pool, domain.ScanStats, error) {
	r.mu.RLock()
	if time.Since(r.scannedAt) < r.cacheTTL && r.allPools != nil {
		pools := make([]domain.Pool, len(r.allPools))
		copy(pools, r.allPools)
		stats := r.allStats
		r.mu.RUnlock()
		return pools, stats, nil
	}
	r.mu.RUnlock()

	pools, stats, err := r.scan(ctx)
	if err != nil {
		return nil, stats, err
	}

	r.mu.Lock()
	r.allPools = make([]domain.Pool, len(pools))
	copy(r.allPools, pools)
	r.allStats = stats
	r.scannedAt = time.Now()
	for i := range pools {
		p := pools[i]
		r.pools[p.Address] = &p
	}
	r.mu.Unlock()

	return pools, stats, nil
}

// FindPoolsByTokens lists pools that trade the exact pair, in either order.
func (r *Registry) FindPoolsByTokens(ctx context.Context, mintA, mintB string) ([]domain.Pool, domain.ScanStats, error) {
	if mintA == mintB {
		return nil, domain.ScanStats{}, fmt.Errorf("%w: identical mints", domain.ErrInvalidParams)
	}

	all, stats, err := r.AllPools(ctx)
	if err != nil {
		return nil, stats, err
	}

	var out []domain.Pool
	for _, p := range all {
		if p.HasToken(mintA) && p.HasToken(mintB) {
			out = append(out, p)
		}
	}
	return out, stats, nil
}

// FindTokenPools lists every pool that includes the mint on either side.
func (r *Registry) FindTokenPools(ctx context.Context, mint string) ([]domain.Pool, domain.ScanStats, error) {
	all, stats, err := r.AllPools(ctx)
	if err != nil {
		return nil, stats, err
	}

	var out []domain.Pool
	for _, p := range all {
		if p.HasToken(mint) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out, stats, nil
}

// GetPoolInfo reads one pool fresh from the ledger, bypassing the cache.
func (r *Registry) GetPoolInfo(ctx context.Context, address string) (*domain.Pool, error) {
	acc, err := r.gw.ReadAccount(ctx, address)
	if err != nil {
		return nil, err
	}

	p, err := DecodePoolAccount(address, acc.Data)
	if err != nil {
		return nil, err
	}

	pools := []domain.Pool{*p}
	if err := r.hydrate(ctx, pools); err != nil {
		return nil, err
	}

	r.mu.Lock()
	fresh := pools[0]
	r.pools[address] = &fresh
	r.mu.Unlock()

	return &pools[0], nil
}

// GetPoolInfoCached returns the pool from cache when fresher than the TTL,
// falling back to a ledger read.
func (r *Registry) GetPoolInfoCached(ctx context.Context, address string) (*domain.Pool, error) {
	r.mu.RLock()
	p, ok := r.pools[address]
	r.mu.RUnlock()

	if ok && time.Since(p.FetchedAt) < r.cacheTTL {
		observability.DefaultMetrics.PoolCacheHits.Inc()
		cp := *p
		return &cp, nil
	}

	return r.GetPoolInfo(ctx, address)
}

// PoolLiquidity returns the pool's raw-unit liquidity, read fresh.
func (r *Registry) PoolLiquidity(ctx context.Context, address string) (uint64, error) {
	p, err := r.GetPoolInfo(ctx, address)
	if err != nil {
		return 0, err
	}
	return p.Liquidity(), nil
}
