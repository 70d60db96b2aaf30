package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/storage/memory"
)

func sample(ts int64, price float64) *domain.PriceSample {
	return &domain.PriceSample{
		Mint:      testMint,
		Pool:      "pool1",
		Price:     price,
		Liquidity: 10_000,
		Timestamp: ts,
	}
}

func TestBuildCandlesBucketsAndOHLC(t *testing.T) {
	samples := []*domain.PriceSample{
		sample(0, 1.0),
		sample(10, 1.5),
		sample(20, 0.8),
		sample(59, 1.2),
		sample(70, 2.0),
	}

	candles := BuildCandles(samples, domain.TimeFrameM1, 0, 120)
	require.Len(t, candles, 2)

	first := candles[0]
	require.Equal(t, int64(0), first.Timestamp)
	require.InDelta(t, 1.0, first.Open, 1e-9)
	require.InDelta(t, 1.5, first.High, 1e-9)
	require.InDelta(t, 0.8, first.Low, 1e-9)
	require.InDelta(t, 1.2, first.Close, 1e-9)
	require.InDelta(t, 4.0, first.Volume, 1e-9)

	second := candles[1]
	require.Equal(t, int64(60), second.Timestamp)
	require.InDelta(t, 2.0, second.Open, 1e-9)
	require.InDelta(t, 2.0, second.Close, 1e-9)
}

func TestBuildCandlesCarryForward(t *testing.T) {
	samples := []*domain.PriceSample{
		sample(0, 1.0),
		sample(130, 3.0), // bucket 120; bucket 60 is empty
	}

	candles := BuildCandles(samples, domain.TimeFrameM1, 0, 180)
	require.Len(t, candles, 3)

	gap := candles[1]
	require.Equal(t, int64(60), gap.Timestamp)
	require.InDelta(t, 1.0, gap.Open, 1e-9)
	require.InDelta(t, 1.0, gap.High, 1e-9)
	require.InDelta(t, 1.0, gap.Low, 1e-9)
	require.InDelta(t, 1.0, gap.Close, 1e-9)
	require.Zero(t, gap.Volume)
}

func TestBuildCandlesOmitsLeadingEmptyBuckets(t *testing.T) {
	samples := []*domain.PriceSample{
		sample(125, 2.0),
	}

	candles := BuildCandles(samples, domain.TimeFrameM1, 0, 180)
	require.Len(t, candles, 1)
	require.Equal(t, int64(120), candles[0].Timestamp)
}

func TestBuildCandlesAscendingOrder(t *testing.T) {
	samples := []*domain.PriceSample{
		sample(5, 1.0),
		sample(65, 1.1),
		sample(250, 1.2),
	}

	candles := BuildCandles(samples, domain.TimeFrameM1, 0, 300)
	require.Len(t, candles, 5)
	for i := 1; i < len(candles); i++ {
		require.Equal(t, candles[i-1].Timestamp+60, candles[i].Timestamp)
	}
}

func TestBuildCandlesNoSamples(t *testing.T) {
	require.Empty(t, BuildCandles(nil, domain.TimeFrameM1, 0, 600))
}

func TestHistoryGetHistoricalPrices(t *testing.T) {
	store := memory.NewPriceSampleStore()
	ctx := context.Background()

	now := time.Now().Unix()
	base := now - now%60
	samples := []*domain.PriceSample{
		sample(base-120, 1.0),
		sample(base-60, 1.5),
		sample(base-30, 1.4),
	}
	require.NoError(t, store.InsertBulk(ctx, samples))

	h := NewHistory(store)
	candles, err := h.GetHistoricalPrices(ctx, testMint, domain.TimeFrameM1, 10)
	require.NoError(t, err)
	require.NotEmpty(t, candles)
	require.LessOrEqual(t, len(candles), 10)

	last := candles[len(candles)-1]
	require.InDelta(t, 1.4, last.Close, 1e-9)
}

func TestHistoryInsufficientHistory(t *testing.T) {
	h := NewHistory(memory.NewPriceSampleStore())

	_, err := h.GetHistoricalPrices(context.Background(), testMint, domain.TimeFrameM1, 10)
	require.ErrorIs(t, err, domain.ErrInsufficientHistory)
}

func TestHistoryInvalidLimit(t *testing.T) {
	h := NewHistory(memory.NewPriceSampleStore())

	_, err := h.GetHistoricalPrices(context.Background(), testMint, domain.TimeFrameM1, 0)
	require.ErrorIs(t, err, domain.ErrInvalidParams)
}
