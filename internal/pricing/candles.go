package pricing

import (
	"context"
	"fmt"
	"time"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/storage"
)

// BuildCandles aggregates samples into fixed buckets covering
// [from, to) bucket starts, ascending. Buckets before the first sample are
// omitted; later empty buckets carry the prior close forward with zero
// volume. Samples must be ordered by timestamp ascending.
func BuildCandles(samples []*domain.PriceSample, tf domain.TimeFrame, from, to int64) []domain.Candle {
	width := tf.Seconds()
	from = from - from%width
	if to <= from || len(samples) == 0 {
		return nil
	}

	byBucket := make(map[int64][]*domain.PriceSample)
	for _, s := range samples {
		if s.Timestamp < from || s.Timestamp >= to {
			continue
		}
		bucket := s.Timestamp - s.Timestamp%width
		byBucket[bucket] = append(byBucket[bucket], s)
	}

	var candles []domain.Candle
	var prevClose float64
	started := false

	for bucket := from; bucket < to; bucket += width {
		group := byBucket[bucket]
		if len(group) == 0 {
			if !started {
				continue
			}
			candles = append(candles, domain.Candle{
				Timestamp: bucket,
				Open:      prevClose,
				High:      prevClose,
				Low:       prevClose,
				Close:     prevClose,
				Volume:    0,
				TimeFrame: tf,
			})
			continue
		}

		c := domain.Candle{
			Timestamp: bucket,
			Open:      group[0].Price,
			High:      group[0].Price,
			Low:       group[0].Price,
			Close:     group[len(group)-1].Price,
			Volume:    float64(len(group)),
			TimeFrame: tf,
		}
		for _, s := range group[1:] {
			if s.Price > c.High {
				c.High = s.Price
			}
			if s.Price < c.Low {
				c.Low = s.Price
			}
		}

		candles = append(candles, c)
		prevClose = c.Close
		started = true
	}

	return candles
}

// History serves candle queries from recorded price samples.
type History struct {
	samples storage.PriceSampleStore
}

// NewHistory creates a candle source over the sample store.
func NewHistory(samples storage.PriceSampleStore) *History {
	return &History{samples: samples}
}

// GetHistoricalPrices returns up to limit closed candles for the mint,
// oldest first, ending at the current bucket. Returns ErrInsufficientHistory
// when no samples exist in the window.
func (h *History) GetHistoricalPrices(ctx context.Context, mint string, tf domain.TimeFrame, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", domain.ErrInvalidParams)
	}

	width := tf.Seconds()
	now := time.Now().Unix()
	to := now - now%width + width // include the in-progress bucket
	from := to - int64(limit)*width

	samples, err := h.samples.GetByTimeRange(ctx, mint, from, to-1)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples for %s in %s window", domain.ErrInsufficientHistory, mint, tf)
	}

	candles := BuildCandles(samples, tf, from, to)
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}
