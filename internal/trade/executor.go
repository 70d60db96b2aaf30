package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"solana-amm-client/internal/domain"
	"solana-amm-client/internal/ledger"
	"solana-amm-client/internal/observability"
	"solana-amm-client/internal/quote"
	"solana-amm-client/internal/solkey"
	"solana-amm-client/internal/storage"
)

// Executor policy defaults.
const (
	// DefaultQuoteTTL is how long a quote stays executable.
	DefaultQuoteTTL = 5 * time.Second

	// DefaultMaxSubmitAttempts bounds requote-and-resubmit cycles on
	// transient submission failures.
	DefaultMaxSubmitAttempts = 3

	// DefaultConfirmInterval is the confirmation poll cadence.
	DefaultConfirmInterval = 1 * time.Second

	// DefaultMaxConfirmPolls bounds confirmation polling.
	DefaultMaxConfirmPolls = 30

	// detachedResolveTimeout bounds the post-cancellation finality check.
	detachedResolveTimeout = 10 * time.Second
)

// QuoteSource produces validated quotes; satisfied by quote.Engine.
type QuoteSource interface {
	GetQuoteWithValidation(ctx context.Context, params *domain.TradeParams) (*domain.Quote, error)
}

// PoolSource refreshes pools; satisfied by pool.Registry.
type PoolSource interface {
	GetPoolInfo(ctx context.Context, address string) (*domain.Pool, error)
}

// Executor walks a swap through Quoted, Submitted, and a terminal
// Confirmed or Failed. Execution-time rejections are final; transport
// failures and blockhash expiry are retried, each time with a fresh quote
// and blockhash.
type Executor struct {
	gw      ledger.Gateway
	quotes  QuoteSource
	pools   PoolSource
	signer  solkey.Signer
	records storage.TradeRecordStore // optional journal
	log     *zap.Logger

	programID         string
	quoteTTL          time.Duration
	maxSubmitAttempts int
	confirmInterval   time.Duration
	maxConfirmPolls   int
}

// ExecutorOption configures Executor.
type ExecutorOption func(*Executor)

// WithQuoteTTL overrides the quote freshness window.
func WithQuoteTTL(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.quoteTTL = d
	}
}

// WithMaxSubmitAttempts overrides the submission retry bound.
func WithMaxSubmitAttempts(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxSubmitAttempts = n
	}
}

// WithConfirmPolicy overrides the confirmation poll cadence and bound.
func WithConfirmPolicy(interval time.Duration, maxPolls int) ExecutorOption {
	return func(e *Executor) {
		e.confirmInterval = interval
		e.maxConfirmPolls = maxPolls
	}
}

// WithRecordStore journals trades to the store. Journal failures are
// logged, never fatal to the trade.
func WithRecordStore(s storage.TradeRecordStore) ExecutorOption {
	return func(e *Executor) {
		e.records = s
	}
}

// NewExecutor creates a trade executor for the AMM program.
func NewExecutor(gw ledger.Gateway, quotes QuoteSource, pools PoolSource, signer solkey.Signer, programID string, log *zap.Logger, opts ...ExecutorOption) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Executor{
		gw:                gw,
		quotes:            quotes,
		pools:             pools,
		signer:            signer,
		log:               log,
		programID:         programID,
		quoteTTL:          DefaultQuoteTTL,
		maxSubmitAttempts: DefaultMaxSubmitAttempts,
		confirmInterval:   DefaultConfirmInterval,
		maxConfirmPolls:   DefaultMaxConfirmPolls,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteSwapSafe quotes, revalidates against live reserves, submits, and
// waits for a terminal outcome. The returned record carries the signature
// and final state; on ErrUnknownOutcome the record is returned alongside
// the error so the caller can resolve the signature later.
func (e *Executor) ExecuteSwapSafe(ctx context.Context, params *domain.TradeParams) (*domain.TradeRecord, error) {
	user := params.User
	if user == "" {
		user = e.signer.PublicKey()
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxSubmitAttempts; attempt++ {
		if attempt > 1 {
			observability.DefaultMetrics.TradeRetries.Inc()
			e.log.Info("retrying submission with fresh quote",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
		}

		q, err := e.quotes.GetQuoteWithValidation(ctx, params)
		if err != nil {
			return nil, err
		}

		if err := e.revalidate(ctx, q, params); err != nil {
			observability.RecordTradeSubmitted("rejected")
			return nil, err
		}

		record, err := e.submitOnce(ctx, q, params, user)
		if err == nil {
			return e.awaitOutcome(ctx, record)
		}

		// Ledger rejections and caller errors are final; only transport
		// failures earn another attempt.
		if !errors.Is(err, domain.ErrTransport) {
			observability.RecordTradeSubmitted("rejected")
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	observability.RecordTradeSubmitted("failed")
	return nil, fmt.Errorf("submission attempts exhausted: %w", lastErr)
}

// revalidate recomputes the swap against live reserves. Output below the
// quoted bound means the market moved past the slippage budget.
func (e *Executor) revalidate(ctx context.Context, q *domain.Quote, params *domain.TradeParams) error {
	if time.Since(q.GeneratedAt) > e.quoteTTL {
		return fmt.Errorf("%w: quote generated %s ago", domain.ErrQuoteExpired, time.Since(q.GeneratedAt).Round(time.Millisecond))
	}

	fresh, err := e.pools.GetPoolInfo(ctx, q.Pool)
	if err != nil {
		return err
	}

	swap, err := quote.ComputeSwap(fresh, params.InputMint, params.AmountIn)
	if err != nil {
		return err
	}
	if swap.AmountOut < q.MinAmountOut {
		return fmt.Errorf("%w: live output %d below bound %d", domain.ErrSlippageExceeded, swap.AmountOut, q.MinAmountOut)
	}
	return nil
}

// blockhashNotFound marks the node rejection for an expired recent
// blockhash. The transaction never executed, so resubmitting with a fresh
// quote and blockhash is safe.
const blockhashNotFound = "Blockhash not found"

// submitOnce assembles, signs, and submits one transaction. A blockhash
// expiry rejection is surfaced as ErrTransport so the caller requotes and
// resubmits; any other RPC-level rejection is final and surfaced as
// ErrSlippageExceeded.
func (e *Executor) submitOnce(ctx context.Context, q *domain.Quote, params *domain.TradeParams, user string) (*domain.TradeRecord, error) {
	pool, err := e.pools.GetPoolInfo(ctx, q.Pool)
	if err != nil {
		return nil, err
	}

	inputATA, err := solkey.AssociatedTokenAddress(user, params.InputMint)
	if err != nil {
		return nil, err
	}
	outputATA, err := solkey.AssociatedTokenAddress(user, params.OutputMint)
	if err != nil {
		return nil, err
	}

	var instrs []Instruction

	// The output account may not exist yet; create it in the same
	// transaction.
	if _, err := e.gw.ReadAccount(ctx, outputATA); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		create, err := CreateATAInstruction(user, user, params.OutputMint)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, *create)
	}

	swapIx, err := SwapInstruction(e.programID, pool, user, inputATA, outputATA, params.InputMint, params.AmountIn, q.MinAmountOut)
	if err != nil {
		return nil, err
	}
	instrs = append(instrs, *swapIx)

	blockhash, err := e.gw.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	message, err := BuildMessage(user, blockhash.Blockhash, instrs)
	if err != nil {
		return nil, err
	}

	sig, err := e.signer.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}

	serialized, err := AssembleTransaction(message, [][]byte{sig})
	if err != nil {
		return nil, err
	}

	signature, err := e.gw.SubmitTransaction(ctx, serialized)
	if err != nil {
		var rpcErr *ledger.RPCError
		if errors.As(err, &rpcErr) {
			if strings.Contains(rpcErr.Message, blockhashNotFound) {
				return nil, fmt.Errorf("%w: blockhash expired before inclusion: %v", domain.ErrTransport, rpcErr)
			}
			return nil, fmt.Errorf("%w: ledger rejected submission: %v", domain.ErrSlippageExceeded, rpcErr)
		}
		return nil, err
	}

	record := &domain.TradeRecord{
		Signature:    signature,
		InputMint:    params.InputMint,
		OutputMint:   params.OutputMint,
		Pool:         q.Pool,
		AmountIn:     params.AmountIn,
		AmountOut:    q.AmountOut,
		MinAmountOut: q.MinAmountOut,
		PriceImpact:  q.PriceImpact,
		State:        domain.TradeStateSubmitted,
		SubmittedAt:  time.Now().UnixMilli(),
	}
	e.journalInsert(record)
	observability.RecordTradeSubmitted("submitted")

	return record, nil
}

// awaitOutcome polls the signature to a terminal state. Cancellation does
// not abandon the trade silently: a detached finality check runs first, and
// only an unresolved signature yields ErrUnknownOutcome.
func (e *Executor) awaitOutcome(ctx context.Context, record *domain.TradeRecord) (*domain.TradeRecord, error) {
	submitted := time.Now()

	for poll := 0; poll < e.maxConfirmPolls; poll++ {
		select {
		case <-ctx.Done():
			return e.resolveDetached(record)
		case <-time.After(e.confirmInterval):
		}

		status, err := e.gw.GetSignatureStatus(ctx, record.Signature)
		if err != nil {
			if ctx.Err() != nil {
				return e.resolveDetached(record)
			}
			e.log.Warn("status poll failed",
				zap.String("signature", record.Signature),
				zap.Error(err))
			continue
		}

		done, err := e.applyStatus(record, status)
		if done {
			if err == nil {
				observability.DefaultMetrics.ConfirmationTime.Observe(time.Since(submitted).Seconds())
			}
			return record, err
		}
	}

	return record, fmt.Errorf("%w: signature %s unresolved after %d polls", domain.ErrUnknownOutcome, record.Signature, e.maxConfirmPolls)
}

// applyStatus folds one poll result into the record. done reports a
// terminal state.
func (e *Executor) applyStatus(record *domain.TradeRecord, status *ledger.SignatureStatus) (bool, error) {
	if status == nil {
		return false, nil
	}

	if status.Err != nil {
		record.State = domain.TradeStateFailed
		record.ConfirmedAt = time.Now().UnixMilli()
		e.journalFinalize(record)
		observability.RecordTradeSubmitted("ledger_rejected")
		return true, fmt.Errorf("%w: ledger rejected %s: %v", domain.ErrSlippageExceeded, record.Signature, status.Err)
	}

	if status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized" {
		record.State = domain.TradeStateConfirmed
		record.ConfirmedAt = time.Now().UnixMilli()
		e.journalFinalize(record)
		observability.RecordTradeSubmitted("confirmed")
		return true, nil
	}

	return false, nil
}

// resolveDetached gives a cancelled trade one bounded chance to resolve on
// a fresh context before reporting the outcome unknown.
func (e *Executor) resolveDetached(record *domain.TradeRecord) (*domain.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), detachedResolveTimeout)
	defer cancel()

	for {
		status, err := e.gw.GetSignatureStatus(ctx, record.Signature)
		if err == nil {
			done, terr := e.applyStatus(record, status)
			if done {
				return record, terr
			}
		}

		select {
		case <-ctx.Done():
			observability.RecordTradeSubmitted("unknown")
			return record, fmt.Errorf("%w: cancelled with signature %s in flight", domain.ErrUnknownOutcome, record.Signature)
		case <-time.After(e.confirmInterval):
		}
	}
}

func (e *Executor) journalInsert(record *domain.TradeRecord) {
	if e.records == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.records.Insert(ctx, record); err != nil {
		e.log.Warn("journal insert failed",
			zap.String("signature", record.Signature),
			zap.Error(err))
	}
}

func (e *Executor) journalFinalize(record *domain.TradeRecord) {
	if e.records == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.records.UpdateState(ctx, record.Signature, record.State, record.ConfirmedAt); err != nil {
		e.log.Warn("journal update failed",
			zap.String("signature", record.Signature),
			zap.Error(err))
	}
}
