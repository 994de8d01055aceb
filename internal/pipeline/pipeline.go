// Package pipeline drives a single contract mutation through its lifecycle:
// preparing, submitting, pending, confirmed or failed, then optionally waiting
// for the indexer.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	"github.com/R3E-Network/tokenization_layer/internal/challenge"
	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/logging"
	"github.com/R3E-Network/tokenization_layer/internal/metrics"
	"github.com/R3E-Network/tokenization_layer/internal/portal"
)

// Authenticator produces the challenge response for a mutation.
type Authenticator interface {
	ProduceChallengeResponse(ctx context.Context, user challenge.User, cred challenge.Credential) (challenge.Response, error)
}

// Submitter broadcasts a mutation.
type Submitter interface {
	SubmitMutation(ctx context.Context, sub portal.Submission) (common.Hash, error)
}

// Indexer reports indexer progress.
type Indexer interface {
	HeadBlock(ctx context.Context) (uint64, error)
	QueryIndexedState(ctx context.Context, q chain.IndexedQuery) (json.RawMessage, error)
}

// Config tunes timeouts and retry backoff.
type Config struct {
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	RetryBackoff   time.Duration
	// Jitter is the +/- fraction applied to RetryBackoff.
	Jitter float64
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		ReceiptTimeout: chain.DefaultTxWaitTimeout,
		PollInterval:   chain.DefaultPollInterval,
		RetryBackoff:   time.Second,
		Jitter:         0.2,
	}
}

// Deps are the collaborators of a pipeline.
type Deps struct {
	Authenticator Authenticator
	Submitter     Submitter
	Receipts      chain.ReceiptSource
	// Indexer is optional; without it runs end at confirmed.
	Indexer Indexer
	Logger  *logging.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver registers fn to see every emitted event. Observers run on the
// producer goroutine and must not block.
func WithObserver(fn func(Event)) Option {
	return func(p *Pipeline) {
		p.observers = append(p.observers, fn)
	}
}

// Pipeline executes mutations. It is safe for concurrent use; runs share no state.
type Pipeline struct {
	deps      Deps
	cfg       Config
	observers []func(Event)
}

// New creates a pipeline.
func New(deps Deps, cfg Config, opts ...Option) *Pipeline {
	def := DefaultConfig()
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = def.ReceiptTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = def.Jitter
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}

	p := &Pipeline{deps: deps, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run holds the state of a single attempt.
type run struct {
	p       *Pipeline
	ctx     context.Context
	out     chan<- Event
	action  string
	txHash  string
	started time.Time
	last    Phase
}

// Run starts one attempt and returns its event stream. The channel is
// unbuffered: the run advances only as the caller receives. It is closed after
// the final event, or as soon as ctx is cancelled. Cancelling before
// submission aborts without side effects; afterwards it only stops observation.
func (p *Pipeline) Run(ctx context.Context, m chain.Mutation, user challenge.User, cred challenge.Credential) <-chan Event {
	out := make(chan Event)
	r := &run{p: p, ctx: ctx, out: out, action: m.Action, started: time.Now()}

	go func() {
		defer close(out)
		r.execute(m, user, cred)

		outcome := string(r.last)
		if ctx.Err() != nil && !isTerminal(r.last) {
			outcome = "cancelled"
		}
		metrics.RecordRun(r.action, outcome, time.Since(r.started))
	}()
	return out
}

func isTerminal(p Phase) bool {
	switch p {
	case PhaseFailed, PhaseConfirmed, PhaseIndexingSuccess, PhaseIndexingTimeout:
		return true
	}
	return false
}

// emit delivers ev unless the caller has gone away.
func (r *run) emit(ev Event) bool {
	ev.Action = r.action
	ev.TransactionHash = r.txHash
	ev.Timestamp = time.Now().UTC()

	r.p.deps.Logger.Info(r.ctx, "Pipeline phase", map[string]interface{}{
		"action":  r.action,
		"phase":   ev.Status,
		"tx_hash": r.txHash,
		"reason":  ev.Reason,
	})
	metrics.RecordPhase(r.action, string(ev.Status))
	for _, fn := range r.p.observers {
		fn(ev)
	}

	select {
	case r.out <- ev:
		r.last = ev.Status
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *run) fail(err error) {
	se := apperrors.GetServiceError(err)
	if se == nil {
		se = apperrors.Internal("unexpected pipeline error", err)
	}
	ev := Event{Status: PhaseFailed, Message: se.Message, Reason: se.Code, Final: true}
	if se.Code == apperrors.CodeTransactionReverted {
		if reason, ok := se.Details["revert_reason"].(string); ok {
			ev.Result = &Result{RevertReason: reason}
		}
	}
	r.emit(ev)
}

func (r *run) execute(m chain.Mutation, user challenge.User, cred challenge.Credential) {
	ctx := r.ctx
	if !r.emit(Event{Status: PhasePreparing, Message: "Preparing transaction"}) {
		return
	}

	if err := m.Validate(); err != nil {
		r.fail(err)
		return
	}
	resp, err := r.p.deps.Authenticator.ProduceChallengeResponse(ctx, user, cred)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.fail(err)
		return
	}

	// Last point at which cancellation has no side effects.
	if ctx.Err() != nil {
		return
	}
	if !r.emit(Event{Status: PhaseSubmitting, Message: "Submitting transaction"}) {
		return
	}

	hash, err := r.submit(m, user, resp)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.fail(err)
		return
	}
	r.txHash = hash.Hex()

	if !r.emit(Event{Status: PhasePending, Message: "Waiting for transaction to be mined"}) {
		return
	}

	receipt, err := r.awaitReceipt(hash)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.fail(err)
		return
	}
	if !receipt.Succeeded() {
		msg := "transaction reverted"
		if receipt.RevertReason != "" {
			msg = "transaction reverted: " + receipt.RevertReason
		}
		r.fail(apperrors.New(apperrors.CodeTransactionReverted, msg).WithDetails("revert_reason", receipt.RevertReason))
		return
	}

	result := &Result{ContractAddress: receipt.ContractAddress, BlockNumber: receipt.BlockNumber}
	waitIndexer := m.IndexingTimeout > 0 && r.p.deps.Indexer != nil

	if !r.emit(Event{Status: PhaseConfirmed, Message: "Transaction confirmed", Result: result, Final: !waitIndexer}) {
		return
	}
	if !waitIndexer {
		return
	}

	if !r.emit(Event{Status: PhaseIndexingPending, Message: "Waiting for indexer", Result: result}) {
		return
	}

	if m.IndexQuery != nil {
		q, bound := m.IndexQuery.BindContract(receipt.ContractAddress)
		if bound {
			m.IndexQuery = &q
		} else {
			r.p.deps.Logger.Warn(ctx, "Receipt has no contract address; waiting for indexer head only", map[string]interface{}{
				"action":  r.action,
				"tx_hash": r.txHash,
			})
			m.IndexQuery = nil
		}
	}
	indexed, ok := r.awaitIndexing(m, receipt.BlockNumber)
	if ctx.Err() != nil {
		return
	}
	if !ok {
		r.emit(Event{
			Status:  PhaseIndexingTimeout,
			Message: "Transaction confirmed but not indexed yet; data will catch up",
			Result:  result,
			Final:   true,
		})
		return
	}
	final := *result
	final.Indexed = indexed
	r.emit(Event{Status: PhaseIndexingSuccess, Message: "Transaction indexed", Result: &final, Final: true})
}

// submit sends the mutation, retrying once on a transport error.
func (r *run) submit(m chain.Mutation, user challenge.User, resp challenge.Response) (common.Hash, error) {
	sub := portal.Submission{
		Address:           m.Contract,
		From:              m.From,
		Function:          m.Function,
		Args:              m.ArgsMap(),
		ChallengeID:       resp.ChallengeID,
		ChallengeResponse: resp.ChallengeResponse,
	}

	var hash common.Hash
	err := r.withRetry("submit", func() error {
		var err error
		hash, err = r.p.deps.Submitter.SubmitMutation(r.ctx, sub)
		return err
	})
	return hash, err
}

// withRetry runs fn and, if it fails with a retryable error, runs it once more
// after a jittered backoff.
func (r *run) withRetry(operation string, fn func() error) error {
	err := fn()
	if err == nil || !apperrors.IsRetryable(err) {
		return err
	}

	r.p.deps.Logger.Warn(r.ctx, "Retrying after transport error", map[string]interface{}{
		"action":    r.action,
		"operation": operation,
		"error":     err.Error(),
	})
	metrics.RecordRetry(operation)

	backoff := r.p.cfg.RetryBackoff
	jitter := time.Duration(float64(backoff) * r.p.cfg.Jitter * (rand.Float64()*2 - 1))
	select {
	case <-r.ctx.Done():
		return r.ctx.Err()
	case <-time.After(backoff + jitter):
	}
	return fn()
}

// awaitReceipt polls for the receipt until it arrives or ReceiptTimeout elapses.
func (r *run) awaitReceipt(hash common.Hash) (*chain.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(r.ctx, r.p.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(r.p.cfg.PollInterval)
	defer ticker.Stop()

	poll := &run{p: r.p, ctx: waitCtx, action: r.action}
	for {
		var receipt *chain.Receipt
		err := poll.withRetry("receipt", func() error {
			var err error
			receipt, err = r.p.deps.Receipts.GetReceipt(waitCtx, hash)
			return err
		})
		switch {
		case err == nil:
			return receipt, nil
		case apperrors.HasCode(err, apperrors.CodeNotFound):
		case waitCtx.Err() != nil:
		default:
			return nil, err
		}

		select {
		case <-waitCtx.Done():
			if r.ctx.Err() != nil {
				return nil, r.ctx.Err()
			}
			return nil, apperrors.Newf(apperrors.CodeReceiptTimeout,
				"transaction %s not mined within %s", hash.Hex(), r.p.cfg.ReceiptTimeout)
		case <-ticker.C:
		}
	}
}

// awaitIndexing waits until the indexer head reaches block and, when requested,
// the indexed entity is visible. It reports false on timeout.
func (r *run) awaitIndexing(m chain.Mutation, block uint64) (json.RawMessage, bool) {
	waitCtx, cancel := context.WithTimeout(r.ctx, m.IndexingTimeout)
	defer cancel()

	ticker := time.NewTicker(r.p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		indexed, done, err := r.checkIndexed(waitCtx, m, block)
		if done {
			return indexed, true
		}
		if err != nil && waitCtx.Err() == nil {
			r.p.deps.Logger.Warn(r.ctx, "Indexer poll failed", map[string]interface{}{
				"action":  r.action,
				"tx_hash": r.txHash,
				"error":   err.Error(),
			})
		}

		select {
		case <-waitCtx.Done():
			return nil, false
		case <-ticker.C:
		}
	}
}

func (r *run) checkIndexed(ctx context.Context, m chain.Mutation, block uint64) (json.RawMessage, bool, error) {
	head, err := r.p.deps.Indexer.HeadBlock(ctx)
	if err != nil {
		return nil, false, err
	}
	if head < block {
		return nil, false, nil
	}
	if m.IndexQuery == nil {
		return nil, true, nil
	}
	data, err := r.p.deps.Indexer.QueryIndexedState(ctx, *m.IndexQuery)
	if err != nil {
		return nil, false, fmt.Errorf("query indexed state: %w", err)
	}
	if data == nil {
		return nil, false, errors.New("indexed entity not visible yet")
	}
	return data, true, nil
}
