// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package channel turns an at-least-once, in-order message channel into a
// non-blocking one: a delivery that fails to process is reverted, recorded
// and acknowledged, so later nonces keep flowing while the failed one waits
// for a retry or a rescue.
package channel

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/marginbridge/events"
	"github.com/luxfi/marginbridge/failedmsg"
	"github.com/luxfi/marginbridge/metrics"
	"github.com/luxfi/marginbridge/state"
)

var (
	ErrNotReceiver       = errors.New("sender must be receiver")
	ErrRescueNotAllowed  = errors.New("rescue not allowed yet")
	ErrRescueUnsupported = errors.New("channel does not support rescue")
	ErrDuplicateDelivery = errors.New("message already delivered")
)

// Delivery is one inbound message
type Delivery struct {
	Key     failedmsg.Key
	Payload []byte
}

// Processor applies inbound messages to chain state
type Processor interface {
	// Process applies the message. Any error is treated as a processing
	// failure and everything Process changed is reverted.
	Process(ctx context.Context, d Delivery) error

	// Recipient returns the address entitled to rescue a failed payload
	Recipient(payload []byte) (common.Address, error)

	// Release hands the raw bridged funds of a failed payload to [to] and
	// returns the amount released.
	Release(ctx context.Context, payload []byte, to common.Address) (*big.Int, error)
}

// Funcs adapts plain functions to Processor. A nil Recipient or Release
// makes the channel non-rescuable.
type Funcs struct {
	ProcessFn   func(ctx context.Context, d Delivery) error
	RecipientFn func(payload []byte) (common.Address, error)
	ReleaseFn   func(ctx context.Context, payload []byte, to common.Address) (*big.Int, error)
}

func (f Funcs) Process(ctx context.Context, d Delivery) error {
	return f.ProcessFn(ctx, d)
}

func (f Funcs) Recipient(payload []byte) (common.Address, error) {
	if f.RecipientFn == nil {
		return common.Address{}, ErrRescueUnsupported
	}
	return f.RecipientFn(payload)
}

func (f Funcs) Release(ctx context.Context, payload []byte, to common.Address) (*big.Int, error) {
	if f.ReleaseFn == nil {
		return nil, ErrRescueUnsupported
	}
	return f.ReleaseFn(ctx, payload, to)
}

// RescuePolicy bounds when a failed message may be rescued instead of
// retried. The zero value allows rescue immediately.
type RescuePolicy struct {
	MinAttempts uint32        // failed attempts required, the first delivery counts as one
	Cooldown    time.Duration // chain time that must pass after the first failure
}

// Config of one adapter
type Config struct {
	Name         string         // label used in logs and metrics
	Contract     common.Address // address the adapter's events are attributed to
	FailureEvent string         // event emitted when a delivery is stored
	Policy       RescuePolicy
}

// Adapter is the non-blocking receive path of one contract
type Adapter struct {
	cfg       Config
	state     *state.StateDB
	store     *failedmsg.Store
	processor Processor

	log     log.Logger
	metrics *metrics.Metrics

	mu sync.RWMutex
}

// New creates an adapter. Events go to [st] and failed messages to [store].
func New(cfg Config, st *state.StateDB, store *failedmsg.Store, p Processor) *Adapter {
	if cfg.FailureEvent == "" {
		cfg.FailureEvent = events.MessageFailed
	}
	return &Adapter{
		cfg:       cfg,
		state:     st,
		store:     store,
		processor: p,
		log:       log.NewTestLogger(log.InfoLevel),
	}
}

// SetLogger replaces the adapter logger
func (a *Adapter) SetLogger(l log.Logger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log = l
}

// SetMetrics attaches metrics collectors
func (a *Adapter) SetMetrics(m *metrics.Metrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics = m
}

// SetPolicy replaces the rescue policy
func (a *Adapter) SetPolicy(p RescuePolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Policy = p
}

// Policy returns the rescue policy
func (a *Adapter) Policy() RescuePolicy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.Policy
}

// Store returns the failed message store behind the adapter
func (a *Adapter) Store() *failedmsg.Store {
	return a.store
}

func (a *Adapter) observers() (log.Logger, *metrics.Metrics) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.log, a.metrics
}

// Receive processes one delivery. A processing failure is reverted, recorded
// and reported through the failure event; it does not fail the delivery.
// Ordering is left to the endpoint, so nonces may land in any order. An
// error is returned only when the exact key was already delivered or the
// outcome could not be recorded.
func (a *Adapter) Receive(ctx context.Context, k failedmsg.Key, payload []byte) error {
	logger, m := a.observers()

	seen, err := a.store.Processed(k)
	if err != nil {
		return err
	}
	if seen {
		m.Received(a.cfg.Name, metrics.OutcomeRejected)
		return fmt.Errorf("%w: %s", ErrDuplicateDelivery, k)
	}

	snap := a.state.Snapshot()
	procErr := a.processor.Process(ctx, Delivery{Key: k, Payload: payload})
	if procErr == nil {
		// applied state may already include sent packets, so it stays
		if err := a.store.MarkProcessed(k); err != nil {
			logger.Error("failed to mark delivery", "adapter", a.cfg.Name, "key", k, "err", err)
		}
		m.Received(a.cfg.Name, metrics.OutcomeDelivered)
		return nil
	}
	a.state.RevertToSnapshot(snap)

	if err := a.storeFailure(k, payload, procErr); err != nil {
		return err
	}
	if err := a.store.MarkProcessed(k); err != nil {
		logger.Error("failed to mark delivery", "adapter", a.cfg.Name, "key", k, "err", err)
	}

	logger.Warn("message processing failed, stored for retry",
		"adapter", a.cfg.Name,
		"srcChainID", k.SrcChainID,
		"nonce", k.Nonce,
		"reason", procErr,
	)
	m.Received(a.cfg.Name, metrics.OutcomeFailed)
	return nil
}

func (a *Adapter) storeFailure(k failedmsg.Key, payload []byte, reason error) error {
	if _, err := a.store.Record(k, payload, a.state.Time()); err != nil {
		return fmt.Errorf("store failed message: %w", err)
	}
	err := events.Emit(a.state, a.cfg.Contract, a.cfg.FailureEvent,
		k.SrcChainID, k.SrcAddress, k.Nonce, payload, []byte(reason.Error()))
	if err != nil {
		if clearErr := a.store.Clear(k); clearErr != nil {
			return errors.Join(err, clearErr)
		}
		return err
	}
	return nil
}

// Retry re-runs a stored message. On success the record is cleared; on
// failure state is reverted, the record is reopened with the attempt counted
// and the error is returned.
func (a *Adapter) Retry(ctx context.Context, k failedmsg.Key, payload []byte) error {
	logger, m := a.observers()

	hash, err := a.store.Verify(k, payload)
	if err != nil {
		return err
	}
	meta, err := a.store.Meta(k)
	if err != nil {
		return err
	}
	done, err := events.Prepare(a.cfg.Contract, events.RetryMessageSuccess, k.SrcChainID, k.SrcAddress, k.Nonce, hash)
	if err != nil {
		return err
	}
	// processing may send packets, so the record goes first
	if err := a.store.Clear(k); err != nil {
		return err
	}

	snap := a.state.Snapshot()
	if err := a.processor.Process(ctx, Delivery{Key: k, Payload: payload}); err != nil {
		a.state.RevertToSnapshot(snap)
		m.Retried(a.cfg.Name, metrics.OutcomeFailed)
		if _, reopenErr := a.store.Reopen(failedmsg.Record{Key: k, Hash: hash, Meta: meta}); reopenErr != nil {
			logger.Error("failed to reopen failed message",
				"adapter", a.cfg.Name,
				"key", k,
				"hash", hash,
				"err", reopenErr,
			)
			return errors.Join(fmt.Errorf("retry %s: %w", k, err), reopenErr)
		}
		logger.Debug("retry failed", "adapter", a.cfg.Name, "srcChainID", k.SrcChainID, "nonce", k.Nonce, "reason", err)
		return fmt.Errorf("retry %s: %w", k, err)
	}
	a.state.AddLog(done)

	m.Retried(a.cfg.Name, metrics.OutcomeSuccess)
	logger.Info("failed message retried", "adapter", a.cfg.Name, "srcChainID", k.SrcChainID, "nonce", k.Nonce)
	return nil
}

// Rescue releases the raw bridged funds of a stored message to its
// recipient instead of processing it. Only the recipient may claim. Release
// only moves balances, so a failed resolution is reverted.
func (a *Adapter) Rescue(ctx context.Context, k failedmsg.Key, payload []byte, claimant common.Address) (*big.Int, error) {
	logger, m := a.observers()

	if _, err := a.store.Verify(k, payload); err != nil {
		return nil, err
	}
	recipient, err := a.processor.Recipient(payload)
	if err != nil {
		return nil, err
	}
	if claimant != recipient {
		return nil, fmt.Errorf("%w: claimant %s, recipient %s", ErrNotReceiver, claimant.Hex(), recipient.Hex())
	}
	if err := a.checkPolicy(k); err != nil {
		return nil, err
	}

	snap := a.state.Snapshot()
	amount, err := a.processor.Release(ctx, payload, claimant)
	if err != nil {
		a.state.RevertToSnapshot(snap)
		return nil, fmt.Errorf("rescue %s: %w", k, err)
	}
	if err := a.resolve(k, events.FundsRescued, k.SrcChainID, k.SrcAddress, k.Nonce, claimant, amount); err != nil {
		a.state.RevertToSnapshot(snap)
		return nil, err
	}

	m.Rescued(a.cfg.Name)
	logger.Info("failed message rescued",
		"adapter", a.cfg.Name,
		"srcChainID", k.SrcChainID,
		"nonce", k.Nonce,
		"to", claimant,
		"amount", amount,
	)
	return amount, nil
}

func (a *Adapter) checkPolicy(k failedmsg.Key) error {
	policy := a.Policy()
	if policy.MinAttempts == 0 && policy.Cooldown == 0 {
		return nil
	}
	meta, err := a.store.Meta(k)
	if err != nil {
		return err
	}
	if meta.Attempts < policy.MinAttempts {
		return fmt.Errorf("%w: %d of %d attempts", ErrRescueNotAllowed, meta.Attempts, policy.MinAttempts)
	}
	if policy.Cooldown > 0 {
		elapsed := time.Duration(a.state.Time()-min(a.state.Time(), meta.FailedAt)) * time.Second
		if elapsed < policy.Cooldown {
			return fmt.Errorf("%w: %s of %s cooldown elapsed", ErrRescueNotAllowed, elapsed, policy.Cooldown)
		}
	}
	return nil
}

// resolve emits the resolution event then clears the record
func (a *Adapter) resolve(k failedmsg.Key, event string, args ...interface{}) error {
	if err := events.Emit(a.state, a.cfg.Contract, event, args...); err != nil {
		return err
	}
	return a.store.Clear(k)
}
