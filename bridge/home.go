// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/marginbridge/channel"
	"github.com/luxfi/marginbridge/events"
	"github.com/luxfi/marginbridge/failedmsg"
	"github.com/luxfi/marginbridge/governance"
	"github.com/luxfi/marginbridge/lzclient"
	"github.com/luxfi/marginbridge/metrics"
	"github.com/luxfi/marginbridge/payload"
	"github.com/luxfi/marginbridge/state"
)

// HomeConfig of the Home deployment
type HomeConfig struct {
	Name    string
	Address common.Address
}

// Home is the ledger contract on the home chain. It holds the native gas
// reserve: deposits release gas to users and collateral to the margin
// account, withdrawals take it back.
type Home struct {
	storage

	cfg    HomeConfig
	gov    *governance.Governable
	lz     *lzclient.Client
	margin MarginAccount

	// decimals of each supported token, by index
	decimals []uint8

	log     log.Logger
	metrics *metrics.Metrics

	mu sync.RWMutex
}

// NewHome deploys a Home crediting [margin], with one supported token of
// [decimals] at index 0. The messaging client is attached with SetLZClient.
func NewHome(cfg HomeConfig, st *state.StateDB, gov *governance.Governable, margin MarginAccount, decimals uint8) *Home {
	return &Home{
		storage:  storage{state: st, address: cfg.Address},
		cfg:      cfg,
		gov:      gov,
		margin:   margin,
		decimals: []uint8{decimals},
		log:      log.NewTestLogger(log.InfoLevel),
	}
}

func (h *Home) Address() common.Address {
	return h.cfg.Address
}

func (h *Home) SetLogger(l log.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = l
}

func (h *Home) SetMetrics(m *metrics.Metrics) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = m
}

func (h *Home) observers() (log.Logger, *metrics.Metrics) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.log, h.metrics
}

// SetLZClient attaches the messaging client. The client must use the Home
// address as both its address and its owner.
func (h *Home) SetLZClient(caller common.Address, c *lzclient.Client) error {
	if err := h.gov.OnlyGovernance(caller); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lz = c
	return nil
}

// AddSupportedToken registers a token of [decimals] and returns its index
func (h *Home) AddSupportedToken(caller common.Address, decimals uint8) (*big.Int, error) {
	if err := h.gov.OnlyGovernance(caller); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decimals = append(h.decimals, decimals)
	return big.NewInt(int64(len(h.decimals) - 1)), nil
}

func (h *Home) tokenDecimals(tokenIdx *big.Int) (uint8, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if tokenIdx == nil || tokenIdx.Sign() < 0 || !tokenIdx.IsInt64() || tokenIdx.Int64() >= int64(len(h.decimals)) {
		return 0, fmt.Errorf("%w: %v", ErrUnknownToken, tokenIdx)
	}
	return h.decimals[tokenIdx.Int64()], nil
}

func (h *Home) client() (*lzclient.Client, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lz == nil {
		return nil, ErrNoMessagingClient
	}
	return h.lz, nil
}

// CirculatingSupply is the native amount released for [tokenIdx] and not
// yet withdrawn, in 18 decimals.
func (h *Home) CirculatingSupply(tokenIdx *big.Int) *big.Int {
	return h.getUint(mappingSlot(slotCirculatingSupply, idxKey(tokenIdx)))
}

func (h *Home) changeSupply(tokenIdx, delta *big.Int) error {
	slot := mappingSlot(slotCirculatingSupply, idxKey(tokenIdx))
	next := new(big.Int).Add(h.getUint(slot), delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: circulating supply %s, withdrawing %s", ErrInsufficientBalance, h.getUint(slot), new(big.Int).Neg(delta))
	}
	h.setUint(slot, next)
	return nil
}

func (h *Home) transferNative(from, to common.Address, amount *big.Int) error {
	u, err := state.U256(amount)
	if err != nil {
		return err
	}
	return h.state.Transfer(from, to, u)
}

// Inbound deposits

// Processor applies deposit packets delivered by the messaging client.
// Pass it to lzclient.New for the client of this Home.
func (h *Home) Processor() channel.Processor {
	return channel.Funcs{
		ProcessFn:   h.processDeposit,
		RecipientFn: homeRecipient,
		ReleaseFn:   h.releaseDeposit,
	}
}

func decodeDeposit(b []byte) (*payload.DepositPacket, error) {
	pkt, err := payload.Decode(b)
	if err != nil {
		return nil, err
	}
	d, ok := pkt.(*payload.DepositPacket)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedPacket, pkt.Type())
	}
	return d, nil
}

func (h *Home) processDeposit(_ context.Context, d channel.Delivery) error {
	p, err := decodeDeposit(d.Payload)
	if err != nil {
		return err
	}
	dec, err := h.tokenDecimals(p.TokenIdx)
	if err != nil {
		return err
	}
	marginAmount := new(big.Int).Sub(p.Amount, p.ToGas)
	if marginAmount.Sign() < 0 {
		return fmt.Errorf("%w: toGas %s, amount %s", ErrInvalidToGas, p.ToGas, p.Amount)
	}

	if p.ToGas.Sign() > 0 {
		if err := h.transferNative(h.cfg.Address, p.To, toNative(p.ToGas, dec)); err != nil {
			return fmt.Errorf("%w: %w", ErrInsufficientNativeBalance, err)
		}
	}
	if marginAmount.Sign() > 0 {
		if err := h.transferNative(h.cfg.Address, h.margin.Address(), toNative(marginAmount, dec)); err != nil {
			return fmt.Errorf("%w: %w", ErrInsufficientNativeBalance, err)
		}
		if p.IsInsuranceFund {
			err = h.margin.DepositToInsuranceFund(p.TokenIdx, marginAmount)
		} else {
			err = h.margin.AddMarginFor(p.TokenIdx, marginAmount, p.To)
		}
		if err != nil {
			return err
		}
	}
	if err := h.changeSupply(p.TokenIdx, toNative(p.Amount, dec)); err != nil {
		return err
	}

	metadata, err := p.Metadata()
	if err != nil {
		return err
	}
	err = events.Emit(h.state, h.cfg.Address, events.ReceiveFromChain, d.Key.SrcChainID, p.To, p.TokenIdx, p.Amount, metadata, d.Key.Nonce)
	if err != nil {
		return err
	}

	logger, _ := h.observers()
	logger.Info("deposit credited",
		"home", h.cfg.Name,
		"srcChainID", d.Key.SrcChainID,
		"nonce", d.Key.Nonce,
		"to", p.To,
		"margin", marginAmount,
		"toGas", p.ToGas,
		"insuranceFund", p.IsInsuranceFund,
	)
	return nil
}

func homeRecipient(b []byte) (common.Address, error) {
	p, err := decodeDeposit(b)
	if err != nil {
		return common.Address{}, err
	}
	return p.To, nil
}

// releaseDeposit pays the whole deposit out as gas, skipping the margin account
func (h *Home) releaseDeposit(_ context.Context, b []byte, to common.Address) (*big.Int, error) {
	p, err := decodeDeposit(b)
	if err != nil {
		return nil, err
	}
	dec, err := h.tokenDecimals(p.TokenIdx)
	if err != nil {
		return nil, err
	}
	amount := toNative(p.Amount, dec)
	if err := h.transferNative(h.cfg.Address, to, amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientNativeBalance, err)
	}
	if err := h.changeSupply(p.TokenIdx, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// RetryMessage re-runs a failed inbound deposit
func (h *Home) RetryMessage(ctx context.Context, srcChainID uint16, srcAddress []byte, nonce uint64, pkt []byte) error {
	lz, err := h.client()
	if err != nil {
		return err
	}
	return lz.RetryMessage(ctx, srcChainID, srcAddress, nonce, pkt)
}

// RescueFunds releases a failed inbound deposit as gas to its recipient
func (h *Home) RescueFunds(ctx context.Context, caller common.Address, srcChainID uint16, srcAddress []byte, nonce uint64, pkt []byte) (*big.Int, error) {
	lz, err := h.client()
	if err != nil {
		return nil, err
	}
	return lz.Rescue(ctx, caller, srcChainID, srcAddress, nonce, pkt)
}

// FailedMessages returns the stored hash of a failed inbound deposit
func (h *Home) FailedMessages(srcChainID uint16, srcAddress []byte, nonce uint64) (common.Hash, error) {
	lz, err := h.client()
	if err != nil {
		return common.Hash{}, err
	}
	return lz.FailedMessages(srcChainID, srcAddress, nonce)
}

// PendingFailures lists every open failed inbound deposit
func (h *Home) PendingFailures() ([]failedmsg.Record, error) {
	lz, err := h.client()
	if err != nil {
		return nil, err
	}
	return lz.PendingFailures()
}

// Withdrawals

func withdrawPacket(vars WithdrawVars, amount *big.Int) *payload.WithdrawPacket {
	return &payload.WithdrawPacket{
		To:               vars.To,
		TokenIdx:         vars.TokenIdx,
		Amount:           amount,
		SecondHopChainID: vars.SecondHopChainID,
		AmountMin:        orZero(vars.AmountMin),
		DstPoolID:        orZero(vars.DstPoolID),
	}
}

// EstimateSendFee quotes the native messaging fee of a withdrawal
func (h *Home) EstimateSendFee(vars WithdrawVars) (*big.Int, *big.Int, error) {
	lz, err := h.client()
	if err != nil {
		return nil, nil, err
	}
	enc, err := withdrawPacket(vars, orZero(vars.Amount)).Encode()
	if err != nil {
		return nil, nil, err
	}
	return lz.EstimateFees(vars.DstChainID, enc, vars.ZroPaymentAddress != (common.Address{}), vars.AdapterParams)
}

// Withdraw sends [vars.Amount] (18 decimals) of the caller's gas out of the
// home chain. [value] must cover the amount plus the messaging fee. The
// amount leaves circulation before the message is sent; a failure on the
// receiving side is recovered there, not here.
func (h *Home) Withdraw(ctx context.Context, caller common.Address, value *big.Int, vars WithdrawVars) (uint64, error) {
	if vars.Amount == nil || vars.Amount.Sign() <= 0 {
		return 0, ErrZeroAmount
	}
	dec, err := h.tokenDecimals(vars.TokenIdx)
	if err != nil {
		return 0, err
	}
	tokenAmount := fromNative(vars.Amount, dec)
	if tokenAmount.Sign() == 0 {
		return 0, fmt.Errorf("%w: %s below token precision", ErrZeroAmount, vars.Amount)
	}
	lz, enc, fee, err := h.quote(vars, tokenAmount)
	if err != nil {
		return 0, err
	}
	required := new(big.Int).Add(vars.Amount, fee)
	if value == nil || value.Cmp(required) < 0 {
		return 0, fmt.Errorf("%w: sent %v, need %s", ErrInsufficientNativeTokenTransferred, value, required)
	}

	snap := h.state.Snapshot()
	if err := h.changeSupply(vars.TokenIdx, new(big.Int).Neg(vars.Amount)); err != nil {
		h.state.RevertToSnapshot(snap)
		return 0, err
	}
	nonce, err := h.dispatch(ctx, lz, caller, value, vars.Amount, vars, tokenAmount, enc)
	if err != nil {
		h.state.RevertToSnapshot(snap)
		return 0, err
	}
	return nonce, nil
}

// WithdrawMargin sends [vars.Amount] (token decimals) of the caller's
// margin out of the home chain. [value] pays the messaging fee.
func (h *Home) WithdrawMargin(ctx context.Context, caller common.Address, value *big.Int, vars WithdrawVars) (uint64, error) {
	if vars.Amount == nil || vars.Amount.Sign() <= 0 {
		return 0, ErrZeroAmount
	}
	dec, err := h.tokenDecimals(vars.TokenIdx)
	if err != nil {
		return 0, err
	}
	lz, enc, fee, err := h.quote(vars, vars.Amount)
	if err != nil {
		return 0, err
	}
	if value == nil || value.Cmp(fee) < 0 {
		return 0, fmt.Errorf("%w: sent %v, need %s", ErrInsufficientNativeTokenTransferred, value, fee)
	}

	snap := h.state.Snapshot()
	nonce, err := h.withdrawMargin(ctx, lz, caller, value, vars, dec, enc)
	if err != nil {
		h.state.RevertToSnapshot(snap)
		return 0, err
	}
	return nonce, nil
}

func (h *Home) withdrawMargin(ctx context.Context, lz *lzclient.Client, caller common.Address, value *big.Int, vars WithdrawVars, dec uint8, enc []byte) (uint64, error) {
	if err := h.margin.RemoveMarginFor(vars.TokenIdx, vars.Amount, caller); err != nil {
		return 0, err
	}
	collateral := toNative(vars.Amount, dec)
	if err := h.transferNative(h.margin.Address(), h.cfg.Address, collateral); err != nil {
		return 0, err
	}
	if err := h.changeSupply(vars.TokenIdx, new(big.Int).Neg(collateral)); err != nil {
		return 0, err
	}
	return h.dispatch(ctx, lz, caller, value, new(big.Int), vars, vars.Amount, enc)
}

func (h *Home) quote(vars WithdrawVars, tokenAmount *big.Int) (*lzclient.Client, []byte, *big.Int, error) {
	lz, err := h.client()
	if err != nil {
		return nil, nil, nil, err
	}
	enc, err := withdrawPacket(vars, tokenAmount).Encode()
	if err != nil {
		return nil, nil, nil, err
	}
	fee, _, err := lz.EstimateFees(vars.DstChainID, enc, vars.ZroPaymentAddress != (common.Address{}), vars.AdapterParams)
	if err != nil {
		return nil, nil, nil, err
	}
	return lz, enc, fee, nil
}

// dispatch takes [value] from the caller, keeps [kept] and spends the rest
// on the message. The caller of dispatch reverts on error.
func (h *Home) dispatch(ctx context.Context, lz *lzclient.Client, caller common.Address, value, kept *big.Int, vars WithdrawVars, tokenAmount *big.Int, enc []byte) (uint64, error) {
	if err := h.transferNative(caller, h.cfg.Address, value); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
	}
	refund := vars.RefundAddress
	if refund == (common.Address{}) {
		refund = caller
	}
	sent, err := events.Prepare(h.cfg.Address, events.WithdrawToChain, vars.DstChainID, caller, vars.To, vars.TokenIdx, tokenAmount, lz.NextNonce(vars.DstChainID))
	if err != nil {
		return 0, err
	}
	nonce, err := lz.Send(ctx, h.cfg.Address, new(big.Int).Sub(value, kept), vars.DstChainID, enc, refund, vars.ZroPaymentAddress, vars.AdapterParams)
	if err != nil {
		return 0, err
	}
	h.state.AddLog(sent)

	logger, m := h.observers()
	dst := strconv.Itoa(int(vars.DstChainID))
	m.Withdrawal(dst)
	m.PacketSent(strconv.Itoa(int(h.state.ChainID())), payload.PTWithdraw.String())
	logger.Info("withdrawal sent",
		"home", h.cfg.Name,
		"from", caller,
		"to", vars.To,
		"dstChainID", vars.DstChainID,
		"secondHopChainID", vars.SecondHopChainID,
		"amount", tokenAmount,
		"nonce", nonce,
	)
	return nonce, nil
}
