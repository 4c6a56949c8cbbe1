// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/marginbridge/channel"
	"github.com/luxfi/marginbridge/events"
	"github.com/luxfi/marginbridge/failedmsg"
	"github.com/luxfi/marginbridge/governance"
	"github.com/luxfi/marginbridge/lzclient"
	"github.com/luxfi/marginbridge/metrics"
	"github.com/luxfi/marginbridge/payload"
	"github.com/luxfi/marginbridge/pricefeed"
	"github.com/luxfi/marginbridge/state"
	"github.com/luxfi/marginbridge/stargate"
)

// RemoteConfig of one Remote deployment
type RemoteConfig struct {
	Name        string
	Address     common.Address
	HomeChainID uint16
}

// Remote is the bridge contract on a connected chain. Deposits arrive as
// liquidity-layer swaps, pay the messaging fee out of the bridged amount and
// are forwarded home. Withdrawals arrive from home through the messaging
// client and are paid out here or swapped on to a second chain.
type Remote struct {
	storage

	cfg       RemoteConfig
	gov       *governance.Governable
	router    stargate.Router
	lz        *lzclient.Client
	converter *pricefeed.Converter
	deposits  *channel.Adapter

	tokens []SupportedToken

	log     log.Logger
	metrics *metrics.Metrics

	mu sync.RWMutex
}

var _ stargate.Receiver = (*Remote)(nil)

// NewRemote deploys a Remote supporting [token] at index 0. Failed deposits
// are kept in [store]. The messaging client is attached with SetLZClient.
func NewRemote(cfg RemoteConfig, st *state.StateDB, gov *governance.Governable, router stargate.Router, nativeFeed pricefeed.Feed, store *failedmsg.Store, token SupportedToken) *Remote {
	r := &Remote{
		storage:   storage{state: st, address: cfg.Address},
		cfg:       cfg,
		gov:       gov,
		router:    router,
		converter: pricefeed.NewConverter(nativeFeed, st.Time),
		tokens:    []SupportedToken{token},
		log:       log.NewTestLogger(log.InfoLevel),
	}
	r.deposits = channel.New(channel.Config{
		Name:         cfg.Name + "/deposit",
		Contract:     cfg.Address,
		FailureEvent: events.DepositSecondHopFailure,
	}, st, store, channel.Funcs{
		ProcessFn:   r.processDeposit,
		RecipientFn: depositRecipient,
		ReleaseFn:   r.releaseDeposit,
	})
	return r
}

func (r *Remote) Address() common.Address {
	return r.cfg.Address
}

// SetLogger replaces the logger of the Remote and its deposit channel
func (r *Remote) SetLogger(l log.Logger) {
	r.mu.Lock()
	r.log = l
	r.mu.Unlock()
	r.deposits.SetLogger(l)
}

// SetMetrics attaches metrics to the Remote and its deposit channel
func (r *Remote) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
	r.deposits.SetMetrics(m)
}

func (r *Remote) observers() (log.Logger, *metrics.Metrics) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.log, r.metrics
}

// Governance

// SetLZClient attaches the messaging client. Its owner must be this Remote.
func (r *Remote) SetLZClient(caller common.Address, c *lzclient.Client) error {
	if err := r.gov.OnlyGovernance(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lz = c
	return nil
}

// SetStargateConfig replaces the liquidity-layer router
func (r *Remote) SetStargateConfig(caller common.Address, router stargate.Router) error {
	if err := r.gov.OnlyGovernance(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.router = router
	return nil
}

// SetMaxPriceAge bounds the age of price rounds used for fees
func (r *Remote) SetMaxPriceAge(caller common.Address, d time.Duration) error {
	if err := r.gov.OnlyGovernance(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converter.MaxAge = d
	return nil
}

// SetRescuePolicy bounds when failed deposits may be rescued
func (r *Remote) SetRescuePolicy(caller common.Address, p channel.RescuePolicy) error {
	if err := r.gov.OnlyGovernance(caller); err != nil {
		return err
	}
	r.deposits.SetPolicy(p)
	return nil
}

// SetWhitelistRelayer allows [relayer] to deliver deposits in place of the router
func (r *Remote) SetWhitelistRelayer(caller, relayer common.Address, whitelisted bool) error {
	if err := r.gov.OnlyGovernance(caller); err != nil {
		return err
	}
	snap := r.state.Snapshot()
	r.setBool(mappingSlot(slotWhitelistRelayer, relayer.Bytes()), whitelisted)
	if err := events.Emit(r.state, r.cfg.Address, events.WhitelistRelayerSet, relayer, whitelisted); err != nil {
		r.state.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// IsWhitelistedRelayer reports whether [relayer] may call SgReceive
func (r *Remote) IsWhitelistedRelayer(relayer common.Address) bool {
	return r.getBool(mappingSlot(slotWhitelistRelayer, relayer.Bytes()))
}

// AddSupportedToken appends [token] and returns its index
func (r *Remote) AddSupportedToken(caller common.Address, token SupportedToken) (*big.Int, error) {
	if err := r.gov.OnlyGovernance(caller); err != nil {
		return nil, err
	}
	r.mu.Lock()
	for _, t := range r.tokens {
		if t.Token == token.Token {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrTokenExists, token.Token.Hex())
		}
	}
	idx := big.NewInt(int64(len(r.tokens)))
	r.tokens = append(r.tokens, token)
	r.mu.Unlock()

	if err := events.Emit(r.state, r.cfg.Address, events.SupportedTokenAdded, idx, token.Token, token.Decimals); err != nil {
		return nil, err
	}
	return idx, nil
}

// SupportedToken returns the token at [tokenIdx] with its collected fee
func (r *Remote) SupportedToken(tokenIdx *big.Int) (SupportedToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tokenIdx == nil || tokenIdx.Sign() < 0 || !tokenIdx.IsInt64() || tokenIdx.Int64() >= int64(len(r.tokens)) {
		return SupportedToken{}, fmt.Errorf("%w: %v", ErrUnknownToken, tokenIdx)
	}
	t := r.tokens[tokenIdx.Int64()]
	t.CollectedFee = r.FeeCollected(tokenIdx)
	return t, nil
}

// FeeCollected returns the fees accumulated for [tokenIdx] since the last sweep
func (r *Remote) FeeCollected(tokenIdx *big.Int) *big.Int {
	return r.getUint(mappingSlot(slotCollectedFee, idxKey(tokenIdx)))
}

// SweepFees pays the collected fees of [tokenIdx] to [to]
func (r *Remote) SweepFees(caller common.Address, tokenIdx *big.Int, to common.Address) (*big.Int, error) {
	if err := r.gov.OnlyGovernance(caller); err != nil {
		return nil, err
	}
	tok, err := r.SupportedToken(tokenIdx)
	if err != nil {
		return nil, err
	}
	amount := tok.CollectedFee
	snap := r.state.Snapshot()
	if err := r.transferToken(tok.Token, to, amount); err != nil {
		r.state.RevertToSnapshot(snap)
		return nil, err
	}
	r.setUint(mappingSlot(slotCollectedFee, idxKey(tokenIdx)), new(big.Int))
	if err := events.Emit(r.state, r.cfg.Address, events.FeesSwept, tokenIdx, to, amount); err != nil {
		r.state.RevertToSnapshot(snap)
		return nil, err
	}
	return amount, nil
}

func (r *Remote) client() (*lzclient.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lz == nil {
		return nil, ErrNoMessagingClient
	}
	return r.lz, nil
}

func (r *Remote) currentRouter() stargate.Router {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.router
}

func (r *Remote) transferToken(token, to common.Address, amount *big.Int) error {
	u, err := state.U256(amount)
	if err != nil {
		return err
	}
	return r.state.TransferToken(token, r.cfg.Address, to, u)
}

// Deposits

func depositPacket(to common.Address, tokenIdx, amount, toGas *big.Int, isInsuranceFund bool) *payload.DepositPacket {
	return &payload.DepositPacket{
		To:              to,
		TokenIdx:        tokenIdx,
		Amount:          amount,
		ToGas:           orZero(toGas),
		IsInsuranceFund: isInsuranceFund,
	}
}

// EstimateSendFee quotes the native messaging fee of a direct deposit
func (r *Remote) EstimateSendFee(vars DepositVars) (*big.Int, *big.Int, error) {
	lz, err := r.client()
	if err != nil {
		return nil, nil, err
	}
	enc, err := depositPacket(vars.To, vars.TokenIdx, vars.Amount, vars.ToGas, vars.IsInsuranceFund).Encode()
	if err != nil {
		return nil, nil, err
	}
	return lz.EstimateFees(r.cfg.HomeChainID, enc, vars.ZroPaymentAddress != (common.Address{}), vars.AdapterParams)
}

// Deposit sends [vars.Amount] of the caller's tokens home. The caller pays
// the messaging fee in native [value], so no token fee is taken.
func (r *Remote) Deposit(ctx context.Context, caller common.Address, value *big.Int, vars DepositVars) (uint64, error) {
	logger, m := r.observers()
	lz, err := r.client()
	if err != nil {
		return 0, err
	}
	if vars.Amount == nil || vars.Amount.Sign() <= 0 {
		return 0, ErrZeroAmount
	}
	if orZero(vars.ToGas).Cmp(vars.Amount) > 0 {
		return 0, fmt.Errorf("%w: toGas %s, amount %s", ErrInvalidToGas, vars.ToGas, vars.Amount)
	}
	tok, err := r.SupportedToken(vars.TokenIdx)
	if err != nil {
		return 0, err
	}

	enc, err := depositPacket(vars.To, vars.TokenIdx, vars.Amount, vars.ToGas, vars.IsInsuranceFund).Encode()
	if err != nil {
		return 0, err
	}
	fee, _, err := lz.EstimateFees(r.cfg.HomeChainID, enc, vars.ZroPaymentAddress != (common.Address{}), vars.AdapterParams)
	if err != nil {
		return 0, err
	}
	if value == nil || value.Cmp(fee) < 0 {
		return 0, fmt.Errorf("%w: sent %v, fee %s", ErrInsufficientFee, value, fee)
	}
	refund := vars.RefundAddress
	if refund == (common.Address{}) {
		refund = caller
	}

	snap := r.state.Snapshot()
	nonce, err := r.deposit(ctx, lz, caller, value, tok, vars.Amount, enc, refund, vars.ZroPaymentAddress, vars.AdapterParams)
	if err != nil {
		r.state.RevertToSnapshot(snap)
		return 0, err
	}

	m.PacketSent(strconv.Itoa(int(r.state.ChainID())), payload.PTDeposit.String())
	logger.Info("deposit sent",
		"remote", r.cfg.Name,
		"from", caller,
		"to", vars.To,
		"tokenIdx", vars.TokenIdx,
		"amount", vars.Amount,
		"nonce", nonce,
	)
	return nonce, nil
}

func (r *Remote) deposit(ctx context.Context, lz *lzclient.Client, caller common.Address, value *big.Int, tok SupportedToken, amount *big.Int, enc []byte, refund, zro common.Address, adapterParams []byte) (uint64, error) {
	amountU, err := state.U256(amount)
	if err != nil {
		return 0, err
	}
	if err := r.state.TransferToken(tok.Token, caller, r.cfg.Address, amountU); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
	}
	valueU, err := state.U256(value)
	if err != nil {
		return 0, err
	}
	if err := r.state.Transfer(caller, r.cfg.Address, valueU); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInsufficientFee, err)
	}
	sent, err := events.Prepare(r.cfg.Address, events.SendToChain, r.cfg.HomeChainID, lz.NextNonce(r.cfg.HomeChainID), enc)
	if err != nil {
		return 0, err
	}
	nonce, err := lz.Send(ctx, r.cfg.Address, value, r.cfg.HomeChainID, enc, refund, zro, adapterParams)
	if err != nil {
		return 0, err
	}
	r.state.AddLog(sent)
	return nonce, nil
}

// SgReceive is the liquidity-layer hook. Only the router or a whitelisted
// relayer may deliver. Processing failures are stored, never returned.
func (r *Remote) SgReceive(ctx context.Context, caller common.Address, srcChainID uint16, srcAddress []byte, nonce uint64, token common.Address, amountLD *big.Int, sgPayload []byte) error {
	router := r.currentRouter()
	if (router == nil || caller != router.Address()) && !r.IsWhitelistedRelayer(caller) {
		return fmt.Errorf("%w: %s is neither router nor relayer", ErrUnauthorized, caller.Hex())
	}
	failed, err := (&payload.FailedDeposit{Token: token, Amount: amountLD, SgPayload: sgPayload}).Encode()
	if err != nil {
		return err
	}
	k := failedmsg.Key{SrcChainID: srcChainID, SrcAddress: common.CopyBytes(srcAddress), Nonce: nonce}
	return r.deposits.Receive(ctx, k, failed)
}

func (r *Remote) processDeposit(ctx context.Context, d channel.Delivery) error {
	fd, err := payload.DecodeFailedDeposit(d.Payload)
	if err != nil {
		return err
	}
	sg, err := payload.DecodeStargatePayload(fd.SgPayload)
	if err != nil {
		return err
	}
	tok, err := r.SupportedToken(sg.TokenIdx)
	if err != nil {
		return err
	}
	if tok.Token != fd.Token {
		return fmt.Errorf("%w: received %s, token %v is %s", ErrTokenMismatch, fd.Token.Hex(), sg.TokenIdx, tok.Token.Hex())
	}
	lz, err := r.client()
	if err != nil {
		return err
	}

	// the fee does not change the encoded length, so quote on the gross amount
	quoted, err := depositPacket(sg.To, sg.TokenIdx, fd.Amount, sg.ToGas, sg.IsInsuranceFund).Encode()
	if err != nil {
		return err
	}
	nativeFee, _, err := lz.EstimateFees(r.cfg.HomeChainID, quoted, false, sg.AdapterParams)
	if err != nil {
		return err
	}
	fee, err := r.converter.FeeInToken(ctx, nativeFee, tok.PriceFeed, tok.Decimals)
	if err != nil {
		return err
	}
	if fee.Cmp(fd.Amount) >= 0 {
		return fmt.Errorf("%w: amount %s, fee %s", ErrInsufficientAmount, fd.Amount, fee)
	}
	actual := new(big.Int).Sub(fd.Amount, fee)
	if orZero(sg.ToGas).Cmp(actual) > 0 {
		return fmt.Errorf("%w: toGas %s, amount after fee %s", ErrInvalidToGas, sg.ToGas, actual)
	}
	if bal := r.state.GetBalance(r.cfg.Address); bal.ToBig().Cmp(nativeFee) < 0 {
		return fmt.Errorf("%w: has %s, needs %s", ErrInsufficientNativeBalance, bal.Dec(), nativeFee)
	}

	r.addUint(mappingSlot(slotCollectedFee, idxKey(sg.TokenIdx)), fee)
	err = events.Emit(r.state, r.cfg.Address, events.StargateDepositProcessed,
		d.Key.SrcChainID, new(big.Int).SetUint64(d.Key.Nonce), sg.TokenIdx, fd.Amount, fd.SgPayload)
	if err != nil {
		return err
	}

	enc, err := depositPacket(sg.To, sg.TokenIdx, actual, sg.ToGas, sg.IsInsuranceFund).Encode()
	if err != nil {
		return err
	}
	sent, err := events.Prepare(r.cfg.Address, events.SendToChain, r.cfg.HomeChainID, lz.NextNonce(r.cfg.HomeChainID), enc)
	if err != nil {
		return err
	}
	// nothing after the send may fail
	nonce, err := lz.Send(ctx, r.cfg.Address, nativeFee, r.cfg.HomeChainID, enc, r.cfg.Address, common.Address{}, sg.AdapterParams)
	if err != nil {
		return err
	}
	r.state.AddLog(sent)

	logger, m := r.observers()
	chain := strconv.Itoa(int(r.state.ChainID()))
	m.FeeCollected(chain, tok.Token.Hex(), fee)
	m.PacketSent(chain, payload.PTDeposit.String())
	logger.Info("bridged deposit forwarded",
		"remote", r.cfg.Name,
		"srcChainID", d.Key.SrcChainID,
		"nonce", d.Key.Nonce,
		"to", sg.To,
		"amount", fd.Amount,
		"fee", fee,
		"lzNonce", nonce,
	)
	return nil
}

func depositRecipient(b []byte) (common.Address, error) {
	fd, err := payload.DecodeFailedDeposit(b)
	if err != nil {
		return common.Address{}, err
	}
	sg, err := payload.DecodeStargatePayload(fd.SgPayload)
	if err != nil {
		return common.Address{}, err
	}
	return sg.To, nil
}

// releaseDeposit hands back the gross bridged amount, no fee taken
func (r *Remote) releaseDeposit(_ context.Context, b []byte, to common.Address) (*big.Int, error) {
	fd, err := payload.DecodeFailedDeposit(b)
	if err != nil {
		return nil, err
	}
	if err := r.transferToken(fd.Token, to, fd.Amount); err != nil {
		return nil, err
	}
	return fd.Amount, nil
}

// RetryDeposit re-runs a failed deposit. [failed] is the payload of the
// DepositSecondHopFailure event.
func (r *Remote) RetryDeposit(ctx context.Context, srcChainID uint16, srcAddress []byte, nonce uint64, failed []byte) error {
	return r.deposits.Retry(ctx, failedmsg.Key{SrcChainID: srcChainID, SrcAddress: srcAddress, Nonce: nonce}, failed)
}

// RescueDepositFunds returns the tokens of a failed deposit to its recipient
func (r *Remote) RescueDepositFunds(ctx context.Context, caller common.Address, srcChainID uint16, srcAddress []byte, nonce uint64, failed []byte) (*big.Int, error) {
	return r.deposits.Rescue(ctx, failedmsg.Key{SrcChainID: srcChainID, SrcAddress: srcAddress, Nonce: nonce}, failed, caller)
}

// FailedDeposits returns the stored payload hash of a failed deposit, zero
// when none is open.
func (r *Remote) FailedDeposits(srcChainID uint16, srcAddress []byte, nonce uint64) (common.Hash, error) {
	return r.deposits.Store().Get(failedmsg.Key{SrcChainID: srcChainID, SrcAddress: srcAddress, Nonce: nonce})
}

// PendingDeposits lists every open failed deposit
func (r *Remote) PendingDeposits() ([]failedmsg.Record, error) {
	return r.deposits.Store().Pending()
}

// Withdrawals

// WithdrawProcessor applies withdraw packets delivered by the messaging
// client. Pass it to lzclient.New for the client owned by this Remote.
func (r *Remote) WithdrawProcessor() channel.Processor {
	return channel.Funcs{
		ProcessFn:   r.processWithdraw,
		RecipientFn: withdrawRecipient,
		ReleaseFn:   r.releaseWithdraw,
	}
}

func decodeWithdraw(b []byte) (*payload.WithdrawPacket, error) {
	pkt, err := payload.Decode(b)
	if err != nil {
		return nil, err
	}
	w, ok := pkt.(*payload.WithdrawPacket)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedPacket, pkt.Type())
	}
	return w, nil
}

func (r *Remote) processWithdraw(ctx context.Context, d channel.Delivery) error {
	w, err := decodeWithdraw(d.Payload)
	if err != nil {
		return err
	}
	tok, err := r.SupportedToken(w.TokenIdx)
	if err != nil {
		return err
	}
	err = events.Emit(r.state, r.cfg.Address, events.ReceiveFromHubbleNet, d.Key.SrcChainID, w.To, w.Amount, d.Key.Nonce)
	if err != nil {
		return err
	}
	if w.SingleHop() {
		return r.transferToken(tok.Token, w.To, w.Amount)
	}
	return r.secondHop(ctx, tok, w)
}

// secondHop swaps a withdrawal on to its final chain. The liquidity-layer
// fee is paid in native by the Remote and recovered from the amount.
func (r *Remote) secondHop(ctx context.Context, tok SupportedToken, w *payload.WithdrawPacket) error {
	router := r.currentRouter()
	if router == nil {
		return fmt.Errorf("%w: no router", stargate.ErrUnknownChain)
	}
	nativeFee, _, err := router.QuoteLayerZeroFee(w.SecondHopChainID, stargate.TypeSwapRemote, w.To.Bytes(), nil, stargate.LzTxParams{})
	if err != nil {
		return err
	}
	fee, err := r.converter.FeeInToken(ctx, nativeFee, tok.PriceFeed, tok.Decimals)
	if err != nil {
		return err
	}
	if fee.Cmp(w.Amount) >= 0 {
		return fmt.Errorf("%w: amount %s, fee %s", ErrInsufficientAmount, w.Amount, fee)
	}
	if bal := r.state.GetBalance(r.cfg.Address); bal.ToBig().Cmp(nativeFee) < 0 {
		return fmt.Errorf("%w: has %s, needs %s", ErrInsufficientNativeBalance, bal.Dec(), nativeFee)
	}

	r.addUint(mappingSlot(slotCollectedFee, idxKey(w.TokenIdx)), fee)
	amount := new(big.Int).Sub(w.Amount, fee)
	err = router.Swap(ctx, r.cfg.Address, nativeFee, w.SecondHopChainID, tok.SrcPoolID, w.DstPoolID, r.cfg.Address,
		amount, w.AmountMin, stargate.LzTxParams{}, w.To.Bytes(), nil)
	if err != nil {
		return err
	}

	logger, m := r.observers()
	m.FeeCollected(strconv.Itoa(int(r.state.ChainID())), tok.Token.Hex(), fee)
	logger.Info("withdrawal swapped to second hop",
		"remote", r.cfg.Name,
		"dstChainID", w.SecondHopChainID,
		"to", w.To,
		"amount", amount,
		"fee", fee,
	)
	return nil
}

func withdrawRecipient(b []byte) (common.Address, error) {
	w, err := decodeWithdraw(b)
	if err != nil {
		return common.Address{}, err
	}
	return w.To, nil
}

// releaseWithdraw pays the withdrawal out on this chain, skipping the hop
func (r *Remote) releaseWithdraw(_ context.Context, b []byte, to common.Address) (*big.Int, error) {
	w, err := decodeWithdraw(b)
	if err != nil {
		return nil, err
	}
	tok, err := r.SupportedToken(w.TokenIdx)
	if err != nil {
		return nil, err
	}
	if err := r.transferToken(tok.Token, to, w.Amount); err != nil {
		return nil, err
	}
	return w.Amount, nil
}

// RetryWithdraw re-runs a failed withdrawal held by the messaging client
func (r *Remote) RetryWithdraw(ctx context.Context, srcChainID uint16, srcAddress []byte, nonce uint64, pkt []byte) error {
	lz, err := r.client()
	if err != nil {
		return err
	}
	return lz.RetryMessage(ctx, srcChainID, srcAddress, nonce, pkt)
}

// RescueWithdrawFunds pays a failed withdrawal out on this chain to its
// recipient, who must be the caller.
func (r *Remote) RescueWithdrawFunds(ctx context.Context, caller common.Address, srcChainID uint16, srcAddress []byte, nonce uint64, pkt []byte) (*big.Int, error) {
	lz, err := r.client()
	if err != nil {
		return nil, err
	}
	return lz.Rescue(ctx, caller, srcChainID, srcAddress, nonce, pkt)
}
