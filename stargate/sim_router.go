// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stargate

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/marginbridge/state"
)

// SimRouter is a router of a Network. Pool liquidity is the router's own
// token balance.
type SimRouter struct {
	network *Network
	state   *state.StateDB
	address common.Address

	pools     map[uint64]Pool
	reserved  map[uint64]*big.Int // liquidity promised to swaps in flight
	receivers map[common.Address]Receiver
	nonces    map[uint16]uint64 // dst chain -> outbound nonce
	cached    map[string]*CachedSwap

	mu sync.Mutex
}

var _ Router = (*SimRouter)(nil)

func (r *SimRouter) ChainID() uint16 {
	return r.state.ChainID()
}

func (r *SimRouter) Address() common.Address {
	return r.address
}

// CreatePool registers a pool of [token]
func (r *SimRouter) CreatePool(id uint64, token common.Address, decimals uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[id] = Pool{ID: id, Token: token, Decimals: decimals}
	r.reserved[id] = new(big.Int)
}

// Pool returns pool [id]
func (r *SimRouter) Pool(id uint64) (Pool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[id]
	return p, ok
}

// AddLiquidity mints [amount] of the pool token into the pool
func (r *SimRouter) AddLiquidity(poolID uint64, amount *big.Int) error {
	p, ok := r.Pool(poolID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPool, poolID)
	}
	r.state.MintToken(p.Token, r.address, u256(amount))
	return nil
}

// Register makes [recv] the hook of swaps paid to [addr]
func (r *SimRouter) Register(addr common.Address, recv Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receivers[addr] = recv
}

func (r *SimRouter) QuoteLayerZeroFee(dstChainID uint16, _ uint8, _ []byte, payload []byte, params LzTxParams) (*big.Int, *big.Int, error) {
	if _, ok := r.network.Router(dstChainID); !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownChain, dstChainID)
	}
	return r.network.quote(len(payload), params), new(big.Int), nil
}

func (r *SimRouter) Swap(_ context.Context, caller common.Address, value *big.Int, dstChainID uint16, srcPoolID, dstPoolID *big.Int, refund common.Address, amountLD, minAmountLD *big.Int, params LzTxParams, to []byte, payload []byte) error {
	if amountLD == nil || amountLD.Sign() <= 0 {
		return ErrZeroAmount
	}
	if len(to) != common.AddressLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidRecipient, len(to))
	}
	dst, ok := r.network.Router(dstChainID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChain, dstChainID)
	}
	if !srcPoolID.IsUint64() || !dstPoolID.IsUint64() {
		return ErrUnknownPool
	}
	srcPool, ok := r.Pool(srcPoolID.Uint64())
	if !ok {
		return fmt.Errorf("%w: src %s", ErrUnknownPool, srcPoolID)
	}
	dstPool, ok := dst.Pool(dstPoolID.Uint64())
	if !ok {
		return fmt.Errorf("%w: dst %s", ErrUnknownPool, dstPoolID)
	}

	fee := r.network.quote(len(payload), params)
	if value == nil || value.Cmp(fee) < 0 {
		return fmt.Errorf("%w: sent %v, fee %s", ErrInsufficientFee, value, fee)
	}

	received := new(big.Int).Sub(amountLD, r.network.protocolFee(amountLD))
	if minAmountLD != nil && received.Cmp(minAmountLD) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrSlippageTooHigh, received, minAmountLD)
	}
	out := rescale(received, srcPool.Decimals, dstPool.Decimals)
	if err := dst.reserve(dstPool.ID, out); err != nil {
		return err
	}

	snap := r.state.Snapshot()
	err := r.state.TransferToken(srcPool.Token, caller, r.address, u256(amountLD))
	if err == nil {
		err = r.state.Transfer(caller, r.address, u256(fee))
	}
	if err == nil && refund != caller {
		if excess := new(big.Int).Sub(value, fee); excess.Sign() > 0 {
			err = r.state.Transfer(caller, refund, u256(excess))
		}
	}
	if err != nil {
		r.state.RevertToSnapshot(snap)
		dst.unreserve(dstPool.ID, out)
		return err
	}

	r.mu.Lock()
	r.nonces[dstChainID]++
	nonce := r.nonces[dstChainID]
	r.mu.Unlock()

	p := &SwapPacket{
		GUID:       swapGUID(r.ChainID(), dstChainID, r.address, nonce),
		SrcChainID: r.ChainID(),
		DstChainID: dstChainID,
		SrcAddress: r.address.Bytes(),
		Nonce:      nonce,
		DstPoolID:  dstPool.ID,
		Token:      dstPool.Token,
		Amount:     out,
		To:         common.BytesToAddress(to),
		Payload:    common.CopyBytes(payload),
		Airdrop:    params.DstNativeAmount,
	}
	if len(params.DstNativeAddr) == common.AddressLength {
		p.AirdropTo = common.BytesToAddress(params.DstNativeAddr)
	}
	r.network.enqueue(p)
	return nil
}

// land pays out a swap on this chain and runs the receiver hook
func (r *SimRouter) land(ctx context.Context, p *SwapPacket) {
	logger := r.network.logger()

	r.unreserve(p.DstPoolID, p.Amount)
	if err := r.state.TransferToken(p.Token, r.address, p.To, u256(p.Amount)); err != nil {
		// liquidity was reserved at swap time
		logger.Error("swap payout failed", "guid", p.GUID, "err", err)
		return
	}
	if p.Airdrop != nil && p.Airdrop.Sign() > 0 && p.AirdropTo != (common.Address{}) {
		r.state.AddBalance(p.AirdropTo, u256(p.Airdrop))
	}
	if len(p.Payload) == 0 {
		return
	}
	if err := r.callReceiver(ctx, p); err != nil {
		r.mu.Lock()
		r.cached[cacheKey(p.SrcChainID, p.SrcAddress, p.Nonce)] = &CachedSwap{Packet: p, Reason: err.Error()}
		r.mu.Unlock()
		logger.Warn("receiver reverted, swap cached", "guid", p.GUID, "to", p.To, "reason", err)
	}
}

func (r *SimRouter) callReceiver(ctx context.Context, p *SwapPacket) error {
	r.mu.Lock()
	recv := r.receivers[p.To]
	r.mu.Unlock()
	if recv == nil {
		return fmt.Errorf("%w: %s has no hook", ErrInvalidRecipient, p.To.Hex())
	}
	snap := r.state.Snapshot()
	if err := recv.SgReceive(ctx, r.address, p.SrcChainID, p.SrcAddress, p.Nonce, p.Token, new(big.Int).Set(p.Amount), p.Payload); err != nil {
		r.state.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// CachedSwap returns the cached swap of a reverted hook, if any
func (r *SimRouter) CachedSwap(srcChainID uint16, srcAddress []byte, nonce uint64) (*CachedSwap, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cached[cacheKey(srcChainID, srcAddress, nonce)]
	return c, ok
}

// ClearCachedSwap re-runs the receiver hook of a cached swap
func (r *SimRouter) ClearCachedSwap(ctx context.Context, srcChainID uint16, srcAddress []byte, nonce uint64) error {
	c, ok := r.CachedSwap(srcChainID, srcAddress, nonce)
	if !ok {
		return ErrCachedSwapNotFound
	}
	if err := r.callReceiver(ctx, c.Packet); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.cached, cacheKey(srcChainID, srcAddress, nonce))
	r.mu.Unlock()
	return nil
}

func (r *SimRouter) reserve(poolID uint64, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pools[poolID]
	available := new(big.Int).Sub(r.state.TokenBalance(p.Token, r.address).ToBig(), r.reserved[poolID])
	if available.Cmp(amount) < 0 {
		return fmt.Errorf("%w: pool %d has %s, needs %s", ErrInsufficientLiquidity, poolID, available, amount)
	}
	r.reserved[poolID].Add(r.reserved[poolID], amount)
	return nil
}

func (r *SimRouter) unreserve(poolID uint64, amount *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.reserved[poolID]; ok {
		res.Sub(res, amount)
	}
}

func cacheKey(srcChainID uint16, srcAddress []byte, nonce uint64) string {
	var buf [10]byte
	binary.BigEndian.PutUint16(buf[:2], srcChainID)
	binary.BigEndian.PutUint64(buf[2:], nonce)
	return string(buf[:]) + string(srcAddress)
}
