// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package layerzero

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/marginbridge/state"
)

// SimEndpoint is an endpoint of a Network
type SimEndpoint struct {
	network *Network
	state   *state.StateDB
	address common.Address

	apps     map[common.Address]UserApplication
	outbound map[uint16]map[common.Address]uint64 // dst chain -> UA -> nonce
	inbound  map[uint16]map[string]uint64         // src chain -> path -> nonce
	stored   map[uint16]map[string]*StoredPayload // src chain -> path -> blocked payload

	mu sync.Mutex
}

var _ Endpoint = (*SimEndpoint)(nil)

func (e *SimEndpoint) ChainID() uint16 {
	return e.state.ChainID()
}

func (e *SimEndpoint) Address() common.Address {
	return e.address
}

// Register makes [ua] reachable at [addr] on this chain
func (e *SimEndpoint) Register(addr common.Address, ua UserApplication) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apps[addr] = ua
}

func (e *SimEndpoint) EstimateFees(dstChainID uint16, _ common.Address, payload []byte, payInZRO bool, adapterParams []byte) (*big.Int, *big.Int, error) {
	if payInZRO {
		return nil, nil, ErrZroNotSupported
	}
	if _, ok := e.network.Endpoint(dstChainID); !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownChain, dstChainID)
	}
	fee, _, err := e.network.quote(len(payload), adapterParams)
	if err != nil {
		return nil, nil, err
	}
	return fee, new(big.Int), nil
}

func (e *SimEndpoint) Send(_ context.Context, sender common.Address, value *big.Int, dstChainID uint16, path []byte, payload []byte, refund, zroPaymentAddress common.Address, adapterParams []byte) (uint64, error) {
	if zroPaymentAddress != (common.Address{}) {
		return 0, ErrZroNotSupported
	}
	if len(path) < common.AddressLength {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidPath, len(path))
	}
	if _, ok := e.network.Endpoint(dstChainID); !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownChain, dstChainID)
	}
	fee, params, err := e.network.quote(len(payload), adapterParams)
	if err != nil {
		return 0, err
	}
	if value == nil || value.Cmp(fee) < 0 {
		return 0, fmt.Errorf("%w: sent %v, fee %s", ErrInsufficientFee, value, fee)
	}

	feeU, _ := uint256.FromBig(fee)
	excess, _ := uint256.FromBig(new(big.Int).Sub(value, fee))
	snap := e.state.Snapshot()
	if err := e.state.Transfer(sender, e.address, feeU); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInsufficientFee, err)
	}
	if !excess.IsZero() && refund != sender {
		if err := e.state.Transfer(sender, refund, excess); err != nil {
			e.state.RevertToSnapshot(snap)
			return 0, fmt.Errorf("%w: %w", ErrInsufficientFee, err)
		}
	}

	dst := common.BytesToAddress(path[:common.AddressLength])
	e.mu.Lock()
	if e.outbound[dstChainID] == nil {
		e.outbound[dstChainID] = make(map[common.Address]uint64)
	}
	e.outbound[dstChainID][sender]++
	nonce := e.outbound[dstChainID][sender]
	e.mu.Unlock()

	p := &Packet{
		GUID:          packetGUID(e.ChainID(), sender, dstChainID, dst, nonce),
		SrcChainID:    e.ChainID(),
		DstChainID:    dstChainID,
		SrcAddress:    Path(sender, dst),
		DstAddress:    dst,
		Nonce:         nonce,
		Payload:       common.CopyBytes(payload),
		DstGas:        params.DstGas,
		Airdrop:       params.NativeForDst,
		AirdropTarget: params.DstNativeAddr,
	}
	e.network.enqueue(p)
	return nonce, nil
}

func (e *SimEndpoint) OutboundNonce(dstChainID uint16, ua common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outbound[dstChainID][ua]
}

func (e *SimEndpoint) InboundNonce(srcChainID uint16, srcAddress []byte) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inbound[srcChainID][string(srcAddress)]
}

// StoredPayload returns the payload blocking a path, if any
func (e *SimEndpoint) StoredPayload(srcChainID uint16, srcAddress []byte) (*StoredPayload, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sp, ok := e.stored[srcChainID][string(srcAddress)]
	return sp, ok
}

func (e *SimEndpoint) blocked(srcChainID uint16, srcAddress []byte) bool {
	_, ok := e.StoredPayload(srcChainID, srcAddress)
	return ok
}

// deliver hands a packet to its receiver. A receiver error reverts the
// receiver's changes and blocks the path with the payload.
func (e *SimEndpoint) deliver(ctx context.Context, p *Packet) {
	logger := e.network.logger()

	e.mu.Lock()
	if e.inbound[p.SrcChainID] == nil {
		e.inbound[p.SrcChainID] = make(map[string]uint64)
	}
	path := string(p.SrcAddress)
	if expected := e.inbound[p.SrcChainID][path] + 1; p.Nonce != expected {
		e.mu.Unlock()
		logger.Error("dropping out of order packet", "guid", p.GUID, "nonce", p.Nonce, "expected", expected, "err", ErrWrongNonce)
		return
	}
	e.inbound[p.SrcChainID][path] = p.Nonce
	ua := e.apps[p.DstAddress]
	e.mu.Unlock()

	if p.Airdrop != nil && p.Airdrop.Sign() > 0 {
		amount, _ := uint256.FromBig(p.Airdrop)
		e.state.AddBalance(p.AirdropTarget, amount)
	}

	var err error
	if ua == nil {
		err = fmt.Errorf("%w: %s", ErrNoReceiver, p.DstAddress.Hex())
	} else {
		snap := e.state.Snapshot()
		if err = ua.LzReceive(ctx, e.address, p.SrcChainID, p.SrcAddress, p.Nonce, p.Payload); err != nil {
			e.state.RevertToSnapshot(snap)
		}
	}
	if err == nil {
		return
	}

	e.mu.Lock()
	if e.stored[p.SrcChainID] == nil {
		e.stored[p.SrcChainID] = make(map[string]*StoredPayload)
	}
	e.stored[p.SrcChainID][path] = &StoredPayload{
		Packet: p,
		Hash:   common.BytesToHash(crypto.Keccak256(p.Payload)),
		Reason: err.Error(),
	}
	e.mu.Unlock()
	logger.Warn("payload stored, path blocked", "guid", p.GUID, "srcChainID", p.SrcChainID, "nonce", p.Nonce, "reason", err)
}

// RetryPayload re-delivers the payload blocking a path. On success the path
// is unblocked and held packets flow on the next Flush.
func (e *SimEndpoint) RetryPayload(ctx context.Context, srcChainID uint16, srcAddress []byte, payload []byte) error {
	sp, ok := e.StoredPayload(srcChainID, srcAddress)
	if !ok {
		return ErrNoStoredPayload
	}
	if common.BytesToHash(crypto.Keccak256(payload)) != sp.Hash {
		return ErrInvalidStoredPayload
	}

	e.mu.Lock()
	ua := e.apps[sp.Packet.DstAddress]
	e.mu.Unlock()
	if ua == nil {
		return fmt.Errorf("%w: %s", ErrNoReceiver, sp.Packet.DstAddress.Hex())
	}

	snap := e.state.Snapshot()
	if err := ua.LzReceive(ctx, e.address, srcChainID, srcAddress, sp.Packet.Nonce, payload); err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}

	e.mu.Lock()
	delete(e.stored[srcChainID], string(srcAddress))
	e.mu.Unlock()
	return nil
}

// ForceResumeReceive drops the payload blocking a path without delivering it
func (e *SimEndpoint) ForceResumeReceive(srcChainID uint16, srcAddress []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.stored[srcChainID][string(srcAddress)]; !ok {
		return ErrNoStoredPayload
	}
	delete(e.stored[srcChainID], string(srcAddress))
	return nil
}
