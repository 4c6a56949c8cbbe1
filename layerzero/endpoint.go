// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package layerzero models the generic messaging layer the bridge rides on:
// per-path strictly increasing nonces, in-order delivery and blocking of a
// path whose receiver reverts.
package layerzero

import (
	"context"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
)

var (
	ErrUnknownChain         = errors.New("LayerZero: unknown chain")
	ErrInsufficientFee      = errors.New("LayerZero: not enough native for fees")
	ErrZroNotSupported      = errors.New("LayerZero: ZRO payment not supported")
	ErrInvalidPath          = errors.New("LayerZero: invalid destination path")
	ErrNoStoredPayload      = errors.New("LayerZero: no stored payload")
	ErrInvalidStoredPayload = errors.New("LayerZero: invalid payload")
	ErrWrongNonce           = errors.New("LayerZero: wrong nonce")
	ErrNoReceiver           = errors.New("LayerZero: no receiver at destination")
)

// Endpoint is the messaging-layer contract on one chain
type Endpoint interface {
	ChainID() uint16
	Address() common.Address

	// Send queues [payload] for the application at the head of [path] on
	// [dstChainID]. [sender] pays [value] and receives the nonce; any value
	// above the fee goes to [refund].
	Send(ctx context.Context, sender common.Address, value *big.Int, dstChainID uint16, path []byte, payload []byte, refund, zroPaymentAddress common.Address, adapterParams []byte) (uint64, error)

	EstimateFees(dstChainID uint16, ua common.Address, payload []byte, payInZRO bool, adapterParams []byte) (nativeFee *big.Int, zroFee *big.Int, err error)

	OutboundNonce(dstChainID uint16, ua common.Address) uint64
	InboundNonce(srcChainID uint16, srcAddress []byte) uint64
}

// UserApplication receives messages from an endpoint. [caller] is the
// address of the delivering endpoint.
type UserApplication interface {
	LzReceive(ctx context.Context, caller common.Address, srcChainID uint16, srcAddress []byte, nonce uint64, payload []byte) error
}

// Path packs the path bytes an application trusts on a remote chain:
// remote application followed by the local one.
func Path(remote, local common.Address) []byte {
	out := make([]byte, 0, 2*common.AddressLength)
	out = append(out, remote.Bytes()...)
	return append(out, local.Bytes()...)
}
