// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package stargate models the liquidity-bridging layer: a stablecoin swap
// between pools on two chains that ends in a hook on the receiving contract.
package stargate

import (
	"context"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
)

var (
	ErrSlippageTooHigh       = errors.New("Stargate: slippage too high")
	ErrInsufficientFee       = errors.New("Stargate: not enough native for fees")
	ErrUnknownChain          = errors.New("Stargate: unknown chain")
	ErrUnknownPool           = errors.New("Stargate: pool not found")
	ErrInsufficientLiquidity = errors.New("Stargate: dst pool has insufficient liquidity")
	ErrInvalidRecipient      = errors.New("Stargate: invalid recipient")
	ErrCachedSwapNotFound    = errors.New("Stargate: cache swap not found")
	ErrZeroAmount            = errors.New("Stargate: cannot swap 0")
)

// TypeSwapRemote is the function type quoted for a plain swap
const TypeSwapRemote = uint8(1)

// LzTxParams carries the destination gas and native airdrop of a swap
type LzTxParams struct {
	DstGasForCall   *big.Int
	DstNativeAmount *big.Int
	DstNativeAddr   []byte
}

// Router is the liquidity-layer entry point on one chain
type Router interface {
	ChainID() uint16
	Address() common.Address

	// Swap moves [amountLD] of the token of [srcPoolID] from [caller] to the
	// pool of [dstPoolID] on [dstChainID], where at least [minAmountLD] is
	// paid to [to]. A non-empty [payload] triggers SgReceive on [to].
	Swap(ctx context.Context, caller common.Address, value *big.Int, dstChainID uint16, srcPoolID, dstPoolID *big.Int, refund common.Address, amountLD, minAmountLD *big.Int, lzTxParams LzTxParams, to []byte, payload []byte) error

	QuoteLayerZeroFee(dstChainID uint16, functionType uint8, to []byte, payload []byte, lzTxParams LzTxParams) (nativeFee *big.Int, zroFee *big.Int, err error)
}

// Receiver is a contract notified when a swap with payload lands. [caller]
// is the address of the delivering router.
type Receiver interface {
	SgReceive(ctx context.Context, caller common.Address, srcChainID uint16, srcAddress []byte, nonce uint64, token common.Address, amountLD *big.Int, payload []byte) error
}
