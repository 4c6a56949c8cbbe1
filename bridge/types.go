// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bridge implements the two contracts of the margin bridge: the
// Remote deployed on every connected chain, which takes in stablecoin
// liquidity and forwards deposits to the home chain, and the Home ledger on
// the home chain, which credits margin and gas and sends withdrawals back
// out.
package bridge

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/marginbridge/channel"
	"github.com/luxfi/marginbridge/failedmsg"
	"github.com/luxfi/marginbridge/governance"
	"github.com/luxfi/marginbridge/pricefeed"
)

// Messaging-layer chain IDs
const (
	ChainHubble    uint16 = 54321 // home chain
	ChainAvalanche uint16 = 43114 // Avalanche C-Chain
	ChainEthereum  uint16 = 101   // Ethereum mainnet
)

const (
	// NativeDecimals is the precision of the home chain gas token
	NativeDecimals = 18

	// DefaultTokenIdx is the index of the first supported token (USDC)
	DefaultTokenIdx = 0
)

// Bridge errors
var (
	ErrTokenMismatch                      = errors.New("token mismatch")
	ErrUnknownToken                       = errors.New("unknown token")
	ErrInsufficientAmount                 = errors.New("amount less than fee")
	ErrInsufficientNativeBalance          = errors.New("insufficient native balance for messaging fee")
	ErrInsufficientFee                    = errors.New("insufficient native fee")
	ErrInsufficientBalance                = errors.New("insufficient balance")
	ErrInsufficientNativeTokenTransferred = errors.New("HGT: Insufficient native token transferred")
	ErrInvalidToGas                       = errors.New("toGas exceeds amount")
	ErrZeroAmount                         = errors.New("amount is zero")
	ErrUnexpectedPacket                   = errors.New("unexpected packet type")
	ErrNoMessagingClient                  = errors.New("messaging client not set")
	ErrTokenExists                        = errors.New("token already supported")
)

// Errors surfaced unchanged from the failure path
var (
	ErrUnauthorized    = governance.ErrUnauthorized
	ErrNoStoredMessage = failedmsg.ErrNoStoredMessage
	ErrInvalidPayload  = failedmsg.ErrInvalidPayload
	ErrDuplicateRecord = failedmsg.ErrDuplicateRecord
	ErrNotReceiver     = channel.ErrNotReceiver
)

// SupportedToken is a bridged asset of a Remote
type SupportedToken struct {
	Token        common.Address // token contract on this chain
	PriceFeed    pricefeed.Feed // token/USD feed
	CollectedFee *big.Int       // fees deducted and not yet swept
	SrcPoolID    *big.Int       // liquidity pool of the token
	Decimals     uint8
}

// DepositVars is a deposit started directly on a remote chain
type DepositVars struct {
	To                common.Address
	TokenIdx          *big.Int
	Amount            *big.Int // token decimals
	ToGas             *big.Int // part of Amount delivered as home chain gas
	IsInsuranceFund   bool
	RefundAddress     common.Address
	ZroPaymentAddress common.Address
	AdapterParams     []byte
}

// WithdrawVars is a withdrawal from the home chain
type WithdrawVars struct {
	DstChainID        uint16   // chain of the Remote receiving the message
	SecondHopChainID  uint16   // final chain when the Remote forwards, 0 for none
	DstPoolID         *big.Int // pool on the second hop chain
	To                common.Address
	TokenIdx          *big.Int
	Amount            *big.Int // 18 decimals
	AmountMin         *big.Int // token decimals, floor of the second hop
	RefundAddress     common.Address
	ZroPaymentAddress common.Address
	AdapterParams     []byte
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// toNative scales a token amount up to 18 decimals
func toNative(amount *big.Int, decimals uint8) *big.Int {
	if decimals >= NativeDecimals {
		return new(big.Int).Quo(amount, pow10(int(decimals)-NativeDecimals))
	}
	return new(big.Int).Mul(amount, pow10(NativeDecimals-int(decimals)))
}

// fromNative scales an 18 decimal amount down to the token, truncating
func fromNative(amount *big.Int, decimals uint8) *big.Int {
	if decimals >= NativeDecimals {
		return new(big.Int).Mul(amount, pow10(int(decimals)-NativeDecimals))
	}
	return new(big.Int).Quo(amount, pow10(NativeDecimals-int(decimals)))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
