// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package payload is the wire codec shared by both sides of the bridge. All
// payloads are standard ABI tuples so the hashes stored for failed messages
// match what the chain contracts would compute.
package payload

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// PacketType is the first word of every messaging-layer packet
type PacketType uint64

const (
	PTDeposit  PacketType = 1 // remote -> home credit
	PTWithdraw PacketType = 2 // home -> remote release
)

func (t PacketType) String() string {
	switch t {
	case PTDeposit:
		return "deposit"
	case PTWithdraw:
		return "withdraw"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(t))
	}
}

var (
	ErrDecode            = errors.New("payload decode failed")
	ErrUnknownPacketType = errors.New("unknown packet type")
	ErrNonCanonical      = errors.New("non-canonical encoding")
	ErrShortPayload      = errors.New("payload too short")
	ErrNilAmount         = errors.New("nil amount")
)

// DecodeError reports a payload that could not be decoded. It matches
// ErrDecode and the underlying cause under errors.Is.
type DecodeError struct {
	Kind string // which payload was being decoded
	Len  int    // length of the offending input
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload (%d bytes): %v", e.Kind, e.Len, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDecode}
	}
	return []error{ErrDecode, e.Err}
}

func decodeErr(kind string, b []byte, err error) error {
	return &DecodeError{Kind: kind, Len: len(b), Err: err}
}

// StargatePayload is the deposit instruction carried by a liquidity-layer
// swap into the remote bridge.
type StargatePayload struct {
	To                common.Address
	TokenIdx          *big.Int
	Amount            *big.Int
	ToGas             *big.Int // part of Amount delivered as native gas on the home chain
	IsInsuranceFund   bool
	ZroPaymentAddress common.Address
	AdapterParams     []byte
}

// Packet is a messaging-layer payload
type Packet interface {
	Type() PacketType
	Encode() ([]byte, error)
}

// DepositPacket credits a deposit on the home chain
type DepositPacket struct {
	To              common.Address
	TokenIdx        *big.Int
	Amount          *big.Int // token decimals
	ToGas           *big.Int // token decimals, included in Amount
	IsInsuranceFund bool
}

func (*DepositPacket) Type() PacketType { return PTDeposit }

// WithdrawPacket releases funds on a remote chain, optionally forwarding them
// through a second liquidity-layer hop.
type WithdrawPacket struct {
	To               common.Address
	TokenIdx         *big.Int
	Amount           *big.Int // token decimals
	SecondHopChainID uint16   // 0 for a single hop
	AmountMin        *big.Int
	DstPoolID        *big.Int
}

func (*WithdrawPacket) Type() PacketType { return PTWithdraw }

// SingleHop reports whether the funds stay on the chain that receives the packet
func (p *WithdrawPacket) SingleHop() bool {
	return p.SecondHopChainID == 0
}

// FailedDeposit is what the remote bridge stores when a liquidity-layer
// delivery cannot be processed: enough to retry the deposit or hand the
// tokens back.
type FailedDeposit struct {
	Token     common.Address
	Amount    *big.Int
	SgPayload []byte
}
