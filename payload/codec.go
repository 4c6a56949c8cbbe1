// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package payload

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", t, err))
	}
	return typ
}

var (
	tAddress = mustType("address")
	tUint256 = mustType("uint256")
	tUint16  = mustType("uint16")
	tBool    = mustType("bool")
	tBytes   = mustType("bytes")

	stargateArgs = abi.Arguments{
		{Name: "to", Type: tAddress},
		{Name: "tokenIdx", Type: tUint256},
		{Name: "amount", Type: tUint256},
		{Name: "toGas", Type: tUint256},
		{Name: "isInsuranceFund", Type: tBool},
		{Name: "zroPaymentAddress", Type: tAddress},
		{Name: "adapterParams", Type: tBytes},
	}

	metadataArgs = abi.Arguments{
		{Name: "toGas", Type: tUint256},
		{Name: "isInsuranceFund", Type: tBool},
	}

	depositArgs = abi.Arguments{
		{Name: "pt", Type: tUint256},
		{Name: "to", Type: tAddress},
		{Name: "tokenIdx", Type: tUint256},
		{Name: "amount", Type: tUint256},
		{Name: "metadata", Type: tBytes},
	}

	withdrawArgs = abi.Arguments{
		{Name: "pt", Type: tUint256},
		{Name: "to", Type: tAddress},
		{Name: "tokenIdx", Type: tUint256},
		{Name: "amount", Type: tUint256},
		{Name: "secondHopChainId", Type: tUint16},
		{Name: "amountMin", Type: tUint256},
		{Name: "dstPoolId", Type: tUint256},
	}

	failedDepositArgs = abi.Arguments{
		{Name: "token", Type: tAddress},
		{Name: "amount", Type: tUint256},
		{Name: "sgPayload", Type: tBytes},
	}
)

// unpack decodes [b] against [args] and rejects any input that does not
// re-encode to exactly the same bytes, so one logical payload has one hash.
func unpack(kind string, args abi.Arguments, b []byte) ([]interface{}, error) {
	values, err := args.Unpack(b)
	if err != nil {
		return nil, decodeErr(kind, b, err)
	}
	canonical, err := args.Pack(values...)
	if err != nil {
		return nil, decodeErr(kind, b, err)
	}
	if !bytes.Equal(canonical, b) {
		return nil, decodeErr(kind, b, ErrNonCanonical)
	}
	return values, nil
}

func nonNil(vals ...*big.Int) error {
	for _, v := range vals {
		if v == nil {
			return ErrNilAmount
		}
	}
	return nil
}

func orZero(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// Encode packs the liquidity-layer deposit instruction
func (p *StargatePayload) Encode() ([]byte, error) {
	if err := nonNil(p.TokenIdx, p.Amount, p.ToGas); err != nil {
		return nil, err
	}
	return stargateArgs.Pack(p.To, p.TokenIdx, p.Amount, p.ToGas, p.IsInsuranceFund, p.ZroPaymentAddress, orZero(p.AdapterParams))
}

// DecodeStargatePayload is the inverse of StargatePayload.Encode
func DecodeStargatePayload(b []byte) (*StargatePayload, error) {
	v, err := unpack("stargate", stargateArgs, b)
	if err != nil {
		return nil, err
	}
	return &StargatePayload{
		To:                v[0].(common.Address),
		TokenIdx:          v[1].(*big.Int),
		Amount:            v[2].(*big.Int),
		ToGas:             v[3].(*big.Int),
		IsInsuranceFund:   v[4].(bool),
		ZroPaymentAddress: v[5].(common.Address),
		AdapterParams:     v[6].([]byte),
	}, nil
}

// Metadata returns the encoded (toGas, isInsuranceFund) pair carried inside
// the deposit packet.
func (p *DepositPacket) Metadata() ([]byte, error) {
	if err := nonNil(p.ToGas); err != nil {
		return nil, err
	}
	return metadataArgs.Pack(p.ToGas, p.IsInsuranceFund)
}

// Encode packs the deposit packet with its type discriminant
func (p *DepositPacket) Encode() ([]byte, error) {
	if err := nonNil(p.TokenIdx, p.Amount); err != nil {
		return nil, err
	}
	metadata, err := p.Metadata()
	if err != nil {
		return nil, err
	}
	return depositArgs.Pack(new(big.Int).SetUint64(uint64(PTDeposit)), p.To, p.TokenIdx, p.Amount, metadata)
}

// Encode packs the withdraw packet with its type discriminant
func (p *WithdrawPacket) Encode() ([]byte, error) {
	if err := nonNil(p.TokenIdx, p.Amount, p.AmountMin, p.DstPoolID); err != nil {
		return nil, err
	}
	return withdrawArgs.Pack(new(big.Int).SetUint64(uint64(PTWithdraw)), p.To, p.TokenIdx, p.Amount, p.SecondHopChainID, p.AmountMin, p.DstPoolID)
}

// Decode reads the packet type from the first word and decodes the rest
func Decode(b []byte) (Packet, error) {
	pt, err := PeekType(b)
	if err != nil {
		return nil, err
	}
	switch pt {
	case PTDeposit:
		return DecodeDeposit(b)
	case PTWithdraw:
		return DecodeWithdraw(b)
	default:
		return nil, decodeErr("packet", b, fmt.Errorf("%w: %s", ErrUnknownPacketType, pt))
	}
}

// PeekType returns the packet type without decoding the body
func PeekType(b []byte) (PacketType, error) {
	if len(b) < 32 {
		return 0, decodeErr("packet", b, ErrShortPayload)
	}
	word := new(big.Int).SetBytes(b[:32])
	if !word.IsUint64() {
		return 0, decodeErr("packet", b, fmt.Errorf("%w: %s", ErrUnknownPacketType, word))
	}
	return PacketType(word.Uint64()), nil
}

// DecodeDeposit decodes a PTDeposit packet
func DecodeDeposit(b []byte) (*DepositPacket, error) {
	v, err := unpack("deposit", depositArgs, b)
	if err != nil {
		return nil, err
	}
	if pt := v[0].(*big.Int); pt.Cmp(new(big.Int).SetUint64(uint64(PTDeposit))) != 0 {
		return nil, decodeErr("deposit", b, fmt.Errorf("%w: %s", ErrUnknownPacketType, pt))
	}
	meta, err := unpack("deposit metadata", metadataArgs, v[4].([]byte))
	if err != nil {
		return nil, err
	}
	return &DepositPacket{
		To:              v[1].(common.Address),
		TokenIdx:        v[2].(*big.Int),
		Amount:          v[3].(*big.Int),
		ToGas:           meta[0].(*big.Int),
		IsInsuranceFund: meta[1].(bool),
	}, nil
}

// DecodeWithdraw decodes a PTWithdraw packet
func DecodeWithdraw(b []byte) (*WithdrawPacket, error) {
	v, err := unpack("withdraw", withdrawArgs, b)
	if err != nil {
		return nil, err
	}
	if pt := v[0].(*big.Int); pt.Cmp(new(big.Int).SetUint64(uint64(PTWithdraw))) != 0 {
		return nil, decodeErr("withdraw", b, fmt.Errorf("%w: %s", ErrUnknownPacketType, pt))
	}
	return &WithdrawPacket{
		To:               v[1].(common.Address),
		TokenIdx:         v[2].(*big.Int),
		Amount:           v[3].(*big.Int),
		SecondHopChainID: v[4].(uint16),
		AmountMin:        v[5].(*big.Int),
		DstPoolID:        v[6].(*big.Int),
	}, nil
}

// Encode packs the stored form of a failed liquidity-layer delivery
func (f *FailedDeposit) Encode() ([]byte, error) {
	if err := nonNil(f.Amount); err != nil {
		return nil, err
	}
	return failedDepositArgs.Pack(f.Token, f.Amount, orZero(f.SgPayload))
}

// DecodeFailedDeposit is the inverse of FailedDeposit.Encode
func DecodeFailedDeposit(b []byte) (*FailedDeposit, error) {
	v, err := unpack("failed deposit", failedDepositArgs, b)
	if err != nil {
		return nil, err
	}
	return &FailedDeposit{
		Token:     v[0].(common.Address),
		Amount:    v[1].(*big.Int),
		SgPayload: v[2].([]byte),
	}, nil
}
