// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package payload

import (
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

var user = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

func TestStargatePayloadRoundTrip(t *testing.T) {
	p := &StargatePayload{
		To:              user,
		TokenIdx:        big.NewInt(0),
		Amount:          big.NewInt(1_000_000_000),
		ToGas:           big.NewInt(10_000_000),
		IsInsuranceFund: true,
		AdapterParams:   NewAdapterParamsV1(500_000),
	}
	b, err := p.Encode()
	require.NoError(t, err)

	got, err := DecodeStargatePayload(b)
	require.NoError(t, err)
	require.Equal(t, p.To, got.To)
	require.Zero(t, p.Amount.Cmp(got.Amount))
	require.Zero(t, p.ToGas.Cmp(got.ToGas))
	require.True(t, got.IsInsuranceFund)
	require.Equal(t, p.AdapterParams, got.AdapterParams)
}

func TestDecodeDispatchesOnType(t *testing.T) {
	dep := &DepositPacket{
		To:       user,
		TokenIdx: big.NewInt(0),
		Amount:   big.NewInt(995),
		ToGas:    big.NewInt(5),
	}
	b, err := dep.Encode()
	require.NoError(t, err)

	pkt, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, PTDeposit, pkt.Type())
	got := pkt.(*DepositPacket)
	require.Zero(t, got.Amount.Cmp(big.NewInt(995)))
	require.Zero(t, got.ToGas.Cmp(big.NewInt(5)))
	require.False(t, got.IsInsuranceFund)

	wd := &WithdrawPacket{
		To:               user,
		TokenIdx:         big.NewInt(0),
		Amount:           big.NewInt(100),
		SecondHopChainID: 101,
		AmountMin:        big.NewInt(99),
		DstPoolID:        big.NewInt(1),
	}
	b, err = wd.Encode()
	require.NoError(t, err)

	pkt, err = Decode(b)
	require.NoError(t, err)
	require.Equal(t, PTWithdraw, pkt.Type())
	gotW := pkt.(*WithdrawPacket)
	require.Equal(t, uint16(101), gotW.SecondHopChainID)
	require.False(t, gotW.SingleHop())
	require.Zero(t, gotW.AmountMin.Cmp(big.NewInt(99)))
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{0x01})
	require.ErrorIs(t, err, ErrDecode)
	require.ErrorIs(t, err, ErrShortPayload)

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	require.Equal(t, 1, de.Len)

	unknown := common.LeftPadBytes([]byte{9}, 32)
	_, err = Decode(unknown)
	require.ErrorIs(t, err, ErrUnknownPacketType)

	// a withdraw body tagged as a deposit must not decode
	wd := &WithdrawPacket{To: user, TokenIdx: big.NewInt(0), Amount: big.NewInt(1), AmountMin: big.NewInt(0), DstPoolID: big.NewInt(0)}
	b, err := wd.Encode()
	require.NoError(t, err)
	_, err = DecodeDeposit(b)
	require.ErrorIs(t, err, ErrDecode)

	_, err = DecodeStargatePayload([]byte("garbage"))
	require.ErrorIs(t, err, ErrDecode)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	f := &FailedDeposit{Token: user, Amount: big.NewInt(10), SgPayload: []byte{1, 2, 3}}
	b, err := f.Encode()
	require.NoError(t, err)

	got, err := DecodeFailedDeposit(b)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, got.SgPayload)

	_, err = DecodeFailedDeposit(append(b, make([]byte, 32)...))
	require.ErrorIs(t, err, ErrNonCanonical)
}

func TestEncodeNilAmount(t *testing.T) {
	_, err := (&DepositPacket{To: user, TokenIdx: big.NewInt(0)}).Encode()
	require.ErrorIs(t, err, ErrNilAmount)
}

func TestAdapterParams(t *testing.T) {
	p, err := ParseAdapterParams(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultDstGas, p.DstGas.Uint64())

	b := NewAdapterParamsV1(350_000)
	require.Len(t, b, 34)
	p, err = ParseAdapterParams(b)
	require.NoError(t, err)
	require.Equal(t, AdapterParamsV1, p.Version)
	require.Equal(t, uint64(350_000), p.DstGas.Uint64())

	b = NewAdapterParamsV2(200_000, big.NewInt(1e15), user)
	require.Len(t, b, 86)
	p, err = ParseAdapterParams(b)
	require.NoError(t, err)
	require.Equal(t, user, p.DstNativeAddr)
	require.Zero(t, p.NativeForDst.Cmp(big.NewInt(1e15)))

	_, err = ParseAdapterParams(b[:40])
	require.ErrorIs(t, err, ErrInvalidAdapterParams)

	_, err = ParseAdapterParams(NewAdapterParamsV2(1, big.NewInt(1), common.Address{}))
	require.ErrorIs(t, err, ErrInvalidAdapterParams)

	_, err = ParseAdapterParams([]byte{0, 7, 0})
	require.ErrorIs(t, err, ErrUnsupportedAdapterType)
}
