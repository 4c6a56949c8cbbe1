// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package events

import (
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/marginbridge/state"
)

var contract = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func TestEmitAndFilter(t *testing.T) {
	st := state.New(110)
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")

	require.NoError(t, Emit(st, contract, ReceiveFromChain,
		uint16(106), to, big.NewInt(0), big.NewInt(995), []byte{0x01}, uint64(7)))
	require.NoError(t, Emit(st, contract, SetTrustedRemote, uint16(106), []byte{0xde, 0xad}))

	all := Filter(st, contract, "")
	require.Len(t, all, 2)

	got := Filter(st, contract, ReceiveFromChain)
	require.Len(t, got, 1)
	args := got[0].Args
	require.Equal(t, uint16(106), args["srcChainId"])
	require.Equal(t, to, args["to"])
	require.Equal(t, 0, big.NewInt(995).Cmp(args["amount"].(*big.Int)))
	require.Equal(t, []byte{0x01}, args["metadata"])
	require.Equal(t, uint64(7), args["nonce"])

	require.Empty(t, Filter(st, common.Address{}, ""))
}

func TestPackEventTopics(t *testing.T) {
	topics, _, err := BridgeABI.PackEvent(WithdrawToChain,
		uint16(101), common.HexToAddress("0x02"), common.HexToAddress("0x03"),
		big.NewInt(0), big.NewInt(5), uint64(1))
	require.NoError(t, err)
	require.Len(t, topics, 3)
	require.Equal(t, BridgeABI.Events[WithdrawToChain].ID, topics[0])
	require.Equal(t, common.BigToHash(big.NewInt(101)), topics[1])
	require.Equal(t, common.BytesToHash(common.HexToAddress("0x02").Bytes()), topics[2])
}

func TestPackEventErrors(t *testing.T) {
	_, _, err := BridgeABI.PackEvent("Nope")
	require.ErrorIs(t, err, ErrUnknownEvent)

	_, _, err = BridgeABI.PackEvent(SetTrustedRemote, uint16(1))
	require.Error(t, err)

	_, err = packTopic(3.14)
	require.Error(t, err)
}

func TestUnpackLogErrors(t *testing.T) {
	_, _, err := BridgeABI.UnpackLog(&types.Log{})
	require.ErrorIs(t, err, ErrNoTopics)

	_, _, err = BridgeABI.UnpackLog(&types.Log{Topics: []common.Hash{{0x01}}})
	require.ErrorIs(t, err, ErrUnknownEvent)
}
