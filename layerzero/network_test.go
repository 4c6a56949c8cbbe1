// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package layerzero

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/marginbridge/payload"
	"github.com/luxfi/marginbridge/state"
)

var (
	epA   = common.HexToAddress("0x000000000000000000000000000000000000e0a0")
	epB   = common.HexToAddress("0x000000000000000000000000000000000000e0b0")
	appA  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	appB  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	payer = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

type recorder struct {
	st       *state.StateDB
	failOn   map[string]bool
	received [][]byte
	nonces   []uint64
}

func (r *recorder) LzReceive(_ context.Context, caller common.Address, _ uint16, _ []byte, nonce uint64, msg []byte) error {
	if caller != epB {
		return errors.New("not endpoint")
	}
	// leave a trace that must be reverted on failure
	r.st.AddBalance(appB, uint256.NewInt(1))
	if r.failOn[string(msg)] {
		return errors.New("receiver reverted")
	}
	r.received = append(r.received, msg)
	r.nonces = append(r.nonces, nonce)
	return nil
}

func setup(t *testing.T) (*Network, *SimEndpoint, *SimEndpoint, *recorder) {
	t.Helper()
	stA, stB := state.New(106), state.New(110)
	n := NewNetwork(DefaultFeeConfig())
	a := n.AddEndpoint(stA, epA)
	b := n.AddEndpoint(stB, epB)
	r := &recorder{st: stB, failOn: map[string]bool{}}
	b.Register(appB, r)
	stA.AddBalance(appA, uint256.NewInt(1e18))
	return n, a, b, r
}

func send(t *testing.T, a *SimEndpoint, msg string) uint64 {
	t.Helper()
	fee, _, err := a.EstimateFees(110, appA, []byte(msg), false, nil)
	require.NoError(t, err)
	nonce, err := a.Send(context.Background(), appA, fee, 110, Path(appB, appA), []byte(msg), appA, common.Address{}, nil)
	require.NoError(t, err)
	return nonce
}

func TestSendAndFlush(t *testing.T) {
	n, a, b, r := setup(t)

	require.Equal(t, uint64(1), send(t, a, "one"))
	require.Equal(t, uint64(2), send(t, a, "two"))
	require.Equal(t, uint64(2), a.OutboundNonce(110, appA))
	require.Equal(t, 2, n.Pending())

	delivered, err := n.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, delivered)
	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, r.received)
	require.Equal(t, []uint64{1, 2}, r.nonces)
	require.Equal(t, uint64(2), b.InboundNonce(106, Path(appA, appB)))
}

func TestFeesArePaid(t *testing.T) {
	_, a, _, _ := setup(t)
	st := a.state

	fee, _, err := a.EstimateFees(110, appA, []byte("x"), false, nil)
	require.NoError(t, err)

	value := new(big.Int).Add(fee, big.NewInt(1000))
	_, err = a.Send(context.Background(), appA, value, 110, Path(appB, appA), []byte("x"), payer, common.Address{}, nil)
	require.NoError(t, err)
	require.Zero(t, fee.Cmp(st.GetBalance(epA).ToBig()))
	require.Equal(t, uint64(1000), st.GetBalance(payer).Uint64())

	_, err = a.Send(context.Background(), appA, new(big.Int).Sub(fee, big.NewInt(1)), 110, Path(appB, appA), []byte("x"), appA, common.Address{}, nil)
	require.ErrorIs(t, err, ErrInsufficientFee)

	_, err = a.Send(context.Background(), appA, fee, 110, Path(appB, appA), []byte("x"), appA, payer, nil)
	require.ErrorIs(t, err, ErrZroNotSupported)

	_, err = a.Send(context.Background(), appA, fee, 999, Path(appB, appA), []byte("x"), appA, common.Address{}, nil)
	require.ErrorIs(t, err, ErrUnknownChain)

	_, _, err = a.EstimateFees(110, appA, nil, true, nil)
	require.ErrorIs(t, err, ErrZroNotSupported)
}

func TestAdapterParamsRaiseFee(t *testing.T) {
	_, a, _, _ := setup(t)
	base, _, err := a.EstimateFees(110, appA, nil, false, payload.NewAdapterParamsV1(100_000))
	require.NoError(t, err)
	more, _, err := a.EstimateFees(110, appA, nil, false, payload.NewAdapterParamsV1(200_000))
	require.NoError(t, err)
	require.Zero(t, new(big.Int).Mul(big.NewInt(100_000), DefaultFeeConfig().GasPrice).Cmp(new(big.Int).Sub(more, base)))
}

func TestAirdrop(t *testing.T) {
	n, a, b, _ := setup(t)
	params := payload.NewAdapterParamsV2(100_000, big.NewInt(1e15), payer)
	fee, _, err := a.EstimateFees(110, appA, nil, false, params)
	require.NoError(t, err)
	_, err = a.Send(context.Background(), appA, fee, 110, Path(appB, appA), []byte("x"), appA, common.Address{}, params)
	require.NoError(t, err)

	_, err = n.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1e15), b.state.GetBalance(payer).Uint64())
}

func TestFailedReceiveBlocksPath(t *testing.T) {
	n, a, b, r := setup(t)
	ctx := context.Background()
	r.failOn["bad"] = true

	send(t, a, "bad")
	send(t, a, "after")

	delivered, err := n.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	require.Empty(t, r.received)
	require.Equal(t, 1, n.Pending())
	require.True(t, b.state.GetBalance(appB).IsZero())

	sp, ok := b.StoredPayload(106, Path(appA, appB))
	require.True(t, ok)
	require.Equal(t, uint64(1), sp.Packet.Nonce)

	require.ErrorIs(t, b.RetryPayload(ctx, 106, Path(appA, appB), []byte("other")), ErrInvalidStoredPayload)
	require.Error(t, b.RetryPayload(ctx, 106, Path(appA, appB), []byte("bad")))

	r.failOn["bad"] = false
	require.NoError(t, b.RetryPayload(ctx, 106, Path(appA, appB), []byte("bad")))
	require.ErrorIs(t, b.RetryPayload(ctx, 106, Path(appA, appB), []byte("bad")), ErrNoStoredPayload)

	delivered, err = n.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	require.Equal(t, [][]byte{[]byte("bad"), []byte("after")}, r.received)
	require.Equal(t, 0, n.Pending())
}

func TestForceResume(t *testing.T) {
	n, a, b, r := setup(t)
	r.failOn["bad"] = true
	send(t, a, "bad")
	send(t, a, "good")

	_, err := n.Flush(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.ForceResumeReceive(106, Path(appA, appB)))
	require.ErrorIs(t, b.ForceResumeReceive(106, Path(appA, appB)), ErrNoStoredPayload)

	_, err = n.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("good")}, r.received)
}

func TestNoReceiverBlocks(t *testing.T) {
	n, a, b, _ := setup(t)
	nobody := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	fee, _, err := a.EstimateFees(110, appA, nil, false, nil)
	require.NoError(t, err)
	_, err = a.Send(context.Background(), appA, fee, 110, Path(nobody, appA), nil, appA, common.Address{}, nil)
	require.NoError(t, err)

	_, err = n.Flush(context.Background())
	require.NoError(t, err)
	sp, ok := b.StoredPayload(106, Path(appA, nobody))
	require.True(t, ok)
	require.Contains(t, sp.Reason, "no receiver")
}

func TestPacketGUIDUnique(t *testing.T) {
	g1 := packetGUID(106, appA, 110, appB, 1)
	g2 := packetGUID(106, appA, 110, appB, 2)
	require.NotEqual(t, g1, g2)
	require.Equal(t, g1, packetGUID(106, appA, 110, appB, 1))
}
