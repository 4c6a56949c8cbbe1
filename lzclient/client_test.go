// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package lzclient

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/marginbridge/channel"
	"github.com/luxfi/marginbridge/events"
	"github.com/luxfi/marginbridge/failedmsg"
	"github.com/luxfi/marginbridge/governance"
	"github.com/luxfi/marginbridge/layerzero"
	"github.com/luxfi/marginbridge/state"
)

const (
	remoteChain = uint16(106)
	homeChain   = uint16(110)
)

var (
	gov       = common.HexToAddress("0x0000000000000000000000000000000000000901")
	app       = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	remoteUA  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	homeUA    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	epRemote  = common.HexToAddress("0x000000000000000000000000000000000000e0a0")
	epHome    = common.HexToAddress("0x000000000000000000000000000000000000e0b0")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	errReject = errors.New("rejected")
)

type inbox struct {
	msgs [][]byte
	fail bool
}

func (b *inbox) processor() channel.Processor {
	return channel.Funcs{
		ProcessFn: func(_ context.Context, d channel.Delivery) error {
			if b.fail {
				return errReject
			}
			b.msgs = append(b.msgs, d.Payload)
			return nil
		},
	}
}

type fixture struct {
	net    *layerzero.Network
	remote *Client
	home   *Client
	inbox  *inbox
	stR    *state.StateDB
	stH    *state.StateDB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stR, stH := state.New(remoteChain), state.New(homeChain)
	net := layerzero.NewNetwork(layerzero.DefaultFeeConfig())
	epR := net.AddEndpoint(stR, epRemote)
	epH := net.AddEndpoint(stH, epHome)

	in := &inbox{}
	remote := New(Config{Name: "remote", Address: remoteUA, Owner: app}, stR, epR, governance.New(gov), failedmsg.New(memdb.New()), channel.Funcs{
		ProcessFn: func(context.Context, channel.Delivery) error { return nil },
	})
	home := New(Config{Name: "home", Address: homeUA, Owner: homeUA}, stH, epH, governance.New(gov), failedmsg.New(memdb.New()), in.processor())
	epR.Register(remoteUA, remote)
	epH.Register(homeUA, home)

	require.NoError(t, remote.SetTrustedRemote(gov, homeChain, layerzero.Path(homeUA, remoteUA)))
	require.NoError(t, home.SetTrustedRemote(gov, remoteChain, layerzero.Path(remoteUA, homeUA)))
	stR.AddBalance(app, uint256.NewInt(1e18))

	return &fixture{net: net, remote: remote, home: home, inbox: in, stR: stR, stH: stH}
}

func (f *fixture) send(t *testing.T, msg []byte) uint64 {
	t.Helper()
	fee, _, err := f.remote.EstimateFees(homeChain, msg, false, nil)
	require.NoError(t, err)
	nonce, err := f.remote.Send(context.Background(), app, fee, homeChain, msg, app, common.Address{}, nil)
	require.NoError(t, err)
	return nonce
}

func TestSendReceive(t *testing.T) {
	f := newFixture(t)
	f.send(t, []byte("hello"))

	_, err := f.net.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("hello")}, f.inbox.msgs)
	require.Len(t, events.Filter(f.stR, remoteUA, events.SetTrustedRemote), 1)
}

func TestOnlyOwnerSends(t *testing.T) {
	f := newFixture(t)
	_, err := f.remote.Send(context.Background(), stranger, big.NewInt(1e17), homeChain, []byte("x"), stranger, common.Address{}, nil)
	require.ErrorIs(t, err, governance.ErrUnauthorized)

	_, err = f.remote.Send(context.Background(), app, big.NewInt(1e17), 999, []byte("x"), app, common.Address{}, nil)
	require.ErrorIs(t, err, ErrNoTrustedPath)
}

func TestSendFailureRevertsValueTransfer(t *testing.T) {
	f := newFixture(t)
	before := f.stR.GetBalance(app)
	_, err := f.remote.Send(context.Background(), app, big.NewInt(1), homeChain, []byte("x"), app, common.Address{}, nil)
	require.ErrorIs(t, err, layerzero.ErrInsufficientFee)
	require.Equal(t, before, f.stR.GetBalance(app))
	require.True(t, f.stR.GetBalance(remoteUA).IsZero())
}

func TestUntrustedAndUnauthorizedDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.home.LzReceive(ctx, stranger, remoteChain, layerzero.Path(remoteUA, homeUA), 1, []byte("x"))
	require.ErrorIs(t, err, governance.ErrUnauthorized)

	err = f.home.LzReceive(ctx, epHome, remoteChain, layerzero.Path(stranger, homeUA), 1, []byte("x"))
	require.ErrorIs(t, err, ErrUntrustedRemote)

	err = f.home.LzReceive(ctx, epHome, 101, layerzero.Path(remoteUA, homeUA), 1, []byte("x"))
	require.ErrorIs(t, err, ErrUntrustedRemote)
	require.Empty(t, f.inbox.msgs)
}

func TestFailedMessageDoesNotBlockPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := layerzero.Path(remoteUA, homeUA)

	f.inbox.fail = true
	f.send(t, []byte("first"))
	_, err := f.net.Flush(ctx)
	require.NoError(t, err)

	f.inbox.fail = false
	f.send(t, []byte("second"))
	_, err = f.net.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("second")}, f.inbox.msgs)

	ep, _ := f.net.Endpoint(homeChain)
	_, blocked := ep.StoredPayload(remoteChain, path)
	require.False(t, blocked)

	h, err := f.home.FailedMessages(remoteChain, path, 1)
	require.NoError(t, err)
	require.Equal(t, failedmsg.Hash([]byte("first")), h)

	pending, err := f.home.PendingFailures()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, f.home.RetryMessage(ctx, remoteChain, path, 1, []byte("first")))
	require.Equal(t, [][]byte{[]byte("second"), []byte("first")}, f.inbox.msgs)

	h, err = f.home.FailedMessages(remoteChain, path, 1)
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, h)
}

func TestGovernanceGates(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.home.SetTrustedRemote(stranger, remoteChain, nil), governance.ErrUnauthorized)
	require.ErrorIs(t, f.home.SetTrustedRemote(gov, remoteChain, []byte{1}), ErrInvalidPath)
	require.ErrorIs(t, f.home.SetRescuePolicy(stranger, channel.RescuePolicy{}), governance.ErrUnauthorized)
	require.NoError(t, f.home.SetRescuePolicy(gov, channel.RescuePolicy{MinAttempts: 3}))
	require.ErrorIs(t, f.remote.Withdraw(stranger, stranger, uint256.NewInt(1)), governance.ErrUnauthorized)
}
