// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simnet

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/marginbridge/config"
	"github.com/luxfi/marginbridge/events"
	"github.com/luxfi/marginbridge/failedmsg"
)

var e18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), e18)
}

func newNet(t *testing.T, opts ...Option) *Net {
	t.Helper()
	n, err := Build(config.Default(), opts...)
	require.NoError(t, err)
	return n
}

func TestRoundTrip(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := newNet(t, WithRegisterer(reg))
	ctx := context.Background()
	alice := Address("alice")

	n.Fund(alice, big.NewInt(1000e6), e18)
	require.NoError(t, n.Deposit(ctx, alice, alice, big.NewInt(1000e6), big.NewInt(100e6), false))
	require.NoError(t, n.Flush(ctx))

	// 6 bps to the pool, 5 USDC of messaging fee, 100 USDC as gas
	b := n.Balances(alice)
	require.Equal(t, "894400000", b.Margin.String())
	require.Equal(t, ether(100).String(), b.HomeNative.String())
	require.Zero(t, b.SourceToken.Sign())
	require.Equal(t, "5000000", n.Remote.FeeCollected(big.NewInt(0)).String())

	_, err := n.Withdraw(ctx, alice, alice, ether(50), nil)
	require.NoError(t, err)
	_, err = n.Withdraw(ctx, alice, alice, ether(40), big.NewInt(39e6))
	require.NoError(t, err)
	require.NoError(t, n.Flush(ctx))

	b = n.Balances(alice)
	require.Equal(t, "50000000", b.RemoteToken.String())
	require.Equal(t, "39936024", b.SourceToken.String())
	require.Equal(t, "9500000000000000000", b.HomeNative.String())
	require.Equal(t, "5040000", n.Remote.FeeCollected(big.NewInt(0)).String())

	failures, err := n.Failures()
	require.NoError(t, err)
	require.Empty(t, failures)

	require.Equal(t, 2.0, testutil.ToFloat64(n.Metrics.Withdrawals.WithLabelValues("43114")))
}

func TestInsuranceFundDeposit(t *testing.T) {
	n := newNet(t)
	ctx := context.Background()
	alice := Address("alice")

	n.Fund(alice, big.NewInt(100e6), e18)
	require.NoError(t, n.Deposit(ctx, alice, alice, big.NewInt(100e6), new(big.Int), true))
	require.NoError(t, n.Flush(ctx))

	require.Equal(t, "94940000", n.Ledger.InsuranceFund(big.NewInt(0)).String())
	require.Zero(t, n.Balances(alice).Margin.Sign())
}

func TestFailedWithdrawalPersists(t *testing.T) {
	db := memdb.New()
	n := newNet(t, WithDatabase(db))
	ctx := context.Background()
	alice := Address("alice")

	n.Fund(alice, big.NewInt(1000e6), e18)
	require.NoError(t, n.Deposit(ctx, alice, alice, big.NewInt(1000e6), big.NewInt(100e6), false))
	require.NoError(t, n.Flush(ctx))

	// the floor cannot be met once fees are taken
	_, err := n.Withdraw(ctx, alice, alice, ether(50), big.NewInt(50e6))
	require.NoError(t, err)
	require.NoError(t, n.Flush(ctx))

	failures, err := n.Failures()
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, n.Config.Remote.Name+"/withdrawals", failures[0].Holder)
	require.Equal(t, n.Config.Home.ChainID, failures[0].Key.SrcChainID)
	require.Equal(t, uint32(1), failures[0].Meta.Attempts)

	recs, err := failedmsg.New(prefixdb.New(remoteClientPrefix, db)).Pending()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, failures[0].Hash, recs[0].Hash)

	pkt := events.Filter(n.RemoteState, n.RemoteClient.Address(), events.MessageFailed)[0].Args["payload"].([]byte)
	amount, err := n.Remote.RescueWithdrawFunds(ctx, alice, failures[0].Key.SrcChainID, failures[0].Key.SrcAddress, failures[0].Key.Nonce, pkt)
	require.NoError(t, err)
	require.Equal(t, "50000000", amount.String())
	require.Equal(t, "50000000", n.Balances(alice).RemoteToken.String())

	failures, err = n.Failures()
	require.NoError(t, err)
	require.Empty(t, failures)
}

func TestStalePricesHoldDeposits(t *testing.T) {
	n := newNet(t)
	ctx := context.Background()
	alice := Address("alice")

	n.Advance(48 * time.Hour)
	n.Fund(alice, big.NewInt(100e6), e18)
	require.NoError(t, n.Deposit(ctx, alice, alice, big.NewInt(100e6), new(big.Int), false))
	require.NoError(t, n.Flush(ctx))

	failures, err := n.Failures()
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, n.Config.Remote.Name+"/deposits", failures[0].Holder)

	n.RefreshPrices()
	failed := events.Filter(n.RemoteState, n.Remote.Address(), events.DepositSecondHopFailure)[0].Args["payload"].([]byte)
	k := failures[0].Key
	require.NoError(t, n.Remote.RetryDeposit(ctx, k.SrcChainID, k.SrcAddress, k.Nonce, failed))
	require.NoError(t, n.Flush(ctx))
	require.Equal(t, "94940000", n.Balances(alice).Margin.String())
}

func TestRescuePolicyFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Rescue.MinAttempts = 2
	n, err := Build(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	alice := Address("alice")

	n.Advance(48 * time.Hour)
	n.Fund(alice, big.NewInt(100e6), e18)
	require.NoError(t, n.Deposit(ctx, alice, alice, big.NewInt(100e6), new(big.Int), false))
	require.NoError(t, n.Flush(ctx))

	failed := events.Filter(n.RemoteState, n.Remote.Address(), events.DepositSecondHopFailure)[0].Args["payload"].([]byte)
	failures, err := n.Failures()
	require.NoError(t, err)
	k := failures[0].Key

	_, err = n.Remote.RescueDepositFunds(ctx, alice, k.SrcChainID, k.SrcAddress, k.Nonce, failed)
	require.Error(t, err)
	require.Error(t, n.Remote.RetryDeposit(ctx, k.SrcChainID, k.SrcAddress, k.Nonce, failed))

	amount, err := n.Remote.RescueDepositFunds(ctx, alice, k.SrcChainID, k.SrcAddress, k.Nonce, failed)
	require.NoError(t, err)
	require.Equal(t, "99940000", amount.String())
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.ChainID = cfg.Home.ChainID
	_, err := Build(cfg)
	require.ErrorIs(t, err, config.ErrInvalidChain)
}
