// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package simnet assembles a complete bridge deployment in process: a home
// chain, a remote chain and a source chain, the messaging and liquidity
// layers between them, price feeds and both bridge contracts.
package simnet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/marginbridge/bridge"
	"github.com/luxfi/marginbridge/channel"
	"github.com/luxfi/marginbridge/config"
	"github.com/luxfi/marginbridge/failedmsg"
	"github.com/luxfi/marginbridge/governance"
	"github.com/luxfi/marginbridge/layerzero"
	"github.com/luxfi/marginbridge/lzclient"
	"github.com/luxfi/marginbridge/metrics"
	"github.com/luxfi/marginbridge/payload"
	"github.com/luxfi/marginbridge/pricefeed"
	"github.com/luxfi/marginbridge/state"
	"github.com/luxfi/marginbridge/stargate"
)

// maxFlushRounds bounds how many times Flush drains both layers before it
// gives up on a deployment that keeps producing packets.
const maxFlushRounds = 64

var (
	ErrNotSettled = errors.New("network did not settle")

	remoteDepositsPrefix = []byte("remote/deposits/")
	remoteClientPrefix   = []byte("remote/lz/")
	homeClientPrefix     = []byte("home/lz/")
)

// Address derives a deterministic account from [label]
func Address(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("marginbridge/" + label))[12:])
}

// Net is one assembled deployment
type Net struct {
	Config *config.Config
	Gov    common.Address

	LayerZero *layerzero.Network
	Stargate  *stargate.Network

	HomeState   *state.StateDB
	RemoteState *state.StateDB
	SourceState *state.StateDB

	Home         *bridge.Home
	Remote       *bridge.Remote
	Ledger       *bridge.MarginLedger
	HomeClient   *lzclient.Client
	RemoteClient *lzclient.Client

	RemoteRouter *stargate.SimRouter
	SourceRouter *stargate.SimRouter

	NativeFeed *pricefeed.StaticFeed
	TokenFeed  *pricefeed.StaticFeed

	RemoteToken common.Address
	SourceToken common.Address

	Metrics *metrics.Metrics
	DB      database.Database

	log log.Logger
}

type options struct {
	logger log.Logger
	reg    prometheus.Registerer
	db     database.Database
}

type Option func(*options)

func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer exports the deployment metrics on [reg]
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithDatabase keeps failed messages in [db] instead of a fresh memdb
func WithDatabase(db database.Database) Option {
	return func(o *options) { o.db = db }
}

// Build deploys every contract described by [cfg] and wires them together
func Build(cfg *config.Config, opts ...Option) (*Net, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{
		logger: log.NewTestLogger(log.InfoLevel),
		db:     memdb.New(),
	}
	for _, opt := range opts {
		opt(o)
	}

	n := &Net{
		Config:      cfg,
		Gov:         cfg.GovernanceAddress(),
		HomeState:   state.New(cfg.Home.ChainID),
		RemoteState: state.New(cfg.Remote.ChainID),
		SourceState: state.New(cfg.Source.ChainID),
		NativeFeed:  pricefeed.NewStaticFeed(cfg.Prices.Native, 0),
		TokenFeed:   pricefeed.NewStaticFeed(cfg.Prices.Token, 0),
		RemoteToken: Address(cfg.Remote.Name + "/" + cfg.Token.Symbol),
		SourceToken: Address(cfg.Source.Name + "/" + cfg.Token.Symbol),
		Metrics:     metrics.New(o.reg),
		DB:          o.db,
		log:         o.logger,
	}

	n.LayerZero = layerzero.NewNetwork(layerzero.FeeConfig{
		BaseFee:    config.MustAmount(cfg.LayerZero.BaseFee),
		PerByteFee: config.MustAmount(cfg.LayerZero.PerByteFee),
		GasPrice:   config.MustAmount(cfg.LayerZero.GasPrice),
	})
	n.LayerZero.SetLogger(o.logger)
	n.Stargate = stargate.NewNetwork(stargate.Config{
		FeeBps:     cfg.Stargate.FeeBps,
		BaseFee:    config.MustAmount(cfg.Stargate.BaseFee),
		PayloadFee: config.MustAmount(cfg.Stargate.PayloadFee),
		GasPrice:   config.MustAmount(cfg.Stargate.GasPrice),
	})
	n.Stargate.SetLogger(o.logger)

	if err := n.deployLiquidity(); err != nil {
		return nil, err
	}
	if err := n.deployRemote(); err != nil {
		return nil, err
	}
	if err := n.deployHome(); err != nil {
		return nil, err
	}
	if err := n.connect(); err != nil {
		return nil, err
	}

	o.logger.Info("simnet deployed",
		"home", cfg.Home.ChainID,
		"remote", cfg.Remote.ChainID,
		"source", cfg.Source.ChainID,
		"token", cfg.Token.Symbol,
	)
	return n, nil
}

func (n *Net) deployLiquidity() error {
	cfg := n.Config
	liquidity := config.MustAmount(cfg.Token.Liquidity)

	n.RemoteRouter = n.Stargate.AddRouter(n.RemoteState, Address(cfg.Remote.Name+"/router"))
	n.SourceRouter = n.Stargate.AddRouter(n.SourceState, Address(cfg.Source.Name+"/router"))
	n.RemoteRouter.CreatePool(cfg.Token.PoolID, n.RemoteToken, cfg.Token.Decimals)
	n.SourceRouter.CreatePool(cfg.Token.PoolID, n.SourceToken, cfg.Token.Decimals)
	if err := n.RemoteRouter.AddLiquidity(cfg.Token.PoolID, liquidity); err != nil {
		return err
	}
	return n.SourceRouter.AddLiquidity(cfg.Token.PoolID, liquidity)
}

func (n *Net) deployRemote() error {
	cfg := n.Config
	remoteAddr := Address(cfg.Remote.Name + "/hgt-remote")
	clientAddr := Address(cfg.Remote.Name + "/lz-client")

	n.Remote = bridge.NewRemote(bridge.RemoteConfig{
		Name:        cfg.Remote.Name,
		Address:     remoteAddr,
		HomeChainID: cfg.Home.ChainID,
	}, n.RemoteState, governance.New(n.Gov), n.RemoteRouter, n.NativeFeed,
		failedmsg.New(prefixdb.New(remoteDepositsPrefix, n.DB)),
		bridge.SupportedToken{
			Token:     n.RemoteToken,
			PriceFeed: n.TokenFeed,
			SrcPoolID: new(big.Int).SetUint64(cfg.Token.PoolID),
			Decimals:  cfg.Token.Decimals,
		})
	n.Remote.SetLogger(n.log)
	n.Remote.SetMetrics(n.Metrics)

	ep := n.LayerZero.AddEndpoint(n.RemoteState, Address(cfg.Remote.Name+"/lz-endpoint"))
	n.RemoteClient = lzclient.New(lzclient.Config{Name: cfg.Remote.Name, Address: clientAddr, Owner: remoteAddr},
		n.RemoteState, ep, governance.New(n.Gov), failedmsg.New(prefixdb.New(remoteClientPrefix, n.DB)), n.Remote.WithdrawProcessor())
	n.RemoteClient.SetLogger(n.log)
	n.RemoteClient.SetMetrics(n.Metrics)
	ep.Register(clientAddr, n.RemoteClient)
	n.RemoteRouter.Register(remoteAddr, n.Remote)

	policy := channel.RescuePolicy{MinAttempts: cfg.Rescue.MinAttempts, Cooldown: cfg.Rescue.Cooldown}
	if err := n.Remote.SetLZClient(n.Gov, n.RemoteClient); err != nil {
		return err
	}
	if err := n.Remote.SetMaxPriceAge(n.Gov, cfg.MaxPriceAge); err != nil {
		return err
	}
	if err := n.Remote.SetRescuePolicy(n.Gov, policy); err != nil {
		return err
	}
	if err := n.RemoteClient.SetRescuePolicy(n.Gov, policy); err != nil {
		return err
	}
	n.RemoteState.AddBalance(remoteAddr, mustU256(config.MustAmount(cfg.RemoteGas)))
	return nil
}

func (n *Net) deployHome() error {
	cfg := n.Config
	homeAddr := Address(cfg.Home.Name + "/hgt")

	n.Ledger = bridge.NewMarginLedger(n.HomeState, Address(cfg.Home.Name+"/margin-account"), 1)
	n.Home = bridge.NewHome(bridge.HomeConfig{Name: cfg.Home.Name, Address: homeAddr},
		n.HomeState, governance.New(n.Gov), n.Ledger, cfg.Token.Decimals)
	n.Home.SetLogger(n.log)
	n.Home.SetMetrics(n.Metrics)

	ep := n.LayerZero.AddEndpoint(n.HomeState, Address(cfg.Home.Name+"/lz-endpoint"))
	n.HomeClient = lzclient.New(lzclient.Config{Name: cfg.Home.Name, Address: homeAddr, Owner: homeAddr},
		n.HomeState, ep, governance.New(n.Gov), failedmsg.New(prefixdb.New(homeClientPrefix, n.DB)), n.Home.Processor())
	n.HomeClient.SetLogger(n.log)
	n.HomeClient.SetMetrics(n.Metrics)
	ep.Register(homeAddr, n.HomeClient)

	if err := n.Home.SetLZClient(n.Gov, n.HomeClient); err != nil {
		return err
	}
	err := n.HomeClient.SetRescuePolicy(n.Gov, channel.RescuePolicy{MinAttempts: cfg.Rescue.MinAttempts, Cooldown: cfg.Rescue.Cooldown})
	if err != nil {
		return err
	}
	n.HomeState.AddBalance(homeAddr, mustU256(config.MustAmount(cfg.HomeReserve)))
	return nil
}

// connect trusts the home and remote clients in both directions. The source
// chain has an endpoint the home does not trust, as in production where only
// bridge remotes are paired.
func (n *Net) connect() error {
	n.LayerZero.AddEndpoint(n.SourceState, Address(n.Config.Source.Name+"/lz-endpoint"))
	home, remote := n.HomeClient.Address(), n.RemoteClient.Address()
	if err := n.HomeClient.SetTrustedRemote(n.Gov, n.Config.Remote.ChainID, layerzero.Path(remote, home)); err != nil {
		return err
	}
	return n.RemoteClient.SetTrustedRemote(n.Gov, n.Config.Home.ChainID, layerzero.Path(home, remote))
}

// Flush delivers queued packets on both layers until nothing moves
func (n *Net) Flush(ctx context.Context) error {
	for round := 0; round < maxFlushRounds; round++ {
		if n.LayerZero.Pending() == 0 && n.Stargate.Pending() == 0 {
			return nil
		}
		if _, err := n.LayerZero.Flush(ctx); err != nil {
			return err
		}
		if _, err := n.Stargate.Flush(ctx); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d rounds: %d messages, %d swaps pending",
		ErrNotSettled, maxFlushRounds, n.LayerZero.Pending(), n.Stargate.Pending())
}

// Advance moves every chain clock forward by [d]
func (n *Net) Advance(d time.Duration) {
	secs := uint64(d / time.Second)
	for _, st := range []*state.StateDB{n.HomeState, n.RemoteState, n.SourceState} {
		st.NextBlock(secs)
	}
}

// RefreshPrices republishes both feeds at the current remote time
func (n *Net) RefreshPrices() {
	now := n.RemoteState.Time()
	n.NativeFeed.Set(big.NewInt(n.Config.Prices.Native), now)
	n.TokenFeed.Set(big.NewInt(n.Config.Prices.Token), now)
}

// Fund gives [who] [amount] tokens and [gas] native on the source chain
func (n *Net) Fund(who common.Address, amount, gas *big.Int) {
	n.SourceState.MintToken(n.SourceToken, who, mustU256(amount))
	n.SourceState.AddBalance(who, mustU256(gas))
}

// Deposit swaps [amount] of [from]'s source tokens to the Remote, to be
// credited to [to] on the home chain with [toGas] paid out as gas. The swap
// is only queued; call Flush to deliver it.
func (n *Net) Deposit(ctx context.Context, from, to common.Address, amount, toGas *big.Int, insurance bool) error {
	sg, err := (&payload.StargatePayload{
		To:              to,
		TokenIdx:        big.NewInt(bridge.DefaultTokenIdx),
		Amount:          amount,
		ToGas:           toGas,
		IsInsuranceFund: insurance,
	}).Encode()
	if err != nil {
		return err
	}
	remote := n.Remote.Address().Bytes()
	fee, _, err := n.SourceRouter.QuoteLayerZeroFee(n.Config.Remote.ChainID, stargate.TypeSwapRemote, remote, sg, stargate.LzTxParams{})
	if err != nil {
		return err
	}
	pool := new(big.Int).SetUint64(n.Config.Token.PoolID)
	return n.SourceRouter.Swap(ctx, from, fee, n.Config.Remote.ChainID, pool, pool, from,
		amount, new(big.Int), stargate.LzTxParams{}, remote, sg)
}

// Withdraw sends [amount] (18 decimals) of [from]'s home gas to [to]. A
// non-zero [amountMin] routes the withdrawal on to the source chain.
func (n *Net) Withdraw(ctx context.Context, from, to common.Address, amount, amountMin *big.Int) (uint64, error) {
	vars := bridge.WithdrawVars{
		DstChainID: n.Config.Remote.ChainID,
		To:         to,
		TokenIdx:   big.NewInt(bridge.DefaultTokenIdx),
		Amount:     amount,
	}
	if amountMin != nil && amountMin.Sign() > 0 {
		vars.SecondHopChainID = n.Config.Source.ChainID
		vars.DstPoolID = new(big.Int).SetUint64(n.Config.Token.PoolID)
		vars.AmountMin = amountMin
	}
	fee, _, err := n.Home.EstimateSendFee(vars)
	if err != nil {
		return 0, err
	}
	return n.Home.Withdraw(ctx, from, new(big.Int).Add(amount, fee), vars)
}

// Failure is an open failed message and where it is held
type Failure struct {
	Holder string
	failedmsg.Record
}

// Failures lists open failed messages on every channel
func (n *Net) Failures() ([]Failure, error) {
	sources := []struct {
		holder  string
		pending func() ([]failedmsg.Record, error)
	}{
		{n.Config.Remote.Name + "/deposits", n.Remote.PendingDeposits},
		{n.Config.Remote.Name + "/withdrawals", n.RemoteClient.PendingFailures},
		{n.Config.Home.Name + "/deposits", n.Home.PendingFailures},
	}
	var out []Failure
	for _, s := range sources {
		recs, err := s.pending()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.holder, err)
		}
		for _, r := range recs {
			out = append(out, Failure{Holder: s.holder, Record: r})
		}
	}
	return out, nil
}

// Balances is one account's position across the deployment
type Balances struct {
	SourceToken *big.Int
	RemoteToken *big.Int
	HomeNative  *big.Int
	Margin      *big.Int
}

func (n *Net) Balances(who common.Address) Balances {
	return Balances{
		SourceToken: n.SourceState.TokenBalance(n.SourceToken, who).ToBig(),
		RemoteToken: n.RemoteState.TokenBalance(n.RemoteToken, who).ToBig(),
		HomeNative:  n.HomeState.GetBalance(who).ToBig(),
		Margin:      n.Ledger.Margin(big.NewInt(bridge.DefaultTokenIdx), who),
	}
}

func mustU256(v *big.Int) *uint256.Int {
	u, err := state.U256(v)
	if err != nil {
		panic(err)
	}
	return u
}
