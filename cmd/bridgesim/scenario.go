// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"text/tabwriter"

	"github.com/luxfi/geth/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/luxfi/marginbridge/bridge"
	"github.com/luxfi/marginbridge/config"
	"github.com/luxfi/marginbridge/simnet"
)

type scenario struct {
	configPath string
	deposit    string
	toGas      string
	withdraw   string
	amountMin  string
	insurance  bool
}

func scale(whole string, decimals int) (*big.Int, error) {
	v, err := config.ParseAmount(whole)
	if err != nil {
		return nil, err
	}
	return v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)), nil
}

// play deploys a network and moves funds for one trader through a deposit
// and a withdrawal.
func (s *scenario) play(ctx context.Context) (*simnet.Net, common.Address, error) {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return nil, common.Address{}, err
	}
	n, err := simnet.Build(cfg, simnet.WithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		return nil, common.Address{}, err
	}
	dec := int(cfg.Token.Decimals)
	deposit, err := scale(s.deposit, dec)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("--deposit: %w", err)
	}
	toGas, err := scale(s.toGas, dec)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("--to-gas: %w", err)
	}
	withdraw, err := scale(s.withdraw, bridge.NativeDecimals)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("--withdraw: %w", err)
	}
	var amountMin *big.Int
	if s.amountMin != "" {
		if amountMin, err = scale(s.amountMin, dec); err != nil {
			return nil, common.Address{}, fmt.Errorf("--amount-min: %w", err)
		}
	}

	trader := simnet.Address("trader")
	gas, _ := scale("1", bridge.NativeDecimals)
	n.Fund(trader, deposit, gas)
	if err := n.Deposit(ctx, trader, trader, deposit, toGas, s.insurance); err != nil {
		return nil, common.Address{}, fmt.Errorf("deposit: %w", err)
	}
	if err := n.Flush(ctx); err != nil {
		return nil, common.Address{}, err
	}
	if withdraw.Sign() > 0 {
		if _, err := n.Withdraw(ctx, trader, trader, withdraw, amountMin); err != nil {
			return nil, common.Address{}, fmt.Errorf("withdraw: %w", err)
		}
		if err := n.Flush(ctx); err != nil {
			return nil, common.Address{}, err
		}
	}
	return n, trader, nil
}

func newRunCmd(s *scenario) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Deposit then withdraw and print the resulting balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, trader, err := s.play(cmd.Context())
			if err != nil {
				return err
			}
			failures, err := n.Failures()
			if err != nil {
				return err
			}
			printBalances(cmd.OutOrStdout(), n, trader, len(failures))
			return nil
		},
	}
}

func newFailedCmd(s *scenario) *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "Run the scenario and list failed messages left open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, _, err := s.play(cmd.Context())
			if err != nil {
				return err
			}
			failures, err := n.Failures()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HOLDER\tSRC CHAIN\tSRC ADDRESS\tNONCE\tATTEMPTS\tHASH")
			for _, f := range failures {
				fmt.Fprintf(w, "%s\t%d\t0x%x\t%d\t%d\t%s\n",
					f.Holder, f.Key.SrcChainID, f.Key.SrcAddress, f.Key.Nonce, f.Meta.Attempts, f.Hash.Hex())
			}
			return w.Flush()
		},
	}
}

func printBalances(out io.Writer, n *simnet.Net, trader common.Address, open int) {
	b := n.Balances(trader)
	idx := big.NewInt(bridge.DefaultTokenIdx)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "trader\t%s\n", trader.Hex())
	fmt.Fprintf(w, "%s token\t%s\n", n.Config.Source.Name, b.SourceToken)
	fmt.Fprintf(w, "%s token\t%s\n", n.Config.Remote.Name, b.RemoteToken)
	fmt.Fprintf(w, "%s gas\t%s\n", n.Config.Home.Name, b.HomeNative)
	fmt.Fprintf(w, "margin\t%s\n", b.Margin)
	fmt.Fprintf(w, "insurance fund\t%s\n", n.Ledger.InsuranceFund(idx))
	fmt.Fprintf(w, "circulating supply\t%s\n", n.Home.CirculatingSupply(idx))
	fmt.Fprintf(w, "fees collected\t%s\n", n.Remote.FeeCollected(idx))
	fmt.Fprintf(w, "open failures\t%d\n", open)
	w.Flush()
}
