// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// bridgesim runs deposit and withdrawal round trips against an in-process
// bridge deployment.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	s := &scenario{}
	root := &cobra.Command{
		Use:           "bridgesim",
		Short:         "Simulate the stablecoin margin bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&s.configPath, "config", "", "YAML deployment config, defaults when empty")
	flags.StringVar(&s.deposit, "deposit", "1000", "whole tokens deposited from the source chain")
	flags.StringVar(&s.toGas, "to-gas", "100", "whole tokens of the deposit paid out as home gas")
	flags.StringVar(&s.withdraw, "withdraw", "50", "whole tokens withdrawn from home gas")
	flags.StringVar(&s.amountMin, "amount-min", "", "whole-token floor that routes the withdrawal on to the source chain")
	flags.BoolVar(&s.insurance, "insurance", false, "deposit into the insurance fund instead of margin")

	root.AddCommand(newRunCmd(s), newFailedCmd(s))
	return root
}
