// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun(t *testing.T) {
	out, err := execute(t, "run")
	require.NoError(t, err)
	require.Contains(t, out, "margin")
	require.Contains(t, out, "894400000")
	require.Contains(t, out, "open failures")
}

func TestFailedListsStuckWithdrawal(t *testing.T) {
	out, err := execute(t, "failed", "--withdraw", "50", "--amount-min", "50")
	require.NoError(t, err)
	require.Contains(t, out, "avalanche/withdrawals")
	require.Contains(t, out, "54321")
}

func TestBadFlag(t *testing.T) {
	_, err := execute(t, "run", "--deposit", "lots")
	require.Error(t, err)
}
