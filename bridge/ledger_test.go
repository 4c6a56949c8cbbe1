// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/marginbridge/state"
)

func TestMarginLedger(t *testing.T) {
	st := state.New(ChainHubble)
	l := NewMarginLedger(st, ledgerAddr, 1)

	require.NoError(t, l.AddMarginFor(usdcIdx, big.NewInt(100), alice))
	require.ErrorIs(t, l.RemoveMarginFor(usdcIdx, big.NewInt(101), alice), ErrInsufficientBalance)
	require.ErrorIs(t, l.AddMarginFor(big.NewInt(1), big.NewInt(1), alice), ErrUnknownToken)

	require.NoError(t, l.RealizePnL(usdcIdx, alice, big.NewInt(-250)))
	requireBig(t, big.NewInt(-150), l.Margin(usdcIdx, alice))
	require.ErrorIs(t, l.RemoveMarginFor(usdcIdx, big.NewInt(1), alice), ErrInsufficientBalance)

	require.NoError(t, l.AddMarginFor(usdcIdx, big.NewInt(200), alice))
	requireBig(t, big.NewInt(50), l.Margin(usdcIdx, alice))
	require.Zero(t, l.Margin(usdcIdx, bob).Sign())

	require.NoError(t, l.DepositToInsuranceFund(usdcIdx, big.NewInt(7)))
	requireBig(t, big.NewInt(7), l.InsuranceFund(usdcIdx))
}

func TestLedgerRevertsWithState(t *testing.T) {
	st := state.New(ChainHubble)
	l := NewMarginLedger(st, ledgerAddr, 1)
	require.NoError(t, l.AddMarginFor(usdcIdx, big.NewInt(10), alice))

	snap := st.Snapshot()
	require.NoError(t, l.RealizePnL(usdcIdx, alice, big.NewInt(-30)))
	require.NoError(t, l.DepositToInsuranceFund(usdcIdx, big.NewInt(5)))
	st.RevertToSnapshot(snap)

	requireBig(t, big.NewInt(10), l.Margin(usdcIdx, alice))
	require.Zero(t, l.InsuranceFund(usdcIdx).Sign())
}

func TestMappingSlotsAreDistinct(t *testing.T) {
	a := mappingSlot(slotMargin, idxKey(usdcIdx), alice.Bytes())
	b := mappingSlot(slotMargin, idxKey(usdcIdx), bob.Bytes())
	c := mappingSlot(slotMargin, idxKey(big.NewInt(1)), alice.Bytes())
	d := mappingSlot(slotInsuranceFund, idxKey(usdcIdx))
	require.NotEqual(t, a, b)
	require.NotEqual(t, a, c)
	require.NotEqual(t, a, d)
	require.Equal(t, a, mappingSlot(slotMargin, idxKey(big.NewInt(0)), alice.Bytes()))
}
