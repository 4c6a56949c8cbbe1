// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package governance

import (
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

func TestOnlyGovernance(t *testing.T) {
	gov := common.HexToAddress("0x01")
	other := common.HexToAddress("0x02")
	g := New(gov)

	require.NoError(t, g.OnlyGovernance(gov))
	err := g.OnlyGovernance(other)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Contains(t, err.Error(), "ONLY_GOVERNANCE")

	require.ErrorIs(t, g.SetGovernance(other, other), ErrUnauthorized)
	require.ErrorIs(t, g.SetGovernance(gov, common.Address{}), ErrZeroGovernance)

	require.NoError(t, g.SetGovernance(gov, other))
	require.Equal(t, other, g.Governance())
	require.ErrorIs(t, g.OnlyGovernance(gov), ErrUnauthorized)
}
