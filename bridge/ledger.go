// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/marginbridge/state"
)

// MarginAccount is the trading engine's view of collateral. Home credits and
// debits it; everything else about margin lives behind it.
type MarginAccount interface {
	// Address holds the native collateral backing credited margin
	Address() common.Address

	AddMarginFor(tokenIdx *big.Int, amount *big.Int, trader common.Address) error
	RemoveMarginFor(tokenIdx *big.Int, amount *big.Int, trader common.Address) error
	DepositToInsuranceFund(tokenIdx *big.Int, amount *big.Int) error

	Margin(tokenIdx *big.Int, trader common.Address) *big.Int
	InsuranceFund(tokenIdx *big.Int) *big.Int
}

// MarginLedger keeps signed margin per (token, trader) and the insurance
// fund per token in contract storage, so balance changes revert with the
// call that made them.
type MarginLedger struct {
	storage
	tokens int // supported token indices are [0, tokens)
}

var _ MarginAccount = (*MarginLedger)(nil)

// NewMarginLedger creates a ledger at [addr] supporting [tokens] token indices
func NewMarginLedger(st *state.StateDB, addr common.Address, tokens int) *MarginLedger {
	return &MarginLedger{
		storage: storage{state: st, address: addr},
		tokens:  tokens,
	}
}

func (l *MarginLedger) Address() common.Address {
	return l.address
}

func (l *MarginLedger) checkToken(tokenIdx *big.Int) error {
	if tokenIdx == nil || tokenIdx.Sign() < 0 || !tokenIdx.IsInt64() || tokenIdx.Int64() >= int64(l.tokens) {
		return fmt.Errorf("%w: %v", ErrUnknownToken, tokenIdx)
	}
	return nil
}

func (l *MarginLedger) AddMarginFor(tokenIdx *big.Int, amount *big.Int, trader common.Address) error {
	if err := l.checkToken(tokenIdx); err != nil {
		return err
	}
	slot := mappingSlot(slotMargin, idxKey(tokenIdx), trader.Bytes())
	l.setInt(slot, new(big.Int).Add(l.getInt(slot), amount))
	return nil
}

// RemoveMarginFor debits margin. A trader can never withdraw into a
// negative balance.
func (l *MarginLedger) RemoveMarginFor(tokenIdx *big.Int, amount *big.Int, trader common.Address) error {
	if err := l.checkToken(tokenIdx); err != nil {
		return err
	}
	slot := mappingSlot(slotMargin, idxKey(tokenIdx), trader.Bytes())
	margin := l.getInt(slot)
	if margin.Cmp(amount) < 0 {
		return fmt.Errorf("%w: margin %s, requested %s", ErrInsufficientBalance, margin, amount)
	}
	l.setInt(slot, margin.Sub(margin, amount))
	return nil
}

// RealizePnL applies a trading result, which may drive margin negative
func (l *MarginLedger) RealizePnL(tokenIdx *big.Int, trader common.Address, pnl *big.Int) error {
	return l.AddMarginFor(tokenIdx, pnl, trader)
}

func (l *MarginLedger) DepositToInsuranceFund(tokenIdx *big.Int, amount *big.Int) error {
	if err := l.checkToken(tokenIdx); err != nil {
		return err
	}
	l.addUint(mappingSlot(slotInsuranceFund, idxKey(tokenIdx)), amount)
	return nil
}

func (l *MarginLedger) Margin(tokenIdx *big.Int, trader common.Address) *big.Int {
	return l.getInt(mappingSlot(slotMargin, idxKey(tokenIdx), trader.Bytes()))
}

func (l *MarginLedger) InsuranceFund(tokenIdx *big.Int) *big.Int {
	return l.getUint(mappingSlot(slotInsuranceFund, idxKey(tokenIdx)))
}
