// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/marginbridge/state"
)

// Storage slot bases. Mappings hash their keys onto the base the way
// Solidity lays out mapping storage.
const (
	slotCollectedFee      = 1 // tokenIdx -> uint256
	slotWhitelistRelayer  = 2 // relayer -> bool
	slotCirculatingSupply = 3 // tokenIdx -> uint256
	slotMargin            = 4 // tokenIdx -> trader -> int256
	slotInsuranceFund     = 5 // tokenIdx -> uint256
)

func mappingSlot(base uint64, keys ...[]byte) common.Hash {
	slot := common.BigToHash(new(big.Int).SetUint64(base))
	for _, k := range keys {
		slot = common.BytesToHash(crypto.Keccak256(common.LeftPadBytes(k, common.HashLength), slot.Bytes()))
	}
	return slot
}

func idxKey(idx *big.Int) []byte {
	return common.BigToHash(idx).Bytes()
}

// storage reads and writes the slots of one contract
type storage struct {
	state   *state.StateDB
	address common.Address
}

func (s storage) getUint(slot common.Hash) *big.Int {
	v := s.state.GetState(s.address, slot)
	return new(big.Int).SetBytes(v.Bytes())
}

func (s storage) setUint(slot common.Hash, v *big.Int) {
	s.state.SetState(s.address, slot, common.BigToHash(v))
}

// getInt reads a two's complement int256
func (s storage) getInt(slot common.Hash) *big.Int {
	v := s.state.GetState(s.address, slot)
	u := new(uint256.Int).SetBytes32(v.Bytes())
	if u.Sign() >= 0 {
		return u.ToBig()
	}
	return new(big.Int).Neg(new(uint256.Int).Neg(u).ToBig())
}

func (s storage) setInt(slot common.Hash, v *big.Int) {
	u, _ := uint256.FromBig(v)
	s.state.SetState(s.address, slot, common.Hash(u.Bytes32()))
}

func (s storage) getBool(slot common.Hash) bool {
	return s.state.GetState(s.address, slot) != (common.Hash{})
}

func (s storage) setBool(slot common.Hash, v bool) {
	var h common.Hash
	if v {
		h[common.HashLength-1] = 1
	}
	s.state.SetState(s.address, slot, h)
}

func (s storage) addUint(slot common.Hash, delta *big.Int) *big.Int {
	next := new(big.Int).Add(s.getUint(slot), delta)
	s.setUint(slot, next)
	return next
}
