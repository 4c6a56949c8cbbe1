// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state holds the execution state of a single chain as seen by the
// bridge contracts: native balances, token balances, emitted logs and the
// block clock. Every mutation is journaled so one contract call can be
// reverted as a unit.
package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAmountOverflow      = errors.New("amount does not fit in 256 bits")
	ErrNegativeAmount      = errors.New("negative amount")
	ErrInvalidSnapshot     = errors.New("invalid snapshot id")
)

// StateDB is the journaled state of one chain
type StateDB struct {
	chainID uint16

	// Native gas balances
	native map[common.Address]*uint256.Int

	// Token balances: token -> holder -> balance
	tokens map[common.Address]map[common.Address]*uint256.Int

	// Contract storage slots
	storage map[common.Address]map[common.Hash]common.Hash

	logs    []*types.Log
	journal []func()

	blockNumber uint64
	timestamp   uint64

	mu sync.Mutex
}

// New creates an empty state for the given chain
func New(chainID uint16) *StateDB {
	return &StateDB{
		chainID: chainID,
		native:  make(map[common.Address]*uint256.Int),
		tokens:  make(map[common.Address]map[common.Address]*uint256.Int),
		storage: make(map[common.Address]map[common.Hash]common.Hash),
		logs:    make([]*types.Log, 0),
		journal: make([]func(), 0),
	}
}

// ChainID returns the messaging-layer chain id of this state
func (s *StateDB) ChainID() uint16 {
	return s.chainID
}

// Time returns the current block timestamp in unix seconds
func (s *StateDB) Time() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timestamp
}

// BlockNumber returns the current block number
func (s *StateDB) BlockNumber() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockNumber
}

// SetTime moves the block clock. Time is not journaled.
func (s *StateDB) SetTime(timestamp uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timestamp = timestamp
}

// NextBlock advances the block number and the clock by [seconds]
func (s *StateDB) NextBlock(seconds uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockNumber++
	s.timestamp += seconds
}

// GetBalance returns a copy of the native balance of [addr]
func (s *StateDB) GetBalance(addr common.Address) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bal, ok := s.native[addr]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// AddBalance credits native balance (minting it into existence). It panics
// if the balance would overflow.
func (s *StateDB) AddBalance(addr common.Address, amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.addNative(addr, amount); err != nil {
		panic(err)
	}
}

// SubBalance debits native balance (burning it)
func (s *StateDB) SubBalance(addr common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subNative(addr, amount)
}

// Transfer moves native balance between two accounts
func (s *StateDB) Transfer(from, to common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := len(s.journal)
	if err := s.subNative(from, amount); err != nil {
		return err
	}
	if err := s.addNative(to, amount); err != nil {
		s.unwind(id)
		return err
	}
	return nil
}

// TokenBalance returns a copy of the [token] balance of [holder]
func (s *StateDB) TokenBalance(token, holder common.Address) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bal, ok := s.tokens[token][holder]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// MintToken creates [amount] of [token] for [to]. It panics if the balance
// would overflow.
func (s *StateDB) MintToken(token, to common.Address, amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.addToken(token, to, amount); err != nil {
		panic(err)
	}
}

// TransferToken moves [amount] of [token] between two holders
func (s *StateDB) TransferToken(token, from, to common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := len(s.journal)
	if err := s.subToken(token, from, amount); err != nil {
		return err
	}
	if err := s.addToken(token, to, amount); err != nil {
		s.unwind(id)
		return err
	}
	return nil
}

// GetState returns storage slot [key] of contract [addr]
func (s *StateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage[addr][key]
}

// SetState writes storage slot [key] of contract [addr]
func (s *StateDB) SetState(addr common.Address, key common.Hash, value common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots := s.storage[addr]
	if slots == nil {
		slots = make(map[common.Hash]common.Hash)
		s.storage[addr] = slots
	}
	prev, existed := slots[key]
	if value == (common.Hash{}) {
		delete(slots, key)
	} else {
		slots[key] = value
	}
	s.journal = append(s.journal, func() {
		if existed {
			slots[key] = prev
		} else {
			delete(slots, key)
		}
	})
}

// AddLog appends an event log emitted by a contract
func (s *StateDB) AddLog(l *types.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.BlockNumber = s.blockNumber
	l.Index = uint(len(s.logs))
	s.logs = append(s.logs, l)
	s.journal = append(s.journal, func() {
		s.logs = s.logs[:len(s.logs)-1]
	})
}

// Logs returns all logs emitted so far
func (s *StateDB) Logs() []*types.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Log, len(s.logs))
	copy(out, s.logs)
	return out
}

// Snapshot returns an identifier for the current revision of the state
func (s *StateDB) Snapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.journal)
}

// RevertToSnapshot undoes every change made after [id] was taken
func (s *StateDB) RevertToSnapshot(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id > len(s.journal) {
		panic(fmt.Errorf("%w: %d (journal length %d)", ErrInvalidSnapshot, id, len(s.journal)))
	}
	s.unwind(id)
}

func (s *StateDB) unwind(id int) {
	for i := len(s.journal) - 1; i >= id; i-- {
		s.journal[i]()
	}
	s.journal = s.journal[:id]
}

func (s *StateDB) addNative(addr common.Address, amount *uint256.Int) error {
	prev, existed := s.native[addr]
	next := new(uint256.Int)
	if existed {
		next.Set(prev)
	}
	if _, overflow := next.AddOverflow(next, amount); overflow {
		return fmt.Errorf("%w: %s balance plus %s", ErrAmountOverflow, addr.Hex(), amount.Dec())
	}
	s.native[addr] = next
	s.journal = append(s.journal, func() { restore(s.native, addr, prev, existed) })
	return nil
}

func (s *StateDB) subNative(addr common.Address, amount *uint256.Int) error {
	prev, existed := s.native[addr]
	if !existed || prev.Lt(amount) {
		if amount.IsZero() {
			return nil
		}
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, addr.Hex(), balanceString(prev), amount.Dec())
	}
	s.native[addr] = new(uint256.Int).Sub(prev, amount)
	s.journal = append(s.journal, func() { restore(s.native, addr, prev, existed) })
	return nil
}

func (s *StateDB) addToken(token, holder common.Address, amount *uint256.Int) error {
	holders := s.tokens[token]
	if holders == nil {
		holders = make(map[common.Address]*uint256.Int)
		s.tokens[token] = holders
	}
	prev, existed := holders[holder]
	next := new(uint256.Int)
	if existed {
		next.Set(prev)
	}
	if _, overflow := next.AddOverflow(next, amount); overflow {
		return fmt.Errorf("%w: %s holding of %s plus %s", ErrAmountOverflow, holder.Hex(), token.Hex(), amount.Dec())
	}
	holders[holder] = next
	s.journal = append(s.journal, func() { restore(holders, holder, prev, existed) })
	return nil
}

func (s *StateDB) subToken(token, holder common.Address, amount *uint256.Int) error {
	holders := s.tokens[token]
	prev, existed := holders[holder]
	if !existed || prev.Lt(amount) {
		if amount.IsZero() {
			return nil
		}
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, holder.Hex(), balanceString(prev), token.Hex(), amount.Dec())
	}
	holders[holder] = new(uint256.Int).Sub(prev, amount)
	s.journal = append(s.journal, func() { restore(holders, holder, prev, existed) })
	return nil
}

func restore(m map[common.Address]*uint256.Int, addr common.Address, prev *uint256.Int, existed bool) {
	if existed {
		m[addr] = prev
	} else {
		delete(m, addr)
	}
}

func balanceString(b *uint256.Int) string {
	if b == nil {
		return "0"
	}
	return b.Dec()
}

// U256 converts a big integer amount to the state's balance type
func U256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return new(uint256.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	u, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrAmountOverflow, amount)
	}
	return u, nil
}
