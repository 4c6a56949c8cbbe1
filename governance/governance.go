// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package governance gates administrative contract calls on a single
// governance address.
package governance

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/geth/common"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrZeroGovernance = errors.New("governance cannot be the zero address")
)

// Governable holds the governance address of one contract
type Governable struct {
	governance common.Address
	mu         sync.RWMutex
}

// New creates a Governable controlled by [gov]
func New(gov common.Address) *Governable {
	return &Governable{governance: gov}
}

// Governance returns the current governance address
func (g *Governable) Governance() common.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.governance
}

// OnlyGovernance fails with ErrUnauthorized unless [caller] is governance
func (g *Governable) OnlyGovernance(caller common.Address) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if caller != g.governance {
		return fmt.Errorf("%w: ONLY_GOVERNANCE (caller %s)", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// SetGovernance hands control to [next]
func (g *Governable) SetGovernance(caller, next common.Address) error {
	if err := g.OnlyGovernance(caller); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return ErrZeroGovernance
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.governance = next
	return nil
}
