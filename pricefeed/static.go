// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pricefeed

import (
	"context"
	"math/big"
	"sync"
)

// StaticFeed is an in-process aggregator whose answer is pushed by its owner.
// Each Set opens and answers a new round.
type StaticFeed struct {
	round     uint64
	answer    *big.Int
	updatedAt uint64

	mu sync.RWMutex
}

// NewStaticFeed creates a feed answering [answer] (8 decimals) at [updatedAt]
func NewStaticFeed(answer int64, updatedAt uint64) *StaticFeed {
	f := &StaticFeed{}
	f.Set(big.NewInt(answer), updatedAt)
	return f
}

// Set publishes a new round
func (f *StaticFeed) Set(answer *big.Int, updatedAt uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round++
	f.answer = new(big.Int).Set(answer)
	f.updatedAt = updatedAt
}

// LatestRoundData implements Feed
func (f *StaticFeed) LatestRoundData(context.Context) (RoundData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	round := new(big.Int).SetUint64(f.round)
	updated := new(big.Int).SetUint64(f.updatedAt)
	return RoundData{
		RoundID:         round,
		Answer:          new(big.Int).Set(f.answer),
		StartedAt:       updated,
		UpdatedAt:       new(big.Int).Set(updated),
		AnsweredInRound: new(big.Int).Set(round),
	}, nil
}
