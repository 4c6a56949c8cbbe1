// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pricefeed converts native messaging fees into stablecoin amounts
// using aggregator-style USD price feeds.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	ErrStalePrice      = errors.New("stale price")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrIncompleteRound = errors.New("incomplete price round")
	ErrNoFeed          = errors.New("no price feed")
)

const (
	// FeedDecimals is the precision of every USD feed
	FeedDecimals = 8

	// MinAnswer is the smallest answer that survives truncation to six decimals
	MinAnswer = 100

	// NativeDecimals is the precision of the native gas token
	NativeDecimals = 18

	// DefaultMaxPriceAge bounds how old a round may be before it is rejected
	DefaultMaxPriceAge = 24 * time.Hour
)

// RoundData is one aggregator round
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int // unix seconds
	AnsweredInRound *big.Int
}

// Feed is a USD price oracle for one asset
type Feed interface {
	LatestRoundData(ctx context.Context) (RoundData, error)
}

// Converter prices native fees in a token through two USD feeds
type Converter struct {
	NativeFeed Feed

	// MaxAge of an accepted round; zero disables the check
	MaxAge time.Duration

	// Clock returns the current chain time in unix seconds
	Clock func() uint64
}

// NewConverter creates a converter with the default staleness bound
func NewConverter(nativeFeed Feed, clock func() uint64) *Converter {
	return &Converter{
		NativeFeed: nativeFeed,
		MaxAge:     DefaultMaxPriceAge,
		Clock:      clock,
	}
}

// Price returns the validated latest answer of [feed]
func (c *Converter) Price(ctx context.Context, feed Feed) (*big.Int, error) {
	if feed == nil {
		return nil, ErrNoFeed
	}
	rd, err := feed.LatestRoundData(ctx)
	if err != nil {
		return nil, err
	}
	if rd.Answer == nil || rd.Answer.Sign() <= 0 {
		return nil, fmt.Errorf("%w: answer %v", ErrInvalidPrice, rd.Answer)
	}
	if rd.RoundID != nil && rd.AnsweredInRound != nil && rd.AnsweredInRound.Cmp(rd.RoundID) < 0 {
		return nil, fmt.Errorf("%w: answered in round %s of %s", ErrIncompleteRound, rd.AnsweredInRound, rd.RoundID)
	}
	if c.MaxAge > 0 && c.Clock != nil {
		if rd.UpdatedAt == nil || !rd.UpdatedAt.IsUint64() {
			return nil, fmt.Errorf("%w: no update time", ErrStalePrice)
		}
		now, updated := c.Clock(), rd.UpdatedAt.Uint64()
		if now > updated && time.Duration(now-updated)*time.Second > c.MaxAge {
			return nil, fmt.Errorf("%w: updated %ds ago, max age %s", ErrStalePrice, now-updated, c.MaxAge)
		}
	}
	return new(big.Int).Set(rd.Answer), nil
}

// FeeInToken converts [nativeFee] (18 decimals) into the token priced by
// [tokenFeed], expressed in the token's own [decimals].
func (c *Converter) FeeInToken(ctx context.Context, nativeFee *big.Int, tokenFeed Feed, decimals uint8) (*big.Int, error) {
	nativePrice, err := c.Price(ctx, c.NativeFeed)
	if err != nil {
		return nil, fmt.Errorf("native price: %w", err)
	}
	tokenPrice, err := c.Price(ctx, tokenFeed)
	if err != nil {
		return nil, fmt.Errorf("token price: %w", err)
	}
	return Convert(nativeFee, nativePrice, tokenPrice, decimals)
}

// Convert computes nativeFee * (nativePrice/100) / (tokenPrice/100) rescaled
// from native decimals to [decimals]. Prices are truncated to six decimals
// first, matching the on-chain arithmetic.
func Convert(nativeFee, nativePrice, tokenPrice *big.Int, decimals uint8) (*big.Int, error) {
	hundred := big.NewInt(MinAnswer)
	np := new(big.Int).Quo(nativePrice, hundred)
	tp := new(big.Int).Quo(tokenPrice, hundred)
	if np.Sign() <= 0 {
		return nil, fmt.Errorf("%w: native price %s below precision", ErrInvalidPrice, nativePrice)
	}
	if tp.Sign() <= 0 {
		return nil, fmt.Errorf("%w: token price %s below precision", ErrInvalidPrice, tokenPrice)
	}

	fee := new(big.Int).Mul(nativeFee, np)
	fee.Quo(fee, tp)
	if decimals <= NativeDecimals {
		return fee.Quo(fee, pow10(NativeDecimals-int(decimals))), nil
	}
	return fee.Mul(fee, pow10(int(decimals)-NativeDecimals)), nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
