// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pricefeed

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type roundFeed struct {
	rd  RoundData
	err error
}

func (f roundFeed) LatestRoundData(context.Context) (RoundData, error) {
	return f.rd, f.err
}

func TestFeeInToken(t *testing.T) {
	now := uint64(1_700_000_000)
	avax := NewStaticFeed(20_00000000, now)
	usdc := NewStaticFeed(1_00000000, now)
	c := NewConverter(avax, func() uint64 { return now })

	// 0.01 native at $20 is $0.20, i.e. 200000 units of a 6 decimal token
	fee, err := c.FeeInToken(context.Background(), big.NewInt(1e16), usdc, 6)
	require.NoError(t, err)
	require.Equal(t, int64(200_000), fee.Int64())

	// same fee in an 18 decimal token
	fee, err = c.FeeInToken(context.Background(), big.NewInt(1e16), usdc, 18)
	require.NoError(t, err)
	require.Equal(t, int64(2e17), fee.Int64())
}

func TestConvertTruncatesPrices(t *testing.T) {
	// prices below 1e-6 USD precision are dropped before dividing
	fee, err := Convert(big.NewInt(1e18), big.NewInt(1_234_567_899), big.NewInt(99_999_999), 6)
	require.NoError(t, err)
	// 1e18 * 12345678 / 999999 / 1e12
	expected := new(big.Int).Mul(big.NewInt(1e18), big.NewInt(12_345_678))
	expected.Quo(expected, big.NewInt(999_999))
	expected.Quo(expected, big.NewInt(1e12))
	require.Zero(t, expected.Cmp(fee))

	_, err = Convert(big.NewInt(1), big.NewInt(1), big.NewInt(99), 6)
	require.ErrorIs(t, err, ErrInvalidPrice)
	// a native answer below precision would make the fee free
	_, err = Convert(big.NewInt(1e18), big.NewInt(99), big.NewInt(1_00000000), 6)
	require.ErrorIs(t, err, ErrInvalidPrice)

	fee, err = Convert(big.NewInt(1), big.NewInt(100), big.NewInt(100), 20)
	require.NoError(t, err)
	require.Equal(t, int64(100), fee.Int64())
}

func TestStalePrice(t *testing.T) {
	now := uint64(1_700_000_000)
	avax := NewStaticFeed(20_00000000, now-uint64((25*time.Hour).Seconds()))
	usdc := NewStaticFeed(1_00000000, now)
	c := NewConverter(avax, func() uint64 { return now })

	_, err := c.FeeInToken(context.Background(), big.NewInt(1e16), usdc, 6)
	require.ErrorIs(t, err, ErrStalePrice)

	c.MaxAge = 0
	_, err = c.FeeInToken(context.Background(), big.NewInt(1e16), usdc, 6)
	require.NoError(t, err)

	c.MaxAge = DefaultMaxPriceAge
	avax.Set(big.NewInt(21_00000000), now)
	_, err = c.FeeInToken(context.Background(), big.NewInt(1e16), usdc, 6)
	require.NoError(t, err)
}

func TestInvalidRounds(t *testing.T) {
	c := NewConverter(nil, func() uint64 { return 100 })
	ctx := context.Background()

	_, err := c.Price(ctx, nil)
	require.ErrorIs(t, err, ErrNoFeed)

	_, err = c.Price(ctx, roundFeed{rd: RoundData{Answer: big.NewInt(0), UpdatedAt: big.NewInt(100)}})
	require.ErrorIs(t, err, ErrInvalidPrice)

	_, err = c.Price(ctx, roundFeed{rd: RoundData{
		RoundID:         big.NewInt(5),
		AnsweredInRound: big.NewInt(4),
		Answer:          big.NewInt(1),
		UpdatedAt:       big.NewInt(100),
	}})
	require.ErrorIs(t, err, ErrIncompleteRound)

	_, err = c.Price(ctx, roundFeed{rd: RoundData{Answer: big.NewInt(1)}})
	require.ErrorIs(t, err, ErrStalePrice)

	boom := errors.New("rpc down")
	_, err = c.Price(ctx, roundFeed{err: boom})
	require.ErrorIs(t, err, boom)

	_, err = c.FeeInToken(ctx, big.NewInt(1), NewStaticFeed(1, 100), 6)
	require.ErrorIs(t, err, ErrNoFeed)
}
