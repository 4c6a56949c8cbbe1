// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

var (
	ErrInvalidAdapterParams   = errors.New("invalid adapter params")
	ErrUnsupportedAdapterType = errors.New("unsupported adapter params version")
)

const (
	AdapterParamsV1 = uint16(1)
	AdapterParamsV2 = uint16(2)

	adapterParamsV1Len = 2 + 32
	adapterParamsV2Len = 2 + 32 + 32 + common.AddressLength

	// DefaultDstGas is the destination gas assumed when no adapter params are given
	DefaultDstGas = uint64(200_000)
)

// AdapterParams tells the messaging layer how much gas to provision for the
// destination call and, for version 2, how much native gas to drop to an
// address on the destination chain.
type AdapterParams struct {
	Version       uint16
	DstGas        *big.Int
	NativeForDst  *big.Int
	DstNativeAddr common.Address
}

// NewAdapterParamsV1 requests [gas] units of destination gas
func NewAdapterParamsV1(gas uint64) []byte {
	return (&AdapterParams{Version: AdapterParamsV1, DstGas: new(big.Int).SetUint64(gas)}).Pack()
}

// NewAdapterParamsV2 requests [gas] units of destination gas plus an airdrop
// of [native] to [to] on the destination chain.
func NewAdapterParamsV2(gas uint64, native *big.Int, to common.Address) []byte {
	return (&AdapterParams{
		Version:       AdapterParamsV2,
		DstGas:        new(big.Int).SetUint64(gas),
		NativeForDst:  native,
		DstNativeAddr: to,
	}).Pack()
}

// Pack serializes the params in their tightly packed wire form
func (p *AdapterParams) Pack() []byte {
	size := adapterParamsV1Len
	if p.Version == AdapterParamsV2 {
		size = adapterParamsV2Len
	}
	out := make([]byte, size)
	binary.BigEndian.PutUint16(out[:2], p.Version)
	if p.DstGas != nil {
		p.DstGas.FillBytes(out[2:34])
	}
	if p.Version == AdapterParamsV2 {
		if p.NativeForDst != nil {
			p.NativeForDst.FillBytes(out[34:66])
		}
		copy(out[66:], p.DstNativeAddr.Bytes())
	}
	return out
}

// ParseAdapterParams unpacks adapter params. Empty input selects the
// default gas limit.
func ParseAdapterParams(b []byte) (*AdapterParams, error) {
	if len(b) == 0 {
		return &AdapterParams{
			Version:      AdapterParamsV1,
			DstGas:       new(big.Int).SetUint64(DefaultDstGas),
			NativeForDst: new(big.Int),
		}, nil
	}
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: got length (%d)", ErrInvalidAdapterParams, len(b))
	}

	version := binary.BigEndian.Uint16(b[:2])
	switch version {
	case AdapterParamsV1:
		if len(b) != adapterParamsV1Len {
			return nil, fmt.Errorf("%w: got length (%d), expected length (%d)", ErrInvalidAdapterParams, len(b), adapterParamsV1Len)
		}
		return &AdapterParams{
			Version:      version,
			DstGas:       new(big.Int).SetBytes(b[2:34]),
			NativeForDst: new(big.Int),
		}, nil
	case AdapterParamsV2:
		if len(b) != adapterParamsV2Len {
			return nil, fmt.Errorf("%w: got length (%d), expected length (%d)", ErrInvalidAdapterParams, len(b), adapterParamsV2Len)
		}
		p := &AdapterParams{
			Version:       version,
			DstGas:        new(big.Int).SetBytes(b[2:34]),
			NativeForDst:  new(big.Int).SetBytes(b[34:66]),
			DstNativeAddr: common.BytesToAddress(b[66:]),
		}
		if p.NativeForDst.Sign() > 0 && p.DstNativeAddr == (common.Address{}) {
			return nil, fmt.Errorf("%w: airdrop to the zero address", ErrInvalidAdapterParams)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAdapterType, version)
	}
}
