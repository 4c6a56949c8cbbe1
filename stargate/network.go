// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stargate

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/zeebo/blake3"

	"github.com/luxfi/marginbridge/state"
)

// Config of the simulated liquidity layer
type Config struct {
	FeeBps     uint64   // protocol fee charged on every swap, basis points
	BaseFee    *big.Int // native messaging fee per swap
	PayloadFee *big.Int // native fee per payload byte
	GasPrice   *big.Int // native price of destination gas
}

// DefaultConfig charges 6 bps and a relayer fee in the order of a real quote
func DefaultConfig() Config {
	return Config{
		FeeBps:     6,
		BaseFee:    big.NewInt(2e15),
		PayloadFee: big.NewInt(1e11),
		GasPrice:   big.NewInt(25e9),
	}
}

// Pool is one stablecoin pool on one chain
type Pool struct {
	ID       uint64
	Token    common.Address
	Decimals uint8
}

// SwapPacket is a swap in flight
type SwapPacket struct {
	GUID       common.Hash
	SrcChainID uint16
	DstChainID uint16
	SrcAddress []byte // source router
	Nonce      uint64
	DstPoolID  uint64
	Token      common.Address
	Amount     *big.Int // destination pool decimals
	To         common.Address
	Payload    []byte
	Airdrop    *big.Int
	AirdropTo  common.Address
}

// CachedSwap is a landed swap whose receiver hook reverted. The tokens are
// already with the receiver; only the hook is pending.
type CachedSwap struct {
	Packet *SwapPacket
	Reason string
}

// Network is an in-process set of routers with a shared relayer queue
type Network struct {
	cfg     Config
	routers map[uint16]*SimRouter
	queue   []*SwapPacket

	log log.Logger

	mu sync.Mutex
}

// NewNetwork creates an empty network
func NewNetwork(cfg Config) *Network {
	return &Network{
		cfg:     cfg,
		routers: make(map[uint16]*SimRouter),
		queue:   make([]*SwapPacket, 0),
		log:     log.NewTestLogger(log.InfoLevel),
	}
}

// SetLogger replaces the relayer logger
func (n *Network) SetLogger(l log.Logger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.log = l
}

func (n *Network) logger() log.Logger {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.log
}

// AddRouter deploys a router at [addr] on the chain of [st]
func (n *Network) AddRouter(st *state.StateDB, addr common.Address) *SimRouter {
	n.mu.Lock()
	defer n.mu.Unlock()
	r := &SimRouter{
		network:   n,
		state:     st,
		address:   addr,
		pools:     make(map[uint64]Pool),
		reserved:  make(map[uint64]*big.Int),
		receivers: make(map[common.Address]Receiver),
		nonces:    make(map[uint16]uint64),
		cached:    make(map[string]*CachedSwap),
	}
	n.routers[st.ChainID()] = r
	return r
}

// Router returns the router of [chainID]
func (n *Network) Router(chainID uint16) (*SimRouter, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.routers[chainID]
	return r, ok
}

// Pending returns the number of swaps in flight
func (n *Network) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

func (n *Network) enqueue(p *SwapPacket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = append(n.queue, p)
}

// Flush lands every queued swap, including swaps queued while flushing,
// and returns how many landed.
func (n *Network) Flush(ctx context.Context) (int, error) {
	landed := 0
	for {
		n.mu.Lock()
		pending := n.queue
		n.queue = make([]*SwapPacket, 0)
		n.mu.Unlock()
		if len(pending) == 0 {
			return landed, nil
		}
		for i, p := range pending {
			if err := ctx.Err(); err != nil {
				n.mu.Lock()
				n.queue = append(pending[i:], n.queue...)
				n.mu.Unlock()
				return landed, err
			}
			dst, ok := n.Router(p.DstChainID)
			if !ok {
				return landed, fmt.Errorf("%w: %d", ErrUnknownChain, p.DstChainID)
			}
			dst.land(ctx, p)
			landed++
		}
	}
}

func (n *Network) quote(payloadLen int, params LzTxParams) *big.Int {
	fee := new(big.Int).Set(n.cfg.BaseFee)
	fee.Add(fee, new(big.Int).Mul(n.cfg.PayloadFee, big.NewInt(int64(payloadLen))))
	if params.DstGasForCall != nil {
		fee.Add(fee, new(big.Int).Mul(n.cfg.GasPrice, params.DstGasForCall))
	}
	if params.DstNativeAmount != nil {
		fee.Add(fee, params.DstNativeAmount)
	}
	return fee
}

// protocolFee is the share of [amount] kept by the source pool
func (n *Network) protocolFee(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(n.cfg.FeeBps))
	return fee.Quo(fee, big.NewInt(10_000))
}

func swapGUID(srcChainID, dstChainID uint16, src common.Address, nonce uint64) common.Hash {
	var buf [2 + 2 + common.AddressLength + 8]byte
	binary.BigEndian.PutUint16(buf[0:2], srcChainID)
	binary.BigEndian.PutUint16(buf[2:4], dstChainID)
	copy(buf[4:24], src.Bytes())
	binary.BigEndian.PutUint64(buf[24:], nonce)
	return common.Hash(blake3.Sum256(buf[:]))
}

// rescale converts [amount] between pool decimals
func rescale(amount *big.Int, from, to uint8) *big.Int {
	out := new(big.Int).Set(amount)
	switch {
	case from > to:
		return out.Quo(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(from-to)), nil))
	case to > from:
		return out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(to-from)), nil))
	default:
		return out
	}
}

func u256(v *big.Int) *uint256.Int {
	u, _ := uint256.FromBig(v)
	return u
}
