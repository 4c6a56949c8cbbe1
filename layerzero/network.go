// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package layerzero

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/zeebo/blake3"

	"github.com/luxfi/marginbridge/payload"
	"github.com/luxfi/marginbridge/state"
)

// FeeConfig prices a message: base + per payload byte + destination gas at
// GasPrice, plus any native airdrop requested in the adapter params.
type FeeConfig struct {
	BaseFee    *big.Int
	PerByteFee *big.Int
	GasPrice   *big.Int
}

// DefaultFeeConfig is a fee schedule in the order of a real relayer quote
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		BaseFee:    big.NewInt(1e15),
		PerByteFee: big.NewInt(1e11),
		GasPrice:   big.NewInt(25e9),
	}
}

// Packet is a message in flight
type Packet struct {
	GUID          common.Hash
	SrcChainID    uint16
	DstChainID    uint16
	SrcAddress    []byte // path as seen by the receiver: source UA | destination UA
	DstAddress    common.Address
	Nonce         uint64
	Payload       []byte
	DstGas        *big.Int
	Airdrop       *big.Int
	AirdropTarget common.Address
}

// StoredPayload is a packet whose delivery reverted and now blocks its path
type StoredPayload struct {
	Packet *Packet
	Hash   common.Hash
	Reason string
}

// Network is an in-process set of endpoints with a shared relayer queue
type Network struct {
	endpoints map[uint16]*SimEndpoint
	queue     []*Packet
	fees      FeeConfig

	log log.Logger

	mu sync.Mutex
}

// NewNetwork creates an empty network with [fees]
func NewNetwork(fees FeeConfig) *Network {
	return &Network{
		endpoints: make(map[uint16]*SimEndpoint),
		queue:     make([]*Packet, 0),
		fees:      fees,
		log:       log.NewTestLogger(log.InfoLevel),
	}
}

// SetLogger replaces the relayer logger
func (n *Network) SetLogger(l log.Logger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.log = l
}

// AddEndpoint deploys an endpoint at [addr] on the chain of [st]
func (n *Network) AddEndpoint(st *state.StateDB, addr common.Address) *SimEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep := &SimEndpoint{
		network:  n,
		state:    st,
		address:  addr,
		apps:     make(map[common.Address]UserApplication),
		outbound: make(map[uint16]map[common.Address]uint64),
		inbound:  make(map[uint16]map[string]uint64),
		stored:   make(map[uint16]map[string]*StoredPayload),
	}
	n.endpoints[st.ChainID()] = ep
	return ep
}

// Endpoint returns the endpoint of [chainID]
func (n *Network) Endpoint(chainID uint16) (*SimEndpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.endpoints[chainID]
	return ep, ok
}

// Pending returns the number of packets waiting for delivery
func (n *Network) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

func (n *Network) logger() log.Logger {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.log
}

func (n *Network) enqueue(p *Packet) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = append(n.queue, p)
}

// Flush delivers queued packets in order until the queue is empty or only
// packets on blocked paths remain. Packets queued by receivers during the
// flush are delivered too. It returns the number of packets handed to a
// receiver.
func (n *Network) Flush(ctx context.Context) (int, error) {
	delivered := 0
	for {
		progressed := false
		n.mu.Lock()
		pending := n.queue
		n.queue = make([]*Packet, 0)
		n.mu.Unlock()

		var held []*Packet
		for i, p := range pending {
			if err := ctx.Err(); err != nil {
				n.requeue(append(held, pending[i:]...))
				return delivered, err
			}
			dst, ok := n.Endpoint(p.DstChainID)
			if !ok {
				n.requeue(append(held, pending[i+1:]...))
				return delivered, fmt.Errorf("%w: %d", ErrUnknownChain, p.DstChainID)
			}
			if dst.blocked(p.SrcChainID, p.SrcAddress) {
				held = append(held, p)
				continue
			}
			dst.deliver(ctx, p)
			delivered++
			progressed = true
		}
		n.requeue(held)

		if !progressed || n.Pending() == len(held) {
			return delivered, nil
		}
	}
}

// requeue puts held packets back ahead of anything queued meanwhile
func (n *Network) requeue(held []*Packet) {
	if len(held) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = append(held, n.queue...)
}

func (n *Network) quote(payloadLen int, adapterParams []byte) (*big.Int, *payload.AdapterParams, error) {
	params, err := payload.ParseAdapterParams(adapterParams)
	if err != nil {
		return nil, nil, err
	}
	fee := new(big.Int).Set(n.fees.BaseFee)
	fee.Add(fee, new(big.Int).Mul(n.fees.PerByteFee, big.NewInt(int64(payloadLen))))
	fee.Add(fee, new(big.Int).Mul(n.fees.GasPrice, params.DstGas))
	fee.Add(fee, params.NativeForDst)
	return fee, params, nil
}

func packetGUID(srcChainID uint16, src common.Address, dstChainID uint16, dst common.Address, nonce uint64) common.Hash {
	var buf [2 + common.AddressLength + 2 + common.AddressLength + 8]byte
	binary.BigEndian.PutUint16(buf[0:2], srcChainID)
	copy(buf[2:22], src.Bytes())
	binary.BigEndian.PutUint16(buf[22:24], dstChainID)
	copy(buf[24:44], dst.Bytes())
	binary.BigEndian.PutUint64(buf[44:], nonce)
	return common.Hash(blake3.Sum256(buf[:]))
}
