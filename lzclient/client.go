// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package lzclient binds a bridge contract to a messaging-layer endpoint:
// trusted remote paths, endpoint authentication, outbound sends and the
// non-blocking inbound path with retry and rescue.
package lzclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/marginbridge/channel"
	"github.com/luxfi/marginbridge/events"
	"github.com/luxfi/marginbridge/failedmsg"
	"github.com/luxfi/marginbridge/governance"
	"github.com/luxfi/marginbridge/layerzero"
	"github.com/luxfi/marginbridge/metrics"
	"github.com/luxfi/marginbridge/state"
)

var (
	ErrUntrustedRemote = errors.New("LzApp: invalid source sending contract")
	ErrNoTrustedPath   = errors.New("LzApp: destination chain is not a trusted source")
	ErrInvalidPath     = errors.New("LzApp: invalid trusted remote path")
)

// Config of one client
type Config struct {
	Name    string         // label for logs and metrics
	Address common.Address // address the endpoint sees as the application
	Owner   common.Address // contract allowed to send through the client
}

// Client is the messaging-layer application of one bridge contract
type Client struct {
	cfg      Config
	state    *state.StateDB
	endpoint layerzero.Endpoint
	gov      *governance.Governable
	adapter  *channel.Adapter

	trusted map[uint16][]byte

	log log.Logger

	mu sync.RWMutex
}

var _ layerzero.UserApplication = (*Client)(nil)

// New creates a client whose inbound messages are applied by [p]
func New(cfg Config, st *state.StateDB, endpoint layerzero.Endpoint, gov *governance.Governable, store *failedmsg.Store, p channel.Processor) *Client {
	return &Client{
		cfg:      cfg,
		state:    st,
		endpoint: endpoint,
		gov:      gov,
		adapter: channel.New(channel.Config{
			Name:         cfg.Name,
			Contract:     cfg.Address,
			FailureEvent: events.MessageFailed,
		}, st, store, p),
		trusted: make(map[uint16][]byte),
		log:     log.NewTestLogger(log.InfoLevel),
	}
}

func (c *Client) Address() common.Address {
	return c.cfg.Address
}

func (c *Client) Endpoint() layerzero.Endpoint {
	return c.endpoint
}

// SetLogger replaces the logger of the client and its adapter
func (c *Client) SetLogger(l log.Logger) {
	c.mu.Lock()
	c.log = l
	c.mu.Unlock()
	c.adapter.SetLogger(l)
}

// SetMetrics attaches metrics to the inbound path
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.adapter.SetMetrics(m)
}

// SetRescuePolicy replaces the rescue policy of failed inbound messages
func (c *Client) SetRescuePolicy(caller common.Address, p channel.RescuePolicy) error {
	if err := c.gov.OnlyGovernance(caller); err != nil {
		return err
	}
	c.adapter.SetPolicy(p)
	return nil
}

// SetTrustedRemote trusts [path] (remote application | local application)
// as the only source on [remoteChainID].
func (c *Client) SetTrustedRemote(caller common.Address, remoteChainID uint16, path []byte) error {
	if err := c.gov.OnlyGovernance(caller); err != nil {
		return err
	}
	if len(path) < common.AddressLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidPath, len(path))
	}
	snap := c.state.Snapshot()
	if err := events.Emit(c.state, c.cfg.Address, events.SetTrustedRemote, remoteChainID, path); err != nil {
		c.state.RevertToSnapshot(snap)
		return err
	}
	c.mu.Lock()
	c.trusted[remoteChainID] = common.CopyBytes(path)
	c.mu.Unlock()
	return nil
}

// TrustedRemote returns the trusted path for [remoteChainID]
func (c *Client) TrustedRemote(remoteChainID uint16) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return common.CopyBytes(c.trusted[remoteChainID])
}

// IsTrustedRemote reports whether [srcAddress] is the trusted path of [srcChainID]
func (c *Client) IsTrustedRemote(srcChainID uint16, srcAddress []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	trusted := c.trusted[srcChainID]
	return len(trusted) > 0 && bytes.Equal(trusted, srcAddress)
}

// LzReceive is called by the endpoint for every inbound packet. Only
// authentication failures are returned; processing failures are stored.
func (c *Client) LzReceive(ctx context.Context, caller common.Address, srcChainID uint16, srcAddress []byte, nonce uint64, payload []byte) error {
	if caller != c.endpoint.Address() {
		c.logger().Debug("rejected delivery from non-endpoint", "client", c.cfg.Name, "caller", caller)
		return fmt.Errorf("%w: caller %s is not the endpoint", governance.ErrUnauthorized, caller.Hex())
	}
	if !c.IsTrustedRemote(srcChainID, srcAddress) {
		c.logger().Debug("rejected delivery from untrusted source", "client", c.cfg.Name, "srcChainID", srcChainID, "srcAddress", common.Bytes2Hex(srcAddress))
		return fmt.Errorf("%w: chain %d source 0x%x", ErrUntrustedRemote, srcChainID, srcAddress)
	}
	k := failedmsg.Key{SrcChainID: srcChainID, SrcAddress: common.CopyBytes(srcAddress), Nonce: nonce}
	return c.adapter.Receive(ctx, k, payload)
}

// Send forwards [payload] to the trusted application on [dstChainID].
// [value] native is moved from [caller] to pay the endpoint; the excess goes
// to [refund]. Only the owning contract may send.
func (c *Client) Send(ctx context.Context, caller common.Address, value *big.Int, dstChainID uint16, payload []byte, refund, zroPaymentAddress common.Address, adapterParams []byte) (uint64, error) {
	if caller != c.cfg.Owner {
		return 0, fmt.Errorf("%w: only %s may send", governance.ErrUnauthorized, c.cfg.Owner.Hex())
	}
	path := c.TrustedRemote(dstChainID)
	if len(path) == 0 {
		return 0, fmt.Errorf("%w: %d", ErrNoTrustedPath, dstChainID)
	}

	snap := c.state.Snapshot()
	if caller != c.cfg.Address && value != nil && value.Sign() > 0 {
		amount, err := state.U256(value)
		if err != nil {
			return 0, err
		}
		if err := c.state.Transfer(caller, c.cfg.Address, amount); err != nil {
			return 0, fmt.Errorf("%w: %w", layerzero.ErrInsufficientFee, err)
		}
	}
	nonce, err := c.endpoint.Send(ctx, c.cfg.Address, value, dstChainID, path, payload, refund, zroPaymentAddress, adapterParams)
	if err != nil {
		c.state.RevertToSnapshot(snap)
		return 0, err
	}
	c.logger().Debug("packet sent", "client", c.cfg.Name, "dstChainID", dstChainID, "nonce", nonce, "bytes", len(payload))
	return nonce, nil
}

// NextNonce is the nonce the next Send to [dstChainID] will be assigned
func (c *Client) NextNonce(dstChainID uint16) uint64 {
	return c.endpoint.OutboundNonce(dstChainID, c.cfg.Address) + 1
}

// EstimateFees quotes the endpoint fee for sending [payload] to [dstChainID]
func (c *Client) EstimateFees(dstChainID uint16, payload []byte, useZro bool, adapterParams []byte) (*big.Int, *big.Int, error) {
	return c.endpoint.EstimateFees(dstChainID, c.cfg.Address, payload, useZro, adapterParams)
}

// RetryMessage re-runs a failed inbound message. Anyone may retry.
func (c *Client) RetryMessage(ctx context.Context, srcChainID uint16, srcAddress []byte, nonce uint64, payload []byte) error {
	return c.adapter.Retry(ctx, failedmsg.Key{SrcChainID: srcChainID, SrcAddress: srcAddress, Nonce: nonce}, payload)
}

// Rescue releases the funds of a failed inbound message to its recipient
func (c *Client) Rescue(ctx context.Context, caller common.Address, srcChainID uint16, srcAddress []byte, nonce uint64, payload []byte) (*big.Int, error) {
	return c.adapter.Rescue(ctx, failedmsg.Key{SrcChainID: srcChainID, SrcAddress: srcAddress, Nonce: nonce}, payload, caller)
}

// FailedMessages returns the stored payload hash, zero when none is open
func (c *Client) FailedMessages(srcChainID uint16, srcAddress []byte, nonce uint64) (common.Hash, error) {
	return c.adapter.Store().Get(failedmsg.Key{SrcChainID: srcChainID, SrcAddress: srcAddress, Nonce: nonce})
}

// PendingFailures lists every open failed inbound message
func (c *Client) PendingFailures() ([]failedmsg.Record, error) {
	return c.adapter.Store().Pending()
}

// Withdraw moves native balance held by the client, for sweeping refunds
func (c *Client) Withdraw(caller, to common.Address, amount *uint256.Int) error {
	if err := c.gov.OnlyGovernance(caller); err != nil {
		return err
	}
	return c.state.Transfer(c.cfg.Address, to, amount)
}

func (c *Client) logger() log.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log
}
