// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package events declares the events emitted by the bridge contracts and
// writes them into chain state as logs.
package events

import (
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/marginbridge/state"
)

// Event names
const (
	StargateDepositProcessed = "StargateDepositProcessed"
	SendToChain              = "SendToChain"
	DepositSecondHopFailure  = "DepositSecondHopFailure"
	ReceiveFromHubbleNet     = "ReceiveFromHubbleNet"
	MessageFailed            = "MessageFailed"
	RetryMessageSuccess      = "RetryMessageSuccess"
	FundsRescued             = "FundsRescued"
	ReceiveFromChain         = "ReceiveFromChain"
	WithdrawToChain          = "WithdrawToChain"
	SetTrustedRemote         = "SetTrustedRemote"
	WhitelistRelayerSet      = "WhitelistRelayerSet"
	FeesSwept                = "FeesSwept"
	SupportedTokenAdded      = "SupportedTokenAdded"
)

const rawBridgeABI = `[
	{"type":"event","name":"StargateDepositProcessed","inputs":[
		{"name":"srcChainId","type":"uint16","indexed":true},
		{"name":"nonce","type":"uint256","indexed":true},
		{"name":"tokenIdx","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"payload","type":"bytes","indexed":false}]},
	{"type":"event","name":"SendToChain","inputs":[
		{"name":"dstChainId","type":"uint16","indexed":true},
		{"name":"nonce","type":"uint64","indexed":true},
		{"name":"payload","type":"bytes","indexed":false}]},
	{"type":"event","name":"DepositSecondHopFailure","inputs":[
		{"name":"srcChainId","type":"uint16","indexed":true},
		{"name":"srcAddress","type":"bytes","indexed":false},
		{"name":"nonce","type":"uint64","indexed":true},
		{"name":"payload","type":"bytes","indexed":false},
		{"name":"reason","type":"bytes","indexed":false}]},
	{"type":"event","name":"ReceiveFromHubbleNet","inputs":[
		{"name":"srcChainId","type":"uint16","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"nonce","type":"uint64","indexed":false}]},
	{"type":"event","name":"MessageFailed","inputs":[
		{"name":"srcChainId","type":"uint16","indexed":false},
		{"name":"srcAddress","type":"bytes","indexed":false},
		{"name":"nonce","type":"uint64","indexed":false},
		{"name":"payload","type":"bytes","indexed":false},
		{"name":"reason","type":"bytes","indexed":false}]},
	{"type":"event","name":"RetryMessageSuccess","inputs":[
		{"name":"srcChainId","type":"uint16","indexed":false},
		{"name":"srcAddress","type":"bytes","indexed":false},
		{"name":"nonce","type":"uint64","indexed":false},
		{"name":"payloadHash","type":"bytes32","indexed":false}]},
	{"type":"event","name":"FundsRescued","inputs":[
		{"name":"srcChainId","type":"uint16","indexed":false},
		{"name":"srcAddress","type":"bytes","indexed":false},
		{"name":"nonce","type":"uint64","indexed":false},
		{"name":"to","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"ReceiveFromChain","inputs":[
		{"name":"srcChainId","type":"uint16","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"tokenIdx","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"metadata","type":"bytes","indexed":false},
		{"name":"nonce","type":"uint64","indexed":false}]},
	{"type":"event","name":"WithdrawToChain","inputs":[
		{"name":"dstChainId","type":"uint16","indexed":true},
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":false},
		{"name":"tokenIdx","type":"uint256","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"nonce","type":"uint64","indexed":false}]},
	{"type":"event","name":"SetTrustedRemote","inputs":[
		{"name":"remoteChainId","type":"uint16","indexed":false},
		{"name":"path","type":"bytes","indexed":false}]},
	{"type":"event","name":"WhitelistRelayerSet","inputs":[
		{"name":"relayer","type":"address","indexed":true},
		{"name":"isWhitelisted","type":"bool","indexed":false}]},
	{"type":"event","name":"FeesSwept","inputs":[
		{"name":"tokenIdx","type":"uint256","indexed":true},
		{"name":"to","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"SupportedTokenAdded","inputs":[
		{"name":"tokenIdx","type":"uint256","indexed":true},
		{"name":"token","type":"address","indexed":false},
		{"name":"decimals","type":"uint8","indexed":false}]}
]`

// BridgeABI is the event ABI shared by the remote, home and messaging client contracts
var BridgeABI = MustParse(rawBridgeABI)

// Prepare packs [name] with [args] into a log attributed to [contract]
// without emitting it. Appending the result with AddLog cannot fail.
func Prepare(contract common.Address, name string, args ...interface{}) (*types.Log, error) {
	topics, data, err := BridgeABI.PackEvent(name, args...)
	if err != nil {
		return nil, err
	}
	return &types.Log{
		Address: contract,
		Topics:  topics,
		Data:    data,
	}, nil
}

// Emit packs [name] with [args] and appends the resulting log, attributed to
// [contract], to the chain state.
func Emit(st *state.StateDB, contract common.Address, name string, args ...interface{}) error {
	l, err := Prepare(contract, name, args...)
	if err != nil {
		return err
	}
	st.AddLog(l)
	return nil
}

// Decoded is a log decoded against BridgeABI
type Decoded struct {
	Name    string
	Address common.Address
	Args    map[string]interface{}
}

// Filter decodes every log in [st] emitted by [contract] under event [name].
// An empty name matches every event.
func Filter(st *state.StateDB, contract common.Address, name string) []Decoded {
	var out []Decoded
	for _, l := range st.Logs() {
		if l.Address != contract {
			continue
		}
		eventName, args, err := BridgeABI.UnpackLog(l)
		if err != nil {
			continue
		}
		if name != "" && eventName != name {
			continue
		}
		out = append(out, Decoded{Name: eventName, Address: l.Address, Args: args})
	}
	return out
}
