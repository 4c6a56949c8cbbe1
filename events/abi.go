// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package events

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrNoTopics     = errors.New("log has no topics")
)

// EventABI holds event definitions and encodes logs for them
type EventABI struct {
	abi.ABI
}

// MustParse parses [rawABI], panicking on malformed JSON
func MustParse(rawABI string) EventABI {
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	if err != nil {
		panic(fmt.Sprintf("bridge event ABI: %v", err))
	}
	return EventABI{ABI: parsed}
}

// PackEvent encodes [args] of event [name] in declaration order. Indexed
// values become topics after the event id; the rest are ABI packed as data.
func (b EventABI) PackEvent(name string, args ...interface{}) ([]common.Hash, []byte, error) {
	event, ok := b.Events[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: '%s'", ErrUnknownEvent, name)
	}
	if got, want := len(args), len(event.Inputs); got != want {
		return nil, nil, fmt.Errorf("event '%s': %d args, want %d", name, got, want)
	}

	topics := []common.Hash{event.ID}
	var data []interface{}
	for i, in := range event.Inputs {
		if !in.Indexed {
			data = append(data, args[i])
			continue
		}
		topic, err := packTopic(args[i])
		if err != nil {
			return nil, nil, fmt.Errorf("event '%s' arg %s: %w", name, in.Name, err)
		}
		topics = append(topics, topic)
	}
	packed, err := event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, nil, fmt.Errorf("event '%s': %w", name, err)
	}
	return topics, packed, nil
}

// UnpackLog decodes a log emitted by PackEvent back into the event name and
// a map of every argument, indexed ones included.
func (b EventABI) UnpackLog(l *types.Log) (string, map[string]interface{}, error) {
	if len(l.Topics) == 0 {
		return "", nil, ErrNoTopics
	}
	event, err := b.EventByID(l.Topics[0])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownEvent, l.Topics[0].Hex())
	}

	out := make(map[string]interface{}, len(event.Inputs))
	if len(event.Inputs.NonIndexed()) > 0 {
		if err := event.Inputs.UnpackIntoMap(out, l.Data); err != nil {
			return "", nil, fmt.Errorf("event '%s': %w", event.Name, err)
		}
	}

	var indexed abi.Arguments
	for _, in := range event.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if err := abi.ParseTopicsIntoMap(out, indexed, l.Topics[1:]); err != nil {
		return "", nil, fmt.Errorf("event '%s': %w", event.Name, err)
	}
	return event.Name, out, nil
}

// packTopic encodes one indexed value. Dynamic values are hashed.
func packTopic(value interface{}) (common.Hash, error) {
	switch v := value.(type) {
	case common.Address:
		return common.BytesToHash(v.Bytes()), nil
	case common.Hash:
		return v, nil
	case []byte:
		return common.BytesToHash(crypto.Keccak256(v)), nil
	case string:
		return common.BytesToHash(crypto.Keccak256([]byte(v))), nil
	case *big.Int:
		if v.Sign() < 0 {
			return common.Hash{}, fmt.Errorf("cannot index negative %s", v)
		}
		return common.BigToHash(v), nil
	case uint16:
		return common.BigToHash(new(big.Int).SetUint64(uint64(v))), nil
	case uint64:
		return common.BigToHash(new(big.Int).SetUint64(v)), nil
	case bool:
		if v {
			return common.BigToHash(big.NewInt(1)), nil
		}
		return common.Hash{}, nil
	default:
		return common.Hash{}, fmt.Errorf("cannot index %T", value)
	}
}
