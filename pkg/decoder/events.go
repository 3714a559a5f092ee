package decoder

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/product-labo/Meta-sub005/pkg/chain"
)

// DecodedEvent is one log of a transaction. Name is empty for unknown events.
type DecodedEvent struct {
	Address    string       `json:"address"`
	LogIndex   uint64       `json:"logIndex"`
	Topic      string       `json:"topic"`
	Name       string       `json:"name,omitempty"`
	Signature  string       `json:"signature,omitempty"`
	Indexed    []NamedParam `json:"indexed,omitempty"`
	NonIndexed []NamedParam `json:"nonIndexed,omitempty"`
}

// Known reports whether the event matched a signature
func (e DecodedEvent) Known() bool {
	return e.Name != ""
}

// DecodeEvent decodes a log against an event signature such as
// "Transfer(address indexed from,address indexed to,uint256 value)"
func DecodeEvent(eventSignature string, topics []common.Hash, data []byte) (*DecodedEvent, error) {
	sig, err := ParseSignature(eventSignature)
	if err != nil {
		return nil, err
	}
	return sig.DecodeEvent(topics, data)
}

// DecodeEvent decodes indexed arguments from topics and the rest from data.
// topics[0] must be the signature's topic hash.
func (s *Signature) DecodeEvent(topics []common.Hash, data []byte) (ev *DecodedEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			ev, err = nil, fmt.Errorf("%w: %v", ErrMalformedData, r)
		}
	}()

	if len(topics) == 0 || topics[0] != s.Topic() {
		return nil, fmt.Errorf("%w: %s", ErrTopicMismatch, s.Canonical)
	}
	if len(topics)-1 != s.IndexedCount() {
		return nil, fmt.Errorf("%w: %s has %d indexed inputs, log has %d topics",
			ErrTopicMismatch, s.Canonical, s.IndexedCount(), len(topics)-1)
	}

	ev = &DecodedEvent{
		Topic:     topics[0].Hex(),
		Name:      s.Name,
		Signature: s.Canonical,
	}

	next := 1
	for i, in := range s.Inputs {
		if !in.Indexed {
			continue
		}
		p, err := decodeTopic(s.types[i], topics[next])
		if err != nil {
			return nil, err
		}
		next++
		ev.Indexed = append(ev.Indexed, NamedParam{Name: s.argName(i), Value: p})
	}

	args, indexes := s.arguments(func(in Input) bool { return !in.Indexed })
	ev.NonIndexed, err = unpack(s, args, indexes, data)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// decodeTopic decodes a single indexed value. Dynamic types are only present
// as their keccak hash and are returned as bytes32.
func decodeTopic(t abi.Type, topic common.Hash) (Param, error) {
	switch t.T {
	case abi.StringTy, abi.BytesTy, abi.SliceTy, abi.ArrayTy, abi.TupleTy:
		return Param{Kind: KindBytes, Type: "bytes32", Bytes: topic.Bytes()}, nil
	}

	values, err := abi.Arguments{{Type: t}}.Unpack(topic.Bytes())
	if err != nil {
		return Param{}, fmt.Errorf("%w: topic %s: %v", ErrMalformedData, topic.Hex(), err)
	}
	return toParam(t, reflect.ValueOf(values[0]))
}

// DecodeLogs decodes every log independently against the known event set.
// Logs that match nothing are returned with only their raw topic filled in.
func DecodeLogs(logs []chain.RawLog) []DecodedEvent {
	if len(logs) == 0 {
		return nil
	}

	events := make([]DecodedEvent, 0, len(logs))
	for _, log := range logs {
		events = append(events, decodeLog(log))
	}
	return events
}

func decodeLog(log chain.RawLog) DecodedEvent {
	unknown := DecodedEvent{Address: log.Address, LogIndex: log.Index}
	if len(log.Topics) == 0 {
		return unknown
	}
	unknown.Topic = strings.ToLower(log.Topics[0])

	topics := make([]common.Hash, len(log.Topics))
	for i, raw := range log.Topics {
		b, err := decodeHex(raw)
		if err != nil || len(b) != common.HashLength {
			return unknown
		}
		topics[i] = common.BytesToHash(b)
	}
	data, err := decodeHex(log.Data)
	if err != nil {
		return unknown
	}

	for _, sig := range knownEvents.candidates(topics[0], len(topics)-1) {
		ev, err := sig.DecodeEvent(topics, data)
		if err != nil {
			continue
		}
		ev.Address = log.Address
		ev.LogIndex = log.Index
		return *ev
	}
	return unknown
}
