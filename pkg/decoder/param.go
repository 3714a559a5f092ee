package decoder

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind is the discriminator of a decoded parameter
type Kind string

const (
	KindAddress Kind = "address"
	KindUint    Kind = "uint"
	KindInt     Kind = "int"
	KindBool    Kind = "bool"
	KindString  Kind = "string"
	KindBytes   Kind = "bytes"
	KindArray   Kind = "array"
)

// Param is a decoded ABI value. Exactly one payload field matching Kind is set.
type Param struct {
	Kind Kind
	// Type is the ABI type the value was decoded as (e.g. "uint256", "address[]")
	Type string

	Address common.Address
	Int     *big.Int
	Bool    bool
	Str     string
	Bytes   []byte
	Array   []Param
}

// NamedParam is a decoded parameter together with its argument name
type NamedParam struct {
	Name  string `json:"name"`
	Value Param  `json:"value"`
}

// Visitor handles each kind of Param. Accept calls exactly one method.
type Visitor interface {
	VisitAddress(typ string, v common.Address) error
	VisitUint(typ string, v *big.Int) error
	VisitInt(typ string, v *big.Int) error
	VisitBool(typ string, v bool) error
	VisitString(typ string, v string) error
	VisitBytes(typ string, v []byte) error
	VisitArray(typ string, v []Param) error
}

// Accept dispatches p to the visitor method of its kind
func (p Param) Accept(v Visitor) error {
	switch p.Kind {
	case KindAddress:
		return v.VisitAddress(p.Type, p.Address)
	case KindUint:
		return v.VisitUint(p.Type, p.Int)
	case KindInt:
		return v.VisitInt(p.Type, p.Int)
	case KindBool:
		return v.VisitBool(p.Type, p.Bool)
	case KindString:
		return v.VisitString(p.Type, p.Str)
	case KindBytes:
		return v.VisitBytes(p.Type, p.Bytes)
	case KindArray:
		return v.VisitArray(p.Type, p.Array)
	default:
		return fmt.Errorf("unknown param kind %q", p.Kind)
	}
}

// Interface returns the payload as a plain Go value: addresses and byte
// strings as 0x hex, integers as decimal strings, arrays recursively.
func (p Param) Interface() interface{} {
	switch p.Kind {
	case KindAddress:
		return p.Address.Hex()
	case KindUint, KindInt:
		if p.Int == nil {
			return "0"
		}
		return p.Int.String()
	case KindBool:
		return p.Bool
	case KindString:
		return p.Str
	case KindBytes:
		return "0x" + hex.EncodeToString(p.Bytes)
	case KindArray:
		out := make([]interface{}, len(p.Array))
		for i, item := range p.Array {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// String renders the payload for logs
func (p Param) String() string {
	if p.Kind == KindArray {
		parts := make([]string, len(p.Array))
		for i, item := range p.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return fmt.Sprint(p.Interface())
}

type paramJSON struct {
	Kind  Kind        `json:"kind"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// MarshalJSON encodes a param as {"kind","type","value"}
func (p Param) MarshalJSON() ([]byte, error) {
	if p.Kind == KindArray {
		return json.Marshal(struct {
			Kind  Kind    `json:"kind"`
			Type  string  `json:"type"`
			Value []Param `json:"value"`
		}{p.Kind, p.Type, p.Array})
	}
	return json.Marshal(paramJSON{Kind: p.Kind, Type: p.Type, Value: p.Interface()})
}

// UnmarshalJSON decodes the representation produced by MarshalJSON
func (p *Param) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind  Kind            `json:"kind"`
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Param{Kind: raw.Kind, Type: raw.Type}
	switch raw.Kind {
	case KindArray:
		if err := json.Unmarshal(raw.Value, &out.Array); err != nil {
			return err
		}
	case KindBool:
		if err := json.Unmarshal(raw.Value, &out.Bool); err != nil {
			return err
		}
	default:
		var s string
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			return err
		}
		switch raw.Kind {
		case KindAddress:
			if !common.IsHexAddress(s) {
				return fmt.Errorf("invalid address %q", s)
			}
			out.Address = common.HexToAddress(s)
		case KindUint, KindInt:
			n, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return fmt.Errorf("invalid integer %q", s)
			}
			out.Int = n
		case KindString:
			out.Str = s
		case KindBytes:
			b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
			if err != nil {
				return fmt.Errorf("invalid bytes: %w", err)
			}
			out.Bytes = b
		default:
			return fmt.Errorf("unknown param kind %q", raw.Kind)
		}
	}

	*p = out
	return nil
}

// Find returns the parameter with the given name
func Find(params []NamedParam, name string) (Param, bool) {
	for _, p := range params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return Param{}, false
}
