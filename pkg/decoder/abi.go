package decoder

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var bigIntType = reflect.TypeOf(&big.Int{})

// DecodeParameters ABI-decodes hex parameter bytes against a signature.
// Malformed input yields nil params and an error; it never panics.
func DecodeParameters(signature, paramsHex string) ([]NamedParam, error) {
	sig, err := ParseSignature(signature)
	if err != nil {
		return nil, err
	}
	data, err := decodeHex(paramsHex)
	if err != nil {
		return nil, err
	}
	return sig.Decode(data)
}

// EncodeParameters ABI-encodes params positionally against a signature and
// returns the hex encoding without 0x prefix.
func EncodeParameters(signature string, params []NamedParam) (string, error) {
	sig, err := ParseSignature(signature)
	if err != nil {
		return "", err
	}
	data, err := sig.Encode(params)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(data), nil
}

// Decode unpacks call parameter bytes (everything after the selector)
func (s *Signature) Decode(data []byte) (params []NamedParam, err error) {
	defer func() {
		if r := recover(); r != nil {
			params, err = nil, fmt.Errorf("%w: %v", ErrMalformedData, r)
		}
	}()

	args, indexes := s.arguments(nil)
	params, err = unpack(s, args, indexes, data)
	if err != nil {
		return nil, err
	}
	if err := checkCanonical(args, data); err != nil {
		return nil, err
	}
	return params, nil
}

// checkCanonical rejects data that unpacks but does not re-pack to the same
// bytes: trailing bytes, dirty padding, or non-standard offsets.
func checkCanonical(args abi.Arguments, data []byte) error {
	if len(args) == 0 {
		if len(data) != 0 {
			return fmt.Errorf("%w: %d trailing bytes", ErrMalformedData, len(data))
		}
		return nil
	}
	values, err := args.Unpack(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	packed, err := args.Pack(values...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if !bytes.Equal(packed, data) {
		return fmt.Errorf("%w: non-canonical encoding", ErrMalformedData)
	}
	return nil
}

// Encode packs params positionally into ABI bytes
func (s *Signature) Encode(params []NamedParam) ([]byte, error) {
	if len(params) != len(s.Inputs) {
		return nil, fmt.Errorf("%w: %s takes %d parameters, got %d", ErrMalformedData, s.Canonical, len(s.Inputs), len(params))
	}

	args, _ := s.arguments(nil)
	values := make([]interface{}, len(params))
	for i, p := range params {
		v, err := fromParam(s.types[i], p.Value)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", s.argName(i), err)
		}
		values[i] = v.Interface()
	}

	data, err := args.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	return data, nil
}

func unpack(s *Signature, args abi.Arguments, indexes []int, data []byte) ([]NamedParam, error) {
	if len(args) == 0 {
		return []NamedParam{}, nil
	}

	values, err := args.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if len(values) != len(args) {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrMalformedData, len(args), len(values))
	}

	params := make([]NamedParam, len(values))
	for i, v := range values {
		p, err := toParam(args[i].Type, reflect.ValueOf(v))
		if err != nil {
			return nil, err
		}
		params[i] = NamedParam{Name: s.argName(indexes[i]), Value: p}
	}
	return params, nil
}

// toParam converts a value produced by abi unpacking into a Param
func toParam(t abi.Type, v reflect.Value) (Param, error) {
	p := Param{Type: t.String()}

	switch t.T {
	case abi.AddressTy:
		addr, ok := v.Interface().(common.Address)
		if !ok {
			return Param{}, fmt.Errorf("%w: address value of type %s", ErrMalformedData, v.Type())
		}
		p.Kind = KindAddress
		p.Address = addr

	case abi.UintTy, abi.IntTy:
		n, err := toBigInt(v)
		if err != nil {
			return Param{}, err
		}
		p.Kind = KindUint
		if t.T == abi.IntTy {
			p.Kind = KindInt
		}
		p.Int = n

	case abi.BoolTy:
		p.Kind = KindBool
		p.Bool = v.Bool()

	case abi.StringTy:
		p.Kind = KindString
		p.Str = v.String()

	case abi.BytesTy:
		p.Kind = KindBytes
		p.Bytes = common.CopyBytes(v.Bytes())

	case abi.FixedBytesTy:
		p.Kind = KindBytes
		p.Bytes = make([]byte, v.Len())
		for i := range p.Bytes {
			p.Bytes[i] = byte(v.Index(i).Uint())
		}

	case abi.SliceTy, abi.ArrayTy:
		p.Kind = KindArray
		p.Array = make([]Param, v.Len())
		for i := range p.Array {
			item, err := toParam(*t.Elem, v.Index(i))
			if err != nil {
				return Param{}, err
			}
			p.Array[i] = item
		}

	default:
		return Param{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t.String())
	}

	return p, nil
}

func toBigInt(v reflect.Value) (*big.Int, error) {
	switch v.Kind() {
	case reflect.Ptr:
		n, ok := v.Interface().(*big.Int)
		if !ok || n == nil {
			return nil, fmt.Errorf("%w: integer value of type %s", ErrMalformedData, v.Type())
		}
		return new(big.Int).Set(n), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Int).SetUint64(v.Uint()), nil
	default:
		return nil, fmt.Errorf("%w: integer value of type %s", ErrMalformedData, v.Type())
	}
}

// fromParam builds the Go value abi packing expects for t
func fromParam(t abi.Type, p Param) (reflect.Value, error) {
	rt := t.GetType()

	switch t.T {
	case abi.AddressTy:
		if err := expectKind(p, KindAddress); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(p.Address), nil

	case abi.UintTy, abi.IntTy:
		want := KindUint
		if t.T == abi.IntTy {
			want = KindInt
		}
		if err := expectKind(p, want); err != nil {
			return reflect.Value{}, err
		}
		if p.Int == nil {
			return reflect.Value{}, fmt.Errorf("%w: missing integer value", ErrMalformedData)
		}
		if rt == bigIntType {
			return reflect.ValueOf(new(big.Int).Set(p.Int)), nil
		}
		rv := reflect.New(rt).Elem()
		if t.T == abi.UintTy {
			if p.Int.Sign() < 0 || !p.Int.IsUint64() {
				return reflect.Value{}, fmt.Errorf("%w: %s out of range for %s", ErrMalformedData, p.Int, t)
			}
			rv.SetUint(p.Int.Uint64())
		} else {
			if !p.Int.IsInt64() {
				return reflect.Value{}, fmt.Errorf("%w: %s out of range for %s", ErrMalformedData, p.Int, t)
			}
			rv.SetInt(p.Int.Int64())
		}
		return rv, nil

	case abi.BoolTy:
		if err := expectKind(p, KindBool); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(p.Bool), nil

	case abi.StringTy:
		if err := expectKind(p, KindString); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(p.Str), nil

	case abi.BytesTy:
		if err := expectKind(p, KindBytes); err != nil {
			return reflect.Value{}, err
		}
		b := p.Bytes
		if b == nil {
			b = []byte{}
		}
		return reflect.ValueOf(b), nil

	case abi.FixedBytesTy:
		if err := expectKind(p, KindBytes); err != nil {
			return reflect.Value{}, err
		}
		if len(p.Bytes) != t.Size {
			return reflect.Value{}, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrMalformedData, t, t.Size, len(p.Bytes))
		}
		rv := reflect.New(rt).Elem()
		for i, b := range p.Bytes {
			rv.Index(i).SetUint(uint64(b))
		}
		return rv, nil

	case abi.SliceTy, abi.ArrayTy:
		if err := expectKind(p, KindArray); err != nil {
			return reflect.Value{}, err
		}
		var rv reflect.Value
		if t.T == abi.SliceTy {
			rv = reflect.MakeSlice(rt, len(p.Array), len(p.Array))
		} else {
			if len(p.Array) != t.Size {
				return reflect.Value{}, fmt.Errorf("%w: %s needs %d items, got %d", ErrMalformedData, t, t.Size, len(p.Array))
			}
			rv = reflect.New(rt).Elem()
		}
		for i, item := range p.Array {
			ev, err := fromParam(*t.Elem, item)
			if err != nil {
				return reflect.Value{}, err
			}
			rv.Index(i).Set(ev)
		}
		return rv, nil

	default:
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t.String())
	}
}

func expectKind(p Param, want Kind) error {
	if p.Kind != want {
		return fmt.Errorf("%w: expected %s value, got %s", ErrMalformedData, want, p.Kind)
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	return b, nil
}
