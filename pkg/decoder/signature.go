package decoder

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Input is one parameter of a parsed signature
type Input struct {
	Type    string
	Name    string
	Indexed bool
}

// Signature is a parsed function or event signature such as
// "transfer(address to,uint256 amount)"
type Signature struct {
	Name   string
	Inputs []Input

	// Canonical is the hashed form, e.g. "transfer(address,uint256)"
	Canonical string

	types []abi.Type
}

// ParseSignature parses name(type [indexed] [name],...).
// Tuple parameters are not supported.
func ParseSignature(sig string) (*Signature, error) {
	sig = strings.TrimSpace(sig)
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSignature, sig)
	}

	name := strings.TrimSpace(sig[:open])
	if !isIdentifier(name) {
		return nil, fmt.Errorf("%w: bad name %q", ErrInvalidSignature, name)
	}

	inner := sig[open+1 : len(sig)-1]
	if strings.ContainsAny(inner, "()") {
		return nil, fmt.Errorf("%w: tuple parameters in %q", ErrUnsupportedType, sig)
	}

	parsed := &Signature{Name: name}
	if strings.TrimSpace(inner) != "" {
		for i, part := range strings.Split(inner, ",") {
			input, typ, err := parseInput(part)
			if err != nil {
				return nil, fmt.Errorf("%w: parameter %d of %q: %v", ErrInvalidSignature, i, sig, err)
			}
			parsed.Inputs = append(parsed.Inputs, input)
			parsed.types = append(parsed.types, typ)
		}
	}

	canonical := make([]string, len(parsed.Inputs))
	for i, in := range parsed.Inputs {
		canonical[i] = in.Type
	}
	parsed.Canonical = name + "(" + strings.Join(canonical, ",") + ")"

	return parsed, nil
}

func parseInput(part string) (Input, abi.Type, error) {
	fields := strings.Fields(part)
	if len(fields) == 0 {
		return Input{}, abi.Type{}, fmt.Errorf("empty parameter")
	}

	typ, err := abi.NewType(fields[0], "", nil)
	if err != nil {
		return Input{}, abi.Type{}, err
	}

	input := Input{Type: typ.String()}
	for _, f := range fields[1:] {
		switch f {
		case "indexed":
			input.Indexed = true
		case "memory", "calldata", "storage", "payable":
		default:
			if input.Name != "" {
				return Input{}, abi.Type{}, fmt.Errorf("unexpected token %q", f)
			}
			if !isIdentifier(f) {
				return Input{}, abi.Type{}, fmt.Errorf("bad parameter name %q", f)
			}
			input.Name = f
		}
	}
	return input, typ, nil
}

// Selector returns the lowercase 0x-prefixed 4-byte function selector
func (s *Signature) Selector() string {
	return SelectorOf(s.Canonical)
}

// Topic returns the event topic hash of the signature
func (s *Signature) Topic() common.Hash {
	return crypto.Keccak256Hash([]byte(s.Canonical))
}

// IndexedCount returns the number of indexed inputs
func (s *Signature) IndexedCount() int {
	n := 0
	for _, in := range s.Inputs {
		if in.Indexed {
			n++
		}
	}
	return n
}

// WithNames returns a copy of s with its inputs renamed. Extra or missing
// names leave the corresponding inputs untouched.
func (s *Signature) WithNames(names []string) *Signature {
	out := *s
	out.Inputs = append([]Input(nil), s.Inputs...)
	for i := range out.Inputs {
		if i < len(names) && names[i] != "" {
			out.Inputs[i].Name = names[i]
		}
	}
	return &out
}

// argName is the name used for the i-th input in decoded output
func (s *Signature) argName(i int) string {
	if s.Inputs[i].Name != "" {
		return s.Inputs[i].Name
	}
	return fmt.Sprintf("arg%d", i)
}

func (s *Signature) arguments(filter func(Input) bool) (abi.Arguments, []int) {
	var (
		args    abi.Arguments
		indexes []int
	)
	for i, in := range s.Inputs {
		if filter != nil && !filter(in) {
			continue
		}
		args = append(args, abi.Argument{Name: s.argName(i), Type: s.types[i]})
		indexes = append(indexes, i)
	}
	return args, indexes
}

// SelectorOf hashes a canonical signature text into its 4-byte selector
func SelectorOf(canonical string) string {
	sum := crypto.Keccak256([]byte(canonical))
	return "0x" + hex.EncodeToString(sum[:SelectorBytes])
}

// SignatureName returns the function name of a signature text
func SignatureName(sig string) string {
	if i := strings.IndexByte(sig, '('); i >= 0 {
		return strings.TrimSpace(sig[:i])
	}
	return strings.TrimSpace(sig)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_' || c == '$':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
