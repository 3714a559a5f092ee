package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// starknetPrime is the Starknet field prime 2^251 + 17*2^192 + 1
var starknetPrime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 251)
	p.Add(p, new(big.Int).Lsh(big.NewInt(17), 192))
	return p.Add(p, big.NewInt(1))
}()

// ValidateAddress checks that address is well formed for the chain type.
// EVM addresses are 0x followed by 40 hex digits. Starknet addresses are 0x
// followed by 1 to 64 hex digits and must be a field element.
func ValidateAddress(chainType Type, address string) error {
	switch chainType {
	case TypeEVM:
		if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
			return fmt.Errorf("%w: evm address must start with 0x", ErrInvalidAddress)
		}
		if !common.IsHexAddress(address) {
			return fmt.Errorf("%w: %q is not a 20 byte hex address", ErrInvalidAddress, address)
		}
		return nil
	case TypeStarknet:
		_, err := parseFelt(address)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChainType, chainType)
	}
}

// NormalizeAddress validates address and returns its canonical form:
// lowercase 0x+40 hex for EVM, lowercase 0x+64 hex for Starknet.
func NormalizeAddress(chainType Type, address string) (string, error) {
	if err := ValidateAddress(chainType, address); err != nil {
		return "", err
	}
	switch chainType {
	case TypeEVM:
		return strings.ToLower(common.HexToAddress(address).Hex()), nil
	default:
		felt, _ := parseFelt(address)
		return PadFelt(felt), nil
	}
}

// PadFelt renders a field element as 0x followed by 64 lowercase hex digits
func PadFelt(v *big.Int) string {
	return fmt.Sprintf("0x%064x", v)
}

func parseFelt(s string) (*big.Int, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("%w: starknet address must start with 0x", ErrInvalidAddress)
	}
	body := s[2:]
	if len(body) == 0 || len(body) > 64 {
		return nil, fmt.Errorf("%w: starknet address must have 1 to 64 hex digits", ErrInvalidAddress)
	}
	v, ok := new(big.Int).SetString(body, 16)
	if !ok || v.Sign() < 0 || body[0] == '+' {
		return nil, fmt.Errorf("%w: %q is not hex", ErrInvalidAddress, s)
	}
	if v.Cmp(starknetPrime) >= 0 {
		return nil, fmt.Errorf("%w: %q exceeds the field prime", ErrInvalidAddress, s)
	}
	return v, nil
}

// normalizeFelt pads a hex felt returned by a node; values that do not parse
// are returned unchanged.
func normalizeFelt(s string) string {
	v, err := parseFelt(s)
	if err != nil {
		return s
	}
	return PadFelt(v)
}
