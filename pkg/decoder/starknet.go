package decoder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/product-labo/Meta-sub005/pkg/chain"
)

// starknetMask keeps the low 250 bits of a keccak digest
var starknetMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

// StarknetSelector returns the entry point selector of a Cairo function or
// event name: keccak256 truncated to 250 bits, as 0x hex without leading zeros.
func StarknetSelector(name string) string {
	h := new(big.Int).SetBytes(crypto.Keccak256([]byte(name)))
	return "0x" + h.And(h, starknetMask).Text(16)
}

// NormalizeFelt renders a felt as lowercase 0x hex without leading zeros
func NormalizeFelt(felt string) (string, bool) {
	n, ok := parseFelt(felt)
	if !ok {
		return "", false
	}
	return "0x" + n.Text(16), true
}

func parseFelt(felt string) (*big.Int, bool) {
	s := strings.TrimSpace(felt)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	if s == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// starknetFunctionNames are entry points recognised in account multicalls
var starknetFunctionNames = []string{
	"transfer", "transferFrom", "transfer_from", "approve",
	"increase_allowance", "increaseAllowance", "decrease_allowance",
	"safe_transfer_from", "safeTransferFrom", "set_approval_for_all",
	"mint", "burn", "deposit", "withdraw",
	"swap", "multi_route_swap", "multihop_swap", "swap_exact_tokens_for_tokens",
	"swap_exact_tokens_for_tokens_supporting_fees", "swap_tokens_for_exact_tokens",
	"add_liquidity", "remove_liquidity", "multicall",
	"initiate_withdraw", "initiate_token_withdraw", "deposit_with_message",
	"bridge_token", "bridge_tokens",
}

// starknetEventNames are events recognised by their first key
var starknetEventNames = []string{
	"Transfer", "Approval", "ApprovalForAll",
	"Swap", "Deposit", "Withdrawal", "Sync",
	"WithdrawInitiated", "DepositHandled", "TransferSingle", "TransferBatch",
}

var (
	starknetFunctions = selectorTable(starknetFunctionNames)
	starknetEvents    = selectorTable(starknetEventNames)
)

func selectorTable(names []string) map[string]string {
	table := make(map[string]string, len(names))
	for _, name := range names {
		table[StarknetSelector(name)] = name
	}
	return table
}

// StarknetCall is one call of an account __execute__ multicall
type StarknetCall struct {
	To       string   `json:"to"`
	Selector string   `json:"selector"`
	Name     string   `json:"name,omitempty"`
	Category Category `json:"category"`
	Calldata []string `json:"calldata"`
}

// DecodeStarknetCalls decodes the account multicall layout
// [n, (to, selector, len, data[len])*n].
func DecodeStarknetCalls(calldata []string) ([]StarknetCall, error) {
	pos := 0
	next := func(what string) (*big.Int, error) {
		if pos >= len(calldata) {
			return nil, fmt.Errorf("%w: calldata ends before %s at %d", ErrMalformedData, what, pos)
		}
		n, ok := parseFelt(calldata[pos])
		if !ok {
			return nil, fmt.Errorf("%w: %s %q at %d is not a felt", ErrMalformedData, what, calldata[pos], pos)
		}
		pos++
		return n, nil
	}

	count, err := next("call count")
	if err != nil {
		return nil, err
	}
	// every call needs at least three felts
	if !count.IsUint64() || count.Uint64() > uint64(len(calldata)/3) {
		return nil, fmt.Errorf("%w: call count %s exceeds calldata", ErrMalformedData, count)
	}

	calls := make([]StarknetCall, 0, count.Uint64())
	for i := uint64(0); i < count.Uint64(); i++ {
		to, err := next("call target")
		if err != nil {
			return nil, err
		}
		sel, err := next("call selector")
		if err != nil {
			return nil, err
		}
		length, err := next("calldata length")
		if err != nil {
			return nil, err
		}
		if !length.IsUint64() || length.Uint64() > uint64(len(calldata)-pos) {
			return nil, fmt.Errorf("%w: call %d data length %s exceeds calldata", ErrMalformedData, i, length)
		}

		data := make([]string, length.Uint64())
		for j := range data {
			felt, ok := NormalizeFelt(calldata[pos])
			if !ok {
				return nil, fmt.Errorf("%w: call %d data %q is not a felt", ErrMalformedData, i, calldata[pos])
			}
			data[j] = felt
			pos++
		}

		selector := "0x" + sel.Text(16)
		name := starknetFunctions[selector]
		calls = append(calls, StarknetCall{
			To:       fmt.Sprintf("0x%064x", to),
			Selector: selector,
			Name:     name,
			Category: Categorize(name),
			Calldata: data,
		})
	}

	if pos != len(calldata) {
		return nil, fmt.Errorf("%w: %d trailing calldata felts", ErrMalformedData, len(calldata)-pos)
	}
	return calls, nil
}

// DecodeStarknetEvents names Starknet events by their first key. Remaining
// keys become indexed felts and the data felts non-indexed ones.
func DecodeStarknetEvents(logs []chain.RawLog) []DecodedEvent {
	if len(logs) == 0 {
		return nil
	}

	events := make([]DecodedEvent, 0, len(logs))
	for _, log := range logs {
		ev := DecodedEvent{Address: log.Address, LogIndex: log.Index}
		if len(log.Topics) > 0 {
			if key, ok := NormalizeFelt(log.Topics[0]); ok {
				ev.Topic = key
				ev.Name = starknetEvents[key]
			}
			ev.Indexed = feltParams("key", log.Topics[1:])
		}
		ev.NonIndexed = feltParams("data", log.Felts)
		events = append(events, ev)
	}
	return events
}

// feltParams turns felts into uint params named prefix0, prefix1, ...
func feltParams(prefix string, felts []string) []NamedParam {
	if len(felts) == 0 {
		return nil
	}
	out := make([]NamedParam, 0, len(felts))
	for i, f := range felts {
		n, ok := parseFelt(f)
		if !ok {
			n = new(big.Int)
		}
		out = append(out, NamedParam{
			Name:  fmt.Sprintf("%s%d", prefix, i),
			Value: Param{Kind: KindUint, Type: "felt", Int: n},
		})
	}
	return out
}
