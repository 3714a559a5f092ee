package decoder

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/product-labo/Meta-sub005/pkg/chain"
	"github.com/product-labo/Meta-sub005/pkg/metrics"
)

// DecodedTransaction is the decoded form of one wallet transaction
type DecodedTransaction struct {
	Hash string `json:"hash"`

	// Selector is the lowercase 0x selector (EVM) or entry point felt
	// (Starknet, first call); empty when the input carries none
	Selector string `json:"selector,omitempty"`
	// RawInput is the call data exactly as received
	RawInput string `json:"rawInput"`
	// RawParams is the hex after the selector
	RawParams string `json:"rawParams,omitempty"`
	// Params is nil when the parameters could not be decoded
	Params       []NamedParam `json:"params,omitempty"`
	FunctionName string       `json:"functionName,omitempty"`
	Signature    string       `json:"signature,omitempty"`
	Category     Category     `json:"category"`
	NeedsLookup  bool         `json:"needsLookup"`

	// Calls holds every call of a Starknet multicall
	Calls  []StarknetCall `json:"calls,omitempty"`
	Events []DecodedEvent `json:"events,omitempty"`
}

// Decoder turns raw transactions into DecodedTransactions. It never fails:
// anything it cannot decode is reported as unknown with the raw input kept.
type Decoder struct {
	db       *SignatureDB
	resolver *Resolver
	logger   *zap.Logger
}

// New creates a decoder. resolver may be nil to disable deferred lookups.
func New(db *SignatureDB, resolver *Resolver, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{
		db:       db,
		resolver: resolver,
		logger:   logger.With(zap.String("component", "decoder")),
	}
}

// Signatures returns the signature database used by the decoder
func (d *Decoder) Signatures() *SignatureDB {
	return d.db
}

// Decode decodes the function call and logs of tx
func (d *Decoder) Decode(ctx context.Context, chainType chain.Type, tx chain.RawTransaction) DecodedTransaction {
	if chainType == chain.TypeStarknet {
		return d.decodeStarknet(tx)
	}
	return d.decodeEVM(tx)
}

func (d *Decoder) decodeEVM(tx chain.RawTransaction) DecodedTransaction {
	out := DecodedTransaction{
		Hash:     tx.Hash,
		RawInput: tx.Input,
		Category: CategoryUnknown,
		Events:   DecodeLogs(tx.Logs),
	}

	// A call without data is a plain value transfer
	if strings.TrimPrefix(tx.Input, "0x") == "" {
		out.Category = CategoryTransfer
		return out
	}

	selector, ok := ExtractSelector(tx.Input)
	if !ok {
		d.logger.Debug("undecodable call data", zap.String("tx", tx.Hash))
		return out
	}
	out.Selector = selector
	out.RawParams, _ = ExtractParameters(tx.Input)

	entry, ok := d.db.Lookup(selector)
	if !ok {
		out.NeedsLookup = true
		metrics.UnknownSelectors.Inc()
		if d.resolver != nil {
			d.resolver.Enqueue(selector)
		}
		return out
	}

	out.FunctionName = entry.Name
	out.Signature = entry.Signature
	out.Category = entry.Category
	out.Params = d.decodeParams(entry, out.RawParams)
	return out
}

// decodeParams decodes against a known entry; failures are logged and yield nil
func (d *Decoder) decodeParams(entry SignatureEntry, rawParams string) []NamedParam {
	sig, err := ParseSignature(entry.Signature)
	if err != nil {
		return nil
	}
	data, err := decodeHex(rawParams)
	if err != nil {
		return nil
	}
	params, err := sig.WithNames(entry.ParamNames).Decode(data)
	if err != nil {
		d.logger.Debug("parameter decoding failed",
			zap.String("signature", entry.Signature),
			zap.Error(err),
		)
		return nil
	}
	return params
}

func (d *Decoder) decodeStarknet(tx chain.RawTransaction) DecodedTransaction {
	out := DecodedTransaction{
		Hash:     tx.Hash,
		RawInput: strings.Join(tx.Calldata, ","),
		Category: CategoryUnknown,
		Events:   DecodeStarknetEvents(tx.Logs),
	}

	calls, err := DecodeStarknetCalls(tx.Calldata)
	if err != nil || len(calls) == 0 {
		if err != nil {
			d.logger.Debug("undecodable starknet calldata", zap.String("tx", tx.Hash), zap.Error(err))
		}
		return out
	}

	first := calls[0]
	out.Calls = calls
	out.Selector = first.Selector
	out.FunctionName = first.Name
	out.Category = first.Category
	out.Params = feltParams("arg", first.Calldata)
	if first.Name == "" {
		out.NeedsLookup = true
		metrics.UnknownSelectors.Inc()
	}
	return out
}
