package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Block tags accepted by Starknet nodes
const (
	BlockTagLatest  = "latest"
	BlockTagPending = "pending"
)

// BlockID selects a Starknet block by tag, number or hash. Exactly one of
// the fields must be set.
type BlockID struct {
	Tag    string
	Number *uint64
	Hash   string
}

// BlockNumberID returns the id of block n
func BlockNumberID(n uint64) BlockID {
	return BlockID{Number: &n}
}

// MarshalJSON renders the id as the tag literal, {"block_number": n} or
// {"block_hash": "0x<64 hex>"}
func (b BlockID) MarshalJSON() ([]byte, error) {
	set := 0
	if b.Tag != "" {
		set++
	}
	if b.Number != nil {
		set++
	}
	if b.Hash != "" {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: exactly one of tag, number or hash must be set", ErrInvalidBlockID)
	}

	switch {
	case b.Tag != "":
		if b.Tag != BlockTagLatest && b.Tag != BlockTagPending {
			return nil, fmt.Errorf("%w: unknown tag %q", ErrInvalidBlockID, b.Tag)
		}
		return json.Marshal(b.Tag)
	case b.Number != nil:
		return json.Marshal(map[string]uint64{"block_number": *b.Number})
	default:
		v, err := parseFelt(b.Hash)
		if err != nil {
			return nil, fmt.Errorf("%w: hash %q", ErrInvalidBlockID, b.Hash)
		}
		return json.Marshal(map[string]string{"block_hash": PadFelt(v)})
	}
}

type starknetRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type starknetResponse struct {
	ID     int64
	Result json.RawMessage
	Error  *RPCError
}

type starknetTransaction struct {
	Hash            string   `json:"transaction_hash"`
	Type            string   `json:"type"`
	SenderAddress   string   `json:"sender_address"`
	ContractAddress string   `json:"contract_address"`
	Calldata        []string `json:"calldata"`
}

type starknetBlock struct {
	BlockNumber  uint64                `json:"block_number"`
	BlockHash    string                `json:"block_hash"`
	Transactions []starknetTransaction `json:"transactions"`
}

type starknetEvent struct {
	FromAddress string   `json:"from_address"`
	Keys        []string `json:"keys"`
	Data        []string `json:"data"`
}

type starknetReceipt struct {
	TransactionHash string          `json:"transaction_hash"`
	ExecutionStatus string          `json:"execution_status"`
	Events          []starknetEvent `json:"events"`
}

// StarknetClient reads wallet activity from a Starknet JSON-RPC endpoint
type StarknetClient struct {
	httpClient *http.Client
	endpoint   string
	requestID  atomic.Int64
	logger     *zap.Logger
}

// NewStarknetClient creates a client for a Starknet endpoint. Per-call
// deadlines come from the caller's context.
func NewStarknetClient(endpoint string, logger *zap.Logger) (*StarknetClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StarknetClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		endpoint:   endpoint,
		logger:     logger.With(zap.String("component", "starknet-client"), zap.String("endpoint", endpoint)),
	}, nil
}

// Close releases idle connections
func (c *StarknetClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// Endpoint returns the URL the client talks to
func (c *StarknetClient) Endpoint() string {
	return c.endpoint
}

// LatestBlock returns the latest accepted block number
func (c *StarknetClient) LatestBlock(ctx context.Context) (uint64, error) {
	raw, err := c.call(ctx, "starknet_blockNumber")
	if err != nil {
		return 0, err
	}
	var number uint64
	if err := json.Unmarshal(raw, &number); err != nil {
		return 0, fmt.Errorf("%w: block number: %v", ErrInvalidResponse, err)
	}
	return number, nil
}

// WalletActivity returns the transactions in [from, to] sent by the wallet
// account or carrying the wallet address in their calldata
func (c *StarknetClient) WalletActivity(ctx context.Context, address string, from, to uint64) ([]RawTransaction, error) {
	if to < from {
		return nil, fmt.Errorf("invalid block range %d-%d", from, to)
	}
	wallet, err := NormalizeAddress(TypeStarknet, address)
	if err != nil {
		return nil, err
	}

	requests := make([]starknetRequest, 0, to-from+1)
	for n := from; n <= to; n++ {
		requests = append(requests, c.newRequest("starknet_getBlockWithTxs", BlockNumberID(n)))
	}
	responses, err := c.callBatch(ctx, requests)
	if err != nil {
		return nil, err
	}

	var matched []RawTransaction
	for i, resp := range responses {
		number := from + uint64(i)
		if resp.Error != nil {
			return nil, fmt.Errorf("failed to fetch block %d: %w", number, resp.Error)
		}
		var block starknetBlock
		if err := json.Unmarshal(resp.Result, &block); err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrInvalidResponse, number, err)
		}
		for _, tx := range block.Transactions {
			if !involves(tx, wallet) {
				continue
			}
			matched = append(matched, RawTransaction{
				Hash:        normalizeFelt(tx.Hash),
				BlockNumber: number,
				From:        txSender(tx),
				To:          normalizeFelt(tx.ContractAddress),
				Calldata:    tx.Calldata,
			})
		}
	}

	if len(matched) == 0 {
		return nil, nil
	}
	if err := c.attachReceipts(ctx, matched); err != nil {
		return nil, err
	}
	return matched, nil
}

func (c *StarknetClient) attachReceipts(ctx context.Context, txs []RawTransaction) error {
	requests := make([]starknetRequest, len(txs))
	for i := range txs {
		requests[i] = c.newRequest("starknet_getTransactionReceipt", txs[i].Hash)
	}
	responses, err := c.callBatch(ctx, requests)
	if err != nil {
		return err
	}

	for i, resp := range responses {
		if resp.Error != nil {
			return fmt.Errorf("failed to fetch receipt for %s: %w", txs[i].Hash, resp.Error)
		}
		var receipt starknetReceipt
		if err := json.Unmarshal(resp.Result, &receipt); err != nil {
			return fmt.Errorf("%w: receipt %s: %v", ErrInvalidResponse, txs[i].Hash, err)
		}
		if receipt.ExecutionStatus == "SUCCEEDED" {
			txs[i].Status = 1
		}
		txs[i].Logs = make([]RawLog, len(receipt.Events))
		for j, ev := range receipt.Events {
			keys := make([]string, len(ev.Keys))
			for k, key := range ev.Keys {
				keys[k] = normalizeFelt(key)
			}
			txs[i].Logs[j] = RawLog{
				Address: normalizeFelt(ev.FromAddress),
				Topics:  keys,
				Felts:   ev.Data,
				Index:   uint64(j),
			}
		}
	}
	return nil
}

func txSender(tx starknetTransaction) string {
	if tx.SenderAddress != "" {
		return normalizeFelt(tx.SenderAddress)
	}
	return normalizeFelt(tx.ContractAddress)
}

func involves(tx starknetTransaction, wallet string) bool {
	if txSender(tx) == wallet {
		return true
	}
	for _, felt := range tx.Calldata {
		if normalizeFelt(felt) == wallet {
			return true
		}
	}
	return false
}

func (c *StarknetClient) newRequest(method string, params ...interface{}) starknetRequest {
	if params == nil {
		params = []interface{}{}
	}
	return starknetRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}
}

func (c *StarknetClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	req := c.newRequest(method, params...)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := parseStarknetResponse(respBody)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// callBatch sends requests as one batch and returns the responses in
// request order
func (c *StarknetClient) callBatch(ctx context.Context, requests []starknetRequest) ([]starknetResponse, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("marshal batch request: %w", err)
	}

	respBody, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(respBody, &raws); err != nil {
		return nil, fmt.Errorf("%w: batch: %v", ErrInvalidResponse, err)
	}

	byID := make(map[int64]starknetResponse, len(raws))
	for _, raw := range raws {
		resp, err := parseStarknetResponse(raw)
		if err != nil {
			return nil, err
		}
		byID[resp.ID] = resp
	}

	ordered := make([]starknetResponse, len(requests))
	for i, req := range requests {
		resp, ok := byID[req.ID]
		if !ok {
			return nil, fmt.Errorf("%w: missing batch response id=%d method=%s", ErrInvalidResponse, req.ID, req.Method)
		}
		ordered[i] = resp
	}
	return ordered, nil
}

func (c *StarknetClient) post(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, rpc.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       respBody,
		}
	}
	return respBody, nil
}

// parseStarknetResponse validates the JSON-RPC 2.0 envelope: the version
// must be "2.0" and exactly one of result and error must be present.
func parseStarknetResponse(raw []byte) (starknetResponse, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return starknetResponse{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	var version string
	if err := json.Unmarshal(fields["jsonrpc"], &version); err != nil || version != "2.0" {
		return starknetResponse{}, fmt.Errorf("%w: jsonrpc version must be \"2.0\"", ErrInvalidResponse)
	}

	result, hasResult := fields["result"]
	errRaw, hasError := fields["error"]
	if hasResult == hasError {
		return starknetResponse{}, fmt.Errorf("%w: exactly one of result and error must be set", ErrInvalidResponse)
	}

	var resp starknetResponse
	if id, ok := fields["id"]; ok {
		if err := json.Unmarshal(id, &resp.ID); err != nil {
			return starknetResponse{}, fmt.Errorf("%w: id: %v", ErrInvalidResponse, err)
		}
	}
	if hasError {
		var rpcErr RPCError
		if err := json.Unmarshal(errRaw, &rpcErr); err != nil {
			return starknetResponse{}, fmt.Errorf("%w: error object: %v", ErrInvalidResponse, err)
		}
		resp.Error = &rpcErr
		return resp, nil
	}
	if strings.TrimSpace(string(result)) == "null" {
		return starknetResponse{}, fmt.Errorf("%w: null result", ErrInvalidResponse)
	}
	resp.Result = result
	return resp, nil
}
