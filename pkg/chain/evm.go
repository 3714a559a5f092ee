package chain

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// transferTopic is keccak256("Transfer(address,address,uint256)"), shared by
// ERC-20 and ERC-721
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// maxBatchElems bounds the number of calls sent in one JSON-RPC batch
const maxBatchElems = 100

// EVMClient reads wallet activity from an Ethereum JSON-RPC endpoint
type EVMClient struct {
	ethClient *ethclient.Client
	rpcClient *rpc.Client
	endpoint  string
	logger    *zap.Logger
}

// DialEVM connects to an EVM endpoint. HTTP endpoints are dialed lazily, so
// no request is made until the first call.
func DialEVM(ctx context.Context, endpoint string, logger *zap.Logger) (*EVMClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	return &EVMClient{
		ethClient: ethclient.NewClient(rpcClient),
		rpcClient: rpcClient,
		endpoint:  endpoint,
		logger:    logger.With(zap.String("component", "evm-client"), zap.String("endpoint", endpoint)),
	}, nil
}

// Close closes the client connection
func (c *EVMClient) Close() {
	if c.ethClient != nil {
		c.ethClient.Close()
	}
}

// Endpoint returns the URL the client is connected to
func (c *EVMClient) Endpoint() string {
	return c.endpoint
}

// LatestBlock returns the latest block number
func (c *EVMClient) LatestBlock(ctx context.Context) (uint64, error) {
	number, err := c.ethClient.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return number, nil
}

type rpcTransaction struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
	Value *hexutil.Big    `json:"value"`
}

type rpcBlock struct {
	Number       hexutil.Uint64   `json:"number"`
	Transactions []rpcTransaction `json:"transactions"`
}

type rpcLog struct {
	Address         common.Address `json:"address"`
	Topics          []common.Hash  `json:"topics"`
	Data            hexutil.Bytes  `json:"data"`
	Index           hexutil.Uint64 `json:"logIndex"`
	TransactionHash common.Hash    `json:"transactionHash"`
}

type rpcReceipt struct {
	Status hexutil.Uint64 `json:"status"`
	Logs   []rpcLog       `json:"logs"`
}

// WalletActivity returns every transaction in [from, to] that the wallet
// sent, received, or that moved an ERC-20/721 token to or from it.
func (c *EVMClient) WalletActivity(ctx context.Context, address string, from, to uint64) ([]RawTransaction, error) {
	if to < from {
		return nil, fmt.Errorf("invalid block range %d-%d", from, to)
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	wallet := common.HexToAddress(address)

	blocks, err := c.getBlocks(ctx, from, to)
	if err != nil {
		return nil, err
	}

	tokenTxs, err := c.tokenTransferTxs(ctx, wallet, from, to)
	if err != nil {
		return nil, err
	}

	var matched []RawTransaction
	for _, block := range blocks {
		for _, tx := range block.Transactions {
			involved := tx.From == wallet || (tx.To != nil && *tx.To == wallet)
			if !involved {
				_, involved = tokenTxs[tx.Hash]
			}
			if !involved {
				continue
			}
			matched = append(matched, toRawTransaction(uint64(block.Number), tx))
		}
	}

	if len(matched) == 0 {
		return nil, nil
	}

	if err := c.attachReceipts(ctx, matched); err != nil {
		return nil, err
	}

	c.logger.Debug("wallet activity fetched",
		zap.String("wallet", wallet.Hex()),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("transactions", len(matched)),
	)

	return matched, nil
}

// getBlocks fetches [from, to] with full transactions, in order
func (c *EVMClient) getBlocks(ctx context.Context, from, to uint64) ([]*rpcBlock, error) {
	count := int(to - from + 1)
	blocks := make([]*rpcBlock, count)
	batch := make([]rpc.BatchElem, count)

	for i := range batch {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []interface{}{hexutil.EncodeUint64(from + uint64(i)), true},
			Result: &blocks[i],
		}
	}

	if err := c.batchCall(ctx, batch); err != nil {
		return nil, err
	}

	for i, elem := range batch {
		number := from + uint64(i)
		if elem.Error != nil {
			return nil, fmt.Errorf("failed to fetch block %d: %w", number, elem.Error)
		}
		if blocks[i] == nil {
			return nil, fmt.Errorf("%w: %d", ErrBlockNotFound, number)
		}
	}

	return blocks, nil
}

// tokenTransferTxs returns the hashes of transactions emitting a Transfer
// log with the wallet as sender or recipient
func (c *EVMClient) tokenTransferTxs(ctx context.Context, wallet common.Address, from, to uint64) (map[common.Hash]struct{}, error) {
	walletTopic := common.BytesToHash(wallet.Bytes())
	filter := func(topics []interface{}) map[string]interface{} {
		return map[string]interface{}{
			"fromBlock": hexutil.EncodeUint64(from),
			"toBlock":   hexutil.EncodeUint64(to),
			"topics":    topics,
		}
	}

	var sent, received []rpcLog
	batch := []rpc.BatchElem{
		{
			Method: "eth_getLogs",
			Args:   []interface{}{filter([]interface{}{transferTopic, walletTopic})},
			Result: &sent,
		},
		{
			Method: "eth_getLogs",
			Args:   []interface{}{filter([]interface{}{transferTopic, nil, walletTopic})},
			Result: &received,
		},
	}
	if err := c.batchCall(ctx, batch); err != nil {
		return nil, err
	}
	for _, elem := range batch {
		if elem.Error != nil {
			return nil, fmt.Errorf("failed to fetch transfer logs: %w", elem.Error)
		}
	}

	hashes := make(map[common.Hash]struct{}, len(sent)+len(received))
	for _, l := range sent {
		hashes[l.TransactionHash] = struct{}{}
	}
	for _, l := range received {
		hashes[l.TransactionHash] = struct{}{}
	}
	return hashes, nil
}

// attachReceipts fills status and logs of each transaction from its receipt
func (c *EVMClient) attachReceipts(ctx context.Context, txs []RawTransaction) error {
	receipts := make([]*rpcReceipt, len(txs))
	batch := make([]rpc.BatchElem, len(txs))
	for i := range txs {
		batch[i] = rpc.BatchElem{
			Method: "eth_getTransactionReceipt",
			Args:   []interface{}{txs[i].Hash},
			Result: &receipts[i],
		}
	}

	if err := c.batchCall(ctx, batch); err != nil {
		return err
	}

	for i, elem := range batch {
		if elem.Error != nil {
			return fmt.Errorf("failed to fetch receipt for %s: %w", txs[i].Hash, elem.Error)
		}
		if receipts[i] == nil {
			return fmt.Errorf("receipt not found for %s", txs[i].Hash)
		}
		txs[i].Status = uint64(receipts[i].Status)
		txs[i].Logs = make([]RawLog, 0, len(receipts[i].Logs))
		for _, l := range receipts[i].Logs {
			txs[i].Logs = append(txs[i].Logs, toRawLog(l))
		}
		sort.Slice(txs[i].Logs, func(a, b int) bool { return txs[i].Logs[a].Index < txs[i].Logs[b].Index })
	}
	return nil
}

// batchCall sends elems in chunks of at most maxBatchElems
func (c *EVMClient) batchCall(ctx context.Context, elems []rpc.BatchElem) error {
	for start := 0; start < len(elems); start += maxBatchElems {
		end := start + maxBatchElems
		if end > len(elems) {
			end = len(elems)
		}
		if err := c.rpcClient.BatchCallContext(ctx, elems[start:end]); err != nil {
			return fmt.Errorf("batch call failed: %w", err)
		}
	}
	return nil
}

func toRawTransaction(blockNumber uint64, tx rpcTransaction) RawTransaction {
	raw := RawTransaction{
		Hash:        tx.Hash.Hex(),
		BlockNumber: blockNumber,
		From:        strings.ToLower(tx.From.Hex()),
		Input:       hexutil.Encode(tx.Input),
		Value:       "0",
	}
	if tx.To != nil {
		raw.To = strings.ToLower(tx.To.Hex())
	}
	if tx.Value != nil {
		raw.Value = tx.Value.ToInt().String()
	}
	return raw
}

func toRawLog(l rpcLog) RawLog {
	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = t.Hex()
	}
	return RawLog{
		Address: strings.ToLower(l.Address.Hex()),
		Topics:  topics,
		Data:    hexutil.Encode(l.Data),
		Index:   uint64(l.Index),
	}
}
