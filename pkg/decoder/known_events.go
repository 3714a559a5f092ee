package decoder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// knownEventDefinitions are decoded without a contract ABI. Several events
// share a topic (ERC20 and ERC721 Transfer); they are told apart by the
// number of indexed arguments.
var knownEventDefinitions = []string{
	// ERC20 / ERC721
	"Transfer(address indexed from,address indexed to,uint256 value)",
	"Transfer(address indexed from,address indexed to,uint256 indexed tokenId)",
	"Approval(address indexed owner,address indexed spender,uint256 value)",
	"Approval(address indexed owner,address indexed approved,uint256 indexed tokenId)",
	"ApprovalForAll(address indexed owner,address indexed operator,bool approved)",

	// WETH
	"Deposit(address indexed dst,uint256 wad)",
	"Withdrawal(address indexed src,uint256 wad)",

	// Uniswap V2 and V3 pools
	"Swap(address indexed sender,uint256 amount0In,uint256 amount1In,uint256 amount0Out,uint256 amount1Out,address indexed to)",
	"Swap(address indexed sender,address indexed recipient,int256 amount0,int256 amount1,uint160 sqrtPriceX96,uint128 liquidity,int24 tick)",
	"Sync(uint112 reserve0,uint112 reserve1)",

	// ERC1155
	"TransferSingle(address indexed operator,address indexed from,address indexed to,uint256 id,uint256 value)",
	"TransferBatch(address indexed operator,address indexed from,address indexed to,uint256[] ids,uint256[] values)",

	// Bridges
	"ETHBridgeInitiated(address indexed from,address indexed to,uint256 amount,bytes extraData)",
	"ETHBridgeFinalized(address indexed from,address indexed to,uint256 amount,bytes extraData)",
	"ERC20BridgeInitiated(address indexed localToken,address indexed remoteToken,address indexed from,address to,uint256 amount,bytes extraData)",
	"ERC20BridgeFinalized(address indexed localToken,address indexed remoteToken,address indexed from,address to,uint256 amount,bytes extraData)",
	"DepositInitiated(address l1Token,address indexed from,address indexed to,uint256 indexed sequenceNumber,uint256 amount)",
	"TransferSentToL2(uint256 indexed chainId,address indexed recipient,uint256 amount,uint256 amountOutMin,uint256 deadline,address indexed relayer,uint256 relayerFee)",
}

type eventRegistry map[common.Hash][]*Signature

var knownEvents = mustEventRegistry(knownEventDefinitions)

func mustEventRegistry(defs []string) eventRegistry {
	reg := make(eventRegistry, len(defs))
	for _, def := range defs {
		sig, err := ParseSignature(def)
		if err != nil {
			panic(fmt.Sprintf("known event %q: %v", def, err))
		}
		reg[sig.Topic()] = append(reg[sig.Topic()], sig)
	}
	return reg
}

// candidates returns the known signatures for topic0 with the given number of indexed arguments
func (r eventRegistry) candidates(topic common.Hash, indexed int) []*Signature {
	var out []*Signature
	for _, sig := range r[topic] {
		if sig.IndexedCount() == indexed {
			out = append(out, sig)
		}
	}
	return out
}

// KnownEventSignature returns the canonical signature of a known event topic
func KnownEventSignature(topic common.Hash) (string, bool) {
	sigs := knownEvents[topic]
	if len(sigs) == 0 {
		return "", false
	}
	return sigs[0].Canonical, true
}

// KnownEventTopics lists the topic hashes of all known events
func KnownEventTopics() []common.Hash {
	out := make([]common.Hash, 0, len(knownEvents))
	for topic := range knownEvents {
		out = append(out, topic)
	}
	return out
}
