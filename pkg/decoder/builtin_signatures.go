package decoder

import "fmt"

// SignatureSource records where a signature entry came from
type SignatureSource string

const (
	SourceBuiltin  SignatureSource = "builtin"
	SourceFourByte SignatureSource = "4byte"
	SourceSourcify SignatureSource = "sourcify"
	SourceCache    SignatureSource = "cache"
	SourceManual   SignatureSource = "manual"
)

// builtinSignatures are function signatures known without any lookup.
// Parameter names are kept so decoded params carry them.
var builtinSignatures = []string{
	// ERC20
	"transfer(address to,uint256 amount)",
	"transferFrom(address from,address to,uint256 amount)",
	"approve(address spender,uint256 amount)",
	"increaseAllowance(address spender,uint256 addedValue)",
	"decreaseAllowance(address spender,uint256 subtractedValue)",

	// ERC721 / ERC1155
	"safeTransferFrom(address from,address to,uint256 tokenId)",
	"safeTransferFrom(address from,address to,uint256 tokenId,bytes data)",
	"safeTransferFrom(address from,address to,uint256 id,uint256 amount,bytes data)",
	"safeBatchTransferFrom(address from,address to,uint256[] ids,uint256[] amounts,bytes data)",
	"setApprovalForAll(address operator,bool approved)",
	"mint(address to,uint256 amount)",
	"burn(uint256 amount)",

	// WETH
	"deposit()",
	"withdraw(uint256 wad)",

	// Uniswap V2 router
	"swapExactTokensForTokens(uint256 amountIn,uint256 amountOutMin,address[] path,address to,uint256 deadline)",
	"swapTokensForExactTokens(uint256 amountOut,uint256 amountInMax,address[] path,address to,uint256 deadline)",
	"swapExactETHForTokens(uint256 amountOutMin,address[] path,address to,uint256 deadline)",
	"swapTokensForExactETH(uint256 amountOut,uint256 amountInMax,address[] path,address to,uint256 deadline)",
	"swapExactTokensForETH(uint256 amountIn,uint256 amountOutMin,address[] path,address to,uint256 deadline)",
	"swapETHForExactTokens(uint256 amountOut,address[] path,address to,uint256 deadline)",
	"swapExactTokensForTokensSupportingFeeOnTransferTokens(uint256 amountIn,uint256 amountOutMin,address[] path,address to,uint256 deadline)",
	"addLiquidity(address tokenA,address tokenB,uint256 amountADesired,uint256 amountBDesired,uint256 amountAMin,uint256 amountBMin,address to,uint256 deadline)",
	"addLiquidityETH(address token,uint256 amountTokenDesired,uint256 amountTokenMin,uint256 amountETHMin,address to,uint256 deadline)",
	"removeLiquidity(address tokenA,address tokenB,uint256 liquidity,uint256 amountAMin,uint256 amountBMin,address to,uint256 deadline)",

	// Multicall
	"multicall(bytes[] data)",
	"multicall(uint256 deadline,bytes[] data)",
	"execute(bytes commands,bytes[] inputs,uint256 deadline)",

	// Bridges
	"bridgeETH(uint32 minGasLimit,bytes extraData)",
	"bridgeETHTo(address to,uint32 minGasLimit,bytes extraData)",
	"bridgeERC20(address localToken,address remoteToken,uint256 amount,uint32 minGasLimit,bytes extraData)",
	"bridgeERC20To(address localToken,address remoteToken,address to,uint256 amount,uint32 minGasLimit,bytes extraData)",
	"depositETH(uint32 minGasLimit,bytes extraData)",
	"depositERC20(address l1Token,address l2Token,uint256 amount,uint32 minGasLimit,bytes extraData)",
	"outboundTransfer(address token,address to,uint256 amount,bytes data)",
	"sendToL2(uint256 chainId,address recipient,uint256 amount,uint256 amountOutMin,uint256 deadline,address relayer,uint256 relayerFee)",
}

// builtinEntries parses builtinSignatures once
func builtinEntries() []SignatureEntry {
	entries := make([]SignatureEntry, 0, len(builtinSignatures))
	for _, def := range builtinSignatures {
		sig, err := ParseSignature(def)
		if err != nil {
			panic(fmt.Sprintf("builtin signature %q: %v", def, err))
		}
		names := make([]string, len(sig.Inputs))
		for i, in := range sig.Inputs {
			names[i] = in.Name
		}
		entries = append(entries, SignatureEntry{
			Selector:   sig.Selector(),
			Signature:  sig.Canonical,
			Name:       sig.Name,
			Category:   Categorize(sig.Name),
			Source:     SourceBuiltin,
			ParamNames: names,
		})
	}
	return entries
}
