package web3

import (
	"context"
	"math/big"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Backend is the subset of an RPC client a wallet uses. Both ethclient and
// the simulated backend satisfy it.
type Backend interface {
	gethcore.ContractCaller
	gethcore.LogFilterer
	gethcore.TransactionSender
	gethcore.GasEstimator
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ERC20ABI covers the calls and the event the wallet needs.
const ERC20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

// ParsedERC20 returns the parsed token ABI.
func ParsedERC20() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(ERC20ABI))
}

// Transfer is a decoded ERC-20 Transfer log.
type Transfer struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	TxHash      common.Hash
	BlockNumber uint64
}
