// Package ethereum implements the payments collaborator as an EOA holding an
// ERC-20 stablecoin on an EVM chain.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/tools"
	"Agent-Arena/internal/web3"
	"Agent-Arena/pkg/logger"
)

const historyDefaultLimit = 50

// Config describes the wallet key and the token it moves.
type Config struct {
	Name           string
	PrivateKey     string
	TokenAddress   string
	TokenDecimals  int32
	ChainID        int64
	LookbackBlocks uint64
}

// Wallet implements tools.Payments over a single ERC-20 token.
type Wallet struct {
	name     string
	backend  web3.Backend
	closer   func()
	key      *ecdsa.PrivateKey
	address  common.Address
	token    common.Address
	decimals int32
	lookback uint64
	erc20    abi.ABI
	logger   *slog.Logger

	// mu serialises nonce allocation and guards the cached fields.
	mu          sync.Mutex
	chainID     *big.Int
	lastBalance decimal.Decimal
}

// Dial connects to rpcURL and builds a wallet over it.
func Dial(ctx context.Context, rpcURL string, cfg Config) (*Wallet, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "chain rpc url is not configured")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "dial chain rpc")
	}
	w, err := NewWallet(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	w.closer = client.Close
	return w, nil
}

// NewWallet builds a wallet over an existing backend.
func NewWallet(backend web3.Backend, cfg Config) (*Wallet, error) {
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "chain backend is nil")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid wallet private key")
	}
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid token contract address")
	}
	parsed, err := web3.ParsedERC20()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	decimals := cfg.TokenDecimals
	if decimals <= 0 {
		decimals = 6
	}
	lookback := cfg.LookbackBlocks
	if lookback == 0 {
		lookback = 50_000
	}
	w := &Wallet{
		name:     cfg.Name,
		backend:  backend,
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		token:    common.HexToAddress(cfg.TokenAddress),
		decimals: decimals,
		lookback: lookback,
		erc20:    parsed,
		logger:   logger.Named("wallet"),
	}
	if cfg.ChainID > 0 {
		w.chainID = big.NewInt(cfg.ChainID)
	}
	return w, nil
}

// Address returns the wallet's account.
func (w *Wallet) Address() common.Address { return w.address }

// Balance implements tools.Payments. On failure the last known balance is
// returned together with the error.
func (w *Wallet) Balance(ctx context.Context) (decimal.Decimal, error) {
	data, err := w.erc20.Pack("balanceOf", w.address)
	if err != nil {
		return w.cachedBalance(), fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := w.backend.CallContract(ctx, gethcore.CallMsg{To: &w.token, Data: data}, nil)
	if err != nil {
		return w.cachedBalance(), xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "call balanceOf")
	}
	values, err := w.erc20.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return w.cachedBalance(), xerrors.New(xerrors.CodeUpstreamFailure, "malformed balanceOf result")
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return w.cachedBalance(), xerrors.New(xerrors.CodeUpstreamFailure, "malformed balanceOf result")
	}
	balance := decimal.NewFromBigInt(raw, -w.decimals)
	w.mu.Lock()
	w.lastBalance = balance
	w.mu.Unlock()
	return balance, nil
}

// SendToAddress implements tools.Payments with a signed token transfer.
func (w *Wallet) SendToAddress(ctx context.Context, p tools.AddressPayment) (tools.Result, error) {
	echo := tools.Result{"to_address": p.ToAddress, "amount": p.Amount.String(), "memo": p.Memo}
	if !common.IsHexAddress(p.ToAddress) {
		return merge(echo, tools.Result{"status": tools.StatusError, "error": "invalid recipient address"}), nil
	}
	if !p.Amount.IsPositive() {
		return merge(echo, tools.Result{"status": tools.StatusError, "error": "amount must be positive"}), nil
	}
	to := common.HexToAddress(p.ToAddress)
	value := p.Amount.Shift(w.decimals).BigInt()
	data, err := w.erc20.Pack("transfer", to, value)
	if err != nil {
		return nil, fmt.Errorf("pack transfer: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	chainID, err := w.chainIDLocked(ctx)
	if err != nil {
		return nil, err
	}
	gas, err := w.backend.EstimateGas(ctx, gethcore.CallMsg{From: w.address, To: &w.token, Data: data})
	if err != nil {
		// A reverting transfer (insufficient balance) fails estimation.
		return merge(echo, tools.Result{"status": tools.StatusError, "error": "transfer would revert: " + err.Error()}), nil
	}
	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "fetch pending nonce")
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "suggest gas price")
	}
	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       &w.token,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("sign transfer: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "broadcast transfer")
	}
	w.logger.Info("token transfer broadcast", "chain", w.name, "tx", signed.Hash().Hex(), "to", to.Hex(), "amount", p.Amount.String())
	return merge(echo, tools.Result{
		"status":         "SUBMITTED",
		"transaction_id": signed.Hash().Hex(),
		"from_address":   w.address.Hex(),
	}), nil
}

// SendToEmail implements tools.Payments. A bare on-chain account has no
// escrow to hold funds for an email recipient.
func (w *Wallet) SendToEmail(_ context.Context, p tools.EmailPayment) (tools.Result, error) {
	return tools.Result{
		"status": tools.StatusError,
		"error":  "email payments are not available for on-chain wallets",
		"email":  p.Email,
		"amount": p.Amount.String(),
	}, nil
}

// History implements tools.Payments. It lists inbound token transfers within
// the lookback window, newest first.
func (w *Wallet) History(ctx context.Context, limit int) ([]tools.Transaction, error) {
	if limit <= 0 {
		limit = historyDefaultLimit
	}
	transfers, err := w.InboundTransfers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tools.Transaction, 0, min(limit, len(transfers)))
	for _, t := range transfers {
		if len(out) == limit {
			break
		}
		out = append(out, tools.Transaction{
			ID:     t.TxHash.Hex(),
			Amount: decimal.NewFromBigInt(t.Value, -w.decimals),
			Status: "SUCCESS",
		})
	}
	return out, nil
}

// InboundTransfers decodes Transfer logs paying this wallet, newest first.
func (w *Wallet) InboundTransfers(ctx context.Context) ([]web3.Transfer, error) {
	head, err := w.backend.BlockNumber(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "fetch block number")
	}
	var from uint64
	if head > w.lookback {
		from = head - w.lookback
	}
	event := w.erc20.Events["Transfer"]
	logs, err := w.backend.FilterLogs(ctx, gethcore.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{w.token},
		Topics:    [][]common.Hash{{event.ID}, nil, {common.BytesToHash(w.address.Bytes())}},
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "filter transfer logs")
	}
	out := make([]web3.Transfer, 0, len(logs))
	for _, l := range logs {
		if l.Removed || len(l.Topics) != 3 {
			continue
		}
		values, err := w.erc20.Unpack("Transfer", l.Data)
		if err != nil || len(values) != 1 {
			w.logger.Debug("skipping malformed transfer log", "tx", l.TxHash.Hex(), "error", err)
			continue
		}
		value, ok := values[0].(*big.Int)
		if !ok {
			continue
		}
		out = append(out, web3.Transfer{
			From:        common.BytesToAddress(l.Topics[1].Bytes()),
			To:          common.BytesToAddress(l.Topics[2].Bytes()),
			Value:       value,
			TxHash:      l.TxHash,
			BlockNumber: l.BlockNumber,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BlockNumber > out[j].BlockNumber })
	return out, nil
}

// Close implements tools.Closer.
func (w *Wallet) Close(context.Context) error {
	if w.closer != nil {
		w.closer()
		w.closer = nil
	}
	return nil
}

func (w *Wallet) chainIDLocked(ctx context.Context) (*big.Int, error) {
	if w.chainID != nil {
		return w.chainID, nil
	}
	id, err := w.backend.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "fetch chain id")
	}
	if id == nil || id.Sign() <= 0 {
		return nil, errors.New("chain reported an invalid chain id")
	}
	w.chainID = id
	return id, nil
}

func (w *Wallet) cachedBalance() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastBalance
}

func merge(base, extra tools.Result) tools.Result {
	out := make(tools.Result, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

var (
	_ tools.Payments = (*Wallet)(nil)
	_ tools.Closer   = (*Wallet)(nil)
)
