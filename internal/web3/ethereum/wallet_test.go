package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"Agent-Arena/internal/tools"
	"Agent-Arena/internal/web3"
)

const testToken = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"

type fakeBackend struct {
	balance  *big.Int
	callErr  error
	gasErr   error
	head     uint64
	logs     []coretypes.Log
	query    gethcore.FilterQuery
	sent     []*coretypes.Transaction
	chainID  *big.Int
	nonce    uint64
	gasPrice *big.Int
}

func (f *fakeBackend) CallContract(_ context.Context, _ gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	parsed, _ := web3.ParsedERC20()
	return parsed.Methods["balanceOf"].Outputs.Pack(f.balance)
}

func (f *fakeBackend) FilterLogs(_ context.Context, q gethcore.FilterQuery) ([]coretypes.Log, error) {
	f.query = q
	return f.logs, nil
}

func (f *fakeBackend) SubscribeFilterLogs(context.Context, gethcore.FilterQuery, chan<- coretypes.Log) (gethcore.Subscription, error) {
	return nil, errors.New("not supported")
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	if f.gasErr != nil {
		return 0, f.gasErr
	}
	return 60_000, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func newTestWallet(t *testing.T, backend *fakeBackend) *Wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	w, err := NewWallet(backend, Config{
		Name:           "base-sepolia",
		PrivateKey:     "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
		TokenAddress:   testToken,
		LookbackBlocks: 100,
	})
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	return w
}

func TestWalletBalanceUsesTokenDecimals(t *testing.T) {
	backend := &fakeBackend{balance: big.NewInt(12_345_678)}
	w := newTestWallet(t, backend)

	balance, err := w.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("12.345678")) {
		t.Fatalf("unexpected balance %s", balance)
	}

	backend.callErr = errors.New("rpc down")
	balance, err = w.Balance(context.Background())
	if err == nil {
		t.Fatal("expected error when the call fails")
	}
	if !balance.Equal(decimal.RequireFromString("12.345678")) {
		t.Fatalf("expected cached balance, got %s", balance)
	}
}

func TestWalletSendToAddressSignsTransfer(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(84532), nonce: 7, gasPrice: big.NewInt(1_000_000_000)}
	w := newTestWallet(t, backend)
	recipient := "0x000000000000000000000000000000000000bEEF"

	res, err := w.SendToAddress(context.Background(), tools.AddressPayment{
		ToAddress: recipient,
		Amount:    decimal.RequireFromString("2.5"),
		Memo:      "bounty",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Status() != "SUBMITTED" || res["memo"] != "bounty" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Nonce() != 7 || *tx.To() != common.HexToAddress(testToken) {
		t.Fatalf("unexpected tx envelope nonce=%d to=%s", tx.Nonce(), tx.To().Hex())
	}
	sender, err := coretypes.Sender(coretypes.LatestSignerForChainID(big.NewInt(84532)), tx)
	if err != nil || sender != w.Address() {
		t.Fatalf("unexpected sender %s (%v)", sender.Hex(), err)
	}
	if res["transaction_id"] != tx.Hash().Hex() {
		t.Fatalf("result hash mismatch")
	}

	parsed, _ := web3.ParsedERC20()
	method, err := parsed.MethodById(tx.Data()[:4])
	if err != nil || method.Name != "transfer" {
		t.Fatalf("unexpected method %v (%v)", method, err)
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack args: %v", err)
	}
	if args[0].(common.Address) != common.HexToAddress(recipient) {
		t.Fatalf("unexpected recipient %v", args[0])
	}
	if args[1].(*big.Int).Cmp(big.NewInt(2_500_000)) != 0 {
		t.Fatalf("unexpected raw amount %v", args[1])
	}
}

func TestWalletRejectsBadPayments(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(1), gasPrice: big.NewInt(1), gasErr: errors.New("execution reverted")}
	w := newTestWallet(t, backend)
	ctx := context.Background()

	res, _ := w.SendToAddress(ctx, tools.AddressPayment{ToAddress: "not-an-address", Amount: decimal.NewFromInt(1)})
	if res.Status() != tools.StatusError {
		t.Fatalf("expected error for bad address, got %+v", res)
	}
	res, _ = w.SendToAddress(ctx, tools.AddressPayment{ToAddress: testToken, Amount: decimal.NewFromInt(1)})
	if res.Status() != tools.StatusError {
		t.Fatalf("expected error when estimation reverts, got %+v", res)
	}
	res, _ = w.SendToEmail(ctx, tools.EmailPayment{Email: "a@b.c", Amount: decimal.NewFromInt(1)})
	if res.Status() != tools.StatusError {
		t.Fatalf("expected email payments to be unsupported, got %+v", res)
	}
	if len(backend.sent) != 0 {
		t.Fatalf("nothing should be broadcast")
	}
}

func TestWalletHistoryDecodesInboundTransfers(t *testing.T) {
	backend := &fakeBackend{head: 1_000}
	w := newTestWallet(t, backend)
	parsed, _ := web3.ParsedERC20()
	event := parsed.Events["Transfer"]

	mkLog := func(block uint64, amount int64, hash string) coretypes.Log {
		data, err := event.Inputs.NonIndexed().Pack(big.NewInt(amount))
		if err != nil {
			t.Fatalf("pack log: %v", err)
		}
		return coretypes.Log{
			Topics: []common.Hash{
				event.ID,
				common.BytesToHash(common.HexToAddress("0x1111111111111111111111111111111111111111").Bytes()),
				common.BytesToHash(w.Address().Bytes()),
			},
			Data:        data,
			BlockNumber: block,
			TxHash:      common.HexToHash(hash),
		}
	}
	backend.logs = []coretypes.Log{mkLog(950, 5_000_000, "0x01"), mkLog(990, 750_000, "0x02")}

	txs, err := w.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(txs))
	}
	if !txs[0].Amount.Equal(decimal.RequireFromString("0.75")) || txs[0].Status != "SUCCESS" {
		t.Fatalf("expected newest transfer first, got %+v", txs[0])
	}
	if backend.query.FromBlock.Uint64() != 900 || backend.query.ToBlock.Uint64() != 1_000 {
		t.Fatalf("unexpected block range %v-%v", backend.query.FromBlock, backend.query.ToBlock)
	}
}
