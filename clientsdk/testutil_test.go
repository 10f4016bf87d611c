package clientsdk

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ivxp-protocol/ivxp-go/paymentsvc"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
const usdcAddr = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

// fakeBackend satisfies paymentsvc.Backend with canned responses, enough to
// drive Service.Send without a real RPC endpoint.
type fakeBackend struct {
	chainID *big.Int
	tip     *big.Int
	header  *types.Header
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID: big.NewInt(84532),
		tip:     big.NewInt(1_000_000),
		header:  &types.Header{BaseFee: big.NewInt(1_000_000_000)},
	}
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return f.tip, nil }
func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return f.header, nil
}
func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}
func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}
func (f *fakeBackend) NetworkID(ctx context.Context) (*big.Int, error) { return f.chainID, nil }

func newTestPaymentService(t interface{ Fatalf(string, ...interface{}) }) *paymentsvc.Service {
	svc, err := paymentsvc.New(newFakeBackend(), testKey, usdcAddr)
	if err != nil {
		t.Fatalf("paymentsvc.New: %v", err)
	}
	return svc
}
