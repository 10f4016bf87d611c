package ivxp_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/clientsdk"
	"github.com/ivxp-protocol/ivxp-go/paymentsvc"
	"github.com/ivxp-protocol/ivxp-go/provider"
)

const integrationProviderKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
const integrationClientKey = "0x2a871d0798f97d79848a013d4936a73bf4cc922be07c95e3376f0e1d82c2ff6"
const integrationUsdcAddress = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

// fakeChainBackend satisfies paymentsvc.Backend with canned responses,
// enough to drive the client's on-chain send without a real RPC endpoint.
// The provider side runs with no PaymentService configured, so it verifies
// signatures and replay protection only, not the on-chain transfer itself.
type fakeChainBackend struct{}

func (fakeChainBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return nil
}
func (fakeChainBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}
func (fakeChainBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}
func (fakeChainBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1_000_000_000)}, nil
}
func (fakeChainBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}
func (fakeChainBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}
func (fakeChainBackend) NetworkID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(84532), nil
}

// startIntegrationProvider binds a live Provider server on an ephemeral
// loopback port, the same way cmd/ivxp-provider does, and returns its base
// URL plus a cleanup func.
func startIntegrationProvider(t *testing.T, opts ...provider.Option) (baseURL string, stop func()) {
	t.Helper()
	p, err := provider.New(provider.Config{
		PrivateKey: integrationProviderKey,
		Network:    ivxp.NetworkBaseSepolia,
		Host:       "127.0.0.1",
		Port:       0,
		Services: []provider.ServiceOffering{
			{Type: "echo", BasePriceUsdc: "1.000000", EstimatedDeliveryHours: 0},
		},
	}, opts...)
	if err != nil {
		t.Fatalf("provider.New: %v", err)
	}
	srv := provider.NewServer(p)
	addr, err := srv.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return "http://" + addr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	}
}

func newIntegrationClient(t *testing.T, providerURL string) *clientsdk.Client {
	t.Helper()
	payment, err := paymentsvc.New(fakeChainBackend{}, integrationClientKey, integrationUsdcAddress)
	if err != nil {
		t.Fatalf("paymentsvc.New: %v", err)
	}
	client, err := clientsdk.New(clientsdk.Config{
		ProviderURL:    providerURL,
		PrivateKey:     integrationClientKey,
		Network:        ivxp.NetworkBaseSepolia,
		PaymentService: payment,
	})
	if err != nil {
		t.Fatalf("clientsdk.New: %v", err)
	}
	return client
}

func TestRequestServiceEndToEndPullDelivery(t *testing.T) {
	baseURL, stop := startIntegrationProvider(t)
	defer stop()

	client := newIntegrationClient(t, baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.RequestService(ctx, clientsdk.RequestParams{
		ServiceType: "echo",
		Params:      map[string]interface{}{"message": "hi"},
	})
	if err != nil {
		t.Fatalf("RequestService: %v", err)
	}
	if result.Status != "confirmed" {
		t.Fatalf("expected confirmed status, got %s", result.Status)
	}
	if result.ContentHash == "" {
		t.Fatal("expected a non-empty content hash")
	}
}

func TestRequestServiceEnforcesBudgetBeforePayment(t *testing.T) {
	baseURL, stop := startIntegrationProvider(t)
	defer stop()

	client := newIntegrationClient(t, baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.RequestService(ctx, clientsdk.RequestParams{
		ServiceType: "echo",
		BudgetUsdc:  "0.500000",
	})
	if _, ok := err.(*ivxp.BudgetExceededError); !ok {
		t.Fatalf("expected *ivxp.BudgetExceededError, got %T: %v", err, err)
	}
}

func TestRequestServiceSkipsConfirmWhenDisabled(t *testing.T) {
	baseURL, stop := startIntegrationProvider(t)
	defer stop()

	client := newIntegrationClient(t, baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	confirm := false
	result, err := client.RequestService(ctx, clientsdk.RequestParams{
		ServiceType: "echo",
		Confirm:     &confirm,
	})
	if err != nil {
		t.Fatalf("RequestService: %v", err)
	}
	if result.Status != "delivered" {
		t.Fatalf("expected delivered status with confirm disabled, got %s", result.Status)
	}
}
