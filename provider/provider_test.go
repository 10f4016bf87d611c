package provider

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/cryptosvc"
)

const providerTestKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
const clientTestKey = "0x2a871d0798f97d79848a013d4936a73bf4cc922be07c95e3376f0e1d82c2ff6"

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *cryptosvc.Service) {
	t.Helper()
	client, err := cryptosvc.New(clientTestKey)
	if err != nil {
		t.Fatalf("cryptosvc.New: %v", err)
	}

	cfg := Config{
		PrivateKey: providerTestKey,
		Network:    ivxp.NetworkBaseSepolia,
		Services: []ServiceOffering{
			{Type: "echo", BasePriceUsdc: "1.000000", EstimatedDeliveryHours: 1},
		},
	}
	p, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := NewServer(p)
	return httptest.NewServer(srv.httpServer.Handler), client
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Post %s: %v", path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

func requestQuote(t *testing.T, srv *httptest.Server, client *cryptosvc.Service) map[string]interface{} {
	t.Helper()
	resp := postJSON(t, srv, "/ivxp/request", map[string]interface{}{
		"service_type": "echo",
		"client_agent": map[string]interface{}{
			"name":           "buyer-agent",
			"wallet_address": client.Address(),
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /ivxp/request, got %d", resp.StatusCode)
	}
	var quote map[string]interface{}
	decode(t, resp, &quote)
	return quote
}

func payForOrder(t *testing.T, srv *httptest.Server, client *cryptosvc.Service, orderID, deliveryEndpoint string) *http.Response {
	t.Helper()
	txHash := "0x" + hashLikeHex(orderID)
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := cryptosvc.PaymentMessage(orderID, txHash, timestamp)
	sig, err := client.Sign(message)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	body := map[string]interface{}{
		"order_id":          orderID,
		"tx_hash":           txHash,
		"amount_usdc":       "1.000000",
		"network":           "base-sepolia",
		"message":           message,
		"signature":         sig,
		"signer":            client.Address(),
		"timestamp":         timestamp,
		"signed_message":    message,
		"delivery_endpoint": deliveryEndpoint,
	}
	return postJSON(t, srv, "/ivxp/orders/"+orderID+"/payment", body)
}

func hashLikeHex(seed string) string {
	sum := 0
	for _, r := range seed {
		sum = sum*31 + int(r)
	}
	if sum < 0 {
		sum = -sum
	}
	return padHex(sum)
}

func padHex(n int) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = '0'
	}
	i := len(buf) - 1
	for n > 0 && i >= 0 {
		buf[i] = hexDigits[n%16]
		n /= 16
		i--
	}
	return string(buf)
}

func TestCatalogListsConfiguredServices(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ivxp/catalog")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var catalog map[string]interface{}
	decode(t, resp, &catalog)
	services, _ := catalog["services"].([]interface{})
	if len(services) != 1 {
		t.Fatalf("expected one advertised service, got %+v", catalog)
	}
}

func TestRequestRejectsUnknownServiceType(t *testing.T) {
	srv, client := newTestServer(t)
	defer srv.Close()

	resp := postJSON(t, srv, "/ivxp/request", map[string]interface{}{
		"service_type": "unknown",
		"client_agent": map[string]interface{}{"name": "buyer", "wallet_address": client.Address()},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRequestRejectsMalformedWalletAddress(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := postJSON(t, srv, "/ivxp/request", map[string]interface{}{
		"service_type": "echo",
		"client_agent": map[string]interface{}{"name": "buyer", "wallet_address": "not-an-address"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPullDeliveryHappyPath(t *testing.T) {
	srv, client := newTestServer(t)
	defer srv.Close()

	quote := requestQuote(t, srv, client)
	orderID := quote["order_id"].(string)

	payResp := payForOrder(t, srv, client, orderID, "")
	if payResp.StatusCode != http.StatusOK {
		t.Fatalf("expected payment to be accepted, got %d", payResp.StatusCode)
	}
	payResp.Body.Close()

	var status map[string]interface{}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/ivxp/orders/" + orderID)
		if err != nil {
			t.Fatalf("Get status: %v", err)
		}
		decode(t, resp, &status)
		if status["status"] == "delivered" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status["status"] != "delivered" {
		t.Fatalf("expected order to reach delivered, last status: %+v", status)
	}

	dResp, err := http.Get(srv.URL + "/ivxp/orders/" + orderID + "/deliverable")
	if err != nil {
		t.Fatalf("Get deliverable: %v", err)
	}
	var deliverable map[string]interface{}
	decode(t, dResp, &deliverable)
	if deliverable["order_id"] != orderID {
		t.Fatalf("unexpected deliverable: %+v", deliverable)
	}
}

func TestPaymentRejectsReplayedTxHash(t *testing.T) {
	srv, client := newTestServer(t)
	defer srv.Close()

	quote1 := requestQuote(t, srv, client)
	quote2 := requestQuote(t, srv, client)

	order1 := quote1["order_id"].(string)
	order2 := quote2["order_id"].(string)

	txHash := "0x" + hashLikeHex("shared-tx")
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	pay := func(orderID string) *http.Response {
		message := cryptosvc.PaymentMessage(orderID, txHash, timestamp)
		sig, _ := client.Sign(message)
		return postJSON(t, srv, "/ivxp/orders/"+orderID+"/payment", map[string]interface{}{
			"order_id":       orderID,
			"tx_hash":        txHash,
			"amount_usdc":    "1.000000",
			"network":        "base-sepolia",
			"message":        message,
			"signature":      sig,
			"signer":         client.Address(),
			"timestamp":      timestamp,
			"signed_message": message,
		})
	}

	first := pay(order1)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected first payment to succeed, got %d", first.StatusCode)
	}
	first.Body.Close()

	second := pay(order2)
	defer second.Body.Close()
	if second.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected replayed tx_hash to be rejected, got %d", second.StatusCode)
	}
	var body map[string]interface{}
	decode(t, second, &body)
	if body["error"] != ivxp.ErrPaymentVerificationFailed {
		t.Fatalf("expected PAYMENT_VERIFICATION_FAILED, got %+v", body)
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	srv, client := newTestServer(t)
	defer srv.Close()

	quote := requestQuote(t, srv, client)
	orderID := quote["order_id"].(string)
	payResp := payForOrder(t, srv, client, orderID, "")
	payResp.Body.Close()

	var status map[string]interface{}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, _ := http.Get(srv.URL + "/ivxp/orders/" + orderID)
		decode(t, resp, &status)
		if status["status"] == "delivered" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	confirmOnce := func() *http.Response {
		timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		message := cryptosvc.ConfirmationMessage(orderID, timestamp)
		sig, _ := client.Sign(message)
		return postJSON(t, srv, "/ivxp/orders/"+orderID+"/confirm", map[string]interface{}{
			"order_id":       orderID,
			"signature":      sig,
			"signed_message": message,
			"timestamp":      timestamp,
		})
	}

	first := confirmOnce()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected first confirm to succeed, got %d", first.StatusCode)
	}
	first.Body.Close()

	second := confirmOnce()
	defer second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("expected second confirm to report ORDER_ALREADY_CONFIRMED, got %d", second.StatusCode)
	}
}

func TestPushDeliveryRejectsLocalEndpointWithoutAllowPrivate(t *testing.T) {
	srv, client := newTestServer(t)
	defer srv.Close()

	quote := requestQuote(t, srv, client)
	orderID := quote["order_id"].(string)

	resp := payForOrder(t, srv, client, orderID, "http://127.0.0.1:9/callback")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected push to a private address to be rejected, got %d", resp.StatusCode)
	}
}
