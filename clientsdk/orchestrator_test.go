package clientsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/hash"
)

// stubProvider fakes just enough of the wire surface for RequestService to
// run its full quote -> pay -> wait -> download -> confirm pipeline against
// a single in-memory order.
func stubProvider(t *testing.T, content []byte) *httptest.Server {
	t.Helper()
	sum := hash.Sum(content)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/ivxp/request":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"order_id":           "ivxp-1",
				"price_usdc":         "1.000000",
				"payment_address":    "0x0000000000000000000000000000000000000002",
				"network":            "base-sepolia",
				"estimated_delivery": "2026-01-01T00:00:00.000Z",
				"provider_agent":     "demo-provider",
			})
		case r.URL.Path == "/ivxp/orders/ivxp-1/payment":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"order_id": "ivxp-1",
				"status":   "paid",
				"message":  "accepted",
			})
		case r.URL.Path == "/ivxp/orders/ivxp-1" && r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"order_id": "ivxp-1", "status": "delivered"})
		case r.URL.Path == "/ivxp/orders/ivxp-1/deliverable":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"order_id":     "ivxp-1",
				"content":      string(content),
				"content_type": "application/json",
				"content_hash": sum,
			})
		case r.URL.Path == "/ivxp/orders/ivxp-1/confirm":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "confirmed", "confirmed_at": "2026-01-01T00:00:01.000Z"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestRequestServiceHappyPath(t *testing.T) {
	content := []byte(`{"echo":"ok"}`)
	srv := stubProvider(t, content)
	defer srv.Close()

	c, err := New(Config{
		ProviderURL:    srv.URL,
		PrivateKey:     clientTestKey,
		Network:        ivxp.NetworkBaseSepolia,
		PaymentService: newTestPaymentService(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := c.RequestService(context.Background(), RequestParams{ServiceType: "echo"})
	if err != nil {
		t.Fatalf("RequestService: %v", err)
	}
	if result.OrderID != "ivxp-1" || result.Status != "confirmed" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if string(result.Content) != string(content) {
		t.Fatalf("unexpected content: %s", result.Content)
	}
	if result.ConfirmedAt == nil {
		t.Fatal("expected ConfirmedAt to be set")
	}
}

func TestRequestServiceSkipsConfirmWhenDisabled(t *testing.T) {
	content := []byte(`{"echo":"ok"}`)
	srv := stubProvider(t, content)
	defer srv.Close()

	c, err := New(Config{
		ProviderURL:    srv.URL,
		PrivateKey:     clientTestKey,
		Network:        ivxp.NetworkBaseSepolia,
		PaymentService: newTestPaymentService(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	no := false
	result, err := c.RequestService(context.Background(), RequestParams{ServiceType: "echo", Confirm: &no})
	if err != nil {
		t.Fatalf("RequestService: %v", err)
	}
	if result.ConfirmedAt != nil {
		t.Fatalf("expected no confirmation to run, got %+v", result.ConfirmedAt)
	}
	if result.Status != "delivered" {
		t.Fatalf("expected status to remain delivered, got %s", result.Status)
	}
}

func TestRequestServiceEnforcesBudget(t *testing.T) {
	content := []byte(`{"echo":"ok"}`)
	srv := stubProvider(t, content)
	defer srv.Close()

	c, err := New(Config{
		ProviderURL:    srv.URL,
		PrivateKey:     clientTestKey,
		Network:        ivxp.NetworkBaseSepolia,
		PaymentService: newTestPaymentService(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.RequestService(context.Background(), RequestParams{ServiceType: "echo", BudgetUsdc: "0.500000"})
	if _, ok := err.(*ivxp.BudgetExceededError); !ok {
		t.Fatalf("expected *ivxp.BudgetExceededError, got %T: %v", err, err)
	}
}

func TestRequestServiceFailsOnDeliveryFailedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/ivxp/request":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"order_id":           "ivxp-1",
				"price_usdc":         "1.000000",
				"payment_address":    "0x0000000000000000000000000000000000000002",
				"network":            "base-sepolia",
				"estimated_delivery": "2026-01-01T00:00:00.000Z",
			})
		case r.URL.Path == "/ivxp/orders/ivxp-1/payment":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"order_id": "ivxp-1", "status": "paid"})
		case r.URL.Path == "/ivxp/orders/ivxp-1" && r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"order_id": "ivxp-1", "status": "delivery_failed"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := New(Config{
		ProviderURL:    srv.URL,
		PrivateKey:     clientTestKey,
		Network:        ivxp.NetworkBaseSepolia,
		PaymentService: newTestPaymentService(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.RequestService(context.Background(), RequestParams{ServiceType: "echo"})
	if ivxp.CodeOf(err) != ivxp.ErrDeliveryFailed {
		t.Fatalf("expected DELIVERY_FAILED, got %v", err)
	}
}
