package clientsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ivxp-protocol/ivxp-go"
)

func TestConfirmDeliveryParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ivxp/orders/ivxp-1/confirm" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       "confirmed",
			"confirmed_at": "2026-01-01T00:00:00.000Z",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	result, err := c.ConfirmDelivery(context.Background(), "ivxp-1")
	if err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}
	if result.Status != "confirmed" {
		t.Fatalf("unexpected status: %s", result.Status)
	}
}

func TestConfirmDeliveryTreatsAlreadyConfirmedAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": ivxp.ErrOrderAlreadyConfirmed, "message": "Invalid request"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	result, err := c.ConfirmDelivery(context.Background(), "ivxp-1")
	if err != nil {
		t.Fatalf("expected ORDER_ALREADY_CONFIRMED to be treated as success, got error: %v", err)
	}
	if result.OrderID != "ivxp-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestConfirmDeliverySurfacesOtherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": ivxp.ErrInvalidOrderStatus, "message": "Invalid request"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.ConfirmDelivery(context.Background(), "ivxp-1")
	if ivxp.CodeOf(err) != ivxp.ErrInvalidOrderStatus {
		t.Fatalf("expected INVALID_ORDER_STATUS, got %v", err)
	}
}
