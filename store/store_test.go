package store

import (
	"testing"
	"time"

	"github.com/ivxp-protocol/ivxp-go"
)

func newTestOrder(id string) ivxp.Order {
	return ivxp.Order{
		OrderID:        id,
		ServiceType:    "echo",
		ClientAddress:  "0x0000000000000000000000000000000000000001",
		PaymentAddress: "0x0000000000000000000000000000000000000002",
		PriceUsdc:      "1.000000",
		Network:        ivxp.NetworkBaseSepolia,
		Status:         ivxp.StatusQuoted,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestCreateThenGet(t *testing.T) {
	s := NewMemoryOrderStore()
	order := newTestOrder("ivxp-1")
	if err := s.Create(order); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get("ivxp-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ivxp.StatusQuoted {
		t.Fatalf("expected quoted status, got %s", got.Status)
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	s := NewMemoryOrderStore()
	order := newTestOrder("ivxp-1")
	if err := s.Create(order); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(order); err == nil {
		t.Fatal("expected error creating duplicate order ID")
	}
}

func TestGetMissingOrderReturnsNotFound(t *testing.T) {
	s := NewMemoryOrderStore()
	_, err := s.Get("missing")
	if ivxp.CodeOf(err) != ivxp.ErrOrderNotFound {
		t.Fatalf("expected ORDER_NOT_FOUND, got %v", err)
	}
}

func TestUpdateStatusFollowsLegalTransitions(t *testing.T) {
	s := NewMemoryOrderStore()
	s.Create(newTestOrder("ivxp-1"))

	err := s.UpdateStatus("ivxp-1", ivxp.StatusPaid, func(o *ivxp.Order) {
		o.TxHash = "0xabc"
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ := s.Get("ivxp-1")
	if got.Status != ivxp.StatusPaid || got.TxHash != "0xabc" {
		t.Fatalf("expected paid status with tx hash recorded, got %+v", got)
	}
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	s := NewMemoryOrderStore()
	s.Create(newTestOrder("ivxp-1"))

	err := s.UpdateStatus("ivxp-1", ivxp.StatusDelivered, nil)
	if ivxp.CodeOf(err) != ivxp.ErrInvalidOrderStatus {
		t.Fatalf("expected INVALID_ORDER_STATUS skipping paid/processing, got %v", err)
	}
}

func TestTxHashReplayTracking(t *testing.T) {
	s := NewMemoryOrderStore()
	if s.TxHashUsed("0xabc") {
		t.Fatal("expected unused tx hash initially")
	}
	s.MarkTxHashUsed("0xabc")
	if !s.TxHashUsed("0xabc") {
		t.Fatal("expected tx hash to be marked used")
	}
}

func TestDeliverableInsertThenGet(t *testing.T) {
	s := NewMemoryDeliverableStore()
	d := ivxp.Deliverable{OrderID: "ivxp-1", Content: []byte("hi"), ContentType: "text/plain", ContentHash: "abc"}
	if err := s.Insert(d); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := s.Get("ivxp-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Content) != "hi" {
		t.Fatalf("expected content 'hi', got %s", got.Content)
	}
}

func TestDeliverableInsertRejectsDuplicate(t *testing.T) {
	s := NewMemoryDeliverableStore()
	d := ivxp.Deliverable{OrderID: "ivxp-1", Content: []byte("hi")}
	s.Insert(d)
	if err := s.Insert(d); ivxp.CodeOf(err) != ivxp.ErrDeliverableAlreadyExists {
		t.Fatalf("expected DELIVERABLE_ALREADY_EXISTS, got %v", err)
	}
}

func TestDeliverableGetMissingReturnsNotReady(t *testing.T) {
	s := NewMemoryDeliverableStore()
	_, err := s.Get("missing")
	if ivxp.CodeOf(err) != ivxp.ErrDeliverableNotReady {
		t.Fatalf("expected DELIVERABLE_NOT_READY, got %v", err)
	}
}
