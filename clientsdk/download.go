package clientsdk

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/hash"
	"github.com/ivxp-protocol/ivxp-go/schema"
)

// Deliverable is the content a Client downloaded and hash-verified for a
// single order.
type Deliverable struct {
	OrderID     string
	Content     []byte
	ContentType string
	ContentHash string
}

// DownloadDeliverable fetches an order's deliverable, verifies the returned
// orderId matches the one requested (defeats cross-order substitution), and
// independently recomputes and verifies the content hash before returning
// anything to the caller.
func (c *Client) DownloadDeliverable(ctx context.Context, orderID string) (Deliverable, error) {
	resp, err := c.http.Get(ctx, "/ivxp/orders/"+orderID+"/deliverable")
	if err != nil {
		return Deliverable{}, c.wrapTransport("download", err)
	}
	if resp.StatusCode == 404 {
		return Deliverable{}, ivxp.New(ivxp.ErrDeliverableNotReady, "deliverable not ready for order: "+orderID)
	}
	if !resp.IsSuccess() {
		return Deliverable{}, decodeWireError(resp, "download")
	}

	var wire schema.DeliveryResponseWire
	if err := resp.JSON(&wire); err != nil {
		return Deliverable{}, err
	}
	if wire.OrderID != orderID {
		return Deliverable{}, ivxp.New(ivxp.ErrOrderIDMismatch, "provider returned a deliverable for a different order").
			WithDetails(map[string]interface{}{"requested": orderID, "returned": wire.OrderID})
	}

	var content []byte
	if strings.EqualFold(wire.ContentEncoding, "base64") {
		content, err = base64.StdEncoding.DecodeString(wire.Content)
		if err != nil {
			return Deliverable{}, ivxp.Wrap(ivxp.ErrInvalidResponse, "deliverable content is not valid base64", err)
		}
	} else {
		content = []byte(wire.Content)
	}

	computed := hash.Sum(content)
	if !strings.EqualFold(computed, wire.ContentHash) {
		return Deliverable{}, ivxp.New(ivxp.ErrHashMismatch, "downloaded content does not match its declared hash").
			WithDetails(map[string]interface{}{"expected": wire.ContentHash, "computed": computed})
	}

	deliverable := Deliverable{
		OrderID:     wire.OrderID,
		Content:     content,
		ContentType: wire.ContentType,
		ContentHash: wire.ContentHash,
	}
	c.emitter.Emit(ivxp.EventOrderDelivered, deliverable)
	return deliverable, nil
}
