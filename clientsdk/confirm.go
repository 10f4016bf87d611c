package clientsdk

import (
	"context"
	"time"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/cryptosvc"
	"github.com/ivxp-protocol/ivxp-go/schema"
)

// ConfirmationResult is what ConfirmDelivery returns, including on the
// idempotent ORDER_ALREADY_CONFIRMED path: a second confirmation yields
// success, not an error.
type ConfirmationResult struct {
	OrderID     string
	Status      string
	ConfirmedAt time.Time
}

// ConfirmDelivery signs and posts a delivery confirmation for orderID.
// A provider response of ORDER_ALREADY_CONFIRMED is treated as success,
// not an error, since confirmation is idempotent for clients.
func (c *Client) ConfirmDelivery(ctx context.Context, orderID string) (ConfirmationResult, error) {
	now := time.Now().UTC()
	timestamp := schema.FormatTimestamp(now)
	message := cryptosvc.ConfirmationMessage(orderID, timestamp)
	sig, err := c.crypto.Sign(message)
	if err != nil {
		return ConfirmationResult{}, err
	}

	wire := schema.DeliveryConfirmationWire{
		OrderID:       orderID,
		Signature:     sig,
		SignedMessage: message,
		Timestamp:     timestamp,
	}
	resp, err := c.http.PostJSON(ctx, "/ivxp/orders/"+orderID+"/confirm", wire)
	if err != nil {
		return ConfirmationResult{}, c.wrapTransport("confirm", err)
	}

	if !resp.IsSuccess() {
		var we wireError
		_ = resp.JSON(&we)
		if we.Error == ivxp.ErrOrderAlreadyConfirmed {
			result := ConfirmationResult{OrderID: orderID, Status: "confirmed", ConfirmedAt: now}
			c.emitter.Emit(ivxp.EventOrderConfirmed, result)
			return result, nil
		}
		return ConfirmationResult{}, decodeWireError(resp, "confirm")
	}

	var crw schema.ConfirmationResponseWire
	if err := resp.JSON(&crw); err != nil {
		return ConfirmationResult{}, err
	}
	confirmedAt, err := schema.ParseTimestamp(crw.ConfirmedAt)
	if err != nil {
		confirmedAt = now
	}
	result := ConfirmationResult{OrderID: orderID, Status: crw.Status, ConfirmedAt: confirmedAt}
	c.emitter.Emit(ivxp.EventOrderConfirmed, result)
	return result, nil
}
