package clientsdk

import (
	"context"
	"strings"
	"time"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/cryptosvc"
	"github.com/ivxp-protocol/ivxp-go/paymentsvc"
	"github.com/ivxp-protocol/ivxp-go/schema"
)

// PaymentOptions configures a single SubmitPayment call.
type PaymentOptions struct {
	// DeliveryEndpoint, when non-empty, requests push delivery to this URL.
	// Leave empty for pull delivery.
	DeliveryEndpoint string
}

// PaymentResult is what SubmitPayment returns on success.
type PaymentResult struct {
	OrderID   string
	TxHash    string
	Status    string
	StreamURL string
}

// deliveryRequestWire is the canonical-and-legacy payment POST body: the
// payment proof fields flattened with the signed-message/delivery-endpoint
// fields the provider's acceptDelivery pipeline reads separately.
type deliveryRequestWire struct {
	OrderID          string `json:"order_id"`
	TxHash           string `json:"tx_hash"`
	AmountUsdc       string `json:"amount_usdc"`
	Network          string `json:"network"`
	Message          string `json:"message"`
	Signature        string `json:"signature"`
	Signer           string `json:"signer"`
	Timestamp        string `json:"timestamp"`
	SignedMessage    string `json:"signed_message"`
	DeliveryEndpoint string `json:"delivery_endpoint,omitempty"`
}

// SubmitPayment sends the USDC transfer for quote, signs the canonical
// payment message, and notifies the Provider. It tries the canonical
// payment endpoint first and falls back to the legacy endpoint only on
// a 404.
//
// If the on-chain send succeeds but the Provider never acknowledges it,
// SubmitPayment returns a *ivxp.PartialSuccessError carrying the tx hash:
// the caller must not assume the payment was lost.
func (c *Client) SubmitPayment(ctx context.Context, quote ivxp.Quote, opts PaymentOptions) (PaymentResult, error) {
	if quote.OrderID == "" || strings.Contains(quote.OrderID, "|") {
		return PaymentResult{}, ivxp.New(ivxp.ErrInvalidRequestParams, "orderId must be non-empty and must not contain '|'")
	}
	if _, err := paymentsvc.ParseUsdc(quote.PriceUsdc); err != nil {
		return PaymentResult{}, err
	}
	if !cryptosvc.IsValidAddress(quote.PaymentAddress) || cryptosvc.IsZeroAddress(quote.PaymentAddress) {
		return PaymentResult{}, ivxp.New(ivxp.ErrInvalidAddress, "paymentAddress is not a well-formed, non-zero address")
	}
	if c.payment == nil {
		return PaymentResult{}, ivxp.New(ivxp.ErrInvalidProviderConfig, "no PaymentService configured")
	}

	txHash, err := c.payment.Send(ctx, quote.PaymentAddress, quote.PriceUsdc)
	if err != nil {
		return PaymentResult{}, err
	}
	c.emitter.Emit(ivxp.EventPaymentSent, map[string]interface{}{"orderId": quote.OrderID, "txHash": txHash})

	timestamp := schema.FormatTimestamp(time.Now())
	message := cryptosvc.PaymentMessage(quote.OrderID, txHash, timestamp)
	sig, err := c.crypto.Sign(message)
	if err != nil {
		return PaymentResult{}, ivxp.NewPartialSuccessError(txHash, err)
	}

	body := deliveryRequestWire{
		OrderID:          quote.OrderID,
		TxHash:           txHash,
		AmountUsdc:       quote.PriceUsdc,
		Network:          string(quote.Network),
		Message:          message,
		Signature:        sig,
		Signer:           c.crypto.Address(),
		Timestamp:        timestamp,
		SignedMessage:    message,
		DeliveryEndpoint: opts.DeliveryEndpoint,
	}

	resp, err := c.http.PostJSON(ctx, "/ivxp/orders/"+quote.OrderID+"/payment", body)
	if err == nil && resp.IsNotFound() {
		resp, err = c.http.PostJSON(ctx, "/ivxp/deliver", body)
	}
	if err != nil {
		return PaymentResult{}, ivxp.NewPartialSuccessError(txHash, c.wrapTransport("pay", err))
	}
	if !resp.IsSuccess() {
		return PaymentResult{}, ivxp.NewPartialSuccessError(txHash, decodeWireError(resp, "pay"))
	}

	var accepted schema.DeliveryAcceptedWire
	if err := resp.JSON(&accepted); err != nil {
		return PaymentResult{}, ivxp.NewPartialSuccessError(txHash, err)
	}

	result := PaymentResult{
		OrderID:   quote.OrderID,
		TxHash:    txHash,
		Status:    "paid",
		StreamURL: accepted.StreamURL,
	}
	c.emitter.Emit(ivxp.EventOrderPaid, result)
	return result, nil
}
