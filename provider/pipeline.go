package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/hash"
	"github.com/ivxp-protocol/ivxp-go/paymentsvc"
	"github.com/ivxp-protocol/ivxp-go/schema"
)

type apiResult struct {
	httpStatus int
	code       string
}

func badRequest(code string) apiResult { return apiResult{http.StatusBadRequest, code} }

// acceptDelivery runs the delivery-acceptance pipeline: all six checks,
// plus the delivery-endpoint SSRF guard, must pass before any state
// mutation occurs.
func (p *Provider) acceptDelivery(orderID string, proof ivxp.PaymentProof, signedMessage, deliveryEndpoint string) (apiResult, bool) {
	order, err := p.orders.Get(orderID)
	if err != nil {
		return apiResult{http.StatusNotFound, ivxp.ErrOrderNotFound}, false
	}
	if order.Status != ivxp.StatusQuoted {
		return badRequest(ivxp.ErrInvalidOrderStatus), false
	}
	if !strings.Contains(signedMessage, orderID) {
		return badRequest(ivxp.ErrInvalidSignedMessage), false
	}
	if proof.Network != p.cfg.Network {
		return badRequest(ivxp.ErrNetworkMismatch), false
	}

	txHash := strings.ToLower(proof.TxHash)
	if p.orders.TxHashUsed(txHash) {
		return badRequest(ivxp.ErrPaymentVerificationFailed), false
	}

	if p.payment != nil {
		ok, err := p.payment.Verify(context.Background(), txHash, paymentsvc.Expected{
			From:       proof.Signer,
			To:         order.PaymentAddress,
			AmountUsdc: order.PriceUsdc,
		})
		if err != nil || !ok {
			return badRequest(ivxp.ErrPaymentVerificationFailed), false
		}
	}

	sigOK, err := p.crypto.Verify(signedMessage, proof.Signature, order.ClientAddress)
	if err != nil || !sigOK {
		return badRequest(ivxp.ErrSignatureVerificationFailed), false
	}

	deliveryEndpoint = strings.TrimSpace(deliveryEndpoint)
	if deliveryEndpoint != "" {
		if err := validateDeliveryURL(deliveryEndpoint, p.cfg.AllowPrivateDeliveryURLs); err != nil {
			p.logger.Warnw("rejected delivery endpoint", "orderId", orderID, "endpoint", deliveryEndpoint, "err", err)
			return badRequest(ivxp.ErrInvalidDeliveryURL), false
		}
	}

	p.orders.MarkTxHashUsed(txHash)
	if err := p.orders.UpdateStatus(orderID, ivxp.StatusPaid, func(o *ivxp.Order) {
		o.TxHash = txHash
		o.DeliveryEndpoint = deliveryEndpoint
	}); err != nil {
		return apiResult{http.StatusInternalServerError, "INTERNAL_ERROR"}, false
	}
	p.logger.Infow("order paid", "orderId", orderID, "txHash", txHash)

	return apiResult{}, true
}

// processOrder runs the background processing pipeline for a single paid
// order: invoke the handler, hash and store the output, then push or leave
// it for pull delivery.
func (p *Provider) processOrder(orderID string) {
	order, err := p.orders.Get(orderID)
	if err != nil {
		return
	}

	if err := p.orders.UpdateStatus(orderID, ivxp.StatusProcessing, nil); err != nil {
		return
	}
	p.logger.Infow("order processing", "orderId", orderID, "serviceType", order.ServiceType)

	handler, ok := p.handlers[order.ServiceType]
	if !ok {
		p.failOrder(orderID, "no handler registered for service type")
		return
	}

	content, contentType, err := handler(order)
	if err != nil {
		p.failOrder(orderID, "handler returned an error: "+err.Error())
		return
	}

	contentHash := hash.Sum(content)
	if err := p.deliverables.Insert(ivxp.Deliverable{
		OrderID:     orderID,
		Content:     content,
		ContentType: contentType,
		ContentHash: contentHash,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		p.failOrder(orderID, "failed to store deliverable: "+err.Error())
		return
	}

	withContentHash := func(o *ivxp.Order) { o.ContentHash = contentHash }

	if order.DeliveryEndpoint == "" {
		p.orders.UpdateStatus(orderID, ivxp.StatusDelivered, withContentHash)
		p.logger.Infow("order delivered", "orderId", orderID, "mode", "pull", "contentHash", contentHash)
		return
	}

	if err := p.pushDeliverable(order.DeliveryEndpoint, orderID, content, contentType, contentHash); err != nil {
		p.logger.Warnw("push delivery failed", "orderId", orderID, "endpoint", order.DeliveryEndpoint, "err", err)
		p.orders.UpdateStatus(orderID, ivxp.StatusDeliveryFailed, withContentHash)
		return
	}
	p.orders.UpdateStatus(orderID, ivxp.StatusDelivered, withContentHash)
	p.logger.Infow("order delivered", "orderId", orderID, "mode", "push", "endpoint", order.DeliveryEndpoint, "contentHash", contentHash)
}

// failOrder transitions orderID to delivery_failed and logs why.
func (p *Provider) failOrder(orderID, reason string) {
	p.orders.UpdateStatus(orderID, ivxp.StatusDeliveryFailed, nil)
	p.logger.Warnw("order delivery failed", "orderId", orderID, "reason", reason)
}

func (p *Provider) pushDeliverable(endpoint, orderID string, content []byte, contentType, contentHash string) error {
	wire := schema.CallbackWire{
		OrderID:     orderID,
		ContentHash: contentHash,
		ContentType: contentType,
	}
	if isTextual(contentType) {
		wire.Content = string(content)
	} else {
		wire.Content = base64.StdEncoding.EncodeToString(content)
		wire.ContentEncoding = "base64"
	}

	raw, err := json.Marshal(wire)
	if err != nil {
		return err
	}

	p.logger.Infow("pushing deliverable", "orderId", orderID, "endpoint", endpoint, "contentType", contentType)
	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ivxp.New(ivxp.ErrDeliveryFailed, "push delivery endpoint returned non-2xx status")
	}
	return nil
}

type confirmResult struct {
	code     string
	response schema.ConfirmationResponseWire
}

// confirmOrder validates and applies a delivery confirmation.
func (p *Provider) confirmOrder(orderID, signature, signedMessage string) (int, confirmResult) {
	order, err := p.orders.Get(orderID)
	if err != nil {
		return http.StatusNotFound, confirmResult{code: ivxp.ErrOrderNotFound}
	}

	if order.Status == ivxp.StatusConfirmed {
		return http.StatusConflict, confirmResult{code: ivxp.ErrOrderAlreadyConfirmed}
	}
	if order.Status != ivxp.StatusDelivered {
		return http.StatusBadRequest, confirmResult{code: ivxp.ErrInvalidOrderStatus}
	}
	if !strings.Contains(signedMessage, orderID) {
		return http.StatusBadRequest, confirmResult{code: ivxp.ErrInvalidSignedMessage}
	}

	ok, err := p.crypto.Verify(signedMessage, signature, order.ClientAddress)
	if err != nil || !ok {
		return http.StatusBadRequest, confirmResult{code: ivxp.ErrSignatureVerificationFailed}
	}

	confirmedAt := time.Now().UTC()
	if err := p.orders.UpdateStatus(orderID, ivxp.StatusConfirmed, func(o *ivxp.Order) {
		o.ConfirmedAt = &confirmedAt
	}); err != nil {
		return http.StatusInternalServerError, confirmResult{code: "INTERNAL_ERROR"}
	}
	p.logger.Infow("order confirmed", "orderId", orderID, "confirmedAt", confirmedAt)

	return http.StatusOK, confirmResult{
		response: schema.ConfirmationResponseWire{
			Status:      "confirmed",
			ConfirmedAt: schema.FormatTimestamp(confirmedAt),
		},
	}
}
