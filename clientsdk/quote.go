package clientsdk

import (
	"context"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/schema"
)

// RequestQuote posts a service request to the Provider and returns the
// priced quote. Emits order.quoted on success.
func (c *Client) RequestQuote(ctx context.Context, serviceType string, params map[string]interface{}) (ivxp.Quote, error) {
	if serviceType == "" {
		return ivxp.Quote{}, ivxp.New(ivxp.ErrInvalidRequestParams, "serviceType must not be empty")
	}

	wire := schema.ServiceRequestWire{
		ServiceType: serviceType,
		Params:      params,
		ClientAgent: schema.ClientAgentWire{
			Name:          "ivxp-client",
			WalletAddress: c.crypto.Address(),
		},
	}

	resp, err := c.http.PostJSON(ctx, "/ivxp/request", wire)
	if err != nil {
		return ivxp.Quote{}, c.wrapTransport("quote", err)
	}
	if !resp.IsSuccess() {
		return ivxp.Quote{}, decodeWireError(resp, "quote")
	}

	var qw schema.QuoteWire
	if err := resp.JSON(&qw); err != nil {
		return ivxp.Quote{}, err
	}
	estimated, err := schema.ParseTimestamp(qw.EstimatedDelivery)
	if err != nil {
		return ivxp.Quote{}, ivxp.Wrap(ivxp.ErrInvalidResponse, "quote carried an unparseable estimated_delivery", err)
	}

	quote := ivxp.Quote{
		OrderID:           qw.OrderID,
		PriceUsdc:         qw.PriceUsdc,
		PaymentAddress:    qw.PaymentAddress,
		Network:           ivxp.Network(qw.Network),
		EstimatedDelivery: estimated,
		ProviderAgent:     qw.ProviderAgent,
	}
	c.emitter.Emit(ivxp.EventOrderQuoted, quote)
	return quote, nil
}

// decodeWireError classifies a non-2xx provider response into a coded
// ivxp.Error, falling back to a generic REQUEST_FAILED when the body
// doesn't carry a recognizable {error, message} shape.
func decodeWireError(resp interface{ JSON(interface{}) error }, step string) error {
	var we wireError
	if err := resp.JSON(&we); err == nil && we.Error != "" {
		return ivxp.New(we.Error, we.Message)
	}
	return ivxp.New(ivxp.ErrRequestFailed, "provider request failed at step "+step)
}
