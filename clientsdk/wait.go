package clientsdk

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/poll"
	"github.com/ivxp-protocol/ivxp-go/schema"
	"github.com/ivxp-protocol/ivxp-go/sse"
)

// WaitForDelivery blocks until orderID reaches a terminal status for
// polling purposes ({delivered, delivery_failed}). If streamURL is
// non-empty it subscribes via SSE first; on SSE exhaustion it emits
// sse_fallback and transparently falls through to polling.
func (c *Client) WaitForDelivery(ctx context.Context, orderID, streamURL string) (ivxp.OrderStatus, error) {
	if streamURL != "" {
		status, err := c.waitViaSSE(ctx, orderID, streamURL)
		if err == nil {
			return status, nil
		}
		if ivxp.CodeOf(err) != ivxp.ErrSSEExhausted {
			return "", err
		}
		c.emitter.Emit(ivxp.EventSSEFallback, map[string]interface{}{"orderId": orderID, "cause": err.Error()})
	}
	return c.pollOrderStatus(ctx, orderID)
}

// waitViaSSE subscribes to the provider's event stream and resolves on the
// first "completed" or "failed" event by fetching authoritative status.
func (c *Client) waitViaSSE(ctx context.Context, orderID, streamURL string) (ivxp.OrderStatus, error) {
	type outcome struct {
		status ivxp.OrderStatus
		err    error
	}
	done := make(chan outcome, 1)
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resolve := func() {
		order, err := c.fetchStatus(ctx, orderID)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		done <- outcome{status: order.Status}
	}

	unsubscribe := sse.Connect(streamCtx, streamURL, sse.Handlers{
		OnCompleted: func(json.RawMessage) { resolve() },
		OnFailed:    func(json.RawMessage) { resolve() },
		OnExhausted: func(err error) {
			select {
			case done <- outcome{err: err}:
			default:
			}
		},
	}, sse.DefaultOptions())
	defer unsubscribe()

	select {
	case <-ctx.Done():
		return "", ivxp.Wrap(ivxp.ErrCancelled, "waiting for delivery cancelled", ctx.Err())
	case o := <-done:
		return o.status, o.err
	}
}

// pollOrderStatus drives the backoff polling engine against GET
// /ivxp/orders/{id}, emitting order.status_changed whenever the observed
// status differs from the prior poll.
func (c *Client) pollOrderStatus(ctx context.Context, orderID string) (ivxp.OrderStatus, error) {
	lastStatus := ivxp.OrderStatus("")
	result, err := poll.Poll(ctx, poll.DefaultOptions(), func(ctx context.Context, attempt int) (poll.Result[ivxp.OrderStatus], error) {
		order, err := c.fetchStatus(ctx, orderID)
		if err != nil {
			return poll.Result[ivxp.OrderStatus]{}, err
		}
		if order.Status != lastStatus {
			if lastStatus != "" {
				c.emitter.Emit(ivxp.EventOrderStatusChanged, map[string]interface{}{"orderId": orderID, "status": order.Status})
			}
			lastStatus = order.Status
		}
		if order.Status == ivxp.StatusDelivered || order.Status == ivxp.StatusDeliveryFailed {
			return poll.Result[ivxp.OrderStatus]{Done: true, Value: order.Status}, nil
		}
		return poll.Continue[ivxp.OrderStatus](), nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

type statusProjection struct {
	OrderID     string
	Status      ivxp.OrderStatus
	ContentHash string
}

func (c *Client) fetchStatus(ctx context.Context, orderID string) (statusProjection, error) {
	resp, err := c.http.Get(ctx, "/ivxp/orders/"+orderID)
	if err != nil {
		return statusProjection{}, c.wrapTransport("wait", err)
	}
	if resp.StatusCode == 404 {
		return statusProjection{}, ivxp.New(ivxp.ErrOrderNotFound, "order not found: "+orderID)
	}
	if !resp.IsSuccess() {
		return statusProjection{}, decodeWireError(resp, "wait")
	}
	var wire schema.OrderStatusWire
	if err := resp.JSON(&wire); err != nil {
		return statusProjection{}, err
	}
	return statusProjection{
		OrderID:     wire.OrderID,
		Status:      ivxp.OrderStatus(strings.TrimSpace(wire.Status)),
		ContentHash: wire.ContentHash,
	}, nil
}
