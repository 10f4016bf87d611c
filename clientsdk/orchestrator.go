package clientsdk

import (
	"context"
	"time"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/paymentsvc"
)

// RequestParams configures a single RequestService call.
type RequestParams struct {
	ServiceType string
	Params      map[string]interface{}

	// BudgetUsdc, if set, caps the quoted price; exceeding it fails with
	// BudgetExceededError before any on-chain action.
	BudgetUsdc string

	// DeliveryEndpoint requests push delivery; typically c.CallbackURL().
	DeliveryEndpoint string

	// SavePath, if set, persists the downloaded deliverable content there.
	SavePath string

	// Confirm controls whether step 5 runs; nil defaults to true.
	Confirm *bool

	// Timeout bounds the entire call; zero means no additional deadline
	// beyond ctx's own.
	Timeout time.Duration

	OnQuote     func(ivxp.Quote)
	OnPayment   func(PaymentResult)
	OnDelivered func(Deliverable)
	OnConfirmed func(ConfirmationResult)
}

// RequestResult is what RequestService returns on success.
type RequestResult struct {
	OrderID     string
	TxHash      string
	Status      string
	Content     []byte
	ContentType string
	ContentHash string
	ConfirmedAt *time.Time
}

// RequestService runs the full quote → pay → wait → download → confirm
// pipeline in one call. A single logical cancellation (ctx, optionally
// bounded further by params.Timeout) covers the entire
// operation; on timeout the returned error is a *ivxp.TimeoutError carrying
// the step it fired at and any partial state (the tx hash, if a payment had
// already gone on-chain).
func (c *Client) RequestService(ctx context.Context, params RequestParams) (RequestResult, error) {
	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	var txHash string

	quote, err := c.RequestQuote(ctx, params.ServiceType, params.Params)
	if err != nil {
		return RequestResult{}, finalizeErr(ctx, "quote", txHash, err)
	}
	if params.OnQuote != nil {
		params.OnQuote(quote)
	}

	if params.BudgetUsdc != "" {
		if err := checkBudget(quote.PriceUsdc, params.BudgetUsdc); err != nil {
			return RequestResult{}, err
		}
	}

	payResult, err := c.SubmitPayment(ctx, quote, PaymentOptions{DeliveryEndpoint: params.DeliveryEndpoint})
	if pse, ok := err.(*ivxp.PartialSuccessError); ok {
		txHash = pse.TxHash
	}
	if err != nil {
		return RequestResult{}, finalizeErr(ctx, "pay", txHash, err)
	}
	txHash = payResult.TxHash
	if params.OnPayment != nil {
		params.OnPayment(payResult)
	}

	status, err := c.WaitForDelivery(ctx, quote.OrderID, payResult.StreamURL)
	if err != nil {
		return RequestResult{}, finalizeErr(ctx, "wait", txHash, err)
	}
	if status == ivxp.StatusDeliveryFailed {
		return RequestResult{}, ivxp.New(ivxp.ErrDeliveryFailed, "provider reported delivery_failed for order "+quote.OrderID).
			WithDetails(map[string]interface{}{"orderId": quote.OrderID, "txHash": txHash})
	}

	deliverable, err := c.DownloadDeliverable(ctx, quote.OrderID)
	if err != nil {
		return RequestResult{}, finalizeErr(ctx, "download", txHash, err)
	}
	if params.OnDelivered != nil {
		params.OnDelivered(deliverable)
	}
	if params.SavePath != "" {
		if err := writeFile(params.SavePath, deliverable.Content); err != nil {
			return RequestResult{}, ivxp.Wrap(ivxp.ErrRequestFailed, "failed to persist deliverable to savePath", err)
		}
	}

	result := RequestResult{
		OrderID:     quote.OrderID,
		TxHash:      txHash,
		Status:      string(status),
		Content:     deliverable.Content,
		ContentType: deliverable.ContentType,
		ContentHash: deliverable.ContentHash,
	}

	confirm := true
	if params.Confirm != nil {
		confirm = *params.Confirm
	}
	if !confirm {
		return result, nil
	}

	cr, err := c.ConfirmDelivery(ctx, quote.OrderID)
	if err != nil {
		return result, finalizeErr(ctx, "confirm", txHash, err)
	}
	if params.OnConfirmed != nil {
		params.OnConfirmed(cr)
	}
	result.Status = cr.Status
	confirmedAt := cr.ConfirmedAt
	result.ConfirmedAt = &confirmedAt
	return result, nil
}

// checkBudget compares priceUsdc and budgetUsdc as integer micro-USDC;
// since both wire amounts already carry exactly 6 fractional digits,
// ParseUsdc's fixed-point parse is exact.
func checkBudget(priceUsdc, budgetUsdc string) error {
	price, err := paymentsvc.ParseUsdc(priceUsdc)
	if err != nil {
		return err
	}
	budget, err := paymentsvc.ParseUsdc(budgetUsdc)
	if err != nil {
		return err
	}
	if price.Cmp(budget) > 0 {
		return ivxp.NewBudgetExceededError(priceUsdc, budgetUsdc)
	}
	return nil
}

// finalizeErr reclassifies err as a *ivxp.TimeoutError carrying step and any
// partial state (the tx hash, if known) when ctx's own deadline is what
// actually ended the operation; otherwise err is returned unchanged so
// callers still see e.g. *ivxp.PartialSuccessError or *ivxp.BudgetExceededError.
func finalizeErr(ctx context.Context, step, txHash string, err error) error {
	if ctx.Err() != context.DeadlineExceeded {
		return err
	}
	partial := map[string]interface{}{}
	if txHash != "" {
		partial["txHash"] = txHash
	}
	return ivxp.NewTimeoutError(step, partial)
}
