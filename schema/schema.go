// Package schema implements IVXP's wire representation: snake_case JSON
// message bodies, structural validation against embedded JSON Schema
// documents, and transforms to and from the domain types in the root ivxp
// package.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ivxp-protocol/ivxp-go"
)

// timestampPattern accepts ISO-8601 timestamps with a trailing Z or an
// explicit numeric offset, with an optional fractional-second component.
var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})$`)

// ValidTimestamp reports whether s matches the IVXP wire timestamp grammar.
func ValidTimestamp(s string) bool {
	return timestampPattern.MatchString(s)
}

// ValidationError describes one structural mismatch against a schema.
type ValidationError struct {
	Field       string
	Description string
}

func (v ValidationError) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Description)
}

// Validate checks raw JSON payload bytes against the named embedded schema
// ("service_request", "payment_proof", "delivery_confirmation", ...) and
// returns the structural errors found, if any.
func Validate(schemaName string, payload []byte) ([]ValidationError, error) {
	schemaJSON, ok := schemas[schemaName]
	if !ok {
		return nil, ivxp.New(ivxp.ErrInvalidRequestParams, "unknown schema: "+schemaName)
	}

	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, ivxp.Wrap(ivxp.ErrInvalidMessage, "failed to parse payload against schema", err)
	}
	if result.Valid() {
		return nil, nil
	}

	var errs []ValidationError
	for _, desc := range result.Errors() {
		errs = append(errs, ValidationError{
			Field:       desc.Context().String(),
			Description: desc.Description(),
		})
	}
	return errs, nil
}

// ServiceRequestWire is the snake_case wire body a client POSTs to request a
// catalog offering.
type ServiceRequestWire struct {
	ServiceType string                 `json:"service_type"`
	Params      map[string]interface{} `json:"params"`
	ClientAgent ClientAgentWire        `json:"client_agent"`
}

// ClientAgentWire identifies the requesting agent on the wire:
// client_agent{name, wallet_address, contact_endpoint?}.
type ClientAgentWire struct {
	Name            string `json:"name"`
	WalletAddress   string `json:"wallet_address"`
	ContactEndpoint string `json:"contact_endpoint,omitempty"`
}

// QuoteWire is the snake_case wire representation of ivxp.Quote.
type QuoteWire struct {
	OrderID           string `json:"order_id"`
	PriceUsdc         string `json:"price_usdc"`
	PaymentAddress    string `json:"payment_address"`
	Network           string `json:"network"`
	EstimatedDelivery string `json:"estimated_delivery"`
	ProviderAgent     string `json:"provider_agent"`
}

// PaymentProofWire is the snake_case wire body a client POSTs to submit payment.
type PaymentProofWire struct {
	OrderID     string `json:"order_id"`
	TxHash      string `json:"tx_hash"`
	AmountUsdc  string `json:"amount_usdc"`
	Network     string `json:"network"`
	Message     string `json:"message"`
	Signature   string `json:"signature"`
	Signer      string `json:"signer"`
	Timestamp   string `json:"timestamp"`
}

// DeliveryConfirmationWire is the snake_case wire body a client POSTs to
// confirm delivery of a completed order.
type DeliveryConfirmationWire struct {
	OrderID       string `json:"order_id"`
	Signature     string `json:"signature"`
	SignedMessage string `json:"signed_message"`
	Timestamp     string `json:"timestamp"`
}

// CallbackWire is what the provider POSTs to a client's delivery endpoint.
type CallbackWire struct {
	OrderID         string `json:"order_id"`
	ContentHash     string `json:"content_hash"`
	ContentType     string `json:"content_type"`
	Content         string `json:"content"`
	ContentEncoding string `json:"content_encoding,omitempty"`
}

// ServiceOfferingWire is one catalog entry on the wire.
type ServiceOfferingWire struct {
	Type                   string `json:"type"`
	Description            string `json:"description,omitempty"`
	BasePriceUsdc          string `json:"base_price_usdc"`
	EstimatedDeliveryHours int    `json:"estimated_delivery_hours"`
}

// ServiceCatalogWire is the GET /ivxp/catalog response.
type ServiceCatalogWire struct {
	Protocol      string                `json:"protocol"`
	Provider      string                `json:"provider"`
	WalletAddress string                `json:"wallet_address"`
	Services      []ServiceOfferingWire `json:"services"`
	MessageType   string                `json:"message_type"`
	Timestamp     string                `json:"timestamp"`
}

// DeliveryAcceptedWire is the response to a successful payment submission.
type DeliveryAcceptedWire struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	StreamURL string `json:"stream_url,omitempty"`
}

// OrderStatusWire is the GET status/{id} response.
type OrderStatusWire struct {
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	Service     string `json:"service"`
	CreatedAt   string `json:"created_at"`
	ContentHash string `json:"content_hash,omitempty"`
}

// DeliveryResponseWire is the GET download/{id} response.
type DeliveryResponseWire struct {
	OrderID         string `json:"order_id"`
	Content         string `json:"content"`
	ContentType     string `json:"content_type"`
	ContentHash     string `json:"content_hash"`
	ContentEncoding string `json:"content_encoding,omitempty"`
	FileName        string `json:"file_name,omitempty"`
}

// ConfirmationResponseWire is the POST confirm/{id} response.
type ConfirmationResponseWire struct {
	Status      string `json:"status"`
	ConfirmedAt string `json:"confirmed_at"`
}

// FormatTimestamp renders t per the wire grammar: RFC3339 in UTC with a
// trailing Z, millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ToWireQuote renders a domain Quote as its wire form.
func ToWireQuote(q ivxp.Quote) QuoteWire {
	return QuoteWire{
		OrderID:           q.OrderID,
		PriceUsdc:         q.PriceUsdc,
		PaymentAddress:    q.PaymentAddress,
		Network:           string(q.Network),
		EstimatedDelivery: q.EstimatedDelivery.UTC().Format(time.RFC3339),
		ProviderAgent:     q.ProviderAgent,
	}
}

// FromWirePaymentProof parses and validates a payment-proof wire body into
// a domain PaymentProof. It rejects malformed timestamps before conversion.
func FromWirePaymentProof(raw []byte) (ivxp.PaymentProof, error) {
	var w PaymentProofWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return ivxp.PaymentProof{}, ivxp.Wrap(ivxp.ErrInvalidRequestParams, "malformed payment proof body", err)
	}
	if !ValidTimestamp(w.Timestamp) {
		return ivxp.PaymentProof{}, ivxp.New(ivxp.ErrInvalidRequestParams, "timestamp does not match ISO-8601 wire grammar: "+w.Timestamp)
	}
	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return ivxp.PaymentProof{}, ivxp.Wrap(ivxp.ErrInvalidRequestParams, "unparseable timestamp", err)
	}
	return ivxp.PaymentProof{
		OrderID:    w.OrderID,
		TxHash:     w.TxHash,
		AmountUsdc: w.AmountUsdc,
		Network:    ivxp.Network(w.Network),
		Message:    w.Message,
		Signature:  w.Signature,
		Signer:     w.Signer,
		Timestamp:  ts,
	}, nil
}

// FromWireDeliveryConfirmation parses a delivery-confirmation wire body.
func FromWireDeliveryConfirmation(raw []byte) (orderID, signature, signedMessage string, err error) {
	var w DeliveryConfirmationWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return "", "", "", ivxp.Wrap(ivxp.ErrInvalidRequestParams, "malformed confirmation body", err)
	}
	if !ValidTimestamp(w.Timestamp) {
		return "", "", "", ivxp.New(ivxp.ErrInvalidRequestParams, "timestamp does not match ISO-8601 wire grammar: "+w.Timestamp)
	}
	return w.OrderID, w.Signature, w.SignedMessage, nil
}

// ParseTimestamp parses a wire timestamp per the IVXP grammar: fractional
// seconds optional, trailing Z or an explicit numeric offset.
func ParseTimestamp(s string) (time.Time, error) {
	return parseTimestamp(s)
}

func parseTimestamp(s string) (time.Time, error) {
	if strings.HasSuffix(s, "Z") {
		return time.Parse(time.RFC3339Nano, s)
	}
	return time.Parse(time.RFC3339Nano, s)
}

// schemas holds the embedded JSON Schema documents keyed by logical name.
var schemas = map[string]string{
	"service_request": `{
		"type": "object",
		"required": ["service_type", "client_agent"],
		"properties": {
			"service_type": {"type": "string", "minLength": 1},
			"params": {"type": "object"},
			"client_agent": {
				"type": "object",
				"required": ["name", "wallet_address"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"wallet_address": {"type": "string", "pattern": "^0x[a-fA-F0-9]{40}$"},
					"contact_endpoint": {"type": "string"}
				}
			}
		}
	}`,
	"payment_proof": `{
		"type": "object",
		"required": ["order_id", "tx_hash", "amount_usdc", "network", "message", "signature", "signer", "timestamp"],
		"properties": {
			"order_id": {"type": "string", "minLength": 1},
			"tx_hash": {"type": "string", "pattern": "^0x[a-fA-F0-9]{64}$"},
			"amount_usdc": {"type": "string", "pattern": "^[0-9]+\\.[0-9]{6}$"},
			"network": {"type": "string"},
			"message": {"type": "string"},
			"signature": {"type": "string", "pattern": "^0x[a-fA-F0-9]{130}$"},
			"signer": {"type": "string", "pattern": "^0x[a-fA-F0-9]{40}$"},
			"timestamp": {"type": "string"}
		}
	}`,
	"delivery_confirmation": `{
		"type": "object",
		"required": ["order_id", "signature", "signed_message", "timestamp"],
		"properties": {
			"order_id": {"type": "string", "minLength": 1},
			"signature": {"type": "string", "pattern": "^0x[a-fA-F0-9]{130}$"},
			"signed_message": {"type": "string"},
			"timestamp": {"type": "string"}
		}
	}`,
	"callback": `{
		"type": "object",
		"required": ["order_id", "content_hash", "content_type", "content"],
		"properties": {
			"order_id": {"type": "string", "minLength": 1},
			"content_hash": {"type": "string", "pattern": "^[a-f0-9]{64}$"},
			"content_type": {"type": "string"},
			"content": {"type": "string"}
		}
	}`,
}
