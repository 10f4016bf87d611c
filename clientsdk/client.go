// Package clientsdk implements IVXP's Client orchestrator: a full state
// machine driving quote → pay → wait → download → confirm against a single
// Provider, including budget/timeout guards, exponential-backoff status
// polling, SSE fallback, partial-success recovery, and an optional
// push-delivery callback server.
package clientsdk

import (
	"context"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/callback"
	"github.com/ivxp-protocol/ivxp-go/cryptosvc"
	"github.com/ivxp-protocol/ivxp-go/httpclient"
	"github.com/ivxp-protocol/ivxp-go/paymentsvc"
)

// CallbackConfig opts the Client into running a push-delivery receiver
// that a caller can hand to RequestService as DeliveryEndpoint.
type CallbackConfig struct {
	Host string
	Port int
}

// Config wires a Client's dependencies and static configuration:
// privateKey, network, httpClient, cryptoService, paymentService,
// callbackServer.
type Config struct {
	ProviderURL    string
	PrivateKey     string
	Network        ivxp.Network
	HTTPClient     *http.Client
	CryptoService  *cryptosvc.Service
	PaymentService *paymentsvc.Service
	CallbackServer *CallbackConfig
	Logger         *zap.Logger
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithLogger overrides the client's structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// Client is the runnable IVXP Client SDK: one orchestrator instance talks to
// a single Provider at cfg.ProviderURL on behalf of a single held wallet.
type Client struct {
	cfg     Config
	http    *httpclient.Client
	crypto  *cryptosvc.Service
	payment *paymentsvc.Service
	emitter *ivxp.EventEmitter
	logger  *zap.SugaredLogger

	callbackServer *callback.Server
	callbackURL    string
}

// New builds a Client from cfg merged with defaults and any Options.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Network == "" {
		cfg.Network = ivxp.NetworkBaseSepolia
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !ivxp.ValidNetwork(cfg.Network) {
		return nil, ivxp.New(ivxp.ErrInvalidProviderConfig, "unrecognized network: "+string(cfg.Network))
	}
	if cfg.ProviderURL == "" {
		return nil, ivxp.New(ivxp.ErrInvalidProviderURL, "providerURL must not be empty")
	}
	if cfg.CryptoService == nil {
		crypto, err := cryptosvc.New(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		cfg.CryptoService = crypto
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	emitter := ivxp.NewEventEmitter()
	logger := cfg.Logger.Sugar()
	emitter.OnPanic(func(t ivxp.EventType, r interface{}) {
		logger.Warnw("event handler panicked", "type", t, "recover", r)
	})

	c := &Client{
		cfg:     cfg,
		http:    httpclient.New(cfg.ProviderURL, cfg.HTTPClient),
		crypto:  cfg.CryptoService,
		payment: cfg.PaymentService,
		emitter: emitter,
		logger:  logger,
	}

	if cfg.CallbackServer != nil {
		if err := c.startCallbackServer(*cfg.CallbackServer); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Client) startCallbackServer(cbCfg CallbackConfig) error {
	addr := net.JoinHostPort(cbCfg.Host, itoa(cbCfg.Port))
	if cbCfg.Host == "" {
		addr = net.JoinHostPort("127.0.0.1", itoa(cbCfg.Port))
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return ivxp.Wrap(ivxp.ErrNetworkError, "failed to bind callback listener", err)
	}

	srv := callback.New(l.Addr().String(), callback.Handlers{
		OnDelivery: func(d callback.Delivery) {
			c.emitter.Emit(ivxp.EventDeliveryReceived, d)
		},
		OnRejected: func(orderID string, reason callback.Rejection) {
			c.emitter.Emit(ivxp.EventDeliveryRejected, map[string]interface{}{
				"orderId":      orderID,
				"reason":       reason.Reason,
				"expectedHash": reason.ExpectedHash,
				"computedHash": reason.ComputedHash,
			})
		},
	})
	srv.Start(l)

	c.callbackServer = srv
	c.callbackURL = "http://" + l.Addr().String() + "/ivxp/callback"
	return nil
}

// CallbackURL returns the push-delivery endpoint a caller can pass as
// DeliveryEndpoint in RequestParams, or "" if no callback server is running.
func (c *Client) CallbackURL() string {
	return c.callbackURL
}

// Address returns the client's checksummed wallet address.
func (c *Client) Address() string {
	return c.crypto.Address()
}

// On registers handler for event type t, emitted during orchestrator steps
// and (for delivery.received/delivery.rejected) by the callback server.
func (c *Client) On(t ivxp.EventType, handler ivxp.Handler) {
	c.emitter.On(t, handler)
}

// Off removes a previously registered handler. No-op if not registered.
func (c *Client) Off(t ivxp.EventType, handler ivxp.Handler) {
	c.emitter.Off(t, handler)
}

// Close stops the callback server, if one is running. Idempotent.
func (c *Client) Close(ctx context.Context) error {
	if c.callbackServer == nil {
		return nil
	}
	return c.callbackServer.Stop(ctx)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// wireError is the generic {error, message} shape the provider returns on
// any non-2xx response: a stable generic message, no internal details.
type wireError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// wrapTransport tags an otherwise-uncoded transport failure with the
// provider URL and orchestrator step it occurred at, preserving the cause.
// Errors already carrying an ivxp code (classified by httpclient) pass
// through unchanged.
func (c *Client) wrapTransport(step string, err error) error {
	if err == nil {
		return nil
	}
	if ivxp.CodeOf(err) != "" {
		return err
	}
	return ivxp.NewProviderError(c.cfg.ProviderURL, step, err)
}
