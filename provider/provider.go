// Package provider implements IVXP's Provider runtime: the HTTP surface,
// order lifecycle state machine, payment/signature verification pipeline,
// pluggable service handler registry, background processing, and push/pull
// delivery with an SSRF guard on push targets.
package provider

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/cryptosvc"
	"github.com/ivxp-protocol/ivxp-go/paymentsvc"
	"github.com/ivxp-protocol/ivxp-go/store"
)

// HandlerFunc produces the content for a single order. Returning an error
// sends the order to delivery_failed.
type HandlerFunc func(order ivxp.Order) (content []byte, contentType string, err error)

// ServiceOffering describes one catalog entry a provider advertises.
type ServiceOffering struct {
	Type                   string
	Description            string
	BasePriceUsdc          string
	EstimatedDeliveryHours int
}

// Config wires a Provider's dependencies and static configuration:
// privateKey, services, network, port, host, providerName, orderStore,
// deliverableStore, cryptoService, paymentService, serviceHandlers,
// allowPrivateDeliveryUrls.
type Config struct {
	PrivateKey               string
	Services                 []ServiceOffering
	Network                  ivxp.Network
	Host                     string
	Port                     int
	ProviderName             string
	OrderStore               store.OrderStore
	DeliverableStore         store.DeliverableStore
	CryptoService            *cryptosvc.Service
	PaymentService           *paymentsvc.Service
	ServiceHandlers          map[string]HandlerFunc
	AllowPrivateDeliveryURLs bool
	Logger                   *zap.Logger
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithHandler registers (or replaces) the handler for serviceType.
func WithHandler(serviceType string, fn HandlerFunc) Option {
	return func(c *Config) {
		if c.ServiceHandlers == nil {
			c.ServiceHandlers = make(map[string]HandlerFunc)
		}
		c.ServiceHandlers[serviceType] = fn
	}
}

// WithAllowPrivateDeliveryURLs toggles the dev-only SSRF guard bypass.
func WithAllowPrivateDeliveryURLs(allow bool) Option {
	return func(c *Config) { c.AllowPrivateDeliveryURLs = allow }
}

// WithLogger overrides the provider's structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

func defaultConfig() Config {
	return Config{
		Network:      ivxp.NetworkBaseSepolia,
		Host:         "127.0.0.1",
		ProviderName: "IVXP Provider",
	}
}

// normalizeUsdcAmount pads a configured price like "5" or "5.5" out to the
// wire's fixed 6 fractional digits ("5.000000", "5.500000") so quotes never
// carry a price paymentsvc.ParseUsdc would reject.
func normalizeUsdcAmount(amount string) (string, error) {
	parts := strings.SplitN(amount, ".", 2)
	whole := parts[0]
	if whole == "" {
		whole = "0"
	}
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > usdcFractionalDigits {
		return "", ivxp.New(ivxp.ErrInvalidProviderConfig, fmt.Sprintf("amount %q has more than %d fractional digits", amount, usdcFractionalDigits))
	}
	frac += strings.Repeat("0", usdcFractionalDigits-len(frac))
	combined := whole + frac
	if _, ok := new(big.Int).SetString(combined, 10); !ok {
		return "", ivxp.New(ivxp.ErrInvalidProviderConfig, fmt.Sprintf("amount %q is not a valid decimal", amount))
	}
	return whole + "." + frac, nil
}

const usdcFractionalDigits = 6

// echoHandler is the built-in reference handler: it returns the order's
// serviceType and orderID as a JSON echo, used by the happy-path scenarios.
func echoHandler(order ivxp.Order) ([]byte, string, error) {
	payload := fmt.Sprintf(`{"echo":"%s","orderId":"%s"}`, order.ServiceType, order.OrderID)
	return []byte(payload), "application/json", nil
}

// Provider is the runnable IVXP server-side runtime.
type Provider struct {
	cfg Config

	orders       store.OrderStore
	deliverables store.DeliverableStore
	crypto       *cryptosvc.Service
	payment      *paymentsvc.Service
	handlers     map[string]HandlerFunc
	services     map[string]ServiceOffering
	logger       *zap.SugaredLogger

	paymentAddress string
	startedAt      time.Time
}

// PaymentAddress returns the checksummed address the provider expects
// incoming USDC transfers to land at.
func (p *Provider) PaymentAddress() string {
	return p.paymentAddress
}

// New builds a Provider from cfg merged with defaults and any Options.
func New(cfg Config, opts ...Option) (*Provider, error) {
	base := defaultConfig()
	if cfg.Network == "" {
		cfg.Network = base.Network
	}
	if cfg.Host == "" {
		cfg.Host = base.Host
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = base.ProviderName
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if !ivxp.ValidNetwork(cfg.Network) {
		return nil, ivxp.New(ivxp.ErrInvalidProviderConfig, "unrecognized network: "+string(cfg.Network))
	}
	if cfg.CryptoService == nil {
		crypto, err := cryptosvc.New(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		cfg.CryptoService = crypto
	}
	if cfg.OrderStore == nil {
		cfg.OrderStore = store.NewMemoryOrderStore()
	}
	if cfg.DeliverableStore == nil {
		cfg.DeliverableStore = store.NewMemoryDeliverableStore()
	}
	if cfg.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
		cfg.Logger = logger
	}

	services := make(map[string]ServiceOffering, len(cfg.Services))
	for _, svc := range cfg.Services {
		normalized, err := normalizeUsdcAmount(svc.BasePriceUsdc)
		if err != nil {
			return nil, ivxp.Wrap(ivxp.ErrInvalidProviderConfig, "invalid basePriceUsdc for service "+svc.Type, err)
		}
		svc.BasePriceUsdc = normalized
		services[svc.Type] = svc
	}

	handlers := make(map[string]HandlerFunc, len(cfg.ServiceHandlers)+1)
	handlers["echo"] = echoHandler
	for t, fn := range cfg.ServiceHandlers {
		handlers[t] = fn
	}

	return &Provider{
		cfg:            cfg,
		orders:         cfg.OrderStore,
		deliverables:   cfg.DeliverableStore,
		crypto:         cfg.CryptoService,
		payment:        cfg.PaymentService,
		handlers:       handlers,
		services:       services,
		logger:         cfg.Logger.Sugar(),
		paymentAddress: cfg.CryptoService.Address(),
		startedAt:      time.Now().UTC(),
	}, nil
}
