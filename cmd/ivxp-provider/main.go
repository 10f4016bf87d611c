// Command ivxp-provider runs a standalone IVXP Provider: it serves the
// catalog/request/payment/status/download/confirm HTTP surface for one or
// more configured service offerings. Incoming payments are verified against
// an Ethereum JSON-RPC endpoint when IVXP_RPC_URL and IVXP_USDC_ADDRESS are
// set; otherwise they are accepted without on-chain verification.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/paymentsvc"
	"github.com/ivxp-protocol/ivxp-go/provider"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	privateKey := os.Getenv("IVXP_PRIVATE_KEY")
	if privateKey == "" {
		sugar.Fatal("IVXP_PRIVATE_KEY environment variable is required")
	}

	host := envOr("IVXP_HOST", "127.0.0.1")
	port := envIntOr("IVXP_PORT", 3001)
	providerName := envOr("IVXP_PROVIDER_NAME", "IVXP Provider")
	network := ivxp.Network(envOr("IVXP_NETWORK", string(ivxp.NetworkBaseSepolia)))
	allowPrivate := os.Getenv("IVXP_ALLOW_PRIVATE_DELIVERY_URLS") == "true"

	cfg := provider.Config{
		PrivateKey:   privateKey,
		Network:      network,
		Host:         host,
		Port:         port,
		ProviderName: providerName,
		Services: []provider.ServiceOffering{
			{
				Type:                   "echo",
				Description:            "Echoes the service type and order ID back as JSON",
				BasePriceUsdc:          envOr("IVXP_ECHO_PRICE_USDC", "1.000000"),
				EstimatedDeliveryHours: 0,
			},
		},
		Logger: logger,
	}

	rpcURL := os.Getenv("IVXP_RPC_URL")
	usdcAddress := os.Getenv("IVXP_USDC_ADDRESS")
	if rpcURL != "" && usdcAddress != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		payment, err := paymentsvc.NewFromRPC(ctx, rpcURL, privateKey, usdcAddress)
		cancel()
		if err != nil {
			sugar.Fatalw("failed to connect payment service to RPC endpoint", "url", rpcURL, "err", err)
		}
		cfg.PaymentService = payment
	} else {
		sugar.Warn("IVXP_RPC_URL/IVXP_USDC_ADDRESS not set: payments will be accepted without on-chain verification")
	}

	opts := []provider.Option{provider.WithAllowPrivateDeliveryURLs(allowPrivate)}

	p, err := provider.New(cfg, opts...)
	if err != nil {
		sugar.Fatalw("failed to build provider", "err", err)
	}

	srv := provider.NewServer(p)
	addr, err := srv.Listen()
	if err != nil {
		sugar.Fatalw("failed to start provider server", "err", err)
	}
	sugar.Infow("provider listening",
		"addr", addr,
		"network", network,
		"wallet", p.PaymentAddress(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	sugar.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		sugar.Warnw("error during shutdown", "err", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
