// Command ivxp-client drives one IVXP request against a Provider: quote,
// pay, wait for delivery, download, and confirm, printing progress as
// events arrive.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/clientsdk"
)

func main() {
	providerURL := os.Getenv("IVXP_PROVIDER_URL")
	if providerURL == "" {
		providerURL = "http://127.0.0.1:3001"
	}
	privateKey := os.Getenv("IVXP_PRIVATE_KEY")
	if privateKey == "" {
		fmt.Fprintln(os.Stderr, "IVXP_PRIVATE_KEY environment variable is required")
		os.Exit(1)
	}
	serviceType := envOr("IVXP_SERVICE_TYPE", "echo")
	budget := os.Getenv("IVXP_BUDGET_USDC")

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	client, err := clientsdk.New(clientsdk.Config{
		ProviderURL: providerURL,
		PrivateKey:  privateKey,
		Network:     ivxp.NetworkBaseSepolia,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build client: %v\n", err)
		os.Exit(1)
	}

	client.On(ivxp.EventOrderQuoted, func(e ivxp.Event) {
		fmt.Printf("quoted: %+v\n", e.Payload)
	})
	client.On(ivxp.EventOrderStatusChanged, func(e ivxp.Event) {
		fmt.Printf("status changed: %+v\n", e.Payload)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := client.RequestService(ctx, clientsdk.RequestParams{
		ServiceType: serviceType,
		Params:      map[string]interface{}{"message": "hello from ivxp-client"},
		BudgetUsdc:  budget,
		Timeout:     90 * time.Second,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("order %s confirmed, status=%s, content-type=%s\n", result.OrderID, result.Status, result.ContentType)
	if isJSON(result.ContentType) {
		var pretty json.RawMessage = result.Content
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err == nil {
			fmt.Println(string(out))
			return
		}
	}
	fmt.Println(string(result.Content))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "json")
}
