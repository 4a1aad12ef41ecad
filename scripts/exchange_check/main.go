package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/exchange"

	"github.com/joho/godotenv"
)

// exchange_check/main.go
//
// Small tool: verify that a set of Mudrex API credentials can reach the
// venue before handing them to the broadcaster.
//
// Usage:
//
//	go run ./scripts/exchange_check
//
// Environment:
//
//	CHECK_API_KEY / CHECK_API_SECRET   credentials to test
//	CHECK_SYMBOL                       asset to look up (default "BTCUSDT")
//	EXCHANGE_BASE_URL                  optional alternate endpoint
//
// Read-only: balance, asset metadata and open positions. No orders are
// placed.
func main() {
	log.Println("=== Exchange API check starting ===")
	_ = godotenv.Load()

	apiKey := os.Getenv("CHECK_API_KEY")
	apiSecret := os.Getenv("CHECK_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		log.Fatal("CHECK_API_KEY / CHECK_API_SECRET are required")
	}
	symbol := getenv("CHECK_SYMBOL", "BTCUSDT")

	var client exchange.Client
	if base := os.Getenv("EXCHANGE_BASE_URL"); base != "" {
		client = exchange.NewMudrexWithBaseURL(apiKey, apiSecret, base)
	} else {
		client = exchange.NewMudrex(apiKey, apiSecret)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	balance, err := client.GetBalance(ctx)
	if err != nil {
		log.Fatalf("[BALANCE] ❌ %v", err)
	}
	log.Printf("[BALANCE] ✅ available: %.2f USDT", balance)

	asset, err := client.GetAsset(ctx, symbol)
	if err != nil {
		log.Fatalf("[ASSET] ❌ %v", err)
	}
	log.Printf("[ASSET] ✅ %s price=%v priceStep=%v qtyStep=%v",
		asset.Symbol, asset.Price, asset.PriceStep, asset.QuantityStep)

	positions, err := client.ListOpenPositions(ctx)
	if err != nil {
		log.Fatalf("[POSITIONS] ❌ %v", err)
	}
	log.Printf("[POSITIONS] ✅ %d open", len(positions))
	for _, p := range positions {
		log.Printf("  - %s %s qty=%v", p.PositionID, p.Symbol, p.Quantity)
	}

	log.Println("=== Exchange API check done ===")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
