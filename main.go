package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/DecentralizedJM/TIA-Service-Broadcaster/internal/api"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/internal/bot"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/internal/broadcast"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/internal/events"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/config"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/crypto"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/db"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/exchange"
)

const appVersion = "1.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Config invalid: %v", err)
	}
	log.Printf("🚀 Starting TIA Service Broadcaster %s on port %s", appVersion, cfg.Port)
	log.Printf("📁 Using database: %s", cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ Database init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("❌ Database migrations failed: %v", err)
	}

	vault, err := crypto.NewVault(cfg.MasterEncryptionKey)
	if err != nil {
		log.Fatalf("❌ Vault init failed: %v", err)
	}

	var factory exchange.Factory = exchange.MudrexFactory
	if cfg.ExchangeBaseURL != "" {
		factory = func(apiKey, apiSecret string) exchange.Client {
			return exchange.NewMudrexWithBaseURL(apiKey, apiSecret, cfg.ExchangeBaseURL)
		}
	}

	engine := broadcast.New(database, vault, factory, broadcast.Config{
		Workers:       cfg.MaxConcurrentTrades,
		MinOrderValue: cfg.MinOrderValue,
	})

	// Telegram transport
	tg, err := bot.New(cfg, database, vault, engine, factory, bus)
	if err != nil {
		log.Fatalf("❌ Telegram bot init failed: %v", err)
	}
	go func() {
		if err := tg.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("❌ Telegram bot stopped: %v", err)
		}
	}()

	// SDK API + WebSocket gateway
	server := api.NewServer(bus, database, cfg.APISecret, cfg.JWTSecret, api.ServiceMeta{
		Name:    "tia-service-broadcaster",
		Version: appVersion,
	})
	go func() {
		if err := server.Run(":" + cfg.Port); err != nil {
			log.Fatalf("❌ API server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("👋 Shutting down")
	cancel()
}
