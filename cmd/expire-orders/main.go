package main

import (
	"context"
	"database/sql"
	"fmt"

	"ms-checkout/internal/config"
	"ms-checkout/internal/kafka"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/order"
	orderdb "ms-checkout/internal/order/db"
	"ms-checkout/internal/payment/paymob"
	"ms-checkout/internal/signer"
	ticketdb "ms-checkout/internal/tickets/db"
	tickets "ms-checkout/internal/tickets/service"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// expire-orders runs one expiry sweep and exits. It is meant to be triggered
// by a scheduler every minute or so.
func main() {
	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Debug("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Orders.TTL)
	defer cancel()

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN())))
	defer sqldb.Close()
	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	var events order.EventPublisher = kafka.NopProducer{}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		events = producer
	}

	// the sweep never settles or fulfils, but the service is built whole
	tokenSigner, err := signer.New(cfg.Signing.Secret)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Token signer: %v", err))
	}
	ticketStore := &ticketdb.DB{Bun: bunDB}
	service := order.NewOrderService(
		&orderdb.DB{Bun: bunDB},
		ticketStore,
		paymob.NewClient(cfg.Paymob, nil, log),
		tickets.NewFulfillmentService(ticketStore, tokenSigner, log),
		events,
		order.Options{
			TTL:             cfg.Orders.TTL,
			Currency:        cfg.Paymob.Currency,
			ExpiryBatchSize: cfg.Orders.ExpiryBatchSize,
			Topics:          cfg.Kafka.Topics,
		},
		log,
	)

	expired, err := service.ExpireStaleOrders(ctx)
	if err != nil {
		log.Fatal("EXPIRY_SWEEP", fmt.Sprintf("Sweep stopped after %d order(s): %v", expired, err))
	}
	log.LogProcess("EXPIRY_SWEEP", fmt.Sprintf("Done, %d order(s) expired", expired))
}
