package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ms-checkout/internal/auth"
	"ms-checkout/internal/config"
	"ms-checkout/internal/database"
	"ms-checkout/internal/database/migrations"
	"ms-checkout/internal/kafka"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/metrics"
	"ms-checkout/internal/order"
	orderdb "ms-checkout/internal/order/db"
	"ms-checkout/internal/order/order_api"
	"ms-checkout/internal/payment/paymob"
	"ms-checkout/internal/signer"
	"ms-checkout/internal/streaming"
	streamdb "ms-checkout/internal/streaming/db"
	streamredis "ms-checkout/internal/streaming/redis"
	"ms-checkout/internal/streaming/stream_api"
	ticketdb "ms-checkout/internal/tickets/db"
	"ms-checkout/internal/tickets/qr"
	tickets "ms-checkout/internal/tickets/service"
	"ms-checkout/internal/tickets/ticket_api"
	"ms-checkout/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting checkout service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}
	if cfg.Paymob.AllowUnsignedWebhooks {
		log.LogSecurity("CONFIG", "PAYMOB_ALLOW_UNSIGNED_WEBHOOKS is on; unsigned payment callbacks will be accepted")
	}

	ctx := context.Background()

	// --- PostgreSQL ---
	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	switch {
	case cfg.Database.AutoCreateSchema:
		if err := database.CreateSchema(ctx, bunDB); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Schema creation failed: %v", err))
		}
		log.Info("DATABASE", "Schema created from models")
	case cfg.Database.AutoMigrate:
		runner := migrations.NewRunner(bunDB, migrations.Options{
			SourceURL:   cfg.Database.MigrationsPath,
			AutoMigrate: true,
		}, log)
		if err := runner.RunMigrations(); err != nil {
			log.Fatal("MIGRATION", fmt.Sprintf("Migrations failed: %v", err))
		}
	}

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, cfg.Redis.DB))

	// --- Kafka ---
	var events order.EventPublisher = kafka.NopProducer{}
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		events = producer
		log.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		log.Warn("KAFKA", "Kafka disabled, order events will not be published")
	}

	// --- Services ---
	tokenSigner, err := signer.New(cfg.Signing.Secret,
		signer.WithTicketValidity(cfg.Signing.TicketValidity),
		signer.WithStreamValidity(cfg.Signing.StreamValidity),
	)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Token signer: %v", err))
	}

	gateway := paymob.NewClient(cfg.Paymob, paymob.NewRedisTokenCache(redisClient, cfg.Paymob.AuthTokenTTL), log)

	ticketStore := &ticketdb.DB{Bun: bunDB}
	fulfillment := tickets.NewFulfillmentService(ticketStore, tokenSigner, log)
	ticketService := tickets.NewTicketService(ticketStore, tokenSigner, qr.NewQRGenerator(qr.DefaultSize), log)

	orderService := order.NewOrderService(&orderdb.DB{Bun: bunDB}, ticketStore, gateway, fulfillment, events, order.Options{
		TTL:             cfg.Orders.TTL,
		Currency:        cfg.Paymob.Currency,
		ExpiryBatchSize: cfg.Orders.ExpiryBatchSize,
		Topics:          cfg.Kafka.Topics,
	}, log)

	streamService := streaming.NewStreamService(
		&streamdb.DB{Bun: bunDB},
		streamredis.NewSlotLock(redisClient, cfg.Streaming.SlotLockTTL, log),
		tokenSigner,
		cfg.Streaming.ConcurrentLimit,
		log,
	)

	authMiddleware, err := auth.Middleware(ctx, cfg.Auth, log)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("OIDC setup failed: %v", err))
	}

	orderHandler := order_api.NewHandler(orderService, ticketService, log)
	webhookHandler := order_api.NewWebhookHandler(orderService, log)
	ticketHandler := ticket_api.NewHandler(ticketService)
	streamHandler := stream_api.NewHandler(streamService)

	// --- Router ---
	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware(log))

	// --- Public Routes ---
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := bunDB.PingContext(req.Context()); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("unhealthy", "database unreachable"))
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Post("/webhooks/payment-provider", webhookHandler.PaymentProviderWebhook)
	r.Get("/streaming/verify", streamHandler.Verify)

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Post("/checkout/ticket", orderHandler.CheckoutTickets)
		r.Post("/checkout/ppv", orderHandler.CheckoutPPV)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", orderHandler.ListMyOrders)
			r.Get("/{orderID}", orderHandler.GetOrder)
			r.With(auth.RequireRole(auth.RoleAdmin)).Post("/{orderID}/refund", orderHandler.RefundOrder)
			r.With(auth.RequireRole(auth.RoleAdmin)).Post("/{orderID}/fulfillment", orderHandler.RetryFulfillment)
		})

		r.Route("/tickets", func(r chi.Router) {
			r.Get("/", ticketHandler.ListMyTickets)
			r.Get("/{ticketID}", ticketHandler.ViewTicket)
			r.Get("/{ticketID}/qr.png", ticketHandler.TicketQR)
			r.With(auth.RequireRole(auth.RoleManager, auth.RoleAdmin)).Post("/scan", ticketHandler.ScanTicket)
		})

		r.Route("/streaming", func(r chi.Router) {
			r.Post("/auth", streamHandler.Authorize)
			r.Post("/heartbeat", streamHandler.Heartbeat)
			r.Get("/sessions", streamHandler.ListSessions)
			r.Delete("/sessions/{sessionID}", streamHandler.Terminate)
		})
	})
	log.Info("ROUTER", "Checkout, order, ticket and streaming routes registered")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Checkout service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "Checkout service shutdown complete")
	}
}
