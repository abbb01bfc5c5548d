package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commerce-core/config"
	"commerce-core/internal/api"
	"commerce-core/internal/audit"
	"commerce-core/internal/broker"
	"commerce-core/internal/circuit"
	"commerce-core/internal/eventbus"
	"commerce-core/internal/payments"
	"commerce-core/internal/redisclient"
	"commerce-core/internal/service"
	"commerce-core/internal/store"
	"commerce-core/internal/util"
	"commerce-core/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting commerce core")

	tp, err := util.InitTracer("commerce-core", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	breakers := circuit.NewRegistry(cfg.Payment.BreakerThreshold, cfg.Payment.BreakerCooldown)
	resolver := payments.NewResolver(cfg.Payment.ProviderTimeout, cfg.Payment.PaystackBaseURL, cfg.Payment.FlutterwaveBaseURL)
	signer := payments.NewReferenceSigner(cfg.Payment.SigningSecret)

	if cfg.Payment.EncryptionKey == "" {
		logger.Warn("No payment encryption key configured, using an ephemeral key; metadata will be unreadable after restart")
	}
	cipher, err := payments.NewMetadataCipher(cfg.Payment.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize payment metadata cipher: %v", err)
	}

	bus := eventbus.New(logger)

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	relay := broker.NewEventRelay(bus, producer)
	log.Println("Kafka producer initialized")

	auditor := audit.NewRecorder(db)
	inventory := service.NewInventoryLedger(db, redisClient)
	orderService := service.NewOrderService(db, inventory, bus, auditor)
	statusService := service.NewStatusService(db, bus, auditor)
	paymentService := service.NewPaymentService(
		db,
		redisClient,
		resolver,
		breakers,
		signer,
		cipher,
		statusService,
		bus,
		auditor,
		service.PaymentOptions{
			AllowedCurrencies: cfg.Payment.AllowedCurrencies,
			VelocityWindow:    cfg.Payment.VelocityWindow,
			Retry: payments.RetryPolicy{
				MaxAttempts:    cfg.Payment.RetryMaxAttempts,
				InitialBackoff: cfg.Payment.RetryInitialBackoff,
			},
		},
	)

	notifier := worker.NewNotifier(bus, db)
	reconciler := worker.NewPaymentReconciler(db, paymentService,
		cfg.Worker.ReconcileInterval, cfg.Worker.ReconcileMinAge, cfg.Worker.ReconcileBatch)
	reconciler.Start()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(orderService, statusService, paymentService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	reconciler.Stop()
	notifier.Close()
	relay.Close()
	bus.Close()

	log.Println("Server exited")
}
