package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shopfront/fulfillment/internal/carts"
	"github.com/shopfront/fulfillment/internal/events"
	"github.com/shopfront/fulfillment/internal/fulfillment"
	"github.com/shopfront/fulfillment/internal/httpx"
	"github.com/shopfront/fulfillment/internal/inventory"
	"github.com/shopfront/fulfillment/internal/mongodb"
	"github.com/shopfront/fulfillment/internal/notify"
	"github.com/shopfront/fulfillment/internal/orders"
	"github.com/shopfront/fulfillment/internal/payment"
	"github.com/shopfront/fulfillment/internal/telemetry"
)

type Config struct {
	Environment     string
	HTTPPort        string
	MongoURI        string
	MongoDBName     string
	RedisAddr       string
	RedisPassword   string
	StripeAPIKey    string
	Currency        string
	ImageBaseURL    string
	SendGridAPIKey  string
	EmailFromName   string
	EmailFromAddr   string
	OperatorEmail   string
	KafkaBrokers    []string
	OTLPEndpoint    string
	RequestTimeout  time.Duration
	StepBudget      time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	cfg := &Config{
		Environment:     getEnv("ENV", "development"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:     getEnv("MONGO_DB_NAME", "storefront"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		StripeAPIKey:    getEnv("STRIPE_API_KEY", ""),
		Currency:        getEnv("CURRENCY", "eur"),
		ImageBaseURL:    getEnv("IMAGE_BASE_URL", ""),
		SendGridAPIKey:  getEnv("SENDGRID_API_KEY", ""),
		EmailFromName:   getEnv("EMAIL_FROM_NAME", "Shopfront"),
		EmailFromAddr:   getEnv("EMAIL_FROM_ADDR", ""),
		OperatorEmail:   getEnv("OPERATOR_EMAIL", ""),
		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		RequestTimeout:  30 * time.Second,
		StepBudget:      10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg := loadConfig()
	logger := telemetry.NewLogger(cfg.Environment)

	ctx := context.Background()

	shutdownTracer, err := telemetry.SetupTracer(ctx, "fulfillment-service", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracer(context.Background())

	db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		logger.Error("failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer db.Client().Disconnect(context.Background())
	logger.Info("connected to MongoDB", "uri", cfg.MongoURI)

	if err := orders.EnsureIndexes(ctx, db); err != nil {
		logger.Error("failed to create order indexes", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	// The Stripe client is initialised once here and injected; nothing else
	// in the process touches provider credentials.
	stripeAPI := &client.API{}
	stripeAPI.Init(cfg.StripeAPIKey, nil)
	gateway := payment.NewGateway(stripeAPI, payment.Config{
		Currency:     cfg.Currency,
		ImageBaseURL: cfg.ImageBaseURL,
	}, logger)

	orderRepo := orders.NewMongoRepository(db)
	adjuster := inventory.NewAdjuster(db.Collection("products"), logger)
	reconciler := carts.NewReconciler(carts.NewMongoRepository(db), logger)

	notifier := notify.NewChain(logger, notify.NewSendGrid(notify.SendGridConfig{
		APIKey:        cfg.SendGridAPIKey,
		FromName:      cfg.EmailFromName,
		FromAddress:   cfg.EmailFromAddr,
		OperatorEmail: cfg.OperatorEmail,
	}, logger))

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers...)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
		logger.Info("kafka event publishing enabled", "brokers", cfg.KafkaBrokers)
	}

	orchestrator := fulfillment.NewOrchestrator(
		gateway,
		orderRepo,
		adjuster,
		reconciler,
		notifier,
		publisher,
		fulfillment.NewRedisSessionLock(redisClient, 2*time.Minute),
		logger,
		fulfillment.Options{
			DefaultCurrency: cfg.Currency,
			StepBudget:      cfg.StepBudget,
		},
	)

	handler := httpx.NewPaymentsHandler(
		orchestrator,
		orderRepo,
		cfg.RequestTimeout,
		cfg.Environment == "production",
		logger,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      otelhttp.NewHandler(httpx.NewRouter(handler, logger), "fulfillment-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("fulfillment service listening", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down fulfillment service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("fulfillment service stopped")
}
