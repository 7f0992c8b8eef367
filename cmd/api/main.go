package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/wms-platform/purchasing-service/api"
	"github.com/wms-platform/purchasing-service/internal/api/handlers"
	"github.com/wms-platform/purchasing-service/internal/application"
	"github.com/wms-platform/purchasing-service/internal/domain"
	mongoRepo "github.com/wms-platform/purchasing-service/internal/infrastructure/mongodb"
	"github.com/wms-platform/purchasing-service/internal/infrastructure/storage"
	"github.com/wms-platform/purchasing-service/pkg/cloudevents"
	"github.com/wms-platform/purchasing-service/pkg/contracts/asyncapi"
	"github.com/wms-platform/purchasing-service/pkg/contracts/openapi"
	"github.com/wms-platform/purchasing-service/pkg/idempotency"
	"github.com/wms-platform/purchasing-service/pkg/kafka"
	"github.com/wms-platform/purchasing-service/pkg/logging"
	"github.com/wms-platform/purchasing-service/pkg/metrics"
	"github.com/wms-platform/purchasing-service/pkg/middleware"
	"github.com/wms-platform/purchasing-service/pkg/mongodb"
	"github.com/wms-platform/purchasing-service/pkg/outbox"
	"github.com/wms-platform/purchasing-service/pkg/resilience"
	"github.com/wms-platform/purchasing-service/pkg/tracing"
)

const serviceName = "purchasing-service"

type instrumentedMongoClient interface {
	Database() *mongo.Database
	Close(context.Context) error
	HealthCheck(context.Context) error
}

type kafkaProducer interface {
	outbox.EventPublisher
	Close() error
}

// backgroundTask is a process-owned loop: the outbox publisher and the
// expiration monitor.
type backgroundTask interface {
	Start(context.Context) error
	Stop() error
}

type indexed interface {
	EnsureIndexes(context.Context) error
}

type orderRepository interface {
	domain.OrderRepository
	indexed
	GetOutboxRepository() outbox.Repository
}

type idempotencyRepository interface {
	idempotency.KeyRepository
	indexed
}

type repositories struct {
	orders      orderRepository
	products    domain.ProductRepository
	suppliers   domain.SupplierRepository
	numbers     domain.OrderNumberGenerator
	idempotency idempotencyRepository
}

var newInstrumentedMongoClient = func(ctx context.Context, cfg *mongodb.Config, m *metrics.Metrics, logger *logging.Logger) (instrumentedMongoClient, error) {
	client, err := mongodb.NewClient(ctx, cfg, mongodb.NewCommandRecorder(m, logger).Monitor())
	if err != nil {
		return nil, err
	}
	return mongodb.NewInstrumentedClient(client, m, logger), nil
}

var newInstrumentedKafkaProducer = func(cfg *kafka.Config, m *metrics.Metrics, logger *logging.Logger) kafkaProducer {
	return kafka.NewInstrumentedProducer(kafka.NewProducer(cfg), m, logger)
}

var newOutboxPublisher = func(repo outbox.Repository, producer outbox.EventPublisher, logger *logging.Logger, m *metrics.Metrics, cfg *outbox.PublisherConfig) backgroundTask {
	return outbox.NewPublisher(repo, producer, logger, m, cfg)
}

var newRepositories = func(db *mongo.Database, eventFactory *cloudevents.EventFactory, topic string) *repositories {
	return &repositories{
		orders:      mongoRepo.NewOrderRepository(db, eventFactory, topic),
		products:    mongoRepo.NewProductRepository(db),
		suppliers:   mongoRepo.NewSupplierRepository(db),
		numbers:     mongoRepo.NewOrderNumberSequence(db),
		idempotency: idempotency.NewMongoKeyRepository(db),
	}
}

var newExpirationMonitor = func(repo domain.OrderRepository, m *metrics.Metrics, logger *logging.Logger, cfg *application.ExpirationMonitorConfig) backgroundTask {
	return application.NewExpirationMonitor(repo, m, logger, cfg)
}

var newMetrics = metrics.New

var initTracing = tracing.Initialize

var startHTTPServer = func(srv *http.Server) error {
	return srv.ListenAndServe()
}

// createGuard makes POST /orders idempotent per actor. It must run after
// middleware.ActorAuth.
func createGuard(repo idempotency.KeyRepository, logger *logging.Logger, m *metrics.Metrics) gin.HandlerFunc {
	cfg := idempotency.DefaultConfig(serviceName, repo, logger)
	cfg.UserIDExtractor = idempotency.ActorUserID
	if m != nil {
		cfg.Metrics = m
	}
	return idempotency.Middleware(cfg)
}

func main() {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	if err := run(context.Background(), signalCh); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, signalCh <-chan os.Signal) error {
	config, err := loadConfig()
	if err != nil {
		logging.New(logging.DefaultConfig(serviceName)).WithError(err).Error("Invalid configuration")
		return err
	}

	logConfig := logging.DefaultConfig(serviceName)
	logConfig.Level = logging.ParseLevel(config.LogLevel)
	logConfig.Environment = config.Environment
	logger := logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting purchasing-service API")

	tracingConfig := tracing.DefaultConfig(serviceName)
	tracingConfig.OTLPEndpoint = config.Tracing.Endpoint
	tracingConfig.Environment = config.Environment
	tracingConfig.Enabled = config.Tracing.Enabled

	var serviceOpts []application.OrderServiceOption
	tracerProvider, err := initTracing(ctx, tracingConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
	} else if tracerProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
		if tracer := tracerProvider.Tracer(); tracer != nil {
			serviceOpts = append(serviceOpts, application.WithTracer(tracer))
		}
		logger.Info("Tracing initialized", "endpoint", tracingConfig.OTLPEndpoint, "enabled", tracingConfig.Enabled)
	}

	m := newMetrics(metrics.DefaultConfig(serviceName))

	instrumentedMongo, err := newInstrumentedMongoClient(ctx, config.MongoDB, m, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to MongoDB")
		return err
	}
	defer instrumentedMongo.Close(context.Background())
	logger.Info("Connected to MongoDB", "database", config.MongoDB.Database)

	eventFactory := cloudevents.NewEventFactory(cloudevents.SourcePurchasing)
	repos := newRepositories(instrumentedMongo.Database(), eventFactory, config.Kafka.Topic)
	for _, repo := range []indexed{repos.orders, repos.idempotency} {
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Error("Failed to create indexes")
			return err
		}
	}

	kafkaConfig := kafka.DefaultConfig()
	kafkaConfig.Brokers = config.Kafka.Brokers
	kafkaConfig.ClientID = serviceName
	producer := newInstrumentedKafkaProducer(kafkaConfig, m, logger)
	defer producer.Close()
	logger.Info("Kafka producer initialized", "brokers", config.Kafka.Brokers, "topic", config.Kafka.Topic)

	var eventPublisher outbox.EventPublisher = producer
	var requestContract *openapi.Validator
	if config.ContractValidation {
		events, err := asyncapi.NewEventValidator(api.AsyncAPI)
		if err != nil {
			logger.WithError(err).Error("Failed to load AsyncAPI document")
			return err
		}
		eventPublisher = asyncapi.NewValidatingPublisher(producer, events, logger)

		if requestContract, err = openapi.NewValidator(api.OpenAPI); err != nil {
			logger.WithError(err).Error("Failed to load OpenAPI document")
			return err
		}
		logger.Info("Contract validation enabled")
	}

	publisherConfig := outbox.DefaultPublisherConfig()
	publisherConfig.PollInterval = config.OutboxPollInterval
	outboxPublisher := newOutboxPublisher(repos.orders.GetOutboxRepository(), eventPublisher, logger, m, publisherConfig)
	if err := outboxPublisher.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start outbox publisher")
		return err
	}
	defer func() {
		if err := outboxPublisher.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to stop outbox publisher")
		}
	}()
	logger.Info("Outbox publisher started")

	blobBreaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("blob-storage"), logger.Logger, m)
	blobClient := storage.NewBlobClient(storage.BlobClientConfig{
		BaseURL:   config.Blob.BaseURL,
		PublicURL: config.Blob.PublicURL,
		Timeout:   config.Blob.Timeout,
		Retry:     resilience.DefaultRetryConfig(),
	}, blobBreaker, logger)

	orderService := application.NewOrderService(
		repos.orders,
		repos.products,
		repos.suppliers,
		repos.numbers,
		blobClient,
		logger,
		append(serviceOpts,
			application.WithMetrics(m),
			application.WithDocumentRemover(storage.NewLegacyRemover(config.LegacyUploadDir)),
		)...,
	)
	queryService := application.NewQueryService(repos.orders, repos.products, repos.suppliers, logger)

	monitor := newExpirationMonitor(repos.orders, m, logger, &application.ExpirationMonitorConfig{
		Interval:  config.ExpirationCheckInterval,
		BatchSize: application.DefaultExpirationMonitorConfig().BatchSize,
	})
	if err := monitor.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start expiration monitor")
		return err
	}
	defer func() {
		if err := monitor.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to stop expiration monitor")
		}
	}()

	router := gin.New()
	middleware.Setup(router, &middleware.Config{
		Logger:        logger,
		Metrics:       m,
		ServiceName:   serviceName,
		EnableCORS:    true,
		EnableTracing: tracingConfig.Enabled,
	})

	router.GET("/health", middleware.HealthCheck(serviceName))
	router.GET("/ready", middleware.ReadinessCheck(serviceName, instrumentedMongo.HealthCheck))
	router.GET("/metrics", middleware.MetricsEndpoint(m))

	v1 := router.Group("/api/v1", middleware.ActorAuth(nil))
	if requestContract != nil {
		v1.Use(openapi.RequestValidation(requestContract))
	}

	handlers.NewOrderHandler(orderService, queryService, logger, config.MaxUploadBytes).
		RegisterRoutes(v1, createGuard(repos.idempotency, logger, m))

	srv := &http.Server{
		Addr:              config.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	serve := startHTTPServer
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := serve(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server error")
		}
	}()
	logger.Info("Server started", "addr", config.ServerAddr)

	<-signalCh
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	<-serverDone

	logger.Info("Server stopped")
	return nil
}
