package main

import (
	"context"
	"database/sql"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"

	"github.com/rl1809/storefront/internal/adapter/gateway"
	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/messaging"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	log := logrus.New()
	log.Formatter = &logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyMsg:   "message",
		},
		TimestampFormat: time.RFC3339Nano,
	}
	log.Out = os.Stdout

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Level = cfg.LogLevel()

	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Snapshot store
	var snapshots port.SnapshotRepository = storage.NewMemorySnapshotStore()
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		snapshots = storage.NewRedisSnapshotStore(rdb, cfg.Redis.SnapshotTTL)
		log.Info("connected to redis")
	} else {
		log.Info("redis not configured, cart snapshots kept in memory")
	}

	// Checkout log
	var attempts port.CheckoutRepository = storage.NewMemoryCheckoutLog()
	var db *sql.DB
	if cfg.MySQL.DSN != "" {
		db, err = sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("failed to ping mysql: %v", err)
		}
		attempts = storage.NewMySQLCheckoutLog(db)
		log.Info("connected to mysql")
	} else {
		log.Info("mysql not configured, checkout attempts kept in memory")
	}

	// Outcome publisher
	var publisher port.OutcomePublisher = messaging.NewLogPublisher(log)
	var kafkaPublisher *messaging.KafkaPublisher
	if cfg.Kafka.Broker != "" {
		kafkaPublisher = messaging.NewKafkaPublisher(cfg.Kafka.Broker, cfg.Kafka.Topic, log.WithField("component", "kafka"))
		publisher = kafkaPublisher
		log.WithField("topic", cfg.Kafka.Topic).Info("publishing checkout outcomes to kafka")
	}

	gw := gateway.NewHTTPGateway(gateway.Config{
		BaseURL:     cfg.Inventory.URL,
		Timeout:     cfg.Inventory.Timeout,
		MaxRetries:  cfg.Inventory.RetryLimit(),
		BaseBackoff: cfg.Inventory.BaseBackoff,
		Paths: gateway.Paths{
			Catalog:           cfg.Inventory.Paths.Catalog,
			Reserve:           cfg.Inventory.Paths.Reserve,
			Release:           cfg.Inventory.Paths.Release,
			CreateTransaction: cfg.Inventory.Paths.CreateTransaction,
			CommitStatus:      cfg.Inventory.Paths.CommitStatus,
		},
	})
	log.WithField("url", cfg.Inventory.URL).Info("inventory gateway configured")

	sessions := service.NewSessions(gw, snapshots, attempts, publisher, service.SessionConfig{
		IdleTTL:       cfg.Session.IdleTTL,
		FailurePolicy: cfg.FailurePolicy(),
	}, log)

	// Idle session janitor
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sessions.Run(ctx)
	}()

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterStorefrontServer(grpcServer, handler.NewGRPCHandler(sessions, cfg.Catalog.PageSize, log))

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	go func() {
		log.Infof("gRPC server listening on :%s", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("gRPC server error: %v", err)
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(sessions, cfg.Catalog.PageSize, log)

	var h http.Handler = httpHandler.Router()
	h = handler.NewLogHandler(log, h)
	h = handler.EnsureSessionID(h)
	h = otelhttp.NewHandler(h, "storefront")

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("HTTP server listening on :%s", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	// Stop HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info("HTTP server stopped")

	// Stop gRPC server
	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// Stop the janitor
	cancel()
	wg.Wait()
	log.Info("session janitor stopped")

	// Close connections
	if kafkaPublisher != nil {
		kafkaPublisher.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	log.Info("connections closed")
}
