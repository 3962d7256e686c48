package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"venue-orders/config"
	"venue-orders/internal/api"
	"venue-orders/internal/broker"
	"venue-orders/internal/ledger"
	"venue-orders/internal/lock"
	"venue-orders/internal/memstore"
	"venue-orders/internal/models"
	"venue-orders/internal/notify"
	"venue-orders/internal/redisclient"
	"venue-orders/internal/service"
	"venue-orders/internal/statemachine"
	"venue-orders/internal/store"
	"venue-orders/internal/util"
	"venue-orders/internal/worker"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	app := &cli.App{
		Name:  "venue-orders",
		Usage: "venue order fulfillment service",
		Action: func(*cli.Context) error {
			return serve(cfg)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API and the payment worker",
				Action: func(*cli.Context) error {
					return serve(cfg)
				},
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations",
				Action: func(*cli.Context) error {
					return migrate(cfg)
				},
			},
			{
				Name:  "token",
				Usage: "issue a bearer token for local testing",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sub", Required: true, Usage: "actor id"},
					&cli.StringFlag{Name: "role", Required: true, Usage: "actor role"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: func(c *cli.Context) error {
					role := models.Role(c.String("role"))
					if !role.Valid() {
						return fmt.Errorf("unknown role %q", role)
					}
					token, err := api.IssueToken([]byte(cfg.Auth.JWTSecret), c.String("sub"), role, c.Duration("ttl"))
					if err != nil {
						return err
					}
					fmt.Println(token)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		util.GetLogger().Fatal("Command failed", zap.Error(err))
	}
}

func migrate(cfg *config.Config) error {
	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}
	util.GetLogger().Info("Migrations applied")
	return nil
}

// repositories groups the storage ports the services need
type repositories struct {
	orders    service.OrderRepository
	customers service.CustomerReader
	loyalty   ledger.LoyaltyRepository
	stock     ledger.StockRepository
	events    service.EventLog
}

func serve(cfg *config.Config) error {
	logger := util.GetLogger()
	logger.Info("Starting venue order service",
		zap.String("env", cfg.Server.Env),
		zap.String("store", cfg.Database.Driver),
		zap.String("locks", cfg.Business.LockBackend))

	tp, err := util.InitTracer("venue-orders", cfg.Observ.JaegerEndpoint, cfg.Observ.SampleRatio)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	checks := map[string]api.Pinger{}
	var repos repositories

	switch cfg.Database.Driver {
	case config.StoreMemory:
		mem := memstore.New()
		if cfg.Database.SeedDemo {
			if err := seedDemo(mem); err != nil {
				return fmt.Errorf("failed to seed demo data: %w", err)
			}
			logger.Info("Demo data loaded")
		}
		repos = repositories{orders: mem, customers: mem, loyalty: mem, stock: mem, events: mem}
	case config.StorePostgres:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		logger.Info("Database connected")
		checks["postgres"] = db
		repos = repositories{orders: db, customers: db, loyalty: db, stock: db, events: db}
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Database.Driver)
	}

	var locker lock.Locker
	switch cfg.Business.LockBackend {
	case config.LockLocal:
		locker = lock.NewLocal()
	case config.LockRedis:
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
		logger.Info("Redis connected")
		checks["redis"] = redisClient
		locker = redisclient.NewLocker(redisClient, cfg.Redis.LockTTL)
		if cfg.Database.Driver == config.StoreMemory {
			repos.events = redisClient
		}
	default:
		return fmt.Errorf("unknown lock backend %q", cfg.Business.LockBackend)
	}

	machine, err := statemachine.New()
	if err != nil {
		return fmt.Errorf("failed to build state machine: %w", err)
	}

	loyalty := ledger.NewLoyalty(repos.loyalty, locker, cfg.Business.LockTimeout)
	stock := ledger.NewStock(repos.stock, locker, cfg.Business.LockTimeout)
	router := notify.NewRouter(notify.NewRegistry(cfg.Business.NotifyBuffer),
		notify.WithVersionTTL(cfg.Business.NotifyVersionTTL))

	opts := service.Options{
		Orders:          repos.orders,
		Customers:       repos.customers,
		Machine:         machine,
		Loyalty:         loyalty,
		Stock:           stock,
		Locker:          locker,
		Router:          router,
		LockTimeout:     cfg.Business.LockTimeout,
		ExternalTimeout: cfg.Business.ExternalTimeout,
	}

	var producer *broker.Producer
	if cfg.Kafka.Enabled {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicStatus)
		defer producer.Close()
		opts.Publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicStatus))
	}

	orderService := service.NewOrderService(opts)
	paymentService := service.NewPaymentService(orderService, repos.events)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var paymentWorker *worker.PaymentWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayment, cfg.Kafka.ConsumerGroup)
		paymentWorker = worker.NewPaymentWorker(consumer, paymentService)
		go func() {
			if err := paymentWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Payment worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	api.NewHandler(api.Deps{
		Orders:    orderService,
		Router:    router,
		Loyalty:   loyalty,
		Stock:     stock,
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		Heartbeat: cfg.Business.StreamHeartbeat,
		Checks:    checks,
	}).SetupRoutes(engine)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: engine,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if paymentWorker != nil {
		if err := paymentWorker.Stop(); err != nil {
			logger.Warn("Error stopping payment worker", zap.Error(err))
		}
	}
	orderService.Wait()

	logger.Info("Server exited")
	return nil
}
