package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/Ramsey-B/partnermap/config"
	batchrepo "github.com/Ramsey-B/partnermap/internal/repositories/batch"
	entityrepo "github.com/Ramsey-B/partnermap/internal/repositories/entity"
	noderepo "github.com/Ramsey-B/partnermap/internal/repositories/node"
	stagingrepo "github.com/Ramsey-B/partnermap/internal/repositories/staging"
	"github.com/Ramsey-B/partnermap/pkg/analyzer"
	"github.com/Ramsey-B/partnermap/pkg/batch"
	"github.com/Ramsey-B/partnermap/pkg/consolidation"
	"github.com/Ramsey-B/partnermap/pkg/database"
	"github.com/Ramsey-B/partnermap/pkg/decision"
	"github.com/Ramsey-B/partnermap/pkg/events"
	"github.com/Ramsey-B/partnermap/pkg/graph"
	"github.com/Ramsey-B/partnermap/pkg/kafka"
	"github.com/Ramsey-B/partnermap/pkg/middleware"
	"github.com/Ramsey-B/partnermap/pkg/redis"
	"github.com/Ramsey-B/partnermap/pkg/registry"
	batchroutes "github.com/Ramsey-B/partnermap/pkg/routes/batch"
	"github.com/Ramsey-B/partnermap/pkg/routes/category"
	consolidationroutes "github.com/Ramsey-B/partnermap/pkg/routes/consolidation"
	decisionroutes "github.com/Ramsey-B/partnermap/pkg/routes/decision"
	entityroutes "github.com/Ramsey-B/partnermap/pkg/routes/entity"
	"github.com/Ramsey-B/partnermap/pkg/routes/health"
	noderoutes "github.com/Ramsey-B/partnermap/pkg/routes/node"
	"github.com/Ramsey-B/partnermap/pkg/startup"
	"github.com/Ramsey-B/partnermap/pkg/tracing"
	"github.com/Ramsey-B/partnermap/pkg/tracing/exporters"
)

// locker is satisfied by both redis.Locker and redis.NoopLocker.
type locker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context) error, keys ...string) error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zapConfig.Level = level

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapadapter.NewZapEctoLogger(zapLogger.With(zap.String("app", cfg.AppName)), nil), nil
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.AppName, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
		Headers:  exporters.ParseHeaders(cfg.OTLPHeaders),
		Timeout:  cfg.OTLPTimeout,
	})
	if err != nil {
		return err
	}

	var (
		db        database.DB
		rdb       *redis.Client
		producer  *kafka.Producer
		graphDB   *graph.Client
		lock      locker          = redis.NoopLocker{}
		projector graph.Projector = graph.Noop{}
		publisher events.Publisher
	)

	checker := health.NewChecker(cfg.Version)
	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	boot.AddDependency(startup.Func{
		Name: "database",
		OnStart: func(ctx context.Context) error {
			conn, err := database.Open(ctx, database.Config{
				Driver:          cfg.DatabaseDriver,
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				UserName:        cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			})
			if err != nil {
				return err
			}

			migrations := database.NewMigrationService(logger, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
				Version:             cfg.DatabaseMigrationVersion,
				Force:               cfg.DatabaseMigrationForce,
				AutoRollback:        cfg.DatabaseMigrationAutoRollback,
			})
			if err := migrations.MigratePostgres(conn, cfg.DatabaseName); err != nil {
				_ = conn.Close()
				return err
			}

			db = database.NewDatabaseInstance(conn, logger)
			checker.AddCheck("database", true, db.PingContext)
			return nil
		},
		OnStop: func(context.Context) error {
			if db == nil {
				return nil
			}
			return db.Close()
		},
	})

	if cfg.RedisEnabled {
		boot.AddDependency(startup.Func{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, redis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, logger)
				if err != nil {
					return err
				}
				rdb = client
				lock = redis.NewLocker(client, cfg.RedisLockPrefix, cfg.RedisLockTTL, cfg.RedisLockWait)
				checker.AddCheck("redis", true, client.Ping)
				return nil
			},
			OnStop: func(context.Context) error {
				if rdb == nil {
					return nil
				}
				return rdb.Close()
			},
		})
	}

	if cfg.KafkaEnabled {
		boot.AddDependency(startup.Func{
			Name: "kafka",
			OnStart: func(context.Context) error {
				producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      cfg.KafkaBrokers,
					Topic:        cfg.KafkaOutputTopic,
					BatchSize:    cfg.KafkaBatchSize,
					BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
					RequiredAcks: cfg.KafkaRequiredAcks,
					Compression:  cfg.KafkaCompression,
				}, logger)
				publisher = producer
				return nil
			},
			OnStop: func(context.Context) error {
				if producer == nil {
					return nil
				}
				return producer.Close()
			},
		})
	}

	if cfg.GraphEnabled {
		boot.AddDependency(startup.Func{
			Name: "graph",
			OnStart: func(ctx context.Context) error {
				client, err := graph.NewClient(graph.Config{
					Host:     cfg.GraphDBHost,
					Port:     cfg.GraphDBPort,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
				}, logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return fmt.Errorf("failed to reach graph database: %w", err)
				}
				graphDB = client
				projector = graph.NewProjection(client, logger)
				// the projection is eventually consistent; an outage only degrades
				checker.AddCheck("graph", false, client.VerifyConnectivity)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				if graphDB == nil {
					return nil
				}
				return graphDB.Close(ctx)
			},
		})
	}

	if err := boot.Start(ctx); err != nil {
		return err
	}

	var emitter *events.Emitter
	if publisher != nil {
		emitter = events.NewEmitter(publisher, logger)
	}

	batches := batchrepo.NewRepository(db, logger)
	staging := stagingrepo.NewRepository(db, logger)
	entities := entityrepo.NewRepository(db, logger)
	nodes := noderepo.NewRepository(db, logger)

	batchService := batch.NewService(logger, db, lock, batches, staging, entities, nodes, emitter, projector)
	dedupAnalyzer := analyzer.NewAnalyzer(logger, batches, staging, entities, nodes, cfg.AnalyzerConcurrency)
	processor := decision.NewProcessor(logger, db, lock, batches, staging, entities, nodes, emitter, projector)
	registryService := registry.NewService(logger, lock, entities, nodes, emitter, projector)
	consolidationService := consolidation.NewService(logger, db, lock, entities, nodes, emitter, projector, cfg.GroupingThreshold)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	batchroutes.NewHandler(batchService, dedupAnalyzer).Register(api.Group("/batches"))
	decisionroutes.NewHandler(processor).Register(api.Group("/decisions"))
	entityroutes.NewHandler(registryService, consolidationService).Register(api.Group("/entities"))
	noderoutes.NewHandler(registryService).Register(api.Group("/nodes"))
	consolidationroutes.NewHandler(consolidationService).Register(api.Group("/consolidation"))
	category.Register(api.Group("/categories"))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Infof("Starting %s", cfg.AppName)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	checker.SetReady(true)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("HTTP server failed")
		}
	}

	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	logger.Info("Shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server")
	}
	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to stop dependencies")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to flush traces")
	}
	return nil
}
