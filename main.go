package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/cors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/fan-verify/internal/auth"
	"github.com/example/fan-verify/internal/config"
	"github.com/example/fan-verify/internal/geminiclient"
	"github.com/example/fan-verify/internal/handlers"
	"github.com/example/fan-verify/internal/logging"
	"github.com/example/fan-verify/internal/metrics"
	"github.com/example/fan-verify/internal/repository"
	"github.com/example/fan-verify/internal/retry"
	"github.com/example/fan-verify/internal/usecase"
)

type store interface {
	usecase.VerificationStore
	usecase.AccountStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Development())
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck
	if !cfg.EnvFileLoaded {
		logger.Warn("no .env file found, using process environment")
	}

	appCtx, stop := context.WithCancel(context.Background())
	defer stop()
	ctx, cancel := context.WithTimeout(appCtx, 15*time.Second)
	defer cancel()

	st, closeStore := initStore(ctx, cfg, logger)
	defer closeStore()

	cache := initCache(ctx, cfg, logger)

	if cfg.GeminiAPIKey == "" {
		logger.Fatal("GEMINI_API_KEY is required")
	}
	classifier, classifierCloser, err := geminiclient.Dial(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		logger.Fatal("failed to create vision classifier", zap.Error(err))
	}
	defer classifierCloser.Close()

	m := metrics.New()
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTAudience, cfg.JWTExpiresIn)

	var google usecase.GoogleTokenVerifier
	if cfg.GoogleClientID != "" {
		verifier, err := auth.NewGoogleVerifier(appCtx, cfg.GoogleJWKSURL, cfg.GoogleClientID)
		if err != nil {
			logger.Fatal("failed to load google signing keys", zap.Error(err))
		}
		google = verifier
	} else {
		logger.Warn("GOOGLE_CLIENT_ID not set, google sign-in disabled")
	}

	verification := usecase.NewVerificationUseCase(st, cache, classifier, m, logger, usecase.Options{
		ClassifierTimeout: cfg.ClassifierTimeout,
		MaxImageBytes:     cfg.MaxImageBytes,
		ClassifierRetry: retry.Policy{
			Attempts:       2,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Transient:      geminiclient.IsTransient,
		},
	})
	accounts := usecase.NewAccountUseCase(st, tokens, google, m, logger)

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	addr := ":" + cfg.Port
	server := newHTTPServer(addr, handlers.Dependencies{
		Verification:   verification,
		Accounts:       accounts,
		Tokens:         tokens,
		MetricsHandler: m.Handler(),
		Logger:         logger,
		Development:    cfg.Development(),
		MaxImageBytes:  cfg.MaxImageBytes,
		Cookie: auth.CookieOptions{
			MaxAgeSeconds: cfg.CookieExpiresInDays * 24 * 60 * 60,
			Secure:        !cfg.Development(),
		},
	}, cfg.AllowedOrigins)

	logger.Info("fan verification API listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// newHTTPServer mounts the API routes behind request logging and CORS.
func newHTTPServer(addr string, deps handlers.Dependencies, origins []string) *http.Server {
	r := gin.New()
	r.MaxMultipartMemory = deps.MaxImageBytes
	r.Use(logging.GinMiddleware(deps.Logger))
	handlers.RegisterRoutes(r, deps)

	return &http.Server{
		Addr:              addr,
		Handler:           withCORS(r, origins),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// withCORS allows credentialed requests from the configured front-end origins.
func withCORS(h http.Handler, origins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Requested-With", logging.RequestIDHeader},
		ExposedHeaders:   []string{logging.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
	})
	return c.Handler(h)
}

func initStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store, func()) {
	if cfg.StoreDriver == config.StoreMongo {
		client := initMongo(ctx, cfg.MongoURI, logger)
		s := repository.NewMongoStore(client, cfg.MongoDatabase, logger)
		if err := s.EnsureIndexes(ctx); err != nil {
			logger.Fatal("mongo index creation failed", zap.Error(err))
		}
		return s, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		}
	}

	db := initDatabase(ctx, cfg.DatabaseDSN, cfg.Development(), logger)
	s := repository.NewPostgresStore(db, logger)
	if err := s.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}
	return s, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func initDatabase(ctx context.Context, dsn string, development bool, zapLogger *zap.Logger) *gorm.DB {
	level := gormlogger.Warn
	if development {
		level = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(level)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initMongo(ctx context.Context, uri string, zapLogger *zap.Logger) *mongo.Client {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		zapLogger.Fatal("failed to connect to mongo", zap.Error(err))
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		zapLogger.Fatal("mongo ping failed", zap.Error(err))
	}
	return client
}

// initCache returns a Redis backed cache, or a no-op cache when REDIS_ADDR is unset.
func initCache(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) usecase.Cache {
	if cfg.RedisAddr == "" {
		zapLogger.Info("REDIS_ADDR not set, status cache disabled")
		return usecase.NoopCache{}
	}
	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(redisCtx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return usecase.NewRedisCache(client)
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
