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
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/optic/internal/classifier"
	"github.com/example/optic/internal/config"
	"github.com/example/optic/internal/handlers"
	"github.com/example/optic/internal/intake"
	"github.com/example/optic/internal/logging"
	"github.com/example/optic/internal/mockmodel"
	"github.com/example/optic/internal/preview"
	"github.com/example/optic/internal/session"
	"github.com/example/optic/internal/workflow"
)

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := initClassifier(ctx, cfg, logger)

	previews := preview.NewStore("/previews")
	factory := func(sessionID string, observer workflow.Observer) *workflow.Controller {
		return workflow.NewController(client, preview.NewGenerator(previews), logger,
			workflow.WithSessionID(sessionID),
			workflow.WithObserver(observer),
			workflow.WithTimeout(cfg.Classifier.Timeout),
		)
	}
	sessions := session.NewManager(factory, cfg.Session.IdleTTL, logger)
	defer sessions.Close()
	go sessions.Run(ctx, time.Minute)

	tokens, err := session.NewTokens(cfg.Session.Secret, session.DefaultTokenTTL)
	if err != nil {
		logger.Fatal("failed to configure session tokens", zap.Error(err))
	}

	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))
	r.MaxMultipartMemory = cfg.Intake.MaxUploadBytes

	api := handlers.NewAPI(sessions, tokens, intake.New(cfg.Intake.MaxUploadBytes, logger), previews, logger)
	handlers.RegisterRoutes(r, api, session.Middleware(tokens))

	if cfg.Mock.Enabled {
		mockmodel.New(cfg.MockModelLoaded(), cfg.Intake.MaxUploadBytes, logger).RegisterRoutes(r)
		logger.Info("mock classification model mounted", zap.Bool("model_loaded", cfg.MockModelLoaded()))
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           withCORS(r, cfg.CORS.AllowedOrigins),
		ReadHeaderTimeout: 15 * time.Second,
	}

	logger.Info("Optic API listening", zap.String("addr", cfg.Server.Addr))
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initClassifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) classifier.Client {
	baseURL := cfg.Classifier.BaseURL
	if baseURL == "" && cfg.Mock.Enabled {
		baseURL = selfURL(cfg.Server.Addr)
	}

	httpClient, err := classifier.NewHTTPClient(baseURL, &http.Client{}, logger)
	if err != nil {
		logger.Fatal("invalid classifier endpoint", zap.Error(err))
	}
	logger.Info("classification endpoint configured", zap.String("endpoint", httpClient.Endpoint()))

	if cfg.Redis.Addr == "" {
		return httpClient
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.Redis.Addr, logger)
	return classifier.NewCachedClient(httpClient, classifier.NewRedisCache(redisClient), cfg.Redis.TTL, logger)
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func withCORS(h http.Handler, origins []string) http.Handler {
	allowCredentials := true
	for _, origin := range origins {
		if origin == "*" {
			allowCredentials = false
		}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	})(h)
}

// selfURL points the classifier at this process when only the mock model is served.
func selfURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://127.0.0.1:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
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

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
