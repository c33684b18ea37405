package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codedeck/sandbox/internal/auth"
	"github.com/codedeck/sandbox/internal/bridge"
	"github.com/codedeck/sandbox/internal/cfg"
	"github.com/codedeck/sandbox/internal/engine"
	"github.com/codedeck/sandbox/internal/handlers"
	"github.com/codedeck/sandbox/internal/logger"
	"github.com/codedeck/sandbox/internal/sandbox"
	"github.com/codedeck/sandbox/internal/sandbox/evictor"
	"github.com/codedeck/sandbox/internal/token"
)

const (
	serviceName = "sandboxd"

	maxReadHeaderTimeout = 5 * time.Second
	maxReadTimeout       = 10 * time.Second
	maxWriteTimeout      = 75 * time.Second

	shutdownTimeout = 10 * time.Second
)

func newAPIServer(ctx context.Context, config cfg.Config, apiStore *handlers.APIStore) *http.Server {
	r := gin.New()
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"User-Agent",
		"Authorization",
	}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "Health check successful")
	})

	authed := r.Group("/", auth.Middleware(config.AccessTokens))
	apiStore.RegisterRoutes(authed)

	return &http.Server{
		Handler: r,
		Addr:    fmt.Sprintf("0.0.0.0:%d", config.APIPort),

		ReadHeaderTimeout: maxReadHeaderTimeout,
		ReadTimeout:       maxReadTimeout,
		WriteTimeout:      maxWriteTimeout,

		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}

func newBridgeServer(ctx context.Context, config cfg.Config, b *bridge.Bridge) *http.Server {
	// No read or write timeouts here: terminal connections are long-lived and
	// idle between keystrokes.
	return &http.Server{
		Handler: b,
		Addr:    fmt.Sprintf("0.0.0.0:%d", config.BridgePort),

		ReadHeaderTimeout: maxReadHeaderTimeout,

		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	config, err := cfg.Parse()
	if err != nil {
		log.Printf("failed to parse configuration: %v\n", err)

		return 1
	}

	l, err := logger.NewLogger(logger.LoggerConfig{
		ServiceName: serviceName,
		IsDebug:     config.Debug,
	})
	if err != nil {
		log.Printf("failed to create logger: %v\n", err)

		return 1
	}
	defer l.Sync()
	zap.ReplaceGlobals(l)

	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	eng, err := engine.NewDockerEngine()
	if err != nil {
		l.Error("failed to create container engine client", zap.Error(err))

		return 1
	}

	manager := sandbox.NewManager(sandbox.NewStore(), eng)
	tokens := token.NewService(config.TokenSecret, config.TokenTTL)

	apiServer := newAPIServer(ctx, config, handlers.NewAPIStore(manager, eng, tokens))
	bridgeServer := newBridgeServer(ctx, config, bridge.New(tokens, eng, manager))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		evictor.New(manager, config.SandboxEvictInterval, config.SandboxIdleTTL).Start(gctx)

		return nil
	})

	g.Go(func() error {
		l.Info("starting control API", zap.String("addr", apiServer.Addr))

		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control API server failed: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		l.Info("starting realtime bridge", zap.String("addr", bridgeServer.Addr))

		if err := bridgeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("realtime bridge server failed: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		l.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			l.Error("control API shutdown failed", zap.Error(err))
		}
		if err := bridgeServer.Shutdown(shutdownCtx); err != nil {
			l.Error("realtime bridge shutdown failed", zap.Error(err))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		l.Error("service exited with error", zap.Error(err))

		return 1
	}

	l.Info("service stopped")

	return 0
}

func main() {
	os.Exit(run())
}
