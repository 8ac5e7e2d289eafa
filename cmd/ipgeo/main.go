package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TomasB/ipgeo/internal/config"
	"github.com/TomasB/ipgeo/internal/data"
	grpchandler "github.com/TomasB/ipgeo/internal/handler/grpc"
	"github.com/TomasB/ipgeo/internal/handler/health"
	"github.com/TomasB/ipgeo/internal/handler/lookup"
	"github.com/TomasB/ipgeo/internal/metrics"
	"github.com/TomasB/ipgeo/pkg/ipinfo"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
)

const requestIDHeader = "X-Request-ID"

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	slog.Info("service starting", "log_level", cfg.LogLevel, "version", ipinfo.Version)

	// Set Gin mode based on log level
	if cfg.SlogLevel() == slog.LevelDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := []ipinfo.Option{ipinfo.WithObserver(m), ipinfo.WithLogger(logger)}
	token := ipinfo.StaticToken(cfg.Token)

	// Token file takes precedence over IPINFO_TOKEN and is reloaded on change
	if cfg.TokenFile != "" {
		tw, err := config.NewTokenWatcher(cfg.TokenFile)
		if err != nil {
			slog.Error("failed to read token file", "path", cfg.TokenFile, "error", err)
			os.Exit(1)
		}
		defer tw.Close()
		go tw.Run(ctx)

		token = tw.Token
		opts = append(opts, ipinfo.WithTokenSource(tw.Token))
		slog.Info("token file watched", "path", cfg.TokenFile)
	}

	// Optional offline database replaces the remote batch endpoint
	var offline *data.MmdbFetcher
	if cfg.OfflineDBPath != "" {
		offline, err = data.NewMmdbFetcher(cfg.OfflineDBPath)
		if err != nil {
			slog.Error("failed to open offline database", "path", cfg.OfflineDBPath, "error", err)
			os.Exit(1)
		}
		defer offline.Close()

		opts = append(opts, ipinfo.WithFetcher(offline))
		slog.Info("offline database loaded", "path", cfg.OfflineDBPath, "type", offline.DatabaseType())
	}

	// Optional MaxMind country database enriches records before caching and
	// takes precedence over the embedded country table
	var countries ipinfo.Enricher
	if cfg.MMDBPath != "" {
		reader, err := data.NewMmdbReader(cfg.MMDBPath)
		if err != nil {
			slog.Error("failed to open MMDB", "path", cfg.MMDBPath, "error", err)
			os.Exit(1)
		}
		defer reader.Close()

		countries = data.NewCountryEnricher(reader)
		slog.Info("MMDB loaded", "path", cfg.MMDBPath)
	}
	opts = append(opts, ipinfo.WithEnricher(ipinfo.Enrichers(countries, ipinfo.DefaultEnricher)))

	client, err := ipinfo.New(cfg.Client(), opts...)
	if err != nil {
		slog.Error("failed to create ipinfo client", "error", err)
		os.Exit(1)
	}

	// Create Gin router
	router := gin.New()

	// Add middleware
	router.Use(ginLogger(logger))
	router.Use(gin.Recovery())

	// Register health endpoints
	healthHandler := health.NewHandler(func() error {
		if offline == nil && token() == "" {
			return errors.New("no ipinfo token configured")
		}
		return nil
	}, client.CacheStats)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// Register API endpoints
	lookupHandler := lookup.NewHandler(client)
	lookupHandler.Register(router.Group("/api/v1"))

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("service started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Start gRPC server unless disabled
	var grpcServer *grpc.Server
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("failed to listen for gRPC", "port", cfg.GRPCPort, "error", err)
			os.Exit(1)
		}

		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(grpchandler.UnaryLogger(logger)))
		grpchandler.Register(grpcServer, grpchandler.NewHandler(client))

		go func() {
			slog.Info("gRPC service started", "port", cfg.GRPCPort)
			if err := grpcServer.Serve(lis); err != nil {
				slog.Error("gRPC server failed", "error", err)
				os.Exit(1)
			}
		}()
	}

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("service shutting down")
	stop()

	// Graceful shutdown with 30s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("service stopped")
}

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// ginLogger creates a Gin middleware that logs using slog and tags every
// request with an ID, reusing the caller's X-Request-ID when present.
func ginLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		// Process request
		c.Next()

		// Log request
		duration := time.Since(start)
		statusCode := c.Writer.Status()

		attrs := []any{
			"request_id", requestID,
			"method", method,
			"path", path,
			"status", statusCode,
			"duration_ms", duration.Milliseconds(),
		}

		if len(c.Errors) > 0 {
			logger.Error("request completed with errors", append(attrs, "errors", c.Errors.String())...)
		} else if statusCode >= 500 {
			logger.Error("request completed", attrs...)
		} else if statusCode >= 400 {
			logger.Warn("request completed", attrs...)
		} else {
			logger.Info("request completed", attrs...)
		}
	}
}
