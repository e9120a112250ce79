// Command pulsecheck runs the periodic multi-service health monitor:
// it loads a YAML configuration of probe targets, schedules each on
// its own interval, and serves /health, /status, and /metrics over
// HTTP. Modeled on the teacher's cmd/probe/main.go (Gin router,
// signal-driven graceful shutdown) with the probe monitor itself
// replaced by the Lifecycle Orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pulsecheck/pulsecheck/internal/orchestrator"
)

func main() {
	once := flag.Bool("once", false, "dispatch every configured probe exactly once, write a snapshot, and exit")
	debug := flag.Bool("debug", false, "use human-readable development logging instead of structured JSON")
	flag.Parse()

	configPath := os.Getenv("PULSECHECK_CONFIG")
	if configPath == "" {
		configPath = "./config/pulsecheck.yaml"
	}

	orch, err := orchestrator.New(configPath, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pulsecheck: %v\n", err)
		os.Exit(1)
	}
	logger := orch.Logger()
	defer logger.Sync()

	if *once {
		ctx, cancel := context.WithTimeout(context.Background(), orch.Settings().Timeout*2+5*time.Second)
		defer cancel()
		if err := orch.RunOnce(ctx); err != nil {
			logger.Fatal("run once failed", zap.Error(err))
		}
		return
	}

	server := newStatusServer(orch, *debug)
	go func() {
		logger.Info("status server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("status server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status server forced shutdown", zap.Error(err))
	}

	if err := <-runErr; err != nil {
		logger.Fatal("orchestrator run failed", zap.Error(err))
	}
}

func newStatusServer(orch *orchestrator.Orchestrator, debug bool) *http.Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"scheduler_state": orch.Scheduler().State().String(),
			"scheduled_count": len(orch.Scheduler().ScheduledNames()),
			"pool":            orch.Pool().Metrics(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(orch.Registry(), promhttp.HandlerOpts{})))

	port := os.Getenv("PULSECHECK_METRICS_PORT")
	if port == "" {
		port = "9090"
	}

	return &http.Server{
		Addr:           ":" + port,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}
