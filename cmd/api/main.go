package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/app"
	"github.com/MedLarabi/compucar-sub005/internal/aws"
	"github.com/MedLarabi/compucar-sub005/internal/config"
	"github.com/MedLarabi/compucar-sub005/internal/handlers"
	"github.com/MedLarabi/compucar-sub005/internal/logger"
	"github.com/MedLarabi/compucar-sub005/internal/webhook"
)

func setupRouter(a *app.App, gateway *webhook.Gateway, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.Middleware(log))
	if a.Prometheus != nil {
		r.Use(a.Prometheus.Middleware())
		r.GET("/metrics", gin.WrapH(a.Prometheus.Handler()))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	hc := handlers.HandlerConfig{
		Files:           a.Files,
		Webhooks:        gateway,
		MaxWebhookBytes: cfg.MaxWebhookBytes,
		Log:             log,
	}
	handlers.RegisterFileRoutes(r, hc)
	handlers.RegisterWebhookRoutes(r, hc)
	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.ServiceName)
	if !cfg.RunLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init aws clients")
	}

	a := app.Build(cfg, clients, log)
	queue, err := a.Queue(cfg, clients, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build webhook queue")
	}
	go a.RunMetrics(ctx, cfg)

	gateway := webhook.NewGateway(cfg.WebhookSecrets(), queue, log)
	r := setupRouter(a, gateway, cfg, log)

	if cfg.RunLocal {
		runLocal(ctx, r, queue, cfg, log)
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

// runLocal serves until ctx is cancelled, then stops accepting requests and
// drains queued webhook events within the shutdown timeout.
func runLocal(ctx context.Context, r http.Handler, queue webhook.Queue, cfg *config.Config, log zerolog.Logger) {
	srv := &http.Server{Addr: cfg.Addr(), Handler: r}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("running local server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("local server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := queue.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("webhook queue not fully drained")
	}
}
