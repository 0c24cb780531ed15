package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"subscriber-api/internal/handlers"
	"subscriber-api/internal/logging"
	"subscriber-api/internal/metrics"
	"subscriber-api/internal/repository"
	"subscriber-api/internal/service"
)

const defaultMaxBodyBytes = 16 << 10

type Config struct {
	ServiceName    string
	ServiceVersion string
	Addr           string
	MaxBodyBytes   int64
	StoreTimeout   time.Duration
	Logger         *logging.ContextLogger
	TracerProvider trace.TracerProvider
	GinMode        string
	Repository     repository.SubscriberRepository // Allow injecting any repository implementation
	Metrics        *metrics.Metrics
}

type Application struct {
	server  *http.Server
	config  *Config
	router  *gin.Engine
	repo    repository.SubscriberRepository
	metrics *metrics.Metrics
	service *service.SubscriptionService
}

func Build(config *Config) *Application {
	if config.GinMode != "" {
		gin.SetMode(config.GinMode)
	}

	// Use injected repository or fall back to in-memory
	var repo repository.SubscriberRepository
	if config.Repository != nil {
		repo = config.Repository
	} else {
		repo = repository.NewInMemorySubscriberRepository()
	}

	m := config.Metrics
	if m == nil {
		m = metrics.NewMetrics()
	}

	maxBodyBytes := config.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	subscriptionService := service.NewSubscriptionService(repo, config.Logger, m, config.StoreTimeout)
	subscriberHandler := handlers.NewSubscriberHandler(subscriptionService, config.Logger, maxBodyBytes)

	var otelOpts []otelgin.Option
	if config.TracerProvider != nil {
		otelOpts = append(otelOpts, otelgin.WithTracerProvider(config.TracerProvider))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(config.ServiceName, otelOpts...))
	router.Use(requestLogger(config.Logger, m))

	router.GET("/health_check", handlers.HealthCheck)
	router.POST("/subscriptions", subscriberHandler.Subscribe)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	server := &http.Server{
		Addr:              config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Application{
		server:  server,
		config:  config,
		router:  router,
		repo:    repo,
		metrics: m,
		service: subscriptionService,
	}
}

func requestLogger(logger *logging.ContextLogger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(method, route, status, latency)

		logger.WithTracing(c.Request.Context()).WithFields(map[string]interface{}{
			"method":     method,
			"path":       path,
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		}).Info("HTTP request completed")
	}
}

func (app *Application) Run() error {
	listener, err := net.Listen("tcp", app.config.Addr)
	if err != nil {
		return err
	}
	return app.Serve(listener)
}

// Serve accepts connections on listener until Shutdown is called.
func (app *Application) Serve(listener net.Listener) error {
	app.config.Logger.Info("Starting server on " + listener.Addr().String())
	if err := app.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (app *Application) Shutdown(ctx context.Context) error {
	app.config.Logger.Info("Shutting down server...")
	return app.server.Shutdown(ctx)
}

func (app *Application) GetRepo() repository.SubscriberRepository {
	return app.repo
}

func (app *Application) GetMetrics() *metrics.Metrics {
	return app.metrics
}

func (app *Application) GetService() *service.SubscriptionService {
	return app.service
}

func (app *Application) GetRouter() *gin.Engine {
	return app.router
}
