package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Itish41/IAOMS/config"
	controller "github.com/Itish41/IAOMS/controller"
	"github.com/Itish41/IAOMS/initializers"
	middleware "github.com/Itish41/IAOMS/middleware"
	"github.com/Itish41/IAOMS/models"
	"github.com/Itish41/IAOMS/ratelimit"
	"github.com/Itish41/IAOMS/realtime"
	"github.com/Itish41/IAOMS/repository"
	service "github.com/Itish41/IAOMS/service"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// stores bundles the persistence layer selected by database.driver.
type stores struct {
	documents   service.DocumentStore
	users       service.UserStore
	preferences service.PreferenceStore
	events      service.EventStore
	ping        func(ctx context.Context) error
}

func openStores(cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory store, data is lost on restart")
		return &stores{
			documents:   repository.NewMemoryDocumentRepository(),
			users:       repository.NewMemoryUserRepository(),
			preferences: repository.NewMemoryPreferenceRepository(),
			events:      repository.NewMemoryEventRepository(),
			ping:        func(context.Context) error { return nil },
		}, nil
	}

	db, err := initializers.ConnectDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.RunMigrations {
		if err := initializers.Migrate(db, cfg.Database.MigrationsPath, logger); err != nil {
			return nil, err
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	return &stores{
		documents:   repository.NewDocumentRepository(db, cfg.Database.DirectURL, logger),
		users:       repository.NewUserRepository(db),
		preferences: repository.NewPreferenceRepository(db),
		events:      repository.NewEventRepository(db),
		ping:        sqlDB.PingContext,
	}, nil
}

func main() {
	if err := initializers.LoadEnv(); err != nil {
		log.Printf("[WARN] %s", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[CRITICAL] Failed to load config: %s", err)
	}
	logger, err := initializers.InitLogger(cfg.Log)
	if err != nil {
		log.Fatalf("[CRITICAL] Failed to initialize logger: %s", err)
	}
	defer logger.Sync()

	st, err := openStores(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	rdb := initializers.ConnectRedis(cfg.Redis, logger)
	hub := realtime.NewHub(logger)

	bus := service.NewEventBus(logger)
	bus.Subscribe("audit", service.AuditLog(st.events))
	bus.Subscribe("sse", service.StreamEvents(hub))

	var directory service.Directory = service.NewStoreDirectory(st.users)
	var cached *service.CachedDirectory
	if rdb != nil {
		bus.Subscribe("redis", service.NewRedisForwarder(rdb, cfg.Redis.EventChannel).Handle)
		cached = service.NewCachedDirectory(directory, rdb, cfg.Redis.CacheTTL, logger)
		directory = cached
	}

	channels := []service.Channel{
		service.NewEmailChannel(cfg.SMTP),
		service.NewPushChannel(hub),
	}
	if cfg.Notification.SMSWebhookURL != "" {
		channels = append(channels, service.NewWebhookChannel(models.ChannelSMS, cfg.Notification.SMSWebhookURL))
	}
	if cfg.Notification.WhatsAppWebhookURL != "" {
		channels = append(channels, service.NewWebhookChannel(models.ChannelWhatsApp, cfg.Notification.WhatsAppWebhookURL))
	}
	limiter := ratelimit.New(cfg.Notification.RateLimit, cfg.Notification.RateWindow)
	dispatcher := service.NewDispatcher(directory, st.preferences, limiter, logger, channels...)

	search, err := service.NewSearchIndex(cfg.Search.ElasticsearchURL, cfg.Search.Index, logger)
	if err != nil {
		logger.Fatal("failed to initialize search", zap.Error(err))
	}
	storage, err := service.NewAttachmentStorage(cfg.Storage)
	if err != nil {
		logger.Fatal("failed to initialize attachment storage", zap.Error(err))
	}

	clock := service.RealClock()
	processor := service.NewProcessor(cfg.Workflow.AuthorityRoles, clock)
	engine := service.NewEscalationEngine(st.documents, clock, dispatcher, directory, bus, service.EscalationConfig{
		DefaultTimeout: cfg.Workflow.EscalationTimeout,
		AuthorityChain: cfg.Workflow.AuthorityChain,
		PublicURL:      cfg.Server.PublicURL,
	}, logger)
	engine.Start()

	docService := service.NewDocumentService(service.DocumentServiceDeps{
		Store:                    st.documents,
		Processor:                processor,
		Engine:                   engine,
		Notifier:                 dispatcher,
		Directory:                directory,
		Events:                   bus,
		Search:                   search,
		Storage:                  storage,
		Audit:                    st.events,
		Clock:                    clock,
		DefaultEscalationTimeout: cfg.Workflow.EscalationTimeout,
		PublicURL:                cfg.Server.PublicURL,
		Log:                      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := docService.RelayChanges(ctx, hub); err != nil {
		logger.Warn("document change feed unavailable", zap.Error(err))
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger))
	router.Use(middleware.CORSMiddleware(cfg.Server.PublicURL))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/events"})))

	// Healthcheck endpoint
	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		dbStatus := "up"
		if err := st.ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			dbStatus = err.Error()
		}
		c.JSON(status, gin.H{
			"status":             http.StatusText(status),
			"database":           dbStatus,
			"active_escalations": len(engine.Active()),
		})
	})

	// Global rate limiter for most routes, stricter one for writes.
	global := middleware.NewRateLimiter(100, time.Minute)
	strict := middleware.NewRateLimiter(10, time.Minute)

	directoryController := controller.NewDirectoryController(service.NewProfiles(st.users, cached), logger)
	api := router.Group("/", middleware.JWTAuth(cfg.JWT.Secret), global.Limit(), directoryController.SyncProfile())
	controller.RegisterRoutes(api, controller.Handlers{
		Documents:     controller.NewDocumentController(docService, logger),
		Escalations:   controller.NewEscalationController(engine, processor),
		Notifications: controller.NewNotificationController(dispatcher),
		Events:        controller.NewEventsController(hub),
		Directory:     directoryController,
	}, strict.Limit())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// Tell open streams to reconnect before their channels close.
	hub.Broadcast(realtime.Event{EventType: "server-shutdown", Data: `{"reconnect":true}`})
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	engine.Shutdown()
	docService.Wait()
	if rdb != nil {
		_ = rdb.Close()
	}
}
