package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"notionsync/internal/client/notion"
	"notionsync/internal/config"
	cronrunner "notionsync/internal/cron"
	"notionsync/internal/db"
	"notionsync/internal/events"
	"notionsync/internal/handler"
	"notionsync/internal/logger"
	"notionsync/internal/mapping"
	"notionsync/internal/models"
	"notionsync/internal/ratelimit"
	"notionsync/internal/repository"
	gormrepository "notionsync/internal/repository/gorm"
	"notionsync/internal/service"

	_ "notionsync/docs"
)

func main() {
	godotenv.Load()

	cfgPath := os.Getenv("NS_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if envOnlyRaw := os.Getenv("NS_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := gormrepository.New(dbConn.Gorm)
	flags := &service.SystemSettingsService{Repo: store}
	if err := flags.EnsureDefaultSwitches(ctx); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}
	settingsSvc := &service.SyncSettingsService{Repo: store, Config: cfg, Logger: logger}
	if err := settingsSvc.EnsureDefaults(ctx); err != nil {
		logger.Fatal("init sync settings failed", zap.Error(err))
	}

	if err := mapping.EnsureDefaults(ctx, store); err != nil {
		logger.Fatal("seed schema mappings failed", zap.Error(err))
	}
	mapper := mapping.NewMapper(store)
	if err := mapper.Load(ctx); err != nil {
		logger.Fatal("load schema mappings failed", zap.Error(err))
	}

	gate := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.Concurrency)
	notionHTTP := &http.Client{Timeout: cfg.Notion.Timeout}
	notionClient := notion.NewClient(notionHTTP, cfg.Notion.BaseURL, cfg.Notion.Token, cfg.Notion.Version, gate)

	if cfg.Sync.ValidateMappingOnBoot {
		if cfg.Notion.Token == "" {
			logger.Warn("mapping validation skipped, no notion token configured")
		} else {
			settings, err := settingsSvc.List(ctx)
			if err != nil {
				logger.Fatal("list sync settings failed", zap.Error(err))
			}
			if err := mapper.Validate(ctx, notionClient, settings); err != nil {
				logger.Fatal("schema mapping validation failed", zap.Error(err))
			}
			logger.Info("schema mappings validated against live databases")
		}
	}

	hub := events.NewHub(logger)
	breaker := &service.CircuitBreaker{Repo: store, Config: cfg.Breaker, Events: hub, Logger: logger}
	conflictSvc := &service.ConflictService{Store: store, Mapper: mapper, Events: hub, Config: cfg, Logger: logger}
	scheduleSvc := &service.ScheduleService{Store: store, Events: hub, Config: cfg.Schedule, Logger: logger}
	engine := &service.SyncEngine{
		Store:     store,
		Notion:    notionClient,
		Mapper:    mapper,
		Breaker:   breaker,
		Conflicts: conflictSvc,
		Schedule:  scheduleSvc,
		Settings:  settingsSvc,
		Events:    hub,
		Config:    cfg.Sync,
		Logger:    logger,
	}
	queue := &service.SyncQueueService{
		Store:  store,
		Engine: engine,
		Mapper: mapper,
		Flags:  flags,
		Events: hub,
		Config: cfg.Queue,
		Logger: logger,
	}
	reconciler := &service.ReconciliationService{
		Store:   store,
		Notion:  notionClient,
		Queue:   queue,
		Breaker: breaker,
		Flags:   flags,
		Events:  hub,
		Config:  cfg.Sync,
		Logger:  logger,
	}

	cronRunner := cronrunner.New(logger, ctx)
	scheduler := &service.PollingScheduler{
		Runner:   cronRunner,
		Settings: settingsSvc,
		Engine:   engine,
		Flags:    flags,
		Logger:   logger,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, Mapper: mapper}
	healthHandler.Register(router)
	webhookHandler := &handler.WebhookHandler{
		Queue:  queue,
		Repo:   store,
		Flags:  flags,
		Secret: cfg.Notion.WebhookSecret,
		Logger: logger,
	}
	webhookHandler.Register(router)
	syncHandler := &handler.SyncOpsHandler{
		Engine:     engine,
		Queue:      queue,
		Reconciler: reconciler,
		Repo:       store,
		Logger:     logger,
	}
	syncHandler.Register(router)
	settingsHandler := &handler.SyncSettingsHandler{
		Service:   settingsSvc,
		Scheduler: scheduler,
		Breaker:   breaker,
		Mapper:    mapper,
		Notion:    notionClient,
		Repo:      store,
		Logger:    logger,
	}
	settingsHandler.Register(router)
	conflictsHandler := &handler.ConflictsHandler{Service: conflictSvc, Repo: store}
	conflictsHandler.Register(router)
	scheduleHandler := &handler.ScheduleHandler{Service: scheduleSvc, Repo: store}
	scheduleHandler.Register(router)
	systemHandler := &handler.SystemSettingsHandler{Repo: store, Settings: flags}
	systemHandler.Register(router)
	streamHandler := &handler.StreamHandler{Hub: hub, Logger: logger}
	streamHandler.Register(router)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("start polling scheduler failed", zap.Error(err))
	}
	defer scheduler.Stop()

	if cfg.Cron.Enabled {
		if _, err := cronRunner.Add(cfg.Cron.Reconciliation, reconciler.RunScheduled); err != nil {
			logger.Warn("cron register reconciliation failed", zap.Error(err))
		}
		if _, err := cronRunner.Add(cfg.Cron.QueuePurge, func(ctx context.Context) {
			n, err := queue.Purge(ctx)
			if err != nil {
				logger.Warn("queue purge failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("purged completed queue items", zap.Int64("count", n))
			}
		}); err != nil {
			logger.Warn("cron register queue purge failed", zap.Error(err))
		}
		if _, err := cronRunner.Add(cfg.Cron.ConflictPurge, func(ctx context.Context) {
			n, err := conflictSvc.Purge(ctx)
			if err != nil {
				logger.Warn("conflict purge failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("purged resolved conflicts", zap.Int64("count", n))
			}
		}); err != nil {
			logger.Warn("cron register conflict purge failed", zap.Error(err))
		}
		if _, err := cronRunner.Add(cfg.Cron.CacheSweep, func(ctx context.Context) {
			if !flags.IsEnabled(ctx, service.FeatureCacheSweep, true) {
				return
			}
			now := time.Now().UTC()
			for _, entityType := range models.AllEntityTypes() {
				n, err := store.DeleteExpiredCache(ctx, entityType, now)
				if err != nil {
					logger.Warn("cache sweep failed", zap.String("entity_type", entityType), zap.Error(err))
					continue
				}
				if n > 0 {
					logger.Info("swept expired cache rows", zap.String("entity_type", entityType), zap.Int64("count", n))
				}
			}
		}); err != nil {
			logger.Warn("cron register cache sweep failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	go func() {
		if err := queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("queue workers stopped", zap.Error(err))
		}
	}()

	if cfg.Sync.InitialSyncOnBoot {
		go runInitialSync(ctx, engine, store, logger)
	}

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// runInitialSync populates an empty cache with one full pull per entity
// type. A cache with any rows is left to webhooks plus polling.
func runInitialSync(ctx context.Context, engine *service.SyncEngine, store repository.Repository, logger *zap.Logger) {
	var total int64
	for _, entityType := range models.AllEntityTypes() {
		n, err := store.CountCache(ctx, entityType)
		if err != nil {
			logger.Warn("initial sync cache probe failed", zap.Error(err))
			return
		}
		total += n
	}
	if total > 0 {
		logger.Info("cache already populated, skipping initial sync", zap.Int64("rows", total))
		return
	}
	logger.Info("running initial full sync")
	reports := engine.SyncAll(ctx, models.SyncMethodInitial)
	for _, report := range reports {
		logger.Info("initial sync finished",
			zap.String("entity_type", report.EntityType),
			zap.String("status", report.Status),
			zap.Int("processed", report.Processed),
			zap.Int("failed", report.Failed),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
