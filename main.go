// Package main provides the main entry point for the orgsync admin backend
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/amirphl/orgsync/app/handlers"
	"github.com/amirphl/orgsync/app/middleware"
	"github.com/amirphl/orgsync/app/router"
	"github.com/amirphl/orgsync/app/scheduler"
	"github.com/amirphl/orgsync/app/services"
	"github.com/amirphl/orgsync/app/ws"
	businessflow "github.com/amirphl/orgsync/business_flow"
	"github.com/amirphl/orgsync/config"
	"github.com/amirphl/orgsync/models"
	"github.com/amirphl/orgsync/repository"
	"github.com/amirphl/orgsync/utils"
	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	registry  *ws.Registry
	config    *config.ProductionConfig
	logger    *zap.Logger
	cancel    context.CancelFunc
	stopFuncs []func()
}

func main() {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting orgsync",
		zap.String("environment", cfg.Deployment.Environment),
		zap.String("version", cfg.Deployment.Version),
	)

	app, err := initializeApplication(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	sig := <-sigChan
	logger.Info("shutting down gracefully", zap.String("signal", sig.String()))
	app.shutdown()
	logger.Info("server stopped")
}

// shutdown stops background workers, closes live sessions and drains the HTTP server
func (a *Application) shutdown() {
	for _, fn := range a.stopFuncs {
		fn()
	}

	a.cancel()
	a.registry.CloseAll(websocket.CloseGoingAway, "server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.router.GetApp().ShutdownWithContext(shutdownCtx); err != nil {
		a.logger.Error("error during shutdown", zap.Error(err))
	}
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	slow := cfg.SlowQueryTime
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(
			zap.NewStdLog(logger.Named("gorm")),
			gormlogger.Config{
				SlowThreshold:             slow,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&models.Account{}, &models.User{}, &models.AuditLog{}); err != nil {
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	logger.Info("database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Bool("auto_migrate", cfg.AutoMigrate),
	)
	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity.
// A nil client means revocations and the sync lock stay in process memory.
func initializeCache(cfg config.CacheConfig, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis connection established", zap.Int("db", cfg.RedisDB))
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis to surface connectivity issues.
// The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, logger *zap.Logger) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					logger.Warn("redis healthcheck failed", zap.Error(err))
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig, logger *zap.Logger) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	var (
		revocations services.RevocationStore
		syncLock    businessflow.SyncLock
	)
	if rc != nil {
		revocations = services.NewRedisRevocationStore(rc, cfg.Cache.RedisPrefix)
		syncLock = businessflow.NewRedisSyncLock(rc, cfg.Cache.RedisPrefix)
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(context.Background(), rc, 0, logger))
	} else {
		logger.Warn("cache disabled, credential revocations and the sync lock are process-local")
		revocations = services.NewMemoryRevocationStore()
		syncLock = businessflow.NewMemorySyncLock()
	}

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	txManager := repository.NewTxManager(db)

	if err := ensureBootstrapAdmin(accountRepo, userRepo, cfg, logger); err != nil {
		return nil, err
	}

	// Initialize services
	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		cfg.JWT.PrivateKey,
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
		revocations,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	logger.Info("token service initialized", zap.String("issuer", cfg.JWT.Issuer), zap.String("audience", cfg.JWT.Audience))

	legacyClient := services.NewLegacyClient(cfg.Legacy)

	// Initialize flows
	permissions := businessflow.NewPermissionEvaluator(accountRepo, logger.Named("permissions"))
	authFlow := businessflow.NewAuthFlow(userRepo, accountRepo, auditRepo, tokenService, logger.Named("auth"))
	accountFlow := businessflow.NewAccountFlow(accountRepo, userRepo, auditRepo, txManager, permissions, logger.Named("accounts"))
	userFlow := businessflow.NewUserFlow(accountRepo, userRepo, auditRepo, txManager, cfg.Security.BcryptCost, logger.Named("users"))
	reconcileFlow := businessflow.NewReconciliationFlow(
		accountRepo,
		userRepo,
		auditRepo,
		txManager,
		legacyClient,
		syncLock,
		cfg.Legacy,
		cfg.Reconcile,
		logger.Named("reconcile"),
	)

	// Websocket layer
	baseCtx, cancel := context.WithCancel(context.Background())
	registry := ws.NewRegistry(logger.Named("registry"))
	dispatcher := ws.NewDispatcher(authFlow, accountFlow, userFlow, reconcileFlow, registry, logger.Named("dispatcher"))
	wsHandler := handlers.NewWebSocketHandler(baseCtx, dispatcher, registry, cfg.WebSocket, cfg.Security.AllowedOrigins, logger.Named("ws"))
	authMiddleware := middleware.NewAuthMiddleware(authFlow)

	appRouter := router.NewFiberRouter(cfg, wsHandler, authMiddleware, registry, logger.Named("http"))

	if cfg.Reconcile.Enabled {
		sched := scheduler.NewReconcileScheduler(reconcileFlow, cfg.Reconcile.Interval, logger.Named("scheduler"))
		stopFuncs = append(stopFuncs, sched.Start(baseCtx))
	}

	return &Application{
		router:    appRouter,
		registry:  registry,
		config:    cfg,
		logger:    logger,
		cancel:    cancel,
		stopFuncs: stopFuncs,
	}, nil
}

// ensureBootstrapAdmin makes sure the organization root exists and, when configured,
// that it has an unlimited admin who can log in on a fresh install
func ensureBootstrapAdmin(
	accountRepo repository.AccountRepository,
	userRepo repository.UserRepository,
	cfg *config.ProductionConfig,
	logger *zap.Logger,
) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	root, err := businessflow.EnsureOrganizationRoot(ctx, accountRepo, cfg.Reconcile)
	if err != nil {
		return err
	}

	email := strings.ToLower(strings.TrimSpace(cfg.Bootstrap.AdminEmail))
	if email == "" || cfg.Bootstrap.AdminPassword == "" {
		return nil
	}

	existing, err := userRepo.ByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to lookup bootstrap admin: %w", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Bootstrap.AdminPassword), cfg.Security.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap admin password: %w", err)
	}

	firstName := cfg.Bootstrap.AdminFirstName
	if firstName == "" {
		firstName = "System"
	}
	lastName := cfg.Bootstrap.AdminLastName
	if lastName == "" {
		lastName = "Administrator"
	}

	admin := &models.User{
		ID:           uuid.NewString(),
		FirstName:    utils.SanitizeText(firstName),
		LastName:     utils.SanitizeText(lastName),
		Email:        email,
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
		AdminType:    utils.ToPtr(models.AdminTypeUnlimited),
		AccountID:    root.ID,
		Source:       models.UserSourceLocal,
	}
	if err := userRepo.Save(ctx, admin); err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	if root.PrimaryAdminID == nil {
		root.PrimaryAdminID = utils.ToPtr(admin.ID)
		if err := accountRepo.Update(ctx, root); err != nil {
			return fmt.Errorf("failed to assign bootstrap admin: %w", err)
		}
	}

	logger.Info("bootstrap admin created", zap.String("user_id", admin.ID), zap.String("account_id", root.ID))
	return nil
}
