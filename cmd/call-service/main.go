package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	intDatabase "teamchat-backend/internal/database"
	"teamchat-backend/internal/domain"
	"teamchat-backend/internal/events"
	callHandler "teamchat-backend/internal/handler/http/call"
	presenceHandler "teamchat-backend/internal/handler/http/presence"
	wsHandler "teamchat-backend/internal/handler/ws"
	"teamchat-backend/internal/middleware"
	"teamchat-backend/internal/repository/cockroach"
	"teamchat-backend/internal/repository/memory"
	redisRepo "teamchat-backend/internal/repository/redis"
	"teamchat-backend/internal/scheduler"
	"teamchat-backend/internal/service/access"
	callService "teamchat-backend/internal/service/call"
	presenceService "teamchat-backend/internal/service/presence"
	"teamchat-backend/pkg/config"
	"teamchat-backend/pkg/constants"
	pkgDatabase "teamchat-backend/pkg/database"
	"teamchat-backend/pkg/jwt"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/metrics"
)

type channelStore interface {
	callService.ChannelRepository
	presenceService.ChannelMembers
	access.ChannelReader
}

type userStore interface {
	presenceService.UserRepository
	access.UserReader
}

// stores groups the persistence backends selected by STORE_DRIVER
type stores struct {
	calls     callService.CallRepository
	channels  channelStore
	users     userStore
	ephemeral presenceService.EphemeralStore
	ping      func(ctx context.Context) error
	close     func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 1. Metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	intDatabase.InitRedisMetrics()

	// 2. Redis, needed by the redis scheduler, the redis event sink and the cockroach driver's ephemeral store
	var redisDB *intDatabase.RedisClient
	if needsRedis(cfg) {
		redisDB, err = intDatabase.NewRedisDB(&intDatabase.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Timeout:  cfg.Redis.Timeout,
		})
		if err != nil {
			logger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisDB.Close()

		redisDB.StartHealthCheck(ctx, cfg.Redis.HealthCheckInterval)
		logger.Info("Redis health check started", zap.Duration("interval", cfg.Redis.HealthCheckInterval))
	}

	// 3. Persistence
	st, err := openStores(ctx, cfg, redisDB, appMetrics)
	if err != nil {
		logger.Fatal("Failed to open stores", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer st.close()

	// 4. Event sinks
	publisher, err := events.NewFromSinks(cfg.Events.Sinks, redisDB, events.NATSConfig{
		Servers:        cfg.NATS.Servers,
		Name:           cfg.NATS.Name,
		ConnectTimeout: cfg.NATS.ConnectTimeout,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
	})
	if err != nil {
		logger.Fatal("Failed to configure event sinks", zap.Strings("sinks", cfg.Events.Sinks), zap.Error(err))
	}
	defer publisher.Close()

	// 5. Timeout scheduler
	var sched scheduler.Scheduler
	switch cfg.Store.Scheduler {
	case "redis":
		sched = scheduler.NewRedisScheduler(redisDB, constants.SchedulerQueueKey, cfg.Call.SchedulerPoll, cfg.Call.SchedulerRetryWait)
	default:
		sched = scheduler.NewTimerScheduler(cfg.Call.SchedulerRetryWait)
	}

	// 6. Services
	policy := access.NewPolicy(st.channels, st.users)
	callSvc := callService.NewService(st.calls, st.channels, policy, sched, publisher, callService.Config{
		DirectRingTimeout: cfg.Call.DirectRingTimeout,
		GroupRingTimeout:  cfg.Call.GroupRingTimeout,
		MaxInvitees:       cfg.Call.MaxInvitees,
	})
	presenceSvc := presenceService.NewService(st.users, st.channels, st.ephemeral, policy, publisher, presenceService.Config{
		HeartbeatTTL:     cfg.Presence.HeartbeatTTL,
		RecordTTL:        cfg.Presence.RecordTTL,
		TypingTTL:        cfg.Presence.TypingTTL,
		TypingStaleAfter: cfg.Presence.TypingStaleAfter,
		Thresholds:       domain.PresenceThresholds{Online: cfg.Presence.OnlineThreshold, Away: cfg.Presence.AwayThreshold},
		OnlineUsersCache: cfg.Presence.OnlineUsersCache,
	})

	sched.Start(ctx, callSvc.HandleTimeoutToken)
	presenceSvc.StartSweeper(ctx, cfg.Presence.SweepInterval)

	// 7. Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders(cfg.Server.Environment == "production"))
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		if err := st.ping(c.Request.Context()); err != nil {
			status, code = "unhealthy", http.StatusServiceUnavailable
		} else if redisDB != nil && redisDB.IsDegraded() {
			status = "degraded"
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET(middleware.MetricsPath, middleware.MetricsHandler())

	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Audience, cfg.JWT.AccessTokenExpiry)
	var revocationChecker middleware.RevocationChecker
	if redisDB != nil {
		revocationChecker = middleware.NewRedisRevocationChecker(redisDB)
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))

	presenceWrites := v1.Group("")
	presenceWrites.Use(middleware.NewRateLimiter(redisDB, "presence", cfg.Limits.PresenceWrites, cfg.Limits.Window).Middleware())

	callHandler.NewHandler(callSvc).RegisterRoutes(v1)
	presenceHandler.NewHandler(presenceSvc).RegisterRoutes(v1, presenceWrites)

	// The event stream relays Redis pub/sub, so it needs the redis sink
	if redisDB != nil && lo.Contains(cfg.Events.Sinks, events.SinkRedis) {
		stream := wsHandler.NewEventStream(ctx, redisDB, presenceSvc, appMetrics, cfg.Server.AllowedOrigins, cfg.Server.MaxWSConnections)
		v1.GET("/ws", stream.ServeWS)
	} else {
		logger.Warn("Event stream disabled, the redis event sink is not configured")
	}

	// 8. Start server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Call service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
			zap.String("scheduler", cfg.Store.Scheduler),
			zap.Strings("sinks", cfg.Events.Sinks))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 9. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	stop()

	logger.Info("Server exited")
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Store.Driver == "cockroach" ||
		cfg.Store.Scheduler == "redis" ||
		lo.Contains(cfg.Events.Sinks, events.SinkRedis)
}

func openStores(ctx context.Context, cfg *config.Config, redisDB *intDatabase.RedisClient, m *metrics.Metrics) (*stores, error) {
	if cfg.Store.Driver == "memory" {
		return openMemoryStores(cfg)
	}

	db, err := pkgDatabase.ConnectWithRetry(ctx, &pkgDatabase.CockroachConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}, constants.DBConnectRetries)
	if err != nil {
		return nil, err
	}

	if cfg.Store.Migrate {
		if err := cockroach.Migrate(ctx, db.Pool); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("Database schema applied")
	}

	return &stores{
		calls:     cockroach.NewCallRepository(db.Pool),
		channels:  cockroach.NewChannelRepository(db.Pool),
		users:     cockroach.NewUserRepository(db.Pool),
		ephemeral: redisRepo.NewEphemeralStore(redisDB, m),
		ping:      db.Ping,
		close:     db.Close,
	}, nil
}

func openMemoryStores(cfg *config.Config) (*stores, error) {
	logger.Warn("Using in-memory stores, data is lost on restart")
	users := memory.NewUserRepository()
	channels := memory.NewChannelRepository(users)

	if cfg.Store.SeedFile != "" {
		seed, err := memory.LoadSeedFile(cfg.Store.SeedFile, users, channels)
		if err != nil {
			return nil, err
		}
		logger.Info("Memory store seeded",
			zap.String("file", cfg.Store.SeedFile),
			zap.Int("users", len(seed.Users)),
			zap.Int("channels", len(seed.Channels)))
	} else {
		logger.Warn("MEMORY_SEED_FILE is not set, no users or channels exist")
	}

	ephemeral := memory.NewEphemeralStore()
	stopCleanup := ephemeral.StartCleanup(cfg.Store.CleanupInterval)

	return &stores{
		calls:     memory.NewCallRepository(),
		channels:  channels,
		users:     users,
		ephemeral: ephemeral,
		ping:      func(context.Context) error { return nil },
		close:     stopCleanup,
	}, nil
}
