// Package app 组装 UBI 引擎并管理进程生命周期
//
// 依赖:
// - PostgreSQL: 用户、领取、社区、计算任务留档
// - Redis (可选): 跨实例领取锁、声誉分缓存
// - Kafka (可选): 领取与分配事件, 由外部结算层消费
// - 远程计算网关 (可选): compute.provider=remote 时使用
//
// 维护任务:
// 1. reap-stale-computations: 超时未完成的计算任务标记为失败 (每30秒)
// 2. evict-computations: 清理过期的终态任务及留档 (每10分钟)
// 3. settlement-backlog: 重发长时间未结算的领取事件 (每5分钟, 需 Kafka)
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos-ubi/internal/cache"
	"github.com/eidos-exchange/eidos-ubi/internal/compute"
	"github.com/eidos-exchange/eidos-ubi/internal/config"
	"github.com/eidos-exchange/eidos-ubi/internal/jobs"
	"github.com/eidos-exchange/eidos-ubi/internal/kafka"
	"github.com/eidos-exchange/eidos-ubi/internal/publisher"
	"github.com/eidos-exchange/eidos-ubi/internal/repository"
	"github.com/eidos-exchange/eidos-ubi/internal/reputation"
	"github.com/eidos-exchange/eidos-ubi/internal/scheduler"
	"github.com/eidos-exchange/eidos-ubi/internal/service"
	"github.com/eidos-exchange/eidos-ubi/internal/ubi"
	"github.com/eidos-exchange/eidos-ubi/pkg/id"
	"github.com/eidos-exchange/eidos-ubi/pkg/lock"
	"github.com/eidos-exchange/eidos-ubi/pkg/logger"
	"github.com/eidos-exchange/eidos-ubi/pkg/middleware"
)

// App UBI 引擎应用
type App struct {
	cfg *config.Config

	// 基础设施
	db            *gorm.DB
	redisClient   redis.UniversalClient
	producer      *kafka.Producer
	grpcServer    *grpc.Server
	healthServer  *health.Server
	metricsServer *http.Server

	// 仓储层
	userRepo      repository.UserRepository
	claimRepo     repository.ClaimRepository
	communityRepo repository.CommunityRepository
	jobRepo       *repository.JobRepository

	manager   *compute.Manager
	publisher *publisher.SettlementPublisher
	engine    *service.Engine
	scheduler *scheduler.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建应用实例
func New(cfg *config.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Engine 返回 UBI 引擎
func (a *App) Engine() *service.Engine {
	return a.engine
}

// Run 启动应用
func (a *App) Run() error {
	if err := a.initDB(); err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}

	if a.cfg.Redis.Enabled {
		if err := a.initRedis(); err != nil {
			return fmt.Errorf("failed to init redis: %w", err)
		}
	}

	if a.cfg.Kafka.Enabled {
		if err := a.initKafka(); err != nil {
			return fmt.Errorf("failed to init kafka: %w", err)
		}
	}

	a.initRepositories()

	if err := a.initEngine(); err != nil {
		return fmt.Errorf("failed to init engine: %w", err)
	}

	a.initScheduler()
	if err := a.registerJobs(); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}
	a.scheduler.Start()

	a.startMetrics()

	if err := a.startGRPC(); err != nil {
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	return nil
}

// Shutdown 优雅关闭
func (a *App) Shutdown(ctx context.Context) error {
	logger.Info("shutting down ubi service...")

	if a.healthServer != nil {
		a.healthServer.Shutdown()
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	// 等待执行中的计算任务
	if a.manager != nil {
		timeout := 10 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline) / 2
		}
		a.manager.Shutdown(timeout)
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Error("close kafka producer failed", zap.Error(err))
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			logger.Error("metrics server shutdown failed", zap.Error(err))
		}
	}

	if a.redisClient != nil {
		a.redisClient.Close()
	}

	if a.db != nil {
		sqlDB, _ := a.db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}

	a.cancel()
	logger.Info("ubi service stopped")
	return nil
}

// initDB 初始化数据库
func (a *App) initDB() error {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	db, err := gorm.Open(postgres.Open(a.cfg.Postgres.DSN()), gormConfig)
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
	sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetimeMinutes) * time.Minute)

	a.db = db
	logger.Info("database connected",
		zap.String("host", a.cfg.Postgres.Host),
		zap.String("database", a.cfg.Postgres.Database))

	if err := repository.AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")
	return nil
}

// initRedis 初始化 Redis
func (a *App) initRedis() error {
	a.redisClient = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr(),
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()

	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	logger.Info("redis connected",
		zap.String("addr", a.cfg.Redis.Addr()),
		zap.Int("db", a.cfg.Redis.DB))
	return nil
}

// initKafka 初始化 Kafka 生产者
func (a *App) initKafka() error {
	producerCfg := kafka.DefaultProducerConfig(a.cfg.Kafka.Brokers)
	producerCfg.ClientID = a.cfg.Kafka.ClientID

	producer, err := kafka.NewProducer(producerCfg)
	if err != nil {
		return err
	}
	a.producer = producer

	logger.Info("kafka producer connected",
		zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

// initRepositories 初始化仓储层
func (a *App) initRepositories() {
	a.userRepo = repository.NewUserRepository(a.db)
	a.claimRepo = repository.NewClaimRepository(a.db)
	a.communityRepo = repository.NewCommunityRepository(a.db)
	a.jobRepo = repository.NewJobRepository(a.db)

	logger.Info("repositories initialized")
}

// initEngine 初始化计算后端、任务管理器与引擎
func (a *App) initEngine() error {
	ids, err := id.NewGenerator(a.cfg.Service.WorkerID)
	if err != nil {
		return err
	}

	scorer := reputation.NewScorer()
	calculator := ubi.NewCalculator(nil, nil)

	var provider compute.Provider
	switch a.cfg.Compute.Provider {
	case "remote":
		provider = compute.NewRemoteProvider(compute.RemoteConfig{
			Endpoint:     a.cfg.Compute.Endpoint,
			APIKey:       a.cfg.Compute.APIKey,
			Timeout:      a.cfg.Compute.Timeout(),
			RetryCount:   a.cfg.Compute.RetryCount,
			RetryBackoff: time.Duration(a.cfg.Compute.RetryBackoffMs) * time.Millisecond,
		})
	default:
		provider = compute.NewLocalProvider(scorer, calculator)
	}

	a.manager = compute.NewManager(provider, compute.Config{
		Timeout:       a.cfg.Compute.Timeout(),
		MaxConcurrent: a.cfg.Compute.MaxConcurrent,
	}, compute.WithRecorder(a.jobRepo))

	deps := service.Deps{
		Users:       a.userRepo,
		Communities: a.communityRepo,
		Claims:      a.claimRepo,
		Jobs:        a.manager,
		IDs:         ids,
		Scorer:      scorer,
		Calculator:  calculator,
	}

	// producer 为空时发布器不发送
	if a.producer != nil {
		a.publisher = publisher.NewSettlementPublisher(a.producer)
		deps.Publisher = a.publisher
	}

	if a.redisClient != nil {
		deps.Locker = lock.NewRedisLocker(a.redisClient, lock.RedisLockerConfig{
			Expiration:    time.Duration(a.cfg.Claim.LockTTLSeconds) * time.Second,
			RetryInterval: time.Duration(a.cfg.Claim.LockRetryMs) * time.Millisecond,
			MaxRetries:    a.cfg.Claim.LockMaxRetries,
		})
		deps.Cache = cache.NewReputationCache(a.redisClient,
			time.Duration(a.cfg.Reputation.CacheTTLSeconds)*time.Second)
	}

	a.engine = service.NewEngine(service.Config{
		StreakWindow:     time.Duration(a.cfg.Claim.StreakWindowHours) * time.Hour,
		BatchConcurrency: a.cfg.Claim.BatchConcurrency,
		AuditClaims:      a.cfg.Claim.AuditClaims,
	}, deps)

	logger.Info("engine initialized",
		zap.String("compute_provider", provider.Name()),
		zap.Bool("distributed_lock", a.redisClient != nil),
		zap.Bool("settlement_events", a.publisher != nil))
	return nil
}

// initScheduler 初始化调度器
func (a *App) initScheduler() {
	schedCfg := &scheduler.SchedulerConfig{
		MaxConcurrentJobs: a.cfg.Scheduler.MaxConcurrentJobs,
	}
	if a.redisClient != nil {
		// 任务锁不等待, 拿不到即跳过
		schedCfg.Locker = lock.NewRedisLocker(a.redisClient, lock.RedisLockerConfig{
			Expiration: 5 * time.Minute,
			MaxRetries: 1,
		})
	}
	a.scheduler = scheduler.NewScheduler(schedCfg)

	logger.Info("scheduler initialized",
		zap.Int("max_concurrent_jobs", a.cfg.Scheduler.MaxConcurrentJobs))
}

// registerJobs 注册维护任务
func (a *App) registerJobs() error {
	reapJob := jobs.NewReapStaleJob(a.manager, 2*a.cfg.Compute.Timeout())
	if err := a.scheduler.RegisterJob(reapJob, scheduler.JobConfig{
		Cron:    a.getJobCron(scheduler.JobNameReapStale, a.cfg.Jobs.ReapStale.Cron),
		Enabled: a.cfg.Jobs.ReapStale.Enabled,
	}); err != nil {
		return err
	}

	retention := time.Duration(a.cfg.Jobs.EvictJobs.RetentionDays) * 24 * time.Hour
	evictJob := jobs.NewEvictJobsJob(a.manager, a.jobRepo, retention)
	if err := a.scheduler.RegisterJob(evictJob, scheduler.JobConfig{
		Cron:    a.getJobCron(scheduler.JobNameEvictJobs, a.cfg.Jobs.EvictJobs.Cron),
		Enabled: a.cfg.Jobs.EvictJobs.Enabled,
	}); err != nil {
		return err
	}

	if a.publisher != nil {
		backlogJob := jobs.NewSettlementBacklogJob(a.claimRepo, a.userRepo, a.publisher, jobs.SettlementBacklogConfig{})
		if err := a.scheduler.RegisterJob(backlogJob, scheduler.JobConfig{
			Cron:    a.getJobCron(scheduler.JobNameSettlementBacklog, a.cfg.Jobs.SettlementBacklog.Cron),
			Enabled: a.cfg.Jobs.SettlementBacklog.Enabled,
		}); err != nil {
			return err
		}
	}

	logger.Info("jobs registered")
	return nil
}

// getJobCron 获取任务的 cron 表达式 (优先使用配置, 否则使用默认值)
func (a *App) getJobCron(jobName string, configCron string) string {
	if configCron != "" {
		return configCron
	}
	if defaultCfg, ok := scheduler.DefaultJobConfigs[jobName]; ok {
		return defaultCfg.Cron
	}
	return ""
}

// startMetrics 启动 Prometheus 指标服务
func (a *App) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	a.metricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Service.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", zap.Int("port", a.cfg.Service.MetricsPort))
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// startGRPC 启动 gRPC 健康检查服务
func (a *App) startGRPC() error {
	addr := fmt.Sprintf(":%d", a.cfg.Service.GRPCPort)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	a.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.RecoveryUnaryServerInterceptor(),
			middleware.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			middleware.RecoveryStreamServerInterceptor(),
		),
	)

	a.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.healthServer)
	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", addr))
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
	return nil
}
