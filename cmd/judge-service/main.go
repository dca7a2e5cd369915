package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/adhoc"
	"codejudge/internal/judge/controller"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/orchestrator"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/service"
	"codejudge/internal/judge/strategy"
	"codejudge/internal/judge/workspace"
	"codejudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConfigPath = "configs/judge_service.yaml"
	defaultEnvFile    = ".env"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envFile := flag.String("env", defaultEnvFile, "Optional .env file with overrides")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		return fmt.Errorf("init database failed: %w", err)
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis failed: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var mqClient *mq.KafkaQueue
	var statusPublisher repository.StatusEventPublisher = repository.NopStatusEventPublisher{}
	if appCfg.Kafka.Enabled() {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = mqClient.Close()
		}()
		if err := mqClient.Ping(ctx); err != nil {
			logger.Warn(ctx, "kafka broker unreachable at startup", zap.Error(err))
		}
		statusPublisher = repository.NewMQStatusEventPublisher(mqClient, appCfg.Status.FinalTopic)
	}

	var archive service.ResultArchiver
	if appCfg.Archive.Bucket != "" {
		resultArchive, err := buildArchive(ctx, appCfg)
		if err != nil {
			return err
		}
		defer resultArchive.Close()
		archive = resultArchive
	}

	languages, err := language.NewAdapter(appCfg.Language)
	if err != nil {
		return fmt.Errorf("init languages failed: %w", err)
	}
	workspaces, err := workspace.NewManager(appCfg.Judge.Workspace)
	if err != nil {
		return fmt.Errorf("init workspace root failed: %w", err)
	}
	runner := engine.NewProcessRunner(appCfg.Judge.Runner)

	submissions := repository.NewSubmissionRepository(mysqlDB)
	statusRepo := repository.NewStatusRepository(redisCache, submissions, appCfg.Status.TTL, appCfg.Status.EmptyTTL, statusPublisher)
	reporter := service.NewStatusReporter(statusRepo, appCfg.Status.Timeout)

	orch, err := orchestrator.New(languages, runner, workspaces, reporter, appCfg.Judge.Orchestrator)
	if err != nil {
		return fmt.Errorf("init orchestrator failed: %w", err)
	}
	judge, err := buildJudge(ctx, appCfg.AI, strategy.NewTraditional(orch))
	if err != nil {
		return err
	}

	pool := service.NewPool(appCfg.Worker.PoolConfig)
	defer pool.Stop()

	svcCfg := service.Config{
		Submissions:   submissions,
		Problems:      repository.NewProblemRepository(mysqlDB, redisCache),
		UserStats:     repository.NewUserStatsRepository(mysqlDB),
		Transactor:    mysqlDB,
		Status:        statusRepo,
		Judge:         judge,
		Languages:     languages,
		Archive:       archive,
		Pool:          pool,
		Retry:         appCfg.Kafka.RetryConfig,
		WorkerTimeout: appCfg.Worker.Timeout,
		StatusTimeout: appCfg.Status.Timeout,
		MaxCodeBytes:  appCfg.Judge.MaxCodeBytes,
	}
	if mqClient != nil {
		svcCfg.Queue = mqClient
		svcCfg.JudgeTopic = appCfg.Kafka.JudgeTopic
	}
	judgeSvc, err := service.NewService(svcCfg)
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}

	runSvc, err := adhoc.NewService(languages, runner, workspaces, appCfg.Run)
	if err != nil {
		return fmt.Errorf("init run service failed: %w", err)
	}

	if mqClient != nil {
		if err := subscribe(ctx, mqClient, appCfg.Kafka, appCfg.Worker.Workers, judgeSvc.HandleMessage); err != nil {
			return err
		}
		defer func() {
			_ = mqClient.Stop()
		}()
	}

	ctrl := controller.NewJudgeController(judgeSvc, runSvc, languages)
	httpServer := buildHTTPServer(appCfg, ctrl)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "judge http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.Bool("queue", mqClient != nil),
			zap.Bool("ai_judge", appCfg.AI.Enabled))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down judge service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func buildArchive(ctx context.Context, appCfg *AppConfig) (*repository.ResultArchive, error) {
	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		return nil, fmt.Errorf("init minio failed: %w", err)
	}
	if err := objStorage.EnsureBucket(ctx, appCfg.Archive.Bucket); err != nil {
		return nil, fmt.Errorf("ensure archive bucket failed: %w", err)
	}
	archive, err := repository.NewResultArchive(objStorage, appCfg.Archive.Bucket)
	if err != nil {
		return nil, fmt.Errorf("init result archive failed: %w", err)
	}
	return archive, nil
}

// buildJudge wraps the traditional judge in a selector that prefers the AI judge when enabled.
func buildJudge(ctx context.Context, cfg strategy.AIConfig, traditional strategy.Judge) (strategy.Judge, error) {
	var primary strategy.Judge
	if cfg.Enabled {
		ai, err := strategy.NewAIJudge(cfg, nil)
		if err != nil {
			return nil, fmt.Errorf("init ai judge failed: %w", err)
		}
		primary = ai
	}
	selector := strategy.NewSelector(ctx, cfg.Enabled, primary, traditional)
	logger.Info(ctx, "judge strategy selected", zap.Bool("ai_primary", selector.UsesPrimary()))
	return selector, nil
}

func subscribe(ctx context.Context, queue *mq.KafkaQueue, cfg KafkaConfig, workers int, handler mq.HandlerFunc) error {
	limiter := mq.NewTokenLimiter(workers)
	for _, topic := range []string{cfg.JudgeTopic, cfg.Topic} {
		if topic == "" {
			continue
		}
		if err := queue.SubscribeWithOptions(ctx, topic, handler, cfg.subscribeOptions(limiter)); err != nil {
			return fmt.Errorf("subscribe %s failed: %w", topic, err)
		}
	}
	if err := queue.Start(); err != nil {
		return fmt.Errorf("start kafka consumer failed: %w", err)
	}
	return nil
}

func buildHTTPServer(appCfg *AppConfig, ctrl *controller.JudgeController) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware(commonmw.TraceContextConfig{AllowUserIDHeader: appCfg.Server.TrustUserHeader}))
	router.Use(commonmw.AccessLogMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	api := router.Group("/api/v1/judge")
	if appCfg.Auth.Enabled() {
		api.Use(commonmw.AuthMiddleware(appCfg.Auth))
	}
	ctrl.RegisterRoutes(api)

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}
