package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jainkunal/giza-agents/internal/agent"
	"github.com/jainkunal/giza-agents/internal/api"
	"github.com/jainkunal/giza-agents/internal/auth"
	"github.com/jainkunal/giza-agents/internal/config"
	"github.com/jainkunal/giza-agents/internal/enzyme"
	"github.com/jainkunal/giza-agents/internal/fixedpoint"
	"github.com/jainkunal/giza-agents/internal/model"
	"github.com/jainkunal/giza-agents/internal/observability/alerting"
	"github.com/jainkunal/giza-agents/internal/platform"
	"github.com/jainkunal/giza-agents/internal/storage/mysql"
	"github.com/jainkunal/giza-agents/internal/task"
	"github.com/jainkunal/giza-agents/internal/web3"
	"github.com/jainkunal/giza-agents/internal/web3/ethereum"
	"github.com/jainkunal/giza-agents/internal/web3/provider"
	"github.com/jainkunal/giza-agents/pkg/logger"
)

// main 是 giza 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("gizad 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("GIZA_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "giza.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// 初始化平台客户端与模型。
	platformClient, err := createPlatformClient(cfg)
	if err != nil {
		return err
	}

	mdl, err := model.New(ctx, platformClient, model.Options{
		ModelPath:  cfg.Model.ModelPath,
		ID:         cfg.Model.ID,
		Version:    cfg.Model.Version,
		OutputPath: cfg.Model.OutputPath,
		PythonExec: cfg.Model.Python.Executable,
		ScriptPath: cfg.Model.Python.ScriptPath,
		WorkingDir: cfg.Model.Python.WorkingDir,
	})
	if err != nil {
		return err
	}
	if mdl.Name() != "" {
		logger.L().Info("模型加载完成",
			slog.String("model", mdl.Name()),
			slog.Uint64("model_id", mdl.ModelID()),
			slog.Uint64("version_id", mdl.VersionID()),
		)
	}

	// 运行历史仓库。
	history, err := createRunRepository(ctx, cfg, dataDir)
	if err != nil {
		return err
	}
	defer history.Close()

	// 任务状态存储。
	var taskStore task.Store
	switch cfg.Storage.TaskStore.Driver {
	case "memory", "":
		taskStore = task.NewMemoryStore()
	case "mysql":
		store, err := task.NewMySQLStore(cfg.Storage.TaskStore.DSN)
		if err != nil {
			return err
		}
		taskStore = store
	default:
		return fmt.Errorf("未知的任务存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}
	defer func() {
		if taskStore != nil {
			_ = taskStore.Close()
		}
	}()

	// 任务队列。
	taskQueue, err := createTaskQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if taskQueue != nil {
			if err := taskQueue.Close(); err != nil {
				log.Printf("关闭任务队列失败: %v", err)
			}
		}
	}()

	// 测试网等未内置的协议部署从配置注册。
	for chainID, deployment := range cfg.Web3.Deployments {
		if err := enzyme.RegisterDeployment(chainID, enzyme.Deployment{
			FundDeployer:              common.HexToAddress(deployment.FundDeployer),
			FundValueCalculatorRouter: common.HexToAddress(deployment.FundValueCalculatorRouter),
		}); err != nil {
			return err
		}
	}

	// 链上客户端。
	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	var web3Client web3.Client
	if cfg.Agent.Chain != "" {
		web3Client, err = chainRegistry.Client(cfg.Agent.Chain)
	} else {
		web3Client, err = chainRegistry.DefaultClient()
	}
	if err != nil {
		return err
	}

	// 交易签名账户，未配置时以只读模式运行。
	var signer *ethereum.Signer
	if cfg.Agent.Account != "" {
		signer, err = ethereum.NewSigner(cfg.Agent.KeystoreDir, cfg.Agent.Account)
		if err != nil {
			return err
		}
	}

	agentOpts, err := buildAgentOptions(cfg)
	if err != nil {
		return err
	}
	ag := agent.New(mdl, platformClient, web3Client, signer, history, agentOpts...)

	taskService := task.NewService(taskStore, taskQueue, cfg.Storage.TaskStore.Retries)
	processorOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.L()),
	}
	if dispatcher := createAlertDispatcher(cfg); dispatcher != nil {
		processorOpts = append(processorOpts, task.WithAlertDispatcher(dispatcher))
	}
	processor := task.NewProcessor(ag, taskStore, taskQueue, taskQueue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("任务处理器异常退出: %v", err)
		}
	}()

	serverOpts := []api.ServerOption{api.WithAgent(ag)}

	if calculator, calcErr := enzyme.NewFundCalculatorForChain(ctx, web3Client); calcErr == nil {
		serverOpts = append(serverOpts, api.WithChain(web3Client, calculator))
	} else {
		log.Printf("估值合约不可用，金库查询接口关闭: %v", calcErr)
		serverOpts = append(serverOpts, api.WithChain(web3Client, nil))
	}

	authService, err := createAuthService(ctx, cfg)
	if err != nil {
		return err
	}
	if authService != nil {
		serverOpts = append(serverOpts, api.WithAuthService(authService))
	}

	server := api.NewServer(cfg.Server.Address, taskService, serverOpts...)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createPlatformClient(cfg *config.Config) (*platform.Client, error) {
	apiKey := strings.TrimSpace(cfg.Platform.APIKey)
	if apiKey == "" && cfg.Platform.APIKeyEnv != "" {
		apiKey = strings.TrimSpace(os.Getenv(cfg.Platform.APIKeyEnv))
	}
	opts := []platform.Option{}
	if apiKey != "" {
		opts = append(opts, platform.WithAPIKey(apiKey))
	}
	if timeout := cfg.Platform.Timeout(); timeout > 0 {
		opts = append(opts, platform.WithTimeout(timeout))
	}
	return platform.NewClient(cfg.Platform.APIHost, opts...)
}

func createRunRepository(ctx context.Context, cfg *config.Config, dataDir string) (mysql.RunRepository, error) {
	switch cfg.Storage.RunHistory.Driver {
	case "memory", "":
		return mysql.NewMemoryRunRepository(dataDir)
	case "mysql":
		return mysql.NewSQLRunRepository(ctx, mysql.Config{
			DSN:             cfg.Storage.RunHistory.DSN,
			MaxOpenConns:    cfg.Storage.TaskStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.TaskStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.TaskStore.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的运行历史驱动: %s", cfg.Storage.RunHistory.Driver)
	}
}

func createTaskQueue(cfg *config.Config) (task.Queue, error) {
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		return task.NewMemoryQueue(1024), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.TaskQueue.Driver)
	}
}

func buildAgentOptions(cfg *config.Config) ([]agent.Option, error) {
	impl, err := fixedpoint.Parse(cfg.Agent.FPImpl)
	if err != nil {
		return nil, err
	}
	opts := []agent.Option{
		agent.WithFPImpl(impl),
		agent.WithVerifyTimeout(cfg.Agent.VerifyTimeout()),
		agent.WithPollInterval(cfg.Agent.PollInterval()),
	}
	switch size := platform.JobSize(strings.ToUpper(cfg.Agent.JobSize)); size {
	case platform.JobSizeS, platform.JobSizeM, platform.JobSizeL, platform.JobSizeXL:
		opts = append(opts, agent.WithJobSize(size))
	default:
		return nil, fmt.Errorf("未知的任务规格: %s", cfg.Agent.JobSize)
	}
	return opts, nil
}

// createAlertDispatcher 根据配置组装告警渠道。邮件、钉钉与 Slack
// 需要部署方实现各自的 Sender，这里内置日志渠道兜底。
func createAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	if !cfg.Alerting.Enabled {
		return nil
	}
	channels := cfg.Alerting.Channels
	if len(channels) == 0 {
		channels = []string{string(alerting.ChannelLog)}
	}
	notifiers := make([]alerting.Notifier, 0, len(channels))
	for _, channel := range channels {
		switch alerting.Channel(strings.ToLower(strings.TrimSpace(channel))) {
		case alerting.ChannelLog:
			notifiers = append(notifiers, &alerting.LogNotifier{})
		default:
			log.Printf("告警渠道 %s 未配置 Sender，已忽略", channel)
		}
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

// createAuthService 根据配置组装 API Key 认证。
func createAuthService(ctx context.Context, cfg *config.Config) (*auth.Service, error) {
	if cfg.Auth.Mode == "" || cfg.Auth.Mode == "disabled" {
		return nil, nil
	}

	seeds := make([]auth.Seed, 0, len(cfg.Auth.APIKeys))
	for idx, key := range cfg.Auth.APIKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		seeds = append(seeds, auth.Seed{
			Key:    key,
			Name:   fmt.Sprintf("configured-key-%d", idx+1),
			Scopes: []string{"tasks:read", "tasks:write", "runs:read", "vaults:read"},
		})
	}

	var store auth.Store
	if cfg.Storage.RunHistory.Driver == "mysql" {
		keyStore, err := mysql.NewSQLKeyStore(ctx, mysql.Config{DSN: cfg.Storage.RunHistory.DSN})
		if err != nil {
			return nil, err
		}
		store = keyStore
	} else {
		memStore, err := auth.NewMemoryStore(nil)
		if err != nil {
			return nil, err
		}
		store = memStore
	}

	return auth.NewService(ctx, auth.Config{
		Mode:  auth.Mode(cfg.Auth.Mode),
		Seeds: seeds,
	}, store)
}
