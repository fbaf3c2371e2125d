package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了守护进程启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Platform  PlatformConfig  `json:"platform"`
	Model     ModelConfig     `json:"model"`
	Agent     AgentConfig     `json:"agent"`
	Web3      Web3Config      `json:"web3"`
	Storage   StorageConfig   `json:"storage"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	Alerting  AlertingConfig  `json:"alerting"`
	Auth      AuthConfig      `json:"auth"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	Audit       struct {
		Enabled    bool   `json:"enabled"`
		Path       string `json:"path"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
		MaxAgeDays int    `json:"max_age_days"`
	} `json:"audit"`
}

// PlatformConfig 描述访问模型服务平台所需的信息。
type PlatformConfig struct {
	APIHost        string `json:"api_host"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回平台请求超时时间。
func (c PlatformConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ModelConfig 指定要使用的模型，本地路径与平台 ID 二选一。
type ModelConfig struct {
	ModelPath  string `json:"model_path"`
	ID         uint64 `json:"id"`
	Version    uint64 `json:"version"`
	OutputPath string `json:"output_path"`
	Python     struct {
		Executable string `json:"executable"`
		ScriptPath string `json:"script_path"`
		WorkingDir string `json:"working_dir"`
	} `json:"python"`
}

// AgentConfig 控制智能体执行可验证推理与上链操作的参数。
type AgentConfig struct {
	Account             string `json:"account"`
	KeystoreDir         string `json:"keystore_dir"`
	ContractAddress     string `json:"contract_address"`
	Chain               string `json:"chain"`
	FPImpl              string `json:"fp_impl"`
	JobSize             string `json:"job_size"`
	VerifyTimeoutSecs   int    `json:"verify_timeout_seconds"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
}

// VerifyTimeout 返回证明验证的总超时时间。
func (c AgentConfig) VerifyTimeout() time.Duration {
	if c.VerifyTimeoutSecs <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.VerifyTimeoutSecs) * time.Second
}

// PollInterval 返回轮询远端任务状态的间隔。
func (c AgentConfig) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Web3Config 包含访问区块链节点所需的配置。
type Web3Config struct {
	RPCURL       string `json:"rpc_url"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`

	// Deployments 补充测试网等未内置的协议合约地址，键为链 ID。
	Deployments map[uint64]DeploymentConfig `json:"deployments,omitempty"`
}

// DeploymentConfig 描述单条链上的协议合约地址。
type DeploymentConfig struct {
	FundDeployer              string `json:"fund_deployer"`
	FundValueCalculatorRouter string `json:"fund_value_calculator_router"`
}

// StorageConfig 统一描述任务状态与运行历史的存储后端。
type StorageConfig struct {
	TaskStore  TaskStoreConfig  `json:"task_store"`
	RunHistory RunHistoryConfig `json:"run_history"`
}

// TaskStoreConfig 选择任务状态存储的驱动。
type TaskStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	Retries                int    `json:"retries"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// RunHistoryConfig 选择运行历史仓库的驱动。
type RunHistoryConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// TaskQueueConfig 选择任务队列实现。
type TaskQueueConfig struct {
	Driver string `json:"driver"`
	Worker int    `json:"worker"`
	Redis  struct {
		Address   string `json:"address"`
		Password  string `json:"password"`
		DB        int    `json:"db"`
		Queue     string `json:"queue"`
		BlockWait int    `json:"block_wait_seconds"`
	} `json:"redis"`
	RabbitMQ struct {
		URL        string `json:"url"`
		Queue      string `json:"queue"`
		Prefetch   int    `json:"prefetch"`
		Durable    bool   `json:"durable"`
		AutoDelete bool   `json:"auto_delete"`
	} `json:"rabbitmq"`
}

// AlertingConfig 控制任务终态失败时的告警派发。
// 目前内置日志渠道；Channels 留空时默认只启用日志渠道。
type AlertingConfig struct {
	Enabled  bool     `json:"enabled"`
	Channels []string `json:"channels"`
}

// AuthConfig 控制 REST 接口的访问认证。
type AuthConfig struct {
	Mode    string   `json:"mode"`
	APIKeys []string `json:"api_keys"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Platform.APIHost == "" {
		c.Platform.APIHost = "https://api.gizatech.xyz"
	}
	if c.Platform.APIKeyEnv == "" {
		c.Platform.APIKeyEnv = "GIZA_API_KEY"
	}

	if c.Agent.FPImpl == "" {
		c.Agent.FPImpl = "FP16x16"
	}
	if c.Agent.JobSize == "" {
		c.Agent.JobSize = "M"
	}

	if c.Model.Python.Executable == "" {
		c.Model.Python.Executable = "python3"
	}
	if c.Model.Python.WorkingDir == "" {
		c.Model.Python.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.Model.Python.WorkingDir) {
		c.Model.Python.WorkingDir = filepath.Join(baseDir, c.Model.Python.WorkingDir)
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}
	if c.Storage.RunHistory.Driver == "" {
		c.Storage.RunHistory.Driver = "memory"
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 1
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
