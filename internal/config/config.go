package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述了 Agent 运行时在启动阶段需要加载的全部配置。
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Networks  NetworksConfig  `json:"networks"`
	Simulator SimulatorConfig `json:"simulator"`
	LLM       LLMConfig       `json:"llm"`
	Sink      SinkConfig      `json:"sink"`
	Journal   JournalConfig   `json:"journal"`
	Monitor   MonitorConfig   `json:"monitor"`
	Alerting  AlertingConfig  `json:"alerting"`
	Logging   LoggingConfig   `json:"logging"`
}

// AgentConfig 描述 Agent 的身份与链上位置。
type AgentConfig struct {
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Autonomy        string   `json:"autonomy"`
	Triggers        []string `json:"triggers"`
	Network         string   `json:"network"`
	PrivateKeyEnv   string   `json:"private_key_env"`
	ContractAddress string   `json:"contract_address"`
}

// PrivateKey 从环境变量中读取签名私钥。
func (a AgentConfig) PrivateKey() string {
	return strings.TrimSpace(os.Getenv(a.PrivateKeyEnv))
}

// NetworksConfig 指向额外的网络定义文件。
type NetworksConfig struct {
	File string `json:"file"`
}

// SimulatorConfig 控制场景回放的节奏。
type SimulatorConfig struct {
	DurationMS        int    `json:"duration_ms"`
	DelayMS           int    `json:"delay_ms"`
	ProcessingDelayMS int    `json:"processing_delay_ms"`
	Scenario          string `json:"scenario"`
	Verbose           bool   `json:"verbose"`
	Seed              int64  `json:"seed"`
}

// Duration 返回整体运行时长。
func (s SimulatorConfig) Duration() time.Duration {
	return time.Duration(s.DurationMS) * time.Millisecond
}

// Delay 返回事件间隔。
func (s SimulatorConfig) Delay() time.Duration {
	return time.Duration(s.DelayMS) * time.Millisecond
}

// ProcessingDelay 返回模拟的处理耗时。
func (s SimulatorConfig) ProcessingDelay() time.Duration {
	return time.Duration(s.ProcessingDelayMS) * time.Millisecond
}

// LLMConfig 用于配置 AI 决策能力的来源。
type LLMConfig struct {
	Provider string             `json:"provider"`
	OpenAI   OpenAIConfig       `json:"openai"`
	Script   ScriptBridgeConfig `json:"script"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的访问方式。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ResolvedAPIKey 优先使用显式配置，其次读取环境变量。
func (o OpenAIConfig) ResolvedAPIKey() string {
	if key := strings.TrimSpace(o.APIKey); key != "" {
		return key
	}
	return strings.TrimSpace(os.Getenv(o.APIKeyEnv))
}

// ScriptBridgeConfig 描述通过外部脚本完成决策时所需的信息。
type ScriptBridgeConfig struct {
	Executable string `json:"executable"`
	Path       string `json:"path"`
	WorkingDir string `json:"working_dir"`
}

// SinkConfig 配置事件转发的目标。
type SinkConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	NATS     NATSConfig     `json:"nats"`
}

// RedisConfig 描述 Redis 列表投递参数。
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
}

// RabbitMQConfig 描述 RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// NATSConfig 描述 NATS 主题参数。
type NATSConfig struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

// JournalConfig 指定动作记录的存储后端。
type JournalConfig struct {
	Driver  string `json:"driver"`
	DSN     string `json:"dsn"`
	DataDir string `json:"data_dir"`
}

// MonitorConfig 控制监控 API 的监听地址与访问控制。
type MonitorConfig struct {
	Address string     `json:"address"`
	Auth    AuthConfig `json:"auth"`
}

// AuthConfig 描述监控 API 的认证方式，mode 为 disabled 或 token。
type AuthConfig struct {
	Mode   string        `json:"mode"`
	Tokens []TokenConfig `json:"tokens,omitempty"`
}

// TokenConfig 描述一个访问令牌，推荐通过 token_env 从环境变量读取。
type TokenConfig struct {
	Name        string   `json:"name"`
	Token       string   `json:"token,omitempty"`
	TokenEnv    string   `json:"token_env,omitempty"`
	Permissions []string `json:"permissions"`
}

// Resolved 返回令牌值，显式配置优先于环境变量。
func (t TokenConfig) Resolved() string {
	if t.Token != "" {
		return t.Token
	}
	if t.TokenEnv == "" {
		return ""
	}
	return os.Getenv(t.TokenEnv)
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	SlackWebhookURL string `json:"slack_webhook_url"`
	SlackChannel    string `json:"slack_channel"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

var (
	agentTypes     = []string{"defi", "gaming", "governance", "custom"}
	autonomyLevels = []string{"low", "medium", "high"}
	llmProviders   = []string{"none", "rule", "openai", "script"}
	sinkDrivers    = []string{"none", "memory", "redis", "rabbitmq", "nats"}
	journalDrivers = []string{"memory", "mysql"}
)

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

	baseDir := filepath.Dir(path)
	if abs, err := filepath.Abs(baseDir); err == nil {
		baseDir = abs
	}
	cfg.ApplyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save 以缩进格式写出配置文件。
func Save(path string, cfg *Config) error {
	encoded, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}
	return os.WriteFile(path, append(encoded, '\n'), 0o644)
}

// ApplyDefaults 在用户未填写部分字段时设置合理的默认值，相对路径以 baseDir 为基准。
func (c *Config) ApplyDefaults(baseDir string) {
	if c.Agent.Autonomy == "" {
		c.Agent.Autonomy = "medium"
	}
	if c.Agent.Network == "" {
		c.Agent.Network = "mock"
	}
	if c.Agent.PrivateKeyEnv == "" {
		c.Agent.PrivateKeyEnv = "AGENT_PRIVATE_KEY"
	}
	c.Networks.File = resolve(baseDir, c.Networks.File)

	if c.Simulator.DurationMS <= 0 {
		c.Simulator.DurationMS = 60_000
	}
	if c.Simulator.DelayMS < 0 {
		c.Simulator.DelayMS = 0
	}
	if c.Simulator.ProcessingDelayMS < 0 {
		c.Simulator.ProcessingDelayMS = 0
	}
	if c.Simulator.Scenario == "" {
		c.Simulator.Scenario = "normal_trading"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 30
	}
	if c.LLM.Script.Executable == "" {
		c.LLM.Script.Executable = "python3"
	}
	if c.LLM.Script.WorkingDir == "" {
		c.LLM.Script.WorkingDir = baseDir
	} else {
		c.LLM.Script.WorkingDir = resolve(baseDir, c.LLM.Script.WorkingDir)
	}

	if c.Sink.Driver == "" {
		c.Sink.Driver = "none"
	}
	if c.Sink.Redis.Key == "" {
		c.Sink.Redis.Key = "agentkit:events"
	}
	if c.Sink.RabbitMQ.Queue == "" {
		c.Sink.RabbitMQ.Queue = "agentkit.events"
	}
	if c.Sink.NATS.Subject == "" {
		c.Sink.NATS.Subject = "agentkit.events"
	}

	if c.Journal.Driver == "" {
		c.Journal.Driver = "memory"
	}
	if c.Journal.DataDir == "" {
		c.Journal.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Journal.DataDir = resolve(baseDir, c.Journal.DataDir)
	}

	if c.Monitor.Address == "" {
		c.Monitor.Address = ":8080"
	}
	if c.Monitor.Auth.Mode == "" {
		c.Monitor.Auth.Mode = "disabled"
	}
	for i := range c.Monitor.Auth.Tokens {
		if len(c.Monitor.Auth.Tokens[i].Permissions) == 0 {
			c.Monitor.Auth.Tokens[i].Permissions = []string{"agent:read"}
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Audit.Enabled {
		if c.Logging.Audit.Path == "" {
			c.Logging.Audit.Path = filepath.Join(c.Journal.DataDir, "audit.log")
		} else {
			c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
		}
	}
}

// Validate 校验枚举字段与必填项。
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Agent.Name) == "" {
		errs = append(errs, errors.New("agent.name 不能为空"))
	}
	if !oneOf(c.Agent.Type, agentTypes) {
		errs = append(errs, fmt.Errorf("agent.type 必须是 %s 之一", strings.Join(agentTypes, "|")))
	}
	if !oneOf(c.Agent.Autonomy, autonomyLevels) {
		errs = append(errs, fmt.Errorf("agent.autonomy 必须是 %s 之一", strings.Join(autonomyLevels, "|")))
	}
	if !oneOf(c.LLM.Provider, llmProviders) {
		errs = append(errs, fmt.Errorf("未知的 llm.provider: %s", c.LLM.Provider))
	}
	if !oneOf(c.Sink.Driver, sinkDrivers) {
		errs = append(errs, fmt.Errorf("未知的 sink.driver: %s", c.Sink.Driver))
	}
	if !oneOf(c.Journal.Driver, journalDrivers) {
		errs = append(errs, fmt.Errorf("未知的 journal.driver: %s", c.Journal.Driver))
	}
	if c.Journal.Driver == "mysql" && strings.TrimSpace(c.Journal.DSN) == "" {
		errs = append(errs, errors.New("journal.driver 为 mysql 时必须提供 dsn"))
	}
	switch c.Monitor.Auth.Mode {
	case "", "disabled":
	case "token":
		if len(c.Monitor.Auth.Tokens) == 0 {
			errs = append(errs, errors.New("monitor.auth.mode 为 token 时至少需要一个令牌"))
		}
		for i, t := range c.Monitor.Auth.Tokens {
			if strings.TrimSpace(t.Name) == "" {
				errs = append(errs, fmt.Errorf("monitor.auth.tokens[%d].name 不能为空", i))
			}
			if t.Token == "" && t.TokenEnv == "" {
				errs = append(errs, fmt.Errorf("monitor.auth.tokens[%d] 需要 token 或 token_env", i))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("未知的 monitor.auth.mode: %s", c.Monitor.Auth.Mode))
	}
	return errors.Join(errs...)
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
