package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"AgentKit-Chain/internal/agent"
	"AgentKit-Chain/internal/auth"
	"AgentKit-Chain/internal/config"
	"AgentKit-Chain/internal/journal"
	"AgentKit-Chain/internal/llm"
	"AgentKit-Chain/internal/llm/openai"
	"AgentKit-Chain/internal/llm/scriptbridge"
	"AgentKit-Chain/internal/observability/alerting"
	obsmetrics "AgentKit-Chain/internal/observability/metrics"
	"AgentKit-Chain/internal/sink"
	"AgentKit-Chain/internal/web3"
	"AgentKit-Chain/internal/web3/mockchain"
	"AgentKit-Chain/internal/web3/provider"
	"AgentKit-Chain/pkg/logger"
)

// host 持有一个 Agent 及其依赖的外部资源，由命令负责关闭。
type host struct {
	agent     *agent.Agent
	connector *provider.Connector
	networks  *web3.Registry
	collector *obsmetrics.Collector
	closers   []io.Closer
}

type hostOptions struct {
	// ephemeral 为 true 时不落盘、不转发事件。
	ephemeral bool
	// ledger 配置本进程内的模拟账本。
	ledger []mockchain.Option
}

// loadConfig 读取配置文件，并加载同目录与当前目录下的 .env。
func loadConfig(path string) (*config.Config, error) {
	loadEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")
	return config.Load(path)
}

func newHost(ctx context.Context, cfg *config.Config, opts hostOptions) (*host, error) {
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled && !opts.ephemeral,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, err
	}

	h := &host{
		connector: provider.New(provider.WithMockChain(mockchain.New(opts.ledger...))),
		networks:  web3.NewRegistry(),
		collector: obsmetrics.NewCollector(),
	}
	if cfg.Networks.File != "" {
		if err := h.networks.LoadFile(cfg.Networks.File); err != nil {
			return nil, err
		}
	}

	agentOpts := []agent.Option{
		agent.WithConnector(h.connector),
		agent.WithNetworks(h.networks),
		agent.WithCollector(h.collector),
		agent.WithAlerts(newAlerts(cfg.Alerting)),
	}

	capability, err := newCapability(cfg)
	if err != nil {
		return nil, err
	}
	agentOpts = append(agentOpts, agent.WithCapability(capability))

	// 事件出口交给 Agent 关闭，构造失败时需要自行释放。
	var publisher sink.Publisher
	if !opts.ephemeral {
		j, err := openJournal(ctx, cfg.Journal)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, j)
		agentOpts = append(agentOpts, agent.WithJournal(j))

		p, err := openSink(ctx, cfg.Sink)
		if err != nil {
			h.Close()
			return nil, err
		}
		if p != nil {
			publisher = p
			agentOpts = append(agentOpts, agent.WithEventSink(p))
		}
	}

	ag, err := agent.New(agent.Config{
		Name:            cfg.Agent.Name,
		Type:            agent.Type(cfg.Agent.Type),
		Autonomy:        agent.Autonomy(cfg.Agent.Autonomy),
		Triggers:        cfg.Agent.Triggers,
		Network:         cfg.Agent.Network,
		PrivateKey:      cfg.Agent.PrivateKey(),
		ContractAddress: cfg.Agent.ContractAddress,
	}, agentOpts...)
	if err != nil {
		if publisher != nil {
			_ = publisher.Close()
		}
		h.Close()
		return nil, err
	}
	h.agent = ag
	return h, nil
}

// Close 关闭 Agent 与所有外部资源。
func (h *host) Close() error {
	var errs []error
	if h.agent != nil {
		errs = append(errs, h.agent.Close())
	}
	for _, c := range h.closers {
		errs = append(errs, c.Close())
	}
	errs = append(errs, logger.Sync())
	return errors.Join(errs...)
}

func newCapability(cfg *config.Config) (agent.Capability, error) {
	rule := agent.NewRuleCapability(agent.Autonomy(cfg.Agent.Autonomy))
	model := func(client llm.Client, timeout time.Duration) agent.Capability {
		return &agent.ModelCapability{
			Client:   client,
			Agent:    cfg.Agent.Name,
			Type:     agent.Type(cfg.Agent.Type),
			Autonomy: agent.Autonomy(cfg.Agent.Autonomy),
			Timeout:  timeout,
			Fallback: rule,
		}
	}

	switch cfg.LLM.Provider {
	case "", "none":
		return nil, nil
	case "rule":
		return rule, nil
	case "openai":
		timeout := time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second
		client, err := openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.OpenAI.ResolvedAPIKey(),
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		return model(client, timeout), nil
	case "script":
		scriptPath := scriptbridge.ResolveScriptPath(cfg.LLM.Script.WorkingDir, cfg.LLM.Script.Path)
		client, err := scriptbridge.NewClient(cfg.LLM.Script.Executable, scriptPath, cfg.LLM.Script.WorkingDir)
		if err != nil {
			return nil, err
		}
		return model(client, 0), nil
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func openJournal(ctx context.Context, cfg config.JournalConfig) (journal.Journal, error) {
	switch cfg.Driver {
	case "", "memory":
		return journal.NewFileJournal(cfg.DataDir)
	case "mysql":
		return journal.NewSQLJournal(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("未知的 journal 驱动: %s", cfg.Driver)
	}
}

func openSink(ctx context.Context, cfg config.SinkConfig) (sink.Publisher, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return sink.NewMemory(), nil
	case "redis":
		return sink.NewRedis(ctx, sink.RedisConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	case "rabbitmq":
		return sink.NewRabbitMQ(sink.RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.RabbitMQ.Queue,
			Durable: true,
		})
	case "nats":
		return sink.NewNATS(sink.NATSConfig{URL: cfg.NATS.URL, Subject: cfg.NATS.Subject})
	default:
		return nil, fmt.Errorf("未知的 sink 驱动: %s", cfg.Driver)
	}
}

func newAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.WebhookSender{URL: cfg.SlackWebhookURL},
			ChannelID: cfg.SlackChannel,
		})
	}
	return alerting.NewFanout(notifiers...)
}

// loadEnv 依次加载存在的 .env 文件，已存在的环境变量不会被覆盖。
func loadEnv(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			logger.L().Warn("加载 .env 失败", "path", path, "error", err)
		}
	}
}

func newAuth(cfg config.AuthConfig) (*auth.Service, error) {
	creds := make([]auth.Credential, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		creds = append(creds, auth.Credential{
			Name:        t.Name,
			Token:       t.Resolved(),
			Permissions: t.Permissions,
		})
	}
	return auth.NewService(auth.Config{Mode: auth.Mode(cfg.Mode), Credentials: creds})
}
