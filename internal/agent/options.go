package agent

import (
	"log/slog"
	"time"

	"AgentKit-Chain/internal/eventbus"
	"AgentKit-Chain/internal/journal"
	"AgentKit-Chain/internal/observability/alerting"
	obsmetrics "AgentKit-Chain/internal/observability/metrics"
	"AgentKit-Chain/internal/sink"
	"AgentKit-Chain/internal/web3"
)

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithConnector 设置建立链连接的方式，默认按网络类型分发。
func WithConnector(c web3.Connector) Option {
	return func(a *Agent) {
		if c != nil {
			a.connector = c
		}
	}
}

// WithNetworks 替换网络注册表。
func WithNetworks(r *web3.Registry) Option {
	return func(a *Agent) {
		if r != nil {
			a.networks = r
		}
	}
}

// WithEventBus 让 Agent 使用外部提供的事件总线。
func WithEventBus(bus *eventbus.Bus) Option {
	return func(a *Agent) {
		if bus != nil {
			a.bus = bus
		}
	}
}

// WithCapability 预置 AI 能力。
func WithCapability(c Capability) Option {
	return func(a *Agent) {
		a.ai = c
	}
}

// WithJournal 记录每一次动作提交。
func WithJournal(j journal.Journal) Option {
	return func(a *Agent) {
		if j != nil {
			a.journal = j
		}
	}
}

// WithEventSink 将总线上的全部事件转发到外部系统。
func WithEventSink(p sink.Publisher) Option {
	return func(a *Agent) {
		if p != nil {
			a.sinks = append(a.sinks, p)
		}
	}
}

// WithCollector 将执行结果与状态导出为 Prometheus 指标。
func WithCollector(c *obsmetrics.Collector) Option {
	return func(a *Agent) {
		a.collector = c
	}
}

// WithAlerts 在执行失败、部署失败与紧急停止时发送告警。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerts = d
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// WithClock 替换时间来源，主要用于测试运行时长。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}
