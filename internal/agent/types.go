package agent

import (
	"fmt"
	"maps"
	"strings"
	"time"

	xerrors "AgentKit-Chain/internal/errors"
	"AgentKit-Chain/internal/metrics"
	"AgentKit-Chain/internal/web3"
)

// Type 表示 Agent 的业务类别。
type Type string

// 支持的 Agent 类别。
const (
	TypeDeFi       Type = "defi"
	TypeGaming     Type = "gaming"
	TypeGovernance Type = "governance"
	TypeCustom     Type = "custom"
)

// Autonomy 描述 Agent 自主决策的程度。
type Autonomy string

// 支持的自主等级。
const (
	AutonomyLow    Autonomy = "low"
	AutonomyMedium Autonomy = "medium"
	AutonomyHigh   Autonomy = "high"
)

// Status 是 Agent 的生命周期状态。
type Status string

// 生命周期状态。
const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
)

// Config 在构造后不再变化，部署成功时写入的合约地址除外。
type Config struct {
	Name     string   `json:"name"`
	Type     Type     `json:"type"`
	Autonomy Autonomy `json:"autonomy"`
	Triggers []string `json:"triggers,omitempty"`
	// Network 通过网络注册表按名称解析。
	Network string `json:"network,omitempty"`
	// NetworkSpec 非空时直接使用，不经过注册表。
	NetworkSpec     *web3.Network `json:"networkSpec,omitempty"`
	PrivateKey      string        `json:"-"`
	ContractAddress string        `json:"contractAddress,omitempty"`
}

func (c Config) normalize() (Config, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return c, xerrors.New(xerrors.CodeConfiguration, "Agent 名称不能为空")
	}
	switch c.Type {
	case TypeDeFi, TypeGaming, TypeGovernance, TypeCustom:
	case "":
		return c, xerrors.New(xerrors.CodeConfiguration, "Agent 类型不能为空")
	default:
		return c, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("未知的 Agent 类型 %q", c.Type))
	}
	switch c.Autonomy {
	case "":
		c.Autonomy = AutonomyMedium
	case AutonomyLow, AutonomyMedium, AutonomyHigh:
	default:
		return c, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("未知的自主等级 %q", c.Autonomy))
	}
	c.Triggers = dedupe(c.Triggers)
	if c.NetworkSpec != nil {
		spec := *c.NetworkSpec
		c.NetworkSpec = &spec
	}
	return c, nil
}

func (c Config) clone() Config {
	c.Triggers = append([]string(nil), c.Triggers...)
	if c.NetworkSpec != nil {
		spec := *c.NetworkSpec
		c.NetworkSpec = &spec
	}
	return c
}

func dedupe(list []string) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, item := range list {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// Action 是交给合约执行的一条指令，Params 原样序列化后提交。
type Action struct {
	Type      string         `json:"type"`
	Params    map[string]any `json:"params,omitempty"`
	GasLimit  uint64         `json:"gasLimit,omitempty"`
	GasPrice  string         `json:"gasPrice,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

// Clone 复制动作，Params 浅拷贝。
func (a Action) Clone() Action {
	a.Params = maps.Clone(a.Params)
	if a.Timestamp != nil {
		ts := *a.Timestamp
		a.Timestamp = &ts
	}
	return a
}

// ExecutionResult 是一次执行的结果，创建后不再修改。
type ExecutionResult struct {
	Success   bool      `json:"success"`
	TxHash    string    `json:"txHash,omitempty"`
	GasUsed   uint64    `json:"gasUsed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentState 由 Agent 独占，每次更新整体替换。
type AgentState struct {
	Status          Status               `json:"status"`
	LastAction      *Action              `json:"lastAction,omitempty"`
	Metrics         metrics.AgentMetrics `json:"metrics"`
	Data            map[string]any       `json:"data,omitempty"`
	ContractAddress string               `json:"contractAddress,omitempty"`
}

// Clone 返回与原状态不共享可变字段的副本。
func (s AgentState) Clone() AgentState {
	if s.LastAction != nil {
		last := s.LastAction.Clone()
		s.LastAction = &last
	}
	s.Metrics = s.Metrics.Clone()
	s.Data = maps.Clone(s.Data)
	return s
}

// StatePatch 描述 SetState 要替换的顶层字段，nil 字段保持不变。
// Data 非 nil 时整体替换而不是合并。ClearLastAction 与 ClearData 将对应字段置空，
// 同时给出新值时以新值为准。Status 只能通过生命周期方法改变。
type StatePatch struct {
	LastAction      *Action
	Metrics         *metrics.AgentMetrics
	Data            map[string]any
	ContractAddress *string

	ClearLastAction bool
	ClearData       bool
}

func (p StatePatch) apply(s AgentState) AgentState {
	if p.ClearLastAction {
		s.LastAction = nil
	}
	if p.ClearData {
		s.Data = nil
	}
	if p.LastAction != nil {
		last := p.LastAction.Clone()
		s.LastAction = &last
	}
	if p.Metrics != nil {
		s.Metrics = p.Metrics.Clone()
	}
	if p.Data != nil {
		s.Data = maps.Clone(p.Data)
	}
	if p.ContractAddress != nil {
		s.ContractAddress = *p.ContractAddress
	}
	return s
}

// 生命周期与执行过程中发布的事件名称。
const (
	EventInitialized    = "initialized"
	EventStarted        = "started"
	EventStopped        = "stopped"
	EventPaused         = "paused"
	EventResumed        = "resumed"
	EventEmergencyStop  = "emergency_stop"
	EventActionExecuted = "action_executed"
	EventError          = "error"
	EventStateChanged   = "state_changed"
	EventDeployed       = "deployed"
)

// InitializedEvent 在 Init 成功后发布。
type InitializedEvent struct {
	Network         string `json:"network"`
	ChainID         int64  `json:"chainId"`
	ContractAddress string `json:"contractAddress,omitempty"`
}

// LifecycleEvent 携带状态切换的上下文。
type LifecycleEvent struct {
	From      Status        `json:"from"`
	To        Status        `json:"to"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"-"`
	UptimeMS  int64         `json:"uptimeMs,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// ActionExecutedEvent 同时携带动作与结果。
type ActionExecutedEvent struct {
	Action Action          `json:"action"`
	Result ExecutionResult `json:"result"`
}

// ErrorEvent 描述一次失败的操作。
type ErrorEvent struct {
	Operation string           `json:"operation"`
	Action    *Action          `json:"action,omitempty"`
	Result    *ExecutionResult `json:"result,omitempty"`
	Error     string           `json:"error"`
}

// StateChangedEvent 携带替换前后的状态快照。
type StateChangedEvent struct {
	Old AgentState `json:"old"`
	New AgentState `json:"new"`
}

// DeployedEvent 在部署成功后发布。
type DeployedEvent struct {
	Result web3.DeploymentResult `json:"result"`
}
