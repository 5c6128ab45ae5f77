package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	xerrors "AgentKit-Chain/internal/errors"
	"AgentKit-Chain/internal/eventbus"
	"AgentKit-Chain/internal/llm"
	"AgentKit-Chain/internal/web3"
	"AgentKit-Chain/pkg/logger"
)

// Decision 是 AI 能力返回的决策记录。
type Decision struct {
	Action     string         `json:"action"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	Params     map[string]any `json:"params,omitempty"`
}

// Capability 是 Agent 的可插拔决策能力。
type Capability interface {
	Analyze(ctx context.Context, data any) (Decision, error)
}

// CapabilityFunc 将普通函数适配为 Capability。
type CapabilityFunc func(ctx context.Context, data any) (Decision, error)

// Analyze 实现 Capability。
func (f CapabilityFunc) Analyze(ctx context.Context, data any) (Decision, error) {
	return f(ctx, data)
}

// NeutralCapability 总是给出观望决策，是未配置能力时的默认值。
type NeutralCapability struct{}

// Analyze 实现 Capability。
func (NeutralCapability) Analyze(context.Context, any) (Decision, error) {
	return Decision{
		Action:     "hold",
		Confidence: 0.5,
		Reasoning:  "no decision capability configured",
		Params:     map[string]any{},
	}, nil
}

// 规则策略识别的事件类型。
const (
	SignalPriceChange     = "price_change"
	SignalLiquidityChange = "liquidity_change"
)

// RuleCapability 根据价格与流动性变化的百分比做确定性决策，阈值随自主等级收紧。
type RuleCapability struct {
	Autonomy Autonomy
}

// NewRuleCapability 创建规则策略。
func NewRuleCapability(autonomy Autonomy) *RuleCapability {
	return &RuleCapability{Autonomy: autonomy}
}

// Threshold 返回触发动作所需的最小变化百分比。
func (r *RuleCapability) Threshold() float64 {
	switch r.Autonomy {
	case AutonomyHigh:
		return 2
	case AutonomyLow:
		return 10
	default:
		return 5
	}
}

// Analyze 实现 Capability。data 可以是事件总线事件、链上事件或键值表。
func (r *RuleCapability) Analyze(_ context.Context, data any) (Decision, error) {
	kind, payload := signalOf(data)
	change, ok := number(payload["change"])
	threshold := r.Threshold()
	if !ok {
		return hold(fmt.Sprintf("%s carries no change figure", orUnknown(kind))), nil
	}

	magnitude := math.Abs(change)
	confidence := math.Min(0.95, 0.5+magnitude/(threshold*4))
	params := map[string]any{"change": change}
	if token, ok := payload["token"]; ok {
		params["token"] = token
	}

	switch kind {
	case SignalPriceChange:
		switch {
		case change <= -threshold:
			return Decision{Action: "sell", Confidence: confidence, Params: params,
				Reasoning: fmt.Sprintf("price fell %.2f%%, beyond the %.0f%% threshold", magnitude, threshold)}, nil
		case change >= threshold:
			return Decision{Action: "buy", Confidence: confidence, Params: params,
				Reasoning: fmt.Sprintf("price rose %.2f%%, beyond the %.0f%% threshold", magnitude, threshold)}, nil
		}
	case SignalLiquidityChange:
		if change <= -threshold {
			if pool, ok := payload["pool"]; ok {
				params["pool"] = pool
			}
			return Decision{Action: "withdraw", Confidence: confidence, Params: params,
				Reasoning: fmt.Sprintf("liquidity drained %.2f%%, beyond the %.0f%% threshold", magnitude, threshold)}, nil
		}
	default:
		return hold(fmt.Sprintf("no rule for %s", orUnknown(kind))), nil
	}
	return hold(fmt.Sprintf("%s of %.2f%% is within the %.0f%% threshold", kind, change, threshold)), nil
}

func hold(reason string) Decision {
	return Decision{Action: "hold", Confidence: 0.5, Reasoning: reason, Params: map[string]any{}}
}

func orUnknown(kind string) string {
	if kind == "" {
		return "unknown signal"
	}
	return kind
}

func signalOf(data any) (string, map[string]any) {
	switch v := data.(type) {
	case eventbus.Event:
		kind, payload := signalOf(v.Data)
		if kind == "" {
			kind = v.Type
		}
		return kind, payload
	case *eventbus.Event:
		if v == nil {
			return "", nil
		}
		return signalOf(*v)
	case web3.ChainEvent:
		return v.Name, v.Data
	case map[string]any:
		kind, _ := v["type"].(string)
		return kind, v
	}
	return "", nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// ModelCapability 把决策交给大模型，失败时可回退到其他能力。
type ModelCapability struct {
	Client   llm.Client
	Agent    string
	Type     Type
	Autonomy Autonomy
	// Timeout 为 0 时不限制调用时长。
	Timeout  time.Duration
	Fallback Capability
}

// Analyze 实现 Capability。
func (m *ModelCapability) Analyze(ctx context.Context, data any) (Decision, error) {
	if m.Client == nil {
		return m.fallback(ctx, data, errors.New("未配置大模型客户端"))
	}

	callCtx := ctx
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	resp, err := m.Client.Decide(callCtx, llm.Request{
		Agent:    m.Agent,
		Type:     string(m.Type),
		Autonomy: string(m.Autonomy),
		Data:     data,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = xerrors.Wrap(xerrors.CodeTimeout, err, "大模型决策超时")
		}
		return m.fallback(ctx, data, err)
	}

	decision := Decision{
		Action:     resp.Action,
		Confidence: math.Max(0, math.Min(1, resp.Confidence)),
		Reasoning:  resp.Reasoning,
		Params:     resp.Params,
	}
	if decision.Action == "" {
		decision.Action = "hold"
	}
	if decision.Params == nil {
		decision.Params = map[string]any{}
	}
	return decision, nil
}

func (m *ModelCapability) fallback(ctx context.Context, data any, cause error) (Decision, error) {
	if m.Fallback == nil {
		return Decision{}, fmt.Errorf("模型决策失败: %w", cause)
	}
	logger.ForAgent("ai", m.Agent).Warn("模型决策失败，使用回退策略", slog.Any("error", cause))
	return m.Fallback.Analyze(ctx, data)
}

var (
	_ Capability = NeutralCapability{}
	_ Capability = (*RuleCapability)(nil)
	_ Capability = (*ModelCapability)(nil)
	_ Capability = CapabilityFunc(nil)
)
