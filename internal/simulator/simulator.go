// Package simulator 将预设的市场事件回放给 Agent 的处理器并汇总统计，无需连接网络即可验证决策逻辑。
//
// 统计结果是合成的：每个事件对应一个动作，其中 90% 计为成功，响应时间与 gas 从固定区间抽取。
// 回放用于验证行为，不用于衡量性能。
package simulator

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"AgentKit-Chain/internal/agent"
	"AgentKit-Chain/internal/eventbus"
	"AgentKit-Chain/pkg/logger"
)

const (
	successRatio       = 0.9
	minResponseTime    = 150 * time.Millisecond
	responseTimeSpread = 100
	minGas             = 40000
	gasSpread          = 10000
	// SimulatedActionType 是合成动作的类型。
	SimulatedActionType = "simulated_action"
)

// Config 控制一次回放。零值的 Duration 表示不限时，零值的延迟表示不等待。
type Config struct {
	Duration        time.Duration
	Delay           time.Duration
	ProcessingDelay time.Duration
	Scenario        string
	// Events 非空时替代 Scenario。
	Events  []Event
	Verbose bool
	Seed    int64
}

// Result 汇总一次回放。
type Result struct {
	Scenario          string         `json:"scenario"`
	TotalEvents       int            `json:"totalEvents"`
	TotalActions      int            `json:"totalActions"`
	SuccessfulActions int            `json:"successfulActions"`
	FailedActions     int            `json:"failedActions"`
	SuccessRate       float64        `json:"successRate"`
	AvgResponseTime   time.Duration  `json:"avgResponseTime"`
	AvgGasUsed        float64        `json:"avgGasUsed"`
	Elapsed           time.Duration  `json:"elapsed"`
	Events            []Event        `json:"events"`
	Actions           []agent.Action `json:"actions"`
}

// Option 定义可选配置。
type Option func(*Simulator)

// WithAgent 将事件投递到 Agent 的事件总线。
func WithAgent(a *agent.Agent) Option {
	return func(s *Simulator) { s.agent = a }
}

// WithEventBus 在未挂载 Agent 时使用指定的事件总线。
func WithEventBus(bus *eventbus.Bus) Option {
	return func(s *Simulator) { s.bus = bus }
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// Simulator 负责场景回放。
type Simulator struct {
	cfg   Config
	agent *agent.Agent
	bus   *eventbus.Bus
	log   *slog.Logger
	rng   *rand.Rand
	now   func() time.Time

	stopped atomic.Bool
	mu      sync.Mutex
	events  []Event
	actions []agent.Action
}

// New 创建模拟器。
func New(cfg Config, opts ...Option) *Simulator {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	s := &Simulator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.agent != nil {
		s.bus = s.agent.Bus()
	}
	if s.bus == nil {
		s.bus = eventbus.New()
	}
	if s.log == nil {
		s.log = logger.Named("simulator")
	}
	return s
}

// On 在回放使用的事件总线上注册处理器。
func (s *Simulator) On(name string, handler eventbus.Handler) eventbus.HandlerID {
	return s.bus.On(name, handler)
}

// Off 注销处理器。
func (s *Simulator) Off(name string, id eventbus.HandlerID) bool {
	return s.bus.Off(name, id)
}

// Stop 请求在当前事件处理完成后结束回放，不打断正在进行的等待。
// 在 Run 之前调用时，下一次 Run 不回放任何事件。
func (s *Simulator) Stop() {
	s.stopped.Store(true)
}

// Resolve 返回本次配置实际回放的场景名称与事件。
func (s *Simulator) Resolve() (string, []Event) {
	if len(s.cfg.Events) > 0 {
		events := make([]Event, len(s.cfg.Events))
		for i, e := range s.cfg.Events {
			events[i] = e.clone()
		}
		return "custom", events
	}
	events, name := Lookup(s.cfg.Scenario)
	return name, events
}

// Run 按顺序回放场景并返回统计结果。ctx 取消、Stop 或超过 Duration 时提前结束。
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	defer s.stopped.Store(false)
	s.mu.Lock()
	s.events = nil
	s.actions = nil
	s.mu.Unlock()

	scenario, events := s.Resolve()
	source := "simulator"
	if s.agent != nil {
		source = s.agent.Name()
	}
	start := s.now()
	s.logStep("开始回放", slog.String("scenario", scenario), slog.Int("events", len(events)))

	for i, evt := range events {
		if s.stopped.Load() || ctx.Err() != nil {
			break
		}
		if s.cfg.Duration > 0 && s.now().Sub(start) >= s.cfg.Duration {
			s.logStep("达到回放时长上限", slog.Duration("duration", s.cfg.Duration))
			break
		}

		evt.Timestamp = s.now()
		s.mu.Lock()
		s.events = append(s.events, evt.clone())
		s.mu.Unlock()
		s.logStep("投递事件", slog.Int("index", i), slog.String("type", evt.Type), slog.Any("data", evt.Data))

		if err := s.bus.Publish(ctx, evt.Type, evt.Data, source).Wait(); err != nil {
			s.log.Debug("回放中事件处理失败", slog.String("type", evt.Type), slog.Any("error", err))
		}

		sleep(ctx, s.cfg.ProcessingDelay)

		ts := s.now()
		success := s.rng.Float64() < successRatio
		action := agent.Action{
			Type:      SimulatedActionType,
			Params:    map[string]any{"event": evt.Type, "success": success},
			Timestamp: &ts,
		}
		s.mu.Lock()
		s.actions = append(s.actions, action)
		s.mu.Unlock()
		s.logStep("模拟动作完成", slog.String("event", evt.Type), slog.Bool("success", success))

		if i < len(events)-1 {
			sleep(ctx, s.cfg.Delay)
		}
	}

	result := s.summarize(scenario, s.now().Sub(start))
	s.logStep("回放结束",
		slog.Int("events", result.TotalEvents),
		slog.Int("actions", result.TotalActions),
		slog.Float64("success_rate", result.SuccessRate),
	)
	return result, nil
}

func (s *Simulator) summarize(scenario string, elapsed time.Duration) *Result {
	s.mu.Lock()
	events := make([]Event, len(s.events))
	for i, e := range s.events {
		events[i] = e.clone()
	}
	actions := make([]agent.Action, len(s.actions))
	for i, a := range s.actions {
		actions[i] = a.Clone()
	}
	s.mu.Unlock()

	total := len(actions)
	successful := total * 9 / 10
	rate := 0.0
	if total > 0 {
		rate = float64(successful) / float64(total)
	}
	return &Result{
		Scenario:          scenario,
		TotalEvents:       len(events),
		TotalActions:      total,
		SuccessfulActions: successful,
		FailedActions:     total - successful,
		SuccessRate:       rate,
		AvgResponseTime:   minResponseTime + time.Duration(s.rng.Intn(responseTimeSpread+1))*time.Millisecond,
		AvgGasUsed:        minGas + s.rng.Float64()*gasSpread,
		Elapsed:           elapsed,
		Events:            events,
		Actions:           actions,
	}
}

func (s *Simulator) logStep(msg string, attrs ...any) {
	if s.cfg.Verbose {
		s.log.Info(msg, attrs...)
		return
	}
	s.log.Debug(msg, attrs...)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
