package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "AgentKit-Chain/internal/errors"
	"AgentKit-Chain/internal/eventbus"
	"AgentKit-Chain/internal/journal"
	"AgentKit-Chain/internal/metrics"
	"AgentKit-Chain/internal/observability/alerting"
	obsmetrics "AgentKit-Chain/internal/observability/metrics"
	"AgentKit-Chain/internal/sink"
	"AgentKit-Chain/internal/web3"
	"AgentKit-Chain/internal/web3/provider"
	"AgentKit-Chain/pkg/logger"
)

// DefaultNetwork 是未配置网络时使用的网络名称。
const DefaultNetwork = "mock"

// Agent 是事件驱动的链上智能体，负责生命周期、动作执行与状态维护。
type Agent struct {
	// opMu 串行化 Init、Deploy 与生命周期操作。
	opMu sync.Mutex

	mu        sync.RWMutex
	cfg       Config
	state     AgentState
	chain     web3.Chain
	contract  web3.Contract
	startedAt time.Time
	subs      []web3.Subscription
	ai        Capability

	machine    StateMachine
	bus        *eventbus.Bus
	aggregator *metrics.Aggregator
	connector  web3.Connector
	networks   *web3.Registry
	journal    journal.Journal
	sinks      []sink.Publisher
	collector  *obsmetrics.Collector
	alerts     alerting.Dispatcher
	log        *slog.Logger
	now        func() time.Time
}

// New 校验配置并创建一个处于 idle 状态的 Agent。
func New(cfg Config, opts ...Option) (*Agent, error) {
	normalized, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:        normalized,
		aggregator: metrics.NewAggregator(),
		journal:    journal.Discard{},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.log == nil {
		a.log = logger.ForAgent("agent", a.cfg.Name)
	}
	if a.bus == nil {
		a.bus = eventbus.New(
			eventbus.WithLogger(a.log),
			eventbus.WithFailureHook(func(evt eventbus.Event, _ error) {
				a.collector.HandlerFailed(evt.Type)
			}),
		)
	}
	if a.connector == nil {
		a.connector = provider.New()
	}
	if a.networks == nil {
		a.networks = web3.NewRegistry()
	}
	for _, p := range a.sinks {
		a.bus.On(eventbus.Wildcard, sink.Forward(p))
	}

	a.state = AgentState{
		Status:          StatusIdle,
		Metrics:         a.aggregator.Snapshot(),
		ContractAddress: a.cfg.ContractAddress,
	}
	a.collector.SetStatus(a.cfg.Name, string(StatusIdle))
	return a, nil
}

// Name 返回 Agent 名称。
func (a *Agent) Name() string { return a.cfg.Name }

// Config 返回配置副本。
func (a *Agent) Config() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.clone()
}

// Bus 返回 Agent 使用的事件总线。
func (a *Agent) Bus() *eventbus.Bus { return a.bus }

// Chain 返回当前连接，未初始化时为 nil。
func (a *Agent) Chain() web3.Chain {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.chain
}

// Status 返回当前生命周期状态。
func (a *Agent) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Status
}

// State 返回状态的防御性副本。
func (a *Agent) State() AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Clone()
}

// SetState 替换补丁中出现的顶层字段，并发布 state_changed 事件。
func (a *Agent) SetState(ctx context.Context, patch StatePatch) *eventbus.Dispatch {
	return a.commit(ctx, func(s AgentState) AgentState {
		if patch.Metrics != nil {
			a.aggregator.Restore(*patch.Metrics)
		}
		return patch.apply(s)
	})
}

// commit 是所有状态替换的唯一入口。mutate 在持锁期间执行，拿到的是当前状态的副本。
func (a *Agent) commit(ctx context.Context, mutate func(AgentState) AgentState) *eventbus.Dispatch {
	a.mu.Lock()
	old := a.state
	next := mutate(old.Clone())
	a.state = next
	a.mu.Unlock()

	return a.bus.Publish(ctx, EventStateChanged, StateChangedEvent{Old: old.Clone(), New: next.Clone()}, a.cfg.Name)
}

// OnEvent 注册事件处理器。
func (a *Agent) OnEvent(name string, handler eventbus.Handler) eventbus.HandlerID {
	return a.bus.On(name, handler)
}

// OffEvent 注销事件处理器，未注册的 id 会被忽略。
func (a *Agent) OffEvent(name string, id eventbus.HandlerID) bool {
	return a.bus.Off(name, id)
}

// Emit 以 Agent 名义发布事件。
func (a *Agent) Emit(ctx context.Context, name string, data any) *eventbus.Dispatch {
	return a.bus.Publish(ctx, name, data, a.cfg.Name)
}

// AI 返回决策能力，未配置时懒加载中性策略。
func (a *Agent) AI() Capability {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ai == nil {
		a.ai = NeutralCapability{}
	}
	return a.ai
}

// SetAI 替换决策能力，传入 nil 会恢复默认策略。
func (a *Agent) SetAI(c Capability) {
	a.mu.Lock()
	a.ai = c
	a.mu.Unlock()
}

// Init 解析网络并建立连接，配置了合约地址时同时完成挂载。重复调用会重建连接。
func (a *Agent) Init(ctx context.Context) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	cfg := a.Config()
	network, err := a.resolveNetwork(cfg)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "解析网络失败")
	}

	chain, err := a.connector.Connect(ctx, network, cfg.PrivateKey)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "连接网络失败: "+network.Name)
	}

	var contract web3.Contract
	if cfg.ContractAddress != "" {
		contract, err = chain.Attach(ctx, cfg.ContractAddress)
		if err != nil {
			_ = chain.Close()
			return xerrors.Wrap(xerrors.CodeConfiguration, err, "绑定合约失败: "+cfg.ContractAddress)
		}
	}

	if err := a.swapChain(ctx, chain, contract); err != nil {
		return err
	}

	a.log.Info("Agent 初始化完成", slog.String("network", network.Name), slog.String("contract", cfg.ContractAddress))
	a.bus.Publish(ctx, EventInitialized, InitializedEvent{
		Network:         network.Name,
		ChainID:         network.ChainID,
		ContractAddress: cfg.ContractAddress,
	}, a.cfg.Name)
	return nil
}

func (a *Agent) resolveNetwork(cfg Config) (web3.Network, error) {
	if cfg.NetworkSpec != nil {
		spec := *cfg.NetworkSpec
		if spec.Name == "" {
			spec.Name = "custom"
		}
		if spec.Type == "" {
			spec.Type = web3.TypeEVM
		}
		return spec, nil
	}
	name := cfg.Network
	if name == "" {
		name = DefaultNetwork
	}
	return a.networks.Resolve(name)
}

// swapChain 替换当前连接。运行中的 Agent 会在新连接上重新订阅触发事件。
func (a *Agent) swapChain(ctx context.Context, chain web3.Chain, contract web3.Contract) error {
	a.mu.Lock()
	prev := a.chain
	a.chain = chain
	a.contract = contract
	running := a.state.Status == StatusRunning
	a.mu.Unlock()

	if running && prev != chain {
		if err := a.subscribeTriggers(ctx); err != nil {
			return err
		}
	}
	if prev != nil && prev != chain {
		if err := prev.Close(); err != nil {
			a.log.Warn("关闭旧连接失败", slog.Any("error", err))
		}
	}
	return nil
}

// subscribeTriggers 取消现有订阅，并把每个触发事件转发到事件总线。
func (a *Agent) subscribeTriggers(ctx context.Context) error {
	a.cancelSubscriptions()

	a.mu.RLock()
	chain := a.chain
	triggers := append([]string(nil), a.cfg.Triggers...)
	a.mu.RUnlock()
	if chain == nil || len(triggers) == 0 {
		return nil
	}

	subs := make([]web3.Subscription, 0, len(triggers))
	for _, trigger := range triggers {
		trigger := trigger
		sub, err := chain.Subscribe(ctx, trigger, func(evt web3.ChainEvent) {
			a.bus.Publish(context.Background(), trigger, evt, a.cfg.Name)
		})
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return xerrors.Wrap(xerrors.CodeConfiguration, err, "订阅触发器失败: "+trigger)
		}
		subs = append(subs, sub)
	}

	a.mu.Lock()
	a.subs = subs
	a.mu.Unlock()
	return nil
}

func (a *Agent) cancelSubscriptions() {
	a.mu.Lock()
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Start 进入 running 状态并订阅触发事件；已在运行时直接返回。
func (a *Agent) Start(ctx context.Context) error { return a.lifecycle(ctx, OpStart) }

// Stop 回到 idle 状态并累计本次运行时长。
func (a *Agent) Stop(ctx context.Context) error { return a.lifecycle(ctx, OpStop) }

// Pause 暂停运行中的 Agent。
func (a *Agent) Pause(ctx context.Context) error { return a.lifecycle(ctx, OpPause) }

// Resume 恢复已暂停的 Agent。
func (a *Agent) Resume(ctx context.Context) error { return a.lifecycle(ctx, OpResume) }

// EmergencyStop 从任意状态进入 error，之后不再接受其他生命周期操作。
func (a *Agent) EmergencyStop(ctx context.Context) error { return a.lifecycle(ctx, OpEmergencyStop) }

func (a *Agent) lifecycle(ctx context.Context, op Operation) error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	current := a.Status()
	next, changed := a.machine.Apply(current, op)
	if !changed {
		return nil
	}

	now := a.now()
	payload := LifecycleEvent{From: current, To: next, Timestamp: now}
	var (
		eventName string
		elapsed   time.Duration
	)
	switch op {
	case OpStart:
		if err := a.subscribeTriggers(ctx); err != nil {
			return err
		}
		a.mu.Lock()
		a.startedAt = now
		a.mu.Unlock()
		eventName = EventStarted
	case OpStop:
		a.cancelSubscriptions()
		a.mu.Lock()
		if !a.startedAt.IsZero() {
			elapsed = now.Sub(a.startedAt)
		}
		a.startedAt = time.Time{}
		a.mu.Unlock()
		eventName = EventStopped
	case OpPause:
		eventName = EventPaused
	case OpResume:
		eventName = EventResumed
	case OpEmergencyStop:
		a.cancelSubscriptions()
		payload.Reason = "emergency stop requested"
		eventName = EventEmergencyStop
	}

	var committed AgentState
	a.commit(ctx, func(s AgentState) AgentState {
		s.Status = next
		if op == OpStop {
			s.Metrics = a.aggregator.AddUptime(elapsed)
		}
		committed = s.Clone()
		return s
	})
	if op == OpStop {
		payload.Uptime = committed.Metrics.Uptime
		payload.UptimeMS = committed.Metrics.Uptime.Milliseconds()
	}

	a.collector.SetStatus(a.cfg.Name, string(next))
	a.log.Info("Agent 状态变更", slog.String("from", string(current)), slog.String("to", string(next)))
	if op == OpEmergencyStop {
		a.alert(ctx, "emergency_stop", xerrors.New(xerrors.CodeExecution, payload.Reason,
			xerrors.WithSeverity(xerrors.SeverityCritical),
			xerrors.WithAlert(true),
			xerrors.WithMetadata("from", string(current)),
		))
	}
	a.bus.Publish(ctx, eventName, payload, a.cfg.Name)
	return nil
}

// Execute 提交动作并等待回执。
//
// 缺少合约或签名凭证时返回 ExecutionError 且不计入指标；提交、等待或回执失败都会记为一次失败后返回
// 包裹原始原因的 ExecutionError。
func (a *Agent) Execute(ctx context.Context, action Action) (*ExecutionResult, error) {
	a.mu.RLock()
	contract := a.contract
	credential := a.cfg.PrivateKey
	a.mu.RUnlock()

	var missing []string
	if contract == nil {
		missing = append(missing, "已绑定的合约")
	}
	if strings.TrimSpace(credential) == "" {
		missing = append(missing, "签名凭据")
	}
	if len(missing) > 0 {
		return nil, xerrors.New(xerrors.CodeExecution, "Agent 尚不能执行动作，缺少"+strings.Join(missing, "与"))
	}
	action.Type = strings.TrimSpace(action.Type)
	if action.Type == "" {
		return nil, xerrors.New(xerrors.CodeExecution, "动作类型不能为空")
	}

	params := action.Params
	if params == nil {
		params = map[string]any{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecution, err, "序列化动作参数失败")
	}

	started := a.now()
	receipt, err := a.submit(ctx, contract, action, encoded)
	elapsed := a.now().Sub(started)
	if err != nil {
		return nil, a.failExecution(ctx, action, encoded, err, elapsed)
	}

	ts := a.now()
	if action.Timestamp == nil {
		action.Timestamp = &ts
	}
	result := ExecutionResult{
		Success:   true,
		TxHash:    receipt.Hash,
		GasUsed:   receipt.GasUsed,
		Timestamp: ts,
	}
	a.commit(ctx, func(s AgentState) AgentState {
		s.Metrics = a.aggregator.Record(true, receipt.GasUsed)
		last := action.Clone()
		s.LastAction = &last
		return s
	})

	a.collector.ObserveAction(a.cfg.Name, action.Type, true, receipt.GasUsed, elapsed)
	a.recordJournal(ctx, action, encoded, result)
	logger.Audit().Info("动作执行成功",
		slog.String("agent", a.cfg.Name),
		slog.String("action", action.Type),
		slog.String("tx_hash", receipt.Hash),
		slog.Uint64("gas_used", receipt.GasUsed),
		slog.Uint64("block", receipt.BlockNumber),
	)
	a.bus.Publish(ctx, EventActionExecuted, ActionExecutedEvent{Action: action.Clone(), Result: result}, a.cfg.Name)
	return &result, nil
}

func (a *Agent) submit(ctx context.Context, contract web3.Contract, action Action, params []byte) (*web3.Receipt, error) {
	pending, err := contract.ExecuteAction(ctx, action.Type, params, web3.TxOptions{
		GasLimit: action.GasLimit,
		GasPrice: action.GasPrice,
	})
	if err != nil {
		return nil, err
	}
	receipt, err := pending.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, fmt.Errorf("交易 %s 没有返回回执", pending.Hash())
	}
	if !receipt.Success {
		return nil, fmt.Errorf("交易 %s 执行回滚", receipt.Hash)
	}
	return receipt, nil
}

func (a *Agent) failExecution(ctx context.Context, action Action, params []byte, cause error, elapsed time.Duration) error {
	result := ExecutionResult{Success: false, Error: cause.Error(), Timestamp: a.now()}
	a.commit(ctx, func(s AgentState) AgentState {
		s.Metrics = a.aggregator.Record(false, 0)
		return s
	})

	err := xerrors.Wrap(xerrors.CodeExecution, cause, "执行动作失败: "+action.Type,
		xerrors.WithMetadata("action", action.Type))
	a.collector.ObserveAction(a.cfg.Name, action.Type, false, 0, elapsed)
	a.recordJournal(ctx, action, params, result)
	a.log.Warn("动作执行失败", slog.String("action", action.Type), slog.Any("error", cause))
	logger.Audit().Warn("动作执行失败",
		slog.String("agent", a.cfg.Name),
		slog.String("action", action.Type),
		slog.String("error", cause.Error()),
	)
	a.alert(ctx, "execute", err)

	failed := action.Clone()
	a.bus.Publish(ctx, EventError, ErrorEvent{
		Operation: "execute",
		Action:    &failed,
		Result:    &result,
		Error:     err.Error(),
	}, a.cfg.Name)
	return err
}

func (a *Agent) recordJournal(ctx context.Context, action Action, params []byte, result ExecutionResult) {
	entry := journal.Entry{
		Agent:      a.cfg.Name,
		ActionType: action.Type,
		Params:     string(params),
		Success:    result.Success,
		TxHash:     result.TxHash,
		GasUsed:    result.GasUsed,
		Error:      result.Error,
		CreatedAt:  result.Timestamp.UnixMilli(),
	}
	if err := a.journal.Record(ctx, entry); err != nil {
		a.log.Warn("写入动作记录失败", slog.Any("error", err))
	}
}

// Journal 返回动作记录。
func (a *Agent) Journal() journal.Journal { return a.journal }

func (a *Agent) alert(ctx context.Context, operation string, err error) {
	if a.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	if notifyErr := a.alerts.Notify(ctx, alerting.FromError(a.cfg.Name, operation, err)); notifyErr != nil {
		a.log.Warn("发送告警失败", slog.String("operation", operation), slog.Any("error", notifyErr))
	}
}

// Deploy 部署 Agent 合约。成功后地址写入配置与状态并挂载到新合约；失败时不保留任何状态。
func (a *Agent) Deploy(ctx context.Context, opts web3.DeployOptions) (*web3.DeploymentResult, error) {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	cfg := a.Config()
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, xerrors.New(xerrors.CodeDeployment, "部署合约需要签名凭据")
	}

	chain := a.Chain()
	fresh := false
	if chain == nil || (opts.Network != "" && opts.Network != chain.Network().Name) {
		var (
			network web3.Network
			err     error
		)
		if opts.Network != "" {
			network, err = a.networks.Resolve(opts.Network)
		} else {
			network, err = a.resolveNetwork(cfg)
		}
		if err != nil {
			return nil, a.failDeployment(ctx, xerrors.Wrap(xerrors.CodeDeployment, err, "解析网络失败"))
		}
		chain, err = a.connector.Connect(ctx, network, cfg.PrivateKey)
		if err != nil {
			return nil, a.failDeployment(ctx, xerrors.Wrap(xerrors.CodeDeployment, err, "连接网络失败: "+network.Name))
		}
		fresh = true
	}
	discard := func() {
		if fresh {
			_ = chain.Close()
		}
	}

	result, err := chain.Deploy(ctx, opts)
	if err != nil {
		discard()
		return nil, a.failDeployment(ctx, xerrors.Wrap(xerrors.CodeDeployment, err, "部署合约失败"))
	}
	if result.Network == "" {
		result.Network = chain.Network().Name
	}
	contract, err := chain.Attach(ctx, result.ContractAddress)
	if err != nil {
		discard()
		return nil, a.failDeployment(ctx, xerrors.Wrap(xerrors.CodeDeployment, err, "绑定已部署合约失败: "+result.ContractAddress))
	}

	a.mu.Lock()
	a.cfg.ContractAddress = result.ContractAddress
	a.mu.Unlock()
	if err := a.swapChain(ctx, chain, contract); err != nil {
		a.log.Warn("重新订阅触发事件失败", slog.Any("error", err))
	}
	a.commit(ctx, func(s AgentState) AgentState {
		s.ContractAddress = result.ContractAddress
		return s
	})

	logger.Audit().Info("合约部署成功",
		slog.String("agent", a.cfg.Name),
		slog.String("network", result.Network),
		slog.String("address", result.ContractAddress),
		slog.String("tx_hash", result.TxHash),
		slog.Uint64("gas_used", result.GasUsed),
	)
	a.bus.Publish(ctx, EventDeployed, DeployedEvent{Result: *result}, a.cfg.Name)
	out := *result
	return &out, nil
}

func (a *Agent) failDeployment(ctx context.Context, err *xerrors.Error) error {
	a.log.Error("合约部署失败", slog.Any("error", err))
	a.alert(ctx, "deploy", err)
	a.bus.Publish(ctx, EventError, ErrorEvent{Operation: "deploy", Error: err.Error()}, a.cfg.Name)
	return err
}

// Close 取消订阅并关闭连接。
func (a *Agent) Close() error {
	a.opMu.Lock()
	defer a.opMu.Unlock()

	a.cancelSubscriptions()
	a.mu.Lock()
	chain := a.chain
	a.chain = nil
	a.contract = nil
	a.mu.Unlock()

	var errs []error
	if chain != nil {
		errs = append(errs, chain.Close())
	}
	for _, p := range a.sinks {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
