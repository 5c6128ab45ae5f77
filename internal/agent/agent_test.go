package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "AgentKit-Chain/internal/errors"
	"AgentKit-Chain/internal/eventbus"
	"AgentKit-Chain/internal/journal"
	"AgentKit-Chain/internal/observability/alerting"
	"AgentKit-Chain/internal/sink"
	"AgentKit-Chain/internal/web3"
	"AgentKit-Chain/internal/web3/mockchain"
)

type fakeContract struct {
	address string
	err     error
	receipt *web3.Receipt
	waitErr error

	mu    sync.Mutex
	calls []string
}

func (c *fakeContract) Address() string { return c.address }

func (c *fakeContract) ExecuteAction(_ context.Context, actionType string, params []byte, _ web3.TxOptions) (web3.PendingTx, error) {
	c.mu.Lock()
	c.calls = append(c.calls, actionType+":"+string(params))
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return fakePending{c: c}, nil
}

func (c *fakeContract) Info(context.Context) (web3.ContractInfo, error) {
	return web3.ContractInfo{Address: c.address}, nil
}

type fakePending struct{ c *fakeContract }

func (p fakePending) Hash() string { return "0xfeed" }

func (p fakePending) Wait(context.Context) (*web3.Receipt, error) {
	return p.c.receipt, p.c.waitErr
}

type fakeChain struct {
	network   web3.Network
	contract  *fakeContract
	attachErr error
	deployErr error
	closed    int
}

func (f *fakeChain) Network() web3.Network { return f.network }

func (f *fakeChain) Attach(_ context.Context, address string) (web3.Contract, error) {
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	f.contract.address = address
	return f.contract, nil
}

func (f *fakeChain) Deploy(context.Context, web3.DeployOptions) (*web3.DeploymentResult, error) {
	if f.deployErr != nil {
		return nil, f.deployErr
	}
	return &web3.DeploymentResult{ContractAddress: "0x00000000000000000000000000000000000000aa", TxHash: "0xdeploy", GasUsed: 90000}, nil
}

func (f *fakeChain) Subscribe(context.Context, string, func(web3.ChainEvent)) (web3.Subscription, error) {
	return nopSubscription{}, nil
}

func (f *fakeChain) Close() error {
	f.closed++
	return nil
}

type nopSubscription struct{}

func (nopSubscription) Unsubscribe() {}

func connectorFor(chain *fakeChain) web3.Connector {
	return web3.ConnectorFunc(func(_ context.Context, network web3.Network, _ string) (web3.Chain, error) {
		chain.network = network
		return chain, nil
	})
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, evt alerting.Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

func (r *recordingAlerts) operations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]string, 0, len(r.events))
	for _, e := range r.events {
		ops = append(ops, e.Operation)
	}
	return ops
}

func capture(a *Agent, name string) <-chan eventbus.Event {
	ch := make(chan eventbus.Event, 32)
	a.OnEvent(name, func(_ context.Context, evt eventbus.Event) error {
		ch <- evt
		return nil
	})
	return ch
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return eventbus.Event{}
}

func newAgent(t *testing.T, cfg Config, opts ...Option) *Agent {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "trader"
	}
	if cfg.Type == "" {
		cfg.Type = TypeDeFi
	}
	ag, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	t.Cleanup(func() { _ = ag.Close() })
	return ag
}

func TestNewValidatesConfig(t *testing.T) {
	cases := []Config{
		{Type: TypeDeFi},
		{Name: "a"},
		{Name: "a", Type: "lending"},
		{Name: "a", Type: TypeGaming, Autonomy: "total"},
	}
	for _, cfg := range cases {
		_, err := New(cfg)
		if !xerrors.IsConfiguration(err) || !errors.Is(err, xerrors.ErrConfiguration) {
			t.Fatalf("config %+v: expected configuration error, got %v", cfg, err)
		}
	}

	ag := newAgent(t, Config{Name: " gov ", Type: TypeGovernance, Triggers: []string{"vote", "vote", ""}})
	cfg := ag.Config()
	if cfg.Name != "gov" || cfg.Autonomy != AutonomyMedium || len(cfg.Triggers) != 1 {
		t.Fatalf("unexpected normalised config %+v", cfg)
	}
	state := ag.State()
	if state.Status != StatusIdle || state.Metrics.SuccessRate != 1 || state.Metrics.TotalActions != 0 {
		t.Fatalf("unexpected initial state %+v", state)
	}
}

func TestLifecycleNoOpsSucceed(t *testing.T) {
	ag := newAgent(t, Config{})
	ctx := context.Background()

	if err := ag.Stop(ctx); err != nil || ag.Status() != StatusIdle {
		t.Fatalf("stop on idle: status=%s err=%v", ag.Status(), err)
	}
	if err := ag.Pause(ctx); err != nil || ag.Status() != StatusIdle {
		t.Fatalf("pause on idle: status=%s err=%v", ag.Status(), err)
	}
	if err := ag.Start(ctx); err != nil || ag.Status() != StatusRunning {
		t.Fatalf("start: status=%s err=%v", ag.Status(), err)
	}
	if err := ag.Resume(ctx); err != nil || ag.Status() != StatusRunning {
		t.Fatalf("resume on running: status=%s err=%v", ag.Status(), err)
	}
	if err := ag.Start(ctx); err != nil || ag.Status() != StatusRunning {
		t.Fatalf("start on running: status=%s err=%v", ag.Status(), err)
	}
}

func TestLifecycleEventsAndUptime(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ag := newAgent(t, Config{}, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	started := capture(ag, EventStarted)
	paused := capture(ag, EventPaused)
	resumed := capture(ag, EventResumed)
	stopped := capture(ag, EventStopped)

	if err := ag.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	evt := waitEvent(t, started)
	if lc := evt.Data.(LifecycleEvent); !lc.Timestamp.Equal(now) || lc.To != StatusRunning {
		t.Fatalf("unexpected started payload %+v", lc)
	}

	_ = ag.Pause(ctx)
	waitEvent(t, paused)
	_ = ag.Start(ctx)
	waitEvent(t, started)
	now = now.Add(1500 * time.Millisecond)
	_ = ag.Pause(ctx)
	waitEvent(t, paused)
	_ = ag.Resume(ctx)
	waitEvent(t, resumed)

	if err := ag.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	lc := waitEvent(t, stopped).Data.(LifecycleEvent)
	if lc.Uptime != 1500*time.Millisecond || lc.UptimeMS != 1500 {
		t.Fatalf("unexpected stopped payload %+v", lc)
	}
	if got := ag.State().Metrics.Uptime; got != 1500*time.Millisecond {
		t.Fatalf("unexpected uptime %s", got)
	}
}

func TestEmergencyStopIsTerminal(t *testing.T) {
	alerts := &recordingAlerts{}
	ag := newAgent(t, Config{}, WithAlerts(alerts))
	ctx := context.Background()
	stopped := capture(ag, EventEmergencyStop)

	_ = ag.Start(ctx)
	if err := ag.EmergencyStop(ctx); err != nil {
		t.Fatalf("emergency stop: %v", err)
	}
	waitEvent(t, stopped)
	for _, op := range []func(context.Context) error{ag.Start, ag.Resume, ag.Stop, ag.Pause, ag.EmergencyStop} {
		if err := op(ctx); err != nil {
			t.Fatalf("operation from error status failed: %v", err)
		}
		if ag.Status() != StatusError {
			t.Fatalf("left error status: %s", ag.Status())
		}
	}
	if ops := alerts.operations(); len(ops) != 1 || ops[0] != "emergency_stop" {
		t.Fatalf("unexpected alerts %v", ops)
	}
}

func TestExecuteRequiresContractAndCredential(t *testing.T) {
	ag := newAgent(t, Config{})
	errs := capture(ag, EventError)

	result, err := ag.Execute(context.Background(), Action{Type: "buy"})
	if result != nil {
		t.Fatalf("expected no result")
	}
	if !xerrors.IsExecution(err) || !errors.Is(err, xerrors.ErrExecution) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if !strings.Contains(err.Error(), "已绑定的合约") || !strings.Contains(err.Error(), "签名凭据") {
		t.Fatalf("error should name what is missing: %v", err)
	}
	if ag.State().Metrics.TotalActions != 0 {
		t.Fatalf("precondition failure must not touch metrics")
	}
	select {
	case evt := <-errs:
		t.Fatalf("unexpected error event %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExecuteSuccess(t *testing.T) {
	contract := &fakeContract{receipt: &web3.Receipt{Hash: "0xabc", GasUsed: 42000, BlockNumber: 7, Success: true}}
	chain := &fakeChain{contract: contract}
	file, err := journal.NewFileJournal(t.TempDir())
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	ag := newAgent(t, Config{PrivateKey: "key", ContractAddress: "0x00000000000000000000000000000000000000bb"},
		WithConnector(connectorFor(chain)), WithJournal(file))
	ctx := context.Background()
	executed := capture(ag, EventActionExecuted)

	if err := ag.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	result, err := ag.Execute(ctx, Action{Type: "buy", Params: map[string]any{"amount": 2}, GasLimit: 100000})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success || result.TxHash != "0xabc" || result.GasUsed != 42000 || result.Error != "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(contract.calls) != 1 || contract.calls[0] != `buy:{"amount":2}` {
		t.Fatalf("unexpected submissions %v", contract.calls)
	}

	payload := waitEvent(t, executed).Data.(ActionExecutedEvent)
	if payload.Action.Type != "buy" || payload.Result.TxHash != "0xabc" {
		t.Fatalf("unexpected action_executed payload %+v", payload)
	}

	state := ag.State()
	if state.Metrics.TotalActions != 1 || state.Metrics.SuccessRate != 1 || state.Metrics.AvgGasUsed != 42000 {
		t.Fatalf("unexpected metrics %+v", state.Metrics)
	}
	if state.LastAction == nil || state.LastAction.Type != "buy" || state.LastAction.Timestamp == nil {
		t.Fatalf("last action not stored: %+v", state.LastAction)
	}
	entries, _ := file.ListLatest(ctx, 10)
	if len(entries) != 1 || !entries[0].Success || entries[0].Agent != "trader" {
		t.Fatalf("unexpected journal %+v", entries)
	}
}

func TestExecuteFailureRecordsAndPropagates(t *testing.T) {
	cause := errors.New("nonce too low")
	contract := &fakeContract{err: cause}
	chain := &fakeChain{contract: contract}
	alerts := &recordingAlerts{}
	ag := newAgent(t, Config{PrivateKey: "key", ContractAddress: "0x00000000000000000000000000000000000000bb"},
		WithConnector(connectorFor(chain)), WithAlerts(alerts))
	ctx := context.Background()
	errs := capture(ag, EventError)

	if err := ag.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	_, err := ag.Execute(ctx, Action{Type: "sell"})
	if !xerrors.IsExecution(err) || !errors.Is(err, cause) || !strings.Contains(err.Error(), "nonce too low") {
		t.Fatalf("expected wrapped execution error, got %v", err)
	}
	payload := waitEvent(t, errs).Data.(ErrorEvent)
	if payload.Operation != "execute" || payload.Result == nil || payload.Result.Success || payload.Result.GasUsed != 0 {
		t.Fatalf("unexpected error payload %+v", payload)
	}

	contract.err = nil
	contract.receipt = &web3.Receipt{Hash: "0xdead", GasUsed: 30000, Success: false}
	if _, err := ag.Execute(ctx, Action{Type: "sell"}); !xerrors.IsExecution(err) || !strings.Contains(err.Error(), "执行回滚") {
		t.Fatalf("expected reverted execution error, got %v", err)
	}

	m := ag.State().Metrics
	if m.TotalActions != 2 || m.SuccessRate != 0 || m.AvgGasUsed != 0 {
		t.Fatalf("failures not recorded: %+v", m)
	}
	if ag.State().LastAction != nil {
		t.Fatalf("failed action must not become last action")
	}
	if ops := alerts.operations(); len(ops) != 2 {
		t.Fatalf("expected two alerts, got %v", ops)
	}
}

func TestInitErrors(t *testing.T) {
	ctx := context.Background()

	ag := newAgent(t, Config{Network: "atlantis"})
	if err := ag.Init(ctx); !xerrors.IsConfiguration(err) {
		t.Fatalf("unknown network: expected configuration error, got %v", err)
	}

	chain := &fakeChain{contract: &fakeContract{}, attachErr: errors.New("no code")}
	ag = newAgent(t, Config{ContractAddress: "0x00000000000000000000000000000000000000bb"}, WithConnector(connectorFor(chain)))
	if err := ag.Init(ctx); !xerrors.IsConfiguration(err) || !strings.Contains(err.Error(), "no code") {
		t.Fatalf("attach failure: expected configuration error, got %v", err)
	}
	if chain.closed != 1 {
		t.Fatalf("connection should be closed after attach failure")
	}

	refused := web3.ConnectorFunc(func(context.Context, web3.Network, string) (web3.Chain, error) {
		return nil, errors.New("connection refused")
	})
	ag = newAgent(t, Config{}, WithConnector(refused))
	if err := ag.Init(ctx); !xerrors.IsConfiguration(err) {
		t.Fatalf("connect failure: expected configuration error, got %v", err)
	}
}

func TestInitUsesLiteralNetwork(t *testing.T) {
	chain := &fakeChain{contract: &fakeContract{}}
	spec := &web3.Network{Name: "devnet", ChainID: 999, RPCURL: "http://localhost:9999"}
	ag := newAgent(t, Config{NetworkSpec: spec}, WithConnector(connectorFor(chain)))
	initialized := capture(ag, EventInitialized)

	if err := ag.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	payload := waitEvent(t, initialized).Data.(InitializedEvent)
	if payload.Network != "devnet" || payload.ChainID != 999 || chain.network.Type != web3.TypeEVM {
		t.Fatalf("unexpected initialised payload %+v network %+v", payload, chain.network)
	}

	if err := ag.Init(context.Background()); err != nil {
		t.Fatalf("second init: %v", err)
	}
}

func TestSetStateReplacesTopLevelKeys(t *testing.T) {
	ag := newAgent(t, Config{})
	ctx := context.Background()
	changed := capture(ag, EventStateChanged)

	if err := ag.SetState(ctx, StatePatch{Data: map[string]any{"x": 1}}).Wait(); err != nil {
		t.Fatalf("set state: %v", err)
	}
	first := waitEvent(t, changed).Data.(StateChangedEvent)
	if first.Old.Data != nil || first.New.Data["x"] != 1 {
		t.Fatalf("unexpected state_changed payload %+v", first)
	}

	ag.SetState(ctx, StatePatch{Data: map[string]any{"y": 2}}).Wait()
	data := ag.State().Data
	if len(data) != 1 || data["y"] != 2 {
		t.Fatalf("data should be replaced, got %v", data)
	}
	if ag.State().Status != StatusIdle {
		t.Fatalf("status must be untouched by SetState")
	}
}

func TestSetStateClearsFields(t *testing.T) {
	ag := newAgent(t, Config{})
	ctx := context.Background()
	ag.SetState(ctx, StatePatch{
		Data:       map[string]any{"k": "v"},
		LastAction: &Action{Type: "buy"},
	}).Wait()

	ag.SetState(ctx, StatePatch{ClearLastAction: true}).Wait()
	state := ag.State()
	if state.LastAction != nil || state.Data["k"] != "v" {
		t.Fatalf("only last action should be cleared: %+v", state)
	}

	ag.SetState(ctx, StatePatch{ClearData: true}).Wait()
	if ag.State().Data != nil {
		t.Fatalf("data should be cleared, got %v", ag.State().Data)
	}

	ag.SetState(ctx, StatePatch{ClearData: true, Data: map[string]any{"fresh": true}}).Wait()
	if ag.State().Data["fresh"] != true {
		t.Fatalf("explicit data should win over clear")
	}
}

func TestStateIsDefensiveCopy(t *testing.T) {
	ag := newAgent(t, Config{})
	ctx := context.Background()
	ag.SetState(ctx, StatePatch{
		Data:       map[string]any{"k": "v"},
		LastAction: &Action{Type: "hold", Params: map[string]any{"p": 1}},
	}).Wait()

	snapshot := ag.State()
	snapshot.Data["k"] = "mutated"
	snapshot.LastAction.Params["p"] = 99
	snapshot.Status = StatusError

	fresh := ag.State()
	if fresh.Data["k"] != "v" || fresh.LastAction.Params["p"] != 1 || fresh.Status != StatusIdle {
		t.Fatalf("internal state mutated through snapshot: %+v", fresh)
	}
}

func TestDeployOnMockChain(t *testing.T) {
	mc := mockchain.New(mockchain.WithSeed(7), mockchain.WithSuccessRate(1))
	ag := newAgent(t, Config{PrivateKey: "operator"}, WithConnector(mc))
	ctx := context.Background()
	deployed := capture(ag, EventDeployed)

	result, err := ag.Deploy(ctx, web3.DeployOptions{Bytecode: []byte{0x60, 0x00}})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if result.ContractAddress == "" || result.TxHash == "" || result.Network != "mock" {
		t.Fatalf("unexpected deployment %+v", result)
	}
	waitEvent(t, deployed)
	if ag.State().ContractAddress != result.ContractAddress || ag.Config().ContractAddress != result.ContractAddress {
		t.Fatalf("address not persisted")
	}

	exec, err := ag.Execute(ctx, Action{Type: "buy", Params: map[string]any{"token": "ETH"}})
	if err != nil {
		t.Fatalf("execute after deploy: %v", err)
	}
	state, _ := mc.ContractState(result.ContractAddress)
	if state["lastMethod"] != "buy" || state["lastPayload"] != `{"token":"ETH"}` {
		t.Fatalf("unexpected contract state %v", state)
	}
	if tx, ok := mc.Transaction(exec.TxHash); !ok || !tx.Success {
		t.Fatalf("transaction %s not on ledger", exec.TxHash)
	}
}

func TestDeployFailuresPersistNothing(t *testing.T) {
	ctx := context.Background()

	ag := newAgent(t, Config{})
	if _, err := ag.Deploy(ctx, web3.DeployOptions{}); !xerrors.IsDeployment(err) {
		t.Fatalf("missing credential: expected deployment error, got %v", err)
	}

	chain := &fakeChain{contract: &fakeContract{}, deployErr: errors.New("out of gas")}
	ag = newAgent(t, Config{PrivateKey: "key"}, WithConnector(connectorFor(chain)))
	_, err := ag.Deploy(ctx, web3.DeployOptions{})
	if !xerrors.IsDeployment(err) || !errors.Is(err, xerrors.ErrDeployment) || !strings.Contains(err.Error(), "out of gas") {
		t.Fatalf("expected deployment error, got %v", err)
	}
	if ag.State().ContractAddress != "" || ag.Config().ContractAddress != "" || ag.Chain() != nil {
		t.Fatalf("failed deployment left state behind")
	}
	if chain.closed != 1 {
		t.Fatalf("fresh connection should be closed on failure")
	}
}

func TestTriggersForwardChainEvents(t *testing.T) {
	mc := mockchain.New(mockchain.WithSeed(1))
	ag := newAgent(t, Config{Triggers: []string{"price_change"}}, WithConnector(mc))
	ctx := context.Background()
	received := capture(ag, "price_change")

	if err := ag.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := ag.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mc.EmitChainEvent(ctx, "price_change", map[string]any{"change": -7.5}).Wait(); err != nil {
		t.Fatalf("emit: %v", err)
	}
	evt := waitEvent(t, received)
	ce, ok := evt.Data.(web3.ChainEvent)
	if !ok || ce.Data["change"] != -7.5 || evt.Source != "trader" {
		t.Fatalf("unexpected forwarded event %+v", evt)
	}

	if err := ag.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if n := mc.Events().Count("price_change"); n != 0 {
		t.Fatalf("subscriptions left after stop: %d", n)
	}
}

func TestEventSinkReceivesBusEvents(t *testing.T) {
	mem := sink.NewMemory()
	ag := newAgent(t, Config{}, WithEventSink(mem))
	started := capture(ag, EventStarted)

	if err := ag.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitEvent(t, started)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, evt := range mem.Events() {
			if evt.Type == EventStarted && evt.Source == "trader" {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("started event never reached the sink: %+v", mem.Events())
}

func TestOffEventStopsDelivery(t *testing.T) {
	ag := newAgent(t, Config{})
	ctx := context.Background()
	var calls int
	var mu sync.Mutex
	id := ag.OnEvent("tick", func(context.Context, eventbus.Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	ag.Emit(ctx, "tick", nil).Wait()
	if !ag.OffEvent("tick", id) {
		t.Fatalf("expected handler removal")
	}
	if ag.OffEvent("tick", id) {
		t.Fatalf("second removal should be a no-op")
	}
	ag.Emit(ctx, "tick", nil).Wait()
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}
