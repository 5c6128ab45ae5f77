// Package mockchain provides an in-memory ledger for tests and simulations.
// Blocks carry monotonically increasing numbers, submitted transactions
// succeed with a configurable probability and receive pseudo-random gas.
package mockchain

import (
	"context"
	"fmt"
	"maps"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentKit-Chain/internal/eventbus"
)

const (
	// EventTransaction is emitted for every transaction appended to a block.
	EventTransaction = "transaction"
	// EventBlock is emitted for every minted block.
	EventBlock = "block"

	defaultSuccessRate   = 0.9
	defaultBlockInterval = 2 * time.Second
	minGas               = 21000
	gasSpread            = 30000
)

// Transaction is a ledger entry.
type Transaction struct {
	Hash        string    `json:"hash"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	Data        []byte    `json:"data,omitempty"`
	GasUsed     uint64    `json:"gasUsed"`
	Success     bool      `json:"success"`
	BlockNumber uint64    `json:"blockNumber"`
	Timestamp   time.Time `json:"timestamp"`
}

// TxRequest is a partial transaction; unset fields are filled by SendTransaction.
type TxRequest struct {
	From    string
	To      string
	Data    []byte
	Hash    string
	GasUsed uint64
	Success *bool
}

// Block groups transactions.
type Block struct {
	Number       uint64        `json:"number"`
	Hash         string        `json:"hash"`
	ParentHash   string        `json:"parentHash"`
	Timestamp    time.Time     `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
}

func (b Block) clone() Block {
	b.Transactions = append([]Transaction(nil), b.Transactions...)
	return b
}

// Option configures a MockChain.
type Option func(*MockChain)

// WithSeed fixes the pseudo-random source and hash derivation.
func WithSeed(seed int64) Option {
	return func(m *MockChain) { m.seed = seed }
}

// WithSuccessRate overrides the default 90% transaction success probability.
func WithSuccessRate(rate float64) Option {
	return func(m *MockChain) {
		if rate >= 0 && rate <= 1 {
			m.successRate = rate
		}
	}
}

// WithBlockInterval sets how often Start mints an empty block.
func WithBlockInterval(d time.Duration) Option {
	return func(m *MockChain) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithEventBus publishes ledger events on an existing bus.
func WithEventBus(bus *eventbus.Bus) Option {
	return func(m *MockChain) { m.bus = bus }
}

// MockChain is an in-memory ledger.
type MockChain struct {
	mu          sync.Mutex
	seed        int64
	successRate float64
	interval    time.Duration
	rng         *rand.Rand
	nonce       uint64
	blocks      []Block
	contracts   map[string]map[string]any
	bus         *eventbus.Bus

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a ledger holding only the genesis block.
func New(opts ...Option) *MockChain {
	m := &MockChain{
		seed:        time.Now().UnixNano(),
		successRate: defaultSuccessRate,
		interval:    defaultBlockInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.bus == nil {
		m.bus = eventbus.New()
	}
	m.resetLocked()
	return m
}

// Events exposes the bus ledger events are published on.
func (m *MockChain) Events() *eventbus.Bus { return m.bus }

func (m *MockChain) resetLocked() {
	m.rng = rand.New(rand.NewSource(m.seed))
	m.nonce = 0
	m.contracts = make(map[string]map[string]any)
	m.blocks = []Block{{
		Number:     0,
		Hash:       m.hashLocked("genesis"),
		ParentHash: common.Hash{}.Hex(),
		Timestamp:  time.Now(),
	}}
}

func (m *MockChain) hashLocked(kind string) string {
	m.nonce++
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%s:%d:%d", kind, m.seed, m.nonce))).Hex()
}

// Reset discards every block, transaction and contract and starts over from a
// fresh genesis block.
func (m *MockChain) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

// Start launches the background minting loop. Calling it while running is a no-op.
func (m *MockChain) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.mint(loopCtx, m.interval, m.done)
}

// Stop halts the minting loop and waits for it to exit.
func (m *MockChain) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the minting loop is active.
func (m *MockChain) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *MockChain) mint(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.MineBlock(ctx)
		}
	}
}

// MineBlock appends an empty block and returns it.
func (m *MockChain) MineBlock(ctx context.Context) Block {
	m.mu.Lock()
	parent := m.blocks[len(m.blocks)-1]
	block := Block{
		Number:     parent.Number + 1,
		Hash:       m.hashLocked("block"),
		ParentHash: parent.Hash,
		Timestamp:  time.Now(),
	}
	m.blocks = append(m.blocks, block)
	m.mu.Unlock()

	m.bus.Publish(ctx, EventBlock, block, "mockchain")
	return block
}

// SendTransaction fills in defaults for req, appends the transaction to the
// latest block and emits a transaction event.
func (m *MockChain) SendTransaction(ctx context.Context, req TxRequest) Transaction {
	m.mu.Lock()
	tx := m.appendLocked(req)
	m.mu.Unlock()

	m.bus.Publish(ctx, EventTransaction, tx, "mockchain")
	return tx
}

func (m *MockChain) appendLocked(req TxRequest) Transaction {
	tx := Transaction{
		Hash:      req.Hash,
		From:      req.From,
		To:        req.To,
		Data:      append([]byte(nil), req.Data...),
		GasUsed:   req.GasUsed,
		Timestamp: time.Now(),
	}
	if tx.Hash == "" {
		tx.Hash = m.hashLocked("tx")
	}
	if req.Success != nil {
		tx.Success = *req.Success
	} else {
		tx.Success = m.rng.Float64() < m.successRate
	}
	if tx.GasUsed == 0 {
		tx.GasUsed = minGas + uint64(m.rng.Intn(gasSpread))
	}
	latest := &m.blocks[len(m.blocks)-1]
	tx.BlockNumber = latest.Number
	latest.Transactions = append(latest.Transactions, tx)
	return tx
}

// DeployContract records a contract creation. The contract state is tracked
// only when the creation transaction succeeds.
func (m *MockChain) DeployContract(ctx context.Context, from string, code []byte, initial map[string]any) (string, Transaction) {
	m.mu.Lock()
	address := crypto.CreateAddress(common.HexToAddress(from), m.nonce).Hex()
	tx := m.appendLocked(TxRequest{From: from, Data: code})
	if tx.Success {
		state := make(map[string]any, len(initial)+1)
		maps.Copy(state, initial)
		m.contracts[address] = state
	}
	m.mu.Unlock()

	m.bus.Publish(ctx, EventTransaction, tx, "mockchain")
	return address, tx
}

// CallContract submits a call against a deployed contract. Successful calls
// record the method and payload in the contract state.
func (m *MockChain) CallContract(ctx context.Context, from, address, method string, payload []byte) (Transaction, error) {
	m.mu.Lock()
	state, ok := m.contracts[address]
	if !ok {
		m.mu.Unlock()
		return Transaction{}, fmt.Errorf("no contract at %s", address)
	}
	tx := m.appendLocked(TxRequest{From: from, To: address, Data: payload})
	if tx.Success {
		calls, _ := state["calls"].(int)
		state["calls"] = calls + 1
		state["lastMethod"] = method
		state["lastPayload"] = string(payload)
	}
	m.mu.Unlock()

	m.bus.Publish(ctx, EventTransaction, tx, "mockchain")
	return tx, nil
}

// ContractState returns a copy of the tracked state for address.
func (m *MockChain) ContractState(address string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.contracts[address]
	if !ok {
		return nil, false
	}
	return maps.Clone(state), true
}

// Blocks returns a copy of the ledger.
func (m *MockChain) Blocks() []Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Block, len(m.blocks))
	for i, b := range m.blocks {
		out[i] = b.clone()
	}
	return out
}

// LatestBlock returns a copy of the newest block.
func (m *MockChain) LatestBlock() Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks[len(m.blocks)-1].clone()
}

// Transaction looks a transaction up by hash.
func (m *MockChain) Transaction(hash string) (Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.blocks) - 1; i >= 0; i-- {
		for _, tx := range m.blocks[i].Transactions {
			if tx.Hash == hash {
				return tx, true
			}
		}
	}
	return Transaction{}, false
}
