package mockchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentKit-Chain/internal/eventbus"
	"AgentKit-Chain/internal/web3"
)

// EventActionExecuted mirrors the agent contract's ActionExecuted log.
const EventActionExecuted = "ActionExecuted"

// Connect implements web3.Connector. Every session shares the same ledger.
func (m *MockChain) Connect(_ context.Context, network web3.Network, credential string) (web3.Chain, error) {
	return &session{ledger: m, network: network, from: addressFor(credential)}, nil
}

// EmitChainEvent publishes a named on-chain event to subscribers, standing in
// for logs a real contract would produce.
func (m *MockChain) EmitChainEvent(ctx context.Context, name string, data map[string]any) *eventbus.Dispatch {
	latest := m.LatestBlock()
	return m.bus.Publish(ctx, name, web3.ChainEvent{
		Name:        name,
		BlockNumber: latest.Number,
		Data:        data,
	}, "mockchain")
}

func addressFor(credential string) string {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ""
	}
	if key, err := crypto.HexToECDSA(strings.TrimPrefix(credential, "0x")); err == nil {
		return crypto.PubkeyToAddress(key.PublicKey).Hex()
	}
	return common.BytesToAddress(crypto.Keccak256([]byte(credential))).Hex()
}

type session struct {
	ledger  *MockChain
	network web3.Network
	from    string
}

func (s *session) Network() web3.Network { return s.network }

func (s *session) Attach(_ context.Context, address string) (web3.Contract, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address %q", address)
	}
	address = common.HexToAddress(address).Hex()
	if _, ok := s.ledger.ContractState(address); !ok {
		return nil, fmt.Errorf("no contract deployed at %s", address)
	}
	return &contract{session: s, address: address}, nil
}

func (s *session) Deploy(ctx context.Context, opts web3.DeployOptions) (*web3.DeploymentResult, error) {
	if s.from == "" {
		return nil, errors.New("deployment requires a signing credential")
	}
	address, tx := s.ledger.DeployContract(ctx, s.from, opts.Bytecode, map[string]any{"owner": s.from})
	if !tx.Success {
		return nil, fmt.Errorf("deployment transaction %s reverted", tx.Hash)
	}
	return &web3.DeploymentResult{
		ContractAddress: address,
		TxHash:          tx.Hash,
		GasUsed:         tx.GasUsed,
		Network:         s.network.Name,
	}, nil
}

func (s *session) Subscribe(_ context.Context, event string, sink func(web3.ChainEvent)) (web3.Subscription, error) {
	if sink == nil {
		return nil, errors.New("subscription sink is required")
	}
	id := s.ledger.bus.On(event, func(_ context.Context, evt eventbus.Event) error {
		if ce, ok := evt.Data.(web3.ChainEvent); ok {
			if ce.Timestamp.IsZero() {
				ce.Timestamp = evt.Timestamp
			}
			sink(ce)
		}
		return nil
	})
	return &subscription{bus: s.ledger.bus, event: event, id: id}, nil
}

func (s *session) Close() error { return nil }

type subscription struct {
	once  sync.Once
	bus   *eventbus.Bus
	event string
	id    eventbus.HandlerID
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.Off(s.event, s.id) })
}

type contract struct {
	session *session
	address string
}

func (c *contract) Address() string { return c.address }

func (c *contract) ExecuteAction(ctx context.Context, actionType string, params []byte, _ web3.TxOptions) (web3.PendingTx, error) {
	if c.session.from == "" {
		return nil, errors.New("execution requires a signing credential")
	}
	tx, err := c.session.ledger.CallContract(ctx, c.session.from, c.address, actionType, params)
	if err != nil {
		return nil, err
	}
	if tx.Success {
		c.session.ledger.bus.Publish(ctx, EventActionExecuted, web3.ChainEvent{
			Name:        EventActionExecuted,
			Address:     c.address,
			TxHash:      tx.Hash,
			BlockNumber: tx.BlockNumber,
			Timestamp:   tx.Timestamp,
			Data:        map[string]any{"actionType": actionType, "executor": c.session.from},
		}, "mockchain")
	}
	return pendingTx{tx: tx}, nil
}

func (c *contract) Info(context.Context) (web3.ContractInfo, error) {
	if _, ok := c.session.ledger.ContractState(c.address); !ok {
		return web3.ContractInfo{}, fmt.Errorf("no contract deployed at %s", c.address)
	}
	return web3.ContractInfo{Address: c.address, Network: c.session.network.Name}, nil
}

type pendingTx struct {
	tx Transaction
}

func (p pendingTx) Hash() string { return p.tx.Hash }

func (p pendingTx) Wait(ctx context.Context) (*web3.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &web3.Receipt{
		Hash:        p.tx.Hash,
		GasUsed:     p.tx.GasUsed,
		BlockNumber: p.tx.BlockNumber,
		Success:     p.tx.Success,
	}, nil
}

var (
	_ web3.Connector = (*MockChain)(nil)
	_ web3.Chain     = (*session)(nil)
	_ web3.Contract  = (*contract)(nil)
)
