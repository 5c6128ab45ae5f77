// Package ethereum connects agents to EVM networks through go-ethereum.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"AgentKit-Chain/internal/web3"
)

// Backend is the subset of an Ethereum client the Chain needs.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Chain implements web3.Chain on top of a go-ethereum backend.
type Chain struct {
	network  web3.Network
	backend  Backend
	agentABI abi.ABI
	key      *ecdsa.PrivateKey
	chainID  *big.Int

	// commit seals pending transactions on backends that do not mine by themselves.
	commit func()
	closer func()

	// Serialises signing so concurrent executions do not reuse a nonce.
	txMu sync.Mutex
}

// Dial connects to network.RPCURL and prepares a signer from credential.
func Dial(ctx context.Context, network web3.Network, credential string) (*Chain, error) {
	rpcURL := strings.TrimSpace(network.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("network %s has no rpc url", network.Name)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", network.Name, err)
	}
	chain, err := newChain(ctx, network, client, credential)
	if err != nil {
		client.Close()
		return nil, err
	}
	chain.closer = client.Close
	return chain, nil
}

// NewSimulated wraps a simulated backend. Transactions are committed as soon
// as they are sent.
func NewSimulated(ctx context.Context, network web3.Network, sim *simulated.Backend, credential string) (*Chain, error) {
	chain, err := newChain(ctx, network, sim.Client(), credential)
	if err != nil {
		return nil, err
	}
	chain.commit = func() { sim.Commit() }
	return chain, nil
}

func newChain(ctx context.Context, network web3.Network, backend Backend, credential string) (*Chain, error) {
	parsed, err := abi.JSON(strings.NewReader(AgentABI))
	if err != nil {
		return nil, fmt.Errorf("parse agent abi: %w", err)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if network.ChainID != 0 && chainID.Int64() != network.ChainID {
		return nil, fmt.Errorf("network %s expects chain id %d, node reports %s", network.Name, network.ChainID, chainID)
	}
	c := &Chain{network: network, backend: backend, agentABI: parsed, chainID: chainID}
	if credential = strings.TrimSpace(credential); credential != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(credential, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		c.key = key
	}
	return c, nil
}

// Network implements web3.Chain.
func (c *Chain) Network() web3.Network { return c.network }

// Close releases the RPC connection.
func (c *Chain) Close() error {
	if c.closer != nil {
		c.closer()
		c.closer = nil
	}
	return nil
}

func (c *Chain) transactor(ctx context.Context, gasLimit uint64, gasPrice string) (*bind.TransactOpts, error) {
	if c.key == nil {
		return nil, errors.New("no signing credential configured")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = gasLimit
	if gasPrice = strings.TrimSpace(gasPrice); gasPrice != "" {
		price, ok := new(big.Int).SetString(gasPrice, 10)
		if !ok {
			return nil, fmt.Errorf("invalid gas price %q", gasPrice)
		}
		opts.GasPrice = price
	}
	return opts, nil
}

func (c *Chain) seal() {
	if c.commit != nil {
		c.commit()
	}
}

// Attach implements web3.Chain. It fails when no code is deployed at address.
func (c *Chain) Attach(ctx context.Context, address string) (web3.Contract, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address %q", address)
	}
	addr := common.HexToAddress(address)
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("read code at %s: %w", addr.Hex(), err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("no contract deployed at %s", addr.Hex())
	}
	bound := bind.NewBoundContract(addr, c.agentABI, c.backend, c.backend, c.backend)
	return &Contract{chain: c, address: addr, bound: bound}, nil
}

// Deploy implements web3.Chain and waits for the creation receipt.
func (c *Chain) Deploy(ctx context.Context, opts web3.DeployOptions) (*web3.DeploymentResult, error) {
	if len(opts.Bytecode) == 0 {
		return nil, errors.New("contract bytecode is empty")
	}
	parsed := c.agentABI
	if strings.TrimSpace(opts.ABI) != "" {
		custom, err := abi.JSON(strings.NewReader(opts.ABI))
		if err != nil {
			return nil, fmt.Errorf("parse abi: %w", err)
		}
		parsed = custom
	}

	c.txMu.Lock()
	auth, err := c.transactor(ctx, opts.GasLimit, opts.GasPrice)
	if err != nil {
		c.txMu.Unlock()
		return nil, err
	}
	address, tx, _, err := bind.DeployContract(auth, parsed, opts.Bytecode, c.backend, opts.Args...)
	if err == nil {
		c.seal()
	}
	c.txMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send deployment: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for deployment %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("deployment %s reverted", tx.Hash().Hex())
	}
	return &web3.DeploymentResult{
		ContractAddress: address.Hex(),
		TxHash:          tx.Hash().Hex(),
		GasUsed:         receipt.GasUsed,
		Network:         c.network.Name,
	}, nil
}

// Subscribe implements web3.Chain. event is either an event name from the
// agent ABI, a full event signature, or a 32-byte topic in hex.
func (c *Chain) Subscribe(ctx context.Context, event string, sink func(web3.ChainEvent)) (web3.Subscription, error) {
	if sink == nil {
		return nil, errors.New("subscription sink is required")
	}
	topic := c.topicFor(event)
	query := gethcore.FilterQuery{Topics: [][]common.Hash{{topic}}}

	logs := make(chan coretypes.Log, 64)
	sub, err := c.backend.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", event, err)
	}

	s := &subscription{sub: sub, done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-sub.Err():
				return
			case entry := <-logs:
				sink(web3.ChainEvent{
					Name:        event,
					Address:     entry.Address.Hex(),
					TxHash:      entry.TxHash.Hex(),
					BlockNumber: entry.BlockNumber,
					Timestamp:   time.Now(),
					Data: map[string]any{
						"topics": topicsHex(entry.Topics),
						"data":   common.Bytes2Hex(entry.Data),
					},
				})
			}
		}
	}()
	return s, nil
}

func (c *Chain) topicFor(event string) common.Hash {
	event = strings.TrimSpace(event)
	if ev, ok := c.agentABI.Events[event]; ok {
		return ev.ID
	}
	if strings.HasPrefix(event, "0x") && len(event) == 66 {
		return common.HexToHash(event)
	}
	return crypto.Keccak256Hash([]byte(event))
}

func topicsHex(topics []common.Hash) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = t.Hex()
	}
	return out
}

type subscription struct {
	once sync.Once
	sub  gethcore.Subscription
	done chan struct{}
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.sub.Unsubscribe()
	})
}

var _ web3.Chain = (*Chain)(nil)
