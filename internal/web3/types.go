package web3

import (
	"context"
	"time"
)

// TxOptions carries caller-specified gas parameters. Zero values let the
// backend estimate.
type TxOptions struct {
	GasLimit uint64
	// GasPrice is a decimal wei amount.
	GasPrice string
}

// Receipt is the confirmed outcome of a submitted transaction.
type Receipt struct {
	Hash        string
	GasUsed     uint64
	BlockNumber uint64
	Success     bool
}

// PendingTx is a submitted transaction awaiting confirmation.
type PendingTx interface {
	Hash() string
	Wait(ctx context.Context) (*Receipt, error)
}

// ContractInfo is the read-only view of an attached contract.
type ContractInfo struct {
	Address  string `json:"address"`
	Network  string `json:"network"`
	CodeSize int    `json:"codeSize"`
}

// Contract is an attached agent contract.
type Contract interface {
	Address() string
	ExecuteAction(ctx context.Context, actionType string, params []byte, opts TxOptions) (PendingTx, error)
	Info(ctx context.Context) (ContractInfo, error)
}

// DeployOptions describes a contract creation.
type DeployOptions struct {
	Network  string
	Bytecode []byte
	// ABI defaults to the agent contract ABI when empty.
	ABI      string
	Args     []any
	GasLimit uint64
	GasPrice string
}

// DeploymentResult is reported once a deployment is confirmed.
type DeploymentResult struct {
	ContractAddress string `json:"contractAddress"`
	TxHash          string `json:"txHash"`
	GasUsed         uint64 `json:"gasUsed"`
	Network         string `json:"network"`
}

// ChainEvent is an on-chain event delivered to a subscription sink.
type ChainEvent struct {
	Name        string         `json:"name"`
	Address     string         `json:"address,omitempty"`
	TxHash      string         `json:"txHash,omitempty"`
	BlockNumber uint64         `json:"blockNumber"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

// Subscription is a live event stream.
type Subscription interface {
	Unsubscribe()
}

// Chain is a connection to one network.
type Chain interface {
	Network() Network
	Attach(ctx context.Context, address string) (Contract, error)
	Deploy(ctx context.Context, opts DeployOptions) (*DeploymentResult, error)
	Subscribe(ctx context.Context, event string, sink func(ChainEvent)) (Subscription, error)
	Close() error
}

// Connector opens a Chain for a network. The credential is the signing key
// and may be empty for read-only use.
type Connector interface {
	Connect(ctx context.Context, network Network, credential string) (Chain, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, network Network, credential string) (Chain, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, network Network, credential string) (Chain, error) {
	return f(ctx, network, credential)
}
