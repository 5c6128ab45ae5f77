// Package provider routes a network to the backend that can serve it.
package provider

import (
	"context"
	"fmt"
	"strings"

	"AgentKit-Chain/internal/web3"
	"AgentKit-Chain/internal/web3/ethereum"
	"AgentKit-Chain/internal/web3/mockchain"
)

// Connector opens evm networks over JSON-RPC and mock networks on a shared
// in-memory ledger.
type Connector struct {
	mock *mockchain.MockChain
	dial func(ctx context.Context, network web3.Network, credential string) (web3.Chain, error)
}

// Option customises a Connector.
type Option func(*Connector)

// WithMockChain shares an existing ledger with the connector.
func WithMockChain(m *mockchain.MockChain) Option {
	return func(c *Connector) {
		if m != nil {
			c.mock = m
		}
	}
}

// New returns a connector with a fresh mock ledger.
func New(opts ...Option) *Connector {
	c := &Connector{
		dial: func(ctx context.Context, network web3.Network, credential string) (web3.Chain, error) {
			chain, err := ethereum.Dial(ctx, network, credential)
			if err != nil {
				return nil, err
			}
			return chain, nil
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.mock == nil {
		c.mock = mockchain.New()
	}
	return c
}

// MockChain returns the ledger backing mock networks.
func (c *Connector) MockChain() *mockchain.MockChain { return c.mock }

// Connect implements web3.Connector.
func (c *Connector) Connect(ctx context.Context, network web3.Network, credential string) (web3.Chain, error) {
	kind := strings.ToLower(strings.TrimSpace(network.Type))
	if kind == "" {
		kind = web3.TypeEVM
	}
	switch kind {
	case web3.TypeEVM:
		return c.dial(ctx, network, credential)
	case web3.TypeMock:
		return c.mock.Connect(ctx, network, credential)
	default:
		return nil, fmt.Errorf("network %s uses unsupported type %s", network.Name, network.Type)
	}
}

var _ web3.Connector = (*Connector)(nil)
