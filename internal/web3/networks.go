package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Network types understood by the provider package.
const (
	TypeEVM  = "evm"
	TypeMock = "mock"
)

// Network describes a ledger endpoint.
type Network struct {
	Name        string `yaml:"name" json:"name"`
	ChainID     int64  `yaml:"chain_id" json:"chainId"`
	RPCURL      string `yaml:"rpc_url" json:"rpcUrl"`
	ExplorerURL string `yaml:"explorer_url" json:"explorerUrl"`
	Type        string `yaml:"type" json:"type"`
}

var builtinNetworks = []Network{
	{Name: "mainnet", ChainID: 1, RPCURL: "https://ethereum-rpc.publicnode.com", ExplorerURL: "https://etherscan.io", Type: TypeEVM},
	{Name: "testnet", ChainID: 11155111, RPCURL: "https://ethereum-sepolia-rpc.publicnode.com", ExplorerURL: "https://sepolia.etherscan.io", Type: TypeEVM},
	{Name: "local", ChainID: 1337, RPCURL: "http://127.0.0.1:8545", Type: TypeEVM},
	{Name: "mock", ChainID: 31337, Type: TypeMock},
}

// Registry maps network names to descriptors.
type Registry struct {
	mu       sync.RWMutex
	networks map[string]Network
}

// NewRegistry returns a registry holding the built-in networks.
func NewRegistry() *Registry {
	r := &Registry{networks: make(map[string]Network, len(builtinNetworks))}
	for _, n := range builtinNetworks {
		r.networks[n.Name] = n
	}
	return r
}

// Register adds or replaces a network. An empty type defaults to evm.
func (r *Registry) Register(n Network) error {
	n.Name = strings.TrimSpace(n.Name)
	if n.Name == "" {
		return fmt.Errorf("network name is required")
	}
	n.Type = strings.ToLower(strings.TrimSpace(n.Type))
	if n.Type == "" {
		n.Type = TypeEVM
	}
	if n.Type != TypeEVM && n.Type != TypeMock {
		return fmt.Errorf("network %s has unsupported type %q", n.Name, n.Type)
	}
	if n.Type == TypeEVM && strings.TrimSpace(n.RPCURL) == "" {
		return fmt.Errorf("network %s requires an rpc_url", n.Name)
	}
	r.mu.Lock()
	r.networks[n.Name] = n
	r.mu.Unlock()
	return nil
}

// Resolve looks a network up by name.
func (r *Registry) Resolve(name string) (Network, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.networks[strings.TrimSpace(name)]
	if !ok {
		return Network{}, fmt.Errorf("unknown network %q", name)
	}
	return n, nil
}

// Networks lists every registered network sorted by name.
func (r *Registry) Networks() []Network {
	r.mu.RLock()
	out := make([]Network, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type networkFile struct {
	Networks map[string]Network `yaml:"networks"`
}

// LoadFile overlays the networks defined in a YAML file:
//
//	networks:
//	  devnet:
//	    chain_id: 1337
//	    rpc_url: http://127.0.0.1:8545
//
// An empty path is a no-op.
func (r *Registry) LoadFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read network definitions: %w", err)
	}
	var defs networkFile
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return fmt.Errorf("parse network definitions: %w", err)
	}
	names := make([]string, 0, len(defs.Networks))
	for name := range defs.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		n := defs.Networks[name]
		if n.Name == "" {
			n.Name = name
		}
		if err := r.Register(n); err != nil {
			return err
		}
	}
	return nil
}
