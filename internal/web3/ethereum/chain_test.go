package ethereum

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"AgentKit-Chain/internal/web3"
)

const (
	// Runtime emits LOG1 with a fixed topic for any call and stops.
	loggingContractBin   = "0x6027600c60003960276000f37f0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2060006000a100"
	loggingContractTopic = "0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
)

func newSimulatedChain(t *testing.T, withKey bool) (*Chain, *simulated.Backend) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	balance, _ := new(big.Int).SetString("1000000000000000000000", 10)
	sim := simulated.NewBackend(coretypes.GenesisAlloc{from: {Balance: balance}}, simulated.WithBlockGasLimit(8_000_000))
	t.Cleanup(func() { _ = sim.Close() })

	credential := ""
	if withKey {
		credential = "0x" + hex.EncodeToString(crypto.FromECDSA(key))
	}
	network := web3.Network{Name: "simulated", ChainID: 1337, Type: web3.TypeEVM}
	chain, err := NewSimulated(context.Background(), network, sim, credential)
	if err != nil {
		t.Fatalf("new simulated chain: %v", err)
	}
	t.Cleanup(func() { _ = chain.Close() })
	return chain, sim
}

func TestDeployAttachExecuteSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	chain, _ := newSimulatedChain(t, true)

	result, err := chain.Deploy(ctx, web3.DeployOptions{Bytecode: common.FromHex(loggingContractBin), GasLimit: 1_000_000})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if result.ContractAddress == (common.Address{}).Hex() || result.TxHash == "" || result.GasUsed == 0 {
		t.Fatalf("unexpected deployment %+v", result)
	}
	if result.Network != "simulated" {
		t.Fatalf("unexpected network %s", result.Network)
	}

	events := make(chan web3.ChainEvent, 4)
	sub, err := chain.Subscribe(ctx, loggingContractTopic, func(ev web3.ChainEvent) { events <- ev })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	contract, err := chain.Attach(ctx, result.ContractAddress)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	info, err := contract.Info(ctx)
	if err != nil || info.CodeSize == 0 {
		t.Fatalf("unexpected info %+v err=%v", info, err)
	}

	pending, err := contract.ExecuteAction(ctx, "rebalance", []byte(`{"pool":"eth-usdc"}`), web3.TxOptions{GasLimit: 200_000})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	receipt, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !receipt.Success || receipt.GasUsed <= 21000 || receipt.Hash != pending.Hash() {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	select {
	case ev := <-events:
		if ev.Address != result.ContractAddress || ev.TxHash != receipt.Hash {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for contract log")
	}
}

func TestAttachWithoutCodeFails(t *testing.T) {
	chain, _ := newSimulatedChain(t, false)
	if _, err := chain.Attach(context.Background(), "0x000000000000000000000000000000000000dEaD"); err == nil {
		t.Fatalf("expected attach error for empty account")
	}
	if _, err := chain.Attach(context.Background(), "not-an-address"); err == nil {
		t.Fatalf("expected attach error for malformed address")
	}
}

func TestDeployRequiresCredential(t *testing.T) {
	chain, _ := newSimulatedChain(t, false)
	_, err := chain.Deploy(context.Background(), web3.DeployOptions{Bytecode: common.FromHex(loggingContractBin)})
	if err == nil {
		t.Fatalf("expected error without signing key")
	}
}

func TestChainIDMismatch(t *testing.T) {
	sim := simulated.NewBackend(coretypes.GenesisAlloc{})
	defer sim.Close()
	_, err := NewSimulated(context.Background(), web3.Network{Name: "wrong", ChainID: 1}, sim, "")
	if err == nil {
		t.Fatalf("expected chain id mismatch error")
	}
}

func TestTopicResolution(t *testing.T) {
	chain, _ := newSimulatedChain(t, false)
	if got := chain.topicFor("ActionExecuted"); got != chain.agentABI.Events["ActionExecuted"].ID {
		t.Fatalf("abi event not resolved: %s", got.Hex())
	}
	if got := chain.topicFor(loggingContractTopic); got.Hex() != loggingContractTopic {
		t.Fatalf("raw topic not preserved: %s", got.Hex())
	}
	if got := chain.topicFor("Transfer(address,address,uint256)"); got != crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")) {
		t.Fatalf("signature not hashed: %s", got.Hex())
	}
}
