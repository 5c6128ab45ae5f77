package ethereum

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"AgentKit-Chain/internal/web3"
)

// Contract is an attached agent contract.
type Contract struct {
	chain   *Chain
	address common.Address
	bound   *bind.BoundContract
}

// Address implements web3.Contract.
func (c *Contract) Address() string { return c.address.Hex() }

// ExecuteAction sends executeAction(actionType, params).
func (c *Contract) ExecuteAction(ctx context.Context, actionType string, params []byte, opts web3.TxOptions) (web3.PendingTx, error) {
	c.chain.txMu.Lock()
	defer c.chain.txMu.Unlock()

	auth, err := c.chain.transactor(ctx, opts.GasLimit, opts.GasPrice)
	if err != nil {
		return nil, err
	}
	tx, err := c.bound.Transact(auth, executeMethod, actionType, params)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", actionType, err)
	}
	c.chain.seal()
	return &pendingTx{backend: c.chain.backend, tx: tx}, nil
}

// Info implements web3.Contract.
func (c *Contract) Info(ctx context.Context) (web3.ContractInfo, error) {
	code, err := c.chain.backend.CodeAt(ctx, c.address, nil)
	if err != nil {
		return web3.ContractInfo{}, fmt.Errorf("read code at %s: %w", c.address.Hex(), err)
	}
	return web3.ContractInfo{
		Address:  c.address.Hex(),
		Network:  c.chain.network.Name,
		CodeSize: len(code),
	}, nil
}

type pendingTx struct {
	backend bind.DeployBackend
	tx      *coretypes.Transaction
}

func (p *pendingTx) Hash() string { return p.tx.Hash().Hex() }

func (p *pendingTx) Wait(ctx context.Context) (*web3.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, p.backend, p.tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", p.Hash(), err)
	}
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return &web3.Receipt{
		Hash:        p.Hash(),
		GasUsed:     receipt.GasUsed,
		BlockNumber: block,
		Success:     receipt.Status == coretypes.ReceiptStatusSuccessful,
	}, nil
}

var _ web3.Contract = (*Contract)(nil)
