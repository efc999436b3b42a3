package evm

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/relayprotocol/commitments/types"
)

// Client is the narrow RPC surface the EVM validator needs: transaction,
// receipt and header retrieval plus the debug call-trace method.
type Client interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	TraceTransaction(ctx context.Context, hash common.Hash) (*CallFrame, error)
}

type rpcClient struct {
	eth     *ethclient.Client
	rpc     *rpc.Client
	timeout time.Duration
}

var _ Client = (*rpcClient)(nil)

// Dial connects to the chain's configured RPC endpoint. Every call made
// through the returned client is bounded by the chain's configured timeout.
func Dial(ctx context.Context, cfg types.ChainConfig) (Client, error) {
	rc, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}

	return &rpcClient{
		eth:     ethclient.NewClient(rc),
		rpc:     rc,
		timeout: cfg.RPCTimeout(),
	}, nil
}

func (c *rpcClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.timeout)
}

func (c *rpcClient) TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	return c.eth.TransactionByHash(ctx, hash)
}

func (c *rpcClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	return c.eth.TransactionReceipt(ctx, hash)
}

func (c *rpcClient) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	return c.eth.HeaderByNumber(ctx, number)
}

func (c *rpcClient) TraceTransaction(ctx context.Context, hash common.Hash) (*CallFrame, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var frame CallFrame
	err := c.rpc.CallContext(ctx, &frame, "debug_traceTransaction", hash, map[string]any{
		"tracer": "callTracer",
	})
	if err != nil {
		return nil, err
	}

	return &frame, nil
}
