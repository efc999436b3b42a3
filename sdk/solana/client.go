package solana

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/relayprotocol/commitments/types"
)

// Client is the narrow RPC surface the SVM validator needs.
type Client interface {
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

type rpcClient struct {
	client  *rpc.Client
	timeout time.Duration
}

var _ Client = (*rpcClient)(nil)

// Dial connects to the chain's configured RPC endpoint. Every call made
// through the returned client is bounded by the chain's configured timeout.
func Dial(cfg types.ChainConfig) Client {
	return &rpcClient{
		client:  rpc.New(cfg.RPCURL),
		timeout: cfg.RPCTimeout(),
	}
}

func (c *rpcClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	return c.client.GetTransaction(ctx, signature, opts)
}
