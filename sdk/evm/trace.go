package evm

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CallFrame is one node of the recursive call trace returned by the
// callTracer. "Reverted" is a field, not control flow, so skipping a subtree
// is an ordinary predicate over the node.
type CallFrame struct {
	Type   string         `json:"type"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Input  hexutil.Bytes  `json:"input"`
	Output hexutil.Bytes  `json:"output"`
	Value  *hexutil.Big   `json:"value"`
	Error  string         `json:"error"`
	Calls  []CallFrame    `json:"calls"`
}

// TraceCall is one effective internal call, flattened from the trace tree.
type TraceCall struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

// flattenCalls walks the trace in pre-order and collects the calls that had
// effects: a reverted node or a staticcall hides itself and its whole
// subtree. Some RPCs return uppercased call types, so the comparison is
// case-insensitive.
func flattenCalls(frame *CallFrame) []TraceCall {
	if frame.Error != "" {
		return nil
	}
	if strings.EqualFold(frame.Type, "staticcall") {
		return nil
	}

	value := new(big.Int)
	if frame.Value != nil {
		value = frame.Value.ToInt()
	}

	calls := []TraceCall{{
		From:  frame.From,
		To:    frame.To,
		Data:  frame.Input,
		Value: value,
	}}
	for i := range frame.Calls {
		calls = append(calls, flattenCalls(&frame.Calls[i])...)
	}

	return calls
}

// traceCache fetches and flattens a transaction's call trace at most once per
// validation, so amount extraction and call matching share one expensive RPC.
type traceCache struct {
	client Client
	txHash common.Hash

	loaded bool
	calls  []TraceCall
	err    error
}

func (t *traceCache) get(ctx context.Context) ([]TraceCall, error) {
	if t.loaded {
		return t.calls, t.err
	}
	t.loaded = true

	frame, err := t.client.TraceTransaction(ctx, t.txHash)
	if err != nil {
		t.err = err
		return nil, err
	}

	t.calls = flattenCalls(frame)

	return t.calls, nil
}
