package evm

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/relayprotocol/commitments/sdk"
	"github.com/relayprotocol/commitments/types"
)

// NativeCurrency is the sentinel currency value denoting the chain's native
// asset, selecting value-transfer evidence rules over token-transfer rules.
const NativeCurrency = "0x0000000000000000000000000000000000000000"

var (
	transferTopic     = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	relayDepositTopic = crypto.Keccak256Hash([]byte("RelayDeposit(bytes32,address,address,uint256)"))

	// erc20ABI covers the token transfer shapes recognized as direct token
	// payments.
	erc20ABI = mustParseABI(`[
		{"type":"function","name":"transfer","inputs":[
			{"name":"to","type":"address"},{"name":"amount","type":"uint256"}]},
		{"type":"function","name":"transferFrom","inputs":[
			{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}]},
		{"type":"function","name":"transferWithAuthorization","inputs":[
			{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"},
			{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},
			{"name":"nonce","type":"bytes32"},{"name":"signature","type":"bytes"}]}
	]`)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}

	return parsed
}

var _ sdk.TxValidator = (*Validator)(nil)

// Validator is the sdk.TxValidator implementation for EVM chains. Clients are
// dialed once per chain and reused across validations, so idle connections
// are pooled rather than leaked.
type Validator struct {
	dial func(ctx context.Context, cfg types.ChainConfig) (Client, error)

	mu      sync.Mutex
	clients map[string]Client
}

// NewTxValidator creates a new EVM transaction validator.
func NewTxValidator() *Validator {
	return NewTxValidatorWithClient(Dial)
}

// NewTxValidatorWithClient creates a validator whose RPC connections are
// produced by the given dialer. Used by tests to inject fake clients.
func NewTxValidatorWithClient(dial func(ctx context.Context, cfg types.ChainConfig) (Client, error)) *Validator {
	return &Validator{dial: dial, clients: map[string]Client{}}
}

func (v *Validator) clientFor(ctx context.Context, chain string, cfg types.ChainConfig) (Client, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if client, ok := v.clients[chain]; ok {
		return client, nil
	}

	client, err := v.dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	v.clients[chain] = client

	return client, nil
}

// evidence is the mined-transaction material shared by all validation paths.
type evidence struct {
	client       Client
	tx           *gethtypes.Transaction
	receipt      *gethtypes.Receipt
	commitmentID common.Hash
	markers      markerSet
}

// markerSet records where in the transaction the commitment id was found.
// The id must appear in exactly one recognized place; ambiguity is rejected
// rather than resolved heuristically.
type markerSet struct {
	calldataDirect bool // input data is exactly the commitment id
	calldataSuffix bool // input data ends with the commitment id
	depositLog     bool // a RelayDeposit log carries the commitment id
}

func (m markerSet) count() int {
	n := 0
	for _, set := range []bool{m.calldataDirect, m.calldataSuffix, m.depositLog} {
		if set {
			n++
		}
	}

	return n
}

func detectMarkers(id common.Hash, data []byte, logs []*gethtypes.Log) markerSet {
	var m markerSet
	if len(data) == types.CommitmentIDLength {
		m.calldataDirect = bytes.Equal(data, id.Bytes())
	}
	if len(data) > types.CommitmentIDLength {
		m.calldataSuffix = bytes.Equal(data[len(data)-types.CommitmentIDLength:], id.Bytes())
	}
	for _, log := range logs {
		if len(log.Topics) == 4 && log.Topics[0] == relayDepositTopic && log.Topics[1] == id {
			m.depositLog = true
		}
	}

	return m
}

// fetchEvidence retrieves the mined transaction and receipt, checks that the
// transaction succeeded, and locates the commitment binding marker.
func (v *Validator) fetchEvidence(
	ctx context.Context,
	chainConfigs map[string]types.ChainConfig,
	chain string,
	commitment types.Commitment,
	transactionID string,
) (*evidence, *sdk.ValidationResult) {
	fail := func(r sdk.ValidationResult) (*evidence, *sdk.ValidationResult) {
		return nil, &r
	}

	cfg, ok := chainConfigs[chain]
	if !ok {
		return fail(sdk.Failure(sdk.ReasonUnsupportedChain))
	}
	if cfg.VMType != types.VMTypeEVM {
		return fail(sdk.Failure(sdk.ReasonWrongVMType))
	}

	txHashBytes, err := hexutil.Decode(transactionID)
	if err != nil || len(txHashBytes) != common.HashLength {
		return fail(sdk.Failuref(sdk.ReasonMissingTransaction, "invalid transaction id %q", transactionID))
	}
	txHash := common.BytesToHash(txHashBytes)

	client, err := v.clientFor(ctx, chain, cfg)
	if err != nil {
		sdk.LoggerFrom(ctx).Warnf("failed to dial %s: %v", chain, err)

		return fail(sdk.Failuref(sdk.ReasonRPCError, "failed to dial %s: %v", chain, err))
	}

	tx, pending, err := client.TransactionByHash(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return fail(sdk.Failure(sdk.ReasonMissingTransaction))
	}
	if err != nil {
		sdk.LoggerFrom(ctx).Warnf("failed to get transaction %s on %s: %v", transactionID, chain, err)

		return fail(sdk.Failuref(sdk.ReasonRPCError, "failed to get transaction: %v", err))
	}
	if pending {
		return fail(sdk.Failure(sdk.ReasonMissingTransaction))
	}

	receipt, err := client.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return fail(sdk.Failure(sdk.ReasonMissingTransactionReceipt))
	}
	if err != nil {
		return fail(sdk.Failuref(sdk.ReasonRPCError, "failed to get receipt: %v", err))
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return fail(sdk.Failure(sdk.ReasonTransactionReverted))
	}

	commitmentID, err := commitment.CommitmentID()
	if err != nil {
		return fail(sdk.Failuref(sdk.ReasonInvalidInput, "%v", err))
	}

	markers := detectMarkers(commitmentID, tx.Data(), receipt.Logs)
	if markers.count() > 1 {
		return fail(sdk.Failure(sdk.ReasonMultipleMarkers))
	}
	if markers.count() == 0 {
		return fail(sdk.Failure(sdk.ReasonNonMatchingTransaction))
	}

	return &evidence{
		client:       client,
		tx:           tx,
		receipt:      receipt,
		commitmentID: commitmentID,
		markers:      markers,
	}, nil
}

// ValidateInput confirms the transaction delivered the committed input
// payment to the solver, bound to this commitment.
func (v *Validator) ValidateInput(ctx context.Context, req sdk.InputRequest) sdk.ValidationResult {
	if req.InputIndex < 0 || req.InputIndex >= len(req.Commitment.Inputs) {
		return sdk.Failure(sdk.ReasonInvalidInput)
	}
	input := req.Commitment.Inputs[req.InputIndex]

	ev, failure := v.fetchEvidence(ctx, req.ChainConfigs, input.Chain, req.Commitment, req.TransactionID)
	if failure != nil {
		return *failure
	}

	// Input payments have to land before the commitment deadline.
	if req.Commitment.Deadline > 0 {
		header, err := ev.client.HeaderByNumber(ctx, ev.receipt.BlockNumber)
		if err != nil {
			return sdk.Failuref(sdk.ReasonRPCError, "failed to get header: %v", err)
		}
		if header.Time > uint64(req.Commitment.Deadline) {
			return sdk.Failure(sdk.ReasonDeadlineExceeded)
		}
	}

	return extractPayment(ev, input.Payment.To, input.Payment.Currency)
}

// ValidateRefund confirms the transaction delivered the named refund option
// of the given input, bound to this commitment.
func (v *Validator) ValidateRefund(ctx context.Context, req sdk.RefundRequest) sdk.ValidationResult {
	if req.InputIndex < 0 || req.InputIndex >= len(req.Commitment.Inputs) {
		return sdk.Failure(sdk.ReasonInvalidInput)
	}
	input := req.Commitment.Inputs[req.InputIndex]

	if req.RefundIndex < 0 || req.RefundIndex >= len(input.Refunds) {
		return sdk.Failure(sdk.ReasonInvalidRefund)
	}
	refund := input.Refunds[req.RefundIndex]

	ev, failure := v.fetchEvidence(ctx, req.ChainConfigs, refund.Chain, req.Commitment, req.TransactionID)
	if failure != nil {
		return *failure
	}

	return extractPayment(ev, refund.To, refund.Currency)
}

// extractPayment finds the amount delivered to the expected recipient in the
// expected currency, using the evidence rules selected by the binding marker:
// a direct native transfer, a direct token transfer with the id appended to
// calldata, or a deposit-contract log.
func extractPayment(ev *evidence, to, currency string) sdk.ValidationResult {
	toAddr := common.HexToAddress(to)
	currencyAddr := common.HexToAddress(currency)

	// Case 1: direct native payment.
	if ev.tx.To() != nil && *ev.tx.To() == toAddr {
		if strings.EqualFold(currency, NativeCurrency) && ev.markers.calldataDirect {
			return sdk.Success(ev.tx.Value())
		}

		return sdk.Failure(sdk.ReasonNonMatchingTransaction)
	}

	// Case 2: direct token payment.
	if ev.tx.To() != nil && *ev.tx.To() == currencyAddr {
		recipient, amount, ok := parseTokenTransfer(ev.tx.Data())
		if ok && recipient == toAddr && ev.markers.calldataSuffix {
			return sdk.Success(amount)
		}

		return sdk.Failure(sdk.ReasonNonMatchingTransaction)
	}

	// Case 3: deposit contract payment.
	for _, log := range ev.receipt.Logs {
		if len(log.Topics) != 4 || log.Topics[0] != relayDepositTopic {
			continue
		}
		if log.Topics[1] != ev.commitmentID {
			continue
		}
		logTo := common.BytesToAddress(log.Topics[2].Bytes())
		logCurrency := common.BytesToAddress(log.Topics[3].Bytes())
		if logTo == toAddr && logCurrency == currencyAddr {
			return sdk.Success(new(big.Int).SetBytes(log.Data))
		}
	}

	return sdk.Failure(sdk.ReasonNonMatchingTransaction)
}

// parseTokenTransfer decodes the recipient and amount from a recognized token
// transfer calldata shape. Trailing bytes (the appended commitment id) are
// ignored by the ABI decoder.
func parseTokenTransfer(data []byte) (common.Address, *big.Int, bool) {
	if len(data) < 4 {
		return common.Address{}, nil, false
	}

	method, err := erc20ABI.MethodById(data[:4])
	if err != nil {
		return common.Address{}, nil, false
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, false
	}

	switch method.Name {
	case "transfer":
		return args[0].(common.Address), args[1].(*big.Int), true
	case "transferFrom", "transferWithAuthorization":
		return args[1].(common.Address), args[2].(*big.Int), true
	}

	return common.Address{}, nil, false
}

// ValidateOutput confirms the transaction delivered the committed output
// payment and executed every committed call, in order.
func (v *Validator) ValidateOutput(ctx context.Context, req sdk.OutputRequest) sdk.ValidationResult {
	output := req.Commitment.Output

	ev, failure := v.fetchEvidence(ctx, req.ChainConfigs, output.Chain, req.Commitment, req.TransactionID)
	if failure != nil {
		return *failure
	}

	trace := &traceCache{client: ev.client, txHash: ev.tx.Hash()}
	toAddr := common.HexToAddress(output.Payment.To)
	currencyAddr := common.HexToAddress(output.Payment.Currency)

	// Points at the last trace entry consumed so far, so committed calls can
	// only match entries after the payment itself.
	cursor := 0

	var amount *big.Int
	if strings.EqualFold(output.Payment.Currency, NativeCurrency) {
		if ev.tx.To() != nil && *ev.tx.To() == toAddr {
			// Direct native payment.
			amount = ev.tx.Value()
		} else {
			// Internal native payment, visible only in the trace.
			calls, err := trace.get(ctx)
			if err != nil {
				return sdk.Failuref(sdk.ReasonRPCError, "failed to trace transaction: %v", err)
			}
			for i, call := range calls {
				if call.To == toAddr {
					amount = call.Value
					cursor = i + 1

					break
				}
			}
		}
	} else {
		// Token payment: decode Transfer logs emitted by the currency contract.
		for _, log := range ev.receipt.Logs {
			if len(log.Topics) != 3 || log.Topics[0] != transferTopic {
				continue
			}
			if log.Address == currencyAddr && common.BytesToAddress(log.Topics[2].Bytes()) == toAddr {
				amount = new(big.Int).SetBytes(log.Data)
			}
		}
	}

	if amount == nil || amount.Sign() == 0 {
		return sdk.Failure(sdk.ReasonCouldNotFindPayment)
	}

	// All committed calls must appear in the trace in committed order, each
	// matching a distinct entry past the previously consumed one.
	if len(output.Calls) > 0 {
		calls, err := trace.get(ctx)
		if err != nil {
			return sdk.Failuref(sdk.ReasonRPCError, "failed to trace transaction: %v", err)
		}

		for _, encoded := range output.Calls {
			committed, err := DecodeCall(encoded)
			if err != nil {
				return sdk.Failuref(sdk.ReasonInvalidOutputCall, "%v", err)
			}

			matched := false
			for i := cursor; i < len(calls); i++ {
				if callMatches(calls[i], committed) {
					cursor = i + 1
					matched = true

					break
				}
			}
			if !matched {
				return sdk.Failure(sdk.ReasonOutputCallsNotExecuted)
			}
		}
	}

	return sdk.Success(amount)
}

// callMatches reports whether a trace entry satisfies a committed call:
// sender, recipient and calldata must match exactly, and the transferred
// value must be at least the committed value.
func callMatches(actual TraceCall, committed Call) bool {
	return actual.From == committed.From &&
		actual.To == committed.To &&
		bytes.Equal(actual.Data, committed.Data) &&
		actual.Value.Cmp(committed.Value) >= 0
}
