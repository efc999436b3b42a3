package solana

import (
	"context"
	"math/big"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/relayprotocol/commitments/sdk"
	"github.com/relayprotocol/commitments/types"
)

// NativeCurrency is the sentinel currency value denoting SOL: the system
// program address.
const NativeCurrency = "11111111111111111111111111111111"

var _ sdk.TxValidator = (*Validator)(nil)

// Validator is the sdk.TxValidator implementation for SVM chains.
//
// Binding works through the memo program: a fulfilling transaction must carry
// exactly one memo instruction whose literal payload is the commitment id.
// Amounts are derived from the pre/post balance snapshots the RPC attaches to
// the parsed transaction.
type Validator struct {
	dial func(cfg types.ChainConfig) Client

	mu      sync.Mutex
	clients map[string]Client
}

// NewTxValidator creates a new SVM transaction validator.
func NewTxValidator() *Validator {
	return NewTxValidatorWithClient(Dial)
}

// NewTxValidatorWithClient creates a validator whose RPC connections are
// produced by the given dialer. Used by tests to inject fake clients.
func NewTxValidatorWithClient(dial func(cfg types.ChainConfig) Client) *Validator {
	return &Validator{dial: dial, clients: map[string]Client{}}
}

// clientFor returns the chain's client, dialing on first use. One client per
// chain lives for the validator's lifetime.
func (v *Validator) clientFor(chain string, cfg types.ChainConfig) Client {
	v.mu.Lock()
	defer v.mu.Unlock()

	client, ok := v.clients[chain]
	if !ok {
		client = v.dial(cfg)
		v.clients[chain] = client
	}

	return client
}

// evidence is the parsed-transaction material shared by all validation paths.
type evidence struct {
	meta        *rpc.TransactionMeta
	accountKeys []solana.PublicKey
	blockTime   *solana.UnixTimeSeconds
}

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
	if cfg.VMType != types.VMTypeSVM {
		return fail(sdk.Failure(sdk.ReasonWrongVMType))
	}

	signature, err := solana.SignatureFromBase58(transactionID)
	if err != nil {
		return fail(sdk.Failuref(sdk.ReasonMissingTransaction, "invalid transaction id %q", transactionID))
	}

	maxVersion := uint64(0)
	result, err := v.clientFor(chain, cfg).GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		sdk.LoggerFrom(ctx).Warnf("failed to get transaction %s on %s: %v", transactionID, chain, err)

		return fail(sdk.Failuref(sdk.ReasonRPCError, "failed to get transaction: %v", err))
	}
	if result == nil || result.Meta == nil || result.Transaction == nil {
		return fail(sdk.Failure(sdk.ReasonMissingTransaction))
	}
	if result.Meta.Err != nil {
		return fail(sdk.Failure(sdk.ReasonTransactionReverted))
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return fail(sdk.Failuref(sdk.ReasonRPCError, "failed to decode transaction: %v", err))
	}

	// Static keys first, then the lookup-table addresses the RPC resolved:
	// writable before readonly, matching the runtime's account ordering.
	accountKeys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	accountKeys = append(accountKeys, tx.Message.AccountKeys...)
	accountKeys = append(accountKeys, result.Meta.LoadedAddresses.Writable...)
	accountKeys = append(accountKeys, result.Meta.LoadedAddresses.ReadOnly...)

	ev := &evidence{
		meta:        result.Meta,
		accountKeys: accountKeys,
		blockTime:   result.BlockTime,
	}

	commitmentID, err := commitment.CommitmentID()
	if err != nil {
		return fail(sdk.Failuref(sdk.ReasonInvalidInput, "%v", err))
	}

	// Top-level and inner instructions together; the memo may be emitted by a
	// wrapping program.
	instructions := make([]solana.CompiledInstruction, 0, len(tx.Message.Instructions))
	instructions = append(instructions, tx.Message.Instructions...)
	for _, inner := range result.Meta.InnerInstructions {
		instructions = append(instructions, inner.Instructions...)
	}

	var memos []solana.CompiledInstruction
	for _, ix := range instructions {
		if int(ix.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		if accountKeys[ix.ProgramIDIndex] == solana.MemoProgramID {
			memos = append(memos, ix)
		}
	}

	if len(memos) == 0 {
		return fail(sdk.Failure(sdk.ReasonNoMemoInstruction))
	}
	if len(memos) > 1 {
		return fail(sdk.Failure(sdk.ReasonMultipleMemoInstructions))
	}
	if string(memos[0].Data) != commitmentID.Hex() {
		return fail(sdk.Failure(sdk.ReasonWrongMemoInstruction))
	}

	return ev, nil
}

// ValidateInput confirms the transaction delivered the committed input
// payment before the deadline, bound to this commitment by its memo.
func (v *Validator) ValidateInput(ctx context.Context, req sdk.InputRequest) sdk.ValidationResult {
	if req.InputIndex < 0 || req.InputIndex >= len(req.Commitment.Inputs) {
		return sdk.Failure(sdk.ReasonInvalidInput)
	}
	input := req.Commitment.Inputs[req.InputIndex]

	ev, failure := v.fetchEvidence(ctx, req.ChainConfigs, input.Chain, req.Commitment, req.TransactionID)
	if failure != nil {
		return *failure
	}

	if req.Commitment.Deadline > 0 {
		if ev.blockTime == nil {
			return sdk.Failure(sdk.ReasonMissingTransactionTimestamp)
		}
		if int64(*ev.blockTime) > int64(req.Commitment.Deadline) {
			return sdk.Failure(sdk.ReasonDeadlineExceeded)
		}
	}

	return extractPayment(ev, input.Payment.To, input.Payment.Currency)
}

// ValidateRefund confirms the transaction delivered the named refund option
// of the given input, bound to this commitment by its memo.
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

// ValidateOutput confirms the transaction delivered the committed output
// payment. SVM output commitments carry no calls; any committed call list is
// rejected since there is no SVM call encoding to verify against.
func (v *Validator) ValidateOutput(ctx context.Context, req sdk.OutputRequest) sdk.ValidationResult {
	output := req.Commitment.Output

	if len(output.Calls) > 0 {
		return sdk.Failure(sdk.ReasonInvalidOutputCall)
	}

	ev, failure := v.fetchEvidence(ctx, req.ChainConfigs, output.Chain, req.Commitment, req.TransactionID)
	if failure != nil {
		return *failure
	}

	return extractPayment(ev, output.Payment.To, output.Payment.Currency)
}

// extractPayment computes the recipient's balance delta across the
// transaction, either in lamports or in the committed token mint. A
// non-positive delta means no payment was found.
func extractPayment(ev *evidence, to, currency string) sdk.ValidationResult {
	recipient, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return sdk.Failuref(sdk.ReasonCouldNotFindPayment, "invalid recipient %q", to)
	}

	if currency == NativeCurrency {
		for i, key := range ev.accountKeys {
			if key != recipient {
				continue
			}
			if i >= len(ev.meta.PreBalances) || i >= len(ev.meta.PostBalances) {
				break
			}

			delta := new(big.Int).Sub(
				new(big.Int).SetUint64(ev.meta.PostBalances[i]),
				new(big.Int).SetUint64(ev.meta.PreBalances[i]),
			)
			if delta.Sign() > 0 {
				return sdk.Success(delta)
			}

			break
		}

		return sdk.Failure(sdk.ReasonCouldNotFindPayment)
	}

	mint, err := solana.PublicKeyFromBase58(currency)
	if err != nil {
		return sdk.Failuref(sdk.ReasonCouldNotFindPayment, "invalid currency %q", currency)
	}

	post := findTokenBalance(ev.meta.PostTokenBalances, mint, recipient)
	if post == nil {
		return sdk.Failure(sdk.ReasonCouldNotFindPayment)
	}
	postAmount, ok := new(big.Int).SetString(post.UiTokenAmount.Amount, 10)
	if !ok {
		return sdk.Failure(sdk.ReasonCouldNotFindPayment)
	}

	// A token account created by this transaction has no pre entry.
	preAmount := new(big.Int)
	if pre := findTokenBalance(ev.meta.PreTokenBalances, mint, recipient); pre != nil {
		preAmount, ok = new(big.Int).SetString(pre.UiTokenAmount.Amount, 10)
		if !ok {
			return sdk.Failure(sdk.ReasonCouldNotFindPayment)
		}
	}

	delta := postAmount.Sub(postAmount, preAmount)
	if delta.Sign() > 0 {
		return sdk.Success(delta)
	}

	return sdk.Failure(sdk.ReasonCouldNotFindPayment)
}

func findTokenBalance(balances []rpc.TokenBalance, mint, owner solana.PublicKey) *rpc.TokenBalance {
	for i := range balances {
		b := &balances[i]
		if b.Mint == mint && b.Owner != nil && *b.Owner == owner {
			return b
		}
	}

	return nil
}
