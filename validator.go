// Package commitments implements the commitment validator: canonical hashing
// and signature verification of solver commitments, and independent
// re-derivation, from onchain transaction evidence, of whether the committed
// input, output and refund payments were actually executed.
package commitments

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/relayprotocol/commitments/internal/proration"
	"github.com/relayprotocol/commitments/sdk"
	"github.com/relayprotocol/commitments/sdk/evm"
	"github.com/relayprotocol/commitments/sdk/solana"
	"github.com/relayprotocol/commitments/types"
)

// InputExecution names the transaction claimed to have delivered one input
// payment.
type InputExecution struct {
	InputIndex    int    `json:"inputIndex" validate:"gte=0"`
	TransactionID string `json:"transactionId" validate:"required"`
}

// OutputExecution names the transaction claimed to have delivered the output
// payment and executed the committed calls.
type OutputExecution struct {
	TransactionID string `json:"transactionId" validate:"required"`
}

// RefundExecution names the transaction claimed to have delivered one refund
// option of one input.
type RefundExecution struct {
	InputIndex    int    `json:"inputIndex" validate:"gte=0"`
	RefundIndex   int    `json:"refundIndex" validate:"gte=0"`
	TransactionID string `json:"transactionId" validate:"required"`
}

// Validator judges commitments against their signatures and against onchain
// transaction evidence. It is stateless apart from the read-only chain
// configuration, so a single instance is safe for concurrent use.
type Validator struct {
	chainConfigs map[string]types.ChainConfig
	txValidators map[types.VMType]sdk.TxValidator
}

// NewValidator creates a validator over the given chain configurations, with
// the built-in EVM and SVM transaction validators.
func NewValidator(chainConfigs map[string]types.ChainConfig) (*Validator, error) {
	return NewValidatorWithTxValidators(chainConfigs, map[types.VMType]sdk.TxValidator{
		types.VMTypeEVM: evm.NewTxValidator(),
		types.VMTypeSVM: solana.NewTxValidator(),
	})
}

// NewValidatorWithTxValidators creates a validator with an explicit VM family
// to transaction validator registry. Used by tests and by callers adding
// support for additional chain families.
func NewValidatorWithTxValidators(
	chainConfigs map[string]types.ChainConfig,
	txValidators map[types.VMType]sdk.TxValidator,
) (*Validator, error) {
	v := validator.New()
	for chain, cfg := range chainConfigs {
		if err := v.Struct(cfg); err != nil {
			return nil, NewInvalidChainConfigError(chain, err)
		}
		if _, ok := txValidators[cfg.VMType]; !ok {
			return nil, NewUnknownVMTypeError(chain, cfg.VMType)
		}
	}

	return &Validator{chainConfigs: chainConfigs, txValidators: txValidators}, nil
}

// ValidateCommitmentData checks the commitment's structure against the
// configured chains, checks that every output call decodes under the output
// chain's call encoding, and verifies the solver's signature over the
// canonical hash. The first failure encountered is returned; nothing onchain
// is consulted.
func (v *Validator) ValidateCommitmentData(commitment types.Commitment, signature types.Signature) Result {
	if err := commitment.Validate(); err != nil {
		r := failureResult(ReasonInvalidCommitment)
		r.Details = map[string]string{"detail": err.Error()}

		return r
	}

	for i, input := range commitment.Inputs {
		if _, ok := v.chainConfigs[input.Chain]; !ok {
			r := failureResult(ReasonUnsupportedChain)
			r.Side, r.InputIndex = SideInput, intPtr(i)

			return r
		}
		if len(input.Refunds) == 0 {
			r := failureResult(ReasonMissingRefundOptions)
			r.Side, r.InputIndex = SideInput, intPtr(i)

			return r
		}
	}

	outputCfg, ok := v.chainConfigs[commitment.Output.Chain]
	if !ok {
		r := failureResult(ReasonUnsupportedChain)
		r.Side = SideOutput

		return r
	}

	// Committed calls are encoded per the output chain's VM family. SVM has no
	// call encoding, so an SVM output must not commit to any calls.
	switch outputCfg.VMType {
	case types.VMTypeEVM:
		for _, call := range commitment.Output.Calls {
			if _, err := evm.DecodeCall(call); err != nil {
				r := failureResult(ReasonInvalidCallsEncoding)
				r.Side = SideOutput
				r.Details = map[string]string{"detail": err.Error()}

				return r
			}
		}
	default:
		if len(commitment.Output.Calls) > 0 {
			r := failureResult(ReasonInvalidCallsEncoding)
			r.Side = SideOutput

			return r
		}
	}

	signingHash, err := commitment.SigningHash()
	if err != nil {
		r := failureResult(ReasonInvalidCommitment)
		r.Details = map[string]string{"detail": err.Error()}

		return r
	}

	signer, err := signature.Recover(signingHash)
	if err != nil || !strings.EqualFold(signer.Hex(), commitment.Solver) {
		return failureResult(ReasonInvalidSignature)
	}

	return successResult()
}

// ValidateCommitmentOutputExecution verifies the claimed input and output
// transactions concurrently, then applies the proportional-underpayment rule:
// the weighted input shortfall reduces the required output amount by the same
// fraction.
//
// Adapter failures propagate verbatim; among the inputs, the failure of the
// earliest declared execution wins.
func (v *Validator) ValidateCommitmentOutputExecution(
	ctx context.Context,
	commitment types.Commitment,
	inputExecutions []InputExecution,
	outputExecution OutputExecution,
) Result {
	type inputCheck struct {
		committed *big.Int
		weight    *big.Int
		validator sdk.TxValidator
	}

	checks := make([]inputCheck, len(inputExecutions))
	for i, exec := range inputExecutions {
		if exec.InputIndex < 0 || exec.InputIndex >= len(commitment.Inputs) {
			r := failureResult(Reason(sdk.ReasonInvalidInput))
			r.Side, r.InputIndex = SideInput, intPtr(exec.InputIndex)

			return r
		}
		input := commitment.Inputs[exec.InputIndex]

		txValidator, failure := v.txValidatorFor(input.Chain)
		if failure != nil {
			failure.Side, failure.InputIndex = SideInput, intPtr(exec.InputIndex)

			return *failure
		}

		committed, err := types.ParseUint256(input.Payment.Amount)
		if err != nil {
			r := failureResult(Reason(sdk.ReasonInvalidAmount))
			r.Side, r.InputIndex = SideInput, intPtr(exec.InputIndex)
			r.Details = map[string]string{"detail": err.Error()}

			return r
		}
		weight, err := types.ParseUint256(input.Payment.Weight)
		if err != nil {
			r := failureResult(Reason(sdk.ReasonInvalidAmount))
			r.Side, r.InputIndex = SideInput, intPtr(exec.InputIndex)
			r.Details = map[string]string{"detail": err.Error()}

			return r
		}

		checks[i] = inputCheck{committed: committed, weight: weight, validator: txValidator}
	}

	outputValidator, failure := v.txValidatorFor(commitment.Output.Chain)
	if failure != nil {
		failure.Side = SideOutput

		return *failure
	}
	outputCommitted, err := types.ParseUint256(commitment.Output.Payment.MinimumAmount)
	if err != nil {
		r := failureResult(Reason(sdk.ReasonInvalidAmount))
		r.Side = SideOutput
		r.Details = map[string]string{"detail": err.Error()}

		return r
	}

	// The per-input checks and the output check have no data dependency on
	// each other, so they all run in parallel and join before the arithmetic.
	inputResults := make([]sdk.ValidationResult, len(inputExecutions))
	var outputResult sdk.ValidationResult

	var wg sync.WaitGroup
	for i, exec := range inputExecutions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inputResults[i] = checks[i].validator.ValidateInput(ctx, sdk.InputRequest{
				ChainConfigs:  v.chainConfigs,
				Commitment:    commitment,
				InputIndex:    exec.InputIndex,
				TransactionID: exec.TransactionID,
			})
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		outputResult = outputValidator.ValidateOutput(ctx, sdk.OutputRequest{
			ChainConfigs:  v.chainConfigs,
			Commitment:    commitment,
			TransactionID: outputExecution.TransactionID,
		})
	}()
	wg.Wait()

	entries := make([]proration.Entry, len(inputExecutions))
	for i, exec := range inputExecutions {
		if inputResults[i].Status != sdk.StatusSuccess {
			return failureFromValidation(inputResults[i], SideInput, intPtr(exec.InputIndex), nil)
		}
		entries[i] = proration.Entry{
			Committed: checks[i].committed,
			Actual:    inputResults[i].Amount,
			Weight:    checks[i].weight,
		}
	}
	if outputResult.Status != sdk.StatusSuccess {
		return failureFromValidation(outputResult, SideOutput, nil, nil)
	}

	ratio := proration.Ratio(entries)
	needed := proration.Scale(outputCommitted, ratio)
	if outputResult.Amount.Cmp(needed) < 0 {
		r := failureResult(ReasonInsufficientOutputPaymentAmount)
		r.Side = SideOutput
		r.Details = map[string]string{
			"underpaymentRatio":     ratio.String(),
			"outputCommittedAmount": outputCommitted.String(),
			"outputActualAmount":    outputResult.Amount.String(),
			"outputNeededAmount":    needed.String(),
		}

		return r
	}

	return successResult()
}

// ValidateCommitmentRefundExecution verifies that every declared input
// execution has a matching refund execution and that each refund delivered at
// least its committed minimum, scaled down by that input's own underpayment
// ratio.
func (v *Validator) ValidateCommitmentRefundExecution(
	ctx context.Context,
	commitment types.Commitment,
	inputExecutions []InputExecution,
	refundExecutions []RefundExecution,
) Result {
	type refundCheck struct {
		refund          RefundExecution
		committed       *big.Int
		weight          *big.Int
		refundCommitted *big.Int
		inputValidator  sdk.TxValidator
		refundValidator sdk.TxValidator
	}

	checks := make([]refundCheck, len(inputExecutions))
	for i, exec := range inputExecutions {
		if exec.InputIndex < 0 || exec.InputIndex >= len(commitment.Inputs) {
			r := failureResult(Reason(sdk.ReasonInvalidInput))
			r.Side, r.InputIndex = SideInput, intPtr(exec.InputIndex)

			return r
		}
		input := commitment.Inputs[exec.InputIndex]

		// Refund executions correspond to input executions by input index; a
		// validated input with no declared refund cannot pass.
		var refund *RefundExecution
		for j := range refundExecutions {
			if refundExecutions[j].InputIndex == exec.InputIndex {
				refund = &refundExecutions[j]

				break
			}
		}
		if refund == nil {
			r := failureResult(ReasonMissingRefundExecution)
			r.Side, r.InputIndex = SideInput, intPtr(exec.InputIndex)

			return r
		}
		if refund.RefundIndex < 0 || refund.RefundIndex >= len(input.Refunds) {
			r := failureResult(Reason(sdk.ReasonInvalidRefund))
			r.Side, r.InputIndex = SideRefund, intPtr(exec.InputIndex)
			r.RefundIndex = intPtr(refund.RefundIndex)

			return r
		}
		refundOption := input.Refunds[refund.RefundIndex]

		inputValidator, failure := v.txValidatorFor(input.Chain)
		if failure != nil {
			failure.Side, failure.InputIndex = SideInput, intPtr(exec.InputIndex)

			return *failure
		}

		// The refund may settle on a different chain family than the input it
		// refunds; dispatch by the refund option's own chain.
		refundValidator, failure := v.txValidatorFor(refundOption.Chain)
		if failure != nil {
			failure.Side, failure.InputIndex = SideRefund, intPtr(exec.InputIndex)
			failure.RefundIndex = intPtr(refund.RefundIndex)

			return *failure
		}

		committed, err := types.ParseUint256(input.Payment.Amount)
		if err != nil {
			r := failureResult(Reason(sdk.ReasonInvalidAmount))
			r.Side, r.InputIndex = SideInput, intPtr(exec.InputIndex)
			r.Details = map[string]string{"detail": err.Error()}

			return r
		}
		weight, err := types.ParseUint256(input.Payment.Weight)
		if err != nil {
			r := failureResult(Reason(sdk.ReasonInvalidAmount))
			r.Side, r.InputIndex = SideInput, intPtr(exec.InputIndex)
			r.Details = map[string]string{"detail": err.Error()}

			return r
		}
		refundCommitted, err := types.ParseUint256(refundOption.MinimumAmount)
		if err != nil {
			r := failureResult(Reason(sdk.ReasonInvalidAmount))
			r.Side, r.InputIndex = SideRefund, intPtr(exec.InputIndex)
			r.RefundIndex = intPtr(refund.RefundIndex)
			r.Details = map[string]string{"detail": err.Error()}

			return r
		}

		checks[i] = refundCheck{
			refund:          *refund,
			committed:       committed,
			weight:          weight,
			refundCommitted: refundCommitted,
			inputValidator:  inputValidator,
			refundValidator: refundValidator,
		}
	}

	inputResults := make([]sdk.ValidationResult, len(inputExecutions))
	refundResults := make([]sdk.ValidationResult, len(inputExecutions))

	var wg sync.WaitGroup
	for i, exec := range inputExecutions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inputResults[i] = checks[i].inputValidator.ValidateInput(ctx, sdk.InputRequest{
				ChainConfigs:  v.chainConfigs,
				Commitment:    commitment,
				InputIndex:    exec.InputIndex,
				TransactionID: exec.TransactionID,
			})
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			refundResults[i] = checks[i].refundValidator.ValidateRefund(ctx, sdk.RefundRequest{
				ChainConfigs:  v.chainConfigs,
				Commitment:    commitment,
				InputIndex:    checks[i].refund.InputIndex,
				RefundIndex:   checks[i].refund.RefundIndex,
				TransactionID: checks[i].refund.TransactionID,
			})
		}()
	}
	wg.Wait()

	for i, exec := range inputExecutions {
		if inputResults[i].Status != sdk.StatusSuccess {
			return failureFromValidation(inputResults[i], SideInput, intPtr(exec.InputIndex), nil)
		}
		if refundResults[i].Status != sdk.StatusSuccess {
			return failureFromValidation(
				refundResults[i], SideRefund, intPtr(exec.InputIndex), intPtr(checks[i].refund.RefundIndex))
		}

		// Per-input ratio: this input's own shortfall scales down its own
		// refund obligation.
		ratio := proration.Ratio([]proration.Entry{{
			Committed: checks[i].committed,
			Actual:    inputResults[i].Amount,
			Weight:    checks[i].weight,
		}})
		needed := proration.Scale(checks[i].refundCommitted, ratio)
		if refundResults[i].Amount.Cmp(needed) < 0 {
			r := failureResult(ReasonInsufficientRefundPaymentAmount)
			r.Side, r.InputIndex = SideRefund, intPtr(exec.InputIndex)
			r.RefundIndex = intPtr(checks[i].refund.RefundIndex)
			r.Details = map[string]string{
				"underpaymentRatio":     ratio.String(),
				"refundCommittedAmount": checks[i].refundCommitted.String(),
				"refundActualAmount":    refundResults[i].Amount.String(),
				"refundNeededAmount":    needed.String(),
			}

			return r
		}
	}

	return successResult()
}

// txValidatorFor resolves the transaction validator for a chain, failing when
// the chain is not configured or its VM family has no registered validator.
func (v *Validator) txValidatorFor(chain string) (sdk.TxValidator, *Result) {
	cfg, ok := v.chainConfigs[chain]
	if !ok {
		r := failureResult(ReasonUnsupportedChain)

		return nil, &r
	}

	txValidator, ok := v.txValidators[cfg.VMType]
	if !ok {
		r := failureResult(ReasonUnsupportedChain)

		return nil, &r
	}

	return txValidator, nil
}
