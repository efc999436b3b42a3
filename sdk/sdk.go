// Package sdk declares the chain-family abstraction used by the commitment
// validator: one TxValidator per virtual-machine family, each turning raw
// onchain transaction evidence into a payment verdict.
package sdk

import (
	"context"
	"fmt"
	"math/big"

	"github.com/relayprotocol/commitments/types"
)

// Status is the outcome of a single evidence validation.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// FailureReason is a stable machine-readable code describing why evidence was
// rejected. Adapters never fail with anything outside this enumeration.
type FailureReason string

const (
	// Structural failures, correctable by the caller.
	ReasonInvalidInput     FailureReason = "INVALID_INPUT"
	ReasonInvalidRefund    FailureReason = "INVALID_REFUND"
	ReasonUnsupportedChain FailureReason = "UNSUPPORTED_CHAIN"
	ReasonWrongVMType      FailureReason = "WRONG_VM_TYPE"
	ReasonInvalidAmount    FailureReason = "INVALID_AMOUNT"

	// Onchain evidence failures, representing real-world settlement outcomes.
	ReasonMissingTransaction            FailureReason = "MISSING_TRANSACTION"
	ReasonMissingTransactionReceipt     FailureReason = "MISSING_TRANSACTION_RECEIPT"
	ReasonMissingTransactionTimestamp   FailureReason = "MISSING_TRANSACTION_TIMESTAMP"
	ReasonTransactionReverted           FailureReason = "TRANSACTION_REVERTED"
	ReasonNonMatchingTransaction        FailureReason = "NON_MATCHING_TRANSACTION"
	ReasonMultipleMarkers               FailureReason = "MULTIPLE_MARKERS"
	ReasonCouldNotFindPayment           FailureReason = "COULD_NOT_FIND_PAYMENT"
	ReasonOutputCallsNotExecuted        FailureReason = "OUTPUT_CALLS_NOT_EXECUTED"
	ReasonInvalidOutputCall             FailureReason = "INVALID_OUTPUT_CALL"
	ReasonDeadlineExceeded              FailureReason = "DEADLINE_EXCEEDED"
	ReasonNoMemoInstruction             FailureReason = "NO_MEMO_INSTRUCTION_DETECTED"
	ReasonMultipleMemoInstructions      FailureReason = "MULTIPLE_MEMO_INSTRUCTIONS_DETECTED"
	ReasonWrongMemoInstruction          FailureReason = "WRONG_MEMO_INSTRUCTION"

	// Infrastructure failures, transient and safe to retry at the caller's
	// discretion. Adapters never retry on their own.
	ReasonRPCError FailureReason = "RPC_ERROR"
)

// ValidationResult is the verdict over one transaction id. Amount is set on
// success; Reason (and optionally Detail) on failure.
type ValidationResult struct {
	Status Status        `json:"status"`
	Amount *big.Int      `json:"amount,omitempty"`
	Reason FailureReason `json:"reason,omitempty"`
	Detail string        `json:"detail,omitempty"`
}

// Success returns a successful result carrying the actually delivered amount.
func Success(amount *big.Int) ValidationResult {
	return ValidationResult{Status: StatusSuccess, Amount: amount}
}

// Failure returns a failed result with the given reason.
func Failure(reason FailureReason) ValidationResult {
	return ValidationResult{Status: StatusFailure, Reason: reason}
}

// Failuref returns a failed result with the given reason and a formatted
// human-readable detail.
func Failuref(reason FailureReason, format string, args ...any) ValidationResult {
	return ValidationResult{
		Status: StatusFailure,
		Reason: reason,
		Detail: fmt.Sprintf(format, args...),
	}
}

// InputRequest asks a TxValidator to confirm that transactionID delivered the
// payment committed by inputs[InputIndex].
type InputRequest struct {
	ChainConfigs  map[string]types.ChainConfig
	Commitment    types.Commitment
	InputIndex    int
	TransactionID string
}

// OutputRequest asks a TxValidator to confirm that transactionID delivered the
// committed output payment and executed all committed calls in order.
type OutputRequest struct {
	ChainConfigs  map[string]types.ChainConfig
	Commitment    types.Commitment
	TransactionID string
}

// RefundRequest asks a TxValidator to confirm that transactionID delivered
// the refund committed by inputs[InputIndex].refunds[RefundIndex].
type RefundRequest struct {
	ChainConfigs  map[string]types.ChainConfig
	Commitment    types.Commitment
	InputIndex    int
	RefundIndex   int
	TransactionID string
}

// TxValidator extracts payment evidence from transactions of one VM family.
//
// Implementations are stateless and safe for concurrent use; every outcome,
// including RPC failures, is reported as a ValidationResult and never as a
// panic or error return. Cancellation of ctx aborts in-flight RPC calls.
type TxValidator interface {
	ValidateInput(ctx context.Context, req InputRequest) ValidationResult
	ValidateOutput(ctx context.Context, req OutputRequest) ValidationResult
	ValidateRefund(ctx context.Context, req RefundRequest) ValidationResult
}
