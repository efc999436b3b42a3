package commitments

import (
	"github.com/relayprotocol/commitments/sdk"
)

// Side identifies which leg of the commitment a failure refers to.
type Side string

const (
	SideInput  Side = "INPUT"
	SideOutput Side = "OUTPUT"
	SideRefund Side = "REFUND"
)

// Reason is a stable machine-readable failure code. It is a superset of the
// adapter failure reasons: adapter verdicts pass through verbatim, and the
// orchestrator adds codes for failures only it can detect.
type Reason string

const (
	ReasonInvalidCommitment               Reason = "INVALID_COMMITMENT"
	ReasonUnsupportedChain                Reason = "UNSUPPORTED_CHAIN"
	ReasonMissingRefundOptions            Reason = "MISSING_REFUND_OPTIONS"
	ReasonMissingRefundExecution          Reason = "MISSING_REFUND_EXECUTION"
	ReasonInvalidCallsEncoding            Reason = "INVALID_CALLS_ENCODING"
	ReasonInvalidSignature                Reason = "INVALID_SIGNATURE"
	ReasonInsufficientOutputPaymentAmount Reason = "INSUFFICIENT_OUTPUT_PAYMENT_AMOUNT"
	ReasonInsufficientRefundPaymentAmount Reason = "INSUFFICIENT_REFUND_PAYMENT_AMOUNT"
)

// Result is the terminal verdict of one top-level validation operation:
// success, or exactly one failure with a reason and enough structured context
// (side, indexes) to diagnose it.
type Result struct {
	Status      sdk.Status        `json:"status"`
	Reason      Reason            `json:"reason,omitempty"`
	Side        Side              `json:"side,omitempty"`
	InputIndex  *int              `json:"inputIndex,omitempty"`
	RefundIndex *int              `json:"refundIndex,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

func successResult() Result {
	return Result{Status: sdk.StatusSuccess}
}

func failureResult(reason Reason) Result {
	return Result{Status: sdk.StatusFailure, Reason: reason}
}

// failureFromValidation lifts an adapter failure into an orchestrator result,
// preserving the adapter's reason code verbatim and attaching the side/index
// context the adapter did not have.
func failureFromValidation(vr sdk.ValidationResult, side Side, inputIndex, refundIndex *int) Result {
	r := Result{
		Status:      sdk.StatusFailure,
		Reason:      Reason(vr.Reason),
		Side:        side,
		InputIndex:  inputIndex,
		RefundIndex: refundIndex,
	}
	if vr.Detail != "" {
		r.Details = map[string]string{"detail": vr.Detail}
	}

	return r
}

func intPtr(i int) *int {
	return &i
}
