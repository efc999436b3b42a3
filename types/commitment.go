package types

import (
	"fmt"
	"math/big"

	"github.com/go-playground/validator/v10"
)

// CommitmentIDLength is the length of a commitment identifier in bytes. The
// identifier must appear verbatim in every transaction that fulfills the
// commitment (calldata suffix, deposit log or memo instruction).
const CommitmentIDLength = 32

// Commitment is a solver's signed agreement to fulfill a cross-chain payment
// request: the user pays the solver on one or more input chains, and the
// solver pays the user (optionally executing calls) on the output chain, with
// refund fallbacks per input.
//
// A commitment is immutable once constructed. Amounts are uint256 values
// carried as decimal strings, matching the wire format the solver signed.
type Commitment struct {
	// ID is the onchain identifier for the commitment. When empty, the
	// canonical struct hash is used instead. It must be unique amongst all
	// commitments signed by any given solver.
	ID string `json:"id" validate:"omitempty,len=66,startswith=0x"`

	// Solver is the EVM address of the solver insuring the request. The
	// commitment signature must recover to this address.
	Solver string `json:"solver" validate:"required,eth_addr"`

	// Salt is a random uint256 ensuring two otherwise-identical commitments
	// hash differently.
	Salt string `json:"salt" validate:"required"`

	// Deadline is the latest unix timestamp by which input payments must be
	// mined. Zero disables the check.
	Deadline uint32 `json:"deadline"`

	Inputs []Input `json:"inputs" validate:"required,min=1,dive"`
	Output Output  `json:"output" validate:"required"`
}

// Input is one payment owed by the user to the solver, with fallback refund
// options for when the solver cannot fulfill the request.
type Input struct {
	Chain   string        `json:"chain" validate:"required"`
	Payment InputPayment  `json:"payment" validate:"required"`

	// Refunds may be empty at the schema level; the validator rejects a
	// refund-less input with a dedicated reason rather than a generic
	// structural failure.
	Refunds []InputRefund `json:"refunds" validate:"omitempty,dive"`
}

// InputPayment describes the payment expected on an input chain. Weight is an
// exchange-rate-like normalization factor letting heterogeneous-currency
// inputs be combined into one comparable committed total.
type InputPayment struct {
	To       string `json:"to" validate:"required"`
	Currency string `json:"currency" validate:"required"`
	Amount   string `json:"amount" validate:"required"`
	Weight   string `json:"weight" validate:"required"`
}

// InputRefund is one acceptable refund route for an input payment.
type InputRefund struct {
	Chain         string `json:"chain" validate:"required"`
	To            string `json:"to" validate:"required"`
	Currency      string `json:"currency" validate:"required"`
	MinimumAmount string `json:"minimumAmount" validate:"required"`
}

// Output is the single payment (and optional calls) owed by the solver on the
// destination chain.
type Output struct {
	Chain   string        `json:"chain" validate:"required"`
	Payment OutputPayment `json:"payment" validate:"required"`

	// Calls are ABI-encoded call descriptions that must all execute, in
	// order, as part of output fulfillment. The encoding is specific to the
	// output chain's VM family.
	Calls []string `json:"calls" validate:"omitempty,dive,startswith=0x"`
}

// OutputPayment describes the payment expected on the output chain.
type OutputPayment struct {
	To             string `json:"to" validate:"required"`
	Currency       string `json:"currency" validate:"required"`
	MinimumAmount  string `json:"minimumAmount" validate:"required"`
	ExpectedAmount string `json:"expectedAmount" validate:"required"`
}

// Validate runs tag-based validation over the commitment.
func (c Commitment) Validate() error {
	return validator.New().Struct(c)
}

// ParseUint256 parses a decimal uint256 amount string.
func ParseUint256(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid uint256 value: %q", s)
	}

	return v, nil
}
