package types

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/mr-tron/base58"
)

// commitmentTypes is the canonical EIP-712 schema for a commitment. Changing
// the set or order of fields changes every commitment identifier, so callers
// must hash with the same schema version the solver signed.
//
// Recipient and currency fields are hashed as raw bytes rather than display
// strings: the same logical address can have several textual representations
// (hex casing, base encodings) but only one canonical byte form.
var commitmentTypes = apitypes.Types{
	"Commitment": {
		{Name: "id", Type: "bytes32"},
		{Name: "solver", Type: "address"},
		{Name: "salt", Type: "uint256"},
		{Name: "deadline", Type: "uint32"},
		{Name: "inputs", Type: "Input[]"},
		{Name: "output", Type: "Output"},
	},
	"Input": {
		{Name: "chain", Type: "string"},
		{Name: "payment", Type: "InputPayment"},
		{Name: "refunds", Type: "InputRefund[]"},
	},
	"InputPayment": {
		{Name: "to", Type: "bytes"},
		{Name: "currency", Type: "bytes"},
		{Name: "amount", Type: "uint256"},
		{Name: "weight", Type: "uint256"},
	},
	"InputRefund": {
		{Name: "chain", Type: "string"},
		{Name: "to", Type: "bytes"},
		{Name: "currency", Type: "bytes"},
		{Name: "minimumAmount", Type: "uint256"},
	},
	"Output": {
		{Name: "chain", Type: "string"},
		{Name: "payment", Type: "OutputPayment"},
		{Name: "calls", Type: "bytes[]"},
	},
	"OutputPayment": {
		{Name: "to", Type: "bytes"},
		{Name: "currency", Type: "bytes"},
		{Name: "minimumAmount", Type: "uint256"},
		{Name: "expectedAmount", Type: "uint256"},
	},
}

// HashStruct computes the canonical EIP-712 struct hash of the commitment.
// The encoding depends only on the schema's declared field order, never on
// any map key ordering. A commitment whose ID field is empty is hashed with a
// zero id.
func (c Commitment) HashStruct() (common.Hash, error) {
	message, err := c.typedDataMessage()
	if err != nil {
		return common.Hash{}, err
	}

	typedData := apitypes.TypedData{
		Types:       commitmentTypes,
		PrimaryType: "Commitment",
		Message:     message,
	}

	encoded, err := typedData.HashStruct("Commitment", message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash commitment: %w", err)
	}

	return common.BytesToHash(encoded), nil
}

// CommitmentID returns the identifier binding onchain transactions to this
// commitment: the supplied ID when present, the canonical struct hash
// otherwise.
func (c Commitment) CommitmentID() (common.Hash, error) {
	if c.ID != "" {
		id, err := hexutil.Decode(c.ID)
		if err != nil || len(id) != CommitmentIDLength {
			return common.Hash{}, fmt.Errorf("invalid commitment id %q", c.ID)
		}

		return common.BytesToHash(id), nil
	}

	return c.HashStruct()
}

// SigningHash returns the hash the solver signs: the EIP-191 personal-message
// hash of the canonical struct hash.
func (c Commitment) SigningHash() (common.Hash, error) {
	structHash, err := c.HashStruct()
	if err != nil {
		return common.Hash{}, err
	}

	return toEthSignedMessageHash(structHash), nil
}

func toEthSignedMessageHash(messageHash common.Hash) common.Hash {
	prefix := []byte("\x19Ethereum Signed Message:\n32")

	return crypto.Keccak256Hash(append(prefix, messageHash.Bytes()...))
}

func (c Commitment) typedDataMessage() (apitypes.TypedDataMessage, error) {
	inputs := make([]any, len(c.Inputs))
	for i, input := range c.Inputs {
		paymentTo, err := addressBytes(input.Payment.To)
		if err != nil {
			return nil, err
		}
		paymentCurrency, err := addressBytes(input.Payment.Currency)
		if err != nil {
			return nil, err
		}

		refunds := make([]any, len(input.Refunds))
		for j, refund := range input.Refunds {
			refundTo, rerr := addressBytes(refund.To)
			if rerr != nil {
				return nil, rerr
			}
			refundCurrency, rerr := addressBytes(refund.Currency)
			if rerr != nil {
				return nil, rerr
			}

			refunds[j] = map[string]any{
				"chain":         refund.Chain,
				"to":            refundTo,
				"currency":      refundCurrency,
				"minimumAmount": refund.MinimumAmount,
			}
		}

		inputs[i] = map[string]any{
			"chain": input.Chain,
			"payment": map[string]any{
				"to":       paymentTo,
				"currency": paymentCurrency,
				"amount":   input.Payment.Amount,
				"weight":   input.Payment.Weight,
			},
			"refunds": refunds,
		}
	}

	outputTo, err := addressBytes(c.Output.Payment.To)
	if err != nil {
		return nil, err
	}
	outputCurrency, err := addressBytes(c.Output.Payment.Currency)
	if err != nil {
		return nil, err
	}

	calls := make([]any, len(c.Output.Calls))
	for i, call := range c.Output.Calls {
		callBytes, cerr := hexutil.Decode(call)
		if cerr != nil {
			return nil, fmt.Errorf("invalid call encoding at index %d: %w", i, cerr)
		}
		calls[i] = callBytes
	}

	id := common.Hash{}
	if c.ID != "" {
		idBytes, ierr := hexutil.Decode(c.ID)
		if ierr != nil || len(idBytes) != CommitmentIDLength {
			return nil, fmt.Errorf("invalid commitment id %q", c.ID)
		}
		id = common.BytesToHash(idBytes)
	}

	return apitypes.TypedDataMessage{
		"id":       id.Hex(),
		"solver":   c.Solver,
		"salt":     c.Salt,
		"deadline": strconv.FormatUint(uint64(c.Deadline), 10),
		"inputs":   inputs,
		"output": map[string]any{
			"chain": c.Output.Chain,
			"payment": map[string]any{
				"to":             outputTo,
				"currency":       outputCurrency,
				"minimumAmount":  c.Output.Payment.MinimumAmount,
				"expectedAmount": c.Output.Payment.ExpectedAmount,
			},
			"calls": calls,
		},
	}, nil
}

// addressBytes canonicalizes a recipient or currency value to its raw byte
// form: hex decoding for 0x-prefixed values, base58 decoding otherwise.
func addressBytes(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		b, err := hexutil.Decode("0x" + s[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid hex address %q: %w", s, err)
		}

		return b, nil
	}

	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 address %q: %w", s, err)
	}

	return b, nil
}
