package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	abiutils "github.com/relayprotocol/commitments/internal/utils/abi"
)

// callABI is the encoding of a committed output call:
// abi.encode(address from, address to, bytes data, uint256 value).
const callABI = `[{"type":"address"},{"type":"address"},{"type":"bytes"},{"type":"uint256"}]`

// Call is a decoded committed output call. The transaction's trace must
// contain a matching internal call for output fulfillment to count.
type Call struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

// DecodeCall decodes a 0x-prefixed abi-encoded committed call.
func DecodeCall(encoded string) (Call, error) {
	raw, err := hexutil.Decode(encoded)
	if err != nil {
		return Call{}, fmt.Errorf("invalid call encoding: %w", err)
	}

	values, err := abiutils.ABIDecode(callABI, raw)
	if err != nil {
		return Call{}, fmt.Errorf("invalid call encoding: %w", err)
	}

	from, ok := values[0].(common.Address)
	if !ok {
		return Call{}, fmt.Errorf("invalid call from field")
	}
	to, ok := values[1].(common.Address)
	if !ok {
		return Call{}, fmt.Errorf("invalid call to field")
	}
	data, ok := values[2].([]byte)
	if !ok {
		return Call{}, fmt.Errorf("invalid call data field")
	}
	value, ok := values[3].(*big.Int)
	if !ok {
		return Call{}, fmt.Errorf("invalid call value field")
	}

	return Call{From: from, To: to, Data: data, Value: value}, nil
}

// EncodeCall is the inverse of DecodeCall.
func EncodeCall(call Call) (string, error) {
	encoded, err := abiutils.ABIEncode(callABI, call.From, call.To, call.Data, call.Value)
	if err != nil {
		return "", err
	}

	return hexutil.Encode(encoded), nil
}
