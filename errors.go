package commitments

import (
	"fmt"

	"github.com/relayprotocol/commitments/types"
)

// UnknownVMTypeError is returned when a chain configuration names a VM family
// no transaction validator is registered for.
type UnknownVMTypeError struct {
	Chain  string
	VMType types.VMType
}

// NewUnknownVMTypeError creates a new UnknownVMTypeError.
func NewUnknownVMTypeError(chain string, vmType types.VMType) *UnknownVMTypeError {
	return &UnknownVMTypeError{Chain: chain, VMType: vmType}
}

func (e *UnknownVMTypeError) Error() string {
	return fmt.Sprintf("unknown vm type %q for chain %q", e.VMType, e.Chain)
}

// InvalidChainConfigError is returned when a chain configuration fails
// structural validation.
type InvalidChainConfigError struct {
	Chain string
	Err   error
}

// NewInvalidChainConfigError creates a new InvalidChainConfigError.
func NewInvalidChainConfigError(chain string, err error) *InvalidChainConfigError {
	return &InvalidChainConfigError{Chain: chain, Err: err}
}

func (e *InvalidChainConfigError) Error() string {
	return fmt.Sprintf("invalid config for chain %q: %v", e.Chain, e.Err)
}

func (e *InvalidChainConfigError) Unwrap() error {
	return e.Err
}
