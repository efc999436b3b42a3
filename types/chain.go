package types

import "time"

// VMType identifies the virtual-machine family of a chain. The family selects
// which transaction validator is used to extract payment evidence.
type VMType string

const (
	VMTypeEVM VMType = "evm"
	VMTypeSVM VMType = "svm"
)

// ChainConfig describes how to reach a configured chain. The validator treats
// the chain name to config mapping as read-only; it is supplied by the caller
// at construction time.
type ChainConfig struct {
	VMType       VMType `json:"vmType" validate:"required,oneof=evm svm"`
	RPCURL       string `json:"rpcUrl" validate:"required,url"`
	RPCTimeoutMs int64  `json:"rpcTimeoutInMs" validate:"omitempty,gt=0"`
}

// RPCTimeout returns the configured per-call RPC timeout, or zero when no
// timeout was configured.
func (c ChainConfig) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMs) * time.Millisecond
}
