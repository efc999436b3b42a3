package commitments

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/relayprotocol/commitments/types"
)

// Signer is a strategy for signing commitment hashes.
type Signer interface {
	// Sign signs the payload. The payload is the raw canonical hash, without
	// the EIP-191 prefix; the signer adds the prefix before signing.
	Sign(payload []byte) ([]byte, error)
	GetAddress() (common.Address, error)
}

var _ Signer = &PrivateKeySigner{}

// PrivateKeySigner signs payloads using a private key.
type PrivateKeySigner struct {
	pk *ecdsa.PrivateKey
}

// NewPrivateKeySigner creates a new PrivateKeySigner.
func NewPrivateKeySigner(pk *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{pk: pk}
}

// Sign signs the payload using the private key, prefixed per EIP-191.
func (s *PrivateKeySigner) Sign(payload []byte) ([]byte, error) {
	prefixed := crypto.Keccak256Hash(append([]byte("\x19Ethereum Signed Message:\n32"), payload...))

	return crypto.Sign(prefixed.Bytes(), s.pk)
}

// GetAddress returns the address of the signer.
func (s *PrivateKeySigner) GetAddress() (common.Address, error) {
	return crypto.PubkeyToAddress(s.pk.PublicKey), nil
}

// SignCommitment signs the commitment's canonical hash with the given signer.
// The resulting signature recovers to the signer's address under
// ValidateCommitmentData when that address is the commitment's solver.
func SignCommitment(commitment types.Commitment, signer Signer) (types.Signature, error) {
	hash, err := commitment.HashStruct()
	if err != nil {
		return types.Signature{}, err
	}

	sigBytes, err := signer.Sign(hash.Bytes())
	if err != nil {
		return types.Signature{}, fmt.Errorf("failed to sign commitment: %w", err)
	}

	return types.NewSignatureFromBytes(sigBytes)
}
