package commitments

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"

	"github.com/relayprotocol/commitments/types"
)

func loadCommitment(path string) (types.Commitment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Commitment{}, fmt.Errorf("failed to read commitment file: %w", err)
	}

	var commitment types.Commitment
	if err := json.Unmarshal(data, &commitment); err != nil {
		return types.Commitment{}, fmt.Errorf("failed to parse commitment file: %w", err)
	}

	return commitment, nil
}

func loadPrivateKey() (*ecdsa.PrivateKey, error) {
	// Load .env file
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	pk := os.Getenv("PRIVATE_KEY")
	if pk == "" {
		return nil, errors.New("PRIVATE_KEY not found in environment or .env file")
	}

	return crypto.HexToECDSA(pk)
}

func loadChainConfigs() (map[string]types.ChainConfig, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	raw := os.Getenv("CHAINS")
	if raw == "" {
		return nil, errors.New("CHAINS not found in environment or .env file")
	}

	var chainConfigs map[string]types.ChainConfig
	if err := json.Unmarshal([]byte(raw), &chainConfigs); err != nil {
		return nil, fmt.Errorf("failed to parse CHAINS: %w", err)
	}

	return chainConfigs, nil
}
