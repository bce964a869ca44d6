package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"github.com/better-wallet/embedded-go/pkg/types"
)

// EVMAddressPattern is the regex pattern for EVM addresses
var EVMAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidateEVMAddress validates an EVM address format
func ValidateEVMAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if !EVMAddressPattern.MatchString(address) {
		return fmt.Errorf("invalid EVM address format: must be 0x followed by 40 hex characters")
	}

	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid EVM address")
	}

	// The zero address is never a custodied account
	if strings.ToLower(address) == "0x0000000000000000000000000000000000000000" {
		return fmt.Errorf("zero address is not a valid account")
	}

	return nil
}

// ValidateSolanaAddress validates a base58 Solana public key
func ValidateSolanaAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid Solana address: %w", err)
	}

	return nil
}

// ValidateAddress dispatches to the chain family's address validator
func ValidateAddress(family types.ChainFamily, address string) error {
	switch family {
	case types.ChainFamilyEVM:
		return ValidateEVMAddress(address)
	case types.ChainFamilySolana:
		return ValidateSolanaAddress(address)
	default:
		return fmt.Errorf("unknown chain family: %s", family)
	}
}

// ValidatePassword checks recovery password requirements
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}

// ValidateChainID validates an EVM chain ID
func ValidateChainID(chainID int64) error {
	if chainID <= 0 {
		return fmt.Errorf("chain ID must be positive")
	}
	return nil
}

// NormalizeEVMAddress returns the EIP-55 checksummed form of an address
func NormalizeEVMAddress(address string) string {
	return common.HexToAddress(address).Hex()
}
