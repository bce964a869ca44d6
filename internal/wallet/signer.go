package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/better-wallet/embedded-go/internal/custody"
	apperrors "github.com/better-wallet/embedded-go/pkg/errors"
	"github.com/better-wallet/embedded-go/pkg/types"
)

// Signer is a signing provider bound to one activated account.
type Signer interface {
	// Address returns the account address in its family's canonical form.
	Address() string

	// SignMessage signs content through the custody service and returns the
	// raw signature bytes.
	SignMessage(ctx context.Context, message []byte) ([]byte, error)

	// EncodeSignature renders a signature the way the chain family expects
	// it on the wire (hex for EVM, base58 for Solana).
	EncodeSignature(sig []byte) string
}

// EVMSigner signs through the custody service with EIP-191 prehashing.
type EVMSigner struct {
	svc       custody.Service
	accountID uuid.UUID
	address   common.Address
}

// NewEVMSigner binds a signer to an EVM account.
func NewEVMSigner(svc custody.Service, account *types.EmbeddedAccount) (Signer, error) {
	if !common.IsHexAddress(account.Address) {
		return nil, fmt.Errorf("%w", apperrors.Validation(fmt.Sprintf("custody returned a malformed EVM address: %s", account.Address)))
	}
	return &EVMSigner{
		svc:       svc,
		accountID: account.ID,
		address:   common.HexToAddress(account.Address),
	}, nil
}

// Address returns the EIP-55 checksummed address.
func (s *EVMSigner) Address() string {
	return s.address.Hex()
}

// SignMessage signs with hashMessage=true so the custody service applies the
// EIP-191 personal-message prefix before signing.
func (s *EVMSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	sig, err := s.svc.SignMessage(ctx, s.accountID, message, true)
	if err != nil {
		return nil, fmt.Errorf("%w", apperrors.SigningFailed(err.Error()))
	}
	return sig, nil
}

// EncodeSignature renders the signature as 0x-prefixed hex.
func (s *EVMSigner) EncodeSignature(sig []byte) string {
	return hexutil.Encode(sig)
}

// SolanaSigner signs raw bytes; Ed25519 has no prehash step.
type SolanaSigner struct {
	svc       custody.Service
	accountID uuid.UUID
	pubkey    solana.PublicKey
}

// NewSolanaSigner binds a signer to a Solana account.
func NewSolanaSigner(svc custody.Service, account *types.EmbeddedAccount) (Signer, error) {
	pubkey, err := solana.PublicKeyFromBase58(account.Address)
	if err != nil {
		return nil, fmt.Errorf("%w", apperrors.Validation(fmt.Sprintf("custody returned a malformed Solana address: %s", account.Address)))
	}
	return &SolanaSigner{
		svc:       svc,
		accountID: account.ID,
		pubkey:    pubkey,
	}, nil
}

// Address returns the base58 public key.
func (s *SolanaSigner) Address() string {
	return s.pubkey.String()
}

// SignMessage signs with hashMessage=false; the custody service signs the
// bytes as-is.
func (s *SolanaSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	sig, err := s.svc.SignMessage(ctx, s.accountID, message, false)
	if err != nil {
		return nil, fmt.Errorf("%w", apperrors.SigningFailed(err.Error()))
	}
	return sig, nil
}

// EncodeSignature renders the signature as base58.
func (s *SolanaSigner) EncodeSignature(sig []byte) string {
	return base58.Encode(sig)
}
