package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/better-wallet/embedded-go/pkg/types"
	"github.com/better-wallet/embedded-go/tests/mocks"
)

func TestEVMSignerHashesMessages(t *testing.T) {
	svc := mocks.NewMockCustodyService()
	account := &types.EmbeddedAccount{
		ID:          uuid.New(),
		ChainFamily: types.ChainFamilyEVM,
		Address:     "0xab5801a7d398351b8be11c439e05c5b3259aec9b",
		CreatedAt:   time.Now().UTC(),
	}

	signer, err := NewEVMSigner(svc, account)
	require.NoError(t, err)
	assert.Equal(t, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", signer.Address())

	sig, err := signer.SignMessage(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hashed:hello"), sig, "EVM signing applies the personal-message hash")
	assert.Equal(t, "0x"+"686173"+"6865643a68656c6c6f", signer.EncodeSignature(sig))
}

func TestEVMSignerRejectsMalformedAddress(t *testing.T) {
	svc := mocks.NewMockCustodyService()
	_, err := NewEVMSigner(svc, &types.EmbeddedAccount{ID: uuid.New(), Address: "not-an-address"})
	assert.Error(t, err)
}

func TestSolanaSignerSignsRawBytes(t *testing.T) {
	svc := mocks.NewMockCustodyService()
	account := &types.EmbeddedAccount{
		ID:          uuid.New(),
		ChainFamily: types.ChainFamilySolana,
		Address:     mocks.SolanaAddress(7),
		CreatedAt:   time.Now().UTC(),
	}

	signer, err := NewSolanaSigner(svc, account)
	require.NoError(t, err)
	assert.Equal(t, account.Address, signer.Address())

	sig, err := signer.SignMessage(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw:hello"), sig, "Ed25519 signs without prehashing")
	assert.NotEmpty(t, signer.EncodeSignature(sig))
}

func TestSolanaSignerRejectsMalformedAddress(t *testing.T) {
	svc := mocks.NewMockCustodyService()
	_, err := NewSolanaSigner(svc, &types.EmbeddedAccount{ID: uuid.New(), Address: "0xdeadbeef"})
	assert.Error(t, err)
}
