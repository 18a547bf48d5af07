// Copyright 2025 Certen Protocol
//
// Signature-collection business logic invoked by the primary node's
// /transfersignature endpoint: verifies a secondary node's signature
// before accepting it.
package restapi

import (
	"context"
	"errors"
	"math/big"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/chain"
	"github.com/certen/independant-validator/pkg/store"
)

var (
	ErrUnknownTransfer    = errors.New("restapi: unknown transfer")
	ErrInvalidSignature   = errors.New("restapi: invalid signature")
	ErrInvalidSigner      = errors.New("restapi: invalid signer")
	ErrDuplicateSignature = errors.New("restapi: duplicate signature")
)

// Store is the narrow persistence surface the REST handlers need.
type Store interface {
	ReadTransferID(ctx context.Context, sourceBlockchain chain.Blockchain, sourceTransactionID string) (uuid.UUID, bool, error)
	ReadTransferToData(ctx context.Context, transferID uuid.UUID) (*store.TransferToData, error)
	ReadValidatorNodeSignature(ctx context.Context, transferID uuid.UUID, validatorNodeAddress string) (string, bool, error)
	CreateValidatorNodeSignature(ctx context.Context, transferID uuid.UUID, validatorNodeAddress, signature string) error
	ReadValidatorNonceBySourceTransactionID(ctx context.Context, sourceBlockchain chain.Blockchain, sourceTransactionID string) (*big.Int, bool, error)
}

// AdapterSource resolves the ChainAdapter for a blockchain.
type AdapterSource interface {
	Get(blockchain chain.Blockchain) (chain.ChainAdapter, bool)
}

// SignatureService verifies and records a secondary node's transferTo
// signature on behalf of the primary node's REST endpoint.
type SignatureService struct {
	store    Store
	adapters AdapterSource
}

func NewSignatureService(st Store, adapters AdapterSource) *SignatureService {
	return &SignatureService{store: st, adapters: adapters}
}

// AddSecondaryNodeSignature verifies sourceBlockchain/sourceTransactionID
// resolve to a known transfer, that signature recovers to an address
// registered as a validator node on the destination chain, and that no
// signature has already been recorded for that signer, before persisting
// it.
func (s *SignatureService) AddSecondaryNodeSignature(ctx context.Context, sourceBlockchain chain.Blockchain, sourceTransactionID, signature string) error {
	transferID, found, err := s.store.ReadTransferID(ctx, sourceBlockchain, sourceTransactionID)
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownTransfer
	}

	data, err := s.store.ReadTransferToData(ctx, transferID)
	if err != nil {
		return err
	}

	destinationAdapter, ok := s.adapters.Get(data.Transfer.EventualDestinationBlockchain())
	if !ok {
		return ErrUnknownTransfer
	}

	message := chain.TransferToMessage{
		SourceTransactionID: sourceTransactionID,
		SourceTransferID:    data.Transfer.SourceTransferID,
		Sender:              data.Transfer.SenderAddress,
		Recipient:           data.Transfer.EventualRecipientAddress(),
		SourceToken:         data.Transfer.SourceTokenAddress,
		DestinationToken:    data.Transfer.EventualDestinationTokenAddress(),
		Amount:              data.Transfer.Amount,
		ValidatorNonce:      data.Transfer.ValidatorNonce,
	}
	signerAddress, err := destinationAdapter.RecoverTransferToSignerAddress(ctx, message, signature)
	if err != nil {
		return ErrInvalidSignature
	}

	_, exists, err := s.store.ReadValidatorNodeSignature(ctx, transferID, signerAddress)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateSignature
	}

	validatorAddresses, err := destinationAdapter.ReadValidatorNodeAddresses(ctx)
	if err != nil {
		return err
	}
	if !containsAddress(destinationAdapter, validatorAddresses, signerAddress) {
		return ErrInvalidSigner
	}

	return s.store.CreateValidatorNodeSignature(ctx, transferID, signerAddress, signature)
}

// GetValidatorNonce returns the validator nonce assigned to a known
// transfer, identified by its source blockchain and transaction id.
func (s *SignatureService) GetValidatorNonce(ctx context.Context, sourceBlockchain chain.Blockchain, sourceTransactionID string) (*big.Int, error) {
	nonce, found, err := s.store.ReadValidatorNonceBySourceTransactionID(ctx, sourceBlockchain, sourceTransactionID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUnknownTransfer
	}
	return nonce, nil
}

func containsAddress(adapter chain.ChainAdapter, addresses []string, target string) bool {
	for _, address := range addresses {
		if adapter.IsEqualAddress(address, target) {
			return true
		}
	}
	return false
}
