// Copyright 2025 Certen Protocol
//
// Package chain defines the cross-chain transfer domain model and the
// ChainAdapter interface implemented once per supported blockchain.

package chain

import (
	"context"
	"math/big"

	"github.com/google/uuid"
)

// Blockchain identifies one of the chains this validator node supports.
// It matches the lower-case chain name used in configuration files.
type Blockchain string

const (
	Ethereum  Blockchain = "ethereum"
	BNBChain  Blockchain = "bnbchain"
	Avalanche Blockchain = "avalanche"
	Polygon   Blockchain = "polygon"
	Celo      Blockchain = "celo"
	Cronos    Blockchain = "cronos"
	Fantom    Blockchain = "fantom"
	Base      Blockchain = "base"
	Solana    Blockchain = "solana"
)

// ContractKind distinguishes the three contract roles a token transfer
// touches on each chain.
type ContractKind int

const (
	ContractHub ContractKind = iota
	ContractForwarder
	ContractToken
)

// TransferStatus is the persisted state of a cross-chain transfer. The
// *_NEW_NONCE_ASSIGNED variants are entered whenever nonce arbitration
// (UpdateTransferNonce) assigns the transfer a destination-chain account
// nonce, its first assignment included.
type TransferStatus string

const (
	StatusSourceTransactionDetected                       TransferStatus = "SOURCE_TRANSACTION_DETECTED"
	StatusSourceTransactionDetectedNewNonceAssigned        TransferStatus = "SOURCE_TRANSACTION_DETECTED_NEW_NONCE_ASSIGNED"
	StatusSourceTransactionReverted                        TransferStatus = "SOURCE_TRANSACTION_REVERTED"
	StatusSourceTransactionInvalid                         TransferStatus = "SOURCE_TRANSACTION_INVALID"
	StatusSourceReversalTransactionSubmitted               TransferStatus = "SOURCE_REVERSAL_TRANSACTION_SUBMITTED"
	StatusSourceReversalTransactionConfirmed               TransferStatus = "SOURCE_REVERSAL_TRANSACTION_CONFIRMED"
	StatusSourceReversalTransactionFailed                  TransferStatus = "SOURCE_REVERSAL_TRANSACTION_FAILED"
	StatusSourceReversalTransactionFailedNewNonceAssigned  TransferStatus = "SOURCE_REVERSAL_TRANSACTION_FAILED_NEW_NONCE_ASSIGNED"
	StatusDestinationTransactionSubmitted                  TransferStatus = "DESTINATION_TRANSACTION_SUBMITTED"
	StatusDestinationTransactionConfirmed                  TransferStatus = "DESTINATION_TRANSACTION_CONFIRMED"
	StatusDestinationTransactionFailed                     TransferStatus = "DESTINATION_TRANSACTION_FAILED"
	StatusDestinationTransactionFailedNewNonceAssigned     TransferStatus = "DESTINATION_TRANSACTION_FAILED_NEW_NONCE_ASSIGNED"
)

// TransactionStatus is the on-chain inclusion status of a single
// transaction, as seen by a ChainAdapter's own confirmation depth.
type TransactionStatus int

const (
	TransactionStatusUnincluded TransactionStatus = iota
	TransactionStatusUnconfirmed
	TransactionStatusReverted
	TransactionStatusConfirmed
)

// Transfer is the in-memory representation of a `transfers` row: a
// single cross-chain token transfer as it moves through detection,
// validation, signature collection, submission, and confirmation.
type Transfer struct {
	ID uuid.UUID

	SourceBlockchain      Blockchain
	DestinationBlockchain Blockchain

	SourceHubAddress     string
	SourceTransferID     *big.Int
	SourceTransactionID  string
	SourceBlockNumber    uint64
	SourceBlockHash      string

	SenderAddress           string
	RecipientAddress        string
	SourceTokenAddress      string
	DestinationTokenAddress string
	Amount                  *big.Int
	Fee                     *big.Int
	ServiceNodeAddress      string

	IsReversalTransfer bool

	Status TransferStatus

	ValidatorNonce *big.Int

	// AccountNonce is the destination-chain account nonce assigned by
	// UpdateTransferNonce, distinct from ValidatorNonce.
	AccountNonce *big.Int

	DestinationTransferID    *big.Int
	DestinationTransactionID string
	DestinationBlockNumber   uint64

	TaskID *uuid.UUID
}

// EventualDestinationBlockchain is the chain the transfer will actually
// settle on: the original destination, unless the transfer has been
// marked as a reversal, in which case funds route back to the source
// chain's Hub instead.
func (t *Transfer) EventualDestinationBlockchain() Blockchain {
	if t.IsReversalTransfer {
		return t.SourceBlockchain
	}
	return t.DestinationBlockchain
}

// EventualRecipientAddress mirrors EventualDestinationBlockchain: on a
// reversal the funds return to the sender rather than reach the
// original recipient.
func (t *Transfer) EventualRecipientAddress() string {
	if t.IsReversalTransfer {
		return t.SenderAddress
	}
	return t.RecipientAddress
}

// EventualDestinationTokenAddress mirrors EventualDestinationBlockchain.
func (t *Transfer) EventualDestinationTokenAddress() string {
	if t.IsReversalTransfer {
		return t.SourceTokenAddress
	}
	return t.DestinationTokenAddress
}

// OutgoingTransfer is a decoded `TransferFromSucceeded` Hub event read
// directly off a source chain, before it has been persisted as a
// Transfer.
type OutgoingTransfer struct {
	SourceHubAddress     string
	SourceTransferID     *big.Int
	SourceTransactionID  string
	SourceBlockNumber    uint64
	SourceBlockHash      string

	SourceTokenAddress      string
	DestinationBlockchain   Blockchain
	DestinationTokenAddress string

	SenderAddress      string
	RecipientAddress   string
	Amount             *big.Int
	Fee                *big.Int
	ServiceNodeAddress string
}

// TransferToMessage is the EIP-712 (or equivalent) message data signed
// by every validator node authorizing a `transferTo` call on the
// destination chain's Forwarder contract. DestinationHubAddress,
// DestinationForwarderAddress, and DestinationPanTokenAddress are
// signed alongside the request so a signature collected for one
// destination deployment can never be replayed against another.
type TransferToMessage struct {
	DestinationBlockchainID     uint64
	SourceBlockchainID          uint64
	SourceTransactionID         string
	SourceTransferID            *big.Int
	Sender                      string
	Recipient                   string
	SourceToken                 string
	DestinationToken            string
	Amount                      *big.Int
	ValidatorNonce              *big.Int
	DestinationHubAddress       string
	DestinationForwarderAddress string
	DestinationPanTokenAddress  string
}

// TransferToSubmissionRequest bundles everything needed to submit the
// on-chain transferTo transaction, including every collected signature
// sorted by signer address (ascending, matching the Forwarder's own
// verification order) and the destination-chain account nonce the
// nonce-arbitration algorithm assigned to this attempt.
type TransferToSubmissionRequest struct {
	Message      TransferToMessage
	Signatures   []string // hex-encoded, sorted ascending by recovered signer address
	AccountNonce uint64
}

// TransferToSubmissionStatus reports the progress of a transferTo
// submission previously started by StartTransferToSubmission.
// BlockNumber and DestinationTransferID are only meaningful once
// Completed is true; DestinationTransferID is only meaningful once the
// transaction has also been confirmed rather than reverted.
type TransferToSubmissionStatus struct {
	Completed             bool
	Status                TransactionStatus
	TransactionID         string
	BlockNumber           uint64
	DestinationTransferID *big.Int
}

// ChainAdapter is implemented once per supported blockchain. Every
// operation either reads chain state needed to detect, validate, or
// confirm a transfer, or participates in signing/submitting the
// destination-side transferTo transaction.
type ChainAdapter interface {
	Blockchain() Blockchain
	GetOwnAddress() string

	IsTokenActive(ctx context.Context, tokenAddress string) (bool, error)
	IsValidRecipientAddress(address string) bool
	IsValidTransactionID(transactionID string) bool
	// IsValidValidatorNonce is a Hub view call: it reports whether
	// nonce has not already been consumed by a transferTo submission
	// on this chain's Forwarder.
	IsValidValidatorNonce(ctx context.Context, nonce *big.Int) (bool, error)
	IsEqualAddress(a, b string) bool

	ReadExternalTokenAddress(ctx context.Context, tokenAddress string, destinationBlockchain Blockchain) (address string, active bool, err error)
	ReadMinimumValidatorNodeSignatures(ctx context.Context) (int, error)
	ReadOutgoingTransfersFromBlock(ctx context.Context, fromBlock uint64) (transfers []OutgoingTransfer, toBlock uint64, err error)
	ReadOutgoingTransfersInTransaction(ctx context.Context, transactionID string) ([]OutgoingTransfer, error)
	ReadPendingAccountNonce(ctx context.Context) (uint64, error)
	ReadTokenDecimals(ctx context.Context, tokenAddress string) (uint8, error)
	ReadTransactionStatus(ctx context.Context, transactionID string) (TransactionStatus, error)
	ReadValidatorNodeAddresses(ctx context.Context) ([]string, error)

	RecoverTransferToSignerAddress(ctx context.Context, message TransferToMessage, signature string) (string, error)
	SignTransferToMessage(ctx context.Context, message TransferToMessage) (string, error)

	// StartTransferToSubmission submits the transferTo transaction and
	// returns an opaque internal transaction id immediately; it does
	// not block until the transaction is mined. The adapter keeps
	// bumping the transaction's fee and resubmitting at request.
	// AccountNonce every BlocksUntilResubmission blocks, up to
	// MaxTotalFeePerGas, until ReadTransferToSubmissionStatus reports
	// it completed.
	StartTransferToSubmission(ctx context.Context, request TransferToSubmissionRequest) (internalTransactionID string, err error)
	// ReadTransferToSubmissionStatus reports the progress of a
	// submission started by StartTransferToSubmission. It returns
	// ErrUnresolvableSubmission if internalTransactionID is unknown to
	// this adapter (e.g. after a restart).
	ReadTransferToSubmissionStatus(ctx context.Context, internalTransactionID string) (TransferToSubmissionStatus, error)

	ProtocolVersion(ctx context.Context) (string, error)
}
