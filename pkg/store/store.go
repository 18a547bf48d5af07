// Copyright 2025 Certen Protocol
//
// Package store defines the persistence boundary for transfers,
// contracts, validator nodes, and their signatures.

package store

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/chain"
)

// TaskKind identifies one of the four deferred-task handlers.
type TaskKind string

const (
	TaskValidateTransfer            TaskKind = "validate_transfer"
	TaskSubmitTransferToPrimaryNode TaskKind = "submit_transfer_to_primary_node"
	TaskSubmitTransferOnchain       TaskKind = "submit_transfer_onchain"
	TaskConfirmTransfer             TaskKind = "confirm_transfer"
)

// ScheduledTask is a single row of the persisted deferred-task queue.
// InternalTransactionID carries the destination transaction id for
// confirm_transfer tasks; it is empty for the other three kinds.
type ScheduledTask struct {
	ID                    uuid.UUID
	Kind                  TaskKind
	TransferID            uuid.UUID
	InternalTransactionID string
	RunAfter              time.Time
	Attempts              int
}

// TransferCreationRequest holds everything needed to persist a newly
// detected outgoing transfer, including the contract rows it
// references (created on demand if they don't already exist).
type TransferCreationRequest struct {
	SourceBlockchain      chain.Blockchain
	DestinationBlockchain chain.Blockchain

	SourceHubAddress    string
	SourceTransferID    *big.Int
	SourceTransactionID string
	SourceBlockNumber   uint64
	SourceBlockHash     string

	SenderAddress           string
	RecipientAddress        string
	SourceTokenAddress      string
	DestinationTokenAddress string
	Amount                  *big.Int
	Fee                     *big.Int
	ServiceNodeAddress      string

	DestinationForwarderAddress string
	ValidatorNonce              *big.Int

	Status chain.TransferStatus
}

// TransferToData is the joined view of a transfer needed to construct
// its TransferToMessage and to locate the destination Forwarder that
// verifies it.
type TransferToData struct {
	Transfer                   chain.Transfer
	DestinationForwarderAddress string
	SourceBlockchainID          uint64
}

// Store is the persistence boundary every component above it depends
// on. The Postgres implementation backs every method with the queries
// described in the component design; other implementations (e.g. a test
// double) only need to preserve the same invariants.
type Store interface {
	CreateTransfer(ctx context.Context, request TransferCreationRequest) (uuid.UUID, error)
	CreateValidatorNodeSignature(ctx context.Context, transferID uuid.UUID, validatorNodeAddress, signature string) error

	ReadBlockchainLastBlockNumber(ctx context.Context, blockchain chain.Blockchain) (int64, error)
	UpdateBlockchainLastBlockNumber(ctx context.Context, blockchain chain.Blockchain, blockNumber uint64) error

	ReadTransferID(ctx context.Context, sourceBlockchain chain.Blockchain, sourceTransactionID string) (uuid.UUID, bool, error)
	ReadTransfer(ctx context.Context, transferID uuid.UUID) (*chain.Transfer, error)
	ReadTransferToData(ctx context.Context, transferID uuid.UUID) (*TransferToData, error)

	ReadValidatorNodeSignature(ctx context.Context, transferID uuid.UUID, validatorNodeAddress string) (string, bool, error)
	ReadValidatorNodeSignatures(ctx context.Context, transferID uuid.UUID) (map[string]string, error)

	ReadValidatorNonceByInternalTransferID(ctx context.Context, transferID uuid.UUID) (*big.Int, error)
	ReadValidatorNonceBySourceTransactionID(ctx context.Context, sourceBlockchain chain.Blockchain, sourceTransactionID string) (*big.Int, bool, error)

	UpdateReversalTransfer(ctx context.Context, transferID uuid.UUID, destinationBlockchain chain.Blockchain, destinationTokenAddress string) error
	// UpdateTransferConfirmedDestinationTransaction also records the
	// destination-chain transfer id and block number extracted from the
	// confirmed transferTo submission's TransferToSucceeded event.
	UpdateTransferConfirmedDestinationTransaction(ctx context.Context, transferID uuid.UUID, destinationTransactionID string, destinationTransferID *big.Int, destinationBlockNumber uint64, status chain.TransferStatus) error
	UpdateTransferSubmittedDestinationTransaction(ctx context.Context, transferID uuid.UUID, destinationTransactionID string, status chain.TransferStatus) error

	// UpdateTransferNonce implements the nonce-arbitration algorithm over
	// the destination chain's account-nonce space: if any transfer on
	// destinationBlockchain is in a failed status and still holds a
	// nonce, the lowest such nonce is recycled (and cleared on that
	// transfer); otherwise the nonce is one above the highest nonce ever
	// assigned on that chain, or latestOnChainNonce when that is greater
	// or no nonce has been assigned yet. Returns the assigned nonce and
	// the resulting *_NEW_NONCE_ASSIGNED status.
	UpdateTransferNonce(ctx context.Context, transferID uuid.UUID, destinationBlockchain chain.Blockchain, latestOnChainNonce *big.Int) (*big.Int, chain.TransferStatus, error)

	ResetTransferNonce(ctx context.Context, transferID uuid.UUID) error
	UpdateTransferSourceTransaction(ctx context.Context, transferID uuid.UUID, blockNumber uint64, blockHash string) error
	UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, status chain.TransferStatus) error
	UpdateTransferTaskID(ctx context.Context, transferID uuid.UUID, taskID uuid.UUID) error
	UpdateTransferValidatorNonce(ctx context.Context, transferID uuid.UUID, nonce *big.Int) error

	// ScheduleTask enqueues kind to run no earlier than runAfter and
	// records its id on the transfer row, so only the latest scheduled
	// task per transfer is tracked.
	ScheduleTask(ctx context.Context, kind TaskKind, transferID uuid.UUID, internalTransactionID string, runAfter time.Time) (uuid.UUID, error)

	// ClaimDueTasks locks up to limit tasks whose run_after has passed
	// and that are not locked (or whose lock is over ten minutes old),
	// and returns them. Locked tasks are released via either DeleteTask
	// (success) or RescheduleTask (retry); a crashed worker's claim
	// expires after ten minutes, so the task is retried at-least-once.
	ClaimDueTasks(ctx context.Context, limit int) ([]ScheduledTask, error)
	RescheduleTask(ctx context.Context, taskID uuid.UUID, runAfter time.Time) error
	DeleteTask(ctx context.Context, taskID uuid.UUID) error

	Close() error
}
