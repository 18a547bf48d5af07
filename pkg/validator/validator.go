// Copyright 2025 Certen Protocol
//
// Package validator implements the transfer validation state machine: it
// decides whether a detected outgoing transfer is feasible to submit to
// its destination chain, or must instead be reversed back to its sender
// on the source chain.
package validator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/chain"
	"github.com/certen/independant-validator/pkg/store"
)

// Store is the narrow persistence surface validation needs.
type Store interface {
	UpdateTransferSourceTransaction(ctx context.Context, transferID uuid.UUID, blockNumber uint64, blockHash string) error
	UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, status chain.TransferStatus) error
	UpdateReversalTransfer(ctx context.Context, transferID uuid.UUID, destinationBlockchain chain.Blockchain, destinationTokenAddress string) error
	ScheduleTask(ctx context.Context, kind store.TaskKind, transferID uuid.UUID, internalTransactionID string, runAfter time.Time) (uuid.UUID, error)
}

// AdapterSource resolves the ChainAdapter for a blockchain.
type AdapterSource interface {
	Get(blockchain chain.Blockchain) (chain.ChainAdapter, bool)
}

// validationError classifies a validation failure as transient (worth
// retrying once the underlying condition changes) or permanent (the
// transfer's fate is decided, whether that means reversal or rejection).
type validationError struct {
	transient bool
	err       error
}

func (e *validationError) Error() string { return e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }

func transientError(format string, args ...any) error {
	return &validationError{transient: true, err: fmt.Errorf(format, args...)}
}

func permanentError(format string, args ...any) error {
	return &validationError{transient: false, err: fmt.Errorf(format, args...)}
}

// Validator runs the fixed sequence of feasibility checks against a
// detected transfer.
type Validator struct {
	store    Store
	adapters AdapterSource
}

func New(st Store, adapters AdapterSource) *Validator {
	return &Validator{store: st, adapters: adapters}
}

// Validate runs every feasibility check for transfer in order. done=true
// means no further retry is needed: the transfer was either confirmed
// feasible (and the next task already scheduled) or permanently rejected.
// done=false means a transient condition (an unconfirmed or not-yet-mined
// source transaction) should be retried later. A non-nil error alongside
// done=false is an unexpected failure the caller should treat as a
// failed attempt rather than a validation verdict.
func (v *Validator) Validate(ctx context.Context, transferID uuid.UUID, transfer *chain.Transfer, isPrimaryNode bool) (bool, error) {
	sourceAdapter, ok := v.adapters.Get(transfer.SourceBlockchain)
	if !ok {
		return false, fmt.Errorf("validator: no adapter for source blockchain %s", transfer.SourceBlockchain)
	}
	destinationAdapter, ok := v.adapters.Get(transfer.DestinationBlockchain)
	if !ok {
		return false, fmt.Errorf("validator: no adapter for destination blockchain %s", transfer.DestinationBlockchain)
	}

	steps := []func(context.Context, uuid.UUID, *chain.Transfer, chain.ChainAdapter, chain.ChainAdapter) error{
		v.validateSourceTransactionStatus,
		v.validateTransferInSourceTransaction,
		v.validateSourceTokenRegistration,
		v.validateDestinationBlockchainFeasibility,
	}
	for _, step := range steps {
		if err := step(ctx, transferID, transfer, sourceAdapter, destinationAdapter); err != nil {
			var verr *validationError
			if errors.As(err, &verr) {
				return !verr.transient, nil
			}
			return false, err
		}
	}

	if transfer.IsReversalTransfer {
		if err := v.store.UpdateReversalTransfer(ctx, transferID, transfer.EventualDestinationBlockchain(), transfer.EventualDestinationTokenAddress()); err != nil {
			return false, err
		}
	}

	kind := store.TaskSubmitTransferToPrimaryNode
	if isPrimaryNode {
		kind = store.TaskSubmitTransferOnchain
	}
	if _, err := v.store.ScheduleTask(ctx, kind, transferID, "", time.Now()); err != nil {
		return false, err
	}
	return true, nil
}

// validateSourceTransactionStatus requires the source transaction to be
// confirmed at the source chain's configured depth before anything else
// is checked: an unincluded or unconfirmed transaction is retried later,
// a reverted one permanently fails the transfer.
func (v *Validator) validateSourceTransactionStatus(ctx context.Context, transferID uuid.UUID, transfer *chain.Transfer, sourceAdapter, destinationAdapter chain.ChainAdapter) error {
	status, err := sourceAdapter.ReadTransactionStatus(ctx, transfer.SourceTransactionID)
	if err != nil {
		return fmt.Errorf("read source transaction status: %w", err)
	}
	switch status {
	case chain.TransactionStatusUnincluded, chain.TransactionStatusUnconfirmed:
		return transientError("source transaction not yet confirmed")
	case chain.TransactionStatusReverted:
		if err := v.store.UpdateTransferStatus(ctx, transferID, chain.StatusSourceTransactionReverted); err != nil {
			return err
		}
		return permanentError("source transaction reverted")
	default:
		return nil
	}
}

// validateTransferInSourceTransaction re-reads the events actually
// included in the source transaction and reconciles this transfer
// against them. The Hub can assign a transfer a different sequence
// number than the one first observed if the transaction ends up mined
// in a different block than initially assumed, so a byte-for-byte
// mismatch on the stored fields is not immediately fatal: every
// candidate event is tried in turn before giving up.
func (v *Validator) validateTransferInSourceTransaction(ctx context.Context, transferID uuid.UUID, transfer *chain.Transfer, sourceAdapter, destinationAdapter chain.ChainAdapter) error {
	events, err := sourceAdapter.ReadOutgoingTransfersInTransaction(ctx, transfer.SourceTransactionID)
	if err != nil {
		return fmt.Errorf("read outgoing transfers in source transaction: %w", err)
	}

	for _, event := range events {
		if !sameTransfer(transfer, event) {
			continue
		}
		if event.SourceBlockNumber != transfer.SourceBlockNumber || event.SourceBlockHash != transfer.SourceBlockHash {
			if err := v.store.UpdateTransferSourceTransaction(ctx, transferID, event.SourceBlockNumber, event.SourceBlockHash); err != nil {
				return err
			}
			transfer.SourceBlockNumber = event.SourceBlockNumber
			transfer.SourceBlockHash = event.SourceBlockHash
		}
		return nil
	}
	return fmt.Errorf("transfer not found in source transaction %s", transfer.SourceTransactionID)
}

func sameTransfer(transfer *chain.Transfer, event chain.OutgoingTransfer) bool {
	return transfer.SourceHubAddress == event.SourceHubAddress &&
		transfer.SenderAddress == event.SenderAddress &&
		transfer.RecipientAddress == event.RecipientAddress &&
		transfer.SourceTokenAddress == event.SourceTokenAddress &&
		transfer.DestinationBlockchain == event.DestinationBlockchain &&
		transfer.DestinationTokenAddress == event.DestinationTokenAddress &&
		bigEqual(transfer.Amount, event.Amount) &&
		bigEqual(transfer.Fee, event.Fee) &&
		transfer.ServiceNodeAddress == event.ServiceNodeAddress
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}

// validateSourceTokenRegistration requires the source token to still be
// active on the source chain's Hub.
func (v *Validator) validateSourceTokenRegistration(ctx context.Context, transferID uuid.UUID, transfer *chain.Transfer, sourceAdapter, destinationAdapter chain.ChainAdapter) error {
	active, err := sourceAdapter.IsTokenActive(ctx, transfer.SourceTokenAddress)
	if err != nil {
		return fmt.Errorf("read source token registration: %w", err)
	}
	if !active {
		if err := v.store.UpdateTransferStatus(ctx, transferID, chain.StatusSourceTransactionInvalid); err != nil {
			return err
		}
		return permanentError("source token %s not registered", transfer.SourceTokenAddress)
	}
	return nil
}

// validateDestinationBlockchainFeasibility runs every check that can
// only fail permanently, but converts a permanent failure here into a
// reversal instead of propagating it: the transfer is well-formed, it
// just cannot be delivered to its intended destination, so the funds
// are sent back to the sender instead of discarded.
func (v *Validator) validateDestinationBlockchainFeasibility(ctx context.Context, transferID uuid.UUID, transfer *chain.Transfer, sourceAdapter, destinationAdapter chain.ChainAdapter) error {
	checks := []func(context.Context, uuid.UUID, *chain.Transfer, chain.ChainAdapter, chain.ChainAdapter) error{
		v.validateTransferRecipientAddress,
		v.validateDestinationTokenRegistration,
		v.validateTokenAddresses,
		v.validateTokenDecimals,
	}
	for _, check := range checks {
		err := check(ctx, transferID, transfer, sourceAdapter, destinationAdapter)
		if err == nil {
			continue
		}
		var verr *validationError
		if !errors.As(err, &verr) {
			return err
		}
		if verr.transient {
			return err
		}
		transfer.IsReversalTransfer = true
		return nil
	}
	return nil
}

func (v *Validator) validateTransferRecipientAddress(ctx context.Context, transferID uuid.UUID, transfer *chain.Transfer, sourceAdapter, destinationAdapter chain.ChainAdapter) error {
	if !destinationAdapter.IsValidRecipientAddress(transfer.RecipientAddress) {
		return permanentError("recipient address %s invalid on destination chain", transfer.RecipientAddress)
	}
	return nil
}

func (v *Validator) validateDestinationTokenRegistration(ctx context.Context, transferID uuid.UUID, transfer *chain.Transfer, sourceAdapter, destinationAdapter chain.ChainAdapter) error {
	active, err := destinationAdapter.IsTokenActive(ctx, transfer.DestinationTokenAddress)
	if err != nil {
		return fmt.Errorf("read destination token registration: %w", err)
	}
	if !active {
		return permanentError("destination token %s not registered", transfer.DestinationTokenAddress)
	}
	return nil
}

func (v *Validator) validateTokenAddresses(ctx context.Context, transferID uuid.UUID, transfer *chain.Transfer, sourceAdapter, destinationAdapter chain.ChainAdapter) error {
	sourceTokenAsSeenFromDestination, _, err := destinationAdapter.ReadExternalTokenAddress(ctx, transfer.DestinationTokenAddress, transfer.SourceBlockchain)
	if err != nil {
		return fmt.Errorf("read external source token address: %w", err)
	}
	destinationTokenAsSeenFromSource, _, err := sourceAdapter.ReadExternalTokenAddress(ctx, transfer.SourceTokenAddress, transfer.DestinationBlockchain)
	if err != nil {
		return fmt.Errorf("read external destination token address: %w", err)
	}
	if !sourceAdapter.IsEqualAddress(sourceTokenAsSeenFromDestination, transfer.SourceTokenAddress) ||
		!destinationAdapter.IsEqualAddress(destinationTokenAsSeenFromSource, transfer.DestinationTokenAddress) {
		return permanentError("non-matching source and destination token addresses")
	}
	return nil
}

func (v *Validator) validateTokenDecimals(ctx context.Context, transferID uuid.UUID, transfer *chain.Transfer, sourceAdapter, destinationAdapter chain.ChainAdapter) error {
	sourceDecimals, err := sourceAdapter.ReadTokenDecimals(ctx, transfer.SourceTokenAddress)
	if err != nil {
		return fmt.Errorf("read source token decimals: %w", err)
	}
	destinationDecimals, err := destinationAdapter.ReadTokenDecimals(ctx, transfer.DestinationTokenAddress)
	if err != nil {
		return fmt.Errorf("read destination token decimals: %w", err)
	}
	if sourceDecimals != destinationDecimals {
		return permanentError("non-matching source and destination token decimals")
	}
	return nil
}
