// Copyright 2025 Certen Protocol
//
// Package coordinator drives a validated transfer through signature
// collection, on-chain submission, and confirmation, handling the
// primary/secondary role split and mid-flight role changes.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/chain"
	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/primaryclient"
	"github.com/certen/independant-validator/pkg/store"
)

// Store is the narrow persistence surface signature collection,
// submission, and confirmation need.
type Store interface {
	CreateValidatorNodeSignature(ctx context.Context, transferID uuid.UUID, validatorNodeAddress, signature string) error
	ReadValidatorNodeSignature(ctx context.Context, transferID uuid.UUID, validatorNodeAddress string) (string, bool, error)
	ReadValidatorNodeSignatures(ctx context.Context, transferID uuid.UUID) (map[string]string, error)
	ReadValidatorNonceByInternalTransferID(ctx context.Context, transferID uuid.UUID) (*big.Int, error)
	UpdateTransferValidatorNonce(ctx context.Context, transferID uuid.UUID, nonce *big.Int) error
	UpdateTransferSubmittedDestinationTransaction(ctx context.Context, transferID uuid.UUID, destinationTransactionID string, status chain.TransferStatus) error
	UpdateTransferConfirmedDestinationTransaction(ctx context.Context, transferID uuid.UUID, destinationTransactionID string, destinationTransferID *big.Int, destinationBlockNumber uint64, status chain.TransferStatus) error
	UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, status chain.TransferStatus) error
	UpdateTransferNonce(ctx context.Context, transferID uuid.UUID, destinationBlockchain chain.Blockchain, latestOnChainNonce *big.Int) (*big.Int, chain.TransferStatus, error)
	ResetTransferNonce(ctx context.Context, transferID uuid.UUID) error
	ScheduleTask(ctx context.Context, kind store.TaskKind, transferID uuid.UUID, internalTransactionID string, runAfter time.Time) (uuid.UUID, error)
}

// AdapterSource resolves the ChainAdapter for a blockchain.
type AdapterSource interface {
	Get(blockchain chain.Blockchain) (chain.ChainAdapter, bool)
}

// PrimaryClient is the secondary node's view of the primary node's REST
// API, satisfied by pkg/primaryclient.Client.
type PrimaryClient interface {
	GetValidatorNonce(ctx context.Context, sourceBlockchain chain.Blockchain, sourceTransactionID string) (int64, error)
	PostTransferSignature(ctx context.Context, sourceBlockchain chain.Blockchain, sourceTransactionID, signature string) error
}

// Coordinator drives the signature-collection, submission, and
// confirmation half of a transfer's lifecycle.
type Coordinator struct {
	store       Store
	adapters    AdapterSource
	blockchains map[chain.Blockchain]*config.BlockchainConfig
	mode        config.Mode
	primary     PrimaryClient
}

func New(st Store, adapters AdapterSource, blockchains map[chain.Blockchain]*config.BlockchainConfig, mode config.Mode, primary PrimaryClient) *Coordinator {
	return &Coordinator{store: st, adapters: adapters, blockchains: blockchains, mode: mode, primary: primary}
}

func (c *Coordinator) isPrimary() bool { return c.mode == config.ModePrimary }

// SubmitToPrimaryNode is the secondary-node half of submission: it signs
// the transferTo message and forwards the signature to the primary node.
// If this node has since become the primary (a role change took effect
// mid-flight), it hands the transfer straight to SubmitOnchain instead.
func (c *Coordinator) SubmitToPrimaryNode(ctx context.Context, transferID uuid.UUID, transfer *chain.Transfer) (bool, error) {
	if c.isPrimary() {
		if _, err := c.store.ScheduleTask(ctx, store.TaskSubmitTransferOnchain, transferID, "", time.Now()); err != nil {
			return false, err
		}
		return true, nil
	}

	nonce, err := c.primary.GetValidatorNonce(ctx, transfer.SourceBlockchain, transfer.SourceTransactionID)
	if err != nil {
		return false, fmt.Errorf("get validator nonce from primary node: %w", err)
	}
	nonceBig := new(big.Int).SetInt64(nonce)
	if err := c.store.UpdateTransferValidatorNonce(ctx, transferID, nonceBig); err != nil {
		return false, err
	}

	destination := transfer.EventualDestinationBlockchain()
	destinationAdapter, ok := c.adapters.Get(destination)
	if !ok {
		return false, fmt.Errorf("coordinator: no adapter for destination blockchain %s", destination)
	}

	message := c.transferToMessage(transfer, nonceBig)
	signature, err := destinationAdapter.SignTransferToMessage(ctx, message)
	if err != nil {
		return false, fmt.Errorf("sign transferTo message: %w", err)
	}

	err = c.primary.PostTransferSignature(ctx, transfer.SourceBlockchain, transfer.SourceTransactionID, signature)
	switch {
	case err == nil:
	case errors.Is(err, primaryclient.ErrDuplicateSignature):
		// already submitted on a prior retry; continue to record it locally
	default:
		return false, fmt.Errorf("post transfer signature to primary node: %w", err)
	}

	ownAddress := destinationAdapter.GetOwnAddress()
	if err := c.storeSignatureIdempotently(ctx, transferID, ownAddress, signature); err != nil {
		return false, err
	}

	status := chain.StatusDestinationTransactionSubmitted
	if transfer.IsReversalTransfer {
		status = chain.StatusSourceReversalTransactionSubmitted
	}
	if err := c.store.UpdateTransferStatus(ctx, transferID, status); err != nil {
		return false, err
	}
	return true, nil
}

// SubmitOnchain is the primary node's half of submission: once enough
// secondary signatures have been collected it adds its own signature and
// submits the transferTo transaction. If this node has since become a
// secondary, it hands the transfer to SubmitToPrimaryNode instead.
func (c *Coordinator) SubmitOnchain(ctx context.Context, transferID uuid.UUID, transfer *chain.Transfer) (bool, error) {
	if !c.isPrimary() {
		if _, err := c.store.ScheduleTask(ctx, store.TaskSubmitTransferToPrimaryNode, transferID, "", time.Now()); err != nil {
			return false, err
		}
		return true, nil
	}

	destination := transfer.EventualDestinationBlockchain()
	destinationAdapter, ok := c.adapters.Get(destination)
	if !ok {
		return false, fmt.Errorf("coordinator: no adapter for destination blockchain %s", destination)
	}

	nonce, err := c.store.ReadValidatorNonceByInternalTransferID(ctx, transferID)
	if err != nil {
		return false, err
	}
	if nonce == nil {
		return false, fmt.Errorf("coordinator: no validator nonce assigned for transfer %s", transferID)
	}

	signatures, err := c.store.ReadValidatorNodeSignatures(ctx, transferID)
	if err != nil {
		return false, err
	}

	sufficient, err := c.sufficientSecondarySignatures(ctx, transfer, nonce, signatures, destinationAdapter)
	if err != nil {
		return false, err
	}
	if !sufficient {
		return false, nil
	}

	message := c.transferToMessage(transfer, nonce)
	primarySignature, err := destinationAdapter.SignTransferToMessage(ctx, message)
	if err != nil {
		return false, fmt.Errorf("sign transferTo message: %w", err)
	}
	primaryAddress := destinationAdapter.GetOwnAddress()
	signatures[primaryAddress] = primarySignature

	latestOnChainNonce, err := destinationAdapter.ReadPendingAccountNonce(ctx)
	if err != nil {
		return false, fmt.Errorf("read pending account nonce: %w", err)
	}
	accountNonce, _, err := c.store.UpdateTransferNonce(ctx, transferID, destination, new(big.Int).SetUint64(latestOnChainNonce))
	if err != nil {
		return false, fmt.Errorf("assign destination account nonce: %w", err)
	}

	request := chain.TransferToSubmissionRequest{
		Message:      message,
		Signatures:   sortedSignatures(signatures),
		AccountNonce: accountNonce.Uint64(),
	}
	internalTransactionID, err := destinationAdapter.StartTransferToSubmission(ctx, request)
	if err != nil {
		failedStatus := chain.StatusDestinationTransactionFailed
		if transfer.IsReversalTransfer {
			failedStatus = chain.StatusSourceReversalTransactionFailed
		}
		if updateErr := c.store.UpdateTransferStatus(ctx, transferID, failedStatus); updateErr != nil {
			return false, updateErr
		}
		if errors.Is(err, chain.ErrNonMatchingForwarder) || errors.Is(err, chain.ErrSourceTransferIDAlreadyUsed) {
			return true, nil
		}
		return false, err
	}

	if err := c.storeSignatureIdempotently(ctx, transferID, primaryAddress, primarySignature); err != nil {
		return false, err
	}

	status := chain.StatusDestinationTransactionSubmitted
	if transfer.IsReversalTransfer {
		status = chain.StatusSourceReversalTransactionSubmitted
	}
	if err := c.store.UpdateTransferSubmittedDestinationTransaction(ctx, transferID, internalTransactionID, status); err != nil {
		return false, err
	}
	if _, err := c.store.ScheduleTask(ctx, store.TaskConfirmTransfer, transferID, internalTransactionID, time.Now()); err != nil {
		return false, err
	}
	return true, nil
}

// ConfirmTransfer polls the destination chain for internalTransactionID's
// inclusion status. An unconfirmed transaction is retried later; a
// reverted one restarts validation from scratch with a freshly assigned
// nonce; a confirmed one marks the transfer complete.
func (c *Coordinator) ConfirmTransfer(ctx context.Context, transferID uuid.UUID, internalTransactionID string, transfer *chain.Transfer) (bool, error) {
	destination := transfer.EventualDestinationBlockchain()
	destinationAdapter, ok := c.adapters.Get(destination)
	if !ok {
		return false, fmt.Errorf("coordinator: no adapter for destination blockchain %s", destination)
	}

	submission, err := destinationAdapter.ReadTransferToSubmissionStatus(ctx, internalTransactionID)
	if err != nil {
		return false, fmt.Errorf("read destination transaction status: %w", err)
	}

	switch submission.Status {
	case chain.TransactionStatusUnincluded, chain.TransactionStatusUnconfirmed:
		return false, nil
	case chain.TransactionStatusReverted:
		return true, c.restartValidation(ctx, transferID, transfer)
	default:
		confirmedStatus := chain.StatusDestinationTransactionConfirmed
		if transfer.IsReversalTransfer {
			confirmedStatus = chain.StatusSourceReversalTransactionConfirmed
		}
		if err := c.store.UpdateTransferConfirmedDestinationTransaction(ctx, transferID, submission.TransactionID, submission.DestinationTransferID, submission.BlockNumber, confirmedStatus); err != nil {
			return false, err
		}
		return true, nil
	}
}

// restartValidation discards the failed submission attempt and
// reschedules validation with a freshly assigned nonce, mirroring what
// the nonce-arbitration algorithm does for a transfer whose on-chain
// submission ultimately failed.
func (c *Coordinator) restartValidation(ctx context.Context, transferID uuid.UUID, transfer *chain.Transfer) error {
	if err := c.store.ResetTransferNonce(ctx, transferID); err != nil {
		return err
	}
	if err := c.store.UpdateTransferStatus(ctx, transferID, chain.StatusSourceTransactionDetected); err != nil {
		return err
	}
	_, err := c.store.ScheduleTask(ctx, store.TaskValidateTransfer, transferID, "", time.Now())
	return err
}

// storeSignatureIdempotently mirrors the original's read-before-write:
// a retried task must not fail on a signature it already persisted.
func (c *Coordinator) storeSignatureIdempotently(ctx context.Context, transferID uuid.UUID, validatorNodeAddress, signature string) error {
	_, exists, err := c.store.ReadValidatorNodeSignature(ctx, transferID, validatorNodeAddress)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return c.store.CreateValidatorNodeSignature(ctx, transferID, validatorNodeAddress, signature)
}

// sufficientSecondarySignatures counts the primary node's own implicit
// signature plus every other signature whose recovered signer matches
// its claimed address, and compares the total against the destination
// Forwarder's minimum signature requirement.
func (c *Coordinator) sufficientSecondarySignatures(ctx context.Context, transfer *chain.Transfer, nonce *big.Int, signatures map[string]string, destinationAdapter chain.ChainAdapter) (bool, error) {
	validSignatures := 1 // the primary node's own signature, added just before submission
	primaryAddress := destinationAdapter.GetOwnAddress()
	message := c.transferToMessage(transfer, nonce)
	for signerAddress, signature := range signatures {
		if destinationAdapter.IsEqualAddress(signerAddress, primaryAddress) {
			continue
		}
		recovered, err := destinationAdapter.RecoverTransferToSignerAddress(ctx, message, signature)
		if err != nil {
			continue // an unrecoverable signature is skipped without being counted, never fatal here
		}
		if destinationAdapter.IsEqualAddress(signerAddress, recovered) {
			validSignatures++
		}
	}
	minimum, err := destinationAdapter.ReadMinimumValidatorNodeSignatures(ctx)
	if err != nil {
		return false, err
	}
	return validSignatures >= minimum, nil
}

// transferToMessage reconstructs the exact message every validator node
// signs for a transfer. It must be fully determined by persisted transfer
// state: any field derived from wall-clock time would make a secondary
// node's signature unverifiable once the primary node reconstructs the
// message independently.
func (c *Coordinator) transferToMessage(transfer *chain.Transfer, nonce *big.Int) chain.TransferToMessage {
	message := chain.TransferToMessage{
		SourceTransactionID: transfer.SourceTransactionID,
		SourceTransferID:    transfer.SourceTransferID,
		Sender:              transfer.SenderAddress,
		Recipient:           transfer.EventualRecipientAddress(),
		SourceToken:         transfer.SourceTokenAddress,
		DestinationToken:    transfer.EventualDestinationTokenAddress(),
		Amount:              transfer.Amount,
		ValidatorNonce:      nonce,
	}
	if bc, ok := c.blockchains[transfer.SourceBlockchain]; ok {
		message.SourceBlockchainID = uint64(bc.ChainID)
	}
	if bc, ok := c.blockchains[transfer.EventualDestinationBlockchain()]; ok {
		message.DestinationBlockchainID = uint64(bc.ChainID)
		message.DestinationHubAddress = bc.Hub
		message.DestinationForwarderAddress = bc.Forwarder
		message.DestinationPanTokenAddress = bc.PanToken
	}
	return message
}

// sortedSignatures returns signatures ordered ascending by the numeric
// value of the signer address, matching the order the Forwarder
// contract verifies them in.
func sortedSignatures(signatures map[string]string) []string {
	addresses := make([]string, 0, len(signatures))
	for address := range signatures {
		addresses = append(addresses, address)
	}
	sort.Slice(addresses, func(i, j int) bool {
		a, okA := new(big.Int).SetString(addresses[i], 0)
		b, okB := new(big.Int).SetString(addresses[j], 0)
		if !okA || !okB {
			return addresses[i] < addresses[j]
		}
		return a.Cmp(b) < 0
	})
	ordered := make([]string, 0, len(addresses))
	for _, address := range addresses {
		ordered = append(ordered, signatures[address])
	}
	return ordered
}
