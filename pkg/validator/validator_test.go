// Copyright 2025 Certen Protocol
//
// Unit tests for the transfer validation state machine.

package validator

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certen/independant-validator/pkg/chain"
	"github.com/certen/independant-validator/pkg/store"
)

type fakeStore struct {
	mu               sync.Mutex
	sourceTxUpdated  bool
	statuses         []chain.TransferStatus
	reversed         bool
	reversalBlockchain chain.Blockchain
	reversalToken    string
	scheduledKinds   []store.TaskKind
}

func (f *fakeStore) UpdateTransferSourceTransaction(context.Context, uuid.UUID, uint64, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sourceTxUpdated = true
	return nil
}

func (f *fakeStore) UpdateTransferStatus(_ context.Context, _ uuid.UUID, status chain.TransferStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeStore) UpdateReversalTransfer(_ context.Context, _ uuid.UUID, destinationBlockchain chain.Blockchain, destinationTokenAddress string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reversed = true
	f.reversalBlockchain = destinationBlockchain
	f.reversalToken = destinationTokenAddress
	return nil
}

func (f *fakeStore) ScheduleTask(_ context.Context, kind store.TaskKind, _ uuid.UUID, _ string, _ time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduledKinds = append(f.scheduledKinds, kind)
	return uuid.New(), nil
}

type fakeAdapter struct {
	blockchain          chain.Blockchain
	transactionStatus   chain.TransactionStatus
	transactionStatusErr error
	eventsInTransaction []chain.OutgoingTransfer
	tokenActive         bool
	validRecipient      bool
	externalTokenAddr   string
	equalAddresses      bool
	decimals            uint8
}

func (a *fakeAdapter) Blockchain() chain.Blockchain { return a.blockchain }
func (a *fakeAdapter) GetOwnAddress() string        { return "0xnode" }
func (a *fakeAdapter) IsTokenActive(context.Context, string) (bool, error) {
	return a.tokenActive, nil
}
func (a *fakeAdapter) IsValidRecipientAddress(string) bool { return a.validRecipient }
func (a *fakeAdapter) IsValidTransactionID(string) bool    { return true }
func (a *fakeAdapter) IsValidValidatorNonce(context.Context, *big.Int) (bool, error) { return true, nil }
func (a *fakeAdapter) IsEqualAddress(x, y string) bool                              { return a.equalAddresses }
func (a *fakeAdapter) ReadPendingAccountNonce(context.Context) (uint64, error)       { return 0, nil }
func (a *fakeAdapter) ReadExternalTokenAddress(context.Context, string, chain.Blockchain) (string, bool, error) {
	return a.externalTokenAddr, true, nil
}
func (a *fakeAdapter) ReadMinimumValidatorNodeSignatures(context.Context) (int, error) { return 1, nil }
func (a *fakeAdapter) ReadOutgoingTransfersFromBlock(context.Context, uint64) ([]chain.OutgoingTransfer, uint64, error) {
	return nil, 0, nil
}
func (a *fakeAdapter) ReadOutgoingTransfersInTransaction(context.Context, string) ([]chain.OutgoingTransfer, error) {
	return a.eventsInTransaction, nil
}
func (a *fakeAdapter) ReadTokenDecimals(context.Context, string) (uint8, error) { return a.decimals, nil }
func (a *fakeAdapter) ReadTransactionStatus(context.Context, string) (chain.TransactionStatus, error) {
	return a.transactionStatus, a.transactionStatusErr
}
func (a *fakeAdapter) ReadValidatorNodeAddresses(context.Context) ([]string, error) {
	return []string{"0xnode"}, nil
}
func (a *fakeAdapter) RecoverTransferToSignerAddress(context.Context, chain.TransferToMessage, string) (string, error) {
	return "", nil
}
func (a *fakeAdapter) SignTransferToMessage(context.Context, chain.TransferToMessage) (string, error) {
	return "", nil
}
func (a *fakeAdapter) StartTransferToSubmission(context.Context, chain.TransferToSubmissionRequest) (string, error) {
	return "", nil
}
func (a *fakeAdapter) ReadTransferToSubmissionStatus(context.Context, string) (chain.TransferToSubmissionStatus, error) {
	return chain.TransferToSubmissionStatus{}, nil
}
func (a *fakeAdapter) ProtocolVersion(context.Context) (string, error) { return "1.0", nil }

var _ chain.ChainAdapter = (*fakeAdapter)(nil)

type fakeRegistry struct {
	adapters map[chain.Blockchain]chain.ChainAdapter
}

func (r *fakeRegistry) Get(blockchain chain.Blockchain) (chain.ChainAdapter, bool) {
	a, ok := r.adapters[blockchain]
	return a, ok
}

func baseTransfer() *chain.Transfer {
	return &chain.Transfer{
		ID:                      uuid.New(),
		SourceBlockchain:        chain.Ethereum,
		DestinationBlockchain:   chain.Polygon,
		SourceHubAddress:        "0xhub",
		SourceTransactionID:     "0xaaa",
		SourceBlockNumber:       100,
		SourceBlockHash:         "0xblock",
		SenderAddress:           "0xsender",
		RecipientAddress:        "0xrecipient",
		SourceTokenAddress:      "0xtoken",
		DestinationTokenAddress: "0xtoken2",
		Amount:                  big.NewInt(1000),
		Fee:                     big.NewInt(1),
		ServiceNodeAddress:      "0xservice",
	}
}

func matchingEvent(transfer *chain.Transfer) chain.OutgoingTransfer {
	return chain.OutgoingTransfer{
		SourceHubAddress:        transfer.SourceHubAddress,
		SourceTransactionID:     transfer.SourceTransactionID,
		SourceBlockNumber:       transfer.SourceBlockNumber,
		SourceBlockHash:         transfer.SourceBlockHash,
		SourceTokenAddress:      transfer.SourceTokenAddress,
		DestinationBlockchain:   transfer.DestinationBlockchain,
		DestinationTokenAddress: transfer.DestinationTokenAddress,
		SenderAddress:           transfer.SenderAddress,
		RecipientAddress:        transfer.RecipientAddress,
		Amount:                  transfer.Amount,
		Fee:                     transfer.Fee,
		ServiceNodeAddress:      transfer.ServiceNodeAddress,
	}
}

func feasibleAdapters(transfer *chain.Transfer) (*fakeAdapter, *fakeAdapter) {
	source := &fakeAdapter{
		blockchain:          chain.Ethereum,
		transactionStatus:   chain.TransactionStatusConfirmed,
		eventsInTransaction: []chain.OutgoingTransfer{matchingEvent(transfer)},
		tokenActive:         true,
		externalTokenAddr:   transfer.DestinationTokenAddress,
		equalAddresses:      true,
		decimals:            18,
	}
	destination := &fakeAdapter{
		blockchain:        chain.Polygon,
		tokenActive:       true,
		validRecipient:    true,
		externalTokenAddr: transfer.SourceTokenAddress,
		equalAddresses:    true,
		decimals:          18,
	}
	return source, destination
}

func TestValidator_FeasibleTransferSchedulesOnchainSubmissionForPrimary(t *testing.T) {
	transfer := baseTransfer()
	source, destination := feasibleAdapters(transfer)
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{
		chain.Ethereum: source,
		chain.Polygon:  destination,
	}}
	st := &fakeStore{}
	v := New(st, reg)

	done, err := v.Validate(context.Background(), transfer.ID, transfer, true)
	require.NoError(t, err)
	assert.True(t, done)
	assert.False(t, transfer.IsReversalTransfer)
	require.Len(t, st.scheduledKinds, 1)
	assert.Equal(t, store.TaskSubmitTransferOnchain, st.scheduledKinds[0])
}

func TestValidator_FeasibleTransferSchedulesPrimaryForwardForSecondary(t *testing.T) {
	transfer := baseTransfer()
	source, destination := feasibleAdapters(transfer)
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{
		chain.Ethereum: source,
		chain.Polygon:  destination,
	}}
	st := &fakeStore{}
	v := New(st, reg)

	done, err := v.Validate(context.Background(), transfer.ID, transfer, false)
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, st.scheduledKinds, 1)
	assert.Equal(t, store.TaskSubmitTransferToPrimaryNode, st.scheduledKinds[0])
}

func TestValidator_UnconfirmedSourceTransactionIsTransient(t *testing.T) {
	transfer := baseTransfer()
	source, destination := feasibleAdapters(transfer)
	source.transactionStatus = chain.TransactionStatusUnconfirmed
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{
		chain.Ethereum: source,
		chain.Polygon:  destination,
	}}
	st := &fakeStore{}
	v := New(st, reg)

	done, err := v.Validate(context.Background(), transfer.ID, transfer, true)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, st.scheduledKinds)
}

func TestValidator_RevertedSourceTransactionIsPermanent(t *testing.T) {
	transfer := baseTransfer()
	source, destination := feasibleAdapters(transfer)
	source.transactionStatus = chain.TransactionStatusReverted
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{
		chain.Ethereum: source,
		chain.Polygon:  destination,
	}}
	st := &fakeStore{}
	v := New(st, reg)

	done, err := v.Validate(context.Background(), transfer.ID, transfer, true)
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, st.statuses, 1)
	assert.Equal(t, chain.StatusSourceTransactionReverted, st.statuses[0])
	assert.Empty(t, st.scheduledKinds)
}

func TestValidator_InactiveSourceTokenIsPermanentAndInvalid(t *testing.T) {
	transfer := baseTransfer()
	source, destination := feasibleAdapters(transfer)
	source.tokenActive = false
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{
		chain.Ethereum: source,
		chain.Polygon:  destination,
	}}
	st := &fakeStore{}
	v := New(st, reg)

	done, err := v.Validate(context.Background(), transfer.ID, transfer, true)
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, st.statuses, 1)
	assert.Equal(t, chain.StatusSourceTransactionInvalid, st.statuses[0])
}

func TestValidator_InfeasibleDestinationTriggersReversal(t *testing.T) {
	transfer := baseTransfer()
	source, destination := feasibleAdapters(transfer)
	destination.validRecipient = false
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{
		chain.Ethereum: source,
		chain.Polygon:  destination,
	}}
	st := &fakeStore{}
	v := New(st, reg)

	done, err := v.Validate(context.Background(), transfer.ID, transfer, true)
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, transfer.IsReversalTransfer)
	assert.True(t, st.reversed)
	assert.Equal(t, chain.Ethereum, st.reversalBlockchain)
	require.Len(t, st.scheduledKinds, 1)
	assert.Equal(t, store.TaskSubmitTransferOnchain, st.scheduledKinds[0])
}

func TestValidator_TransferNotFoundInSourceTransactionIsUnexpectedError(t *testing.T) {
	transfer := baseTransfer()
	source, destination := feasibleAdapters(transfer)
	source.eventsInTransaction = nil
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{
		chain.Ethereum: source,
		chain.Polygon:  destination,
	}}
	st := &fakeStore{}
	v := New(st, reg)

	done, err := v.Validate(context.Background(), transfer.ID, transfer, true)
	assert.Error(t, err)
	assert.False(t, done)
}

func TestValidator_HubRenumberingUpdatesSourceTransaction(t *testing.T) {
	transfer := baseTransfer()
	source, destination := feasibleAdapters(transfer)
	renumbered := matchingEvent(transfer)
	renumbered.SourceBlockNumber = 101
	renumbered.SourceBlockHash = "0xblock2"
	source.eventsInTransaction = []chain.OutgoingTransfer{renumbered}
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{
		chain.Ethereum: source,
		chain.Polygon:  destination,
	}}
	st := &fakeStore{}
	v := New(st, reg)

	done, err := v.Validate(context.Background(), transfer.ID, transfer, true)
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, st.sourceTxUpdated)
	assert.Equal(t, uint64(101), transfer.SourceBlockNumber)
	assert.Equal(t, "0xblock2", transfer.SourceBlockHash)
}
