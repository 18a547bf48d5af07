// Copyright 2025 Certen Protocol

package coordinator

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
	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/store"
)

type fakeStore struct {
	mu                    sync.Mutex
	nonce                 *big.Int
	signatures            map[string]string
	submittedStatus       chain.TransferStatus
	submittedTxID         string
	confirmedStatus       chain.TransferStatus
	confirmedTxID         string
	confirmedTransferID   *big.Int
	confirmedBlockNumber  uint64
	statuses              []chain.TransferStatus
	scheduledKinds        []store.TaskKind
	nonceReset            bool
	assignedAccountNonce  *big.Int
	assignedAccountErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{signatures: make(map[string]string)}
}

func (f *fakeStore) CreateValidatorNodeSignature(_ context.Context, _ uuid.UUID, validatorNodeAddress, signature string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signatures[validatorNodeAddress] = signature
	return nil
}

func (f *fakeStore) ReadValidatorNodeSignature(_ context.Context, _ uuid.UUID, validatorNodeAddress string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sig, ok := f.signatures[validatorNodeAddress]
	return sig, ok, nil
}

func (f *fakeStore) ReadValidatorNodeSignatures(context.Context, uuid.UUID) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.signatures))
	for k, v := range f.signatures {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) ReadValidatorNonceByInternalTransferID(context.Context, uuid.UUID) (*big.Int, error) {
	return f.nonce, nil
}

func (f *fakeStore) UpdateTransferValidatorNonce(_ context.Context, _ uuid.UUID, nonce *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce = nonce
	return nil
}

func (f *fakeStore) UpdateTransferSubmittedDestinationTransaction(_ context.Context, _ uuid.UUID, destinationTransactionID string, status chain.TransferStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submittedTxID = destinationTransactionID
	f.submittedStatus = status
	return nil
}

func (f *fakeStore) UpdateTransferConfirmedDestinationTransaction(_ context.Context, _ uuid.UUID, destinationTransactionID string, destinationTransferID *big.Int, destinationBlockNumber uint64, status chain.TransferStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmedTxID = destinationTransactionID
	f.confirmedTransferID = destinationTransferID
	f.confirmedBlockNumber = destinationBlockNumber
	f.confirmedStatus = status
	return nil
}

func (f *fakeStore) UpdateTransferNonce(_ context.Context, _ uuid.UUID, _ chain.Blockchain, latestOnChainNonce *big.Int) (*big.Int, chain.TransferStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignedAccountErr != nil {
		return nil, "", f.assignedAccountErr
	}
	if f.assignedAccountNonce != nil {
		return f.assignedAccountNonce, chain.StatusSourceTransactionDetectedNewNonceAssigned, nil
	}
	return latestOnChainNonce, chain.StatusSourceTransactionDetectedNewNonceAssigned, nil
}

func (f *fakeStore) UpdateTransferStatus(_ context.Context, _ uuid.UUID, status chain.TransferStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeStore) ResetTransferNonce(context.Context, uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceReset = true
	return nil
}

func (f *fakeStore) ScheduleTask(_ context.Context, kind store.TaskKind, _ uuid.UUID, _ string, _ time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduledKinds = append(f.scheduledKinds, kind)
	return uuid.New(), nil
}

type fakeAdapter struct {
	ownAddress       string
	minimumSignatures int
	recoveredSigner  map[string]string
	transactionStatus chain.TransactionStatus
	startTxErr       error
	startTxID        string
	signErr          error
}

func (a *fakeAdapter) Blockchain() chain.Blockchain { return chain.Polygon }
func (a *fakeAdapter) GetOwnAddress() string        { return a.ownAddress }
func (a *fakeAdapter) IsTokenActive(context.Context, string) (bool, error) {
	return true, nil
}
func (a *fakeAdapter) IsValidRecipientAddress(string) bool { return true }
func (a *fakeAdapter) IsValidTransactionID(string) bool    { return true }
func (a *fakeAdapter) IsValidValidatorNonce(context.Context, *big.Int) (bool, error) { return true, nil }
func (a *fakeAdapter) IsEqualAddress(x, y string) bool                              { return x == y }
func (a *fakeAdapter) ReadPendingAccountNonce(context.Context) (uint64, error)       { return 0, nil }
func (a *fakeAdapter) ReadExternalTokenAddress(context.Context, string, chain.Blockchain) (string, bool, error) {
	return "", true, nil
}
func (a *fakeAdapter) ReadMinimumValidatorNodeSignatures(context.Context) (int, error) {
	return a.minimumSignatures, nil
}
func (a *fakeAdapter) ReadOutgoingTransfersFromBlock(context.Context, uint64) ([]chain.OutgoingTransfer, uint64, error) {
	return nil, 0, nil
}
func (a *fakeAdapter) ReadOutgoingTransfersInTransaction(context.Context, string) ([]chain.OutgoingTransfer, error) {
	return nil, nil
}
func (a *fakeAdapter) ReadTokenDecimals(context.Context, string) (uint8, error) { return 18, nil }
func (a *fakeAdapter) ReadTransactionStatus(context.Context, string) (chain.TransactionStatus, error) {
	return a.transactionStatus, nil
}
func (a *fakeAdapter) ReadValidatorNodeAddresses(context.Context) ([]string, error) {
	return []string{a.ownAddress}, nil
}
func (a *fakeAdapter) RecoverTransferToSignerAddress(_ context.Context, _ chain.TransferToMessage, signature string) (string, error) {
	signer, ok := a.recoveredSigner[signature]
	if !ok {
		return "", assertUnknownSignature
	}
	return signer, nil
}
func (a *fakeAdapter) SignTransferToMessage(context.Context, chain.TransferToMessage) (string, error) {
	if a.signErr != nil {
		return "", a.signErr
	}
	return "sig-" + a.ownAddress, nil
}
func (a *fakeAdapter) StartTransferToSubmission(context.Context, chain.TransferToSubmissionRequest) (string, error) {
	if a.startTxErr != nil {
		return "", a.startTxErr
	}
	return a.startTxID, nil
}
func (a *fakeAdapter) ReadTransferToSubmissionStatus(_ context.Context, internalTransactionID string) (chain.TransferToSubmissionStatus, error) {
	return chain.TransferToSubmissionStatus{
		Status:        a.transactionStatus,
		TransactionID: internalTransactionID,
	}, nil
}
func (a *fakeAdapter) ProtocolVersion(context.Context) (string, error) { return "1.0", nil }

var assertUnknownSignature = assertError("unknown signature")

type assertError string

func (e assertError) Error() string { return string(e) }

var _ chain.ChainAdapter = (*fakeAdapter)(nil)

type fakeRegistry struct {
	adapters map[chain.Blockchain]chain.ChainAdapter
}

func (r *fakeRegistry) Get(blockchain chain.Blockchain) (chain.ChainAdapter, bool) {
	a, ok := r.adapters[blockchain]
	return a, ok
}

type fakePrimaryClient struct {
	nonce   int64
	nonceErr error
	postErr error
}

func (f *fakePrimaryClient) GetValidatorNonce(context.Context, chain.Blockchain, string) (int64, error) {
	return f.nonce, f.nonceErr
}

func (f *fakePrimaryClient) PostTransferSignature(context.Context, chain.Blockchain, string, string) error {
	return f.postErr
}

func baseTransfer() *chain.Transfer {
	return &chain.Transfer{
		ID:                    uuid.New(),
		SourceBlockchain:      chain.Ethereum,
		DestinationBlockchain: chain.Polygon,
		SourceTransactionID:   "0xaaa",
		SenderAddress:         "0xsender",
		RecipientAddress:      "0xrecipient",
		SourceTokenAddress:    "0xtoken",
		DestinationTokenAddress: "0xtoken2",
		Amount:                big.NewInt(1000),
	}
}

func blockchainConfigs() map[chain.Blockchain]*config.BlockchainConfig {
	return map[chain.Blockchain]*config.BlockchainConfig{
		chain.Ethereum: {ChainID: 1},
		chain.Polygon:  {ChainID: 137},
	}
}

func TestCoordinator_SubmitToPrimaryNodeSecondaryPath(t *testing.T) {
	transfer := baseTransfer()
	destination := &fakeAdapter{ownAddress: "0xsecondary"}
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{chain.Polygon: destination}}
	st := newFakeStore()
	primary := &fakePrimaryClient{nonce: 7}
	c := New(st, reg, blockchainConfigs(), config.ModeSecondary, primary)

	done, err := c.SubmitToPrimaryNode(context.Background(), transfer.ID, transfer)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, big.NewInt(7), st.nonce)
	assert.Contains(t, st.signatures, "0xsecondary")
	require.Len(t, st.statuses, 1)
	assert.Equal(t, chain.StatusDestinationTransactionSubmitted, st.statuses[0])
}

func TestCoordinator_SubmitToPrimaryNodeRoleFlippedToPrimary(t *testing.T) {
	transfer := baseTransfer()
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{}}
	st := newFakeStore()
	c := New(st, reg, blockchainConfigs(), config.ModePrimary, &fakePrimaryClient{})

	done, err := c.SubmitToPrimaryNode(context.Background(), transfer.ID, transfer)
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, st.scheduledKinds, 1)
	assert.Equal(t, store.TaskSubmitTransferOnchain, st.scheduledKinds[0])
}

func TestCoordinator_SubmitOnchainInsufficientSignaturesRetries(t *testing.T) {
	transfer := baseTransfer()
	destination := &fakeAdapter{ownAddress: "0xprimary", minimumSignatures: 3, recoveredSigner: map[string]string{}}
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{chain.Polygon: destination}}
	st := newFakeStore()
	st.nonce = big.NewInt(7)
	c := New(st, reg, blockchainConfigs(), config.ModePrimary, &fakePrimaryClient{})

	done, err := c.SubmitOnchain(context.Background(), transfer.ID, transfer)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestCoordinator_SubmitOnchainSufficientSignaturesSubmits(t *testing.T) {
	transfer := baseTransfer()
	st := newFakeStore()
	st.nonce = big.NewInt(7)
	st.signatures["0xsecondary"] = "sig-0xsecondary"
	destination := &fakeAdapter{
		ownAddress:        "0xprimary",
		minimumSignatures: 2,
		recoveredSigner:   map[string]string{"sig-0xsecondary": "0xsecondary"},
		startTxID:         "0xtxhash",
	}
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{chain.Polygon: destination}}
	c := New(st, reg, blockchainConfigs(), config.ModePrimary, &fakePrimaryClient{})

	done, err := c.SubmitOnchain(context.Background(), transfer.ID, transfer)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "0xtxhash", st.submittedTxID)
	assert.Equal(t, chain.StatusDestinationTransactionSubmitted, st.submittedStatus)
	require.Len(t, st.scheduledKinds, 1)
	assert.Equal(t, store.TaskConfirmTransfer, st.scheduledKinds[0])
}

func TestCoordinator_SubmitOnchainRoleFlippedToSecondary(t *testing.T) {
	transfer := baseTransfer()
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{}}
	st := newFakeStore()
	c := New(st, reg, blockchainConfigs(), config.ModeSecondary, &fakePrimaryClient{})

	done, err := c.SubmitOnchain(context.Background(), transfer.ID, transfer)
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, st.scheduledKinds, 1)
	assert.Equal(t, store.TaskSubmitTransferToPrimaryNode, st.scheduledKinds[0])
}

func TestCoordinator_ConfirmTransferUnconfirmedRetries(t *testing.T) {
	transfer := baseTransfer()
	destination := &fakeAdapter{transactionStatus: chain.TransactionStatusUnconfirmed}
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{chain.Polygon: destination}}
	st := newFakeStore()
	c := New(st, reg, blockchainConfigs(), config.ModePrimary, &fakePrimaryClient{})

	done, err := c.ConfirmTransfer(context.Background(), transfer.ID, "0xtxhash", transfer)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestCoordinator_ConfirmTransferRevertedRestartsValidation(t *testing.T) {
	transfer := baseTransfer()
	destination := &fakeAdapter{transactionStatus: chain.TransactionStatusReverted}
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{chain.Polygon: destination}}
	st := newFakeStore()
	c := New(st, reg, blockchainConfigs(), config.ModePrimary, &fakePrimaryClient{})

	done, err := c.ConfirmTransfer(context.Background(), transfer.ID, "0xtxhash", transfer)
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, st.nonceReset)
	require.Len(t, st.scheduledKinds, 1)
	assert.Equal(t, store.TaskValidateTransfer, st.scheduledKinds[0])
}

func TestCoordinator_ConfirmTransferConfirmedPersists(t *testing.T) {
	transfer := baseTransfer()
	destination := &fakeAdapter{transactionStatus: chain.TransactionStatusConfirmed}
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{chain.Polygon: destination}}
	st := newFakeStore()
	c := New(st, reg, blockchainConfigs(), config.ModePrimary, &fakePrimaryClient{})

	done, err := c.ConfirmTransfer(context.Background(), transfer.ID, "0xtxhash", transfer)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "0xtxhash", st.confirmedTxID)
	assert.Equal(t, chain.StatusDestinationTransactionConfirmed, st.confirmedStatus)
}
