// Copyright 2025 Certen Protocol

package restapi

import (
	"context"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certen/independant-validator/pkg/chain"
	"github.com/certen/independant-validator/pkg/store"
)

type fakeStore struct {
	transferID  uuid.UUID
	found       bool
	data        *store.TransferToData
	signatures  map[string]string
	nonce       *big.Int
	nonceFound  bool
	created     map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{signatures: make(map[string]string), created: make(map[string]string)}
}

func (f *fakeStore) ReadTransferID(context.Context, chain.Blockchain, string) (uuid.UUID, bool, error) {
	return f.transferID, f.found, nil
}

func (f *fakeStore) ReadTransferToData(context.Context, uuid.UUID) (*store.TransferToData, error) {
	return f.data, nil
}

func (f *fakeStore) ReadValidatorNodeSignature(_ context.Context, _ uuid.UUID, validatorNodeAddress string) (string, bool, error) {
	sig, ok := f.signatures[validatorNodeAddress]
	return sig, ok, nil
}

func (f *fakeStore) CreateValidatorNodeSignature(_ context.Context, _ uuid.UUID, validatorNodeAddress, signature string) error {
	f.created[validatorNodeAddress] = signature
	return nil
}

func (f *fakeStore) ReadValidatorNonceBySourceTransactionID(context.Context, chain.Blockchain, string) (*big.Int, bool, error) {
	return f.nonce, f.nonceFound, nil
}

type fakeAdapter struct {
	ownAddress      string
	validatorNodes  []string
	recoveredSigner map[string]string
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
	return 1, nil
}
func (a *fakeAdapter) ReadOutgoingTransfersFromBlock(context.Context, uint64) ([]chain.OutgoingTransfer, uint64, error) {
	return nil, 0, nil
}
func (a *fakeAdapter) ReadOutgoingTransfersInTransaction(context.Context, string) ([]chain.OutgoingTransfer, error) {
	return nil, nil
}
func (a *fakeAdapter) ReadTokenDecimals(context.Context, string) (uint8, error) { return 18, nil }
func (a *fakeAdapter) ReadTransactionStatus(context.Context, string) (chain.TransactionStatus, error) {
	return chain.TransactionStatusConfirmed, nil
}
func (a *fakeAdapter) ReadValidatorNodeAddresses(context.Context) ([]string, error) {
	return a.validatorNodes, nil
}
func (a *fakeAdapter) RecoverTransferToSignerAddress(_ context.Context, _ chain.TransferToMessage, signature string) (string, error) {
	signer, ok := a.recoveredSigner[signature]
	if !ok {
		return "", errUnrecoverable
	}
	return signer, nil
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

type assertError string

func (e assertError) Error() string { return string(e) }

var errUnrecoverable = assertError("unrecoverable signature")

type fakeRegistry struct {
	adapters map[chain.Blockchain]chain.ChainAdapter
}

func (r *fakeRegistry) Get(blockchain chain.Blockchain) (chain.ChainAdapter, bool) {
	a, ok := r.adapters[blockchain]
	return a, ok
}

func baseTransferToData() *store.TransferToData {
	return &store.TransferToData{
		Transfer: chain.Transfer{
			SourceTransactionID:   "0xaaa",
			SourceTransferID:      big.NewInt(1),
			SenderAddress:         "0xsender",
			RecipientAddress:      "0xrecipient",
			SourceTokenAddress:    "0xtoken",
			DestinationTokenAddress: "0xtoken2",
			DestinationBlockchain: chain.Polygon,
			Amount:                big.NewInt(1000),
		},
	}
}

func TestSignatureService_AddSecondaryNodeSignatureSuccess(t *testing.T) {
	transferID := uuid.New()
	st := newFakeStore()
	st.found = true
	st.transferID = transferID
	st.data = baseTransferToData()
	destination := &fakeAdapter{ownAddress: "0xprimary", validatorNodes: []string{"0xsecondary"}, recoveredSigner: map[string]string{"sig-a": "0xsecondary"}}
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{chain.Polygon: destination}}
	svc := NewSignatureService(st, reg)

	err := svc.AddSecondaryNodeSignature(context.Background(), chain.Ethereum, "0xaaa", "sig-a")
	require.NoError(t, err)
	assert.Equal(t, "sig-a", st.created["0xsecondary"])
}

func TestSignatureService_AddSecondaryNodeSignatureUnknownTransfer(t *testing.T) {
	st := newFakeStore()
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{}}
	svc := NewSignatureService(st, reg)

	err := svc.AddSecondaryNodeSignature(context.Background(), chain.Ethereum, "0xaaa", "sig-a")
	assert.ErrorIs(t, err, ErrUnknownTransfer)
}

func TestSignatureService_AddSecondaryNodeSignatureInvalidSignature(t *testing.T) {
	transferID := uuid.New()
	st := newFakeStore()
	st.found = true
	st.transferID = transferID
	st.data = baseTransferToData()
	destination := &fakeAdapter{ownAddress: "0xprimary", validatorNodes: []string{"0xsecondary"}, recoveredSigner: map[string]string{}}
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{chain.Polygon: destination}}
	svc := NewSignatureService(st, reg)

	err := svc.AddSecondaryNodeSignature(context.Background(), chain.Ethereum, "0xaaa", "bad-sig")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSignatureService_AddSecondaryNodeSignatureDuplicate(t *testing.T) {
	transferID := uuid.New()
	st := newFakeStore()
	st.found = true
	st.transferID = transferID
	st.data = baseTransferToData()
	st.signatures["0xsecondary"] = "sig-a"
	destination := &fakeAdapter{ownAddress: "0xprimary", validatorNodes: []string{"0xsecondary"}, recoveredSigner: map[string]string{"sig-a": "0xsecondary"}}
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{chain.Polygon: destination}}
	svc := NewSignatureService(st, reg)

	err := svc.AddSecondaryNodeSignature(context.Background(), chain.Ethereum, "0xaaa", "sig-a")
	assert.ErrorIs(t, err, ErrDuplicateSignature)
}

func TestSignatureService_AddSecondaryNodeSignatureInvalidSigner(t *testing.T) {
	transferID := uuid.New()
	st := newFakeStore()
	st.found = true
	st.transferID = transferID
	st.data = baseTransferToData()
	destination := &fakeAdapter{ownAddress: "0xprimary", validatorNodes: []string{"0xsomeoneelse"}, recoveredSigner: map[string]string{"sig-a": "0xintruder"}}
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{chain.Polygon: destination}}
	svc := NewSignatureService(st, reg)

	err := svc.AddSecondaryNodeSignature(context.Background(), chain.Ethereum, "0xaaa", "sig-a")
	assert.ErrorIs(t, err, ErrInvalidSigner)
}

func TestSignatureService_GetValidatorNonceSuccess(t *testing.T) {
	st := newFakeStore()
	st.nonce = big.NewInt(9)
	st.nonceFound = true
	svc := NewSignatureService(st, &fakeRegistry{})

	nonce, err := svc.GetValidatorNonce(context.Background(), chain.Ethereum, "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(9), nonce)
}

func TestSignatureService_GetValidatorNonceUnknownTransfer(t *testing.T) {
	st := newFakeStore()
	svc := NewSignatureService(st, &fakeRegistry{})

	_, err := svc.GetValidatorNonce(context.Background(), chain.Ethereum, "0xaaa")
	assert.ErrorIs(t, err, ErrUnknownTransfer)
}
