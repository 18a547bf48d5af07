// Copyright 2025 Certen Protocol
//
// Solana adapter stub. Solana's transfer semantics (no EIP-712, Ed25519
// signatures, program-derived addresses instead of Hub/Forwarder
// contracts) are a separate Non-goal of this validator node release, but
// a stub is wired in so that Solana can at least be listed as a
// destination chain for outgoing transfers detected on an EVM chain
// (address validation only; this adapter never acts as its own source
// or signs its own transferTo messages).

package solana

import (
	"context"
	"fmt"
	"math/big"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/certen/independant-validator/pkg/chain"
)

// ErrUnsupported is returned by every Solana adapter operation beyond
// address/transaction-ID validation.
var ErrUnsupported = fmt.Errorf("solana: not supported by this validator node release")

// Adapter implements chain.ChainAdapter for Solana with validation-only
// support.
type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Blockchain() chain.Blockchain { return chain.Solana }
func (a *Adapter) GetOwnAddress() string        { return "" }

func (a *Adapter) IsValidRecipientAddress(address string) bool {
	_, err := solanago.PublicKeyFromBase58(address)
	return err == nil
}

func (a *Adapter) IsValidTransactionID(transactionID string) bool {
	decoded, err := solanago.SignatureFromBase58(transactionID)
	return err == nil && len(decoded) == 64
}

func (a *Adapter) IsValidValidatorNonce(ctx context.Context, nonce *big.Int) (bool, error) {
	return false, ErrUnsupported
}

func (a *Adapter) ReadPendingAccountNonce(ctx context.Context) (uint64, error) {
	return 0, ErrUnsupported
}

func (a *Adapter) IsEqualAddress(x, y string) bool {
	px, errX := solanago.PublicKeyFromBase58(x)
	py, errY := solanago.PublicKeyFromBase58(y)
	return errX == nil && errY == nil && px.Equals(py)
}

func (a *Adapter) IsTokenActive(ctx context.Context, tokenAddress string) (bool, error) {
	return false, ErrUnsupported
}

func (a *Adapter) ReadExternalTokenAddress(ctx context.Context, tokenAddress string, destinationBlockchain chain.Blockchain) (string, bool, error) {
	return "", false, ErrUnsupported
}

func (a *Adapter) ReadMinimumValidatorNodeSignatures(ctx context.Context) (int, error) {
	return 0, ErrUnsupported
}

func (a *Adapter) ReadOutgoingTransfersFromBlock(ctx context.Context, fromBlock uint64) ([]chain.OutgoingTransfer, uint64, error) {
	return nil, fromBlock, ErrUnsupported
}

func (a *Adapter) ReadOutgoingTransfersInTransaction(ctx context.Context, transactionID string) ([]chain.OutgoingTransfer, error) {
	return nil, ErrUnsupported
}

func (a *Adapter) ReadTokenDecimals(ctx context.Context, tokenAddress string) (uint8, error) {
	return 0, ErrUnsupported
}

func (a *Adapter) ReadTransactionStatus(ctx context.Context, transactionID string) (chain.TransactionStatus, error) {
	return 0, ErrUnsupported
}

func (a *Adapter) ReadValidatorNodeAddresses(ctx context.Context) ([]string, error) {
	return nil, ErrUnsupported
}

func (a *Adapter) RecoverTransferToSignerAddress(ctx context.Context, message chain.TransferToMessage, signature string) (string, error) {
	return "", ErrUnsupported
}

func (a *Adapter) SignTransferToMessage(ctx context.Context, message chain.TransferToMessage) (string, error) {
	return "", ErrUnsupported
}

func (a *Adapter) StartTransferToSubmission(ctx context.Context, request chain.TransferToSubmissionRequest) (string, error) {
	return "", ErrUnsupported
}

func (a *Adapter) ReadTransferToSubmissionStatus(ctx context.Context, internalTransactionID string) (chain.TransferToSubmissionStatus, error) {
	return chain.TransferToSubmissionStatus{}, ErrUnsupported
}

func (a *Adapter) ProtocolVersion(ctx context.Context) (string, error) {
	return "", ErrUnsupported
}

var _ chain.ChainAdapter = (*Adapter)(nil)
