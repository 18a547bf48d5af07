// Copyright 2025 Certen Protocol

package chain

import "errors"

var (
	// ErrResultsNotMatching reports that RPC providers disagreed on the
	// same read. Transient. The EVM adapter queries a single provider and
	// never returns it.
	ErrResultsNotMatching = errors.New("chain: rpc results not matching across providers")

	// ErrNonceTooLow is returned when submitting a transaction whose
	// nonce has already been consumed on-chain. Transient: the caller
	// should reset and reassign a nonce.
	ErrNonceTooLow = errors.New("chain: transaction nonce too low")

	// ErrUnderpriced is returned when a resubmission's fee was not a
	// sufficient bump over the pending transaction. Transient.
	ErrUnderpriced = errors.New("chain: transaction underpriced")

	// ErrNonMatchingForwarder is returned when the destination chain's
	// Hub rejects a submission because it was not sent by the
	// configured Forwarder contract. Permanent.
	ErrNonMatchingForwarder = errors.New("chain: non-matching forwarder contract")

	// ErrSourceTransferIDAlreadyUsed is returned when the destination
	// Hub reports the source transfer ID as already settled. Permanent.
	ErrSourceTransferIDAlreadyUsed = errors.New("chain: source transfer id already used")

	// ErrUnresolvableSubmission is returned when an internal transaction
	// id is not one the adapter is tracking, so the submission's status
	// cannot be determined.
	ErrUnresolvableSubmission = errors.New("chain: unresolvable transaction submission")

	// ErrUnknownTransfer is returned by a ChainAdapter or upstream
	// caller when no record exists for the referenced source
	// transaction.
	ErrUnknownTransfer = errors.New("chain: unknown transfer")
)
