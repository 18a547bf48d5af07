// Copyright 2025 Certen Protocol

package store

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrValidatorNonceNotUnique is returned by CreateTransfer when the
	// chosen validator nonce collides with another transfer's nonce on
	// the same destination Forwarder contract. Callers should pick a
	// new nonce and retry.
	ErrValidatorNonceNotUnique = errors.New("store: validator nonce not unique")

	// ErrBlockNumberNotMonotonic is returned by
	// UpdateBlockchainLastBlockNumber when the new value would move the
	// blockchain's last-seen block backwards.
	ErrBlockNumberNotMonotonic = errors.New("store: block number must not move backwards")

	// ErrDuplicateSignature is returned by CreateValidatorNodeSignature
	// when a signature already exists for the (transfer, validator
	// node) pair with a different value.
	ErrDuplicateSignature = errors.New("store: duplicate signature")

	// ErrAccountNonceNotUnique is returned by UpdateTransferNonce when
	// the assigned destination-chain account nonce collides with
	// another transfer's nonce on the same destination blockchain.
	ErrAccountNonceNotUnique = errors.New("store: destination account nonce not unique")
)
