// Copyright 2025 Certen Protocol
//
// Gas-limit and signature-ordering helpers for transferTo submission.

package evm

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// gasLimitFor returns the gas limit for a transferTo call carrying the
// given number of validator node signatures: a fixed base cost plus a
// per-signature cost for the Forwarder's signature-verification loop.
func gasLimitFor(signerCount int) uint64 {
	return hubTransferToBaseGas + uint64(signerCount)*hubTransferToGasPerSigner
}

// sortSignaturesByAddress sorts addresses and their matching signatures
// in tandem, ascending by address value, matching the order the
// Forwarder contract expects when verifying signatures against its
// sorted validator node set.
func sortSignaturesByAddress(addresses []common.Address, signatures [][]byte) {
	indices := make([]int, len(addresses))
	for i := range indices {
		indices[i] = i
	}
	sort.Slice(indices, func(i, j int) bool {
		a := new(big.Int).SetBytes(addresses[indices[i]].Bytes())
		b := new(big.Int).SetBytes(addresses[indices[j]].Bytes())
		return a.Cmp(b) < 0
	})
	sortedAddresses := make([]common.Address, len(addresses))
	sortedSignatures := make([][]byte, len(signatures))
	for newIndex, oldIndex := range indices {
		sortedAddresses[newIndex] = addresses[oldIndex]
		sortedSignatures[newIndex] = signatures[oldIndex]
	}
	copy(addresses, sortedAddresses)
	copy(signatures, sortedSignatures)
}
