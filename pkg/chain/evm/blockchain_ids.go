// Copyright 2025 Certen Protocol
//
// Numeric blockchain identifiers as registered in the Hub/Forwarder
// contracts' own blockchain registry. These must stay in sync with the
// on-chain registration order; they are not derived from chain ID.

package evm

import "github.com/certen/independant-validator/pkg/chain"

var blockchainIDs = map[chain.Blockchain]uint64{
	chain.Ethereum:  0,
	chain.BNBChain:  1,
	chain.Avalanche: 2,
	chain.Polygon:   3,
	chain.Celo:      6,
	chain.Fantom:    7,
	chain.Cronos:    8,
	chain.Base:      9,
	chain.Solana:    10,
}

var blockchainsByID = func() map[uint64]chain.Blockchain {
	byID := make(map[uint64]chain.Blockchain, len(blockchainIDs))
	for name, id := range blockchainIDs {
		byID[id] = name
	}
	return byID
}()

func blockchainNumericID(b chain.Blockchain) uint64 {
	return blockchainIDs[b]
}

func blockchainFromNumericID(id uint64) chain.Blockchain {
	return blockchainsByID[id]
}
