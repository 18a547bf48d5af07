// Copyright 2025 Certen Protocol
//
// Package chainfactory builds a ChainAdapter registry from the loaded
// configuration, one adapter per active blockchain.

package chainfactory

import (
	"fmt"

	"github.com/certen/independant-validator/pkg/chain"
	"github.com/certen/independant-validator/pkg/chain/evm"
	"github.com/certen/independant-validator/pkg/chain/solana"
	"github.com/certen/independant-validator/pkg/config"
)

// evmChains lists the blockchain names this validator node treats as
// EVM-compatible, sharing a single adapter implementation.
var evmChains = map[chain.Blockchain]bool{
	chain.Ethereum:  true,
	chain.BNBChain:  true,
	chain.Avalanche: true,
	chain.Polygon:   true,
	chain.Celo:      true,
	chain.Fantom:    true,
	chain.Cronos:    true,
	chain.Base:      true,
}

// Registry holds one ChainAdapter per active, configured blockchain.
type Registry struct {
	adapters map[chain.Blockchain]chain.ChainAdapter
}

// Build constructs a Registry from the configuration's active
// blockchains.
func Build(cfg *config.Config) (*Registry, error) {
	registry := &Registry{adapters: make(map[chain.Blockchain]chain.ChainAdapter)}
	for name, blockchainCfg := range cfg.ActiveBlockchains() {
		blockchain := chain.Blockchain(name)
		adapter, err := newAdapter(blockchain, blockchainCfg)
		if err != nil {
			return nil, fmt.Errorf("chainfactory: build adapter for %s: %w", name, err)
		}
		registry.adapters[blockchain] = adapter
	}
	return registry, nil
}

func newAdapter(blockchain chain.Blockchain, cfg *config.BlockchainConfig) (chain.ChainAdapter, error) {
	if blockchain == chain.Solana {
		return solana.NewAdapter(), nil
	}
	if evmChains[blockchain] {
		return evm.NewAdapter(blockchain, cfg)
	}
	return nil, fmt.Errorf("unsupported blockchain %q", blockchain)
}

// Get returns the adapter for a blockchain, or false if it is not
// active in this node's configuration.
func (r *Registry) Get(blockchain chain.Blockchain) (chain.ChainAdapter, bool) {
	adapter, ok := r.adapters[blockchain]
	return adapter, ok
}

// Active returns every configured adapter.
func (r *Registry) Active() map[chain.Blockchain]chain.ChainAdapter {
	return r.adapters
}
