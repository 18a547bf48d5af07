// Copyright 2025 Certen Protocol
//
// Package protocolversion checks this node's configured protocol
// version against the version each active blockchain's adapter reports
// before it starts detecting or validating transfers. The EVM adapter
// reads the Hub contract's version; the Forwarder is not queried.
package protocolversion

import (
	"context"
	"fmt"

	version "github.com/hashicorp/go-version"

	"github.com/certen/independant-validator/pkg/chain"
)

// Supported lists the protocol versions this binary understands. A
// configured version outside this list is rejected at startup.
var Supported = []string{"0.2.0"}

// AdapterSource resolves the ChainAdapter for a blockchain.
type AdapterSource interface {
	Get(blockchain chain.Blockchain) (chain.ChainAdapter, bool)
}

// Check verifies that configured is one of the versions this binary
// supports, and that every active blockchain's deployed contracts report
// that same version. A mismatch means either this binary or the
// contracts on that chain are running an incompatible protocol release.
func Check(ctx context.Context, configured string, active []chain.Blockchain, adapters AdapterSource) error {
	configuredVersion, err := version.NewVersion(configured)
	if err != nil {
		return fmt.Errorf("protocolversion: invalid configured version %q: %w", configured, err)
	}

	if !isSupported(configuredVersion) {
		return fmt.Errorf("protocolversion: configured version %s is not one of the supported versions %v", configured, Supported)
	}

	for _, blockchain := range active {
		adapter, ok := adapters.Get(blockchain)
		if !ok {
			continue
		}
		deployed, err := adapter.ProtocolVersion(ctx)
		if err != nil {
			return fmt.Errorf("protocolversion: read deployed version on %s: %w", blockchain, err)
		}
		deployedVersion, err := version.NewVersion(deployed)
		if err != nil {
			return fmt.Errorf("protocolversion: invalid deployed version %q on %s: %w", deployed, blockchain, err)
		}
		if !configuredVersion.Equal(deployedVersion) {
			return fmt.Errorf("protocolversion: %s contracts report version %s, this node is configured for %s", blockchain, deployed, configured)
		}
	}
	return nil
}

func isSupported(v *version.Version) bool {
	for _, supported := range Supported {
		supportedVersion, err := version.NewVersion(supported)
		if err != nil {
			continue
		}
		if v.Equal(supportedVersion) {
			return true
		}
	}
	return false
}
