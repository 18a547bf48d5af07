// Copyright 2025 Certen Protocol

package protocolversion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/certen/independant-validator/pkg/chain"
)

type fakeAdapter struct {
	chain.ChainAdapter
	version    string
	versionErr error
}

func (a *fakeAdapter) ProtocolVersion(context.Context) (string, error) {
	return a.version, a.versionErr
}

type fakeRegistry struct {
	adapters map[chain.Blockchain]chain.ChainAdapter
}

func (r *fakeRegistry) Get(blockchain chain.Blockchain) (chain.ChainAdapter, bool) {
	a, ok := r.adapters[blockchain]
	return a, ok
}

func TestCheck_MatchingVersionsPass(t *testing.T) {
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{
		chain.Ethereum: &fakeAdapter{version: "0.2.0"},
		chain.Polygon:  &fakeAdapter{version: "0.2.0"},
	}}

	err := Check(context.Background(), "0.2.0", []chain.Blockchain{chain.Ethereum, chain.Polygon}, reg)
	assert.NoError(t, err)
}

func TestCheck_UnsupportedConfiguredVersionFails(t *testing.T) {
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{}}

	err := Check(context.Background(), "9.9.9", nil, reg)
	assert.Error(t, err)
}

func TestCheck_MismatchedDeployedVersionFails(t *testing.T) {
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{
		chain.Ethereum: &fakeAdapter{version: "0.1.0"},
	}}

	err := Check(context.Background(), "0.2.0", []chain.Blockchain{chain.Ethereum}, reg)
	assert.Error(t, err)
}

func TestCheck_InvalidConfiguredVersionFails(t *testing.T) {
	reg := &fakeRegistry{adapters: map[chain.Blockchain]chain.ChainAdapter{}}

	err := Check(context.Background(), "not-a-version", nil, reg)
	assert.Error(t, err)
}
