// Copyright 2025 Certen Protocol

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Protocol: "0.2.0",
		Application: ApplicationConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: ModePrimary,
		},
		Database: DatabaseConfig{URL: "postgres://localhost/validatornode"},
		Blockchains: map[string]*BlockchainConfig{
			"ethereum": {
				Active:                true,
				PrivateKey:            "0xprivatekey",
				Providers:             []string{"https://example.org"},
				Hub:                   "0xhub",
				Forwarder:             "0xforwarder",
				MinAdaptableFeePerGas: "1000000000",
			},
		},
	}
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsMissingProtocol(t *testing.T) {
	cfg := validConfig()
	cfg.Protocol = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsSecondaryModeWithoutPrimaryURL(t *testing.T) {
	cfg := validConfig()
	cfg.Application.Mode = ModeSecondary
	cfg.Application.PrimaryURL = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsMismatchedTLSFields(t *testing.T) {
	cfg := validConfig()
	cfg.Application.SSLCertificate = "cert.pem"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsActiveChainWithoutPrivateKey(t *testing.T) {
	cfg := validConfig()
	cfg.Blockchains["ethereum"].PrivateKey = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNoActiveBlockchains(t *testing.T) {
	cfg := validConfig()
	cfg.Blockchains["ethereum"].Active = false
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsLowAdaptableFeeIncreaseFactor(t *testing.T) {
	cfg := validConfig()
	cfg.Blockchains["ethereum"].AdaptableFeeIncreaseFactor = 1.0
	assert.Error(t, cfg.Validate())
}

func TestActiveBlockchains_FiltersInactiveEntries(t *testing.T) {
	cfg := validConfig()
	cfg.Blockchains["polygon"] = &BlockchainConfig{Active: false}

	active := cfg.ActiveBlockchains()
	require.Len(t, active, 1)
	_, ok := active["ethereum"]
	assert.True(t, ok)
}

func TestApplyBlockchainEnvOverrides_SetsPrivateKeyFromEnv(t *testing.T) {
	t.Setenv("ETHEREUM_PRIVATE_KEY", "0xfromenv")

	chain := &BlockchainConfig{Name: "ethereum"}
	applyBlockchainEnvOverrides(chain)

	assert.Equal(t, "0xfromenv", chain.PrivateKey)
}

func TestListenAddr_CombinesHostAndPort(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
}
