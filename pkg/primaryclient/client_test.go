// Copyright 2025 Certen Protocol

package primaryclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certen/independant-validator/pkg/chain"
)

func TestClient_GetValidatorNonceSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		nonce := int64(42)
		_ = json.NewEncoder(w).Encode(jsonMessage{ValidatorNonce: &nonce})
	}))
	defer srv.Close()

	c := New(srv.URL)
	nonce, err := c.GetValidatorNonce(context.Background(), chain.Ethereum, "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, int64(42), nonce)
}

func TestClient_GetValidatorNonceUnknownTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(jsonMessage{Message: "Unknown transfer."})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetValidatorNonce(context.Background(), chain.Ethereum, "0xaaa")
	assert.ErrorIs(t, err, ErrUnknownTransfer)
}

func TestClient_PostTransferSignatureNoContentIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.PostTransferSignature(context.Background(), chain.Ethereum, "0xaaa", "0xsig")
	assert.NoError(t, err)
}

func TestClient_PostTransferSignatureDuplicate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(jsonMessage{Message: "Duplicate signature."})
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.PostTransferSignature(context.Background(), chain.Ethereum, "0xaaa", "0xsig")
	assert.ErrorIs(t, err, ErrDuplicateSignature)
}

func TestClient_PostTransferSignatureInvalidSigner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(jsonMessage{Message: "Invalid signer."})
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.PostTransferSignature(context.Background(), chain.Ethereum, "0xaaa", "0xsig")
	assert.ErrorIs(t, err, ErrInvalidSigner)
}
