// Copyright 2025 Certen Protocol
//
// Package primaryclient is the secondary validator node's REST client
// for the primary node's transfer-signature and validator-nonce
// endpoints.
package primaryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/certen/independant-validator/pkg/chain"
)

const defaultTimeout = 60 * time.Second

// Error classifies a failed call to the primary node's REST API.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("primaryclient: %s: %s (status %d)", e.Op, e.Message, e.Status)
	}
	return fmt.Sprintf("primaryclient: %s: status %d", e.Op, e.Status)
}

// Sentinel error kinds a caller branches on, mirroring the primary
// node's REST status-code contract.
var (
	ErrUnknownTransfer  = fmt.Errorf("primaryclient: unknown transfer")
	ErrInvalidSignature = fmt.Errorf("primaryclient: invalid signature")
	ErrDuplicateSignature = fmt.Errorf("primaryclient: duplicate signature")
	ErrInvalidSigner    = fmt.Errorf("primaryclient: invalid signer")
)

// Client invokes the primary validator node's REST API from a secondary
// node.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(primaryNodeURL string, opts ...func(*Client)) *Client {
	url := primaryNodeURL
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	c := &Client{baseURL: url, http: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithHTTPClient(httpClient *http.Client) func(*Client) {
	return func(c *Client) { c.http = httpClient }
}

type jsonMessage struct {
	Message        string `json:"message"`
	ValidatorNonce *int64 `json:"validator_nonce"`
}

// GetValidatorNonce fetches the validator nonce the primary node
// assigned to a transfer, identified by its source blockchain and
// transaction id. It is queried on every submit_transfer_to_primary_node
// attempt, since the primary node may have changed since the last one.
func (c *Client) GetValidatorNonce(ctx context.Context, sourceBlockchain chain.Blockchain, sourceTransactionID string) (int64, error) {
	url := fmt.Sprintf("%svalidatornonce?source_blockchain_id=%s&source_transaction_id=%s",
		c.baseURL, sourceBlockchain, sourceTransactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &Error{Op: "get validator nonce", Message: err.Error()}
	}
	defer resp.Body.Close()

	var body jsonMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, &Error{Op: "get validator nonce", Status: resp.StatusCode, Message: "JSON decode error"}
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return 0, ErrUnknownTransfer
		}
		return 0, &Error{Op: "get validator nonce", Status: resp.StatusCode, Message: body.Message}
	}
	if body.ValidatorNonce == nil {
		return 0, &Error{Op: "get validator nonce", Status: resp.StatusCode, Message: "missing validator_nonce"}
	}
	return *body.ValidatorNonce, nil
}

// PostTransferSignature submits a secondary node's transferTo signature
// to the primary node.
func (c *Client) PostTransferSignature(ctx context.Context, sourceBlockchain chain.Blockchain, sourceTransactionID, signature string) error {
	url := c.baseURL + "transfersignature"
	payload, err := json.Marshal(map[string]any{
		"source_blockchain_id": sourceBlockchain,
		"source_transaction_id": sourceTransactionID,
		"signature":            signature,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: "post transfer signature", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var body jsonMessage
	_ = json.NewDecoder(resp.Body).Decode(&body)
	switch resp.StatusCode {
	case http.StatusBadRequest:
		if strings.Contains(body.Message, "Invalid signature.") {
			return ErrInvalidSignature
		}
	case http.StatusConflict:
		return ErrDuplicateSignature
	case http.StatusForbidden:
		return ErrInvalidSigner
	case http.StatusNotFound:
		return ErrUnknownTransfer
	}
	return &Error{Op: "post transfer signature", Status: resp.StatusCode, Message: body.Message}
}
