// Copyright 2025 Certen Protocol
//
// Package restapi is the primary validator node's HTTP surface: it
// accepts secondary nodes' transferTo signatures and answers their
// validator-nonce lookups, plus a pair of liveness endpoints polled by
// the other validator nodes.
package restapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/certen/independant-validator/pkg/chain"
)

// Handlers wires SignatureService into net/http routes. Mount with
// RegisterRoutes on a *http.ServeMux.
type Handlers struct {
	signatures *SignatureService
	logger     *log.Logger
	nodeCheck  func(ctx context.Context) error
}

func NewHandlers(signatures *SignatureService, logger *log.Logger, nodeCheck func(ctx context.Context) error) *Handlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[restapi] ", log.LstdFlags)
	}
	return &Handlers{signatures: signatures, logger: logger, nodeCheck: nodeCheck}
}

// RegisterRoutes mounts every endpoint this node's primary REST API
// exposes onto mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health/live", h.handleHealthLive)
	mux.HandleFunc("/health/nodes", h.handleHealthNodes)
	mux.HandleFunc("/transfersignature", h.handleTransferSignature)
	mux.HandleFunc("/validatornonce", h.handleValidatorNonce)
}

func (h *Handlers) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleHealthNodes(w http.ResponseWriter, r *http.Request) {
	if h.nodeCheck == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.nodeCheck(r.Context()); err != nil {
		h.logger.Printf("node health check failed: %v", err)
		writeMessage(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transferSignatureRequest struct {
	SourceBlockchainID  chain.Blockchain `json:"source_blockchain_id"`
	SourceTransactionID string           `json:"source_transaction_id"`
	Signature           string           `json:"signature"`
}

// handleTransferSignature implements POST /transfersignature: a
// secondary node submits its transferTo signature for a transfer this
// node is primary for.
func (h *Handlers) handleTransferSignature(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req transferSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceBlockchainID == "" || req.SourceTransactionID == "" || req.Signature == "" {
		writeMessage(w, http.StatusBadRequest, "source_blockchain_id, source_transaction_id and signature are required")
		return
	}

	err := h.signatures.AddSecondaryNodeSignature(r.Context(), req.SourceBlockchainID, req.SourceTransactionID, req.Signature)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case err == ErrUnknownTransfer:
		writeMessage(w, http.StatusNotFound, "Unknown transfer.")
	case err == ErrInvalidSignature:
		writeMessage(w, http.StatusBadRequest, "Invalid signature.")
	case err == ErrDuplicateSignature:
		writeMessage(w, http.StatusConflict, "Duplicate signature.")
	case err == ErrInvalidSigner:
		writeMessage(w, http.StatusForbidden, "Invalid signer.")
	default:
		h.logger.Printf("add secondary node signature: %v", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

// handleValidatorNonce implements GET /validatornonce: any validator
// node looks up the nonce this node assigned to a transfer.
func (h *Handlers) handleValidatorNonce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sourceBlockchain := chain.Blockchain(r.URL.Query().Get("source_blockchain_id"))
	sourceTransactionID := r.URL.Query().Get("source_transaction_id")
	if sourceBlockchain == "" || sourceTransactionID == "" {
		writeMessage(w, http.StatusBadRequest, "source_blockchain_id and source_transaction_id are required")
		return
	}

	nonce, err := h.signatures.GetValidatorNonce(r.Context(), sourceBlockchain, sourceTransactionID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"validator_nonce": nonce.Int64()})
	case err == ErrUnknownTransfer:
		writeMessage(w, http.StatusNotFound, "Unknown transfer.")
	default:
		h.logger.Printf("get validator nonce: %v", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
