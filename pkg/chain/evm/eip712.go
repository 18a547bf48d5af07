// Copyright 2025 Certen Protocol
//
// EIP-712 typed-data construction, signing, and recovery for the
// transferTo message validator nodes exchange signatures over.
//
// The domain name and primary-type field ordering below are
// wire-critical: every validator node (primary and secondary, on every
// chain) must derive byte-identical typed data for the same transfer,
// or signature recovery on the destination chain's Forwarder will fail.

package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/certen/independant-validator/pkg/chain"
)

const eip712DomainName = "Pantos"
const eip712DomainVersion = "1.0"

// transferToTypes is the nested EIP-712 type tree: TransferTo wraps a
// TransferToRequest plus the destination deployment's own Hub,
// Forwarder, and PanToken addresses, so a signature collected for one
// destination Hub/Forwarder/PanToken triple can never verify against
// another.
var transferToTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferToRequest": {
		{Name: "sourceBlockchainId", Type: "uint256"},
		{Name: "sourceTransferId", Type: "uint256"},
		{Name: "sourceTransactionId", Type: "string"},
		{Name: "sender", Type: "string"},
		{Name: "recipient", Type: "address"},
		{Name: "sourceToken", Type: "string"},
		{Name: "destinationToken", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	},
	"TransferTo": {
		{Name: "request", Type: "TransferToRequest"},
		{Name: "destinationBlockchainId", Type: "uint256"},
		{Name: "pantosHub", Type: "address"},
		{Name: "pantosForwarder", Type: "address"},
		{Name: "pantosToken", Type: "address"},
	},
}

func buildTypedData(chainID *big.Int, verifyingContract string, msg chain.TransferToMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       transferToTypes,
		PrimaryType: "TransferTo",
		Domain: apitypes.TypedDataDomain{
			Name:              eip712DomainName,
			Version:           eip712DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: verifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"request": map[string]interface{}{
				"sourceBlockchainId":  fmt.Sprintf("%d", msg.SourceBlockchainID),
				"sourceTransferId":    msg.SourceTransferID.String(),
				"sourceTransactionId": msg.SourceTransactionID,
				"sender":              msg.Sender,
				"recipient":           msg.Recipient,
				"sourceToken":         msg.SourceToken,
				"destinationToken":    msg.DestinationToken,
				"amount":              msg.Amount.String(),
				"nonce":               msg.ValidatorNonce.String(),
			},
			"destinationBlockchainId": fmt.Sprintf("%d", msg.DestinationBlockchainID),
			"pantosHub":               msg.DestinationHubAddress,
			"pantosForwarder":         msg.DestinationForwarderAddress,
			"pantosToken":             msg.DestinationPanTokenAddress,
		},
	}
}

func typedDataHash(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain separator: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	return crypto.Keccak256(rawData), nil
}

func signTypedData(privateKeyHex string, chainID *big.Int, verifyingContract string, msg chain.TransferToMessage) (string, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	typedData := buildTypedData(chainID, verifyingContract, msg)
	hash, err := typedDataHash(typedData)
	if err != nil {
		return "", err
	}
	signature, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return "", fmt.Errorf("sign typed data: %w", err)
	}
	// EIP-2: v must be 27 or 28 for on-chain ecrecover compatibility.
	signature[64] += 27
	return hexutil.Encode(signature), nil
}

func recoverTypedDataSigner(chainID *big.Int, verifyingContract string, msg chain.TransferToMessage, signatureHex string) (string, error) {
	signature, err := hexutil.Decode(signatureHex)
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(signature) != 65 {
		return "", fmt.Errorf("invalid signature length %d", len(signature))
	}
	typedData := buildTypedData(chainID, verifyingContract, msg)
	hash, err := typedDataHash(typedData)
	if err != nil {
		return "", err
	}
	normalized := make([]byte, 65)
	copy(normalized, signature)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pubKey, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}

// textHash returns the personal_sign-style hash of data. Nothing in this
// package calls it; signing and recovery use the EIP-712 hash only.
func textHash(data []byte) common.Hash {
	return accounts.TextHash(data)
}
