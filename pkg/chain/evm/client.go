// Copyright 2025 Certen Protocol
//
// EVM chain adapter: reads Hub transfer events, verifies and signs
// transferTo messages, and submits the on-chain transferTo transaction
// with adaptive fee bumping across resubmission attempts.

package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/chain"
	"github.com/certen/independant-validator/pkg/config"
)

// resubmissionPollInterval is how often a pending submission's
// inclusion status is checked to decide whether blocksUntilResubmission
// has elapsed.
const resubmissionPollInterval = 6 * time.Second

var transactionIDPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

// Adapter implements chain.ChainAdapter for Ethereum and every
// EVM-compatible chain configured in validator-node-config.yml: the contract
// ABI, gas-fee rules, and event topics are identical across them, only
// the RPC endpoints and addresses differ.
type Adapter struct {
	name   chain.Blockchain
	cfg    *config.BlockchainConfig
	client *ethclient.Client
	logger *log.Logger

	chainID           *big.Int
	hubAddress        common.Address
	forwarderAddress  common.Address
	panTokenAddress   common.Address

	privateKeyHex string
	ownAddress    common.Address

	cache validatorSetCache

	submissionsMu sync.Mutex
	submissions   map[string]*pendingSubmission
}

// pendingSubmission tracks one in-flight transferTo submission across
// its resubmission attempts, keyed by an opaque internal transaction id
// that outlives any single attempt's transaction hash.
type pendingSubmission struct {
	mu sync.Mutex

	to       common.Address
	callData []byte
	gasLimit uint64
	nonce    uint64

	tipCap     *big.Int
	baseFeeCap *big.Int
	maxTotal   *big.Int

	attempt        int
	txHash         common.Hash
	submittedBlock uint64
}

// NewAdapter dials the first configured provider and returns a ready
// ChainAdapter for one blockchain. FallbackProviders are not dialed.
func NewAdapter(name chain.Blockchain, cfg *config.BlockchainConfig) (*Adapter, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("evm(%s): no providers configured", name)
	}
	client, err := ethclient.Dial(cfg.Providers[0])
	if err != nil {
		return nil, fmt.Errorf("evm(%s): dial provider: %w", name, err)
	}

	adapter := &Adapter{
		name:             name,
		cfg:              cfg,
		client:           client,
		logger:           log.New(log.Writer(), fmt.Sprintf("[EVM:%s] ", name), log.LstdFlags),
		chainID:          big.NewInt(cfg.ChainID),
		hubAddress:       common.HexToAddress(cfg.Hub),
		forwarderAddress: common.HexToAddress(cfg.Forwarder),
		panTokenAddress:  common.HexToAddress(cfg.PanToken),
		privateKeyHex:    strings.TrimPrefix(cfg.PrivateKey, "0x"),
		submissions:      make(map[string]*pendingSubmission),
	}

	if adapter.privateKeyHex != "" {
		privateKey, err := crypto.HexToECDSA(adapter.privateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("evm(%s): invalid private key: %w", name, err)
		}
		adapter.ownAddress = crypto.PubkeyToAddress(privateKey.PublicKey)
	}

	return adapter, nil
}

func (a *Adapter) Blockchain() chain.Blockchain {
	return a.name
}

func (a *Adapter) GetOwnAddress() string {
	return a.ownAddress.Hex()
}

func (a *Adapter) IsValidRecipientAddress(address string) bool {
	return common.IsHexAddress(address)
}

func (a *Adapter) IsValidTransactionID(transactionID string) bool {
	return transactionIDPattern.MatchString(transactionID)
}

// IsValidValidatorNonce asks the Hub contract whether nonce has not
// already been used in a settled transferTo submission on this chain's
// Forwarder.
func (a *Adapter) IsValidValidatorNonce(ctx context.Context, nonce *big.Int) (bool, error) {
	callData, err := hubABI.Pack("isValidValidatorNodeNonce", nonce)
	if err != nil {
		return false, fmt.Errorf("pack isValidValidatorNodeNonce: %w", err)
	}
	output, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.hubAddress, Data: callData}, nil)
	if err != nil {
		return false, fmt.Errorf("call isValidValidatorNodeNonce: %w", err)
	}
	result, err := hubABI.Unpack("isValidValidatorNodeNonce", output)
	if err != nil {
		return false, fmt.Errorf("unpack isValidValidatorNodeNonce: %w", err)
	}
	return result[0].(bool), nil
}

// ReadPendingAccountNonce reads this validator's own pending account
// nonce on the destination chain, the starting point the
// nonce-arbitration algorithm compares against already-assigned
// nonces.
func (a *Adapter) ReadPendingAccountNonce(ctx context.Context) (uint64, error) {
	return a.client.PendingNonceAt(ctx, a.ownAddress)
}

func (a *Adapter) IsEqualAddress(x, y string) bool {
	return common.HexToAddress(x) == common.HexToAddress(y)
}

func (a *Adapter) IsTokenActive(ctx context.Context, tokenAddress string) (bool, error) {
	var result []interface{}
	callData, err := hubABI.Pack("isTokenActive", common.HexToAddress(tokenAddress))
	if err != nil {
		return false, fmt.Errorf("pack isTokenActive: %w", err)
	}
	output, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.hubAddress, Data: callData}, nil)
	if err != nil {
		return false, fmt.Errorf("call isTokenActive: %w", err)
	}
	result, err = hubABI.Unpack("isTokenActive", output)
	if err != nil {
		return false, fmt.Errorf("unpack isTokenActive: %w", err)
	}
	return result[0].(bool), nil
}

func (a *Adapter) ReadTokenDecimals(ctx context.Context, tokenAddress string) (uint8, error) {
	address := common.HexToAddress(tokenAddress)
	callData, err := tokenABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals: %w", err)
	}
	output, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &address, Data: callData}, nil)
	if err != nil {
		return 0, fmt.Errorf("call decimals: %w", err)
	}
	result, err := tokenABI.Unpack("decimals", output)
	if err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	return result[0].(uint8), nil
}

func (a *Adapter) ReadExternalTokenAddress(ctx context.Context, tokenAddress string, destinationBlockchain chain.Blockchain) (string, bool, error) {
	address := common.HexToAddress(tokenAddress)
	callData, err := tokenABI.Pack("getExternalToken", big.NewInt(int64(blockchainNumericID(destinationBlockchain))))
	if err != nil {
		return "", false, fmt.Errorf("pack getExternalToken: %w", err)
	}
	output, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &address, Data: callData}, nil)
	if err != nil {
		return "", false, fmt.Errorf("call getExternalToken: %w", err)
	}
	result, err := tokenABI.Unpack("getExternalToken", output)
	if err != nil {
		return "", false, fmt.Errorf("unpack getExternalToken: %w", err)
	}
	return result[0].(string), result[1].(bool), nil
}

func (a *Adapter) ReadMinimumValidatorNodeSignatures(ctx context.Context) (int, error) {
	_, minimum, ok := a.cache.get()
	if ok {
		return minimum, nil
	}
	nodes, minimum, err := a.fetchValidatorSet(ctx)
	if err != nil {
		return 0, err
	}
	a.cache.set(nodes, minimum)
	return minimum, nil
}

func (a *Adapter) ReadValidatorNodeAddresses(ctx context.Context) ([]string, error) {
	nodes, _, ok := a.cache.get()
	if ok {
		return nodes, nil
	}
	nodes, minimum, err := a.fetchValidatorSet(ctx)
	if err != nil {
		return nil, err
	}
	a.cache.set(nodes, minimum)
	return nodes, nil
}

func (a *Adapter) fetchValidatorSet(ctx context.Context) ([]string, int, error) {
	nodesCallData, err := forwarderABI.Pack("getValidatorNodes")
	if err != nil {
		return nil, 0, fmt.Errorf("pack getValidatorNodes: %w", err)
	}
	nodesOutput, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.forwarderAddress, Data: nodesCallData}, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("call getValidatorNodes: %w", err)
	}
	nodesResult, err := forwarderABI.Unpack("getValidatorNodes", nodesOutput)
	if err != nil {
		return nil, 0, fmt.Errorf("unpack getValidatorNodes: %w", err)
	}
	rawNodes := nodesResult[0].([]common.Address)
	nodes := make([]string, len(rawNodes))
	for i, n := range rawNodes {
		nodes[i] = n.Hex()
	}

	minCallData, err := forwarderABI.Pack("getMinimumValidatorNodeSignatures")
	if err != nil {
		return nil, 0, fmt.Errorf("pack getMinimumValidatorNodeSignatures: %w", err)
	}
	minOutput, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.forwarderAddress, Data: minCallData}, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("call getMinimumValidatorNodeSignatures: %w", err)
	}
	minResult, err := forwarderABI.Unpack("getMinimumValidatorNodeSignatures", minOutput)
	if err != nil {
		return nil, 0, fmt.Errorf("unpack getMinimumValidatorNodeSignatures: %w", err)
	}
	return nodes, int(minResult[0].(*big.Int).Int64()), nil
}

func (a *Adapter) ReadOutgoingTransfersFromBlock(ctx context.Context, fromBlock uint64) ([]chain.OutgoingTransfer, uint64, error) {
	latest, err := a.client.BlockNumber(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("read latest block: %w", err)
	}
	confirmed := latest
	if a.cfg.Confirmations > 0 {
		if a.cfg.Confirmations > latest {
			return nil, fromBlock, nil
		}
		confirmed = latest - a.cfg.Confirmations
	}
	if confirmed < fromBlock {
		return nil, fromBlock, nil
	}
	toBlock := confirmed
	if a.cfg.OutgoingTransfersNumberBlocks > 0 && toBlock-fromBlock+1 > a.cfg.OutgoingTransfersNumberBlocks {
		toBlock = fromBlock + a.cfg.OutgoingTransfersNumberBlocks - 1
	}

	transfers, err := a.readOutgoingTransfers(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{a.hubAddress},
		Topics:    [][]common.Hash{{hubABI.Events["TransferFromSucceeded"].ID}},
	})
	if err != nil {
		return nil, fromBlock, err
	}
	return transfers, toBlock + 1, nil
}

func (a *Adapter) ReadOutgoingTransfersInTransaction(ctx context.Context, transactionID string) ([]chain.OutgoingTransfer, error) {
	receipt, err := a.client.TransactionReceipt(ctx, common.HexToHash(transactionID))
	if err != nil {
		return nil, fmt.Errorf("read transaction receipt: %w", err)
	}
	var transfers []chain.OutgoingTransfer
	for _, eventLog := range receipt.Logs {
		transfer, ok, err := a.decodeTransferFromSucceeded(*eventLog)
		if err != nil {
			return nil, err
		}
		if ok {
			transfers = append(transfers, transfer)
		}
	}
	return transfers, nil
}

// ReadTransactionStatus classifies transactionID against this chain's
// configured confirmation depth: absent and not yet mined is
// unincluded, mined but shallower than cfg.Confirmations is
// unconfirmed, a failed receipt is reverted, and a receipt at or past
// the confirmation depth is confirmed.
func (a *Adapter) ReadTransactionStatus(ctx context.Context, transactionID string) (chain.TransactionStatus, error) {
	receipt, err := a.client.TransactionReceipt(ctx, common.HexToHash(transactionID))
	if errors.Is(err, ethereum.NotFound) {
		return chain.TransactionStatusUnincluded, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read transaction receipt: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return chain.TransactionStatusReverted, nil
	}

	latest, err := a.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("read latest block: %w", err)
	}
	if latest < receipt.BlockNumber.Uint64() {
		return chain.TransactionStatusUnconfirmed, nil
	}
	depth := latest - receipt.BlockNumber.Uint64()
	if depth < a.cfg.Confirmations {
		return chain.TransactionStatusUnconfirmed, nil
	}
	return chain.TransactionStatusConfirmed, nil
}

func (a *Adapter) readOutgoingTransfers(ctx context.Context, query ethereum.FilterQuery) ([]chain.OutgoingTransfer, error) {
	logs, err := a.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}
	var transfers []chain.OutgoingTransfer
	for _, eventLog := range logs {
		transfer, ok, err := a.decodeTransferFromSucceeded(eventLog)
		if err != nil {
			return nil, err
		}
		if ok {
			transfers = append(transfers, transfer)
		}
	}
	return transfers, nil
}

func (a *Adapter) decodeTransferFromSucceeded(eventLog types.Log) (chain.OutgoingTransfer, bool, error) {
	if eventLog.Address != a.hubAddress || len(eventLog.Topics) == 0 || eventLog.Topics[0] != hubABI.Events["TransferFromSucceeded"].ID {
		return chain.OutgoingTransfer{}, false, nil
	}
	event := struct {
		Sender                  common.Address
		Recipient               string
		SourceToken             common.Address
		DestinationBlockchainID *big.Int
		DestinationToken        string
		Amount                  *big.Int
		Fee                     *big.Int
		ServiceNode             common.Address
	}{}
	if err := hubABI.UnpackIntoInterface(&event, "TransferFromSucceeded", eventLog.Data); err != nil {
		return chain.OutgoingTransfer{}, false, fmt.Errorf("unpack TransferFromSucceeded: %w", err)
	}
	sourceTransferID := new(big.Int).SetBytes(eventLog.Topics[1].Bytes())
	return chain.OutgoingTransfer{
		SourceHubAddress:        a.hubAddress.Hex(),
		SourceTransferID:        sourceTransferID,
		SourceTransactionID:     eventLog.TxHash.Hex(),
		SourceBlockNumber:       eventLog.BlockNumber,
		SourceBlockHash:         eventLog.BlockHash.Hex(),
		SourceTokenAddress:      event.SourceToken.Hex(),
		DestinationBlockchain:   blockchainFromNumericID(event.DestinationBlockchainID.Uint64()),
		DestinationTokenAddress: event.DestinationToken,
		SenderAddress:           event.Sender.Hex(),
		RecipientAddress:        event.Recipient,
		Amount:                  event.Amount,
		Fee:                     event.Fee,
		ServiceNodeAddress:      event.ServiceNode.Hex(),
	}, true, nil
}

func (a *Adapter) SignTransferToMessage(ctx context.Context, message chain.TransferToMessage) (string, error) {
	if a.privateKeyHex == "" {
		return "", fmt.Errorf("evm(%s): no signing key configured", a.name)
	}
	return signTypedData(a.privateKeyHex, a.chainID, a.forwarderAddress.Hex(), message)
}

func (a *Adapter) RecoverTransferToSignerAddress(ctx context.Context, message chain.TransferToMessage, signature string) (string, error) {
	return recoverTypedDataSigner(a.chainID, a.forwarderAddress.Hex(), message, signature)
}

func (a *Adapter) ProtocolVersion(ctx context.Context) (string, error) {
	callData, err := hubABI.Pack("getProtocolVersion")
	if err != nil {
		return "", fmt.Errorf("pack getProtocolVersion: %w", err)
	}
	output, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.hubAddress, Data: callData}, nil)
	if err != nil {
		return "", fmt.Errorf("call getProtocolVersion: %w", err)
	}
	result, err := hubABI.Unpack("getProtocolVersion", output)
	if err != nil {
		return "", fmt.Errorf("unpack getProtocolVersion: %w", err)
	}
	return result[0].(string), nil
}

// StartTransferToSubmission verifies the request against the Hub
// (pre-flight, matching the original's __verify_transfer_to_request)
// and then submits the transferTo transaction with the signatures
// sorted ascending by signer address.
func (a *Adapter) StartTransferToSubmission(ctx context.Context, request chain.TransferToSubmissionRequest) (string, error) {
	if err := a.verifyTransferTo(ctx, request.Message); err != nil {
		return "", err
	}

	signerAddresses := make([]common.Address, 0, len(request.Signatures))
	signatureBytes := make([][]byte, 0, len(request.Signatures))
	for _, signature := range request.Signatures {
		signer, err := a.RecoverTransferToSignerAddress(ctx, request.Message, signature)
		if err != nil {
			return "", fmt.Errorf("recover signer for sorting: %w", err)
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
		if err != nil {
			return "", fmt.Errorf("decode signature: %w", err)
		}
		signerAddresses = append(signerAddresses, common.HexToAddress(signer))
		signatureBytes = append(signatureBytes, raw)
	}
	sortSignaturesByAddress(signerAddresses, signatureBytes)

	callData, err := forwarderABI.Pack("transferTo", transferToTuple(request.Message), signerAddresses, signatureBytes)
	if err != nil {
		return "", fmt.Errorf("pack transferTo: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(a.privateKeyHex)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	if _, err := bind.NewKeyedTransactorWithChainID(privateKey, a.chainID); err != nil {
		return "", fmt.Errorf("create transactor: %w", err)
	}

	gasLimit := gasLimitFor(len(request.Signatures))
	maxTotal, err := a.cfg.MaxTotalFeePerGasWei()
	if err != nil {
		return "", err
	}

	submission := &pendingSubmission{
		to:       a.forwarderAddress,
		callData: callData,
		gasLimit: gasLimit,
		nonce:    request.AccountNonce,
		maxTotal: maxTotal,
	}
	signedTx, err := a.signSubmissionAttempt(ctx, submission, 0)
	if err != nil {
		return "", err
	}
	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return "", classifySubmissionError(err)
	}
	submission.txHash = signedTx.Hash()
	if latest, err := a.client.BlockNumber(ctx); err == nil {
		submission.submittedBlock = latest
	}

	internalTransactionID := uuid.NewString()
	a.submissionsMu.Lock()
	a.submissions[internalTransactionID] = submission
	a.submissionsMu.Unlock()

	go a.runResubmissionLoop(internalTransactionID, submission)

	return internalTransactionID, nil
}

// signSubmissionAttempt builds and signs one attempt at submitting a
// pending transferTo, with fees scaled for the given attempt count.
func (a *Adapter) signSubmissionAttempt(ctx context.Context, submission *pendingSubmission, attempt int) (*types.Transaction, error) {
	feeCap, tipCap, err := a.suggestedFees(ctx, attempt)
	if err != nil {
		return nil, err
	}
	if submission.maxTotal != nil && feeCap.Cmp(submission.maxTotal) > 0 {
		feeCap = submission.maxTotal
	}
	submission.baseFeeCap = feeCap
	submission.tipCap = tipCap
	submission.attempt = attempt

	privateKey, err := crypto.HexToECDSA(a.privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, a.chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     submission.nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       submission.gasLimit,
		To:        &submission.to,
		Data:      submission.callData,
	})
	return auth.Signer(auth.From, tx)
}

// runResubmissionLoop bumps the fee and resubmits submission at the
// same account nonce every BlocksUntilResubmission blocks it sits
// unmined, stopping once it is mined (for better or worse) or the fee
// has hit MaxTotalFeePerGas.
func (a *Adapter) runResubmissionLoop(internalTransactionID string, submission *pendingSubmission) {
	ticker := time.NewTicker(resubmissionPollInterval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), resubmissionPollInterval)
		status, err := a.ReadTransactionStatus(ctx, submission.currentTxHash().Hex())
		cancel()
		if err != nil {
			a.logger.Printf("resubmission(%s): read status: %v", internalTransactionID, err)
			continue
		}
		if status != chain.TransactionStatusUnincluded {
			return
		}

		latest, err := a.client.BlockNumber(context.Background())
		if err != nil {
			a.logger.Printf("resubmission(%s): read block number: %v", internalTransactionID, err)
			continue
		}

		submission.mu.Lock()
		elapsed := latest - submission.submittedBlock
		alreadyAtCeiling := submission.maxTotal != nil && submission.baseFeeCap != nil && submission.baseFeeCap.Cmp(submission.maxTotal) >= 0
		submission.mu.Unlock()
		if elapsed < a.cfg.BlocksUntilResubmission || alreadyAtCeiling {
			continue
		}

		submission.mu.Lock()
		nextAttempt := submission.attempt + 1
		submission.mu.Unlock()

		ctx, cancel = context.WithTimeout(context.Background(), resubmissionPollInterval)
		signedTx, err := a.signSubmissionAttemptLocked(ctx, submission, nextAttempt)
		if err == nil {
			err = a.client.SendTransaction(ctx, signedTx)
		}
		cancel()
		if err != nil {
			a.logger.Printf("resubmission(%s): attempt %d: %v", internalTransactionID, nextAttempt, err)
			continue
		}

		submission.mu.Lock()
		submission.txHash = signedTx.Hash()
		submission.submittedBlock = latest
		submission.mu.Unlock()
	}
}

// signSubmissionAttemptLocked is signSubmissionAttempt with the
// pendingSubmission's fields guarded for concurrent reads from
// ReadTransferToSubmissionStatus.
func (a *Adapter) signSubmissionAttemptLocked(ctx context.Context, submission *pendingSubmission, attempt int) (*types.Transaction, error) {
	submission.mu.Lock()
	defer submission.mu.Unlock()
	return a.signSubmissionAttempt(ctx, submission, attempt)
}

func (s *pendingSubmission) currentTxHash() common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txHash
}

// ReadTransferToSubmissionStatus reports the progress of a submission
// previously started by StartTransferToSubmission, decoding
// TransferToSucceeded from the current attempt's receipt once
// confirmed.
func (a *Adapter) ReadTransferToSubmissionStatus(ctx context.Context, internalTransactionID string) (chain.TransferToSubmissionStatus, error) {
	a.submissionsMu.Lock()
	submission, ok := a.submissions[internalTransactionID]
	a.submissionsMu.Unlock()
	if !ok {
		return chain.TransferToSubmissionStatus{}, chain.ErrUnresolvableSubmission
	}

	txHash := submission.currentTxHash()
	status, err := a.ReadTransactionStatus(ctx, txHash.Hex())
	if err != nil {
		return chain.TransferToSubmissionStatus{}, err
	}
	result := chain.TransferToSubmissionStatus{
		Status:        status,
		TransactionID: txHash.Hex(),
	}
	if status != chain.TransactionStatusConfirmed && status != chain.TransactionStatusReverted {
		return result, nil
	}
	result.Completed = true

	receipt, err := a.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return chain.TransferToSubmissionStatus{}, fmt.Errorf("read transaction receipt: %w", err)
	}
	result.BlockNumber = receipt.BlockNumber.Uint64()
	if status == chain.TransactionStatusConfirmed {
		for _, eventLog := range receipt.Logs {
			if destinationTransferID, ok := a.decodeTransferToSucceeded(eventLog); ok {
				result.DestinationTransferID = destinationTransferID
				break
			}
		}
	}
	return result, nil
}

func (a *Adapter) decodeTransferToSucceeded(eventLog *types.Log) (*big.Int, bool) {
	if eventLog.Address != a.hubAddress || len(eventLog.Topics) == 0 || eventLog.Topics[0] != hubABI.Events["TransferToSucceeded"].ID {
		return nil, false
	}
	return new(big.Int).SetBytes(eventLog.Topics[1].Bytes()), true
}

func (a *Adapter) verifyTransferTo(ctx context.Context, message chain.TransferToMessage) error {
	callData, err := hubABI.Pack("verifyTransferTo",
		big.NewInt(int64(message.SourceBlockchainID)), message.SourceTransactionID,
		message.SourceTransferID, message.ValidatorNonce)
	if err != nil {
		return fmt.Errorf("pack verifyTransferTo: %w", err)
	}
	_, err = a.client.CallContract(ctx, ethereum.CallMsg{To: &a.hubAddress, Data: callData}, nil)
	if err != nil {
		return mapRevertReason(err)
	}
	return nil
}

func mapRevertReason(err error) error {
	message := err.Error()
	switch {
	case strings.Contains(message, revertReasonNonMatchingForwarder):
		return chain.ErrNonMatchingForwarder
	case strings.Contains(message, revertReasonSourceTransferIDAlreadyUsed):
		return chain.ErrSourceTransferIDAlreadyUsed
	default:
		return fmt.Errorf("verify transferTo: %w", err)
	}
}

func classifySubmissionError(err error) error {
	message := err.Error()
	switch {
	case strings.Contains(message, "nonce too low"):
		return chain.ErrNonceTooLow
	case strings.Contains(message, "replacement transaction underpriced"), strings.Contains(message, "transaction underpriced"):
		return chain.ErrUnderpriced
	default:
		return fmt.Errorf("submit transferTo: %w", err)
	}
}

// suggestedFees applies the configured floor and ceiling around the
// client's own fee suggestion: min_adaptable_fee_per_gas is a floor on
// the tip, max_total_fee_per_gas (if set) caps the fee cap. attempt
// scales both the tip and the fee cap by
// adaptable_fee_increase_factor^attempt, the same exponential bump a
// resubmission applies every blocks_until_resubmission blocks a
// transaction sits unmined.
func (a *Adapter) suggestedFees(ctx context.Context, attempt int) (feeCap, tipCap *big.Int, err error) {
	tipCap, err = a.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("suggest gas tip cap: %w", err)
	}
	minTip, err := a.cfg.MinAdaptableFeePerGasWei()
	if err != nil {
		return nil, nil, err
	}
	if tipCap.Cmp(minTip) < 0 {
		tipCap = minTip
	}

	header, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("read latest header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap = new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tipCap)

	if attempt > 0 {
		factor := a.cfg.AdaptableFeeIncreaseFactor
		if factor < config.MinAdaptableFeeIncreaseFactor {
			factor = config.MinAdaptableFeeIncreaseFactor
		}
		scale := math.Pow(factor, float64(attempt))
		tipCap = scaleBigInt(tipCap, scale)
		feeCap = scaleBigInt(feeCap, scale)
	}

	maxTotal, err := a.cfg.MaxTotalFeePerGasWei()
	if err != nil {
		return nil, nil, err
	}
	if maxTotal != nil && feeCap.Cmp(maxTotal) > 0 {
		feeCap = maxTotal
		if tipCap.Cmp(feeCap) > 0 {
			tipCap = feeCap
		}
	}
	return feeCap, tipCap, nil
}

// scaleBigInt multiplies v by a floating-point factor, rounding down.
// Fee amounts comfortably fit a float64's mantissa at the precision an
// exponential fee bump needs.
func scaleBigInt(v *big.Int, factor float64) *big.Int {
	scaled := new(big.Float).Mul(new(big.Float).SetInt(v), big.NewFloat(factor))
	result, _ := scaled.Int(nil)
	return result
}

func transferToTuple(message chain.TransferToMessage) struct {
	SourceBlockchainID  *big.Int
	SourceTransferID    *big.Int
	SourceTransactionID string
	Sender              string
	Recipient           common.Address
	SourceToken         string
	DestinationToken    common.Address
	Amount              *big.Int
	Nonce               *big.Int
} {
	return struct {
		SourceBlockchainID  *big.Int
		SourceTransferID    *big.Int
		SourceTransactionID string
		Sender              string
		Recipient           common.Address
		SourceToken         string
		DestinationToken    common.Address
		Amount              *big.Int
		Nonce               *big.Int
	}{
		SourceBlockchainID:  big.NewInt(int64(message.SourceBlockchainID)),
		SourceTransferID:    message.SourceTransferID,
		SourceTransactionID: message.SourceTransactionID,
		Sender:              message.Sender,
		Recipient:           common.HexToAddress(message.Recipient),
		SourceToken:         message.SourceToken,
		DestinationToken:    common.HexToAddress(message.DestinationToken),
		Amount:              message.Amount,
		Nonce:               message.ValidatorNonce,
	}
}

var _ chain.ChainAdapter = (*Adapter)(nil)
