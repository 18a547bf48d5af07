// Copyright 2025 Certen Protocol
//
// Package detector polls every active blockchain for new outgoing
// transfers and hands each one to Store + Scheduler for validation.

package detector

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/certen/independant-validator/pkg/chain"
	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/store"
)

// Store is the slice of store.Store the detector depends on.
type Store interface {
	ReadBlockchainLastBlockNumber(ctx context.Context, blockchain chain.Blockchain) (int64, error)
	UpdateBlockchainLastBlockNumber(ctx context.Context, blockchain chain.Blockchain, blockNumber uint64) error
	ReadTransferID(ctx context.Context, sourceBlockchain chain.Blockchain, sourceTransactionID string) (uuid.UUID, bool, error)
	CreateTransfer(ctx context.Context, request store.TransferCreationRequest) (uuid.UUID, error)
	ScheduleTask(ctx context.Context, kind store.TaskKind, transferID uuid.UUID, internalTransactionID string, runAfter time.Time) (uuid.UUID, error)
}

// AdapterSource resolves a chain.ChainAdapter for a blockchain, so the
// detector doesn't depend on pkg/chainfactory directly.
type AdapterSource interface {
	Get(blockchain chain.Blockchain) (chain.ChainAdapter, bool)
}

// Detector polls every active blockchain in a bounded worker pool,
// mirroring the original's ThreadPoolExecutor-per-cycle shape.
type Detector struct {
	store       Store
	adapters    AdapterSource
	blockchains []config.BlockchainConfig
	interval    time.Duration
	maxWorkers  int
	logger      *log.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger overrides the default component logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// New builds a Detector over the given active blockchains, polling at
// monitor.interval seconds with max(1, monitor.number_threads-1)
// concurrent chain scans, matching the original's thread budget (one
// thread reserved for the calling loop itself).
func New(st Store, adapters AdapterSource, monitor config.MonitorConfig, blockchains []config.BlockchainConfig, opts ...Option) *Detector {
	maxWorkers := monitor.NumberThreads - 1
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	d := &Detector{
		store:       st,
		adapters:    adapters,
		blockchains: blockchains,
		interval:    monitor.Interval(),
		maxWorkers:  maxWorkers,
		logger:      log.New(log.Writer(), "[Detector] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs the polling loop until ctx is cancelled or Stop is called.
func (d *Detector) Start(ctx context.Context) {
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.run(ctx)
}

// Stop halts the polling loop and waits for the in-flight cycle to finish.
func (d *Detector) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Detector) run(ctx context.Context) {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

// cycle submits one detect_new_transfers scan per active blockchain,
// bounded to maxWorkers concurrent scans. A failure scanning one chain
// is logged and does not stop the others.
func (d *Detector) cycle(ctx context.Context) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.maxWorkers)

	for _, bc := range d.blockchains {
		bc := bc
		group.Go(func() error {
			if err := d.detectNewTransfers(groupCtx, bc); err != nil {
				d.logger.Printf("error while monitoring %s: %v", bc.Name, err)
			}
			return nil
		})
	}
	_ = group.Wait()
}

// detectNewTransfers implements spec.md 4.5 step by step: read the last
// seen block, widen the window back by the chain's confirmation depth,
// read outgoing transfers in that window, persist the new ones, and
// advance the last-seen-block marker.
func (d *Detector) detectNewTransfers(ctx context.Context, bc config.BlockchainConfig) error {
	blockchain := chain.Blockchain(bc.Name)
	adapter, ok := d.adapters.Get(blockchain)
	if !ok {
		return fmt.Errorf("no chain adapter registered for %s", bc.Name)
	}

	last, err := d.store.ReadBlockchainLastBlockNumber(ctx, blockchain)
	if err != nil {
		return fmt.Errorf("read last block: %w", err)
	}

	from := bc.FromBlock
	if last >= 0 {
		candidate := uint64(last)
		if candidate > bc.Confirmations {
			candidate -= bc.Confirmations
		} else {
			candidate = 0
		}
		if candidate > from {
			from = candidate
		}
	}

	events, to, err := adapter.ReadOutgoingTransfersFromBlock(ctx, from)
	if err != nil {
		return fmt.Errorf("read outgoing transfers from block %d: %w", from, err)
	}

	if from > to && from-1 != to {
		return fmt.Errorf("block number went backwards: from=%d to=%d", from, to)
	}
	if from > 0 && from-1 == to {
		return nil
	}

	for _, event := range events {
		if err := d.ingest(ctx, blockchain, event); err != nil {
			d.logger.Printf("failed to ingest transfer %s on %s: %v", event.SourceTransactionID, bc.Name, err)
		}
	}

	return d.store.UpdateBlockchainLastBlockNumber(ctx, blockchain, to)
}

func (d *Detector) ingest(ctx context.Context, sourceBlockchain chain.Blockchain, event chain.OutgoingTransfer) error {
	_, found, err := d.store.ReadTransferID(ctx, sourceBlockchain, event.SourceTransactionID)
	if err != nil {
		return fmt.Errorf("check existing transfer: %w", err)
	}
	if found {
		return nil
	}

	destinationAdapter, ok := d.adapters.Get(event.DestinationBlockchain)
	if !ok {
		return fmt.Errorf("no chain adapter registered for destination %s", event.DestinationBlockchain)
	}

	// Every node, primary or secondary, assigns a validator nonce here:
	// a secondary must be ready to assume the primary role at any time,
	// and the primary role is what actually uses this nonce on-chain.
	var transferID uuid.UUID
	for attempt := 0; attempt < maxNonceDrawAttempts; attempt++ {
		nonce, err := randomValidatorNonce(ctx, destinationAdapter)
		if err != nil {
			return fmt.Errorf("draw validator nonce: %w", err)
		}

		transferID, err = d.store.CreateTransfer(ctx, store.TransferCreationRequest{
			SourceBlockchain:        sourceBlockchain,
			DestinationBlockchain:   event.DestinationBlockchain,
			SourceHubAddress:        event.SourceHubAddress,
			SourceTransferID:        event.SourceTransferID,
			SourceTransactionID:     event.SourceTransactionID,
			SourceBlockNumber:       event.SourceBlockNumber,
			SourceBlockHash:         event.SourceBlockHash,
			SenderAddress:           event.SenderAddress,
			RecipientAddress:        event.RecipientAddress,
			SourceTokenAddress:      event.SourceTokenAddress,
			DestinationTokenAddress: event.DestinationTokenAddress,
			Amount:                  event.Amount,
			Fee:                     event.Fee,
			ServiceNodeAddress:      event.ServiceNodeAddress,
			ValidatorNonce:          nonce,
			Status:                  chain.StatusSourceTransactionDetected,
		})
		if errors.Is(err, store.ErrValidatorNonceNotUnique) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create transfer: %w", err)
		}
		break
	}
	if transferID == uuid.Nil {
		return fmt.Errorf("exhausted %d attempts drawing a unique validator nonce", maxNonceDrawAttempts)
	}

	if _, err := d.store.ScheduleTask(ctx, store.TaskValidateTransfer, transferID, "", time.Now()); err != nil {
		return fmt.Errorf("schedule validate_transfer: %w", err)
	}
	return nil
}

const maxNonceDrawAttempts = 16

// randomValidatorNonce draws a random 256-bit nonce and redraws until
// the destination chain's Hub reports it as not yet used, giving up
// after maxNonceDrawAttempts draws.
func randomValidatorNonce(ctx context.Context, adapter chain.ChainAdapter) (*big.Int, error) {
	upperBound := new(big.Int).Lsh(big.NewInt(1), 256)
	for attempt := 0; attempt < maxNonceDrawAttempts; attempt++ {
		nonce, err := rand.Int(rand.Reader, upperBound)
		if err != nil {
			return nil, err
		}
		valid, err := adapter.IsValidValidatorNonce(ctx, nonce)
		if err != nil {
			return nil, fmt.Errorf("check validator nonce: %w", err)
		}
		if valid {
			return nonce, nil
		}
	}
	return nil, fmt.Errorf("exhausted %d attempts drawing a valid validator nonce", maxNonceDrawAttempts)
}
