// Copyright 2025 Certen Protocol
//
// Command validatornode runs one cross-chain transfer validator node:
// it detects outgoing transfers on every active blockchain, validates
// them, collects signatures, submits the destination transaction, and
// confirms it, exposing a REST API through which secondary validator
// nodes hand their signatures to this node and look up its validator
// nonces whenever it is primary.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/certen/independant-validator/pkg/chain"
	"github.com/certen/independant-validator/pkg/chainfactory"
	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/coordinator"
	"github.com/certen/independant-validator/pkg/detector"
	"github.com/certen/independant-validator/pkg/primaryclient"
	"github.com/certen/independant-validator/pkg/protocolversion"
	"github.com/certen/independant-validator/pkg/restapi"
	"github.com/certen/independant-validator/pkg/scheduler"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/validator"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	configPath := flag.String("config", "validator-node-config.yml", "path to the validator node configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := chainfactory.Build(cfg)
	if err != nil {
		log.Fatalf("build chain adapters: %v", err)
	}

	st, err := store.NewPostgres(ctx, cfg.Database, store.WithLogger(
		log.New(log.Writer(), "[Store] ", log.LstdFlags),
	))
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer st.Close()

	activeBlockchains := make([]chain.Blockchain, 0, len(cfg.Blockchains))
	blockchainConfigs := make(map[chain.Blockchain]*config.BlockchainConfig, len(cfg.Blockchains))
	blockchainSlice := make([]config.BlockchainConfig, 0, len(cfg.Blockchains))
	for name, blockchainCfg := range cfg.ActiveBlockchains() {
		bc := chain.Blockchain(name)
		activeBlockchains = append(activeBlockchains, bc)
		blockchainConfigs[bc] = blockchainCfg
		blockchainSlice = append(blockchainSlice, *blockchainCfg)
	}

	if err := protocolversion.Check(ctx, cfg.Protocol, activeBlockchains, registry); err != nil {
		log.Fatalf("protocol version check failed: %v", err)
	}

	var primary coordinator.PrimaryClient
	if cfg.Application.Mode == config.ModeSecondary {
		if cfg.Application.PrimaryURL == "" {
			log.Fatal("application.primary_url is required in secondary mode")
		}
		primary = primaryclient.New(cfg.Application.PrimaryURL)
	}

	v := validator.New(st, registry)
	coord := coordinator.New(st, registry, blockchainConfigs, cfg.Application.Mode, primary)

	sched := scheduler.New(st, cfg.Tasks, scheduler.WithLogger(
		log.New(log.Writer(), "[Scheduler] ", log.LstdFlags),
	))
	registerTaskHandlers(sched, st, v, coord, cfg.Application.Mode)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	defer sched.Stop()

	det := detector.New(st, registry, cfg.Monitor, blockchainSlice, detector.WithLogger(
		log.New(log.Writer(), "[Detector] ", log.LstdFlags),
	))
	det.Start(ctx)
	defer det.Stop()

	signatures := restapi.NewSignatureService(st, registry)
	handlers := restapi.NewHandlers(signatures, log.New(log.Writer(), "[RestAPI] ", log.LstdFlags), nil)
	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux)
	httpServer := &http.Server{Addr: cfg.ListenAddr(), Handler: mux}

	go func() {
		log.Printf("REST API listening on %s", cfg.ListenAddr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("REST API server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("REST API shutdown: %v", err)
	}
}

// registerTaskHandlers binds the four deferred-task kinds to the
// validator and coordinator methods that implement them. Every handler
// re-reads the transfer from the store rather than carrying it in the
// task payload, since a retried task may run long after it was first
// scheduled.
func registerTaskHandlers(sched *scheduler.Scheduler, st *store.Postgres, v *validator.Validator, coord *coordinator.Coordinator, mode config.Mode) {
	sched.Register(store.TaskValidateTransfer, func(ctx context.Context, task store.ScheduledTask) (bool, error) {
		transfer, err := st.ReadTransfer(ctx, task.TransferID)
		if err != nil {
			return false, err
		}
		return v.Validate(ctx, task.TransferID, transfer, mode == config.ModePrimary)
	})

	sched.Register(store.TaskSubmitTransferToPrimaryNode, func(ctx context.Context, task store.ScheduledTask) (bool, error) {
		transfer, err := st.ReadTransfer(ctx, task.TransferID)
		if err != nil {
			return false, err
		}
		return coord.SubmitToPrimaryNode(ctx, task.TransferID, transfer)
	})

	sched.Register(store.TaskSubmitTransferOnchain, func(ctx context.Context, task store.ScheduledTask) (bool, error) {
		transfer, err := st.ReadTransfer(ctx, task.TransferID)
		if err != nil {
			return false, err
		}
		return coord.SubmitOnchain(ctx, task.TransferID, transfer)
	})

	sched.Register(store.TaskConfirmTransfer, func(ctx context.Context, task store.ScheduledTask) (bool, error) {
		transfer, err := st.ReadTransfer(ctx, task.TransferID)
		if err != nil {
			return false, err
		}
		return coord.ConfirmTransfer(ctx, task.TransferID, task.InternalTransactionID, transfer)
	})
}
