// Copyright 2025 Certen Protocol
//
// Postgres-backed implementation of Store.

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/certen/independant-validator/pkg/chain"
	"github.com/certen/independant-validator/pkg/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolationCode = pq.ErrorCode("23505")

// Postgres is the production Store implementation, backed by
// database/sql and github.com/lib/pq.
type Postgres struct {
	db     *sql.DB
	logger *log.Logger
}

// Option configures a Postgres store.
type Option func(*Postgres)

// WithLogger overrides the default component logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Postgres) { p.logger = logger }
}

// NewPostgres opens a connection pool and, if configured, applies
// pending migrations.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (*Postgres, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("store: database URL is empty")
	}

	store := &Postgres{
		logger: log.New(log.Writer(), "[Store] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(store)
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize + cfg.MaxOverflow)
		db.SetMaxIdleConns(cfg.PoolSize)
	}
	store.db = db

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	if cfg.ApplyMigrations {
		if err := store.applyMigrations(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: apply migrations: %w", err)
		}
	}

	return store, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) applyMigrations(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var versions []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			versions = append(versions, entry.Name())
		}
	}
	sort.Strings(versions)

	for _, name := range versions {
		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		p.logger.Printf("applying migration %s", name)
		if _, err := p.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation, matching the way the original distinguishes
// ValidatorNonceNotUniqueError from other database errors.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	return err != nil && strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

// ---- id lookup / get-or-create helpers -----------------------------------

func (p *Postgres) blockchainID(ctx context.Context, tx *sql.Tx, blockchain chain.Blockchain) (int, error) {
	var id int
	err := tx.QueryRowContext(ctx, `SELECT id FROM blockchains WHERE name = $1`, string(blockchain)).Scan(&id)
	if err == sql.ErrNoRows {
		err = tx.QueryRowContext(ctx,
			`INSERT INTO blockchains (name) VALUES ($1) ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id`,
			string(blockchain)).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve blockchain id: %w", err)
	}
	return id, nil
}

func (p *Postgres) hubContractID(ctx context.Context, tx *sql.Tx, blockchainID int, address string) (int, error) {
	return getOrCreateContractID(ctx, tx, "hub_contracts", blockchainID, address)
}

func (p *Postgres) forwarderContractID(ctx context.Context, tx *sql.Tx, blockchainID int, address string) (int, error) {
	return getOrCreateContractID(ctx, tx, "forwarder_contracts", blockchainID, address)
}

func (p *Postgres) tokenContractID(ctx context.Context, tx *sql.Tx, blockchainID int, address string) (int, error) {
	return getOrCreateContractID(ctx, tx, "token_contracts", blockchainID, address)
}

func getOrCreateContractID(ctx context.Context, tx *sql.Tx, table string, blockchainID int, address string) (int, error) {
	var id int
	selectQuery := fmt.Sprintf(`SELECT id FROM %s WHERE blockchain_id = $1 AND address = $2`, table)
	err := tx.QueryRowContext(ctx, selectQuery, blockchainID, address).Scan(&id)
	if err == sql.ErrNoRows {
		insertQuery := fmt.Sprintf(`INSERT INTO %s (blockchain_id, address) VALUES ($1, $2)
			ON CONFLICT (blockchain_id, address) DO UPDATE SET address = EXCLUDED.address RETURNING id`, table)
		err = tx.QueryRowContext(ctx, insertQuery, blockchainID, address).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve %s id: %w", table, err)
	}
	return id, nil
}

func (p *Postgres) validatorNodeID(ctx context.Context, tx *sql.Tx, forwarderContractID int, address string) (int, error) {
	var id int
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM validator_nodes WHERE forwarder_contract_id = $1 AND address = $2`,
		forwarderContractID, address).Scan(&id)
	if err == sql.ErrNoRows {
		err = tx.QueryRowContext(ctx,
			`INSERT INTO validator_nodes (forwarder_contract_id, address) VALUES ($1, $2)
			 ON CONFLICT (forwarder_contract_id, address) DO UPDATE SET address = EXCLUDED.address RETURNING id`,
			forwarderContractID, address).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve validator node id: %w", err)
	}
	return id, nil
}

func statusID(ctx context.Context, q querier, status chain.TransferStatus) (int, error) {
	var id int
	if err := q.QueryRowContext(ctx, `SELECT id FROM transfer_status WHERE name = $1`, string(status)).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolve status id for %q: %w", status, err)
	}
	return id, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ---- transfer creation ----------------------------------------------------

func (p *Postgres) CreateTransfer(ctx context.Context, request TransferCreationRequest) (uuid.UUID, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	sourceBlockchainID, err := p.blockchainID(ctx, tx, request.SourceBlockchain)
	if err != nil {
		return uuid.Nil, err
	}
	destinationBlockchainID, err := p.blockchainID(ctx, tx, request.DestinationBlockchain)
	if err != nil {
		return uuid.Nil, err
	}
	hubID, err := p.hubContractID(ctx, tx, sourceBlockchainID, request.SourceHubAddress)
	if err != nil {
		return uuid.Nil, err
	}
	sourceTokenID, err := p.tokenContractID(ctx, tx, sourceBlockchainID, request.SourceTokenAddress)
	if err != nil {
		return uuid.Nil, err
	}
	destinationTokenID, err := p.tokenContractID(ctx, tx, destinationBlockchainID, request.DestinationTokenAddress)
	if err != nil {
		return uuid.Nil, err
	}

	var destinationForwarderID sql.NullInt64
	var validatorNonce interface{}
	if request.DestinationForwarderAddress != "" {
		id, err := p.forwarderContractID(ctx, tx, destinationBlockchainID, request.DestinationForwarderAddress)
		if err != nil {
			return uuid.Nil, err
		}
		destinationForwarderID = sql.NullInt64{Int64: int64(id), Valid: true}
	}
	if request.ValidatorNonce != nil {
		validatorNonce = NewU256(request.ValidatorNonce)
	}

	status := request.Status
	if status == "" {
		status = chain.StatusSourceTransactionDetected
	}
	statusRowID, err := statusID(ctx, tx, status)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfers (
			id, source_blockchain_id, destination_blockchain_id,
			source_hub_contract_id, source_transfer_id, source_transaction_id,
			source_block_number, source_block_hash,
			sender_address, recipient_address,
			source_token_contract_id, destination_token_contract_id,
			amount, fee, service_node_address,
			status_id, destination_forwarder_contract_id, validator_nonce
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		id, sourceBlockchainID, destinationBlockchainID,
		hubID, NewU256(request.SourceTransferID), request.SourceTransactionID,
		request.SourceBlockNumber, request.SourceBlockHash,
		request.SenderAddress, request.RecipientAddress,
		sourceTokenID, destinationTokenID,
		NewU256(request.Amount), NewU256(request.Fee), request.ServiceNodeAddress,
		statusRowID, destinationForwarderID, validatorNonce,
	)
	if err != nil {
		if isUniqueViolation(err) && strings.Contains(err.Error(), "validator_nonce") {
			return uuid.Nil, ErrValidatorNonceNotUnique
		}
		return uuid.Nil, fmt.Errorf("insert transfer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit transfer creation: %w", err)
	}
	return id, nil
}

// ---- signatures ------------------------------------------------------------

func (p *Postgres) CreateValidatorNodeSignature(ctx context.Context, transferID uuid.UUID, validatorNodeAddress, signature string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var destinationForwarderID int
	if err := tx.QueryRowContext(ctx,
		`SELECT destination_forwarder_contract_id FROM transfers WHERE id = $1`, transferID).
		Scan(&destinationForwarderID); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("read transfer for signature: %w", err)
	}

	validatorNodeID, err := p.validatorNodeID(ctx, tx, destinationForwarderID, validatorNodeAddress)
	if err != nil {
		return err
	}

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT signature FROM validator_node_signatures WHERE transfer_id = $1 AND validator_node_id = $2`,
		transferID, validatorNodeID).Scan(&existing)
	if err == nil {
		// Idempotent: re-receiving the exact same signature is not an
		// error, matching the original's re-check-before-insert.
		if existing == signature {
			return nil
		}
		return ErrDuplicateSignature
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check existing signature: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO validator_node_signatures (transfer_id, validator_node_id, signature) VALUES ($1, $2, $3)`,
		transferID, validatorNodeID, signature)
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent insert of this same signature won the race.
			if stored, found, readErr := p.ReadValidatorNodeSignature(ctx, transferID, validatorNodeAddress); readErr == nil && found && stored == signature {
				return nil
			}
			return ErrDuplicateSignature
		}
		return fmt.Errorf("insert signature: %w", err)
	}

	return tx.Commit()
}

func (p *Postgres) ReadValidatorNodeSignature(ctx context.Context, transferID uuid.UUID, validatorNodeAddress string) (string, bool, error) {
	var signature string
	err := p.db.QueryRowContext(ctx, `
		SELECT s.signature FROM validator_node_signatures s
		JOIN validator_nodes v ON v.id = s.validator_node_id
		WHERE s.transfer_id = $1 AND v.address = $2`,
		transferID, validatorNodeAddress).Scan(&signature)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read validator node signature: %w", err)
	}
	return signature, true, nil
}

func (p *Postgres) ReadValidatorNodeSignatures(ctx context.Context, transferID uuid.UUID) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT v.address, s.signature FROM validator_node_signatures s
		JOIN validator_nodes v ON v.id = s.validator_node_id
		WHERE s.transfer_id = $1`, transferID)
	if err != nil {
		return nil, fmt.Errorf("read validator node signatures: %w", err)
	}
	defer rows.Close()

	signatures := make(map[string]string)
	for rows.Next() {
		var address, signature string
		if err := rows.Scan(&address, &signature); err != nil {
			return nil, fmt.Errorf("scan validator node signature: %w", err)
		}
		signatures[address] = signature
	}
	return signatures, rows.Err()
}

// ---- blockchain last-block-number -----------------------------------------

func (p *Postgres) ReadBlockchainLastBlockNumber(ctx context.Context, blockchain chain.Blockchain) (int64, error) {
	var lastBlock int64
	err := p.db.QueryRowContext(ctx,
		`SELECT last_block_number FROM blockchains WHERE name = $1`, string(blockchain)).Scan(&lastBlock)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read blockchain last block number: %w", err)
	}
	return lastBlock, nil
}

func (p *Postgres) UpdateBlockchainLastBlockNumber(ctx context.Context, blockchain chain.Blockchain, blockNumber uint64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	blockchainID, err := p.blockchainID(ctx, tx, blockchain)
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE blockchains SET last_block_number = $1 WHERE id = $2 AND last_block_number <= $1`,
		int64(blockNumber), blockchainID)
	if err != nil {
		return fmt.Errorf("update blockchain last block number: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrBlockNumberNotMonotonic
	}
	return tx.Commit()
}

// ---- transfer reads ---------------------------------------------------------

func (p *Postgres) ReadTransferID(ctx context.Context, sourceBlockchain chain.Blockchain, sourceTransactionID string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := p.db.QueryRowContext(ctx, `
		SELECT t.id FROM transfers t
		JOIN blockchains b ON b.id = t.source_blockchain_id
		WHERE b.name = $1 AND t.source_transaction_id = $2`,
		string(sourceBlockchain), sourceTransactionID).Scan(&id)
	if err == sql.ErrNoRows {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("read transfer id: %w", err)
	}
	return id, true, nil
}

func (p *Postgres) ReadTransfer(ctx context.Context, transferID uuid.UUID) (*chain.Transfer, error) {
	var (
		t                           chain.Transfer
		sourceBlockchain            string
		destinationBlockchain       string
		sourceTransferID            U256
		amount                      U256
		fee                         U256
		statusName                  string
		validatorNonce              sql.NullString
		accountNonce                sql.NullString
		destinationTransferID       sql.NullString
		destinationTransactionID    sql.NullString
		destinationBlockNumber      sql.NullInt64
		taskID                      sql.NullString
		sourceTokenAddress          string
		destinationTokenAddress     string
		sourceHubAddress            string
	)
	t.ID = transferID
	err := p.db.QueryRowContext(ctx, `
		SELECT sb.name, db.name, h.address, t.source_transfer_id, t.source_transaction_id,
		       t.source_block_number, t.source_block_hash,
		       t.sender_address, t.recipient_address,
		       st.address, dt.address,
		       t.amount, t.fee, t.service_node_address,
		       t.is_reversal_transfer, ts.name,
		       t.validator_nonce, t.nonce, t.destination_transfer_id, t.destination_transaction_id,
		       t.destination_block_number, t.task_id
		FROM transfers t
		JOIN blockchains sb ON sb.id = t.source_blockchain_id
		JOIN blockchains db ON db.id = t.destination_blockchain_id
		JOIN hub_contracts h ON h.id = t.source_hub_contract_id
		JOIN token_contracts st ON st.id = t.source_token_contract_id
		JOIN token_contracts dt ON dt.id = t.destination_token_contract_id
		JOIN transfer_status ts ON ts.id = t.status_id
		WHERE t.id = $1`, transferID).Scan(
		&sourceBlockchain, &destinationBlockchain, &sourceHubAddress, &sourceTransferID, &t.SourceTransactionID,
		&t.SourceBlockNumber, &t.SourceBlockHash,
		&t.SenderAddress, &t.RecipientAddress,
		&sourceTokenAddress, &destinationTokenAddress,
		&amount, &fee, &t.ServiceNodeAddress,
		&t.IsReversalTransfer, &statusName,
		&validatorNonce, &accountNonce, &destinationTransferID, &destinationTransactionID,
		&destinationBlockNumber, &taskID,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read transfer: %w", err)
	}

	t.SourceBlockchain = chain.Blockchain(sourceBlockchain)
	t.DestinationBlockchain = chain.Blockchain(destinationBlockchain)
	t.SourceHubAddress = sourceHubAddress
	t.SourceTransferID = sourceTransferID.Int
	t.SourceTokenAddress = sourceTokenAddress
	t.DestinationTokenAddress = destinationTokenAddress
	t.Amount = amount.Int
	t.Fee = fee.Int
	t.Status = chain.TransferStatus(statusName)
	if validatorNonce.Valid {
		t.ValidatorNonce, _ = new(big.Int).SetString(validatorNonce.String, 10)
	}
	if accountNonce.Valid {
		t.AccountNonce, _ = new(big.Int).SetString(accountNonce.String, 10)
	}
	if destinationTransferID.Valid {
		t.DestinationTransferID, _ = new(big.Int).SetString(destinationTransferID.String, 10)
	}
	if destinationTransactionID.Valid {
		t.DestinationTransactionID = destinationTransactionID.String
	}
	if destinationBlockNumber.Valid {
		t.DestinationBlockNumber = uint64(destinationBlockNumber.Int64)
	}
	if taskID.Valid {
		parsed, err := uuid.Parse(taskID.String)
		if err == nil {
			t.TaskID = &parsed
		}
	}
	return &t, nil
}

func (p *Postgres) ReadTransferToData(ctx context.Context, transferID uuid.UUID) (*TransferToData, error) {
	transfer, err := p.ReadTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	var forwarderAddress sql.NullString
	if err := p.db.QueryRowContext(ctx, `
		SELECT f.address FROM transfers t
		LEFT JOIN forwarder_contracts f ON f.id = t.destination_forwarder_contract_id
		WHERE t.id = $1`, transferID).Scan(&forwarderAddress); err != nil {
		return nil, fmt.Errorf("read destination forwarder: %w", err)
	}
	var sourceBlockchainID uint64
	if err := p.db.QueryRowContext(ctx, `
		SELECT t.source_blockchain_id FROM transfers t WHERE t.id = $1`, transferID).Scan(&sourceBlockchainID); err != nil {
		return nil, fmt.Errorf("read source blockchain id: %w", err)
	}
	return &TransferToData{
		Transfer:                    *transfer,
		DestinationForwarderAddress: forwarderAddress.String,
		SourceBlockchainID:          sourceBlockchainID,
	}, nil
}

func (p *Postgres) ReadValidatorNonceByInternalTransferID(ctx context.Context, transferID uuid.UUID) (*big.Int, error) {
	var nonce sql.NullString
	err := p.db.QueryRowContext(ctx, `SELECT validator_nonce FROM transfers WHERE id = $1`, transferID).Scan(&nonce)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read validator nonce: %w", err)
	}
	if !nonce.Valid {
		return nil, nil
	}
	value, _ := new(big.Int).SetString(nonce.String, 10)
	return value, nil
}

func (p *Postgres) ReadValidatorNonceBySourceTransactionID(ctx context.Context, sourceBlockchain chain.Blockchain, sourceTransactionID string) (*big.Int, bool, error) {
	var nonce sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT t.validator_nonce FROM transfers t
		JOIN blockchains b ON b.id = t.source_blockchain_id
		WHERE b.name = $1 AND t.source_transaction_id = $2`,
		string(sourceBlockchain), sourceTransactionID).Scan(&nonce)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read validator nonce by source transaction: %w", err)
	}
	if !nonce.Valid {
		return nil, true, nil
	}
	value, _ := new(big.Int).SetString(nonce.String, 10)
	return value, true, nil
}

// ---- status / submission updates -------------------------------------------

func (p *Postgres) UpdateReversalTransfer(ctx context.Context, transferID uuid.UUID, destinationBlockchain chain.Blockchain, destinationTokenAddress string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	blockchainID, err := p.blockchainID(ctx, tx, destinationBlockchain)
	if err != nil {
		return err
	}
	tokenID, err := p.tokenContractID(ctx, tx, blockchainID, destinationTokenAddress)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE transfers SET is_reversal_transfer = TRUE,
		    destination_blockchain_id = $1, destination_token_contract_id = $2,
		    destination_forwarder_contract_id = NULL, validator_nonce = NULL, updated_at = now()
		WHERE id = $3`, blockchainID, tokenID, transferID)
	if err != nil {
		return fmt.Errorf("update reversal transfer: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) UpdateTransferConfirmedDestinationTransaction(ctx context.Context, transferID uuid.UUID, destinationTransactionID string, destinationTransferID *big.Int, destinationBlockNumber uint64, status chain.TransferStatus) error {
	id, err := statusID(ctx, p.db, status)
	if err != nil {
		return err
	}
	var destinationTransferIDArg interface{}
	if destinationTransferID != nil {
		destinationTransferIDArg = NewU256(destinationTransferID)
	}
	_, err = p.db.ExecContext(ctx, `
		UPDATE transfers SET destination_transaction_id = $1, destination_transfer_id = $2,
		    destination_block_number = $3, status_id = $4, updated_at = now() WHERE id = $5`,
		destinationTransactionID, destinationTransferIDArg, destinationBlockNumber, id, transferID)
	if err != nil {
		return fmt.Errorf("update confirmed destination transaction: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateTransferSubmittedDestinationTransaction(ctx context.Context, transferID uuid.UUID, destinationTransactionID string, status chain.TransferStatus) error {
	id, err := statusID(ctx, p.db, status)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		UPDATE transfers SET destination_transaction_id = $1, status_id = $2, updated_at = now() WHERE id = $3`,
		destinationTransactionID, id, transferID)
	if err != nil {
		return fmt.Errorf("update submitted destination transaction: %w", err)
	}
	return nil
}

// UpdateTransferNonce resolves the destination-chain account nonce
// transferID's transferTo submission goes out under. If another
// transfer on the same destination blockchain previously failed and
// holds an unused nonce, the lowest such nonce is recycled off that
// donor transfer (whose nonce is cleared); otherwise a new nonce one
// above the highest nonce ever assigned on that chain (or
// latestOnChainNonce, whichever is greater) is assigned. The requesting
// transfer moves from SOURCE_TRANSACTION_DETECTED to
// SOURCE_TRANSACTION_DETECTED_NEW_NONCE_ASSIGNED, from
// DESTINATION_TRANSACTION_FAILED to
// DESTINATION_TRANSACTION_FAILED_NEW_NONCE_ASSIGNED, and from any other
// status to SOURCE_REVERSAL_TRANSACTION_FAILED_NEW_NONCE_ASSIGNED.
func (p *Postgres) UpdateTransferNonce(ctx context.Context, transferID uuid.UUID, destinationBlockchain chain.Blockchain, latestOnChainNonce *big.Int) (*big.Int, chain.TransferStatus, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	blockchainID, err := p.blockchainID(ctx, tx, destinationBlockchain)
	if err != nil {
		return nil, "", err
	}

	failedStatuses := []string{
		string(chain.StatusDestinationTransactionFailed),
		string(chain.StatusSourceReversalTransactionFailed),
	}

	var donorTransferID uuid.UUID
	var donorNonce U256
	recycleQuery := `
		SELECT t.id, t.nonce FROM transfers t
		JOIN transfer_status s ON s.id = t.status_id
		WHERE t.destination_blockchain_id = $1
		  AND t.nonce IS NOT NULL
		  AND s.name = ANY($2)
		ORDER BY t.nonce ASC
		LIMIT 1
		FOR UPDATE OF t SKIP LOCKED`
	err = tx.QueryRowContext(ctx, recycleQuery, blockchainID, pq.Array(failedStatuses)).Scan(&donorTransferID, &donorNonce)

	var assignedNonce *big.Int
	recycled := false

	switch {
	case err == nil:
		assignedNonce = donorNonce.Int
		recycled = true
	case errors.Is(err, sql.ErrNoRows):
		if latestOnChainNonce == nil {
			latestOnChainNonce = big.NewInt(0)
		}
		var highest sql.NullString
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(nonce) FROM transfers WHERE destination_blockchain_id = $1`,
			blockchainID).Scan(&highest); err != nil {
			return nil, "", fmt.Errorf("read highest assigned nonce: %w", err)
		}
		if !highest.Valid {
			assignedNonce = new(big.Int).Set(latestOnChainNonce)
			break
		}
		maxNonce, _ := new(big.Int).SetString(highest.String, 10)
		if maxNonce.Cmp(latestOnChainNonce) >= 0 {
			assignedNonce = new(big.Int).Add(maxNonce, big.NewInt(1))
		} else {
			assignedNonce = new(big.Int).Set(latestOnChainNonce)
		}
	default:
		return nil, "", fmt.Errorf("find recyclable nonce: %w", err)
	}

	var currentStatus string
	if err := tx.QueryRowContext(ctx, `
		SELECT s.name FROM transfers t JOIN transfer_status s ON s.id = t.status_id WHERE t.id = $1 FOR UPDATE OF t`,
		transferID).Scan(&currentStatus); err != nil {
		if err == sql.ErrNoRows {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("read current status: %w", err)
	}
	var newStatus chain.TransferStatus
	switch chain.TransferStatus(currentStatus) {
	case chain.StatusSourceTransactionDetected:
		newStatus = chain.StatusSourceTransactionDetectedNewNonceAssigned
	case chain.StatusDestinationTransactionFailed:
		newStatus = chain.StatusDestinationTransactionFailedNewNonceAssigned
	default:
		newStatus = chain.StatusSourceReversalTransactionFailedNewNonceAssigned
	}

	if recycled && donorTransferID != transferID {
		if _, err := tx.ExecContext(ctx, `UPDATE transfers SET nonce = NULL WHERE id = $1`, donorTransferID); err != nil {
			return nil, "", fmt.Errorf("release recycled nonce: %w", err)
		}
	}

	newStatusID, err := statusID(ctx, tx, newStatus)
	if err != nil {
		return nil, "", err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE transfers SET nonce = $1, status_id = $2, updated_at = now() WHERE id = $3`,
		NewU256(assignedNonce), newStatusID, transferID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, "", ErrAccountNonceNotUnique
		}
		return nil, "", fmt.Errorf("assign nonce: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("commit nonce assignment: %w", err)
	}
	return assignedNonce, newStatus, nil
}

func (p *Postgres) ResetTransferNonce(ctx context.Context, transferID uuid.UUID) error {
	statusRowID, err := statusID(ctx, p.db, chain.StatusSourceTransactionDetected)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		UPDATE transfers SET nonce = NULL,
		    status_id = $1, updated_at = now() WHERE id = $2`,
		statusRowID, transferID)
	if err != nil {
		return fmt.Errorf("reset transfer nonce: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateTransferSourceTransaction(ctx context.Context, transferID uuid.UUID, blockNumber uint64, blockHash string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE transfers SET source_block_number = $1, source_block_hash = $2, updated_at = now() WHERE id = $3`,
		blockNumber, blockHash, transferID)
	if err != nil {
		return fmt.Errorf("update transfer source transaction: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, status chain.TransferStatus) error {
	id, err := statusID(ctx, p.db, status)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `UPDATE transfers SET status_id = $1, updated_at = now() WHERE id = $2`, id, transferID)
	if err != nil {
		return fmt.Errorf("update transfer status: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateTransferTaskID(ctx context.Context, transferID uuid.UUID, taskID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `UPDATE transfers SET task_id = $1, updated_at = now() WHERE id = $2`, taskID, transferID)
	if err != nil {
		return fmt.Errorf("update transfer task id: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateTransferValidatorNonce(ctx context.Context, transferID uuid.UUID, nonce *big.Int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE transfers SET validator_nonce = $1, updated_at = now() WHERE id = $2`,
		NewU256(nonce), transferID)
	if err != nil {
		return fmt.Errorf("update transfer validator nonce: %w", err)
	}
	return nil
}

// ---- scheduled tasks ---------------------------------------------------

func (p *Postgres) ScheduleTask(ctx context.Context, kind TaskKind, transferID uuid.UUID, internalTransactionID string, runAfter time.Time) (uuid.UUID, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	taskID := uuid.New()
	var internalTxID interface{}
	if internalTransactionID != "" {
		internalTxID = internalTransactionID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (id, kind, transfer_id, internal_transaction_id, run_after)
		VALUES ($1, $2, $3, $4, $5)`,
		taskID, string(kind), transferID, internalTxID, runAfter)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert scheduled task: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE transfers SET task_id = $1, updated_at = now() WHERE id = $2`,
		taskID, transferID); err != nil {
		return uuid.Nil, fmt.Errorf("record latest task id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit scheduled task: %w", err)
	}
	return taskID, nil
}

func (p *Postgres) ClaimDueTasks(ctx context.Context, limit int) ([]ScheduledTask, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, transfer_id, internal_transaction_id, run_after, attempts
		FROM scheduled_tasks
		WHERE run_after <= now()
		  AND (locked_at IS NULL OR locked_at < now() - interval '10 minutes')
		ORDER BY run_after ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("select due tasks: %w", err)
	}

	var tasks []ScheduledTask
	var ids []uuid.UUID
	for rows.Next() {
		var task ScheduledTask
		var kind string
		var internalTxID sql.NullString
		if err := rows.Scan(&task.ID, &kind, &task.TransferID, &internalTxID, &task.RunAfter, &task.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due task: %w", err)
		}
		task.Kind = TaskKind(kind)
		task.InternalTransactionID = internalTxID.String
		tasks = append(tasks, task)
		ids = append(ids, task.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due tasks: %w", err)
	}
	rows.Close()

	if len(ids) > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE scheduled_tasks SET locked_at = now(), attempts = attempts + 1 WHERE id = ANY($1)`,
			pq.Array(uuidStrings(ids))); err != nil {
			return nil, fmt.Errorf("lock due tasks: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return tasks, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func (p *Postgres) RescheduleTask(ctx context.Context, taskID uuid.UUID, runAfter time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET run_after = $1, locked_at = NULL WHERE id = $2`, runAfter, taskID)
	if err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

var _ Store = (*Postgres)(nil)
