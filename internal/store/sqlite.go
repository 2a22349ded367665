package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"brokersync/internal/errors"
	"brokersync/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Broker accounts, one row per (user, broker) link
	CREATE TABLE IF NOT EXISTS broker_accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		broker TEXT NOT NULL,
		display_name TEXT,
		status TEXT NOT NULL DEFAULT 'DISCONNECTED',
		connection_error TEXT DEFAULT '',
		last_connected DATETIME,
		last_sync DATETIME,
		is_primary INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, broker)
	);

	-- Encrypted credential envelopes, never stored in plaintext
	CREATE TABLE IF NOT EXISTS credential_blobs (
		account_id TEXT PRIMARY KEY,
		blob BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (account_id) REFERENCES broker_accounts(id) ON DELETE CASCADE
	);

	-- Holdings snapshot, fully replaced on every sync
	CREATE TABLE IF NOT EXISTS holdings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		t1_quantity INTEGER NOT NULL DEFAULT 0,
		pledged_quantity INTEGER NOT NULL DEFAULT 0,
		average_price REAL NOT NULL,
		last_price REAL NOT NULL,
		pnl REAL NOT NULL DEFAULT 0,
		pnl_percent REAL NOT NULL DEFAULT 0,
		invested_value REAL NOT NULL DEFAULT 0,
		current_value REAL NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, symbol, exchange),
		FOREIGN KEY (account_id) REFERENCES broker_accounts(id) ON DELETE CASCADE
	);

	-- Positions snapshot, replaced per (account, sync date)
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		product TEXT NOT NULL,
		net_quantity INTEGER NOT NULL,
		buy_quantity INTEGER NOT NULL DEFAULT 0,
		sell_quantity INTEGER NOT NULL DEFAULT 0,
		avg_buy_price REAL NOT NULL DEFAULT 0,
		avg_sell_price REAL NOT NULL DEFAULT 0,
		last_price REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		total_pnl REAL NOT NULL DEFAULT 0,
		sync_date DATE NOT NULL,
		UNIQUE(account_id, symbol, exchange, product, sync_date),
		FOREIGN KEY (account_id) REFERENCES broker_accounts(id) ON DELETE CASCADE
	);

	-- Orders, upserted by (account, broker order id), never deleted
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		broker_order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		order_type TEXT NOT NULL,
		product TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		trigger_price REAL NOT NULL DEFAULT 0,
		filled_quantity INTEGER NOT NULL DEFAULT 0,
		average_price REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		status_message TEXT DEFAULT '',
		placed_at DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, broker_order_id),
		FOREIGN KEY (account_id) REFERENCES broker_accounts(id) ON DELETE CASCADE
	);

	-- Immutable sync attempt log
	CREATE TABLE IF NOT EXISTS sync_logs (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		data_types TEXT NOT NULL,
		outcome TEXT NOT NULL,
		records INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_accounts_user ON broker_accounts(user_id);
	CREATE INDEX IF NOT EXISTS idx_holdings_account ON holdings(account_id);
	CREATE INDEX IF NOT EXISTS idx_positions_account_date ON positions(account_id, sync_date);
	CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_sync_logs_account ON sync_logs(account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Account Methods
// ============================================================================

// CreateAccount inserts a new broker account. A second account for the
// same (user, broker) pair fails with ErrDuplicateAccount.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *models.BrokerAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO broker_accounts (id, user_id, broker, display_name, status, is_primary, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, account.ID, account.UserID, string(account.Broker), account.DisplayName,
		string(account.Status), account.IsPrimary, account.IsActive, account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(errors.ErrDuplicateAccount, "user %s already has a %s account", account.UserID, account.Broker)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetAccount retrieves one account by id.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*models.BrokerAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, broker, display_name, status, connection_error,
		       last_connected, last_sync, is_primary, is_active, created_at
		FROM broker_accounts WHERE id = ?
	`, id)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*models.BrokerAccount, error) {
	var a models.BrokerAccount
	var broker, status string
	var lastConnected, lastSync sql.NullTime
	err := row.Scan(&a.ID, &a.UserID, &broker, &a.DisplayName, &status, &a.ConnectionError,
		&lastConnected, &lastSync, &a.IsPrimary, &a.IsActive, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.Broker = models.BrokerType(broker)
	a.Status = models.ConnectionStatus(status)
	if lastConnected.Valid {
		a.LastConnected = lastConnected.Time
	}
	if lastSync.Valid {
		a.LastSync = lastSync.Time
	}
	return &a, nil
}

// ListAccounts retrieves accounts matching the filter.
func (s *SQLiteStore) ListAccounts(ctx context.Context, filter AccountFilter) ([]models.BrokerAccount, error) {
	query := `
		SELECT id, user_id, broker, display_name, status, connection_error,
		       last_connected, last_sync, is_primary, is_active, created_at
		FROM broker_accounts WHERE 1=1`
	var args []interface{}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Broker != "" {
		query += " AND broker = ?"
		args = append(args, string(filter.Broker))
	}
	if filter.ActiveOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.BrokerAccount
	for rows.Next() {
		var a models.BrokerAccount
		var broker, status string
		var lastConnected, lastSync sql.NullTime
		if err := rows.Scan(&a.ID, &a.UserID, &broker, &a.DisplayName, &status, &a.ConnectionError,
			&lastConnected, &lastSync, &a.IsPrimary, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Broker = models.BrokerType(broker)
		a.Status = models.ConnectionStatus(status)
		if lastConnected.Valid {
			a.LastConnected = lastConnected.Time
		}
		if lastSync.Valid {
			a.LastSync = lastSync.Time
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateConnectionState writes the connection status fields. This is
// the only write path for status, connection_error and last_connected.
func (s *SQLiteStore) UpdateConnectionState(ctx context.Context, id string, status models.ConnectionStatus, connErr string, connectedAt *time.Time) error {
	var result sql.Result
	var err error
	if connectedAt != nil {
		result, err = s.db.ExecContext(ctx, `
			UPDATE broker_accounts SET status = ?, connection_error = ?, last_connected = ? WHERE id = ?
		`, string(status), connErr, *connectedAt, id)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE broker_accounts SET status = ?, connection_error = ? WHERE id = ?
		`, string(status), connErr, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update connection state: %w", err)
	}
	return requireRow(result, errors.ErrAccountNotFound)
}

// SetPrimaryAccount marks one account primary and clears the flag on
// every other account of the same user, in one transaction.
func (s *SQLiteStore) SetPrimaryAccount(ctx context.Context, userID, accountID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE broker_accounts SET is_primary = 0 WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to clear primary flags: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE broker_accounts SET is_primary = 1 WHERE id = ? AND user_id = ?
	`, accountID, userID)
	if err != nil {
		return fmt.Errorf("failed to set primary flag: %w", err)
	}
	if err := requireRow(result, errors.ErrAccountNotFound); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteAccount removes an account. Credentials, holdings, positions
// and orders cascade with it.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM broker_accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return requireRow(result, errors.ErrAccountNotFound)
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// ============================================================================
// Credential Blob Methods
// ============================================================================

// SaveCredentialBlob stores the encrypted credential envelope for an account.
func (s *SQLiteStore) SaveCredentialBlob(ctx context.Context, accountID string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credential_blobs (account_id, blob, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account_id) DO UPDATE SET blob = excluded.blob, updated_at = CURRENT_TIMESTAMP
	`, accountID, blob)
	if err != nil {
		return fmt.Errorf("failed to save credential blob: %w", err)
	}
	return nil
}

// GetCredentialBlob retrieves the encrypted credential envelope.
func (s *SQLiteStore) GetCredentialBlob(ctx context.Context, accountID string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM credential_blobs WHERE account_id = ?`, accountID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, errors.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential blob: %w", err)
	}
	return blob, nil
}

// ============================================================================
// Holdings and Positions Reads
// ============================================================================

// GetHoldings retrieves the current holdings snapshot for an account.
func (s *SQLiteStore) GetHoldings(ctx context.Context, accountID string) ([]models.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, symbol, exchange, quantity, t1_quantity, pledged_quantity,
		       average_price, last_price, pnl, pnl_percent, invested_value, current_value, updated_at
		FROM holdings WHERE account_id = ? ORDER BY symbol ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.ID, &h.AccountID, &h.Symbol, &h.Exchange, &h.Quantity, &h.T1Quantity,
			&h.PledgedQty, &h.AveragePrice, &h.LastPrice, &h.PnL, &h.PnLPercent,
			&h.InvestedValue, &h.CurrentValue, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// GetPositions retrieves the positions snapshot for an account and day.
func (s *SQLiteStore) GetPositions(ctx context.Context, accountID string, day time.Time) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, symbol, exchange, product, net_quantity, buy_quantity, sell_quantity,
		       avg_buy_price, avg_sell_price, last_price, realized_pnl, unrealized_pnl, total_pnl, sync_date
		FROM positions WHERE account_id = ? AND sync_date = ? ORDER BY symbol ASC
	`, accountID, dateOnly(day))
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		var p models.Position
		var product, syncDate string
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Symbol, &p.Exchange, &product, &p.NetQuantity,
			&p.BuyQuantity, &p.SellQuantity, &p.AvgBuyPrice, &p.AvgSellPrice, &p.LastPrice,
			&p.RealizedPnL, &p.UnrealizedPnL, &p.TotalPnL, &syncDate); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.Product = models.ProductType(product)
		p.SyncDate, _ = time.Parse("2006-01-02", syncDate)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func dateOnly(t time.Time) string {
	return t.Format("2006-01-02")
}

// ============================================================================
// Order Methods
// ============================================================================

// GetOrders retrieves orders matching the filter, newest first.
func (s *SQLiteStore) GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := `
		SELECT id, account_id, broker_order_id, symbol, exchange, transaction_type, order_type,
		       product, quantity, price, trigger_price, filled_quantity, average_price,
		       status, status_message, placed_at
		FROM orders WHERE 1=1`
	var args []interface{}
	if filter.AccountID != "" {
		query += " AND account_id = ?"
		args = append(args, filter.AccountID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY placed_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// GetOrder retrieves one order by its internal id.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, broker_order_id, symbol, exchange, transaction_type, order_type,
		       product, quantity, price, trigger_price, filled_quantity, average_price,
		       status, status_message, placed_at
		FROM orders WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query order: %w", err)
		}
		return nil, errors.ErrOrderNotFound
	}
	return scanOrder(rows)
}

// GetOrderByBrokerID retrieves one order by its broker-assigned id.
func (s *SQLiteStore) GetOrderByBrokerID(ctx context.Context, accountID, brokerOrderID string) (*models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, broker_order_id, symbol, exchange, transaction_type, order_type,
		       product, quantity, price, trigger_price, filled_quantity, average_price,
		       status, status_message, placed_at
		FROM orders WHERE account_id = ? AND broker_order_id = ?
	`, accountID, brokerOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query order: %w", err)
		}
		return nil, errors.ErrOrderNotFound
	}
	return scanOrder(rows)
}

func scanOrder(rows *sql.Rows) (*models.Order, error) {
	var o models.Order
	var transaction, orderType, product, status string
	if err := rows.Scan(&o.ID, &o.AccountID, &o.BrokerOrderID, &o.Symbol, &o.Exchange,
		&transaction, &orderType, &product, &o.Quantity, &o.Price, &o.TriggerPrice,
		&o.FilledQty, &o.AveragePrice, &status, &o.StatusMessage, &o.PlacedAt); err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	o.Transaction = models.TransactionType(transaction)
	o.Type = models.OrderType(orderType)
	o.Product = models.ProductType(product)
	o.Status = models.OrderStatus(status)
	return &o, nil
}

// UpsertOrder writes one order outside a sync transaction.
// UpsertOrder applies one order snapshot atomically. The status read
// and the write share a transaction so a concurrent sync cycle cannot
// interleave between them and resurrect a stale status.
func (s *SQLiteStore) UpsertOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertOrder(ctx, tx, order); err != nil {
		return err
	}
	return tx.Commit()
}

// execer covers *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// upsertOrder inserts or updates an order keyed by (account, broker
// order id). Status updates honor the monotonic state machine: an
// incoming status the current one cannot transition to keeps the
// stored status and message while other fields still refresh.
func upsertOrder(ctx context.Context, db execer, order *models.Order) error {
	var currentStatus, currentMessage string
	err := db.QueryRowContext(ctx, `
		SELECT status, status_message FROM orders WHERE account_id = ? AND broker_order_id = ?
	`, order.AccountID, order.BrokerOrderID).Scan(&currentStatus, &currentMessage)

	status := order.Status
	message := order.StatusMessage
	switch {
	case err == sql.ErrNoRows:
		// first sighting, insert below
	case err != nil:
		return fmt.Errorf("failed to query order status: %w", err)
	default:
		if !models.OrderStatus(currentStatus).CanTransition(order.Status) {
			status = models.OrderStatus(currentStatus)
			message = currentMessage
		}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO orders (id, account_id, broker_order_id, symbol, exchange, transaction_type,
		                    order_type, product, quantity, price, trigger_price, filled_quantity,
		                    average_price, status, status_message, placed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account_id, broker_order_id) DO UPDATE SET
			symbol = excluded.symbol,
			exchange = excluded.exchange,
			transaction_type = excluded.transaction_type,
			order_type = excluded.order_type,
			product = excluded.product,
			quantity = excluded.quantity,
			price = excluded.price,
			trigger_price = excluded.trigger_price,
			filled_quantity = excluded.filled_quantity,
			average_price = excluded.average_price,
			status = excluded.status,
			status_message = excluded.status_message,
			placed_at = excluded.placed_at,
			updated_at = CURRENT_TIMESTAMP
	`, order.ID, order.AccountID, order.BrokerOrderID, order.Symbol, order.Exchange,
		string(order.Transaction), string(order.Type), string(order.Product),
		order.Quantity, order.Price, order.TriggerPrice, order.FilledQty, order.AveragePrice,
		string(status), message, order.PlacedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}
	return nil
}

// ============================================================================
// Sync Methods
// ============================================================================

// RunSync runs fn inside one database transaction. Any error rolls back
// every write made through the SyncTx.
func (s *SQLiteStore) RunSync(ctx context.Context, fn func(SyncTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteSyncTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type sqliteSyncTx struct {
	tx *sql.Tx
}

// ReplaceHoldings deletes the account's holdings snapshot and inserts
// the fresh one.
func (t *sqliteSyncTx) ReplaceHoldings(ctx context.Context, accountID string, holdings []models.Holding) (int, error) {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM holdings WHERE account_id = ?`, accountID); err != nil {
		return 0, fmt.Errorf("failed to clear holdings: %w", err)
	}

	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO holdings (account_id, symbol, exchange, quantity, t1_quantity, pledged_quantity,
		                      average_price, last_price, pnl, pnl_percent, invested_value, current_value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, h := range holdings {
		_, err := stmt.ExecContext(ctx, accountID, h.Symbol, h.Exchange, h.Quantity, h.T1Quantity,
			h.PledgedQty, h.AveragePrice, h.LastPrice, h.PnL, h.PnLPercent, h.InvestedValue, h.CurrentValue)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, errors.NewReconciliationError("holding", h.Symbol+":"+h.Exchange, "duplicate row in vendor snapshot", err)
			}
			return 0, fmt.Errorf("failed to insert holding %s: %w", h.Symbol, err)
		}
	}
	return len(holdings), nil
}

// ReplacePositions deletes the account's positions for the day and
// inserts the fresh snapshot. Other days are untouched.
func (t *sqliteSyncTx) ReplacePositions(ctx context.Context, accountID string, day time.Time, positions []models.Position) (int, error) {
	if _, err := t.tx.ExecContext(ctx, `
		DELETE FROM positions WHERE account_id = ? AND sync_date = ?
	`, accountID, dateOnly(day)); err != nil {
		return 0, fmt.Errorf("failed to clear positions: %w", err)
	}

	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO positions (account_id, symbol, exchange, product, net_quantity, buy_quantity,
		                       sell_quantity, avg_buy_price, avg_sell_price, last_price,
		                       realized_pnl, unrealized_pnl, total_pnl, sync_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range positions {
		_, err := stmt.ExecContext(ctx, accountID, p.Symbol, p.Exchange, string(p.Product),
			p.NetQuantity, p.BuyQuantity, p.SellQuantity, p.AvgBuyPrice, p.AvgSellPrice,
			p.LastPrice, p.RealizedPnL, p.UnrealizedPnL, p.TotalPnL, dateOnly(day))
		if err != nil {
			if isUniqueViolation(err) {
				return 0, errors.NewReconciliationError("position", p.Symbol+":"+string(p.Product), "duplicate row in vendor snapshot", err)
			}
			return 0, fmt.Errorf("failed to insert position %s: %w", p.Symbol, err)
		}
	}
	return len(positions), nil
}

// UpsertOrder writes one synced order inside the transaction.
func (t *sqliteSyncTx) UpsertOrder(ctx context.Context, order *models.Order) error {
	return upsertOrder(ctx, t.tx, order)
}

// UpdateProfile refreshes the display name from the broker profile.
func (t *sqliteSyncTx) UpdateProfile(ctx context.Context, accountID string, profile models.Profile) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE broker_accounts SET display_name = ? WHERE id = ?
	`, profile.Name, accountID)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// UpdateLastSync stamps the account's last successful sync time.
func (t *sqliteSyncTx) UpdateLastSync(ctx context.Context, accountID string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE broker_accounts SET last_sync = ? WHERE id = ?
	`, at, accountID)
	if err != nil {
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	return nil
}

// InsertSyncLog records one sync attempt. Logs are written outside the
// sync transaction so failed syncs still leave a record.
func (s *SQLiteStore) InsertSyncLog(ctx context.Context, log *models.SyncLog) error {
	types := make([]string, len(log.DataTypes))
	for i, dt := range log.DataTypes {
		types[i] = string(dt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, account_id, data_types, outcome, records, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, log.ID, log.AccountID, strings.Join(types, ","), string(log.Outcome),
		log.Records, log.Duration.Milliseconds(), log.Error, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert sync log: %w", err)
	}
	return nil
}

// ListSyncLogs retrieves recent sync logs for an account, newest first.
func (s *SQLiteStore) ListSyncLogs(ctx context.Context, accountID string, limit int) ([]models.SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, data_types, outcome, records, duration_ms, error, created_at
		FROM sync_logs WHERE account_id = ? ORDER BY created_at DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var logs []models.SyncLog
	for rows.Next() {
		var l models.SyncLog
		var types, outcome string
		var durationMS int64
		if err := rows.Scan(&l.ID, &l.AccountID, &types, &outcome, &l.Records, &durationMS, &l.Error, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		l.Outcome = models.SyncOutcome(outcome)
		l.Duration = time.Duration(durationMS) * time.Millisecond
		for _, t := range strings.Split(types, ",") {
			if t != "" {
				l.DataTypes = append(l.DataTypes, models.SyncDataType(t))
			}
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Ensure SQLiteStore implements DataStore
var _ DataStore = (*SQLiteStore)(nil)
