package repositories

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err, "open sqlite")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection serialises writers the way row locks do on postgres
	sqlDB.SetMaxOpenConns(1)
	return db
}

func mustExec(t *testing.T, db *gorm.DB, q string, args ...interface{}) {
	t.Helper()
	require.NoError(t, db.Exec(q, args...).Error, "exec failed: query=%s", q)
}

func createPaymentIntentTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE payment_intents (
		id TEXT PRIMARY KEY,
		blockchain_payment_id TEXT UNIQUE,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		fee_rate TEXT NOT NULL DEFAULT '0',
		total_amount TEXT NOT NULL,
		platform TEXT,
		user_wallet_address TEXT NOT NULL,
		lp_wallet_address TEXT,
		locked_amount TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		status_history TEXT NOT NULL,
		payment_proof TEXT,
		transaction_hash TEXT,
		tx_status TEXT,
		block_confirmations INTEGER DEFAULT 0,
		last_synced_at DATETIME,
		sync_errors INTEGER DEFAULT 0,
		last_sync_error TEXT,
		expires_at DATETIME NOT NULL,
		claimed_at DATETIME,
		paid_at DATETIME,
		confirmed_at DATETIME,
		settled_at DATETIME,
		released_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	);`)
}

func createLiquidityProviderTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE liquidity_providers (
		id TEXT PRIMARY KEY,
		wallet_address TEXT NOT NULL UNIQUE,
		total_quota TEXT NOT NULL,
		locked_quota TEXT NOT NULL DEFAULT '0',
		available_quota TEXT NOT NULL,
		per_transaction_quota TEXT NOT NULL,
		fee_rate TEXT NOT NULL DEFAULT '0',
		supported_platforms TEXT,
		is_active BOOLEAN DEFAULT TRUE,
		created_at DATETIME,
		updated_at DATETIME
	);`)
}

func createRetryQueueTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE retry_queue_entries (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		data TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL,
		status TEXT NOT NULL,
		next_retry_at DATETIME,
		last_error TEXT,
		processed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	);`)
}

// NewTestDB opens an isolated in-memory database with every table created.
// Usecase integration tests in other packages use it.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := newTestDB(t)
	createPaymentIntentTable(t, db)
	createLiquidityProviderTable(t, db)
	createRetryQueueTable(t, db)
	return db
}
