/*
Package sqlite provides the SQLite-backed implementation of ledger.Store.

PURPOSE:
  Implements the full persistence surface (customers, wallets, the append-only
  transaction log, tokens, promotions, aggregates) using SQLite. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect differences.

GUARDED CONDITIONAL UPDATES:
  The invariant-bearing mutations are single UPDATE statements whose WHERE
  clause carries the precondition:

    UPDATE wallets SET money_cents = money_cents + ?
     WHERE customer_id = ? AND money_cents + ? >= 0

    UPDATE tokens SET status = 'REDEEMED', ...
     WHERE id = ? AND status = 'PENDING' AND expires_at_ns > ?

  RowsAffected reports whether the precondition held. The check and the write
  are one atomic round trip, so concurrent spenders/redeemers race on the
  database's own serialization instead of on stale application reads.

STORAGE ENCODING:
  Money and litres are stored as INTEGER minor units (cents, millilitres) so
  SQL can do exact guarded arithmetic. decimal.Decimal values at the domain's
  declared scales convert losslessly. Recorded unit prices are TEXT since they
  never participate in arithmetic. Token expiry is stored as Unix nanoseconds
  so the expiry guard is an integer comparison. Log timestamps are
  whole-second RFC3339 UTC strings, which order lexicographically.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch the transactions table. Corrections
  are REVERSAL entries.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety plus a single pooled connection
  (SetMaxOpenConns(1)): with ":memory:" each pooled connection would
  otherwise get its own private database. WAL mode is enabled for better
  reader concurrency on file-backed databases.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fuelhub/loyalty-engine/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: the pool would hand ":memory:" callers separate
	// databases, and SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Customers (soft-deleted via active flag, never removed)
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tax_id TEXT NOT NULL UNIQUE,
		phone TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		site_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_customers_active
		ON customers(active);

	-- Wallets: one money balance plus one litre balance per grade, in
	-- integer minor units so guarded arithmetic runs in SQL
	CREATE TABLE IF NOT EXISTS wallets (
		customer_id TEXT PRIMARY KEY REFERENCES customers(id),
		money_cents INTEGER NOT NULL DEFAULT 0,
		gc_ml INTEGER NOT NULL DEFAULT 0,
		ga_ml INTEGER NOT NULL DEFAULT 0,
		et_ml INTEGER NOT NULL DEFAULT 0,
		s10_ml INTEGER NOT NULL DEFAULT 0,
		ds_ml INTEGER NOT NULL DEFAULT 0,
		last_updated TEXT NOT NULL
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		money_delta_cents INTEGER NOT NULL DEFAULT 0,
		grade TEXT NOT NULL DEFAULT '',
		litres_delta_ml INTEGER NOT NULL DEFAULT 0,
		unit_price TEXT NOT NULL DEFAULT '',
		site_id TEXT NOT NULL DEFAULT '',
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	-- History view (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_customer_created
		ON transactions(customer_id, created_at DESC);

	-- Dashboard "today" counter
	CREATE INDEX IF NOT EXISTS idx_transactions_created
		ON transactions(created_at);

	-- Redemption tokens
	CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		site_id TEXT NOT NULL DEFAULT '',
		grade TEXT NOT NULL,
		litres_ml INTEGER NOT NULL,
		pin TEXT NOT NULL,
		expires_at_ns INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		redeemed_by TEXT,
		redeemed_at TEXT,
		created_at TEXT NOT NULL
	);

	-- Attendant PIN lookup (hot path)
	CREATE INDEX IF NOT EXISTS idx_tokens_pin_site_status
		ON tokens(pin, site_id, status);

	-- Expiry sweep candidates
	CREATE INDEX IF NOT EXISTS idx_tokens_status_expiry
		ON tokens(status, expires_at_ns);

	-- Promotions (campaign records, no ledger invariants)
	CREATE TABLE IF NOT EXISTS promotions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		minimum_value TEXT NOT NULL DEFAULT '0',
		bonus_percent TEXT NOT NULL DEFAULT '0',
		grade TEXT NOT NULL DEFAULT '',
		starts_at TEXT NOT NULL,
		ends_at TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		site_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_promotions_site_active
		ON promotions(site_id, active);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STORAGE ENCODING HELPERS
// =============================================================================

// gradeColumn maps each grade to its wallet column. Grades arrive validated
// at the API boundary; the map is the only place a grade ever reaches SQL
// text, so no user input is interpolated into a query.
var gradeColumn = map[ledger.FuelGrade]string{
	ledger.GradeGasolineCommon:   "gc_ml",
	ledger.GradeGasolineAdditive: "ga_ml",
	ledger.GradeEthanol:          "et_ml",
	ledger.GradeDieselS10:        "s10_ml",
	ledger.GradeDieselCommon:     "ds_ml",
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(ledger.MoneyScale).IntPart()
}

func centsToMoney(c int64) decimal.Decimal {
	return decimal.New(c, -ledger.MoneyScale)
}

func toMillilitres(d decimal.Decimal) int64 {
	return d.Shift(ledger.LitresScale).IntPart()
}

func mlToLitres(ml int64) decimal.Decimal {
	return decimal.New(ml, -ledger.LitresScale)
}

// logTime formats a timestamp for the transactions table. Whole-second
// RFC3339 UTC strings compare lexicographically in timestamp order.
func logTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// querier is satisfied by both *sql.DB and *sql.Tx so the data access
// functions below serve the plain store and the transactional view alike.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func saveCustomer(ctx context.Context, q querier, c ledger.Customer) error {
	query := `
		INSERT INTO customers (id, name, tax_id, phone, active, site_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		string(c.ID), c.Name, c.TaxID, c.Phone, boolToInt(c.Active),
		string(c.SiteID), logTime(c.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateTaxID
		}
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

func getCustomer(ctx context.Context, q querier, id ledger.CustomerID) (*ledger.Customer, error) {
	row := q.QueryRowContext(ctx,
		"SELECT id, name, tax_id, phone, active, site_id, created_at FROM customers WHERE id = ?",
		string(id),
	)
	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func listCustomers(ctx context.Context, q querier, activeOnly bool) ([]ledger.Customer, error) {
	query := "SELECT id, name, tax_id, phone, active, site_id, created_at FROM customers"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY name"

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []ledger.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

func deactivateCustomer(ctx context.Context, q querier, id ledger.CustomerID) (bool, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE customers SET active = 0 WHERE id = ? AND active = 1",
		string(id),
	)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate customer: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func updateCustomer(ctx context.Context, q querier, id ledger.CustomerID, name, phone string) (bool, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE customers SET name = ?, phone = ? WHERE id = ?",
		name, phone, string(id),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update customer: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(r rowScanner) (*ledger.Customer, error) {
	var c ledger.Customer
	var active int
	var createdAt string

	if err := r.Scan(&c.ID, &c.Name, &c.TaxID, &c.Phone, &active, &c.SiteID, &createdAt); err != nil {
		return nil, err
	}
	c.Active = active != 0
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

// =============================================================================
// WALLETS - Guarded balance mutations
// =============================================================================

func createWallet(ctx context.Context, q querier, id ledger.CustomerID) error {
	query := `
		INSERT INTO wallets (customer_id, last_updated)
		VALUES (?, ?)
		ON CONFLICT(customer_id) DO NOTHING
	`
	_, err := q.ExecContext(ctx, query, string(id), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func getWallet(ctx context.Context, q querier, id ledger.CustomerID) (*ledger.Wallet, error) {
	var (
		moneyCents          int64
		gc, ga, et, s10, ds int64
		lastUpdated         string
	)

	err := q.QueryRowContext(ctx,
		`SELECT money_cents, gc_ml, ga_ml, et_ml, s10_ml, ds_ml, last_updated
		 FROM wallets WHERE customer_id = ?`,
		string(id),
	).Scan(&moneyCents, &gc, &ga, &et, &s10, &ds, &lastUpdated)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	w := &ledger.Wallet{
		CustomerID: id,
		Money:      centsToMoney(moneyCents),
		Fuel: map[ledger.FuelGrade]decimal.Decimal{
			ledger.GradeGasolineCommon:   mlToLitres(gc),
			ledger.GradeGasolineAdditive: mlToLitres(ga),
			ledger.GradeEthanol:          mlToLitres(et),
			ledger.GradeDieselS10:        mlToLitres(s10),
			ledger.GradeDieselCommon:     mlToLitres(ds),
		},
	}
	w.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
	return w, nil
}

// adjustMoney is the money-balance conditional update. The WHERE clause is
// the non-negativity invariant; RowsAffected reports whether it held.
func adjustMoney(ctx context.Context, q querier, id ledger.CustomerID, delta decimal.Decimal, at time.Time) (bool, error) {
	cents := toCents(delta)

	res, err := q.ExecContext(ctx,
		`UPDATE wallets
		    SET money_cents = money_cents + ?, last_updated = ?
		  WHERE customer_id = ? AND money_cents + ? >= 0`,
		cents, at.UTC().Format(time.RFC3339), string(id), cents,
	)
	if err != nil {
		return false, fmt.Errorf("failed to adjust money balance: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func adjustFuel(ctx context.Context, q querier, id ledger.CustomerID, grade ledger.FuelGrade, delta decimal.Decimal, at time.Time) (bool, error) {
	col, ok := gradeColumn[grade]
	if !ok {
		return false, ledger.ErrInvalidGrade
	}
	ml := toMillilitres(delta)

	query := fmt.Sprintf(
		`UPDATE wallets
		    SET %[1]s = %[1]s + ?, last_updated = ?
		  WHERE customer_id = ? AND %[1]s + ? >= 0`, col)

	res, err := q.ExecContext(ctx, query, ml, at.UTC().Format(time.RFC3339), string(id), ml)
	if err != nil {
		return false, fmt.Errorf("failed to adjust fuel balance: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// =============================================================================
// TRANSACTION LOG - Append-only
// =============================================================================

func appendTransaction(ctx context.Context, q querier, tx ledger.Transaction) error {
	metadataJSON, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions
		(id, customer_id, kind, status, money_delta_cents, grade, litres_delta_ml,
		 unit_price, site_id, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	unitPrice := ""
	if !tx.UnitPrice.IsZero() {
		unitPrice = tx.UnitPrice.String()
	}

	_, err := q.ExecContext(ctx, query,
		string(tx.ID),
		string(tx.CustomerID),
		string(tx.Kind),
		string(tx.Status),
		toCents(tx.MoneyDelta),
		string(tx.Grade),
		toMillilitres(tx.LitresDelta),
		unitPrice,
		string(tx.SiteID),
		string(metadataJSON),
		logTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func listTransactions(ctx context.Context, q querier, id ledger.CustomerID, limit int) ([]ledger.Transaction, error) {
	query := `
		SELECT id, customer_id, kind, status, money_delta_cents, grade,
		       litres_delta_ml, unit_price, site_id, metadata_json, created_at
		FROM transactions
		WHERE customer_id = ?
		ORDER BY created_at DESC, rowid DESC
	`
	args := []any{string(id)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func countTransactionsSince(ctx context.Context, q querier, since time.Time) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE created_at >= ?",
		logTime(since),
	).Scan(&count)
	return count, err
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx              ledger.Transaction
		moneyDeltaCents int64
		litresDeltaML   int64
		unitPrice       string
		metadataJSON    sql.NullString
		createdAt       string
	)

	err := rows.Scan(
		&tx.ID, &tx.CustomerID, &tx.Kind, &tx.Status, &moneyDeltaCents,
		&tx.Grade, &litresDeltaML, &unitPrice, &tx.SiteID, &metadataJSON, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.MoneyDelta = centsToMoney(moneyDeltaCents)
	tx.LitresDelta = mlToLitres(litresDeltaML)
	if unitPrice != "" {
		tx.UnitPrice, _ = decimal.NewFromString(unitPrice)
	}
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata)
	}
	return tx, nil
}

// =============================================================================
// TOKENS - Guarded state transitions
// =============================================================================

func insertToken(ctx context.Context, q querier, t ledger.Token) error {
	query := `
		INSERT INTO tokens
		(id, customer_id, site_id, grade, litres_ml, pin, expires_at_ns, status,
		 redeemed_by, redeemed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var redeemedAt *string
	if t.RedeemedAt != nil {
		v := t.RedeemedAt.UTC().Format(time.RFC3339Nano)
		redeemedAt = &v
	}

	_, err := q.ExecContext(ctx, query,
		string(t.ID), string(t.CustomerID), string(t.SiteID), string(t.Grade),
		toMillilitres(t.Litres), t.PIN, t.ExpiresAt.UnixNano(), string(t.Status),
		nullString(string(t.RedeemedBy)), redeemedAt,
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

const tokenColumns = `id, customer_id, site_id, grade, litres_ml, pin,
	expires_at_ns, status, redeemed_by, redeemed_at, created_at`

func getToken(ctx context.Context, q querier, id ledger.TokenID) (*ledger.Token, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	t, err := scanToken(rows)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func findPendingToken(ctx context.Context, q querier, pin string, site ledger.SiteID, now time.Time) (*ledger.Token, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+tokenColumns+`
		 FROM tokens
		 WHERE pin = ? AND site_id = ? AND status = ? AND expires_at_ns > ?
		 LIMIT 1`,
		pin, string(site), string(ledger.TokenPending), now.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	t, err := scanToken(rows)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// redeemToken is the exactly-once consumption update. The status and expiry
// predicates live in the WHERE clause, so of any number of concurrent
// redeemers exactly one observes RowsAffected = 1.
func redeemToken(ctx context.Context, q querier, id ledger.TokenID, site ledger.SiteID, by ledger.AttendantID, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE tokens
		    SET status = ?, redeemed_by = ?, redeemed_at = ?
		  WHERE id = ? AND site_id = ? AND status = ? AND expires_at_ns > ?`,
		string(ledger.TokenRedeemed), string(by), now.UTC().Format(time.RFC3339Nano),
		string(id), string(site), string(ledger.TokenPending), now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to redeem token: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func transitionToken(ctx context.Context, q querier, id ledger.TokenID, from, to ledger.TokenStatus) (bool, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE tokens SET status = ? WHERE id = ? AND status = ?",
		string(to), string(id), string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition token: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func pendingTokensExpiredBy(ctx context.Context, q querier, now time.Time) ([]ledger.Token, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+tokenColumns+`
		 FROM tokens
		 WHERE status = ? AND expires_at_ns <= ?
		 ORDER BY expires_at_ns ASC`,
		string(ledger.TokenPending), now.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []ledger.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func scanToken(rows *sql.Rows) (ledger.Token, error) {
	var (
		t           ledger.Token
		litresML    int64
		expiresAtNS int64
		redeemedBy  sql.NullString
		redeemedAt  sql.NullString
		createdAt   string
	)

	err := rows.Scan(
		&t.ID, &t.CustomerID, &t.SiteID, &t.Grade, &litresML, &t.PIN,
		&expiresAtNS, &t.Status, &redeemedBy, &redeemedAt, &createdAt,
	)
	if err != nil {
		return t, fmt.Errorf("failed to scan token: %w", err)
	}

	t.Litres = mlToLitres(litresML)
	t.ExpiresAt = time.Unix(0, expiresAtNS).UTC()
	t.RedeemedBy = ledger.AttendantID(redeemedBy.String)
	if redeemedAt.Valid {
		at, _ := time.Parse(time.RFC3339Nano, redeemedAt.String)
		t.RedeemedAt = &at
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return t, nil
}

// =============================================================================
// PROMOTIONS
// =============================================================================

func savePromotion(ctx context.Context, q querier, p ledger.Promotion) error {
	query := `
		INSERT INTO promotions
		(id, title, description, kind, minimum_value, bonus_percent, grade,
		 starts_at, ends_at, active, site_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			minimum_value = excluded.minimum_value,
			bonus_percent = excluded.bonus_percent,
			ends_at = excluded.ends_at,
			active = excluded.active
	`

	var endsAt *string
	if p.EndsAt != nil {
		v := p.EndsAt.UTC().Format(time.RFC3339)
		endsAt = &v
	}

	_, err := q.ExecContext(ctx, query,
		p.ID, p.Title, p.Description, string(p.Kind),
		p.MinimumValue.String(), p.BonusPercent.String(), string(p.Grade),
		p.StartsAt.UTC().Format(time.RFC3339), endsAt,
		boolToInt(p.Active), string(p.SiteID),
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save promotion: %w", err)
	}
	return nil
}

func listPromotions(ctx context.Context, q querier, site ledger.SiteID, activeOnly bool) ([]ledger.Promotion, error) {
	query := `
		SELECT id, title, description, kind, minimum_value, bonus_percent, grade,
		       starts_at, ends_at, active, site_id, created_at
		FROM promotions
		WHERE (site_id = '' OR ? = '' OR site_id = ?)
	`
	args := []any{string(site), string(site)}
	if activeOnly {
		query += " AND active = 1"
	}
	query += " ORDER BY created_at DESC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var promotions []ledger.Promotion
	for rows.Next() {
		var (
			p        ledger.Promotion
			minimum  string
			bonus    string
			startsAt string
			endsAt   sql.NullString
			active   int
			created  string
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Kind, &minimum,
			&bonus, &p.Grade, &startsAt, &endsAt, &active, &p.SiteID, &created); err != nil {
			return nil, err
		}
		p.MinimumValue, _ = decimal.NewFromString(minimum)
		p.BonusPercent, _ = decimal.NewFromString(bonus)
		p.StartsAt, _ = time.Parse(time.RFC3339, startsAt)
		if endsAt.Valid {
			t, _ := time.Parse(time.RFC3339, endsAt.String)
			p.EndsAt = &t
		}
		p.Active = active != 0
		p.CreatedAt, _ = time.Parse(time.RFC3339, created)
		promotions = append(promotions, p)
	}
	return promotions, rows.Err()
}

// =============================================================================
// AGGREGATES
// =============================================================================

func aggregateBalances(ctx context.Context, q querier) (ledger.WalletTotals, error) {
	var moneyCents, gc, ga, et, s10, ds int64

	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(money_cents), 0), COALESCE(SUM(gc_ml), 0),
		        COALESCE(SUM(ga_ml), 0), COALESCE(SUM(et_ml), 0),
		        COALESCE(SUM(s10_ml), 0), COALESCE(SUM(ds_ml), 0)
		 FROM wallets`,
	).Scan(&moneyCents, &gc, &ga, &et, &s10, &ds)
	if err != nil {
		return ledger.WalletTotals{}, fmt.Errorf("failed to aggregate balances: %w", err)
	}

	return ledger.WalletTotals{
		Money: centsToMoney(moneyCents),
		Litres: map[ledger.FuelGrade]decimal.Decimal{
			ledger.GradeGasolineCommon:   mlToLitres(gc),
			ledger.GradeGasolineAdditive: mlToLitres(ga),
			ledger.GradeEthanol:          mlToLitres(et),
			ledger.GradeDieselS10:        mlToLitres(s10),
			ledger.GradeDieselCommon:     mlToLitres(ds),
		},
	}, nil
}

func countActiveCustomers(ctx context.Context, q querier) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM customers WHERE active = 1",
	).Scan(&count)
	return count, err
}

// =============================================================================
// LEDGER.STORE - Locked wrappers over *sql.DB
// =============================================================================

func (s *Store) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCustomer(ctx, s.db, c)
}

func (s *Store) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCustomer(ctx, s.db, id)
}

func (s *Store) ListCustomers(ctx context.Context, activeOnly bool) ([]ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCustomers(ctx, s.db, activeOnly)
}

func (s *Store) DeactivateCustomer(ctx context.Context, id ledger.CustomerID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deactivateCustomer(ctx, s.db, id)
}

func (s *Store) UpdateCustomer(ctx context.Context, id ledger.CustomerID, name, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateCustomer(ctx, s.db, id, name, phone)
}

func (s *Store) CreateWallet(ctx context.Context, id ledger.CustomerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createWallet(ctx, s.db, id)
}

func (s *Store) GetWallet(ctx context.Context, id ledger.CustomerID) (*ledger.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getWallet(ctx, s.db, id)
}

func (s *Store) AdjustMoney(ctx context.Context, id ledger.CustomerID, delta decimal.Decimal, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return adjustMoney(ctx, s.db, id, delta, at)
}

func (s *Store) AdjustFuel(ctx context.Context, id ledger.CustomerID, grade ledger.FuelGrade, delta decimal.Decimal, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return adjustFuel(ctx, s.db, id, grade, delta, at)
}

func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func (s *Store) Transactions(ctx context.Context, id ledger.CustomerID, limit int) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db, id, limit)
}

func (s *Store) CountTransactionsSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countTransactionsSince(ctx, s.db, since)
}

func (s *Store) InsertToken(ctx context.Context, t ledger.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertToken(ctx, s.db, t)
}

func (s *Store) GetToken(ctx context.Context, id ledger.TokenID) (*ledger.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getToken(ctx, s.db, id)
}

func (s *Store) FindPendingToken(ctx context.Context, pin string, site ledger.SiteID, now time.Time) (*ledger.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findPendingToken(ctx, s.db, pin, site, now)
}

func (s *Store) RedeemToken(ctx context.Context, id ledger.TokenID, site ledger.SiteID, by ledger.AttendantID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return redeemToken(ctx, s.db, id, site, by, now)
}

func (s *Store) TransitionToken(ctx context.Context, id ledger.TokenID, from, to ledger.TokenStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transitionToken(ctx, s.db, id, from, to)
}

func (s *Store) PendingTokensExpiredBy(ctx context.Context, now time.Time) ([]ledger.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pendingTokensExpiredBy(ctx, s.db, now)
}

func (s *Store) SavePromotion(ctx context.Context, p ledger.Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePromotion(ctx, s.db, p)
}

func (s *Store) ListPromotions(ctx context.Context, site ledger.SiteID, activeOnly bool) ([]ledger.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPromotions(ctx, s.db, site, activeOnly)
}

func (s *Store) AggregateBalances(ctx context.Context) (ledger.WalletTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return aggregateBalances(ctx, s.db)
}

func (s *Store) CountActiveCustomers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countActiveCustomers(ctx, s.db)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction. The mutex is held for
// the whole transaction, so the txStore below must not touch it.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call at the open *sql.Tx. It never takes the parent
// mutex: WithTx already holds the write lock, and re-locking here would
// deadlock.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	return saveCustomer(ctx, ts.tx, c)
}

func (ts *txStore) GetCustomer(ctx context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	return getCustomer(ctx, ts.tx, id)
}

func (ts *txStore) ListCustomers(ctx context.Context, activeOnly bool) ([]ledger.Customer, error) {
	return listCustomers(ctx, ts.tx, activeOnly)
}

func (ts *txStore) DeactivateCustomer(ctx context.Context, id ledger.CustomerID) (bool, error) {
	return deactivateCustomer(ctx, ts.tx, id)
}

func (ts *txStore) UpdateCustomer(ctx context.Context, id ledger.CustomerID, name, phone string) (bool, error) {
	return updateCustomer(ctx, ts.tx, id, name, phone)
}

func (ts *txStore) CreateWallet(ctx context.Context, id ledger.CustomerID) error {
	return createWallet(ctx, ts.tx, id)
}

func (ts *txStore) GetWallet(ctx context.Context, id ledger.CustomerID) (*ledger.Wallet, error) {
	return getWallet(ctx, ts.tx, id)
}

func (ts *txStore) AdjustMoney(ctx context.Context, id ledger.CustomerID, delta decimal.Decimal, at time.Time) (bool, error) {
	return adjustMoney(ctx, ts.tx, id, delta, at)
}

func (ts *txStore) AdjustFuel(ctx context.Context, id ledger.CustomerID, grade ledger.FuelGrade, delta decimal.Decimal, at time.Time) (bool, error) {
	return adjustFuel(ctx, ts.tx, id, grade, delta, at)
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	return appendTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) Transactions(ctx context.Context, id ledger.CustomerID, limit int) ([]ledger.Transaction, error) {
	return listTransactions(ctx, ts.tx, id, limit)
}

func (ts *txStore) CountTransactionsSince(ctx context.Context, since time.Time) (int, error) {
	return countTransactionsSince(ctx, ts.tx, since)
}

func (ts *txStore) InsertToken(ctx context.Context, t ledger.Token) error {
	return insertToken(ctx, ts.tx, t)
}

func (ts *txStore) GetToken(ctx context.Context, id ledger.TokenID) (*ledger.Token, error) {
	return getToken(ctx, ts.tx, id)
}

func (ts *txStore) FindPendingToken(ctx context.Context, pin string, site ledger.SiteID, now time.Time) (*ledger.Token, error) {
	return findPendingToken(ctx, ts.tx, pin, site, now)
}

func (ts *txStore) RedeemToken(ctx context.Context, id ledger.TokenID, site ledger.SiteID, by ledger.AttendantID, now time.Time) (bool, error) {
	return redeemToken(ctx, ts.tx, id, site, by, now)
}

func (ts *txStore) TransitionToken(ctx context.Context, id ledger.TokenID, from, to ledger.TokenStatus) (bool, error) {
	return transitionToken(ctx, ts.tx, id, from, to)
}

func (ts *txStore) PendingTokensExpiredBy(ctx context.Context, now time.Time) ([]ledger.Token, error) {
	return pendingTokensExpiredBy(ctx, ts.tx, now)
}

func (ts *txStore) SavePromotion(ctx context.Context, p ledger.Promotion) error {
	return savePromotion(ctx, ts.tx, p)
}

func (ts *txStore) ListPromotions(ctx context.Context, site ledger.SiteID, activeOnly bool) ([]ledger.Promotion, error) {
	return listPromotions(ctx, ts.tx, site, activeOnly)
}

func (ts *txStore) AggregateBalances(ctx context.Context) (ledger.WalletTotals, error) {
	return aggregateBalances(ctx, ts.tx)
}

func (ts *txStore) CountActiveCustomers(ctx context.Context) (int, error) {
	return countActiveCustomers(ctx, ts.tx)
}

// WithTx on a txStore runs fn against the already-open transaction.
func (ts *txStore) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	return fn(ts)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "tokens", "promotions", "wallets", "customers"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
