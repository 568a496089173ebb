// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fuelhub/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.Store with mutex-guarded maps. WithTx takes a
// copy-on-write snapshot so a failed unit of work leaves no partial effect,
// matching the rollback semantics of the SQLite store.
type Memory struct {
	mu sync.RWMutex
	d  *memData
}

func NewMemory() *Memory {
	return &Memory{d: newMemData()}
}

type memData struct {
	customers    map[ledger.CustomerID]ledger.Customer
	taxIDs       map[string]ledger.CustomerID
	wallets      map[ledger.CustomerID]*walletRec
	transactions []ledger.Transaction
	tokens       map[ledger.TokenID]ledger.Token
	promotions   []ledger.Promotion
}

type walletRec struct {
	money       decimal.Decimal
	fuel        map[ledger.FuelGrade]decimal.Decimal
	lastUpdated time.Time
}

func newMemData() *memData {
	return &memData{
		customers: make(map[ledger.CustomerID]ledger.Customer),
		taxIDs:    make(map[string]ledger.CustomerID),
		wallets:   make(map[ledger.CustomerID]*walletRec),
		tokens:    make(map[ledger.TokenID]ledger.Token),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.customers {
		c.customers[k] = v
	}
	for k, v := range d.taxIDs {
		c.taxIDs[k] = v
	}
	for k, v := range d.wallets {
		fuel := make(map[ledger.FuelGrade]decimal.Decimal, len(v.fuel))
		for g, q := range v.fuel {
			fuel[g] = q
		}
		c.wallets[k] = &walletRec{money: v.money, fuel: fuel, lastUpdated: v.lastUpdated}
	}
	for k, v := range d.tokens {
		c.tokens[k] = v
	}
	c.transactions = append(c.transactions, d.transactions...)
	c.promotions = append(c.promotions, d.promotions...)
	return c
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (d *memData) saveCustomer(c ledger.Customer) error {
	if _, taken := d.taxIDs[c.TaxID]; taken {
		return ledger.ErrDuplicateTaxID
	}
	d.customers[c.ID] = c
	d.taxIDs[c.TaxID] = c.ID
	return nil
}

func (d *memData) getCustomer(id ledger.CustomerID) *ledger.Customer {
	if c, ok := d.customers[id]; ok {
		return &c
	}
	return nil
}

func (d *memData) listCustomers(activeOnly bool) []ledger.Customer {
	var out []ledger.Customer
	for _, c := range d.customers {
		if activeOnly && !c.Active {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *memData) deactivateCustomer(id ledger.CustomerID) bool {
	c, ok := d.customers[id]
	if !ok || !c.Active {
		return false
	}
	c.Active = false
	d.customers[id] = c
	return true
}

func (d *memData) updateCustomer(id ledger.CustomerID, name, phone string) bool {
	c, ok := d.customers[id]
	if !ok {
		return false
	}
	c.Name = name
	c.Phone = phone
	d.customers[id] = c
	return true
}

// =============================================================================
// WALLETS - Guarded balance mutations
// =============================================================================

func (d *memData) createWallet(id ledger.CustomerID) {
	if _, exists := d.wallets[id]; exists {
		return
	}
	d.wallets[id] = &walletRec{
		money: decimal.Zero,
		fuel:  make(map[ledger.FuelGrade]decimal.Decimal),
	}
}

func (d *memData) getWallet(id ledger.CustomerID) *ledger.Wallet {
	w, ok := d.wallets[id]
	if !ok {
		return nil
	}
	fuel := make(map[ledger.FuelGrade]decimal.Decimal, len(ledger.Grades()))
	for _, g := range ledger.Grades() {
		fuel[g] = w.fuel[g]
	}
	return &ledger.Wallet{CustomerID: id, Money: w.money, Fuel: fuel, LastUpdated: w.lastUpdated}
}

// adjustMoney applies the delta iff the result stays >= 0. The check and the
// write happen under the same lock that serializes all mutations, which is
// this store's equivalent of a single-round-trip conditional update.
func (d *memData) adjustMoney(id ledger.CustomerID, delta decimal.Decimal, at time.Time) bool {
	w, ok := d.wallets[id]
	if !ok {
		return false
	}
	next := w.money.Add(delta)
	if next.IsNegative() {
		return false
	}
	w.money = next
	w.lastUpdated = at
	return true
}

func (d *memData) adjustFuel(id ledger.CustomerID, grade ledger.FuelGrade, delta decimal.Decimal, at time.Time) bool {
	w, ok := d.wallets[id]
	if !ok {
		return false
	}
	next := w.fuel[grade].Add(delta)
	if next.IsNegative() {
		return false
	}
	w.fuel[grade] = next
	w.lastUpdated = at
	return true
}

// =============================================================================
// TRANSACTION LOG - Append-only
// =============================================================================

func (d *memData) appendTransaction(tx ledger.Transaction) {
	d.transactions = append(d.transactions, tx)
}

func (d *memData) listTransactions(id ledger.CustomerID, limit int) []ledger.Transaction {
	var out []ledger.Transaction
	for i := len(d.transactions) - 1; i >= 0; i-- {
		if d.transactions[i].CustomerID != id {
			continue
		}
		out = append(out, d.transactions[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (d *memData) countTransactionsSince(since time.Time) int {
	n := 0
	for _, tx := range d.transactions {
		if !tx.CreatedAt.Before(since) {
			n++
		}
	}
	return n
}

// =============================================================================
// TOKENS - Guarded state transitions
// =============================================================================

func (d *memData) insertToken(t ledger.Token) {
	d.tokens[t.ID] = t
}

func (d *memData) getToken(id ledger.TokenID) *ledger.Token {
	if t, ok := d.tokens[id]; ok {
		return &t
	}
	return nil
}

func (d *memData) findPendingToken(pin string, site ledger.SiteID, now time.Time) *ledger.Token {
	for _, t := range d.tokens {
		if t.PIN == pin && t.SiteID == site && t.Status == ledger.TokenPending && t.ExpiresAt.After(now) {
			out := t
			return &out
		}
	}
	return nil
}

func (d *memData) redeemToken(id ledger.TokenID, site ledger.SiteID, by ledger.AttendantID, now time.Time) bool {
	t, ok := d.tokens[id]
	if !ok || t.SiteID != site || t.Status != ledger.TokenPending || !t.ExpiresAt.After(now) {
		return false
	}
	t.Status = ledger.TokenRedeemed
	t.RedeemedBy = by
	redeemedAt := now
	t.RedeemedAt = &redeemedAt
	d.tokens[id] = t
	return true
}

func (d *memData) transitionToken(id ledger.TokenID, from, to ledger.TokenStatus) bool {
	t, ok := d.tokens[id]
	if !ok || t.Status != from {
		return false
	}
	t.Status = to
	d.tokens[id] = t
	return true
}

func (d *memData) pendingTokensExpiredBy(now time.Time) []ledger.Token {
	var out []ledger.Token
	for _, t := range d.tokens {
		if t.Status == ledger.TokenPending && !t.ExpiresAt.After(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

// =============================================================================
// PROMOTIONS & AGGREGATES
// =============================================================================

func (d *memData) savePromotion(p ledger.Promotion) {
	d.promotions = append(d.promotions, p)
}

func (d *memData) listPromotions(site ledger.SiteID, activeOnly bool) []ledger.Promotion {
	var out []ledger.Promotion
	for _, p := range d.promotions {
		if activeOnly && !p.Active {
			continue
		}
		if site != "" && p.SiteID != "" && p.SiteID != site {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (d *memData) aggregateBalances() ledger.WalletTotals {
	totals := ledger.WalletTotals{
		Money:  decimal.Zero,
		Litres: make(map[ledger.FuelGrade]decimal.Decimal),
	}
	for _, g := range ledger.Grades() {
		totals.Litres[g] = decimal.Zero
	}
	for _, w := range d.wallets {
		totals.Money = totals.Money.Add(w.money)
		for _, g := range ledger.Grades() {
			totals.Litres[g] = totals.Litres[g].Add(w.fuel[g])
		}
	}
	return totals
}

func (d *memData) countActiveCustomers() int {
	n := 0
	for _, c := range d.customers {
		if c.Active {
			n++
		}
	}
	return n
}

// =============================================================================
// LEDGER.STORE WRAPPERS
// =============================================================================

func (m *Memory) SaveCustomer(_ context.Context, c ledger.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.saveCustomer(c)
}

func (m *Memory) GetCustomer(_ context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getCustomer(id), nil
}

func (m *Memory) ListCustomers(_ context.Context, activeOnly bool) ([]ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.listCustomers(activeOnly), nil
}

func (m *Memory) DeactivateCustomer(_ context.Context, id ledger.CustomerID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.deactivateCustomer(id), nil
}

func (m *Memory) UpdateCustomer(_ context.Context, id ledger.CustomerID, name, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.updateCustomer(id, name, phone), nil
}

func (m *Memory) CreateWallet(_ context.Context, id ledger.CustomerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.createWallet(id)
	return nil
}

func (m *Memory) GetWallet(_ context.Context, id ledger.CustomerID) (*ledger.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getWallet(id), nil
}

func (m *Memory) AdjustMoney(_ context.Context, id ledger.CustomerID, delta decimal.Decimal, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.adjustMoney(id, delta, at), nil
}

func (m *Memory) AdjustFuel(_ context.Context, id ledger.CustomerID, grade ledger.FuelGrade, delta decimal.Decimal, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.adjustFuel(id, grade, delta, at), nil
}

func (m *Memory) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.appendTransaction(tx)
	return nil
}

func (m *Memory) Transactions(_ context.Context, id ledger.CustomerID, limit int) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.listTransactions(id, limit), nil
}

func (m *Memory) CountTransactionsSince(_ context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.countTransactionsSince(since), nil
}

func (m *Memory) InsertToken(_ context.Context, t ledger.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.insertToken(t)
	return nil
}

func (m *Memory) GetToken(_ context.Context, id ledger.TokenID) (*ledger.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getToken(id), nil
}

func (m *Memory) FindPendingToken(_ context.Context, pin string, site ledger.SiteID, now time.Time) (*ledger.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.findPendingToken(pin, site, now), nil
}

func (m *Memory) RedeemToken(_ context.Context, id ledger.TokenID, site ledger.SiteID, by ledger.AttendantID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.redeemToken(id, site, by, now), nil
}

func (m *Memory) TransitionToken(_ context.Context, id ledger.TokenID, from, to ledger.TokenStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.transitionToken(id, from, to), nil
}

func (m *Memory) PendingTokensExpiredBy(_ context.Context, now time.Time) ([]ledger.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.pendingTokensExpiredBy(now), nil
}

func (m *Memory) SavePromotion(_ context.Context, p ledger.Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.savePromotion(p)
	return nil
}

func (m *Memory) ListPromotions(_ context.Context, site ledger.SiteID, activeOnly bool) ([]ledger.Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.listPromotions(site, activeOnly), nil
}

func (m *Memory) AggregateBalances(_ context.Context) (ledger.WalletTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.aggregateBalances(), nil
}

func (m *Memory) CountActiveCustomers(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.countActiveCustomers(), nil
}

// WithTx snapshots the data, runs fn against the snapshot, and swaps it in
// only when fn succeeds. Mutations from a failed fn are discarded.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := m.d.clone()
	if err := fn(&txView{d: clone}); err != nil {
		return err
	}
	m.d = clone
	return nil
}

// =============================================================================
// TX VIEW - Unlocked view over the snapshot
// =============================================================================

type txView struct {
	d *memData
}

func (v *txView) SaveCustomer(_ context.Context, c ledger.Customer) error {
	return v.d.saveCustomer(c)
}

func (v *txView) GetCustomer(_ context.Context, id ledger.CustomerID) (*ledger.Customer, error) {
	return v.d.getCustomer(id), nil
}

func (v *txView) ListCustomers(_ context.Context, activeOnly bool) ([]ledger.Customer, error) {
	return v.d.listCustomers(activeOnly), nil
}

func (v *txView) DeactivateCustomer(_ context.Context, id ledger.CustomerID) (bool, error) {
	return v.d.deactivateCustomer(id), nil
}

func (v *txView) UpdateCustomer(_ context.Context, id ledger.CustomerID, name, phone string) (bool, error) {
	return v.d.updateCustomer(id, name, phone), nil
}

func (v *txView) CreateWallet(_ context.Context, id ledger.CustomerID) error {
	v.d.createWallet(id)
	return nil
}

func (v *txView) GetWallet(_ context.Context, id ledger.CustomerID) (*ledger.Wallet, error) {
	return v.d.getWallet(id), nil
}

func (v *txView) AdjustMoney(_ context.Context, id ledger.CustomerID, delta decimal.Decimal, at time.Time) (bool, error) {
	return v.d.adjustMoney(id, delta, at), nil
}

func (v *txView) AdjustFuel(_ context.Context, id ledger.CustomerID, grade ledger.FuelGrade, delta decimal.Decimal, at time.Time) (bool, error) {
	return v.d.adjustFuel(id, grade, delta, at), nil
}

func (v *txView) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	v.d.appendTransaction(tx)
	return nil
}

func (v *txView) Transactions(_ context.Context, id ledger.CustomerID, limit int) ([]ledger.Transaction, error) {
	return v.d.listTransactions(id, limit), nil
}

func (v *txView) CountTransactionsSince(_ context.Context, since time.Time) (int, error) {
	return v.d.countTransactionsSince(since), nil
}

func (v *txView) InsertToken(_ context.Context, t ledger.Token) error {
	v.d.insertToken(t)
	return nil
}

func (v *txView) GetToken(_ context.Context, id ledger.TokenID) (*ledger.Token, error) {
	return v.d.getToken(id), nil
}

func (v *txView) FindPendingToken(_ context.Context, pin string, site ledger.SiteID, now time.Time) (*ledger.Token, error) {
	return v.d.findPendingToken(pin, site, now), nil
}

func (v *txView) RedeemToken(_ context.Context, id ledger.TokenID, site ledger.SiteID, by ledger.AttendantID, now time.Time) (bool, error) {
	return v.d.redeemToken(id, site, by, now), nil
}

func (v *txView) TransitionToken(_ context.Context, id ledger.TokenID, from, to ledger.TokenStatus) (bool, error) {
	return v.d.transitionToken(id, from, to), nil
}

func (v *txView) PendingTokensExpiredBy(_ context.Context, now time.Time) ([]ledger.Token, error) {
	return v.d.pendingTokensExpiredBy(now), nil
}

func (v *txView) SavePromotion(_ context.Context, p ledger.Promotion) error {
	v.d.savePromotion(p)
	return nil
}

func (v *txView) ListPromotions(_ context.Context, site ledger.SiteID, activeOnly bool) ([]ledger.Promotion, error) {
	return v.d.listPromotions(site, activeOnly), nil
}

func (v *txView) AggregateBalances(_ context.Context) (ledger.WalletTotals, error) {
	return v.d.aggregateBalances(), nil
}

func (v *txView) CountActiveCustomers(_ context.Context) (int, error) {
	return v.d.countActiveCustomers(), nil
}

// WithTx on a view runs fn directly: the outer transaction already owns the
// snapshot.
func (v *txView) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(v)
}
