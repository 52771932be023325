// Package portfolio holds the authoritative balance ledger. Every mutation
// is atomic with respect to a single asset row; cross-asset settlement locks
// both rows in lexicographic order so concurrent settles cannot deadlock.
package portfolio

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/trading-engine/internal/models"
)

// BalanceStore is the persistence collaborator for asset rows.
type BalanceStore interface {
	UpsertBalance(ctx context.Context, b *models.PortfolioBalance) error
	GetBalances(ctx context.Context) ([]*models.PortfolioBalance, error)
}

// ValuationCache receives the latest USD valuations (best effort).
type ValuationCache interface {
	SetAssetValuation(ctx context.Context, asset string, usdValue decimal.Decimal, ttl time.Duration) error
}

// PeakStore persists the running equity peak so trailing drawdown survives
// a restart.
type PeakStore interface {
	GetSystemValue(ctx context.Context, key string) (string, error)
	SetSystemValue(ctx context.Context, key, value string) error
}

const equityPeakKey = "equity_peak"

type assetRow struct {
	mu       sync.Mutex
	free     decimal.Decimal
	locked   decimal.Decimal
	usdPrice decimal.Decimal
}

// Ledger tracks free and locked balances per asset plus the running equity
// peak used for trailing drawdown.
type Ledger struct {
	mu     sync.Mutex // guards assets map structure and equity peak
	assets map[string]*assetRow
	peak   decimal.Decimal

	store BalanceStore   // optional
	cache ValuationCache // optional
	peaks PeakStore      // optional
}

// NewLedger creates an empty ledger.
func NewLedger(store BalanceStore, cache ValuationCache, peaks PeakStore) *Ledger {
	return &Ledger{
		assets: make(map[string]*assetRow),
		store:  store,
		cache:  cache,
		peaks:  peaks,
	}
}

// Load restores asset rows from the store and the equity peak from the peak
// store, so the drawdown gate does not restart from flat. A persisted peak
// below the restored equity is superseded by the equity itself.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	balances, err := l.store.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range balances {
		var price decimal.Decimal
		if total := b.Total(); total.IsPositive() {
			price = b.USDValue.Div(total)
		}
		l.assets[b.Asset] = &assetRow{free: b.Free, locked: b.Locked, usdPrice: price}
	}
	l.peak = l.equityLocked()
	if l.peaks != nil {
		raw, err := l.peaks.GetSystemValue(ctx, equityPeakKey)
		if err != nil {
			log.Printf("Warning: failed to load equity peak: %v", err)
		} else if raw != "" {
			saved, err := decimal.NewFromString(raw)
			if err != nil {
				log.Printf("Warning: ignoring malformed equity peak %q: %v", raw, err)
			} else if saved.GreaterThan(l.peak) {
				l.peak = saved
			}
		}
	}
	return nil
}

// Deposit credits free balance. Used for seeding and exchange transfers in.
func (l *Ledger) Deposit(ctx context.Context, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &models.ValidationError{Field: "amount", Reason: "deposit must be positive"}
	}
	row := l.row(asset)
	row.mu.Lock()
	row.free = row.free.Add(amount)
	l.writeThrough(ctx, asset, row)
	row.mu.Unlock()
	l.trackEquity(ctx)
	return nil
}

// Reserve moves amount from free to locked ahead of an order placement.
func (l *Ledger) Reserve(ctx context.Context, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &models.ValidationError{Field: "amount", Reason: "reservation must be positive"}
	}
	row := l.row(asset)
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.free.LessThan(amount) {
		return fmt.Errorf("reserve %s %s (free %s): %w", amount, asset, row.free, models.ErrInsufficientBalance)
	}
	row.free = row.free.Sub(amount)
	row.locked = row.locked.Add(amount)
	l.writeThrough(ctx, asset, row)
	return nil
}

// Release moves amount from locked back to free (cancelled or unfilled
// remainder of a reservation).
func (l *Ledger) Release(ctx context.Context, asset string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return &models.ValidationError{Field: "amount", Reason: "release must be non-negative"}
	}
	row := l.row(asset)
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.locked.LessThan(amount) {
		return fmt.Errorf("release %s %s (locked %s): %w", amount, asset, row.locked, models.ErrInsufficientBalance)
	}
	row.locked = row.locked.Sub(amount)
	row.free = row.free.Add(amount)
	l.writeThrough(ctx, asset, row)
	return nil
}

// Settle applies a trade fill as one logical transaction: debitAmount leaves
// debitAsset's locked balance and creditAmount arrives in creditAsset's free
// balance. Partial application is never observable: both rows are locked
// before either side is touched, and the debit is checked first.
func (l *Ledger) Settle(ctx context.Context, debitAsset string, debitAmount decimal.Decimal, creditAsset string, creditAmount decimal.Decimal) error {
	if debitAmount.IsNegative() || creditAmount.IsNegative() {
		return &models.ValidationError{Field: "amount", Reason: "settlement amounts must be non-negative"}
	}
	debit, credit := l.row(debitAsset), l.row(creditAsset)

	// Fixed global lock order: lexicographic by asset symbol.
	first, second := debit, credit
	if debitAsset > creditAsset {
		first, second = credit, debit
	}
	first.mu.Lock()
	if second != first {
		second.mu.Lock()
	}
	unlock := func() {
		if second != first {
			second.mu.Unlock()
		}
		first.mu.Unlock()
	}

	if debit.locked.LessThan(debitAmount) {
		err := fmt.Errorf("settle %s %s (locked %s): %w", debitAmount, debitAsset, debit.locked, models.ErrInsufficientBalance)
		unlock()
		return err
	}
	debit.locked = debit.locked.Sub(debitAmount)
	credit.free = credit.free.Add(creditAmount)
	l.writeThrough(ctx, debitAsset, debit)
	if creditAsset != debitAsset {
		l.writeThrough(ctx, creditAsset, credit)
	}
	unlock()
	l.trackEquity(ctx)
	return nil
}

// Revalue sets the last known USD price of an asset and advances the equity
// peak if the portfolio made a new high.
func (l *Ledger) Revalue(ctx context.Context, asset string, usdPrice decimal.Decimal) error {
	if usdPrice.IsNegative() {
		return &models.ValidationError{Field: "usd_price", Reason: "must be non-negative"}
	}
	row := l.row(asset)
	row.mu.Lock()
	row.usdPrice = usdPrice
	usdValue := row.free.Add(row.locked).Mul(usdPrice)
	l.writeThrough(ctx, asset, row)
	row.mu.Unlock()

	if l.cache != nil {
		if err := l.cache.SetAssetValuation(ctx, asset, usdValue, 5*time.Minute); err != nil {
			log.Printf("Warning: failed to cache valuation for %s: %v", asset, err)
		}
	}
	l.trackEquity(ctx)
	return nil
}

// Snapshot returns a copy of every asset row, sorted by asset symbol.
func (l *Ledger) Snapshot() []models.PortfolioBalance {
	l.mu.Lock()
	names := make([]string, 0, len(l.assets))
	for name := range l.assets {
		names = append(names, name)
	}
	l.mu.Unlock()
	sort.Strings(names)

	out := make([]models.PortfolioBalance, 0, len(names))
	for _, name := range names {
		row := l.row(name)
		row.mu.Lock()
		out = append(out, models.PortfolioBalance{
			Asset:    name,
			Free:     row.free,
			Locked:   row.locked,
			USDValue: row.free.Add(row.locked).Mul(row.usdPrice),
		})
		row.mu.Unlock()
	}
	return out
}

// Free returns the free balance of an asset.
func (l *Ledger) Free(asset string) decimal.Decimal {
	row := l.row(asset)
	row.mu.Lock()
	defer row.mu.Unlock()
	return row.free
}

// Equity returns the USD valuation of the whole portfolio.
func (l *Ledger) Equity() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equityLocked()
}

// TrailingDrawdown returns the peak-to-current equity decline as a fraction
// of the running peak, 0 when no peak has been established.
func (l *Ledger) TrailingDrawdown() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.peak.IsPositive() {
		return decimal.Zero
	}
	dd := l.peak.Sub(l.equityLocked()).Div(l.peak)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

func (l *Ledger) row(asset string) *assetRow {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.assets[asset]
	if !ok {
		row = &assetRow{}
		l.assets[asset] = row
	}
	return row
}

// equityLocked sums total*price across assets. Callers hold l.mu; row locks
// nest inside it (the only place both are held, so the order is fixed:
// l.mu before row.mu, and mutators never take l.mu under a row lock).
func (l *Ledger) equityLocked() decimal.Decimal {
	equity := decimal.Zero
	for _, row := range l.assets {
		row.mu.Lock()
		equity = equity.Add(row.free.Add(row.locked).Mul(row.usdPrice))
		row.mu.Unlock()
	}
	return equity
}

// trackEquity advances the running peak and writes it through to the peak
// store. Must be called with no row lock held.
func (l *Ledger) trackEquity(ctx context.Context) {
	l.mu.Lock()
	eq := l.equityLocked()
	advanced := eq.GreaterThan(l.peak)
	if advanced {
		l.peak = eq
	}
	l.mu.Unlock()

	if advanced && l.peaks != nil {
		if err := l.peaks.SetSystemValue(ctx, equityPeakKey, eq.String()); err != nil {
			log.Printf("Warning: failed to persist equity peak: %v", err)
		}
	}
}

// writeThrough persists one row; callers hold the row lock. Store errors are
// logged, not returned: the in-memory ledger stays authoritative.
func (l *Ledger) writeThrough(ctx context.Context, asset string, row *assetRow) {
	if l.store == nil {
		return
	}
	b := &models.PortfolioBalance{
		Asset:    asset,
		Free:     row.free,
		Locked:   row.locked,
		USDValue: row.free.Add(row.locked).Mul(row.usdPrice),
	}
	if err := l.store.UpsertBalance(ctx, b); err != nil {
		log.Printf("Warning: failed to persist balance for %s: %v", asset, err)
	}
}
