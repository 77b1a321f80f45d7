// Package wallet keeps the quote-currency ledger of a backtest.
package wallet

import (
	"fmt"
	"time"

	"futuresim/internal/order"
)

const balanceTolerance = 1e-9

// Snapshot is the balance recorded at the end of a bar.
type Snapshot struct {
	At      time.Time `json:"at"`
	Balance float64   `json:"balance"`
}

// Wallet holds quote. Balance never goes negative: a debit larger than the
// balance fails with order.ErrNoMoney and changes nothing.
type Wallet struct {
	initial float64
	balance float64
	history []Snapshot
}

// New returns a wallet funded with initial quote.
func New(initial float64) *Wallet {
	if initial < 0 {
		initial = 0
	}
	return &Wallet{initial: initial, balance: initial}
}

// InitialBalance returns the funding amount.
func (w *Wallet) InitialBalance() float64 { return w.initial }

// Balance returns the free quote.
func (w *Wallet) Balance() float64 { return w.balance }

// History returns the per-bar balance snapshots.
func (w *Wallet) History() []Snapshot {
	return append([]Snapshot(nil), w.history...)
}

// CanSpend reports whether quote (>= 0) can be debited.
func (w *Wallet) CanSpend(quote float64) bool {
	return w.balance+balanceTolerance >= quote
}

// Invest debits quote.
func (w *Wallet) Invest(quote float64) error {
	if !w.CanSpend(quote) {
		return fmt.Errorf("%w: can't withdraw %.8f quote from wallet. Available balance is %.8f", order.ErrNoMoney, quote, w.balance)
	}
	w.balance -= quote
	if w.balance < 0 {
		w.balance = 0
	}
	return nil
}

// Update applies a signed settlement: positive credits, negative debits.
func (w *Wallet) Update(quote float64) error {
	if quote < 0 {
		return w.Invest(-quote)
	}
	w.balance += quote
	return nil
}

// Record appends a balance snapshot.
func (w *Wallet) Record(at time.Time) {
	w.history = append(w.history, Snapshot{At: at, Balance: w.balance})
}
