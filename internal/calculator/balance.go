// Package calculator computes the net obligation between the two ledger parties.
package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/models"
)

// half is exact, so halving never rounds the way Div would.
var half = decimal.New(5, -1)

// ComputeBalance folds the ledger into a single signed amount.
//
// Algorithm:
//   - shared expense: amount/2 toward the payer's side
//   - individual expense: the full amount toward the payer's side
//   - payer PartyA adds, payer PartyB subtracts
//
// A positive result means PartyB owes PartyA, a negative one means PartyA owes
// PartyB, and zero means settled. The fold is order-independent and never rounds.
func ComputeBalance(expenses []models.Expense) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range expenses {
		balance = balance.Add(Contribution(e))
	}
	return balance
}

// Contribution returns the signed amount one expense adds to the balance.
func Contribution(e models.Expense) decimal.Decimal {
	share := e.Amount
	if e.Kind == models.KindShared {
		share = share.Mul(half)
	}
	if e.Payer == models.PartyB {
		return share.Neg()
	}
	return share
}

// Settlement describes who owes whom, derived from a balance.
type Settlement struct {
	// Debtor owes Amount to Creditor. Both are empty when settled.
	Debtor   models.Party
	Creditor models.Party

	// Amount is always non-negative.
	Amount decimal.Decimal
}

// Settled reports whether nobody owes anything.
func (s Settlement) Settled() bool {
	return s.Amount.IsZero()
}

// Settle turns a signed balance into a Settlement.
func Settle(balance decimal.Decimal) Settlement {
	switch balance.Sign() {
	case 1:
		return Settlement{Debtor: models.PartyB, Creditor: models.PartyA, Amount: balance}
	case -1:
		return Settlement{Debtor: models.PartyA, Creditor: models.PartyB, Amount: balance.Abs()}
	}
	return Settlement{Amount: decimal.Zero}
}

// Totals summarizes spending per kind and per payer.
type Totals struct {
	Shared     decimal.Decimal
	Individual decimal.Decimal
	PaidBy     map[models.Party]decimal.Decimal
	Count      int
}

// ComputeTotals aggregates the ledger by kind and payer.
func ComputeTotals(expenses []models.Expense) Totals {
	t := Totals{
		Shared:     decimal.Zero,
		Individual: decimal.Zero,
		PaidBy: map[models.Party]decimal.Decimal{
			models.PartyA: decimal.Zero,
			models.PartyB: decimal.Zero,
		},
	}
	for _, e := range expenses {
		if e.Kind == models.KindShared {
			t.Shared = t.Shared.Add(e.Amount)
		} else {
			t.Individual = t.Individual.Add(e.Amount)
		}
		t.PaidBy[e.Payer] = t.PaidBy[e.Payer].Add(e.Amount)
		t.Count++
	}
	return t
}
