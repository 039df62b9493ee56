package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind describes how an expense is attributed between the two parties.
type Kind string

const (
	// KindShared expenses are split 50/50.
	KindShared Kind = "shared"
	// KindIndividual expenses are borne entirely by the payer's counterpart.
	KindIndividual Kind = "individual"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindShared || k == KindIndividual
}

// ParseKind parses a kind token. Matching is exact.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown expense kind %q", s)
	}
	return k, nil
}

// Party is one of the two fixed ledger parties.
type Party string

const (
	PartyA Party = "party_a"
	PartyB Party = "party_b"
)

// Valid reports whether p is one of the two parties.
func (p Party) Valid() bool {
	return p == PartyA || p == PartyB
}

// Other returns the counterpart of p.
func (p Party) Other() Party {
	if p == PartyA {
		return PartyB
	}
	return PartyA
}

// ParseParty parses a party token. "a" and "b" are accepted as shorthands.
func ParseParty(s string) (Party, error) {
	switch s {
	case "a", string(PartyA):
		return PartyA, nil
	case "b", string(PartyB):
		return PartyB, nil
	}
	return "", fmt.Errorf("unknown party %q", s)
}

// ExpenseFields are the fields of an Expense that may change after creation.
type ExpenseFields struct {
	// Name is a non-empty descriptive label.
	Name string `json:"name"`

	// Amount is the non-negative value of the expense.
	Amount decimal.Decimal `json:"amount"`

	// Kind decides whether the amount is split or attributed in full.
	Kind Kind `json:"kind"`

	// Payer is the party who paid.
	Payer Party `json:"payer"`
}

// ErrInvalidExpense is returned when expense fields fail validation.
var ErrInvalidExpense = errors.New("invalid expense")

// Amount bounds. Amounts are checked by exponent and coefficient size before
// any arithmetic, so out-of-range values are never expanded.
const (
	// MaxAmountDigits is the number of digits allowed before the decimal point.
	MaxAmountDigits = 15
	// MaxAmountScale is the number of digits allowed after the decimal point.
	MaxAmountScale = 6
)

// CheckAmount reports why amount cannot be stored, or "" when it can.
func CheckAmount(amount decimal.Decimal) string {
	exp := amount.Exponent()
	switch {
	case amount.IsNegative():
		return "must not be negative"
	case exp < -MaxAmountScale:
		return fmt.Sprintf("must have at most %d decimal places", MaxAmountScale)
	case exp > MaxAmountDigits, amount.Coefficient().BitLen() > 80:
		return fmt.Sprintf("must have at most %d integer digits", MaxAmountDigits)
	case !amount.IsZero() && amount.NumDigits()+int(exp) > MaxAmountDigits:
		return fmt.Sprintf("must have at most %d integer digits", MaxAmountDigits)
	}
	return ""
}

// Validate checks the invariants every stored row must satisfy.
func (f ExpenseFields) Validate() error {
	if reason := CheckAmount(f.Amount); reason != "" {
		return fmt.Errorf("%w: amount %s", ErrInvalidExpense, reason)
	}
	switch {
	case strings.TrimSpace(f.Name) == "":
		return fmt.Errorf("%w: name is blank", ErrInvalidExpense)
	case !f.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidExpense, f.Kind)
	case !f.Payer.Valid():
		return fmt.Errorf("%w: unknown payer %q", ErrInvalidExpense, f.Payer)
	}
	return nil
}

// Expense represents a single ledger row as held by the store.
type Expense struct {
	// ID is the unique identifier assigned by the store (UUID format).
	ID string `json:"id"`

	ExpenseFields

	// Owner is the identity that created the row. Empty when unknown.
	Owner string `json:"owner,omitempty"`

	// CreatedAt is used only for display ordering, newest first.
	CreatedAt time.Time `json:"created_at"`
}

// Fields returns the mutable fields of e.
func (e Expense) Fields() ExpenseFields {
	return e.ExpenseFields
}
