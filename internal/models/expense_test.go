package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestExpenseFieldsValidate(t *testing.T) {
	valid := ExpenseFields{Name: "Rent", Amount: decimal.NewFromInt(100), Kind: KindShared, Payer: PartyA}

	tests := []struct {
		name    string
		mutate  func(*ExpenseFields)
		wantErr bool
	}{
		{"valid", func(*ExpenseFields) {}, false},
		{"zero amount", func(f *ExpenseFields) { f.Amount = decimal.Zero }, false},
		{"blank name", func(f *ExpenseFields) { f.Name = "   " }, true},
		{"negative amount", func(f *ExpenseFields) { f.Amount = decimal.NewFromInt(-1) }, true},
		{"unknown kind", func(f *ExpenseFields) { f.Kind = "split" }, true},
		{"unknown payer", func(f *ExpenseFields) { f.Payer = "party_c" }, true},
		{"exponent within range", func(f *ExpenseFields) { f.Amount = decimal.New(1, 3) }, false},
		{"largest amount", func(f *ExpenseFields) { f.Amount = decimal.RequireFromString("999999999999999.999999") }, false},
		{"huge exponent", func(f *ExpenseFields) { f.Amount = decimal.New(1, 80000000) }, true},
		{"tiny exponent", func(f *ExpenseFields) { f.Amount = decimal.New(1, -9999) }, true},
		{"too many integer digits", func(f *ExpenseFields) { f.Amount = decimal.RequireFromString("1000000000000000") }, true},
		{"huge coefficient", func(f *ExpenseFields) { f.Amount = decimal.RequireFromString(strings.Repeat("9", 400)) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			tt.mutate(&f)
			err := f.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidExpense) {
				t.Errorf("expected ErrInvalidExpense, got %v", err)
			}
		})
	}
}

func TestParseParty(t *testing.T) {
	for input, want := range map[string]Party{"a": PartyA, "party_b": PartyB} {
		got, err := ParseParty(input)
		if err != nil || got != want {
			t.Errorf("ParseParty(%q) = %q, %v; want %q", input, got, err, want)
		}
	}
	if _, err := ParseParty("c"); err == nil {
		t.Error("ParseParty(c) should fail")
	}
	if PartyA.Other() != PartyB || PartyB.Other() != PartyA {
		t.Error("Other() should swap parties")
	}
}

func TestSessionActive(t *testing.T) {
	now := time.Now()
	var missing *Session
	if missing.Active(now) {
		t.Error("nil session should not be active")
	}
	s := &Session{Identity: "a@x.com", ExpiresAt: now.Add(time.Minute)}
	if !s.Active(now) {
		t.Error("unexpired session should be active")
	}
	if s.Active(now.Add(time.Hour)) {
		t.Error("expired session should not be active")
	}
}
