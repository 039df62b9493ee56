// Package report renders the ledger for people: money in the configured
// currency, parties by display name, and markdown tables for the CLI.
package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/calculator"
	"github.com/mmynk/duoledger/internal/models"
)

// Formatter turns ledger values into display strings.
type Formatter struct {
	currency string
	names    map[models.Party]string
}

// New creates a formatter for currency, an ISO 4217 code, and the display names
// of the two parties.
func New(currency, partyA, partyB string) *Formatter {
	return &Formatter{
		currency: strings.ToUpper(currency),
		names: map[models.Party]string{
			models.PartyA: partyA,
			models.PartyB: partyB,
		},
	}
}

// ValidCurrency reports whether code is a currency go-money knows.
func ValidCurrency(code string) bool {
	return money.GetCurrency(strings.ToUpper(code)) != nil
}

// Bounds of the minor-unit amounts go-money can represent.
var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Money formats an amount, rounding half away from zero to the currency's minor
// unit. Rounding happens only here.
func (f *Formatter) Money(amount decimal.Decimal) string {
	cur := money.GetCurrency(f.currency)
	if cur == nil {
		return amount.StringFixed(2) + " " + f.currency
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return amount.StringFixed(int32(cur.Fraction)) + " " + cur.Code
	}
	return money.New(minor.IntPart(), cur.Code).Display()
}

// Party returns the display name of p.
func (f *Formatter) Party(p models.Party) string {
	if name := f.names[p]; name != "" {
		return name
	}
	return string(p)
}

// Settlement describes who owes whom.
func (f *Formatter) Settlement(s calculator.Settlement) string {
	if s.Settled() {
		return "All settled up"
	}
	return fmt.Sprintf("%s owes %s %s", f.Party(s.Debtor), f.Party(s.Creditor), f.Money(s.Amount))
}

// Expense is a one-line description of e.
func (f *Formatter) Expense(e models.Expense) string {
	return fmt.Sprintf("%s: %s, %s, paid by %s", e.Name, f.Money(e.Amount), e.Kind, f.Party(e.Payer))
}

// LedgerMarkdown renders expenses, newest first, followed by the balance.
func (f *Formatter) LedgerMarkdown(expenses []models.Expense) string {
	var b strings.Builder
	b.WriteString("# Ledger\n\n")
	if len(expenses) == 0 {
		b.WriteString("No expenses yet.\n\n")
	} else {
		b.WriteString("| Date | Name | Amount | Kind | Paid by | ID |\n")
		b.WriteString("|---|---|---:|---|---|---|\n")
		for _, e := range expenses {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | `%s` |\n",
				e.CreatedAt.Local().Format("2006-01-02"),
				escape(e.Name),
				f.Money(e.Amount),
				e.Kind,
				escape(f.Party(e.Payer)),
				e.ID,
			)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "**%s**\n", f.Settlement(calculator.Settle(calculator.ComputeBalance(expenses))))
	return b.String()
}

// SummaryMarkdown renders the totals and the settlement.
func (f *Formatter) SummaryMarkdown(expenses []models.Expense) string {
	t := calculator.ComputeTotals(expenses)

	var b strings.Builder
	b.WriteString("# Balance\n\n")
	fmt.Fprintf(&b, "**%s**\n\n", f.Settlement(calculator.Settle(calculator.ComputeBalance(expenses))))
	b.WriteString("| | Amount |\n|---|---:|\n")
	fmt.Fprintf(&b, "| Shared | %s |\n", f.Money(t.Shared))
	fmt.Fprintf(&b, "| Individual | %s |\n", f.Money(t.Individual))
	for _, p := range []models.Party{models.PartyA, models.PartyB} {
		fmt.Fprintf(&b, "| Paid by %s | %s |\n", escape(f.Party(p)), f.Money(t.PaidBy[p]))
	}
	fmt.Fprintf(&b, "\n%d expenses\n", t.Count)
	return b.String()
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
