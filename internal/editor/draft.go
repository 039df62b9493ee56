package editor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/duoledger/internal/models"
)

// ValidationError reports a draft field that cannot be committed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Draft is the form being edited. AmountText is the raw user input.
type Draft struct {
	Name       string
	AmountText string
	Kind       models.Kind
	Payer      models.Party

	// Target is the expense being edited, nil for a new one.
	Target *models.Expense
}

// NewDraft returns an empty shared expense paid by party A.
func NewDraft() Draft {
	return Draft{Kind: models.KindShared, Payer: models.PartyA}
}

// DraftFrom fills a draft with the stored values of e.
func DraftFrom(e models.Expense) Draft {
	target := e
	return Draft{
		Name:       e.Name,
		AmountText: e.Amount.String(),
		Kind:       e.Kind,
		Payer:      e.Payer,
		Target:     &target,
	}
}

// Fields validates the draft and converts it to storable fields.
func (d Draft) Fields() (models.ExpenseFields, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return models.ExpenseFields{}, &ValidationError{Field: "name", Reason: "must not be blank"}
	}

	amount, err := ParseAmount(d.AmountText)
	if err != nil {
		return models.ExpenseFields{}, err
	}

	if !d.Kind.Valid() {
		return models.ExpenseFields{}, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", d.Kind)}
	}
	if !d.Payer.Valid() {
		return models.ExpenseFields{}, &ValidationError{Field: "payer", Reason: fmt.Sprintf("unknown party %q", d.Payer)}
	}

	return models.ExpenseFields{Name: name, Amount: amount, Kind: d.Kind, Payer: d.Payer}, nil
}

var plainAmount = regexp.MustCompile(`^-?([0-9]+(\.[0-9]*)?|\.[0-9]+)$`)

// ParseAmount parses a non-negative amount written as plain digits. A comma is
// accepted as the decimal separator. Exponent notation is refused.
func ParseAmount(text string) (decimal.Decimal, error) {
	text = strings.ReplaceAll(strings.TrimSpace(text), ",", ".")
	if text == "" {
		return decimal.Decimal{}, &ValidationError{Field: "amount", Reason: "is required"}
	}
	if !plainAmount.MatchString(text) {
		return decimal.Decimal{}, &ValidationError{Field: "amount", Reason: fmt.Sprintf("%q is not a number", text)}
	}
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, &ValidationError{Field: "amount", Reason: fmt.Sprintf("%q is not a number", text)}
	}
	if reason := models.CheckAmount(amount); reason != "" {
		return decimal.Decimal{}, &ValidationError{Field: "amount", Reason: reason}
	}
	return amount, nil
}
