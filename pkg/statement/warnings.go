package statement

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrMissingRoutingNumber = errors.New("routing number is required for non credit card accounts")
	ErrNoFragments          = errors.New("no bank or credit card statements to compose")
	ErrCategory             = errors.New("unable to parse transaction category")
)

type WarningKind string

const (
	WarnUnknownAccount      WarningKind = "unknown_account"
	WarnCategoryError       WarningKind = "category_error"
	WarnCurrencyMismatch    WarningKind = "currency_mismatch"
	WarnMissingCurrency     WarningKind = "missing_currency"
	WarnUnsupportedChange   WarningKind = "unsupported_change"
	WarnInstitutionMismatch WarningKind = "institution_mismatch"
	WarnMissingDate         WarningKind = "missing_date"
)

// Warning is a data quality problem that was worked around.
type Warning struct {
	Kind          WarningKind
	AccountID     string
	TransactionID string
	Detail        string
}

func (w Warning) String() string {
	s := string(w.Kind)
	if w.AccountID != "" {
		s += fmt.Sprintf(" account=%s", w.AccountID)
	}
	if w.TransactionID != "" {
		s += fmt.Sprintf(" transaction=%s", w.TransactionID)
	}
	if w.Detail != "" {
		s += ": " + w.Detail
	}
	return s
}

// Log writes the warning to the default slog logger.
func (w Warning) Log() {
	slog.Warn(w.Detail, "kind", string(w.Kind), "account", w.AccountID, "transaction", w.TransactionID)
}

type warnings []Warning

func (ws *warnings) add(w Warning) {
	w.Log()
	*ws = append(*ws, w)
}
