package plaid

import (
	"errors"
	"fmt"
)

const (
	CodeItemLoginRequired        = "ITEM_LOGIN_REQUIRED"
	CodeMutationDuringPagination = "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION"
)

// ErrLoginRequired matches errors that need the user to log in to their
// institution again through Link update mode.
var ErrLoginRequired = errors.New("plaid item login required")

// Error is the error Plaid returns with non 200 responses.
// https://plaid.com/docs/errors/
type Error struct {
	StatusCode     int
	Type           string
	Code           string
	Message        string
	DisplayMessage string
	RequestID      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("plaid %s %s (status %d): %s", e.Type, e.Code, e.StatusCode, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrLoginRequired && e.Code == CodeItemLoginRequired
}

func IsLoginRequired(err error) bool {
	return errors.Is(err, ErrLoginRequired)
}

func hasCode(err error, code string) bool {
	var plaidErr *Error
	return errors.As(err, &plaidErr) && plaidErr.Code == code
}
