package statement

import "fmt"

// ClassifyAccount collapses a Plaid account type and subtype into one of the
// statement account types. Anything unrecognized is treated as checking.
// https://plaid.com/docs/api/accounts/#account-type-schema
func ClassifyAccount(typ, subtype string) AccountType {
	switch typ {
	case "depository":
		switch subtype {
		case "savings", "hsa", "cd":
			return Savings
		case "money market":
			return MoneyMarket
		default:
			return Checking
		}
	case "credit":
		return CreditCard
	case "loan":
		return CreditLine
	case "investment":
		return MoneyMarket
	default:
		return Checking
	}
}

// ClassifyTransaction maps a category path, coarsest first, to a transaction
// type. Most categories end up as Debit, including a blank top level. An
// empty path returns CategoryError along with ErrCategory; the caller is
// expected to keep going.
func ClassifyTransaction(category []string) (TransactionType, error) {
	if len(category) == 0 {
		return CategoryError, fmt.Errorf("%w: %q", ErrCategory, category)
	}

	level := func(i int) string {
		if i < len(category) {
			return category[i]
		}
		return ""
	}

	switch level(0) {
	case "Bank Fees":
		return Fee, nil
	case "Cash Advance":
		return Cash, nil
	case "Interest":
		return Interest, nil
	case "Payment":
		return Payment, nil
	case "Tax":
		switch level(1) {
		case "Payment":
			return Debit, nil
		default:
			// Refund and everything else
			return Credit, nil
		}
	case "Transfer":
		switch {
		case level(1) == "Check" || level(2) == "Check":
			return Check, nil
		case level(1) == "Deposit":
			return Deposit, nil
		case level(2) == "ATM":
			return ATM, nil
		default:
			return Transfer, nil
		}
	default:
		return Debit, nil
	}
}
