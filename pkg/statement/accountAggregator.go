package statement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// maxAccountIDLength is the longest ACCTID OFX accepts. Plaid ids are much
// longer so they get truncated.
const maxAccountIDLength = 22

// BuildAccountRecords creates one record per raw account. The returned ids
// preserve source order. routingNumber is required unless every account is a
// credit card.
func BuildAccountRecords(accounts []RawAccount, routingNumber string, asOf time.Time) (map[string]*AccountRecord, []string, error) {
	records := make(map[string]*AccountRecord, len(accounts))
	order := make([]string, 0, len(accounts))

	for _, account := range accounts {
		accountType := ClassifyAccount(account.Type, account.Subtype)

		ref := AccountRef{
			AccountID: truncate(account.ID, maxAccountIDLength),
			Type:      accountType,
		}
		if accountType != CreditCard {
			if routingNumber == "" {
				return nil, nil, fmt.Errorf("%w: account %s (%s)", ErrMissingRoutingNumber, account.ID, account.Name)
			}
			ref.BankID = routingNumber
		}

		ledger := account.Current
		available := decimal.Zero
		if account.Available.Valid {
			available = account.Available.Decimal
		}

		// Plaid reports credit card debt as a positive number, OFX wants it negative.
		// Available stays as is, for cards it is the remaining credit.
		if accountType == CreditCard {
			ledger = ledger.Neg()
		}

		if _, ok := records[account.ID]; !ok {
			order = append(order, account.ID)
		}

		records[account.ID] = &AccountRecord{
			SourceID:  account.ID,
			Name:      account.Name,
			Mask:      account.Mask,
			Type:      accountType,
			Ref:       ref,
			Ledger:    Balance{Amount: ledger, AsOf: asOf},
			Available: Balance{Amount: available, AsOf: asOf},
			Entries:   []Entry{},
		}
	}

	return records, order, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
