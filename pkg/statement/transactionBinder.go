package statement

import (
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
)

const DefaultCurrency = "USD"

// BindOptions controls how transactions are normalized.
type BindOptions struct {
	// FallbackCurrency is used for accounts where no transaction carried a
	// currency code.
	FallbackCurrency string
	// DefaultTime is combined with bare posting dates since OFX requires a
	// time of day. The zero value means noon.
	DefaultTime civil.Time
	Location    *time.Location
}

func DefaultBindOptions() BindOptions {
	return BindOptions{
		FallbackCurrency: DefaultCurrency,
		DefaultTime:      civil.Time{Hour: 12},
		Location:         time.UTC,
	}
}

func (o BindOptions) withDefaults() BindOptions {
	d := DefaultBindOptions()
	if o.FallbackCurrency == "" {
		o.FallbackCurrency = d.FallbackCurrency
	}
	if o.Location == nil {
		o.Location = d.Location
	}
	if o.DefaultTime == (civil.Time{}) || !o.DefaultTime.IsValid() {
		o.DefaultTime = d.DefaultTime
	}
	return o
}

// Bind appends every transaction to the record of the account it belongs to
// and returns the statement period start: the earliest posting time seen,
// never later than syncAsOf. records is updated in place; accounts that end
// up without a currency get opts.FallbackCurrency.
func Bind(transactions []RawTransaction, records map[string]*AccountRecord, syncAsOf time.Time, opts BindOptions) (time.Time, []Warning) {
	opts = opts.withDefaults()
	var warns warnings
	start := syncAsOf

	for _, trans := range transactions {
		if trans.Removed {
			warns.add(Warning{
				Kind:          WarnUnsupportedChange,
				AccountID:     trans.AccountID,
				TransactionID: trans.ID,
				Detail:        "removed transactions are not supported by OFX, skipping",
			})
			continue
		}

		record, ok := records[trans.AccountID]
		if !ok {
			warns.add(Warning{
				Kind:          WarnUnknownAccount,
				AccountID:     trans.AccountID,
				TransactionID: trans.ID,
				Detail:        "skipping transaction for unknown account id " + trans.AccountID,
			})
			continue
		}

		posted, ok := postedAt(trans, opts)
		if !ok {
			posted = syncAsOf
			warns.add(Warning{
				Kind:          WarnMissingDate,
				AccountID:     trans.AccountID,
				TransactionID: trans.ID,
				Detail:        "transaction has no date, posting it at the sync time " + syncAsOf.Format(time.RFC3339),
			})
		}
		if posted.Before(start) {
			start = posted
		}

		// OFX sets currency per statement while Plaid sets it per transaction.
		// The first transaction wins and the rest are only checked against it.
		if trans.CurrencyCode != "" {
			if record.Currency == "" {
				record.Currency = trans.CurrencyCode
			} else if record.Currency != trans.CurrencyCode {
				warns.add(Warning{
					Kind:          WarnCurrencyMismatch,
					AccountID:     trans.AccountID,
					TransactionID: trans.ID,
					Detail: fmt.Sprintf("currency code %s doesn't match %s found first for this account",
						trans.CurrencyCode, record.Currency),
				})
			}
		}

		trnType, err := ClassifyTransaction(trans.Category)
		if err != nil {
			warns.add(Warning{
				Kind:          WarnCategoryError,
				AccountID:     trans.AccountID,
				TransactionID: trans.ID,
				Detail:        err.Error(),
			})
		}

		entry := Entry{
			Type:   trnType,
			Posted: posted,
			Amount: trans.Amount.Neg(),
			FITID:  trans.ID,
			Name:   trans.MerchantName,
		}
		if trans.CheckNumber != "" {
			entry.CheckNumber = trans.CheckNumber
		} else {
			entry.Memo = trans.Name
		}

		record.Entries = append(record.Entries, entry)
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		record := records[id]
		if record.Currency == "" {
			warns.add(Warning{
				Kind:      WarnMissingCurrency,
				AccountID: id,
				Detail:    fmt.Sprintf("no currency code found in transactions for account %s, assuming %s", id, opts.FallbackCurrency),
			})
			record.Currency = opts.FallbackCurrency
		}
	}

	return start, warns
}

// postedAt picks the most precise timestamp available, preferring the
// authorization time over the posting time.
func postedAt(trans RawTransaction, opts BindOptions) (time.Time, bool) {
	switch {
	case trans.AuthorizedDatetime != nil:
		return *trans.AuthorizedDatetime, true
	case trans.AuthorizedDate != nil:
		return atDefaultTime(*trans.AuthorizedDate, opts), true
	case trans.Datetime != nil:
		return *trans.Datetime, true
	case trans.Date != nil:
		return atDefaultTime(*trans.Date, opts), true
	}
	return time.Time{}, false
}

func atDefaultTime(d civil.Date, opts BindOptions) time.Time {
	return civil.DateTime{Date: d, Time: opts.DefaultTime}.In(opts.Location)
}
