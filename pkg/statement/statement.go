package statement

import (
	"fmt"
	"time"
)

// Assemble wraps an account record into a statement fragment. Accounts with
// no transactions produce no fragment.
func Assemble(record *AccountRecord, start, end time.Time) (Fragment, bool) {
	if record == nil || len(record.Entries) == 0 {
		return Fragment{}, false
	}

	kind := BankKind
	if record.Type == CreditCard {
		kind = CreditCardKind
	}

	entries := make([]Entry, len(record.Entries))
	copy(entries, record.Entries)

	return Fragment{
		Kind:      kind,
		Currency:  record.Currency,
		Ref:       record.Ref,
		Start:     start,
		End:       end,
		Entries:   entries,
		Ledger:    record.Ledger,
		Available: record.Available,
	}, true
}

// Compose partitions fragments into bank and credit card statements under a
// single signon. It fails when there is nothing to put in either.
func Compose(fragments []Fragment, institution Institution, timestamp time.Time) (*Document, error) {
	doc := &Document{
		Institution: institution,
		ServerTime:  timestamp,
	}

	for _, f := range fragments {
		switch f.Kind {
		case CreditCardKind:
			doc.CreditCard = append(doc.CreditCard, f)
		default:
			doc.Bank = append(doc.Bank, f)
		}
	}

	if len(doc.Bank) == 0 && len(doc.CreditCard) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoFragments, institution.Label)
	}

	return doc, nil
}

// Input is everything needed to build the statements of one linked item.
type Input struct {
	Accounts      []RawAccount
	Transactions  []RawTransaction
	RoutingNumber string
	// SyncAsOf is the last successful transaction update reported by the
	// source. It seeds the period start and is the period end.
	SyncAsOf time.Time
	Options  BindOptions
}

// Result is the outcome of building one linked item.
type Result struct {
	Records   []*AccountRecord
	Fragments []Fragment
	Start     time.Time
	End       time.Time
	Warnings  []Warning
}

// Build runs the account aggregation, transaction binding and statement
// assembly stages for one linked item.
func Build(in Input) (*Result, error) {
	records, order, err := BuildAccountRecords(in.Accounts, in.RoutingNumber, in.SyncAsOf)
	if err != nil {
		return nil, err
	}

	start, warns := Bind(in.Transactions, records, in.SyncAsOf, in.Options)

	result := &Result{
		Start:    start,
		End:      in.SyncAsOf,
		Warnings: warns,
	}

	for _, id := range order {
		record := records[id]
		result.Records = append(result.Records, record)

		fragment, ok := Assemble(record, start, in.SyncAsOf)
		if !ok {
			continue
		}
		result.Fragments = append(result.Fragments, fragment)
	}

	return result, nil
}

// TransactionCount is the number of transactions across all fragments.
func (d *Document) TransactionCount() int {
	n := 0
	for _, f := range d.Bank {
		n += len(f.Entries)
	}
	for _, f := range d.CreditCard {
		n += len(f.Entries)
	}
	return n
}
