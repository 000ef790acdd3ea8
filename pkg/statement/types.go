package statement

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// AccountType is one of the five account kinds a statement can describe.
type AccountType int

const (
	Checking AccountType = iota
	Savings
	MoneyMarket
	CreditLine
	CreditCard
)

func (t AccountType) String() string {
	switch t {
	case Savings:
		return "SAVINGS"
	case MoneyMarket:
		return "MONEYMRKT"
	case CreditLine:
		return "CREDITLINE"
	case CreditCard:
		return "CREDITCARD"
	default:
		return "CHECKING"
	}
}

type TransactionType int

const (
	Debit TransactionType = iota
	Credit
	Interest
	Fee
	Deposit
	ATM
	Transfer
	Check
	Payment
	Cash
	// CategoryError marks a transaction whose category could not be read.
	CategoryError
)

var transactionTypeNames = map[TransactionType]string{
	Debit:         "DEBIT",
	Credit:        "CREDIT",
	Interest:      "INT",
	Fee:           "FEE",
	Deposit:       "DEP",
	ATM:           "ATM",
	Transfer:      "XFER",
	Check:         "CHECK",
	Payment:       "PAYMENT",
	Cash:          "CASH",
	CategoryError: "CAT_ERROR",
}

func (t TransactionType) String() string {
	if name, ok := transactionTypeNames[t]; ok {
		return name
	}
	return "CAT_ERROR"
}

// RawAccount is an account as reported by the data source.
type RawAccount struct {
	ID        string
	Name      string
	Mask      string
	Type      string
	Subtype   string
	Current   decimal.Decimal
	Available decimal.NullDecimal
}

// RawTransaction is an added transaction as reported by the data source.
// Amount uses the source convention: positive means money left the account.
type RawTransaction struct {
	ID           string
	AccountID    string
	Amount       decimal.Decimal
	CurrencyCode string
	Category     []string
	MerchantName string
	Name         string
	CheckNumber  string

	AuthorizedDatetime *time.Time
	AuthorizedDate     *civil.Date
	Datetime           *time.Time
	Date               *civil.Date

	Removed bool
}

// AccountRef identifies the account inside a statement. BankID is empty for
// credit cards.
type AccountRef struct {
	BankID    string
	AccountID string
	Type      AccountType
}

type Balance struct {
	Amount decimal.Decimal
	AsOf   time.Time
}

// AccountRecord is the per-run working state of one account.
type AccountRecord struct {
	SourceID  string
	Name      string
	Mask      string
	Type      AccountType
	Ref       AccountRef
	Ledger    Balance
	Available Balance
	// Currency is set by the first transaction that carries one.
	Currency string
	Entries  []Entry
}

// Entry is a normalized statement transaction. Amount is positive for money
// credited to the account. CheckNumber and Memo are never both set.
type Entry struct {
	Type        TransactionType
	Posted      time.Time
	Amount      decimal.Decimal
	FITID       string
	CheckNumber string
	Name        string
	Memo        string
}

type Kind int

const (
	BankKind Kind = iota
	CreditCardKind
)

func (k Kind) String() string {
	if k == CreditCardKind {
		return "creditcard"
	}
	return "bank"
}

// Fragment is one account's statement: balances plus the transaction list
// bracketed by Start and End.
type Fragment struct {
	Kind      Kind
	Currency  string
	Ref       AccountRef
	Start     time.Time
	End       time.Time
	Entries   []Entry
	Ledger    Balance
	Available Balance
}

// Institution decorates the signon block of a document.
type Institution struct {
	Label string
	// FID is the routing style identifier written to FI/FID.
	FID string
	// BID is Quicken's bank participant id, written to INTU.BID.
	BID string
}

// Document holds the fragments of one output file. Either slice may be
// empty but not both.
type Document struct {
	Institution Institution
	ServerTime  time.Time
	Bank        []Fragment
	CreditCard  []Fragment
}
