package qfx

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"regexp"

	"github.com/aclindsa/ofxgo"
	"github.com/bcaldwell/plaid2qfx/pkg/statement"
	"github.com/shopspring/decimal"
	"k8s.io/klog"
)

const (
	language = "ENG"
	// Plaid gives no transaction ids for the statement responses, OFX just
	// needs something here.
	trnUID = "0"
)

var sonrsEnd = []byte("</SONRS>")

var ErrMissingSignon = errors.New("marshalled ofx has no SONRS aggregate")

// unsetElements are written by ofxgo even though plaid2qfx never fills them:
// aggregates around empty lists and non pointer amounts of card statements.
var unsetElements = []*regexp.Regexp{
	regexp.MustCompile(`\s*<BALLIST>\s*</BALLIST>`),
	regexp.MustCompile(`(?s)\s*<REWARDINFO>.*?</REWARDINFO>`),
	regexp.MustCompile(`\s*<CASHADVBALAMT>[^<]*(</CASHADVBALAMT>)?`),
	regexp.MustCompile(`\s*<INTRATEPURCH>[^<]*(</INTRATEPURCH>)?`),
	regexp.MustCompile(`\s*<INTRATECASH>[^<]*(</INTRATECASH>)?`),
	regexp.MustCompile(`\s*<INTRATEXFER>[^<]*(</INTRATEXFER>)?`),
}

// Marshal renders a document as a QFX file: an OFX 1.0.2 response with
// Quicken's INTU.BID element appended to the signon response.
func Marshal(doc *statement.Document) ([]byte, error) {
	response, err := Response(doc)
	if err != nil {
		return nil, err
	}

	buf, err := response.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ofx: %w", err)
	}

	return injectBID(trimUnset(buf.Bytes()), doc.Institution.BID)
}

// Response converts a document into its ofxgo representation. Only non
// empty message sets are populated.
func Response(doc *statement.Document) (*ofxgo.Response, error) {
	if len(doc.Bank) == 0 && len(doc.CreditCard) == 0 {
		return nil, statement.ErrNoFragments
	}

	response := &ofxgo.Response{
		Version: ofxgo.OfxVersion102,
		Signon: ofxgo.SignonResponse{
			Status:   okStatus(),
			DtServer: ofxgo.Date{Time: doc.ServerTime},
			Language: language,
			Org:      ofxgo.String(doc.Institution.Label),
			Fid:      ofxgo.String(doc.Institution.FID),
		},
	}

	for _, f := range doc.Bank {
		msg, err := bankStatement(f)
		if err != nil {
			return nil, err
		}
		response.Bank = append(response.Bank, msg)
	}

	for _, f := range doc.CreditCard {
		msg, err := creditCardStatement(f)
		if err != nil {
			return nil, err
		}
		response.CreditCard = append(response.CreditCard, msg)
	}

	return response, nil
}

func bankStatement(f statement.Fragment) (*ofxgo.StatementResponse, error) {
	ledger, err := amount(f.Ledger.Amount)
	if err != nil {
		return nil, err
	}
	available, err := amount(f.Available.Amount)
	if err != nil {
		return nil, err
	}
	list, err := transactionList(f)
	if err != nil {
		return nil, err
	}

	acctType, err := ofxgo.NewAcctType(f.Ref.Type.String())
	if err != nil {
		klog.Warningf("Writing account %s with type %s as CHECKING: %v\n", f.Ref.AccountID, f.Ref.Type, err)
		acctType = ofxgo.AcctTypeChecking
	}

	return &ofxgo.StatementResponse{
		TrnUID: trnUID,
		Status: okStatus(),
		CurDef: currency(f.Currency),
		BankAcctFrom: ofxgo.BankAcct{
			BankID:   ofxgo.String(f.Ref.BankID),
			AcctID:   ofxgo.String(f.Ref.AccountID),
			AcctType: acctType,
		},
		BankTranList: list,
		BalAmt:       ledger,
		DtAsOf:       ofxgo.Date{Time: f.Ledger.AsOf},
		AvailBalAmt:  &available,
		AvailDtAsOf:  &ofxgo.Date{Time: f.Available.AsOf},
	}, nil
}

func creditCardStatement(f statement.Fragment) (*ofxgo.CCStatementResponse, error) {
	ledger, err := amount(f.Ledger.Amount)
	if err != nil {
		return nil, err
	}
	available, err := amount(f.Available.Amount)
	if err != nil {
		return nil, err
	}
	list, err := transactionList(f)
	if err != nil {
		return nil, err
	}

	return &ofxgo.CCStatementResponse{
		TrnUID: trnUID,
		Status: okStatus(),
		CurDef: currency(f.Currency),
		CCAcctFrom: ofxgo.CCAcct{
			AcctID: ofxgo.String(f.Ref.AccountID),
		},
		BankTranList: list,
		BalAmt:       ledger,
		DtAsOf:       ofxgo.Date{Time: f.Ledger.AsOf},
		AvailBalAmt:  &available,
		AvailDtAsOf:  &ofxgo.Date{Time: f.Available.AsOf},
	}, nil
}

func transactionList(f statement.Fragment) (*ofxgo.TransactionList, error) {
	list := &ofxgo.TransactionList{
		DtStart:      ofxgo.Date{Time: f.Start},
		DtEnd:        ofxgo.Date{Time: f.End},
		Transactions: make([]ofxgo.Transaction, 0, len(f.Entries)),
	}

	for _, e := range f.Entries {
		amt, err := amount(e.Amount)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", e.FITID, err)
		}

		trnType, err := ofxgo.NewTrnType(e.Type.String())
		if err != nil {
			klog.Warningf("Writing transaction %s with category type %s as OTHER\n", e.FITID, e.Type)
			trnType = ofxgo.TrnTypeOther
		}

		list.Transactions = append(list.Transactions, ofxgo.Transaction{
			TrnType:  trnType,
			DtPosted: ofxgo.Date{Time: e.Posted},
			TrnAmt:   amt,
			FiTID:    ofxgo.String(e.FITID),
			CheckNum: ofxgo.String(e.CheckNumber),
			Name:     ofxgo.String(e.Name),
			Memo:     ofxgo.String(e.Memo),
		})
	}

	return list, nil
}

func okStatus() ofxgo.Status {
	return ofxgo.Status{Code: 0, Severity: "INFO"}
}

func amount(d decimal.Decimal) (ofxgo.Amount, error) {
	var a ofxgo.Amount
	if _, ok := a.SetString(d.String()); !ok {
		return a, fmt.Errorf("invalid amount %s", d.String())
	}
	return a, nil
}

func currency(code string) ofxgo.CurrSymbol {
	symbol, err := ofxgo.NewCurrSymbol(code)
	if err != nil {
		klog.Warningf("Unknown currency code %q, writing %s instead: %v\n", code, statement.DefaultCurrency, err)
		symbol, _ = ofxgo.NewCurrSymbol(statement.DefaultCurrency)
	}
	return *symbol
}

func trimUnset(body []byte) []byte {
	for _, re := range unsetElements {
		body = re.ReplaceAll(body, nil)
	}
	return body
}

// injectBID adds the Quicken bank id as the last child of SONRS. ofxgo has no
// field for vendor extensions so this happens on the marshalled bytes. An
// empty bid leaves the body as is.
func injectBID(body []byte, bid string) ([]byte, error) {
	i := bytes.Index(body, sonrsEnd)
	if i < 0 {
		return nil, ErrMissingSignon
	}

	if bid == "" {
		klog.Warningf("No Quicken bank id configured, writing the file without INTU.BID\n")
		return body, nil
	}

	tag := "<INTU.BID>" + html.EscapeString(bid) + "\n"

	out := make([]byte, 0, len(body)+len(tag))
	out = append(out, body[:i]...)
	out = append(out, tag...)
	out = append(out, body[i:]...)
	return out, nil
}
