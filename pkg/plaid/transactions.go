package plaid

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	plaidgo "github.com/plaid/plaid-go/v29/plaid"
	"github.com/shopspring/decimal"
	"k8s.io/klog"

	"github.com/bcaldwell/plaid2qfx/pkg/statement"
)

const (
	// maxSyncCount is the largest page /transactions/sync hands out
	maxSyncCount    = 500
	maxSyncRestarts = 3
)

func rawTransaction(t plaidgo.Transaction) statement.RawTransaction {
	raw := statement.RawTransaction{
		ID:           t.GetTransactionId(),
		AccountID:    t.GetAccountId(),
		Amount:       decimal.NewFromFloat(t.GetAmount()),
		CurrencyCode: t.GetIsoCurrencyCode(),
		Category:     t.GetCategory(),
		MerchantName: t.GetMerchantName(),
		Name:         t.GetName(),
		CheckNumber:  t.GetCheckNumber(),
	}
	if v, _ := t.GetAuthorizedDatetimeOk(); v != nil {
		raw.AuthorizedDatetime = v
	}
	if v, _ := t.GetDatetimeOk(); v != nil {
		raw.Datetime = v
	}
	if v, _ := t.GetAuthorizedDateOk(); v != nil {
		raw.AuthorizedDate = parseDate(*v, raw.ID)
	}
	raw.Date = parseDate(t.GetDate(), raw.ID)

	return raw
}

// parseDate reads a YYYY-MM-DD date. A missing or unreadable date is nil so
// the binder can fall back to the other fields.
func parseDate(s, transactionID string) *civil.Date {
	if s == "" {
		return nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		klog.Warningf("Ignoring unreadable date %q of transaction %s: %v\n", s, transactionID, err)
		return nil
	}
	return &d
}

type RemovedTransaction struct {
	TransactionID string
}

// Page is one response of /transactions/sync.
type Page struct {
	Added      []statement.RawTransaction
	Modified   []statement.RawTransaction
	Removed    []RemovedTransaction
	NextCursor string
	HasMore    bool
}

// Changes is every page of a sync concatenated.
type Changes struct {
	Added    []statement.RawTransaction
	Modified []statement.RawTransaction
	Removed  []RemovedTransaction
	// Cursor resumes the next sync after these changes
	Cursor string
}

func (c *Changes) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Removed)
}

// Sync fetches a single page of changes after cursor. An empty cursor starts
// from the beginning of the item's history.
func (c *Client) Sync(ctx context.Context, accessToken, cursor string) (*Page, error) {
	req := plaidgo.NewTransactionsSyncRequest(accessToken)
	if cursor != "" {
		req.SetCursor(cursor)
	}
	req.SetCount(maxSyncCount)

	rs, httpRs, err := c.api.TransactionsSync(ctx).TransactionsSyncRequest(*req).Execute()
	if err != nil {
		return nil, apiError("/transactions/sync", httpRs, err)
	}

	page := &Page{
		Added:      make([]statement.RawTransaction, 0, len(rs.GetAdded())),
		Modified:   make([]statement.RawTransaction, 0, len(rs.GetModified())),
		Removed:    make([]RemovedTransaction, 0, len(rs.GetRemoved())),
		NextCursor: rs.GetNextCursor(),
		HasMore:    rs.GetHasMore(),
	}
	for _, t := range rs.GetAdded() {
		page.Added = append(page.Added, rawTransaction(t))
	}
	for _, t := range rs.GetModified() {
		page.Modified = append(page.Modified, rawTransaction(t))
	}
	for _, t := range rs.GetRemoved() {
		page.Removed = append(page.Removed, RemovedTransaction{TransactionID: t.GetTransactionId()})
	}

	return page, nil
}

// SyncFunc fetches one page after cursor.
type SyncFunc func(ctx context.Context, cursor string) (*Page, error)

// Drain calls sync until Plaid reports no more pages. If the item changes
// while paginating the whole loop restarts from cursor, as Plaid requires,
// at most maxSyncRestarts times.
func Drain(ctx context.Context, cursor string, sync SyncFunc) (*Changes, error) {
	for restarts := 0; ; restarts++ {
		changes, err := drain(ctx, cursor, sync)
		if !hasCode(err, CodeMutationDuringPagination) {
			return changes, err
		}
		if restarts == maxSyncRestarts {
			return nil, fmt.Errorf("transactions kept changing after %d restarts: %w", restarts, err)
		}
		klog.Warningf("Transactions changed while paginating, restarting sync\n")
	}
}

func drain(ctx context.Context, cursor string, sync SyncFunc) (*Changes, error) {
	changes := &Changes{Cursor: cursor}

	for hasMore := true; hasMore; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := sync(ctx, changes.Cursor)
		if err != nil {
			return nil, err
		}

		changes.Added = append(changes.Added, page.Added...)
		changes.Modified = append(changes.Modified, page.Modified...)
		changes.Removed = append(changes.Removed, page.Removed...)
		changes.Cursor = page.NextCursor
		hasMore = page.HasMore

		if hasMore {
			klog.V(1).Infof("Loaded %d transactions...\n", changes.Total())
		}
	}

	klog.Infof("Finished downloading %d transactions\n", changes.Total())
	return changes, nil
}
