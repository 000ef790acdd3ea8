package plaid

import (
	"context"
	"time"

	plaidgo "github.com/plaid/plaid-go/v29/plaid"
	"github.com/shopspring/decimal"

	"github.com/bcaldwell/plaid2qfx/pkg/statement"
)

// ItemInfo is the metadata of a linked item.
type ItemInfo struct {
	ItemID        string
	InstitutionID string
	// LastSuccessfulUpdate is when Plaid last refreshed transactions for the
	// item. Zero if Plaid never reported one.
	LastSuccessfulUpdate time.Time
}

type Institution struct {
	InstitutionID  string
	Name           string
	RoutingNumbers []string
}

// Accounts returns the accounts of the item behind accessToken.
func (c *Client) Accounts(ctx context.Context, accessToken string) ([]statement.RawAccount, error) {
	rs, httpRs, err := c.api.AccountsGet(ctx).
		AccountsGetRequest(*plaidgo.NewAccountsGetRequest(accessToken)).
		Execute()
	if err != nil {
		return nil, apiError("/accounts/get", httpRs, err)
	}

	accounts := make([]statement.RawAccount, 0, len(rs.GetAccounts()))
	for _, a := range rs.GetAccounts() {
		accounts = append(accounts, rawAccount(a))
	}

	return accounts, nil
}

func rawAccount(a plaidgo.AccountBase) statement.RawAccount {
	balances := a.GetBalances()

	current := decimal.Zero
	if v, _ := balances.GetCurrentOk(); v != nil {
		current = decimal.NewFromFloat(*v)
	}

	available := decimal.NullDecimal{}
	if v, _ := balances.GetAvailableOk(); v != nil {
		available = decimal.NewNullDecimal(decimal.NewFromFloat(*v))
	}

	return statement.RawAccount{
		ID:        a.GetAccountId(),
		Name:      a.GetName(),
		Mask:      a.GetMask(),
		Type:      string(a.GetType()),
		Subtype:   string(a.GetSubtype()),
		Current:   current,
		Available: available,
	}
}

func (c *Client) Item(ctx context.Context, accessToken string) (ItemInfo, error) {
	rs, httpRs, err := c.api.ItemGet(ctx).
		ItemGetRequest(*plaidgo.NewItemGetRequest(accessToken)).
		Execute()
	if err != nil {
		return ItemInfo{}, apiError("/item/get", httpRs, err)
	}

	item := rs.GetItem()
	status := rs.GetStatus()
	transactions := status.GetTransactions()

	return ItemInfo{
		ItemID:               item.GetItemId(),
		InstitutionID:        item.GetInstitutionId(),
		LastSuccessfulUpdate: transactions.GetLastSuccessfulUpdate(),
	}, nil
}

func (c *Client) Institution(ctx context.Context, institutionID string, countryCodes []string) (Institution, error) {
	rs, httpRs, err := c.api.InstitutionsGetById(ctx).
		InstitutionsGetByIdRequest(*plaidgo.NewInstitutionsGetByIdRequest(institutionID, toCountryCodes(countryCodes))).
		Execute()
	if err != nil {
		return Institution{}, apiError("/institutions/get_by_id", httpRs, err)
	}

	institution := rs.GetInstitution()
	return Institution{
		InstitutionID:  institution.GetInstitutionId(),
		Name:           institution.GetName(),
		RoutingNumbers: institution.GetRoutingNumbers(),
	}, nil
}

func toCountryCodes(codes []string) []plaidgo.CountryCode {
	out := make([]plaidgo.CountryCode, 0, len(codes))
	for _, code := range codes {
		out = append(out, plaidgo.CountryCode(code))
	}
	return out
}
