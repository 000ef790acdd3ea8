package plaid

import (
	"context"

	plaidgo "github.com/plaid/plaid-go/v29/plaid"
)

type LinkTokenRequest struct {
	ClientName   string
	ClientUserID string
	CountryCodes []string
	Language     string
	// AccessToken switches Link to update mode for an existing item
	AccessToken string
}

// LinkToken creates a token to initialize Plaid Link with.
func (c *Client) LinkToken(ctx context.Context, r LinkTokenRequest) (string, error) {
	language := r.Language
	if language == "" {
		language = "en"
	}

	req := plaidgo.NewLinkTokenCreateRequest(
		r.ClientName,
		language,
		toCountryCodes(r.CountryCodes),
		*plaidgo.NewLinkTokenCreateRequestUser(r.ClientUserID),
	)
	// update mode must not list products
	if r.AccessToken == "" {
		req.SetProducts([]plaidgo.Products{plaidgo.PRODUCTS_TRANSACTIONS})
	} else {
		req.SetAccessToken(r.AccessToken)
	}

	rs, httpRs, err := c.api.LinkTokenCreate(ctx).LinkTokenCreateRequest(*req).Execute()
	if err != nil {
		return "", apiError("/link/token/create", httpRs, err)
	}

	return rs.GetLinkToken(), nil
}

// ExchangePublicToken trades the public token Link hands out for an access
// token and the item id.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error) {
	rs, httpRs, err := c.api.ItemPublicTokenExchange(ctx).
		ItemPublicTokenExchangeRequest(*plaidgo.NewItemPublicTokenExchangeRequest(publicToken)).
		Execute()
	if err != nil {
		return "", "", apiError("/item/public_token/exchange", httpRs, err)
	}

	return rs.GetAccessToken(), rs.GetItemId(), nil
}
