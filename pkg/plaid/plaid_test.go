package plaid

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	c, err := NewClient("sandbox", "client-id", "secret", WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("moon", "id", "secret")
	assert.Error(t, err)

	_, err = NewClient("sandbox", "", "secret")
	assert.Error(t, err)

	c, err := NewClient("production", "id", "secret")
	require.NoError(t, err)
	assert.Equal(t, "https://production.plaid.com", c.baseURL)
}

func TestAccounts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/get", r.URL.Path)
		assert.Equal(t, "client-id", r.Header.Get("PLAID-CLIENT-ID"))
		assert.Equal(t, "secret", r.Header.Get("PLAID-SECRET"))

		body := map[string]interface{}{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "access-token", body["access_token"])

		io.WriteString(w, `{
			"accounts": [
				{"account_id": "chk", "name": "Checking", "official_name": null, "mask": "0000", "type": "depository", "subtype": "checking",
				 "balances": {"current": 110.25, "available": 100, "limit": null, "iso_currency_code": "USD", "unofficial_currency_code": null}},
				{"account_id": "cc", "name": "Card", "official_name": null, "mask": "3333", "type": "credit", "subtype": "credit card",
				 "balances": {"current": 410, "available": null, "limit": 2000, "iso_currency_code": "USD", "unofficial_currency_code": null}}
			],
			"item": {"item_id": "item-1", "institution_id": "ins_1", "webhook": "", "error": null,
			         "available_products": [], "billed_products": ["transactions"], "consent_expiration_time": null, "update_type": "background"},
			"request_id": "req-1"
		}`)
	})

	accounts, err := c.Accounts(context.Background(), "access-token")
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, "chk", accounts[0].ID)
	assert.Equal(t, "0000", accounts[0].Mask)
	assert.Equal(t, "110.25", accounts[0].Current.String())
	assert.True(t, accounts[0].Available.Valid)
	assert.Equal(t, "100", accounts[0].Available.Decimal.String())

	assert.Equal(t, "credit", accounts[1].Type)
	assert.Equal(t, "credit card", accounts[1].Subtype)
	assert.False(t, accounts[1].Available.Valid)
}

func TestItem(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/item/get", r.URL.Path)
		io.WriteString(w, `{
			"item": {"item_id": "item-1", "institution_id": "ins_3", "webhook": "", "error": null,
			         "available_products": [], "billed_products": ["transactions"], "consent_expiration_time": null, "update_type": "background"},
			"status": {"transactions": {"last_successful_update": "2024-01-20T15:04:05Z", "last_failed_update": null}},
			"request_id": "req-1"
		}`)
	})

	info, err := c.Item(context.Background(), "access-token")
	require.NoError(t, err)
	assert.Equal(t, "item-1", info.ItemID)
	assert.Equal(t, "ins_3", info.InstitutionID)
	assert.True(t, info.LastSuccessfulUpdate.Equal(time.Date(2024, 1, 20, 15, 4, 5, 0, time.UTC)))
}

func TestItemWithoutStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"item": {"item_id": "item-1", "institution_id": "ins_3"}, "status": null, "request_id": "req-1"}`)
	})

	info, err := c.Item(context.Background(), "access-token")
	require.NoError(t, err)
	assert.True(t, info.LastSuccessfulUpdate.IsZero())
}

func TestInstitution(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/institutions/get_by_id", r.URL.Path)
		body := struct {
			InstitutionID string   `json:"institution_id"`
			CountryCodes  []string `json:"country_codes"`
		}{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ins_3", body.InstitutionID)
		assert.Equal(t, []string{"US", "CA"}, body.CountryCodes)

		io.WriteString(w, `{"institution": {"institution_id": "ins_3", "name": "Chase", "products": ["transactions"],
			"country_codes": ["US"], "routing_numbers": ["021000021", "322271627"], "oauth": false}, "request_id": "req-1"}`)
	})

	inst, err := c.Institution(context.Background(), "ins_3", []string{"US", "CA"})
	require.NoError(t, err)
	assert.Equal(t, "Chase", inst.Name)
	assert.Equal(t, []string{"021000021", "322271627"}, inst.RoutingNumbers)
}

func TestSync(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/sync", r.URL.Path)
		body := map[string]interface{}{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cursor-1", body["cursor"])

		io.WriteString(w, `{
			"added": [
				{"transaction_id": "t1", "account_id": "chk", "amount": 12.34, "iso_currency_code": "USD",
				 "unofficial_currency_code": null, "category": ["Shops", "Groceries"], "merchant_name": "Grocer",
				 "name": "GROCER #12", "check_number": null, "date": "2024-01-05", "datetime": null,
				 "authorized_date": "2024-01-04", "authorized_datetime": "2024-01-04T10:30:00Z",
				 "pending": false, "pending_transaction_id": null, "account_owner": null,
				 "payment_channel": "in store", "transaction_code": null}
			],
			"modified": [],
			"removed": [{"transaction_id": "t0"}],
			"next_cursor": "cursor-2",
			"has_more": false,
			"request_id": "req-1"
		}`)
	})

	page, err := c.Sync(context.Background(), "access-token", "cursor-1")
	require.NoError(t, err)
	assert.Equal(t, "cursor-2", page.NextCursor)
	assert.False(t, page.HasMore)
	require.Len(t, page.Removed, 1)
	assert.Equal(t, "t0", page.Removed[0].TransactionID)
	require.Len(t, page.Added, 1)

	tx := page.Added[0]
	assert.Equal(t, "t1", tx.ID)
	assert.Equal(t, "12.34", tx.Amount.String())
	assert.Equal(t, "USD", tx.CurrencyCode)
	assert.Equal(t, "Grocer", tx.MerchantName)
	assert.Equal(t, "", tx.CheckNumber)
	assert.Nil(t, tx.Datetime)
	assert.Equal(t, []string{"Shops", "Groceries"}, tx.Category)
	require.NotNil(t, tx.Date)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.January, Day: 5}, *tx.Date)
	require.NotNil(t, tx.AuthorizedDate)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.January, Day: 4}, *tx.AuthorizedDate)
	require.NotNil(t, tx.AuthorizedDatetime)
	assert.True(t, tx.AuthorizedDatetime.Equal(time.Date(2024, 1, 4, 10, 30, 0, 0, time.UTC)))
}

func TestSyncFirstPageOmitsCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotContains(t, body, "cursor")
		assert.EqualValues(t, maxSyncCount, body["count"])

		io.WriteString(w, `{"added": [], "modified": [], "removed": [], "next_cursor": "c1", "has_more": true, "request_id": "req-1"}`)
	})

	page, err := c.Sync(context.Background(), "access-token", "")
	require.NoError(t, err)
	assert.Empty(t, page.Added)
	assert.True(t, page.HasMore)
}

func TestParseDate(t *testing.T) {
	assert.Nil(t, parseDate("", "t1"))
	assert.Nil(t, parseDate("yesterday", "t1"))
	assert.Equal(t, &civil.Date{Year: 2024, Month: time.March, Day: 1}, parseDate("2024-03-01", "t1"))
}

func TestErrorResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error_type": "ITEM_ERROR", "error_code": "ITEM_LOGIN_REQUIRED", "error_message": "login again", "request_id": "abc"}`)
	})

	_, err := c.Accounts(context.Background(), "access-token")
	require.Error(t, err)
	assert.True(t, IsLoginRequired(err))

	var plaidErr *Error
	require.True(t, errors.As(err, &plaidErr))
	assert.Equal(t, http.StatusBadRequest, plaidErr.StatusCode)
	assert.Equal(t, "ITEM_ERROR", plaidErr.Type)
	assert.Equal(t, "login again", plaidErr.Message)
	assert.Equal(t, "abc", plaidErr.RequestID)
}

func TestErrorResponseNotJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "bad gateway")
	})

	_, err := c.Item(context.Background(), "access-token")
	var plaidErr *Error
	require.True(t, errors.As(err, &plaidErr))
	assert.Equal(t, "API_ERROR", plaidErr.Type)
	assert.Equal(t, "bad gateway", plaidErr.Message)
	assert.False(t, IsLoginRequired(err))
}

type linkTokenBody struct {
	ClientName   string   `json:"client_name"`
	Language     string   `json:"language"`
	CountryCodes []string `json:"country_codes"`
	User         struct {
		ClientUserID string `json:"client_user_id"`
	} `json:"user"`
	Products    []string `json:"products"`
	AccessToken string   `json:"access_token"`
}

func TestLinkToken(t *testing.T) {
	var got linkTokenBody
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/link/token/create", r.URL.Path)
		got = linkTokenBody{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"link_token": "link-sandbox-123", "expiration": "2024-01-21T12:00:00Z", "request_id": "req-1"}`)
	})

	token, err := c.LinkToken(context.Background(), LinkTokenRequest{ClientName: "plaid2qfx", ClientUserID: "user", CountryCodes: []string{"US"}})
	require.NoError(t, err)
	assert.Equal(t, "link-sandbox-123", token)
	assert.Equal(t, []string{"transactions"}, got.Products)
	assert.Equal(t, "en", got.Language)
	assert.Equal(t, []string{"US"}, got.CountryCodes)
	assert.Equal(t, "user", got.User.ClientUserID)

	_, err = c.LinkToken(context.Background(), LinkTokenRequest{ClientName: "plaid2qfx", ClientUserID: "user", AccessToken: "access-token"})
	require.NoError(t, err)
	assert.Empty(t, got.Products)
	assert.Equal(t, "access-token", got.AccessToken)
}

func TestExchangePublicToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/item/public_token/exchange", r.URL.Path)
		io.WriteString(w, `{"access_token": "access-sandbox-1", "item_id": "item-1", "request_id": "req-1"}`)
	})

	token, itemID, err := c.ExchangePublicToken(context.Background(), "public-sandbox-1")
	require.NoError(t, err)
	assert.Equal(t, "access-sandbox-1", token)
	assert.Equal(t, "item-1", itemID)
}

func TestDrain(t *testing.T) {
	pages := map[string]*Page{
		"":   {NextCursor: "c1", HasMore: true, Removed: []RemovedTransaction{{TransactionID: "r"}}},
		"c1": {NextCursor: "c2", HasMore: true},
		"c2": {NextCursor: "c3", HasMore: false},
	}
	var calls []string

	changes, err := Drain(context.Background(), "", func(ctx context.Context, cursor string) (*Page, error) {
		calls = append(calls, cursor)
		return pages[cursor], nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "c1", "c2"}, calls)
	assert.Equal(t, "c3", changes.Cursor)
	assert.Equal(t, 1, changes.Total())
}

func TestDrainRestartsOnMutation(t *testing.T) {
	var calls []string
	failed := false

	changes, err := Drain(context.Background(), "start", func(ctx context.Context, cursor string) (*Page, error) {
		calls = append(calls, cursor)
		if cursor == "mid" && !failed {
			failed = true
			return nil, &Error{Code: CodeMutationDuringPagination}
		}
		if cursor == "start" {
			return &Page{NextCursor: "mid", HasMore: true}, nil
		}
		return &Page{NextCursor: "end"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "mid", "start", "mid"}, calls)
	assert.Equal(t, "end", changes.Cursor)
}

func TestDrainGivesUpOnConstantMutation(t *testing.T) {
	calls := 0
	_, err := Drain(context.Background(), "start", func(ctx context.Context, cursor string) (*Page, error) {
		calls++
		return nil, &Error{Code: CodeMutationDuringPagination}
	})
	require.Error(t, err)
	assert.True(t, hasCode(err, CodeMutationDuringPagination))
	assert.Equal(t, maxSyncRestarts+1, calls)
}

func TestDrainError(t *testing.T) {
	_, err := Drain(context.Background(), "", func(ctx context.Context, cursor string) (*Page, error) {
		return nil, &Error{Code: CodeItemLoginRequired}
	})
	assert.True(t, IsLoginRequired(err))
}
