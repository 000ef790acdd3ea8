package linker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcaldwell/plaid2qfx/pkg/config"
	"github.com/bcaldwell/plaid2qfx/pkg/plaid"
	"github.com/bcaldwell/plaid2qfx/pkg/statement"
)

type fakeClient struct {
	linkRequests   []plaid.LinkTokenRequest
	routingNumbers []string
	exchangeErr    error
	// page holds the auth page as it existed while Link was running
	pageDir string
	page    string
}

func (c *fakeClient) LinkToken(ctx context.Context, r plaid.LinkTokenRequest) (string, error) {
	c.linkRequests = append(c.linkRequests, r)
	return "link-sandbox-abc", nil
}

func (c *fakeClient) ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error) {
	if c.exchangeErr != nil {
		return "", "", c.exchangeErr
	}
	if c.pageDir != "" {
		b, _ := os.ReadFile(filepath.Join(c.pageDir, pageName))
		c.page = string(b)
	}
	return "access-" + publicToken, "item-1", nil
}

func (c *fakeClient) Item(ctx context.Context, accessToken string) (plaid.ItemInfo, error) {
	return plaid.ItemInfo{ItemID: "item-1", InstitutionID: "ins_3"}, nil
}

func (c *fakeClient) Institution(ctx context.Context, institutionID string, countryCodes []string) (plaid.Institution, error) {
	return plaid.Institution{InstitutionID: institutionID, Name: "Chase", RoutingNumbers: c.routingNumbers}, nil
}

func (c *fakeClient) Accounts(ctx context.Context, accessToken string) ([]statement.RawAccount, error) {
	return []statement.RawAccount{
		{ID: "chk-id", Name: "Checking", Mask: "0000", Current: decimal.Zero},
	}, nil
}

func newLinker(t *testing.T, client *fakeClient, input string) (*Linker, *config.Config, map[string]string, *bytes.Buffer) {
	t.Helper()

	dir := t.TempDir()
	client.pageDir = dir
	cfg := &config.Config{
		Environment:  "sandbox",
		ClientName:   "plaid2qfx",
		ClientUserID: "user-1",
		CountryCodes: []string{"US"},
		DefaultTime:  "12:00:00",
		TimeZone:     "UTC",
		Items:        []config.Item{{Name: "amex"}},
	}
	tokens := map[string]string{}
	out := &bytes.Buffer{}

	l := New(Options{
		Client:     client,
		Config:     cfg,
		ConfigFile: filepath.Join(dir, "config.yml"),
		StoreToken: func(name, token string) error {
			tokens[name] = token
			return nil
		},
		PageDir: dir,
		In:      strings.NewReader(input),
		Out:     out,
	})

	return l, cfg, tokens, out
}

func TestLink(t *testing.T) {
	client := &fakeClient{routingNumbers: []string{"021000021"}}
	l, cfg, tokens, out := newLinker(t, client, "public_token: public-1\n10898\n")

	item, err := l.Link(context.Background(), "chase")
	require.NoError(t, err)

	assert.Equal(t, config.Item{
		Name:          "chase",
		ItemID:        "item-1",
		InstitutionID: "ins_3",
		RoutingNumber: "021000021",
		BID:           "10898",
	}, *item)
	assert.Len(t, cfg.Items, 2)
	assert.Equal(t, "access-public-1", tokens["chase"])

	require.Len(t, client.linkRequests, 1)
	assert.Equal(t, "user-1", client.linkRequests[0].ClientUserID)
	assert.Empty(t, client.linkRequests[0].AccessToken)

	assert.Contains(t, client.page, `token: "link-sandbox-abc"`)
	_, err = os.Stat(filepath.Join(client.pageDir, pageName))
	assert.True(t, os.IsNotExist(err), "auth page is removed afterwards")

	assert.Contains(t, out.String(), "Checking x0000")
	assert.Contains(t, out.String(), "chk-id")

	saved, err := os.ReadFile(filepath.Join(client.pageDir, "config.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(saved), "021000021")
}

func TestLinkChoosesRoutingNumber(t *testing.T) {
	client := &fakeClient{routingNumbers: []string{"021000021", "322271627"}}
	l, _, _, out := newLinker(t, client, "public-1\n7\n2\n10898\n")

	item, err := l.Link(context.Background(), "chase")
	require.NoError(t, err)
	assert.Equal(t, "322271627", item.RoutingNumber)
	assert.Contains(t, out.String(), `"7" is not one of the listed routing numbers`)
}

func TestLinkWithoutRoutingNumbers(t *testing.T) {
	client := &fakeClient{}
	l, _, _, _ := newLinker(t, client, "public-1\n\n3101\n")

	item, err := l.Link(context.Background(), "card")
	require.NoError(t, err)
	assert.Equal(t, "", item.RoutingNumber)
	assert.Equal(t, "3101", item.BID)
}

func TestLinkDuplicateName(t *testing.T) {
	client := &fakeClient{}
	l, cfg, _, _ := newLinker(t, client, "")

	_, err := l.Link(context.Background(), "amex")
	assert.ErrorIs(t, err, ErrDuplicateItem)
	assert.Empty(t, client.linkRequests)
	assert.Len(t, cfg.Items, 1)
}

func TestLinkExchangeFailure(t *testing.T) {
	client := &fakeClient{exchangeErr: errors.New("INVALID_PUBLIC_TOKEN")}
	l, cfg, tokens, _ := newLinker(t, client, "bad\n")

	_, err := l.Link(context.Background(), "chase")
	assert.Error(t, err)
	assert.Empty(t, tokens)
	assert.Len(t, cfg.Items, 1)
}

func TestLinkPromptsForName(t *testing.T) {
	client := &fakeClient{routingNumbers: []string{"021000021"}}
	l, _, _, _ := newLinker(t, client, "chase\npublic-1\n10898\n")

	item, err := l.Link(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "chase", item.Name)
}

func TestReauthorize(t *testing.T) {
	client := &fakeClient{}
	l, _, _, out := newLinker(t, client, "\n")

	err := l.Reauthorize(context.Background(), config.Item{Name: "chase"}, "access-1")
	require.NoError(t, err)

	require.Len(t, client.linkRequests, 1)
	assert.Equal(t, "access-1", client.linkRequests[0].AccessToken)
	assert.Contains(t, out.String(), "chase needs you to log in again")
}

func TestUpdateConfig(t *testing.T) {
	outDir := t.TempDir()
	client := &fakeClient{}
	l, cfg, _, _ := newLinker(t, client, "development\n/does/not/exist\n"+outDir+"\ntrue\n")

	require.NoError(t, l.UpdateConfig())
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, outDir, cfg.OutputDir)
	assert.True(t, cfg.MergeOutput)
}

func TestUpdateConfigInvalidEnvironment(t *testing.T) {
	client := &fakeClient{}
	l, _, _, _ := newLinker(t, client, "moon\ngs://bucket\n\n")

	err := l.UpdateConfig()
	assert.ErrorIs(t, err, config.ErrConfig)
}

func TestWritePageEscapesToken(t *testing.T) {
	path, err := writePage(t.TempDir(), linkPage(`abc"</script>`))
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), `abc"</script>`)
}

func TestPrintAccounts(t *testing.T) {
	out := &bytes.Buffer{}
	PrintAccounts(out, []statement.RawAccount{{ID: "id-1", Name: "Savings", Mask: "1111"}})

	assert.Contains(t, out.String(), "  Savings x1111")
	assert.Contains(t, out.String(), ": id-1")
}

func TestConfirm(t *testing.T) {
	l, _, _, _ := newLinker(t, &fakeClient{}, "Yes\n\nnope\n")

	for _, want := range []bool{true, false, false} {
		got, err := l.Confirm("Export now?")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
