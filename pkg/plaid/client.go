package plaid

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	plaidgo "github.com/plaid/plaid-go/v29/plaid"
)

var environments = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

// Client wraps the Plaid API client with the calls plaid2qfx needs, returning
// statement types and *Error.
type Client struct {
	api     *plaidgo.PlaidApiService
	baseURL string
}

type settings struct {
	httpClient *http.Client
	baseURL    string
}

type Option func(*settings)

func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		s.httpClient = c
	}
}

// WithBaseURL points the client at another Plaid compatible server.
func WithBaseURL(u string) Option {
	return func(s *settings) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

func NewClient(environment, clientID, secret string, opts ...Option) (*Client, error) {
	baseURL, ok := environments[environment]
	if !ok {
		return nil, fmt.Errorf("unknown plaid environment %q", environment)
	}

	if clientID == "" || secret == "" {
		return nil, fmt.Errorf("plaid client id and secret are required")
	}

	s := &settings{baseURL: baseURL}
	for _, opt := range opts {
		opt(s)
	}

	configuration := plaidgo.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", clientID)
	configuration.AddDefaultHeader("PLAID-SECRET", secret)
	configuration.UseEnvironment(plaidgo.Environment(s.baseURL))
	if s.httpClient != nil {
		configuration.HTTPClient = s.httpClient
	}

	return &Client{
		api:     plaidgo.NewAPIClient(configuration).PlaidApi,
		baseURL: s.baseURL,
	}, nil
}

// apiError converts the error of a PlaidApi call into *Error. Transport
// errors are only wrapped.
func apiError(endpoint string, rs *http.Response, err error) error {
	if err == nil {
		return nil
	}

	var openAPIErr plaidgo.GenericOpenAPIError
	if !errors.As(err, &openAPIErr) {
		return fmt.Errorf("error calling plaid %s: %w", endpoint, err)
	}

	plaidErr := &Error{}
	if rs != nil {
		plaidErr.StatusCode = rs.StatusCode
	}

	decoded, decodeErr := plaidgo.ToPlaidError(err)
	if decodeErr != nil || decoded.GetErrorCode() == "" {
		plaidErr.Type = "API_ERROR"
		plaidErr.Message = strings.TrimSpace(string(openAPIErr.Body()))
		if plaidErr.Message == "" {
			plaidErr.Message = openAPIErr.Error()
		}
		return plaidErr
	}

	plaidErr.Type = string(decoded.GetErrorType())
	plaidErr.Code = decoded.GetErrorCode()
	plaidErr.Message = decoded.GetErrorMessage()
	plaidErr.DisplayMessage = decoded.GetDisplayMessage()
	plaidErr.RequestID = decoded.GetRequestId()
	return plaidErr
}
