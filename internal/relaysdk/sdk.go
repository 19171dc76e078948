// Package relaysdk is the HTTP client for the ShutterSync relay service.
// It covers the login flow, upload sessions, the sync feed and the
// version check endpoint.
package relaysdk

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/imroc/req/v3"
	"github.com/shuttersync/shuttersync/internal/utils"
	"github.com/shuttersync/shuttersync/internal/version"
)

const (
	HeaderUserAgent  = "User-Agent"
	HeaderAppVersion = "X-Shutter-Version"
	HeaderDeviceId   = "X-Shutter-Device-Id"
	HeaderMoreItems  = "X-More-Items"
)

var userAgent = fmt.Sprintf("ShutterSync/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// TokenSource supplies a valid bearer token for authenticated calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token. Used in tests and
// for one-shot CLI calls where the token is already at hand.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// Client talks to a relay server.
type Client struct {
	http    *req.Client
	baseURL string
	tokens  TokenSource
}

// New creates a relay client. tokens may be nil for endpoints that do not
// require auth (login flow, version check).
func New(baseURL string, tokens TokenSource) *Client {
	httpClient := req.C().
		SetBaseURL(baseURL).
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(1*time.Second).
		SetUserAgent(userAgent).
		SetCommonHeader(HeaderAppVersion, version.Version).
		SetCommonHeader(HeaderDeviceId, utils.HWID).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	c := &Client{
		http:    httpClient,
		baseURL: baseURL,
		tokens:  tokens,
	}

	httpClient.OnBeforeRequest(func(_ *req.Client, r *req.Request) error {
		if c.tokens == nil {
			return nil
		}
		token, err := c.tokens.Token(r.Context())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoToken, err)
		}
		if token != "" {
			r.SetBearerAuthToken(token)
		}
		return nil
	})

	return c
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.GetTransport().CloseIdleConnections()
}
