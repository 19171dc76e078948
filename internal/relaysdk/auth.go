package relaysdk

import (
	"context"

	"github.com/shuttersync/shuttersync/internal/utils"
	"github.com/shuttersync/shuttersync/internal/version"
)

const (
	authInitialize = "/login/initialize"
	authFinalize   = "/login/finalize"
	authVerify     = "/login/verify"
	authRefresh    = "/login/refresh"
)

// LoginInitialize starts the OTP login flow. The server mails a one-time
// password to the given address and returns a login session id.
func (c *Client) LoginInitialize(ctx context.Context, email string) (*InitializeResponse, error) {
	var apiResp InitializeResponse
	var apiErr APIError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&InitializeRequest{
			Email:      email,
			CID:        utils.HWID,
			AppName:    version.AppName,
			AppVersion: version.Version,
			ClientID:   utils.HWID,
		}).
		SetSuccessResult(&apiResp).
		SetErrorResult(&apiErr).
		Post(authInitialize)

	if err := handleAPIError(resp, err, "login initialize"); err != nil {
		return nil, err
	}

	return &apiResp, nil
}

// LoginFinalize exchanges the login session id and the OTP for a signed JWT.
func (c *Client) LoginFinalize(ctx context.Context, sessionID, otp string) (*TokenResponse, error) {
	var apiResp TokenResponse
	var apiErr APIError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&FinalizeRequest{
			SessionID: sessionID,
			Token:     otp,
		}).
		SetSuccessResult(&apiResp).
		SetErrorResult(&apiErr).
		Post(authFinalize)

	if err := handleAPIError(resp, err, "login finalize"); err != nil {
		return nil, err
	}

	return &apiResp, nil
}

// LoginVerify checks that a token is still accepted by the server.
func (c *Client) LoginVerify(ctx context.Context, token string) error {
	var apiErr APIError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&VerifyRequest{
			Token:    token,
			ClientID: utils.HWID,
		}).
		SetErrorResult(&apiErr).
		Post(authVerify)

	return handleAPIError(resp, err, "login verify")
}

// LoginRefresh exchanges a token for a fresh one.
func (c *Client) LoginRefresh(ctx context.Context, token string) (*TokenResponse, error) {
	var apiResp TokenResponse
	var apiErr APIError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&RefreshRequest{
			Token:    token,
			ClientID: utils.HWID,
		}).
		SetSuccessResult(&apiResp).
		SetErrorResult(&apiErr).
		Post(authRefresh)

	if err := handleAPIError(resp, err, "login refresh"); err != nil {
		return nil, err
	}

	return &apiResp, nil
}
