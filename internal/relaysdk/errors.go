package relaysdk

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	ErrNoToken       = errors.New("sdk: bearer token unavailable")
	ErrNoServerURL   = errors.New("sdk: server url missing")
	ErrSessionClosed = errors.New("sdk: upload session expired")
)

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST"
	CodeRateLimited    = "E_RATE_LIMITED"
	CodeInternalError  = "E_INTERNAL_ERROR"
	CodeUnknownError   = "E_UNKNOWN_ERR"

	// Auth errors
	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS"
	CodeAuthOTPFailed          = "E_AUTH_OTP_VERIFICATION_FAILED"
	CodeAuthRefreshFailed      = "E_AUTH_TOKEN_REFRESH_FAILED"

	// Upload errors
	CodeUploadSessionFailed = "E_UPLOAD_SESSION_FAILED"
	CodeUploadRejected      = "E_UPLOAD_REJECTED"

	// Sync feed errors
	CodeSyncFailed = "E_SYNC_FAILED"
)

// APIError is a structured error returned by the relay API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Status  int    `json:"-"`
}

func NewAPIError(code, message string, status int) *APIError {
	return &APIError{Code: code, Message: message, Status: status}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s (http %d)", e.Code, e.Message, e.Status)
}

// IsAuthError reports whether err is an authentication failure from the relay.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 401 || apiErr.Status == 403 ||
			apiErr.Code == CodeAuthInvalidCredentials
	}
	return errors.Is(err, ErrNoToken)
}

// handleAPIError folds transport and API-level failures into one error.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code != "" {
			apiErr.Status = resp.GetStatusCode()
			return fmt.Errorf("%s: %w", operation, apiErr)
		}
		return fmt.Errorf("%s: %w", operation,
			NewAPIError(CodeUnknownError, resp.GetStatus(), resp.GetStatusCode()))
	}

	return nil
}
