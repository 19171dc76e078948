package relaysdk

import (
	"context"
	"runtime"

	"github.com/shuttersync/shuttersync/internal/utils"
	"github.com/shuttersync/shuttersync/internal/version"
)

const versionCheck = "/api/versioncheck"

type VersionStatus string

const (
	VersionOK       VersionStatus = "OK"
	VersionOutdated VersionStatus = "OUTDATED"
	VersionRequired VersionStatus = "REQUIRED"
	VersionDown     VersionStatus = "DOWN"
)

type VersionCheckRequest struct {
	Version  string `json:"version"`
	ClientID string `json:"client_id"`
	Platform string `json:"platform"`
}

type VersionCheckResponse struct {
	Status           VersionStatus `json:"status"`
	Message          string        `json:"message,omitempty"`
	MaintenanceUntil string        `json:"maintenance_until,omitempty"`
}

// VersionCheck asks the server whether this build may run.
func (c *Client) VersionCheck(ctx context.Context) (*VersionCheckResponse, error) {
	var apiResp VersionCheckResponse
	var apiErr APIError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&VersionCheckRequest{
			Version:  version.Version,
			ClientID: utils.HWID,
			Platform: runtime.GOOS,
		}).
		SetSuccessResult(&apiResp).
		SetErrorResult(&apiErr).
		Post(versionCheck)

	if err := handleAPIError(resp, err, "version check"); err != nil {
		return nil, err
	}

	return &apiResp, nil
}
