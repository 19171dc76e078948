package relaysdk

import (
	"context"
	"time"

	"github.com/imroc/req/v3"
	"github.com/shuttersync/shuttersync/internal/utils"
	"github.com/shuttersync/shuttersync/internal/version"
)

const uploadStartSession = "/api/upload/startsession"

// ProgressCallback receives throttled byte counters during a transfer.
type ProgressCallback func(done int64, total int64)

// StartUploadSession obtains a short-lived upload session from the relay.
// The returned session carries the parent id, the upload URL and an expiry;
// callers reuse it until shortly before expiry.
func (c *Client) StartUploadSession(ctx context.Context) (*UploadSession, error) {
	var apiResp UploadSession
	var apiErr APIError

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&StartSessionRequest{
			AppName:    version.AppName,
			AppVersion: version.Version,
			ClientID:   utils.HWID,
		}).
		SetSuccessResult(&apiResp).
		SetErrorResult(&apiErr).
		Post(uploadStartSession)

	if err := handleAPIError(resp, err, "upload start session"); err != nil {
		return nil, err
	}

	return &apiResp, nil
}

// UploadFile performs a multipart/form upload of filePath to the session's
// upload URL, tagging the form with session-scoped metadata. The progress
// callback is invoked at most every 100ms.
func (c *Client) UploadFile(ctx context.Context, session *UploadSession, filePath, key string, progress ProgressCallback) (*UploadResult, error) {
	var apiResp UploadResult
	var apiErr APIError

	resp, err := c.http.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetFile("file", filePath).
		SetFormData(map[string]string{
			"parent_id": session.ParentID,
			"key":       key,
			"client_id": utils.HWID,
		}).
		SetSuccessResult(&apiResp).
		SetErrorResult(&apiErr).
		SetUploadCallbackWithInterval(func(info req.UploadInfo) {
			if progress != nil {
				progress(info.UploadedSize, info.FileSize)
			}
		}, 100*time.Millisecond).
		Post(session.UploadURL)

	if err := handleAPIError(resp, err, "upload file"); err != nil {
		return nil, err
	}

	return &apiResp, nil
}
