package relaysdk

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const syncFeed = "/api/sync"

// TimestampFormat is the wire format for sync cursors.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Artifact is one server-side file announced on the sync feed.
type Artifact struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type,omitempty"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SyncPage is one page of the sync feed. MoreItems > 0 hints that the
// server holds a backlog and the caller should re-poll soon.
type SyncPage struct {
	Artifacts []*Artifact
	MoreItems int
}

// syncEnvelope covers the two object-shaped response bodies the server
// emits ({"files": […]} and {"data": […]}).
type syncEnvelope struct {
	Files []*Artifact `json:"files"`
	Data  []*Artifact `json:"data"`
}

// Sync fetches artifacts created after the given instant. A 404 means no
// content and yields an empty page, not an error.
func (c *Client) Sync(ctx context.Context, since time.Time) (*SyncPage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("since", since.UTC().Format(TimestampFormat)).
		Get(syncFeed)

	if err != nil {
		return nil, fmt.Errorf("http request error: sync: %w", err)
	}

	if resp.GetStatusCode() == 404 {
		return &SyncPage{}, nil
	}

	if resp.IsErrorState() {
		return nil, fmt.Errorf("sync: %w",
			NewAPIError(CodeSyncFailed, resp.GetStatus(), resp.GetStatusCode()))
	}

	body, err := resp.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("sync: read body: %w", err)
	}

	page := &SyncPage{}
	if more := resp.GetHeader(HeaderMoreItems); more != "" {
		if n, err := strconv.Atoi(more); err == nil {
			page.MoreItems = n
		}
	}

	if len(body) == 0 {
		return page, nil
	}

	// the body is either a bare array or an envelope
	var artifacts []*Artifact
	if err := jsonUnmarshal(body, &artifacts); err == nil {
		page.Artifacts = artifacts
		return page, nil
	}

	var envelope syncEnvelope
	if err := jsonUnmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("sync: decode body: %w", err)
	}
	if envelope.Files != nil {
		page.Artifacts = envelope.Files
	} else {
		page.Artifacts = envelope.Data
	}

	return page, nil
}
