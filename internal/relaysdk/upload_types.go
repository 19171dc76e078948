package relaysdk

import "time"

type StartSessionRequest struct {
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	ClientID   string `json:"client_id"`
}

// UploadSession is a server-issued handle that authorises uploads until
// ExpiresAt.
type UploadSession struct {
	ParentID  string    `json:"parent_id"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past (or within skew of) its expiry.
func (s *UploadSession) Expired(skew time.Duration) bool {
	if s == nil {
		return true
	}
	return !time.Now().Before(s.ExpiresAt.Add(-skew))
}

type UploadResult struct {
	Result string `json:"result"`
	ID     string `json:"id"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
}
