package relaysdk

type InitializeRequest struct {
	Email      string `json:"email"`
	CID        string `json:"cid"`
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	ClientID   string `json:"client_id"`
}

type InitializeResponse struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

type FinalizeRequest struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"` // the OTP
}

type VerifyRequest struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
}

type RefreshRequest struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
}

// TokenResponse carries a signed JWT with `email` and `expires_at` claims.
type TokenResponse struct {
	Result string `json:"result"`
	Token  string `json:"token"`
}
