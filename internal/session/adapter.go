// Package session caches the relay bearer token and keeps it fresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shuttersync/shuttersync/internal/events"
	"github.com/shuttersync/shuttersync/internal/relaysdk"
)

const (
	// refresh eagerly once this close to expiry
	refreshWindow = 5 * time.Minute
	// proactive refresh probe
	tickInterval = 2 * time.Minute
)

var ErrNoToken = errors.New("session: no token available")

// Refresher exchanges an old token for a fresh one. Satisfied by
// *relaysdk.Client.
type Refresher interface {
	LoginRefresh(ctx context.Context, token string) (*relaysdk.TokenResponse, error)
}

// relayClaims is the payload of a relay-issued JWT. The server signs and
// verifies; the client only reads the expiry.
type relayClaims struct {
	Email     string `json:"email"`
	ExpiresAt string `json:"expires_at"`
	jwt.RegisteredClaims
}

// Adapter supplies a valid bearer token to the components that need one.
// Concurrent callers triggering a refresh observe a single in-flight
// refresh. On unrecoverable refresh failure it publishes auth.invalid.
type Adapter struct {
	refresher Refresher
	bus       *events.Bus

	// OnToken, when set, is called with every newly obtained token so the
	// caller can persist it. Invoked outside the adapter lock.
	OnToken func(token string)

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	inflight  chan struct{}
	invalid   bool
}

func NewAdapter(refresher Refresher, bus *events.Bus, token string) *Adapter {
	a := &Adapter{
		refresher: refresher,
		bus:       bus,
	}
	if token != "" {
		a.SetToken(token)
	}
	return a
}

// SetToken installs a token and decodes its expiry. An undecodable expiry
// leaves the token usable and forces refresh on the next probe.
func (a *Adapter) SetToken(token string) {
	expiresAt, err := tokenExpiry(token)
	if err != nil {
		slog.Warn("session: token expiry undecodable", "error", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
	a.expiresAt = expiresAt
	a.invalid = false
}

// Token returns a valid bearer token, refreshing eagerly when time to
// expiry is inside the refresh window. Implements relaysdk.TokenSource.
func (a *Adapter) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.token == "" {
		a.mu.Unlock()
		return "", ErrNoToken
	}
	if a.invalid {
		a.mu.Unlock()
		return "", fmt.Errorf("%w: refresh failed", ErrNoToken)
	}
	token := a.token
	needsRefresh := a.needsRefreshLocked()
	a.mu.Unlock()

	if !needsRefresh {
		return token, nil
	}
	return a.Refresh(ctx)
}

// TokenInfo returns the cached token and its expiry without refreshing.
func (a *Adapter) TokenInfo() (string, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token, a.expiresAt
}

// Refresh exchanges the cached token for a fresh one. Concurrent calls
// coalesce onto one request.
func (a *Adapter) Refresh(ctx context.Context) (string, error) {
	a.mu.Lock()
	if ch := a.inflight; ch != nil {
		a.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return a.currentToken()
	}

	ch := make(chan struct{})
	a.inflight = ch
	old := a.token
	a.mu.Unlock()

	resp, err := a.refresher.LoginRefresh(ctx, old)

	a.mu.Lock()
	a.inflight = nil
	close(ch)
	if err != nil {
		if relaysdk.IsAuthError(err) {
			a.invalid = true
			a.mu.Unlock()
			slog.Error("session: token refresh rejected", "error", err)
			if a.bus != nil {
				a.bus.Publish(events.TopicAuthInvalid, err.Error())
			}
			return "", fmt.Errorf("session: refresh: %w", err)
		}
		// soft failure, keep the old token
		token := a.token
		a.mu.Unlock()
		slog.Warn("session: token refresh failed", "error", err)
		if token != "" {
			return token, nil
		}
		return "", fmt.Errorf("session: refresh: %w", err)
	}

	a.token = resp.Token
	a.expiresAt, _ = tokenExpiry(resp.Token)
	a.invalid = false
	token, expiresAt := a.token, a.expiresAt
	a.mu.Unlock()

	slog.Debug("session: token refreshed", "expires_at", expiresAt)
	if a.OnToken != nil {
		a.OnToken(token)
	}
	return token, nil
}

// Start runs the proactive refresh tick until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.mu.Lock()
				due := a.token != "" && !a.invalid && a.needsRefreshLocked()
				a.mu.Unlock()
				if due {
					if _, err := a.Refresh(ctx); err != nil {
						slog.Warn("session: proactive refresh", "error", err)
					}
				}
			}
		}
	}()
}

func (a *Adapter) needsRefreshLocked() bool {
	if a.expiresAt.IsZero() {
		return true
	}
	return time.Until(a.expiresAt) <= refreshWindow
}

func (a *Adapter) currentToken() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.invalid || a.token == "" {
		return "", ErrNoToken
	}
	return a.token, nil
}

// tokenExpiry reads the expiry claim from an unverified JWT. Both the
// standard numeric `exp` and the relay's ISO-8601 `expires_at` are honoured.
func tokenExpiry(token string) (time.Time, error) {
	claims := &relayClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}

	if claims.RegisteredClaims.ExpiresAt != nil {
		return claims.RegisteredClaims.ExpiresAt.Time, nil
	}
	if claims.ExpiresAt != "" {
		return time.Parse(time.RFC3339, claims.ExpiresAt)
	}
	return time.Time{}, errors.New("no expiry claim")
}
