package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shuttersync/shuttersync/internal/relaysdk"
)

// sessions are re-obtained this close to their server-provided expiry
const sessionExpirySkew = 60 * time.Second

// relaySink uploads to the relay service. A single upload session is
// obtained lazily and reused until expiry minus skew.
type relaySink struct {
	client *relaysdk.Client

	mu      sync.Mutex
	session *relaysdk.UploadSession
}

func newRelaySink(_ Destination, deps Deps) (Sink, error) {
	if deps.Relay == nil {
		return nil, Errf(KindConfigInvalid, "relay: client not configured")
	}
	return &relaySink{client: deps.Relay}, nil
}

func (s *relaySink) DisplayName() string { return "Relay" }
func (s *relaySink) Priority() int       { return PriorityRelay }

func (s *relaySink) TestConnection(ctx context.Context) error {
	if _, err := s.client.StartUploadSession(ctx); err != nil {
		return classifyRelayErr(err)
	}
	return nil
}

func (s *relaySink) Put(ctx context.Context, localPath string, key string, progress ProgressFunc) (string, error) {
	session, err := s.currentSession(ctx)
	if err != nil {
		return "", classifyRelayErr(err)
	}

	result, err := s.client.UploadFile(ctx, session, localPath, key, relaysdk.ProgressCallback(progress))
	if err != nil {
		return "", classifyRelayErr(err)
	}

	return result.ID, nil
}

// currentSession returns the cached session, obtaining a fresh one when
// missing or within skew of expiry.
func (s *relaySink) currentSession(ctx context.Context) (*relaysdk.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.session.Expired(sessionExpirySkew) {
		return s.session, nil
	}

	session, err := s.client.StartUploadSession(ctx)
	if err != nil {
		return nil, err
	}
	s.session = session
	return session, nil
}

func classifyRelayErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapErr(KindCancelled, err)
	}
	if relaysdk.IsAuthError(err) {
		return wrapErr(KindUnauthenticated, err)
	}

	var apiErr *relaysdk.APIError
	if errors.As(err, &apiErr) {
		return rejectedErr(apiErr.Status, err)
	}
	return wrapErr(KindUnreachable, err)
}

var _ Sink = (*relaySink)(nil)
