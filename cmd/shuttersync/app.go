package main

import (
	"fmt"
	"log/slog"

	"github.com/shuttersync/shuttersync/internal/config"
	"github.com/shuttersync/shuttersync/internal/events"
	"github.com/shuttersync/shuttersync/internal/relaysdk"
	"github.com/shuttersync/shuttersync/internal/session"
	"github.com/shuttersync/shuttersync/internal/sink"
	"github.com/shuttersync/shuttersync/internal/store"
)

// app holds the shared collaborators every command wires up the same way.
type app struct {
	cfg   *config.Config
	store *store.Store
	bus   *events.Bus
	sess  *session.Adapter
	relay *relaysdk.Client // authenticated via the session adapter
}

// newApp opens the state store and builds the relay clients. The session
// adapter refreshes through an unauthenticated client so a refresh never
// recurses into the token source.
func newApp(cfg *config.Config) (*app, error) {
	st, err := store.Open(cfg.StateDir)
	if err != nil {
		return nil, exitWith(exitConfig, fmt.Errorf("open state store: %w", err))
	}

	bus := events.NewBus()

	token, _, err := st.Tokens()
	if err != nil {
		st.Close()
		return nil, exitWith(exitConfig, fmt.Errorf("read saved token: %w", err))
	}

	refresher := relaysdk.New(cfg.ServerURL, nil)
	sess := session.NewAdapter(refresher, bus, token)
	sess.OnToken = func(t string) {
		if err := st.SaveTokens(t, ""); err != nil {
			slog.Warn("persist refreshed token", "error", err)
		}
	}

	return &app{
		cfg:   cfg,
		store: st,
		bus:   bus,
		sess:  sess,
		relay: relaysdk.New(cfg.ServerURL, sess),
	}, nil
}

func (a *app) Close() {
	a.relay.Close()
	if err := a.store.Close(); err != nil {
		slog.Warn("close state store", "error", err)
	}
}

// buildTargets constructs sinks for every enabled destination.
func (a *app) buildTargets() ([]sink.Destination, []sink.Sink, error) {
	deps := sink.Deps{Relay: a.relay}
	var dsts []sink.Destination
	var sinks []sink.Sink
	for _, d := range a.cfg.EnabledDestinations() {
		s, err := sink.Build(d, deps)
		if err != nil {
			return nil, nil, exitWith(exitConfig, fmt.Errorf("destination %s: %w", d.Type, err))
		}
		dsts = append(dsts, d)
		sinks = append(sinks, s)
	}
	return dsts, sinks, nil
}
