package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttersync/shuttersync/internal/policy"
	"github.com/shuttersync/shuttersync/internal/sink"
)

func TestConfig_LoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"email":"alice@example.com"}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", cfg.Email)
	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, DefaultStateDir, cfg.StateDir)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultSyncInterval, cfg.SyncInterval)
	assert.Equal(t, string(policy.KindNone), cfg.Policy.Kind)
	assert.Equal(t, path, cfg.Path)
	assert.True(t, cfg.SkipDup(), "skip duplicates defaults on")
}

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	skip := false
	cfg := &Config{
		Email:     "alice@example.com",
		ServerURL: "https://relay.example.com",
		DataDir:   "/photos/synced",
		Policy:    PolicyConfig{Kind: string(policy.KindByDate), Pattern: string(policy.PatternYearMonthDay)},
		Destinations: []sink.Destination{
			{Type: sink.TypeLocal, Enabled: true, Root: "/photos/library"},
			{Type: sink.TypeS3, Enabled: false, Bucket: "shoots", Region: "eu-west-1"},
		},
		SkipDuplicates: &skip,
		Concurrency:    5,
		SyncInterval:   time.Minute,
	}

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Email, got.Email)
	assert.Equal(t, cfg.ServerURL, got.ServerURL)
	assert.Equal(t, cfg.Destinations, got.Destinations)
	assert.Equal(t, 5, got.Concurrency)
	assert.Equal(t, time.Minute, got.SyncInterval)
	assert.False(t, got.SkipDup())
}

func TestConfig_FolderPolicy(t *testing.T) {
	cfg := &Config{}
	p, err := cfg.FolderPolicy()
	require.NoError(t, err)
	assert.Equal(t, policy.KindNone, p.Kind)

	cfg.Policy = PolicyConfig{Kind: string(policy.KindCustom), Name: "Wedding 2025"}
	p, err = cfg.FolderPolicy()
	require.NoError(t, err)
	assert.Equal(t, "Wedding 2025", p.Name)

	cfg.Policy = PolicyConfig{Kind: string(policy.KindByDate), Pattern: "YYYY/QQ"}
	_, err = cfg.FolderPolicy()
	assert.Error(t, err, "unknown date pattern")

	cfg.Policy = PolicyConfig{Kind: "by_moon_phase"}
	_, err = cfg.FolderPolicy()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		c := &Config{ServerURL: "https://relay.example.com", DataDir: "/photos"}
		c.applyDefaults()
		return c
	}

	assert.NoError(t, valid().Validate())

	c := valid()
	c.ServerURL = "ftp://relay.example.com"
	assert.Error(t, c.Validate())

	c = valid()
	c.ServerURL = "not a url"
	assert.Error(t, c.Validate())

	c = valid()
	c.DataDir = ""
	assert.Error(t, c.Validate())

	c = valid()
	c.Destinations = []sink.Destination{{Type: "ftp"}}
	assert.Error(t, c.Validate())
}

func TestConfig_EnabledDestinations(t *testing.T) {
	cfg := &Config{Destinations: []sink.Destination{
		{Type: sink.TypeLocal, Enabled: true},
		{Type: sink.TypeS3, Enabled: false},
		{Type: sink.TypeRelay, Enabled: true},
	}}

	enabled := cfg.EnabledDestinations()
	require.Len(t, enabled, 2)
	assert.Equal(t, sink.TypeLocal, enabled[0].Type)
	assert.Equal(t, sink.TypeRelay, enabled[1].Type)
}
