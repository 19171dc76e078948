package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/shuttersync/shuttersync/internal/policy"
	"github.com/shuttersync/shuttersync/internal/sink"
	"github.com/shuttersync/shuttersync/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigPath  = filepath.Join(home, ".shuttersync", "config.json")
	DefaultStateDir    = filepath.Join(home, ".shuttersync", "state")
	DefaultLogFilePath = filepath.Join(home, ".shuttersync", "logs", "shuttersync.log")
	DefaultDataDir     = filepath.Join(home, "ShutterSync")
	DefaultServerURL   = "https://relay.shuttersync.dev"
)

const (
	DefaultConcurrency  = 3
	DefaultSyncInterval = 30 * time.Second
)

// PolicyConfig is the serialised form of a folder policy.
type PolicyConfig struct {
	Kind    string `json:"kind"`
	Name    string `json:"name,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// Config is the client configuration. Mutable runtime state (tokens, the
// sync high-water mark) lives in the state store, not here.
type Config struct {
	Email     string `json:"email"`
	ServerURL string `json:"server_url"`
	DataDir   string `json:"data_dir"`  // where synced artifacts land
	StateDir  string `json:"state_dir"` // state db + lock

	ImportSource   string             `json:"import_source,omitempty"`
	Recurse        bool               `json:"recurse"`
	Excludes       []string           `json:"excludes,omitempty"`
	Policy         PolicyConfig       `json:"policy"`
	Destinations   []sink.Destination `json:"destinations,omitempty"`
	SkipDuplicates *bool              `json:"skip_duplicates,omitempty"` // nil means true
	Concurrency    int                `json:"concurrency,omitempty"`
	SyncInterval   time.Duration      `json:"sync_interval,omitempty"`
	MaxFileSize    int64              `json:"max_file_size,omitempty"` // bytes, 0 = unlimited

	Path string `json:"-"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config parse %q: %w", path, err)
	}

	cfg.Path = path
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.Policy.Kind == "" {
		c.Policy.Kind = string(policy.KindNone)
	}
}

// SkipDup returns the effective skip-duplicates flag (default true).
func (c *Config) SkipDup() bool {
	if c.SkipDuplicates == nil {
		return true
	}
	return *c.SkipDuplicates
}

// FolderPolicy materialises the configured policy.
func (c *Config) FolderPolicy() (policy.Policy, error) {
	var p policy.Policy
	switch policy.Kind(c.Policy.Kind) {
	case policy.KindNone, "":
		p = policy.None()
	case policy.KindCustom:
		p = policy.Custom(c.Policy.Name)
	case policy.KindByDate:
		p = policy.ByDate(policy.DatePattern(c.Policy.Pattern))
	default:
		return policy.Policy{}, fmt.Errorf("unknown folder policy %q", c.Policy.Kind)
	}
	return p, p.Validate()
}

// EnabledDestinations returns configured destinations with Enabled set.
func (c *Config) EnabledDestinations() []sink.Destination {
	var out []sink.Destination
	for _, d := range c.Destinations {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url %q is not a valid http(s) URL", c.ServerURL)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if _, err := c.FolderPolicy(); err != nil {
		return err
	}
	for i, d := range c.Destinations {
		if _, err := sink.ParseType(string(d.Type)); err != nil {
			return fmt.Errorf("destination %d: %w", i, err)
		}
	}
	return nil
}
