// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the master configuration for the Warden daemon.
type Config struct {
	Environment Environment `yaml:"environment"`

	Matrix  MatrixConfig  `yaml:"matrix"`
	Store   StoreConfig   `yaml:"store"`
	Tickets TicketsConfig `yaml:"tickets"`
	Sweeper SweeperConfig `yaml:"sweeper"`
	Archive ArchiveConfig `yaml:"archive"`
	Ops     OpsConfig     `yaml:"ops"`

	// Per-environment overrides, applied after the base config.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the fields that may differ per environment.
type Overrides struct {
	Matrix *MatrixConfig `yaml:"matrix,omitempty"`
	Store  *StoreConfig  `yaml:"store,omitempty"`
	Ops    *OpsConfig    `yaml:"ops,omitempty"`
}

// MatrixConfig locates the homeserver and the rooms Warden manages.
type MatrixConfig struct {
	// Homeserver is the client-server API base URL.
	Homeserver string `yaml:"homeserver"`

	// StateDir holds session.json written by warden-login.
	StateDir string `yaml:"state_dir"`

	// CommunityRoom is the room whose power levels define staff tiers.
	CommunityRoom string `yaml:"community_room"`

	// TicketsSpace is the space every ticket room is parented under.
	TicketsSpace string `yaml:"tickets_space"`

	// TranscriptsRoom and AdminRoom receive close logs. Values stored
	// in the config table take precedence.
	TranscriptsRoom string `yaml:"transcripts_room"`
	AdminRoom       string `yaml:"admin_room"`
}

// StoreConfig selects the durable store backend.
type StoreConfig struct {
	// Backend is one of sqlite, pebble, postgres.
	Backend string `yaml:"backend"`

	// Path is the database file (sqlite) or directory (pebble).
	Path string `yaml:"path"`

	// DSN is the lib/pq connection string for the postgres backend.
	DSN string `yaml:"dsn"`

	// PoolSize is the sqlite connection pool size.
	PoolSize int `yaml:"pool_size"`
}

// StaffTier is a named staff rank held by users whose power level in
// the community room is at least PowerLevel.
type StaffTier struct {
	Name       string `yaml:"name"`
	PowerLevel int    `yaml:"power_level"`
}

// TicketsConfig tunes the ticket lifecycle.
type TicketsConfig struct {
	// HistoryLimit bounds the messages replayed per ticket on startup.
	HistoryLimit int `yaml:"history_limit"`

	// IdleThreshold is how long a member may wait for staff before
	// the sweeper pings.
	IdleThreshold time.Duration `yaml:"idle_threshold"`

	// Tiers lists staff ranks from most junior to most senior.
	Tiers []StaffTier `yaml:"tiers"`

	// MinimumTier maps a ticket type (e.g. "staff_report") to the most
	// junior tier allowed to see it. Types not listed admit every tier.
	MinimumTier map[string]string `yaml:"minimum_tier"`

	// ReviewerTier is the tier needed to record, list and remove ticket
	// reviews. Empty means the second most senior tier.
	ReviewerTier string `yaml:"reviewer_tier"`

	// ResetTier is the tier needed for the monthly reset of reviews and
	// archived transcripts. Empty means the most senior tier.
	ResetTier string `yaml:"reset_tier"`
}

// SweeperConfig throttles the background sweeper.
type SweeperConfig struct {
	// MinInterval is the minimum time between the start of two passes.
	MinInterval time.Duration `yaml:"min_interval"`

	// Burst allows this many back-to-back passes before throttling.
	Burst int `yaml:"burst"`
}

// ArchiveConfig controls transcript archival on close.
type ArchiveConfig struct {
	// Dir receives archived transcripts. Empty disables archival.
	Dir string `yaml:"dir"`

	// Compression is one of zstd, lz4, none.
	Compression string `yaml:"compression"`

	// AgeRecipients seals archives to these age public keys.
	AgeRecipients []string `yaml:"age_recipients"`
}

// OpsConfig configures the metrics and health listener.
type OpsConfig struct {
	// Listen is the TCP address for /metrics, /healthz and /tickets.
	// Empty disables the listener.
	Listen string `yaml:"listen"`
}

// Default returns the configuration every file is merged onto.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".local", "state", "warden")

	return &Config{
		Environment: Development,
		Matrix: MatrixConfig{
			StateDir: root,
		},
		Store: StoreConfig{
			Backend:  "sqlite",
			Path:     filepath.Join(root, "warden.db"),
			PoolSize: 4,
		},
		Tickets: TicketsConfig{
			HistoryLimit:  255,
			IdleThreshold: 10 * time.Minute,
			Tiers: []StaffTier{
				{Name: "Trial Moderator", PowerLevel: 25},
				{Name: "Moderator", PowerLevel: 50},
				{Name: "Head Moderator", PowerLevel: 75},
				{Name: "Administrator", PowerLevel: 100},
			},
			MinimumTier: map[string]string{
				"user_report":  "Moderator",
				"staff_report": "Head Moderator",
			},
		},
		Sweeper: SweeperConfig{
			MinInterval: 30 * time.Second,
			Burst:       1,
		},
		Archive: ArchiveConfig{
			Compression: "zstd",
		},
		Ops: OpsConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// Load loads configuration from the file named by WARDEN_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("WARDEN_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("WARDEN_CONFIG environment variable not set; " +
			"set it to the path of your warden.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if matrix := overrides.Matrix; matrix != nil {
		overrideString(&c.Matrix.Homeserver, matrix.Homeserver)
		overrideString(&c.Matrix.StateDir, matrix.StateDir)
		overrideString(&c.Matrix.CommunityRoom, matrix.CommunityRoom)
		overrideString(&c.Matrix.TicketsSpace, matrix.TicketsSpace)
		overrideString(&c.Matrix.TranscriptsRoom, matrix.TranscriptsRoom)
		overrideString(&c.Matrix.AdminRoom, matrix.AdminRoom)
	}
	if store := overrides.Store; store != nil {
		overrideString(&c.Store.Backend, store.Backend)
		overrideString(&c.Store.Path, store.Path)
		overrideString(&c.Store.DSN, store.DSN)
		if store.PoolSize > 0 {
			c.Store.PoolSize = store.PoolSize
		}
	}
	if ops := overrides.Ops; ops != nil {
		overrideString(&c.Ops.Listen, ops.Listen)
	}
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":             os.Getenv("HOME"),
		"WARDEN_STATE_DIR": c.Matrix.StateDir,
	}

	c.Matrix.StateDir = expandVars(c.Matrix.StateDir, vars)
	vars["WARDEN_STATE_DIR"] = c.Matrix.StateDir

	c.Store.Path = expandVars(c.Store.Path, vars)
	c.Store.DSN = expandVars(c.Store.DSN, vars)
	c.Archive.Dir = expandVars(c.Archive.Dir, vars)
	c.Matrix.Homeserver = expandVars(c.Matrix.Homeserver, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. Names in vars win
// over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Matrix.Homeserver == "" {
		errs = append(errs, errors.New("matrix.homeserver is required"))
	}
	if c.Matrix.StateDir == "" {
		errs = append(errs, errors.New("matrix.state_dir is required"))
	}
	if c.Matrix.CommunityRoom == "" {
		errs = append(errs, errors.New("matrix.community_room is required"))
	}
	if c.Matrix.TicketsSpace == "" {
		errs = append(errs, errors.New("matrix.tickets_space is required"))
	}

	switch c.Store.Backend {
	case "sqlite", "pebble":
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for the %s backend", c.Store.Backend))
		}
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of: sqlite, pebble, postgres (got %q)", c.Store.Backend))
	}
	if c.Store.PoolSize < 1 {
		errs = append(errs, errors.New("store.pool_size must be at least 1"))
	}

	if c.Tickets.HistoryLimit < 1 {
		errs = append(errs, errors.New("tickets.history_limit must be at least 1"))
	}
	if c.Tickets.IdleThreshold <= 0 {
		errs = append(errs, errors.New("tickets.idle_threshold must be positive"))
	}
	if len(c.Tickets.Tiers) == 0 {
		errs = append(errs, errors.New("tickets.tiers must name at least one staff tier"))
	}
	for index := 1; index < len(c.Tickets.Tiers); index++ {
		if c.Tickets.Tiers[index].PowerLevel <= c.Tickets.Tiers[index-1].PowerLevel {
			errs = append(errs, fmt.Errorf("tickets.tiers must be ordered by increasing power_level (%q after %q)",
				c.Tickets.Tiers[index].Name, c.Tickets.Tiers[index-1].Name))
		}
	}
	for ticketType, tier := range c.Tickets.MinimumTier {
		if c.TierIndex(tier) < 0 {
			errs = append(errs, fmt.Errorf("tickets.minimum_tier.%s names unknown tier %q", ticketType, tier))
		}
	}

	if c.Tickets.ReviewerTier != "" && c.TierIndex(c.Tickets.ReviewerTier) < 0 {
		errs = append(errs, fmt.Errorf("tickets.reviewer_tier names unknown tier %q", c.Tickets.ReviewerTier))
	}
	if c.Tickets.ResetTier != "" && c.TierIndex(c.Tickets.ResetTier) < 0 {
		errs = append(errs, fmt.Errorf("tickets.reset_tier names unknown tier %q", c.Tickets.ResetTier))
	}

	if c.Sweeper.MinInterval <= 0 {
		errs = append(errs, errors.New("sweeper.min_interval must be positive"))
	}
	if c.Sweeper.Burst < 1 {
		errs = append(errs, errors.New("sweeper.burst must be at least 1"))
	}

	compressions := []string{"zstd", "lz4", "none"}
	if !slices.Contains(compressions, c.Archive.Compression) {
		errs = append(errs, fmt.Errorf("archive.compression must be one of: %v", compressions))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// TierIndex returns the position of the named tier in Tickets.Tiers,
// or -1.
func (c *Config) TierIndex(name string) int {
	return slices.IndexFunc(c.Tickets.Tiers, func(tier StaffTier) bool {
		return tier.Name == name
	})
}

// TierNames returns the configured tier names, junior first.
func (c *Config) TierNames() []string {
	names := make([]string, len(c.Tickets.Tiers))
	for index, tier := range c.Tickets.Tiers {
		names[index] = tier.Name
	}
	return names
}

// ReviewerTierName returns the tier that may manage ticket reviews.
func (c *Config) ReviewerTierName() string {
	if c.Tickets.ReviewerTier != "" {
		return c.Tickets.ReviewerTier
	}
	tiers := c.Tickets.Tiers
	switch len(tiers) {
	case 0:
		return ""
	case 1:
		return tiers[0].Name
	}
	return tiers[len(tiers)-2].Name
}

// ResetTierName returns the tier that may run the monthly reset.
func (c *Config) ResetTierName() string {
	if c.Tickets.ResetTier != "" {
		return c.Tickets.ResetTier
	}
	if len(c.Tickets.Tiers) == 0 {
		return ""
	}
	return c.Tickets.Tiers[len(c.Tickets.Tiers)-1].Name
}

// EnsurePaths creates the state and archive directories.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Matrix.StateDir, c.Archive.Dir}
	if c.Store.Backend == "sqlite" {
		paths = append(paths, filepath.Dir(c.Store.Path))
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
