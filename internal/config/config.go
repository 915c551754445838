// Package config loads and validates the calmirror YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/calmirror/calmirror/internal/model"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// Mailboxes is the legacy flat list of monitored mailboxes. Each entry
	// is mirrored onto itself (source == destination) using the default
	// source type. Superseded by Mappings but still accepted.
	Mailboxes []string `yaml:"mailboxes,omitempty"`

	// Mappings is the explicit source → destination mapping list.
	// Entries here take precedence over legacy Mailboxes entries with the
	// same source address.
	Mappings []MappingConfig `yaml:"mappings,omitempty"`

	// DefaultSourceType is applied to legacy Mailboxes entries and to
	// Mappings entries that omit a type. Defaults to "onpremise".
	DefaultSourceType string `yaml:"default_source_type,omitempty"`

	// SyncInterval controls how often a reconciliation cycle is scheduled.
	// Minimum 1m, maximum 24h. Defaults to 5m.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// LookbackDays and LookforwardDays define the sliding fetch window
	// [now − lookback, now + lookforward]. Defaults: 7 and 60.
	LookbackDays    int `yaml:"lookback_days"`
	LookforwardDays int `yaml:"lookforward_days"`

	// ThrottleDelay is the fixed pause between per-item destination writes.
	// Defaults to 100ms.
	ThrottleDelay time.Duration `yaml:"throttle_delay"`

	// DisablePersistence turns off the sync-cursor file; the service then
	// starts from an empty state every run.
	DisablePersistence bool `yaml:"disable_persistence,omitempty"`

	// StatePath is the sync-cursor file location.
	// Defaults to ~/.local/share/calmirror/state.json.
	StatePath string `yaml:"state_path,omitempty"`

	// HistoryPath is the SQLite run-history database location. Empty
	// disables history. Defaults to ~/.local/share/calmirror/history.db
	// unless DisableHistory is set.
	HistoryPath    string `yaml:"history_path,omitempty"`
	DisableHistory bool   `yaml:"disable_history,omitempty"`

	// HTTPListen is the control-surface listen address (e.g. ":8484").
	// Empty disables the HTTP API.
	HTTPListen string `yaml:"http_listen,omitempty"`

	// EWS configures the on-premise Exchange source adapter. Required when
	// any mapping uses the onpremise source type.
	EWS *EWSConfig `yaml:"ews,omitempty"`

	// Graph configures the Microsoft Graph client used for Exchange Online
	// sources and for all destination mailboxes.
	Graph *GraphConfig `yaml:"graph"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// MappingConfig is one source → destination pairing as written in YAML.
type MappingConfig struct {
	Name        string `yaml:"name,omitempty"`
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Type        string `yaml:"type,omitempty"` // "onpremise" or "online"
}

// EWSConfig holds on-premise Exchange Web Services settings.
type EWSConfig struct {
	// URL is the EWS endpoint, e.g. "https://mail.corp.example/EWS/Exchange.asmx".
	URL string `yaml:"url"`

	// Auth selects the authentication mode: "basic" (service account
	// credentials) or "oauth" (client-credentials flow for hybrid
	// deployments reached through outlook.office365.com).
	Auth string `yaml:"auth,omitempty"`

	// Username/Password authenticate the impersonating service account in
	// basic mode. Values support ${ENV_VAR} expansion.
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// TenantID/ClientID/ClientSecret drive the oauth mode.
	TenantID     string `yaml:"tenant_id,omitempty"`
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
}

// GraphConfig holds the Azure app registration used for Microsoft Graph.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"` // supports ${ENV_VAR} expansion
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "calmirror".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/calmirror/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "calmirror", "config.yaml"), nil
}

// DefaultStatePath returns ~/.local/share/calmirror/state.json.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "calmirror", "state.json"), nil
}

// DefaultHistoryPath returns ~/.local/share/calmirror/history.db.
func DefaultHistoryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "calmirror", "history.db"), nil
}

// Load reads and validates the configuration file at the given path.
// Secret fields support ${ENV_VAR} expansion.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	cfg.expandSecrets()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// expandSecrets resolves ${ENV_VAR} references in credential fields so
// secrets can be kept out of the config file.
func (c *Config) expandSecrets() {
	if c.EWS != nil {
		c.EWS.Username = os.ExpandEnv(c.EWS.Username)
		c.EWS.Password = os.ExpandEnv(c.EWS.Password)
		c.EWS.ClientSecret = os.ExpandEnv(c.EWS.ClientSecret)
	}
	if c.Graph != nil {
		c.Graph.ClientSecret = os.ExpandEnv(c.Graph.ClientSecret)
	}
}

// validate checks that all required fields are present and well-formed,
// applying defaults for optional ones.
func (c *Config) validate() error {
	if c.DefaultSourceType == "" {
		c.DefaultSourceType = string(model.SourceOnPremise)
	}
	if !model.SourceType(c.DefaultSourceType).Valid() {
		return fmt.Errorf("default_source_type %q must be %q or %q",
			c.DefaultSourceType, model.SourceOnPremise, model.SourceOnline)
	}

	if len(c.Mailboxes) == 0 && len(c.Mappings) == 0 {
		return fmt.Errorf("at least one entry in mappings or mailboxes is required")
	}
	for i, m := range c.Mappings {
		if m.Source == "" {
			return fmt.Errorf("mappings[%d] has an empty source mailbox", i)
		}
		if m.Destination == "" {
			return fmt.Errorf("mappings[%d] (%s) has an empty destination mailbox", i, m.Source)
		}
		if m.Type != "" && !model.SourceType(m.Type).Valid() {
			return fmt.Errorf("mappings[%d] (%s) has unknown type %q", i, m.Source, m.Type)
		}
	}
	for i, mb := range c.Mailboxes {
		if strings.TrimSpace(mb) == "" {
			return fmt.Errorf("mailboxes[%d] is empty", i)
		}
	}

	if c.SyncInterval == 0 {
		c.SyncInterval = 5 * time.Minute
	}
	if c.SyncInterval < time.Minute {
		return fmt.Errorf("sync_interval %v is too short (minimum 1m)", c.SyncInterval)
	}
	if c.SyncInterval > 24*time.Hour {
		return fmt.Errorf("sync_interval %v is too long (maximum 24h)", c.SyncInterval)
	}

	if c.LookbackDays == 0 {
		c.LookbackDays = 7
	}
	if c.LookbackDays < 0 {
		return fmt.Errorf("lookback_days must not be negative")
	}
	if c.LookforwardDays == 0 {
		c.LookforwardDays = 60
	}
	if c.LookforwardDays < 0 {
		return fmt.Errorf("lookforward_days must not be negative")
	}

	if c.ThrottleDelay == 0 {
		c.ThrottleDelay = 100 * time.Millisecond
	}
	if c.ThrottleDelay < 0 {
		return fmt.Errorf("throttle_delay must not be negative")
	}

	if c.Graph == nil {
		return fmt.Errorf("graph section is required (destination mailboxes are written via Graph)")
	}
	if c.Graph.TenantID == "" || c.Graph.ClientID == "" || c.Graph.ClientSecret == "" {
		return fmt.Errorf("graph.tenant_id, graph.client_id, and graph.client_secret are required")
	}

	needsEWS := false
	for _, m := range c.MailboxMappings() {
		if m.SourceType == model.SourceOnPremise {
			needsEWS = true
			break
		}
	}
	if needsEWS {
		if c.EWS == nil {
			return fmt.Errorf("ews section is required when a mapping uses the onpremise source type")
		}
		if err := c.EWS.validate(); err != nil {
			return err
		}
	}

	if c.Telemetry != nil && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
	}

	return nil
}

func (e *EWSConfig) validate() error {
	if e.URL == "" {
		return fmt.Errorf("ews.url is required")
	}
	u, err := url.ParseRequestURI(e.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("ews.url %q must be a valid http or https URL", e.URL)
	}

	if e.Auth == "" {
		e.Auth = "basic"
	}
	switch e.Auth {
	case "basic":
		if e.Username == "" || e.Password == "" {
			return fmt.Errorf("ews.username and ews.password are required for basic auth")
		}
	case "oauth":
		if e.TenantID == "" || e.ClientID == "" || e.ClientSecret == "" {
			return fmt.Errorf("ews.tenant_id, ews.client_id, and ews.client_secret are required for oauth")
		}
	default:
		return fmt.Errorf("ews.auth %q must be \"basic\" or \"oauth\"", e.Auth)
	}
	return nil
}

// MailboxMappings merges the explicit mapping list with the legacy flat
// mailbox list into one ordered slice. Explicit mappings take precedence;
// legacy entries fill the gaps as source == destination with the default
// source type. The merge is pure: the receiver is not modified.
func (c *Config) MailboxMappings() []model.MailboxMapping {
	defaultType := model.SourceType(c.DefaultSourceType)
	if defaultType == "" {
		defaultType = model.SourceOnPremise
	}

	out := make([]model.MailboxMapping, 0, len(c.Mappings)+len(c.Mailboxes))
	seen := make(map[string]bool, len(c.Mappings))

	for _, m := range c.Mappings {
		src := strings.ToLower(strings.TrimSpace(m.Source))
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true

		st := model.SourceType(m.Type)
		if st == "" {
			st = defaultType
		}
		out = append(out, model.MailboxMapping{
			Name:               m.Name,
			SourceMailbox:      src,
			DestinationMailbox: strings.ToLower(strings.TrimSpace(m.Destination)),
			SourceType:         st,
		})
	}

	for _, mb := range c.Mailboxes {
		addr := strings.ToLower(strings.TrimSpace(mb))
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, model.MailboxMapping{
			SourceMailbox:      addr,
			DestinationMailbox: addr,
			SourceType:         defaultType,
		})
	}

	return out
}
