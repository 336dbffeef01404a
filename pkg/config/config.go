// Package config loads and validates the packline configuration file. The
// file is YAML with strict field checking; unknown keys are an error so
// typos surface at load time instead of as silently ignored settings.
//
// Credentials never live in the file itself. Feed and tenant secrets are
// referenced by environment variable name and read at load time, which keeps
// the configuration safe to commit and share.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/coordtech/packline/pkg/feeds"
	"github.com/coordtech/packline/pkg/orchestrator"
)

// DefaultPath is where the CLI looks for configuration when no --config flag
// is given.
const DefaultPath = "packline.yaml"

// Duration wraps time.Duration with YAML support for values like "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// FeedConfig describes one custom feed.
type FeedConfig struct {
	// ID is the feed identifier used in resolution reports.
	ID string `yaml:"id" validate:"required"`

	// URL is the feed base URL.
	URL string `yaml:"url" validate:"required,url"`

	// Username is the basic auth user, when the feed requires one.
	Username string `yaml:"username"`

	// SecretEnv names the environment variable holding the feed secret.
	// The secret itself never appears in the file.
	SecretEnv string `yaml:"secretEnv"`
}

// TenantConfig describes one orchestrator tenant.
type TenantConfig struct {
	// Name is the tenant name, unique within the file.
	Name string `yaml:"name" validate:"required"`

	// Org is the organization the tenant belongs to.
	Org string `yaml:"org" validate:"required"`

	// BaseURL is the orchestrator base URL.
	BaseURL string `yaml:"baseUrl" validate:"required,url"`

	// ClientID is the OAuth client credential identifier.
	ClientID string `yaml:"clientId" validate:"required"`

	// ClientSecretEnv names the environment variable holding the OAuth
	// client secret.
	ClientSecretEnv string `yaml:"clientSecretEnv" validate:"required"`

	// Scope overrides the default OAuth scope.
	Scope string `yaml:"scope"`
}

// LoggingConfig holds the log settings the CLI honors.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// Format is console or json.
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// Config is the root configuration.
type Config struct {
	// ScanRoot is the directory tree scanned for project descriptors.
	ScanRoot string `yaml:"scanRoot"`

	// CacheDir is where built packages and the cache index live.
	CacheDir string `yaml:"cacheDir" validate:"required"`

	// MaxParallel bounds concurrent pipelines within one run. Zero means
	// the engine default.
	MaxParallel int `yaml:"maxParallel" validate:"gte=0,lte=64"`

	// BuildTimeout bounds one packaging invocation. Zero means the builder
	// default.
	BuildTimeout Duration `yaml:"buildTimeout"`

	// Feeds are the custom feeds consulted during resolution, between the
	// local cache and the tenant feed.
	Feeds []FeedConfig `yaml:"feeds" validate:"dive"`

	// Tenants are the orchestrator tenants available to publish and
	// migrate commands.
	Tenants []TenantConfig `yaml:"tenants" validate:"dive"`

	Logging LoggingConfig `yaml:"logging"`
}

var validate = validator.New()

// Load reads, parses, and validates the configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open configuration: %w", err)
	}
	defer f.Close()

	cfg := &Config{
		ScanRoot: ".",
	}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	seen := make(map[string]bool, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		if seen[t.Name] {
			return nil, fmt.Errorf("invalid configuration in %s: tenant %q is defined twice", path, t.Name)
		}
		seen[t.Name] = true
	}

	return cfg, nil
}

// Tenant returns the named tenant definition.
func (c *Config) Tenant(name string) (TenantConfig, error) {
	for _, t := range c.Tenants {
		if t.Name == name {
			return t, nil
		}
	}
	return TenantConfig{}, fmt.Errorf("tenant %q is not configured", name)
}

// Resolve materializes the tenant with its secret read from the environment.
func (t TenantConfig) Resolve() (orchestrator.Tenant, error) {
	secret, ok := os.LookupEnv(t.ClientSecretEnv)
	if !ok || secret == "" {
		return orchestrator.Tenant{}, fmt.Errorf(
			"tenant %q: environment variable %s is not set", t.Name, t.ClientSecretEnv)
	}
	return orchestrator.Tenant{
		Name:         t.Name,
		OrgName:      t.Org,
		BaseURL:      t.BaseURL,
		ClientID:     t.ClientID,
		ClientSecret: secret,
		Scope:        t.Scope,
	}, nil
}

// Resolve materializes the feed source with its credential read from the
// environment. Feeds without a secret are anonymous.
func (f FeedConfig) Resolve() (feeds.Source, error) {
	src := feeds.Source{URL: f.URL}
	if f.SecretEnv == "" {
		return src, nil
	}
	secret, ok := os.LookupEnv(f.SecretEnv)
	if !ok || secret == "" {
		return feeds.Source{}, fmt.Errorf(
			"feed %q: environment variable %s is not set", f.ID, f.SecretEnv)
	}
	src.Credential = &feeds.Credential{Username: f.Username, Secret: secret}
	return src, nil
}
