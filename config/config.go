// Package config loads the settings shared by the content cache and the
// credential vault.
//
// Settings come from an optional YAML file, then environment variables, then
// defaults:
//
//	cache_dir: ~/.cache/remotedocs
//	credential_store: ~/.config/remotedocs/credentials.json
//	max_total_bytes: 500MiB
//	max_repo_bytes: 100MiB
//	keyring_service: remotedocs
//	log:
//	  level: info
//	  format: pretty
//
// Sizes accept plain byte counts or human readable values such as "512MiB"
// or "1 GB".
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/core"
	"github.com/jmgilman/go/remotedocs/internal/logging"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding file settings.
const (
	EnvCacheDir        = "REMOTEDOCS_CACHE_DIR"
	EnvCredentialStore = "REMOTEDOCS_CREDENTIAL_STORE"
	EnvMaxTotalBytes   = "REMOTEDOCS_MAX_TOTAL_BYTES"
	EnvMaxRepoBytes    = "REMOTEDOCS_MAX_REPO_BYTES"
	EnvKeyringService  = "REMOTEDOCS_KEYRING_SERVICE"
	EnvLogLevel        = "REMOTEDOCS_LOG_LEVEL"
	EnvLogFormat       = "REMOTEDOCS_LOG_FORMAT"
)

// Default values applied by SetDefaults.
const (
	DefaultMaxTotalBytes  Size = 500 * humanize.MiByte
	DefaultMaxRepoBytes   Size = 100 * humanize.MiByte
	DefaultKeyringService      = "remotedocs"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = LogFormatPretty

	appDirName          = "remotedocs"
	credentialStoreName = "credentials.json"
)

// Log output formats.
const (
	LogFormatPretty = "pretty"
	LogFormatJSON   = "json"
)

// Config holds all settings.
type Config struct {
	// CacheDir is the directory holding cached content.
	CacheDir string `yaml:"cache_dir"`
	// CredentialStore is the path of the encrypted credential file.
	CredentialStore string `yaml:"credential_store"`
	// MaxTotalBytes is the global cache ceiling.
	MaxTotalBytes Size `yaml:"max_total_bytes"`
	// MaxRepoBytes is the ceiling of any single repository.
	MaxRepoBytes Size `yaml:"max_repo_bytes"`
	// KeyringService names the OS credential manager entry holding the
	// vault's data key.
	KeyringService string `yaml:"keyring_service"`
	// Log controls diagnostic output.
	Log LogConfig `yaml:"log"`
}

// LogConfig controls diagnostic output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Size is a byte count that reads human readable values from YAML and the
// environment.
type Size int64

// ParseSize parses "1048576", "1MiB" or "1 MB".
func ParseSize(s string) (Size, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return Size(n), nil
}

// String formats the size using IEC units.
func (s Size) String() string {
	if s < 0 {
		return fmt.Sprintf("%d B", int64(s))
	}
	return humanize.IBytes(uint64(s))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", value.Line)
	}
	parsed, err := ParseSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*s = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Size) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// Load reads the YAML file at path from fsys, applies environment overrides
// and defaults, and validates the result. A missing file is not an error.
func Load(fsys core.FS, path string) (*Config, error) {
	cfg := &Config{}

	data, err := fsys.ReadFile(path)
	switch {
	case err == nil:
		cfg, err = Parse(data)
		if err != nil {
			return nil, err
		}
	case !errors.Is(err, core.ErrNotExist):
		return nil, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "failed to read config file %s", path)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML configuration. Unknown keys are rejected. Defaults are
// not applied.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "failed to parse config")
	}

	return cfg, nil
}

// ApplyEnv overrides settings with the REMOTEDOCS_* variables found by
// lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvCacheDir); ok && v != "" {
		c.CacheDir = v
	}
	if v, ok := lookup(EnvCredentialStore); ok && v != "" {
		c.CredentialStore = v
	}
	if v, ok := lookup(EnvKeyringService); ok && v != "" {
		c.KeyringService = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.Log.Format = v
	}

	for env, dst := range map[string]*Size{
		EnvMaxTotalBytes: &c.MaxTotalBytes,
		EnvMaxRepoBytes:  &c.MaxRepoBytes,
	} {
		v, ok := lookup(env)
		if !ok || v == "" {
			continue
		}
		size, err := ParseSize(v)
		if err != nil {
			return platformerrors.WrapWithContext(err, platformerrors.CodeInvalidConfig,
				"invalid environment override", map[string]interface{}{"variable": env})
		}
		*dst = size
	}

	return nil
}

// SetDefaults fills every unset field, makes both paths absolute and
// normalizes the log level name.
func (c *Config) SetDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = defaultDir(os.UserCacheDir)
	}
	if c.CredentialStore == "" {
		c.CredentialStore = filepath.Join(defaultDir(os.UserConfigDir), credentialStoreName)
	}
	if c.MaxTotalBytes == 0 {
		c.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if c.MaxRepoBytes == 0 {
		c.MaxRepoBytes = DefaultMaxRepoBytes
	}
	if c.KeyringService == "" {
		c.KeyringService = DefaultKeyringService
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if level, err := logging.ParseLogLevel(c.Log.Level); err == nil {
		c.Log.Level = level.String()
	}

	c.CacheDir = absolute(c.CacheDir)
	c.CredentialStore = absolute(c.CredentialStore)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return invalid("cache_dir", "must not be empty")
	}
	if c.CredentialStore == "" {
		return invalid("credential_store", "must not be empty")
	}
	if c.MaxTotalBytes <= 0 {
		return invalid("max_total_bytes", "must be greater than 0")
	}
	if c.MaxRepoBytes <= 0 {
		return invalid("max_repo_bytes", "must be greater than 0")
	}
	if c.MaxRepoBytes > c.MaxTotalBytes {
		return invalid("max_repo_bytes", fmt.Sprintf("must not exceed max_total_bytes (%s)", c.MaxTotalBytes))
	}
	if _, err := logging.ParseLogLevel(c.Log.Level); err != nil {
		return invalid("log.level", err.Error())
	}
	if c.Log.Format != LogFormatPretty && c.Log.Format != LogFormatJSON {
		return invalid("log.format", fmt.Sprintf("must be %q or %q", LogFormatPretty, LogFormatJSON))
	}
	return nil
}

// HandlerConfig converts the log settings for logging.NewHandler.
func (c *Config) HandlerConfig() logging.HandlerConfig {
	level, err := logging.ParseLogLevel(c.Log.Level)
	if err != nil {
		level = logging.LogLevelInfo
	}
	return logging.HandlerConfig{
		Level:  level,
		Pretty: c.Log.Format != LogFormatJSON,
	}
}

func invalid(field, reason string) error {
	return platformerrors.WithContext(
		platformerrors.Newf(platformerrors.CodeInvalidConfig, "invalid %s: %s", field, reason),
		"field", field,
	)
}

// absolute resolves p against the working directory. p is returned
// unchanged when that fails.
func absolute(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// defaultDir returns the application directory below the base returned by
// userDir, falling back to the working directory.
func defaultDir(userDir func() (string, error)) string {
	base, err := userDir()
	if err != nil || base == "" {
		base = "."
	}
	return filepath.Join(base, appDirName)
}
