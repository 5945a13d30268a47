// Package config loads pcksafe configuration from a single file.
//
// The file is named explicitly (--config) or through PCKSAFE_CONFIG. There
// are no search paths and no automatic discovery. YAML is the native
// format; files ending in .json or .jsonc are read as JSON with comments.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/pcksafe/pcksafe/pickle"
)

// EnvVar names the environment variable LoadFromEnv reads.
const EnvVar = "PCKSAFE_CONFIG"

const (
	DefaultOwner     = "mailman"
	DefaultSizeLimit = 16 << 20
	DefaultListsDir  = "/usr/local/cpanel/3rdparty/mailman/lists"
)

// DefaultExportKeys are the list settings ExportKeys reports.
func DefaultExportKeys() []string {
	return []string{"advertised", "archive_private", "private_roster", "subscribe_policy", "owner"}
}

// Config is the pcksafe configuration.
type Config struct {
	// Owner is the account decode workers run as. It must not be root.
	// Default: mailman
	Owner string `yaml:"owner"`

	// SizeLimit caps both the blob on disk and its decompressed form.
	// Accepts human sizes such as "16MiB" or "512 kB".
	// Default: 16MiB
	SizeLimit ByteSize `yaml:"size_limit"`

	// AllowList holds the class references decoding may resolve, as
	// "Module.Name" or "Module.*".
	// Default: Mailman.UserDesc.*, Mailman.Bouncer.*
	AllowList []string `yaml:"allow_list"`

	// ExportKeys are the top-level keys export-keys selects.
	ExportKeys []string `yaml:"export_keys"`

	// ListsDir is the directory holding one subdirectory per list.
	ListsDir string `yaml:"lists_dir"`

	// TempDir is where isolated roots are created. Empty means the
	// system temporary directory.
	TempDir string `yaml:"temp_dir"`

	// Timeout bounds a single decode. Zero disables it.
	Timeout time.Duration `yaml:"timeout"`

	// LogLevel is one of debug, info, warn, error.
	// Default: info
	LogLevel string `yaml:"log_level"`
}

// ByteSize is a size in bytes that unmarshals from either an integer or a
// human readable string.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", node.Line)
	}
	n, err := humanize.ParseBytes(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	if n > 1<<62 {
		return fmt.Errorf("line %d: size %s out of range", node.Line, node.Value)
	}
	*s = ByteSize(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s ByteSize) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s ByteSize) String() string {
	if s < 0 {
		return fmt.Sprintf("%d B", int64(s))
	}
	return humanize.IBytes(uint64(s))
}

// Default returns the configuration used before a file is applied.
func Default() *Config {
	return &Config{
		Owner:      DefaultOwner,
		SizeLimit:  DefaultSizeLimit,
		AllowList:  pickle.DefaultAllowList(),
		ExportKeys: DefaultExportKeys(),
		ListsDir:   DefaultListsDir,
		LogLevel:   "info",
	}
}

// LoadFromEnv loads the file named by PCKSAFE_CONFIG.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of a pcksafe config file, or use --config", EnvVar)
	}
	return Load(path)
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	if err := cfg.parse(data); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) parse(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Owner == "" {
		errs = append(errs, errors.New("owner is required"))
	} else if c.Owner == "root" {
		errs = append(errs, errors.New("owner must not be root"))
	}
	if c.SizeLimit <= 0 {
		errs = append(errs, fmt.Errorf("size_limit must be positive, got %d", int64(c.SizeLimit)))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if _, err := pickle.NewPolicy(c.AllowList...); err != nil {
		errs = append(errs, fmt.Errorf("allow_list: %w", err))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Policy builds the decode policy from AllowList.
func (c *Config) Policy() (*pickle.Policy, error) {
	return pickle.NewPolicy(c.AllowList...)
}

// Level parses LogLevel. An empty level is info.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
