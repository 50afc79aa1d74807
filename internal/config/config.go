// Package config provides configuration management for pagebuild using
// Viper for loading from .pagebuild.yml, PAGEBUILD_ environment variables
// and command-line flags.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/conneroisu/pagebuild/internal/build"
	"github.com/conneroisu/pagebuild/internal/errors"
	"github.com/conneroisu/pagebuild/internal/logging"
	"github.com/conneroisu/pagebuild/internal/scanner"
)

// Defaults.
const (
	DefaultRoot      = "./pages"
	DefaultSuffix    = "page.tsx"
	DefaultOutputDir = "./dist"
	DefaultHost      = "localhost"
	DefaultPort      = 3000
	MetadataFileName = "metadata.json"
)

type Config struct {
	Root         string          `mapstructure:"root" yaml:"root"`
	Suffix       string          `mapstructure:"suffix" yaml:"suffix"`
	OutputDir    string          `mapstructure:"output_dir" yaml:"output_dir"`
	MetadataPath string          `mapstructure:"metadata_path" yaml:"metadata_path"`
	Excludes     []string        `mapstructure:"excludes" yaml:"excludes"`
	Concurrency  int             `mapstructure:"concurrency" yaml:"concurrency"`
	Strict       bool            `mapstructure:"strict" yaml:"strict"`
	Hydration    HydrationConfig `mapstructure:"hydration" yaml:"hydration"`
	Bundler      BundlerConfig   `mapstructure:"bundler" yaml:"bundler"`
	Server       ServerConfig    `mapstructure:"server" yaml:"server"`
	Log          LogConfig       `mapstructure:"log" yaml:"log"`
}

type HydrationConfig struct {
	Module     string `mapstructure:"module" yaml:"module"`
	Function   string `mapstructure:"function" yaml:"function"`
	RootID     string `mapstructure:"root_id" yaml:"root_id"`
	DataGlobal string `mapstructure:"data_global" yaml:"data_global"`
}

type BundlerConfig struct {
	Minify          bool              `mapstructure:"minify" yaml:"minify"`
	SourceMap       bool              `mapstructure:"sourcemap" yaml:"sourcemap"`
	JSXImportSource string            `mapstructure:"jsx_import_source" yaml:"jsx_import_source"`
	Define          map[string]string `mapstructure:"define" yaml:"define,omitempty"`
}

type ServerConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load unmarshals the global viper state, fills defaults and validates.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for a specific viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "decoding configuration failed: "+err.Error())
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "invalid configuration: "+err.Error())
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Root == "" {
		config.Root = DefaultRoot
	}
	if config.Suffix == "" {
		config.Suffix = DefaultSuffix
	}
	if config.OutputDir == "" {
		config.OutputDir = DefaultOutputDir
	}
	if config.MetadataPath == "" {
		config.MetadataPath = filepath.Join(config.OutputDir, MetadataFileName)
	}
	if len(config.Excludes) == 0 {
		config.Excludes = append([]string(nil), scanner.DefaultExcludes...)
	}

	hydration := build.DefaultHydrationOptions()
	if config.Hydration.Module == "" {
		config.Hydration.Module = hydration.HydrateModule
	}
	if config.Hydration.Function == "" {
		config.Hydration.Function = hydration.HydrateFunc
	}
	if config.Hydration.RootID == "" {
		config.Hydration.RootID = hydration.RootID
	}
	if config.Hydration.DataGlobal == "" {
		config.Hydration.DataGlobal = hydration.DataGlobal
	}

	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	for key, path := range map[string]string{
		"root":          config.Root,
		"output_dir":    config.OutputDir,
		"metadata_path": config.MetadataPath,
	} {
		if err := validatePath(path); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	if err := validateSuffix(config.Suffix); err != nil {
		return fmt.Errorf("suffix: %w", err)
	}

	for _, pattern := range config.Excludes {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("excludes: invalid pattern %q: %w", pattern, err)
		}
	}

	if config.Concurrency < 0 {
		return fmt.Errorf("concurrency %d must not be negative", config.Concurrency)
	}

	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if _, err := logging.ParseLevel(config.Log.Level); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	if config.Log.Format != "text" && config.Log.Format != "json" {
		return fmt.Errorf("log config: format %q must be text or json", config.Log.Format)
	}

	return nil
}

// validateSuffix requires a suffix with a file extension so bundle names
// can be derived from it.
func validateSuffix(suffix string) error {
	if strings.ContainsAny(suffix, `/\`) {
		return fmt.Errorf("%q must not contain path separators", suffix)
	}
	ext := filepath.Ext(suffix)
	if ext == "" || ext == "." {
		return fmt.Errorf("%q must end with a file extension", suffix)
	}
	return nil
}

// validateServerConfig validates server configuration values
func validateServerConfig(config *ServerConfig) error {
	// allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", "/"}
	for _, char := range dangerousChars {
		if strings.Contains(config.Host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}

	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// HydrationOptions converts the hydration section for the build invoker.
func (c *Config) HydrationOptions() build.HydrationOptions {
	return build.HydrationOptions{
		HydrateModule: c.Hydration.Module,
		HydrateFunc:   c.Hydration.Function,
		RootID:        c.Hydration.RootID,
		DataGlobal:    c.Hydration.DataGlobal,
	}
}

// BundlerOptions converts the bundler section for esbuild.
func (c *Config) BundlerOptions() build.BundlerOptions {
	return build.BundlerOptions{
		Minify:          c.Bundler.Minify,
		SourceMap:       c.Bundler.SourceMap,
		JSXImportSource: c.Bundler.JSXImportSource,
		Define:          c.Bundler.Define,
	}
}

// LoggerConfig converts the log section. Values were validated by Load.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Format = c.Log.Format
	return cfg
}
