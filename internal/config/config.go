// Package config loads settings from an optional YAML file, MARGINOTE_
// environment variables, and command-line flags, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "MARGINOTE_"

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Import   ImportConfig   `koanf:"import"`
	Digest   DigestConfig   `koanf:"digest"`
	Jobs     JobsConfig     `koanf:"jobs"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required"`
	Mode string `koanf:"mode" validate:"oneof=debug release"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type ImportConfig struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
}

type DigestConfig struct {
	TickInterval time.Duration `koanf:"tick_interval" validate:"required,min=1m"`
}

type JobsConfig struct {
	PollInterval time.Duration `koanf:"poll_interval" validate:"required,min=1s"`
}

type LogConfig struct {
	Mode string `koanf:"mode" validate:"oneof=dev prod"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080", Mode: "release"},
		Database: DatabaseConfig{Path: "marginote.db"},
		Import:   ImportConfig{ReposDir: "repos"},
		Digest:   DigestConfig{TickInterval: 10 * time.Minute},
		Jobs:     JobsConfig{PollInterval: 15 * time.Second},
		Log:      LogConfig{Mode: "dev"},
	}
}

// Load builds the configuration. path may be empty; a missing file at the
// default path is not an error, an explicit path that cannot be read is.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	// Double underscore separates nesting levels so keys like repos_dir
	// survive: MARGINOTE_IMPORT__REPOS_DIR -> import.repos_dir.
	err := k.Load(env.Provider(envPrefix, ".", func(key string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
