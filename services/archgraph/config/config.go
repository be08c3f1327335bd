// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads archgraph configuration.
//
// Description:
//
//	Configuration comes from three layers, later ones winning: built-in
//	defaults, a YAML file, and ARCHGRAPH_* environment variables (after
//	loading .env files). A missing YAML file is not an error. The result is
//	validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/archgraph/services/archgraph/location"
)

// Defaults.
const (
	// DefaultPort is the HTTP port of `archgraph serve`.
	DefaultPort = 8090

	// DefaultMaxResolutionIterations bounds missing-dependency resolution.
	DefaultMaxResolutionIterations = 3

	// DefaultObjectStoreRPS is the object-store request rate.
	DefaultObjectStoreRPS = 50.0

	// DefaultNeo4jBatchSize is the number of rows per UNWIND statement.
	DefaultNeo4jBatchSize = 500

	// DefaultWatchDebounceMillis delays re-imports after file changes.
	DefaultWatchDebounceMillis = 500

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ARCHGRAPH_"
)

// Config is the complete archgraph configuration.
//
// Thread Safety: Immutable after Load; safe for concurrent reads.
type Config struct {
	// ClassPath lists classpath roots. Empty means the CLASSPATH variable.
	ClassPath []string `yaml:"classpath"`

	Import      ImportConfig      `yaml:"import"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	GCS         GCSConfig         `yaml:"gcs"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Neo4j       Neo4jConfig       `yaml:"neo4j"`
	Server      ServerConfig      `yaml:"server"`
}

// ImportConfig configures import runs.
type ImportConfig struct {
	// Workers is the extraction pool size. 0 means one per CPU.
	Workers int `yaml:"workers" validate:"gte=0,lte=1024"`

	// ResolveMissingFromClassPath imports referenced classes missing from
	// the requested locations. Off by default: they stay stubs.
	ResolveMissingFromClassPath bool `yaml:"resolve_missing_from_classpath"`

	MaxResolutionIterations int `yaml:"max_resolution_iterations" validate:"gte=0,lte=100"`

	// ImportOptions names built-in entry filters.
	ImportOptions []string `yaml:"import_options" validate:"dive,oneof=do_not_include_tests do_not_include_archives"`

	// ExcludePatterns are regular expressions over entry URIs.
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// ObjectStoreConfig configures s3:// locations.
type ObjectStoreConfig struct {
	// Endpoint is host:port of the S3-compatible service. Empty disables
	// s3:// locations.
	Endpoint  string `yaml:"endpoint" validate:"omitempty,hostname_port"`
	AccessKey string `yaml:"access_key" validate:"required_with=Endpoint"`
	SecretKey Secret `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`

	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// GCSConfig configures gs:// locations. Credentials come from the
// environment's application default credentials.
type GCSConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SnapshotConfig configures graph snapshot storage.
type SnapshotConfig struct {
	// Dir is the badger directory. Empty disables snapshots.
	Dir string `yaml:"dir"`
}

// Neo4jConfig configures graph export.
type Neo4jConfig struct {
	URI       string `yaml:"uri" validate:"omitempty,uri"`
	User      string `yaml:"user"`
	Password  Secret `yaml:"password"`
	Database  string `yaml:"database"`
	BatchSize int    `yaml:"batch_size" validate:"gte=0,lte=100000"`
}

// ServerConfig configures `archgraph serve`.
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`

	// Watch re-imports the served scope when its directories change.
	Watch bool `yaml:"watch"`

	WatchDebounceMillis int `yaml:"watch_debounce_ms" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Import: ImportConfig{
			MaxResolutionIterations: DefaultMaxResolutionIterations,
		},
		ObjectStore: ObjectStoreConfig{
			RequestsPerSecond: DefaultObjectStoreRPS,
		},
		Neo4j: Neo4jConfig{
			User:      "neo4j",
			BatchSize: DefaultNeo4jBatchSize,
		},
		Server: ServerConfig{
			Port:                DefaultPort,
			WatchDebounceMillis: DefaultWatchDebounceMillis,
		},
	}
}

// Load builds the configuration.
//
// Inputs:
//
//	path - YAML file. Empty or missing means defaults only.
//	envFiles - .env files to load into the environment. Variables already
//	set are not overridden. With none given, ".env" is loaded if present.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil if a file exists but cannot be parsed, an environment
//	override is malformed, or validation fails.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
			}
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("loading env files: %w", err)
	}
	return nil
}

// applyEnv overrides cfg from ARCHGRAPH_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	secret := func(name string, dst *Secret) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = NewSecret(v)
		}
	}

	if v, ok := lookup(EnvPrefix + "CLASSPATH"); ok {
		cfg.ClassPath = splitList(v)
	}
	integer("IMPORT_WORKERS", &cfg.Import.Workers)
	boolean("RESOLVE_MISSING", &cfg.Import.ResolveMissingFromClassPath)
	integer("MAX_RESOLUTION_ITERATIONS", &cfg.Import.MaxResolutionIterations)
	if v, ok := lookup(EnvPrefix + "EXCLUDE_PATTERNS"); ok {
		cfg.Import.ExcludePatterns = splitComma(v)
	}

	str("S3_ENDPOINT", &cfg.ObjectStore.Endpoint)
	str("S3_ACCESS_KEY", &cfg.ObjectStore.AccessKey)
	secret("S3_SECRET_KEY", &cfg.ObjectStore.SecretKey)
	boolean("S3_USE_SSL", &cfg.ObjectStore.UseSSL)
	str("S3_REGION", &cfg.ObjectStore.Region)
	boolean("GCS_ENABLED", &cfg.GCS.Enabled)

	str("SNAPSHOT_DIR", &cfg.Snapshot.Dir)

	str("NEO4J_URI", &cfg.Neo4j.URI)
	str("NEO4J_USER", &cfg.Neo4j.User)
	secret("NEO4J_PASSWORD", &cfg.Neo4j.Password)
	str("NEO4J_DATABASE", &cfg.Neo4j.Database)

	integer("PORT", &cfg.Server.Port)
	boolean("WATCH", &cfg.Server.Watch)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range filepath.SplitList(v) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitComma(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that every exclude pattern
// compiles.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.ImportFilters(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ImportFilters turns the configured import options and exclude patterns
// into location filters.
func (c *Config) ImportFilters() ([]location.ImportOption, error) {
	var out []location.ImportOption
	for _, name := range c.Import.ImportOptions {
		opt, ok := location.ImportOptionByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown import option %q", name)
		}
		out = append(out, opt)
	}
	if len(c.Import.ExcludePatterns) > 0 {
		opt, err := location.ExcludePatterns(c.Import.ExcludePatterns...)
		if err != nil {
			return nil, err
		}
		out = append(out, opt)
	}
	return out, nil
}

// ClassPathStrategy returns the configured classpath, or the CLASSPATH
// variable when none is configured.
func (c *Config) ClassPathStrategy() location.ClassPathStrategy {
	if len(c.ClassPath) > 0 {
		return location.StaticClassPath(c.ClassPath)
	}
	return location.EnvClassPath{}
}
