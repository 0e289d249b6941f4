package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/dingtalk-gw/internal/dingcrypto"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ConfigFileName is looked up when Load is given a directory.
const ConfigFileName = "config.yaml"

// Load reads and parses configuration.
//
// With an empty path the gateway runs in env-only mode: a .env file in the
// working directory is loaded (if present) and the legacy variable names
// (token, ase_key, Client_ID, ...) are read. Otherwise path may name a YAML
// file or a directory holding config.yaml; a .env next to it is loaded before
// ${VAR} interpolation, and a .checksums manifest beside it is enforced.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return loadFromEnv()
	}

	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(absPath)

	if err := loadDotEnv(dir); err != nil {
		return nil, err
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", absPath, err)
	}

	applyConfigDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ResolvePath returns the absolute config file path for a file or directory.
func ResolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, ConfigFileName)
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", ConfigFileName, absPath)
		}
	}
	return absPath, nil
}

func loadFromEnv() (*Config, error) {
	if err := loadDotEnv("."); err != nil {
		return nil, err
	}

	cfg := Defaults()
	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads dir/.env without overriding variables that are already
// set in the process environment. A missing file is not an error.
func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}
	if cfg.Server.MaxBodySize == "" {
		cfg.Server.MaxBodySize = defaults.Server.MaxBodySize
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaults.Server.WriteTimeout
	}
	if len(cfg.Server.CORS.AllowedOrigins) == 0 {
		cfg.Server.CORS = defaults.Server.CORS
	}

	if cfg.DingTalk.TimestampUnit == "" {
		cfg.DingTalk.TimestampUnit = defaults.DingTalk.TimestampUnit
	}
	if cfg.Journal.Retention == 0 {
		cfg.Journal.Retention = defaults.Journal.Retention
	}
}

// interpolateEnv replaces ${VAR} with environment variable values. Unset
// variables are left in place and rejected by validate.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if _, err := ParseSize(cfg.Server.MaxBodySize); err != nil {
		return fmt.Errorf("server.max_body_size: %w", err)
	}

	secrets := []struct {
		field string
		value string
	}{
		{"dingtalk.token", cfg.DingTalk.Token},
		{"dingtalk.aes_key", cfg.DingTalk.AESKey},
		{"dingtalk.client_id", cfg.DingTalk.ClientID},
		{"dingtalk.client_secret", cfg.DingTalk.ClientSecret},
		{"dingtalk.corp_id", cfg.DingTalk.CorpID},
		{"api.token", cfg.API.Token},
	}
	for _, s := range secrets {
		if err := unresolved(s.field, s.value); err != nil {
			return err
		}
	}

	if strings.TrimSpace(cfg.DingTalk.Token) == "" {
		return fmt.Errorf("dingtalk.token is required")
	}
	if strings.TrimSpace(cfg.DingTalk.AESKey) == "" {
		return fmt.Errorf("dingtalk.aes_key is required")
	}
	if cfg.DingTalk.CallbackAppKey() == "" {
		return fmt.Errorf("dingtalk.client_id (or dingtalk.corp_id) is required")
	}
	if strings.TrimSpace(cfg.DingTalk.ClientSecret) == "" {
		return fmt.Errorf("dingtalk.client_secret is required")
	}
	if _, err := dingcrypto.ParseTimestampUnit(cfg.DingTalk.TimestampUnit); err != nil {
		return fmt.Errorf("dingtalk.timestamp_unit must be ms or s (got %q)", cfg.DingTalk.TimestampUnit)
	}

	// Catch a bad key at load time rather than at first request.
	if _, err := dingcrypto.NewCodec(cfg.DingTalk.Token, cfg.DingTalk.AESKey, cfg.DingTalk.CallbackAppKey()); err != nil {
		return fmt.Errorf("dingtalk.aes_key: %w", err)
	}

	if cfg.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must not be negative")
	}
	return nil
}
