package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by the server.
const EnvPrefix = "FILEINDEX_MCP"

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Log format constants
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// LogSettings configuration for the process logger
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IndexSettings configuration for the file index and its primary store
type IndexSettings struct {
	DataDir                 string `mapstructure:"data_dir"`
	StorePath               string `mapstructure:"store_path"`
	BackupDir               string `mapstructure:"backup_dir"`
	RebuildBatchSize        int    `mapstructure:"rebuild_batch_size"`
	QueryCacheSize          int    `mapstructure:"query_cache_size"`
	MaxPageSize             int    `mapstructure:"max_page_size"`
	MaxTerms                int    `mapstructure:"max_terms"`
	MergeMaxSegmentsPerTier int    `mapstructure:"merge_max_segments_per_tier"`
}

// IndexDir returns the directory holding the on-disk index.
func (s *IndexSettings) IndexDir() string {
	return filepath.Join(s.DataDir, "index")
}

// Settings application settings
type Settings struct {
	Transport string        `mapstructure:"transport"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Auth      AuthSettings  `mapstructure:"auth"`
	Log       LogSettings   `mapstructure:"log"`
	Index     IndexSettings `mapstructure:"index"`
}

// DefaultIndexSettings returns index settings rooted at dataDir with default tuning.
func DefaultIndexSettings(dataDir string) IndexSettings {
	s := IndexSettings{
		DataDir:                 dataDir,
		RebuildBatchSize:        256,
		QueryCacheSize:          512,
		MaxPageSize:             1000,
		MaxTerms:                100,
		MergeMaxSegmentsPerTier: 10,
	}
	s.resolvePaths()
	return s
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	defaults := DefaultIndexSettings(defaultDataDir())

	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", LogFormatText)

	// Index defaults; empty paths are derived from data_dir after unmarshalling
	v.SetDefault("index.data_dir", defaults.DataDir)
	v.SetDefault("index.store_path", "")
	v.SetDefault("index.backup_dir", "")
	v.SetDefault("index.rebuild_batch_size", defaults.RebuildBatchSize)
	v.SetDefault("index.query_cache_size", defaults.QueryCacheSize)
	v.SetDefault("index.max_page_size", defaults.MaxPageSize)
	v.SetDefault("index.max_terms", defaults.MaxTerms)
	v.SetDefault("index.merge_max_segments_per_tier", defaults.MergeMaxSegmentsPerTier)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Nested keys are bound explicitly; AutomaticEnv only covers keys viper already knows about on Get
	for _, key := range []string{
		"auth.type", "auth.basic.username", "auth.basic.password", "auth.api_keys",
		"log.level", "log.format",
		"index.data_dir", "index.store_path", "index.backup_dir",
		"index.rebuild_batch_size", "index.query_cache_size", "index.max_page_size",
		"index.max_terms", "index.merge_max_segments_per_tier",
	} {
		_ = v.BindEnv(key, envName(key))
	}

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for key, flag := range flagBindings {
			if f := flags.Lookup(flag); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Handle explicit parsing of API keys if provided via env var as comma-separated string
	apiKeysEnv := os.Getenv(envName("auth.api_keys"))
	if apiKeysEnv != "" {
		if len(settings.Auth.APIKeys) == 0 || (len(settings.Auth.APIKeys) == 1 && strings.Contains(settings.Auth.APIKeys[0], ",")) {
			settings.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}

	for i := range settings.Auth.APIKeys {
		settings.Auth.APIKeys[i] = strings.TrimSpace(settings.Auth.APIKeys[i])
	}
	settings.Auth.APIKeys = filterEmptyStrings(settings.Auth.APIKeys)

	settings.Log.Level = strings.ToLower(strings.TrimSpace(settings.Log.Level))
	settings.Log.Format = strings.ToLower(strings.TrimSpace(settings.Log.Format))

	settings.Index.DataDir = expandHomeDir(settings.Index.DataDir)
	settings.Index.StorePath = expandHomeDir(settings.Index.StorePath)
	settings.Index.BackupDir = expandHomeDir(settings.Index.BackupDir)
	settings.Index.resolvePaths()

	return &settings, nil
}

// flagBindings maps settings keys to the CLI flags registered by the app package.
var flagBindings = map[string]string{
	"transport":                         "transport",
	"host":                              "host",
	"port":                              "port",
	"auth.type":                         "auth-type",
	"auth.basic.username":               "auth-basic-username",
	"auth.basic.password":               "auth-basic-password",
	"auth.api_keys":                     "auth-api-keys",
	"log.level":                         "log-level",
	"log.format":                        "log-format",
	"index.data_dir":                    "data-dir",
	"index.store_path":                  "store-path",
	"index.backup_dir":                  "backup-dir",
	"index.rebuild_batch_size":          "rebuild-batch-size",
	"index.query_cache_size":            "query-cache-size",
	"index.max_page_size":               "max-page-size",
	"index.max_terms":                   "max-terms",
	"index.merge_max_segments_per_tier": "merge-max-segments-per-tier",
}

// envName returns the environment variable bound to a settings key.
// Example: "index.data_dir" -> "FILEINDEX_MCP_INDEX_DATA_DIR"
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// resolvePaths derives unset paths from the data directory.
func (s *IndexSettings) resolvePaths() {
	if s.StorePath == "" && s.DataDir != "" {
		s.StorePath = filepath.Join(s.DataDir, "changelog.db")
	}
	if s.BackupDir == "" && s.DataDir != "" {
		s.BackupDir = filepath.Join(s.DataDir, "backup")
	}
}

// defaultDataDir returns the default data directory
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fileindex-mcp"
	}
	return filepath.Join(home, ".fileindex-mcp")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	if _, err := ParseLogLevel(s.Log.Level); err != nil {
		return err
	}
	switch s.Log.Format {
	case LogFormatText, LogFormatJSON, "":
	default:
		return errors.New("log-format must be 'text' or 'json', got: " + s.Log.Format)
	}

	return ValidateIndexSettings(&s.Index)
}

// ValidateIndexSettings validates the index configuration
func ValidateIndexSettings(s *IndexSettings) error {
	if s.DataDir == "" {
		return errors.New("data-dir cannot be empty")
	}
	if s.StorePath == "" {
		return errors.New("store-path cannot be empty")
	}
	if s.RebuildBatchSize <= 0 {
		return errors.New("rebuild-batch-size must be positive")
	}
	if s.QueryCacheSize < 0 {
		return errors.New("query-cache-size cannot be negative")
	}
	if s.MaxPageSize <= 0 {
		return errors.New("max-page-size must be positive")
	}
	if s.MaxTerms <= 0 {
		return errors.New("max-terms must be positive")
	}
	if s.MergeMaxSegmentsPerTier < 2 {
		return fmt.Errorf("merge-max-segments-per-tier must be at least 2, got: %d", s.MergeMaxSegmentsPerTier)
	}
	return nil
}
