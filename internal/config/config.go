package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"nsmgr/internal/constants"
	apperrors "nsmgr/internal/errors"
)

// Config represents the application configuration
type Config struct {
	Network NetworkConfig `toml:"network"`
	Sort    SortConfig    `toml:"sort"`
	S3      S3Config      `toml:"s3"`
	Files   FilesConfig   `toml:"files"`
	Log     LogConfig     `toml:"log"`
}

// NetworkConfig represents NationStates access settings
type NetworkConfig struct {
	UserAgent           string   `toml:"user_agent"`
	APIBaseURL          string   `toml:"api_base_url"`
	SiteBaseURL         string   `toml:"site_base_url"`
	APIRequestDelayMs   int      `toml:"api_request_delay_ms"`
	LoginAttemptDelayMs int      `toml:"login_attempt_delay_ms"`
	HTTPTimeout         Duration `toml:"http_timeout"`
}

// SortConfig represents the row ordering remembered between runs
type SortConfig struct {
	Column string `toml:"column"` // "name", "state", "exists", "last_activity", "message"
	Order  string `toml:"order"`  // "asc", "desc"
}

// S3Config represents settings for s3:// container locations.
// Keys are only taken from the environment and never written to disk.
type S3Config struct {
	Endpoint     string `toml:"endpoint"`
	Region       string `toml:"region"`
	UsePathStyle bool   `toml:"use_path_style"`
	AccessKey    string `toml:"-"`
	SecretKey    string `toml:"-"`
}

// FilesConfig represents recently used containers and backups
type FilesConfig struct {
	MaxRecent         int      `toml:"max_recent"`
	Recent            []string `toml:"recent"` // newest first
	BackupDir         string   `toml:"backup_dir"`
	RememberPasswords bool     `toml:"remember_passwords"`
}

// LogConfig represents logging settings
type LogConfig struct {
	Level string `toml:"level"` // "debug", "info", "warn", "error"
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// APIRequestDelay returns the minimum spacing of API requests.
func (c *Config) APIRequestDelay() time.Duration {
	return time.Duration(c.Network.APIRequestDelayMs) * time.Millisecond
}

// LoginAttemptDelay returns the minimum spacing of login and restore attempts.
func (c *Config) LoginAttemptDelay() time.Duration {
	return time.Duration(c.Network.LoginAttemptDelayMs) * time.Millisecond
}

// Validate checks ranges. An empty user agent is allowed here; it is
// required only before the first remote call.
func (c *Config) Validate() error {
	d := c.APIRequestDelay()
	if d < constants.MinAPIRequestDelay || d > constants.MaxAPIRequestDelay {
		return apperrors.NewConfigError("validate", fmt.Sprintf("api_request_delay_ms must be between %d and %d",
			constants.MinAPIRequestDelay.Milliseconds(), constants.MaxAPIRequestDelay.Milliseconds()), nil)
	}
	d = c.LoginAttemptDelay()
	if d < constants.MinLoginAttemptDelay || d > constants.MaxLoginAttemptDelay {
		return apperrors.NewConfigError("validate", fmt.Sprintf("login_attempt_delay_ms must be between %d and %d",
			constants.MinLoginAttemptDelay.Milliseconds(), constants.MaxLoginAttemptDelay.Milliseconds()), nil)
	}
	if c.Network.HTTPTimeout.Duration <= 0 {
		return apperrors.NewConfigError("validate", "http_timeout must be positive", nil)
	}
	if c.Files.MaxRecent < 0 {
		return apperrors.NewConfigError("validate", "max_recent must not be negative", nil)
	}
	return nil
}

// Manager provides configuration management functionality
type Manager struct {
	configPath string
	logger     *zap.Logger
	lookupEnv  func(string) (string, bool)
}

// NewManager creates a configuration manager for the OS-conventional path
func NewManager(logger *zap.Logger) *Manager {
	return NewManagerWithPath(getConfigPath(), logger)
}

// NewManagerWithPath creates a configuration manager for a specific file
func NewManagerWithPath(path string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		configPath: path,
		logger:     logger.Named("config"),
		lookupEnv:  os.LookupEnv,
	}
}

// Path returns the configuration file path
func (m *Manager) Path() string { return m.configPath }

// Load loads configuration from file, merges it with defaults and applies
// NSMGR_* environment overrides
func (m *Manager) Load() (*Config, error) {
	// Start with default configuration
	config := getDefaultConfig()

	data, err := os.ReadFile(m.configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		m.logger.Debug("config file not found, using defaults", zap.String("path", m.configPath))
	case err != nil:
		return nil, apperrors.NewConfigError("load_config", "error reading config file", err)
	default:
		var fileConfig Config
		md, err := toml.Decode(string(data), &fileConfig)
		if err != nil {
			return nil, apperrors.NewConfigError("load_config", "error parsing config file", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			m.logger.Warn("unknown config keys ignored", zap.Stringers("keys", undecoded))
		}
		mergeConfigs(config, &fileConfig, md)
	}

	if err := m.applyEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves configuration to file
func (m *Manager) Save(config *Config) error {
	// Create the config directory if it doesn't exist
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return apperrors.NewConfigError("save_config", "error creating config directory", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return apperrors.NewConfigError("save_config", "error encoding config", err)
	}

	if err := os.WriteFile(m.configPath, buf.Bytes(), 0600); err != nil {
		return apperrors.NewConfigError("save_config", "error writing config file", err)
	}
	m.logger.Debug("config saved", zap.String("path", m.configPath))
	return nil
}

// LoadDotEnv loads variables from an env file into the process environment.
// Variables already set win. An empty path means ".env" in the working
// directory, which may be absent.
func LoadDotEnv(path string) error {
	optional := path == ""
	if optional {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return apperrors.NewConfigError("load_env", "error loading env file", err)
	}
	return nil
}

// envKeys maps environment variables to settings keys
var envKeys = map[string]string{
	"NSMGR_USER_AGENT":             "user_agent",
	"NSMGR_API_BASE_URL":           "api_base_url",
	"NSMGR_SITE_BASE_URL":          "site_base_url",
	"NSMGR_API_REQUEST_DELAY_MS":   "api_request_delay_ms",
	"NSMGR_LOGIN_ATTEMPT_DELAY_MS": "login_attempt_delay_ms",
	"NSMGR_HTTP_TIMEOUT":           "http_timeout",
	"NSMGR_S3_ENDPOINT":            "s3.endpoint",
	"NSMGR_S3_REGION":              "s3.region",
	"NSMGR_S3_USE_PATH_STYLE":      "s3.use_path_style",
	"NSMGR_S3_ACCESS_KEY":          "s3.access_key",
	"NSMGR_S3_SECRET_KEY":          "s3.secret_key",
	"NSMGR_BACKUP_DIR":             "files.backup_dir",
	"NSMGR_LOG_LEVEL":              "log.level",
}

func (m *Manager) applyEnv(c *Config) error {
	for env, key := range envKeys {
		v, ok := m.lookupEnv(env)
		if !ok || v == "" {
			continue
		}
		if err := c.Set(key, v); err != nil {
			return apperrors.NewConfigError("apply_env", env, err)
		}
		m.logger.Debug("environment override", zap.String("env", env), zap.String("key", key))
	}
	return nil
}

// Keys lists the settings accepted by Get and Set
func Keys() []string {
	return []string{
		"user_agent", "api_base_url", "site_base_url",
		"api_request_delay_ms", "login_attempt_delay_ms", "http_timeout",
		"sort.column", "sort.order",
		"s3.endpoint", "s3.region", "s3.use_path_style",
		"files.max_recent", "files.backup_dir", "files.remember_passwords",
		"log.level",
	}
}

// Get returns a setting as text
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "user_agent":
		return c.Network.UserAgent, nil
	case "api_base_url":
		return c.Network.APIBaseURL, nil
	case "site_base_url":
		return c.Network.SiteBaseURL, nil
	case "api_request_delay_ms":
		return strconv.Itoa(c.Network.APIRequestDelayMs), nil
	case "login_attempt_delay_ms":
		return strconv.Itoa(c.Network.LoginAttemptDelayMs), nil
	case "http_timeout":
		return c.Network.HTTPTimeout.String(), nil
	case "sort.column":
		return c.Sort.Column, nil
	case "sort.order":
		return c.Sort.Order, nil
	case "s3.endpoint":
		return c.S3.Endpoint, nil
	case "s3.region":
		return c.S3.Region, nil
	case "s3.use_path_style":
		return strconv.FormatBool(c.S3.UsePathStyle), nil
	case "files.max_recent":
		return strconv.Itoa(c.Files.MaxRecent), nil
	case "files.backup_dir":
		return c.Files.BackupDir, nil
	case "files.remember_passwords":
		return strconv.FormatBool(c.Files.RememberPasswords), nil
	case "log.level":
		return c.Log.Level, nil
	}
	return "", fmt.Errorf("unknown setting %q", key)
}

// Set parses and stores a setting. Ranges are checked by Validate.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case "user_agent":
		c.Network.UserAgent = strings.TrimSpace(value)
	case "api_base_url":
		c.Network.APIBaseURL = value
	case "site_base_url":
		c.Network.SiteBaseURL = value
	case "api_request_delay_ms":
		c.Network.APIRequestDelayMs, err = strconv.Atoi(value)
	case "login_attempt_delay_ms":
		c.Network.LoginAttemptDelayMs, err = strconv.Atoi(value)
	case "http_timeout":
		err = c.Network.HTTPTimeout.UnmarshalText([]byte(value))
	case "sort.column":
		c.Sort.Column = value
	case "sort.order":
		c.Sort.Order = value
	case "s3.endpoint":
		c.S3.Endpoint = value
	case "s3.region":
		c.S3.Region = value
	case "s3.use_path_style":
		c.S3.UsePathStyle, err = strconv.ParseBool(value)
	case "s3.access_key":
		c.S3.AccessKey = value
	case "s3.secret_key":
		c.S3.SecretKey = value
	case "files.max_recent":
		c.Files.MaxRecent, err = strconv.Atoi(value)
	case "files.backup_dir":
		c.Files.BackupDir = value
	case "files.remember_passwords":
		c.Files.RememberPasswords, err = strconv.ParseBool(value)
	case "log.level":
		c.Log.Level = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

// getDefaultConfig returns the default configuration
func getDefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			UserAgent:           "",
			APIBaseURL:          constants.DefaultAPIBaseURL,
			SiteBaseURL:         constants.DefaultSiteBaseURL,
			APIRequestDelayMs:   int(constants.DefaultAPIRequestDelay.Milliseconds()),
			LoginAttemptDelayMs: int(constants.DefaultLoginAttemptDelay.Milliseconds()),
			HTTPTimeout:         Duration{constants.DefaultHTTPTimeout},
		},
		Sort: SortConfig{
			Column: constants.DefaultSortColumn,
			Order:  constants.DefaultSortOrder,
		},
		S3: S3Config{
			Region: "auto",
		},
		Files: FilesConfig{
			MaxRecent: constants.MaxRecentFiles,
			Recent:    make([]string, 0),
			BackupDir: filepath.Join(filepath.Dir(getConfigPath()), constants.BackupDirName),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// getConfigPath returns the path to the configuration file following OS conventions
func getConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		// Windows: %APPDATA%\nsmgr\config.toml
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return constants.ConfigFileName
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, constants.ApplicationName)

	case "darwin":
		// macOS: ~/Library/Application Support/nsmgr/config.toml
		home, err := os.UserHomeDir()
		if err != nil {
			return constants.ConfigFileName
		}
		configDir = filepath.Join(home, "Library", "Application Support", constants.ApplicationName)

	default:
		// Linux/Unix: $XDG_CONFIG_HOME/nsmgr/config.toml or ~/.config/nsmgr/config.toml
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return constants.ConfigFileName
			}
			xdgConfigHome = filepath.Join(home, ".config")
		}
		configDir = filepath.Join(xdgConfigHome, constants.ApplicationName)
	}

	return filepath.Join(configDir, constants.ConfigFileName)
}

// mergeConfigs merges file config values into default config.
// Booleans are taken from the file only when the key is present.
func mergeConfigs(defaultConfig *Config, fileConfig *Config, md toml.MetaData) {
	// Merge Network config
	if fileConfig.Network.UserAgent != "" {
		defaultConfig.Network.UserAgent = fileConfig.Network.UserAgent
	}
	if fileConfig.Network.APIBaseURL != "" {
		defaultConfig.Network.APIBaseURL = fileConfig.Network.APIBaseURL
	}
	if fileConfig.Network.SiteBaseURL != "" {
		defaultConfig.Network.SiteBaseURL = fileConfig.Network.SiteBaseURL
	}
	if fileConfig.Network.APIRequestDelayMs != 0 {
		defaultConfig.Network.APIRequestDelayMs = fileConfig.Network.APIRequestDelayMs
	}
	if fileConfig.Network.LoginAttemptDelayMs != 0 {
		defaultConfig.Network.LoginAttemptDelayMs = fileConfig.Network.LoginAttemptDelayMs
	}
	if fileConfig.Network.HTTPTimeout.Duration != 0 {
		defaultConfig.Network.HTTPTimeout = fileConfig.Network.HTTPTimeout
	}

	// Merge Sort config
	if fileConfig.Sort.Column != "" {
		defaultConfig.Sort.Column = fileConfig.Sort.Column
	}
	if fileConfig.Sort.Order != "" {
		defaultConfig.Sort.Order = fileConfig.Sort.Order
	}

	// Merge S3 config
	if fileConfig.S3.Endpoint != "" {
		defaultConfig.S3.Endpoint = fileConfig.S3.Endpoint
	}
	if fileConfig.S3.Region != "" {
		defaultConfig.S3.Region = fileConfig.S3.Region
	}
	if md.IsDefined("s3", "use_path_style") {
		defaultConfig.S3.UsePathStyle = fileConfig.S3.UsePathStyle
	}

	// Merge Files config
	if fileConfig.Files.MaxRecent != 0 {
		defaultConfig.Files.MaxRecent = fileConfig.Files.MaxRecent
	}
	if fileConfig.Files.Recent != nil {
		defaultConfig.Files.Recent = fileConfig.Files.Recent
	}
	if fileConfig.Files.BackupDir != "" {
		defaultConfig.Files.BackupDir = fileConfig.Files.BackupDir
	}
	if md.IsDefined("files", "remember_passwords") {
		defaultConfig.Files.RememberPasswords = fileConfig.Files.RememberPasswords
	}

	// Merge Log config
	if fileConfig.Log.Level != "" {
		defaultConfig.Log.Level = fileConfig.Log.Level
	}
}

// AddRecentFile moves location to the front of the recent list
func (c *Config) AddRecentFile(location string) {
	// Remove existing entry if it exists
	for i, entry := range c.Files.Recent {
		if entry == location {
			c.Files.Recent = append(c.Files.Recent[:i], c.Files.Recent[i+1:]...)
			break
		}
	}

	// Add to beginning of slice (newest first)
	c.Files.Recent = append([]string{location}, c.Files.Recent...)

	// Enforce max entries limit
	if c.Files.MaxRecent > 0 && len(c.Files.Recent) > c.Files.MaxRecent {
		c.Files.Recent = c.Files.Recent[:c.Files.MaxRecent]
	}
}

// FilterRecentFiles filters recent entries by query (case-insensitive partial match)
func (c *Config) FilterRecentFiles(query string) []string {
	if query == "" {
		return c.Files.Recent
	}

	query = strings.ToLower(query)
	var filtered []string

	for _, location := range c.Files.Recent {
		if strings.Contains(strings.ToLower(location), query) {
			filtered = append(filtered, location)
		}
	}

	return filtered
}
