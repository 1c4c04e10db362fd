package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/notPlancha/CanvasSync/internal/sync"
	"github.com/notPlancha/CanvasSync/internal/sync/executor"
	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "CANVASSYNC_"
)

// Config holds application configuration
type Config struct {
	// DefaultProfile is the credential profile used when --profile is absent
	DefaultProfile string `json:"defaultProfile"`

	// DefaultOutputFormat is the default output format (json, table)
	DefaultOutputFormat types.OutputFormat `json:"defaultOutputFormat"`

	// Backend selects the remote service (canvas, gdrive, s3)
	Backend string `json:"backend"`

	// SyncRoot is the local directory the remote tree is mirrored into
	SyncRoot string `json:"syncRoot"`

	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`

	// Concurrency bounds simultaneous downloads
	Concurrency int `json:"concurrency"`

	// MaterializeEmpty creates directories for containers without leaves
	MaterializeEmpty bool `json:"materializeEmpty"`

	// MaxAttempts is how often one download is tried before it is recorded as failed
	MaxAttempts int `json:"maxAttempts"`

	// MaxRetries is the maximum number of retries for a single API call
	MaxRetries int `json:"maxRetries"`

	// RetryBaseDelay is the base delay for exponential backoff in milliseconds
	RetryBaseDelay int `json:"retryBaseDelay"`

	// RequestTimeout bounds waiting for response headers, in seconds
	RequestTimeout int `json:"requestTimeout"`

	// LogLevel sets the logging verbosity (quiet, normal, verbose, debug)
	LogLevel string `json:"logLevel"`

	// ColorOutput enables color output for table format and banners
	ColorOutput bool `json:"colorOutput"`

	Canvas CanvasConfig `json:"canvas"`
	Drive  DriveConfig  `json:"gdrive"`
	S3     S3Config     `json:"s3"`
}

// CanvasConfig addresses a Canvas LMS instance
type CanvasConfig struct {
	BaseURL string `json:"baseUrl"`
}

// DriveConfig addresses a Google Drive folder
type DriveConfig struct {
	// RootFolderID is the folder whose subfolders are synced; "root" is My Drive
	RootFolderID string `json:"rootFolderId"`
	// RootPath is a folder path below RootFolderID, e.g. "School/2024"
	RootPath string `json:"rootPath,omitempty"`
	// CredentialsFile is a service account key used instead of a token
	CredentialsFile string `json:"credentialsFile,omitempty"`
}

// S3Config addresses a bucket on S3 or a compatible service
type S3Config struct {
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	PathStyle bool   `json:"pathStyle,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultProfile:      "default",
		DefaultOutputFormat: types.OutputFormatTable,
		Backend:             utils.BackendCanvas,
		Concurrency:         utils.DefaultConcurrency,
		MaxAttempts:         utils.DefaultMaxAttempts,
		MaxRetries:          utils.DefaultMaxRetries,
		RetryBaseDelay:      utils.DefaultRetryDelayMs,
		RequestTimeout:      60,
		LogLevel:            "normal",
		ColorOutput:         true,
		Drive:               DriveConfig{RootFolderID: "root"},
	}
}

// Load loads configuration with precedence: env vars > config file > defaults.
// CLI flags are applied on top by the caller.
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom is Load with an explicit config file path
func LoadFrom(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(configPath); err != nil {
		// Config file not existing is not an error
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile reads configPath over the defaults without environment
// overrides or validation. It is what "config set" edits.
func LoadFile(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.loadFromFile(configPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if v := os.Getenv(EnvPrefix + "DEFAULT_PROFILE"); v != "" {
		c.DefaultProfile = v
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMAT"); v != "" {
		c.DefaultOutputFormat = types.OutputFormat(v)
	}
	if v := os.Getenv(EnvPrefix + "BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv(EnvPrefix + "SYNC_ROOT"); v != "" {
		c.SyncRoot = v
	}
	if v := os.Getenv(EnvPrefix + "CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency = n
		}
	}
	if v := os.Getenv(EnvPrefix + "MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxAttempts = n
		}
	}
	if v := os.Getenv(EnvPrefix + "MAX_RETRIES"); v != "" {
		if retries, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = retries
		}
	}
	if v := os.Getenv(EnvPrefix + "RETRY_BASE_DELAY"); v != "" {
		if delay, err := strconv.Atoi(v); err == nil {
			c.RetryBaseDelay = delay
		}
	}
	if v := os.Getenv(EnvPrefix + "REQUEST_TIMEOUT"); v != "" {
		if timeout, err := strconv.Atoi(v); err == nil {
			c.RequestTimeout = timeout
		}
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "COLOR_OUTPUT"); v != "" {
		c.ColorOutput = parseBool(v)
	}
	if v := os.Getenv(EnvPrefix + "CANVAS_URL"); v != "" {
		c.Canvas.BaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "S3_BUCKET"); v != "" {
		c.S3.Bucket = v
	}
	if v := os.Getenv(EnvPrefix + "S3_ENDPOINT"); v != "" {
		c.S3.Endpoint = v
	}
}

// Save saves the configuration to the config file
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo writes the configuration to configPath with owner-only permissions
func (c *Config) SaveTo(configPath string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DefaultOutputFormat != types.OutputFormatJSON &&
		c.DefaultOutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s (must be 'json' or 'table')", c.DefaultOutputFormat)
	}

	switch c.Backend {
	case utils.BackendCanvas, utils.BackendDrive, utils.BackendS3:
	default:
		return fmt.Errorf("invalid backend: %s (must be one of: %s, %s, %s)", c.Backend, utils.BackendCanvas, utils.BackendDrive, utils.BackendS3)
	}

	if c.Concurrency < 1 || c.Concurrency > utils.MaxConcurrency {
		return fmt.Errorf("concurrency must be between 1 and %d, got: %d", utils.MaxConcurrency, c.Concurrency)
	}

	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("max attempts must be between 1 and 10, got: %d", c.MaxAttempts)
	}

	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max retries must be between 0 and 10, got: %d", c.MaxRetries)
	}

	if c.RetryBaseDelay < 100 || c.RetryBaseDelay > 60000 {
		return fmt.Errorf("retry base delay must be between 100ms and 60000ms, got: %d", c.RetryBaseDelay)
	}

	if c.RequestTimeout < 1 || c.RequestTimeout > 3600 {
		return fmt.Errorf("request timeout must be between 1 and 3600 seconds, got: %d", c.RequestTimeout)
	}

	validLogLevels := []string{"quiet", "normal", "verbose", "debug"}
	isValid := false
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			isValid = true
			break
		}
	}
	if !isValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// ValidateBackend checks that the selected backend has what it needs to
// connect. Unlike Validate it runs only before a sync, so that "config set"
// can fill the fields one at a time.
func (c *Config) ValidateBackend() error {
	var missing string
	switch c.Backend {
	case utils.BackendCanvas:
		if c.Canvas.BaseURL == "" {
			missing = "canvas.baseUrl"
		}
	case utils.BackendS3:
		if c.S3.Bucket == "" {
			missing = "s3.bucket"
		}
	}
	if missing != "" {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("%s is not configured. Run 'canvassync config set %s <value>'.", missing, missing)).Build())
	}
	return nil
}

// GetRetryBaseDelay returns the retry base delay as a duration
func (c *Config) GetRetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelay) * time.Millisecond
}

// GetRequestTimeout returns the request timeout as a duration
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// ToSyncOptions derives the immutable options of one sync run
func (c *Config) ToSyncOptions() sync.Options {
	opts := sync.DefaultOptions(c.SyncRoot)
	opts.Include = append([]string(nil), c.Include...)
	opts.Exclude = append([]string(nil), c.Exclude...)
	opts.Concurrency = c.Concurrency
	opts.MaterializeEmpty = c.MaterializeEmpty
	opts.Retry = executor.RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.GetRetryBaseDelay(),
		MaxDelay:    time.Duration(utils.MaxRetryDelayMs) * time.Millisecond,
	}
	return opts
}

// Keys lists the keys accepted by Set
func Keys() []string {
	return []string{
		"backend",
		"canvas.baseUrl",
		"colorOutput",
		"concurrency",
		"defaultOutputFormat",
		"defaultProfile",
		"exclude",
		"gdrive.credentialsFile",
		"gdrive.rootFolderId",
		"gdrive.rootPath",
		"include",
		"logLevel",
		"materializeEmpty",
		"maxAttempts",
		"maxRetries",
		"requestTimeout",
		"retryBaseDelay",
		"s3.bucket",
		"s3.endpoint",
		"s3.pathStyle",
		"s3.prefix",
		"s3.region",
		"syncRoot",
	}
}

// AsMap returns every settable key with its current value, lists
// comma-joined the way Set accepts them
func (c *Config) AsMap() map[string]string {
	return map[string]string{
		"backend":                c.Backend,
		"canvas.baseUrl":         c.Canvas.BaseURL,
		"colorOutput":            strconv.FormatBool(c.ColorOutput),
		"concurrency":            strconv.Itoa(c.Concurrency),
		"defaultOutputFormat":    string(c.DefaultOutputFormat),
		"defaultProfile":         c.DefaultProfile,
		"exclude":                strings.Join(c.Exclude, ","),
		"gdrive.credentialsFile": c.Drive.CredentialsFile,
		"gdrive.rootFolderId":    c.Drive.RootFolderID,
		"gdrive.rootPath":        c.Drive.RootPath,
		"include":                strings.Join(c.Include, ","),
		"logLevel":               c.LogLevel,
		"materializeEmpty":       strconv.FormatBool(c.MaterializeEmpty),
		"maxAttempts":            strconv.Itoa(c.MaxAttempts),
		"maxRetries":             strconv.Itoa(c.MaxRetries),
		"requestTimeout":         strconv.Itoa(c.RequestTimeout),
		"retryBaseDelay":         strconv.Itoa(c.RetryBaseDelay),
		"s3.bucket":              c.S3.Bucket,
		"s3.endpoint":            c.S3.Endpoint,
		"s3.pathStyle":           strconv.FormatBool(c.S3.PathStyle),
		"s3.prefix":              c.S3.Prefix,
		"s3.region":              c.S3.Region,
		"syncRoot":               c.SyncRoot,
	}
}

// Set assigns one key and validates the result. The config is left
// unchanged when the value is rejected.
func (c *Config) Set(key, value string) error {
	updated := *c
	var err error

	switch key {
	case "defaultProfile":
		updated.DefaultProfile = value
	case "defaultOutputFormat":
		updated.DefaultOutputFormat = types.OutputFormat(value)
	case "backend":
		updated.Backend = value
	case "syncRoot":
		updated.SyncRoot, err = filepath.Abs(value)
	case "include":
		updated.Include = splitList(value)
	case "exclude":
		updated.Exclude = splitList(value)
	case "concurrency":
		updated.Concurrency, err = parseInt(value)
	case "materializeEmpty":
		updated.MaterializeEmpty = parseBool(value)
	case "maxAttempts":
		updated.MaxAttempts, err = parseInt(value)
	case "maxRetries":
		updated.MaxRetries, err = parseInt(value)
	case "retryBaseDelay":
		updated.RetryBaseDelay, err = parseInt(value)
	case "requestTimeout":
		updated.RequestTimeout, err = parseInt(value)
	case "logLevel":
		updated.LogLevel = value
	case "colorOutput":
		updated.ColorOutput = parseBool(value)
	case "canvas.baseUrl":
		updated.Canvas.BaseURL = strings.TrimRight(value, "/")
	case "gdrive.rootFolderId":
		updated.Drive.RootFolderID = value
	case "gdrive.rootPath":
		updated.Drive.RootPath = value
	case "gdrive.credentialsFile":
		updated.Drive.CredentialsFile = value
	case "s3.bucket":
		updated.S3.Bucket = value
	case "s3.prefix":
		updated.S3.Prefix = value
	case "s3.region":
		updated.S3.Region = value
	case "s3.endpoint":
		updated.S3.Endpoint = value
	case "s3.pathStyle":
		updated.S3.PathStyle = parseBool(value)
	default:
		return fmt.Errorf("unknown config key: %s (valid keys: %s)", key, strings.Join(Keys(), ", "))
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	*c = updated
	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", utils.AppName), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return n, nil
}

// parseBool parses a boolean value from a string
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
