package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/notPlancha/CanvasSync/internal/types"
	"github.com/notPlancha/CanvasSync/internal/utils"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DefaultProfile != "default" {
		t.Errorf("Expected default profile 'default', got '%s'", cfg.DefaultProfile)
	}
	if cfg.Backend != utils.BackendCanvas {
		t.Errorf("Expected backend canvas, got '%s'", cfg.Backend)
	}
	if cfg.Concurrency != utils.DefaultConcurrency {
		t.Errorf("Expected concurrency %d, got %d", utils.DefaultConcurrency, cfg.Concurrency)
	}
	if cfg.Drive.RootFolderID != "root" {
		t.Errorf("Expected drive root 'root', got '%s'", cfg.Drive.RootFolderID)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{"valid default config", func(c *Config) {}, ""},
		{"invalid output format", func(c *Config) { c.DefaultOutputFormat = "yaml" }, "invalid output format"},
		{"unknown backend", func(c *Config) { c.Backend = "ftp" }, "invalid backend"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"huge concurrency", func(c *Config) { c.Concurrency = utils.MaxConcurrency + 1 }, "concurrency"},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, "max attempts"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max retries"},
		{"tiny retry delay", func(c *Config) { c.RetryBaseDelay = 10 }, "retry base delay"},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, "request timeout"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.errorMsg)
			}
		})
	}
}

func TestValidateBackend(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ValidateBackend(); utils.ErrorCode(err) != utils.ErrCodeInvalidArgument || !strings.Contains(err.Error(), "canvas.baseUrl") {
		t.Errorf("canvas without URL: %v", err)
	}
	cfg.Canvas.BaseURL = "https://school.instructure.com"
	if err := cfg.ValidateBackend(); err != nil {
		t.Errorf("canvas with URL: %v", err)
	}

	cfg.Backend = utils.BackendS3
	if err := cfg.ValidateBackend(); err == nil {
		t.Error("s3 without bucket accepted")
	}

	cfg.Backend = utils.BackendDrive
	if err := cfg.ValidateBackend(); err != nil {
		t.Errorf("gdrive: %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvPrefix+"CONFIG_DIR", dir)

	cfg := DefaultConfig()
	cfg.Backend = utils.BackendS3
	cfg.SyncRoot = filepath.Join(dir, "mirror")
	cfg.Exclude = []string{"*.tmp"}
	cfg.S3 = S3Config{Bucket: "lectures", Prefix: "2024/", PathStyle: true}
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	path := filepath.Join(dir, ConfigFileName)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file missing: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %o, want 600", info.Mode().Perm())
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Backend != utils.BackendS3 || loaded.S3.Bucket != "lectures" || !loaded.S3.PathStyle {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.Exclude) != 1 || loaded.Exclude[0] != "*.tmp" {
		t.Errorf("exclude = %v", loaded.Exclude)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = -3
	if err := cfg.SaveTo(filepath.Join(t.TempDir(), ConfigFileName)); err == nil {
		t.Error("SaveTo() accepted an invalid config")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Concurrency != utils.DefaultConcurrency {
		t.Errorf("concurrency = %d", cfg.Concurrency)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("LoadFrom() accepted malformed JSON")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(`{"backend":"canvas","concurrency":2}`), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvPrefix+"BACKEND", "gdrive")
	t.Setenv(EnvPrefix+"CONCURRENCY", "8")
	t.Setenv(EnvPrefix+"COLOR_OUTPUT", "off")
	t.Setenv(EnvPrefix+"CANVAS_URL", "https://canvas.example.edu")
	t.Setenv(EnvPrefix+"MAX_RETRIES", "not-a-number")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Backend != utils.BackendDrive {
		t.Errorf("backend = %s", cfg.Backend)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("concurrency = %d", cfg.Concurrency)
	}
	if cfg.ColorOutput {
		t.Error("color output not disabled")
	}
	if cfg.Canvas.BaseURL != "https://canvas.example.edu" {
		t.Errorf("canvas url = %s", cfg.Canvas.BaseURL)
	}
	if cfg.MaxRetries != utils.DefaultMaxRetries {
		t.Errorf("unparsable env value changed max retries to %d", cfg.MaxRetries)
	}
}

func TestSet(t *testing.T) {
	tests := []struct {
		key, value string
		check      func(c *Config) bool
	}{
		{"backend", "s3", func(c *Config) bool { return c.Backend == utils.BackendS3 }},
		{"concurrency", " 12 ", func(c *Config) bool { return c.Concurrency == 12 }},
		{"materializeEmpty", "yes", func(c *Config) bool { return c.MaterializeEmpty }},
		{"include", "root:Math*, leaf:*.pdf,,", func(c *Config) bool {
			return len(c.Include) == 2 && c.Include[0] == "root:Math*" && c.Include[1] == "leaf:*.pdf"
		}},
		{"canvas.baseUrl", "https://canvas.example.edu/", func(c *Config) bool { return c.Canvas.BaseURL == "https://canvas.example.edu" }},
		{"s3.pathStyle", "true", func(c *Config) bool { return c.S3.PathStyle }},
		{"defaultOutputFormat", "json", func(c *Config) bool { return c.DefaultOutputFormat == types.OutputFormatJSON }},
		{"syncRoot", "relative/dir", func(c *Config) bool { return filepath.IsAbs(c.SyncRoot) }},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := DefaultConfig()
			if err := cfg.Set(tt.key, tt.value); err != nil {
				t.Fatalf("Set(%s) error = %v", tt.key, err)
			}
			if !tt.check(cfg) {
				t.Errorf("Set(%s, %q) gave %+v", tt.key, tt.value, cfg)
			}
		})
	}
}

func TestSetRejects(t *testing.T) {
	tests := []struct{ key, value string }{
		{"nope", "1"},
		{"concurrency", "many"},
		{"concurrency", "0"},
		{"backend", "dropbox"},
		{"logLevel", "shout"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := DefaultConfig()
			if err := cfg.Set(tt.key, tt.value); err == nil {
				t.Errorf("Set(%s, %q) accepted", tt.key, tt.value)
			}
			if cfg.Concurrency != utils.DefaultConcurrency || cfg.Backend != utils.BackendCanvas || cfg.LogLevel != "normal" {
				t.Errorf("config changed after rejected Set: %+v", cfg)
			}
		})
	}
}

func TestKeysAreSettable(t *testing.T) {
	for _, key := range Keys() {
		err := DefaultConfig().Set(key, "x")
		if err != nil && strings.Contains(err.Error(), "unknown config key") {
			t.Errorf("Keys() lists %s but Set does not accept it", key)
		}
	}
}

func TestAsMapCoversKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Include = []string{"root:Math*", "leaf:*.pdf"}
	m := cfg.AsMap()
	if len(m) != len(Keys()) {
		t.Errorf("AsMap() has %d keys, Keys() has %d", len(m), len(Keys()))
	}
	for _, key := range Keys() {
		if _, ok := m[key]; !ok {
			t.Errorf("AsMap() lacks %s", key)
		}
	}

	// list values are printed in the form Set parses
	other := DefaultConfig()
	if err := other.Set("include", m["include"]); err != nil {
		t.Fatal(err)
	}
	if len(other.Include) != 2 || other.Include[1] != "leaf:*.pdf" {
		t.Errorf("include = %v", other.Include)
	}
}

func TestLoadFileIgnoresEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(`{"concurrency":2}`), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvPrefix+"CONCURRENCY", "9")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("concurrency = %d, want the file value 2", cfg.Concurrency)
	}
}

func TestToSyncOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncRoot = "/data/courses"
	cfg.Include = []string{"root:Math*"}
	cfg.Concurrency = 7
	cfg.MaterializeEmpty = true
	cfg.MaxAttempts = 5
	cfg.RetryBaseDelay = 250

	opts := cfg.ToSyncOptions()
	if opts.Root != "/data/courses" || opts.Concurrency != 7 || !opts.MaterializeEmpty {
		t.Errorf("opts = %+v", opts)
	}
	if opts.Retry.MaxAttempts != 5 || opts.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("retry = %+v", opts.Retry)
	}
	if opts.DryRun {
		t.Error("dry run set from config")
	}

	cfg.Include[0] = "changed"
	if opts.Include[0] != "root:Math*" {
		t.Error("options share the include slice with the config")
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv(EnvPrefix+"CONFIG_DIR", "/custom/dir")
	dir, err := GetConfigDir()
	if err != nil || dir != "/custom/dir" {
		t.Errorf("GetConfigDir() = %s, %v", dir, err)
	}

	t.Setenv(EnvPrefix+"CONFIG_DIR", "")
	t.Setenv("HOME", "/home/student")
	t.Setenv("USERPROFILE", "/home/student")
	dir, err = GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if !strings.HasSuffix(dir, filepath.Join(".config", utils.AppName)) {
		t.Errorf("GetConfigDir() = %s", dir)
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{" on ", true},
		{"yes", true},
		{"false", false},
		{"0", false},
		{"", false},
		{"maybe", false},
	}
	for _, tt := range tests {
		if got := parseBool(tt.input); got != tt.want {
			t.Errorf("parseBool(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
