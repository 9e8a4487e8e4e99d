package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

func newTestManager(path string, env map[string]string) *Manager {
	m := NewManagerWithPath(path, nil)
	m.lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	return m
}

func TestGetDefaultConfig(t *testing.T) {
	config := getDefaultConfig()

	// Test Network defaults
	if config.Network.UserAgent != "" {
		t.Errorf("Expected empty default user agent, got '%s'", config.Network.UserAgent)
	}
	if config.Network.APIRequestDelayMs != 600 {
		t.Errorf("Expected default api delay 600, got %d", config.Network.APIRequestDelayMs)
	}
	if config.Network.LoginAttemptDelayMs != 6000 {
		t.Errorf("Expected default login delay 6000, got %d", config.Network.LoginAttemptDelayMs)
	}
	if config.Network.HTTPTimeout.Duration != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", config.Network.HTTPTimeout)
	}
	if !strings.Contains(config.Network.APIBaseURL, "nationstates.net") {
		t.Errorf("Unexpected default api url '%s'", config.Network.APIBaseURL)
	}

	// Test Sort defaults
	if config.Sort.Column != "name" {
		t.Errorf("Expected default sort column 'name', got '%s'", config.Sort.Column)
	}
	if config.Sort.Order != "asc" {
		t.Errorf("Expected default sort order 'asc', got '%s'", config.Sort.Order)
	}

	// Test Files defaults
	if config.Files.MaxRecent != 10 {
		t.Errorf("Expected default max recent 10, got %d", config.Files.MaxRecent)
	}
	if config.Files.Recent == nil {
		t.Error("Expected recent files to be initialized")
	}
	if config.Files.RememberPasswords {
		t.Error("Expected remember passwords to be off by default")
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestMergeConfigs(t *testing.T) {
	defaultConfig := getDefaultConfig()
	var fileConfig Config
	md, err := toml.Decode(`
[network]
user_agent = "Testlandia"
login_attempt_delay_ms = 9000
http_timeout = "5s"

[sort]
column = "exists"
order = "desc"

[s3]
use_path_style = true
`, &fileConfig)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	mergeConfigs(defaultConfig, &fileConfig, md)

	// Check merged values
	if defaultConfig.Network.UserAgent != "Testlandia" {
		t.Errorf("Expected merged user agent, got '%s'", defaultConfig.Network.UserAgent)
	}
	if defaultConfig.Network.LoginAttemptDelayMs != 9000 {
		t.Errorf("Expected merged login delay 9000, got %d", defaultConfig.Network.LoginAttemptDelayMs)
	}
	if defaultConfig.Network.APIRequestDelayMs != 600 {
		t.Errorf("Unset api delay should keep default, got %d", defaultConfig.Network.APIRequestDelayMs)
	}
	if defaultConfig.Network.HTTPTimeout.Duration != 5*time.Second {
		t.Errorf("Expected merged timeout 5s, got %v", defaultConfig.Network.HTTPTimeout)
	}
	if defaultConfig.Sort.Column != "exists" || defaultConfig.Sort.Order != "desc" {
		t.Errorf("Expected merged sort exists/desc, got %s/%s", defaultConfig.Sort.Column, defaultConfig.Sort.Order)
	}
	if !defaultConfig.S3.UsePathStyle {
		t.Error("Expected merged use_path_style to be true")
	}
	if defaultConfig.Files.RememberPasswords {
		t.Error("Undefined boolean should keep its default")
	}
}

func TestManagerInterface(t *testing.T) {
	var manager Persister = NewManagerWithPath("/tmp/test_config.toml", nil)

	if manager == nil {
		t.Error("Manager should implement ManagerInterface")
	}
}

func TestGetConfigPath(t *testing.T) {
	path := getConfigPath()

	// Should return a non-empty path
	if path == "" {
		t.Error("Config path should not be empty")
	}

	// Should end with config.toml
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("Config path should end with 'config.toml', got '%s'", path)
	}
}

func TestManagerLoadNonExistentFile(t *testing.T) {
	manager := newTestManager("/non/existent/path/config.toml", nil)

	config, err := manager.Load()

	// Should not return an error, but should return default config
	if err != nil {
		t.Fatalf("Load should not return error for non-existent file, got: %v", err)
	}
	if config.Network.APIRequestDelayMs != 600 {
		t.Errorf("Should return default config with api delay 600, got %d", config.Network.APIRequestDelayMs)
	}
}

func TestManagerSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nested", "config.toml")
	manager := newTestManager(configPath, nil)

	testConfig := getDefaultConfig()
	testConfig.Network.UserAgent = "Main Nation"
	testConfig.Network.APIRequestDelayMs = 1000
	testConfig.Sort.Column = "last_activity"
	testConfig.S3.SecretKey = "must-not-persist"
	testConfig.AddRecentFile("/tmp/a.dat")

	// Save the config
	if err := manager.Save(testConfig); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal("Config file was not created")
	}
	if strings.Contains(string(data), "must-not-persist") {
		t.Error("S3 secret key must not be written to the config file")
	}

	// Load the config
	loadedConfig, err := manager.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loadedConfig.Network.UserAgent != "Main Nation" {
		t.Errorf("Expected loaded user agent, got '%s'", loadedConfig.Network.UserAgent)
	}
	if loadedConfig.Network.APIRequestDelayMs != 1000 {
		t.Errorf("Expected loaded api delay 1000, got %d", loadedConfig.Network.APIRequestDelayMs)
	}
	if loadedConfig.Sort.Column != "last_activity" {
		t.Errorf("Expected loaded sort column, got '%s'", loadedConfig.Sort.Column)
	}
	if len(loadedConfig.Files.Recent) != 1 || loadedConfig.Files.Recent[0] != "/tmp/a.dat" {
		t.Errorf("Expected recent files to round trip, got %v", loadedConfig.Files.Recent)
	}
}

func TestManagerLoadInvalid(t *testing.T) {
	tempDir := t.TempDir()

	badSyntax := filepath.Join(tempDir, "bad.toml")
	if err := os.WriteFile(badSyntax, []byte("[network\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := newTestManager(badSyntax, nil).Load(); err == nil {
		t.Error("Expected parse error")
	}

	outOfRange := filepath.Join(tempDir, "range.toml")
	if err := os.WriteFile(outOfRange, []byte("[network]\nlogin_attempt_delay_ms = 100\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := newTestManager(outOfRange, nil).Load(); err == nil {
		t.Error("Expected validation error for login delay below minimum")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	manager := newTestManager(filepath.Join(t.TempDir(), "config.toml"), map[string]string{
		"NSMGR_USER_AGENT":           "From Env",
		"NSMGR_API_REQUEST_DELAY_MS": "700",
		"NSMGR_S3_ACCESS_KEY":        "AKID",
		"NSMGR_S3_SECRET_KEY":        "SECRET",
		"NSMGR_S3_USE_PATH_STYLE":    "true",
	})

	config, err := manager.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Network.UserAgent != "From Env" {
		t.Errorf("Expected env user agent, got '%s'", config.Network.UserAgent)
	}
	if config.APIRequestDelay() != 700*time.Millisecond {
		t.Errorf("Expected env api delay 700ms, got %v", config.APIRequestDelay())
	}
	if config.S3.AccessKey != "AKID" || config.S3.SecretKey != "SECRET" || !config.S3.UsePathStyle {
		t.Errorf("Expected env s3 settings, got %+v", config.S3)
	}

	bad := newTestManager(filepath.Join(t.TempDir(), "config.toml"), map[string]string{
		"NSMGR_LOGIN_ATTEMPT_DELAY_MS": "soon",
	})
	if _, err := bad.Load(); err == nil {
		t.Error("Expected error for malformed env override")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("NSMGR_DOTENV_PROBE=hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NSMGR_DOTENV_PROBE", "")
	os.Unsetenv("NSMGR_DOTENV_PROBE")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("NSMGR_DOTENV_PROBE"); got != "hello" {
		t.Errorf("Expected value from env file, got '%s'", got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("Expected error for explicit missing env file")
	}
}

func TestGetSet(t *testing.T) {
	config := getDefaultConfig()
	for _, key := range Keys() {
		v, err := config.Get(key)
		if err != nil {
			t.Errorf("Get(%s) failed: %v", key, err)
			continue
		}
		if err := config.Set(key, v); err != nil {
			t.Errorf("Set(%s, %q) failed: %v", key, v, err)
		}
	}

	if err := config.Set("http_timeout", "1m"); err != nil {
		t.Fatal(err)
	}
	if got, _ := config.Get("http_timeout"); got != "1m0s" {
		t.Errorf("Expected 1m0s, got %s", got)
	}
	if err := config.Set("nope", "x"); err == nil {
		t.Error("Expected error for unknown key")
	}
	if err := config.Set("api_request_delay_ms", "fast"); err == nil {
		t.Error("Expected error for non-numeric delay")
	}
}

func TestAddRecentFile(t *testing.T) {
	config := getDefaultConfig()
	config.Files.MaxRecent = 3

	for _, p := range []string{"a", "b", "c", "d"} {
		config.AddRecentFile(p)
	}
	config.AddRecentFile("c")

	want := []string{"c", "d", "b"}
	if strings.Join(config.Files.Recent, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, config.Files.Recent)
	}
	if got := config.FilterRecentFiles("D"); len(got) != 1 || got[0] != "d" {
		t.Errorf("Expected filter to match 'd', got %v", got)
	}
}
