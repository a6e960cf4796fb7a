package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	result := GetEnv("TEST_NONEXISTENT_VAR", "default")
	if result != "default" {
		t.Errorf("Expected 'default', got %q", result)
	}

	t.Setenv("TEST_GET_ENV", "custom")

	result = GetEnv("TEST_GET_ENV", "default")
	if result != "custom" {
		t.Errorf("Expected 'custom', got %q", result)
	}
}

func TestGetIntEnv(t *testing.T) {
	result := GetIntEnv("TEST_NONEXISTENT_INT", 42)
	if result != 42 {
		t.Errorf("Expected 42, got %d", result)
	}

	t.Setenv("TEST_INT_ENV", "123")
	if result = GetIntEnv("TEST_INT_ENV", 42); result != 123 {
		t.Errorf("Expected 123, got %d", result)
	}

	t.Setenv("TEST_INVALID_INT", "not-a-number")
	if result = GetIntEnv("TEST_INVALID_INT", 42); result != 42 {
		t.Errorf("Expected 42 for invalid int, got %d", result)
	}
}

func TestGetBoolEnv(t *testing.T) {
	if !GetBoolEnv("TEST_NONEXISTENT_BOOL", true) {
		t.Error("Expected default true")
	}

	t.Setenv("TEST_BOOL_ENV", "false")
	if GetBoolEnv("TEST_BOOL_ENV", true) {
		t.Error("Expected false")
	}

	t.Setenv("TEST_INVALID_BOOL", "maybe")
	if !GetBoolEnv("TEST_INVALID_BOOL", true) {
		t.Error("Expected default for invalid bool")
	}
}

func TestGetDurationEnv(t *testing.T) {
	defaultDuration := 5 * time.Second

	if result := GetDurationEnv("TEST_NONEXISTENT_DURATION", defaultDuration); result != defaultDuration {
		t.Errorf("Expected %v, got %v", defaultDuration, result)
	}

	t.Setenv("TEST_DURATION_ENV", "30s")
	if result := GetDurationEnv("TEST_DURATION_ENV", defaultDuration); result != 30*time.Second {
		t.Errorf("Expected 30s, got %v", result)
	}

	t.Setenv("TEST_INVALID_DURATION", "not-a-duration")
	if result := GetDurationEnv("TEST_INVALID_DURATION", defaultDuration); result != defaultDuration {
		t.Errorf("Expected %v for invalid duration, got %v", defaultDuration, result)
	}
}

func TestGetSecretFile(t *testing.T) {
	if result := GetSecretFile(""); result != "" {
		t.Errorf("Expected empty string for empty path, got %q", result)
	}

	if result := GetSecretFile("/nonexistent/path/to/secret"); result != "" {
		t.Errorf("Expected empty string for nonexistent file, got %q", result)
	}

	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("my-secret-value\n"), 0o600); err != nil {
		t.Fatalf("Failed to write secret file: %v", err)
	}

	if result := GetSecretFile(path); result != "my-secret-value" {
		t.Errorf("Expected %q, got %q", "my-secret-value", result)
	}
}

func TestGetSecret_PrefersInlineValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwt")
	if err := os.WriteFile(path, []byte("from-file"), 0o600); err != nil {
		t.Fatalf("Failed to write secret file: %v", err)
	}
	t.Setenv("TEST_SECRET_FILE", path)

	if got := GetSecret("TEST_SECRET", "TEST_SECRET_FILE"); got != "from-file" {
		t.Errorf("Expected file value, got %q", got)
	}

	t.Setenv("TEST_SECRET", "inline")
	if got := GetSecret("TEST_SECRET", "TEST_SECRET_FILE"); got != "inline" {
		t.Errorf("Expected inline value, got %q", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "TEST_DOTENV_NEW=from-dotenv\nTEST_DOTENV_SET=from-dotenv\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	t.Setenv("TEST_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("TEST_DOTENV_NEW") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}

	if got := os.Getenv("TEST_DOTENV_NEW"); got != "from-dotenv" {
		t.Errorf("Expected new variable to be loaded, got %q", got)
	}
	if got := os.Getenv("TEST_DOTENV_SET"); got != "from-env" {
		t.Errorf("Expected existing variable to win, got %q", got)
	}
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Expected missing file to be ignored, got %v", err)
	}
}
