package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFile(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	content := `# Test env file
KEY1=value1
KEY2="quoted value"
KEY3='single quoted'
# Comment
export KEY4=value4
`
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"KEY1", "KEY2", "KEY3", "KEY4"} {
		t.Setenv(k, "")
	}

	if err := loadEnvFile(envFile); err != nil {
		t.Fatalf("loadEnvFile failed: %v", err)
	}

	if os.Getenv("KEY1") != "value1" {
		t.Errorf("KEY1 not set correctly: %s", os.Getenv("KEY1"))
	}
	if os.Getenv("KEY2") != "quoted value" {
		t.Errorf("KEY2 not set correctly: %s", os.Getenv("KEY2"))
	}
	if os.Getenv("KEY3") != "single quoted" {
		t.Errorf("KEY3 not set correctly: %s", os.Getenv("KEY3"))
	}
	if os.Getenv("KEY4") != "value4" {
		t.Errorf("KEY4 not set correctly: %s", os.Getenv("KEY4"))
	}
}

func TestLoadEnvFile_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	if err := os.WriteFile(envFile, []byte(`EXISTING_KEY=new_value`), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EXISTING_KEY", "original_value")

	if err := loadEnvFile(envFile); err != nil {
		t.Fatalf("loadEnvFile failed: %v", err)
	}

	if os.Getenv("EXISTING_KEY") != "original_value" {
		t.Error("loadEnvFile should not override existing env vars")
	}
}

func TestGetEnvDefault(t *testing.T) {
	t.Setenv("DEFAULT_KEY", "")

	if result := GetEnvDefault("DEFAULT_KEY", "fallback"); result != "fallback" {
		t.Errorf("Expected fallback, got %s", result)
	}

	t.Setenv("DEFAULT_KEY", "actual")

	if result := GetEnvDefault("DEFAULT_KEY", "fallback"); result != "actual" {
		t.Errorf("Expected actual, got %s", result)
	}
}

func TestResolveEnvWithAliases(t *testing.T) {
	t.Setenv("AUTODOC_EXPLAIN_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	if result := ResolveEnvWithAliases("AUTODOC_EXPLAIN_API_KEY"); result != "" {
		t.Error("Expected empty when no keys set")
	}

	t.Setenv("GOOGLE_API_KEY", "google_value")
	if result := ResolveEnvWithAliases("AUTODOC_EXPLAIN_API_KEY"); result != "google_value" {
		t.Errorf("Expected google_value from alias, got %s", result)
	}

	t.Setenv("GEMINI_API_KEY", "gemini_value")
	if result := ResolveEnvWithAliases("AUTODOC_EXPLAIN_API_KEY"); result != "gemini_value" {
		t.Errorf("Expected gemini_value from first alias, got %s", result)
	}

	t.Setenv("AUTODOC_EXPLAIN_API_KEY", "canonical_value")
	if result := ResolveEnvWithAliases("AUTODOC_EXPLAIN_API_KEY"); result != "canonical_value" {
		t.Errorf("Expected canonical_value, got %s", result)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}

	for _, test := range tests {
		result := expandPath(test.input)
		if result != test.expected {
			t.Errorf("expandPath(%s) = %s, expected %s", test.input, result, test.expected)
		}
	}
}

func TestEnvAliases_Exist(t *testing.T) {
	requiredAliases := map[string]string{
		"AUTODOC_TRANSLATE_API_KEY":  "DEEPL_API_KEY",
		"AUTODOC_EXPLAIN_API_KEY":    "GEMINI_API_KEY",
		"AUTODOC_OCR_TESSERACT_PATH": "TESSERACT_CMD",
		"AUTODOC_ARCHIVE_INBOX_DIR":  "SCANS_INBOX",
	}

	for canonical, alias := range requiredAliases {
		aliases, ok := envAliases[canonical]
		if !ok {
			t.Errorf("missing aliases for %s", canonical)
			continue
		}
		found := false
		for _, a := range aliases {
			if a == alias {
				found = true
			}
		}
		if !found {
			t.Errorf("alias %s not registered for %s", alias, canonical)
		}
	}
}
