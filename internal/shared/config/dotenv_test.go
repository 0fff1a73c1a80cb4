package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := `# comment
PLAIN=value
QUOTED="quoted value"
SINGLE='single value'
export EXPORTED=yes
ALREADY_SET=from-file

MALFORMED LINE
`
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	for _, key := range []string{"PLAIN", "QUOTED", "SINGLE", "EXPORTED"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("ALREADY_SET", "from-env")

	loadEnvFiles(envPath, filepath.Join(dir, "missing.env"))

	cases := map[string]string{
		"PLAIN":       "value",
		"QUOTED":      "quoted value",
		"SINGLE":      "single value",
		"EXPORTED":    "yes",
		"ALREADY_SET": "from-env",
	}
	for key, want := range cases {
		if got := os.Getenv(key); got != want {
			t.Fatalf("%s: got %q, want %q", key, got, want)
		}
	}
}
