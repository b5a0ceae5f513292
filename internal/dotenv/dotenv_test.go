package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFilesAreNoop(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := Load(filepath.Join(dir, ".env"), filepath.Join(dir, ".env.local")); err != nil {
		t.Fatalf("Load missing files error: %v", err)
	}
}

func TestLoad_UsesFirstExistingFile(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, ".env")
	second := filepath.Join(dir, ".env.local")
	if err := os.WriteFile(first, []byte("PICKED=first\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	if err := os.WriteFile(second, []byte("PICKED=second\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("PICKED", "")
	os.Unsetenv("PICKED")

	if err := Load(first, second); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := os.Getenv("PICKED"); got != "first" {
		t.Fatalf("PICKED=%q, want %q", got, "first")
	}
}

func TestLoad_LoadsValuesAndPreservesExisting(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# comment\n" +
		"FROM_FILE=loaded\n" +
		"QUOTED=\"hello world\"\n" +
		"export EXPORTED=ok\n" +
		"EXISTING=from_file\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("EXISTING", "already_set")

	if err := Load(envPath); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if got := os.Getenv("FROM_FILE"); got != "loaded" {
		t.Fatalf("FROM_FILE=%q, want %q", got, "loaded")
	}
	if got := os.Getenv("QUOTED"); got != "hello world" {
		t.Fatalf("QUOTED=%q, want %q", got, "hello world")
	}
	if got := os.Getenv("EXPORTED"); got != "ok" {
		t.Fatalf("EXPORTED=%q, want %q", got, "ok")
	}
	if got := os.Getenv("EXISTING"); got != "already_set" {
		t.Fatalf("EXISTING=%q, want existing value preserved", got)
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		key     string
		val     string
		skipped bool
	}{
		{in: "KEY=value", key: "KEY", val: "value"},
		{in: "  KEY = spaced  ", key: "KEY", val: "spaced"},
		{in: "export KEY=exported", key: "KEY", val: "exported"},
		{in: "KEY='single quoted'", key: "KEY", val: "single quoted"},
		{in: "KEY=", key: "KEY", val: ""},
		{in: "# comment", skipped: true},
		{in: "", skipped: true},
		{in: "=no-key", skipped: true},
		{in: "no-equals-sign", skipped: true},
	}
	for _, tc := range cases {
		key, val, ok := parseLine(tc.in)
		if tc.skipped {
			if ok {
				t.Fatalf("parseLine(%q) unexpectedly parsed as %q=%q", tc.in, key, val)
			}
			continue
		}
		if !ok || key != tc.key || val != tc.val {
			t.Fatalf("parseLine(%q) = (%q, %q, %v), want (%q, %q, true)", tc.in, key, val, ok, tc.key, tc.val)
		}
	}
}
