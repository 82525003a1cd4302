package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	Addr    string        `split_words:"true" default:":8080"`
	Timeout time.Duration `split_words:"true" default:"5s"`
	Model   string        `split_words:"true"`
}

func TestExportEnvironmentKeepsProcessValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CFGTEST_MODEL=from-file\nCFGTEST_ADDR=:9090\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("CFGTEST_ADDR", ":7070")
	t.Setenv("CFGTEST_MODEL", "")
	os.Unsetenv("CFGTEST_MODEL")

	if err := exportEnvironment(path); err != nil {
		t.Fatalf("exportEnvironment() error = %v", err)
	}

	conf, err := Process[sampleConfig]("CFGTEST")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if conf.Addr != ":7070" {
		t.Fatalf("process env must win, got %q", conf.Addr)
	}
	if conf.Model != "from-file" {
		t.Fatalf("file value not exported, got %q", conf.Model)
	}
	if conf.Timeout != 5*time.Second {
		t.Fatalf("default not applied, got %v", conf.Timeout)
	}
}

func TestExportEnvironmentMissingFile(t *testing.T) {
	if err := exportEnvironmentIfExists(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing default file must be ignored, got %v", err)
	}
}
