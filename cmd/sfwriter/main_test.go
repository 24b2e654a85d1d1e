package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"sfwriter/internal/writer"
)

func TestRootRequiresSixArguments(t *testing.T) {
	env := setupCLITestEnv(t, "")
	_, _, err := runCLI(t, []string{"tcp://127.0.0.1:40000", "out.sqlite"}, "", env.configPath)
	if err == nil {
		t.Fatal("expected argument count error")
	}
}

func TestRootRejectsInvalidArguments(t *testing.T) {
	env := setupCLITestEnv(t, "")
	_, _, err := runCLI(t, []string{"tcp://127.0.0.1:40000", "out.sqlite", "many", "8080", "-1", ""}, "", env.configPath)
	if err == nil {
		t.Fatal("expected n_frames parse error")
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t, "")

	out, _, err := runCLI(t, []string{"config", "validate"}, "", env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Format: swissfel")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected refusal to overwrite")
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(fmt.Errorf("run: %w", writer.ErrForcedExit)); got != writer.ExitForced {
		t.Fatalf("expected forced exit code, got %d", got)
	}
	if got := exitCode(os.ErrNotExist); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}
