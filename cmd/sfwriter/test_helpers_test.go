package main

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"sfwriter/internal/acquisition"
	"sfwriter/internal/config"
	"sfwriter/internal/control"
	"sfwriter/internal/format"
	"sfwriter/internal/logging"
	"sfwriter/internal/ringbuffer"
)

type cliTestEnv struct {
	ctrl       *acquisition.Controller
	url        string
	configPath string
}

func setupCLITestEnv(t *testing.T, token string) *cliTestEnv {
	t.Helper()
	t.Setenv("SFWRITER_API_TOKEN", "")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(configPath); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	ctrl, err := acquisition.New(acquisition.Options{
		RunID:      "cli-run",
		OutputPath: "/data/run_0001.sqlite",
		Parameters: map[string]format.ParameterType{
			"general/user":    format.TypeString,
			"general/process": format.TypeString,
			"n_images":        format.TypeUint64,
		},
		Logger: logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("acquisition.New: %v", err)
	}
	if err := ctrl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ring, err := ringbuffer.New(4, 1024)
	if err != nil {
		t.Fatalf("ringbuffer.New: %v", err)
	}
	srv := control.NewServer(ctrl, ring, control.Options{Token: token, Logger: logging.NewNop()})
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	return &cliTestEnv{ctrl: ctrl, url: httpSrv.URL, configPath: configPath}
}

func runCLI(t *testing.T, args []string, url, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if url != "" {
		flags = append(flags, "--url", url)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, got)
	}
}
