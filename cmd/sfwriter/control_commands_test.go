package main

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sfwriter/internal/acquisition"
	"sfwriter/internal/control"
)

func TestStatusAndStatsCommands(t *testing.T) {
	env := setupCLITestEnv(t, "")
	for i := uint64(0); i < 1500; i++ {
		env.ctrl.ReceivedFrame(i)
	}

	out, _, err := runCLI(t, []string{"status"}, env.url, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Acquisition ==")
	requireContains(t, out, "[OK] running")
	requireContains(t, out, "cli-run")
	requireContains(t, out, "general/process, general/user, n_images")

	out, _, err = runCLI(t, []string{"stats"}, env.url, env.configPath)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	requireContains(t, out, "Received frames")
	requireContains(t, out, "1,500")
	requireContains(t, out, "1.0 KiB")
}

func TestStopThenSetParameters(t *testing.T) {
	env := setupCLITestEnv(t, "")

	out, _, err := runCLI(t, []string{"stop"}, env.url, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "stop_requested")
	if env.ctrl.IsRunning() {
		t.Fatal("expected controller to stop running")
	}

	out, _, err = runCLI(t, []string{"set", "general/user=p12345", "n_images=100"}, env.url, env.configPath)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	requireContains(t, out, "Stored 2 parameter(s)")
	requireContains(t, out, "Still missing: general/process")

	want := map[string]any{"general/user": "p12345", "n_images": uint64(100)}
	if diff := cmp.Diff(want, env.ctrl.Parameters()); diff != "" {
		t.Fatalf("parameters mismatch (-want +got):\n%s", diff)
	}

	out, _, err = runCLI(t, []string{"params"}, env.url, env.configPath)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	requireContains(t, out, "p12345")
	requireContains(t, out, "general/process")
}

func TestSetRejectsBadInput(t *testing.T) {
	env := setupCLITestEnv(t, "")

	if _, _, err := runCLI(t, []string{"set", "novalue"}, env.url, env.configPath); err == nil {
		t.Fatal("expected error for assignment without '='")
	}
	if _, _, err := runCLI(t, []string{"set", "n_images=-1"}, env.url, env.configPath); err == nil {
		t.Fatal("expected server to reject a negative uint64")
	}
	if got := env.ctrl.Parameters(); len(got) != 0 {
		t.Fatalf("expected no stored parameters, got %v", got)
	}
}

func TestKillCommand(t *testing.T) {
	env := setupCLITestEnv(t, "")

	out, _, err := runCLI(t, []string{"kill"}, env.url, env.configPath)
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	requireContains(t, out, "state:")
	if !env.ctrl.IsKilled() {
		t.Fatal("expected controller to be killed")
	}
	if env.ctrl.State() == acquisition.StateRunning {
		t.Fatal("expected acquisition to leave running")
	}
}

func TestControlCommandsSendToken(t *testing.T) {
	env := setupCLITestEnv(t, "secret")

	_, _, err := runCLI(t, []string{"status"}, env.url, env.configPath)
	if !errors.Is(err, control.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"--token", "secret", "status"}, env.url, env.configPath); err != nil {
		t.Fatalf("status with token: %v", err)
	}
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"a=1", "b=x=y", "c="})
	if err != nil {
		t.Fatalf("parseAssignments: %v", err)
	}
	want := map[string]any{"a": "1", "b": "x=y", "c": ""}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("assignments mismatch (-want +got):\n%s", diff)
	}
	if _, err := parseAssignments([]string{"a=1", "a=2"}); err == nil {
		t.Fatal("expected duplicate error")
	}
}
