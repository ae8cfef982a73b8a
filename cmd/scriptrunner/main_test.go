package main

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"scriptrunner/internal/app"
	"scriptrunner/internal/config"
)

// helperEnv makes the test binary act as scriptrunner itself, so tests can
// signal a real process.
const helperEnv = "GO_SCRIPTRUNNER_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
	}
	os.Exit(m.Run())
}

func TestParseArgs(t *testing.T) {
	var stderr bytes.Buffer
	cmd, err := parseArgs([]string{
		"--config", "config.json",
		"--setting", "workitem_id=wi-1",
		"--setting=correlation_id=corr",
		"--script", "RunTests.sh",
		"--args", "--filter fast",
		"extra1", "extra 2",
	}, &stderr)
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}

	if cmd.Script != "RunTests.sh" || cmd.ScriptArgs != "--filter fast" || cmd.ConfigPath != "config.json" {
		t.Errorf("parseArgs() = %+v", cmd)
	}
	if diff := cmp.Diff(config.Overrides{"workitem_id=wi-1", "correlation_id=corr"}, cmd.Overrides); diff != "" {
		t.Errorf("Overrides mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"extra1", "extra 2"}, cmd.Args); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}
}

func TestParseArgsDoubleDash(t *testing.T) {
	cmd, err := parseArgs([]string{"--script", "run.sh", "--", "--not-a-flag"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if diff := cmp.Diff([]string{"--not-a-flag"}, cmd.Args); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}
}

func TestParseArgsErrors(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"--args", "x"},
		{"--script", "run.sh", "--setting", "novalue"},
		{"--bogus"},
	} {
		if _, err := parseArgs(args, &bytes.Buffer{}); err == nil {
			t.Errorf("parseArgs(%q) succeeded; want error", args)
		}
	}
}

func TestDoMainUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := doMain([]string{"--setting", "x=y"}, &stdout, &stderr); code != app.ExitConfigError {
		t.Errorf("doMain() = %d, want %d", code, app.ExitConfigError)
	}
	if !strings.Contains(stderr.String(), "--script is required") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestDoMainExitCode(t *testing.T) {
	root := t.TempDir()
	payload := filepath.Join(root, "payload")
	if err := os.MkdirAll(payload, 0o755); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\nmkdir -p \"$1/execution\"\necho '<assembly total=\"2\">' > \"$1/execution/testResults.xml\"\nexit 5\n"
	if err := os.WriteFile(filepath.Join(payload, "run.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(root, "config.yaml")
	settings := strings.Join([]string{
		"workitem_id: wi-9",
		"workitem_payload_dir: " + payload,
		"workitem_working_dir: " + root,
		"event_uri: file://" + filepath.ToSlash(filepath.Join(root, "events.jsonl")),
		"output_uri: " + filepath.Join(root, "out"),
	}, "\n")
	if err := os.WriteFile(configPath, []byte(settings), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := doMain([]string{"--config", configPath, "--script", "run.sh", root}, &stdout, &stderr)
	if code != 5 {
		t.Errorf("doMain() = %d, want 5\nstdout:\n%s\nstderr:\n%s", code, stdout.String(), stderr.String())
	}
	if _, err := os.Stat(filepath.Join(root, "out", "wi-9", "testResults.xml")); err != nil {
		t.Errorf("results not uploaded: %v", err)
	}
}

func TestDoMainTerminatedWhileScriptRuns(t *testing.T) {
	root := t.TempDir()
	payload := filepath.Join(root, "payload")
	if err := os.MkdirAll(payload, 0o755); err != nil {
		t.Fatal(err)
	}
	pidFile := filepath.Join(root, "script.pid")
	script := "#!/bin/sh\necho $$ > \"" + pidFile + "\"\nexec sleep 30\n"
	if err := os.WriteFile(filepath.Join(payload, "run.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	events := filepath.Join(root, "events.jsonl")
	configPath := filepath.Join(root, "config.yaml")
	settings := strings.Join([]string{
		"workitem_id: wi-term",
		"workitem_payload_dir: " + payload,
		"workitem_working_dir: " + root,
		"event_uri: file://" + filepath.ToSlash(events),
		"output_uri: " + filepath.Join(root, "out"),
	}, "\n")
	if err := os.WriteFile(configPath, []byte(settings), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := exec.Command(os.Args[0], "--config", configPath, "--script", "run.sh")
	cmd.Env = append(os.Environ(), helperEnv+"=1")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if data, err := os.ReadFile(pidFile); err == nil {
			if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
				syscall.Kill(pid, syscall.SIGKILL)
			}
		}
	})

	deadline := time.Now().Add(10 * time.Second)
	for {
		if data, err := os.ReadFile(pidFile); err == nil && len(bytes.TrimSpace(data)) > 0 {
			break
		}
		if time.Now().After(deadline) {
			cmd.Process.Kill()
			t.Fatal("script never started")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(10 * time.Second):
		cmd.Process.Kill()
		<-done
		t.Fatal("scriptrunner kept running after SIGTERM")
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Wait() error = %v, want termination by SIGTERM", err)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); !ok || !status.Signaled() || status.Signal() != syscall.SIGTERM {
		t.Errorf("process state = %v, want killed by SIGTERM", exitErr.ProcessState)
	}
	if data, err := os.ReadFile(events); err == nil && len(data) != 0 {
		t.Errorf("events written by a terminated run: %q", data)
	}
}
