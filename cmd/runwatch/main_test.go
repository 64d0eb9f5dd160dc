package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agent-racer/runwatch/internal/config"
	"github.com/spf13/cobra"
)

func parse(t *testing.T, args ...string) (*options, *cobra.Command) {
	t.Helper()
	opts := &options{}
	cmd := &cobra.Command{Use: "runwatch"}
	opts.bind(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v): %v", args, err)
	}
	return opts, cmd
}

func noEnv(string) string { return "" }

func TestConfigDefaults(t *testing.T) {
	opts, cmd := parse(t)
	cfg, err := opts.config(cmd, noEnv)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Monitor.PollInterval != 500*time.Millisecond {
		t.Errorf("poll interval = %s, want 500ms", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.SummaryInterval != 5*time.Second {
		t.Errorf("summary interval = %s, want 5s", cfg.Monitor.SummaryInterval)
	}
	wd, _ := os.Getwd()
	if want := filepath.Join(wd, config.DefaultRunsDir); cfg.Monitor.RunsDir != want {
		t.Errorf("runs dir = %s, want %s", cfg.Monitor.RunsDir, want)
	}
	if cfg.Server.Listen != "" || cfg.Monitor.Notify {
		t.Errorf("optional features enabled by default: %+v", cfg)
	}
}

func TestConfigFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runwatch.yaml")
	yaml := "monitor:\n  runs_dir: " + filepath.Join(dir, "from-file") + "\n  poll_interval: 2s\n  summary_interval: 30s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		args     []string
		env      string
		wantPoll time.Duration
		wantSum  time.Duration
		wantDir  string
	}{
		{"FileOnly", nil, "", 2 * time.Second, 30 * time.Second, filepath.Join(dir, "from-file")},
		{"FileBeatsEnv", nil, filepath.Join(dir, "from-env"), 2 * time.Second, 30 * time.Second, filepath.Join(dir, "from-file")},
		{"Flags", []string{"--poll-interval", "0.25", "--runs-dir", filepath.Join(dir, "from-flag")}, "", 250 * time.Millisecond, 30 * time.Second, filepath.Join(dir, "from-flag")},
		{"SummaryFlag", []string{"--summary-interval=1.5"}, "", 2 * time.Second, 1500 * time.Millisecond, filepath.Join(dir, "from-file")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, cmd := parse(t, append([]string{"--config", path}, tt.args...)...)
			cfg, err := opts.config(cmd, func(string) string { return tt.env })
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Monitor.PollInterval != tt.wantPoll {
				t.Errorf("poll = %s, want %s", cfg.Monitor.PollInterval, tt.wantPoll)
			}
			if cfg.Monitor.SummaryInterval != tt.wantSum {
				t.Errorf("summary = %s, want %s", cfg.Monitor.SummaryInterval, tt.wantSum)
			}
			if cfg.Monitor.RunsDir != tt.wantDir {
				t.Errorf("runs dir = %s, want %s", cfg.Monitor.RunsDir, tt.wantDir)
			}
		})
	}
}

func TestConfigEnvRunsDir(t *testing.T) {
	dir := t.TempDir()
	opts, cmd := parse(t)
	cfg, err := opts.config(cmd, func(k string) string {
		if k == config.EnvRunsDir {
			return dir
		}
		return ""
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Monitor.RunsDir != dir {
		t.Errorf("runs dir = %s, want %s", cfg.Monitor.RunsDir, dir)
	}
}

func TestConfigRejectsBadIntervals(t *testing.T) {
	for _, args := range [][]string{
		{"--poll-interval", "0"},
		{"--poll-interval", "-1"},
		{"--summary-interval", "0"},
	} {
		opts, cmd := parse(t, args...)
		if _, err := opts.config(cmd, noEnv); err == nil {
			t.Errorf("config(%v) succeeded, want error", args)
		}
	}
}

// syncBuffer is a bytes.Buffer safe for the monitor goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServeUntilCancelled(t *testing.T) {
	root := t.TempDir()
	runDir := filepath.Join(root, "run_001")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "pid.txt"), []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "agent-stderr.txt"), []byte("boom\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Monitor.RunsDir = root
	cfg.Monitor.PollInterval = 20 * time.Millisecond
	cfg.Server.Listen = "127.0.0.1:0"

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, &out, nil) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	got := out.String()
	if !strings.Contains(got, "runs: running=1 finished=0 unknown=0\n") {
		t.Errorf("missing summary in output:\n%s", got)
	}
	if !strings.Contains(got, "[run_001] stderr: boom\n") {
		t.Errorf("missing log line in output:\n%s", got)
	}
	if strings.Count(got, "boom") != 1 {
		t.Errorf("line emitted more than once:\n%s", got)
	}
}

func TestServeListenError(t *testing.T) {
	cfg := config.Default()
	cfg.Monitor.RunsDir = t.TempDir()
	cfg.Server.Listen = "not-an-address"

	if err := serve(context.Background(), cfg, &syncBuffer{}, nil); err == nil {
		t.Error("serve() with a bad listen address succeeded")
	}
}
