package mock

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agent-racer/runwatch/internal/run"
)

func classifyAll(t *testing.T, root string) map[string]run.State {
	t.Helper()
	runs, err := run.Scan(root)
	if err != nil {
		t.Fatal(err)
	}
	states := make(map[string]run.State, len(runs))
	for _, r := range runs {
		st, err := run.Classify(r.Dir)
		if err != nil {
			t.Fatalf("Classify(%s): %v", r.ID, err)
		}
		states[r.ID] = st
	}
	return states
}

func TestSetupCreatesRuns(t *testing.T) {
	root := t.TempDir()
	gen := NewGenerator(root, 1)
	if err := gen.Setup(); err != nil {
		t.Fatal(err)
	}

	states := classifyAll(t, root)
	if len(states) != len(gen.runs) {
		t.Fatalf("scanned %d runs, want %d", len(states), len(gen.runs))
	}
	for id, st := range states {
		want := run.Running
		if id == "run_mock_orphan" {
			want = run.Unknown
		}
		if st != want {
			t.Errorf("%s = %s, want %s", id, st, want)
		}
	}
}

func TestStepFinishesRuns(t *testing.T) {
	root := t.TempDir()
	gen := NewGenerator(root, 1)
	if err := gen.Setup(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 60; i++ {
		if err := gen.Step(); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
	}

	states := classifyAll(t, root)
	want := map[string]run.State{
		"run_mock_steady":  run.Finished,
		"run_mock_burst":   run.Finished,
		"run_mock_stall":   run.Running,
		"run_mock_error":   run.Finished,
		"run_mock_partial": run.Finished,
		"run_mock_orphan":  run.Unknown,
	}
	for id, st := range want {
		if states[id] != st {
			t.Errorf("%s = %s, want %s", id, states[id], st)
		}
	}

	code, ok, err := run.ReadExitCode(filepath.Join(root, "run_mock_error", run.CwdFile))
	if err != nil || !ok || code != "1" {
		t.Errorf("error run exit code = %q, %v, %v; want 1", code, ok, err)
	}
}

func TestPartialRunEndsWithNewline(t *testing.T) {
	root := t.TempDir()
	gen := NewGenerator(root, 1)
	if err := gen.Setup(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := gen.Step(); err != nil {
			t.Fatal(err)
		}
	}

	// Tick 4 wrote an unterminated fragment.
	data, err := os.ReadFile(filepath.Join(root, "run_mock_partial", run.StdoutFile))
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasSuffix(string(data), "\n") {
		t.Errorf("partial run stdout ends with newline after even tick: %q", data)
	}

	if err := gen.Step(); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(filepath.Join(root, "run_mock_partial", run.StdoutFile))
	if !strings.HasSuffix(string(data), "progress 8% done\n") {
		t.Errorf("fragment not completed on next tick: %q", data)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	gen := NewGenerator(root, 1)

	ctx, cancel := context.WithCancel(context.Background())
	if err := gen.Start(ctx, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(root, "run_mock_steady", run.StdoutFile)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-gen.Done()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("generator wrote no stdout within 1s: %v", err)
	}
}
