package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-racer/runwatch/internal/config"
	"github.com/agent-racer/runwatch/internal/run"
	"github.com/agent-racer/runwatch/internal/state"
)

// waitFor polls cond until it holds or the timeout passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// tickCountConfig makes every tick emit a summary so ticks can be counted.
func tickCountConfig(poll time.Duration) *config.Config {
	cfg := defaultTestConfig()
	cfg.Monitor.PollInterval = poll
	cfg.Monitor.SummaryInterval = time.Nanosecond
	return cfg
}

func TestStartStopsOnCancel(t *testing.T) {
	sink := &recordSink{}
	m := NewMonitor(tickCountConfig(10*time.Second), t.TempDir(), state.NewStore(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	if !waitFor(500*time.Millisecond, func() bool { return sink.summaryCount() >= 1 }) {
		t.Fatal("initial tick did not fire")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

// TestSetConfigRecreatesPollTicker verifies that a new PollInterval takes
// effect without restarting the loop.
func TestSetConfigRecreatesPollTicker(t *testing.T) {
	sink := &recordSink{}
	m := NewMonitor(tickCountConfig(10*time.Second), t.TempDir(), state.NewStore(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	if !waitFor(500*time.Millisecond, func() bool { return sink.summaryCount() >= 1 }) {
		t.Fatal("initial tick did not fire within 500ms")
	}

	// With a 10-second interval, no more ticks should happen in the next 200ms.
	before := sink.summaryCount()
	time.Sleep(200 * time.Millisecond)
	if sink.summaryCount() != before {
		t.Errorf("unexpected tick during 10s interval window (before SetConfig)")
	}

	m.SetConfig(tickCountConfig(30 * time.Millisecond))

	after := sink.summaryCount()
	if !waitFor(500*time.Millisecond, func() bool { return sink.summaryCount() >= after+3 }) {
		t.Errorf("poll interval did not update after SetConfig: got %d ticks in 500ms, want >= 3",
			sink.summaryCount()-after)
	}
}

// TestSetConfigMultipleCallsOneSignal verifies that rapid SetConfig calls
// leave at most one pending reconfigure signal.
func TestSetConfigMultipleCallsOneSignal(t *testing.T) {
	m := NewMonitor(defaultTestConfig(), t.TempDir(), state.NewStore())

	select {
	case <-m.reconfigureCh:
		t.Fatal("reconfigureCh should be empty before SetConfig")
	default:
	}

	for i := 0; i < 5; i++ {
		m.SetConfig(defaultTestConfig())
	}

	count := 0
	for {
		select {
		case <-m.reconfigureCh:
			count++
			continue
		default:
		}
		break
	}
	if count != 1 {
		t.Errorf("expected 1 pending signal after 5 SetConfig calls, got %d", count)
	}
}

func TestNotifyWakesTick(t *testing.T) {
	root := t.TempDir()
	runDir := filepath.Join(root, "run_001")
	writeFile(t, filepath.Join(runDir, run.PIDFile), "1\n")

	n, err := NewNotifier()
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	defer n.Close()

	cfg := defaultTestConfig()
	cfg.Monitor.PollInterval = time.Hour
	cfg.Monitor.NotifyDebounce = 0

	sink := &recordSink{}
	m := NewMonitor(cfg, root, state.NewStore(), sink)
	m.SetNotifier(n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	if !waitFor(500*time.Millisecond, func() bool { return sink.summaryCount() >= 1 }) {
		t.Fatal("initial tick did not fire")
	}

	// The ticker will not fire for an hour; only a notification can
	// deliver this line.
	appendFile(t, filepath.Join(runDir, run.StdoutFile), "woke\n")

	if !waitFor(2*time.Second, func() bool { return len(sink.lineTexts()) == 1 }) {
		t.Fatalf("line not delivered by notification wake, got %q", sink.lineTexts())
	}
	if got := sink.lineTexts()[0]; got != "run_001/stdout:woke\n" {
		t.Errorf("line = %q", got)
	}
}

func TestNotifierSyncTracksRuns(t *testing.T) {
	root := t.TempDir()
	n, err := NewNotifier()
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	defer n.Close()

	a := run.Run{ID: "run_a", Dir: filepath.Join(root, "run_a")}
	b := run.Run{ID: "run_b", Dir: filepath.Join(root, "run_b")}
	writeFile(t, filepath.Join(a.Dir, run.PIDFile), "")
	writeFile(t, filepath.Join(b.Dir, run.PIDFile), "")

	n.Sync(root, []run.Run{a, b})
	if len(n.watched) != 3 {
		t.Fatalf("watched = %v, want root and two runs", n.watched)
	}

	n.Sync(root, []run.Run{b})
	if n.watched[a.Dir] || !n.watched[b.Dir] || !n.watched[root] {
		t.Errorf("watched after removal = %v", n.watched)
	}

	// A root that does not exist yet is skipped and retried later.
	missing := filepath.Join(root, "later")
	n.Sync(missing, nil)
	if n.watched[missing] {
		t.Error("missing root reported as watched")
	}
}

func TestNotifierClose(t *testing.T) {
	n, err := NewNotifier()
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	select {
	case _, ok := <-n.Wake():
		if ok {
			t.Error("Wake delivered a value after Close")
		}
	case <-time.After(time.Second):
		t.Error("Wake channel not closed after Close")
	}
}
