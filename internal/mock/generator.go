// Package mock fabricates run directories on disk so the monitor can be
// demonstrated without a real launcher.
package mock

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/agent-racer/runwatch/internal/run"
	"github.com/pkg/errors"
)

type mockRun struct {
	id        string
	pattern   string
	pid       int
	finishAt  int // tick on which the run exits; 0 never
	exitCode  int
	tools     []string
	toolIdx   int
	completed bool
}

var commonTools = []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob"}

type Generator struct {
	root string
	runs []*mockRun
	tick int
	rng  *rand.Rand
	done chan struct{}
}

// NewGenerator returns a generator that writes under root. seed makes the
// jitter reproducible.
func NewGenerator(root string, seed int64) *Generator {
	return &Generator{
		root: root,
		rng:  rand.New(rand.NewSource(seed)),
		done: make(chan struct{}),
		runs: []*mockRun{
			{id: "run_mock_steady", pattern: "steady", pid: 80001, finishAt: 40,
				tools: []string{"Read", "Grep", "Edit", "Write", "Bash"}},
			{id: "run_mock_burst", pattern: "burst", pid: 80002, finishAt: 60,
				tools: []string{"Read", "Write", "Bash", "Bash"}},
			{id: "run_mock_stall", pattern: "stall", pid: 80003},
			{id: "run_mock_error", pattern: "error", pid: 80004, finishAt: 25, exitCode: 1,
				tools: commonTools},
			{id: "run_mock_partial", pattern: "partial", pid: 80005, finishAt: 50},
			{id: "run_mock_orphan", pattern: "orphan"},
		},
	}
}

// Setup creates the run directories and their initial markers. Every run
// except the orphan starts with a pid.txt.
func (g *Generator) Setup() error {
	for _, mr := range g.runs {
		dir := filepath.Join(g.root, mr.id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", dir)
		}
		if mr.pattern == "orphan" {
			continue
		}
		if err := g.write(mr, run.CwdFile, "/home/user/"+mr.pattern+"\n", false); err != nil {
			return err
		}
		if err := g.write(mr, run.PIDFile, fmt.Sprintf("%d\n", mr.pid), false); err != nil {
			return err
		}
	}
	return nil
}

// Start runs Setup and then advances one step per interval until ctx is
// cancelled. Done is closed once the last step has returned.
func (g *Generator) Start(ctx context.Context, interval time.Duration) error {
	if err := g.Setup(); err != nil {
		return err
	}
	go func() {
		defer close(g.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := g.Step(); err != nil {
					log.Printf("[mock] step error: %v", err)
				}
			}
		}
	}()
	return nil
}

func (g *Generator) Done() <-chan struct{} {
	return g.done
}

// Step advances every live run by one tick.
func (g *Generator) Step() error {
	g.tick++
	for _, mr := range g.runs {
		if mr.completed || mr.pattern == "orphan" {
			continue
		}
		if err := g.advance(mr); err != nil {
			return err
		}
		if mr.finishAt > 0 && g.tick >= mr.finishAt {
			if err := g.finish(mr); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Generator) advance(mr *mockRun) error {
	if g.tick <= 2 {
		return g.write(mr, run.StdoutFile, fmt.Sprintf("starting %s (tick %d)\n", mr.id, g.tick), true)
	}

	switch mr.pattern {
	case "steady":
		return g.write(mr, run.StdoutFile, g.toolLine(mr), true)
	case "burst":
		if g.tick%5 != 0 {
			return nil
		}
		n := 3 + g.rng.Intn(5)
		var text string
		for i := 0; i < n; i++ {
			text += g.toolLine(mr)
		}
		if err := g.write(mr, run.StdoutFile, text, true); err != nil {
			return err
		}
		return g.write(mr, run.StderrFile, fmt.Sprintf("warning: burst of %d calls\n", n), true)
	case "stall":
		if g.tick > 6 {
			return nil
		}
		return g.write(mr, run.StdoutFile, "waiting for lock\n", true)
	case "error":
		if err := g.write(mr, run.StdoutFile, g.toolLine(mr), true); err != nil {
			return err
		}
		if g.tick%4 == 0 {
			return g.write(mr, run.StderrFile, fmt.Sprintf("error: tool %s failed (attempt %d)\n", mr.tools[mr.toolIdx%len(mr.tools)], g.tick/4), true)
		}
		return nil
	case "partial":
		// Lines are split across ticks to exercise reassembly.
		if g.tick%2 == 0 {
			return g.write(mr, run.StdoutFile, fmt.Sprintf("progress %d%%", g.tick*2), true)
		}
		return g.write(mr, run.StdoutFile, " done\n", true)
	}
	return nil
}

func (g *Generator) finish(mr *mockRun) error {
	mr.completed = true
	if err := g.write(mr, run.StdoutFile, fmt.Sprintf("exiting with code %d\n", mr.exitCode), true); err != nil {
		return err
	}
	if err := g.write(mr, run.CwdFile, fmt.Sprintf("EXIT_CODE=%d\n", mr.exitCode), true); err != nil {
		return err
	}
	path := filepath.Join(g.root, mr.id, run.PIDFile)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing %s", path)
	}
	return nil
}

func (g *Generator) toolLine(mr *mockRun) string {
	tool := mr.tools[mr.toolIdx%len(mr.tools)]
	mr.toolIdx++
	return fmt.Sprintf("tool_use %s (%dms)\n", tool, 20+g.rng.Intn(400))
}

func (g *Generator) write(mr *mockRun, name, text string, appendMode bool) error {
	path := filepath.Join(g.root, mr.id, name)
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}
