// Package monitor drives the poll loop: each tick scans the runs
// directory, emits a status summary when one is due, tails every run's log
// streams and hands the results to the configured sinks.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agent-racer/runwatch/internal/config"
	"github.com/agent-racer/runwatch/internal/run"
	"github.com/agent-racer/runwatch/internal/state"
	"github.com/agent-racer/runwatch/internal/tail"
)

// Sink receives the output of each tick. The console reporter and the
// live feed broadcaster both implement it.
type Sink interface {
	Summary(run.Summary) error
	Lines([]run.Line) error
}

// removalSink is implemented by sinks that want to hear about runs that
// disappeared from the runs directory.
type removalSink interface {
	QueueRemoval(ids []string)
}

type Monitor struct {
	mu    sync.RWMutex // protects cfg
	cfg   *config.Config
	root  string
	store *state.Store
	sinks []Sink

	// Owned by the goroutine calling Tick; no locking.
	cursors     tail.Cursors
	health      *readHealth
	notifier    *Notifier
	summarized  bool
	lastSummary time.Time
	lastTick    time.Time

	reconfigureCh chan struct{}
}

func NewMonitor(cfg *config.Config, root string, store *state.Store, sinks ...Sink) *Monitor {
	return &Monitor{
		cfg:           cfg,
		root:          root,
		store:         store,
		sinks:         sinks,
		cursors:       tail.NewCursors(),
		health:        newReadHealth(),
		reconfigureCh: make(chan struct{}, 1),
	}
}

// SetNotifier attaches a filesystem notifier. Each tick syncs its watch set
// with the discovered runs, and Start ticks early when it fires. Must be
// called before Start.
func (m *Monitor) SetNotifier(n *Notifier) {
	m.notifier = n
}

// SetConfig replaces the monitor's config pointer. Timings are read on the
// next tick; Start recreates its ticker if the poll interval changed. The
// runs directory is fixed at construction and is not affected.
func (m *Monitor) SetConfig(cfg *config.Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	select {
	case m.reconfigureCh <- struct{}{}:
	default:
	}
}

func (m *Monitor) config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Start ticks once immediately and then on every poll interval until ctx
// is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	cfg := m.config()
	pollInterval := cfg.Monitor.PollInterval

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var wake <-chan struct{}
	if m.notifier != nil {
		wake = m.notifier.Wake()
	}

	log.Printf("[monitor] watching %s (poll=%s summary=%s notify=%t)",
		m.root, pollInterval, cfg.Monitor.SummaryInterval, wake != nil)

	// Initial poll
	m.Tick(time.Now())

	for {
		select {
		case <-ctx.Done():
			log.Println("[monitor] stopped")
			return
		case <-ticker.C:
			m.Tick(time.Now())
		case <-m.reconfigureCh:
			next := m.config().Monitor.PollInterval
			if next != pollInterval {
				ticker.Reset(next)
				log.Printf("[monitor] poll interval %s -> %s", pollInterval, next)
				pollInterval = next
			}
		case _, ok := <-wake:
			if !ok {
				log.Println("[monitor] notifications stopped, polling only")
				wake = nil
				continue
			}
			now := time.Now()
			if now.Sub(m.lastTick) < m.config().Monitor.NotifyDebounce {
				continue
			}
			m.Tick(now)
		}
	}
}

// Tick runs one full cycle at time now: scan, summary if due, tail, emit.
func (m *Monitor) Tick(now time.Time) {
	cfg := m.config()
	m.lastTick = now

	runs, err := run.Scan(m.root)
	if err != nil {
		// The summary stays due and is retried next tick.
		log.Printf("[monitor] scan error: %v", err)
		return
	}

	if removed := m.store.Sync(runs); len(removed) > 0 {
		m.health.forget(removed)
		for _, s := range m.sinks {
			if rs, ok := s.(removalSink); ok {
				rs.QueueRemoval(removed)
			}
		}
	}

	if m.notifier != nil {
		m.notifier.Sync(m.root, runs)
	}

	if !m.summarized || now.Sub(m.lastSummary) >= cfg.Monitor.SummaryInterval {
		m.emitSummary(m.summarize(runs, now))
		m.summarized = true
		m.lastSummary = now
	}

	var lines []run.Line
	for _, r := range runs {
		lines = append(lines, m.tailRun(r, now, cfg.Monitor.HealthWarningThreshold)...)
	}
	m.emitLines(lines)
}

func (m *Monitor) summarize(runs []run.Run, now time.Time) run.Summary {
	sum := run.Summary{At: now}
	for _, r := range runs {
		d, err := run.Inspect(r.Dir)
		if err != nil {
			log.Printf("[monitor] %s: classify: %v", r.ID, err)
		}
		sum.Add(d.State)
		m.store.SetDetail(r.ID, d, now)
	}
	m.store.SetSummary(sum)
	return sum
}

// tailRun reads both streams of r, stdout first. A read error skips the
// remaining streams of r for this tick; lines already read are kept.
func (m *Monitor) tailRun(r run.Run, now time.Time, threshold int) []run.Line {
	var out []run.Line
	for _, s := range run.Streams {
		path := r.LogPath(s)
		lines, err := m.cursors.Advance(path)
		if err != nil {
			log.Printf("[monitor] %s: %v", r.ID, err)
			failures := m.health.recordFailure(r.ID, err, threshold)
			m.store.RecordHealth(r.ID, failures, err.Error())
			return out
		}
		m.store.RecordRead(r.ID, s.Name, m.cursors.Get(path).Offset, len(lines), now)
		for _, text := range lines {
			out = append(out, run.Line{RunID: r.ID, Stream: s.Name, Text: text})
		}
	}
	if m.health.recordSuccess(r.ID) {
		m.store.RecordHealth(r.ID, 0, "")
	}
	return out
}

func (m *Monitor) emitSummary(sum run.Summary) {
	for _, s := range m.sinks {
		if err := s.Summary(sum); err != nil {
			log.Printf("[monitor] summary sink error: %v", err)
		}
	}
}

func (m *Monitor) emitLines(lines []run.Line) {
	if len(lines) == 0 {
		return
	}
	for _, s := range m.sinks {
		if err := s.Lines(lines); err != nil {
			log.Printf("[monitor] lines sink error: %v", err)
		}
	}
}
