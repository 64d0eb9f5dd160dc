package main

import (
	"context"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agent-racer/runwatch/internal/config"
	"github.com/agent-racer/runwatch/internal/console"
	"github.com/agent-racer/runwatch/internal/mock"
	"github.com/agent-racer/runwatch/internal/monitor"
	"github.com/agent-racer/runwatch/internal/state"
	"github.com/agent-racer/runwatch/internal/ws"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const version = "dev"

const mockInterval = 500 * time.Millisecond

func main() {
	log.SetOutput(os.Stderr)
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options holds the command line flags. Flags left unset fall back to the
// config file, then to the built-in defaults.
type options struct {
	runsDir         string
	pollInterval    float64
	summaryInterval float64
	configPath      string
	listen          string
	notify          bool
	mock            bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "runwatch",
		Short:        "Watch agent run directories and tail their logs",
		Long:         "runwatch prints a status summary of every run_* directory under the runs dir and streams new lines from each run's agent-stdout.txt and agent-stderr.txt.",
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd, os.Getenv)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if opts.mock {
				log.Printf("[mock] generating demo runs in %s", cfg.Monitor.RunsDir)
				gen := mock.NewGenerator(cfg.Monitor.RunsDir, time.Now().UnixNano())
				if err := gen.Start(ctx, mockInterval); err != nil {
					return err
				}
				defer func() { <-gen.Done() }()
			}

			reload := func() (*config.Config, error) { return opts.config(cmd, os.Getenv) }
			return serve(ctx, cfg, cmd.OutOrStdout(), reload)
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	opts.bind(cmd)
	return cmd
}

func (o *options) bind(cmd *cobra.Command) {
	d := config.Default()
	f := cmd.Flags()
	f.StringVar(&o.runsDir, "runs-dir", "", "runs directory (default: $"+config.EnvRunsDir+", else ./"+config.DefaultRunsDir+")")
	f.Float64Var(&o.pollInterval, "poll-interval", d.Monitor.PollInterval.Seconds(), "seconds between polls")
	f.Float64Var(&o.summaryInterval, "summary-interval", d.Monitor.SummaryInterval.Seconds(), "seconds between status summaries")
	f.StringVar(&o.configPath, "config", "", "optional YAML config file")
	f.StringVar(&o.listen, "listen", "", "address for the live feed, e.g. 127.0.0.1:8070 (default: disabled)")
	f.BoolVar(&o.notify, "notify", false, "also wake on filesystem notifications")
	f.BoolVar(&o.mock, "mock", false, "populate the runs directory with simulated runs")
}

// config loads the config file and applies the flags that were set on the
// command line on top of it.
func (o *options) config(cmd *cobra.Command, getenv func(string) string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("poll-interval") {
		if cfg.Monitor.PollInterval, err = config.Seconds(o.pollInterval); err != nil {
			return nil, errors.Wrap(err, "--poll-interval")
		}
	}
	if f.Changed("summary-interval") {
		if cfg.Monitor.SummaryInterval, err = config.Seconds(o.summaryInterval); err != nil {
			return nil, errors.Wrap(err, "--summary-interval")
		}
	}
	if f.Changed("listen") {
		cfg.Server.Listen = o.listen
	}
	if f.Changed("notify") {
		cfg.Monitor.Notify = o.notify
	}

	explicit := cfg.Monitor.RunsDir
	if f.Changed("runs-dir") {
		explicit = o.runsDir
	}
	if cfg.Monitor.RunsDir, err = config.ResolveRunsDir(explicit, getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serve runs the monitor, and the live feed when configured, until ctx is
// cancelled. Report lines go to out.
func serve(ctx context.Context, cfg *config.Config, out io.Writer, reload func() (*config.Config, error)) error {
	store := state.NewStore()
	sinks := []monitor.Sink{console.NewReporter(out)}

	var serverDone chan struct{}
	if cfg.Server.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Server.Listen)
		if err != nil {
			return errors.Wrapf(err, "listen %s", cfg.Server.Listen)
		}

		broadcaster := ws.NewBroadcaster(store, cfg.Server.BroadcastThrottle, cfg.Server.SnapshotInterval, 0)
		defer broadcaster.Close()
		sinks = append(sinks, broadcaster)

		server := ws.NewServer(store, broadcaster, cfg.Server.AllowedOrigins, cfg.Server.AuthToken)
		serverDone = make(chan struct{})
		go func() {
			defer close(serverDone)
			if err := ws.Serve(ctx, ln, server.Handler()); err != nil {
				log.Printf("[ws] server error: %v", err)
			}
		}()
	}

	mon := monitor.NewMonitor(cfg, cfg.Monitor.RunsDir, store, sinks...)
	if cfg.Monitor.Notify {
		n, err := monitor.NewNotifier()
		if err != nil {
			log.Printf("[notify] disabled: %v", err)
		} else {
			defer n.Close()
			mon.SetNotifier(n)
		}
	}

	if reload != nil {
		go reloadOnHangup(ctx, mon, cfg.Monitor.RunsDir, reload)
	}

	mon.Start(ctx)

	if serverDone != nil {
		<-serverDone
	}
	return nil
}

// reloadOnHangup re-reads the config on SIGHUP and hands the monitor the
// new timings. A bad config is logged and the current one kept.
func reloadOnHangup(ctx context.Context, mon *monitor.Monitor, runsDir string, reload func() (*config.Config, error)) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := reload()
			if err != nil {
				log.Printf("[config] reload failed, keeping current config: %v", err)
				continue
			}
			if cfg.Monitor.RunsDir != runsDir {
				log.Printf("[config] runs dir change to %s ignored until restart", cfg.Monitor.RunsDir)
			}
			mon.SetConfig(cfg)
			log.Printf("[config] reloaded (poll=%s summary=%s)", cfg.Monitor.PollInterval, cfg.Monitor.SummaryInterval)
		}
	}
}
