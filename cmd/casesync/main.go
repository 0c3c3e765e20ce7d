package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	logAdapter "github.com/bft-labs/casesync/internal/adapters/log"
	"github.com/bft-labs/casesync/internal/cliconfig"
	"github.com/bft-labs/casesync/pkg/casesync"
	"github.com/bft-labs/casesync/plugins/configwatcher"
)

const helpDescription = `
Record learner activity from the case simulator in a local ledger and sync
it to the remote telemetry store whenever the store is reachable.

Highlights:
  - Sessions, case attempts and actions are written locally first, so play never waits on the network.
  - Sync runs in dependency order and retries failures with capped backoff.
  - Configure via file, env (CASESYNC_*), or flags; the [retry] table reloads live.
  - Optional local status API with Prometheus metrics (--status-addr).
`

var longHelp = strings.TrimSpace(helpDescription)

var exampleUsage = strings.TrimSpace(`
  casesync --service-url https://telemetry.example.com --auth-key <key>
  casesync --config $HOME/.casesync/config.toml --status-addr 127.0.0.1:9464
  casesync --once
  casesync status
  casesync stats alice --remote
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// cli carries the configuration shared by the root command and its
// subcommands.
type cli struct {
	cfg     cliconfig.Config
	cfgPath string
	log     zerolog.Logger
}

func main() {
	c := &cli{
		cfg: cliconfig.DefaultConfig(),
		log: cliconfig.Logger(),
	}

	root := newRootCmd(c)
	if err := root.Execute(); err != nil {
		c.log.Error().Err(err).Msg("casesync")
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "casesync",
		Short:         "Offline-first learner telemetry sync for the case simulator",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.load(cmd); err != nil {
				return err
			}
			return c.run()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&c.cfgPath, "config", "", "path to config file (default: $HOME/.casesync/config.toml)")
	f.StringVar(&c.cfg.DBPath, "db", c.cfg.DBPath, "ledger database file (default: $HOME/.casesync/ledger.db)")
	f.StringVar(&c.cfg.ServiceURL, "service-url", c.cfg.ServiceURL, "base URL of the remote telemetry store")
	f.StringVar(&c.cfg.AuthKey, "auth-key", c.cfg.AuthKey, "API key for the remote store")
	f.DurationVar(&c.cfg.HTTPTimeout, "timeout", c.cfg.HTTPTimeout, "timeout for each remote call")
	f.StringVar(&c.cfg.LogFile, "log-file", c.cfg.LogFile, "also write JSON logs to this file (rotated)")
	f.StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "log level (debug, info, warn, error)")

	flags := root.Flags()
	flags.DurationVar(&c.cfg.PollInterval, "poll", c.cfg.PollInterval, "sync interval while online")
	flags.DurationVar(&c.cfg.ProbeInterval, "probe-interval", c.cfg.ProbeInterval, "reachability probe interval")
	flags.StringVar(&c.cfg.ProbeURL, "probe-url", c.cfg.ProbeURL, "URL probed for reachability (defaults to service URL)")
	if err := flags.MarkHidden("probe-url"); err != nil {
		c.log.Info().Err(err).Msg("failed to hide probe-url flag")
	}
	flags.IntVar(&c.cfg.RetryMaxAttempts, "retry-max-attempts", c.cfg.RetryMaxAttempts, "failed attempts before a record waits for requeue (0 disables automatic retry)")
	flags.DurationVar(&c.cfg.RetryBaseDelay, "retry-base-delay", c.cfg.RetryBaseDelay, "delay before the first retry")
	flags.DurationVar(&c.cfg.RetryMaxDelay, "retry-max-delay", c.cfg.RetryMaxDelay, "cap on the retry delay")
	flags.StringVar(&c.cfg.StatusAddr, "status-addr", c.cfg.StatusAddr, "serve the status API on this address")
	flags.BoolVar(&c.cfg.Once, "once", c.cfg.Once, "run one sync pass and exit")

	root.AddCommand(
		newSyncCmd(c),
		newStatusCmd(c),
		newStatsCmd(c),
		newHistoryCmd(c),
		newRequeueCmd(c),
		newWipeCmd(c),
	)
	return root
}

// load layers the configuration: defaults, then the config file, then
// CASESYNC_* variables, then flags set on the command line.
func (c *cli) load(cmd *cobra.Command) error {
	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&c.cfg, fc, changed); err != nil {
			return err
		}
		c.cfgPath = cfgFile
	} else if c.cfgPath != "" {
		return fmt.Errorf("config file %s not found", c.cfgPath)
	}

	if err := cliconfig.ApplyEnvConfig(&c.cfg, changed); err != nil {
		return err
	}
	return c.cfg.Validate()
}

func (c *cli) libConfig() casesync.Config {
	return casesync.Config{
		DBPath:        c.cfg.DBPath,
		ServiceURL:    c.cfg.ServiceURL,
		AuthKey:       c.cfg.AuthKey,
		PollInterval:  c.cfg.PollInterval,
		ProbeInterval: c.cfg.ProbeInterval,
		ProbeURL:      c.cfg.ProbeURL,
		HTTPTimeout:   c.cfg.HTTPTimeout,
		Retry:         c.cfg.RetryPolicy(),
		StatusAddr:    c.cfg.StatusAddr,
		ConfigPath:    c.cfgPath,
	}
}

// open builds an agent for one-shot commands. The caller closes it.
func (c *cli) open(opts ...casesync.Option) (*casesync.Agent, func(), error) {
	log, closer := cliconfig.NewLogger(c.cfg)
	c.log = log

	opts = append([]casesync.Option{casesync.WithLogger(logAdapter.NewZerologAdapterWithLogger(log))}, opts...)
	agent, err := casesync.New(c.libConfig(), opts...)
	if err != nil {
		_ = closer.Close()
		return nil, nil, fmt.Errorf("open agent: %w", err)
	}
	return agent, func() {
		if err := agent.Close(); err != nil {
			log.Error().Err(err).Msg("close agent")
		}
		_ = closer.Close()
	}, nil
}

func (c *cli) run() error {
	agent, done, err := c.open(
		casesync.WithMetrics(""),
		configwatcher.WithDefaultConfigWatcher(),
	)
	if err != nil {
		return err
	}
	defer done()

	c.log.Info().Interface("config", c.cfg.Redacted()).Msg("configuration")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.cfg.Once {
		res, err := agent.SyncNow(ctx)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		c.logPass(res)
		return nil
	}

	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("start casesync: %w", err)
	}

	// Poll for a crash so the process exits instead of idling.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("received signal, stopping...")
			break wait
		case <-ticker.C:
			if agent.Status() == casesync.StateCrashed {
				c.log.Error().Msg("casesync crashed")
				break wait
			}
		}
	}

	if err := agent.Stop(); err != nil && !errors.Is(err, casesync.ErrNotRunning) {
		return fmt.Errorf("stop casesync: %w", err)
	}
	return nil
}

func (c *cli) logPass(res casesync.PassResult) {
	ev := c.log.Info().Dur("duration", res.Duration).Int("requeued", res.Requeued)
	for _, k := range casesync.Kinds() {
		if t, ok := res.Tiers[k]; ok {
			ev = ev.Dict(string(k), zerolog.Dict().
				Int("synced", t.Synced).
				Int("failed", t.Failed).
				Int("deferred", t.Deferred))
		}
	}
	ev.Msg("sync pass complete")
}
