package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/onesided/internal/runtime"
	configpkg "github.com/drblury/onesided/internal/runtime/config"
	loggingpkg "github.com/drblury/onesided/internal/runtime/logging"
)

type runOptions struct {
	envFiles  []string
	transport string
	discovery string
	ranks     int
	rank      int
	scenarios []string
	logLevel  string
	timeout   time.Duration
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run exchange scenarios",
	Long: `Run exchange scenarios on every rank of a world. With --rank -1 all ranks ` +
		`run as goroutines of this process, which the channel transport requires. ` +
		`Otherwise start one process per rank with the same world name.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		conf, err := buildRunConfig(cmd, runOpts)
		if err != nil {
			return err
		}
		return runWorld(cmd.Context(), conf, runOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&runOpts.envFiles, "env", nil, ".env files to load before reading ONESIDED_* variables")
	f.StringVarP(&runOpts.transport, "transport", "t", "", "pub/sub transport (default from ONESIDED_PUBSUB_SYSTEM or channel)")
	f.StringVarP(&runOpts.discovery, "discovery", "d", "", "discovery strategy: remote-get or broadcast")
	f.IntVarP(&runOpts.ranks, "ranks", "n", 0, "world size (default from ONESIDED_SIZE or 3)")
	f.IntVarP(&runOpts.rank, "rank", "r", -1, "rank of this process; -1 runs every rank in-process")
	f.StringSliceVarP(&runOpts.scenarios, "scenario", "s", []string{"all"}, "scenarios to run: "+fmt.Sprint(scenarioNames())+" or all")
	f.StringVar(&runOpts.logLevel, "log-level", "", "trace, debug, info, warn or error")
	f.DurationVar(&runOpts.timeout, "timeout", 2*time.Minute, "overall deadline")
	rootCmd.AddCommand(runCmd)
}

// buildRunConfig reads the environment and applies the flags that were set.
func buildRunConfig(cmd *cobra.Command, opts runOptions) (configpkg.Config, error) {
	conf, err := configpkg.FromEnv(opts.envFiles...)
	if err != nil {
		return conf, err
	}
	flags := cmd.Flags()
	if flags.Changed("transport") {
		conf.PubSubSystem = opts.transport
	}
	if flags.Changed("discovery") {
		conf.Discovery = opts.discovery
	}
	if flags.Changed("ranks") {
		conf.Size = opts.ranks
	}
	if flags.Changed("log-level") {
		conf.LogLevel = opts.logLevel
	}
	if conf.Size == 0 {
		conf.Size = 3
	}
	if conf.World == "" {
		conf.World = "onesided_" + xid.New().String()
	}
	if conf.LogLevel == "" {
		conf.LogLevel = "warn"
	}
	return conf.WithDefaults(), nil
}

// syncWriter serializes the report lines of concurrent ranks.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func runWorld(ctx context.Context, conf configpkg.Config, opts runOptions, out, logOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	selected, err := selectScenarios(opts.scenarios, conf.Size)
	if err != nil {
		return err
	}
	level, err := loggingpkg.ParseLevel(conf.LogLevel)
	if err != nil {
		return err
	}
	log := loggingpkg.NewSlogServiceLogger(loggingpkg.NewTextLogger(logOut, level))
	w := &syncWriter{w: out}

	if opts.rank >= 0 {
		conf.Rank = opts.rank
		return runRank(ctx, conf, log, selected, w)
	}

	errs := make([]error, conf.Size)
	var wg sync.WaitGroup
	for rank := 0; rank < conf.Size; rank++ {
		c := conf
		c.Rank = rank
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = runRank(ctx, c, log, selected, w)
		}(rank)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func runRank(ctx context.Context, conf configpkg.Config, log loggingpkg.ServiceLogger, selected []scenario, out io.Writer) error {
	h := newRankHandlers()
	m, err := runtimepkg.NewMessenger(ctx, &conf, log, runtimepkg.MessengerDependencies{Registry: h.reg})
	if err != nil {
		return fmt.Errorf("rank %d: %w", conf.Rank, err)
	}
	defer m.Close()

	for _, s := range selected {
		if err := s.run(ctx, m, h, out); err != nil {
			return fmt.Errorf("rank %d: %s: %w", conf.Rank, s.name, err)
		}
	}
	return nil
}
