// Command exthost loads the configured extensions and drives them without an
// editor front end. It is useful for checking a plugins.toml and for running
// extension commands from scripts.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bram-dingelstad/helix/config"
	"github.com/bram-dingelstad/helix/editor"
	"github.com/bram-dingelstad/helix/extension"
	"github.com/bram-dingelstad/helix/host"
	"github.com/bram-dingelstad/helix/platform"
	"github.com/bram-dingelstad/helix/pubsub"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the command tree so tests can drive it.
func run(out io.Writer, args []string) error {
	root := newRootCommand(out)
	root.SetArgs(args)
	root.SetOut(out)
	return root.Execute()
}

type flags struct {
	configPath string
	dir        string
	policy     string
	redisAddr  string
	logLevel   string
	interval   time.Duration
	budget     int
}

func newRootCommand(out io.Writer) *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "exthost",
		Short:         "Load and drive editor extensions",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(*cobra.Command, []string) error {
			level, err := zerolog.ParseLevel(f.logLevel)
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "extension configuration file, .toml or .hcl (default "+platform.ConfigFile()+")")
	pf.StringVar(&f.dir, "dir", "", "directory holding extension libraries (default "+platform.ExtensionDir()+")")
	pf.StringVar(&f.policy, "policy", "fifo", "per-extension callback drain order: fifo or lifo")
	pf.StringVar(&f.redisAddr, "redis", "", "publish lifecycle events to this redis address")
	pf.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the host loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, f)
		},
	}
	runCmd.Flags().DurationVar(&f.interval, "interval", 50*time.Millisecond, "time between host ticks")
	runCmd.Flags().IntVar(&f.budget, "budget", 32, "callbacks applied per tick, 0 for all")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded extensions, their commands and load failures",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return list(out, f)
		},
	}

	execCmd := &cobra.Command{
		Use:   "exec COMMAND [COUNT]",
		Short: "Run one extension command and print the resulting buffer",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			count := 1
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid count %q: %w", args[1], err)
				}
				count = n
			}
			return execute(out, f, args[0], count)
		},
	}

	root.AddCommand(runCmd, listCmd, execCmd)
	return root
}

// source picks the configuration format from the file extension.
func source(path string) config.Source {
	if path == "" {
		path = platform.ConfigFile()
	}
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		return config.NewHCLFile(path)
	}
	return config.NewTOMLFile(path)
}

func parsePolicy(s string) (extension.Policy, error) {
	switch strings.ToLower(s) {
	case "fifo":
		return extension.FIFO, nil
	case "lifo":
		return extension.LIFO, nil
	}
	return 0, fmt.Errorf("unknown policy %q", s)
}

// open builds the registry and, when requested, its event broker.
func open(f *flags) (*extension.Registry, *pubsub.Broker, error) {
	policy, err := parsePolicy(f.policy)
	if err != nil {
		return nil, nil, err
	}

	var brokerOpts []pubsub.BrokerOption
	if f.redisAddr != "" {
		brokerOpts = append(brokerOpts, pubsub.WithRedisClient(redis.NewClient(&redis.Options{Addr: f.redisAddr, ContextTimeoutEnabled: true})))
	}
	broker := pubsub.New(brokerOpts...)

	opts := []extension.Option{extension.WithPolicy(policy), extension.WithBroker(broker)}
	if f.dir != "" {
		opts = append(opts, extension.WithDir(f.dir))
	}
	reg, err := extension.New(source(f.configPath), opts...)
	if err != nil {
		_ = broker.Close()
		return nil, nil, err
	}
	return reg, broker, nil
}

func serve(ctx context.Context, f *flags) error {
	reg, broker, err := open(f)
	if err != nil {
		return err
	}
	defer broker.Close()

	loop := host.New(reg, editor.New(), host.WithInterval(f.interval), host.WithBudget(f.budget))
	if err := loop.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return loop.Stop()
}

func list(out io.Writer, f *flags) error {
	reg, broker, err := open(f)
	if err != nil {
		return err
	}
	defer broker.Close()

	for _, ext := range reg.Extensions() {
		fmt.Fprintf(out, "%s\t%s\t%s\n", ext.Name(), ext.Capabilities(), ext.Path())
	}
	for _, cmd := range reg.ListCommands() {
		fmt.Fprintf(out, "command\t%s\t%s\n", cmd.Name, cmd.Doc)
	}
	for _, fail := range reg.Failures() {
		fmt.Fprintf(out, "failed\t%s\t%s\t%v\n", fail.Name, fail.Stage, fail.Err)
	}
	return reg.DeinitAll(editor.NewContext(editor.New(), 1))
}

func execute(out io.Writer, f *flags, name string, count int) error {
	reg, broker, err := open(f)
	if err != nil {
		return err
	}
	defer broker.Close()

	ed := editor.New()
	loop := host.New(reg, ed, host.WithBudget(0))
	runErr := loop.RunCommand(name, count)
	stopErr := loop.Stop()
	if runErr != nil {
		return runErr
	}
	fmt.Fprint(out, ed.Text())
	return stopErr
}
