package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yuya-takeyama/parallel-sync/internal/config"
	"github.com/yuya-takeyama/parallel-sync/pkg/credential"
	"github.com/yuya-takeyama/parallel-sync/pkg/executor"
	"github.com/yuya-takeyama/parallel-sync/pkg/logger"
	"github.com/yuya-takeyama/parallel-sync/pkg/transfer"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

// flags holds every persistent flag. Values from the config file fill the
// ones not given on the command line.
type flags struct {
	configFile    string
	host          string
	user          string
	port          int
	key           string
	timeout       time.Duration
	tries         int
	parallelism   int
	include       string
	excludes      []string
	extract       bool
	validate      bool
	transportArgs []string
	debug         bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&flags{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(f *flags) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "parallel-sync",
		Short: "Parallel file transfer between hosts over SSH",
		Long: `parallel-sync moves files and directory trees between the local host and a
remote host with many transfers in flight, retrying failed transfers and
optionally validating md5 checksums and extracting archives.`,
		Version:       fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := f.applyConfig(cmd.Flags()); err != nil {
				return err
			}
			level := zerolog.InfoLevel
			if f.debug {
				level = zerolog.DebugLevel
			}
			log := logger.New(os.Stderr, level, isatty.IsTerminal(os.Stderr.Fd()))
			cmd.SetContext(log.WithContext(cmd.Context()))
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.configFile, "config", "", "YAML file with flag defaults (default $"+config.EnvVar+")")
	pf.StringVar(&f.host, "host", "", "Remote host")
	pf.StringVar(&f.user, "user", os.Getenv("USER"), "Remote user")
	pf.IntVar(&f.port, "port", credential.DefaultPort, "Remote SSH port")
	pf.StringVar(&f.key, "key", "", "Private key file")
	pf.DurationVar(&f.timeout, "timeout", credential.DefaultTimeout, "Connection timeout")
	pf.IntVar(&f.tries, "tries", executor.DefaultTries, "Attempts per command")
	pf.IntVar(&f.parallelism, "parallelism", executor.DefaultParallelism, "Commands in flight")
	pf.StringVar(&f.include, "include", "*", "Include files matching this glob")
	pf.StringSliceVar(&f.excludes, "exclude", nil, "Exclude files and directories matching these globs (multiple allowed)")
	pf.BoolVar(&f.extract, "extract", false, "Extract archives after the transfer")
	pf.BoolVar(&f.validate, "validate", false, "Compare md5 checksums after the transfer")
	pf.StringSliceVar(&f.transportArgs, "transport-args", nil, "Extra arguments for rsync or scp")
	pf.BoolVar(&f.debug, "debug", false, "Log every command before it runs")

	rootCmd.AddCommand(
		newUploadCmd(f),
		newDownloadCmd(f),
		newCopyCmd(f),
		newFetchCmd(f),
		newDigestCmd(f),
	)
	return rootCmd
}

// applyConfig copies file values into every flag the user did not set.
func (f *flags) applyConfig(fs *pflag.FlagSet) error {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return err
	}
	unset := func(name string) bool { return !fs.Changed(name) }

	if cfg.Host != "" && unset("host") {
		f.host = cfg.Host
	}
	if cfg.User != "" && unset("user") {
		f.user = cfg.User
	}
	if cfg.Port != 0 && unset("port") {
		f.port = cfg.Port
	}
	if cfg.Key != "" && unset("key") {
		f.key = cfg.Key
	}
	if cfg.Timeout != 0 && unset("timeout") {
		f.timeout = cfg.Timeout
	}
	if cfg.Tries != 0 && unset("tries") {
		f.tries = cfg.Tries
	}
	if cfg.Parallelism != 0 && unset("parallelism") {
		f.parallelism = cfg.Parallelism
	}
	if cfg.Include != "" && unset("include") {
		f.include = cfg.Include
	}
	if cfg.Exclude != nil && unset("exclude") {
		f.excludes = cfg.Exclude
	}
	if cfg.Extract && unset("extract") {
		f.extract = true
	}
	if cfg.Validate && unset("validate") {
		f.validate = true
	}
	if cfg.TransportArgs != nil && unset("transport-args") {
		f.transportArgs = cfg.TransportArgs
	}
	if cfg.Debug && unset("debug") {
		f.debug = true
	}
	return nil
}

func (f *flags) credential() (credential.Credential, error) {
	return credential.New(f.user, f.host,
		credential.WithPort(f.port),
		credential.WithKey(f.key),
		credential.WithTimeout(f.timeout),
	)
}

func (f *flags) options() transfer.Options {
	return transfer.Options{
		Tries:         f.tries,
		Include:       f.include,
		Exclude:       f.excludes,
		Parallelism:   f.parallelism,
		Extract:       f.extract,
		Validate:      f.validate,
		TransportArgs: f.transportArgs,
	}
}
