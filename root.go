package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/docsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// CLIFlags is a snapshot of the persistent flags for one invocation.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Debug      bool
	Quiet      bool
}

// CLIContext carries the resolved config and logger to subcommands. It is
// built by PersistentPreRunE and stored in the command's context.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Config
	Logger *slog.Logger

	closeLog func()
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. Commands
// only run after it, so a missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("docsync: command run without CLI context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docsync",
		Short: "Export knowledge-base documents into search indexes",
		Long: `Walk configured folders of a knowledge-base service, render documents and
spreadsheets through its export service, and push the results into a
document index. A local ledger makes repeated runs incremental.`,
		Version: version,
		// Errors are printed by main with the right exit code.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok && cc.closeLog != nil {
				cc.closeLog()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show informational logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors")
	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newPruneCmd())

	return cmd
}

func currentFlags() CLIFlags {
	return CLIFlags{
		ConfigPath: flagConfigPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Debug:      flagDebug,
		Quiet:      flagQuiet,
	}
}

// loadCLIContext resolves configuration through the four-layer override
// chain and builds the run logger.
func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	flags := currentFlags()

	cfg, err := loadConfig(cmd, flags, bootstrapLogger(flags))
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := buildLogger(cfg, flags)
	if err != nil {
		return nil, err
	}

	return &CLIContext{Flags: flags, Cfg: cfg, Logger: logger, closeLog: closeLog}, nil
}

// loadConfig applies subcommand flags (--root, --mode, --min-ts) as CLI
// overrides when the command defines and sets them.
func loadConfig(cmd *cobra.Command, flags CLIFlags, logger *slog.Logger) (*config.Config, error) {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if f := cmd.Flags().Lookup("root"); f != nil && f.Changed {
		roots, err := cmd.Flags().GetStringSlice("root")
		if err != nil {
			return nil, err
		}

		cli.Roots = roots
	}

	if f := cmd.Flags().Lookup("mode"); f != nil && f.Changed {
		mode := f.Value.String()
		cli.Mode = &mode
	}

	if f := cmd.Flags().Lookup("min-ts"); f != nil && f.Changed {
		ts, err := cmd.Flags().GetInt64("min-ts")
		if err != nil {
			return nil, err
		}

		cli.MinUpdated = &ts
	}

	cfg, err := config.Resolve(config.ReadEnvOverrides(logger), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, nil
}

// newHTTPClient returns a client with the configured dial and overall
// request timeouts.
func newHTTPClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout(), KeepAlive: 30 * time.Second}).DialContext

	return &http.Client{Transport: transport, Timeout: cfg.DataTimeout()}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error, code int) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(code)
}
