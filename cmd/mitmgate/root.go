package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mitmgate-hq/mitmgate/pkg/app"
	"mitmgate-hq/mitmgate/pkg/config"
	"mitmgate-hq/mitmgate/pkg/workdir"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	cfgFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "mitmgate",
		Short: "mitmgate - intercepting HTTP proxy",
		Long: `mitmgate is an intercepting HTTP proxy with a programmable request pipeline.

Plain HTTP requests and, when a certificate is configured, decrypted HTTPS
CONNECT tunnels pass through an ordered chain of middlewares:
  - Request IDs, structured logging and tracing
  - Host blocklists
  - Prometheus metrics and a SQLite flow journal
  - Forwarding to the origin server`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "config.yaml", "config file path")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newCertsCmd(opts),
		newJournalCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// loadConfig reads the config file, which may be missing, and applies
// MITMGATE_* environment overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(o.cfgFile)
	if err != nil {
		return nil, err
	}
	if o.verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// resolveDirs returns the log and tmp directories for cfg. Unset and
// relative paths live under the root path.
func resolveDirs(cfg *config.Config) workdir.Dirs {
	root := cfg.Paths.Root
	if root == "" {
		root = app.RootPath()
	}
	under := func(dir, def string) string {
		switch {
		case dir == "":
			return filepath.Join(root, def)
		case filepath.IsAbs(dir):
			return dir
		default:
			return filepath.Join(root, dir)
		}
	}
	return workdir.Dirs{
		Log: under(cfg.Paths.LogDir, config.DefaultLogSubdir),
		Tmp: under(cfg.Paths.TmpDir, config.DefaultTmpSubdir),
	}
}
