package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mitmgate-hq/mitmgate/pkg/config"
	"mitmgate-hq/mitmgate/pkg/mitm"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load the configuration file with environment overrides applied and report
every invalid field. When interception is configured the certificate pair is
loaded and checked for expiry as well.

Examples:
  mitmgate validate --config /etc/mitmgate/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := opts.loadConfig()
			if err != nil {
				var verr config.ValidationError
				if errors.As(err, &verr) {
					for _, fe := range verr.Errors {
						fmt.Fprintf(out, "✗ %s\n", fe.Error())
					}
				}
				return err
			}
			if cfg.MITM.CertFile != "" {
				p, err := mitm.NewFileContextProvider(cfg.MITM.CertFile, cfg.MITM.KeyFile)
				if err != nil {
					return fmt.Errorf("interception certificate: %w", err)
				}
				fmt.Fprintf(out, "✓ Certificate valid until %s\n", p.Certificate().NotAfter.Format("2006-01-02"))
			}
			fmt.Fprintln(out, "✓ Configuration valid")
			return nil
		},
	}
}
