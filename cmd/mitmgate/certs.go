package main

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mitmgate-hq/mitmgate/pkg/cli"
	"mitmgate-hq/mitmgate/pkg/mitm"
)

func newCertsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Inspect the interception certificate",
		Long: `Inspect the certificate presented to clients inside intercepted CONNECT
tunnels. The pair is provisioned outside mitmgate; clients must trust its
issuer.`,
	}
	cmd.AddCommand(newCertsInfoCmd(opts))
	return cmd
}

func newCertsInfoCmd(opts *rootOptions) *cobra.Command {
	var flags struct {
		cert   string
		key    string
		format string
	}

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Display certificate details",
		Long: `Display the subject, issuer, validity and alternative names of the
interception certificate. The pair defaults to mitm.cert_file and
mitm.key_file from the configuration. Expired certificates are shown too.

Examples:
  mitmgate certs info
  mitmgate certs info --cert ca.pem --key ca-key.pem --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := cli.NewFormatter(cli.OutputFormat(flags.format))
			if err != nil {
				return err
			}
			certFile, keyFile := flags.cert, flags.key
			if certFile == "" {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				certFile, keyFile = cfg.MITM.CertFile, cfg.MITM.KeyFile
			}
			if certFile == "" {
				return errors.New("no certificate configured: set mitm.cert_file or pass --cert")
			}

			info, err := mitm.LoadCertificateInfo(certFile, keyFile)
			if err != nil {
				return cli.NewCommandError("certs info", err)
			}
			if _, ok := formatter.(*cli.JSONFormatter); ok {
				return formatter.FormatTo(cmd.OutOrStdout(), info)
			}
			return formatter.FormatTo(cmd.OutOrStdout(), certTable{info: info, now: time.Now()})
		},
	}

	cmd.Flags().StringVar(&flags.cert, "cert", "", "certificate file (PEM)")
	cmd.Flags().StringVar(&flags.key, "key", "", "private key file (PEM)")
	cmd.Flags().StringVar(&flags.format, "format", "text", "output format: text, json, csv")
	cmd.MarkFlagsRequiredTogether("cert", "key")
	return cmd
}

// certTable lists certificate fields one per row.
type certTable struct {
	info *mitm.CertificateInfo
	now  time.Time
}

func (t certTable) Header() []string { return []string{"FIELD", "VALUE"} }

func (t certTable) Rows() [][]string {
	status := "valid"
	switch {
	case t.now.Before(t.info.NotBefore):
		status = "not yet valid"
	case t.now.After(t.info.NotAfter):
		status = "expired"
	}
	return [][]string{
		{"Subject", t.info.Subject},
		{"Issuer", t.info.Issuer},
		{"Serial", t.info.SerialNumber},
		{"Not Before", t.info.NotBefore.UTC().Format(time.RFC3339)},
		{"Not After", t.info.NotAfter.UTC().Format(time.RFC3339)},
		{"Status", status},
		{"DNS Names", strings.Join(t.info.DNSNames, ", ")},
		{"IP Addresses", strings.Join(t.info.IPAddresses, ", ")},
		{"CA", strconv.FormatBool(t.info.IsCA)},
	}
}
