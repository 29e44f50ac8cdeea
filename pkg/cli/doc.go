/*
Package cli holds helpers shared by the mitmgate commands.

Output formatting renders command results as text, JSON or CSV. Results
implementing Table are rendered as aligned columns in text mode and as
rows in CSV mode:

	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	return formatter.FormatTo(cmd.OutOrStdout(), flows)

SignalContext returns a context cancelled on SIGINT or SIGTERM.
*/
package cli
