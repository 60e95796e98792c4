package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drblury/onesided/transport"
	_ "github.com/drblury/onesided/transport/transports"
)

var transportsCmd = &cobra.Command{
	Use:   "transports",
	Short: "List the registered transports and their capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listTransports(cmd.OutOrStdout(), transport.DefaultRegistry)
	},
}

func init() {
	rootCmd.AddCommand(transportsCmd)
}

func listTransports(w io.Writer, r *transport.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tIN-PROCESS\tPERSISTENT\tORDERED\tMAX MESSAGE")
	for _, name := range r.Names() {
		caps := r.GetCapabilities(name)
		maxSize := "-"
		if caps.MaxMessageSize > 0 {
			maxSize = fmt.Sprintf("%d", caps.MaxMessageSize)
		}
		fmt.Fprintf(tw, "%s\t%t\t%t\t%t\t%s\n", name, caps.InProcess, caps.SupportsPersistence, caps.SupportsOrdering, maxSize)
	}
	return tw.Flush()
}
