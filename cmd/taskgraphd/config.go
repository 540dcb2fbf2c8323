package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/glyphcore/taskgraph/config"
)

// newConfigCommand prints the service's default configuration as TOML,
// grounded on ctl.ConfigCommand.Run's marshal-and-print behavior.
func newConfigCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the default configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := config.Marshal(config.NewConfig())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(stdout, string(buf))
			return err
		},
	}
}
