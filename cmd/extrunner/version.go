package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reglet-dev/extrunner"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the extrunner and protocol versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "extrunner %s (protocol %d)\n", extrunner.Version, extrunner.ProtocolVersion)
			return err
		},
	}
}
