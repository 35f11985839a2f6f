// Command extrunner loads extensions from a CDN and runs their wasm modules
// under the wazero host.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "extrunner",
		Short: "Run isolated extension modules",
		Long: `extrunner hosts untrusted extension modules in isolated wasm contexts.

Each module talks to the host over an authenticated message channel: the host
hands it a meta envelope, waits for ready, then exchanges operations and state.
Extensions and the files to launch from them are listed in the config file.`,
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (.yaml, .yml or .toml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: quiet, info, verbose, warn (overrides config)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format: text or json (overrides config)")

	root.AddCommand(
		newRunCmd(flags),
		newSchemaCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
