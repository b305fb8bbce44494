// Package clicmd provides the dataview-cli command-line interface: one
// subcommand tree per operational concern, each talking to a running
// dataview-server's HTTP ops surface (internal/httpserver).
package clicmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverAddr string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:           "dataview-cli",
	Short:         "Operator CLI for a dataview-server instance",
	Long:          `dataview-cli inspects and manages a running dataview-server over its HTTP ops surface: cache stats, dead-letter jobs, and observer/coordinator status.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI application.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:5433", "dataview-server ops address")
}
