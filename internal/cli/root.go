// Package cli implements the controlplane binary's cobra command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "controlplane",
	Short: "Relay control plane: auth, share authorization, and relay-token issuance",
	Long: `controlplane is the trust root of a self-hosted collaborative document
platform: authentication and session lifecycle, share authorization, signed
relay-capability issuance, and webhook event fanout.

Start the server:
  controlplane serve

Create the first admin account:
  controlplane admin create-user admin@example.com <password>`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./controlplane.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func setupLogging() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// Version returns the controlplane version string.
func Version() string {
	return fmt.Sprintf("controlplane version %s", "0.1.0-dev")
}
