// Command astra is the terminal client of the Astra assistant: it streams
// replies from the backend, plays their audio and animates the avatar rig.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	version = "dev"
)

type flags struct {
	configPath  string
	url         string
	modelPath   string
	headless    bool
	metricsAddr string
	logLevel    string
}

func main() {
	var f flags

	rootCmd := &cobra.Command{
		Use:   "astra",
		Short: "Astra - talk to the assistant through its avatar",
		Long: `Astra connects to the assistant backend, shows the conversation in the
terminal, plays spoken replies and drives the avatar rig in time with them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}

	rootCmd.Flags().StringVarP(&f.configPath, "config", "c", "", "config file (default ~/.astra/config.yaml)")
	rootCmd.Flags().StringVar(&f.url, "url", "", "backend websocket URL")
	rootCmd.Flags().StringVar(&f.modelPath, "model", "", "glTF/VRM avatar model")
	rootCmd.Flags().BoolVar(&f.headless, "headless", false, "log instead of drawing the terminal UI, read messages from stdin")
	rootCmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
