package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	logs "github.com/danmuck/groupwire/internal/logging"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gwclient: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath, logLevel string
	root := &cobra.Command{
		Use:   "gwclient",
		Short: "GroupWise messenger client",
		Long: `gwclient signs in to a GroupWise messenger server, prints incoming
messages and presence changes, and sends instant messages.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return logs.ConfigureCLI(logLevel)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "groupwire.toml", "client config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides "+logs.EnvLogLevel+")")

	root.AddCommand(
		runCmd(&configPath),
		sendCmd(&configPath),
		configCmd(&configPath),
		peerCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gwclient %s (%s)\n", version, commit)
			fmt.Fprintf(out, "go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
