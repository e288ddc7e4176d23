package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "collabd",
		Short: "Real-time collaboration backend for editor clients",
		Long: `collabd is the session and message-routing daemon behind a
collaborative IDE. Editor clients connect over WebSocket, authenticate,
join workspace rooms, and exchange typed JSON messages:

  • cursor, selection, and document change broadcast
  • sandboxed file operations in the workspace
  • static and local process deployments
  • terminal relay and server metrics`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
