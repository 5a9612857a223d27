// Fokal — agentic action engine for photography studio operations.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fokal",
	Short: "Fokal — policy-guarded AI action engine for photography studios.",
	Long: `Fokal turns natural-language studio requests into guarded tool executions.
Every action passes through per-tenant policy resolution; anything risky or
expensive becomes a proposal that waits for explicit human approval before
it runs. The full decision trail lands in an append-only audit log.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, actCmd, approveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
