package main

import (
	"fmt"
	"os"

	"go-pos-ledger/internal/logger"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "pos",
	Short: "POS ledger server",
	Long: `pos runs the point-of-sale backend: checkout, stock, payment
settlement and customer credit over a relational database.

Running it without a subcommand starts the HTTP server.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.WithComponent("cmd").Error().Err(err).Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
