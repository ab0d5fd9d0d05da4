package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/platinummonkey/gatekeeper/pkg/cli"
)

func main() {
	_ = godotenv.Load()

	// Create root command
	rootCmd := cli.NewRootCommand()

	// Execute command
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
