// Package main provides the entry point for the datafuse CLI.
package main

import (
	"fmt"
	"os"

	"github.com/raphaelgruber/datafuse-go/internal/cli"

	// Enables the model-comparison backend.
	_ "github.com/raphaelgruber/datafuse-go/internal/fusion/automl"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
