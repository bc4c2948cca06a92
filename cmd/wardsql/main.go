// Package main is the wardsql command-line entry point.
package main

import (
	"os"

	"github.com/leapstack-labs/wardsql/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
