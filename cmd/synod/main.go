// Package main is the entry point for the synod CLI.
package main

import (
	"os"

	"github.com/synod/synod/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
