// Package main provides the entry point for the driftsync CLI.
package main

import (
	"os"

	"github.com/driftsync/driftsync/cmd/driftsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
