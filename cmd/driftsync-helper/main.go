// Package main provides the driftsync-helper binary that runs on the
// remote host. It walks the remote root and streams one JSON event per
// line on stdout: records, throttled progress, path-scoped errors, and
// a final done event with counters. stdout carries the protocol
// exclusively; diagnostics go to stderr.
package main

import (
	"os"

	"github.com/driftsync/driftsync/cmd/driftsync-helper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
