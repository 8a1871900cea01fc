// Package main is the entry point for the drift application.
package main

import (
	"os"

	"github.com/driftserve/drift/cmd/drift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
