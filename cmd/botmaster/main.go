// Package main is the entry point for the botmaster API server.
package main

import (
	"os"

	"botmaster/cmd/botmaster/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
