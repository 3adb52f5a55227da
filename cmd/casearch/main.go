// Package main provides the entry point for the casearch CLI.
package main

import (
	"os"

	"github.com/JCHanratty/CASearch/cmd/casearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
