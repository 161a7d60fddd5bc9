// Package main is the entry point for the croft CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "croft: %v\n", err)
		os.Exit(1)
	}
}
