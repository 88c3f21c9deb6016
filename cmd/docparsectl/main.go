// Package main is the operator CLI for the document-parse tracker.
package main

import "docparse-tracker/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
