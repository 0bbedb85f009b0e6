// Package main provides the entry point for the oda-reader CLI.
package main

import (
	"github.com/Sternrassler/oda-reader/internal/cli"
)

func main() {
	cli.Execute()
}
