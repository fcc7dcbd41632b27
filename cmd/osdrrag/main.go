// Command osdrrag is the entry point for semantic search and summarization
// over space biology papers from a local CSV and the NASA OSDR catalog.
// It provides a CLI interface (via Cobra) and an HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/osdr-rag-go/cmd/osdrrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
