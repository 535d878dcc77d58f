// Command nlmcp drives NotebookLM through a real browser and exposes it over
// the Model Context Protocol.
package main

import (
	"os"

	"github.com/nlmcp/nlmcp/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
