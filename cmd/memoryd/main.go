// Command memoryd is the composition root for the long-term memory
// service: it wires configuration through the vector and graph store
// adapters, the embedding pipeline, the sync manager, and the memory
// manager/query engine/normalizer, then exposes them through a small
// cobra CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var debug bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "Long-term memory service for coding assistants",
	Long: `memoryd stores, links, and retrieves structured memories about a
codebase — requirements, designs, code patterns, components, functions,
test history, sessions, and user preferences — across a vector store and
a graph store kept in sync by a background reconciler.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable development-mode logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(indexCmd)
}
