package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferd-ai/inferd/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:     "inferd",
	Short:   "Run the Inferd inference gateway",
	Long:    "Inferd serves fine-tuned model variants behind an OpenAI-compatible API, with version pinning, adapter composition, and memory-aware model caching.",
	Version: fmt.Sprintf("gitVersion=%s, gitCommit=%s", version.GitVersion, version.GitCommit),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCommand())
}
