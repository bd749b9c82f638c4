package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "heelix",
		Short:         "Similarity search over captured activity text",
		Long:          `Indexes captured text in an embedded HNSW index and assembles retrieval context for chat prompts.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	addPersistentFlags(rootCmd)
	rootCmd.AddCommand(
		NewServeCmd(),
		NewAddCmd(),
		NewQueryCmd(),
		NewContextCmd(),
		NewSyncCmd(),
		NewStatusCmd(),
		NewReindexCmd(),
		NewVersionCmd(version),
	)
	return rootCmd
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "Config file path (default ./config.yaml, then ~/.heelix/config.yaml)")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().String("api-key", "", "Embedding provider credential (overrides config and OPENAI_API_KEY)")
}

func NewVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "heelix version %s\n", version)
		},
	}
}
