package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stritefax/heelixchat/internal/cli"
	"github.com/stritefax/heelixchat/internal/models"
)

func NewQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Find the documents nearest to a text",
		Long:  `Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.`,
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}
	cmd.Flags().IntP("k", "k", models.DefaultK, "Number of nearest documents (1-10)")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	k, _ := cmd.Flags().GetInt("k")
	query := &models.SearchQuery{Query: strings.Join(args, " "), K: k}
	return run(cmd, func(a *app) error {
		resp, err := a.engine.Search(cmd.Context(), query, a.credential)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		return cli.WriteSearchResults(cmd.OutOrStdout(), resp, a.format)
	})
}

func NewContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context <text>",
		Short: "Assemble retrieval context for a chat prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runContext,
	}
	cmd.Flags().IntP("k", "k", 0, "Number of nearest documents (default from config)")
	cmd.Flags().Int("keyword", 0, "Number of extra keyword candidates (default from config)")
	cmd.Flags().Int("max-chars", 0, "Characters kept per document (5000-10000, default from config)")
	return cmd
}

func runContext(cmd *cobra.Command, args []string) error {
	k, _ := cmd.Flags().GetInt("k")
	kw, _ := cmd.Flags().GetInt("keyword")
	maxChars, _ := cmd.Flags().GetInt("max-chars")
	query := &models.ContextQuery{Query: strings.Join(args, " "), K: k, KeywordCandidates: kw, MaxChars: maxChars}
	return run(cmd, func(a *app) error {
		resp, err := a.engine.Context(cmd.Context(), query, a.credential)
		if err != nil {
			return fmt.Errorf("context: %w", err)
		}
		return cli.WriteContext(cmd.OutOrStdout(), resp, a.format)
	})
}
