package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stritefax/heelixchat/internal/cli"
	"github.com/stritefax/heelixchat/internal/models"
)

func NewAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id> [text|@file]",
		Short: "Store a document and add it to the index",
		Long: `Store a document under a numeric id and add its embedding to the similarity index.
The text is taken from the argument, from a file when prefixed with @, or from stdin.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runAdd,
	}
	cmd.Flags().StringP("title", "t", "", "Document title")
	return cmd
}

func runAdd(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid document id %q: must be a positive integer", args[0])
	}
	content, err := resolveAddContent(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	title, _ := cmd.Flags().GetString("title")

	return run(cmd, func(a *app) error {
		doc, err := a.engine.Index(cmd.Context(), &models.DocumentInput{ID: id, Title: title, Content: content}, a.credential)
		if err != nil {
			return fmt.Errorf("add document: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added document %d: %s\n", doc.ID, cli.Preview(doc.Content, 60))
		return nil
	})
}

func resolveAddContent(args []string, stdin io.Reader) (string, error) {
	var text string
	switch {
	case len(args) < 2:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	case strings.HasPrefix(args[1], "@"):
		data, err := os.ReadFile(strings.TrimPrefix(args[1], "@"))
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		text = string(data)
	default:
		text = args[1]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("document text is empty")
	}
	return text, nil
}
