// Package cli renders command results for the heelix CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/stritefax/heelixchat/internal/models"
	"github.com/stritefax/heelixchat/internal/similarity"
	"github.com/stritefax/heelixchat/internal/storage"
	"github.com/stritefax/heelixchat/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// FormatFor returns OutputJSON when asJSON is set.
func FormatFor(asJSON bool) OutputFormat {
	if asJSON {
		return OutputJSON
	}
	return OutputText
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(response.Hits), response.QueryTime)
	for i, hit := range response.Hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		if hit.Source == models.SourceSemantic {
			fmt.Fprintf(w, "%d. [%s] ID: %d | Distance: %.4f\n", i+1, hit.Source, hit.ID, hit.Distance)
		} else {
			fmt.Fprintf(w, "%d. [%s] ID: %d | Score: %.4f\n", i+1, hit.Source, hit.ID, hit.Score)
		}
		if hit.Title != "" {
			fmt.Fprintf(w, "Title: %s\n", hit.Title)
		}
		if hit.Snippet != "" {
			fmt.Fprintf(w, "\n%s\n", hit.Snippet)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteContext writes assembled context. Text output is the context itself, ready to paste
// into a prompt.
func WriteContext(w io.Writer, response *models.ContextResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	_, err := io.WriteString(w, response.Context)
	return err
}

// Status is what the status command reports.
type Status struct {
	Documents      int64                    `json:"documents"`
	Index          similarity.Stats         `json:"index"`
	Store          storage.DiskUsage        `json:"store"`
	Snapshot       similarity.SnapshotUsage `json:"snapshot"`
	DiskUsageBytes int64                    `json:"disk_usage_bytes"`
}

// WriteStatus writes the index status.
func WriteStatus(w io.Writer, st *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Documents:   %d\n", st.Documents)
	fmt.Fprintf(w, "Collection:  %s\n", st.Index.Collection)
	fmt.Fprintf(w, "Index:       %s, %d nodes, dimension %d\n", st.Index.Type, st.Index.Nodes, st.Index.Dimension)
	fmt.Fprintf(w, "Worker:      %s\n", st.Index.State)
	fmt.Fprintf(w, "Disk usage:  %s\n", HumanBytes(st.DiskUsageBytes))
	fmt.Fprintf(w, "  database %s, keyword index %s, snapshot %s", HumanBytes(st.Store.Database), HumanBytes(st.Store.KeywordIndex), HumanBytes(st.Snapshot.Canonical))
	if pending := st.Snapshot.Staged + st.Snapshot.Temporary; pending > 0 {
		fmt.Fprintf(w, " (+%s unpromoted)", HumanBytes(pending))
	}
	fmt.Fprintln(w)
	return nil
}

// HumanBytes formats n with a binary unit suffix.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Preview returns the first maxLen characters of s for one-line confirmations.
func Preview(s string, maxLen int) string {
	return utils.Truncate(s, maxLen)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
