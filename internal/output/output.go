// Package output renders gateway results for the CLI.
package output

import (
	"fmt"
	"strings"

	"github.com/nexusadvisory/llmgate/internal/ailink"
	"github.com/nexusadvisory/llmgate/internal/ailink/prompt"
	"github.com/nexusadvisory/llmgate/internal/store"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// Formatter renders command results.
type Formatter interface {
	FormatGeneration(result *ailink.GenerationResult) (string, error)
	FormatProbe(results []ailink.ProbeResult) (string, error)
	FormatQuotas(entries []store.QuotaEntry) (string, error)
	FormatStatus(snapshot ailink.DispatchSnapshot) (string, error)
	FormatPrompts(prompts []*prompt.Prompt) (string, error)
}

// ParseFormat validates and normalizes a format string. Text is an alias of
// table; both print generated text bare.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatText):
		return FormatText, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// generationText is the bare rendering shared by table and markdown output:
// the text, or the record re-indented.
func generationText(result *ailink.GenerationResult) (string, error) {
	if result == nil {
		return "", nil
	}
	if len(result.Record) == 0 {
		return result.Text, nil
	}
	return indentJSON(result.Record)
}

func probeStatus(r ailink.ProbeResult) string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.OK:
		return "ok"
	default:
		return "failed"
	}
}

func probeDetail(r ailink.ProbeResult) string {
	if r.OK {
		return truncate(r.Reply, 40)
	}
	if r.Kind != "" {
		return fmt.Sprintf("%s: %s", r.Kind, truncate(r.Error, 60))
	}
	return truncate(r.Error, 60)
}

func probeSummary(results []ailink.ProbeResult) string {
	healthy := 0
	for _, r := range results {
		if r.OK {
			healthy++
		}
	}
	return fmt.Sprintf("%d/%d healthy", healthy, len(results))
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
