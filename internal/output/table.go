package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/nexusadvisory/llmgate/internal/ailink"
	"github.com/nexusadvisory/llmgate/internal/ailink/prompt"
	"github.com/nexusadvisory/llmgate/internal/store"
)

// TableFormatter renders results as ASCII tables.
type TableFormatter struct{}

func (f *TableFormatter) FormatGeneration(result *ailink.GenerationResult) (string, error) {
	return generationText(result)
}

func (f *TableFormatter) FormatProbe(results []ailink.ProbeResult) (string, error) {
	return probeTable(results).Render(), nil
}

func (f *TableFormatter) FormatQuotas(entries []store.QuotaEntry) (string, error) {
	if len(entries) == 0 {
		return "No quota windows recorded.", nil
	}
	return quotaTable(entries).Render(), nil
}

func (f *TableFormatter) FormatStatus(snapshot ailink.DispatchSnapshot) (string, error) {
	return statusTable(snapshot).Render(), nil
}

func (f *TableFormatter) FormatPrompts(prompts []*prompt.Prompt) (string, error) {
	return promptTable(prompts).Render(), nil
}

func probeTable(results []ailink.ProbeResult) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Endpoint", "Tier", "Status", "Latency", "Detail"})
	for _, r := range results {
		t.AppendRow(table.Row{
			r.Endpoint,
			string(r.Tier),
			probeStatus(r),
			r.Latency.Round(time.Millisecond).String(),
			probeDetail(r),
		})
	}
	t.AppendFooter(table.Row{"", "", probeSummary(results), "", ""})
	// The rounded style upper-cases footers.
	t.Style().Format.Footer = text.FormatDefault
	return t
}

func quotaTable(entries []store.QuotaEntry) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Key", "Used", "Limit", "Remaining", "Window Start", "Resets", "Updated"})
	for _, e := range entries {
		w := e.Window
		t.AppendRow(table.Row{
			e.Key,
			w.Count,
			w.Limit,
			w.Remaining(),
			formatTime(w.WindowStart),
			formatTime(w.WindowEnd()),
			formatTime(e.UpdatedAt),
		})
	}
	return t
}

func statusTable(s ailink.DispatchSnapshot) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"Mode", s.Mode})
	t.AppendRow(table.Row{"Cursor", fmt.Sprintf("%d/%d", s.Cursor, s.PoolSize)})
	for i, id := range s.Pool {
		t.AppendRow(table.Row{fmt.Sprintf("Pool[%d]", i), id})
	}
	fallback := s.Fallback
	if fallback == "" {
		fallback = "(disabled)"
	}
	t.AppendRow(table.Row{"Fallback", fallback})
	t.AppendRow(table.Row{"Quota", fmt.Sprintf("%d/%d used, resets %s", s.Quota.Count, s.Quota.Limit, formatTime(s.Quota.WindowEnd()))})
	if s.LastError != "" {
		t.AppendRow(table.Row{"Last Error", truncate(s.LastError, 80)})
	}
	return t
}

func promptTable(prompts []*prompt.Prompt) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Slug", "Name", "Output", "Required", "Source"})
	for _, p := range prompts {
		if p == nil {
			continue
		}
		kind := "text"
		if p.Structured() {
			kind = "record"
		}
		t.AppendRow(table.Row{
			p.Config.Slug,
			p.Config.Name,
			kind,
			strings.Join(p.Config.Input.RequiredVariables, ", "),
			p.Source,
		})
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
