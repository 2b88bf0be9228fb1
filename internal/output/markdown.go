package output

import (
	"github.com/nexusadvisory/llmgate/internal/ailink"
	"github.com/nexusadvisory/llmgate/internal/ailink/prompt"
	"github.com/nexusadvisory/llmgate/internal/store"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) FormatGeneration(result *ailink.GenerationResult) (string, error) {
	return generationText(result)
}

func (f *MarkdownFormatter) FormatProbe(results []ailink.ProbeResult) (string, error) {
	return "## Probe\n\n" + probeTable(results).RenderMarkdown() + "\n", nil
}

func (f *MarkdownFormatter) FormatQuotas(entries []store.QuotaEntry) (string, error) {
	return "## Quota windows\n\n" + quotaTable(entries).RenderMarkdown() + "\n", nil
}

func (f *MarkdownFormatter) FormatStatus(snapshot ailink.DispatchSnapshot) (string, error) {
	return "## Gateway status\n\n" + statusTable(snapshot).RenderMarkdown() + "\n", nil
}

func (f *MarkdownFormatter) FormatPrompts(prompts []*prompt.Prompt) (string, error) {
	return "## Prompts\n\n" + promptTable(prompts).RenderMarkdown() + "\n", nil
}
