package output

import (
	"bytes"
	"encoding/json"

	"github.com/nexusadvisory/llmgate/internal/ailink"
	"github.com/nexusadvisory/llmgate/internal/ailink/prompt"
	"github.com/nexusadvisory/llmgate/internal/store"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatGeneration(result *ailink.GenerationResult) (string, error) {
	if result == nil {
		return "", nil
	}
	return f.Marshal(result)
}

func (f *JSONFormatter) FormatProbe(results []ailink.ProbeResult) (string, error) {
	if results == nil {
		results = []ailink.ProbeResult{}
	}
	return f.Marshal(results)
}

func (f *JSONFormatter) FormatQuotas(entries []store.QuotaEntry) (string, error) {
	if entries == nil {
		entries = []store.QuotaEntry{}
	}
	return f.Marshal(entries)
}

func (f *JSONFormatter) FormatStatus(snapshot ailink.DispatchSnapshot) (string, error) {
	return f.Marshal(snapshot)
}

func (f *JSONFormatter) FormatPrompts(prompts []*prompt.Prompt) (string, error) {
	configs := make([]prompt.Config, 0, len(prompts))
	for _, p := range prompts {
		if p != nil {
			configs = append(configs, p.Config)
		}
	}
	return f.Marshal(configs)
}

// Marshal encodes v, indented when Indent is set.
func (f *JSONFormatter) Marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func indentJSON(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}
