package prompt

// Config describes a prompt definition loaded from YAML frontmatter.
type Config struct {
	Slug           string         `yaml:"slug" json:"slug"`
	Name           string         `yaml:"name,omitempty" json:"name,omitempty"`
	Description    string         `yaml:"description,omitempty" json:"description,omitempty"`
	Version        string         `yaml:"version,omitempty" json:"version,omitempty"`
	Input          InputSpec      `yaml:"input,omitempty" json:"input,omitempty"`
	SystemTemplate string         `yaml:"system_template,omitempty" json:"system_template,omitempty"`
	UserTemplate   string         `yaml:"user_template,omitempty" json:"user_template,omitempty"`
	MaxTokens      int            `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	ResponseSchema map[string]any `yaml:"response_schema,omitempty" json:"response_schema,omitempty"`
}

// InputSpec defines prompt input requirements.
type InputSpec struct {
	RequiredVariables []string          `yaml:"required_variables,omitempty" json:"required_variables,omitempty"`
	OptionalVariables []string          `yaml:"optional_variables,omitempty" json:"optional_variables,omitempty"`
	Defaults          map[string]string `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

// Prompt wraps a validated prompt configuration with its source.
type Prompt struct {
	Config Config
	Source string
}

// Structured reports whether the prompt expects a JSON record back.
func (p *Prompt) Structured() bool {
	return p != nil && len(p.Config.ResponseSchema) > 0
}
