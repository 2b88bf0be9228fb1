package ailink

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nexusadvisory/llmgate/internal/ailink/prompt"
)

// ErrMissingVariable reports a template variable with no value.
var ErrMissingVariable = errors.New("prompt variable not provided")

// RenderPrompt fills a prompt's system and user templates. Declared defaults
// apply to missing variables; required variables must be non-empty.
func RenderPrompt(def *prompt.Prompt, vars map[string]string) (string, string, error) {
	if def == nil {
		return "", "", errors.New("prompt is required")
	}

	merged := make(map[string]string, len(vars)+len(def.Config.Input.Defaults))
	for key, value := range def.Config.Input.Defaults {
		merged[key] = value
	}
	for key, value := range vars {
		if strings.TrimSpace(value) != "" {
			merged[key] = value
		}
	}

	for _, required := range def.Config.Input.RequiredVariables {
		if val, ok := merged[required]; !ok || strings.TrimSpace(val) == "" {
			return "", "", fmt.Errorf("%w: required variable %q", ErrMissingVariable, required)
		}
	}

	// Conditionals first, then substitution.
	system := applyConditionals(def.Config.SystemTemplate, merged)
	if name := missingVar(system, merged); name != "" {
		return "", "", fmt.Errorf("%w: system template variable %q", ErrMissingVariable, name)
	}
	system = applyVars(system, merged)

	user := def.Config.UserTemplate
	if user == "" {
		user = "{{prompt}}"
	}
	user = applyConditionals(user, merged)
	if name := missingVar(user, merged); name != "" {
		return "", "", fmt.Errorf("%w: user template variable %q", ErrMissingVariable, name)
	}
	user = strings.TrimSpace(applyVars(user, merged))

	if strings.TrimSpace(system) == "" {
		return "", "", errors.New("system prompt is required")
	}
	if user == "" {
		return "", "", errors.New("user prompt rendered empty")
	}
	return system, user, nil
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// missingVar returns the first {{name}} in template with no value in vars.
func missingVar(template string, vars map[string]string) string {
	for _, m := range placeholder.FindAllStringSubmatch(template, -1) {
		if _, ok := vars[m[1]]; !ok {
			return m[1]
		}
	}
	return ""
}

// applyVars replaces {{key}} placeholders whose key is known.
func applyVars(template string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholder.FindStringSubmatch(match)[1]
		if value, ok := vars[key]; ok {
			return value
		}
		return match
	})
}

// applyConditionals handles {{#if var}}content{{else}}fallback{{/if}} blocks.
// If the variable exists and is non-empty, the content is included; otherwise the fallback is used.
func applyConditionals(template string, vars map[string]string) string {
	result := template
	for {
		start := strings.Index(result, "{{#if")
		if start == -1 {
			break
		}
		tagEnd := strings.Index(result[start:], "}}")
		if tagEnd == -1 {
			break
		}
		tagEnd += start

		varName := strings.TrimSpace(result[start+len("{{#if") : tagEnd])
		blockStart := tagEnd + 2

		elseStart, elseEnd, endStart, endEnd := findConditionalBlock(result, blockStart)
		if endStart == -1 {
			break
		}

		ifContent := result[blockStart:endStart]
		elseContent := ""
		if elseStart != -1 {
			ifContent = result[blockStart:elseStart]
			elseContent = result[elseEnd:endStart]
		}

		value, exists := vars[varName]
		replacement := elseContent
		if exists && strings.TrimSpace(value) != "" {
			replacement = ifContent
		}

		result = result[:start] + replacement + result[endEnd:]
	}
	return result
}

func findConditionalBlock(input string, start int) (int, int, int, int) {
	depth := 0
	elseStart := -1
	elseEnd := -1

	pos := start
	for {
		openIdx := strings.Index(input[pos:], "{{")
		if openIdx == -1 {
			return -1, -1, -1, -1
		}
		openIdx += pos

		closeIdx := strings.Index(input[openIdx:], "}}")
		if closeIdx == -1 {
			return -1, -1, -1, -1
		}
		closeIdx += openIdx

		tag := strings.TrimSpace(input[openIdx+2 : closeIdx])
		switch {
		case tag == "#if" || strings.HasPrefix(tag, "#if "):
			depth++
		case tag == "/if":
			if depth == 0 {
				return elseStart, elseEnd, openIdx, closeIdx + 2
			}
			depth--
		case tag == "else" && depth == 0 && elseStart == -1:
			elseStart = openIdx
			elseEnd = closeIdx + 2
		}

		pos = closeIdx + 2
	}
}
