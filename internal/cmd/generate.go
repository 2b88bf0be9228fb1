package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nexusadvisory/llmgate/internal/ailink"
	errwrap "github.com/nexusadvisory/llmgate/internal/errors"
	"github.com/nexusadvisory/llmgate/internal/output"
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Generate text or a structured record",
	Long: `Send a prompt through the gateway.

The prompt is taken from the arguments, or read from stdin when the argument
is "-" or absent. With --schema the reply is extracted as a JSON object and
validated; with --template a stored prompt is rendered from --var values.`,
	Example: `  llmgate generate "Summarize the plot of Hamlet in one sentence"
  llmgate generate --schema company.schema.json < filing.txt
  llmgate generate --template research-abstract --var text=@paper.txt`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().String("system", "", "System prompt (defaults to gateway.default_system_prompt)")
	generateCmd.Flags().Int("max-tokens", 0, "Maximum tokens in the reply (defaults to gateway.default_max_tokens)")
	generateCmd.Flags().String("schema", "", "JSON Schema file; the reply must be a matching JSON object")
	generateCmd.Flags().String("template", "", "Prompt slug to render instead of a raw prompt")
	generateCmd.Flags().StringArray("var", nil, "Template variable key=value (value @file reads a file); repeatable")
	generateCmd.Flags().Bool("fallback", false, "Start in fallback mode, skipping the free pool")
	generateCmd.Flags().String("output-format", string(output.FormatText), "Output format: text|json")
	generateCmd.Flags().String("out", "", "Write output to a file (default stdout)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	if format != output.FormatText && format != output.FormatJSON {
		return fmt.Errorf("unsupported output format for generate: %s", format)
	}

	system, _ := cmd.Flags().GetString("system")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	schemaPath, _ := cmd.Flags().GetString("schema")
	template, _ := cmd.Flags().GetString("template")
	rawVars, _ := cmd.Flags().GetStringArray("var")
	forceFallback, _ := cmd.Flags().GetBool("fallback")
	outPath, _ := cmd.Flags().GetString("out")

	template = strings.TrimSpace(template)
	if template != "" && (len(args) > 0 || schemaPath != "") {
		return errwrap.NewInvalidInputError("--template cannot be combined with a prompt argument or --schema")
	}
	if template == "" && len(rawVars) > 0 {
		return errwrap.NewInvalidInputError("--var requires --template")
	}

	req := ailink.GenerationRequest{SystemPrompt: system, MaxTokens: maxTokens}
	var vars map[string]string
	if template != "" {
		if vars, err = parseVars(rawVars); err != nil {
			return errwrap.WrapInvalidInput(ctx, err, "invalid --var")
		}
	} else {
		if req.Prompt, err = readPrompt(args, cmd.InOrStdin()); err != nil {
			return errwrap.WrapInvalidInput(ctx, err, "invalid prompt")
		}
		if schemaPath != "" {
			if req.Schema, err = loadSchemaFile(schemaPath); err != nil {
				return errwrap.WrapInvalidInput(ctx, err, "invalid --schema")
			}
		}
	}

	gw, err := openGateway(ctx)
	if err != nil {
		return err
	}
	defer gw.Close() // nolint:errcheck // best-effort cleanup

	if forceFallback {
		if err := gw.service.Dispatcher.ForceMode(ailink.ModeFallback); err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "cannot force fallback mode")
		}
	}

	var res *ailink.GenerationResult
	if template != "" {
		res, err = gw.service.GeneratePrompt(ctx, template, vars)
	} else {
		res, err = gw.service.Do(ctx, req)
	}
	if err != nil {
		return gatewayError(ctx, err)
	}

	rendered, err := output.NewFormatter(format).FormatGeneration(res)
	if err != nil {
		return err
	}

	sink, err := openSink(outPath, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()
	_, err = fmt.Fprintln(sink.writer, rendered)
	return err
}

// readPrompt joins args, or reads stdin for "-" or no args.
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		prompt := strings.TrimSpace(strings.Join(args, " "))
		if prompt == "" {
			return "", errors.New("prompt is empty")
		}
		return prompt, nil
	}

	data, err := io.ReadAll(bufio.NewReader(stdin))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("prompt is empty; pass it as an argument or on stdin")
	}
	return prompt, nil
}

// parseVars parses key=value pairs. A value starting with @ names a file.
func parseVars(raw []string) (map[string]string, error) {
	vars := make(map[string]string, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", kv)
		}
		if path, isFile := strings.CutPrefix(value, "@"); isFile {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s for %s: %w", path, key, err)
			}
			value = string(data)
		}
		vars[key] = value
	}
	return vars, nil
}

func loadSchemaFile(path string) (*ailink.JSONSchema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = strings.TrimSuffix(name, ".schema")
	return ailink.NewJSONSchema(name, raw)
}
