package prompt

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
)

// BuiltinSourcePrefix marks prompts compiled into the binary. A configured
// prompts_dir replaces the whole built-in set.
const BuiltinSourcePrefix = "builtin:"

//go:embed prompts/*.md
var builtinPrompts embed.FS

// Builtin parses the embedded advisory prompts in file name order.
func Builtin() ([]*Prompt, error) {
	return loadFS(builtinPrompts, "prompts/*.md", BuiltinSourcePrefix)
}

// BuiltinRegistry indexes Builtin by slug.
func BuiltinRegistry() (*InMemoryRegistry, error) {
	prompts, err := Builtin()
	if err != nil {
		return nil, err
	}
	return NewRegistry(prompts)
}

func loadFS(fsys fs.FS, pattern, prefix string) ([]*Prompt, error) {
	names, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("scan prompts: %w", err)
	}
	out := make([]*Prompt, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", name, err)
		}
		p, err := Load(prefix+path.Base(name), data)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
