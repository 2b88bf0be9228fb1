package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestBuiltin(t *testing.T) {
	prompts, err := Builtin()
	require.NoError(t, err)
	require.Len(t, prompts, 3)
	for _, p := range prompts {
		require.True(t, strings.HasPrefix(p.Source, BuiltinSourcePrefix), p.Source)
	}

	reg, err := BuiltinRegistry()
	require.NoError(t, err)

	research, err := reg.Get("research-abstract")
	require.NoError(t, err)
	require.NotEmpty(t, research.Config.SystemTemplate)
	require.True(t, research.Structured())
	require.Equal(t, 6000, research.Config.MaxTokens)

	transcript, err := reg.Get("call-transcript")
	require.NoError(t, err)
	require.False(t, transcript.Structured())
	require.Equal(t, "neutral", transcript.Config.Input.Defaults["sentiment"])

	slugs := make([]string, 0, 3)
	for _, p := range reg.List() {
		slugs = append(slugs, p.Config.Slug)
	}
	require.Equal(t, []string{"call-transcript", "client-batch", "research-abstract"}, slugs)
}

func TestLoadBodyBecomesSystemTemplate(t *testing.T) {
	p, err := Load("inline.md", []byte("---\nslug: inline\nuser_template: \"{{x}}\"\n---\nSystem body.\n"))
	require.NoError(t, err)
	require.Equal(t, "System body.", p.Config.SystemTemplate)
	require.Equal(t, "{{x}}", p.Config.UserTemplate)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load("empty.md", []byte("   "))
	require.Error(t, err)

	_, err = Load("nosystem.md", []byte("---\nslug: nosystem\n---\n"))
	require.ErrorContains(t, err, "missing system_template")

	_, err = Load("badslug.md", []byte("---\nslug: Bad Slug\n---\nbody\n"))
	require.ErrorContains(t, err, "validate prompt")

	_, err = Load("badyaml.md", []byte("---\nslug: [\n---\nbody\n"))
	require.ErrorContains(t, err, "invalid frontmatter")
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("---\nslug: a\n---\nsys a\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("nope"), 0o600))

	prompts, err := LoadFromDir(dir)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	require.Equal(t, "a", prompts[0].Config.Slug)
}

func TestRegistryDuplicateSlug(t *testing.T) {
	p := &Prompt{Config: Config{Slug: "dup", SystemTemplate: "s"}}
	_, err := NewRegistry([]*Prompt{p, p})
	require.ErrorContains(t, err, "duplicate")

	reg, err := NewRegistry([]*Prompt{p})
	require.NoError(t, err)
	_, err = reg.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadFSRejectsDuplicateSlugs(t *testing.T) {
	doc := []byte("---\nslug: dup\n---\nSystem.\n")
	fsys := fstest.MapFS{
		"p/a.md":     {Data: doc},
		"p/b.md":     {Data: doc},
		"p/skip.txt": {Data: []byte("ignored")},
	}
	prompts, err := loadFS(fsys, "p/*.md", "mem:")
	require.NoError(t, err)
	require.Len(t, prompts, 2)
	require.Equal(t, "mem:a.md", prompts[0].Source)

	_, err = NewRegistry(prompts)
	require.ErrorContains(t, err, "duplicate prompt slug: dup")
}
