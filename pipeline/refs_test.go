package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/corpipe/errors"
)

func TestParseStageRefsWords(t *testing.T) {
	refs, err := ParseStageRefs(`tokenize  lowercase "ngrams:n=3,sep=_"`)
	require.NoError(t, err)
	require.Len(t, refs, 3)

	assert.Equal(t, "tokenize", refs[0].Name)
	assert.Nil(t, refs[0].Arguments)
	assert.Equal(t, "ngrams", refs[2].Name)
	assert.Equal(t, 3, refs[2].Arguments["n"])
	assert.Equal(t, "_", refs[2].Arguments["sep"])
}

func TestParseStageRefsShorthandTypes(t *testing.T) {
	refs, err := ParseStageWords([]string{"frequency:top=10,lower=true,label=words,empty="})
	require.NoError(t, err)

	args := refs[0].Arguments
	assert.Equal(t, 10, args["top"])
	assert.Equal(t, true, args["lower"])
	assert.Equal(t, "words", args["label"])
	assert.Equal(t, "", args["empty"])
}

func TestParseStageRefsMalformed(t *testing.T) {
	for _, text := range []string{"", "   ", ":n=3", "ngrams:n", `tokenize "unterminated`} {
		_, err := ParseStageRefs(text)
		assert.True(t, errors.IsConfigurationError(err), "input %q", text)
	}
}

func TestParseStageRefsJSONAndYAML(t *testing.T) {
	jsonRefs, err := ParseStageRefs(`["tokenize", {"name": "ngrams", "arguments": {"n": 3}}]`)
	require.NoError(t, err)

	yamlRefs, err := ParseStageRefs("- tokenize\n- name: ngrams\n  arguments:\n    n: 3\n")
	require.NoError(t, err)

	require.Len(t, jsonRefs, 2)
	assert.Equal(t, "tokenize", jsonRefs[0].Name)
	assert.Equal(t, "ngrams", jsonRefs[1].Name)

	registry, _ := newTestRegistry(t)
	fromJSON, err := Normalize(registry, jsonRefs)
	require.NoError(t, err)
	fromYAML, err := Normalize(registry, yamlRefs)
	require.NoError(t, err)
	assert.Equal(t, fromJSON[1].Args, fromYAML[1].Args)
}

func TestParseStageRefsModule(t *testing.T) {
	refs, err := ParseStageRefs(`[{"module": "xtas.tasks.single.tokenize"}]`)
	require.NoError(t, err)
	assert.Equal(t, "tokenize", refs[0].StageName())
}

func TestParseStageWordsDottedAndList(t *testing.T) {
	refs, err := ParseStageWords([]string{"xtas.tasks.single.tokenize", "xtas.tasks.single.ngrams:n=3"})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "tokenize", refs[0].StageName())
	assert.Equal(t, "ngrams", refs[1].StageName())
	assert.Equal(t, 3, refs[1].Arguments["n"])

	refs, err = ParseStageWords([]string{`[{"module":"tokenize"},{"module":"ngrams","arguments":{"n":3}}]`})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "tokenize", refs[0].StageName())
	assert.Equal(t, 3, refs[1].Arguments["n"])

	refs, err = ParseStageRefs(`[xtas.tasks.single.lowercase]`)
	require.NoError(t, err)
	assert.Equal(t, "lowercase", refs[0].StageName())
}

func TestLoadStageRefsFile(t *testing.T) {
	dir := t.TempDir()

	tomlPath := filepath.Join(dir, "chain.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
[[stage]]
name = "tokenize"

[[stage]]
name = "ngrams"
[stage.arguments]
n = 3
`), 0644))

	yamlPath := filepath.Join(dir, "chain.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
stages:
  - tokenize
  - name: ngrams
    arguments: {n: 3}
`), 0644))

	textPath := filepath.Join(dir, "chain.txt")
	require.NoError(t, os.WriteFile(textPath, []byte("tokenize ngrams:n=3\n"), 0644))

	registry, _ := newTestRegistry(t)
	var chains []Chain
	for _, path := range []string{tomlPath, yamlPath, textPath} {
		refs, err := LoadStageRefsFile(path)
		require.NoError(t, err, path)
		chain, err := Normalize(registry, refs)
		require.NoError(t, err, path)
		chains = append(chains, chain)
	}

	for _, chain := range chains[1:] {
		assert.Equal(t, chains[0].Names(), chain.Names())
		assert.Equal(t, chains[0][1].Args.Canonical(), chain[1].Args.Canonical())
	}
	assert.Equal(t, `{"n":3,"sep":" "}`, chains[0][1].Args.Canonical())
}

func TestLoadStageRefsFileErrors(t *testing.T) {
	_, err := LoadStageRefsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsConfigurationError(err))

	empty := filepath.Join(t.TempDir(), "empty.toml")
	require.NoError(t, os.WriteFile(empty, []byte("title = 'nothing'\n"), 0644))
	_, err = LoadStageRefsFile(empty)
	assert.True(t, errors.IsConfigurationError(err))
}
