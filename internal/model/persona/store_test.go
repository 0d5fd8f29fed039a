package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAppliesDefaults(t *testing.T) {
	store := NewMemoryStore(Seed())

	pip, ok := store.FindByID("pip")
	require.True(t, ok)
	assert.Equal(t, DefaultContextWindow, pip.ContextWindow)
	assert.Equal(t, pip.ContextWindow, pip.RetainTurns)
	assert.Equal(t, DefaultCapChars, pip.CapChars)
	assert.NotEmpty(t, pip.FallbackPhrases)
	assert.NotEmpty(t, pip.Replies.Generic)

	dwarf, ok := store.FindByID("grimbold")
	require.True(t, ok)
	assert.Contains(t, dwarf.Replies.Generic, "goblin")

	_, ok = store.FindByID("missing")
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	doc := `personas:
  - id: pixie
    name: Pixie
    toneStrategy: classifier
    contextWindow: 5
    retainTurns: 8
    capChars: 1000
    fallbackPhrases: ["no idea"]
    escalationModel: compound-beta
    replies:
      generic: "Oops."
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	items, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, items, 1)

	p := items[0].WithDefaults()
	assert.Equal(t, "classifier", p.ToneStrategy)
	assert.Equal(t, 5, p.ContextWindow)
	assert.Equal(t, 8, p.RetainTurns)
	assert.Equal(t, []string{"no idea"}, p.FallbackPhrases)
	assert.Equal(t, "compound-beta", p.EscalationModel)
	assert.Equal(t, "Oops.", p.Replies.Generic)
	assert.NotEmpty(t, p.Replies.Quota)
}

func TestLoadFileRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	doc := "personas:\n  - {id: a, name: A}\n  - {id: a, name: B}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
