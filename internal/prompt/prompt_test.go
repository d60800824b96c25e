package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFill(t *testing.T) {
	out := Fill("{company_name}: {conv} / {conversation} [{unknown}] {min_words}-{max_words}", map[string]string{
		VarCompanyName:  "Acme",
		VarConversation: "Agent: hi",
		VarMinWords:     "5",
		VarMaxWords:     "10",
	})
	assert.Equal(t, "Acme: Agent: hi / Agent: hi [{unknown}] 5-10", out)
}

func TestDefaults_HaveStagePlaceholders(t *testing.T) {
	d := Defaults()
	for _, p := range []string{"{conversation}", "{categories}", "{min_words}", "{max_words}"} {
		assert.Contains(t, d.Extract.User, p)
	}
	assert.Contains(t, d.Assign.System, "{categories}")
	assert.Contains(t, d.Assign.User, "{reasons}")
}

func TestLoadFile(t *testing.T) {
	d, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), d)

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`prompts:
  extract:
    user: "Why did they call {company_name}? {conversation}"
`), 0o644))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Why did they call {company_name}? {conversation}", got.Extract.User)
	assert.Equal(t, Defaults().Extract.System, got.Extract.System)
	assert.Equal(t, Defaults().Assign, got.Assign)

	sys, user := got.Extract.Render(map[string]string{VarCompanyName: "Acme", VarConversation: "Caller: hello"})
	assert.Contains(t, sys, "Acme")
	assert.Equal(t, "Why did they call Acme? Caller: hello", user)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prompts: [unclosed"), 0o644))
	_, err = LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt: parse templates")
}
