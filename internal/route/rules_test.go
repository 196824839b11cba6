package route_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cory-johannsen/mudweb/internal/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadRules_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.yaml")
	writeFile(t, path, `
default: game
channels:
  - name: chat
    patterns:
      - '^\S+ says'
      - '^\[OOC\]'
  - name: combat
    patterns:
      - 'hits you'
`)
	rules, err := route.LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, "game", rules.Default)
	require.Len(t, rules.Channels, 2)
	assert.Equal(t, "chat", rules.Channels[0].Name)
	assert.Len(t, rules.Channels[0].Patterns, 2)
	assert.Equal(t, "combat", rules.Channels[1].Name)
}

func TestLoadRules_MissingFile(t *testing.T) {
	_, err := route.LoadRules(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRules_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	writeFile(t, path, `{{{ not yaml`)
	_, err := route.LoadRules(path)
	require.Error(t, err)
}

func TestRulesValidate_CollectsAllViolations(t *testing.T) {
	rules := route.Rules{
		Default: "",
		Channels: []route.ChannelRule{
			{Name: "", Patterns: []string{"ok"}},
			{Name: "chat", Patterns: nil},
			{Name: "chat", Patterns: []string{"([unclosed"}},
		},
	}
	err := rules.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default channel")
	assert.Contains(t, err.Error(), "channels[0].name")
	assert.Contains(t, err.Error(), "at least one pattern")
	assert.Contains(t, err.Error(), "more than once")
	assert.Contains(t, err.Error(), "([unclosed")
}

func TestRulesValidate_DefaultMustBeKnown(t *testing.T) {
	rules := route.Rules{
		Default:  "mystery",
		Channels: []route.ChannelRule{{Name: "chat", Patterns: []string{"^x"}}},
	}
	err := rules.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `default channel "mystery"`)

	rules.Default = "chat"
	assert.NoError(t, rules.Validate())

	rules.Default = "combat"
	assert.NoError(t, rules.Validate())
}

func TestDefaultRules_Valid(t *testing.T) {
	require.NoError(t, route.DefaultRules().Validate())
	_, err := route.NewRouter(route.DefaultRules())
	require.NoError(t, err)
}

func TestShippedChannelsFile_Valid(t *testing.T) {
	rules, err := route.LoadRules("../../configs/channels.yaml")
	require.NoError(t, err)
	assert.NotEmpty(t, rules.Channels)
	_, err = route.NewRouter(rules)
	require.NoError(t, err)
}
