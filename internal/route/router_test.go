package route_test

import (
	"testing"

	"github.com/cory-johannsen/mudweb/internal/ansi"
	"github.com/cory-johannsen/mudweb/internal/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRouter(t *testing.T) *route.Router {
	t.Helper()
	r, err := route.NewRouter(route.DefaultRules())
	require.NoError(t, err)
	return r
}

func TestRoute_ChatLines(t *testing.T) {
	r := defaultRouter(t)
	assert.Equal(t, "chat", r.Route("Gandalf says, 'You shall not pass!'"))
	assert.Equal(t, "chat", r.Route("Ivy tells you 'meet me at the gate'"))
	assert.Equal(t, "chat", r.Route("[OOC] anyone around?"))
	assert.Equal(t, "chat", r.Route("You say 'hello'"))
}

func TestRoute_CombatLines(t *testing.T) {
	r := defaultRouter(t)
	assert.Equal(t, "combat", r.Route("You hit the ghoul with your crowbar."))
	assert.Equal(t, "combat", r.Route("The ghoul claws you viciously."))
	assert.Equal(t, "combat", r.Route("You have slain the cultist!"))
}

func TestRoute_InfoLines(t *testing.T) {
	r := defaultRouter(t)
	assert.Equal(t, "info", r.Route("Exits: north, south"))
	assert.Equal(t, "info", r.Route("[Exits: n s e]"))
	assert.Equal(t, "info", r.Route("Obvious exits: east."))
}

func TestRoute_FallsBackToDefault(t *testing.T) {
	r := defaultRouter(t)
	assert.Equal(t, "game", r.Route("The fog thickens around you."))
	assert.Equal(t, "game", r.Route(""))
}

func TestRoute_IgnoresColorCodes(t *testing.T) {
	r := defaultRouter(t)
	colored := ansi.Colorize(ansi.BrightCyan, "Gandalf says, 'hello'")
	assert.Equal(t, "chat", r.Route(colored))
}

func TestRoute_FirstMatchingChannelWins(t *testing.T) {
	rules := route.Rules{
		Default: "game",
		Channels: []route.ChannelRule{
			{Name: "first", Patterns: []string{"overlap"}},
			{Name: "second", Patterns: []string{"overlap"}},
		},
	}
	r, err := route.NewRouter(rules)
	require.NoError(t, err)
	assert.Equal(t, "first", r.Route("an overlap here"))
}

func TestNewRouter_BadPattern(t *testing.T) {
	rules := route.Rules{
		Default:  "game",
		Channels: []route.ChannelRule{{Name: "x", Patterns: []string{"(["}}},
	}
	_, err := route.NewRouter(rules)
	require.Error(t, err)
}
