package route_test

import (
	"fmt"
	"testing"

	"github.com/cory-johannsen/mudweb/internal/ansi"
	"github.com/cory-johannsen/mudweb/internal/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseVitals_FullPrompt(t *testing.T) {
	v, ok := route.ParseVitals("< HP: 42/50 SAN: 31/60 >")
	require.True(t, ok)
	assert.Equal(t, 42, v.HP)
	assert.Equal(t, 50, v.MaxHP)
	assert.Equal(t, 31, v.Sanity)
	assert.Equal(t, 60, v.MaxSanity)
}

func TestParseVitals_LongFormSanity(t *testing.T) {
	v, ok := route.ParseVitals("hp 10/10 Sanity: 5/60")
	require.True(t, ok)
	assert.Equal(t, 10, v.HP)
	assert.Equal(t, 5, v.Sanity)
	assert.Equal(t, 60, v.MaxSanity)
}

func TestParseVitals_HPOnly(t *testing.T) {
	v, ok := route.ParseVitals("HP:9/12")
	require.True(t, ok)
	assert.Equal(t, 9, v.HP)
	assert.Equal(t, 12, v.MaxHP)
	assert.Zero(t, v.Sanity)
	assert.Zero(t, v.MaxSanity)
}

func TestParseVitals_NoVitals(t *testing.T) {
	_, ok := route.ParseVitals("You wake in a cold sweat.")
	assert.False(t, ok)
}

func TestParseVitals_StripsColorFirst(t *testing.T) {
	line := ansi.Colorize(ansi.Red, "HP: 3/50") + " " + ansi.Colorize(ansi.Cyan, "SAN: 12/60")
	v, ok := route.ParseVitals(line)
	require.True(t, ok)
	assert.Equal(t, 3, v.HP)
	assert.Equal(t, 12, v.Sanity)
}

func TestParseExits_CommaSeparated(t *testing.T) {
	exits, ok := route.ParseExits("Exits: north, south, east")
	require.True(t, ok)
	assert.Equal(t, []string{"north", "south", "east"}, exits)
}

func TestParseExits_BracketedShortForm(t *testing.T) {
	exits, ok := route.ParseExits("[Exits: n s e]")
	require.True(t, ok)
	assert.Equal(t, []string{"n", "s", "e"}, exits)
}

func TestParseExits_ObviousExits(t *testing.T) {
	exits, ok := route.ParseExits("Obvious exits: West.")
	require.True(t, ok)
	assert.Equal(t, []string{"west"}, exits)
}

func TestParseExits_None(t *testing.T) {
	_, ok := route.ParseExits("Obvious exits: none.")
	assert.False(t, ok)
}

func TestParseExits_NotAnExitsLine(t *testing.T) {
	_, ok := route.ParseExits("The door slams shut behind you.")
	assert.False(t, ok)
}

func TestParseCharacter_Greeting(t *testing.T) {
	name, ok := route.ParseCharacter("Welcome back, Ezrith.")
	require.True(t, ok)
	assert.Equal(t, "Ezrith", name)
}

func TestParseCharacter_FirstLoginColored(t *testing.T) {
	name, ok := route.ParseCharacter(ansi.Colorize(ansi.Yellow, "Welcome, Mordecai!"))
	require.True(t, ok)
	assert.Equal(t, "Mordecai", name)
}

func TestParseCharacter_NotAGreeting(t *testing.T) {
	_, ok := route.ParseCharacter("You are welcome here, stranger.")
	assert.False(t, ok)
}

// Property: ParseVitals recovers whatever pair values appear in a
// conventional prompt, colored or not.
func TestPropertyParseVitalsRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hp := rapid.IntRange(0, 999).Draw(t, "hp")
		maxHP := rapid.IntRange(1, 999).Draw(t, "maxHP")
		san := rapid.IntRange(0, 99).Draw(t, "san")
		maxSan := rapid.IntRange(1, 99).Draw(t, "maxSan")
		line := fmt.Sprintf("< HP: %d/%d SAN: %d/%d >", hp, maxHP, san, maxSan)
		if rapid.Bool().Draw(t, "colored") {
			line = ansi.Colorize(ansi.Green, line)
		}
		v, ok := route.ParseVitals(line)
		require.True(t, ok)
		assert.Equal(t, hp, v.HP)
		assert.Equal(t, maxHP, v.MaxHP)
		assert.Equal(t, san, v.Sanity)
		assert.Equal(t, maxSan, v.MaxSanity)
	})
}
