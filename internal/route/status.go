package route

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cory-johannsen/mudweb/internal/ansi"
)

// Vitals is the player status pulled from a prompt line.
type Vitals struct {
	HP        int
	MaxHP     int
	Sanity    int
	MaxSanity int
}

var (
	hpPattern        = regexp.MustCompile(`(?i)\bHP:?\s*(\d+)\s*/\s*(\d+)`)
	sanityPattern    = regexp.MustCompile(`(?i)\b(?:SAN|Sanity):?\s*(\d+)\s*/\s*(\d+)`)
	exitsPattern     = regexp.MustCompile(`(?i)^\s*\[?\s*(?:obvious exits|exits)\s*:\s*([a-z, ]+)`)
	characterPattern = regexp.MustCompile(`(?i)^\s*welcome(?: back)?,\s+([A-Za-z][A-Za-z'-]*)`)
)

// ParseVitals extracts hit point and sanity pairs from a prompt line.
// Both pairs are optional; a line carrying neither reports ok == false.
func ParseVitals(line string) (Vitals, bool) {
	text := ansi.Strip(line)
	var v Vitals
	found := false
	if m := hpPattern.FindStringSubmatch(text); m != nil {
		v.HP = atoi(m[1])
		v.MaxHP = atoi(m[2])
		found = true
	}
	if m := sanityPattern.FindStringSubmatch(text); m != nil {
		v.Sanity = atoi(m[1])
		v.MaxSanity = atoi(m[2])
		found = true
	}
	return v, found
}

// ParseExits extracts exit names from an exits line for the room panel.
// Handles both "Exits: north, south" and "[Exits: n s e]" shapes; a line
// announcing no exits reports an empty slice and ok == false.
func ParseExits(line string) ([]string, bool) {
	text := ansi.Strip(line)
	m := exitsPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	fields := strings.FieldsFunc(m[1], func(r rune) bool {
		return r == ',' || r == ' '
	})
	exits := make([]string, 0, len(fields))
	for _, f := range fields {
		name := strings.ToLower(f)
		if name == "" || name == "none" {
			continue
		}
		exits = append(exits, name)
	}
	if len(exits) == 0 {
		return nil, false
	}
	return exits, true
}

// ParseCharacter pulls the character name out of a login greeting such as
// "Welcome back, Ezrith." The name ends at the first rune that cannot
// appear in one.
func ParseCharacter(line string) (string, bool) {
	text := ansi.Strip(line)
	m := characterPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// atoi converts a digit run already vetted by a \d+ capture group.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
