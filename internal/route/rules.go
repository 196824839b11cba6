// Package route decides which client panel each server line belongs to
// and pulls structured status out of prompt lines.
package route

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChannelRule names a client panel and the patterns that claim lines for it.
type ChannelRule struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
}

// Rules is the declarative routing table loaded from a channels file.
// Channels are consulted in order; the first matching pattern wins.
type Rules struct {
	Default  string        `yaml:"default"`
	Channels []ChannelRule `yaml:"channels"`
}

// builtinPanels are the channels the shell page always renders. A
// default pointing at one of them is valid even when no rule claims
// lines for it.
var builtinPanels = map[string]bool{
	"game":   true,
	"chat":   true,
	"combat": true,
	"info":   true,
}

// Validate checks all routing invariants.
//
// Postcondition: Returns nil if the rules are valid, or an error describing all violations.
func (r Rules) Validate() error {
	var errs []string

	if r.Default == "" {
		errs = append(errs, "default channel must not be empty")
	}
	seen := make(map[string]bool, len(r.Channels))
	for i, ch := range r.Channels {
		if ch.Name == "" {
			errs = append(errs, fmt.Sprintf("channels[%d].name must not be empty", i))
			continue
		}
		if seen[ch.Name] {
			errs = append(errs, fmt.Sprintf("channel %q defined more than once", ch.Name))
		}
		seen[ch.Name] = true
		if len(ch.Patterns) == 0 {
			errs = append(errs, fmt.Sprintf("channel %q must have at least one pattern", ch.Name))
		}
		for _, p := range ch.Patterns {
			if _, err := regexp.Compile(p); err != nil {
				errs = append(errs, fmt.Sprintf("channel %q pattern %q: %v", ch.Name, p, err))
			}
		}
	}

	if r.Default != "" && !seen[r.Default] && !builtinPanels[r.Default] {
		errs = append(errs, fmt.Sprintf("default channel %q is neither a defined channel nor a built-in panel", r.Default))
	}

	if len(errs) > 0 {
		return fmt.Errorf("channel rules validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadRules reads a YAML channels file and validates it.
//
// Precondition: path must be a readable YAML file.
// Postcondition: Returns validated rules or a non-nil error.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("parsing channels file %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

// DefaultRules is the routing table used when no channels file is
// configured: conversation to the chat panel, blows traded to combat,
// room information to info, everything else to the main game panel.
func DefaultRules() Rules {
	return Rules{
		Default: "game",
		Channels: []ChannelRule{
			{Name: "chat", Patterns: []string{
				`^\S+ (says|yells|shouts|whispers|asks|exclaims)[,:]? `,
				`^\S+ tells you`,
				`^You (say|yell|shout|whisper|ask|tell)`,
				`^\[(OOC|Chat|Gossip|Newbie)\]`,
			}},
			{Name: "combat", Patterns: []string{
				`^You (hit|miss|slash|stab|claw|dodge|parry|block)`,
				`(hits|misses|slashes|stabs|claws) you`,
				`^You have (slain|defeated|died)`,
			}},
			{Name: "info", Patterns: []string{
				`^\[?\s*(Obvious exits|Exits)`,
			}},
		},
	}
}
