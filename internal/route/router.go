package route

import (
	"fmt"
	"regexp"

	"github.com/cory-johannsen/mudweb/internal/ansi"
)

// Router matches server lines against compiled channel rules. Safe for
// concurrent use once constructed.
type Router struct {
	channels []compiledChannel
	fallback string
}

type compiledChannel struct {
	name     string
	patterns []*regexp.Regexp
}

// NewRouter compiles the rules into a router.
//
// Precondition: rules should have passed Validate.
// Postcondition: Returns a ready router or a non-nil error for an uncompilable pattern.
func NewRouter(rules Rules) (*Router, error) {
	r := &Router{fallback: rules.Default}
	for _, ch := range rules.Channels {
		compiled := compiledChannel{name: ch.Name}
		for _, p := range ch.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compiling channel %q pattern %q: %w", ch.Name, p, err)
			}
			compiled.patterns = append(compiled.patterns, re)
		}
		r.channels = append(r.channels, compiled)
	}
	return r, nil
}

// Route returns the channel name for a server line. Matching runs against
// the ANSI-stripped text so color codes never affect routing.
func (r *Router) Route(line string) string {
	text := ansi.Strip(line)
	for _, ch := range r.channels {
		for _, p := range ch.patterns {
			if p.MatchString(text) {
				return ch.name
			}
		}
	}
	return r.fallback
}
