package web

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cory-johannsen/mudweb/internal/ansi"
)

// renderCache memoizes ANSI-to-HTML conversion for one bridge. Prompts
// and status lines repeat constantly, so after warmup most renders are
// cache hits. The converter itself stays stateless; memoization lives
// here where the lifetime is bounded by the socket.
type renderCache struct {
	cache *lru.Cache[string, string]
}

func newRenderCache(size int) (*renderCache, error) {
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("web: creating render cache: %w", err)
	}
	return &renderCache{cache: c}, nil
}

// render returns the HTML for a raw line, computing and caching on miss.
func (rc *renderCache) render(raw string) string {
	if html, ok := rc.cache.Get(raw); ok {
		return html
	}
	html := ansi.ToHTML(raw)
	rc.cache.Add(raw, html)
	return html
}
