package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mudweb/internal/ansi"
)

// regexCacheSize bounds the compiled-pattern cache shared by aliases and
// triggers. Trigger patterns repeat on every server line, so nearly all
// compilations after warmup are cache hits.
const regexCacheSize = 100

// Host carries the engine's only handles back into the session: sending
// a command to the game and echoing text to the player's log panel.
// Either func may be nil, in which case the call is a no-op.
type Host struct {
	Send func(cmd string)
	Echo func(text string)
}

type alias struct {
	pattern     string
	replacement string
	fn          *lua.LFunction
}

type trigger struct {
	pattern string
	fn      *lua.LFunction
}

// LineResult reports what the trigger pass decided about a server line.
type LineResult struct {
	// Gag is true when some trigger asked for the line to be hidden from
	// the player. Gagged lines are still recorded in the transcript.
	Gag bool
}

// Engine runs one player's aliases and triggers in a sandboxed Lua VM.
// An Engine belongs to a single session goroutine and is not safe for
// concurrent use; the session bridge serializes all calls.
type Engine struct {
	L       *lua.LState
	cancel  context.CancelFunc
	host    Host
	logger  *zap.Logger
	limit   int
	regexes *lru.Cache[string, *regexp.Regexp]

	aliases  []alias
	triggers []trigger
	gagged   bool
}

// New creates an engine with the client.* Lua API registered.
//
// Precondition: logger must be non-nil; instLimit >= 0 (0 uses DefaultInstructionLimit).
// Postcondition: Returns an engine ready for LoadDir, or a non-nil error.
func New(host Host, logger *zap.Logger, instLimit int) (*Engine, error) {
	if instLimit <= 0 {
		instLimit = DefaultInstructionLimit
	}
	cache, err := lru.New[string, *regexp.Regexp](regexCacheSize)
	if err != nil {
		return nil, fmt.Errorf("script: creating regex cache: %w", err)
	}
	L, cancel := NewSandboxedState(instLimit)
	e := &Engine{
		L:       L,
		cancel:  cancel,
		host:    host,
		logger:  logger,
		limit:   instLimit,
		regexes: cache,
	}
	e.registerClientModule()
	return e, nil
}

// Close releases the VM. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.cancel()
	e.L.Close()
}

// LoadDir executes every *.lua file in dir in lexicographic order.
//
// Precondition: dir must be a readable directory.
// Postcondition: All scripts ran; returns error on the first Lua load failure.
func (e *Engine) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("script: reading script dir %q: %w", dir, err)
	}

	var luaFiles []string
	for _, ent := range entries {
		if !ent.IsDir() && filepath.Ext(ent.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(dir, ent.Name()))
		}
	}
	sort.Strings(luaFiles)

	for _, path := range luaFiles {
		e.resetBudget()
		if err := e.L.DoFile(path); err != nil {
			return fmt.Errorf("script: loading %q: %w", path, err)
		}
	}
	return nil
}

// ExpandInput applies the first matching alias to a player command and
// returns the commands to send upstream. String replacements substitute
// $1..$9 captures and may expand to several commands separated by ';'.
// Function aliases run in the VM and emit through client.send instead,
// so their expansion returns no commands here. A line matching no alias
// is returned unchanged as the single command.
func (e *Engine) ExpandInput(line string) []string {
	for _, a := range e.aliases {
		re, err := e.compile(a.pattern)
		if err != nil {
			continue
		}
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if a.fn == nil {
			return splitCommands(expandCaptures(a.replacement, m))
		}
		e.callMatchFn(a.fn, m)
		return nil
	}
	return []string{line}
}

// ProcessLine runs every matching trigger against a server line in
// registration order. Triggers match the ANSI-stripped text. A Lua error
// in one trigger is logged and does not stop later triggers, and the
// line always passes through (possibly gagged).
func (e *Engine) ProcessLine(line string) LineResult {
	e.gagged = false
	if len(e.triggers) == 0 {
		return LineResult{}
	}
	text := ansi.Strip(line)
	for _, tr := range e.triggers {
		re, err := e.compile(tr.pattern)
		if err != nil {
			continue
		}
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		e.callMatchFn(tr.fn, m)
	}
	return LineResult{Gag: e.gagged}
}

// resetBudget arms a fresh opcode budget before entering the VM, so one
// runaway script cannot starve the rest of the session.
func (e *Engine) resetBudget() {
	e.cancel()
	ctx, cancel := newCountingContext(e.limit)
	e.L.SetContext(ctx)
	e.cancel = cancel
}

// callMatchFn invokes a Lua alias or trigger function with the regex
// match as a table: index 1 is the full match, 2.. are capture groups.
func (e *Engine) callMatchFn(fn *lua.LFunction, m []string) {
	e.resetBudget()
	matches := e.L.NewTable()
	for i, s := range m {
		matches.RawSetInt(i+1, lua.LString(s))
	}
	if err := e.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, matches); err != nil {
		e.logger.Warn("script: Lua runtime error", zap.Error(err))
	}
}

func (e *Engine) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.regexes.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}
	e.regexes.Add(pattern, re)
	return re, nil
}

// registerClientModule defines the client.* Lua table.
func (e *Engine) registerClientModule() {
	client := e.L.NewTable()
	e.L.SetFuncs(client, map[string]lua.LGFunction{
		"alias":   e.luaAlias,
		"trigger": e.luaTrigger,
		"send":    e.luaSend,
		"echo":    e.luaEcho,
		"gag":     e.luaGag,
		"strip":   e.luaStrip,
	})
	e.L.SetGlobal("client", client)
}

func (e *Engine) luaAlias(L *lua.LState) int {
	pattern := L.CheckString(1)
	if _, err := e.compile(pattern); err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	switch v := L.CheckAny(2).(type) {
	case lua.LString:
		e.aliases = append(e.aliases, alias{pattern: pattern, replacement: string(v)})
	case *lua.LFunction:
		e.aliases = append(e.aliases, alias{pattern: pattern, fn: v})
	default:
		L.ArgError(2, "expected string or function")
	}
	return 0
}

func (e *Engine) luaTrigger(L *lua.LState) int {
	pattern := L.CheckString(1)
	if _, err := e.compile(pattern); err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	fn := L.CheckFunction(2)
	e.triggers = append(e.triggers, trigger{pattern: pattern, fn: fn})
	return 0
}

func (e *Engine) luaSend(L *lua.LState) int {
	if e.host.Send != nil {
		e.host.Send(L.CheckString(1))
	}
	return 0
}

func (e *Engine) luaEcho(L *lua.LState) int {
	if e.host.Echo != nil {
		e.host.Echo(L.CheckString(1))
	}
	return 0
}

func (e *Engine) luaGag(L *lua.LState) int {
	e.gagged = true
	return 0
}

func (e *Engine) luaStrip(L *lua.LState) int {
	L.Push(lua.LString(ansi.Strip(L.CheckString(1))))
	return 1
}

// expandCaptures substitutes $1..$9 in a replacement with capture groups
// from the match, in one left-to-right pass: substituted capture text is
// data and is never rescanned for further $N tokens. Groups beyond the
// pattern's arity are left literal.
func expandCaptures(replacement string, m []string) string {
	var out strings.Builder
	out.Grow(len(replacement))
	for i := 0; i < len(replacement); i++ {
		c := replacement[i]
		if c == '$' && i+1 < len(replacement) {
			if d := replacement[i+1]; d >= '1' && d <= '9' {
				if n := int(d - '0'); n < len(m) {
					out.WriteString(m[n])
					i++
					continue
				}
			}
		}
		out.WriteByte(c)
	}
	return out.String()
}

// splitCommands splits an expanded replacement on ';' so one alias can
// expand to a command sequence. An empty expansion swallows the input.
func splitCommands(s string) []string {
	parts := strings.Split(s, ";")
	cmds := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			cmds = append(cmds, trimmed)
		}
	}
	return cmds
}
