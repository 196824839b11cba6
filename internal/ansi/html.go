package ansi

import (
	"strconv"
	"strings"
)

// fgColors maps SGR foreground codes (standard and bright) to the hex
// palette the web client renders on its dark background.
var fgColors = map[int]string{
	30: "#555555",
	31: "#ff4444",
	32: "#44ff44",
	33: "#ffff44",
	34: "#4444ff",
	35: "#ff44ff",
	36: "#44ffff",
	37: "#cccccc",
	90: "#888888",
	91: "#ff8888",
	92: "#88ff88",
	93: "#ffff88",
	94: "#8888ff",
	95: "#ff88ff",
	96: "#88ffff",
	97: "#ffffff",
}

// bgColors maps SGR background codes to hex values muted enough that
// foreground text stays readable on them.
var bgColors = map[int]string{
	40:  "#222222",
	41:  "#aa2222",
	42:  "#22aa22",
	43:  "#aaaa22",
	44:  "#2222aa",
	45:  "#aa22aa",
	46:  "#22aaaa",
	47:  "#aaaaaa",
	100: "#555555",
	101: "#ff4444",
	102: "#44ff44",
	103: "#ffff44",
	104: "#4444ff",
	105: "#ff44ff",
	106: "#44ffff",
	107: "#ffffff",
}

// htmlEscaper escapes the three characters with markup meaning in HTML
// text content. Quotes are deliberately left alone: everything outside
// those three characters must survive byte-for-byte.
var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// styleState accumulates the SGR attributes in effect at one point in a
// scan. The zero value means unstyled. Empty fg/bg strings mean the
// channel is unset and the client's default colors apply.
type styleState struct {
	bold   bool
	dim    bool
	italic bool
	fg     string
	bg     string
}

func (s styleState) styled() bool {
	return s.bold || s.dim || s.italic || s.fg != "" || s.bg != ""
}

// css renders the state as inline declarations in a fixed order, so two
// equal states always produce identical markup.
func (s styleState) css() string {
	decls := make([]string, 0, 5)
	if s.bold {
		decls = append(decls, "font-weight: bold")
	}
	if s.dim {
		decls = append(decls, "opacity: 0.7")
	}
	if s.italic {
		decls = append(decls, "font-style: italic")
	}
	if s.fg != "" {
		decls = append(decls, "color: "+s.fg)
	}
	if s.bg != "" {
		decls = append(decls, "background-color: "+s.bg)
	}
	return strings.Join(decls, "; ")
}

// apply mutates the state for a single SGR parameter. Code 22 clears both
// weight attributes; setting one color channel never disturbs the other.
// Parameters outside the supported set are ignored.
func (s *styleState) apply(code int) {
	switch code {
	case 0:
		*s = styleState{}
	case 1:
		s.bold = true
	case 2:
		s.dim = true
	case 3:
		s.italic = true
	case 22:
		s.bold = false
		s.dim = false
	case 23:
		s.italic = false
	default:
		if hex, ok := fgColors[code]; ok {
			s.fg = hex
		} else if hex, ok := bgColors[code]; ok {
			s.bg = hex
		}
	}
}

// ToHTML converts ANSI SGR styling in text to HTML. Runs of text with at
// least one active attribute become a single <span style="..."> element;
// unstyled runs are emitted bare. Only '<', '>' and '&' are escaped.
//
// The function is total: it never fails, unsupported SGR parameters are
// skipped, and a malformed escape sequence ends styling and degrades the
// remainder of the input to literal text. Style never carries over
// between calls; callers that want terminal-like persistence across
// lines must keep their own state upstream of this function.
//
// Postcondition: Returns valid HTML whose visible text equals Strip(text)
// for well-formed input.
func ToHTML(text string) string {
	var b strings.Builder
	var seg strings.Builder
	state := styleState{}

	flush := func() {
		if seg.Len() == 0 {
			return
		}
		escaped := htmlEscaper.Replace(seg.String())
		if state.styled() {
			b.WriteString(`<span style="`)
			b.WriteString(state.css())
			b.WriteString(`">`)
			b.WriteString(escaped)
			b.WriteString(`</span>`)
		} else {
			b.WriteString(escaped)
		}
		seg.Reset()
	}

	i := 0
	for i < len(text) {
		if text[i] == '\033' && i+1 < len(text) && text[i+1] == '[' {
			j := i + 2
			for j < len(text) && (text[j] == ';' || (text[j] >= '0' && text[j] <= '9')) {
				j++
			}
			if j < len(text) && text[j] == 'm' {
				flush()
				for _, param := range strings.Split(text[i+2:j], ";") {
					code, err := strconv.Atoi(param)
					if err != nil {
						continue
					}
					state.apply(code)
				}
				i = j + 1
				continue
			}
			// Malformed sequence: close the current run and emit the
			// rest, ESC included, as literal text.
			flush()
			b.WriteString(htmlEscaper.Replace(text[i:]))
			return b.String()
		}
		seg.WriteByte(text[i])
		i++
	}
	flush()
	return b.String()
}

// ToHTMLWithBreaks renders a multi-line string, converting each line
// independently and joining them with <br>. Styling opened on one line
// never bleeds into the next, which matches how the game server repeats
// color codes per line.
func ToHTMLWithBreaks(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = ToHTML(line)
	}
	return strings.Join(lines, "<br>")
}
