package web

import "github.com/cory-johannsen/mudweb/internal/route"

// Envelope type discriminators. Every WebSocket message is a JSON object
// whose "type" field selects the shape of the rest.
const (
	typeCommand = "command"
	typeLine    = "line"
	typePrompt  = "prompt"
	typeVitals  = "vitals"
	typeExits   = "exits"
	typeStatus  = "status"
)

// Connection states reported through status envelopes.
const (
	stateConnected    = "connected"
	stateDisconnected = "disconnected"
	stateError        = "error"
)

// Channels synthesized by the bridge itself, as opposed to channels the
// routing rules assign to game output.
const (
	channelInput  = "input"
	channelScript = "script"
)

// commandEnvelope is the only client-to-server message: one line of
// player input, before alias expansion.
type commandEnvelope struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// lineEnvelope carries one line of game output: the rendered HTML the
// panel displays and the raw text with escapes intact.
type lineEnvelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	HTML    string `json:"html"`
	Raw     string `json:"raw"`
}

// promptEnvelope carries the rendered prompt shown beside the input box.
type promptEnvelope struct {
	Type string `json:"type"`
	HTML string `json:"html"`
}

// vitalsEnvelope carries player status parsed out of the text stream,
// for the sidebar gauges.
type vitalsEnvelope struct {
	Type      string `json:"type"`
	HP        int    `json:"hp"`
	MaxHP     int    `json:"maxHp"`
	Sanity    int    `json:"sanity"`
	MaxSanity int    `json:"maxSanity"`
}

// exitsEnvelope carries the current room's exits.
type exitsEnvelope struct {
	Type  string   `json:"type"`
	Exits []string `json:"exits"`
}

// statusEnvelope reports bridge connection state changes.
type statusEnvelope struct {
	Type   string `json:"type"`
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

func newLine(channel, html, raw string) lineEnvelope {
	return lineEnvelope{Type: typeLine, Channel: channel, HTML: html, Raw: raw}
}

func newPrompt(html string) promptEnvelope {
	return promptEnvelope{Type: typePrompt, HTML: html}
}

func newVitals(v route.Vitals) vitalsEnvelope {
	return vitalsEnvelope{
		Type:      typeVitals,
		HP:        v.HP,
		MaxHP:     v.MaxHP,
		Sanity:    v.Sanity,
		MaxSanity: v.MaxSanity,
	}
}

func newExits(exits []string) exitsEnvelope {
	return exitsEnvelope{Type: typeExits, Exits: exits}
}

func newStatus(state, detail string) statusEnvelope {
	return statusEnvelope{Type: typeStatus, State: state, Detail: detail}
}
