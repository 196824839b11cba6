// Package upstream manages the Telnet connection to the external MUD
// game server. It filters protocol negotiation out of the byte stream
// while preserving the ANSI styling escapes the renderer needs.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Telnet IAC (Interpret As Command) constants per RFC 854.
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Sub-negotiation Begin
	GA   byte = 249 // Go Ahead
	NOP  byte = 241
	SE   byte = 240 // Sub-negotiation End
	EOR  byte = 239 // End Of Record

	// Telnet options
	OptEcho            byte = 1
	OptSuppressGoAhead byte = 3
	OptLinemode        byte = 34
)

// Event is one unit of game output: either a complete line terminated by
// a newline, or prompt text flushed by IAC GA/EOR without one.
type Event struct {
	Text   string
	Prompt bool
}

// Config carries the dial settings for the game server connection.
type Config struct {
	Addr           string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Conn wraps a TCP connection to the game server with Telnet protocol
// handling. Negotiation requests from the server are refused, keeping
// the session in plain NVT mode where prompts arrive marked by GA.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader
	mu     sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Dial connects to the game server.
//
// Precondition: cfg.Addr must be a "host:port" string.
// Postcondition: Returns an open Conn or a non-nil error.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	raw, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("upstream: dialing %s: %w", cfg.Addr, err)
	}
	return NewConn(raw, cfg.ReadTimeout, cfg.WriteTimeout), nil
}

// NewConn wraps a raw connection with Telnet protocol handling.
//
// Precondition: raw must be a valid, open network connection.
// Postcondition: Returns a Conn ready for reading and writing.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// ReadEvent reads the next line or prompt from the game server.
//
// IAC sequences are consumed and never appear in the text. Carriage
// returns are dropped and a newline completes a line. Every other byte
// passes through untouched; in particular ESC survives, so ANSI color
// sequences reach the renderer intact. A GA or EOR with buffered text
// flushes that text as a prompt event; a bare GA keepalive is ignored.
//
// Postcondition: Returns the next event, or buffered text with an error
// (including io.EOF).
func (c *Conn) ReadEvent() (Event, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	var line bytes.Buffer
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return Event{Text: line.String()}, err
		}

		if b == IAC {
			prompt, err := c.handleIAC(&line)
			if err != nil {
				return Event{Text: line.String()}, err
			}
			if prompt && line.Len() > 0 {
				return Event{Text: line.String(), Prompt: true}, nil
			}
			continue
		}

		if b == '\n' {
			return Event{Text: line.String()}, nil
		}
		if b == '\r' {
			continue
		}

		line.WriteByte(b)
	}
}

// handleIAC processes a Telnet command after the initial IAC byte has
// been read. Option requests are refused so the server keeps sending
// plain text. Returns true when the command marks a prompt boundary.
func (c *Conn) handleIAC(line *bytes.Buffer) (bool, error) {
	cmd, err := c.reader.ReadByte()
	if err != nil {
		return false, err
	}

	switch cmd {
	case DO, WILL:
		opt, err := c.reader.ReadByte()
		if err != nil {
			return false, err
		}
		return false, c.refuse(cmd, opt)
	case DONT, WONT:
		// Already a refusal; consume the option byte silently.
		_, err := c.reader.ReadByte()
		return false, err
	case SB:
		// Sub-negotiation: read until IAC SE
		for {
			b, err := c.reader.ReadByte()
			if err != nil {
				return false, err
			}
			if b == IAC {
				next, err := c.reader.ReadByte()
				if err != nil {
					return false, err
				}
				if next == SE {
					return false, nil
				}
			}
		}
	case GA, EOR:
		return true, nil
	case IAC:
		// Escaped 0xFF is a literal data byte
		line.WriteByte(IAC)
		return false, nil
	default:
		// Other commands (NOP etc.) carry no payload
		return false, nil
	}
}

// refuse answers an option request negatively: DO gets WONT, WILL gets
// DONT. Refusals are never answered, so this cannot loop.
func (c *Conn) refuse(cmd, opt byte) error {
	reply := WONT
	if cmd == WILL {
		reply = DONT
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.raw.Write([]byte{IAC, reply, opt})
	return err
}

// WriteCommand sends one player command followed by \r\n.
//
// Precondition: text should not contain trailing newline characters.
// Postcondition: text + \r\n is written to the connection.
func (c *Conn) WriteCommand(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := fmt.Fprintf(c.raw, "%s\r\n", text)
	return err
}

// Close closes the underlying TCP connection.
//
// Postcondition: The connection is closed and no longer usable.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the game server's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// FilterIAC removes Telnet IAC sequences from raw input bytes.
// This is a pure function useful for testing and protocol parsing.
//
// Postcondition: Returns input with all IAC sequences removed.
func FilterIAC(input []byte) []byte {
	result := make([]byte, 0, len(input))
	i := 0
	for i < len(input) {
		if input[i] == IAC && i+1 < len(input) {
			cmd := input[i+1]
			switch cmd {
			case WILL, WONT, DO, DONT:
				// Skip IAC + cmd + option
				i += 3
				continue
			case SB:
				// Skip until IAC SE
				j := i + 2
				for j < len(input)-1 {
					if input[j] == IAC && input[j+1] == SE {
						j += 2
						break
					}
					j++
				}
				i = j
				continue
			case IAC:
				// Escaped 0xFF, emit one literal 0xFF
				result = append(result, IAC)
				i += 2
				continue
			default:
				// Other commands carry no payload; skip IAC + cmd
				i += 2
				continue
			}
		}
		result = append(result, input[i])
		i++
	}
	return result
}
