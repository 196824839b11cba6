package testutil

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// Telnet bytes the fake server emits.
const (
	gsIAC = 255
	gsGA  = 249
)

// GameServer is a scripted fake MUD server for integration tests.
// It accepts clients on a loopback port, replays whatever output the
// test scripts through Send*, and records every command line a client
// sends back.
type GameServer struct {
	t        *testing.T
	listener net.Listener

	mu       sync.Mutex
	conn     net.Conn
	received []string
}

// NewGameServer starts a fake game server on an ephemeral loopback port.
//
// Postcondition: The server is accepting connections until the test ends.
func NewGameServer(t *testing.T) *GameServer {
	t.Helper()
	start := time.Now()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("starting fake game server: %v", err)
	}

	gs := &GameServer{t: t, listener: listener}
	go gs.acceptLoop()

	t.Cleanup(gs.Close)
	t.Logf("fake game server listening on %s [%s]", listener.Addr(), time.Since(start))
	return gs
}

// Addr returns the host:port the server is listening on.
func (gs *GameServer) Addr() string {
	return gs.listener.Addr().String()
}

func (gs *GameServer) acceptLoop() {
	for {
		conn, err := gs.listener.Accept()
		if err != nil {
			return
		}
		gs.mu.Lock()
		gs.conn = conn
		gs.mu.Unlock()
		go gs.readLoop(conn)
	}
}

func (gs *GameServer) readLoop(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			gs.mu.Lock()
			gs.received = append(gs.received, strings.TrimRight(line, "\r\n"))
			gs.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// AwaitClient blocks until a client has connected or the timeout expires.
//
// Postcondition: A client connection is available for Send* calls.
func (gs *GameServer) AwaitClient(timeout time.Duration) {
	gs.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		gs.mu.Lock()
		connected := gs.conn != nil
		gs.mu.Unlock()
		if connected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	gs.t.Fatalf("no client connected within %s", timeout)
}

// SendLine writes a line of game output followed by \r\n.
//
// Precondition: A client must be connected (use AwaitClient).
func (gs *GameServer) SendLine(text string) {
	gs.t.Helper()
	gs.write(append([]byte(text), '\r', '\n'))
}

// SendPrompt writes prompt text terminated by IAC GA instead of a newline.
//
// Precondition: A client must be connected (use AwaitClient).
func (gs *GameServer) SendPrompt(text string) {
	gs.t.Helper()
	gs.write(append([]byte(text), gsIAC, gsGA))
}

// SendRaw writes arbitrary bytes to the connected client.
//
// Precondition: A client must be connected (use AwaitClient).
func (gs *GameServer) SendRaw(p []byte) {
	gs.t.Helper()
	gs.write(p)
}

func (gs *GameServer) write(p []byte) {
	gs.t.Helper()
	gs.mu.Lock()
	conn := gs.conn
	gs.mu.Unlock()
	if conn == nil {
		gs.t.Fatal("no client connected")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(p); err != nil {
		gs.t.Fatalf("writing to client: %v", err)
	}
}

// Received returns a copy of all command lines read from clients so far.
func (gs *GameServer) Received() []string {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	out := make([]string, len(gs.received))
	copy(out, gs.received)
	return out
}

// WaitForCommand polls until a received command contains substr,
// returning the full command line.
//
// Postcondition: Returns the matching command or fails the test on timeout.
func (gs *GameServer) WaitForCommand(substr string, timeout time.Duration) string {
	gs.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, cmd := range gs.Received() {
			if strings.Contains(cmd, substr) {
				return cmd
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	gs.t.Fatalf("no command containing %q received within %s (got %v)", substr, timeout, gs.Received())
	return ""
}

// CloseClient drops the current client connection, simulating the game
// server hanging up.
func (gs *GameServer) CloseClient() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.conn != nil {
		gs.conn.Close()
		gs.conn = nil
	}
}

// Close stops the listener and drops any connected client.
func (gs *GameServer) Close() {
	gs.listener.Close()
	gs.CloseClient()
}
