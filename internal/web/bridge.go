package web

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mudweb/internal/ansi"
	"github.com/cory-johannsen/mudweb/internal/route"
	"github.com/cory-johannsen/mudweb/internal/script"
	"github.com/cory-johannsen/mudweb/internal/session"
	"github.com/cory-johannsen/mudweb/internal/storage/postgres"
	"github.com/cory-johannsen/mudweb/internal/upstream"
)

const (
	// writeWait bounds a single WebSocket write.
	writeWait = 10 * time.Second
	// pongWait is how long the browser may stay silent before the socket
	// is considered dead. Pings keep healthy browsers inside it.
	pongWait = 60 * time.Second
	// pingPeriod is how often keepalive pings go out. Must be under pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound command envelopes.
	maxMessageSize = 4096
	// storeTimeout bounds session row writes done off the hot path.
	storeTimeout = 5 * time.Second
)

// bridge shuttles data between one WebSocket and one game connection.
// Two pumps run concurrently: readUpstream forwards game output to the
// browser and readBrowser forwards player commands to the game. Either
// side failing tears the whole session down.
type bridge struct {
	ws       *websocket.Conn
	game     *upstream.Conn
	sess     *session.Session
	logger   *zap.Logger
	router   *route.Router
	render   *renderCache
	recorder *Recorder    // nil when history is off
	sessions SessionStore // nil when history is off

	// engine is not safe for concurrent use; expandInput and processLine
	// serialize every call through engineMu.
	engineMu sync.Mutex
	engine   *script.Engine // nil when scripting is off

	ctx    context.Context
	cancel context.CancelFunc

	out        chan any
	writerDone chan struct{}

	characterOnce sync.Once
}

func newBridge(s *Server, ws *websocket.Conn, game *upstream.Conn, sess *session.Session, logger *zap.Logger) (*bridge, error) {
	render, err := newRenderCache(s.cfg.Web.RenderCache)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &bridge{
		ws:         ws,
		game:       game,
		sess:       sess,
		logger:     logger,
		router:     s.deps.Router,
		render:     render,
		recorder:   s.deps.Recorder,
		sessions:   s.deps.Sessions,
		ctx:        ctx,
		cancel:     cancel,
		out:        make(chan any, s.cfg.Web.SendBuffer),
		writerDone: make(chan struct{}),
	}
	if s.deps.NewEngine != nil {
		eng, err := s.deps.NewEngine(script.Host{Send: b.scriptSend, Echo: b.scriptEcho})
		if err != nil {
			logger.Warn("session continues without scripting", zap.Error(err))
		} else {
			b.engine = eng
		}
	}
	return b, nil
}

// run drives the session until either side disconnects, then tears the
// other down. It blocks until every pump goroutine has exited.
func (b *bridge) run() {
	go b.writePump()

	// A canceled session must unblock the browser read loop too; expiring
	// its read deadline does that without racing the write side.
	go func() {
		<-b.ctx.Done()
		_ = b.ws.SetReadDeadline(time.Now())
	}()

	var forwarder sync.WaitGroup
	forwarder.Add(1)
	go func() {
		defer forwarder.Done()
		b.readUpstream()
	}()

	b.send(newStatus(stateConnected, ""))
	b.readBrowser()

	b.cancel()
	_ = b.game.Close()
	forwarder.Wait()

	close(b.out)
	<-b.writerDone
	_ = b.ws.Close()

	if b.engine != nil {
		b.engine.Close()
	}
}

// send queues an envelope for the browser. It never blocks: a browser
// that cannot keep up loses envelopes rather than stalling the game
// reader.
func (b *bridge) send(env any) {
	select {
	case b.out <- env:
	case <-b.ctx.Done():
	default:
		b.logger.Warn("send buffer full, dropping envelope")
	}
}

// writePump owns the socket's write side: envelopes from the out queue
// and the keepalive pings. After a write error it keeps draining the
// queue so producers never block on a dead socket.
func (b *bridge) writePump() {
	defer close(b.writerDone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	broken := false
	for {
		select {
		case env, ok := <-b.out:
			if !ok {
				if !broken {
					_ = b.ws.SetWriteDeadline(time.Now().Add(writeWait))
					_ = b.ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}
			if broken {
				continue
			}
			_ = b.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.ws.WriteJSON(env); err != nil {
				b.logger.Debug("websocket write failed", zap.Error(err))
				broken = true
				b.cancel()
			}
		case <-ticker.C:
			if broken {
				continue
			}
			_ = b.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				broken = true
				b.cancel()
			}
		}
	}
}

// readUpstream forwards game server events to the browser until the
// game connection drops. On an upstream failure it notifies the browser
// and cancels the session so the browser pump unwinds too.
func (b *bridge) readUpstream() {
	for {
		ev, err := b.game.ReadEvent()
		if err != nil {
			if ev.Text != "" {
				b.handleEvent(ev)
			}
			if err != io.EOF && b.ctx.Err() == nil {
				b.logger.Debug("game read error", zap.Error(err))
			}
			if b.ctx.Err() == nil {
				b.send(newStatus(stateDisconnected, "game server closed the connection"))
				b.cancel()
			}
			return
		}
		b.handleEvent(ev)
	}
}

// handleEvent turns one game event into browser envelopes: the rendered
// line or prompt, plus any structured state parsed out of the text.
func (b *bridge) handleEvent(ev upstream.Event) {
	if ev.Prompt {
		b.send(newPrompt(b.render.render(ev.Text)))
		if v, ok := route.ParseVitals(ev.Text); ok {
			b.send(newVitals(v))
		}
		return
	}

	gagged := false
	if b.engine != nil {
		gagged = b.processLine(ev.Text).Gag
	}

	channel := b.router.Route(ev.Text)
	html := b.render.render(ev.Text)

	if !gagged {
		b.send(newLine(channel, html, ev.Text))
	}
	if v, ok := route.ParseVitals(ev.Text); ok {
		b.send(newVitals(v))
	}
	if exits, ok := route.ParseExits(ev.Text); ok {
		b.send(newExits(exits))
	}
	if name, ok := route.ParseCharacter(ev.Text); ok {
		b.setCharacter(name)
	}

	b.sess.AddLine()
	b.record(channel, ev.Text, html, gagged)
}

// readBrowser consumes command envelopes until the socket dies or the
// session is canceled. Malformed envelopes are dropped, not fatal.
func (b *bridge) readBrowser() {
	b.ws.SetReadLimit(maxMessageSize)
	_ = b.ws.SetReadDeadline(time.Now().Add(pongWait))
	b.ws.SetPongHandler(func(string) error {
		if b.ctx.Err() != nil {
			return nil
		}
		return b.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := b.ws.ReadMessage()
		if err != nil {
			if b.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var env commandEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			b.logger.Debug("malformed client envelope", zap.Error(err))
			continue
		}
		if env.Type != typeCommand {
			continue
		}
		b.handleCommand(env.Text)
	}
}

// handleCommand expands one player command through the alias table and
// ships the results upstream, echoing each sent command back dimmed so
// the log shows what actually went out.
func (b *bridge) handleCommand(text string) {
	cmds := []string{text}
	if b.engine != nil {
		cmds = b.expandInput(text)
	}
	for _, cmd := range cmds {
		if err := b.game.WriteCommand(cmd); err != nil {
			b.logger.Warn("forwarding command", zap.Error(err))
			if b.ctx.Err() == nil {
				b.send(newStatus(stateError, "sending to game server failed"))
				b.cancel()
			}
			return
		}
		b.echoInput(cmd)
	}
}

// echoInput reflects a sent command into the log panel and transcript.
func (b *bridge) echoInput(cmd string) {
	raw := ansi.Colorize(ansi.Dim, "> "+cmd)
	html := b.render.render(raw)
	b.send(newLine(channelInput, html, raw))
	b.record(channelInput, raw, html, false)
}

// scriptSend lets Lua aliases and triggers issue game commands.
func (b *bridge) scriptSend(cmd string) {
	if err := b.game.WriteCommand(cmd); err != nil {
		b.logger.Warn("forwarding script command", zap.Error(err))
		return
	}
	b.echoInput(cmd)
}

// scriptEcho lets Lua scripts print into the log panel without touching
// the game connection.
func (b *bridge) scriptEcho(text string) {
	html := b.render.render(text)
	b.send(newLine(channelScript, html, text))
	b.record(channelScript, text, html, false)
}

func (b *bridge) expandInput(line string) []string {
	b.engineMu.Lock()
	defer b.engineMu.Unlock()
	return b.engine.ExpandInput(line)
}

func (b *bridge) processLine(line string) script.LineResult {
	b.engineMu.Lock()
	defer b.engineMu.Unlock()
	return b.engine.ProcessLine(line)
}

// setCharacter records the detected character name, once per session.
// The database write happens off the reader goroutine; a greeting line
// must not wait on the pool.
func (b *bridge) setCharacter(name string) {
	b.characterOnce.Do(func() {
		b.sess.SetCharacter(name)
		b.logger.Info("character detected", zap.String("character", name))
		if b.sessions == nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := b.sessions.SetCharacter(ctx, b.sess.ID, name); err != nil {
				b.logger.Warn("recording character name", zap.Error(err))
			}
		}()
	})
}

// record queues the line for the transcript. Gagged lines are recorded
// too; the player chose not to see them, but the history keeps everything.
func (b *bridge) record(channel, raw, html string, gagged bool) {
	if b.recorder == nil {
		return
	}
	b.recorder.Record(postgres.TranscriptLine{
		SessionID: b.sess.ID,
		Channel:   channel,
		Raw:       raw,
		HTML:      html,
		Gagged:    gagged,
	})
}
