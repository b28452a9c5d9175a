package voiceclient

import (
	"errors"

	"github.com/gorilla/websocket"

	"github.com/reverb-labs/skald/internal/protocol"
	"github.com/reverb-labs/skald/internal/reliability"
)

// readLoop is the single consumer of the socket. Every inbound frame is
// classified and dispatched here, in arrival order, so frame handling never
// interleaves.
func (c *Client) readLoop(conn wireConn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			c.routeBinary(data)
		case websocket.TextMessage:
			c.routeText(data)
		}
	}
}

// routeBinary handles agent audio. Binary frames only carry agent audio in
// this protocol; in a transcription-only session they are a backend mismatch
// and are dropped like any unknown frame.
func (c *Client) routeBinary(data []byte) {
	if !c.Mode().IncludesAgent() {
		c.metrics.IncUnknownFrame()
		if c.debugEnabled() {
			c.logf("dropping binary frame (%d bytes) outside agent mode", len(data))
		}
		return
	}
	c.metrics.IncFrameIn("audio")
	c.noteAgentSeen()
	if err := c.gate.OnAgentAudioChunk(data); err != nil {
		c.logf("enqueue playback: %v", err)
	}
}

func (c *Client) routeText(data []byte) {
	frame, err := protocol.ParseServerFrame(data)
	if err != nil {
		// Unknown and malformed frames are dropped, never fatal: the
		// backend may be newer than this client.
		c.metrics.IncUnknownFrame()
		if !errors.Is(err, protocol.ErrUnsupportedType) {
			c.emit(ErrorEvent{Source: "protocol", Detail: err.Error()})
		}
		if c.debugEnabled() {
			c.logf("dropping frame: %v", err)
		}
		return
	}

	switch msg := frame.(type) {
	case protocol.Welcome:
		c.metrics.IncFrameIn(string(protocol.TypeWelcome))
		c.mu.Lock()
		c.serverSessionID = msg.SessionID
		c.mu.Unlock()
		if c.debugEnabled() {
			c.logf("welcome, server session %s", msg.SessionID)
		}

	case protocol.SettingsApplied:
		c.metrics.IncFrameIn(string(protocol.TypeSettingsApplied))
		c.markReady("settings_applied")

	case protocol.Transcript:
		if !c.Mode().IncludesTranscription() {
			// Backend/protocol mismatch; treat like an unknown frame.
			c.metrics.IncUnknownFrame()
			return
		}
		c.metrics.IncFrameIn(string(protocol.TypeTranscript))
		c.noteTranscriptSeen()
		c.emit(TranscriptEvent{Text: msg.Text, IsFinal: msg.IsFinal, Confidence: msg.Confidence})

	case protocol.AgentText:
		if !c.Mode().IncludesAgent() {
			c.metrics.IncUnknownFrame()
			return
		}
		c.metrics.IncFrameIn(string(protocol.TypeAgentText))
		c.noteAgentSeen()
		c.emit(AgentTextEvent{Text: msg.Text, IsFinal: msg.IsFinal})

	case protocol.AgentAudioStart:
		if !c.Mode().IncludesAgent() {
			c.metrics.IncUnknownFrame()
			return
		}
		c.metrics.IncFrameIn(string(protocol.TypeAgentAudioStart))
		c.noteAgentSeen()
		c.gate.OnAgentAudioStart()

	case protocol.AgentAudioDone:
		if !c.Mode().IncludesAgent() {
			c.metrics.IncUnknownFrame()
			return
		}
		c.metrics.IncFrameIn(string(protocol.TypeAgentAudioDone))
		c.gate.OnAgentAudioStop()

	case protocol.Vad:
		c.metrics.IncFrameIn(string(protocol.TypeVad))
		c.emit(VadEvent{Phase: msg.Phase, TSMs: msg.TSMs})

	case protocol.ErrorFrame:
		c.metrics.IncFrameIn(string(protocol.TypeError))
		fatal := reliability.IsFatalRealtimeErrorCode(msg.Code)
		c.emit(ErrorEvent{Source: "upstream", Code: msg.Code, Detail: msg.Detail, Fatal: fatal})
		if fatal {
			c.failConnection(&ProtocolError{Frame: string(protocol.TypeError), Err: errors.New(msg.Code)})
		} else {
			c.logf("upstream warning %s: %s", msg.Code, msg.Detail)
		}
	}
}

// handleDisconnect runs when the socket dies, whether by Stop, by a fatal
// error teardown, or on its own.
func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	switch c.state {
	case StateClosing:
		c.terminateLocked(StateClosed, nil)
		c.mu.Unlock()
		return
	case StateClosed, StateErrored, StateIdle:
		// Teardown already accounted for this connection.
		c.terminateLocked(c.state, nil)
		c.mu.Unlock()
		return
	}
	terr := &TransportError{Op: "read", Err: err}
	c.terminateLocked(StateErrored, terr)
	c.mu.Unlock()

	c.adapter.StopCapture()
	c.emit(ErrorEvent{Source: "transport", Detail: terr.Error(), Fatal: true})
}

// Per-mode readiness: records which negotiated capabilities have actually
// produced traffic, mostly for debugging a misconfigured backend.
func (c *Client) noteTranscriptSeen() {
	c.mu.Lock()
	first := !c.transcriptSeen
	c.transcriptSeen = true
	c.mu.Unlock()
	if first && c.debugEnabled() {
		c.logf("transcription leg live")
	}
}

func (c *Client) noteAgentSeen() {
	c.mu.Lock()
	first := !c.agentSeen
	c.agentSeen = true
	c.mu.Unlock()
	if first && c.debugEnabled() {
		c.logf("agent leg live")
	}
}

// LegsSeen reports which capability legs have produced at least one frame on
// the current connection.
func (c *Client) LegsSeen() (transcription, agent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcriptSeen, c.agentSeen
}
