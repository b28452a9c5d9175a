package voiceclient

// Event is a semantic notification surfaced to the caller. Consumers receive
// the stream via Client.Events; delivery is best effort and never blocks the
// frame pipeline.
type Event interface {
	eventType() string
}

// StateChangeEvent reports a connection lifecycle transition.
type StateChangeEvent struct {
	Previous ConnectionState
	Current  ConnectionState
}

func (e StateChangeEvent) eventType() string { return "state_change" }

// ModeResolvedEvent reports the operating mode negotiated for a connection.
type ModeResolvedEvent struct {
	Mode Mode
}

func (e ModeResolvedEvent) eventType() string { return "mode_resolved" }

// TranscriptEvent carries a transcription result.
type TranscriptEvent struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

func (e TranscriptEvent) eventType() string { return "transcript" }

// AgentTextEvent carries the agent's textual reply.
type AgentTextEvent struct {
	Text    string
	IsFinal bool
}

func (e AgentTextEvent) eventType() string { return "agent_text" }

// AgentSpeakingEvent reports a change of the agent speaking state.
type AgentSpeakingEvent struct {
	State AgentSpeakingState
}

func (e AgentSpeakingEvent) eventType() string { return "agent_speaking" }

// VadEvent forwards a server-side voice-activity signal. Informational only;
// it never gates audio.
type VadEvent struct {
	Phase string
	TSMs  int64
}

func (e VadEvent) eventType() string { return "vad" }

// ErrorEvent surfaces an asynchronous failure. Fatal errors coincide with the
// connection transitioning to Errored; non-fatal ones are warnings.
type ErrorEvent struct {
	Source string // "upstream", "transport" or "protocol"
	Code   string
	Detail string
	Fatal  bool
}

func (e ErrorEvent) eventType() string { return "error" }

// emit delivers an event without ever blocking the frame pipeline; a slow
// consumer loses events rather than stalling audio.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.metrics.IncDroppedEvent()
	}
}

// Events yields the caller-facing event stream. The channel stays open across
// reconnects of the same Client.
func (c *Client) Events() <-chan Event {
	return c.events
}
