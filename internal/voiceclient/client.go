package voiceclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/reverb-labs/skald/internal/audio"
	"github.com/reverb-labs/skald/internal/observability"
	"github.com/reverb-labs/skald/internal/protocol"
)

const (
	defaultSettingsAckGrace = 1500 * time.Millisecond
	eventBufferSize         = 256
)

// Options configures a Client. Adapter is required; everything else has
// working defaults.
type Options struct {
	Adapter audio.Adapter
	Metrics *observability.Metrics
	Logger  *log.Logger
	Debug   bool

	// SettingsAckGrace promotes SettingsSent to Ready when the backend sends
	// no explicit settings_applied frame.
	SettingsAckGrace time.Duration

	// KeepaliveInterval enables periodic keepalive frames while Ready.
	// Zero disables them.
	KeepaliveInterval time.Duration
}

// Client owns one logical streaming connection to a speech backend: it dials
// the socket, negotiates the operating mode, demultiplexes inbound frames,
// and coordinates capture and playback with the audio adapter. One Client
// serves one session at a time; a fresh Start after Stop or a fatal error
// reuses it.
//
// Client methods are safe for concurrent use, but overlapping Start calls
// from independent call sites resolve against the single in-flight
// connection rather than opening a second socket.
type Client struct {
	dial      dialFunc
	adapter   audio.Adapter
	metrics   *observability.Metrics
	logger    *log.Logger
	debugBase bool
	debug     bool

	graceTimeout      time.Duration
	keepaliveInterval time.Duration

	events chan Event

	wmu      sync.Mutex // serializes socket writes
	updateMu sync.Mutex // serializes option updates

	mu              sync.Mutex
	state           ConnectionState
	mode            Mode
	cfg             ConnectionConfig
	conn            wireConn
	connID          string
	serverSessionID string
	snapshot        optionsSnapshot
	gate            *playbackGate
	connCancel      context.CancelFunc
	readyCh         chan struct{}
	done            chan struct{}
	doneClosed      bool
	termErr         error
	graceTimer      *time.Timer
	connectedAt     time.Time
	transcriptSeen  bool
	agentSeen       bool

	capturing atomic.Bool
}

func New(opts Options) (*Client, error) {
	if opts.Adapter == nil {
		return nil, errors.New("voiceclient: audio adapter is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	grace := opts.SettingsAckGrace
	if grace <= 0 {
		grace = defaultSettingsAckGrace
	}
	c := &Client{
		dial:              gorillaDial,
		adapter:           opts.Adapter,
		metrics:           opts.Metrics,
		logger:            logger,
		debugBase:         opts.Debug,
		debug:             opts.Debug,
		graceTimeout:      grace,
		keepaliveInterval: opts.KeepaliveInterval,
		events:            make(chan Event, eventBufferSize),
		state:             StateIdle,
	}
	c.gate = newPlaybackGate(opts.Adapter, opts.Metrics, c.emit)
	return c, nil
}

// Start resolves the mode, opens the socket, transmits the settings payload
// and blocks until the connection is Ready (or ctx expires). Calling Start
// while a connection is already starting or running never opens a second
// socket: it resolves once the existing connection reaches Ready.
func (c *Client) Start(ctx context.Context, cfg ConnectionConfig) error {
	mode, err := ResolveMode(cfg)
	if err != nil {
		return err
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("endpoint is required: %w", ErrConfig)
	}

	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateOpen, StateSettingsSent:
		readyCh, done := c.readyCh, c.done
		c.mu.Unlock()
		return c.waitReady(ctx, readyCh, done)
	case StateReady:
		c.mu.Unlock()
		return nil
	case StateClosing:
		c.mu.Unlock()
		return ErrAlreadyConnecting
	}

	// Fresh start: reset every piece of per-connection state before the
	// first transition.
	c.termErr = nil
	c.cfg = cfg.clone()
	c.mode = mode
	c.connID = uuid.NewString()
	c.serverSessionID = ""
	c.snapshot.clear()
	c.transcriptSeen = false
	c.agentSeen = false
	c.gate.Reset()
	c.readyCh = make(chan struct{})
	c.done = make(chan struct{})
	c.doneClosed = false
	c.debug = c.debugBase || cfg.Debug
	connCtx, cancel := context.WithCancel(context.Background())
	c.connCancel = cancel
	c.setStateLocked(StateConnecting)
	c.emit(ModeResolvedEvent{Mode: mode})
	readyCh, done := c.readyCh, c.done
	endpoint, apiKey := c.cfg.Endpoint, c.cfg.APIKey
	c.mu.Unlock()

	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Token "+apiKey)
	}

	// Stop() aborts an in-flight dial through the per-connection context;
	// the caller's ctx only bounds the wait below.
	dialCtx, dialCancel := context.WithTimeout(connCtx, defaultConnectTimeout)
	conn, dialErr := c.dial(dialCtx, endpoint, header)
	dialCancel()
	if dialErr != nil {
		terr := &TransportError{Op: "dial", Err: dialErr}
		c.mu.Lock()
		switch c.state {
		case StateConnecting:
			c.terminateLocked(StateErrored, terr)
			c.emit(ErrorEvent{Source: "transport", Detail: terr.Error(), Fatal: true})
		case StateClosing:
			c.terminateLocked(StateClosed, nil)
		}
		c.mu.Unlock()
		return terr
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Stop() won the race while we were dialing.
		c.terminateLocked(StateClosed, nil)
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("start aborted by stop: %w", ErrNotReady)
	}
	c.conn = conn
	c.connectedAt = time.Now()
	c.metrics.ConnOpened()
	c.setStateLocked(StateOpen)
	payload, merr := json.Marshal(BuildSettings(c.mode, c.cfg))
	c.mu.Unlock()
	if merr != nil {
		c.failConnection(&ProtocolError{Frame: "settings", Err: merr})
		return merr
	}

	if err := c.writeText(payload); err != nil {
		terr := &TransportError{Op: "send settings", Err: err}
		c.failConnection(terr)
		return terr
	}
	c.metrics.IncFrameOut(string(protocol.TypeSettings))

	c.mu.Lock()
	if c.state == StateOpen {
		c.snapshot.capture(c.cfg)
		c.setStateLocked(StateSettingsSent)
		c.graceTimer = time.AfterFunc(c.graceTimeout, func() {
			c.markReady("grace_timer")
		})
	}
	c.mu.Unlock()

	go c.readLoop(conn)
	if c.keepaliveInterval > 0 {
		go c.keepaliveLoop(connCtx, c.keepaliveInterval)
	}

	return c.waitReady(ctx, readyCh, done)
}

func (c *Client) waitReady(ctx context.Context, readyCh, done <-chan struct{}) error {
	if readyCh == nil || done == nil {
		return ErrNotReady
	}
	select {
	case <-readyCh:
		return nil
	default:
	}
	select {
	case <-readyCh:
		return nil
	case <-done:
		// The connection may have died after reaching Ready; that start
		// still succeeded.
		select {
		case <-readyCh:
			return nil
		default:
		}
		c.mu.Lock()
		err := c.termErr
		c.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("connection closed before ready: %w", ErrNotReady)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markReady promotes SettingsSent to Ready and starts microphone capture.
func (c *Client) markReady(reason string) {
	c.mu.Lock()
	if c.state != StateSettingsSent {
		c.mu.Unlock()
		return
	}
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.setStateLocked(StateReady)
	c.metrics.ObserveTimeToReady(time.Since(c.connectedAt))
	if c.debugEnabled() {
		c.logf("ready (%s)", reason)
	}
	close(c.readyCh)
	c.capturing.Store(true)
	c.mu.Unlock()

	if err := c.adapter.StartCapture(c.onCaptureChunk); err != nil {
		c.logf("start capture: %v", err)
	}
}

// onCaptureChunk streams a microphone chunk upstream. Capture runs on its
// own timing source; only the capturing flag is consulted here, never the
// playback gate, so interrupting the agent does not mute the caller.
func (c *Client) onCaptureChunk(chunk []byte) {
	if !c.capturing.Load() {
		return
	}
	if err := c.writeBinary(chunk); err != nil {
		return
	}
	c.metrics.IncFrameOut("audio")
}

// Stop tears the connection down from any state, including Idle (no-op) and
// Errored (clears the error). It returns once the connection reaches Closed.
func (c *Client) Stop() error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateClosed:
		c.mu.Unlock()
		return nil
	case StateErrored:
		c.termErr = nil
		c.conn = nil
		c.setStateLocked(StateClosing)
		c.setStateLocked(StateClosed)
		c.mu.Unlock()
		return nil
	case StateClosing:
		done := c.done
		c.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	c.setStateLocked(StateClosing)
	c.capturing.Store(false)
	cancel := c.connCancel
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	c.adapter.StopCapture()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.closeConn(conn)
	}
	if conn != nil && done != nil {
		// The read loop observes the dead socket and completes the
		// Closing -> Closed transition.
		<-done
	} else {
		// Dial still in flight; Start's abort path completes the
		// transition.
		c.mu.Lock()
		if c.state == StateClosing && conn == nil && done == nil {
			c.terminateLocked(StateClosed, nil)
		}
		c.mu.Unlock()
		if done != nil {
			<-done
		}
	}
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	return nil
}

// InterruptAgent silences the agent immediately: the playback gate closes
// and queued audio is flushed before this returns. Microphone capture is
// unaffected.
func (c *Client) InterruptAgent() {
	c.gate.Interrupt()
}

// AllowAgent reopens the playback gate. Flushed audio is not resurrected;
// the agent is audible again from its next utterance.
func (c *Client) AllowAgent() {
	c.gate.Allow()
}

// UpdateAgentOptions retransmits the settings payload with new agent options
// when they differ by value from what was last sent. The connection must be
// Ready and the mode must include the agent leg; there is no queueing of
// updates for a connection that is still starting (callers get ErrNotReady
// and decide for themselves).
func (c *Client) UpdateAgentOptions(opts *protocol.AgentSettings) error {
	if opts == nil {
		return fmt.Errorf("agent options cannot be removed mid-connection: %w", ErrConfig)
	}
	return c.updateOptions(func(cfg *ConnectionConfig) {
		cfg.Agent = cloneAgent(opts)
	}, func(m Mode) bool { return m.IncludesAgent() }, "agent")
}

// UpdateTranscriptionOptions is the transcription-leg counterpart of
// UpdateAgentOptions.
func (c *Client) UpdateTranscriptionOptions(opts *protocol.TranscriptionSettings) error {
	if opts == nil {
		return fmt.Errorf("transcription options cannot be removed mid-connection: %w", ErrConfig)
	}
	return c.updateOptions(func(cfg *ConnectionConfig) {
		cfg.Transcription = cloneTranscription(opts)
	}, func(m Mode) bool { return m.IncludesTranscription() }, "transcription")
}

func (c *Client) updateOptions(apply func(*ConnectionConfig), legPresent func(Mode) bool, leg string) error {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return ErrNotReady
	}
	if !legPresent(c.mode) {
		c.mu.Unlock()
		return fmt.Errorf("mode %q has no %s leg: %w", c.mode, leg, ErrConfig)
	}
	next := c.cfg.clone()
	apply(&next)
	if !c.snapshot.changed(c.mode, next) {
		c.mu.Unlock()
		return nil
	}
	c.cfg = next
	payload, err := json.Marshal(BuildSettings(c.mode, next))
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := c.writeText(payload); err != nil {
		return &TransportError{Op: "resend settings", Err: err}
	}
	c.metrics.IncFrameOut(string(protocol.TypeSettings))
	c.metrics.IncSettingsResend()

	c.mu.Lock()
	if c.state == StateReady {
		c.snapshot.capture(c.cfg)
	}
	c.mu.Unlock()
	return nil
}

// failConnection moves an active connection to Errored and tears the socket
// down. Used for fatal upstream errors and write failures; the read loop's
// own exit is routed through handleDisconnect instead.
func (c *Client) failConnection(err error) {
	c.mu.Lock()
	conn := c.conn
	switch c.state {
	case StateIdle, StateClosed, StateErrored:
		c.mu.Unlock()
		return
	case StateClosing:
		// Stop() owns the teardown and may already be blocked on done. The
		// read loop that would normally finish the close may never have
		// started (settings marshal/write failures happen before it spawns),
		// so finish it here; terminateLocked is idempotent if it did.
		c.terminateLocked(StateClosed, nil)
		c.mu.Unlock()
		return
	default:
		c.terminateLocked(StateErrored, err)
	}
	c.mu.Unlock()

	c.adapter.StopCapture()
	if conn != nil {
		_ = conn.Close()
	}
}

// State reports the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mode reports the mode negotiated for the current connection.
func (c *Client) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// AgentSpeaking reports the agent speaking state.
func (c *Client) AgentSpeaking() AgentSpeakingState {
	return c.gate.Speaking()
}

// AudioAllowed reports whether agent playback is currently gated open.
func (c *Client) AudioAllowed() bool {
	return c.gate.AudioAllowed()
}

// ConnectionID is the client-chosen id for the current connection, used in
// logs and downstream archives.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// ServerSessionID is the id the backend assigned in its welcome frame.
func (c *Client) ServerSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverSessionID
}

func (c *Client) debugEnabled() bool { return c.debug }

func (c *Client) logf(format string, args ...any) {
	c.logger.Printf("voiceclient: "+format, args...)
}
