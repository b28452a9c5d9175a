package voiceclient

import (
	"sync"

	"github.com/reverb-labs/skald/internal/audio"
	"github.com/reverb-labs/skald/internal/observability"
)

// AgentSpeakingState tracks whether the agent is currently producing audible
// output. Owned by the playback gate; mutated only by agent audio boundary
// frames and by caller interrupt/allow calls.
type AgentSpeakingState string

const (
	SpeakingIdle        AgentSpeakingState = "idle"
	SpeakingActive      AgentSpeakingState = "speaking"
	SpeakingInterrupted AgentSpeakingState = "interrupted"
)

// playbackGate mediates between inbound agent audio and the playback side of
// the audio adapter. The frame router and the interrupt path consult the same
// gate, under the same mutex, so an interrupt can never lose the race against
// a concurrently arriving chunk: once Interrupt returns, the gate is closed
// and the queue is flushed, in that order.
type playbackGate struct {
	mu       sync.Mutex
	allowed  bool
	speaking AgentSpeakingState

	adapter audio.Adapter
	metrics *observability.Metrics
	emit    func(Event)
}

func newPlaybackGate(adapter audio.Adapter, metrics *observability.Metrics, emit func(Event)) *playbackGate {
	return &playbackGate{
		allowed:  true,
		speaking: SpeakingIdle,
		adapter:  adapter,
		metrics:  metrics,
		emit:     emit,
	}
}

// Reset restores the per-connection defaults; called on every fresh start.
func (g *playbackGate) Reset() {
	g.mu.Lock()
	g.allowed = true
	g.speaking = SpeakingIdle
	g.mu.Unlock()
}

// Interrupt closes the gate and flushes all queued and in-flight playback.
// Both take effect before this returns.
func (g *playbackGate) Interrupt() {
	g.mu.Lock()
	g.allowed = false
	wasSpeaking := g.speaking == SpeakingActive
	if wasSpeaking {
		g.speaking = SpeakingInterrupted
	}
	g.adapter.FlushPlayback()
	g.mu.Unlock()

	g.metrics.IncInterrupt()
	if wasSpeaking {
		g.emit(AgentSpeakingEvent{State: SpeakingInterrupted})
	}
}

// Allow reopens the gate. Nothing resumes by itself: flushed audio is gone,
// and playback restarts only when the backend sends fresh agent audio.
func (g *playbackGate) Allow() {
	g.mu.Lock()
	g.allowed = true
	wasInterrupted := g.speaking == SpeakingInterrupted
	if wasInterrupted {
		g.speaking = SpeakingIdle
	}
	g.mu.Unlock()

	if wasInterrupted {
		g.emit(AgentSpeakingEvent{State: SpeakingIdle})
	}
}

func (g *playbackGate) OnAgentAudioStart() {
	g.mu.Lock()
	changed := g.speaking != SpeakingActive
	g.speaking = SpeakingActive
	g.mu.Unlock()

	if changed {
		g.emit(AgentSpeakingEvent{State: SpeakingActive})
	}
}

// OnAgentAudioStop is a no-op while interrupted: the interrupt already
// silenced the utterance.
func (g *playbackGate) OnAgentAudioStop() {
	g.mu.Lock()
	changed := g.speaking == SpeakingActive
	if changed {
		g.speaking = SpeakingIdle
	}
	g.mu.Unlock()

	if changed {
		g.emit(AgentSpeakingEvent{State: SpeakingIdle})
	}
}

// OnAgentAudioChunk enqueues a playback chunk unless the gate is closed.
// Suppressed chunks are dropped, never buffered for replay.
func (g *playbackGate) OnAgentAudioChunk(chunk []byte) error {
	g.mu.Lock()
	if !g.allowed {
		g.mu.Unlock()
		g.metrics.AddDroppedPlaybackBytes(len(chunk))
		return nil
	}
	err := g.adapter.EnqueuePlayback(chunk)
	g.mu.Unlock()
	return err
}

func (g *playbackGate) Speaking() AgentSpeakingState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.speaking
}

func (g *playbackGate) AudioAllowed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowed
}
