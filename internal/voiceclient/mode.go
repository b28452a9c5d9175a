package voiceclient

import (
	"fmt"
	"reflect"

	"github.com/reverb-labs/skald/internal/protocol"
)

// Mode is the capability set a connection negotiates for its lifetime.
// Changing mode requires tearing the connection down and starting fresh.
type Mode string

const (
	ModeTranscriptionOnly Mode = "transcription"
	ModeAgentOnly         Mode = "agent"
	ModeDual              Mode = "dual"
)

func (m Mode) IncludesTranscription() bool {
	return m == ModeTranscriptionOnly || m == ModeDual
}

func (m Mode) IncludesAgent() bool {
	return m == ModeAgentOnly || m == ModeDual
}

// ConnectionConfig is the caller-supplied configuration for one connection.
// At least one of Transcription/Agent must be present; which ones are present
// determines the mode.
type ConnectionConfig struct {
	Endpoint string
	APIKey   string
	Debug    bool

	Transcription *protocol.TranscriptionSettings
	Agent         *protocol.AgentSettings
}

func (cfg ConnectionConfig) clone() ConnectionConfig {
	out := cfg
	out.Transcription = cloneTranscription(cfg.Transcription)
	out.Agent = cloneAgent(cfg.Agent)
	return out
}

func cloneTranscription(t *protocol.TranscriptionSettings) *protocol.TranscriptionSettings {
	if t == nil {
		return nil
	}
	out := *t
	if t.Keywords != nil {
		out.Keywords = append([]string(nil), t.Keywords...)
	}
	return &out
}

func cloneAgent(a *protocol.AgentSettings) *protocol.AgentSettings {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

// ResolveMode derives the operating mode from which option records are
// present. Pure; no side effects.
func ResolveMode(cfg ConnectionConfig) (Mode, error) {
	switch {
	case cfg.Transcription != nil && cfg.Agent != nil:
		return ModeDual, nil
	case cfg.Agent != nil:
		return ModeAgentOnly, nil
	case cfg.Transcription != nil:
		return ModeTranscriptionOnly, nil
	default:
		return "", fmt.Errorf("neither transcription nor agent options present: %w", ErrConfig)
	}
}

// BuildSettings assembles the outbound settings payload for a mode. It is
// deterministic: structurally equal input always marshals to identical bytes.
func BuildSettings(mode Mode, cfg ConnectionConfig) protocol.Settings {
	s := protocol.Settings{
		Type: protocol.TypeSettings,
		Mode: string(mode),
	}
	if mode.IncludesTranscription() {
		s.Transcription = cloneTranscription(cfg.Transcription)
	}
	if mode.IncludesAgent() {
		s.Agent = cloneAgent(cfg.Agent)
	}
	return s
}

// optionsSnapshot retains the last-sent option records so that a later update
// can be diffed by value, not by reference. The captured flag distinguishes
// "never sent" from "sent with empty options".
type optionsSnapshot struct {
	captured      bool
	transcription *protocol.TranscriptionSettings
	agent         *protocol.AgentSettings
}

// capture records the option records that were just transmitted.
func (s *optionsSnapshot) capture(cfg ConnectionConfig) {
	s.captured = true
	s.transcription = cloneTranscription(cfg.Transcription)
	s.agent = cloneAgent(cfg.Agent)
}

func (s *optionsSnapshot) clear() {
	*s = optionsSnapshot{}
}

// changed reports whether the option records relevant to the current mode
// differ by deep value from what was last sent. Before the first settings
// send there is nothing to diff against, and Ready-gated callers cannot reach
// that window.
func (s *optionsSnapshot) changed(mode Mode, cfg ConnectionConfig) bool {
	if !s.captured {
		return false
	}
	if mode.IncludesTranscription() && !reflect.DeepEqual(s.transcription, cfg.Transcription) {
		return true
	}
	if mode.IncludesAgent() && !reflect.DeepEqual(s.agent, cfg.Agent) {
		return true
	}
	return false
}
