package voiceclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/reverb-labs/skald/internal/protocol"
)

func TestResolveMode(t *testing.T) {
	transcription := &protocol.TranscriptionSettings{Model: "nova-2"}
	agent := &protocol.AgentSettings{Voice: "aria"}

	tests := []struct {
		name    string
		cfg     ConnectionConfig
		want    Mode
		wantErr bool
	}{
		{"both records", ConnectionConfig{Transcription: transcription, Agent: agent}, ModeDual, false},
		{"agent only", ConnectionConfig{Agent: agent}, ModeAgentOnly, false},
		{"transcription only", ConnectionConfig{Transcription: transcription}, ModeTranscriptionOnly, false},
		{"neither", ConnectionConfig{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveMode(tt.cfg)
			if tt.wantErr {
				if !errors.Is(err, ErrConfig) {
					t.Fatalf("err = %v, want ErrConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("mode = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModeCapabilities(t *testing.T) {
	if !ModeDual.IncludesTranscription() || !ModeDual.IncludesAgent() {
		t.Error("dual mode must include both legs")
	}
	if !ModeTranscriptionOnly.IncludesTranscription() || ModeTranscriptionOnly.IncludesAgent() {
		t.Error("transcription mode must include exactly the transcription leg")
	}
	if ModeAgentOnly.IncludesTranscription() || !ModeAgentOnly.IncludesAgent() {
		t.Error("agent mode must include exactly the agent leg")
	}
}

func TestBuildSettingsDeterministic(t *testing.T) {
	cfg := ConnectionConfig{
		Transcription: &protocol.TranscriptionSettings{
			Model:          "nova-2",
			Language:       "en",
			SampleRate:     16000,
			InterimResults: true,
			Keywords:       []string{"skald", "reverb"},
		},
		Agent: &protocol.AgentSettings{Voice: "aria", Temperature: 0.4},
	}

	first, err := json.Marshal(BuildSettings(ModeDual, cfg))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := json.Marshal(BuildSettings(ModeDual, cfg))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("payloads differ:\n%s\n%s", first, second)
	}
}

func TestBuildSettingsFiltersByMode(t *testing.T) {
	cfg := ConnectionConfig{
		Transcription: &protocol.TranscriptionSettings{Model: "nova-2"},
		Agent:         &protocol.AgentSettings{Voice: "aria"},
	}

	agentOnly := BuildSettings(ModeAgentOnly, cfg)
	if agentOnly.Transcription != nil {
		t.Error("agent-only settings must not carry a transcription record")
	}
	if agentOnly.Agent == nil || agentOnly.Agent.Voice != "aria" {
		t.Errorf("agent record = %+v", agentOnly.Agent)
	}

	transcriptionOnly := BuildSettings(ModeTranscriptionOnly, cfg)
	if transcriptionOnly.Agent != nil {
		t.Error("transcription-only settings must not carry an agent record")
	}
	if transcriptionOnly.Mode != string(ModeTranscriptionOnly) {
		t.Errorf("mode = %q", transcriptionOnly.Mode)
	}
}

func TestBuildSettingsClonesRecords(t *testing.T) {
	cfg := ConnectionConfig{
		Transcription: &protocol.TranscriptionSettings{Keywords: []string{"one"}},
		Agent:         &protocol.AgentSettings{Voice: "aria"},
	}
	s := BuildSettings(ModeDual, cfg)
	s.Transcription.Keywords[0] = "mutated"
	s.Agent.Voice = "mutated"
	if cfg.Transcription.Keywords[0] != "one" || cfg.Agent.Voice != "aria" {
		t.Error("BuildSettings must not alias the caller's option records")
	}
}

func TestOptionsSnapshotChanged(t *testing.T) {
	base := ConnectionConfig{
		Transcription: &protocol.TranscriptionSettings{Model: "nova-2", Keywords: []string{"skald"}},
		Agent:         &protocol.AgentSettings{Voice: "aria"},
	}

	var snap optionsSnapshot
	if snap.changed(ModeDual, base) {
		t.Error("uncaptured snapshot must report no change")
	}

	snap.capture(base)

	// Same values behind fresh pointers: no change.
	same := base.clone()
	if snap.changed(ModeDual, same) {
		t.Error("value-equal options must not count as changed")
	}

	voiceChange := base.clone()
	voiceChange.Agent.Voice = "odin"
	if !snap.changed(ModeDual, voiceChange) {
		t.Error("agent voice change must count as changed")
	}

	keywordChange := base.clone()
	keywordChange.Transcription.Keywords = append(keywordChange.Transcription.Keywords, "runes")
	if !snap.changed(ModeDual, keywordChange) {
		t.Error("keyword change must count as changed")
	}

	// Changes outside the mode's legs are invisible.
	if snap.changed(ModeAgentOnly, keywordChange) {
		t.Error("transcription change must be invisible to agent-only mode")
	}
}
