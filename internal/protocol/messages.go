package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client -> server.
	TypeSettings  MessageType = "settings"
	TypeKeepalive MessageType = "keepalive"

	// Server -> client.
	TypeWelcome         MessageType = "welcome"
	TypeSettingsApplied MessageType = "settings_applied"
	TypeTranscript      MessageType = "transcript"
	TypeAgentText       MessageType = "agent_text"
	TypeAgentAudioStart MessageType = "agent_audio_start"
	TypeAgentAudioDone  MessageType = "agent_audio_done"
	TypeVad             MessageType = "vad"
	TypeError           MessageType = "error"
)

// VAD phases reported by the backend.
const (
	VadSpeechStart = "speech_start"
	VadSpeechEnd   = "speech_end"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// TranscriptionSettings configures the speech-to-text leg of a session.
type TranscriptionSettings struct {
	Model          string   `json:"model,omitempty"`
	Language       string   `json:"language,omitempty"`
	SampleRate     int      `json:"sample_rate,omitempty"`
	InterimResults bool     `json:"interim_results,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
}

// AgentSettings configures the conversational-agent leg of a session.
type AgentSettings struct {
	Voice       string  `json:"voice,omitempty"`
	Model       string  `json:"model,omitempty"`
	Greeting    string  `json:"greeting,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	VadEvents   bool    `json:"vad_events,omitempty"`
}

// Settings is the single configuration envelope sent once a connection opens.
// Exactly the sub-records matching the negotiated mode are present.
type Settings struct {
	Type          MessageType            `json:"type"`
	Mode          string                 `json:"mode"`
	Transcription *TranscriptionSettings `json:"transcription,omitempty"`
	Agent         *AgentSettings         `json:"agent,omitempty"`
}

type Keepalive struct {
	Type MessageType `json:"type"`
}

type Welcome struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type SettingsApplied struct {
	Type MessageType `json:"type"`
}

type Transcript struct {
	Type       MessageType `json:"type"`
	Text       string      `json:"text"`
	IsFinal    bool        `json:"is_final"`
	Confidence float64     `json:"confidence"`
	TSMs       int64       `json:"ts_ms"`
}

type AgentText struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	IsFinal bool        `json:"is_final"`
}

// AgentAudioStart marks the beginning of an agent utterance. Until the
// matching agent_audio_done, binary websocket frames carry its audio.
type AgentAudioStart struct {
	Type       MessageType `json:"type"`
	Format     string      `json:"format"`
	SampleRate int         `json:"sample_rate"`
}

type AgentAudioDone struct {
	Type MessageType `json:"type"`
}

type Vad struct {
	Type  MessageType `json:"type"`
	Phase string      `json:"phase"`
	TSMs  int64       `json:"ts_ms"`
}

type ErrorFrame struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

// ParseServerFrame decodes a text frame received from the backend.
// Frames with an unrecognized type return ErrUnsupportedType so callers can
// drop them without tearing down the connection.
func ParseServerFrame(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeWelcome:
		var msg Welcome
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeSettingsApplied:
		var msg SettingsApplied
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeTranscript:
		var msg Transcript
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAgentText:
		var msg AgentText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAgentAudioStart:
		var msg AgentAudioStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAgentAudioDone:
		var msg AgentAudioDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeVad:
		var msg Vad
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Phase != VadSpeechStart && msg.Phase != VadSpeechEnd {
			return nil, fmt.Errorf("invalid vad phase %q", msg.Phase)
		}
		return msg, nil
	case TypeError:
		var msg ErrorFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Code == "" {
			return nil, errors.New("invalid error frame: missing code")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ParseClientFrame decodes a text frame received from a client. Used by the
// backend simulator and by backend-side tooling.
func ParseClientFrame(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSettings:
		var msg Settings
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Transcription == nil && msg.Agent == nil {
			return nil, errors.New("invalid settings: no option records")
		}
		return msg, nil
	case TypeKeepalive:
		var msg Keepalive
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
