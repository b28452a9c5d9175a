package fakebackend

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/reverb-labs/skald/internal/protocol"
)

const (
	defaultUtteranceBytes  = 16000 // half a second of 16 kHz PCM16
	defaultAgentChunkBytes = 3200
	defaultAgentChunks     = 4
)

var cannedTranscripts = []string{
	"tell me about the northern lights",
	"what is the weather like today",
	"read me the last message",
	"set a timer for ten minutes",
}

// streamSession drives one simulated connection: it acknowledges settings,
// turns caller audio into transcripts and, when the agent leg is on, answers
// each utterance with a synthesized agent turn.
type streamSession struct {
	id       string
	conn     *websocket.Conn
	behavior Behavior
	logger   *log.Logger

	writeMu sync.Mutex

	settings   *protocol.Settings
	audioBytes int
	utterances int
}

func newStreamSession(conn *websocket.Conn, behavior Behavior, logger *log.Logger) *streamSession {
	if behavior.UtteranceBytes <= 0 {
		behavior.UtteranceBytes = defaultUtteranceBytes
	}
	if behavior.AgentChunkBytes <= 0 {
		behavior.AgentChunkBytes = defaultAgentChunkBytes
	}
	if behavior.AgentChunkCount <= 0 {
		behavior.AgentChunkCount = defaultAgentChunks
	}
	return &streamSession{
		id:       uuid.NewString(),
		conn:     conn,
		behavior: behavior,
		logger:   logger,
	}
}

func (s *streamSession) run() {
	if err := s.writeJSON(protocol.Welcome{Type: protocol.TypeWelcome, SessionID: s.id}); err != nil {
		return
	}

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.TextMessage:
			if err := s.handleText(data); err != nil {
				return
			}
		case websocket.BinaryMessage:
			if err := s.handleAudio(data); err != nil {
				return
			}
		}
	}
}

func (s *streamSession) handleText(data []byte) error {
	msg, err := protocol.ParseClientFrame(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupportedType) {
			return nil
		}
		s.logger.Printf("fakebackend: session %s: invalid frame: %v", s.id, err)
		return s.writeJSON(protocol.ErrorFrame{
			Type:   protocol.TypeError,
			Code:   "invalid_frame",
			Detail: err.Error(),
		})
	}

	switch frame := msg.(type) {
	case protocol.Settings:
		if s.behavior.RejectSettingsCode != "" {
			return s.writeJSON(protocol.ErrorFrame{
				Type:   protocol.TypeError,
				Code:   s.behavior.RejectSettingsCode,
				Detail: "settings rejected by script",
			})
		}
		s.settings = &frame
		if s.behavior.OmitSettingsApplied {
			return nil
		}
		return s.writeJSON(protocol.SettingsApplied{Type: protocol.TypeSettingsApplied})
	case protocol.Keepalive:
		return nil
	}
	return nil
}

// handleAudio accumulates caller audio until a full utterance is buffered,
// then emits the scripted results for it.
func (s *streamSession) handleAudio(data []byte) error {
	if s.settings == nil {
		return nil
	}
	s.audioBytes += len(data)
	if s.audioBytes < s.behavior.UtteranceBytes {
		return nil
	}
	s.audioBytes = 0
	return s.emitUtterance()
}

func (s *streamSession) emitUtterance() error {
	text := cannedTranscripts[s.utterances%len(cannedTranscripts)]
	s.utterances++
	now := time.Now().UnixMilli()

	vadOn := s.settings.Agent != nil && s.settings.Agent.VadEvents
	if vadOn {
		if err := s.writeJSON(protocol.Vad{Type: protocol.TypeVad, Phase: protocol.VadSpeechStart, TSMs: now}); err != nil {
			return err
		}
	}

	if s.settings.Transcription != nil {
		if s.settings.Transcription.InterimResults {
			interim := protocol.Transcript{
				Type:       protocol.TypeTranscript,
				Text:       text[:len(text)/2],
				Confidence: 0.62,
				TSMs:       now,
			}
			if err := s.writeJSON(interim); err != nil {
				return err
			}
		}
		final := protocol.Transcript{
			Type:       protocol.TypeTranscript,
			Text:       text,
			IsFinal:    true,
			Confidence: 0.94,
			TSMs:       now,
		}
		if err := s.writeJSON(final); err != nil {
			return err
		}
	}

	if vadOn {
		if err := s.writeJSON(protocol.Vad{Type: protocol.TypeVad, Phase: protocol.VadSpeechEnd, TSMs: now}); err != nil {
			return err
		}
	}

	if s.settings.Agent != nil {
		return s.emitAgentTurn(text)
	}
	return nil
}

// emitAgentTurn synthesizes one agent response: text, an audio start marker,
// the audio itself as binary frames, and the done marker.
func (s *streamSession) emitAgentTurn(heard string) error {
	reply := s.behavior.AgentReply
	if reply == "" {
		reply = fmt.Sprintf("you said: %s", heard)
	}

	if err := s.writeJSON(protocol.AgentText{Type: protocol.TypeAgentText, Text: reply, IsFinal: true}); err != nil {
		return err
	}
	if err := s.writeJSON(protocol.AgentAudioStart{
		Type:       protocol.TypeAgentAudioStart,
		Format:     "pcm16",
		SampleRate: 16000,
	}); err != nil {
		return err
	}
	chunk := make([]byte, s.behavior.AgentChunkBytes)
	for i := 0; i < s.behavior.AgentChunkCount; i++ {
		if err := s.writeBinary(chunk); err != nil {
			return err
		}
		if s.behavior.ChunkDelay > 0 {
			time.Sleep(s.behavior.ChunkDelay)
		}
	}
	return s.writeJSON(protocol.AgentAudioDone{Type: protocol.TypeAgentAudioDone})
}

func (s *streamSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(v)
}

func (s *streamSession) writeBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}
