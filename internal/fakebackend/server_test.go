package fakebackend

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reverb-labs/skald/internal/protocol"
)

func newWSClient(t *testing.T, behavior Behavior) *websocket.Conn {
	t.Helper()
	srv := New(behavior, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// readFrame returns the next parsed text frame, or a nil frame plus the byte
// length of the next binary frame.
func readFrame(t *testing.T, conn *websocket.Conn) (any, int) {
	t.Helper()
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if messageType == websocket.BinaryMessage {
		return nil, len(data)
	}
	msg, err := protocol.ParseServerFrame(data)
	if err != nil {
		t.Fatalf("parse %s: %v", data, err)
	}
	return msg, 0
}

func mustWelcome(t *testing.T, conn *websocket.Conn) protocol.Welcome {
	t.Helper()
	msg, _ := readFrame(t, conn)
	welcome, ok := msg.(protocol.Welcome)
	if !ok {
		t.Fatalf("first frame = %T, want Welcome", msg)
	}
	return welcome
}

func sendSettings(t *testing.T, conn *websocket.Conn, settings protocol.Settings) {
	t.Helper()
	settings.Type = protocol.TypeSettings
	if err := conn.WriteJSON(settings); err != nil {
		t.Fatalf("send settings: %v", err)
	}
}

func TestSessionAcknowledgesSettings(t *testing.T) {
	conn := newWSClient(t, Behavior{})

	welcome := mustWelcome(t, conn)
	if welcome.SessionID == "" {
		t.Error("welcome must carry a session id")
	}

	sendSettings(t, conn, protocol.Settings{
		Mode:          "transcription",
		Transcription: &protocol.TranscriptionSettings{Model: "nova-2"},
	})

	msg, _ := readFrame(t, conn)
	if _, ok := msg.(protocol.SettingsApplied); !ok {
		t.Fatalf("frame = %T, want SettingsApplied", msg)
	}
}

func TestSessionRejectsSettingsWhenScripted(t *testing.T) {
	conn := newWSClient(t, Behavior{RejectSettingsCode: "settings_rejected"})

	mustWelcome(t, conn)
	sendSettings(t, conn, protocol.Settings{
		Mode:          "transcription",
		Transcription: &protocol.TranscriptionSettings{Model: "nova-2"},
	})

	msg, _ := readFrame(t, conn)
	errFrame, ok := msg.(protocol.ErrorFrame)
	if !ok {
		t.Fatalf("frame = %T, want ErrorFrame", msg)
	}
	if errFrame.Code != "settings_rejected" {
		t.Errorf("code = %q", errFrame.Code)
	}
}

func TestSessionTranscribesCallerAudio(t *testing.T) {
	conn := newWSClient(t, Behavior{UtteranceBytes: 3200})

	mustWelcome(t, conn)
	sendSettings(t, conn, protocol.Settings{
		Mode:          "transcription",
		Transcription: &protocol.TranscriptionSettings{Model: "nova-2", InterimResults: true},
	})
	if msg, _ := readFrame(t, conn); msg == nil {
		t.Fatal("expected settings_applied")
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 3200)); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	msg, _ := readFrame(t, conn)
	interim, ok := msg.(protocol.Transcript)
	if !ok || interim.IsFinal {
		t.Fatalf("frame = %+v, want interim transcript", msg)
	}
	msg, _ = readFrame(t, conn)
	final, ok := msg.(protocol.Transcript)
	if !ok || !final.IsFinal {
		t.Fatalf("frame = %+v, want final transcript", msg)
	}
	if final.Text == "" || final.Confidence == 0 {
		t.Errorf("final transcript = %+v", final)
	}
}

func TestSessionAnswersWithAgentTurn(t *testing.T) {
	conn := newWSClient(t, Behavior{
		UtteranceBytes:  3200,
		AgentReply:      "certainly",
		AgentChunkBytes: 1600,
		AgentChunkCount: 3,
	})

	mustWelcome(t, conn)
	sendSettings(t, conn, protocol.Settings{
		Mode:  "agent",
		Agent: &protocol.AgentSettings{Voice: "aria"},
	})
	if msg, _ := readFrame(t, conn); msg == nil {
		t.Fatal("expected settings_applied")
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 3200)); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	msg, _ := readFrame(t, conn)
	text, ok := msg.(protocol.AgentText)
	if !ok || text.Text != "certainly" {
		t.Fatalf("frame = %+v, want agent text", msg)
	}
	if msg, _ := readFrame(t, conn); msg == nil {
		t.Fatal("expected agent_audio_start")
	}
	audioBytes := 0
	for {
		msg, n := readFrame(t, conn)
		if msg == nil {
			audioBytes += n
			continue
		}
		if _, ok := msg.(protocol.AgentAudioDone); ok {
			break
		}
		t.Fatalf("unexpected frame during agent audio: %+v", msg)
	}
	if audioBytes != 4800 {
		t.Errorf("agent audio = %d bytes, want 4800", audioBytes)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := New(Behavior{}, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
