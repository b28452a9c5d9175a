package protocol

import (
	"errors"
	"testing"
)

func TestParseServerFrameTranscript(t *testing.T) {
	raw := []byte(`{"type":"transcript","text":"hello there","is_final":true,"confidence":0.93,"ts_ms":1250}`)
	msg, err := ParseServerFrame(raw)
	if err != nil {
		t.Fatalf("ParseServerFrame() error = %v", err)
	}

	tr, ok := msg.(Transcript)
	if !ok {
		t.Fatalf("message type = %T, want Transcript", msg)
	}
	if tr.Text != "hello there" || !tr.IsFinal {
		t.Fatalf("unexpected transcript: %+v", tr)
	}
	if tr.Confidence != 0.93 || tr.TSMs != 1250 {
		t.Fatalf("unexpected transcript metadata: %+v", tr)
	}
}

func TestParseServerFrameAgentAudioStart(t *testing.T) {
	raw := []byte(`{"type":"agent_audio_start","format":"pcm16","sample_rate":24000}`)
	msg, err := ParseServerFrame(raw)
	if err != nil {
		t.Fatalf("ParseServerFrame() error = %v", err)
	}

	start, ok := msg.(AgentAudioStart)
	if !ok {
		t.Fatalf("message type = %T, want AgentAudioStart", msg)
	}
	if start.Format != "pcm16" || start.SampleRate != 24000 {
		t.Fatalf("unexpected audio start: %+v", start)
	}
}

func TestParseServerFrameVad(t *testing.T) {
	raw := []byte(`{"type":"vad","phase":"speech_start","ts_ms":40}`)
	msg, err := ParseServerFrame(raw)
	if err != nil {
		t.Fatalf("ParseServerFrame() error = %v", err)
	}

	vad, ok := msg.(Vad)
	if !ok {
		t.Fatalf("message type = %T, want Vad", msg)
	}
	if vad.Phase != VadSpeechStart {
		t.Fatalf("Phase = %q, want %q", vad.Phase, VadSpeechStart)
	}
}

func TestParseServerFrameRejectsInvalidVadPhase(t *testing.T) {
	if _, err := ParseServerFrame([]byte(`{"type":"vad","phase":"humming"}`)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseServerFrameRejectsUnknownType(t *testing.T) {
	_, err := ParseServerFrame([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseServerFrameRejectsErrorWithoutCode(t *testing.T) {
	if _, err := ParseServerFrame([]byte(`{"type":"error","detail":"boom"}`)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientFrameSettings(t *testing.T) {
	raw := []byte(`{"type":"settings","mode":"dual","transcription":{"model":"nova-2"},"agent":{"voice":"aria"}}`)
	msg, err := ParseClientFrame(raw)
	if err != nil {
		t.Fatalf("ParseClientFrame() error = %v", err)
	}

	s, ok := msg.(Settings)
	if !ok {
		t.Fatalf("message type = %T, want Settings", msg)
	}
	if s.Mode != "dual" || s.Transcription.Model != "nova-2" || s.Agent.Voice != "aria" {
		t.Fatalf("unexpected settings: %+v", s)
	}
}

func TestParseClientFrameRejectsEmptySettings(t *testing.T) {
	if _, err := ParseClientFrame([]byte(`{"type":"settings","mode":"dual"}`)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientFrameRejectsServerTypes(t *testing.T) {
	_, err := ParseClientFrame([]byte(`{"type":"transcript","text":"hi"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func BenchmarkParseServerFrameTranscript(b *testing.B) {
	raw := []byte(`{"type":"transcript","text":"the quick brown fox","is_final":false,"confidence":0.71,"ts_ms":98765}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseServerFrame(raw)
		if err != nil {
			b.Fatalf("ParseServerFrame() error = %v", err)
		}
		if _, ok := msg.(Transcript); !ok {
			b.Fatalf("message type = %T, want Transcript", msg)
		}
	}
}
