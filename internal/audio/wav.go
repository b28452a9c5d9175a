package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	wavHeaderSize  = 44
	bytesPerSample = 2 // PCM16LE mono
)

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	out := make([]byte, 0, wavHeaderSize+len(pcm))
	buf := bytes.NewBuffer(out)
	writeWAVHeader(buf, len(pcm), sampleRate)
	buf.Write(pcm)
	return buf.Bytes()
}

// WriteWAVPCM16LEFile writes raw PCM16LE mono audio bytes as a WAV file.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	return os.WriteFile(path, EncodeWAVPCM16LE(pcm, sampleRate), 0o644)
}

func writeWAVHeader(w *bytes.Buffer, dataSize, sampleRate int) {
	byteRate := uint32(sampleRate * bytesPerSample)

	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, uint32(36+dataSize))
	w.WriteString("WAVE")

	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16))
	binary.Write(w, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(w, binary.LittleEndian, uint16(1)) // mono
	binary.Write(w, binary.LittleEndian, uint32(sampleRate))
	binary.Write(w, binary.LittleEndian, byteRate)
	binary.Write(w, binary.LittleEndian, uint16(bytesPerSample))
	binary.Write(w, binary.LittleEndian, uint16(16))

	w.WriteString("data")
	binary.Write(w, binary.LittleEndian, uint32(dataSize))
}

// DecodeWAVPCM16LE extracts PCM16LE mono samples and the sample rate from a
// WAV stream. Only uncompressed 16-bit mono is accepted.
func DecodeWAVPCM16LE(r io.Reader) ([]byte, int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if len(raw) < wavHeaderSize || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF/WAVE stream")
	}

	var (
		sampleRate int
		pcm        []byte
		sawFmt     bool
	)
	off := 12
	for off+8 <= len(raw) {
		chunkID := string(raw[off : off+4])
		chunkLen := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if body+chunkLen > len(raw) {
			return nil, 0, fmt.Errorf("truncated %q chunk", chunkID)
		}
		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, 0, errors.New("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(raw[body : body+2])
			channels := binary.LittleEndian.Uint16(raw[body+2 : body+4])
			bits := binary.LittleEndian.Uint16(raw[body+14 : body+16])
			if format != 1 || channels != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("unsupported wav format (pcm=%d channels=%d bits=%d)", format, channels, bits)
			}
			sampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			sawFmt = true
		case "data":
			pcm = raw[body : body+chunkLen]
		}
		// Chunks are word-aligned.
		off = body + chunkLen + chunkLen%2
	}

	if !sawFmt || pcm == nil {
		return nil, 0, errors.New("missing fmt or data chunk")
	}
	return pcm, sampleRate, nil
}

// ReadWAVPCM16LEFile reads a mono PCM16 WAV file from disk.
func ReadWAVPCM16LEFile(path string) ([]byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return DecodeWAVPCM16LE(f)
}

// SplitChunks slices PCM16LE mono audio into fixed-duration capture chunks.
// The final chunk may be shorter.
func SplitChunks(pcm []byte, sampleRate int, chunk time.Duration) [][]byte {
	if sampleRate <= 0 || chunk <= 0 || len(pcm) == 0 {
		return nil
	}
	size := int(float64(sampleRate)*chunk.Seconds()) * bytesPerSample
	if size <= 0 {
		return nil
	}
	if size%2 != 0 {
		size++
	}
	var out [][]byte
	for off := 0; off < len(pcm); off += size {
		end := off + size
		if end > len(pcm) {
			end = len(pcm)
		}
		out = append(out, pcm[off:end])
	}
	return out
}
