package audio

import (
	"sync"
	"time"
)

// FileSource replays a mono PCM16 WAV file as if it were a microphone,
// emitting fixed-duration chunks on a real-time ticker.
type FileSource struct {
	chunks   [][]byte
	interval time.Duration
	loop     bool

	mu   sync.Mutex
	stop chan struct{}
}

func NewFileSource(path string, chunk time.Duration, loop bool) (*FileSource, int, error) {
	pcm, sampleRate, err := ReadWAVPCM16LEFile(path)
	if err != nil {
		return nil, 0, err
	}
	return &FileSource{
		chunks:   SplitChunks(pcm, sampleRate, chunk),
		interval: chunk,
		loop:     loop,
	}, sampleRate, nil
}

func (s *FileSource) Start(onChunk func(chunk []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	stop := make(chan struct{})
	s.stop = stop

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if i >= len(s.chunks) {
					if !s.loop {
						return
					}
					i = 0
				}
				if len(s.chunks) == 0 {
					return
				}
				onChunk(s.chunks[i])
				i++
			}
		}
	}()
	return nil
}

func (s *FileSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// NewSilenceSource is a capture source that loops silent PCM16 frames at the
// real-time rate; used when no input file is configured.
func NewSilenceSource(sampleRate int, chunk time.Duration) *FileSource {
	samples := int(float64(sampleRate) * chunk.Seconds())
	if samples < 1 {
		samples = 1
	}
	return &FileSource{
		chunks:   [][]byte{make([]byte, samples*bytesPerSample)},
		interval: chunk,
		loop:     true,
	}
}

// StaticSource emits a fixed set of chunks immediately; used in tests where
// real-time pacing is noise.
type StaticSource struct {
	Chunks [][]byte
}

func (s *StaticSource) Start(onChunk func(chunk []byte)) error {
	for _, c := range s.Chunks {
		onChunk(c)
	}
	return nil
}

func (s *StaticSource) Stop() {}
