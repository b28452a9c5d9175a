package audio

import (
	"errors"
	"sync"
)

// Adapter is the device boundary for the streaming client: playback of agent
// audio on one side, microphone capture on the other. Implementations own the
// actual device APIs; the client only ever talks to this interface.
type Adapter interface {
	EnqueuePlayback(chunk []byte) error
	FlushPlayback()
	StartCapture(onChunk func(chunk []byte)) error
	StopCapture()
}

// ChunkSource produces capture chunks on its own timing source (hardware
// callback, ticker, file reader). Start must not block.
type ChunkSource interface {
	Start(onChunk func(chunk []byte)) error
	Stop()
}

var ErrPlayerClosed = errors.New("playback queue closed")

// QueuePlayer is an in-memory Adapter used by the CLI and tests. Playback
// chunks accumulate in a queue that a consumer drains at its own pace; flush
// discards everything queued, including a chunk already handed out.
type QueuePlayer struct {
	mu       sync.Mutex
	queue    [][]byte
	enqueued int64
	flushes  int
	closed   bool
	source   ChunkSource
}

func NewQueuePlayer(source ChunkSource) *QueuePlayer {
	return &QueuePlayer{source: source}
}

func (p *QueuePlayer) EnqueuePlayback(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayerClosed
	}
	p.queue = append(p.queue, append([]byte(nil), chunk...))
	p.enqueued += int64(len(chunk))
	return nil
}

func (p *QueuePlayer) FlushPlayback() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = nil
	p.flushes++
}

// DequeuePlayback hands the oldest queued chunk to the playback consumer.
func (p *QueuePlayer) DequeuePlayback() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, false
	}
	chunk := p.queue[0]
	p.queue = p.queue[1:]
	return chunk, true
}

// BufferedBytes reports how much audio is waiting to be played.
func (p *QueuePlayer) BufferedBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.queue {
		n += len(c)
	}
	return n
}

// EnqueuedBytes reports the total bytes ever accepted, flushed or not.
func (p *QueuePlayer) EnqueuedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enqueued
}

// Flushes reports how many times the queue was flushed.
func (p *QueuePlayer) Flushes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushes
}

func (p *QueuePlayer) StartCapture(onChunk func(chunk []byte)) error {
	if p.source == nil {
		return errors.New("no capture source configured")
	}
	return p.source.Start(onChunk)
}

func (p *QueuePlayer) StopCapture() {
	if p.source != nil {
		p.source.Stop()
	}
}

// Close rejects further playback; capture is stopped separately.
func (p *QueuePlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.queue = nil
}
