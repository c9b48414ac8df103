package capture

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// blockBuffer slices a PCM16 byte stream into fixed-size sample blocks. It is
// fed from a device callback, so push never blocks: when the consumer falls
// behind whole blocks are dropped.
type blockBuffer struct {
	size   int
	blocks chan []int16

	mu      sync.Mutex
	pending []int16
	closed  bool

	dropped atomic.Int64
}

func newBlockBuffer(size, queue int) *blockBuffer {
	if size <= 0 {
		size = DefaultBlockSize
	}
	if queue <= 0 {
		queue = 8
	}
	return &blockBuffer{
		size:    size,
		blocks:  make(chan []int16, queue),
		pending: make([]int16, 0, size),
	}
}

func (b *blockBuffer) push(pcm []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		b.pending = append(b.pending, int16(binary.LittleEndian.Uint16(pcm[i:])))
		if len(b.pending) == b.size {
			select {
			case b.blocks <- b.pending:
			default:
				b.dropped.Add(1)
			}
			b.pending = make([]int16, 0, b.size)
		}
	}
}

func (b *blockBuffer) Blocks() <-chan []int16 { return b.blocks }

// Dropped reports blocks discarded because the consumer was behind.
func (b *blockBuffer) Dropped() int64 { return b.dropped.Load() }

func (b *blockBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.blocks)
}
