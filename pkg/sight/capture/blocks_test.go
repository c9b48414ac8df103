package capture

import (
	"testing"

	"github.com/vango-go/vai-sight/pkg/sight/codec"
)

func TestBlockBuffer_EmitsFixedBlocks(t *testing.T) {
	b := newBlockBuffer(4, 4)
	samples := []int16{1, 2, 3, 4, 5, 6, 7, 8, 9}
	raw := codec.SamplesToBytes(samples)

	b.push(raw[:6])
	b.push(raw[6:])

	first := <-b.Blocks()
	second := <-b.Blocks()
	if len(first) != 4 || first[0] != 1 || first[3] != 4 {
		t.Fatalf("first block = %v", first)
	}
	if len(second) != 4 || second[0] != 5 || second[3] != 8 {
		t.Fatalf("second block = %v", second)
	}
	select {
	case extra := <-b.Blocks():
		t.Fatalf("unexpected partial block %v", extra)
	default:
	}
}

func TestBlockBuffer_DropsWhenConsumerBehind(t *testing.T) {
	b := newBlockBuffer(2, 1)
	b.push(codec.SamplesToBytes([]int16{1, 2, 3, 4, 5, 6}))
	if got := b.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
	if blk := <-b.Blocks(); blk[0] != 1 {
		t.Fatalf("kept block = %v, want first", blk)
	}
}

func TestBlockBuffer_CloseStopsDelivery(t *testing.T) {
	b := newBlockBuffer(2, 2)
	b.close()
	b.close()
	b.push(codec.SamplesToBytes([]int16{1, 2}))
	if _, ok := <-b.Blocks(); ok {
		t.Fatalf("Blocks delivered after close")
	}
}
