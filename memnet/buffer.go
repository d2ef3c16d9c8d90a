package memnet

import (
	"github.com/eapache/queue"
)

// buffer is a byte FIFO made of immutable chunks, one per write.
type buffer struct {
	chunks *queue.Queue
	off    int // read offset into the head chunk
	size   int
}

func newBuffer() buffer {
	return buffer{chunks: queue.New()}
}

func (x *buffer) write(p []byte) {
	if len(p) == 0 {
		return
	}
	x.chunks.Add(append([]byte(nil), p...))
	x.size += len(p)
}

func (x *buffer) read(p []byte) int {
	var n int
	for n < len(p) && x.chunks.Length() != 0 {
		head := x.chunks.Peek().([]byte)[x.off:]
		c := copy(p[n:], head)
		n += c
		if c == len(head) {
			x.chunks.Remove()
			x.off = 0
		} else {
			x.off += c
		}
	}
	x.size -= n
	return n
}

func (x *buffer) reset() {
	for x.chunks.Length() != 0 {
		x.chunks.Remove()
	}
	x.off = 0
	x.size = 0
}
