package voice

import "sync"

// frameBuffer is a bounded ring of opus frames between the resource reader
// and the send loop. Push never blocks; Pop blocks until a frame arrives,
// the stream ends, or the buffer is closed.
type frameBuffer struct {
	mu       sync.Mutex
	frames   [][]byte
	maxSize  int
	readPos  int
	writePos int
	closed   bool
	eos      bool
	notEmpty *sync.Cond
}

func newFrameBuffer(maxFrames int) *frameBuffer {
	fb := &frameBuffer{
		frames:  make([][]byte, maxFrames),
		maxSize: maxFrames,
	}
	fb.notEmpty = sync.NewCond(&fb.mu)
	return fb
}

func (fb *frameBuffer) Push(frame []byte) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.closed || fb.eos {
		return false
	}
	used := (fb.writePos - fb.readPos + fb.maxSize) % fb.maxSize
	if used >= fb.maxSize-1 {
		return false
	}
	fb.frames[fb.writePos] = append([]byte(nil), frame...)
	fb.writePos = (fb.writePos + 1) % fb.maxSize
	fb.notEmpty.Signal()
	return true
}

// Pop returns the next frame. A false result means the stream is over:
// either end of stream with an empty buffer, or the buffer was closed.
func (fb *frameBuffer) Pop() ([]byte, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for {
		if fb.closed {
			return nil, false
		}
		used := (fb.writePos - fb.readPos + fb.maxSize) % fb.maxSize
		if used > 0 {
			frame := fb.frames[fb.readPos]
			fb.readPos = (fb.readPos + 1) % fb.maxSize
			return frame, true
		}
		if fb.eos {
			return nil, false
		}
		fb.notEmpty.Wait()
	}
}

func (fb *frameBuffer) BufferedCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return (fb.writePos - fb.readPos + fb.maxSize) % fb.maxSize
}

func (fb *frameBuffer) EndOfStream() bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.eos
}

func (fb *frameBuffer) MarkEOS() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.eos = true
	fb.notEmpty.Broadcast()
}

func (fb *frameBuffer) Close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.closed = true
	fb.notEmpty.Broadcast()
}
