package lib

import (
	"fmt"
	"log"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

var _ rp.DataInterface = (*Frame)(nil)

// Frame is a pooled receive buffer big enough for one IP datagram.
type Frame struct {
	frameBytes []byte
	length     int
}

// NewFrame is the ring pool constructor. It takes one parameter: the buffer
// length.
func NewFrame(params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		log.Println("NewFrame: Invalid number of calling parameters. Should be only one: bufferlength")
		return nil
	}

	bufferLength, ok := params[0].(int)
	if !ok || bufferLength <= 0 {
		log.Println("NewFrame: bufferLength should be a positive int")
		return nil
	}

	return &Frame{
		frameBytes: make([]byte, bufferLength),
	}
}

// SetContent fills the frame from s, truncated to the buffer.
func (f *Frame) SetContent(s string) {
	f.length = copy(f.frameBytes, s)
}

// Reset clears the frame so stale bytes never leak into the next datagram.
func (f *Frame) Reset() {
	clear(f.frameBytes[:f.length])
	f.length = 0
}

// PrintContent prints the content of the frame
func (f *Frame) PrintContent() {
	fmt.Printf("Content: % x\n", f.frameBytes[:f.length])
}

// Buffer returns the whole backing buffer to receive into.
func (f *Frame) Buffer() []byte {
	return f.frameBytes
}

// SetLength records how many bytes of Buffer hold the datagram.
func (f *Frame) SetLength(n int) {
	f.length = n
}

func (f *Frame) GetSlice() []byte {
	return f.frameBytes[:f.length]
}

// getFrame takes a buffer from pool. If there is no pool or it is exhausted
// it falls back to a fresh allocation; the returned element is then nil and
// must not be handed back.
func getFrame(pool *rp.RingPool, size int) (*Frame, *rp.Element) {
	if pool != nil {
		if e := pool.GetElement(); e != nil {
			if f, ok := e.Data.(*Frame); ok && len(f.frameBytes) >= size {
				return f, e
			}
			pool.ReturnElement(e)
		}
	}
	return &Frame{frameBytes: make([]byte, size)}, nil
}

func returnFrame(pool *rp.RingPool, e *rp.Element) {
	if e != nil && pool != nil {
		pool.ReturnElement(e)
	}
}
