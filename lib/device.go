package lib

import (
	"errors"
	"sync"
	"time"
)

// ErrDeviceClosed is returned by a Device once it has been closed.
var ErrDeviceClosed = errors.New("frame device closed")

// FrameSender hands one complete IPv4 datagram to the network.
type FrameSender interface {
	Send(frame []byte) (int, error)
}

// Device delivers and accepts whole IPv4 datagrams. Receive blocks until a
// frame is available and returns its length in buf.
type Device interface {
	FrameSender
	Receive(buf []byte) (int, error)
	Close() error
}

// FrameQueue is an in-memory Device. Frames injected with Inject are handed
// out by Receive in order; frames passed to Send are recorded and can be
// collected with Next.
type FrameQueue struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
	once     sync.Once

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
}

func NewFrameQueue(capacity int) *FrameQueue {
	return &FrameQueue{
		inbound:  make(chan []byte, capacity),
		outbound: make(chan []byte, capacity),
		closed:   make(chan struct{}),
	}
}

// Inject queues a frame for Receive. The frame is copied.
func (q *FrameQueue) Inject(frame []byte) error {
	f := append([]byte(nil), frame...)
	select {
	case <-q.closed:
		return ErrDeviceClosed
	case q.inbound <- f:
		return nil
	}
}

func (q *FrameQueue) Receive(buf []byte) (int, error) {
	select {
	case <-q.closed:
		return 0, ErrDeviceClosed
	case f := <-q.inbound:
		return copy(buf, f), nil
	}
}

func (q *FrameQueue) Send(frame []byte) (int, error) {
	q.mu.Lock()
	if q.sendErr != nil {
		err := q.sendErr
		q.mu.Unlock()
		return 0, err
	}
	f := append([]byte(nil), frame...)
	q.sent = append(q.sent, f)
	q.mu.Unlock()

	select {
	case q.outbound <- f:
	default:
		// nobody is collecting; Sent still has it
	}
	return len(frame), nil
}

// FailSends makes every following Send return err. A nil err restores
// normal operation.
func (q *FrameQueue) FailSends(err error) {
	q.mu.Lock()
	q.sendErr = err
	q.mu.Unlock()
}

// Sent returns every frame passed to Send so far.
func (q *FrameQueue) Sent() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.sent...)
}

// Next waits up to timeout for the next frame passed to Send.
func (q *FrameQueue) Next(timeout time.Duration) ([]byte, bool) {
	select {
	case f := <-q.outbound:
		return f, true
	case <-time.After(timeout):
		return nil, false
	}
}

func (q *FrameQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}
