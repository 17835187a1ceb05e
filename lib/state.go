package lib

import (
	"errors"
	"fmt"
)

// State is the protocol state of a Connection. There is no Listen state:
// a Connection only exists once a SYN has been received.
type State uint8

const (
	SynRcvd State = iota
	Estab
	FinWait1
	FinWait2
	TimeWait
)

var stateNames = [...]string{
	SynRcvd:  "SynRcvd",
	Estab:    "Estab",
	FinWait1: "FinWait1",
	FinWait2: "FinWait2",
	TimeWait: "TimeWait",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// IsSynchronized reports whether the connection has completed the handshake.
func (s State) IsSynchronized() bool {
	return s != SynRcvd
}

// IsTerminal reports whether nothing more can happen on the connection.
func (s State) IsTerminal() bool {
	return s == TimeWait
}

var (
	// ErrInvariant marks an internal-consistency violation. The connection
	// that produced it must not process any further segment.
	ErrInvariant = errors.New("tcp: internal consistency violation")
	// ErrConnectionBroken is returned for segments delivered to a connection
	// that already reported ErrInvariant.
	ErrConnectionBroken = errors.New("tcp: connection broken by earlier violation")
)

func invariantf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvariant}, args...)...)
}

// segmentEvent is what the state machine needs to know about a received
// segment that already passed the acceptance test.
type segmentEvent struct {
	ack        uint32
	fin        bool
	payloadLen int
}

// finWait2Policy selects what a FIN received in FinWait2 does.
type finWait2Policy uint8

const (
	// finWait2TimeWait acknowledges the peer FIN and enters TimeWait.
	finWait2TimeWait finWait2Policy = iota
	// finWait2Legacy sends another FIN and returns to FinWait1.
	finWait2Legacy
)

// step is the outcome of one transition. Emissions are performed by the
// caller, in order, after the step is applied.
type step struct {
	state State
	una   uint32
	emit  []Flags // control flags of each segment to transmit
	drop  bool    // the segment's ACK was unacceptable; ignore the rest of it
}

// transition runs the state machine for one accepted segment. It is pure:
// snd is a copy and no I/O happens here.
func transition(st State, snd SendSequenceSpace, ev segmentEvent, policy finWait2Policy) (step, error) {
	out := step{state: st, una: snd.Una}

	if st == SynRcvd {
		// we have only sent the SYN, so any acked octet must be the SYN.
		if IsBetweenWrapped(snd.Una-1, ev.ack, SeqIncrement(snd.Nxt)) {
			out.state = Estab
		}
		// TODO: otherwise reply <SEQ=SEG.ACK><CTL=RST> once RST generation exists.
	}

	switch out.state {
	case Estab, FinWait1, FinWait2:
		if !IsBetweenWrapped(out.una, ev.ack, SeqIncrement(snd.Nxt)) {
			out.drop = true
			return out, nil
		}
		out.una = ev.ack

		if out.state == Estab {
			// close as soon as the connection is established.
			if ev.payloadLen != 0 {
				return out, invariantf("%d payload octets pending at close", ev.payloadLen)
			}
			out.emit = append(out.emit, FINFlag|ACKFlag)
			out.state = FinWait1
		}
	}

	if out.state == FinWait1 && out.una == SeqIncrementBy(snd.Iss, 2) {
		// both our SYN and our FIN are acknowledged.
		out.state = FinWait2
	}

	if ev.fin {
		if out.state != FinWait2 {
			return out, invariantf("FIN received in %s", out.state)
		}
		switch policy {
		case finWait2Legacy:
			out.emit = append(out.emit, FINFlag|ACKFlag)
			out.state = FinWait1
		default:
			out.emit = append(out.emit, ACKFlag)
			out.state = TimeWait
		}
	}

	return out, nil
}
