package lib

// SendSequenceSpace is the Send Sequence Space of RFC 793 section 3.2.
//
//	     1         2          3          4
//	----------|----------|----------|----------
//	       SND.UNA    SND.NXT    SND.UNA
//	                            +SND.WND
//
//	1 - old sequence numbers which have been acknowledged
//	2 - sequence numbers of unacknowledged data
//	3 - sequence numbers allowed for new data transmission
//	4 - future sequence numbers which are not yet allowed
type SendSequenceSpace struct {
	Una uint32 // send unacknowledged
	Nxt uint32 // send next
	Wnd uint16 // send window
	Up  bool   // send urgent pointer; unused
	Wl1 uint32 // segment sequence number used for last window update; unused
	Wl2 uint32 // segment acknowledgment number used for last window update; unused
	Iss uint32 // initial send sequence number
}

// RecvSequenceSpace is the Receive Sequence Space of RFC 793 section 3.2.
//
//	    1          2          3
//	----------|----------|----------
//	       RCV.NXT    RCV.NXT
//	                 +RCV.WND
//
//	1 - old sequence numbers which have been acknowledged
//	2 - sequence numbers allowed for new reception
//	3 - future sequence numbers which are not yet allowed
type RecvSequenceSpace struct {
	Nxt uint32 // receive next
	Wnd uint16 // receive window
	Up  bool   // receive urgent pointer; unused
	Irs uint32 // initial receive sequence number
}

// segmentLength is the sequence space a segment occupies: its payload plus
// one octet each for SYN and FIN.
func segmentLength(payloadLen int, syn, fin bool) uint32 {
	slen := uint32(payloadLen)
	if fin {
		slen++
	}
	if syn {
		slen++
	}
	return slen
}

// acceptable runs the RFC 793 segment acceptance test against the receive
// window. It never mutates rcv.
//
//	RCV.NXT =< SEG.SEQ < RCV.NXT+RCV.WND
//	RCV.NXT =< SEG.SEQ+SEG.LEN-1 < RCV.NXT+RCV.WND
func (rcv *RecvSequenceSpace) acceptable(seqn, slen uint32) bool {
	wend := SeqIncrementBy(rcv.Nxt, uint32(rcv.Wnd))
	low := rcv.Nxt - 1 // the interval test is open on both ends
	if slen == 0 {
		// zero-length segments have separate rules for acceptance
		if rcv.Wnd == 0 {
			return seqn == rcv.Nxt
		}
		return IsBetweenWrapped(low, seqn, wend)
	}
	if rcv.Wnd == 0 {
		return false
	}
	return IsBetweenWrapped(low, seqn, wend) ||
		IsBetweenWrapped(low, SeqIncrementBy(seqn, slen-1), wend)
}

// consume advances RCV.NXT past an accepted segment. The whole declared
// range of the segment is consumed, even when only part of it overlapped the
// window.
func (rcv *RecvSequenceSpace) consume(seqn, slen uint32) {
	rcv.Nxt = SeqIncrementBy(seqn, slen)
}
