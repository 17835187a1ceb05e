package lib

import "testing"

func TestSegmentLength(t *testing.T) {
	testCases := []struct {
		payloadLen int
		syn, fin   bool
		expected   uint32
	}{
		{0, false, false, 0},
		{0, true, false, 1},
		{0, false, true, 1},
		{0, true, true, 2},
		{100, false, true, 101},
	}
	for _, tc := range testCases {
		if got := segmentLength(tc.payloadLen, tc.syn, tc.fin); got != tc.expected {
			t.Errorf("segmentLength(%d, %t, %t) = %d, want %d", tc.payloadLen, tc.syn, tc.fin, got, tc.expected)
		}
	}
}

func TestAcceptable(t *testing.T) {
	testCases := []struct {
		name     string
		rcv      RecvSequenceSpace
		seqn     uint32
		slen     uint32
		expected bool
	}{
		{"pure ack at nxt", RecvSequenceSpace{Nxt: 1001, Wnd: 100}, 1001, 0, true},
		{"pure ack inside window", RecvSequenceSpace{Nxt: 1001, Wnd: 100}, 1050, 0, true},
		{"pure ack at window end", RecvSequenceSpace{Nxt: 1001, Wnd: 100}, 1101, 0, false},
		{"pure ack before nxt", RecvSequenceSpace{Nxt: 1001, Wnd: 100}, 1000, 0, false},
		{"pure ack zero window at nxt", RecvSequenceSpace{Nxt: 1001, Wnd: 0}, 1001, 0, true},
		{"pure ack zero window off nxt", RecvSequenceSpace{Nxt: 1001, Wnd: 0}, 1002, 0, false},
		{"data zero window at nxt", RecvSequenceSpace{Nxt: 1001, Wnd: 0}, 1001, 10, false},
		{"data inside window", RecvSequenceSpace{Nxt: 1001, Wnd: 100}, 1001, 10, true},
		{"data overlapping window start", RecvSequenceSpace{Nxt: 1001, Wnd: 100}, 995, 10, true},
		{"data overlapping window end", RecvSequenceSpace{Nxt: 1001, Wnd: 100}, 1095, 10, true},
		{"data entirely old", RecvSequenceSpace{Nxt: 1001, Wnd: 100}, 900, 10, false},
		{"data entirely future", RecvSequenceSpace{Nxt: 1001, Wnd: 100}, 1200, 10, false},
		{"fin at nxt", RecvSequenceSpace{Nxt: 1001, Wnd: 100}, 1001, 1, true},
		{"retransmitted fin", RecvSequenceSpace{Nxt: 1002, Wnd: 100}, 1001, 1, false},
		{"window crosses zero", RecvSequenceSpace{Nxt: 4294967290, Wnd: 100}, 20, 0, true},
		{"data crossing zero", RecvSequenceSpace{Nxt: 4294967290, Wnd: 100}, 4294967295, 4, true},
	}
	for _, tc := range testCases {
		if got := tc.rcv.acceptable(tc.seqn, tc.slen); got != tc.expected {
			t.Errorf("%s: acceptable(%d, %d) = %t, want %t", tc.name, tc.seqn, tc.slen, got, tc.expected)
		}
	}
}

func TestAcceptableZeroWindowRejectsAnyData(t *testing.T) {
	rcv := RecvSequenceSpace{Nxt: 5000, Wnd: 0}
	for _, seqn := range []uint32{0, 4999, 5000, 5001, 1 << 31, 4294967295} {
		for _, slen := range []uint32{1, 2, 1460} {
			if rcv.acceptable(seqn, slen) {
				t.Errorf("zero window accepted segment seq=%d len=%d", seqn, slen)
			}
		}
	}
}

func TestAcceptablePureAckRedelivery(t *testing.T) {
	for _, wnd := range []uint16{0, 1024} {
		rcv := RecvSequenceSpace{Nxt: 7000, Wnd: wnd}
		for i := 0; i < 3; i++ {
			if !rcv.acceptable(7000, 0) {
				t.Fatalf("wnd=%d delivery %d: pure ACK at RCV.NXT rejected", wnd, i)
			}
			rcv.consume(7000, 0)
			if rcv.Nxt != 7000 {
				t.Fatalf("wnd=%d delivery %d: RCV.NXT moved to %d", wnd, i, rcv.Nxt)
			}
		}
	}
}

func TestConsumeAdvancesByDeclaredLength(t *testing.T) {
	rcv := RecvSequenceSpace{Nxt: 1001, Wnd: 100}
	// Overlaps the start of the window; the whole declared range is consumed.
	rcv.consume(995, 10)
	if rcv.Nxt != 1005 {
		t.Errorf("RCV.NXT = %d, want 1005", rcv.Nxt)
	}
	rcv.consume(4294967295, 3)
	if rcv.Nxt != 2 {
		t.Errorf("RCV.NXT = %d, want 2 after wrap", rcv.Nxt)
	}
}
