package lib

import (
	"math/rand"
	"testing"

	"github.com/google/gopacket/layers"
)

func TestIsBetweenWrapped(t *testing.T) {
	testCases := []struct {
		start, x, end uint32
		expected      bool
	}{
		{start: 100, x: 150, end: 200, expected: true},                      // Direct comparison
		{start: 100, x: 250, end: 50, expected: true},                       // Wrap-around case
		{start: 100, x: 100, end: 200, expected: false},                     // Lower boundary excluded
		{start: 100, x: 200, end: 200, expected: false},                     // Upper boundary excluded
		{start: 100, x: 250, end: 200, expected: false},                     // Beyond end
		{start: 100, x: 50, end: 200, expected: false},                      // Before start
		{start: 4294967290, x: 5, end: 10, expected: true},                  // Interval crosses zero
		{start: 4294967290, x: 4294967295, end: 10, expected: true},         // Interval crosses zero
		{start: 4294967290, x: 20, end: 10, expected: false},                // Past wrapped end
		{start: 4294967295, x: 0, end: 1, expected: true},                   // Full wrap-around
		{start: 0, x: 4294967295, end: 0, expected: false},                  // Empty interval
		{start: 10, x: 5, end: 7, expected: true},                           // start > x, wrapped interval
		{start: 10, x: 5, end: 3, expected: false},                          // start > x, end before x
		{start: 10, x: 5, end: 5, expected: false},                          // start > x, end equals x
		{start: 2147483646, x: 2147483647, end: 2147483648, expected: true}, // Close to sign boundary
	}

	for _, tc := range testCases {
		result := IsBetweenWrapped(tc.start, tc.x, tc.end)
		if result != tc.expected {
			t.Errorf("For (%d, %d, %d), expected %t, but got %t", tc.start, tc.x, tc.end, tc.expected, result)
		}
	}
}

// betweenOnRing measures distances from start on unbounded integers.
// An interval whose end equals its start is empty.
func betweenOnRing(start, x, end uint32) bool {
	const ring = uint64(1) << 32
	dx := (uint64(x) + ring - uint64(start)) % ring
	de := (uint64(end) + ring - uint64(start)) % ring
	return dx > 0 && dx < de
}

func TestIsBetweenWrappedAgreesWithRingReference(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	edges := []uint32{0, 1, 2, 100, 1 << 31, 1<<31 - 1, 1<<32 - 2, 1<<32 - 1}
	for i := 0; i < 20000; i++ {
		var start, x, end uint32
		if i < len(edges)*len(edges)*len(edges) {
			start = edges[i%len(edges)]
			x = edges[(i/len(edges))%len(edges)]
			end = edges[(i/(len(edges)*len(edges)))%len(edges)]
		} else {
			start, x, end = rng.Uint32(), rng.Uint32(), rng.Uint32()
			if i%3 == 0 {
				x = start + uint32(rng.Intn(64)) // cluster some values near start
			}
		}
		if start == x {
			continue
		}
		if got, want := IsBetweenWrapped(start, x, end), betweenOnRing(start, x, end); got != want {
			t.Fatalf("IsBetweenWrapped(%d, %d, %d) = %t, reference says %t", start, x, end, got, want)
		}
	}
}

func TestSeqIncrement(t *testing.T) {
	if got := SeqIncrement(4294967295); got != 0 {
		t.Errorf("SeqIncrement(max) = %d, want 0", got)
	}
	if got := SeqIncrementBy(4294967290, 10); got != 4 {
		t.Errorf("SeqIncrementBy(max-5, 10) = %d, want 4", got)
	}
}

func TestFlagsString(t *testing.T) {
	testCases := []struct {
		flags    Flags
		expected string
	}{
		{0, "[]"},
		{SYNFlag | ACKFlag, "[SYN,ACK]"},
		{FINFlag | ACKFlag, "[FIN,ACK]"},
		{RSTFlag, "[RST]"},
	}
	for _, tc := range testCases {
		if got := tc.flags.String(); got != tc.expected {
			t.Errorf("Flags(%d).String() = %q, want %q", tc.flags, got, tc.expected)
		}
	}
}

func TestFlagsRoundTripThroughHeader(t *testing.T) {
	want := SYNFlag | ACKFlag | PSHFlag
	tcp := &layers.TCP{}
	applyFlags(tcp, want)
	if got := flagsOf(tcp); got != want {
		t.Errorf("flagsOf(applyFlags(%s)) = %s", want, got)
	}
}
