package lib

import (
	"crypto/rand"
	"encoding/binary"
	"strings"

	"github.com/google/gopacket/layers"
)

func SeqIncrement(seq uint32) uint32 {
	return uint32(uint64(seq) + 1) // implicit modulo operation included
}

func SeqIncrementBy(seq, inc uint32) uint32 {
	return uint32(uint64(seq) + uint64(inc)) // implicit modulo operation included
}

// IsBetweenWrapped reports whether x lies strictly inside the open interval
// (start, end) of the circular 32-bit sequence space. The interval may cross
// the 0/2^32 boundary. Every ordering decision on sequence numbers goes
// through this function; plain integer comparison is wrong once numbers wrap.
func IsBetweenWrapped(start, x, end uint32) bool {
	switch {
	case start == x:
		return false
	case start < x:
		//     |------------S----------X--------------------|
		// x is outside the interval iff S <= E <= X
		return !(end >= start && end <= x)
	default:
		//     |------------X----------S--------------------|
		// x is inside the interval only when X < E < S
		return end < start && end > x
	}
}

func GenerateISN() (uint32, error) {
	// Generate a random 32-bit value
	var isn uint32
	err := binary.Read(rand.Reader, binary.BigEndian, &isn)
	if err != nil {
		return 0, err
	}
	return isn, nil
}

// HasAny checks if one or more mask bits are set in receiver flags.
func (f Flags) HasAny(mask Flags) bool { return f&mask != 0 }

// String returns the flags in RFC 9293 notation, i.e. "[SYN,ACK]".
// Flags are listed from FIN upwards.
func (f Flags) String() string {
	names := [...]string{"FIN", "SYN", "RST", "PSH", "ACK", "URG"}
	set := make([]string, 0, len(names))
	for i, name := range names {
		if f&(1<<i) != 0 {
			set = append(set, name)
		}
	}
	return "[" + strings.Join(set, ",") + "]"
}

// flagsOf collects the control bits of a decoded TCP header.
func flagsOf(tcp *layers.TCP) Flags {
	var f Flags
	if tcp.FIN {
		f |= FINFlag
	}
	if tcp.SYN {
		f |= SYNFlag
	}
	if tcp.RST {
		f |= RSTFlag
	}
	if tcp.PSH {
		f |= PSHFlag
	}
	if tcp.ACK {
		f |= ACKFlag
	}
	if tcp.URG {
		f |= URGFlag
	}
	return f
}

// applyFlags sets the control bits of tcp from f.
func applyFlags(tcp *layers.TCP, f Flags) {
	tcp.FIN = f.HasAny(FINFlag)
	tcp.SYN = f.HasAny(SYNFlag)
	tcp.RST = f.HasAny(RSTFlag)
	tcp.PSH = f.HasAny(PSHFlag)
	tcp.ACK = f.HasAny(ACKFlag)
	tcp.URG = f.HasAny(URGFlag)
}
