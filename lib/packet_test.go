package lib

import (
	"errors"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func TestCalculateChecksum(t *testing.T) {
	// RFC 1071 section 3 example
	buf := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	if got := CalculateChecksum(buf); got != 0x220d {
		t.Errorf("CalculateChecksum = %#04x, want 0x220d", got)
	}
	// odd length pads with a zero byte
	if got, want := CalculateChecksum([]byte{0x01}), ^uint16(0x0100); got != want {
		t.Errorf("CalculateChecksum(odd) = %#04x, want %#04x", got, want)
	}
}

func TestSerializeAndVerify(t *testing.T) {
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: localIP, DstIP: peerIP}
	tcp := &layers.TCP{SrcPort: localPort, DstPort: peerPort, Seq: 7, Ack: 9, Window: 10, SYN: true, ACK: true}
	frame, err := SerializeSegment(ip, tcp, []byte("abc"))
	if err != nil {
		t.Fatalf("SerializeSegment: %v", err)
	}
	if len(frame) != IpHeaderLength+TcpHeaderLength+3 {
		t.Fatalf("frame length %d", len(frame))
	}

	dip, dtcp, payload := decodeFrame(t, frame)
	if !VerifyChecksum(dip, dip.Payload) {
		t.Error("checksum of a freshly serialized segment does not verify")
	}
	if string(payload) != "abc" || dtcp.Seq != 7 || dtcp.Ack != 9 || flagsOf(dtcp) != SYNFlag|ACKFlag {
		t.Errorf("decoded %s seq=%d ack=%d payload=%q", flagsOf(dtcp), dtcp.Seq, dtcp.Ack, payload)
	}

	sum, err := Checksum(ip, tcp, []byte("abc"))
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	if sum != dtcp.Checksum {
		t.Errorf("Checksum = %#04x, frame carries %#04x", sum, dtcp.Checksum)
	}

	// flip one payload bit
	frame[len(frame)-1] ^= 0x01
	dip, _, _ = decodeFrame(t, frame)
	if VerifyChecksum(dip, dip.Payload) {
		t.Error("corrupted segment verified")
	}
}

func TestVerifyChecksumShortSegment(t *testing.T) {
	ip := &layers.IPv4{SrcIP: localIP, DstIP: peerIP}
	if VerifyChecksum(ip, make([]byte, TcpHeaderLength-1)) {
		t.Error("short segment verified")
	}
}

func TestParseIPv4Rejects(t *testing.T) {
	if _, err := ParseIPv4(nil); err == nil {
		t.Error("empty frame parsed")
	}
	if _, err := ParseIPv4([]byte{0x60, 0, 0, 0}); err == nil {
		t.Error("ipv6 frame parsed")
	}

	buf := gopacket.NewSerializeBuffer()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: peerIP, DstIP: localIP}
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, gopacket.Payload([]byte("not tcp"))); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseIPv4(buf.Bytes()); !errors.Is(err, ErrNotTCP) {
		t.Errorf("err = %v, want ErrNotTCP", err)
	}
}

func TestParseTCPTooShort(t *testing.T) {
	if _, err := ParseTCP(make([]byte, 10)); err == nil {
		t.Error("10 byte tcp header parsed")
	}
}

func TestFormatExchange(t *testing.T) {
	got := formatExchange(SynRcvd, true, 300, 91, 0, SYNFlag|ACKFlag)
	want := "SynRcvd     --> <SEQ=300><ACK=91>[SYN,ACK]"
	if got != want {
		t.Errorf("formatExchange = %q, want %q", got, want)
	}
	got = formatExchange(Estab, false, 91, 301, 5, ACKFlag)
	want = "Estab       <-- <SEQ=91><ACK=301><DATA=5>[ACK]"
	if got != want {
		t.Errorf("formatExchange = %q, want %q", got, want)
	}
}
