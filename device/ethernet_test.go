package device

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/Clouded-Sabre/Raw-TCP/config"
	"github.com/Clouded-Sabre/Raw-TCP/lib"
	"github.com/google/gopacket/layers"
	"github.com/songgao/packets/ethernet"
)

var (
	hostMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	ourMAC  = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
)

func datagram(t *testing.T, src, dst string) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: net.ParseIP(src).To4(), DstIP: net.ParseIP(dst).To4()}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 80, Seq: 1000, SYN: true, Window: 1024}
	b, err := lib.SerializeSegment(ip, tcp, nil)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNeighboursRoundTrip(t *testing.T) {
	n := newNeighbours()
	in := datagram(t, "10.0.0.2", "10.0.0.1")

	var frame ethernet.Frame
	frame.Prepare(ourMAC, hostMAC, ethernet.NotTagged, ethernet.IPv4, len(in))
	copy(frame.Payload(), in)

	got, ok := n.unwrap(frame)
	if !ok {
		t.Fatal("ipv4 frame not unwrapped")
	}
	if !bytes.Equal(got, in) {
		t.Errorf("unwrapped %x, want %x", got, in)
	}

	out := datagram(t, "10.0.0.1", "10.0.0.2")
	var reply ethernet.Frame
	if err := n.wrap(&reply, out); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if !bytes.Equal(reply.Destination(), hostMAC) || !bytes.Equal(reply.Source(), ourMAC) {
		t.Errorf("reply %s -> %s, want %s -> %s", reply.Source(), reply.Destination(), ourMAC, hostMAC)
	}
	if reply.Ethertype() != ethernet.IPv4 || !bytes.Equal(reply.Payload(), out) {
		t.Error("reply does not carry the datagram")
	}
}

func TestNeighboursIgnoreOtherFrames(t *testing.T) {
	n := newNeighbours()

	var arp ethernet.Frame
	arp.Prepare(ethernet.Broadcast, hostMAC, ethernet.NotTagged, ethernet.ARP, 28)
	if _, ok := n.unwrap(arp); ok {
		t.Error("arp frame unwrapped")
	}
	if _, ok := n.unwrap(ethernet.Frame{0x01, 0x02}); ok {
		t.Error("runt frame unwrapped")
	}

	var reply ethernet.Frame
	err := n.wrap(&reply, datagram(t, "10.0.0.1", "10.0.0.2"))
	if !errors.Is(err, errNoNeighbour) {
		t.Errorf("wrap to an unknown host: err = %v", err)
	}
	if err := n.wrap(&reply, []byte{0x45}); err == nil {
		t.Error("short datagram wrapped")
	}
}

func TestNeighboursBroadcastKeepsLocalAddress(t *testing.T) {
	n := newNeighbours()
	in := datagram(t, "10.0.0.2", "10.0.0.1")

	var frame ethernet.Frame
	frame.Prepare(ethernet.Broadcast, hostMAC, ethernet.NotTagged, ethernet.IPv4, len(in))
	copy(frame.Payload(), in)
	if _, ok := n.unwrap(frame); !ok {
		t.Fatal("broadcast ipv4 frame not unwrapped")
	}
	if n.local != nil {
		t.Errorf("local address learnt from a broadcast: %s", n.local)
	}
}

func TestOpenUnknownDevice(t *testing.T) {
	if _, err := Open(config.DeviceConfig{Type: "pcap"}, lib.DefaultMaxFrameSize); err == nil {
		t.Error("unknown device type opened")
	}
}
