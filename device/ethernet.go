package device

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/Clouded-Sabre/Raw-TCP/lib"
	"github.com/songgao/packets/ethernet"
)

var errNoNeighbour = errors.New("no link address known")

// minFrameLength is the shortest ethernet frame that can carry an IPv4 header,
// counting the largest tag the frame may have.
const minFrameLength = 6 + 6 + int(ethernet.DoubleTagged) + 2 + lib.IpHeaderLength

// neighbours learns link addresses from the frames received on a TAP device.
// ARP is not answered: the host needs a static neighbour entry for the
// address the service listens on.
type neighbours struct {
	mu    sync.Mutex
	local net.HardwareAddr            // our address, as the host addresses us
	peers map[string]net.HardwareAddr // keyed by IPv4 address
}

func newNeighbours() *neighbours {
	return &neighbours{peers: make(map[string]net.HardwareAddr)}
}

// unwrap returns the IPv4 datagram carried by frame. ok is false for frames
// carrying anything else.
func (n *neighbours) unwrap(frame ethernet.Frame) (datagram []byte, ok bool) {
	if len(frame) < minFrameLength || frame.Ethertype() != ethernet.IPv4 {
		return nil, false
	}
	datagram = frame.Payload()
	src := net.IP(datagram[12:16]).String()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[src] = append(net.HardwareAddr(nil), frame.Source()...)
	if dst := frame.Destination(); dst[0]&1 == 0 { // unicast only
		n.local = append(net.HardwareAddr(nil), dst...)
	}
	return datagram, true
}

// wrap frames datagram for the link into f.
func (n *neighbours) wrap(f *ethernet.Frame, datagram []byte) error {
	if len(datagram) < lib.IpHeaderLength {
		return fmt.Errorf("datagram of %d bytes has no ipv4 header", len(datagram))
	}
	dst := net.IP(datagram[16:20])

	n.mu.Lock()
	peer, ok := n.peers[dst.String()]
	local := n.local
	n.mu.Unlock()
	if !ok || local == nil {
		return fmt.Errorf("%w for %s", errNoNeighbour, dst)
	}

	f.Prepare(peer, local, ethernet.NotTagged, ethernet.IPv4, len(datagram))
	copy(f.Payload(), datagram)
	return nil
}
