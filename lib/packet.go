package lib

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotTCP is returned by ParseIPv4 for datagrams that do not carry TCP.
var ErrNotTCP = errors.New("ip datagram does not carry tcp")

// ParseIPv4 decodes the IPv4 header at the front of frame. The returned
// layer, including its addresses and Payload, references frame.
func ParseIPv4(frame []byte) (*layers.IPv4, error) {
	if len(frame) == 0 || frame[0]>>4 != 4 {
		return nil, fmt.Errorf("not an ipv4 datagram")
	}
	ip := &layers.IPv4{}
	if err := ip.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("ipv4 header: %w", err)
	}
	if ip.Protocol != layers.IPProtocolTCP {
		return ip, ErrNotTCP
	}
	if ip.Flags&layers.IPv4MoreFragments != 0 || ip.FragOffset != 0 {
		return nil, fmt.Errorf("fragmented ipv4 datagram (offset %d) is not supported", ip.FragOffset)
	}
	return ip, nil
}

// ParseTCP decodes a TCP header and exposes the segment payload as
// tcp.Payload. The returned layer references segment.
func ParseTCP(segment []byte) (*layers.TCP, error) {
	tcp := &layers.TCP{}
	if err := tcp.DecodeFromBytes(segment, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("tcp header: %w", err)
	}
	return tcp, nil
}

// SerializeSegment writes the IPv4 header, the TCP header and payload into
// one frame. Lengths, the IPv4 header checksum and the TCP checksum over the
// pseudo-header are filled in.
func SerializeSegment(ip *layers.IPv4, tcp *layers.TCP, payload []byte) ([]byte, error) {
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, tcp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Checksum returns the TCP checksum the segment would carry on the wire.
func Checksum(ip *layers.IPv4, tcp *layers.TCP, payload []byte) (uint16, error) {
	frame, err := SerializeSegment(ip, tcp, payload)
	if err != nil {
		return 0, err
	}
	headerLen := int(ip.IHL) * 4
	return binary.BigEndian.Uint16(frame[headerLen+16 : headerLen+18]), nil
}

func CalculateChecksum(buffer []byte) uint16 {
	var cksum uint32 = 0

	// Process 16-bit words (2 bytes each)
	for i := 0; i < len(buffer)-1; i += 2 {
		word := binary.BigEndian.Uint16(buffer[i : i+2])
		cksum += uint32(word)
	}

	// Handle remaining odd byte, if any
	if len(buffer)%2 != 0 {
		cksum += uint32(buffer[len(buffer)-1]) << 8 // Shift last byte to 16 bits
	}

	// Fold 32-bit sum to 16 bits
	cksum = (cksum >> 16) + (cksum & 0xffff)
	cksum += (cksum >> 16)

	// Return one's complement of the final sum
	return ^uint16(cksum)
}

// VerifyChecksum checks the TCP checksum of segment, the IPv4 payload of ip.
func VerifyChecksum(ip *layers.IPv4, segment []byte) bool {
	if len(segment) < TcpHeaderLength {
		log.Printf("The received segment's total length is too short(%d)\n", len(segment))
		return false
	}
	buffer := make([]byte, TcpPseudoHeaderLength+len(segment))
	err := assemblePseudoHeader(buffer[:TcpPseudoHeaderLength], ip.SrcIP, ip.DstIP, uint8(layers.IPProtocolTCP), uint16(len(segment)))
	if err != nil {
		log.Println("error in assembling pseudo tcp header:", err)
		return false
	}
	copy(buffer[TcpPseudoHeaderLength:], segment)

	receivedChecksum := binary.BigEndian.Uint16(segment[16:18])
	// Zero out the checksum field for calculation
	binary.BigEndian.PutUint16(buffer[TcpPseudoHeaderLength+16:TcpPseudoHeaderLength+18], 0)

	return CalculateChecksum(buffer) == receivedChecksum
}

// assemblePseudoHeader assembles the pseudo-header for checksum calculation
func assemblePseudoHeader(buffer []byte, srcIP, dstIP net.IP, protocolId uint8, segmentLength uint16) error {
	if len(buffer) != TcpPseudoHeaderLength {
		return fmt.Errorf("tcp pseudo header Buffer length(%d) is not TcpPseudoHeaderLength", len(buffer))
	}
	src, dst := srcIP.To4(), dstIP.To4()
	if src == nil || dst == nil {
		return fmt.Errorf("pseudo header needs ipv4 addresses, got %v and %v", srcIP, dstIP)
	}
	copy(buffer[0:4], src)
	copy(buffer[4:8], dst)
	// byte 8 is fixed to zero
	buffer[8] = 0
	buffer[9] = protocolId
	binary.BigEndian.PutUint16(buffer[10:12], segmentLength)
	return nil
}

// formatExchange renders a segment in RFC 9293 exchange notation, i.e.
//
//	SynRcvd     --> <SEQ=300><ACK=91>[SYN,ACK]
func formatExchange(st State, outbound bool, seq, ack uint32, dataLen int, flags Flags) string {
	dir := "<--"
	if outbound {
		dir = "-->"
	}
	s := fmt.Sprintf("%-11s %s <SEQ=%d><ACK=%d>", st, dir, seq, ack)
	if dataLen > 0 {
		s += fmt.Sprintf("<DATA=%d>", dataLen)
	}
	return s + flags.String()
}
