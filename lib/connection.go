package lib

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket/layers"
)

type ConnectionConfig struct {
	RandomISN      bool   // pick the initial send sequence number at random
	FixedISN       uint32 // initial send sequence number when RandomISN is false
	Window         uint16 // receive window advertised in every segment we send
	TTL            uint8  // IPv4 time to live of every segment we send
	MaxFrameSize   int    // largest datagram handed to the device
	LegacyFinWait2 bool   // answer a FIN in FinWait2 with FIN,ACK and return to FinWait1
	ResetOnAbort   bool   // send RST,ACK when a connection is torn down by us
}

func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		RandomISN:      true,
		FixedISN:       0,
		Window:         DefaultWindow,
		TTL:            DefaultTTL,
		MaxFrameSize:   DefaultMaxFrameSize,
		LegacyFinWait2: false,
		ResetOnAbort:   true,
	}
}

// Connection is the control block of one passively opened TCP connection.
// It is not safe for concurrent use; the Service feeds it from a single
// goroutine.
type Connection struct {
	key          string // remote ip:port
	state        State
	send         SendSequenceSpace
	recv         RecvSequenceSpace
	localAddr    net.IP
	remoteAddr   net.IP
	localPort    uint16
	remotePort   uint16
	ttl          uint8
	maxFrameSize int
	policy       finWait2Policy
	broken       error // set once an invariant is violated
}

// Accept creates a connection from a received SYN and answers it with
// SYN,ACK through out. A segment without SYN yields a nil connection and no
// error. On a transmission error no connection is returned.
func Accept(out FrameSender, ip *layers.IPv4, tcp *layers.TCP, payload []byte, config *ConnectionConfig) (*Connection, error) {
	if !tcp.SYN {
		// only expected SYN packet
		return nil, nil
	}
	if config == nil {
		config = DefaultConnectionConfig()
	}

	iss := config.FixedISN
	if config.RandomISN {
		var err error
		if iss, err = GenerateISN(); err != nil {
			return nil, fmt.Errorf("generate ISN: %w", err)
		}
	}

	c := &Connection{
		state: SynRcvd,
		send: SendSequenceSpace{
			Iss: iss,
			Una: iss,
			Nxt: iss,
			Wnd: config.Window,
		},
		recv: RecvSequenceSpace{
			Irs: tcp.Seq,
			Nxt: SeqIncrement(tcp.Seq),
			Wnd: tcp.Window,
		},
		localAddr:    copyIP(ip.DstIP),
		remoteAddr:   copyIP(ip.SrcIP),
		localPort:    uint16(tcp.DstPort),
		remotePort:   uint16(tcp.SrcPort),
		ttl:          config.TTL,
		maxFrameSize: config.MaxFrameSize,
	}
	if config.LegacyFinWait2 {
		c.policy = finWait2Legacy
	}
	if c.maxFrameSize <= 0 {
		c.maxFrameSize = DefaultMaxFrameSize
	}
	c.key = fmt.Sprintf("%s:%d", c.remoteAddr, c.remotePort)

	// need to start establishing a connection; write advances SND.NXT past
	// the SYN.
	if _, err := c.write(out, SYNFlag|ACKFlag, nil); err != nil {
		return nil, err
	}
	return c, nil
}

// OnPacket processes one segment that belongs to this connection. Segments
// failing the acceptance test are ignored. A returned ErrInvariant leaves the
// connection broken; every later call returns ErrConnectionBroken.
func (c *Connection) OnPacket(out FrameSender, ip *layers.IPv4, tcp *layers.TCP, payload []byte) error {
	if c.broken != nil {
		return fmt.Errorf("%w: %v", ErrConnectionBroken, c.broken)
	}

	// first, check that sequence numbers are valid
	seqn := tcp.Seq
	slen := segmentLength(len(payload), tcp.SYN, tcp.FIN)
	if !c.recv.acceptable(seqn, slen) {
		// TODO: reply <SEQ=SND.NXT><ACK=RCV.NXT><CTL=ACK> to unacceptable segments.
		return nil
	}
	c.recv.consume(seqn, slen)

	st, err := transition(c.state, c.send, segmentEvent{ack: tcp.Ack, fin: tcp.FIN, payloadLen: len(payload)}, c.policy)
	if err != nil {
		c.broken = err
		return err
	}

	c.send.Una = st.una
	for _, flags := range st.emit {
		if _, err := c.write(out, flags, nil); err != nil {
			if errors.Is(err, ErrInvariant) {
				c.broken = err
			}
			return err
		}
	}
	c.state = st.state
	return nil
}

// SendReset emits <SEQ=SND.NXT><ACK=RCV.NXT><CTL=RST,ACK>.
func (c *Connection) SendReset(out FrameSender) error {
	_, err := c.write(out, RSTFlag|ACKFlag, nil)
	return err
}

// write builds a segment from the current sequence spaces and hands it to
// out. Payload beyond the frame size is not sent. SND.NXT covers the segment
// before the device is called and is not rolled back on failure.
func (c *Connection) write(out FrameSender, flags Flags, payload []byte) (int, error) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      c.ttl,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    c.localAddr,
		DstIP:    c.remoteAddr,
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(c.localPort),
		DstPort: layers.TCPPort(c.remotePort),
		Seq:     c.send.Nxt,
		Ack:     c.recv.Nxt,
		Window:  c.send.Wnd,
	}
	applyFlags(tcp, flags)

	room := c.maxFrameSize - IpHeaderLength - TcpHeaderLength
	if room < 0 {
		room = 0
	}
	payloadBytes := len(payload)
	if payloadBytes > room {
		payloadBytes = room
	}

	frame, err := SerializeSegment(ip, tcp, payload[:payloadBytes])
	if err != nil {
		return 0, invariantf("serialize %s segment: %v", flags, err)
	}

	c.send.Nxt = SeqIncrementBy(c.send.Nxt, uint32(payloadBytes))
	if flags.HasAny(SYNFlag) {
		c.send.Nxt = SeqIncrement(c.send.Nxt)
	}
	if flags.HasAny(FINFlag) {
		c.send.Nxt = SeqIncrement(c.send.Nxt)
	}

	if _, err := out.Send(frame); err != nil {
		return 0, fmt.Errorf("send %s segment to %s: %w", flags, c.key, err)
	}
	return payloadBytes, nil
}

func (c *Connection) State() State { return c.state }

// Send returns a copy of the send sequence space.
func (c *Connection) Send() SendSequenceSpace { return c.send }

// Recv returns a copy of the receive sequence space.
func (c *Connection) Recv() RecvSequenceSpace { return c.recv }

// Key identifies the connection within its Service: the remote ip:port.
func (c *Connection) Key() string { return c.key }

// Err returns the violation that broke the connection, if any.
func (c *Connection) Err() error { return c.broken }

func (c *Connection) String() string {
	return fmt.Sprintf("%s:%d->%s:%d %s", c.localAddr, c.localPort, c.remoteAddr, c.remotePort, c.state)
}

// copyIP detaches an address from the frame buffer it was decoded from.
func copyIP(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return append(net.IP(nil), v4...)
	}
	return append(net.IP(nil), ip...)
}
