//go:build linux

package device

import (
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/Clouded-Sabre/Raw-TCP/lib"
	"golang.org/x/net/ipv4"
)

// RawIP exchanges IPv4 datagrams through a raw tcp socket bound to a local
// address. The host stack sees the same segments and answers them with RST
// unless a filter suppresses those.
type RawIP struct {
	conn *ipv4.RawConn
}

func openRawIP(address string) (lib.Device, error) {
	return NewRawIP(address)
}

// NewRawIP opens the socket. It needs CAP_NET_RAW.
func NewRawIP(address string) (*RawIP, error) {
	c, err := net.ListenPacket("ip4:tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen ip4:tcp on %s: %w", address, err)
	}
	conn, err := ipv4.NewRawConn(c)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("raw connection on %s: %w", address, err)
	}
	log.Println("Raw IP socket opened at", address)
	return &RawIP{conn: conn}, nil
}

// Receive reads one datagram, ip header included, into buf.
func (d *RawIP) Receive(buf []byte) (int, error) {
	h, payload, _, err := d.conn.ReadFrom(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, lib.ErrDeviceClosed
		}
		return 0, err
	}
	return h.Len + len(payload), nil
}

// Send writes a whole datagram; its header is passed to the kernel as is.
func (d *RawIP) Send(frame []byte) (int, error) {
	h, err := ipv4.ParseHeader(frame)
	if err != nil {
		return 0, fmt.Errorf("parse outgoing header: %w", err)
	}
	if h.Len > len(frame) {
		return 0, fmt.Errorf("outgoing header of %d bytes in a %d byte datagram", h.Len, len(frame))
	}
	if err := d.conn.WriteTo(h, frame[h.Len:], nil); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, lib.ErrDeviceClosed
		}
		return 0, err
	}
	return len(frame), nil
}

func (d *RawIP) Close() error {
	return d.conn.Close()
}
