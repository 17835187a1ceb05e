//go:build linux

package device

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/Clouded-Sabre/Raw-TCP/lib"
	"github.com/songgao/packets/ethernet"
	"github.com/songgao/water"
)

// Tun is a TUN or TAP interface. A TUN interface carries bare IPv4
// datagrams; on a TAP interface the ethernet framing is removed on Receive
// and added on Send.
type Tun struct {
	ifce  *water.Interface
	tap   bool
	neigh *neighbours

	rbuf   ethernet.Frame // tap receive buffer, Receive has a single caller
	sendMu sync.Mutex
	sbuf   ethernet.Frame
}

func openTun(name string, tap bool, maxFrameSize int) (lib.Device, error) {
	return NewTun(name, tap, maxFrameSize)
}

// NewTun creates the interface. An empty name lets the kernel pick one.
func NewTun(name string, tap bool, maxFrameSize int) (*Tun, error) {
	cfg := water.Config{DeviceType: water.TUN}
	if tap {
		cfg.DeviceType = water.TAP
	}
	cfg.Name = name

	ifce, err := water.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create interface %q: %w", name, err)
	}
	log.Printf("Interface %s created (tap: %v)\n", ifce.Name(), tap)

	t := &Tun{ifce: ifce, tap: tap}
	if tap {
		t.neigh = newNeighbours()
		t.rbuf = make(ethernet.Frame, maxFrameSize+minFrameLength)
	}
	return t, nil
}

func (t *Tun) Name() string {
	return t.ifce.Name()
}

func (t *Tun) Receive(buf []byte) (int, error) {
	if !t.tap {
		n, err := t.ifce.Read(buf)
		return n, t.mapErr(err)
	}
	for {
		n, err := t.ifce.Read(t.rbuf)
		if err != nil {
			return 0, t.mapErr(err)
		}
		datagram, ok := t.neigh.unwrap(t.rbuf[:n])
		if !ok {
			continue
		}
		if len(datagram) > len(buf) {
			log.Printf("Dropping %d byte datagram, larger than the frame buffer\n", len(datagram))
			continue
		}
		return copy(buf, datagram), nil
	}
}

func (t *Tun) Send(frame []byte) (int, error) {
	if !t.tap {
		n, err := t.ifce.Write(frame)
		return n, t.mapErr(err)
	}
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if err := t.neigh.wrap(&t.sbuf, frame); err != nil {
		return 0, err
	}
	if _, err := t.ifce.Write(t.sbuf); err != nil {
		return 0, t.mapErr(err)
	}
	return len(frame), nil
}

func (t *Tun) Close() error {
	return t.ifce.Close()
}

func (t *Tun) mapErr(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return lib.ErrDeviceClosed
	}
	return err
}
