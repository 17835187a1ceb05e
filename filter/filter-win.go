//go:build windows
// +build windows

package filter

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	divert "github.com/imgk/divert-go"
)

// filterImpl diverts outbound RST packets and drops the ones sent from a
// protected listener. Everything else is reinjected.
type filterImpl struct {
	handle    *divert.Handle
	stopChan  chan struct{}
	done      chan struct{}
	isRunning bool
	rules     *ruleSet
	mutex     sync.Mutex
}

// NewFilter creates a new filter instance
func NewFilter(identifier string) (Filter, error) {
	return &filterImpl{
		rules: newRuleSet(),
	}, nil
}

// AddTcpServerFiltering starts dropping RST packets sent from srcAddr:srcPort.
func (f *filterImpl) AddTcpServerFiltering(srcAddr string, srcPort int) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if !f.rules.add(srcAddr, srcPort) {
		return fmt.Errorf("rule already exists: %s", ruleKey(srcAddr, srcPort))
	}

	if !f.isRunning {
		filter := "outbound and tcp.Rst" // Capture outgoing TCP RST packets
		h, err := divert.Open(filter, divert.LayerNetwork, 0, 0)
		if err != nil {
			f.rules.remove(srcAddr, srcPort)
			return err
		}
		f.handle = h
		f.stopChan = make(chan struct{})
		f.done = make(chan struct{})
		f.isRunning = true

		go f.runFilteringLoop(h, f.stopChan, f.done) // Start filter loop
	}

	return nil
}

// RemoveTcpServerFiltering removes a specific filtering rule
func (f *filterImpl) RemoveTcpServerFiltering(srcAddr string, srcPort int) error {
	if !f.rules.remove(srcAddr, srcPort) {
		return fmt.Errorf("rule not found: %s", ruleKey(srcAddr, srcPort))
	}

	if f.rules.len() == 0 {
		return f.FinishFiltering() // Clean up if no rules remain
	}
	return nil
}

// FinishFiltering removes all filtering rules and stops the WinDivert handle
func (f *filterImpl) FinishFiltering() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.rules.clear()
	if !f.isRunning {
		return nil
	}

	close(f.stopChan)
	// unblock Recv
	if err := f.handle.Close(); err != nil {
		log.Println("Failed to close divert handle:", err)
	}
	<-f.done
	f.isRunning = false
	return nil
}

func (f *filterImpl) runFilteringLoop(h *divert.Handle, stop, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 1500)
	addr := divert.Address{}

	for {
		n, err := h.Recv(buf, &addr)
		if err != nil {
			select {
			case <-stop:
				log.Println("Stopping filter...")
				return
			default:
			}
			log.Println("Failed to receive packet:", err)
			continue
		}

		packet := gopacket.NewPacket(buf[:n], layers.LayerTypeIPv4, gopacket.Default)
		ipv4, _ := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		tcp, _ := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if ipv4 != nil && tcp != nil && f.rules.has(ipv4.SrcIP.String(), int(tcp.SrcPort)) {
			log.Printf("Dropping RST packet from %s:%d", ipv4.SrcIP, tcp.SrcPort)
			continue
		}

		if _, err := h.Send(buf[:n], &addr); err != nil {
			log.Println("Failed to reinject packet:", err)
		}
	}
}
