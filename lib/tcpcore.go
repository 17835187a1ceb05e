package lib

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/Clouded-Sabre/Raw-TCP/filter"
	rp "github.com/Clouded-Sabre/ringpool/lib"
)

const DefaultInputQueueLength = 100

type TcpCoreConfig struct {
	MaxFrameSize         int  // receive buffer size, the largest datagram we accept
	FramePoolSize        int  // how many receive buffers in the ring pool
	InputQueueLength     int  // per service and per connection input queue length
	VerifyChecksum       bool // drop segments whose tcp checksum does not verify
	Debug                bool // log every segment exchange
	PoolDebug            bool // Ring Pool debug setting
	ProcessTimeThreshold int  // packet processing time threshold in ms, for pool debugging
}

func DefaultTcpCoreConfig() *TcpCoreConfig {
	return &TcpCoreConfig{
		MaxFrameSize:         DefaultMaxFrameSize,
		FramePoolSize:        2000,
		InputQueueLength:     DefaultInputQueueLength,
		VerifyChecksum:       true,
		Debug:                false,
		PoolDebug:            false,
		ProcessTimeThreshold: 10,
	}
}

// TcpCore owns the frame device. It reads datagrams, demultiplexes them to
// the listening services and serializes everything written back.
type TcpCore struct {
	config             *TcpCoreConfig
	device             Device
	filter             filter.Filter       // prevents the host stack from answering with RST; may be nil
	pool               *rp.RingPool        // receive buffers
	serviceMap         map[string]*Service // keyed by ip:port
	mu                 sync.Mutex          // guards serviceMap and closed
	sendMu             sync.Mutex          // one frame at a time on the device
	serviceCloseSignal chan *Service
	closeSignal        chan struct{}  // used to send close signal to go routines
	wg                 sync.WaitGroup // WaitGroup to synchronize goroutines
	closed             bool
}

// NewTcpCore starts reading from device. f may be nil when the host stack
// does not need to be kept quiet, as with a TUN device.
func NewTcpCore(config *TcpCoreConfig, device Device, f filter.Filter) (*TcpCore, error) {
	if device == nil {
		return nil, errors.New("tcp core needs a frame device")
	}
	if config == nil {
		config = DefaultTcpCoreConfig()
	}
	if config.MaxFrameSize < IpHeaderLength+TcpHeaderLength {
		return nil, fmt.Errorf("max frame size %d cannot hold an ip and a tcp header", config.MaxFrameSize)
	}
	if config.InputQueueLength <= 0 {
		config.InputQueueLength = DefaultInputQueueLength
	}

	core := &TcpCore{
		config:             config,
		device:             device,
		filter:             f,
		serviceMap:         make(map[string]*Service),
		serviceCloseSignal: make(chan *Service),
		closeSignal:        make(chan struct{}),
	}

	// rp.Debug is process wide; a core only ever turns it on
	if config.PoolDebug {
		rp.Debug = true
	}
	core.pool = rp.NewRingPool("TCP: ", config.FramePoolSize, NewFrame, config.MaxFrameSize)
	core.pool.Debug = config.PoolDebug
	core.pool.ProcessTimeThreshold = time.Duration(config.ProcessTimeThreshold) * time.Millisecond

	// Start goroutines
	core.wg.Add(2)
	go core.handleIncomingPackets()
	go core.handleCloseServices()

	log.Println("Tcp core started")

	return core, nil
}

// Send writes one frame to the device. Writes from all connections go
// through here so frames never interleave.
func (p *TcpCore) Send(frame []byte) (int, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.device.Send(frame)
}

// ListenTcp starts accepting connections on serviceIP:port.
func (p *TcpCore) ListenTcp(serviceIP string, port int, connConfig *ConnectionConfig) (*Service, error) {
	// Normalize IP address string before making key from it
	serviceAddr, err := net.ResolveIPAddr("ip4", serviceIP)
	if err != nil {
		log.Println("IP address is malformated:", err)
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	addr := serviceAddr.IP.To4()
	if addr == nil {
		return nil, fmt.Errorf("%q is not an IPv4 address", serviceIP)
	}
	key := fmt.Sprintf("%s:%d", addr, port)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("tcp core is closed")
	}
	if _, ok := p.serviceMap[key]; ok {
		return nil, fmt.Errorf("%s is already taken", key)
	}

	// add a server side filtering rule to prevent RST packets
	if p.filter != nil {
		if err = p.filter.AddTcpServerFiltering(addr.String(), port); err != nil {
			log.Println("Error adding server filtering rule:", err)
			return nil, err
		}
		log.Println("Server filtering rule added to prevent RST packets at ", key)
	}

	srv := newService(p, addr, port, p, connConfig)
	p.serviceMap[key] = srv
	log.Printf("Listening at %s\n", key)

	return srv, nil
}

func (p *TcpCore) lookupService(ip net.IP, port uint16) *Service {
	key := fmt.Sprintf("%s:%d", ip.To4(), port)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serviceMap[key]
}

// handleIncomingPackets is the device read loop.
func (p *TcpCore) handleIncomingPackets() {
	defer p.wg.Done()

	for {
		frame, chunk := getFrame(p.pool, p.config.MaxFrameSize)
		n, err := p.device.Receive(frame.Buffer())
		if err != nil {
			returnFrame(p.pool, chunk)
			select {
			case <-p.closeSignal:
				return
			default:
			}
			if errors.Is(err, ErrDeviceClosed) {
				log.Println("Frame device closed, stop reading")
				return
			}
			log.Println("Error receiving frame:", err)
			continue
		}
		frame.SetLength(n)

		var fp int
		if rp.Debug && chunk != nil {
			fp = chunk.AddFootPrint("tcpCore.handleIncomingPackets")
		}
		seg, srv := p.demux(frame.GetSlice())
		if rp.Debug && chunk != nil {
			chunk.TickFootPrint(fp)
		}
		if seg == nil {
			returnFrame(p.pool, chunk)
			continue
		}
		seg.chunk, seg.pool = chunk, p.pool
		if !srv.deliver(seg) {
			seg.release()
		}
	}
}

// demux decodes a frame and finds the service it is addressed to. Frames that
// cannot be handled yield a nil segment.
func (p *TcpCore) demux(frame []byte) (*segment, *Service) {
	ip, err := ParseIPv4(frame)
	if err != nil {
		if p.config.Debug && !errors.Is(err, ErrNotTCP) {
			log.Println("Dropping frame:", err)
		}
		return nil, nil
	}
	if p.config.VerifyChecksum && !VerifyChecksum(ip, ip.Payload) {
		log.Printf("Dropping segment from %s with bad checksum\n", ip.SrcIP)
		return nil, nil
	}
	tcp, err := ParseTCP(ip.Payload)
	if err != nil {
		log.Printf("Dropping segment from %s: %s\n", ip.SrcIP, err)
		return nil, nil
	}
	srv := p.lookupService(ip.DstIP, uint16(tcp.DstPort))
	if srv == nil {
		if p.config.Debug {
			log.Printf("No service at %s:%d\n", ip.DstIP, tcp.DstPort)
		}
		return nil, nil
	}
	return &segment{ip: ip, tcp: tcp, payload: tcp.Payload}, srv
}

func (p *TcpCore) handleCloseServices() {
	defer p.wg.Done()

	for {
		select {
		case <-p.closeSignal:
			return // gracefully stop the go routine
		case srv := <-p.serviceCloseSignal:
			key := fmt.Sprintf("%s:%d", srv.ServiceAddr, srv.Port)
			p.mu.Lock()
			cur, ok := p.serviceMap[key]
			ok = ok && cur == srv // the port may already serve a new listener
			if ok {
				delete(p.serviceMap, key)
			}
			p.mu.Unlock()
			if !ok {
				log.Printf("Service %s does not exist in service map", key)
				continue
			}
			log.Printf("Service %s terminated and removed.", key)
		}
	}
}

func (p *TcpCore) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	services := make([]*Service, 0, len(p.serviceMap))
	for _, srv := range p.serviceMap {
		services = append(services, srv)
	}
	p.mu.Unlock()

	// Close all services, their connections are reset through the device
	for _, srv := range services {
		srv.Close()
	}

	// Send closeSignal to all goroutines
	close(p.closeSignal)

	if err := p.device.Close(); err != nil {
		log.Println("Error closing frame device:", err)
	}

	// Wait for all goroutines to finish
	p.wg.Wait()

	if p.filter != nil {
		if err := p.filter.FinishFiltering(); err != nil { // remove any remaining filtering rules
			log.Println("Error finishing filtering:", err)
			return err
		}
	}

	log.Println("Tcp core closed gracefully.")

	return nil
}
