package lib

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/google/gopacket/layers"
)

// segment is a decoded inbound datagram. The layers and payload reference
// the pooled frame held in chunk until release is called.
type segment struct {
	ip      *layers.IPv4
	tcp     *layers.TCP
	payload []byte
	chunk   *rp.Element
	pool    *rp.RingPool // owner of chunk
}

func (s *segment) release() {
	returnFrame(s.pool, s.chunk)
	s.chunk = nil
}

// connHandler owns one Connection. Only its goroutine touches conn once it
// has been started.
type connHandler struct {
	conn         *Connection
	InputChannel chan *segment
	done         chan struct{} // closed when the handler stops reading InputChannel
}

// forward hands seg to the handler. A segment that lands in the channel after
// the handler stopped reading is released here.
func (h *connHandler) forward(seg *segment, closeSignal chan struct{}) {
	select {
	case h.InputChannel <- seg:
	case <-h.done:
		seg.release()
		return
	case <-closeSignal:
		seg.release()
		return
	}
	select {
	case <-h.done:
		drain(h.InputChannel)
	default:
	}
}

// Service represents a service listening on a specific ip and port.
type Service struct {
	core            *TcpCore
	ServiceAddr     net.IP
	Port            int
	InputChannel    chan *segment // incoming segments for all connections of the service
	out             FrameSender   // serialized device output
	connectionMap   map[string]*connHandler
	mu              sync.Mutex        // guards connectionMap and IsClosed
	connCloseSignal chan *connHandler // handlers report finished connections here
	closeSignal     chan struct{}     // signal for closing service
	dispatchDone    chan struct{}     // closed when the dispatcher stops reading InputChannel
	wg              sync.WaitGroup    // service goroutines
	connWg          sync.WaitGroup    // connection handler goroutines
	IsClosed        bool
	connConfig      *ConnectionConfig
	queueLength     int
	debug           bool
}

func newService(core *TcpCore, serviceAddr net.IP, port int, out FrameSender, connConfig *ConnectionConfig) *Service {
	queueLength := DefaultInputQueueLength
	debug := false
	if core != nil {
		queueLength = core.config.InputQueueLength
		debug = core.config.Debug
	}
	if connConfig == nil {
		connConfig = DefaultConnectionConfig()
	}
	newSrv := &Service{
		core:            core,
		ServiceAddr:     serviceAddr,
		Port:            port,
		InputChannel:    make(chan *segment, queueLength),
		out:             out,
		connectionMap:   make(map[string]*connHandler),
		connCloseSignal: make(chan *connHandler),
		closeSignal:     make(chan struct{}),
		dispatchDone:    make(chan struct{}),
		connConfig:      connConfig,
		queueLength:     queueLength,
		debug:           debug,
	}

	// Start goroutines
	newSrv.wg.Add(2)
	go newSrv.handleIncomingPackets()
	go newSrv.handleCloseConnections()

	return newSrv
}

// deliver queues seg for the dispatcher. It reports false if the service is
// closed; the caller then still owns seg.
func (s *Service) deliver(seg *segment) bool {
	select {
	case <-s.closeSignal:
		return false
	default:
	}
	select {
	case <-s.closeSignal:
		return false
	case s.InputChannel <- seg:
	}
	// the dispatcher may have stopped between the check and the send
	select {
	case <-s.dispatchDone:
		drain(s.InputChannel)
	default:
	}
	return true
}

// handleIncomingPackets is the main service dispatch loop. New connections
// are accepted here so that two SYNs from one peer cannot race.
func (s *Service) handleIncomingPackets() {
	defer s.wg.Done()
	defer func() {
		close(s.dispatchDone)
		drain(s.InputChannel)
	}()

	for {
		select {
		case <-s.closeSignal:
			log.Println("Closing service handleIncomingPackets go routine")
			return
		case seg := <-s.InputChannel:
			s.dispatch(seg)
		}
	}
}

func (s *Service) dispatch(seg *segment) {
	var fp int
	if rp.Debug && seg.chunk != nil {
		fp = seg.chunk.AddFootPrint("service.dispatch")
		defer seg.chunk.TickFootPrint(fp)
	}

	connKey := fmt.Sprintf("%s:%d", seg.ip.SrcIP.To4(), seg.tcp.SrcPort)

	s.mu.Lock()
	h, ok := s.connectionMap[connKey]
	s.mu.Unlock()
	if ok {
		h.forward(seg, s.closeSignal)
		return
	}

	if !seg.tcp.SYN {
		if s.debug {
			log.Printf("Received %s segment for non-existent connection: %s. Ignore it.\n", flagsOf(seg.tcp), connKey)
		}
		seg.release()
		return
	}

	// no new connections once shutdown has begun
	select {
	case <-s.closeSignal:
		seg.release()
		return
	default:
	}

	conn, err := Accept(s.out, seg.ip, seg.tcp, seg.payload, s.connConfig)
	seg.release()
	if err != nil {
		log.Printf("Error accepting connection from %s: %s\n", connKey, err)
		return
	}
	if conn == nil {
		return
	}
	if s.debug {
		snd, rcv := conn.Send(), conn.Recv()
		log.Println(formatExchange(SynRcvd, false, rcv.Irs, 0, 0, SYNFlag))
		log.Println(formatExchange(SynRcvd, true, snd.Iss, rcv.Nxt, 0, SYNFlag|ACKFlag))
	}

	h = &connHandler{
		conn:         conn,
		InputChannel: make(chan *segment, s.queueLength),
		done:         make(chan struct{}),
	}
	s.mu.Lock()
	s.connectionMap[connKey] = h
	s.mu.Unlock()

	s.connWg.Add(1)
	go s.handleConnection(h)

	log.Printf("Sent SYN-ACK packet to: %s\n", connKey)
}

// drain releases the frames of segments nobody will process.
func drain(ch chan *segment) {
	for {
		select {
		case seg := <-ch:
			seg.release()
		default:
			return
		}
	}
}

// handleConnection feeds one connection its segments in arrival order.
func (s *Service) handleConnection(h *connHandler) {
	defer s.connWg.Done()
	defer func() {
		close(h.done)
		drain(h.InputChannel)
	}()
	conn := h.conn

	for {
		select {
		case <-s.closeSignal:
			if s.connConfig.ResetOnAbort {
				if err := conn.SendReset(s.out); err != nil {
					log.Printf("Error resetting connection %s: %s\n", conn, err)
				}
			}
			return
		case seg := <-h.InputChannel:
			before := conn.State()
			nxt := conn.Send().Nxt
			err := conn.OnPacket(s.out, seg.ip, seg.tcp, seg.payload)
			if s.debug {
				s.trace(before, nxt, conn, seg)
			}
			seg.release()

			switch {
			case errors.Is(err, ErrInvariant):
				log.Printf("Connection %s aborted: %s\n", conn, err)
				if s.connConfig.ResetOnAbort {
					if err := conn.SendReset(s.out); err != nil {
						log.Printf("Error resetting connection %s: %s\n", conn, err)
					}
				}
			case err != nil:
				log.Printf("Error processing segment on %s: %s\n", conn, err)
				continue
			case conn.State().IsTerminal():
				log.Printf("Connection %s reached %s\n", conn, conn.State())
			default:
				continue
			}

			select {
			case s.connCloseSignal <- h:
			case <-s.closeSignal:
			}
			return
		}
	}
}

// trace logs an inbound segment and whatever the connection sent for it.
func (s *Service) trace(before State, nxt uint32, conn *Connection, seg *segment) {
	log.Println(formatExchange(before, false, seg.tcp.Seq, seg.tcp.Ack, len(seg.payload), flagsOf(seg.tcp)))
	if after := conn.Send().Nxt; after != nxt {
		log.Printf("%s sent up to SND.NXT=%d, now %s\n", conn.Key(), after, conn.State())
	}
}

// handle finished connections reported by their handlers
func (s *Service) handleCloseConnections() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closeSignal:
			log.Println("Closing service handleCloseConnections go routine")
			return
		case h := <-s.connCloseSignal:
			key := h.conn.Key()
			s.mu.Lock()
			_, ok := s.connectionMap[key]
			if ok {
				delete(s.connectionMap, key)
			}
			s.mu.Unlock()
			if !ok {
				log.Printf("Connection %s does not exist in connection map\n", h.conn)
				continue
			}
			log.Printf("Connection %s terminated and removed.\n", h.conn)
		}
	}
}

// ConnectionCount returns the number of live connections.
func (s *Service) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connectionMap)
}

// Close aborts every connection of the service, resetting them if the
// connection config asks for it, and removes the RST filtering rule.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.IsClosed {
		s.mu.Unlock()
		return nil
	}
	s.IsClosed = true
	s.mu.Unlock()

	log.Println("Beginning service shutdown...")

	// send signal to service go routines to gracefully close them. The
	// dispatcher starts connection handlers, so it is waited for first.
	close(s.closeSignal)
	s.wg.Wait()
	s.connWg.Wait()

	s.mu.Lock()
	s.connectionMap = make(map[string]*connHandler)
	s.mu.Unlock()
	log.Println("Service resource cleared.")

	// tell the core to forget the service
	if s.core != nil {
		select {
		case s.core.serviceCloseSignal <- s:
		case <-s.core.closeSignal:
		}
	}

	// remove the filtering rules for the service
	if s.core != nil && s.core.filter != nil {
		if err := s.core.filter.RemoveTcpServerFiltering(s.ServiceAddr.String(), s.Port); err != nil {
			log.Printf("Error removing filtering rules for service %s:%d: %s", s.ServiceAddr, s.Port, err)
			return err
		}
	}

	log.Printf("Service %s:%d is shut down.\n", s.ServiceAddr, s.Port)
	return nil
}
