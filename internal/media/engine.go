// Package media implements the media transport engine behind the core's
// collaborator interfaces: UDP endpoints, per-participant transports and
// incoming/outgoing stream handles with an SSRC-based RTP forwarding path.
package media

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/sdp"
)

var ErrEndpointStopped = errors.New("media: endpoint stopped")

type Config struct {
	// PublicIP is the address advertised in local candidates.
	PublicIP string
}

// Engine manufactures endpoints. One endpoint per room; transports created
// from an endpoint share its UDP socket and candidate.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.PublicIP == "" {
		cfg.PublicIP = "127.0.0.1"
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) CreateEndpoint() (core.Endpoint, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("media: listen: %w", err)
	}

	ep := &endpoint{
		publicIP: e.cfg.PublicIP,
		conn:     conn,
		port:     conn.LocalAddr().(*net.UDPAddr).Port,
		routes:   make(map[uint32]*route),
	}
	go ep.readLoop()

	log.Info().Str("module", "media").Str("ip", ep.publicIP).Int("port", ep.port).Msg("endpoint up")
	return ep, nil
}

type route struct {
	stream    *incomingStream
	transport *transport
}

// endpoint owns one UDP socket and demuxes inbound RTP to incoming streams
// by SSRC. RTCP is parsed and dropped; feedback handling lives in the
// peers, not in the forwarder.
type endpoint struct {
	publicIP string
	conn     *net.UDPConn
	port     int

	mu         sync.Mutex
	stopped    bool
	transports []*transport
	routes     map[uint32]*route
}

func (e *endpoint) LocalCandidates() []sdp.CandidateInfo {
	return []sdp.CandidateInfo{{
		Foundation: "1",
		Component:  1,
		Transport:  "udp",
		Priority:   2130706431,
		Address:    e.publicIP,
		Port:       e.port,
		Type:       "host",
	}}
}

func (e *endpoint) CreateTransport(cfg core.TransportConfig) (core.Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, ErrEndpointStopped
	}

	t, err := newTransport(e, cfg)
	if err != nil {
		return nil, err
	}
	e.transports = append(e.transports, t)
	return t, nil
}

func (e *endpoint) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	transports := e.transports
	e.transports = nil
	e.routes = make(map[uint32]*route)
	e.mu.Unlock()

	for _, t := range transports {
		t.Stop()
	}
	_ = e.conn.Close()
	log.Info().Str("module", "media").Int("port", e.port).Msg("endpoint down")
}

func (e *endpoint) addRoutes(ssrcs []uint32, s *incomingStream, t *transport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ssrc := range ssrcs {
		e.routes[ssrc] = &route{stream: s, transport: t}
	}
}

func (e *endpoint) dropRoutes(ssrcs []uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ssrc := range ssrcs {
		delete(e.routes, ssrc)
	}
}

func (e *endpoint) dropTransport(t *transport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, other := range e.transports {
		if other == t {
			e.transports = append(e.transports[:i], e.transports[i+1:]...)
			return
		}
	}
}

func (e *endpoint) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n < 2 {
			continue
		}
		if isRTCP(buf[:n]) {
			if _, err := rtcp.Unmarshal(buf[:n]); err != nil {
				log.Debug().Err(err).Str("module", "media").Msg("bad rtcp")
			}
			continue
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		e.mu.Lock()
		r, ok := e.routes[pkt.SSRC]
		e.mu.Unlock()
		if !ok {
			continue
		}
		r.transport.latch(addr)
		r.stream.handlePacket(&pkt)
	}
}

// isRTCP discriminates compound RTCP by the payload type range 192-223
// sharing the port under rtcp-mux.
func isRTCP(buf []byte) bool {
	pt := buf[1] & 0x7f
	return pt >= 64 && pt < 96
}

func (e *endpoint) write(b []byte, addr *net.UDPAddr) {
	if addr == nil {
		return
	}
	if _, err := e.conn.WriteToUDP(b, addr); err != nil {
		log.Debug().Err(err).Str("module", "media").Msg("write failed")
	}
}
