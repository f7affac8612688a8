package media

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/randutil"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/sdp"
)

var ErrTransportStopped = errors.New("media: transport stopped")

const runesAlpha = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890"

// transport is one participant's media session: local ICE credentials, a
// DTLS identity and the stream handles created on it. The peer address is
// latched from the first routed inbound packet.
type transport struct {
	endpoint *endpoint

	remoteICE  *sdp.ICEInfo
	remoteDTLS *sdp.DTLSInfo
	localICE   *sdp.ICEInfo
	localDTLS  *sdp.DTLSInfo

	mu          sync.Mutex
	stopped     bool
	peerAddr    *net.UDPAddr
	remoteAudio *sdp.MediaInfo
	remoteVideo *sdp.MediaInfo
	localAudio  *sdp.MediaInfo
	localVideo  *sdp.MediaInfo
	incoming    map[string]*incomingStream
	outgoing    map[string]*outgoingStream
}

func newTransport(e *endpoint, cfg core.TransportConfig) (*transport, error) {
	if cfg.ICE == nil || cfg.DTLS == nil {
		return nil, errors.New("media: transport requires remote ice and dtls info")
	}

	ufrag, err := randutil.GenerateCryptoRandomString(8, runesAlpha)
	if err != nil {
		return nil, err
	}
	pwd, err := randutil.GenerateCryptoRandomString(24, runesAlpha)
	if err != nil {
		return nil, err
	}

	dtls, err := localDTLSIdentity()
	if err != nil {
		return nil, err
	}

	return &transport{
		endpoint:   e,
		remoteICE:  cfg.ICE,
		remoteDTLS: cfg.DTLS,
		localICE:   &sdp.ICEInfo{UFrag: ufrag, Pwd: pwd, Lite: true},
		localDTLS:  dtls,
		incoming:   make(map[string]*incomingStream),
		outgoing:   make(map[string]*outgoingStream),
	}, nil
}

// localDTLSIdentity generates a self-signed certificate and returns its
// fingerprint info; the DTLS role is left for the answer to decide.
func localDTLSIdentity() (*sdp.DTLSInfo, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("media: generate key: %w", err)
	}
	cert, err := webrtc.GenerateCertificate(key)
	if err != nil {
		return nil, fmt.Errorf("media: generate certificate: %w", err)
	}
	fps, err := cert.GetFingerprints()
	if err != nil || len(fps) == 0 {
		return nil, fmt.Errorf("media: fingerprints: %w", err)
	}
	return &sdp.DTLSInfo{Hash: fps[0].Algorithm, Fingerprint: fps[0].Value}, nil
}

func (t *transport) LocalICE() *sdp.ICEInfo   { return t.localICE }
func (t *transport) LocalDTLS() *sdp.DTLSInfo { return t.localDTLS }

func (t *transport) SetRemoteProperties(audio, video *sdp.MediaInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteAudio, t.remoteVideo = audio, video
}

func (t *transport) SetLocalProperties(audio, video *sdp.MediaInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.localAudio, t.localVideo = audio, video
}

func (t *transport) CreateIncomingStream(info *sdp.StreamInfo) (core.IncomingStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil, ErrTransportStopped
	}

	s := newIncomingStream(t, info.Clone())
	t.incoming[s.ID()] = s
	t.endpoint.addRoutes(s.ssrcs(), s, t)
	return s, nil
}

func (t *transport) CreateOutgoingStream(audio, video bool) (core.OutgoingStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil, ErrTransportStopped
	}

	s, err := newOutgoingStream(t, audio, video)
	if err != nil {
		return nil, err
	}
	t.outgoing[s.ID()] = s
	return s, nil
}

func (t *transport) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	incoming := make([]*incomingStream, 0, len(t.incoming))
	for _, s := range t.incoming {
		incoming = append(incoming, s)
	}
	outgoing := make([]*outgoingStream, 0, len(t.outgoing))
	for _, s := range t.outgoing {
		outgoing = append(outgoing, s)
	}
	t.incoming = make(map[string]*incomingStream)
	t.outgoing = make(map[string]*outgoingStream)
	t.mu.Unlock()

	for _, s := range incoming {
		s.Stop()
	}
	for _, s := range outgoing {
		s.Stop()
	}
	t.endpoint.dropTransport(t)
}

func (t *transport) latch(addr *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peerAddr == nil {
		t.peerAddr = addr
	}
}

func (t *transport) peer() *net.UDPAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peerAddr
}

func (t *transport) dropIncoming(s *incomingStream) {
	t.mu.Lock()
	delete(t.incoming, s.ID())
	t.mu.Unlock()
	t.endpoint.dropRoutes(s.ssrcs())
}

func (t *transport) dropOutgoing(s *outgoingStream) {
	t.mu.Lock()
	delete(t.outgoing, s.ID())
	t.mu.Unlock()
}
