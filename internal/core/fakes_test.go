package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Chorus/internal/sdp"
)

// Hand-rolled collaborator fakes; they record calls for verification.

type fakeEngine struct {
	mu        sync.Mutex
	endpoints []*fakeEndpoint
	failNext  bool
}

func (e *fakeEngine) CreateEndpoint() (Endpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failNext {
		e.failNext = false
		return nil, errors.New("engine down")
	}
	ep := &fakeEndpoint{}
	e.endpoints = append(e.endpoints, ep)
	return ep, nil
}

type fakeEndpoint struct {
	mu         sync.Mutex
	stopped    bool
	transports int
	failCreate bool
}

func (e *fakeEndpoint) CreateTransport(cfg TransportConfig) (Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failCreate {
		return nil, errors.New("transport refused")
	}
	e.transports++
	return newFakeTransport(fmt.Sprintf("t%d", e.transports)), nil
}

func (e *fakeEndpoint) LocalCandidates() []sdp.CandidateInfo {
	return []sdp.CandidateInfo{{
		Foundation: "1", Component: 1, Transport: "udp",
		Priority: 2130706431, Address: "127.0.0.1", Port: 50000, Type: "host",
	}}
}

func (e *fakeEndpoint) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
}

type fakeTransport struct {
	id string

	mu       sync.Mutex
	stopped  bool
	outSeq   int
	incoming []*fakeIncomingStream
	outgoing []*fakeOutgoingStream
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{id: id}
}

func (t *fakeTransport) SetRemoteProperties(audio, video *sdp.MediaInfo) {}
func (t *fakeTransport) SetLocalProperties(audio, video *sdp.MediaInfo)  {}

func (t *fakeTransport) LocalICE() *sdp.ICEInfo {
	return &sdp.ICEInfo{UFrag: t.id + "-ufrag", Pwd: t.id + "-pwd", Lite: true}
}

func (t *fakeTransport) LocalDTLS() *sdp.DTLSInfo {
	return &sdp.DTLSInfo{Hash: "sha-256", Fingerprint: "AA:BB:CC:DD"}
}

func (t *fakeTransport) CreateIncomingStream(info *sdp.StreamInfo) (IncomingStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil, errors.New("transport stopped")
	}
	s := &fakeIncomingStream{id: info.ID, info: info.Clone()}
	t.incoming = append(t.incoming, s)
	return s, nil
}

func (t *fakeTransport) CreateOutgoingStream(audio, video bool) (OutgoingStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil, errors.New("transport stopped")
	}
	t.outSeq++
	id := fmt.Sprintf("%s-out%d", t.id, t.outSeq)
	info := sdp.NewStreamInfo(id)
	if audio {
		info.AddTrack(&sdp.TrackInfo{ID: id + "-audio", Media: "audio", SSRCs: []uint32{uint32(1000 + t.outSeq)}})
	}
	if video {
		info.AddTrack(&sdp.TrackInfo{ID: id + "-video", Media: "video", SSRCs: []uint32{uint32(2000 + t.outSeq)}})
	}
	s := &fakeOutgoingStream{id: id, info: info}
	t.outgoing = append(t.outgoing, s)
	return s, nil
}

func (t *fakeTransport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

type fakeIncomingStream struct {
	id   string
	info *sdp.StreamInfo

	mu        sync.Mutex
	stopped   bool
	onStopped Emitter[struct{}]
}

func (s *fakeIncomingStream) ID() string            { return s.id }
func (s *fakeIncomingStream) Info() *sdp.StreamInfo { return s.info.Clone() }

func (s *fakeIncomingStream) OnStopped(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		fn()
		return func() {}
	}
	s.mu.Unlock()
	return s.onStopped.Subscribe(func(struct{}) { fn() })
}

func (s *fakeIncomingStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.onStopped.Emit(struct{}{})
}

type fakeOutgoingStream struct {
	id   string
	info *sdp.StreamInfo

	mu       sync.Mutex
	stopped  bool
	attached string
}

func (s *fakeOutgoingStream) ID() string            { return s.id }
func (s *fakeOutgoingStream) Info() *sdp.StreamInfo { return s.info.Clone() }

func (s *fakeOutgoingStream) AttachTo(source IncomingStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("outgoing stream stopped")
	}
	s.attached = source.ID()
	return nil
}

func (s *fakeOutgoingStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func newTestStreamInfo(id string) *sdp.StreamInfo {
	info := sdp.NewStreamInfo(id)
	info.AddTrack(&sdp.TrackInfo{ID: id + "-audio", Media: "audio", SSRCs: []uint32{3001}})
	info.AddTrack(&sdp.TrackInfo{ID: id + "-video", Media: "video", SSRCs: []uint32{3002}})
	return info
}

// testOffer returns a parsed browser-style offer, optionally carrying one
// published stream.
func testOffer(withStream bool) (*sdp.Description, error) {
	raw := "v=0\r\n" +
		"o=- 4613732924991999047 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"a=group:BUNDLE 0 1\r\n" +
		"a=msid-semantic: WMS stream0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:0\r\n" +
		"a=ice-ufrag:remoteufrag\r\n" +
		"a=ice-pwd:remotepwdremotepwdremote\r\n" +
		"a=fingerprint:sha-256 11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00\r\n" +
		"a=setup:actpass\r\n" +
		"a=sendrecv\r\n" +
		"a=rtcp-mux\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n" +
		"a=fmtp:111 minptime=10;useinbandfec=1\r\n" +
		"a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level\r\n"
	if withStream {
		raw += "a=ssrc:1111 cname:test\r\n" +
			"a=ssrc:1111 msid:stream0 audiotrack0\r\n"
	}
	raw += "m=video 9 UDP/TLS/RTP/SAVPF 96 97\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:1\r\n" +
		"a=ice-ufrag:remoteufrag\r\n" +
		"a=ice-pwd:remotepwdremotepwdremote\r\n" +
		"a=fingerprint:sha-256 11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00\r\n" +
		"a=setup:actpass\r\n" +
		"a=sendrecv\r\n" +
		"a=rtcp-mux\r\n" +
		"a=rtpmap:96 VP8/90000\r\n" +
		"a=rtpmap:97 rtx/90000\r\n" +
		"a=fmtp:97 apt=96\r\n" +
		"a=extmap:3 http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time\r\n"
	if withStream {
		raw += "a=ssrc-group:FID 2222 2223\r\n" +
			"a=ssrc:2222 cname:test\r\n" +
			"a=ssrc:2222 msid:stream0 videotrack0\r\n" +
			"a=ssrc:2223 cname:test\r\n" +
			"a=ssrc:2223 msid:stream0 videotrack0\r\n"
	}
	return sdp.Parse(raw)
}
