package media

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/sdp"
)

var ErrForeignStream = errors.New("media: cannot attach to a stream from another engine")

// incomingStream receives a publisher's RTP and fans it out to the sinks
// attached by outgoing streams.
type incomingStream struct {
	id        string
	transport *transport
	info      *sdp.StreamInfo

	mu      sync.Mutex
	stopped bool
	sinkSeq int
	sinks   map[int]func(*rtp.Packet)
	packets uint64
	bytes   uint64

	onStopped core.Emitter[struct{}]
}

func newIncomingStream(t *transport, info *sdp.StreamInfo) *incomingStream {
	return &incomingStream{
		id:        info.ID,
		transport: t,
		info:      info,
		sinks:     make(map[int]func(*rtp.Packet)),
	}
}

func (s *incomingStream) ID() string            { return s.id }
func (s *incomingStream) Info() *sdp.StreamInfo { return s.info.Clone() }

// OnStopped registers a stop observer. If the stream already stopped the
// observer fires immediately, so a receiver attaching concurrently with
// the publisher leaving still gets its removal notification.
func (s *incomingStream) OnStopped(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		fn()
		return func() {}
	}
	s.mu.Unlock()
	return s.onStopped.Subscribe(func(struct{}) { fn() })
}

func (s *incomingStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.sinks = make(map[int]func(*rtp.Packet))
	packets, bytes := s.packets, s.bytes
	s.mu.Unlock()

	s.transport.dropIncoming(s)
	log.Info().Str("module", "media").Str("stream", s.id).
		Uint64("packets", packets).Uint64("bytes", bytes).Msg("incoming stream stopped")
	s.onStopped.Emit(struct{}{})
}

func (s *incomingStream) ssrcs() []uint32 {
	var out []uint32
	for _, track := range s.info.Tracks {
		out = append(out, track.SSRCs...)
	}
	return out
}

// kindOf maps an inbound SSRC back to its track kind.
func (s *incomingStream) kindOf(ssrc uint32) string {
	for _, track := range s.info.Tracks {
		for _, candidate := range track.SSRCs {
			if candidate == ssrc {
				return track.Media
			}
		}
	}
	return ""
}

func (s *incomingStream) addSink(fn func(*rtp.Packet)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return func() {}
	}
	s.sinkSeq++
	id := s.sinkSeq
	s.sinks[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.sinks, id)
	}
}

func (s *incomingStream) handlePacket(pkt *rtp.Packet) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.packets++
	s.bytes += uint64(pkt.MarshalSize())
	sinks := make([]func(*rtp.Packet), 0, len(s.sinks))
	for _, fn := range s.sinks {
		sinks = append(sinks, fn)
	}
	s.mu.Unlock()

	for _, fn := range sinks {
		fn(pkt)
	}
}

// outgoingStream forwards one incoming stream to a receiver, rewriting
// SSRCs to the locally allocated ones its descriptor advertises.
type outgoingStream struct {
	id         string
	transport  *transport
	info       *sdp.StreamInfo
	ssrcByKind map[string]uint32

	mu      sync.Mutex
	stopped bool
	source  *incomingStream
	detach  func()
}

func newOutgoingStream(t *transport, audio, video bool) (*outgoingStream, error) {
	id := uuid.NewString()
	info := sdp.NewStreamInfo(id)
	ssrcByKind := make(map[string]uint32)

	kinds := []string{}
	if audio {
		kinds = append(kinds, "audio")
	}
	if video {
		kinds = append(kinds, "video")
	}
	for _, kind := range kinds {
		ssrc, err := randomSSRC()
		if err != nil {
			return nil, err
		}
		ssrcByKind[kind] = ssrc
		info.AddTrack(&sdp.TrackInfo{
			ID:    id + "-" + kind,
			Media: kind,
			SSRCs: []uint32{ssrc},
		})
	}

	return &outgoingStream{
		id:         id,
		transport:  t,
		info:       info,
		ssrcByKind: ssrcByKind,
	}, nil
}

func (s *outgoingStream) ID() string            { return s.id }
func (s *outgoingStream) Info() *sdp.StreamInfo { return s.info.Clone() }

// AttachTo subscribes this stream to the source's RTP feed. Re-attaching
// replaces the previous source.
func (s *outgoingStream) AttachTo(source core.IncomingStream) error {
	src, ok := source.(*incomingStream)
	if !ok {
		return ErrForeignStream
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrTransportStopped
	}
	if s.detach != nil {
		s.detach()
	}
	s.source = src
	s.detach = src.addSink(s.forward)
	s.mu.Unlock()
	return nil
}

func (s *outgoingStream) forward(pkt *rtp.Packet) {
	s.mu.Lock()
	if s.stopped || s.source == nil {
		s.mu.Unlock()
		return
	}
	kind := s.source.kindOf(pkt.SSRC)
	ssrc, ok := s.ssrcByKind[kind]
	s.mu.Unlock()
	if !ok {
		return
	}

	out := *pkt
	out.SSRC = ssrc
	b, err := out.Marshal()
	if err != nil {
		return
	}
	s.transport.endpoint.write(b, s.transport.peer())
}

func (s *outgoingStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	detach := s.detach
	s.detach = nil
	s.source = nil
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
	s.transport.dropOutgoing(s)
}

func randomSSRC() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]) | 1, nil
}
