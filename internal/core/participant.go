package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chorus/internal/domain"
	"github.com/dkeye/Chorus/internal/sdp"
)

type participantState int

const (
	stateUninitialized participantState = iota
	stateInitialized
	stateStopped
)

// Participant owns one connection's media session inside a room: its
// transport, the streams it publishes (incoming) and receives (outgoing),
// and the negotiated descriptions. It is the unit of renegotiation.
//
// Lifecycle: Uninitialized -> Initialized -> Stopped. PublishStream and
// AddStream are valid only while Initialized; Stop is terminal and
// idempotent.
type Participant struct {
	id   domain.ParticipantID
	name string
	room *Room // non-owning back-reference, used for endpoint/capabilities
	uri  string

	mu        sync.Mutex
	state     participantState
	transport Transport
	incoming  map[string]IncomingStream
	outgoing  map[string]OutgoingStream
	localSDP  *sdp.Description
	remoteSDP *sdp.Description

	// unsubscribe handles for the stopped observers registered on the
	// source streams of our outgoing streams, keyed by outgoing stream id.
	sourceUnsubs map[string]func()

	onStream        Emitter[IncomingStream]
	onRenegotiation Emitter[string]
	onStopped       Emitter[struct{}]
}

func newParticipant(id domain.ParticipantID, name string, room *Room) *Participant {
	return &Participant{
		id:           id,
		name:         name,
		room:         room,
		uri:          fmt.Sprintf("%s/participants/%d", room.URI(), id),
		incoming:     make(map[string]IncomingStream),
		outgoing:     make(map[string]OutgoingStream),
		sourceUnsubs: make(map[string]func()),
	}
}

func (p *Participant) ID() domain.ParticipantID { return p.id }
func (p *Participant) Name() string             { return p.name }
func (p *Participant) URI() string              { return p.uri }

// OnStream fires when this participant publishes a new incoming stream.
func (p *Participant) OnStream(fn func(IncomingStream)) (unsubscribe func()) {
	return p.onStream.Subscribe(fn)
}

// OnRenegotiationNeeded fires with the rendered local description whenever
// it changes and the remote peer must re-apply it.
func (p *Participant) OnRenegotiationNeeded(fn func(string)) (unsubscribe func()) {
	return p.onRenegotiation.Subscribe(fn)
}

// OnStopped fires exactly once, when the participant is stopped.
func (p *Participant) OnStopped(fn func()) (unsubscribe func()) {
	return p.onStopped.Subscribe(func(struct{}) { fn() })
}

// Init consumes the remote description: creates the transport from its
// ICE/DTLS parameters, produces the local answer against the room
// capabilities and applies both property sets. Not idempotent.
func (p *Participant) Init(remote *sdp.Description) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateInitialized:
		return ErrAlreadyInitialized
	case stateStopped:
		return ErrStopped
	}

	endpoint := p.room.Endpoint()
	transport, err := endpoint.CreateTransport(TransportConfig{
		ICE:  remote.ICE(),
		DTLS: remote.DTLS(),
	})
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	transport.SetRemoteProperties(remote.Media("audio"), remote.Media("video"))

	answer, err := remote.Answer(sdp.AnswerParams{
		ICE:          transport.LocalICE(),
		DTLS:         transport.LocalDTLS(),
		Candidates:   endpoint.LocalCandidates(),
		Capabilities: p.room.Capabilities(),
	})
	if err != nil {
		transport.Stop()
		return fmt.Errorf("answer: %w", err)
	}

	transport.SetLocalProperties(answer.Media("audio"), answer.Media("video"))

	p.transport = transport
	p.localSDP = answer
	p.remoteSDP = remote
	p.state = stateInitialized

	log.Debug().Str("module", "core.participant").Str("uri", p.uri).Msg("initialized")
	return nil
}

// PublishStream creates an incoming stream on the transport for a stream
// the remote offer describes and announces it to stream observers (the
// room fan-out).
func (p *Participant) PublishStream(info *sdp.StreamInfo) error {
	p.mu.Lock()
	if p.state != stateInitialized {
		stopped := p.state == stateStopped
		p.mu.Unlock()
		if stopped {
			return ErrStopped
		}
		return ErrNotInitialized
	}

	incoming, err := p.transport.CreateIncomingStream(info)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("create incoming stream: %w", err)
	}
	p.incoming[incoming.ID()] = incoming
	p.mu.Unlock()

	log.Info().Str("module", "core.participant").
		Str("uri", p.uri+"/incomingStreams/"+incoming.ID()).Msg("stream published")
	p.onStream.Emit(incoming)
	return nil
}

// AddStream mirrors another participant's incoming stream to this one: it
// creates an outgoing stream, attaches it to the source, appends its
// descriptor to the local description and raises renegotiationneeded. A
// one-shot observer on the source undoes all of it when the source stops.
func (p *Participant) AddStream(source IncomingStream) error {
	p.mu.Lock()
	if p.state != stateInitialized {
		stopped := p.state == stateStopped
		p.mu.Unlock()
		if stopped {
			// Fan-out into a stopped participant is a no-op, not a failure.
			return nil
		}
		return ErrNotInitialized
	}

	outgoing, err := p.transport.CreateOutgoingStream(true, true)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("create outgoing stream: %w", err)
	}

	info := outgoing.Info()
	p.localSDP.AddStream(info)
	p.outgoing[outgoing.ID()] = outgoing
	rendered := p.localSDP.String()
	p.mu.Unlock()

	log.Info().Str("module", "core.participant").
		Str("uri", p.uri+"/outgoingStreams/"+outgoing.ID()).
		Str("source", source.ID()).Msg("stream added")
	p.onRenegotiation.Emit(rendered)

	// Observe the source outside the lock: a source that already stopped
	// fires the teardown inline, which re-enters this participant.
	var once sync.Once
	unsub := source.OnStopped(func() {
		once.Do(func() { p.removeOutgoing(outgoing, info) })
	})

	p.mu.Lock()
	if _, live := p.outgoing[outgoing.ID()]; live && p.state == stateInitialized {
		p.sourceUnsubs[outgoing.ID()] = unsub
		p.mu.Unlock()
	} else {
		// Torn down already, either by an inline stopped notification or by
		// a concurrent Stop. The observer handle is ours to release.
		p.mu.Unlock()
		unsub()
		return nil
	}

	if err := outgoing.AttachTo(source); err != nil {
		return fmt.Errorf("attach outgoing stream: %w", err)
	}
	return nil
}

// removeOutgoing runs on the source stream's stopped notification. Nobody
// awaits that notification, so failures must not escape: the handler is
// a no-op when the participant already stopped or the stream is gone.
func (p *Participant) removeOutgoing(outgoing OutgoingStream, info *sdp.StreamInfo) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "core.participant").Str("uri", p.uri).
				Interface("panic", r).Msg("stopped observer panicked")
		}
	}()

	p.mu.Lock()
	if p.state == stateStopped {
		p.mu.Unlock()
		return
	}
	if _, ok := p.outgoing[outgoing.ID()]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.outgoing, outgoing.ID())
	delete(p.sourceUnsubs, outgoing.ID())
	p.localSDP.RemoveStream(info)
	rendered := p.localSDP.String()
	p.mu.Unlock()

	log.Info().Str("module", "core.participant").
		Str("uri", p.uri+"/outgoingStreams/"+outgoing.ID()).Msg("source stopped, stream removed")
	p.onRenegotiation.Emit(rendered)
	outgoing.Stop()
}

// Stop releases everything the participant owns: incoming streams first
// (their stopped observers cascade the removal of mirrored streams on
// peers), then outgoing streams, then the transport. Safe to call from any
// state and concurrently with in-flight fan-out; the stopped notification
// fires exactly once.
func (p *Participant) Stop() {
	p.mu.Lock()
	if p.state == stateStopped {
		p.mu.Unlock()
		return
	}
	p.state = stateStopped

	incoming := make([]IncomingStream, 0, len(p.incoming))
	for _, s := range p.incoming {
		incoming = append(incoming, s)
	}
	outgoing := make([]OutgoingStream, 0, len(p.outgoing))
	for _, s := range p.outgoing {
		outgoing = append(outgoing, s)
	}
	unsubs := make([]func(), 0, len(p.sourceUnsubs))
	for _, u := range p.sourceUnsubs {
		unsubs = append(unsubs, u)
	}
	transport := p.transport

	p.incoming = make(map[string]IncomingStream)
	p.outgoing = make(map[string]OutgoingStream)
	p.sourceUnsubs = make(map[string]func())
	p.transport = nil
	p.mu.Unlock()

	// Our outgoing streams die with us; drop their source observers so
	// they cannot fire into a stopped participant.
	for _, unsub := range unsubs {
		unsub()
	}
	for _, s := range incoming {
		s.Stop()
	}
	for _, s := range outgoing {
		s.Stop()
	}
	if transport != nil {
		transport.Stop()
	}

	log.Info().Str("module", "core.participant").Str("uri", p.uri).Msg("stopped")
	p.onStopped.Emit(struct{}{})
}

// Info returns a read-only snapshot: id, name and published stream ids.
func (p *Participant) Info() domain.ParticipantInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	streams := make([]domain.StreamID, 0, len(p.incoming))
	for id := range p.incoming {
		streams = append(streams, domain.StreamID(id))
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i] < streams[j] })

	return domain.ParticipantInfo{ID: p.id, Name: p.name, Streams: streams}
}

// LocalDescription returns a copy of the current local description, taken
// under the participant lock. The live description mutates on every
// mirrored stream change, so the pointer itself is never handed out.
func (p *Participant) LocalDescription() *sdp.Description {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.localSDP == nil {
		return nil
	}
	return p.localSDP.Clone()
}

// incomingSnapshot lists the streams this participant currently publishes.
func (p *Participant) incomingSnapshot() []IncomingStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]IncomingStream, 0, len(p.incoming))
	for _, s := range p.incoming {
		out = append(out, s)
	}
	return out
}

// OutgoingCount reports how many mirrored streams this participant holds.
func (p *Participant) OutgoingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outgoing)
}
