package core

import "github.com/dkeye/Chorus/internal/sdp"

// Collaborator contract with the media transport engine. The core never
// touches packets; it creates transports and stream handles and reads or
// sets their negotiated properties. internal/media implements these, tests
// substitute fakes.

type TransportConfig struct {
	ICE  *sdp.ICEInfo
	DTLS *sdp.DTLSInfo
}

// Engine manufactures endpoints bound to the server's media address.
type Engine interface {
	CreateEndpoint() (Endpoint, error)
}

// Endpoint is the per-room network anchor: transports created from it
// share its candidates.
type Endpoint interface {
	CreateTransport(TransportConfig) (Transport, error)
	LocalCandidates() []sdp.CandidateInfo
	Stop()
}

// Transport is one participant's media session with the engine.
type Transport interface {
	SetRemoteProperties(audio, video *sdp.MediaInfo)
	SetLocalProperties(audio, video *sdp.MediaInfo)
	LocalICE() *sdp.ICEInfo
	LocalDTLS() *sdp.DTLSInfo
	CreateIncomingStream(*sdp.StreamInfo) (IncomingStream, error)
	CreateOutgoingStream(audio, video bool) (OutgoingStream, error)
	Stop()
}

// IncomingStream is media published by a participant.
type IncomingStream interface {
	ID() string
	Info() *sdp.StreamInfo
	// OnStopped registers a stop observer and returns its unsubscribe
	// handle. Observers fire exactly once, on Stop.
	OnStopped(func()) (unsubscribe func())
	Stop()
}

// OutgoingStream is media mirrored to a participant from another
// participant's incoming stream.
type OutgoingStream interface {
	ID() string
	Info() *sdp.StreamInfo
	AttachTo(IncomingStream) error
	Stop()
}
