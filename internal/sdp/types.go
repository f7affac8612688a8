// Package sdp is a small semantic layer over pion/sdp: it parses offers
// into negotiated info objects, produces answers against a capability set
// and serializes local descriptions back to SDP text.
package sdp

// Setup is the DTLS role attribute.
type Setup string

const (
	SetupActive  Setup = "active"
	SetupPassive Setup = "passive"
	SetupActpass Setup = "actpass"
)

// Reverse returns the role an answerer should take against this offer role.
func (s Setup) Reverse() Setup {
	switch s {
	case SetupActive:
		return SetupPassive
	case SetupPassive:
		return SetupActive
	default:
		return SetupPassive
	}
}

type DTLSInfo struct {
	Setup       Setup
	Hash        string
	Fingerprint string
}

type ICEInfo struct {
	UFrag string
	Pwd   string
	Lite  bool
}

type CandidateInfo struct {
	Foundation string
	Component  int
	Transport  string
	Priority   uint32
	Address    string
	Port       int
	Type       string
}

// CodecInfo describes one negotiated payload type.
type CodecInfo struct {
	Codec       string
	PayloadType uint8
	Rate        int
	Channels    int
	RTX         uint8
	Params      map[string]string
}

// MediaInfo is one m-section: negotiated codecs and header extensions.
type MediaInfo struct {
	Kind       string
	Direction  string
	Codecs     map[uint8]*CodecInfo
	Extensions map[int]string
}

// Codec looks a codec up by name.
func (m *MediaInfo) Codec(name string) *CodecInfo {
	for _, c := range m.Codecs {
		if c.Codec == name {
			return c
		}
	}
	return nil
}

// TrackInfo is one media track within a stream.
type TrackInfo struct {
	ID    string
	Media string
	SSRCs []uint32
}

// StreamInfo groups the tracks of one published media stream.
type StreamInfo struct {
	ID     string
	Tracks map[string]*TrackInfo
}

func NewStreamInfo(id string) *StreamInfo {
	return &StreamInfo{ID: id, Tracks: make(map[string]*TrackInfo)}
}

func (s *StreamInfo) AddTrack(t *TrackInfo) {
	s.Tracks[t.ID] = t
}

// Clone returns a deep copy so handles can mutate their own descriptor.
func (s *StreamInfo) Clone() *StreamInfo {
	out := NewStreamInfo(s.ID)
	for _, t := range s.Tracks {
		ssrcs := make([]uint32, len(t.SSRCs))
		copy(ssrcs, t.SSRCs)
		out.Tracks[t.ID] = &TrackInfo{ID: t.ID, Media: t.Media, SSRCs: ssrcs}
	}
	return out
}

// MediaCapability is the room-level allowance for one media kind.
type MediaCapability struct {
	Codecs     []string
	Extensions []string
}

// Capabilities is the immutable per-room capability set.
type Capabilities struct {
	Audio *MediaCapability
	Video *MediaCapability
}

func (c Capabilities) ForKind(kind string) *MediaCapability {
	switch kind {
	case "audio":
		return c.Audio
	case "video":
		return c.Video
	default:
		return nil
	}
}
