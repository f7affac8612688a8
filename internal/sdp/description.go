package sdp

import (
	"errors"
	"sort"
	"strings"
)

var ErrNoMedia = errors.New("sdp: description has no media sections")

// Description is one negotiated offer or answer. The core treats it as an
// opaque handle: accessors for the negotiated info, mutators for the
// carried stream descriptors.
type Description struct {
	sessionID uint64
	version   uint64

	ice        *ICEInfo
	dtls       *DTLSInfo
	candidates []CandidateInfo

	medias  []*MediaInfo
	streams []*StreamInfo
}

func (d *Description) ICE() *ICEInfo               { return d.ice }
func (d *Description) DTLS() *DTLSInfo             { return d.dtls }
func (d *Description) Candidates() []CandidateInfo { return d.candidates }

// Media returns the media section for a kind ("audio" or "video"), or nil.
func (d *Description) Media(kind string) *MediaInfo {
	for _, m := range d.medias {
		if m.Kind == kind {
			return m
		}
	}
	return nil
}

// Streams returns the stream descriptors carried by this description.
func (d *Description) Streams() []*StreamInfo {
	out := make([]*StreamInfo, len(d.streams))
	copy(out, d.streams)
	return out
}

func (d *Description) Stream(id string) *StreamInfo {
	for _, s := range d.streams {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// AddStream appends a stream descriptor and bumps the session version so
// the next Marshal produces a renegotiable description.
func (d *Description) AddStream(info *StreamInfo) {
	if d.Stream(info.ID) != nil {
		d.RemoveStream(info)
	}
	d.streams = append(d.streams, info.Clone())
	d.version++
}

// RemoveStream drops the descriptor with the same stream id. Removing an
// unknown stream is a no-op: the stopped-stream observer may fire after
// the receiver already dropped it.
func (d *Description) RemoveStream(info *StreamInfo) {
	for i, s := range d.streams {
		if s.ID == info.ID {
			d.streams = append(d.streams[:i], d.streams[i+1:]...)
			d.version++
			return
		}
	}
}

// Clone returns a copy safe to render while the original keeps mutating.
// The negotiated sections (ice, dtls, medias) are immutable after
// construction and shared; the stream descriptor list is deep-copied.
func (d *Description) Clone() *Description {
	out := &Description{
		sessionID:  d.sessionID,
		version:    d.version,
		ice:        d.ice,
		dtls:       d.dtls,
		candidates: append([]CandidateInfo(nil), d.candidates...),
		medias:     d.medias,
	}
	out.streams = make([]*StreamInfo, 0, len(d.streams))
	for _, s := range d.streams {
		out.streams = append(out.streams, s.Clone())
	}
	return out
}

// AnswerParams carries the local transport side of an answer.
type AnswerParams struct {
	ICE          *ICEInfo
	DTLS         *DTLSInfo
	Candidates   []CandidateInfo
	Capabilities Capabilities
}

// Answer builds the local answer to this remote offer: media sections are
// mirrored in offer order with codecs and extensions filtered down to the
// given capability set. The answer starts with no stream descriptors;
// outgoing streams are added later via AddStream.
func (d *Description) Answer(params AnswerParams) (*Description, error) {
	if len(d.medias) == 0 {
		return nil, ErrNoMedia
	}

	answer := &Description{
		sessionID:  d.sessionID + 1,
		version:    1,
		ice:        params.ICE,
		dtls:       params.DTLS,
		candidates: params.Candidates,
	}
	if answer.dtls != nil && answer.dtls.Setup == "" {
		setup := SetupActpass
		if d.dtls != nil {
			setup = d.dtls.Setup
		}
		answer.dtls = &DTLSInfo{
			Setup:       setup.Reverse(),
			Hash:        params.DTLS.Hash,
			Fingerprint: params.DTLS.Fingerprint,
		}
	}

	for _, offered := range d.medias {
		cap := params.Capabilities.ForKind(offered.Kind)
		if cap == nil {
			continue
		}
		answer.medias = append(answer.medias, intersect(offered, cap))
	}
	if len(answer.medias) == 0 {
		return nil, ErrNoMedia
	}
	return answer, nil
}

// intersect keeps the offered codecs and extensions the capability allows,
// preserving the offerer's payload type mapping.
func intersect(offered *MediaInfo, cap *MediaCapability) *MediaInfo {
	out := &MediaInfo{
		Kind:       offered.Kind,
		Direction:  "sendrecv",
		Codecs:     make(map[uint8]*CodecInfo),
		Extensions: make(map[int]string),
	}
	for _, name := range cap.Codecs {
		if c := offered.Codec(strings.ToLower(name)); c != nil {
			out.Codecs[c.PayloadType] = c
		}
	}
	for id, uri := range offered.Extensions {
		for _, allowed := range cap.Extensions {
			if uri == allowed {
				out.Extensions[id] = uri
			}
		}
	}
	return out
}

// payloadTypes returns the media's payload types in stable ascending order.
func (m *MediaInfo) payloadTypes() []uint8 {
	pts := make([]uint8, 0, len(m.Codecs))
	for pt := range m.Codecs {
		pts = append(pts, pt)
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i] < pts[j] })
	return pts
}

// extensionIDs returns the extension ids in stable ascending order.
func (m *MediaInfo) extensionIDs() []int {
	ids := make([]int, 0, len(m.Extensions))
	for id := range m.Extensions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
