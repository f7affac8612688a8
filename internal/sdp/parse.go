package sdp

import (
	"fmt"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

// Parse reads raw SDP text into a Description. Only audio and video
// sections are considered; everything else (application, data) is skipped.
func Parse(raw string) (*Description, error) {
	var sd psdp.SessionDescription
	if err := sd.UnmarshalString(raw); err != nil {
		return nil, fmt.Errorf("sdp: parse: %w", err)
	}

	d := &Description{
		sessionID: sd.Origin.SessionID,
		version:   sd.Origin.SessionVersion,
	}

	_, lite := sd.Attribute("ice-lite")
	streams := make(map[string]*StreamInfo)

	for _, m := range sd.MediaDescriptions {
		kind := m.MediaName.Media
		if kind != "audio" && kind != "video" {
			continue
		}

		if d.ice == nil {
			if ice := parseICE(&sd, m, lite); ice != nil {
				d.ice = ice
			}
		}
		if d.dtls == nil {
			if dtls := parseDTLS(&sd, m); dtls != nil {
				d.dtls = dtls
			}
		}
		for _, a := range m.Attributes {
			if a.Key == "candidate" {
				if c, err := parseCandidate(a.Value); err == nil {
					d.candidates = append(d.candidates, c)
				}
			}
		}

		d.medias = append(d.medias, parseMedia(kind, m))
		collectStream(kind, m, streams, &d.streams)
	}

	if len(d.medias) == 0 {
		return nil, ErrNoMedia
	}
	return d, nil
}

// parseICE reads ice-ufrag/ice-pwd, preferring media-level attributes as
// browsers emit them there.
func parseICE(sd *psdp.SessionDescription, m *psdp.MediaDescription, lite bool) *ICEInfo {
	ufrag, ok := m.Attribute("ice-ufrag")
	if !ok {
		ufrag, ok = sd.Attribute("ice-ufrag")
	}
	if !ok {
		return nil
	}
	pwd, ok := m.Attribute("ice-pwd")
	if !ok {
		pwd, _ = sd.Attribute("ice-pwd")
	}
	return &ICEInfo{UFrag: ufrag, Pwd: pwd, Lite: lite}
}

func parseDTLS(sd *psdp.SessionDescription, m *psdp.MediaDescription) *DTLSInfo {
	fp, ok := m.Attribute("fingerprint")
	if !ok {
		fp, ok = sd.Attribute("fingerprint")
	}
	if !ok {
		return nil
	}
	parts := strings.SplitN(fp, " ", 2)
	if len(parts) != 2 {
		return nil
	}
	setup := SetupActpass
	if v, ok := m.Attribute("setup"); ok {
		setup = Setup(v)
	}
	return &DTLSInfo{Setup: setup, Hash: parts[0], Fingerprint: parts[1]}
}

func parseCandidate(value string) (CandidateInfo, error) {
	f := strings.Fields(value)
	if len(f) < 8 || f[6] != "typ" {
		return CandidateInfo{}, fmt.Errorf("sdp: malformed candidate %q", value)
	}
	component, err := strconv.Atoi(f[1])
	if err != nil {
		return CandidateInfo{}, err
	}
	priority, err := strconv.ParseUint(f[3], 10, 32)
	if err != nil {
		return CandidateInfo{}, err
	}
	port, err := strconv.Atoi(f[5])
	if err != nil {
		return CandidateInfo{}, err
	}
	return CandidateInfo{
		Foundation: f[0],
		Component:  component,
		Transport:  f[2],
		Priority:   uint32(priority),
		Address:    f[4],
		Port:       port,
		Type:       f[7],
	}, nil
}

func parseMedia(kind string, m *psdp.MediaDescription) *MediaInfo {
	info := &MediaInfo{
		Kind:       kind,
		Direction:  "sendrecv",
		Codecs:     make(map[uint8]*CodecInfo),
		Extensions: make(map[int]string),
	}

	for _, a := range m.Attributes {
		switch a.Key {
		case "rtpmap":
			if c, err := parseRTPMap(a.Value); err == nil {
				info.Codecs[c.PayloadType] = c
			}
		case "extmap":
			f := strings.Fields(a.Value)
			if len(f) < 2 {
				continue
			}
			// extmap id may carry a direction suffix: "2/recvonly".
			idPart := strings.SplitN(f[0], "/", 2)[0]
			if id, err := strconv.Atoi(idPart); err == nil {
				info.Extensions[id] = f[1]
			}
		case "sendrecv", "sendonly", "recvonly", "inactive":
			info.Direction = a.Key
		}
	}

	for _, a := range m.Attributes {
		if a.Key != "fmtp" {
			continue
		}
		pt, params := parseFMTP(a.Value)
		if c, ok := info.Codecs[pt]; ok {
			c.Params = params
		}
	}

	resolveRTX(info)
	return info
}

func parseRTPMap(value string) (*CodecInfo, error) {
	f := strings.Fields(value)
	if len(f) != 2 {
		return nil, fmt.Errorf("sdp: malformed rtpmap %q", value)
	}
	pt, err := strconv.ParseUint(f[0], 10, 8)
	if err != nil {
		return nil, err
	}
	spec := strings.Split(f[1], "/")
	c := &CodecInfo{Codec: strings.ToLower(spec[0]), PayloadType: uint8(pt)}
	if len(spec) > 1 {
		c.Rate, _ = strconv.Atoi(spec[1])
	}
	if len(spec) > 2 {
		c.Channels, _ = strconv.Atoi(spec[2])
	}
	return c, nil
}

func parseFMTP(value string) (uint8, map[string]string) {
	f := strings.SplitN(value, " ", 2)
	pt, err := strconv.ParseUint(f[0], 10, 8)
	if err != nil || len(f) < 2 {
		return 0, nil
	}
	params := make(map[string]string)
	for _, kv := range strings.Split(f[1], ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) == 2 {
			params[pair[0]] = pair[1]
		} else {
			params[pair[0]] = ""
		}
	}
	return uint8(pt), params
}

// resolveRTX folds rtx payload types into their apt base codec.
func resolveRTX(info *MediaInfo) {
	for pt, c := range info.Codecs {
		if c.Codec != "rtx" {
			continue
		}
		if apt, err := strconv.ParseUint(c.Params["apt"], 10, 8); err == nil {
			if base, ok := info.Codecs[uint8(apt)]; ok {
				base.RTX = pt
			}
		}
		delete(info.Codecs, pt)
	}
}

// collectStream gathers the msid/ssrc lines of one media section into the
// description's stream set. Unified plan carries one track per section.
func collectStream(kind string, m *psdp.MediaDescription, streams map[string]*StreamInfo, order *[]*StreamInfo) {
	streamID, trackID := "", ""
	if v, ok := m.Attribute("msid"); ok {
		f := strings.Fields(v)
		if len(f) >= 1 {
			streamID = f[0]
		}
		if len(f) >= 2 {
			trackID = f[1]
		}
	}

	var ssrcs []uint32
	seen := make(map[uint32]bool)
	for _, a := range m.Attributes {
		if a.Key != "ssrc" {
			continue
		}
		f := strings.Fields(a.Value)
		if len(f) == 0 {
			continue
		}
		ssrc, err := strconv.ParseUint(f[0], 10, 32)
		if err != nil {
			continue
		}

		// Without a media-level msid the stream id rides on the ssrc line;
		// it may follow a cname line for the same ssrc, so look before
		// deduplicating.
		if streamID == "" && len(f) >= 2 && strings.HasPrefix(f[1], "msid:") {
			streamID = strings.TrimPrefix(f[1], "msid:")
			if len(f) >= 3 {
				trackID = f[2]
			}
		}

		if seen[uint32(ssrc)] {
			continue
		}
		seen[uint32(ssrc)] = true
		ssrcs = append(ssrcs, uint32(ssrc))
	}

	if streamID == "" || len(ssrcs) == 0 {
		return
	}
	if trackID == "" {
		trackID = fmt.Sprintf("%s-%s", streamID, kind)
	}

	stream, ok := streams[streamID]
	if !ok {
		stream = NewStreamInfo(streamID)
		streams[streamID] = stream
		*order = append(*order, stream)
	}
	stream.AddTrack(&TrackInfo{ID: trackID, Media: kind, SSRCs: ssrcs})
}
