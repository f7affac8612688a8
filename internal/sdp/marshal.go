package sdp

import (
	"fmt"
	"sort"
	"strconv"

	psdp "github.com/pion/sdp/v3"
)

// Marshal renders the description back to SDP text. Stream descriptors are
// emitted as ssrc/msid lines inside the media section of their track kind,
// so a re-marshal after AddStream/RemoveStream yields the renegotiated SDP.
func (d *Description) Marshal() (string, error) {
	if len(d.medias) == 0 {
		return "", ErrNoMedia
	}

	sd := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      d.sessionID,
			SessionVersion: d.version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName:      "-",
		TimeDescriptions: []psdp.TimeDescription{{}},
	}

	bundle := "BUNDLE"
	for i := range d.medias {
		bundle += " " + strconv.Itoa(i)
	}
	sd.Attributes = append(sd.Attributes,
		psdp.Attribute{Key: "group", Value: bundle},
		psdp.Attribute{Key: "msid-semantic", Value: " WMS *"},
	)
	if d.ice != nil && d.ice.Lite {
		sd.Attributes = append(sd.Attributes, psdp.Attribute{Key: "ice-lite"})
	}

	for i, m := range d.medias {
		sd.MediaDescriptions = append(sd.MediaDescriptions, d.marshalMedia(i, m))
	}

	out, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("sdp: marshal: %w", err)
	}
	return string(out), nil
}

// String is Marshal for callers that already validated the description.
func (d *Description) String() string {
	out, _ := d.Marshal()
	return out
}

func (d *Description) marshalMedia(index int, m *MediaInfo) *psdp.MediaDescription {
	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:  m.Kind,
			Port:   psdp.RangedPort{Value: 9},
			Protos: []string{"UDP", "TLS", "RTP", "SAVPF"},
		},
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: "0.0.0.0"},
		},
	}

	attr := func(key, value string) {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: key, Value: value})
	}

	attr("mid", strconv.Itoa(index))
	if d.ice != nil {
		attr("ice-ufrag", d.ice.UFrag)
		attr("ice-pwd", d.ice.Pwd)
	}
	if d.dtls != nil {
		attr("fingerprint", d.dtls.Hash+" "+d.dtls.Fingerprint)
		attr("setup", string(d.dtls.Setup))
	}
	attr("rtcp-mux", "")
	md.Attributes = append(md.Attributes, psdp.Attribute{Key: m.Direction})

	for _, c := range d.candidates {
		attr("candidate", fmt.Sprintf("%s %d %s %d %s %d typ %s",
			c.Foundation, c.Component, c.Transport, c.Priority, c.Address, c.Port, c.Type))
	}

	for _, id := range m.extensionIDs() {
		attr("extmap", fmt.Sprintf("%d %s", id, m.Extensions[id]))
	}

	for _, pt := range m.payloadTypes() {
		c := m.Codecs[pt]
		md.MediaName.Formats = append(md.MediaName.Formats, strconv.Itoa(int(pt)))
		attr("rtpmap", fmt.Sprintf("%d %s", pt, rtpmapSpec(c)))
		if len(c.Params) > 0 {
			attr("fmtp", fmt.Sprintf("%d %s", pt, fmtpSpec(c.Params)))
		}
		if c.RTX != 0 {
			md.MediaName.Formats = append(md.MediaName.Formats, strconv.Itoa(int(c.RTX)))
			attr("rtpmap", fmt.Sprintf("%d rtx/%d", c.RTX, c.Rate))
			attr("fmtp", fmt.Sprintf("%d apt=%d", c.RTX, pt))
		}
	}

	for _, stream := range d.streams {
		for _, track := range orderedTracks(stream) {
			if track.Media != m.Kind {
				continue
			}
			if len(track.SSRCs) > 1 {
				group := "FID"
				for _, ssrc := range track.SSRCs {
					group += " " + strconv.FormatUint(uint64(ssrc), 10)
				}
				attr("ssrc-group", group)
			}
			for _, ssrc := range track.SSRCs {
				attr("ssrc", fmt.Sprintf("%d cname:%s", ssrc, stream.ID))
				attr("ssrc", fmt.Sprintf("%d msid:%s %s", ssrc, stream.ID, track.ID))
			}
		}
	}

	return md
}

func rtpmapSpec(c *CodecInfo) string {
	spec := c.Codec
	if c.Rate > 0 {
		spec += "/" + strconv.Itoa(c.Rate)
	}
	if c.Channels > 0 {
		spec += "/" + strconv.Itoa(c.Channels)
	}
	return spec
}

func fmtpSpec(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ";"
		}
		if params[k] == "" {
			out += k
		} else {
			out += k + "=" + params[k]
		}
	}
	return out
}

func orderedTracks(s *StreamInfo) []*TrackInfo {
	ids := make([]string, 0, len(s.Tracks))
	for id := range s.Tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*TrackInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Tracks[id])
	}
	return out
}

