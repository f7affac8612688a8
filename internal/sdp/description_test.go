package sdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testCapabilities() Capabilities {
	return Capabilities{
		Audio: &MediaCapability{
			Codecs:     []string{"opus"},
			Extensions: []string{"urn:ietf:params:rtp-hdrext:ssrc-audio-level"},
		},
		Video: &MediaCapability{
			Codecs:     []string{"vp8"},
			Extensions: []string{"http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"},
		},
	}
}

func testAnswerParams() AnswerParams {
	return AnswerParams{
		ICE:  &ICEInfo{UFrag: "localufrag", Pwd: "localpwdlocalpwdlocalpwd", Lite: true},
		DTLS: &DTLSInfo{Hash: "sha-256", Fingerprint: "AA:BB:CC:DD:EE:FF"},
		Candidates: []CandidateInfo{{
			Foundation: "1", Component: 1, Transport: "udp",
			Priority: 2130706431, Address: "198.51.100.4", Port: 40000, Type: "host",
		}},
		Capabilities: testCapabilities(),
	}
}

func TestAnswerIntersectsCapabilities(t *testing.T) {
	offer, err := Parse(browserOffer)
	require.NoError(t, err)

	answer, err := offer.Answer(testAnswerParams())
	require.NoError(t, err)

	audio := answer.Media("audio")
	require.NotNil(t, audio)
	require.NotNil(t, audio.Codec("opus"))
	require.Nil(t, audio.Codec("pcmu"), "codecs outside the capability set are dropped")
	require.Equal(t, "urn:ietf:params:rtp-hdrext:ssrc-audio-level", audio.Extensions[1])
	require.NotContains(t, audio.Extensions, 2, "extensions outside the capability set are dropped")

	video := answer.Media("video")
	require.NotNil(t, video)
	vp8 := video.Codec("vp8")
	require.NotNil(t, vp8)
	require.Equal(t, uint8(96), vp8.PayloadType, "answer preserves the offerer's payload type mapping")
	require.Equal(t, uint8(97), vp8.RTX)
	require.Nil(t, video.Codec("h264"))
}

func TestAnswerReversesSetupRole(t *testing.T) {
	offer, err := Parse(browserOffer)
	require.NoError(t, err)

	answer, err := offer.Answer(testAnswerParams())
	require.NoError(t, err)
	require.Equal(t, SetupPassive, answer.DTLS().Setup, "actpass offer yields a passive answer")

	active := strings.ReplaceAll(browserOffer, "a=setup:actpass", "a=setup:active")
	offer, err = Parse(active)
	require.NoError(t, err)
	answer, err = offer.Answer(testAnswerParams())
	require.NoError(t, err)
	require.Equal(t, SetupPassive, answer.DTLS().Setup)

	passive := strings.ReplaceAll(browserOffer, "a=setup:actpass", "a=setup:passive")
	offer, err = Parse(passive)
	require.NoError(t, err)
	answer, err = offer.Answer(testAnswerParams())
	require.NoError(t, err)
	require.Equal(t, SetupActive, answer.DTLS().Setup)
}

func TestAnswerStartsWithoutStreams(t *testing.T) {
	offer, err := Parse(browserOffer)
	require.NoError(t, err)
	require.Len(t, offer.Streams(), 1)

	answer, err := offer.Answer(testAnswerParams())
	require.NoError(t, err)
	require.Empty(t, answer.Streams(), "the offerer's streams never echo back in the answer")
}

func TestAnswerWithoutMedia(t *testing.T) {
	d := &Description{}
	_, err := d.Answer(testAnswerParams())
	require.ErrorIs(t, err, ErrNoMedia)
}

func TestAddStreamShowsUpInMarshal(t *testing.T) {
	offer, err := Parse(browserOffer)
	require.NoError(t, err)
	answer, err := offer.Answer(testAnswerParams())
	require.NoError(t, err)

	info := NewStreamInfo("mirror0")
	info.AddTrack(&TrackInfo{ID: "mirror0-audio", Media: "audio", SSRCs: []uint32{4001}})
	info.AddTrack(&TrackInfo{ID: "mirror0-video", Media: "video", SSRCs: []uint32{4002}})
	answer.AddStream(info)

	rendered := answer.String()
	require.Contains(t, rendered, "a=ssrc:4001 msid:mirror0 mirror0-audio")
	require.Contains(t, rendered, "a=ssrc:4002 msid:mirror0 mirror0-video")

	answer.RemoveStream(info)
	rendered = answer.String()
	require.NotContains(t, rendered, "mirror0")
}

func TestAddStreamReplacesDuplicate(t *testing.T) {
	offer, err := Parse(browserOffer)
	require.NoError(t, err)
	answer, err := offer.Answer(testAnswerParams())
	require.NoError(t, err)

	first := NewStreamInfo("s")
	first.AddTrack(&TrackInfo{ID: "s-audio", Media: "audio", SSRCs: []uint32{1}})
	answer.AddStream(first)

	second := NewStreamInfo("s")
	second.AddTrack(&TrackInfo{ID: "s-audio", Media: "audio", SSRCs: []uint32{2}})
	answer.AddStream(second)

	streams := answer.Streams()
	require.Len(t, streams, 1)
	require.Equal(t, []uint32{2}, streams[0].Tracks["s-audio"].SSRCs)
}

func TestRemoveUnknownStreamIsNoOp(t *testing.T) {
	offer, err := Parse(browserOffer)
	require.NoError(t, err)
	answer, err := offer.Answer(testAnswerParams())
	require.NoError(t, err)

	before := answer.String()
	ghost := NewStreamInfo("ghost")
	answer.RemoveStream(ghost)
	require.Equal(t, before, answer.String())
}

func TestMutationBumpsSessionVersion(t *testing.T) {
	offer, err := Parse(browserOffer)
	require.NoError(t, err)
	answer, err := offer.Answer(testAnswerParams())
	require.NoError(t, err)

	before := answer.String()
	info := NewStreamInfo("v")
	info.AddTrack(&TrackInfo{ID: "v-audio", Media: "audio", SSRCs: []uint32{9}})
	answer.AddStream(info)
	after := answer.String()

	originLine := func(s string) string {
		for _, line := range strings.Split(s, "\r\n") {
			if strings.HasPrefix(line, "o=") {
				return line
			}
		}
		return ""
	}
	require.NotEqual(t, originLine(before), originLine(after))
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	offer, err := Parse(browserOffer)
	require.NoError(t, err)
	answer, err := offer.Answer(testAnswerParams())
	require.NoError(t, err)

	info := NewStreamInfo("s0")
	info.AddTrack(&TrackInfo{ID: "s0-audio", Media: "audio", SSRCs: []uint32{5}})
	answer.AddStream(info)

	clone := answer.Clone()
	rendered := clone.String()

	// Mutations after the copy stay on the original.
	extra := NewStreamInfo("s1")
	extra.AddTrack(&TrackInfo{ID: "s1-audio", Media: "audio", SSRCs: []uint32{6}})
	answer.AddStream(extra)
	answer.RemoveStream(info)

	require.Equal(t, rendered, clone.String())
	require.Len(t, clone.Streams(), 1)
	require.Equal(t, "s0", clone.Streams()[0].ID)
	require.Len(t, answer.Streams(), 1)
	require.Equal(t, "s1", answer.Streams()[0].ID)

	require.Equal(t, answer.ICE(), clone.ICE())
	require.Equal(t, answer.DTLS(), clone.DTLS())
}

func TestAddStreamClonesDescriptor(t *testing.T) {
	offer, err := Parse(browserOffer)
	require.NoError(t, err)
	answer, err := offer.Answer(testAnswerParams())
	require.NoError(t, err)

	info := NewStreamInfo("c")
	info.AddTrack(&TrackInfo{ID: "c-audio", Media: "audio", SSRCs: []uint32{7}})
	answer.AddStream(info)

	// Mutating the caller's descriptor must not reach the description.
	info.Tracks["c-audio"].SSRCs[0] = 8
	require.Equal(t, []uint32{7}, answer.Stream("c").Tracks["c-audio"].SSRCs)
}
