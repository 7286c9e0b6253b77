package rtppacket

// ExtensionID is the one-byte header-extension local id negotiated for a
// given transport (RFC 8285 one-byte form).
type ExtensionID uint8

// Recognised extension URIs.
const (
	ExtAbsSendTime     = "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"
	ExtTransportWideCC = "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"
	ExtMid             = "urn:ietf:params:rtp-hdrext:sdes:mid"
	ExtRid             = "urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id"
	ExtRepairedRid     = "urn:ietf:params:rtp-hdrext:sdes:repaired-rtp-stream-id"
	ExtFrameMarking    = "http://tools.ietf.org/html/draft-ietf-avtext-framemarking-07"
	ExtAudioLevel      = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"
	ExtVideoOrientation = "urn:3gpp:video-orientation"
	ExtTimestampOffset = "urn:ietf:params:rtp-hdrext:toffset"
)

// Extension pairs a recognised URI with the local id a transport assigned
// it in its SDP/negotiation exchange.
type Extension struct {
	URI string
	ID  ExtensionID
}

// NewExtensionIDs indexes a slice of negotiated extensions by URI.
func NewExtensionIDs(exts []Extension) ExtensionIDs {
	m := make(ExtensionIDs, len(exts))
	for _, e := range exts {
		m[e.URI] = e
	}
	return m
}

// ExtensionIDs is the per-transport URI->id table producers/consumers
// consult to read or write a given header extension.
type ExtensionIDs map[string]Extension

func (h ExtensionIDs) List() []Extension {
	out := make([]Extension, 0, len(h))
	for _, e := range h {
		out = append(out, e)
	}
	return out
}

func (h ExtensionIDs) Mid() ExtensionID             { return h[ExtMid].ID }
func (h ExtensionIDs) Rid() ExtensionID             { return h[ExtRid].ID }
func (h ExtensionIDs) RepairedRid() ExtensionID     { return h[ExtRepairedRid].ID }
func (h ExtensionIDs) AbsSendTime() ExtensionID     { return h[ExtAbsSendTime].ID }
func (h ExtensionIDs) TransportWideCC() ExtensionID { return h[ExtTransportWideCC].ID }
