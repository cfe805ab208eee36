package domain

// SDPPayload is the JSON structure for SDP offer/answer messages exchanged
// with the gateway's per-camera signaling endpoint.
type SDPPayload struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// MediaEndpoint is the render endpoint name of camera id.
func MediaEndpoint(id string) string {
	return "webrtc-" + id
}
