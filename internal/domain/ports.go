package domain

import (
	"context"
	"io"
)

// Signaler exchanges an SDP offer for an answer on the gateway's
// per-camera signaling endpoint.
type Signaler interface {
	Offer(ctx context.Context, id string, offer SDPPayload) (SDPPayload, error)
}

// Gateway is the media gateway's stream-lifecycle and signaling surface.
type Gateway interface {
	Signaler
	StartStream(ctx context.Context, req StartStreamRequest) error
	StopStream(ctx context.Context, id string) error
	ActiveCameras(ctx context.Context) ([]ActiveCamera, error)
}

// HistoryFetcher retrieves the persisted incident history, newest first.
type HistoryFetcher interface {
	FetchAlerts(ctx context.Context) ([]IncidentRecord, error)
}

// Peer manages one receive-only WebRTC peer connection.
type Peer interface {
	AddTransceivers() error
	// SetOnTrack writes inbound video to videoOut and calls onTrack once
	// when the first video track arrives.
	SetOnTrack(videoOut io.Writer, onTrack func())
	// CreateOffer creates an offer, sets it as the local description and
	// returns the SDP once candidate gathering has completed.
	CreateOffer(ctx context.Context) (string, error)
	SetRemoteDescription(sdp SDPPayload) error
	Close()
}

// MediaHandle is the bound media stream of a Connected session. It is owned
// exclusively by the session and released with Close.
type MediaHandle interface {
	Endpoint() string
	Close() error
}

// Negotiator runs the offer/answer protocol for one camera session.
type Negotiator interface {
	Negotiate(ctx context.Context, id string) (MediaHandle, error)
}
