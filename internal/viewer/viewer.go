package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"yardwatch/native/internal/domain"
	"yardwatch/native/internal/metrics"
	"yardwatch/native/internal/render"
)

// PeerFactory creates the local media transport for one camera.
type PeerFactory func(cameraID string) (domain.Peer, error)

// Negotiator runs the single-shot offer/answer exchange for a camera and
// binds the inbound video track to the camera's render target. It holds no
// per-session state; callers serialize negotiations per session.
type Negotiator struct {
	signal  domain.Signaler
	newPeer PeerFactory
	targets render.Targets
	timeout time.Duration
	metrics *metrics.Metrics
}

// New creates a Negotiator. A zero timeout leaves the track wait bounded
// only by ctx.
func New(signal domain.Signaler, newPeer PeerFactory, targets render.Targets, timeout time.Duration, m *metrics.Metrics) *Negotiator {
	return &Negotiator{
		signal:  signal,
		newPeer: newPeer,
		targets: targets,
		timeout: timeout,
		metrics: m,
	}
}

// Negotiate performs the protocol for camera id and returns the bound media
// handle. Any failure releases everything created so far.
func (n *Negotiator) Negotiate(ctx context.Context, id string) (domain.MediaHandle, error) {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	started := time.Now()
	h, err := n.negotiate(ctx, id)
	n.metrics.ObserveNegotiation(time.Since(started), err)
	if err != nil {
		log.Printf("[viewer] %s negotiation failed: %v", id, err)
		return nil, err
	}
	log.Printf("[viewer] %s media bound in %s", id, time.Since(started).Round(time.Millisecond))
	return h, nil
}

func (n *Negotiator) negotiate(ctx context.Context, id string) (_ domain.MediaHandle, err error) {
	peer, err := n.newPeer(id)
	if err != nil {
		return nil, fmt.Errorf("%w: create peer: %v", domain.ErrProtocol, err)
	}

	out, err := n.targets.Open(id)
	if err != nil {
		peer.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	h := &stream{id: id, peer: peer, out: out}
	defer func() {
		if err != nil {
			_ = h.Close()
		}
	}()

	if err := peer.AddTransceivers(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	trackArrived := make(chan struct{})
	var arrivedOnce sync.Once
	peer.SetOnTrack(out, func() {
		arrivedOnce.Do(func() { close(trackArrived) })
	})

	// the offer must be the local description before it leaves the process
	sdp, err := peer.CreateOffer(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	log.Printf("[viewer] %s sending offer", id)
	answer, err := n.signal.Offer(ctx, id, domain.SDPPayload{SDP: sdp, Type: "offer"})
	if err != nil {
		return nil, fmt.Errorf("offer exchange: %w", err)
	}
	if answer.SDP == "" || (answer.Type != "" && answer.Type != "answer") {
		return nil, fmt.Errorf("%w: malformed answer (type=%q, %d bytes)", domain.ErrProtocol, answer.Type, len(answer.SDP))
	}

	if err := peer.SetRemoteDescription(answer); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	select {
	case <-trackArrived:
		return h, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no inbound track: %v", domain.ErrProtocol, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

// stream is the MediaHandle of a negotiated session.
type stream struct {
	id   string
	peer domain.Peer
	out  io.WriteCloser
	once sync.Once
	err  error
}

func (s *stream) Endpoint() string {
	return domain.MediaEndpoint(s.id)
}

func (s *stream) Close() error {
	s.once.Do(func() {
		s.peer.Close()
		s.err = s.out.Close()
	})
	return s.err
}
