package viewer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yardwatch/native/internal/domain"
	"yardwatch/native/internal/render"
)

// mockSignaler records the offer and replies with a canned answer.
type mockSignaler struct {
	mu        sync.Mutex
	offerSent domain.SDPPayload
	offerID   string
	answer    domain.SDPPayload
	err       error
}

func (m *mockSignaler) Offer(ctx context.Context, id string, offer domain.SDPPayload) (domain.SDPPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offerID = id
	m.offerSent = offer
	return m.answer, m.err
}

// mockPeer records calls and optionally fires the track callback when the
// remote description is applied.
type mockPeer struct {
	mu            sync.Mutex
	offerSDP      string
	localSet      bool
	remoteDescSet bool
	remoteSDP     string
	closed        bool
	fireTrack     bool
	remoteErr     error
	onTrack       func()
	videoOut      io.Writer
}

func (m *mockPeer) AddTransceivers() error { return nil }
func (m *mockPeer) SetOnTrack(videoOut io.Writer, onTrack func()) {
	m.videoOut = videoOut
	m.onTrack = onTrack
}
func (m *mockPeer) CreateOffer(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localSet = true
	return m.offerSDP, nil
}
func (m *mockPeer) SetRemoteDescription(sdp domain.SDPPayload) error {
	m.mu.Lock()
	m.remoteDescSet = true
	m.remoteSDP = sdp.SDP
	m.mu.Unlock()
	if m.remoteErr != nil {
		return m.remoteErr
	}
	if m.fireTrack {
		go m.onTrack()
	}
	return nil
}
func (m *mockPeer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockPeer) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// orderedSignaler fails the test if the offer is sent before the peer's
// local description is set.
type orderedSignaler struct {
	mockSignaler
	peer *mockPeer
	t    *testing.T
}

func (o *orderedSignaler) Offer(ctx context.Context, id string, offer domain.SDPPayload) (domain.SDPPayload, error) {
	o.peer.mu.Lock()
	localSet := o.peer.localSet
	o.peer.mu.Unlock()
	assert.True(o.t, localSet, "offer sent before local description was set")
	return o.mockSignaler.Offer(ctx, id, offer)
}

func factoryFor(p *mockPeer) PeerFactory {
	return func(string) (domain.Peer, error) { return p, nil }
}

func TestNegotiate_Success(t *testing.T) {
	peer := &mockPeer{offerSDP: "v=0\r\noffer", fireTrack: true}
	sig := &orderedSignaler{
		mockSignaler: mockSignaler{answer: domain.SDPPayload{Type: "answer", SDP: "v=0\r\nanswer"}},
		peer:         peer,
		t:            t,
	}
	n := New(sig, factoryFor(peer), render.Discard{}, time.Second, nil)

	h, err := n.Negotiate(context.Background(), "cam-1")
	require.NoError(t, err)
	require.NotNil(t, h)

	assert.Equal(t, "webrtc-cam-1", h.Endpoint())
	assert.Equal(t, "cam-1", sig.offerID)
	assert.Equal(t, domain.SDPPayload{SDP: "v=0\r\noffer", Type: "offer"}, sig.offerSent)
	assert.Equal(t, "v=0\r\nanswer", peer.remoteSDP)
	assert.NotNil(t, peer.videoOut)
	assert.False(t, peer.isClosed())

	require.NoError(t, h.Close())
	assert.True(t, peer.isClosed())
	assert.NoError(t, h.Close(), "close is idempotent")
}

func TestNegotiate_OfferRejected(t *testing.T) {
	peer := &mockPeer{offerSDP: "v=0"}
	sig := &mockSignaler{err: errors.Join(domain.ErrTransport, errors.New("http 500"))}
	n := New(sig, factoryFor(peer), render.Discard{}, time.Second, nil)

	h, err := n.Negotiate(context.Background(), "cam-1")
	assert.Nil(t, h)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.False(t, peer.remoteDescSet, "answer must not be applied after a failed exchange")
	assert.True(t, peer.isClosed())
}

func TestNegotiate_MalformedAnswer(t *testing.T) {
	for name, answer := range map[string]domain.SDPPayload{
		"empty sdp":  {Type: "answer"},
		"wrong type": {Type: "offer", SDP: "v=0"},
	} {
		t.Run(name, func(t *testing.T) {
			peer := &mockPeer{offerSDP: "v=0"}
			n := New(&mockSignaler{answer: answer}, factoryFor(peer), render.Discard{}, time.Second, nil)

			_, err := n.Negotiate(context.Background(), "cam-1")
			assert.ErrorIs(t, err, domain.ErrProtocol)
			assert.True(t, peer.isClosed())
		})
	}
}

func TestNegotiate_RemoteDescriptionError(t *testing.T) {
	peer := &mockPeer{offerSDP: "v=0", remoteErr: errors.New("bad answer")}
	n := New(&mockSignaler{answer: domain.SDPPayload{Type: "answer", SDP: "v=0"}}, factoryFor(peer), render.Discard{}, time.Second, nil)

	_, err := n.Negotiate(context.Background(), "cam-1")
	assert.ErrorIs(t, err, domain.ErrProtocol)
	assert.True(t, peer.isClosed())
}

func TestNegotiate_NoTrackTimesOut(t *testing.T) {
	peer := &mockPeer{offerSDP: "v=0"}
	n := New(&mockSignaler{answer: domain.SDPPayload{Type: "answer", SDP: "v=0"}}, factoryFor(peer), render.Discard{}, 50*time.Millisecond, nil)

	start := time.Now()
	_, err := n.Negotiate(context.Background(), "cam-1")
	assert.ErrorIs(t, err, domain.ErrProtocol)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, peer.isClosed())
}

func TestNegotiate_CancelledByCaller(t *testing.T) {
	peer := &mockPeer{offerSDP: "v=0"}
	n := New(&mockSignaler{answer: domain.SDPPayload{Type: "answer", SDP: "v=0"}}, factoryFor(peer), render.Discard{}, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := n.Negotiate(ctx, "cam-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, peer.isClosed())
}

func TestNegotiate_PeerFactoryError(t *testing.T) {
	n := New(&mockSignaler{}, func(string) (domain.Peer, error) {
		return nil, errors.New("no ice agent")
	}, render.Discard{}, time.Second, nil)

	_, err := n.Negotiate(context.Background(), "cam-1")
	assert.ErrorIs(t, err, domain.ErrProtocol)
}
