package dashboard

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yardwatch/native/internal/domain"
	"yardwatch/native/internal/metrics"
	"yardwatch/native/internal/session"
)

type fakeGateway struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	active   []domain.ActiveCamera
	starts   int
	stops    int
}

func (g *fakeGateway) StartStream(ctx context.Context, req domain.StartStreamRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.starts++
	return g.startErr
}

func (g *fakeGateway) StopStream(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stops++
	return g.stopErr
}

func (g *fakeGateway) ActiveCameras(ctx context.Context) ([]domain.ActiveCamera, error) {
	return g.active, nil
}

func (g *fakeGateway) Offer(ctx context.Context, id string, offer domain.SDPPayload) (domain.SDPPayload, error) {
	return domain.SDPPayload{Type: "answer", SDP: "v=0"}, nil
}

func (g *fakeGateway) calls() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.starts, g.stops
}

type fakeHandle struct{ id string }

func (h fakeHandle) Endpoint() string { return domain.MediaEndpoint(h.id) }
func (h fakeHandle) Close() error     { return nil }

// fakeNegotiator succeeds, optionally after gate is closed.
type fakeNegotiator struct {
	gate chan struct{}
}

func (n *fakeNegotiator) Negotiate(ctx context.Context, id string) (domain.MediaHandle, error) {
	if n.gate != nil {
		select {
		case <-n.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return fakeHandle{id: id}, nil
}

func newTestOrchestrator(t *testing.T, gw *fakeGateway, neg *fakeNegotiator) *Orchestrator {
	t.Helper()
	m := session.NewMachine(gw, neg, nil)
	o := New(gw, m, metrics.New())
	t.Cleanup(o.Close)
	return o
}

func dock(name string) session.ConnectRequest {
	return session.ConnectRequest{Address: "192.168.1.50", Username: "admin", Password: "x", DisplayName: name}
}

func ids(snaps []session.Snapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.ID
	}
	return out
}

func assertDenseOrder(t *testing.T, snaps []session.Snapshot) {
	t.Helper()
	for i, s := range snaps {
		assert.Equal(t, i, s.Order, "session %s", s.ID)
	}
}

// seed inserts n sessions directly, ids s0..s{n-1}.
func seed(o *Orchestrator, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := 0; i < n; i++ {
		s := session.New(fmt.Sprintf("s%d", i), "10.0.0.1", fmt.Sprintf("cam %d", i), i)
		s.State = session.Failed
		o.insertLocked(s)
	}
}

func TestConnect_DockScenario(t *testing.T) {
	gw := &fakeGateway{}
	o := newTestOrchestrator(t, gw, &fakeNegotiator{})

	var mu sync.Mutex
	var seen []session.State
	o.machine.SetObserver(func(s session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.State)
	})

	snap, err := o.Connect(context.Background(), dock("Dock 1"))
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Order)
	assert.Equal(t, "192.168.1.50", snap.Address)

	require.Eventually(t, func() bool {
		s, _ := o.Get(snap.ID)
		return s.State == session.Connected
	}, 2*time.Second, 5*time.Millisecond)

	s, _ := o.Get(snap.ID)
	assert.True(t, s.HasMedia)
	assert.Equal(t, "Dock 1", s.DisplayName)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []session.State{session.Connecting, session.AwaitingMedia, session.Connected}, seen)
}

func TestConnect_EmptyAddressCreatesNothing(t *testing.T) {
	gw := &fakeGateway{}
	o := newTestOrchestrator(t, gw, &fakeNegotiator{})

	req := dock("Dock 1")
	req.Address = ""
	_, err := o.Connect(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, o.Cameras())
	starts, _ := gw.calls()
	assert.Zero(t, starts)
}

func TestConnect_StartFailureKeepsFailedSession(t *testing.T) {
	gw := &fakeGateway{startErr: domain.ErrTransport}
	o := newTestOrchestrator(t, gw, &fakeNegotiator{})

	snap, err := o.Connect(context.Background(), dock("Dock 1"))
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, session.Failed, snap.State)
	assert.Len(t, o.Cameras(), 1)
}

func TestConnect_SameAddressTwiceGivesDistinctSessions(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGateway{}, &fakeNegotiator{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Connect(context.Background(), dock("Dock"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cams := o.Cameras()
	require.Len(t, cams, 4)
	unique := map[string]bool{}
	for _, c := range cams {
		unique[c.ID] = true
	}
	assert.Len(t, unique, 4)
	assertDenseOrder(t, cams)
}

func TestReorder_DragFirstOntoLast(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGateway{}, &fakeNegotiator{})
	seed(o, 3)

	require.True(t, o.Reorder("s0", "s2"))

	cams := o.Cameras()
	assert.Equal(t, []string{"s1", "s2", "s0"}, ids(cams))
	assertDenseOrder(t, cams)
}

func TestReorder_IsPermutationPreservingOthers(t *testing.T) {
	const n = 5
	for from := 0; from < n; from++ {
		for to := 0; to < n; to++ {
			if from == to {
				continue
			}
			t.Run(fmt.Sprintf("%d_onto_%d", from, to), func(t *testing.T) {
				o := newTestOrchestrator(t, &fakeGateway{}, &fakeNegotiator{})
				seed(o, n)
				before := ids(o.Cameras())
				dragged := before[from]

				require.True(t, o.Reorder(dragged, before[to]))

				cams := o.Cameras()
				assertDenseOrder(t, cams)
				after := ids(cams)
				assert.ElementsMatch(t, before, after)
				assert.Equal(t, dragged, after[to])

				var restBefore, restAfter []string
				for _, id := range before {
					if id != dragged {
						restBefore = append(restBefore, id)
					}
				}
				for _, id := range after {
					if id != dragged {
						restAfter = append(restAfter, id)
					}
				}
				assert.Equal(t, restBefore, restAfter)
			})
		}
	}
}

func TestReorder_NoOps(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGateway{}, &fakeNegotiator{})
	seed(o, 3)
	before := o.Cameras()

	assert.False(t, o.Reorder("s1", "s1"))
	assert.False(t, o.Reorder("missing", "s1"))
	assert.False(t, o.Reorder("s1", "missing"))

	assert.Equal(t, before, o.Cameras())
}

func TestDisconnect_FailureLeavesCollectionUnchanged(t *testing.T) {
	gw := &fakeGateway{stopErr: domain.ErrTransport}
	o := newTestOrchestrator(t, gw, &fakeNegotiator{})
	seed(o, 3)
	before := o.Cameras()

	err := o.Disconnect(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, before, o.Cameras())
}

func TestDisconnect_RenumbersRemaining(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGateway{}, &fakeNegotiator{})
	seed(o, 3)

	require.NoError(t, o.Disconnect(context.Background(), "s0"))

	cams := o.Cameras()
	assert.Equal(t, []string{"s1", "s2"}, ids(cams))
	assertDenseOrder(t, cams)

	snap, err := o.Connect(context.Background(), dock("Dock 4"))
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Order)
}

func TestRestore_AwaitingMediaWithZeroCounters(t *testing.T) {
	gw := &fakeGateway{active: []domain.ActiveCamera{
		{ID: "cam-a", URL: "rtsp://u:p@192.168.1.100/stream", Name: "Dock A"},
		{ID: "cam-b", URL: "./video3.mp4", Name: "Dock B"},
	}}
	neg := &fakeNegotiator{gate: make(chan struct{})}
	o := newTestOrchestrator(t, gw, neg)

	var mu sync.Mutex
	var seen []session.State
	o.machine.SetObserver(func(s session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.State)
	})

	n, err := o.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cams := o.Cameras()
	require.Len(t, cams, 2)
	for _, c := range cams {
		assert.Equal(t, session.AwaitingMedia, c.State)
		assert.Zero(t, c.Detections)
		assert.False(t, c.Alert.IsDanger)
		assert.False(t, c.HasMedia)
	}
	assert.Equal(t, "192.168.1.100", cams[0].Address)
	assert.Equal(t, "restored", cams[1].Address)
	assertDenseOrder(t, cams)

	close(neg.gate)
	require.Eventually(t, func() bool { return o.Summary().Connected == 2 }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, seen, session.Connecting)

	starts, _ := gw.calls()
	assert.Zero(t, starts)
}

func TestRestore_SkipsKnownIDs(t *testing.T) {
	gw := &fakeGateway{active: []domain.ActiveCamera{{ID: "s0", Name: "dup"}, {ID: "cam-x", Name: "x"}}}
	o := newTestOrchestrator(t, gw, &fakeNegotiator{})
	seed(o, 1)

	n, err := o.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, o.Cameras(), 2)
}

func TestRename(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGateway{}, &fakeNegotiator{})
	seed(o, 1)

	require.NoError(t, o.Rename("s0", "Gate 3"))
	s, _ := o.Get("s0")
	assert.Equal(t, "Gate 3", s.DisplayName)

	assert.ErrorIs(t, o.Rename("s0", " "), domain.ErrValidation)
	assert.ErrorIs(t, o.Rename("missing", "x"), domain.ErrNotFound)
}

func TestSummaryCountsConnectedAlerts(t *testing.T) {
	o := newTestOrchestrator(t, &fakeGateway{}, &fakeNegotiator{})
	seed(o, 3)

	o.mu.Lock()
	o.list[0].State = session.Connected
	o.list[0].Alert = session.DangerAlert{IsDanger: true, Distance: 0.8}
	o.list[1].State = session.Connected
	o.list[2].Alert = session.DangerAlert{IsDanger: true}
	o.mu.Unlock()

	assert.Equal(t, Summary{Total: 3, Connected: 2, Alerts: 1}, o.Summary())
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(fmt.Errorf("x: %w", domain.ErrValidation)))
	assert.True(t, IsClientError(domain.ErrNotFound))
	assert.False(t, IsClientError(domain.ErrTransport))
}
