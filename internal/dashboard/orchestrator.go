package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"yardwatch/native/internal/domain"
	"yardwatch/native/internal/metrics"
	"yardwatch/native/internal/session"
)

// Orchestrator owns the camera session collection and its display order,
// and fans operator commands out to the state machine. It is the machine's
// session Store.
type Orchestrator struct {
	gateway domain.Gateway
	machine *session.Machine
	metrics *metrics.Metrics
	newID   func() string

	mu   sync.Mutex
	byID map[string]*session.Session
	list []*session.Session // display order; list[i].Order == i
}

// New creates an orchestrator and registers it as machine's store.
func New(gateway domain.Gateway, machine *session.Machine, m *metrics.Metrics) *Orchestrator {
	o := &Orchestrator{
		gateway: gateway,
		machine: machine,
		metrics: m,
		newID:   func() string { return "cam-" + uuid.NewString() },
		byID:    make(map[string]*session.Session),
	}
	machine.SetStore(o)
	return o
}

// Connect validates req, appends a new session at the end of the display
// order and runs it through Connecting. Invalid input creates nothing. A
// start failure returns the error with the session left Failed.
func (o *Orchestrator) Connect(ctx context.Context, req session.ConnectRequest) (session.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return session.Snapshot{}, err
	}

	o.mu.Lock()
	id := o.newID()
	if _, exists := o.byID[id]; exists {
		o.mu.Unlock()
		return session.Snapshot{}, fmt.Errorf("session id %s already in use", id)
	}
	s := session.New(id, strings.TrimSpace(req.Address), req.DisplayName, len(o.list))
	o.insertLocked(s)
	o.mu.Unlock()

	err := o.machine.Connect(ctx, id, req)
	snap, _ := o.Get(id)
	return snap, err
}

// Disconnect stops the camera's stream and removes it on success.
func (o *Orchestrator) Disconnect(ctx context.Context, id string) error {
	return o.machine.Disconnect(ctx, id)
}

// Reload re-negotiates media of a Connected session.
func (o *Orchestrator) Reload(id string) error {
	return o.machine.Reload(id)
}

// Rename changes a session's display name.
func (o *Orchestrator) Rename(id, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	return o.Update(id, func(s *session.Session) error {
		s.DisplayName = name
		return nil
	})
}

// Reorder moves draggedID to targetID's position and renumbers every
// session densely. It reports false, changing nothing, when either id is
// unknown or both are the same.
func (o *Orchestrator) Reorder(draggedID, targetID string) bool {
	if draggedID == targetID {
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	from, to := o.indexLocked(draggedID), o.indexLocked(targetID)
	if from < 0 || to < 0 {
		return false
	}

	dragged := o.list[from]
	rest := append(o.list[:from:from], o.list[from+1:]...)
	next := make([]*session.Session, 0, len(o.list))
	next = append(next, rest[:to]...)
	next = append(next, dragged)
	next = append(next, rest[to:]...)
	o.list = next
	o.renumberLocked()
	return true
}

// Restore recreates sessions for the streams already running on the
// gateway. They enter AwaitingMedia directly and negotiate. Ids already in
// the collection are skipped.
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	cams, err := o.gateway.ActiveCameras(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active cameras: %w", err)
	}

	var restored []string
	o.mu.Lock()
	for _, cam := range cams {
		if cam.ID == "" {
			continue
		}
		if _, exists := o.byID[cam.ID]; exists {
			log.Printf("[dashboard] %s already present, not restoring", cam.ID)
			continue
		}
		o.insertLocked(session.NewRestored(cam, len(o.list)))
		restored = append(restored, cam.ID)
	}
	o.mu.Unlock()

	for _, id := range restored {
		o.machine.Negotiate(id)
	}
	log.Printf("[dashboard] restored %d active cameras", len(restored))
	return len(restored), nil
}

// Cameras returns every session sorted by display order.
func (o *Orchestrator) Cameras() []session.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]session.Snapshot, len(o.list))
	for i, s := range o.list {
		out[i] = s.Snapshot()
	}
	return out
}

// Get returns the session with the given id.
func (o *Orchestrator) Get(id string) (session.Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.byID[id]
	if !ok {
		return session.Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Summary holds the header counters.
type Summary struct {
	Total     int `json:"total"`
	Connected int `json:"connected"`
	Alerts    int `json:"alerts"`
}

func (o *Orchestrator) Summary() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	sum := Summary{Total: len(o.list)}
	for _, s := range o.list {
		if s.State != session.Connected {
			continue
		}
		sum.Connected++
		if s.Alert.IsDanger {
			sum.Alerts++
		}
	}
	return sum
}

// Update implements session.Store.
func (o *Orchestrator) Update(id string, fn func(s *session.Session) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	err := fn(s)
	o.publishLocked()
	return err
}

// Remove implements session.Store. The remaining sessions are renumbered.
func (o *Orchestrator) Remove(id string) (*session.Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	i := o.indexLocked(id)
	if i < 0 {
		return nil, false
	}
	s := o.list[i]
	delete(o.byID, id)
	o.list = append(o.list[:i:i], o.list[i+1:]...)
	o.renumberLocked()
	o.publishLocked()
	return s, true
}

// Close stops in-flight negotiations and releases every media handle. The
// gateway streams are left running so a later start can restore them.
func (o *Orchestrator) Close() {
	o.machine.Close()

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.list {
		s.ReleaseMedia()
	}
}

func (o *Orchestrator) insertLocked(s *session.Session) {
	o.byID[s.ID] = s
	o.list = append(o.list, s)
	o.renumberLocked()
	o.publishLocked()
}

func (o *Orchestrator) indexLocked(id string) int {
	for i, s := range o.list {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) renumberLocked() {
	for i, s := range o.list {
		s.Order = i
	}
}

func (o *Orchestrator) publishLocked() {
	if o.metrics == nil {
		return
	}
	counts := make(map[string]int)
	for _, s := range o.list {
		counts[s.State.String()]++
	}
	o.metrics.SetSessionCounts(counts)
}

// IsClientError reports whether err stems from operator input or the
// current session state rather than from the gateway.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition)
}
