package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"yardwatch/native/internal/domain"
	"yardwatch/native/internal/metrics"
)

// Store is the session collection the machine drives. Update runs fn on the
// session under the collection's lock and returns domain.ErrNotFound when
// the id is absent.
type Store interface {
	Update(id string, fn func(s *Session) error) error
	Remove(id string) (*Session, bool)
}

// Machine drives camera sessions through their states using the gateway's
// stream-lifecycle calls and the negotiator. Completions for sessions that
// have since been removed are dropped.
type Machine struct {
	gateway    domain.Gateway
	negotiator domain.Negotiator
	store      Store
	metrics    *metrics.Metrics
	observer   func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*negotiation
}

type negotiation struct {
	cancel context.CancelFunc
}

// NewMachine creates a state machine. Call SetStore before use.
func NewMachine(gateway domain.Gateway, negotiator domain.Negotiator, m *metrics.Metrics) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		gateway:    gateway,
		negotiator: negotiator,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		inflight:   make(map[string]*negotiation),
	}
}

// SetStore injects the session collection after construction; the
// collection owner itself holds the machine.
func (m *Machine) SetStore(s Store) {
	m.store = s
}

// SetObserver registers fn to receive a snapshot after every transition.
func (m *Machine) SetObserver(fn func(Snapshot)) {
	m.observer = fn
}

// Connect moves a new Disconnected session to Connecting, issues the
// start-stream call and, on success, enters AwaitingMedia and starts
// negotiation. A start failure leaves the session Failed.
func (m *Machine) Connect(ctx context.Context, id string, req ConnectRequest) error {
	if err := m.move(id, Connecting, nil); err != nil {
		return err
	}

	log.Printf("[session] %s connecting to %s", id, req.Address)
	err := m.gateway.StartStream(ctx, domain.StartStreamRequest{
		ID:   id,
		URL:  req.StreamURL(),
		Name: req.DisplayName,
	})
	if err != nil {
		log.Printf("[session] %s start-stream failed: %v", id, err)
		m.fail(id, Connecting, err)
		return fmt.Errorf("start stream: %w", err)
	}

	err = m.move(id, AwaitingMedia, func(s *Session) {
		s.MediaEndpoint = domain.MediaEndpoint(id)
		s.LastError = ""
	})
	if err != nil {
		return err
	}
	m.Negotiate(id)
	return nil
}

// Negotiate starts negotiation for a session in AwaitingMedia. It returns
// false when a negotiation for id is already in flight.
func (m *Machine) Negotiate(id string) bool {
	m.mu.Lock()
	if _, busy := m.inflight[id]; busy {
		m.mu.Unlock()
		log.Printf("[session] %s negotiation already in flight, ignoring", id)
		return false
	}
	ctx, cancel := context.WithCancel(m.ctx)
	n := &negotiation{cancel: cancel}
	m.inflight[id] = n
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer cancel()

		h, err := m.negotiator.Negotiate(ctx, id)

		m.mu.Lock()
		if m.inflight[id] == n {
			delete(m.inflight, id)
		}
		m.mu.Unlock()

		if err != nil {
			m.fail(id, AwaitingMedia, err)
			return
		}
		err = m.move(id, Connected, func(s *Session) {
			s.Media = h
			s.MediaEndpoint = h.Endpoint()
		})
		if err != nil {
			log.Printf("[session] %s discarding negotiated media: %v", id, err)
			_ = h.Close()
		}
	}()
	return true
}

// Reload re-runs negotiation for a Connected session without a new
// start-stream call.
func (m *Machine) Reload(id string) error {
	if err := m.move(id, AwaitingMedia, nil); err != nil {
		return err
	}
	log.Printf("[session] %s reloading media", id)
	m.Negotiate(id)
	return nil
}

// Disconnect calls stop-stream and removes the session only when the call
// succeeds. A pending negotiation is cancelled after removal. On failure
// the session is left untouched.
func (m *Machine) Disconnect(ctx context.Context, id string) error {
	err := m.store.Update(id, func(s *Session) error {
		if !s.State.Removable() {
			return fmt.Errorf("%w: cannot disconnect while %s", domain.ErrInvalidTransition, s.State)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := m.gateway.StopStream(ctx, id); err != nil {
		log.Printf("[session] %s stop-stream failed: %v", id, err)
		return fmt.Errorf("stop stream: %w", err)
	}

	s, ok := m.store.Remove(id)
	m.cancelNegotiation(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	s.ReleaseMedia()
	log.Printf("[session] %s disconnected", id)
	return nil
}

// Close cancels every in-flight negotiation and waits for them to finish.
func (m *Machine) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Machine) cancelNegotiation(id string) {
	m.mu.Lock()
	n, ok := m.inflight[id]
	delete(m.inflight, id)
	m.mu.Unlock()
	if ok {
		n.cancel()
	}
}

// move applies a transition plus optional field updates and notifies.
func (m *Machine) move(id string, to State, apply func(s *Session)) error {
	var (
		from State
		snap Snapshot
	)
	err := m.store.Update(id, func(s *Session) error {
		from = s.State
		if err := s.transition(to); err != nil {
			return err
		}
		if apply != nil {
			apply(s)
		}
		snap = s.Snapshot()
		return nil
	})
	if err != nil {
		return err
	}
	m.notify(from, snap)
	return nil
}

// fail moves a session from state from to Failed. A session that has moved
// on or been removed is left alone.
func (m *Machine) fail(id string, from State, cause error) {
	var snap Snapshot
	err := m.store.Update(id, func(s *Session) error {
		if s.State != from {
			return fmt.Errorf("%w: session is %s", domain.ErrInvalidTransition, s.State)
		}
		if err := s.transition(Failed); err != nil {
			return err
		}
		s.LastError = cause.Error()
		snap = s.Snapshot()
		return nil
	})
	switch {
	case err == nil:
		m.notify(from, snap)
	case errors.Is(err, domain.ErrNotFound):
		log.Printf("[session] %s gone, dropping failure: %v", id, cause)
	default:
		log.Printf("[session] %s not failed: %v", id, err)
	}
}

func (m *Machine) notify(from State, snap Snapshot) {
	log.Printf("[session] %s %s -> %s", snap.ID, from, snap.State)
	m.metrics.Transition(from.String(), snap.State.String())
	if m.observer != nil {
		m.observer(snap)
	}
}
