package alerts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"yardwatch/native/internal/domain"
	"yardwatch/native/internal/metrics"
)

// Handler receives every well-formed incident pushed on the channel, in
// arrival order.
type Handler func(domain.IncidentRecord)

// Options tunes the subscription.
type Options struct {
	// Reconnect re-dials after a dropped connection with exponential backoff.
	Reconnect bool
	// MaxElapsed bounds the total time spent retrying; zero retries forever.
	MaxElapsed time.Duration
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
	PingInterval   time.Duration
	Metrics        *metrics.Metrics
}

// Stream owns the single push subscription of the dashboard.
type Stream struct {
	url     string
	handler Handler
	opts    Options
	dialer  *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	closed    chan struct{}
	closeOnce sync.Once
}

// NewStream creates a subscription to url that delivers incidents to handler.
func NewStream(url string, handler Handler, opts Options) *Stream {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Stream{
		url:     url,
		handler: handler,
		opts:    opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		closed: make(chan struct{}),
	}
}

// Run subscribes and delivers incidents until ctx is done or Close is
// called, which both return nil. Without reconnect, or once the backoff
// budget is spent, the last connection error is returned wrapped in
// domain.ErrSubscription.
func (s *Stream) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = s.opts.MaxElapsed
	b.Reset()

	for {
		connected, err := s.session(ctx)
		if s.stopped(ctx) {
			return nil
		}
		log.Printf("[alerts] subscription error: %v", err)

		if !s.opts.Reconnect {
			return fmt.Errorf("%w: %v", domain.ErrSubscription, err)
		}
		if connected {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("%w: giving up reconnecting: %v", domain.ErrSubscription, err)
		}
		log.Printf("[alerts] reconnecting in %s", wait.Round(time.Millisecond))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.closed:
			timer.Stop()
			return nil
		case <-timer.C:
		}
		s.opts.Metrics.StreamReconnect()
	}
}

// Close releases the subscription. It is safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Stream) stopped(ctx context.Context) bool {
	select {
	case <-s.closed:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// session runs one connection until it fails. connected reports whether
// the dial succeeded.
func (s *Stream) session(ctx context.Context) (connected bool, err error) {
	log.Printf("[alerts] connecting to %s", s.url)
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}

	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		conn.Close()
		return true, errors.New("stream closed")
	default:
	}
	s.conn = conn
	s.mu.Unlock()

	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		conn.Close()
		wg.Wait()
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	// unblock the read on shutdown
	wg.Add(2)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-s.closed:
		case <-done:
		}
	}()
	go func() {
		defer wg.Done()
		s.pingLoop(conn, done)
	}()

	return true, s.readLoop(conn)
}

func (s *Stream) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		rec, err := domain.ParseIncident(data)
		if err != nil {
			log.Printf("[alerts] dropping message: %v", err)
			continue
		}
		s.opts.Metrics.IncidentsReceived("live", 1)
		s.handler(rec)
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.mu.Unlock()
			if err != nil {
				log.Printf("[alerts] ping error: %v", err)
				conn.Close()
				return
			}
		}
	}
}
