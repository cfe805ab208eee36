package session

import (
	"fmt"
	"log"
	"time"

	"yardwatch/native/internal/domain"
)

// Detections holds the live object counters of a camera.
type Detections struct {
	Humans    int `json:"humans"`
	Forklifts int `json:"forklifts"`
}

// DangerAlert is the current danger indication of a camera.
type DangerAlert struct {
	IsDanger bool    `json:"isDanger"`
	Message  string  `json:"message,omitempty"`
	Distance float64 `json:"distance,omitempty"`
}

// Session is one managed camera. Address is fixed at creation; Media is set
// only while the session is Connected.
type Session struct {
	ID            string
	Address       string
	DisplayName   string
	State         State
	Order         int
	MediaEndpoint string
	Media         domain.MediaHandle
	Detections    Detections
	Alert         DangerAlert
	LastError     string
	UpdatedAt     time.Time
}

// New creates a Disconnected session.
func New(id, address, displayName string, order int) *Session {
	return &Session{
		ID:          id,
		Address:     address,
		DisplayName: displayName,
		State:       Disconnected,
		Order:       order,
		UpdatedAt:   time.Now(),
	}
}

// NewRestored creates a session for a stream that already runs on the
// gateway. It starts in AwaitingMedia and never passes through Connecting.
func NewRestored(cam domain.ActiveCamera, order int) *Session {
	s := New(cam.ID, AddressFromStreamURL(cam.URL), cam.Name, order)
	s.State = AwaitingMedia
	s.MediaEndpoint = domain.MediaEndpoint(cam.ID)
	return s
}

// transition moves the session to state to. Leaving Connected releases the
// media handle.
func (s *Session) transition(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, s.State, to)
	}
	if s.State == Connected {
		s.ReleaseMedia()
	}
	s.State = to
	s.UpdatedAt = time.Now()
	return nil
}

// ReleaseMedia closes and clears the media handle, if any.
func (s *Session) ReleaseMedia() {
	if s.Media == nil {
		return
	}
	if err := s.Media.Close(); err != nil {
		log.Printf("[session] %s release media: %v", s.ID, err)
	}
	s.Media = nil
}

// Snapshot is a read-only copy of a session for rendering.
type Snapshot struct {
	ID            string       `json:"id"`
	Address       string       `json:"address"`
	DisplayName   string       `json:"name"`
	State         State        `json:"state"`
	Status        Presentation `json:"status"`
	Order         int          `json:"order"`
	MediaEndpoint string       `json:"mediaEndpoint,omitempty"`
	HasMedia      bool         `json:"hasMedia"`
	Detections    Detections   `json:"detections"`
	Alert         DangerAlert  `json:"alert"`
	LastError     string       `json:"lastError,omitempty"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:            s.ID,
		Address:       s.Address,
		DisplayName:   s.DisplayName,
		State:         s.State,
		Status:        s.State.Present(),
		Order:         s.Order,
		MediaEndpoint: s.MediaEndpoint,
		HasMedia:      s.Media != nil,
		Detections:    s.Detections,
		Alert:         s.Alert,
		LastError:     s.LastError,
		UpdatedAt:     s.UpdatedAt,
	}
}
