package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// IncidentRecord is one detected safety event. The camera name is
// denormalized at event time and never re-resolved.
type IncidentRecord struct {
	ID                 string    `json:"id"`
	SourceCameraID     string    `json:"cameraId"`
	SourceCameraName   string    `json:"cameraName"`
	OccurredAt         time.Time `json:"timestamp"`
	EvidenceImageRef   string    `json:"imageUrl"`
	SeparationDistance float64   `json:"distance"`
	Description        string    `json:"description"`
}

// zone-less layouts emitted by the alert store; interpreted as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON accepts RFC 3339, zone-less ISO 8601 or epoch
// seconds/milliseconds for the timestamp field.
func (r *IncidentRecord) UnmarshalJSON(data []byte) error {
	type plain IncidentRecord
	var wire struct {
		plain
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = IncidentRecord(wire.plain)

	ts, err := parseTimestamp(wire.Timestamp)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	r.OccurredAt = ts
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, nil
		}
		for _, layout := range naiveLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized format %q", s)
	}

	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, err
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC(), nil
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// Validate checks the invariants every stored incident must hold.
func (r IncidentRecord) Validate() error {
	if r.ID == "" {
		return errors.New("missing id")
	}
	if r.SeparationDistance < 0 || math.IsNaN(r.SeparationDistance) {
		return fmt.Errorf("negative separation distance %v", r.SeparationDistance)
	}
	return nil
}

// ParseIncident decodes and validates one incident message.
func ParseIncident(data []byte) (IncidentRecord, error) {
	var r IncidentRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return IncidentRecord{}, fmt.Errorf("unmarshal incident: %w", err)
	}
	if err := r.Validate(); err != nil {
		return IncidentRecord{}, fmt.Errorf("invalid incident: %w", err)
	}
	return r, nil
}
