// Package stream decodes the chat server's newline-delimited JSON response stream.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedRecord is returned by Parse when a record is not a JSON event object.
var ErrMalformedRecord = errors.New("malformed stream record")

// EventType identifies a stream event
type EventType string

const (
	EventText   EventType = "text"   // incremental text fragment
	EventAudio  EventType = "audio"  // base64 audio clip
	EventStatus EventType = "status" // progress message
	EventDone   EventType = "done"   // end of response
)

// Known reports whether t is one of the event types the widget understands.
func (t EventType) Known() bool {
	switch t {
	case EventText, EventAudio, EventStatus, EventDone:
		return true
	}
	return false
}

// Event is one decoded record of a response stream.
type Event struct {
	Type EventType `json:"type"`
	Data string    `json:"data,omitempty"`
}

// Parse decodes a single record into an Event. A failure only concerns this
// record; callers are expected to log it and keep reading.
func Parse(record string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(record), &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return ev, nil
}

// Encode renders an event as one newline-terminated record.
func Encode(ev Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
