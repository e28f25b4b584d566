package model

import (
	"strings"
	"time"
)

// EventType represents different types of behavioral event messages
type EventType string

// Event type constants (with versioning)
const (
	// Version 1 realtime event types
	V1EventsTrack    EventType = "v1.events.track"
	V1EventsIdentify EventType = "v1.events.identify"
	// Version 1 historical backfill event types
	V1HistoricalEvents EventType = "v1.history.events"
	// Version 1 marketing mix model commands
	V1MMMTrain EventType = "v1.mmm.train"
	// Version 1 attribution configuration commands
	V1AttributionConfig EventType = "v1.attribution.config"
)

// MapToBaseEventType attempts to map an input string (potentially carrying an
// org-ID suffix) back to a known base EventType constant.
// It returns the mapped EventType and true if successful, or an empty
// EventType ("") and false if no mapping is found.
func MapToBaseEventType(input string) (EventType, bool) {
	switch EventType(input) {
	case V1EventsTrack, V1EventsIdentify, V1HistoricalEvents, V1MMMTrain, V1AttributionConfig:
		return EventType(input), true
	}

	// Subjects are published as <base>.<orgID>; strip the last component.
	lastDotIndex := strings.LastIndex(input, ".")
	if lastDotIndex <= 0 {
		return "", false
	}

	base := input[:lastDotIndex]
	switch EventType(base) {
	case V1EventsTrack:
		return V1EventsTrack, true
	case V1EventsIdentify:
		return V1EventsIdentify, true
	case V1HistoricalEvents:
		return V1HistoricalEvents, true
	case V1MMMTrain:
		return V1MMMTrain, true
	case V1AttributionConfig:
		return V1AttributionConfig, true
	default:
		return "", false
	}
}

// GetVersion extracts the version from an event type
// Returns the version string (e.g., "v1") or an empty string if no version specified
func (e EventType) GetVersion() string {
	parts := strings.SplitN(string(e), ".", 2)
	if len(parts) < 2 {
		return ""
	}
	if len(parts[0]) >= 2 && parts[0][0] == 'v' {
		return parts[0]
	}
	return ""
}

// GetBaseType strips the version prefix from an event type
func (e EventType) GetBaseType() EventType {
	version := e.GetVersion()
	if version == "" {
		return e
	}
	return EventType(strings.TrimPrefix(string(e), version+"."))
}

// MessageMetadata carries JetStream delivery metadata for one message
type MessageMetadata struct {
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	Domain           string
	MessageID        string
	MessageSubject   string
	OrgID            string
}
