package models

import "time"

// Event kinds emitted on a record event stream.
const (
	EventRecordUpdate  = "record-update"
	EventRecordDeleted = "record-deleted"
	EventHeartbeat     = "heartbeat"
)

// RecordEvent is one newline-delimited JSON message on an owner's event
// stream. Timestamp is the generation time of the event, not of the
// underlying data change.
type RecordEvent struct {
	Type      string        `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Record    *UploadRecord `json:"record,omitempty"`    // set for record-update
	RecordID  string        `json:"record_id,omitempty"` // set for record-deleted
}

// NewUpdateEvent builds a record-update event carrying a full row snapshot.
func NewUpdateEvent(rec *UploadRecord) RecordEvent {
	return RecordEvent{Type: EventRecordUpdate, Timestamp: time.Now().UTC(), Record: rec}
}

// NewDeleteEvent builds a record-deleted event carrying only the identifier.
func NewDeleteEvent(id string) RecordEvent {
	return RecordEvent{Type: EventRecordDeleted, Timestamp: time.Now().UTC(), RecordID: id}
}

// NewHeartbeatEvent builds a liveness event.
func NewHeartbeatEvent() RecordEvent {
	return RecordEvent{Type: EventHeartbeat, Timestamp: time.Now().UTC()}
}
