package causality

import "time"

// Envelope carries the causality quadruple plus sequence number and
// timestamp that every emitted event is required to have (spec §3, §6).
type Envelope struct {
	SessionID    SessionID
	ParentID     *SessionID // nil for a top-level session
	TurnID       *TurnID    // nil outside a turn
	SpanID       *SpanID    // nil outside a span
	ParentSpanID *SpanID    // nil unless SpanID is set and nested
	Seq          uint64
	Timestamp    time.Time
}

// Fields flattens the envelope into a map suitable for merging into a
// hooks.Payload. parent_id is always present (nil for a top-level
// session); turn_id, span_id and parent_span_id are omitted when nil.
func (e Envelope) Fields() map[string]any {
	fields := map[string]any{
		"session_id": string(e.SessionID),
		"seq":        e.Seq,
		"ts":         e.Timestamp.Format(time.RFC3339Nano),
	}
	if e.ParentID != nil {
		fields["parent_id"] = string(*e.ParentID)
	} else {
		fields["parent_id"] = nil
	}
	if e.TurnID != nil {
		fields["turn_id"] = string(*e.TurnID)
	}
	if e.SpanID != nil {
		fields["span_id"] = string(*e.SpanID)
	}
	if e.ParentSpanID != nil {
		fields["parent_span_id"] = string(*e.ParentSpanID)
	}
	return fields
}
