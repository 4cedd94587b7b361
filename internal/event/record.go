package event

import (
	"encoding/json"
	"time"
)

// Record is one captured analytics event. Records are immutable once stored;
// the store only appends.
type Record struct {
	// Seq is the insertion index assigned by the store, starting at 1.
	Seq int64 `json:"seq"`
	// Name is the event identifier extracted from the batch payload.
	Name string `json:"name"`
	// Payload is the full decoded event body.
	Payload json.RawMessage `json:"payload"`
	// ReceivedAt is the ingestion wall-clock time (UTC), not the client's
	// emission time.
	ReceivedAt time.Time `json:"received_at"`
	// BatchID correlates records ingested from the same HTTP request.
	BatchID string `json:"batch_id"`
}

// PayloadMap decodes the payload into a generic map. Returns nil when the
// payload is not a JSON object.
func (r Record) PayloadMap() map[string]any {
	var m map[string]any
	if err := json.Unmarshal(r.Payload, &m); err != nil {
		return nil
	}
	return m
}
