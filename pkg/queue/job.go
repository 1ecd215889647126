package queue

import (
	"context"
	"encoding/json"
)

// Job handles one message type.
type Job interface {
	// Type returns the message type the job handles, e.g. "analysis.batch".
	Type() string

	// Handle processes the job payload. A returned error schedules a retry
	// until the retry limit, after which the message goes to the dead letter
	// list.
	Handle(ctx context.Context, payload json.RawMessage) error
}
