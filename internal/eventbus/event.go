package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Event is the in-process notification published alongside (but kept
// strictly separate from) a durable outbox row. Subscribers use these
// for best-effort local reactions — cache invalidation, metrics,
// the backorder allocation sweep trigger — never for anything that
// must survive a crash or be delivered at-least-once; that is the
// outbox's job.
type Event struct {
	Type          string
	AggregateType string
	AggregateID   uuid.UUID
	CorrelationID string
	OccurredAt    time.Time
	Payload       any
}
