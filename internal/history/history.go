package history

import (
	"context"

	"github.com/mirrortap/mirrortap/internal/event"
)

// Sink is a destination for archived event records. The collector writes every
// stored record to the configured sink so captured traffic survives the test
// run for post-run debugging. Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, rec event.Record) error
}

// Closer is implemented by sinks holding external connections.
type Closer interface {
	Close() error
}
