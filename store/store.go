// Package store defines the session journal: an append-only log of every
// message, execution, action and script change, including entries the bounded
// in-memory histories have since evicted.
package store

import (
	"context"

	"github.com/jxucoder/livecoder/model"
)

// DefaultEventLimit is used by callers that don't set a page size.
const DefaultEventLimit = 100

// Journal is an append-only event log.
type Journal interface {
	// Append stores e and sets its ID and CreatedAt.
	Append(ctx context.Context, e *model.Event) error

	// Events returns up to limit events with ID > afterID in ID order.
	Events(ctx context.Context, afterID int64, limit int) ([]*model.Event, error)

	Close() error
}
