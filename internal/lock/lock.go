// Package lock provides per-ticket lease locks shared by every scheduler
// instance. A lease that is never released simply expires after its TTL.
package lock

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Locker grants a time-bounded exclusive claim on a key.
type Locker interface {
	// Acquire reports whether the caller now holds the lease on key. Losing
	// a race is not an error.
	Acquire(ctx context.Context, key string) (bool, error)
	// Release gives the lease up early if the caller still holds it.
	Release(ctx context.Context, key string) error
	HolderID() string
}

// NewHolderID returns an id unique to this process.
func NewHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString())
}

// TicketKey is the lock key used for a ticket.
func TicketKey(ticketKey string) string {
	return "ticket:" + ticketKey
}
