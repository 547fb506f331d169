// Package loop provides the single-writer event loop the hub runs on.
//
// State owned by the hub (presence entries, room membership, call sessions) is
// only ever touched from functions executed by the loop. Blocking work such as
// store I/O is handed to a worker pool with Go and posts its continuation back
// with Post, so slow persistence interleaves with other events instead of
// stalling them.
package loop

import (
	"context"
	"time"
)

// Timer is a scheduled callback that may be stopped before it fires.
type Timer interface {
	Stop() bool
}

// Loop is the scheduling surface used by the hub components.
type Loop interface {
	// Post queues fn for execution on the loop goroutine.
	Post(fn func())
	// Go runs task outside of the loop. Results must be handed back with Post.
	Go(task func(ctx context.Context))
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Now returns the loop clock time.
	Now() time.Time
}
