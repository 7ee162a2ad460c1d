package device

import (
	"context"
	"fmt"
	"time"
)

// WaitResult is the outcome of a blocking wait for hardware.
type WaitResult uint64

const (
	Found WaitResult = iota
	TimedOut
	Cancelled
)

func (r WaitResult) String() string {
	switch r {
	case Found:
		return "found"
	case TimedOut:
		return "timed out"
	case Cancelled:
		return "cancelled"
	default:
		panic(fmt.Sprintf("unknown wait result %d", r))
	}
}

// DefaultInterval is used when a wait has no poll interval configured.
const DefaultInterval = 2 * time.Second

// Probe reports whether the awaited condition holds.
type Probe func(ctx context.Context) bool

// Poll runs probe right away and then every interval until it succeeds, ctx
// is done or timeout expires. A zero timeout waits until ctx is done.
func Poll(ctx context.Context, interval, timeout time.Duration, probe Probe) WaitResult {
	if interval <= 0 {
		interval = DefaultInterval
	}
	parent := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if probe(ctx) {
			return Found
		}
		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				return Cancelled
			}
			return TimedOut
		case <-ticker.C:
		}
	}
}
