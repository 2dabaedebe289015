// Package uploader orchestrates file transfers: path selection
// (multipart vs resumable), per-upload cancellation through a keyed
// registry, throttled progress reporting, session persistence for resume,
// and best-effort post-upload permissioning.
package uploader

import (
	"sync"
	"time"
)

// Event is one progress notification delivered to the caller.
type Event struct {
	BytesSent  int64
	TotalBytes int64
	Percent    int // 0-100
}

// ProgressFunc receives throttled progress events.
type ProgressFunc func(Event)

// progressInterval caps progress delivery at ~2 events per second. Chunk
// and byte-level progress fires far more often than a UI needs to repaint.
const progressInterval = 500 * time.Millisecond

// eventFor converts raw byte counts into an Event.
func eventFor(sent, total int64) Event {
	percent := 100
	if total > 0 {
		percent = int(sent * 100 / total)
	}

	return Event{BytesSent: sent, TotalBytes: total, Percent: percent}
}

// Throttle wraps fn so it forwards at most once per interval. A
// 100%-complete event always forwards immediately, so callers are
// guaranteed a final progress signal regardless of timing. A nil fn
// returns nil.
func Throttle(fn ProgressFunc, interval time.Duration) ProgressFunc {
	return throttleWithClock(fn, interval, time.Now)
}

// throttleWithClock is Throttle with an injectable clock for tests.
func throttleWithClock(fn ProgressFunc, interval time.Duration, now func() time.Time) ProgressFunc {
	if fn == nil {
		return nil
	}

	var mu sync.Mutex
	var lastEmit time.Time

	return func(e Event) {
		final := e.Percent >= 100

		mu.Lock()
		t := now()

		if !final && !lastEmit.IsZero() && t.Sub(lastEmit) < interval {
			mu.Unlock()
			return
		}

		lastEmit = t
		mu.Unlock()

		fn(e)
	}
}
