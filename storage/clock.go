package storage

import (
	"sync/atomic"
	"time"
)

var lastHistoryStamp int64

// nextHistoryStamp returns a strictly increasing nanosecond stamp for
// history row keys so two transitions landing in the same instant never
// collide on the same row.
func nextHistoryStamp(at time.Time) int64 {
	for {
		now := at.UnixNano()
		last := atomic.LoadInt64(&lastHistoryStamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastHistoryStamp, last, now) {
			return now
		}
	}
}
