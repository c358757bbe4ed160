package domain

import (
	"sync/atomic"
	"time"
)

var (
	lastTimestamp int64
	nowFunc       = time.Now
)

func nextTimestamp() int64 {
	for {
		now := nowFunc().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

// NewTimestamp returns the current instant in RFC 3339 form. Successive calls
// never return the same value, so the result is safe to use as a dedup key.
func NewTimestamp() string {
	return time.Unix(0, nextTimestamp()).UTC().Format(time.RFC3339Nano)
}
