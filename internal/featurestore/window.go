package featurestore

import (
	"time"
)

// bucketWindow is a fixed-size ring of time buckets. Stale buckets are
// overwritten lazily on write and skipped on read, so expiry never needs
// a full rescan.
type bucketWindow struct {
	bucketSize time.Duration
	buckets    []bucket
}

type bucket struct {
	start time.Time
	value float64
}

func newBucketWindow(span, bucketSize time.Duration) *bucketWindow {
	n := int(span / bucketSize)
	return &bucketWindow{
		bucketSize: bucketSize,
		buckets:    make([]bucket, n),
	}
}

func (w *bucketWindow) bucketStart(ts time.Time) time.Time {
	return ts.Truncate(w.bucketSize)
}

func (w *bucketWindow) index(start time.Time) int {
	slot := start.UnixNano() / int64(w.bucketSize)
	idx := int(slot % int64(len(w.buckets)))
	if idx < 0 {
		idx += len(w.buckets)
	}
	return idx
}

// add accumulates a value into the bucket containing ts, resetting the
// slot if it holds an expired period.
func (w *bucketWindow) add(ts time.Time, v float64) {
	start := w.bucketStart(ts)
	b := &w.buckets[w.index(start)]
	if !b.start.Equal(start) {
		b.start = start
		b.value = 0
	}
	b.value += v
}

// total sums the buckets still inside the window ending at now.
func (w *bucketWindow) total(now time.Time) float64 {
	span := time.Duration(len(w.buckets)) * w.bucketSize
	cutoff := now.Add(-span)

	var sum float64
	for i := range w.buckets {
		b := &w.buckets[i]
		if b.start.IsZero() || !b.start.After(cutoff) || b.start.After(now) {
			continue
		}
		sum += b.value
	}
	return sum
}
