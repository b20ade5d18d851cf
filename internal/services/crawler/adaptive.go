package crawler

import "sync"

// Adaptive batch sizing bounds. The window is the number of most recent
// request outcomes the error rate is computed over.
const (
	batchWindow  = 100
	batchFloor   = 5
	batchCeiling = 50
	batchInitial = 10

	highErrorRate = 0.10
	lowErrorRate  = 0.05
)

// AdaptiveBatcher sizes work batches from a rolling error rate: halve on a
// struggling target, double on a healthy one, always within
// [batchFloor, batchCeiling]. The frontier and the validator each own one.
type AdaptiveBatcher struct {
	mu     sync.Mutex
	size   int
	window [batchWindow]bool // true = failed outcome
	count  int               // outcomes recorded, caps at batchWindow
	next   int               // ring index
}

func NewAdaptiveBatcher() *AdaptiveBatcher {
	return &AdaptiveBatcher{size: batchInitial}
}

// Record adds one request outcome to the rolling window
func (ab *AdaptiveBatcher) Record(failed bool) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	ab.window[ab.next] = failed
	ab.next = (ab.next + 1) % batchWindow
	if ab.count < batchWindow {
		ab.count++
	}
}

// ErrorRate returns the failure fraction over the window, 0 when empty
func (ab *AdaptiveBatcher) ErrorRate() float64 {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.errorRateLocked()
}

func (ab *AdaptiveBatcher) errorRateLocked() float64 {
	if ab.count == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < ab.count; i++ {
		if ab.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(ab.count)
}

// Next adjusts the batch size from the current error rate and returns the
// size to use for the upcoming batch. With no outcomes recorded yet the
// size is left alone.
func (ab *AdaptiveBatcher) Next() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ab.count > 0 {
		switch rate := ab.errorRateLocked(); {
		case rate > highErrorRate:
			ab.size /= 2
			if ab.size < batchFloor {
				ab.size = batchFloor
			}
		case rate < lowErrorRate:
			ab.size *= 2
			if ab.size > batchCeiling {
				ab.size = batchCeiling
			}
		}
	}
	return ab.size
}

// Size returns the current batch size without adjusting it
func (ab *AdaptiveBatcher) Size() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.size
}
