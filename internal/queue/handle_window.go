package queue

import "time"

// handleWindowSize bounds the rolling handle-time window per company
const handleWindowSize = 50

// handleWindow keeps a ring of recent handle durations for one company
type handleWindow struct {
	samples [handleWindowSize]time.Duration
	next    int
	count   int
	sum     time.Duration
}

func (w *handleWindow) record(d time.Duration) {
	if d < 0 {
		return
	}
	if w.count == handleWindowSize {
		w.sum -= w.samples[w.next]
	} else {
		w.count++
	}
	w.samples[w.next] = d
	w.sum += d
	w.next = (w.next + 1) % handleWindowSize
}

func (w *handleWindow) average() time.Duration {
	if w.count == 0 {
		return 0
	}
	return w.sum / time.Duration(w.count)
}
