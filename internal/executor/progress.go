package executor

import "sync"

// progressTracker serializes progress callbacks for one batch. The mutex
// guarantees that for any tool its start snapshot is delivered before its
// finish snapshot.
type progressTracker struct {
	mu       sync.Mutex
	snapshot Progress
	callback ProgressFunc
}

func newTracker(total int, callback ProgressFunc) *progressTracker {
	return &progressTracker{
		snapshot: Progress{Total: total},
		callback: callback,
	}
}

// addTotal grows the batch when a fallback set is promoted mid-run.
func (t *progressTracker) addTotal(n int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.Total += n
	t.emit()
}

func (t *progressTracker) start() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.InFlight++
	t.emit()
}

func (t *progressTracker) finish(failed bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot.InFlight > 0 {
		t.snapshot.InFlight--
	}
	if failed {
		t.snapshot.Failed++
	} else {
		t.snapshot.Completed++
	}
	t.emit()
}

func (t *progressTracker) emit() {
	if t.callback != nil {
		t.callback(t.snapshot)
	}
}
