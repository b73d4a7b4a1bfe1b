package panorama

import (
	"sync"
)

// attemptState is the lifecycle of one zoom level's download.
type attemptState int

const (
	statePending attemptState = iota
	stateFetching
	stateSucceeded
	stateAbandoned
)

func (s attemptState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateFetching:
		return "fetching"
	case stateSucceeded:
		return "succeeded"
	case stateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// zoomAttempt tracks tiles at one zoom level. The first failure moves it to
// abandoned; only a fetching attempt with every tile done can succeed.
type zoomAttempt struct {
	mu      sync.Mutex
	zoom    int
	total   int
	done    int
	state   attemptState
	failure error
}

func newZoomAttempt(zoom, total int) *zoomAttempt {
	return &zoomAttempt{zoom: zoom, total: total, state: statePending}
}

func (a *zoomAttempt) start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == statePending {
		a.state = stateFetching
	}
}

// tileDone records a completed tile and reports whether the grid is complete.
func (a *zoomAttempt) tileDone() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != stateFetching {
		return false
	}
	a.done++
	if a.done == a.total {
		a.state = stateSucceeded
		return true
	}
	return false
}

// fail abandons the attempt. It reports true for the first failure only.
func (a *zoomAttempt) fail(err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == stateAbandoned || a.state == stateSucceeded {
		return false
	}
	a.state = stateAbandoned
	a.failure = err
	return true
}

func (a *zoomAttempt) snapshot() (attemptState, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, a.done, a.failure
}
