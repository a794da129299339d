package guard

import (
	"net/http"
	"sync"
)

type transition struct {
	Path   string
	From   State
	To     State
	Reason Reason
}

// tracker is an Observer that remembers every transition.
type tracker struct {
	mu  sync.Mutex
	log []transition
}

func (t *tracker) Transition(r *http.Request, from, to State, reason Reason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = append(t.log, transition{Path: r.URL.Path, From: from, To: to, Reason: reason})
}

func (t *tracker) transitions() []transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transition(nil), t.log...)
}
