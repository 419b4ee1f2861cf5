package session

import (
	"sync"
	"time"

	"workbench/internal/runstate"
)

type UpdateKind string

const (
	// UpdateState: messages, pending proposals, settings or audit changed.
	UpdateState UpdateKind = "state"
	// UpdateRun carries a chat run snapshot.
	UpdateRun UpdateKind = "run"
	// UpdateExecution carries an execution run snapshot.
	UpdateExecution UpdateKind = "execution"
	// UpdateRefresh asks read-models to re-fetch from the workbench store.
	UpdateRefresh UpdateKind = "refresh"
)

type Update struct {
	Kind UpdateKind         `json:"kind"`
	Run  *runstate.RunState `json:"run,omitempty"`
	At   time.Time          `json:"at"`
}

const subscriberBuffer = 64

// hub fans updates out to subscribers. A subscriber that falls behind loses
// updates instead of stalling the session.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Update
}

func newHub() *hub {
	return &hub{subs: map[int]chan Update{}}
}

func (h *hub) subscribe() (<-chan Update, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan Update, subscriberBuffer)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *hub) publish(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
