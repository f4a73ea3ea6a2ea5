package gateway

import "sync"

// QueryStatus is a server-reported worker state.
type QueryStatus string

const (
	StatusPending      QueryStatus = "Pending"
	StatusInitializing QueryStatus = "Initializing"
	StatusRunning      QueryStatus = "Running"
	StatusError        QueryStatus = "Error"
	StatusFailed       QueryStatus = "Failed"
	StatusStopped      QueryStatus = "Stopped"
)

// Terminal reports whether the status ends a provisioning wait. Running is
// the success terminal; Error and Failed are failure terminals.
func (s QueryStatus) Terminal() bool {
	return s == StatusRunning || s == StatusError || s == StatusFailed
}

// QueryStatusEvent is one server-pushed lifecycle event for a query.
type QueryStatusEvent struct {
	Serial    string      `json:"serial"`
	Status    QueryStatus `json:"status"`
	Name      string      `json:"name"`
	ProcessID string      `json:"processId"`
	GrpcURL   string      `json:"grpcUrl"`
	IDEURL    string      `json:"ideUrl"`
}

// terminalWatch resolves exactly once on the first terminal event matching
// one serial, then detaches its subscription. Events for other serials or
// non-terminal statuses pass through untouched, so concurrent waits on one
// stream never interfere.
type terminalWatch struct {
	serial string
	once   sync.Once
	result chan QueryStatusEvent

	mu       sync.Mutex
	unsub    func()
	detached bool
}

func newTerminalWatch(serial string) *terminalWatch {
	return &terminalWatch{
		serial: serial,
		result: make(chan QueryStatusEvent, 1),
	}
}

// deliver is the event-stream callback. The detach runs on its own
// goroutine because event dispatchers may hold locks while delivering.
func (w *terminalWatch) deliver(ev QueryStatusEvent) {
	if ev.Serial != w.serial || !ev.Status.Terminal() {
		return
	}
	w.once.Do(func() {
		w.result <- ev
		go w.detach()
	})
}

// bind hands the watch its unsubscribe func. If the terminal event raced
// ahead of bind, the subscription is released immediately.
func (w *terminalWatch) bind(unsub func()) {
	w.mu.Lock()
	if w.detached {
		w.mu.Unlock()
		unsub()
		return
	}
	w.unsub = unsub
	w.mu.Unlock()
}

func (w *terminalWatch) detach() {
	w.mu.Lock()
	w.detached = true
	unsub := w.unsub
	w.unsub = nil
	w.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
