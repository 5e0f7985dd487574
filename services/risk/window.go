package risk

// Window is a fixed-capacity FIFO of send outcomes with running counters.
// Each entry carries a weight: 0 for a clean send, 1 for a bounce, more for
// outcomes that weigh heavier (complaints). Not safe for concurrent use.
type Window struct {
	entries  []int
	head     int
	size     int
	weighted int
	bounced  int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{entries: make([]int, capacity)}
}

func (w *Window) Push(bounced bool) {
	if bounced {
		w.PushWeighted(1)
		return
	}
	w.PushWeighted(0)
}

// PushWeighted appends an outcome, evicting the oldest one when full. O(1).
func (w *Window) PushWeighted(weight int) {
	if weight < 0 {
		weight = 0
	}
	capacity := len(w.entries)
	if w.size == capacity {
		evicted := w.entries[w.head]
		w.weighted -= evicted
		if evicted > 0 {
			w.bounced--
		}
		w.entries[w.head] = weight
		w.head = (w.head + 1) % capacity
	} else {
		w.entries[(w.head+w.size)%capacity] = weight
		w.size++
	}
	w.weighted += weight
	if weight > 0 {
		w.bounced++
	}
}

// Sent is the number of outcomes currently held.
func (w *Window) Sent() int {
	return w.size
}

// Bounces is the weighted bounce count used against thresholds.
func (w *Window) Bounces() int {
	return w.weighted
}

// BouncedEntries counts outcomes with a non-zero weight.
func (w *Window) BouncedEntries() int {
	return w.bounced
}

// Ratio is the fraction of held outcomes that bounced, 0 when empty.
func (w *Window) Ratio() float64 {
	if w.size == 0 {
		return 0
	}
	return float64(w.bounced) / float64(w.size)
}

func (w *Window) Capacity() int {
	return len(w.entries)
}

func (w *Window) Reset() {
	for i := range w.entries {
		w.entries[i] = 0
	}
	w.head, w.size, w.weighted, w.bounced = 0, 0, 0, 0
}

// Weights returns the held outcomes oldest first.
func (w *Window) Weights() []int {
	out := make([]int, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.entries[(w.head+i)%len(w.entries)]
	}
	return out
}

// MailboxWindows are the two windows tracked for every mailbox.
type MailboxWindows struct {
	Warning *Window
	Pause   *Window
}

func NewMailboxWindows(t Thresholds) *MailboxWindows {
	return &MailboxWindows{
		Warning: NewWindow(t.WarningWindow),
		Pause:   NewWindow(t.PauseWindow),
	}
}

func (m *MailboxWindows) PushWeighted(weight int) {
	m.Warning.PushWeighted(weight)
	m.Pause.PushWeighted(weight)
}

func (m *MailboxWindows) Reset() {
	m.Warning.Reset()
	m.Pause.Reset()
}
