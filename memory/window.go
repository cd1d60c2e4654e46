// Package memory keeps the recent-history window used to build dialogue prompts.
package memory

// DefaultSize is the number of exchanges kept when none is configured.
const DefaultSize = 10

// Exchange is one interviewer question and the candidate's answer to it.
type Exchange struct {
	Question string `json:"question"`
	Response string `json:"response"`
}

// Window is a fixed-capacity FIFO of exchanges backed by a ring buffer.
// It is not safe for concurrent use; the owning session serializes access.
type Window struct {
	buf   []Exchange
	start int
	n     int
}

func New(size int) *Window {
	if size <= 0 {
		size = DefaultSize
	}
	return &Window{buf: make([]Exchange, size)}
}

// Append adds e, evicting the oldest exchange once the window is full.
func (w *Window) Append(e Exchange) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = e
		w.n++
		return
	}
	w.buf[w.start] = e
	w.start = (w.start + 1) % len(w.buf)
}

// History returns the window oldest-first as a fresh slice.
func (w *Window) History() []Exchange {
	out := make([]Exchange, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

func (w *Window) Clear() {
	clear(w.buf)
	w.start, w.n = 0, 0
}

func (w *Window) Len() int { return w.n }
func (w *Window) Cap() int { return len(w.buf) }
