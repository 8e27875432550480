package postprocessing

import "kepler-vision-go/internal/models"

type sample struct {
	pos   models.Point2D
	frame int
}

// history is a fixed-capacity ring of position samples, oldest first.
type history struct {
	buf   []sample
	start int
	n     int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]sample, capacity)}
}

func (h *history) push(s sample) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) len() int { return h.n }

// at returns the i-th oldest sample.
func (h *history) at(i int) sample {
	return h.buf[(h.start+i)%len(h.buf)]
}

func (h *history) newest() sample {
	return h.at(h.n - 1)
}
