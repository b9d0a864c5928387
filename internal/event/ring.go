package event

// ring is a growable FIFO with amortized O(1) push-back and pop-front.
type ring struct {
	buf  []Event
	head int
	n    int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) len() int { return r.n }

func (r *ring) pushBack(ev Event) {
	if r.n == len(r.buf) {
		r.grow()
	}
	r.buf[(r.head+r.n)%len(r.buf)] = ev
	r.n++
}

func (r *ring) popFront() Event {
	ev := r.buf[r.head]
	r.buf[r.head] = Event{} // release payload
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return ev
}

func (r *ring) at(i int) Event {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring) grow() {
	size := len(r.buf) * 2
	if size == 0 {
		size = 16
	}
	buf := make([]Event, size)
	for i := 0; i < r.n; i++ {
		buf[i] = r.at(i)
	}
	r.buf = buf
	r.head = 0
}

func (r *ring) reset() {
	clear(r.buf)
	r.head = 0
	r.n = 0
}
