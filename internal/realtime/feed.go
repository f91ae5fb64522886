package realtime

import (
	"errors"
	"sync"
)

type Status string

const (
	Connected    Status = "connected"
	Disconnected Status = "disconnected"
	Error        Status = "error"
)

var (
	ErrChannel    = errors.New("realtime channel error")
	ErrFeedClosed = errors.New("realtime feed closed")
)

// Handle — открытая подписка на ленту. Close идемпотентен; после возврата
// из Close доставка в эту подписку прекращена.
type Handle interface {
	Close()
}

// Feed — лента изменений таблиц (subscribeChanges / unsubscribe).
// deliver не должен блокироваться: его вызывают из горутины ленты.
type Feed interface {
	Subscribe(table string, filter Filter, deliver func(ChangeEvent), status func(Status, error)) (Handle, error)
}

// hub — общий для лент разбор событий по подписчикам.
type hub struct {
	mu     sync.RWMutex
	next   uint64
	subs   map[uint64]*hubSub
	status Status
	err    error
	closed bool
}

type hubSub struct {
	table   string
	filter  Filter
	deliver func(ChangeEvent)
	status  func(Status, error)
}

func newHub(initial Status) *hub {
	return &hub{subs: make(map[uint64]*hubSub), status: initial}
}

func (h *hub) add(table string, f Filter, deliver func(ChangeEvent), status func(Status, error)) (Handle, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrFeedClosed
	}
	h.next++
	id := h.next
	h.subs[id] = &hubSub{table: table, filter: f, deliver: deliver, status: status}
	st, err := h.status, h.err
	h.mu.Unlock()

	if status != nil {
		status(st, err)
	}
	return &hubHandle{h: h, id: id}, nil
}

func (h *hub) publish(ev ChangeEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.subs {
		if s.table != ev.Table || !s.filter.Matches(ev) {
			continue
		}
		s.deliver(ev)
		n++
	}
	return n
}

func (h *hub) setStatus(st Status, err error) {
	h.mu.Lock()
	if h.status == st && st != Error {
		h.mu.Unlock()
		return
	}
	h.status, h.err = st, err
	subs := make([]*hubSub, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if s.status != nil {
			s.status(st, err)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.setStatus(Disconnected, ErrFeedClosed)
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

type hubHandle struct {
	h    *hub
	id   uint64
	once sync.Once
}

func (hh *hubHandle) Close() {
	hh.once.Do(func() {
		hh.h.mu.Lock()
		delete(hh.h.subs, hh.id)
		hh.h.mu.Unlock()
	})
}
