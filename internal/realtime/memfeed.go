package realtime

import (
	"errors"
	"sync"
)

// MemoryFeed — лента внутри процесса: REALTIME_DRIVER=memory и тесты.
type MemoryFeed struct {
	hub *hub

	mu       sync.Mutex
	failNext int
	opened   int
}

var errMemoryFeedUnavailable = errors.New("memory feed: subscribe refused")

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{hub: newHub(Connected)}
}

func (m *MemoryFeed) Subscribe(table string, filter Filter, deliver func(ChangeEvent), status func(Status, error)) (Handle, error) {
	m.mu.Lock()
	if m.failNext > 0 {
		m.failNext--
		m.mu.Unlock()
		return nil, errMemoryFeedUnavailable
	}
	m.opened++
	m.mu.Unlock()
	return m.hub.add(table, filter, deliver, status)
}

// Emit раздаёт событие подписчикам и возвращает, скольким оно ушло.
func (m *MemoryFeed) Emit(ev ChangeEvent) int { return m.hub.publish(ev) }

func (m *MemoryFeed) SetStatus(st Status, err error) { m.hub.setStatus(st, err) }

// FailNext — следующие n вызовов Subscribe вернут ошибку.
func (m *MemoryFeed) FailNext(n int) {
	m.mu.Lock()
	m.failNext = n
	m.mu.Unlock()
}

// Subscribers — число открытых подписок прямо сейчас.
func (m *MemoryFeed) Subscribers() int { return m.hub.count() }

// Opened — сколько подписок открыто за всё время.
func (m *MemoryFeed) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *MemoryFeed) Close() { m.hub.close() }
