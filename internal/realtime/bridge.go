package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/codeblock102/addin-darululum-sub004/internal/logging"
	"github.com/codeblock102/addin-darululum-sub004/internal/metrics"
	"github.com/codeblock102/addin-darululum-sub004/internal/observability"
)

// Bridge раздаёт потребителям именованные каналы поверх одной ленты.
type Bridge struct {
	feed       Feed
	log        *zap.Logger
	newBackOff func() backoff.BackOff

	active atomic.Int64

	mu       sync.Mutex
	channels map[string]*Channel
}

type Option func(*Bridge)

// WithBackOff — своя политика повторов открытия подписки (в тестах — короткая константа).
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(b *Bridge) { b.newBackOff = fn }
}

func NewBridge(feed Feed, log *zap.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		feed:       feed,
		log:        logging.OrNop(log),
		newBackOff: defaultBackOff,
		channels:   make(map[string]*Channel),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func defaultBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 0
	return eb
}

// Channel возвращает канал потребителя; одно имя — один канал.
func (b *Bridge) Channel(name string) *Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.channels[name]; ok {
		return c
	}
	c := &Channel{b: b, name: name, status: Disconnected, log: b.log.With(zap.String("channel", name))}
	metrics.RealtimeChannels.WithLabelValues(string(Disconnected)).Inc()
	b.channels[name] = c
	return c
}

// Active — число открытых подписок на ленту по всем каналам.
func (b *Bridge) Active() int { return int(b.active.Load()) }

func (b *Bridge) Statuses() map[string]Status {
	b.mu.Lock()
	chans := make([]*Channel, 0, len(b.channels))
	for _, c := range b.channels {
		chans = append(chans, c)
	}
	b.mu.Unlock()

	out := make(map[string]Status, len(chans))
	for _, c := range chans {
		out[c.name] = c.Status()
	}
	return out
}

// Names — имена каналов по алфавиту.
func (b *Bridge) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.channels))
	for n := range b.channels {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Release снимает подписку канала и забывает его.
func (b *Bridge) Release(name string) {
	b.mu.Lock()
	c, ok := b.channels[name]
	delete(b.channels, name)
	b.mu.Unlock()
	if !ok {
		return
	}
	c.Unsubscribe()
	metrics.RealtimeChannels.WithLabelValues(string(c.Status())).Dec()
}

// Close снимает все подписки. Ленту закрывает её владелец.
func (b *Bridge) Close() {
	b.mu.Lock()
	chans := b.channels
	b.channels = make(map[string]*Channel)
	b.mu.Unlock()

	for _, c := range chans {
		c.Unsubscribe()
		metrics.RealtimeChannels.WithLabelValues(string(c.Status())).Dec()
	}
}

// Channel — канал одного потребителя: не больше одной живой подписки,
// события доставляются по одному и в порядке поступления.
type Channel struct {
	b    *Bridge
	name string
	log  *zap.Logger

	mu       sync.Mutex
	sub      *subscription
	status   Status
	err      error
	onStatus func(Status, error)
}

func (c *Channel) Name() string { return c.name }

// Subscribe открывает подписку на изменения table и возвращает функцию отписки.
// Предыдущая подписка канала закрывается до открытия новой.
// Открытие идёт в фоне с повторами; ход виден через Status/OnStatus.
// onChange не должен синхронно отписывать или переподписывать свой же канал.
func (c *Channel) Subscribe(table string, filter Filter, onChange func(ChangeEvent)) (unsubscribe func()) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		c:        c,
		table:    table,
		filter:   filter,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
	}

	c.mu.Lock()
	old := c.sub
	c.sub = s
	c.mu.Unlock()
	if old != nil {
		old.stop()
	}

	go s.run()
	return s.stop
}

// Unsubscribe закрывает текущую подписку канала, если она есть.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	s := c.sub
	c.mu.Unlock()
	if s != nil {
		s.stop()
	}
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err — последняя ошибка канала (nil, если статус не error).
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Channel) OnStatus(fn func(Status, error)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// setStatus игнорирует сообщения от уже заменённой подписки (from != c.sub).
func (c *Channel) setStatus(from *subscription, st Status, err error) {
	c.mu.Lock()
	if from != nil && c.sub != from {
		c.mu.Unlock()
		return
	}
	prev := c.status
	c.err = err
	if prev == st {
		c.mu.Unlock()
		return
	}
	c.status = st
	fn := c.onStatus
	c.mu.Unlock()

	metrics.RealtimeChannels.WithLabelValues(string(prev)).Dec()
	metrics.RealtimeChannels.WithLabelValues(string(st)).Inc()

	switch st {
	case Connected:
		c.log.Info("channel connected")
	case Disconnected:
		c.log.Info("channel disconnected", zap.Error(err))
	case Error:
		c.log.Warn("channel error", zap.Error(err))
		observability.CaptureWithTags(err, map[string]string{"component": "realtime", "channel": c.name})
	}
	if fn != nil {
		fn(st, err)
	}
}

func (c *Channel) detach(s *subscription) {
	c.mu.Lock()
	if c.sub != s {
		c.mu.Unlock()
		return
	}
	c.sub = nil
	c.mu.Unlock()
	c.setStatus(nil, Disconnected, nil)
}

type subscription struct {
	c        *Channel
	table    string
	filter   Filter
	onChange func(ChangeEvent)

	ctx      context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool
	stopOnce sync.Once
	// dispatchMu держится на время вызова onChange; stop ждёт его
	dispatchMu sync.Mutex

	mu     sync.Mutex
	handle Handle
	queue  []ChangeEvent
	wake   chan struct{}
}

func (s *subscription) run() {
	if !s.open() {
		return
	}
	s.deliverLoop()
}

func (s *subscription) open() bool {
	b := s.c.b
	op := func() error {
		if s.closed.Load() {
			return backoff.Permanent(context.Canceled)
		}
		h, err := b.feed.Subscribe(s.table, s.filter, s.enqueue, s.feedStatus)
		if err != nil {
			if errors.Is(err, ErrFeedClosed) {
				return backoff.Permanent(err)
			}
			return err
		}
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			h.Close()
			return backoff.Permanent(context.Canceled)
		}
		s.handle = h
		b.active.Add(1)
		s.mu.Unlock()
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.c.log.Debug("subscribe retry", zap.String("table", s.table), zap.Duration("next", next), zap.Error(err))
		s.c.setStatus(s, Error, fmt.Errorf("%w: subscribe %s: %w", ErrChannel, s.table, err))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b.newBackOff(), s.ctx), notify)
	if err == nil {
		return true
	}
	if !s.closed.Load() && !errors.Is(err, context.Canceled) {
		s.c.setStatus(s, Error, fmt.Errorf("%w: subscribe %s: %w", ErrChannel, s.table, err))
	}
	return false
}

func (s *subscription) feedStatus(st Status, err error) {
	if s.closed.Load() {
		return
	}
	if st == Error {
		if err == nil {
			err = ErrChannel
		} else {
			err = fmt.Errorf("%w: %s: %w", ErrChannel, s.table, err)
		}
	}
	s.c.setStatus(s, st, err)
}

// enqueue вызывается из горутины ленты и не блокируется.
func (s *subscription) enqueue(ev ChangeEvent) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) deliverLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue[0] = ChangeEvent{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.dispatchMu.Lock()
			if s.closed.Load() {
				s.dispatchMu.Unlock()
				return
			}
			s.dispatch(ev)
			s.dispatchMu.Unlock()
		}
	}
}

func (s *subscription) dispatch(ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.c.log.Error("change handler panic", zap.Any("panic", r), zap.String("table", ev.Table))
			observability.CaptureWithTags(fmt.Errorf("change handler panic: %v", r), map[string]string{"component": "realtime", "channel": s.c.name})
		}
	}()
	metrics.RealtimeEvents.WithLabelValues(ev.Table, string(ev.Type)).Inc()
	s.onChange(ev)
}

// stop идемпотентен. После возврата подписка на ленту закрыта, начатый
// вызов onChange завершён и новых не будет.
func (s *subscription) stop() {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.dispatchMu.Lock()
		// дождаться текущего onChange
		s.dispatchMu.Unlock()

		s.mu.Lock()
		h := s.handle
		s.handle = nil
		s.queue = nil
		if h != nil {
			s.c.b.active.Add(-1)
		}
		s.mu.Unlock()

		if h != nil {
			h.Close()
		}
		s.c.detach(s)
	})
}
