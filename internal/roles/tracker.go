package roles

import (
	"context"
	"sync"

	"github.com/codeblock102/addin-darululum-sub004/internal/identity"
)

// Source — то, что умеет вычислить State по сессии (обычно *Resolver).
type Source interface {
	Resolve(ctx context.Context, s *identity.Session) State
}

// Tracker держит роль одного потребителя и пересчитывает её при смене сессии.
// Результаты для уже заменённой сессии отбрасываются.
type Tracker struct {
	src Source

	// notifyMu упорядочивает вызовы onChange
	notifyMu sync.Mutex

	mu       sync.Mutex
	gen      uint64
	seq      uint64 // номер последнего изменения state
	key      string
	state    State
	cancel   context.CancelFunc
	done     chan struct{}
	onChange func(State)
}

func NewTracker(src Source) *Tracker {
	done := make(chan struct{})
	close(done)
	return &Tracker{src: src, done: done}
}

// OnChange — колбэк на новое состояние. Вызовы идут строго по очереди,
// устаревшие состояния не доставляются. Из колбэка нельзя вызывать SetSession/Clear.
func (t *Tracker) OnChange(fn func(State)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// SetSession запускает пересчёт. До его окончания State().IsLoading == true.
// nil-сессия — выход из системы: состояние сбрасывается сразу.
func (t *Tracker) SetSession(ctx context.Context, s *identity.Session) {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.settleLocked()
	t.key = s.Key()

	if s == nil {
		t.state = State{}
		t.seq++
		seq := t.seq
		t.mu.Unlock()
		t.notify(seq, State{})
		return
	}

	cctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.state = State{IsLoading: true}
	t.seq++
	loading, loadingSeq := t.state, t.seq
	t.mu.Unlock()

	t.notify(loadingSeq, loading)

	go func() {
		st := t.src.Resolve(cctx, s)

		t.mu.Lock()
		if gen != t.gen {
			// сессию уже сменили — результат устарел
			t.mu.Unlock()
			return
		}
		t.state = st
		t.seq++
		seq := t.seq
		t.cancel = nil
		t.settleLocked()
		t.mu.Unlock()
		cancel()

		t.notify(seq, st)
	}()
}

// notify доставляет st, только если после него состояние не менялось.
// Более новое изменение ждёт notifyMu и будет доставлено следом.
func (t *Tracker) notify(seq uint64, st State) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	fn := t.onChange
	latest := seq == t.seq
	t.mu.Unlock()

	if fn != nil && latest {
		fn(st)
	}
}

// Clear — выход из системы.
func (t *Tracker) Clear() { t.SetSession(context.Background(), nil) }

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SessionKey — ключ сессии, для которой считается (или посчитано) состояние.
func (t *Tracker) SessionKey() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.key
}

// Wait ждёт окончания текущего пересчёта (с учётом смен сессии во время ожидания).
func (t *Tracker) Wait(ctx context.Context) (State, error) {
	for {
		t.mu.Lock()
		done, gen := t.done, t.gen
		t.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return t.State(), ctx.Err()
		}

		t.mu.Lock()
		if gen == t.gen && !t.state.IsLoading {
			st := t.state
			t.mu.Unlock()
			return st, nil
		}
		t.mu.Unlock()
	}
}

func (t *Tracker) settleLocked() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}
