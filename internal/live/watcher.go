package live

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/codeblock102/addin-darululum-sub004/internal/analytics"
	"github.com/codeblock102/addin-darululum-sub004/internal/inbox"
	"github.com/codeblock102/addin-darululum-sub004/internal/logging"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
	"github.com/codeblock102/addin-darululum-sub004/internal/realtime"
)

const (
	messagesTable = "communications"
	// сколько получателей держим на живой подписке одновременно
	DefaultMaxWatchedUsers = 1000

	handlerTimeout = 5 * time.Second
)

// Watcher связывает ленту изменений с кэшем и уведомлениями.
type Watcher struct {
	bridge    *realtime.Bridge
	inbox     *inbox.Service
	analytics *analytics.Service
	notifier  Notifier
	log       *zap.Logger

	mu    sync.Mutex
	users *lru.Cache[string, func()]
}

func NewWatcher(bridge *realtime.Bridge, in *inbox.Service, an *analytics.Service, n Notifier, maxUsers int, log *zap.Logger) (*Watcher, error) {
	if maxUsers <= 0 {
		maxUsers = DefaultMaxWatchedUsers
	}
	log = logging.OrNop(log)
	if n == nil {
		n = NewLogNotifier(log)
	}
	users, err := lru.NewWithEvict[string, func()](maxUsers, func(_ string, stop func()) { stop() })
	if err != nil {
		return nil, err
	}
	return &Watcher{bridge: bridge, inbox: in, analytics: an, notifier: n, log: log, users: users}, nil
}

func MessagesChannel(recipientID string) string { return "messages:" + recipientID }

const AdminMessagesChannel = "admin-messages"

func AnalyticsChannel(table string) string { return "analytics:" + table }

// WatchMessages: любое изменение сообщений получателя сбрасывает его ленту
// и счётчик непрочитанных; новое сообщение — ещё и уведомление.
func (w *Watcher) WatchMessages(recipientID string) (stop func()) {
	name := MessagesChannel(recipientID)
	ch := w.bridge.Channel(name)
	ch.OnStatus(w.resyncOnReconnect(name, func(ctx context.Context) error {
		return w.inbox.Invalidate(ctx, recipientID)
	}))
	ch.Subscribe(messagesTable, realtime.Eq("recipient_id", recipientID), func(ev realtime.ChangeEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		if err := w.inbox.Invalidate(ctx, recipientID); err != nil {
			w.log.Warn("invalidate messages", zap.String("recipient_id", recipientID), zap.Error(err))
		}
		if ev.Type == realtime.Insert {
			if err := w.notifier.NotifyUser(ctx, recipientID, newMessageText(ev)); err != nil {
				w.log.Warn("notify recipient", zap.String("recipient_id", recipientID), zap.Error(err))
			}
		}
	})
	return func() { w.bridge.Release(name) }
}

// EnsureMessages держит подписку получателя; при переполнении давно не
// запрашивавшиеся получатели отписываются.
func (w *Watcher) EnsureMessages(recipientID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.users.Get(recipientID); ok {
		return
	}
	w.users.Add(recipientID, w.WatchMessages(recipientID))
}

func (w *Watcher) WatchedUsers() int { return w.users.Len() }

// WatchAdminMessages — входящие администрации (recipient_id IS NULL).
func (w *Watcher) WatchAdminMessages() (stop func()) {
	ch := w.bridge.Channel(AdminMessagesChannel)
	ch.OnStatus(w.resyncOnReconnect(AdminMessagesChannel, w.inbox.InvalidateAdmin))
	ch.Subscribe(messagesTable, realtime.Filter{}, func(ev realtime.ChangeEvent) {
		if !ev.Truncated && !toAdmin(ev) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		if err := w.inbox.InvalidateAdmin(ctx); err != nil {
			w.log.Warn("invalidate admin messages", zap.Error(err))
		}
		if ev.Type == realtime.Insert && !ev.Truncated {
			if err := w.notifier.NotifyRole(ctx, models.Admin, newMessageText(ev)); err != nil {
				w.log.Warn("notify admins", zap.Error(err))
			}
		}
	})
	return func() { w.bridge.Release(AdminMessagesChannel) }
}

// WatchAnalytics — по каналу на таблицу сводок.
func (w *Watcher) WatchAnalytics() (stop func()) {
	names := make([]string, 0, len(analytics.TableKeys))
	for table := range analytics.TableKeys {
		table := table
		name := AnalyticsChannel(table)
		names = append(names, name)

		invalidate := func(ctx context.Context) error { return w.analytics.Invalidate(ctx, table) }
		ch := w.bridge.Channel(name)
		ch.OnStatus(w.resyncOnReconnect(name, invalidate))
		ch.Subscribe(table, realtime.Filter{}, func(realtime.ChangeEvent) {
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			if err := invalidate(ctx); err != nil {
				w.log.Warn("invalidate analytics", zap.String("table", table), zap.Error(err))
			}
		})
	}
	return func() {
		for _, n := range names {
			w.bridge.Release(n)
		}
	}
}

// Close отписывает всех получателей. Общие каналы закрывает Bridge.Close.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.users.Purge()
}

// resyncOnReconnect: пока канал был не connected, события могли потеряться —
// после восстановления соответствующий кэш сбрасывается целиком.
func (w *Watcher) resyncOnReconnect(name string, resync func(context.Context) error) func(realtime.Status, error) {
	var lost atomic.Bool
	return func(st realtime.Status, _ error) {
		if st != realtime.Connected {
			lost.Store(true)
			return
		}
		if !lost.Swap(false) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		if err := resync(ctx); err != nil {
			w.log.Warn("resync after reconnect", zap.String("channel", name), zap.Error(err))
		}
	}
}

func toAdmin(ev realtime.ChangeEvent) bool {
	switch {
	case ev.Type == realtime.Delete || ev.Record == nil:
		return adminRecord(ev.OldRecord)
	case ev.Type == realtime.Update:
		return adminRecord(ev.Record) || adminRecord(ev.OldRecord)
	default:
		return adminRecord(ev.Record)
	}
}

func adminRecord(rec map[string]any) bool {
	if rec == nil {
		return false
	}
	v, ok := rec["recipient_id"]
	return ok && v == nil
}

func newMessageText(ev realtime.ChangeEvent) string {
	subject, _ := ev.Record["subject"].(string)
	if subject == "" {
		return "New message on the dashboard"
	}
	return fmt.Sprintf("New message: %s", subject)
}
