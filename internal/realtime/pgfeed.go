package realtime

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/codeblock102/addin-darululum-sub004/internal/logging"
	"github.com/codeblock102/addin-darululum-sub004/internal/observability"
)

// NotifyChannel — канал pg_notify, в который пишет триггер notify_table_change().
const NotifyChannel = "table_changes"

// PGFeed — лента изменений поверх LISTEN/NOTIFY. Одно соединение на процесс,
// разбор по таблицам и фильтрам — в памяти.
type PGFeed struct {
	listener *pq.Listener
	hub      *hub
	log      *zap.Logger
	done     chan struct{}
}

// NewPGFeed подключается и подписывается на NotifyChannel. Блокирует до первого
// успешного соединения; переподключения дальше идут внутри pq.Listener.
func NewPGFeed(dsn string, minReconnect, maxReconnect time.Duration, log *zap.Logger) (*PGFeed, error) {
	f := &PGFeed{
		hub:  newHub(Disconnected),
		log:  logging.OrNop(log),
		done: make(chan struct{}),
	}
	f.listener = pq.NewListener(dsn, minReconnect, maxReconnect, f.onListenerEvent)
	if err := f.listener.Listen(NotifyChannel); err != nil {
		_ = f.listener.Close()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	f.hub.setStatus(Connected, nil)
	go f.loop()
	return f, nil
}

func (f *PGFeed) Subscribe(table string, filter Filter, deliver func(ChangeEvent), status func(Status, error)) (Handle, error) {
	return f.hub.add(table, filter, deliver, status)
}

func (f *PGFeed) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		f.hub.setStatus(Connected, nil)
	case pq.ListenerEventReconnected:
		f.log.Info("listener reconnected")
		f.hub.setStatus(Connected, nil)
	case pq.ListenerEventDisconnected:
		f.log.Warn("listener disconnected", zap.Error(err))
		f.hub.setStatus(Disconnected, err)
	case pq.ListenerEventConnectionAttemptFailed:
		f.log.Warn("listener reconnect failed", zap.Error(err))
		f.hub.setStatus(Error, err)
	}
}

func (f *PGFeed) loop() {
	defer close(f.done)
	for n := range f.listener.Notify {
		// nil приходит после переподключения: часть уведомлений могла потеряться,
		// подписчики узнают об этом по статусу connected
		if n == nil {
			continue
		}
		ev, err := ParseEvent([]byte(n.Extra))
		if err != nil {
			f.log.Warn("bad change payload", zap.Error(err), zap.Int("len", len(n.Extra)))
			observability.CaptureWithTags(err, map[string]string{"component": "realtime", "channel": n.Channel})
			continue
		}
		f.hub.publish(ev)
	}
}

// Ping проверяет соединение слушателя; вызывается джобой keep-alive.
func (f *PGFeed) Ping() error { return f.listener.Ping() }

// Close останавливает слушателя; открытые подписки получают disconnected.
func (f *PGFeed) Close() error {
	err := f.listener.Close()
	<-f.done
	f.hub.close()
	return err
}
