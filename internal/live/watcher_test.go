package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeblock102/addin-darululum-sub004/internal/analytics"
	"github.com/codeblock102/addin-darululum-sub004/internal/inbox"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
	"github.com/codeblock102/addin-darululum-sub004/internal/querycache"
	"github.com/codeblock102/addin-darululum-sub004/internal/realtime"
)

type emptyInbox struct{}

func (emptyInbox) Messages(context.Context, string, int) ([]models.Message, error) { return nil, nil }
func (emptyInbox) AdminMessages(context.Context, int) ([]models.Message, error) { return nil, nil }
func (emptyInbox) UnreadCount(context.Context, string) (int, error) { return 0, nil }

type emptyAnalytics struct{}

func (emptyAnalytics) Summary(context.Context) (*models.AnalyticsSummary, error) { return nil, nil }
func (emptyAnalytics) StudentMetrics(context.Context, int) ([]models.StudentMetrics, error) {
	return nil, nil
}
func (emptyAnalytics) TeacherMetrics(context.Context, int) ([]models.TeacherMetrics, error) {
	return nil, nil
}
func (emptyAnalytics) ClassMetrics(context.Context, int) ([]models.ClassMetrics, error) {
	return nil, nil
}
func (emptyAnalytics) Alerts(context.Context, int) ([]models.AnalyticsAlert, error) { return nil, nil }

type sent struct {
	to   string
	text string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recordingNotifier) NotifyUser(_ context.Context, userID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{to: userID, text: text})
	return nil
}

func (r *recordingNotifier) NotifyRole(_ context.Context, role models.Role, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{to: "role:" + string(role), text: text})
	return nil
}

func (r *recordingNotifier) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

type fixture struct {
	feed   *realtime.MemoryFeed
	bridge *realtime.Bridge
	cache  *querycache.LRU
	notes  *recordingNotifier
	w      *Watcher
}

func newFixture(t *testing.T, maxUsers int) *fixture {
	t.Helper()
	feed := realtime.NewMemoryFeed()
	bridge := realtime.NewBridge(feed, nil, realtime.WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(5 * time.Millisecond)
	}))
	cache := querycache.NewLRU(64, time.Minute)
	notes := &recordingNotifier{}
	w, err := NewWatcher(bridge,
		inbox.NewService(emptyInbox{}, cache, time.Minute),
		analytics.NewService(emptyAnalytics{}, cache, time.Minute, nil),
		notes, maxUsers, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		w.Close()
		bridge.Close()
	})
	return &fixture{feed: feed, bridge: bridge, cache: cache, notes: notes, w: w}
}

func (f *fixture) seed(t *testing.T, keys ...querycache.Key) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, f.cache.Set(context.Background(), k, []byte("1"), 0))
	}
}

func (f *fixture) cached(k querycache.Key) bool {
	_, err := f.cache.Get(context.Background(), k)
	return err == nil
}

func waitConnected(t *testing.T, b *realtime.Bridge, names ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := b.Statuses()
		for _, n := range names {
			if st[n] != realtime.Connected {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
}

func TestWatchMessages_InvalidatesAndNotifies(t *testing.T) {
	f := newFixture(t, 10)
	stop := f.w.WatchMessages("u-1")
	defer stop()
	waitConnected(t, f.bridge, MessagesChannel("u-1"))

	f.seed(t, inbox.MessagesKey("u-1"), inbox.UnreadKey("u-1"), inbox.MessagesKey("u-2"))

	f.feed.Emit(realtime.ChangeEvent{Table: "communications", Type: realtime.Insert,
		Record: map[string]any{"recipient_id": "u-1", "subject": "Sabaq"}})
	require.Eventually(t, func() bool {
		return !f.cached(inbox.MessagesKey("u-1")) && !f.cached(inbox.UnreadKey("u-1"))
	}, time.Second, time.Millisecond)
	assert.True(t, f.cached(inbox.MessagesKey("u-2")))

	require.Eventually(t, func() bool { return len(f.notes.all()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, sent{to: "u-1", text: "New message: Sabaq"}, f.notes.all()[0])

	// update (прочитано) — только инвалидация
	f.seed(t, inbox.UnreadKey("u-1"))
	f.feed.Emit(realtime.ChangeEvent{Table: "communications", Type: realtime.Update,
		Record: map[string]any{"recipient_id": "u-1", "read": true}})
	require.Eventually(t, func() bool { return !f.cached(inbox.UnreadKey("u-1")) }, time.Second, time.Millisecond)
	assert.Len(t, f.notes.all(), 1)
}

func TestWatchMessages_ReassignedMessageInvalidatesBoth(t *testing.T) {
	f := newFixture(t, 10)
	defer f.w.WatchMessages("u-1")()
	defer f.w.WatchMessages("u-2")()
	waitConnected(t, f.bridge, MessagesChannel("u-1"), MessagesChannel("u-2"))

	f.seed(t, inbox.MessagesKey("u-1"), inbox.MessagesKey("u-2"), inbox.MessagesKey("u-3"))
	f.feed.Emit(realtime.ChangeEvent{Table: "communications", Type: realtime.Update,
		Record:    map[string]any{"recipient_id": "u-2"},
		OldRecord: map[string]any{"recipient_id": "u-1"}})
	require.Eventually(t, func() bool {
		return !f.cached(inbox.MessagesKey("u-1")) && !f.cached(inbox.MessagesKey("u-2"))
	}, time.Second, time.Millisecond)
	assert.True(t, f.cached(inbox.MessagesKey("u-3")))
	assert.Empty(t, f.notes.all())
}

func TestWatchMessages_StopReleasesChannel(t *testing.T) {
	f := newFixture(t, 10)
	stop := f.w.WatchMessages("u-1")
	waitConnected(t, f.bridge, MessagesChannel("u-1"))

	stop()
	require.Eventually(t, func() bool { return f.bridge.Active() == 0 && f.feed.Subscribers() == 0 }, time.Second, time.Millisecond)
	assert.Empty(t, f.bridge.Names())
}

func TestEnsureMessages_EvictsOldest(t *testing.T) {
	f := newFixture(t, 2)
	f.w.EnsureMessages("u-1")
	f.w.EnsureMessages("u-1")
	f.w.EnsureMessages("u-2")
	require.Eventually(t, func() bool { return f.bridge.Active() == 2 }, time.Second, time.Millisecond)

	f.w.EnsureMessages("u-3")
	require.Eventually(t, func() bool { return f.bridge.Active() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, f.w.WatchedUsers())
	assert.Equal(t, []string{MessagesChannel("u-2"), MessagesChannel("u-3")}, f.bridge.Names())

	f.w.Close()
	assert.Zero(t, f.bridge.Active())
}

func TestWatchAdminMessages(t *testing.T) {
	f := newFixture(t, 10)
	stop := f.w.WatchAdminMessages()
	defer stop()
	waitConnected(t, f.bridge, AdminMessagesChannel)

	f.seed(t, inbox.KeyAdminMessages)
	// личное сообщение админский ящик не трогает
	f.feed.Emit(realtime.ChangeEvent{Table: "communications", Type: realtime.Insert,
		Record: map[string]any{"recipient_id": "u-1", "subject": "x"}})
	f.feed.Emit(realtime.ChangeEvent{Table: "communications", Type: realtime.Insert,
		Record: map[string]any{"recipient_id": nil, "subject": "Fee query"}})

	require.Eventually(t, func() bool { return !f.cached(inbox.KeyAdminMessages) }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(f.notes.all()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, sent{to: "role:admin", text: "New message: Fee query"}, f.notes.all()[0])
}

func TestWatchAnalytics_PerTableInvalidation(t *testing.T) {
	f := newFixture(t, 10)
	stop := f.w.WatchAnalytics()
	defer stop()
	names := make([]string, 0, len(analytics.TableKeys))
	for table := range analytics.TableKeys {
		names = append(names, AnalyticsChannel(table))
	}
	waitConnected(t, f.bridge, names...)
	require.Eventually(t, func() bool { return f.bridge.Active() == len(analytics.TableKeys) }, time.Second, time.Millisecond)

	f.seed(t, querycache.Key{"analytics", "summary"}, querycache.Key{"analytics", "students", "50"})
	f.feed.Emit(realtime.ChangeEvent{Table: "student_metrics_summary", Type: realtime.Update})

	require.Eventually(t, func() bool {
		return !f.cached(querycache.Key{"analytics", "students", "50"})
	}, time.Second, time.Millisecond)
	assert.True(t, f.cached(querycache.Key{"analytics", "summary"}))

	stop()
	assert.Zero(t, f.bridge.Active())
}

func TestWatch_ResyncAfterReconnect(t *testing.T) {
	f := newFixture(t, 10)
	stop := f.w.WatchMessages("u-1")
	defer stop()
	waitConnected(t, f.bridge, MessagesChannel("u-1"))

	f.feed.SetStatus(realtime.Disconnected, nil)
	f.seed(t, inbox.MessagesKey("u-1"))
	f.feed.SetStatus(realtime.Connected, nil)

	assert.False(t, f.cached(inbox.MessagesKey("u-1")))
}
