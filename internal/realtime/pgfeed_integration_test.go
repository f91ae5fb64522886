//go:build testutil
// +build testutil

package realtime_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeblock102/addin-darululum-sub004/internal/realtime"
	"github.com/codeblock102/addin-darululum-sub004/internal/testutil/testdb"
)

func TestPGFeed_DeliversTriggerNotifications(t *testing.T) {
	ctx := context.Background()
	h, err := testdb.Start(ctx)
	require.NoError(t, err)
	defer h.Close()

	feed, err := realtime.NewPGFeed(h.DSN, 10*time.Millisecond, time.Second, nil)
	require.NoError(t, err)
	defer func() { _ = feed.Close() }()
	require.NoError(t, feed.Ping())

	bridge := realtime.NewBridge(feed, nil)
	defer bridge.Close()

	const recipient = "6f1c4a5e-6f59-4a55-9d4f-2b1e6e0a0001"
	var (
		mu  sync.Mutex
		got []realtime.ChangeEvent
	)
	ch := bridge.Channel("messages:" + recipient)
	ch.Subscribe("communications", realtime.Eq("recipient_id", recipient), func(ev realtime.ChangeEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	require.Eventually(t, func() bool { return ch.Status() == realtime.Connected }, 5*time.Second, 10*time.Millisecond)

	_, err = h.DB.ExecContext(ctx, `
		INSERT INTO communications (id, sender_id, recipient_id, subject, message)
		VALUES ('6f1c4a5e-6f59-4a55-9d4f-2b1e6e0a1001', '6f1c4a5e-6f59-4a55-9d4f-2b1e6e0a0002', $1, 'Hifz', 'Juz 30 done')
	`, recipient)
	require.NoError(t, err)
	// чужое сообщение фильтр отбрасывает
	_, err = h.DB.ExecContext(ctx, `
		INSERT INTO communications (id, sender_id, recipient_id)
		VALUES ('6f1c4a5e-6f59-4a55-9d4f-2b1e6e0a1002', '6f1c4a5e-6f59-4a55-9d4f-2b1e6e0a0002', '6f1c4a5e-6f59-4a55-9d4f-2b1e6e0a0003')
	`)
	require.NoError(t, err)
	_, err = h.DB.ExecContext(ctx, `UPDATE communications SET read = TRUE WHERE recipient_id = $1`, recipient)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, realtime.Insert, got[0].Type)
	assert.Equal(t, "Hifz", got[0].Record["subject"])
	assert.Equal(t, realtime.Update, got[1].Type)
	assert.Equal(t, true, got[1].Record["read"])
	assert.Equal(t, false, got[1].OldRecord["read"])
}
