package jobs

import (
	"context"
	"fmt"
)

// Pinger — что-то с живым соединением (*realtime.PGFeed).
type Pinger interface {
	Ping() error
}

// Warmer — прогрев кэша (*analytics.Service).
type Warmer interface {
	Warm(ctx context.Context) error
}

// FeedKeepAlive — пинг соединения LISTEN, чтобы обрыв заметил pq.Listener.
func FeedKeepAlive(p Pinger) Job {
	return func(context.Context) error {
		if err := p.Ping(); err != nil {
			return fmt.Errorf("feed ping: %w", err)
		}
		return nil
	}
}

func WarmAnalytics(w Warmer) Job {
	return func(ctx context.Context) error { return w.Warm(ctx) }
}

// DBPing — замер задержки базы для метрики.
func DBPing(ping func(ctx context.Context) error) Job {
	return func(ctx context.Context) error { return ping(ctx) }
}
