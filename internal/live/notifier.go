package live

import (
	"context"

	"go.uber.org/zap"

	"github.com/codeblock102/addin-darululum-sub004/internal/logging"
	"github.com/codeblock102/addin-darululum-sub004/internal/metrics"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
)

// Notifier доставляет короткие уведомления пользователям (например, в Telegram).
type Notifier interface {
	NotifyUser(ctx context.Context, userID, text string) error
	NotifyRole(ctx context.Context, role models.Role, text string) error
}

// LogNotifier — уведомления только в лог; используется без BOT_TOKEN.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: logging.OrNop(log)}
}

func (n *LogNotifier) NotifyUser(_ context.Context, userID, text string) error {
	n.log.Info("notify user", zap.String("user_id", userID), zap.String("text", text))
	metrics.Notifications.WithLabelValues("logged").Inc()
	return nil
}

func (n *LogNotifier) NotifyRole(_ context.Context, role models.Role, text string) error {
	n.log.Info("notify role", zap.Stringer("role", role), zap.String("text", text))
	metrics.Notifications.WithLabelValues("logged").Inc()
	return nil
}
