package tg

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/codeblock102/addin-darululum-sub004/internal/logging"
	"github.com/codeblock102/addin-darululum-sub004/internal/metrics"
	"github.com/codeblock102/addin-darululum-sub004/internal/models"
)

// Profiles — откуда брать telegram_chat_id (обычно *db.Store).
type Profiles interface {
	ProfileByID(ctx context.Context, id string) (*models.Profile, error)
	Profiles(ctx context.Context, roles ...string) ([]models.Profile, error)
}

// Notifier шлёт уведомления в Telegram тем, у кого в профиле привязан чат.
// Пользователи без чата молча пропускаются.
type Notifier struct {
	bot      Sender
	profiles Profiles
	log      *zap.Logger
}

func NewNotifier(bot Sender, profiles Profiles, log *zap.Logger) *Notifier {
	return &Notifier{bot: bot, profiles: profiles, log: logging.OrNop(log)}
}

func (n *Notifier) NotifyUser(ctx context.Context, userID, text string) error {
	p, err := n.profiles.ProfileByID(ctx, userID)
	if err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		return fmt.Errorf("profile %s: %w", userID, err)
	}
	if p == nil || p.TelegramChatID == nil {
		metrics.Notifications.WithLabelValues("skipped").Inc()
		return nil
	}
	return n.send(*p.TelegramChatID, text)
}

func (n *Notifier) NotifyRole(ctx context.Context, role models.Role, text string) error {
	list, err := n.profiles.Profiles(ctx, string(role))
	if err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		return fmt.Errorf("profiles %s: %w", role, err)
	}
	var errs []error
	for _, p := range list {
		if p.TelegramChatID == nil {
			metrics.Notifications.WithLabelValues("skipped").Inc()
			continue
		}
		if err := n.send(*p.TelegramChatID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) send(chatID int64, text string) error {
	if _, err := Send(n.bot, tgbotapi.NewMessage(chatID, text)); err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		n.log.Warn("telegram send", zap.Int64("chat_id", chatID), zap.Error(err))
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
	return nil
}
