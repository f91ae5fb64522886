package inbox

import (
	"context"
	"time"

	"github.com/codeblock102/addin-darululum-sub004/internal/models"
	"github.com/codeblock102/addin-darululum-sub004/internal/querycache"
)

const DefaultLimit = 50

// Source — чтение таблицы communications (обычно *db.Store).
type Source interface {
	Messages(ctx context.Context, recipientID string, limit int) ([]models.Message, error)
	AdminMessages(ctx context.Context, limit int) ([]models.Message, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
}

var KeyAdminMessages = querycache.Key{"admin-messages"}

func MessagesKey(recipientID string) querycache.Key {
	return querycache.Key{"communications", recipientID}
}

func UnreadKey(recipientID string) querycache.Key {
	return querycache.Key{"unread-count", recipientID}
}

// Service — входящие через кэш. В отличие от аналитики ошибки возвращаются:
// пустой ящик и недоступная база для пользователя не одно и то же.
type Service struct {
	src   Source
	cache querycache.Cache
	ttl   time.Duration
}

func NewService(src Source, cache querycache.Cache, ttl time.Duration) *Service {
	return &Service{src: src, cache: cache, ttl: ttl}
}

func (s *Service) Messages(ctx context.Context, recipientID string) ([]models.Message, error) {
	return querycache.Fetch(ctx, s.cache, MessagesKey(recipientID), s.ttl, func(ctx context.Context) ([]models.Message, error) {
		msgs, err := s.src.Messages(ctx, recipientID, DefaultLimit)
		if msgs == nil && err == nil {
			msgs = []models.Message{}
		}
		return msgs, err
	})
}

func (s *Service) AdminMessages(ctx context.Context) ([]models.Message, error) {
	return querycache.Fetch(ctx, s.cache, KeyAdminMessages, s.ttl, func(ctx context.Context) ([]models.Message, error) {
		msgs, err := s.src.AdminMessages(ctx, DefaultLimit)
		if msgs == nil && err == nil {
			msgs = []models.Message{}
		}
		return msgs, err
	})
}

func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	return querycache.Fetch(ctx, s.cache, UnreadKey(recipientID), s.ttl, func(ctx context.Context) (int, error) {
		return s.src.UnreadCount(ctx, recipientID)
	})
}

// Invalidate сбрасывает ленту и счётчик получателя.
func (s *Service) Invalidate(ctx context.Context, recipientID string) error {
	return s.cache.Invalidate(ctx, MessagesKey(recipientID), UnreadKey(recipientID))
}

func (s *Service) InvalidateAdmin(ctx context.Context) error {
	return s.cache.Invalidate(ctx, KeyAdminMessages)
}
