// Package identity читает сессии, выданные внешним провайдером авторизации.
// Сессии здесь только разбираются: выпуск и продление — забота провайдера.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrNoSession — пользователь не вошёл. Это нормальное состояние, а не сбой.
var ErrNoSession = errors.New("session absent")

type Session struct {
	UserID    string
	Email     string
	Metadata  map[string]any
	ExpiresAt time.Time
}

// MetadataRole — значение metadata.role, если это строка.
func (s *Session) MetadataRole() string {
	if s == nil || s.Metadata == nil {
		return ""
	}
	v, _ := s.Metadata["role"].(string)
	return strings.ToLower(strings.TrimSpace(v))
}

// Key — идентичность сессии для отбрасывания устаревших результатов.
func (s *Session) Key() string {
	if s == nil {
		return ""
	}
	return s.UserID + "|" + strings.ToLower(s.Email)
}

type Claims struct {
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	jwt.RegisteredClaims
}

type Parser struct {
	Secret []byte
	Issuer string
	// Now подменяется в тестах
	Now func() time.Time
}

func NewParser(secret, issuer string) *Parser {
	return &Parser{Secret: []byte(secret), Issuer: issuer, Now: time.Now}
}

// Parse проверяет подпись и срок токена и собирает Session.
// Роль из app_metadata приоритетнее user_metadata: её может менять только сервер.
func (p *Parser) Parse(token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNoSession
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
	}
	if p.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(p.Now))
	}
	if p.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.Issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return p.Secret, nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("session subject %q: %w", claims.Subject, err)
	}

	meta := make(map[string]any, len(claims.UserMetadata)+1)
	for k, v := range claims.UserMetadata {
		meta[k] = v
	}
	if r, ok := claims.AppMetadata["role"]; ok {
		meta["role"] = r
	}

	s := &Session{
		UserID:   id.String(),
		Email:    strings.ToLower(strings.TrimSpace(claims.Email)),
		Metadata: meta,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// FromRequest — сессия из заголовка Authorization: Bearer <jwt>.
func (p *Parser) FromRequest(r *http.Request) (*Session, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return nil, ErrNoSession
	}
	const prefix = "bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return nil, fmt.Errorf("authorization header: expected bearer token")
	}
	return p.Parse(h[len(prefix):])
}
