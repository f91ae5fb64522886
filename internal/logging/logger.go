package logging

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codeblock102/addin-darululum-sub004/internal/ctxutil"
)

type Log struct {
	Base   *zap.Logger
	Sugar  *zap.SugaredLogger
	Level  zap.AtomicLevel
	Closer func()
}

func Init(level, env string) (*Log, error) {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var cfg zap.Config
	if strings.ToLower(env) == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]any{"service": "dashboard", "env": strings.ToLower(env)}

	base, err := cfg.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, err
	}
	return &Log{
		Base:   base,
		Sugar:  base.Sugar(),
		Level:  lvl,
		Closer: func() { _ = base.Sync() },
	}, nil
}

// Component — именованный логгер для подсистемы ("roles", "realtime", ...).
func (l *Log) Component(name string) *zap.Logger {
	return l.Base.Named(name)
}

// OrNop — чтобы конструкторы принимали nil-логгер в тестах.
func OrNop(lg *zap.Logger) *zap.Logger {
	if lg == nil {
		return zap.NewNop()
	}
	return lg
}

// ContextFields — сквозные поля из контекста: запрос, пользователь, операция.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id, ok := ctxutil.RequestID(ctx); ok && id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if uid, ok := ctxutil.UserID(ctx); ok && uid != "" {
		fields = append(fields, zap.String("user_id", uid))
	}
	if op, ok := ctxutil.Op(ctx); ok && op != "" {
		fields = append(fields, zap.String("op", op))
	}
	return fields
}
