package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/codeblock102/addin-darululum-sub004/internal/ctxutil"
)

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	ctx := ctxutil.WithRequestID(context.Background(), "req-7")
	ctx = ctxutil.WithUserID(ctx, "u-1")
	ctx = ctxutil.WithOp(ctx, "analytics_warm")

	core, logs := observer.New(zap.InfoLevel)
	zap.New(core).Info("x", ContextFields(ctx)...)
	assert.Equal(t, map[string]any{
		"request_id": "req-7",
		"user_id":    "u-1",
		"op":         "analytics_warm",
	}, logs.All()[0].ContextMap())
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	lg := zap.NewExample()
	assert.Same(t, lg, OrNop(lg))
}
