package ctxutil

import (
	"context"
	"time"
)

// приватные ключи, чтобы исключить коллизии
type key int

const (
	keyRequestID key = iota
	keyUserID
	keyOpName
)

// WithRequestID / RequestID: id запроса для логов и ответа.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

func RequestID(ctx context.Context) (string, bool) {
	return stringValue(ctx, keyRequestID)
}

// WithUserID / UserID: пользователь из токена; владелец попыток конвертации.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, keyUserID, userID)
}

func UserID(ctx context.Context) (string, bool) {
	return stringValue(ctx, keyUserID)
}

// WithOp / Op: имя операции (для логов/метрик)
func WithOp(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyOpName, name)
}

func Op(ctx context.Context) (string, bool) {
	return stringValue(ctx, keyOpName)
}

func stringValue(ctx context.Context, k key) (string, bool) {
	v := ctx.Value(k)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

var (
	DefaultDBTimeout = 5 * time.Second
)

// WithDBTimeout: стандартный таймаут для БД.
func WithDBTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if dl, ok := parent.Deadline(); ok {
		// если у родителя осталось меньше DefaultDBTimeout: берем остаток
		if remain := time.Until(dl); remain < DefaultDBTimeout {
			return context.WithTimeout(parent, remain)
		}
	}
	return context.WithTimeout(parent, DefaultDBTimeout)
}
