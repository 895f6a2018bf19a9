package sip

import (
	"context"
	"log/slog"

	"github.com/ghettovoice/sipcore/internal/types"
)

//go:generate go tool mockgen -destination=mock_transport_test.go -package=sip_test . Transport

// Transport is the physical transport consumed by the engine.
// Send writes a whole serialized message and reports whether it was accepted.
// Inbound data is delivered to [Engine.OnData].
type Transport interface {
	Send(data []byte) bool
}

// ReliableTransport is implemented by transports that can state their reliability.
type ReliableTransport interface {
	Transport
	Reliable() bool
}

// IsReliableTransport reports whether the transport is reliable.
// Transports that do not implement [ReliableTransport] are treated as reliable,
// since stream and WebSocket transports are the common case.
func IsReliableTransport(tp Transport) bool {
	if rtp, ok := tp.(ReliableTransport); ok {
		return rtp.Reliable()
	}
	return true
}

const transpCtxKey types.ContextKey = "transport"

// ContextWithTransport returns a copy of ctx carrying the transport.
func ContextWithTransport(ctx context.Context, tp Transport) context.Context {
	return context.WithValue(ctx, transpCtxKey, tp)
}

// TransportFromContext returns the transport stored in ctx by [ContextWithTransport].
func TransportFromContext(ctx context.Context) (Transport, bool) {
	tp, ok := ctx.Value(transpCtxKey).(Transport)
	return tp, ok
}

// send writes data to the transport, logging the outcome.
func send(ctx context.Context, tp Transport, logger *slog.Logger, data string) bool {
	if tp.Send([]byte(data)) {
		logger.LogAttrs(ctx, slog.LevelDebug, "message sent", slog.Int("size", len(data)))
		return true
	}
	logger.LogAttrs(ctx, slog.LevelWarn, "failed to send message", slog.Int("size", len(data)))
	return false
}
