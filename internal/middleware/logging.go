package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/duoledger/internal/metrics"
)

// Public returns the interceptors for services that need no session.
func Public(m *metrics.Metrics) []connect.Interceptor {
	return []connect.Interceptor{MetricsInterceptor(m), LoggingInterceptor()}
}

// Authenticated returns the interceptors for services behind a session. The
// session check runs before logging so every logged call carries its identity.
// Rejected calls are logged by the session check itself.
func Authenticated(m *metrics.Metrics, checker SessionChecker) []connect.Interceptor {
	return []connect.Interceptor{MetricsInterceptor(m), RequireSession(checker), LoggingInterceptor()}
}

// LoggingInterceptor returns a Connect interceptor that logs every RPC call.
// It logs the procedure name, identity, duration, and any error codes/messages.
// Streams are logged once, when they end.
func LoggingInterceptor() connect.Interceptor {
	return &loggingInterceptor{}
}

type loggingInterceptor struct{}

func (loggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		logCall(ctx, req.Spec().Procedure, start, err)
		return resp, err
	}
}

func (loggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (loggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		slog.Debug("RPC stream opened", "procedure", conn.Spec().Procedure, "identity", GetIdentity(ctx))
		err := next(ctx, conn)
		logCall(ctx, conn.Spec().Procedure, start, err)
		return err
	}
}

func logCall(ctx context.Context, procedure string, start time.Time, err error) {
	identity := GetIdentity(ctx) // empty if pre-auth
	duration := time.Since(start).Milliseconds()

	if err != nil {
		var connectErr *connect.Error
		if errors.As(err, &connectErr) {
			slog.Warn("RPC error",
				"procedure", procedure,
				"code", connectErr.Code(),
				"error", connectErr.Message(),
				"identity", identity,
				"duration_ms", duration,
			)
		} else {
			slog.Error("RPC error",
				"procedure", procedure,
				"error", err,
				"identity", identity,
				"duration_ms", duration,
			)
		}
		return
	}
	slog.Info("RPC ok",
		"procedure", procedure,
		"identity", identity,
		"duration_ms", duration,
	)
}

// MetricsInterceptor returns a Connect interceptor that records call counts
// and latency for handled RPCs.
func MetricsInterceptor(m *metrics.Metrics) connect.Interceptor {
	return &metricsInterceptor{metrics: m}
}

type metricsInterceptor struct {
	metrics *metrics.Metrics
}

func (i *metricsInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		i.metrics.ObserveRPC(req.Spec().Procedure, codeOf(err), time.Since(start).Seconds())
		return resp, err
	}
}

func (i *metricsInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *metricsInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		err := next(ctx, conn)
		i.metrics.ObserveRPC(conn.Spec().Procedure, codeOf(err), time.Since(start).Seconds())
		return err
	}
}

func codeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return connect.CodeOf(err).String()
}
