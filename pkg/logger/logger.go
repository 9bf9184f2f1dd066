package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type key string

var (
	Key       = key("logger")
	RequestID = key("request_id")
)

type Logger struct {
	log *zap.Logger
}

func New(ctx context.Context, outputPaths []string, env string) context.Context {
	var cfg zap.Config

	switch env {
	case "local":
		cfg = zap.Config{
			Encoding:         "console",
			Level:            zap.NewAtomicLevelAt(zap.DebugLevel),
			OutputPaths:      outputPaths,
			ErrorOutputPaths: []string{"stderr"},
			EncoderConfig: zapcore.EncoderConfig{
				MessageKey:  "msg",
				LevelKey:    "level",
				TimeKey:     "ts",
				EncodeTime:  zapcore.ISO8601TimeEncoder,
				EncodeLevel: zapcore.CapitalColorLevelEncoder,
			},
		}
	case "dev":
		cfg = zap.Config{
			Encoding:         "json",
			Level:            zap.NewAtomicLevelAt(zap.DebugLevel),
			OutputPaths:      outputPaths,
			ErrorOutputPaths: []string{"stderr"},
			EncoderConfig:    zap.NewProductionEncoderConfig(),
		}
	default:
		cfg = zap.Config{
			Encoding:         "json",
			Level:            zap.NewAtomicLevelAt(zap.InfoLevel),
			OutputPaths:      outputPaths,
			ErrorOutputPaths: []string{"stderr"},
			EncoderConfig:    zap.NewProductionEncoderConfig(),
		}
	}

	log, err := cfg.Build()
	if err != nil {
		panic("can't init logger: " + err.Error())
	}

	return context.WithValue(ctx, Key, &Logger{log: log})
}

// Nop puts a logger that discards everything into ctx.
func Nop(ctx context.Context) context.Context {
	return WithZap(ctx, zap.NewNop())
}

// WithZap puts an already built zap logger into ctx.
func WithZap(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, Key, &Logger{log: log})
}

// GetFromCtx returns the logger stored in ctx. A context without one gets a
// no-op logger so library callers do not have to set logging up.
func GetFromCtx(ctx context.Context) *Logger {
	if l, ok := ctx.Value(Key).(*Logger); ok {
		return l
	}
	return &Logger{log: zap.NewNop()}
}

// WithLogger copies the logger of src into dst. Used to hand a request
// context's logger over to a context with a different lifetime.
func WithLogger(dst, src context.Context) context.Context {
	return context.WithValue(dst, Key, GetFromCtx(src))
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Debug(msg, withRequestID(ctx, fields)...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Info(msg, withRequestID(ctx, fields)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Warn(msg, withRequestID(ctx, fields)...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Error(msg, withRequestID(ctx, fields)...)
}

func (l *Logger) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	l.log.Fatal(msg, withRequestID(ctx, fields)...)
}

func (l *Logger) With(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, Key, &Logger{log: l.log.With(fields...)})
}

func (l *Logger) Sync() error {
	return l.log.Sync()
}

func withRequestID(ctx context.Context, fields []zap.Field) []zap.Field {
	if id, ok := ctx.Value(RequestID).(string); ok && id != "" {
		fields = append(fields, zap.String(string(RequestID), id))
	}
	return fields
}

func Interceptor(ctx context.Context) grpc.UnaryServerInterceptor {
	return func(lCtx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		lCtx = WithLogger(lCtx, ctx)

		md, ok := metadata.FromIncomingContext(lCtx)
		if ok {
			if guid := md.Get(string(RequestID)); len(guid) > 0 {
				lCtx = context.WithValue(lCtx, RequestID, guid[0])
			}
		}

		GetFromCtx(lCtx).Debug(lCtx, "request",
			zap.String("method", info.FullMethod),
			zap.Time("request time", time.Now()),
		)

		return handler(lCtx, req)
	}
}
