// Package logger is a thin key/value facade over zap with PII redaction.
//
//	logger.Info("[CampaignScheduler] tick complete", "companies", 4, "elapsed", d)
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) zap() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
// Unknown names map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

var (
	mu        sync.RWMutex
	base      *zap.Logger
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	redactPII atomic.Bool
)

func init() {
	redactPII.Store(true)
	base = newZap(os.Stderr)
}

func newZap(w io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}

// Init configures the default logger from config values.
func Init(levelName string, redact bool) {
	SetLevel(ParseLevel(levelName))
	SetRedactPII(redact)
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { level.SetLevel(l.zap()) }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { redactPII.Store(r) }

// SetOutput redirects the default logger, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	base = newZap(w)
	mu.Unlock()
}

// Zap returns the underlying logger for libraries that want one.
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered entries.
func Sync() { _ = Zap().Sync() }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { write(zapcore.DebugLevel, msg, fields) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { write(zapcore.InfoLevel, msg, fields) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { write(zapcore.WarnLevel, msg, fields) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { write(zapcore.ErrorLevel, msg, fields) }

// Trace returns key/value pairs for the span in ctx, or nil when ctx
// carries no valid span.
func Trace(ctx context.Context) []interface{} {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []interface{}{"trace.id", sc.TraceID().String(), "span.id", sc.SpanID().String()}
}

func write(lvl zapcore.Level, msg string, kv []interface{}) {
	l := Zap()
	ce := l.Check(lvl, msg)
	if ce == nil {
		return
	}
	ce.Write(toFields(kv)...)
}

func toFields(kv []interface{}) []zap.Field {
	redact := redactPII.Load()
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i < len(kv)-1; i += 2 {
		key := fmt.Sprintf("%v", kv[i])
		switch v := kv[i+1].(type) {
		case error:
			s := v.Error()
			if redact {
				s = redactPIIValue(key, s)
			}
			fields = append(fields, zap.String(key, s))
		case string:
			if redact {
				v = redactPIIValue(key, v)
			}
			fields = append(fields, zap.String(key, v))
		default:
			if redact && piiKey(key) {
				fields = append(fields, zap.String(key, redactPIIValue(key, fmt.Sprintf("%v", v))))
				continue
			}
			fields = append(fields, zap.Any(key, v))
		}
	}
	return fields
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func piiKey(key string) bool {
	key = strings.ToLower(key)
	return strings.Contains(key, "email") || strings.Contains(key, "phone")
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") {
		return RedactEmail(val)
	}
	if strings.Contains(key, "phone") {
		return RedactPhone(val)
	}
	// Redact any embedded emails in generic fields
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
