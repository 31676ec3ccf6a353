// Package logger wraps zap's sugared logger with key-based redaction, so
// that engine components can log freely without worrying about a step
// payload or an operator credential ending up in plaintext log storage.
package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Logger is the process-wide structured logger. All engine components log
// through it; nothing uses the standard library log directly.
type Logger struct {
	sugar  *zap.SugaredLogger
	redact bool
	salt   string
}

// New builds a Logger for the given mode ("production" enables the JSON
// encoder, anything else the console development encoder). Redaction is on
// unless LOG_REDACTION_ENABLED is explicitly falsy; LOG_HASH_SALT seasons
// the identifier hashes so they cannot be reversed by brute-forcing ids.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	redact := true
	switch strings.TrimSpace(strings.ToLower(os.Getenv("LOG_REDACTION_ENABLED"))) {
	case "0", "false", "no", "off":
		redact = false
	}
	return &Logger{
		sugar:  zl.Sugar(),
		redact: redact,
		salt:   strings.TrimSpace(os.Getenv("LOG_HASH_SALT")),
	}, nil
}

func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, l.sanitize(keysAndValues)...)
}

func (l *Logger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, l.sanitize(keysAndValues)...)
}

func (l *Logger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, l.sanitize(keysAndValues)...)
}

func (l *Logger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, l.sanitize(keysAndValues)...)
}

func (l *Logger) Fatal(msg string, keysAndValues ...any) {
	l.sugar.Fatalw(msg, l.sanitize(keysAndValues)...)
}

// With returns a child logger carrying the given fields on every line.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{
		sugar:  l.sugar.With(l.sanitize(keysAndValues)...),
		redact: l.redact,
		salt:   l.salt,
	}
}

func (l *Logger) sanitize(kv []any) []any {
	if !l.redact || len(kv) == 0 {
		return kv
	}
	out := make([]any, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			// dangling key with no value; pass through untouched
			out = append(out, kv[i])
			break
		}
		key := strings.TrimSpace(strings.ToLower(stringify(kv[i])))
		out = append(out, stringify(kv[i]), l.clean(key, kv[i+1]))
	}
	return out
}

func (l *Logger) clean(key string, val any) any {
	if secretKey(key) {
		return "[REDACTED]"
	}
	if identifierKey(key) {
		return l.hash(val)
	}
	switch v := val.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = l.clean(strings.TrimSpace(strings.ToLower(k)), inner)
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, inner := range v {
			out = append(out, l.clean("", inner))
		}
		return out
	case string:
		if looksLikeJWT(v) {
			return "[REDACTED]"
		}
		return v
	default:
		return val
	}
}

// secretKey matches fields whose values must never be logged at all.
func secretKey(key string) bool {
	for _, frag := range []string{"token", "authorization", "password", "secret", "cookie", "api_key", "apikey", "email", "refresh"} {
		if strings.Contains(key, frag) {
			return true
		}
	}
	return false
}

// identifierKey matches fields kept correlatable but not raw: the same id
// always hashes to the same tag, so log lines can still be joined.
func identifierKey(key string) bool {
	return strings.Contains(key, "owner_id") || strings.Contains(key, "account_id")
}

func (l *Logger) hash(val any) string {
	raw := stringify(val)
	if raw == "" {
		return ""
	}
	h := sha256.New()
	if l.salt != "" {
		_, _ = h.Write([]byte(l.salt))
	}
	_, _ = h.Write([]byte(raw))
	sum := hex.EncodeToString(h.Sum(nil))
	return "hash:" + sum[:12]
}

func looksLikeJWT(s string) bool {
	parts := strings.Split(s, ".")
	return len(parts) == 3 && len(parts[0]) > 10 && len(parts[1]) > 10
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
