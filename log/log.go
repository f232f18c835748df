// Package log provides the structured, context-aware logger used throughout
// this module. It wraps logrus with the call shape the rest of the fleet
// uses: a leading context.Context (dropped for background goroutines that
// have none), a message, an optional trailing error, and key/value pairs.
package log

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var root = logrus.New()

func init() {
	root.SetOutput(os.Stderr)
	root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	root.SetLevel(logrus.InfoLevel)
}

// SetLevel adjusts the minimum level that reaches the output.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		root.Warnf("invalid log level %q, keeping %s", level, root.GetLevel())
		return
	}
	root.SetLevel(lvl)
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) { root.SetOutput(w) }

type ctxKey struct{}

// NewContext attaches extra fields (e.g. a request id) to ctx so every log
// call made with it carries them automatically.
func NewContext(ctx context.Context, kv ...interface{}) context.Context {
	fields := fieldsFrom(ctx)
	merged := logrus.Fields{}
	for k, v := range fields {
		merged[k] = v
	}
	for k, v := range toFields(kv) {
		merged[k] = v
	}
	return context.WithValue(ctx, ctxKey{}, merged)
}

func fieldsFrom(ctx context.Context) logrus.Fields {
	if ctx == nil {
		return logrus.Fields{}
	}
	if f, ok := ctx.Value(ctxKey{}).(logrus.Fields); ok {
		return f
	}
	return logrus.Fields{}
}

// toFields accepts a flat key1, val1, key2, val2, ... list plus, when called
// through Error, a bare `error` value mixed in; the last bare error found is
// surfaced under the "error" key and everything else must come in pairs.
func toFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	i := 0
	for i < len(kv) {
		if err, ok := kv[i].(error); ok {
			fields["error"] = err.Error()
			i++
			continue
		}
		key, _ := kv[i].(string)
		if i+1 < len(kv) {
			fields[key] = kv[i+1]
			i += 2
		} else {
			fields[key] = nil
			i++
		}
	}
	return fields
}

func entry(ctx context.Context, kv []interface{}) *logrus.Entry {
	fields := fieldsFrom(ctx)
	for k, v := range toFields(kv) {
		fields[k] = v
	}
	return root.WithFields(fields)
}

// Debug logs at debug level. The first argument may be a context.Context; if
// it isn't, the whole call is treated as having no context.
func Debug(args ...interface{}) { dispatch((*logrus.Entry).Debug, args) }

// Info logs at info level.
func Info(args ...interface{}) { dispatch((*logrus.Entry).Info, args) }

// Warn logs at warning level.
func Warn(args ...interface{}) { dispatch((*logrus.Entry).Warn, args) }

// Error logs at error level. Conventionally the trailing positional error
// argument is the failure being reported.
func Error(args ...interface{}) { dispatch((*logrus.Entry).Error, args) }

func dispatch(fn func(*logrus.Entry, ...interface{}), args []interface{}) {
	if len(args) == 0 {
		return
	}
	ctx, _ := args[0].(context.Context)
	rest := args
	msg := ""
	if ctx != nil {
		rest = args[1:]
	}
	if len(rest) > 0 {
		if m, ok := rest[0].(string); ok {
			msg = m
			rest = rest[1:]
		}
	}
	e := entry(ctx, rest)
	fn(e, msg)
}

// Fatal logs at error level and terminates the process; used only from
// cmd/ startup paths where recovery is not possible.
func Fatal(args ...interface{}) {
	Error(args...)
	os.Exit(1)
}

// Sprintf is a small helper for building one-off messages inline with a
// log call, mirroring fmt.Sprintf without importing fmt everywhere.
func Sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
