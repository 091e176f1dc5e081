package lgr

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	goxerrors "github.com/mdobak/go-xerrors"
	"github.com/natefinch/lumberjack"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the process-wide logger. It logs to the console until Init
// attaches a rotating file.
var Logger = slog.New(newConsoleHandler(os.Stderr, slog.LevelInfo))

var level = new(slog.LevelVar)

type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

// Init replaces Logger with a console + rotating file logger.
// An empty file disables the file output.
func Init(lvl string, file string) io.Closer {
	level.Set(ParseLevel(lvl))

	handlers := []slog.Handler{newConsoleHandler(os.Stderr, level)}

	var closer io.Closer = io.NopCloser(nil)
	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     7,    // days
			Compress:   true, // compress old logs
		}
		handlers = append(handlers, &traceHandler{Handler: slog.NewJSONHandler(rotator, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceAttr,
		})})
		closer = rotator
	}

	Logger = slog.New(&fanoutHandler{handlers: handlers})
	return closer
}

func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Err wraps err so that the log record carries its stack trace.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Any("error", nil)
	}
	if len(goxerrors.StackTrace(err)) == 0 {
		err = goxerrors.New(err)
	}
	return slog.Any("error", err)
}

func newConsoleHandler(w io.Writer, lvl slog.Leveler) slog.Handler {
	return &traceHandler{Handler: slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				return slog.String(slog.LevelKey, colorLevel(a.Value.Any()))
			}
			return replaceAttr(groups, a)
		},
	})}
}

func colorLevel(v any) string {
	l, ok := v.(slog.Level)
	if !ok {
		return ""
	}
	switch {
	case l >= slog.LevelError:
		return color.RedString(l.String())
	case l >= slog.LevelWarn:
		return color.YellowString(l.String())
	case l >= slog.LevelInfo:
		return color.GreenString(l.String())
	default:
		return color.CyanString(l.String())
	}
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	err, ok := a.Value.Any().(error)
	if !ok {
		return a
	}

	attrs := []any{slog.String("msg", err.Error())}
	if frames := marshalStack(err); len(frames) > 0 {
		attrs = append(attrs, slog.Any("trace", frames))
	}
	return slog.Group(a.Key, attrs...)
}

func marshalStack(err error) []stackFrame {
	trace := goxerrors.StackTrace(err)
	if len(trace) == 0 {
		return nil
	}

	frames := trace.Frames()
	s := make([]stackFrame, len(frames))
	for i, v := range frames {
		s[i] = stackFrame{
			Source: filepath.Join(filepath.Base(filepath.Dir(v.File)), filepath.Base(v.File)),
			Func:   filepath.Base(v.Function),
			Line:   v.Line,
		}
	}
	return s
}

// traceHandler adds the span of the record's context, if any.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: handlers}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: handlers}
}
