package lgr

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/xerrors"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("whatever"))
}

func TestErrCarriesStack(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: replaceAttr}))

	logger.Error("boom", Err(xerrors.New("disk full")))

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	errAttr, ok := record["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "disk full", errAttr["msg"])
	assert.NotEmpty(t, errAttr["trace"])
}

func TestInitWritesFile(t *testing.T) {
	previous := Logger
	t.Cleanup(func() { Logger = previous })

	path := filepath.Join(t.TempDir(), "vs-face.log")
	closer := Init("debug", path)

	Logger.DebugContext(context.Background(), "hello", slog.String("who", "tests"))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"who":"tests"`)
}

func TestFileRecordsCarrySpanIDs(t *testing.T) {
	previous := Logger
	t.Cleanup(func() { Logger = previous })

	path := filepath.Join(t.TempDir(), "vs-face.log")
	closer := Init("info", path)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03},
		SpanID:     trace.SpanID{0x04, 0x05},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	Logger.WarnContext(ctx, "in a span")
	Logger.Warn("outside")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"trace_id":"`+sc.TraceID().String()+`"`)
	assert.Contains(t, string(lines[0]), `"span_id":"`+sc.SpanID().String()+`"`)
	assert.NotContains(t, string(lines[1]), "trace_id")
}
