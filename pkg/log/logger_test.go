package log

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "line %q", sc.Text())
		out = append(out, m)
	}
	return out
}

func TestJSONLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(InfoLevel), WithFormat("json"), WithOutput(&buf))
	l = l.With(Component("engine"), Str("queue", "global"))

	l.Debug("hidden")
	l.Info("queued", Int("elements", 3))
	l.WithError(errors.New("boom")).Warn("conflict")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "queued", lines[0]["msg"])
	assert.Equal(t, "engine", lines[0]["component"])
	assert.Equal(t, "global", lines[0]["queue"])
	assert.EqualValues(t, 3, lines[0]["elements"])
	assert.Equal(t, "warn", lines[1]["level"])
	assert.Equal(t, "boom", lines[1]["error"])
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(WarnLevel), WithOutput(&buf))
	assert.Equal(t, WarnLevel, l.GetLevel())
	l.Info("dropped")
	l.SetLevel(DebugLevel)
	l.Debug("kept")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["msg"])
}

func TestSamplingDropsRepeats(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithOutput(&buf), WithSampling(2, 1000))
	for i := 0; i < 50; i++ {
		l.Warn("location service unreachable")
	}
	assert.Len(t, decodeLines(t, &buf), 2)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, lvl)
	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, lvl)
	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestApplyConfigRejectsUnknownFormat(t *testing.T) {
	_, err := ApplyConfig(&Config{Level: "info", Format: "xml"})
	assert.Error(t, err)
	l, err := ApplyConfig(&Config{Level: "warn", Format: "text"})
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, l.GetLevel())
}
