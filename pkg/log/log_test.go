package log

import (
	"bytes"
	stdlog "log"
	"testing"

	"github.com/stretchr/testify/assert"
)

// capture redirects log output to a buffer for the duration of a test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(stdlog.New(&buf, "", 0))
	t.Cleanup(func() {
		SetOutput(stdlog.Default())
		SetLevel("INFO")
	})
	return &buf
}

func TestLevels(t *testing.T) {
	t.Run("debug is suppressed at the default level", func(t *testing.T) {
		buf := capture(t)
		SetLevel("INFO")

		Debug("hidden", nil)
		Info("shown", nil)

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "INFO: shown")
	})

	t.Run("error passes every level", func(t *testing.T) {
		buf := capture(t)
		SetLevel("ERROR")

		Warn("quiet", nil)
		Error("loud", nil)

		out := buf.String()
		assert.NotContains(t, out, "quiet")
		assert.Contains(t, out, "ERROR: loud")
	})

	t.Run("set level round-trips by name", func(t *testing.T) {
		capture(t)
		for _, name := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
			SetLevel(name)
			assert.Equal(t, name, GetLevel())
		}
	})

	t.Run("unknown level names are ignored", func(t *testing.T) {
		capture(t)
		SetLevel("WARN")
		SetLevel("LOUDEST")
		assert.Equal(t, "WARN", GetLevel())
	})
}

func TestParams(t *testing.T) {
	buf := capture(t)
	SetLevel("INFO")

	Info("snapshot write failed", map[string]interface{}{"path": "knowledge/graph.json"})

	assert.Contains(t, buf.String(), "knowledge/graph.json")
}

func TestTimer(t *testing.T) {
	buf := capture(t)
	SetLevel("DEBUG")

	stop := Timer("decay")
	stop()

	out := buf.String()
	assert.Contains(t, out, "Timer: decay")
	assert.Contains(t, out, "elapsed")
}
