package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset(t *testing.T) {
	t.Cleanup(func() {
		SetFormat("text")
		SetLevel("info")
		SetOutput(os.Stdout)
	})
}

func TestLevelFiltering(t *testing.T) {
	reset(t)
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel("warn")

	Infof("[order] hidden %d", 1)
	Warnf("[manager] shown %d", 2)
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
	assert.False(t, Enabled(slog.LevelDebug))

	SetLevel("DEBUG")
	Debugf("verbose")
	assert.Contains(t, buf.String(), "verbose")
}

func TestTeeAndJSON(t *testing.T) {
	reset(t)
	var a, b bytes.Buffer
	SetFormat("json")
	SetOutput(&a, nil, &b)
	Infof("run %s done", "r1")

	for _, buf := range []*bytes.Buffer{&a, &b} {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
		assert.Equal(t, "run r1 done", rec["msg"])
	}
}

func TestInfoBlock(t *testing.T) {
	reset(t)
	var buf bytes.Buffer
	SetOutput(&buf)
	InfoBlock("\nline one\nline two\n")
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
	InfoBlock("   ")
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
}
