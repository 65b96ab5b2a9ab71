package process

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unity-references/src/internal/common"
)

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func TestLineWriterIndependentOfChunking(t *testing.T) {
	input := "4242\nfirst record\r\nsecond"

	for _, chunk := range []int{1, 2, 3, 7, len(input)} {
		c := &lineCollector{}
		w := NewLineWriter(c.add)

		for i := 0; i < len(input); i += chunk {
			end := i + chunk
			if end > len(input) {
				end = len(input)
			}
			n, err := w.Write([]byte(input[i:end]))
			require.NoError(t, err)
			assert.Equal(t, end-i, n)
		}
		assert.Equal(t, []string{"4242", "first record"}, c.lines, "chunk size %d", chunk)

		w.Flush()
		assert.Equal(t, []string{"4242", "first record", "second"}, c.lines, "chunk size %d", chunk)
	}
}

func TestLineWriterEmptyLines(t *testing.T) {
	c := &lineCollector{}
	w := NewLineWriter(c.add)

	_, _ = w.Write([]byte("\n\na\n"))
	w.Flush()
	assert.Equal(t, []string{"", "", "a"}, c.lines)
}

func TestLineWriterCapsLongLines(t *testing.T) {
	c := &lineCollector{}
	w := NewLineWriter(c.add)

	_, _ = w.Write(bytes.Repeat([]byte("x"), maxLineLength+10))
	require.Len(t, c.lines, 1)
	assert.Len(t, c.lines[0], maxLineLength+10)

	_, _ = w.Write([]byte("tail\n"))
	assert.Equal(t, "tail", c.lines[1])
}

func TestForwardLogLine(t *testing.T) {
	var buf bytes.Buffer
	sink := common.NewLogSink("Game", &buf)

	ForwardLogLine(sink, `{"level":"warn","timestamp":"2024-01-01T00:00:00Z","message":"slow index","file":"src/index.rs","line":42}`)
	ForwardLogLine(sink, `not json at all`)
	ForwardLogLine(sink, `   `)

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	assert.Contains(t, lines[0], "slow index")
	assert.Contains(t, lines[0], "WARN")
	assert.Contains(t, lines[0], "src/index.rs")
	assert.Contains(t, lines[0], "line=42")

	assert.Contains(t, lines[1], "unparsable log")
	assert.Contains(t, lines[1], "ERROR")
}

func TestLogRecordLevels(t *testing.T) {
	tests := []struct {
		level string
		want  common.LogLevel
	}{
		{"trace", common.LogTrace},
		{"debug", common.LogDebug},
		{"info", common.LogInfo},
		{"warn", common.LogWarn},
		{"error", common.LogError},
		{"ERROR", common.LogError},
		{"fatal", common.LogInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			r := &LogRecord{Level: tt.level}
			assert.Equal(t, tt.want, r.LogLevel())
		})
	}
}
