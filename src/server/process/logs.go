package process

import (
	"encoding/json"
	"log/slog"
	"strings"

	"unity-references/src/internal/common"
)

// LogRecord is one line of the server's --json-logs stream.
type LogRecord struct {
	Level     string  `json:"level"`
	Timestamp string  `json:"timestamp"`
	Message   string  `json:"message"`
	File      *string `json:"file,omitempty"`
	Line      *int    `json:"line,omitempty"`
}

// ParseLogRecord decodes one stderr line.
func ParseLogRecord(line string) (*LogRecord, error) {
	var record LogRecord
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// LogLevel maps the record level onto the host levels. Unknown levels are
// treated as info.
func (r *LogRecord) LogLevel() common.LogLevel {
	level, ok := common.ParseLogLevel(r.Level)
	if !ok {
		return common.LogInfo
	}
	return level
}

// Attrs returns the structured fields that accompany the message.
func (r *LogRecord) Attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 3)
	if r.Timestamp != "" {
		attrs = append(attrs, slog.String("timestamp", r.Timestamp))
	}
	if r.File != nil {
		attrs = append(attrs, slog.String("file", *r.File))
	}
	if r.Line != nil {
		attrs = append(attrs, slog.Int("line", *r.Line))
	}
	return attrs
}

// ForwardLogLine writes one stderr line to sink. Lines that are not JSON
// records become an error entry instead of being dropped.
func ForwardLogLine(sink *common.LogSink, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	record, err := ParseLogRecord(line)
	if err != nil {
		sink.Log(common.LogError, "unparsable log",
			slog.String("line", line),
			slog.String("error", err.Error()))
		return
	}

	sink.Log(record.LogLevel(), record.Message, record.Attrs()...)
}
