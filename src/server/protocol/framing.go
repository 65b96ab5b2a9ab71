package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxContentLength bounds a single framed message body.
const maxContentLength = 64 << 20

// WriteFramed sends v as JSON with a Content-Length header.
func WriteFramed(writer io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	content := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(data), data)
	_, err = io.WriteString(writer, content)
	return err
}

// ReadFramed reads one Content-Length framed body. io.EOF is returned as-is
// when the stream ends between messages.
func ReadFramed(reader *bufio.Reader) ([]byte, error) {
	contentLength := -1

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" && contentLength < 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read header: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			if contentLength < 0 {
				// Stray blank line between messages.
				continue
			}
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		length, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || length < 0 || length > maxContentLength {
			return nil, fmt.Errorf("invalid Content-Length: %q", value)
		}
		contentLength = length
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, body); err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}
