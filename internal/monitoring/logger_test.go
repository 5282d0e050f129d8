package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerJSONFormat(t *testing.T) {
	logger := NewLogger(LoggerConfig{Level: LogLevelInfo, Format: LogFormatJSON})
	var buf bytes.Buffer
	logger = logger.Output(&buf)
	logger.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"message":"hello"`) {
		t.Errorf("expected JSON output to contain the message field, got %q", buf.String())
	}
}

func TestNewLoggerLevelFiltering(t *testing.T) {
	logger := NewLogger(LoggerConfig{Level: LogLevelError, Format: LogFormatJSON})
	var buf bytes.Buffer
	logger = logger.Output(&buf)

	logger.Info().Msg("suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected info-level message to be suppressed at error level, got %q", buf.String())
	}

	logger.Error().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("expected error-level message to be logged")
	}
}
