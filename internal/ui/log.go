package ui

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// LogUI reports status and transcript as structured log lines. It is
// used when no terminal is attached.
type LogUI struct {
	logger    zerolog.Logger
	assistant string
	streamed  strings.Builder
}

// NewLogUI creates a log-backed UI
func NewLogUI(assistant string, logger zerolog.Logger) *LogUI {
	if assistant == "" {
		assistant = "astra"
	}
	return &LogUI{
		assistant: assistant,
		logger:    logger.With().Str("component", "ui").Logger(),
	}
}

func (u *LogUI) SetStatus(label string) {
	u.logger.Info().Str("status", label).Msg("Status")
}

func (u *LogUI) AppendUserMessage(text string) {
	u.logger.Info().Str("sender", "user").Str("text", text).Msg("Message")
}

func (u *LogUI) StartStreamingMessage() {
	u.streamed.Reset()
	u.logger.Debug().Str("sender", u.assistant).Msg("Response started")
}

func (u *LogUI) AppendToStreamingMessage(text string) {
	u.streamed.WriteString(text)
	u.logger.Debug().Str("sender", u.assistant).Str("chunk", text).Msg("Response chunk")
}

func (u *LogUI) FinalizeStreamingMessage(text string) {
	u.logger.Info().
		Str("sender", u.assistant).
		Str("text", text).
		Int("streamed", u.streamed.Len()).
		Msg("Message")
	u.streamed.Reset()
}

// ReadLines submits every line read from r until EOF or ctx ends
func ReadLines(ctx context.Context, r io.Reader, submit func(string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			submit(line)
		}
	}
	return scanner.Err()
}
