package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lihaozhang01/ai4exam/internal/model"
)

// DataPrefix marks a data frame. Frames without it (comments,
// keep-alives) are inert.
const DataPrefix = "data: "

// Event type discriminators carried in the frame envelope.
const (
	EventMetadata = "metadata"
	EventQuestion = "question"
	EventEnd      = "end"
	EventError    = "error"
)

// Envelope is the JSON payload of a data frame.
type Envelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Event is a decoded stream event: MetadataEvent, QuestionEvent or
// EndEvent.
type Event interface {
	event()
}

// MetadataEvent carries the paper title and description.
type MetadataEvent struct {
	Metadata model.Metadata
}

// QuestionEvent carries one generated question.
type QuestionEvent struct {
	Question model.Question
}

// EndEvent marks the end of the stream.
type EndEvent struct{}

func (MetadataEvent) event() {}
func (QuestionEvent) event() {}
func (EndEvent) event()      {}

// metadataContent tolerates producers that label the title "name".
type metadataContent struct {
	Title       string `json:"title"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Decode parses one complete frame. The second return value is false
// when the frame carries no event: frames without the data prefix,
// frames whose payload fails to parse, producer-side error frames, and
// unknown discriminators are all skipped rather than treated as fatal,
// so that one bad frame never kills the stream.
func Decode(frame string) (Event, bool) {
	if !strings.HasPrefix(frame, DataPrefix) {
		return nil, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(frame, DataPrefix))
	if payload == "" {
		return nil, false
	}

	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.Warn("skipping undecodable frame", "error", err, "payload", truncate(payload, 200))
		return nil, false
	}

	switch env.Type {
	case EventMetadata:
		var mc metadataContent
		if err := json.Unmarshal(env.Content, &mc); err != nil {
			slog.Warn("skipping malformed metadata frame", "error", err)
			return nil, false
		}
		md := model.Metadata{Title: mc.Title, Description: mc.Description}
		if md.Title == "" {
			md.Title = mc.Name
		}
		return MetadataEvent{Metadata: md}, true
	case EventQuestion:
		var q model.Question
		if err := json.Unmarshal(env.Content, &q); err != nil {
			slog.Warn("skipping malformed question frame", "error", err)
			return nil, false
		}
		return QuestionEvent{Question: q}, true
	case EventEnd:
		return EndEvent{}, true
	case EventError:
		// Producer-side parse failures are advisory; the stream goes on.
		slog.Warn("producer reported stream error", "content", truncate(string(env.Content), 200))
		return nil, false
	default:
		slog.Debug("skipping frame with unknown type", "type", env.Type)
		return nil, false
	}
}

// WriteFrame encodes one event as a data frame and writes it, flushing
// if the writer supports it. Used by the serving side.
func WriteFrame(w io.Writer, typ string, content any) error {
	env := Envelope{Type: typ}
	if content != nil {
		raw, err := json.Marshal(content)
		if err != nil {
			return fmt.Errorf("marshal %s content: %w", typ, err)
		}
		env.Content = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", typ, err)
	}
	if _, err := io.WriteString(w, DataPrefix+string(data)+Delimiter); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
