// Package stream drives incremental ingestion of a question stream
// into a consumer as frames arrive.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/lihaozhang01/ai4exam/internal/model"
	"github.com/lihaozhang01/ai4exam/internal/sse"
)

// State describes where an ingestion run is in its lifecycle.
type State int

const (
	// Idle means no run is active. A cancelled run returns here.
	Idle State = iota
	// Streaming means a run is consuming frames.
	Streaming
	// Completed means the run saw an end event or a clean EOF.
	Completed
	// Failed means the run stopped on a transport error.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Sink receives decoded events in arrival order. Calls are serialized
// by the ingestor.
type Sink interface {
	ApplyMetadata(md model.Metadata)
	ApplyQuestion(q model.Question)
}

// Ingestor reads a framed byte stream, decodes its events and feeds
// them to a sink. At most one run is active at a time; starting a new
// run cancels the previous one.
type Ingestor struct {
	sink Sink

	mu     sync.Mutex
	state  State
	err    error
	run    uint64
	cancel context.CancelFunc
}

// NewIngestor returns an idle ingestor feeding sink.
func NewIngestor(sink Sink) *Ingestor {
	return &Ingestor{sink: sink}
}

// State reports the lifecycle state of the most recent run.
func (in *Ingestor) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Err reports the cause of a failed run, nil otherwise.
func (in *Ingestor) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

// Cancel stops the active run, if any. The run returns to Idle.
func (in *Ingestor) Cancel() {
	in.mu.Lock()
	cancel := in.cancel
	in.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Start consumes body until an end event, EOF, error or cancellation.
// It blocks for the duration of the run and closes body before
// returning. A clean EOF without an end event completes the run. A
// cancelled context returns the run to Idle with a nil error.
func (in *Ingestor) Start(ctx context.Context, body io.ReadCloser) error {
	ctx, cancel := context.WithCancel(ctx)

	in.mu.Lock()
	if in.cancel != nil {
		in.cancel()
	}
	in.run++
	run := in.run
	in.cancel = cancel
	in.state = Streaming
	in.err = nil
	in.mu.Unlock()

	defer body.Close()
	defer cancel()

	var splitter sse.FrameSplitter
	buf := make([]byte, 4096)

	for {
		if ctx.Err() != nil {
			return in.finish(run, Idle, nil)
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if ended := in.apply(splitter.Append(string(buf[:n]))); ended {
				return in.finish(run, Completed, nil)
			}
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return in.finish(run, Idle, nil)
			}
			if errors.Is(readErr, io.EOF) {
				// Implicit completion: the producer hung up cleanly.
				return in.finish(run, Completed, nil)
			}
			return in.finish(run, Failed, readErr)
		}
	}
}

// apply feeds decoded events to the sink and reports whether an end
// event was seen. Frames after the end event are dropped.
func (in *Ingestor) apply(frames []string) bool {
	for i, frame := range frames {
		ev, ok := sse.Decode(frame)
		if !ok {
			continue
		}
		switch e := ev.(type) {
		case sse.MetadataEvent:
			in.sink.ApplyMetadata(e.Metadata)
		case sse.QuestionEvent:
			in.sink.ApplyQuestion(e.Question)
		case sse.EndEvent:
			if i < len(frames)-1 {
				slog.Debug("dropping frames after end event", "count", len(frames)-i-1)
			}
			return true
		}
	}
	return false
}

// finish records the terminal state unless a newer run has already
// taken over.
func (in *Ingestor) finish(run uint64, state State, err error) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.run != run {
		return err
	}
	in.cancel = nil
	in.state = state
	in.err = err
	return err
}
