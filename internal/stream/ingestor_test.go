package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/lihaozhang01/ai4exam/internal/model"
)

type recordingSink struct {
	metadata  []model.Metadata
	questions []model.Question
}

func (s *recordingSink) ApplyMetadata(md model.Metadata) { s.metadata = append(s.metadata, md) }
func (s *recordingSink) ApplyQuestion(q model.Question)  { s.questions = append(s.questions, q) }

const sampleStream = `data: {"type":"metadata","content":{"title":"Go Basics","description":"Syntax"}}

data: {"type":"question","content":{"id":"q1","type":"single_choice","stem":"Pick one","options":["a","b"],"answer":{"index":0}}}

data: {"type":"question","content":{"id":"q2","type":"essay","stem":"Explain interfaces","answer":{"reference_explanation":"..."}}}

data: {"type":"end"}

`

func TestStartHappyPath(t *testing.T) {
	sink := &recordingSink{}
	in := NewIngestor(sink)

	if err := in.Start(context.Background(), io.NopCloser(strings.NewReader(sampleStream))); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := in.State(); got != Completed {
		t.Errorf("state = %v, want %v", got, Completed)
	}
	if len(sink.metadata) != 1 || sink.metadata[0].Title != "Go Basics" {
		t.Errorf("metadata = %+v", sink.metadata)
	}
	if len(sink.questions) != 2 || sink.questions[0].ID != "q1" || sink.questions[1].ID != "q2" {
		t.Errorf("questions = %+v", sink.questions)
	}
}

func TestStartImplicitCompletion(t *testing.T) {
	// No end event; the producer just hangs up.
	body := `data: {"type":"question","content":{"id":"q1","type":"essay","stem":"s"}}

`
	sink := &recordingSink{}
	in := NewIngestor(sink)

	if err := in.Start(context.Background(), io.NopCloser(strings.NewReader(body))); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := in.State(); got != Completed {
		t.Errorf("state = %v, want %v", got, Completed)
	}
	if len(sink.questions) != 1 {
		t.Errorf("questions = %+v", sink.questions)
	}
}

func TestStartSkipsMalformedFrames(t *testing.T) {
	body := `data: {broken

: comment frame

data: {"type":"question","content":{"id":"q1","type":"essay","stem":"s"}}

data: {"type":"end"}

`
	sink := &recordingSink{}
	in := NewIngestor(sink)

	if err := in.Start(context.Background(), io.NopCloser(strings.NewReader(body))); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(sink.questions) != 1 || sink.questions[0].ID != "q1" {
		t.Errorf("questions = %+v", sink.questions)
	}
}

func TestStartStopsAtEndEvent(t *testing.T) {
	body := `data: {"type":"end"}

data: {"type":"question","content":{"id":"late","type":"essay","stem":"s"}}

`
	sink := &recordingSink{}
	in := NewIngestor(sink)

	if err := in.Start(context.Background(), io.NopCloser(strings.NewReader(body))); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(sink.questions) != 0 {
		t.Errorf("questions after end applied: %+v", sink.questions)
	}
	if got := in.State(); got != Completed {
		t.Errorf("state = %v, want %v", got, Completed)
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestStartTransportError(t *testing.T) {
	cause := errors.New("connection reset")
	in := NewIngestor(&recordingSink{})

	err := in.Start(context.Background(), io.NopCloser(errReader{err: cause}))
	if !errors.Is(err, cause) {
		t.Fatalf("Start error = %v, want %v", err, cause)
	}
	if got := in.State(); got != Failed {
		t.Errorf("state = %v, want %v", got, Failed)
	}
	if !errors.Is(in.Err(), cause) {
		t.Errorf("Err() = %v, want %v", in.Err(), cause)
	}
}

type blockingReader struct{ unblock chan struct{} }

func (r blockingReader) Read([]byte) (int, error) {
	<-r.unblock
	return 0, io.EOF
}

func TestCancelReturnsToIdle(t *testing.T) {
	unblock := make(chan struct{})
	in := NewIngestor(&recordingSink{})

	done := make(chan error, 1)
	go func() {
		done <- in.Start(context.Background(), io.NopCloser(blockingReader{unblock: unblock}))
	}()

	for in.State() != Streaming {
		time.Sleep(time.Millisecond)
	}
	in.Cancel()
	close(unblock)

	if err := <-done; err != nil {
		t.Fatalf("Start after cancel: %v", err)
	}
	if got := in.State(); got != Idle {
		t.Errorf("state = %v, want %v", got, Idle)
	}
}

func TestStartSupersedesPreviousRun(t *testing.T) {
	unblock := make(chan struct{})
	sink := &recordingSink{}
	in := NewIngestor(sink)

	done := make(chan error, 1)
	go func() {
		done <- in.Start(context.Background(), io.NopCloser(blockingReader{unblock: unblock}))
	}()
	for in.State() != Streaming {
		time.Sleep(time.Millisecond)
	}

	if err := in.Start(context.Background(), io.NopCloser(strings.NewReader(sampleStream))); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	close(unblock)
	<-done

	// The completed second run owns the terminal state.
	if got := in.State(); got != Completed {
		t.Errorf("state = %v, want %v", got, Completed)
	}
	if len(sink.questions) != 2 {
		t.Errorf("questions = %+v", sink.questions)
	}
}
