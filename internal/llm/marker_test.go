package llm

import (
	"reflect"
	"testing"
)

const markerStream = `{"title":"T","description":"D"}
%%END_OF_META%%
{"type":"essay","stem":"one"}
%%END_OF_QUESTION%%
{"type":"essay","stem":"two"}
%%END_OF_QUESTION%%
`

func collect(p *markerParser, chunks []string) []segment {
	var segs []segment
	for _, c := range chunks {
		segs = append(segs, p.Feed(c)...)
	}
	return append(segs, p.Flush()...)
}

func TestMarkerParserWhole(t *testing.T) {
	segs := collect(&markerParser{}, []string{markerStream})
	want := []segment{
		{kind: segmentMeta, payload: `{"title":"T","description":"D"}`},
		{kind: segmentQuestion, payload: `{"type":"essay","stem":"one"}`},
		{kind: segmentQuestion, payload: `{"type":"essay","stem":"two"}`},
	}
	if !reflect.DeepEqual(segs, want) {
		t.Errorf("segments = %+v, want %+v", segs, want)
	}
}

func TestMarkerParserByteAtATime(t *testing.T) {
	var chunks []string
	for i := 0; i < len(markerStream); i++ {
		chunks = append(chunks, markerStream[i:i+1])
	}
	segs := collect(&markerParser{}, chunks)
	if len(segs) != 3 {
		t.Fatalf("segments = %+v, want 3", segs)
	}
	if segs[0].kind != segmentMeta || segs[1].kind != segmentQuestion || segs[2].kind != segmentQuestion {
		t.Errorf("kinds wrong: %+v", segs)
	}
}

func TestMarkerParserTrailingSegment(t *testing.T) {
	p := &markerParser{}
	segs := p.Feed(`{"title":"T"}` + "\n%%END_OF_META%%\n" + `{"type":"essay","stem":"tail"}`)
	if len(segs) != 1 || segs[0].kind != segmentMeta {
		t.Fatalf("fed segments = %+v", segs)
	}
	tail := p.Flush()
	if len(tail) != 1 || tail[0].kind != segmentQuestion || tail[0].payload != `{"type":"essay","stem":"tail"}` {
		t.Errorf("flush = %+v", tail)
	}
}

func TestMarkerParserMetaOnly(t *testing.T) {
	p := &markerParser{}
	if segs := p.Feed(`{"title":"T"}`); len(segs) != 0 {
		t.Fatalf("premature segments: %+v", segs)
	}
	segs := p.Flush()
	if len(segs) != 1 || segs[0].kind != segmentMeta {
		t.Errorf("flush = %+v", segs)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no lang", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around fence", "Here you go:\n```json\n{\"a\":1}\n```\nDone.", `{"a":1}`},
		{"unclosed fence", "```json\n{\"a\":1}", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.in); got != tt.want {
				t.Errorf("extractJSON = %q, want %q", got, tt.want)
			}
		})
	}
}
