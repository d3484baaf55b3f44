package llm

import "strings"

// Segment delimiters the streaming generation prompt asks the model to
// emit between paper parts.
const (
	metaMarker     = "%%END_OF_META%%"
	questionMarker = "%%END_OF_QUESTION%%"
)

type segmentKind int

const (
	segmentMeta segmentKind = iota
	segmentQuestion
)

type segment struct {
	kind    segmentKind
	payload string
}

// markerParser splits the model's token stream into metadata and
// question segments. The first marker-terminated segment is metadata,
// every later one is a question. Markers may arrive split across
// chunks.
type markerParser struct {
	buf      string
	metaDone bool
}

// Feed appends a chunk and returns any segments it completed.
func (p *markerParser) Feed(chunk string) []segment {
	p.buf += chunk
	var segs []segment
	for {
		marker := questionMarker
		if !p.metaDone {
			marker = metaMarker
		}
		i := strings.Index(p.buf, marker)
		if i < 0 {
			return segs
		}
		payload := strings.TrimSpace(p.buf[:i])
		p.buf = p.buf[i+len(marker):]
		if !p.metaDone {
			p.metaDone = true
			segs = append(segs, segment{kind: segmentMeta, payload: payload})
			continue
		}
		if payload != "" {
			segs = append(segs, segment{kind: segmentQuestion, payload: payload})
		}
	}
}

// Flush returns the trailing segment when the stream ends without a
// final marker.
func (p *markerParser) Flush() []segment {
	payload := strings.TrimSpace(p.buf)
	p.buf = ""
	if payload == "" {
		return nil
	}
	if !p.metaDone {
		p.metaDone = true
		return []segment{{kind: segmentMeta, payload: payload}}
	}
	return []segment{{kind: segmentQuestion, payload: payload}}
}
