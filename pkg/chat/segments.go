package chat

import "strings"

// SegmentKind distinguishes prose from fenced code in message content
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentCode
)

// Segment is a typed sub-range of a message's content. Code segments carry
// the language tag from their opening fence. Segments are derived from
// content, never persisted.
type Segment struct {
	Kind   SegmentKind
	Lang   string
	Start  int // byte offset, inclusive
	End    int // byte offset, exclusive
	Closed bool
}

// Text extracts the segment's raw content, fence lines included for code.
func (s Segment) Text(content string) string {
	if s.Start < 0 || s.End > len(content) || s.Start > s.End {
		return ""
	}
	return content[s.Start:s.End]
}

// Body returns a code segment's content without the fence lines.
func (s Segment) Body(content string) string {
	raw := s.Text(content)
	if s.Kind != SegmentCode {
		return raw
	}
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		raw = raw[idx+1:]
	}
	if s.Closed {
		if idx := strings.LastIndexByte(strings.TrimRight(raw, "\n"), '\n'); idx >= 0 {
			raw = raw[:idx+1]
		} else {
			raw = ""
		}
	}
	return raw
}

// SegmentScanner performs incremental fence-boundary detection over
// append-only content. Because content only grows, each Append re-scans
// only complete lines the previous call had not yet seen.
type SegmentScanner struct {
	content   strings.Builder
	segs      []Segment
	segStart  int // start offset of the segment still open
	lineStart int // start offset of the current, possibly incomplete line
	inCode    bool
	lang      string
}

func NewSegmentScanner() *SegmentScanner {
	return &SegmentScanner{}
}

// Append adds a chunk of streamed content and returns any code segments
// whose closing fence completed inside this chunk.
func (sc *SegmentScanner) Append(chunk string) []Segment {
	sc.content.WriteString(chunk)
	content := sc.content.String()

	var closed []Segment
	for {
		nl := strings.IndexByte(content[sc.lineStart:], '\n')
		if nl < 0 {
			break
		}
		lineEnd := sc.lineStart + nl
		line := content[sc.lineStart:lineEnd]

		if !sc.inCode && strings.HasPrefix(line, "```") {
			// Fence opens: flush the preceding text segment, if any
			if sc.lineStart > sc.segStart {
				sc.segs = append(sc.segs, Segment{
					Kind:   SegmentText,
					Start:  sc.segStart,
					End:    sc.lineStart,
					Closed: true,
				})
			}
			sc.segStart = sc.lineStart
			sc.inCode = true
			sc.lang = fenceLang(line)
		} else if sc.inCode && strings.TrimSpace(line) == "```" {
			seg := Segment{
				Kind:   SegmentCode,
				Lang:   sc.lang,
				Start:  sc.segStart,
				End:    lineEnd + 1,
				Closed: true,
			}
			sc.segs = append(sc.segs, seg)
			closed = append(closed, seg)
			sc.segStart = lineEnd + 1
			sc.inCode = false
			sc.lang = ""
		}

		sc.lineStart = lineEnd + 1
	}

	return closed
}

// Segments returns the full segmentation of the content seen so far,
// including the still-open tail segment.
func (sc *SegmentScanner) Segments() []Segment {
	content := sc.content.String()

	out := make([]Segment, len(sc.segs), len(sc.segs)+1)
	copy(out, sc.segs)

	if len(content) > sc.segStart {
		tail := Segment{
			Kind:  SegmentText,
			Start: sc.segStart,
			End:   len(content),
		}
		if sc.inCode {
			tail.Kind = SegmentCode
			tail.Lang = sc.lang
		}
		out = append(out, tail)
	}
	return out
}

// Content returns everything appended so far.
func (sc *SegmentScanner) Content() string {
	return sc.content.String()
}

// ScanSegments segments content from scratch. Equivalent to feeding the
// same content through a SegmentScanner in any chunking.
func ScanSegments(content string) []Segment {
	sc := NewSegmentScanner()
	sc.Append(content)
	return sc.Segments()
}

// fenceLang extracts the language tag from an opening fence line.
func fenceLang(line string) string {
	tag := strings.TrimSpace(strings.TrimLeft(line, "`"))
	if idx := strings.IndexAny(tag, " \t"); idx >= 0 {
		tag = tag[:idx]
	}
	return tag
}
