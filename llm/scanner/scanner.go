// Package scanner separates model thinking from answer text as stream
// chunks arrive, without buffering the whole response. Delimiters may be
// split across chunk boundaries, so the scanner holds back any trailing
// bytes that could still turn into a delimiter and replays them on the
// next Feed.
package scanner

import "strings"

const (
	DefaultOpen  = "<thinking>"
	DefaultClose = "</thinking>"
)

// Segment is a run of text attributed to one side of the delimiters.
type Segment struct {
	Text     string
	Thinking bool
}

// Scanner is a two-state incremental splitter. Not safe for concurrent
// use; each stream gets its own instance.
type Scanner struct {
	open     string
	close    string
	thinking bool
	carry    string
}

// New builds a scanner for the default thinking tags.
func New() *Scanner {
	return NewDelimited(DefaultOpen, DefaultClose)
}

// NewDelimited builds a scanner for custom tags. Empty tags fall back to
// the defaults.
func NewDelimited(open, close string) *Scanner {
	if open == "" {
		open = DefaultOpen
	}
	if close == "" {
		close = DefaultClose
	}
	return &Scanner{open: open, close: close}
}

// Feed consumes the next chunk and returns the segments it completes.
// Bytes that could still be the start of a delimiter are held back until
// the next Feed or Flush decides what they were.
func (s *Scanner) Feed(chunk string) []Segment {
	data := s.carry + chunk
	s.carry = ""

	var segments []Segment
	for {
		delim := s.open
		if s.thinking {
			delim = s.close
		}

		idx := strings.Index(data, delim)
		if idx >= 0 {
			if idx > 0 {
				segments = push(segments, data[:idx], s.thinking)
			}
			data = data[idx+len(delim):]
			s.thinking = !s.thinking
			continue
		}

		hold := suffixPrefixLen(data, delim)
		if emit := data[:len(data)-hold]; emit != "" {
			segments = push(segments, emit, s.thinking)
		}
		s.carry = data[len(data)-hold:]
		return segments
	}
}

// Flush releases held-back bytes as literal text once the stream is done.
func (s *Scanner) Flush() []Segment {
	if s.carry == "" {
		return nil
	}
	segment := Segment{Text: s.carry, Thinking: s.thinking}
	s.carry = ""
	return []Segment{segment}
}

// Split runs the scanner over a complete response and concatenates both
// sides, trimming surrounding whitespace. Convenience for the non-stream
// path where the full text is already in hand.
func Split(text string) (thinking, answer string) {
	s := New()
	var think, ans strings.Builder
	segments := s.Feed(text)
	segments = append(segments, s.Flush()...)
	for _, segment := range segments {
		if segment.Thinking {
			think.WriteString(segment.Text)
		} else {
			ans.WriteString(segment.Text)
		}
	}
	return strings.TrimSpace(think.String()), strings.TrimSpace(ans.String())
}

// push appends text in the given state, merging into the previous segment
// when the state did not change.
func push(segments []Segment, text string, thinking bool) []Segment {
	if n := len(segments); n > 0 && segments[n-1].Thinking == thinking {
		segments[n-1].Text += text
		return segments
	}
	return append(segments, Segment{Text: text, Thinking: thinking})
}

// suffixPrefixLen reports the length of the longest proper suffix of data
// that is a prefix of delim. Those bytes may complete the delimiter once
// more input arrives.
func suffixPrefixLen(data, delim string) int {
	max := len(delim) - 1
	if len(data) < max {
		max = len(data)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(delim, data[len(data)-n:]) {
			return n
		}
	}
	return 0
}
