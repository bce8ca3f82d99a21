package segment

import "strings"

// Segmenter splits an incremental text stream into sentences as soon as a
// boundary is detectable, buffering the unterminated remainder. Tokens may
// split mid-word or mid-punctuation across chunks; a boundary is never
// emitted at the end of the buffer because the punctuation run might still
// continue in the next chunk.
//
// Output is exact: the emitted sentences concatenated with Remainder()
// reproduce the input byte for byte. Callers that want display text trim it.
// A Segmenter is single-turn; construct a new one per reply.
type Segmenter struct {
	buf []rune
}

// New returns an empty Segmenter.
func New() *Segmenter { return &Segmenter{} }

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// AddChunk appends chunk to the internal buffer and returns every sentence
// completed by it, in order.
func (s *Segmenter) AddChunk(chunk string) []string {
	if chunk == "" {
		return nil
	}
	s.buf = append(s.buf, []rune(chunk)...)

	var out []string
	start := 0
	i := 0
	for i < len(s.buf) {
		r := s.buf[i]
		if r == '\n' || r == '\r' {
			out = append(out, string(s.buf[start:i+1]))
			start = i + 1
			i++
			continue
		}
		if !isTerminal(r) {
			i++
			continue
		}
		// consume the whole punctuation run
		j := i
		for j < len(s.buf) && isTerminal(s.buf[j]) {
			j++
		}
		if j == len(s.buf) {
			// run touches the end of the buffer; it may continue next chunk
			break
		}
		out = append(out, string(s.buf[start:j]))
		start = j
		i = j
	}
	if start > 0 {
		s.buf = append(s.buf[:0], s.buf[start:]...)
	}
	return out
}

// Remainder returns the buffered text that has not been emitted. The
// Segmenter is not reset; a new instance is constructed per turn.
func (s *Segmenter) Remainder() string { return string(s.buf) }

// Clean trims a raw sentence for speech and display.
func Clean(sentence string) string { return strings.TrimSpace(sentence) }
