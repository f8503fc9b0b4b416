// Package recovery parses JSON emitted by length-capped text generators.
//
// Vision models that embed large opaque payloads (base64 masks) in their JSON
// routinely run out of tokens halfway through one, or emit a truncation marker
// in its place. Parse first tries a plain decode; only when that fails does it
// null out the broken payload values and close whatever brackets were left
// open at the end of the text.
package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnrecoverable is returned when the text could not be repaired into valid JSON
var ErrUnrecoverable = errors.New("unrecoverable model output")

// DefaultPayloadKeys are the fields known to carry large opaque payloads
var DefaultPayloadKeys = []string{"mask"}

// DefaultSentinels are the markers upstream generators leave in cut-off values
var DefaultSentinels = []string{"<<TRUNCATED>>", "[TRUNCATED]", "BROKEN_PAYLOAD"}

// Parser repairs truncated payload values before decoding
type Parser struct {
	payloadKeys []string
	sentinels   []string
}

// Option configures a Parser
type Option func(*Parser)

// WithPayloadKeys replaces the set of keys whose values may be nulled out
func WithPayloadKeys(keys ...string) Option {
	return func(p *Parser) {
		p.payloadKeys = append([]string(nil), keys...)
	}
}

// WithSentinels replaces the set of truncation markers
func WithSentinels(sentinels ...string) Option {
	return func(p *Parser) {
		p.sentinels = append([]string(nil), sentinels...)
	}
}

// New creates a Parser with the default keys and sentinels
func New(opts ...Option) *Parser {
	p := &Parser{
		payloadKeys: DefaultPayloadKeys,
		sentinels:   DefaultSentinels,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var defaultParser = New()

// Parse decodes raw with the default parser
func Parse(raw string) (any, error) {
	return defaultParser.Parse(raw)
}

// IsTruncated checks s against the default sentinels
func IsTruncated(s string) bool {
	return defaultParser.IsTruncated(s)
}

// Report describes what a repair changed
type Report struct {
	Replaced int    `json:"replaced"`
	Closers  string `json:"closers,omitempty"`
}

// Repaired reports whether the text was modified
func (r Report) Repaired() bool {
	return r.Replaced > 0 || r.Closers != ""
}

// Parse decodes raw, repairing it if the plain decode fails
func (p *Parser) Parse(raw string) (any, error) {
	v, _, err := p.ParseWithReport(raw)
	return v, err
}

// ParseWithReport is Parse that also returns what the repair pass changed
func (p *Parser) ParseWithReport(raw string) (any, Report, error) {
	text := Sanitize(raw)

	v, err := decode(text)
	if err == nil {
		return v, Report{}, nil
	}

	repaired, report, ok := p.Repair(text)
	if !ok {
		return nil, report, fmt.Errorf("%w: %w", ErrUnrecoverable, err)
	}

	v, err = decode(repaired)
	if err != nil {
		return nil, report, fmt.Errorf("%w: %w", ErrUnrecoverable, err)
	}
	return v, report, nil
}

// Repair nulls out broken payload values and closes unterminated brackets.
// It returns false when nothing in text looked repairable.
func (p *Parser) Repair(text string) (string, Report, bool) {
	var report Report
	text, report.Replaced = p.replaceBroken(text)

	if report.Replaced == 0 {
		// Without a broken payload the only repair allowed is closing brackets
		// left open at the very end of otherwise clean text.
		st := scanStructure(text)
		if st.inString || len(st.stack) == 0 {
			return text, report, false
		}
	}

	text, report.Closers = autoClose(text)
	return text, report, true
}

// replaceBroken substitutes null for every payload value that either runs off
// the end of the text or carries a sentinel. Offsets of untouched content are
// only shifted by the length delta of each replacement.
func (p *Parser) replaceBroken(text string) (string, int) {
	replaced := 0
	for _, key := range p.payloadKeys {
		needle := `"` + key + `"`
		pos := 0
		for pos < len(text) {
			idx := strings.Index(text[pos:], needle)
			if idx < 0 {
				break
			}
			idx += pos
			next := idx + len(needle)

			if idx > 0 && text[idx-1] == '\\' {
				pos = next
				continue
			}

			colon := skipSpace(text, next)
			if colon >= len(text) || text[colon] != ':' {
				pos = next
				continue
			}

			start := skipSpace(text, colon+1)
			end, terminated := scanValue(text, start)
			if terminated && !p.hasSentinel(text[start:end]) {
				pos = end
				continue
			}

			text = text[:start] + "null" + text[end:]
			replaced++
			pos = start + len("null")
		}
	}
	return text, replaced
}

// IsTruncated reports whether a decoded value still carries a truncation
// marker. Well-formed documents skip the repair pass, so a sentinel inside a
// quoted string survives decoding.
func (p *Parser) IsTruncated(s string) bool {
	return p.hasSentinel(s)
}

func (p *Parser) hasSentinel(s string) bool {
	for _, sentinel := range p.sentinels {
		if sentinel != "" && strings.Contains(s, sentinel) {
			return true
		}
	}
	return false
}

// scanValue returns the end offset of the JSON value starting at start and
// whether it was properly terminated before the end of text.
func scanValue(text string, start int) (int, bool) {
	if start >= len(text) {
		return len(text), false
	}

	switch text[start] {
	case '"':
		escaped := false
		for i := start + 1; i < len(text); i++ {
			c := text[i]
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				return i + 1, true
			}
		}
		return len(text), false

	case '{', '[':
		stack := []byte{closerFor(text[start])}
		inString, escaped := false, false
		for i := start + 1; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{', '[':
				stack = append(stack, closerFor(c))
			case '}', ']':
				if stack[len(stack)-1] == c {
					stack = stack[:len(stack)-1]
					if len(stack) == 0 {
						return i + 1, true
					}
				}
			}
		}
		return len(text), false

	default:
		for i := start; i < len(text); i++ {
			switch text[i] {
			case ' ', '\t', '\n', '\r', ',', '}', ']':
				return i, true
			}
		}
		return len(text), false
	}
}

type structure struct {
	stack    []byte
	inString bool
}

// scanStructure walks the whole text tracking open strings and brackets
func scanStructure(text string) structure {
	var st structure
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if st.inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				st.inString = false
			}
			continue
		}
		switch c {
		case '"':
			st.inString = true
		case '{', '[':
			st.stack = append(st.stack, closerFor(c))
		case '}', ']':
			if n := len(st.stack); n > 0 && st.stack[n-1] == c {
				st.stack = st.stack[:n-1]
			}
		}
	}
	return st
}

// autoClose appends the closers for every bracket still open at the end of
// text, innermost first. An unterminated string is closed before them and a
// dangling comma is dropped.
func autoClose(text string) (string, string) {
	st := scanStructure(text)
	if !st.inString && len(st.stack) == 0 {
		return text, ""
	}

	var closers strings.Builder
	if st.inString {
		closers.WriteByte('"')
	} else {
		text = strings.TrimRight(text, " \t\r\n")
		text = strings.TrimSuffix(text, ",")
	}
	for i := len(st.stack) - 1; i >= 0; i-- {
		closers.WriteByte(st.stack[i])
	}
	return text + closers.String(), closers.String()
}

func closerFor(open byte) byte {
	if open == '{' {
		return '}'
	}
	return ']'
}

func skipSpace(text string, i int) int {
	for i < len(text) {
		switch text[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

func decode(text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	return v, nil
}
