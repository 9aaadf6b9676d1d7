package server

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeLiteral renders v in the legacy wire's textual tuple format:
// strings single-quoted, None/True/False for nil/bool, decimal integers,
// [comma-separated] for lists (tuples are produced by EncodeTuple). It never
// shells out to a language evaluator; it is a direct, hand-rolled
// encoder paired with DecodeLiteral below.
func EncodeLiteral(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return encodeLiteralString(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case []interface{}:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = EncodeLiteral(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = encodeLiteralString(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return encodeLiteralString(fmt.Sprintf("%v", t))
	}
}

// EncodeTuple renders items as a parenthesized tuple literal, the shape
// every native-transport request line takes: ('<command>', <params>).
func EncodeTuple(items ...interface{}) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = EncodeLiteral(item)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func encodeLiteralString(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\', '\'':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// literalParser is a recursive-descent parser for the subset of the
// legacy literal syntax the server interface needs: None, True, False,
// signed decimal integers, single- or double-quoted strings with
// backslash escapes, [lists] and (tuples). It never treats its input as
// executable code.
type literalParser struct {
	s   string
	pos int
}

// DecodeLiteral parses s (the content of one native-transport response
// line, or one value embedded in a json/http payload that still carries
// this legacy shape) into Go values: nil, bool, int64, string, or
// []interface{} for both lists and tuples.
func DecodeLiteral(s string) (interface{}, error) {
	p := &literalParser{s: s}
	p.skipSpace()
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("literal: trailing data at offset %d", p.pos)
	}
	return v, nil
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t' || p.s[p.pos] == '\n' || p.s[p.pos] == '\r') {
		p.pos++
	}
}

func (p *literalParser) parseValue() (interface{}, error) {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return nil, fmt.Errorf("literal: unexpected end of input")
	}

	switch c := p.s[p.pos]; {
	case c == '\'' || c == '"':
		return p.parseString()
	case c == '[':
		return p.parseSequence('[', ']')
	case c == '(':
		return p.parseSequence('(', ')')
	case c == '-' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	default:
		return p.parseKeyword()
	}
}

func (p *literalParser) parseString() (string, error) {
	quote := p.s[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '\\' && p.pos+1 < len(p.s) {
			b.WriteByte(p.s[p.pos+1])
			p.pos += 2
			continue
		}
		if c == quote {
			p.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		p.pos++
	}
	return "", fmt.Errorf("literal: unterminated string")
}

func (p *literalParser) parseNumber() (int64, error) {
	start := p.pos
	if p.s[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	n, err := strconv.ParseInt(p.s[start:p.pos], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("literal: invalid number %q: %w", p.s[start:p.pos], err)
	}
	return n, nil
}

func (p *literalParser) parseKeyword() (interface{}, error) {
	for _, kw := range []struct {
		text string
		val  interface{}
	}{
		{"None", nil},
		{"True", true},
		{"False", false},
	} {
		if strings.HasPrefix(p.s[p.pos:], kw.text) {
			p.pos += len(kw.text)
			return kw.val, nil
		}
	}
	return nil, fmt.Errorf("literal: unrecognized token at offset %d", p.pos)
}

func (p *literalParser) parseSequence(open, close byte) ([]interface{}, error) {
	p.pos++ // consume open
	items := make([]interface{}, 0, 4)
	p.skipSpace()
	if p.pos < len(p.s) && p.s[p.pos] == close {
		p.pos++
		return items, nil
	}
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		p.skipSpace()
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("literal: unterminated sequence starting %q", string(open))
		}
		if p.s[p.pos] == ',' {
			p.pos++
			p.skipSpace()
			// allow a trailing comma before close, e.g. single-element tuple (1,)
			if p.pos < len(p.s) && p.s[p.pos] == close {
				p.pos++
				return items, nil
			}
			continue
		}
		if p.s[p.pos] == close {
			p.pos++
			return items, nil
		}
		return nil, fmt.Errorf("literal: expected ',' or %q at offset %d", string(close), p.pos)
	}
}
