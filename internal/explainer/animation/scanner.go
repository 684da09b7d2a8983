package animation

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokName tokenKind = iota
	tokNumber
	tokString
	tokOp
	tokNewline
	tokIndent
	tokDedent
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	line int
	// depth is the indentation level of the logical line holding the token.
	depth int
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

type scanError struct {
	line int
	msg  string
}

func (e *scanError) Error() string { return fmt.Sprintf("line %d: %s", e.line, e.msg) }

// scanner is a lexical pass over generated Python source. It does not parse
// the grammar; it tokenizes, tracks indentation and bracket nesting, and
// reports the structural errors that make a file unrunnable.
type scanner struct {
	src  []rune
	pos  int
	line int

	indents    []int
	tabsSeen   bool
	spacesSeen bool
	brackets   []rune
	bracketAt  []int

	toks []token
}

var closers = map[rune]rune{')': '(', ']': '[', '}': '{'}

func scan(source string) ([]token, error) {
	s := &scanner{
		src:     []rune(strings.ReplaceAll(source, "\r\n", "\n")),
		line:    1,
		indents: []int{0},
	}
	if err := s.run(); err != nil {
		return nil, err
	}
	return s.toks, nil
}

// scanExpr tokenizes a single expression, such as an f-string replacement
// field. Indentation is not tracked.
func scanExpr(expr string, line int) ([]token, error) {
	s := &scanner{src: []rune(expr), line: line, indents: []int{0}}
	for s.pos < len(s.src) {
		if err := s.next(); err != nil {
			return nil, err
		}
	}
	if len(s.brackets) > 0 {
		return nil, &scanError{line: line, msg: fmt.Sprintf("unclosed %q in f-string expression", s.brackets[len(s.brackets)-1])}
	}
	return s.toks, nil
}

func (s *scanner) emit(kind tokenKind, text string, line int) {
	s.toks = append(s.toks, token{kind: kind, text: text, line: line, depth: len(s.indents) - 1})
}

func (s *scanner) peek(off int) rune {
	if s.pos+off >= len(s.src) {
		return 0
	}
	return s.src[s.pos+off]
}

func (s *scanner) run() error {
	atLineStart := true
	for s.pos < len(s.src) {
		if atLineStart && len(s.brackets) == 0 {
			blank, err := s.indentation()
			if err != nil {
				return err
			}
			if blank {
				continue
			}
			atLineStart = false
		}

		c := s.src[s.pos]
		switch {
		case c == '\n':
			s.pos++
			if len(s.brackets) == 0 {
				s.emit(tokNewline, "", s.line)
				atLineStart = true
			}
			s.line++
		default:
			if err := s.next(); err != nil {
				return err
			}
		}
	}

	if len(s.brackets) > 0 {
		open := s.brackets[len(s.brackets)-1]
		return &scanError{line: s.bracketAt[len(s.bracketAt)-1], msg: fmt.Sprintf("%q was never closed", open)}
	}
	if n := len(s.toks); n > 0 && s.toks[n-1].kind != tokNewline {
		s.emit(tokNewline, "", s.line)
	}
	for len(s.indents) > 1 {
		s.indents = s.indents[:len(s.indents)-1]
		s.emit(tokDedent, "", s.line)
	}
	s.emit(tokEOF, "", s.line)
	return nil
}

// indentation consumes leading whitespace of a physical line. It reports
// blank (whitespace or comment only) lines so they do not affect nesting.
func (s *scanner) indentation() (bool, error) {
	width := 0
	tabs, spaces := false, false
loop:
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case ' ':
			width++
			spaces = true
		case '\t':
			width = (width/8 + 1) * 8
			tabs = true
		case '\f':
			width = 0
		default:
			break loop
		}
		s.pos++
	}
	if s.pos >= len(s.src) {
		return true, nil
	}
	switch s.src[s.pos] {
	case '\n':
		s.pos++
		s.line++
		return true, nil
	case '#':
		s.skipComment()
		if s.pos < len(s.src) {
			s.pos++
			s.line++
		}
		return true, nil
	}

	if tabs && spaces {
		return false, &scanError{line: s.line, msg: "inconsistent use of tabs and spaces in indentation"}
	}
	s.tabsSeen = s.tabsSeen || tabs
	s.spacesSeen = s.spacesSeen || spaces
	if s.tabsSeen && s.spacesSeen {
		return false, &scanError{line: s.line, msg: "inconsistent use of tabs and spaces in indentation"}
	}

	top := s.indents[len(s.indents)-1]
	switch {
	case width > top:
		s.indents = append(s.indents, width)
		s.emit(tokIndent, "", s.line)
	case width < top:
		for width < s.indents[len(s.indents)-1] {
			s.indents = s.indents[:len(s.indents)-1]
			s.emit(tokDedent, "", s.line)
		}
		if width != s.indents[len(s.indents)-1] {
			return false, &scanError{line: s.line, msg: "unindent does not match any outer indentation level"}
		}
	}
	return false, nil
}

func (s *scanner) skipComment() {
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		s.pos++
	}
}

// next scans one token (or skips whitespace, a comment or a continuation).
func (s *scanner) next() error {
	c := s.src[s.pos]
	switch {
	case c == ' ' || c == '\t' || c == '\f':
		s.pos++
		return nil
	case c == '\n':
		// Only reachable inside brackets or expressions.
		s.pos++
		s.line++
		return nil
	case c == '#':
		s.skipComment()
		return nil
	case c == '\\':
		if s.peek(1) == '\n' {
			s.pos += 2
			s.line++
			return nil
		}
		return &scanError{line: s.line, msg: "unexpected character after line continuation"}
	case isIdentStart(c):
		if q, n := s.stringPrefix(); n >= 0 {
			return s.scanString(q, n)
		}
		start := s.pos
		for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
			s.pos++
		}
		s.emit(tokName, string(s.src[start:s.pos]), s.line)
		return nil
	case c >= '0' && c <= '9', c == '.' && isDigit(s.peek(1)):
		start := s.pos
		for s.pos < len(s.src) && (isIdentPart(s.src[s.pos]) || s.src[s.pos] == '.' ||
			((s.src[s.pos] == '+' || s.src[s.pos] == '-') && (s.src[s.pos-1] == 'e' || s.src[s.pos-1] == 'E'))) {
			s.pos++
		}
		s.emit(tokNumber, string(s.src[start:s.pos]), s.line)
		return nil
	case c == '"' || c == '\'':
		return s.scanString(c, 0)
	case c == '(' || c == '[' || c == '{':
		s.brackets = append(s.brackets, c)
		s.bracketAt = append(s.bracketAt, s.line)
		s.pos++
		s.emit(tokOp, string(c), s.line)
		return nil
	case c == ')' || c == ']' || c == '}':
		want := closers[c]
		if len(s.brackets) == 0 {
			return &scanError{line: s.line, msg: fmt.Sprintf("unmatched %q", c)}
		}
		if got := s.brackets[len(s.brackets)-1]; got != want {
			return &scanError{line: s.line, msg: fmt.Sprintf("closing %q does not match opening %q", c, got)}
		}
		s.brackets = s.brackets[:len(s.brackets)-1]
		s.bracketAt = s.bracketAt[:len(s.bracketAt)-1]
		s.pos++
		s.emit(tokOp, string(c), s.line)
		return nil
	}

	if op := s.operator(); op != "" {
		s.pos += len([]rune(op))
		s.emit(tokOp, op, s.line)
		return nil
	}
	return &scanError{line: s.line, msg: fmt.Sprintf("invalid character %q", c)}
}

var operators = []string{
	"**=", "//=", ">>=", "<<=", "...",
	"->", ":=", "==", "!=", "<=", ">=", "**", "//", "<<", ">>",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "@=",
	"+", "-", "*", "/", "%", "@", "&", "|", "^", "~", "<", ">",
	"=", ".", ",", ":", ";", "!",
}

func (s *scanner) operator() string {
	rest := string(s.src[s.pos:min(s.pos+3, len(s.src))])
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			return op
		}
	}
	return ""
}

// stringPrefix reports whether the identifier at pos is a string prefix
// (r, b, u, f and their two-letter combinations) directly followed by a
// quote. It returns the quote and the prefix length, or n = -1.
func (s *scanner) stringPrefix() (rune, int) {
	for n := 1; n <= 2; n++ {
		if s.pos+n >= len(s.src) {
			return 0, -1
		}
		q := s.src[s.pos+n]
		if q != '"' && q != '\'' {
			continue
		}
		p := strings.ToLower(string(s.src[s.pos : s.pos+n]))
		switch p {
		case "r", "b", "u", "f", "rb", "br", "fr", "rf":
			return q, n
		}
		return 0, -1
	}
	return 0, -1
}

func (s *scanner) scanString(quote rune, prefixLen int) error {
	startLine := s.line
	prefix := strings.ToLower(string(s.src[s.pos : s.pos+prefixLen]))
	s.pos += prefixLen

	triple := s.peek(0) == quote && s.peek(1) == quote && s.peek(2) == quote
	if triple {
		s.pos += 3
	} else {
		s.pos++
	}
	bodyStart := s.pos

	for {
		if s.pos >= len(s.src) {
			return &scanError{line: startLine, msg: "unterminated string literal"}
		}
		c := s.src[s.pos]
		switch {
		case c == '\\':
			if s.peek(1) == '\n' {
				s.line++
			}
			s.pos += 2
			continue
		case c == '\n':
			if !triple {
				return &scanError{line: startLine, msg: "unterminated string literal"}
			}
			s.line++
		case c == quote:
			if !triple {
				body := string(s.src[bodyStart:s.pos])
				s.pos++
				return s.finishString(prefix, body, startLine)
			}
			if s.peek(1) == quote && s.peek(2) == quote {
				body := string(s.src[bodyStart:s.pos])
				s.pos += 3
				return s.finishString(prefix, body, startLine)
			}
		}
		s.pos++
	}
}

// finishString emits the string token, followed by the tokens of any
// f-string replacement fields so their calls are visible to the checks.
func (s *scanner) finishString(prefix, body string, line int) error {
	s.emit(tokString, body, line)
	if !strings.Contains(prefix, "f") {
		return nil
	}
	exprs, err := fieldExpressions(body)
	if err != nil {
		return &scanError{line: line, msg: err.Error()}
	}
	for _, e := range exprs {
		toks, err := scanExpr(e, line)
		if err != nil {
			return err
		}
		for _, t := range toks {
			t.depth = len(s.indents) - 1
			s.toks = append(s.toks, t)
		}
	}
	return nil
}

// fieldExpressions extracts the replacement-field expressions of an f-string
// body, including fields nested in format specs.
func fieldExpressions(body string) ([]string, error) {
	var out []string
	rs := []rune(body)
	for i := 0; i < len(rs); i++ {
		switch rs[i] {
		case '{':
			if i+1 < len(rs) && rs[i+1] == '{' {
				i++
				continue
			}
			depth := 1
			j := i + 1
			end := -1
			for ; j < len(rs) && depth > 0; j++ {
				switch rs[j] {
				case '{', '(', '[':
					depth++
				case '}', ')', ']':
					depth--
				case '!', ':':
					if depth == 1 && end == -1 && !(rs[j] == '!' && j+1 < len(rs) && rs[j+1] == '=') {
						end = j
					}
				}
			}
			if depth != 0 {
				return nil, fmt.Errorf("f-string: expecting '}'")
			}
			if end == -1 {
				end = j - 1
			}
			out = append(out, string(rs[i+1:end]))
			if end < j-1 {
				// conversion and format spec; nested fields are expressions too
				nested, err := fieldExpressions(string(rs[end+1 : j-1]))
				if err != nil {
					return nil, err
				}
				out = append(out, nested...)
			}
			i = j - 1
		case '}':
			if i+1 < len(rs) && rs[i+1] == '}' {
				i++
				continue
			}
			return nil, fmt.Errorf("f-string: single '}' is not allowed")
		}
	}
	return out, nil
}

func isIdentStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c > 127
}

func isIdentPart(c rune) bool { return isIdentStart(c) || isDigit(c) }

func isDigit(c rune) bool { return c >= '0' && c <= '9' }
