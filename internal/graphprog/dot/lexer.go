package dot

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenIdent
	tokenString
	tokenSymbol
)

type token struct {
	typ tokenType
	lit string
	pos int
}

type lexer struct {
	src []rune
	pos int
}

func newLexer(src []byte) *lexer {
	return &lexer{src: []rune(string(src))}
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{typ: tokenEOF, pos: l.pos}, nil
	}
	start := l.pos
	r := l.src[l.pos]
	switch {
	case r == '"':
		return l.readString()
	case r == '-' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '>':
		l.pos += 2
		return token{typ: tokenSymbol, lit: "->", pos: start}, nil
	case strings.ContainsRune("{}[]=;,-:/", r):
		l.pos++
		return token{typ: tokenSymbol, lit: string(r), pos: start}, nil
	case isIdentRune(r):
		for l.pos < len(l.src) && isIdentRune(l.src[l.pos]) {
			l.pos++
		}
		return token{typ: tokenIdent, lit: string(l.src[start:l.pos]), pos: start}, nil
	}
	return token{}, fmt.Errorf("dot parse: unexpected character %q at %d", r, start)
}

func (l *lexer) readString() (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		switch r {
		case '"':
			l.pos++
			return token{typ: tokenString, lit: b.String(), pos: start}, nil
		case '\\':
			if l.pos+1 >= len(l.src) {
				return token{}, fmt.Errorf("dot parse: unterminated escape at %d", l.pos)
			}
			l.pos++
			switch esc := l.src[l.pos]; esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case '"', '\\':
				b.WriteRune(esc)
			default:
				b.WriteRune('\\')
				b.WriteRune(esc)
			}
		default:
			b.WriteRune(r)
		}
		l.pos++
	}
	return token{}, fmt.Errorf("dot parse: unterminated string starting at %d", start)
}

// stripComments removes //, # and /* */ comments outside of quoted strings.
// Newlines are kept so token positions stay meaningful.
func stripComments(src []byte) ([]byte, error) {
	in := []rune(string(src))
	var out strings.Builder
	inString := false
	lineStart := true
	for i := 0; i < len(in); i++ {
		r := in[i]
		if inString {
			out.WriteRune(r)
			if r == '\\' && i+1 < len(in) {
				i++
				out.WriteRune(in[i])
				continue
			}
			if r == '"' {
				inString = false
			}
			continue
		}
		switch {
		case r == '"':
			inString = true
			out.WriteRune(r)
		case r == '/' && i+1 < len(in) && in[i+1] == '/', r == '#' && lineStart:
			for i < len(in) && in[i] != '\n' {
				i++
			}
			if i < len(in) {
				out.WriteRune('\n')
			}
			lineStart = true
			continue
		case r == '/' && i+1 < len(in) && in[i+1] == '*':
			end := -1
			for j := i + 2; j+1 < len(in); j++ {
				if in[j] == '*' && in[j+1] == '/' {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, fmt.Errorf("dot parse: unterminated block comment at %d", i)
			}
			for _, c := range in[i : end+2] {
				if c == '\n' {
					out.WriteRune('\n')
				}
			}
			i = end + 1
			continue
		default:
			out.WriteRune(r)
		}
		if r == '\n' {
			lineStart = true
		} else if !unicode.IsSpace(r) {
			lineStart = false
		}
	}
	if inString {
		return nil, fmt.Errorf("dot parse: unterminated string")
	}
	return []byte(out.String()), nil
}

// extractDescription returns the text of a leading "@desc:" comment, if any.
// Only comment lines before the first statement are considered.
func extractDescription(src []byte) string {
	for _, line := range strings.Split(string(src), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var body string
		switch {
		case strings.HasPrefix(line, "//"):
			body = strings.TrimPrefix(line, "//")
		case strings.HasPrefix(line, "#"):
			body = strings.TrimPrefix(line, "#")
		default:
			return ""
		}
		body = strings.TrimSpace(body)
		if rest, ok := strings.CutPrefix(body, "@desc:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
