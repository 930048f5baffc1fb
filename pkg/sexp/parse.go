package sexp

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// SyntaxError reports a malformed input form with the byte offset at which
// the problem was detected.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Offset, e.Msg)
}

type token struct {
	text   string
	offset int
}

// tokenize splits source into parens, quoted strings, and bare atoms.
// Semicolon comments run to end of line and are discarded.
func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ';':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '(' || c == ')':
			toks = append(toks, token{string(c), i})
			i++
		case c == '"':
			start := i
			i++
			for {
				if i >= len(src) {
					return nil, &SyntaxError{start, "unterminated string"}
				}
				if src[i] == '\\' {
					i += 2
					continue
				}
				if src[i] == '"' {
					i++
					break
				}
				i++
			}
			toks = append(toks, token{src[start:i], start})
		case unicode.IsSpace(rune(c)):
			i++
		default:
			start := i
			for i < len(src) {
				c := src[i]
				if c == '(' || c == ')' || c == ';' || c == '"' || unicode.IsSpace(rune(c)) {
					break
				}
				i++
			}
			toks = append(toks, token{src[start:i], start})
		}
	}
	return toks, nil
}

// Parse reads source text into a Form. A file containing a single top-level
// expression yields that expression; multiple top-level expressions yield a
// List of them.
func Parse(src string) (Form, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, &SyntaxError{0, "empty input"}
	}

	p := &parser{toks: toks}
	var exprs []Form
	for p.pos < len(p.toks) {
		f, err := p.read()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, f)
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return List(exprs), nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) read() (Form, error) {
	t := p.toks[p.pos]
	p.pos++
	switch t.text {
	case "(":
		lst := List{}
		for {
			if p.pos >= len(p.toks) {
				return nil, &SyntaxError{t.offset, "unclosed ("}
			}
			if p.toks[p.pos].text == ")" {
				p.pos++
				return lst, nil
			}
			child, err := p.read()
			if err != nil {
				return nil, err
			}
			lst = append(lst, child)
		}
	case ")":
		return nil, &SyntaxError{t.offset, ") without ("}
	default:
		return atom(t)
	}
}

// atom classifies a bare token as a string, integer, float, or symbol.
func atom(t token) (Form, error) {
	if strings.HasPrefix(t.text, "\"") {
		s, err := strconv.Unquote(t.text)
		if err != nil {
			return nil, &SyntaxError{t.offset, fmt.Sprintf("bad string literal %s", t.text)}
		}
		return Str(s), nil
	}
	if n, err := strconv.ParseInt(t.text, 10, 64); err == nil {
		return Int(n), nil
	}
	if strings.ContainsAny(t.text, ".eE") {
		if f, err := strconv.ParseFloat(t.text, 64); err == nil {
			return Float(f), nil
		}
	}
	return Symbol(t.text), nil
}
