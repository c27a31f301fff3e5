package search

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseFilter splits a filter string into its AND-joined comparisons.
func ParseFilter(filterString string) ([]Comparison, error) {
	filterString = strings.TrimSpace(filterString)
	if filterString == "" {
		return nil, nil
	}
	lexer := &filterLexer{input: filterString}
	tokens, err := lexer.lex()
	if err != nil {
		return nil, err
	}
	var comparisons []Comparison
	pos := 0
	for {
		if pos+3 > len(tokens) {
			return nil, invalid("Invalid filter %q: incomplete comparison", filterString)
		}
		key, consumed, err := parseKey(tokens[pos:])
		if err != nil {
			return nil, err
		}
		pos += consumed
		if pos+2 > len(tokens) || tokens[pos].kind != tokenOp {
			return nil, invalid("Invalid filter %q: expected a comparison operator", filterString)
		}
		op := tokens[pos].text
		value, err := parseValue(tokens[pos+1])
		if err != nil {
			return nil, err
		}
		comparisons = append(comparisons, Comparison{Key: key, Op: op, Value: value})
		pos += 2
		if pos == len(tokens) {
			return comparisons, nil
		}
		if tokens[pos].kind != tokenWord || !strings.EqualFold(tokens[pos].text, "AND") {
			return nil, invalid("Invalid filter %q: comparisons must be joined with AND", filterString)
		}
		pos++
	}
}

func parseKey(tokens []token) (string, int, error) {
	head := tokens[0]
	if head.kind == tokenQuoted {
		return normalizeKey(head.text), 1, nil
	}
	if head.kind != tokenWord {
		return "", 0, invalid("Invalid filter key %q", head.text)
	}
	// a quoted segment may follow a trailing dot, e.g. tags."my key"
	if strings.HasSuffix(head.text, ".") && len(tokens) > 1 && tokens[1].kind == tokenQuoted {
		return head.text + tokens[1].text, 2, nil
	}
	return normalizeKey(head.text), 1, nil
}

func parseValue(t token) (interface{}, error) {
	switch t.kind {
	case tokenQuoted:
		return t.text, nil
	case tokenWord:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, invalid("Invalid filter value %q: expected a number or quoted string", t.text)
		}
		return f, nil
	}
	return nil, invalid("Invalid filter value %q", t.text)
}

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuoted
	tokenOp
)

type token struct {
	kind tokenKind
	text string
}

type filterLexer struct {
	input string
	pos   int
}

func (l *filterLexer) lex() ([]token, error) {
	var tokens []token
	for {
		l.skipSpaces()
		if l.pos >= len(l.input) {
			return tokens, nil
		}
		c := l.input[l.pos]
		switch {
		case c == '\'' || c == '"' || c == '`':
			text, err := l.quoted(c)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenQuoted, text: text})
		case c == '!' || c == '<' || c == '>' || c == '=':
			tokens = append(tokens, token{kind: tokenOp, text: l.operator()})
		case isWordChar(rune(c)):
			word := l.word()
			if upper := strings.ToUpper(word); upper == "LIKE" || upper == "ILIKE" {
				tokens = append(tokens, token{kind: tokenOp, text: upper})
			} else {
				tokens = append(tokens, token{kind: tokenWord, text: word})
			}
		default:
			return nil, invalid("Unexpected character %q in filter", string(c))
		}
	}
}

func (l *filterLexer) skipSpaces() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
}

func (l *filterLexer) quoted(quote byte) (string, error) {
	start := l.pos + 1
	for i := start; i < len(l.input); i++ {
		if l.input[i] == quote {
			l.pos = i + 1
			return l.input[start:i], nil
		}
	}
	return "", invalid("Unterminated quote in filter %q", l.input)
}

func (l *filterLexer) operator() string {
	if l.pos+1 < len(l.input) && l.input[l.pos+1] == '=' {
		op := l.input[l.pos : l.pos+2]
		l.pos += 2
		return op
	}
	op := l.input[l.pos : l.pos+1]
	l.pos++
	return op
}

func (l *filterLexer) word() string {
	start := l.pos
	for l.pos < len(l.input) && isWordChar(rune(l.input[l.pos])) {
		l.pos++
	}
	return l.input[start:l.pos]
}

func isWordChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) ||
		c == '_' || c == '.' || c == '-' || c == '/' || c == '+'
}
