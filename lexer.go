package main

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Lexer scans Rask source into a token stream
type Lexer struct {
	input string
	pos   int
	line  int
	col   int
}

func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, col: 1}
}

func (l *Lexer) peek() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *Lexer) advance() byte {
	ch := l.input[l.pos]
	l.pos++
	if ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return ch
}

func (l *Lexer) skipWhitespaceAndComments() {
	for l.pos < len(l.input) {
		ch := l.peek()
		if ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n' {
			l.advance()
			continue
		}
		// Line comments start with //
		if ch == '/' && l.peekAt(1) == '/' {
			for l.pos < len(l.input) && l.peek() != '\n' {
				l.advance()
			}
			continue
		}
		break
	}
}

// Tokenize scans the whole input and returns the token stream.
// The returned slice always ends with a TOKEN_EOF token on success.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		l.skipWhitespaceAndComments()
		if l.pos >= len(l.input) {
			tokens = append(tokens, Token{Type: TOKEN_EOF, Line: l.line, Col: l.col})
			return tokens, nil
		}
		line, col := l.line, l.col
		ch := l.peek()

		switch {
		case unicode.IsLetter(rune(ch)) || ch == '_':
			var sb strings.Builder
			for l.pos < len(l.input) {
				c := l.peek()
				if !unicode.IsLetter(rune(c)) && !unicode.IsDigit(rune(c)) && c != '_' {
					break
				}
				sb.WriteByte(l.advance())
			}
			word := sb.String()
			if kw, ok := keywords[word]; ok {
				tokens = append(tokens, Token{Type: kw, Value: word, Line: line, Col: col})
			} else {
				tokens = append(tokens, Token{Type: TOKEN_IDENT, Value: word, Line: line, Col: col})
			}
			continue

		case unicode.IsDigit(rune(ch)):
			var sb strings.Builder
			for l.pos < len(l.input) && unicode.IsDigit(rune(l.peek())) {
				sb.WriteByte(l.advance())
			}
			tokens = append(tokens, Token{Type: TOKEN_NUMBER, Value: sb.String(), Line: line, Col: col})
			continue

		case ch == '"':
			l.advance()
			var sb strings.Builder
			for l.pos < len(l.input) && l.peek() != '"' {
				c := l.advance()
				if c == '\\' && l.pos < len(l.input) {
					esc := l.advance()
					switch esc {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					case '\\':
						sb.WriteByte('\\')
					case '"':
						sb.WriteByte('"')
					case '0':
						sb.WriteByte(0)
					default:
						return nil, errors.Errorf("line %d:%d: unknown escape sequence \\%c", line, col, esc)
					}
					continue
				}
				sb.WriteByte(c)
			}
			if l.pos >= len(l.input) {
				return nil, errors.Errorf("line %d:%d: unterminated string literal", line, col)
			}
			l.advance() // closing quote
			tokens = append(tokens, Token{Type: TOKEN_STRING, Value: sb.String(), Line: line, Col: col})
			continue
		}

		// Operators and punctuation
		two := ""
		if l.pos+1 < len(l.input) {
			two = l.input[l.pos : l.pos+2]
		}
		var typ TokenType = TOKEN_EOF
		switch two {
		case "<=":
			typ = TOKEN_LE
		case ">=":
			typ = TOKEN_GE
		case "==":
			typ = TOKEN_EQ
		case "!=":
			typ = TOKEN_NE
		case "&&":
			typ = TOKEN_ANDAND
		case "||":
			typ = TOKEN_OROR
		}
		if typ != TOKEN_EOF {
			l.advance()
			l.advance()
			tokens = append(tokens, Token{Type: typ, Value: two, Line: line, Col: col})
			continue
		}

		switch ch {
		case '+':
			typ = TOKEN_PLUS
		case '-':
			typ = TOKEN_MINUS
		case '*':
			typ = TOKEN_STAR
		case '/':
			typ = TOKEN_SLASH
		case '%':
			typ = TOKEN_MOD
		case '=':
			typ = TOKEN_ASSIGN
		case '<':
			typ = TOKEN_LT
		case '>':
			typ = TOKEN_GT
		case '!':
			typ = TOKEN_BANG
		case '(':
			typ = TOKEN_LPAREN
		case ')':
			typ = TOKEN_RPAREN
		case '{':
			typ = TOKEN_LBRACE
		case '}':
			typ = TOKEN_RBRACE
		case ',':
			typ = TOKEN_COMMA
		case ';':
			typ = TOKEN_SEMICOLON
		default:
			return nil, errors.Errorf("line %d:%d: unexpected character %q", line, col, string(ch))
		}
		l.advance()
		tokens = append(tokens, Token{Type: typ, Value: string(ch), Line: line, Col: col})
	}
}

// CountLines returns the number of lines in source, counting a trailing
// partial line as a line.
func CountLines(source string) int {
	if len(source) == 0 {
		return 0
	}
	n := strings.Count(source, "\n")
	if !strings.HasSuffix(source, "\n") {
		n++
	}
	return n
}
