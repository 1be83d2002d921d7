package main

import (
	"testing"
)

func TestTokenizeBasics(t *testing.T) {
	tokens, err := NewLexer(`fn main() { let x = 42; return x; }`).Tokenize()
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	want := []TokenType{
		TOKEN_FN, TOKEN_IDENT, TOKEN_LPAREN, TOKEN_RPAREN, TOKEN_LBRACE,
		TOKEN_LET, TOKEN_IDENT, TOKEN_ASSIGN, TOKEN_NUMBER, TOKEN_SEMICOLON,
		TOKEN_RETURN, TOKEN_IDENT, TOKEN_SEMICOLON,
		TOKEN_RBRACE, TOKEN_EOF,
	}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(tokens), len(want))
	}
	for i, w := range want {
		if tokens[i].Type != w {
			t.Errorf("token %d = %s, want %s", i, tokens[i].Type, w)
		}
	}
}

func TestTokenizeOperators(t *testing.T) {
	cases := map[string]TokenType{
		"==": TOKEN_EQ,
		"!=": TOKEN_NE,
		"<=": TOKEN_LE,
		">=": TOKEN_GE,
		"&&": TOKEN_ANDAND,
		"||": TOKEN_OROR,
	}
	for src, want := range cases {
		tokens, err := NewLexer(src).Tokenize()
		if err != nil {
			t.Fatalf("Tokenize(%q): %v", src, err)
		}
		if tokens[0].Type != want {
			t.Errorf("Tokenize(%q) = %s, want %s", src, tokens[0].Type, want)
		}
	}
}

func TestTokenizeStringEscapes(t *testing.T) {
	tokens, err := NewLexer(`"a\n\t\"b\\"`).Tokenize()
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if tokens[0].Type != TOKEN_STRING {
		t.Fatalf("type = %s, want string", tokens[0].Type)
	}
	if tokens[0].Value != "a\n\t\"b\\" {
		t.Errorf("value = %q", tokens[0].Value)
	}
}

func TestTokenizeComments(t *testing.T) {
	tokens, err := NewLexer("// leading\nlet x = 1; // trailing\n").Tokenize()
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if tokens[0].Type != TOKEN_LET {
		t.Errorf("comments should be skipped, first token = %s", tokens[0].Type)
	}
}

func TestTokenizeTracksLines(t *testing.T) {
	tokens, err := NewLexer("let\nx\n=\n1;").Tokenize()
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if tokens[0].Line != 1 || tokens[1].Line != 2 || tokens[2].Line != 3 {
		t.Errorf("line tracking broken: %d %d %d", tokens[0].Line, tokens[1].Line, tokens[2].Line)
	}
}

func TestTokenizeUnterminatedString(t *testing.T) {
	if _, err := NewLexer(`"never closed`).Tokenize(); err == nil {
		t.Error("unterminated string should be an error")
	}
}

func TestCountLines(t *testing.T) {
	cases := []struct {
		src  string
		want int
	}{
		{"", 0},
		{"one", 1},
		{"one\ntwo", 2},
		{"one\ntwo\n", 2},
	}
	for _, c := range cases {
		if got := CountLines(c.src); got != c.want {
			t.Errorf("CountLines(%q) = %d, want %d", c.src, got, c.want)
		}
	}
}
