package main

import "fmt"

// Token types for the Rask language
type TokenType int

const (
	TOKEN_EOF TokenType = iota
	TOKEN_IDENT
	TOKEN_NUMBER
	TOKEN_STRING
	TOKEN_PLUS
	TOKEN_MINUS
	TOKEN_STAR
	TOKEN_SLASH
	TOKEN_MOD
	TOKEN_ASSIGN // =
	TOKEN_LT     // <
	TOKEN_GT     // >
	TOKEN_LE     // <=
	TOKEN_GE     // >=
	TOKEN_EQ     // ==
	TOKEN_NE     // !=
	TOKEN_ANDAND // &&
	TOKEN_OROR   // ||
	TOKEN_BANG   // !
	TOKEN_LPAREN
	TOKEN_RPAREN
	TOKEN_LBRACE
	TOKEN_RBRACE
	TOKEN_COMMA
	TOKEN_SEMICOLON
	// Keywords
	TOKEN_FN
	TOKEN_LET
	TOKEN_RETURN
	TOKEN_IF
	TOKEN_ELSE
	TOKEN_WHILE
	TOKEN_TRUE
	TOKEN_FALSE
	TOKEN_EXTERN
)

var tokenNames = map[TokenType]string{
	TOKEN_EOF:       "EOF",
	TOKEN_IDENT:     "identifier",
	TOKEN_NUMBER:    "number",
	TOKEN_STRING:    "string",
	TOKEN_PLUS:      "+",
	TOKEN_MINUS:     "-",
	TOKEN_STAR:      "*",
	TOKEN_SLASH:     "/",
	TOKEN_MOD:       "%",
	TOKEN_ASSIGN:    "=",
	TOKEN_LT:        "<",
	TOKEN_GT:        ">",
	TOKEN_LE:        "<=",
	TOKEN_GE:        ">=",
	TOKEN_EQ:        "==",
	TOKEN_NE:        "!=",
	TOKEN_ANDAND:    "&&",
	TOKEN_OROR:      "||",
	TOKEN_BANG:      "!",
	TOKEN_LPAREN:    "(",
	TOKEN_RPAREN:    ")",
	TOKEN_LBRACE:    "{",
	TOKEN_RBRACE:    "}",
	TOKEN_COMMA:     ",",
	TOKEN_SEMICOLON: ";",
	TOKEN_FN:        "fn",
	TOKEN_LET:       "let",
	TOKEN_RETURN:    "return",
	TOKEN_IF:        "if",
	TOKEN_ELSE:      "else",
	TOKEN_WHILE:     "while",
	TOKEN_TRUE:      "true",
	TOKEN_FALSE:     "false",
	TOKEN_EXTERN:    "extern",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

var keywords = map[string]TokenType{
	"fn":     TOKEN_FN,
	"let":    TOKEN_LET,
	"return": TOKEN_RETURN,
	"if":     TOKEN_IF,
	"else":   TOKEN_ELSE,
	"while":  TOKEN_WHILE,
	"true":   TOKEN_TRUE,
	"false":  TOKEN_FALSE,
	"extern": TOKEN_EXTERN,
}

// Token is one lexed token with its source position
type Token struct {
	Type  TokenType
	Value string
	Line  int
	Col   int
}

func (t Token) String() string {
	switch t.Type {
	case TOKEN_IDENT, TOKEN_NUMBER, TOKEN_STRING:
		return fmt.Sprintf("%s(%s)", t.Type, t.Value)
	default:
		return t.Type.String()
	}
}
