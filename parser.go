package main

import (
	"strconv"

	"github.com/pkg/errors"
)

// Parser builds a Program from a token stream by recursive descent
type Parser struct {
	tokens []Token
	pos    int
	file   string
}

func NewParser(tokens []Token, file string) *Parser {
	return &Parser{tokens: tokens, file: file}
}

func (p *Parser) cur() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TOKEN_EOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) next() Token {
	tok := p.cur()
	p.pos++
	return tok
}

func (p *Parser) accept(t TokenType) bool {
	if p.cur().Type == t {
		p.pos++
		return true
	}
	return false
}

func (p *Parser) expect(t TokenType) (Token, error) {
	tok := p.cur()
	if tok.Type != t {
		return tok, p.errorf(tok, "expected %s, found %s", t, tok)
	}
	p.pos++
	return tok, nil
}

func (p *Parser) errorf(tok Token, format string, args ...interface{}) error {
	prefix := errors.Errorf(format, args...)
	return errors.Wrapf(prefix, "%s:%d:%d", p.file, tok.Line, tok.Col)
}

// Parse parses a whole source file
func (p *Parser) Parse() (*Program, error) {
	program := &Program{}
	for p.cur().Type != TOKEN_EOF {
		switch p.cur().Type {
		case TOKEN_EXTERN:
			decl, err := p.parseExtern()
			if err != nil {
				return nil, err
			}
			program.Externs = append(program.Externs, decl)
		case TOKEN_FN:
			fn, err := p.parseFunc()
			if err != nil {
				return nil, err
			}
			program.Functions = append(program.Functions, fn)
		default:
			return nil, p.errorf(p.cur(), "expected fn or extern at top level, found %s", p.cur())
		}
	}
	return program, nil
}

func (p *Parser) parseExtern() (*ExternDecl, error) {
	first := p.next() // extern
	if _, err := p.expect(TOKEN_FN); err != nil {
		return nil, err
	}
	name, err := p.expect(TOKEN_IDENT)
	if err != nil {
		return nil, err
	}
	params, err := p.parseParamList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
		return nil, err
	}
	return &ExternDecl{Name: name.Value, Params: params, Line: first.Line}, nil
}

func (p *Parser) parseFunc() (*FuncDecl, error) {
	first := p.next() // fn
	name, err := p.expect(TOKEN_IDENT)
	if err != nil {
		return nil, err
	}
	params, err := p.parseParamList()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &FuncDecl{Name: name.Value, Params: params, Body: body, Line: first.Line}, nil
}

func (p *Parser) parseParamList() ([]string, error) {
	if _, err := p.expect(TOKEN_LPAREN); err != nil {
		return nil, err
	}
	var params []string
	for p.cur().Type != TOKEN_RPAREN {
		name, err := p.expect(TOKEN_IDENT)
		if err != nil {
			return nil, err
		}
		params = append(params, name.Value)
		if !p.accept(TOKEN_COMMA) {
			break
		}
	}
	if _, err := p.expect(TOKEN_RPAREN); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *Parser) parseBlock() (*Block, error) {
	if _, err := p.expect(TOKEN_LBRACE); err != nil {
		return nil, err
	}
	block := &Block{}
	for p.cur().Type != TOKEN_RBRACE {
		if p.cur().Type == TOKEN_EOF {
			return nil, p.errorf(p.cur(), "unexpected end of file, expected }")
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		block.Statements = append(block.Statements, stmt)
	}
	p.next() // }
	return block, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	tok := p.cur()
	switch tok.Type {
	case TOKEN_LET:
		p.next()
		name, err := p.expect(TOKEN_IDENT)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TOKEN_ASSIGN); err != nil {
			return nil, err
		}
		value, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
			return nil, err
		}
		return &LetStmt{Name: name.Value, Value: value, Line: tok.Line}, nil

	case TOKEN_RETURN:
		p.next()
		if p.accept(TOKEN_SEMICOLON) {
			return &ReturnStmt{Line: tok.Line}, nil
		}
		value, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
			return nil, err
		}
		return &ReturnStmt{Value: value, Line: tok.Line}, nil

	case TOKEN_IF:
		p.next()
		cond, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		then, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		var elseBlock *Block
		if p.accept(TOKEN_ELSE) {
			elseBlock, err = p.parseBlock()
			if err != nil {
				return nil, err
			}
		}
		return &IfStmt{Cond: cond, Then: then, Else: elseBlock, Line: tok.Line}, nil

	case TOKEN_WHILE:
		p.next()
		cond, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		body, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		return &WhileStmt{Cond: cond, Body: body, Line: tok.Line}, nil

	case TOKEN_IDENT:
		// Either an assignment or a call statement
		if p.pos+1 < len(p.tokens) && p.tokens[p.pos+1].Type == TOKEN_ASSIGN {
			name := p.next()
			p.next() // =
			value, err := p.parseExpression(0)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
				return nil, err
			}
			return &AssignStmt{Name: name.Value, Value: value, Line: tok.Line}, nil
		}
		expr, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TOKEN_SEMICOLON); err != nil {
			return nil, err
		}
		return &ExprStmt{Expr: expr, Line: tok.Line}, nil

	default:
		return nil, p.errorf(tok, "unexpected %s at start of statement", tok)
	}
}

// Binding powers for precedence-climbing expression parsing
var precedence = map[TokenType]int{
	TOKEN_OROR:   1,
	TOKEN_ANDAND: 2,
	TOKEN_EQ:     3,
	TOKEN_NE:     3,
	TOKEN_LT:     4,
	TOKEN_GT:     4,
	TOKEN_LE:     4,
	TOKEN_GE:     4,
	TOKEN_PLUS:   5,
	TOKEN_MINUS:  5,
	TOKEN_STAR:   6,
	TOKEN_SLASH:  6,
	TOKEN_MOD:    6,
}

func (p *Parser) parseExpression(minPrec int) (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op := p.cur()
		prec, ok := precedence[op.Type]
		if !ok || prec < minPrec {
			return left, nil
		}
		p.next()
		right, err := p.parseExpression(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op.Type, Left: left, Right: right, Line: op.Line}
	}
}

func (p *Parser) parseUnary() (Expression, error) {
	tok := p.cur()
	if tok.Type == TOKEN_MINUS || tok.Type == TOKEN_BANG {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: tok.Type, Operand: operand, Line: tok.Line}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expression, error) {
	tok := p.next()
	switch tok.Type {
	case TOKEN_NUMBER:
		v, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			return nil, p.errorf(tok, "integer literal out of range: %s", tok.Value)
		}
		return &IntLit{Value: v, Line: tok.Line}, nil

	case TOKEN_STRING:
		return &StrLit{Value: tok.Value, Line: tok.Line}, nil

	case TOKEN_TRUE:
		return &BoolLit{Value: true, Line: tok.Line}, nil

	case TOKEN_FALSE:
		return &BoolLit{Value: false, Line: tok.Line}, nil

	case TOKEN_IDENT:
		if p.cur().Type == TOKEN_LPAREN {
			p.next() // (
			var args []Expression
			for p.cur().Type != TOKEN_RPAREN {
				arg, err := p.parseExpression(0)
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if !p.accept(TOKEN_COMMA) {
					break
				}
			}
			if _, err := p.expect(TOKEN_RPAREN); err != nil {
				return nil, err
			}
			return &CallExpr{Name: tok.Value, Args: args, Line: tok.Line}, nil
		}
		return &VarRef{Name: tok.Value, Line: tok.Line}, nil

	case TOKEN_LPAREN:
		expr, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TOKEN_RPAREN); err != nil {
			return nil, err
		}
		return expr, nil

	default:
		return nil, p.errorf(tok, "unexpected %s in expression", tok)
	}
}
