// ABOUTME: Tokenizer for the pipeline DOT dialect, turning source text into a token stream.
// ABOUTME: Handles identifiers, keywords, quoted strings with escapes, numbers, booleans, comments, and punctuation.
package dot

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType identifies the lexical class of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenDigraph
	TokenSubgraph
	TokenGraph
	TokenNode
	TokenEdge
	TokenLBrace
	TokenRBrace
	TokenLBracket
	TokenRBracket
	TokenArrow
	TokenEquals
	TokenComma
	TokenSemicolon
	TokenIdentifier
	TokenString
	TokenNumber
	TokenBoolean
	TokenMinus
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenDigraph:    "DIGRAPH",
	TokenSubgraph:   "SUBGRAPH",
	TokenGraph:      "GRAPH",
	TokenNode:       "NODE",
	TokenEdge:       "EDGE",
	TokenLBrace:     "LBRACE",
	TokenRBrace:     "RBRACE",
	TokenLBracket:   "LBRACKET",
	TokenRBracket:   "RBRACKET",
	TokenArrow:      "ARROW",
	TokenEquals:     "EQUALS",
	TokenComma:      "COMMA",
	TokenSemicolon:  "SEMICOLON",
	TokenIdentifier: "IDENTIFIER",
	TokenString:     "STRING",
	TokenNumber:     "NUMBER",
	TokenBoolean:    "BOOLEAN",
	TokenMinus:      "MINUS",
}

// String returns a human-readable name for the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(t))
}

// keywords maps reserved identifiers to their token types.
var keywords = map[string]TokenType{
	"digraph":  TokenDigraph,
	"subgraph": TokenSubgraph,
	"graph":    TokenGraph,
	"node":     TokenNode,
	"edge":     TokenEdge,
	"true":     TokenBoolean,
	"false":    TokenBoolean,
}

// Token is a single lexical token with its source location.
type Token struct {
	Type  TokenType
	Value string
	Line  int
	Col   int
}

type lexer struct {
	input  []rune
	pos    int
	line   int
	col    int
	tokens []Token
}

// Lex tokenizes DOT source into a token slice terminated by an EOF token.
func Lex(input string) ([]Token, error) {
	l := &lexer{input: []rune(input), line: 1, col: 1}
	if err := l.run(); err != nil {
		return nil, err
	}
	return l.tokens, nil
}

func (l *lexer) run() error {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]

		switch {
		case unicode.IsSpace(ch):
			l.advance()

		case ch == '/' && l.peek(1) == '/':
			l.skipLineComment()

		case ch == '/' && l.peek(1) == '*':
			if err := l.skipBlockComment(); err != nil {
				return err
			}

		case ch == '#':
			// Graphviz-style # comments run to end of line.
			l.skipLineComment()

		case ch == '"':
			if err := l.lexString(); err != nil {
				return err
			}

		case ch == '-' && l.peek(1) == '>':
			l.emit(TokenArrow, "->")
			l.advance()
			l.advance()

		case unicode.IsDigit(ch), ch == '-' && (unicode.IsDigit(l.peek(1)) || l.peek(1) == '.'):
			l.lexNumber()

		case ch == '-':
			// Standalone minus; lets the parser reject undirected -- edges with
			// a useful message instead of a generic lex failure.
			l.emit(TokenMinus, "-")
			l.advance()

		case ch == '_' || unicode.IsLetter(ch):
			l.lexWord()

		default:
			punct := map[rune]TokenType{
				'{': TokenLBrace, '}': TokenRBrace,
				'[': TokenLBracket, ']': TokenRBracket,
				'=': TokenEquals, ',': TokenComma, ';': TokenSemicolon,
			}
			typ, ok := punct[ch]
			if !ok {
				return fmt.Errorf("unexpected character %q at line %d, col %d", string(ch), l.line, l.col)
			}
			l.emit(typ, string(ch))
			l.advance()
		}
	}

	l.tokens = append(l.tokens, Token{Type: TokenEOF, Line: l.line, Col: l.col})
	return nil
}

// peek returns the rune at the given offset from the current position, or 0 past EOF.
func (l *lexer) peek(offset int) rune {
	idx := l.pos + offset
	if idx >= len(l.input) {
		return 0
	}
	return l.input[idx]
}

func (l *lexer) advance() {
	if l.pos < len(l.input) {
		if l.input[l.pos] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.pos++
	}
}

func (l *lexer) emit(typ TokenType, value string) {
	l.tokens = append(l.tokens, Token{Type: typ, Value: value, Line: l.line, Col: l.col})
}

func (l *lexer) skipLineComment() {
	for l.pos < len(l.input) && l.input[l.pos] != '\n' {
		l.advance()
	}
}

func (l *lexer) skipBlockComment() error {
	startLine := l.line
	l.advance()
	l.advance()
	for l.pos < len(l.input) {
		if l.input[l.pos] == '*' && l.peek(1) == '/' {
			l.advance()
			l.advance()
			return nil
		}
		l.advance()
	}
	return fmt.Errorf("unterminated block comment starting at line %d", startLine)
}

// lexString reads a double-quoted string. Recognized escapes: \" \\ \n \t.
// Unknown escapes are preserved verbatim including the backslash.
func (l *lexer) lexString() error {
	startLine, startCol := l.line, l.col
	l.advance() // opening quote

	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]

		if ch == '\\' {
			l.advance()
			if l.pos >= len(l.input) {
				break
			}
			switch esc := l.input[l.pos]; esc {
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte('\\')
				sb.WriteRune(esc)
			}
			l.advance()
			continue
		}

		if ch == '"' {
			l.advance() // closing quote
			l.tokens = append(l.tokens, Token{Type: TokenString, Value: sb.String(), Line: startLine, Col: startCol})
			return nil
		}

		sb.WriteRune(ch)
		l.advance()
	}

	return fmt.Errorf("unterminated string starting at line %d, col %d", startLine, startCol)
}

// lexNumber reads an integer or float literal with an optional leading minus.
func (l *lexer) lexNumber() {
	startLine, startCol := l.line, l.col
	var sb strings.Builder

	if l.input[l.pos] == '-' {
		sb.WriteByte('-')
		l.advance()
	}
	for l.pos < len(l.input) && unicode.IsDigit(l.input[l.pos]) {
		sb.WriteRune(l.input[l.pos])
		l.advance()
	}
	if l.pos < len(l.input) && l.input[l.pos] == '.' {
		sb.WriteByte('.')
		l.advance()
		for l.pos < len(l.input) && unicode.IsDigit(l.input[l.pos]) {
			sb.WriteRune(l.input[l.pos])
			l.advance()
		}
	}

	l.tokens = append(l.tokens, Token{Type: TokenNumber, Value: sb.String(), Line: startLine, Col: startCol})
}

// lexWord reads an identifier or keyword.
func (l *lexer) lexWord() {
	startLine, startCol := l.line, l.col
	var sb strings.Builder

	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch != '_' && !unicode.IsLetter(ch) && !unicode.IsDigit(ch) {
			break
		}
		sb.WriteRune(ch)
		l.advance()
	}

	word := sb.String()
	typ, ok := keywords[word]
	if !ok {
		typ = TokenIdentifier
	}
	l.tokens = append(l.tokens, Token{Type: typ, Value: word, Line: startLine, Col: startCol})
}
