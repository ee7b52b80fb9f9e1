// ABOUTME: Recursive descent parser for the pipeline DOT dialect producing the in-memory Graph model.
// ABOUTME: Parses a single digraph with nodes, edges, attribute blocks, defaults, subgraphs, and chained edges.
package dot

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

type parser struct {
	tokens       []Token
	pos          int
	graph        *Graph
	nodeDefaults map[string]string
	edgeDefaults map[string]string
}

// Parse lexes and parses DOT source into a Graph.
func Parse(input string) (*Graph, error) {
	tokens, err := Lex(input)
	if err != nil {
		return nil, fmt.Errorf("lex error: %w", err)
	}

	p := &parser{
		tokens: tokens,
		graph: &Graph{
			Nodes:        make(map[string]*Node),
			Edges:        make([]*Edge, 0),
			Attrs:        make(map[string]string),
			NodeDefaults: make(map[string]string),
			EdgeDefaults: make(map[string]string),
			Subgraphs:    make([]*Subgraph, 0),
		},
		nodeDefaults: make(map[string]string),
		edgeDefaults: make(map[string]string),
	}

	if err := p.parseGraph(); err != nil {
		return nil, err
	}
	p.graph.AssignEdgeIDs()
	return p.graph, nil
}

func (p *parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) peek(offset int) Token {
	idx := p.pos + offset
	if idx >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[idx]
}

func (p *parser) advance() Token {
	tok := p.current()
	p.pos++
	return tok
}

func (p *parser) expect(typ TokenType) (Token, error) {
	tok := p.current()
	if tok.Type != typ {
		return tok, fmt.Errorf("expected %v but got %v (%q) at line %d, col %d",
			typ, tok.Type, tok.Value, tok.Line, tok.Col)
	}
	p.advance()
	return tok, nil
}

func (p *parser) skipSemicolon() {
	if p.current().Type == TokenSemicolon {
		p.advance()
	}
}

// parseGraph parses: 'digraph' Identifier '{' Statement* '}'
func (p *parser) parseGraph() error {
	if p.current().Type == TokenIdentifier && p.current().Value == "strict" {
		return fmt.Errorf("strict modifier is not supported at line %d, col %d",
			p.current().Line, p.current().Col)
	}

	if _, err := p.expect(TokenDigraph); err != nil {
		return fmt.Errorf("expected 'digraph': %w", err)
	}

	name, err := p.expect(TokenIdentifier)
	if err != nil {
		return fmt.Errorf("expected graph name: %w", err)
	}
	p.graph.Name = name.Value

	if _, err := p.expect(TokenLBrace); err != nil {
		return err
	}
	for p.current().Type != TokenRBrace && p.current().Type != TokenEOF {
		if err := p.parseStatement(); err != nil {
			return err
		}
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return err
	}

	if p.current().Type == TokenDigraph {
		return fmt.Errorf("multiple digraphs are not supported; only one digraph per file is allowed")
	}

	for k, v := range p.nodeDefaults {
		p.graph.NodeDefaults[k] = v
	}
	for k, v := range p.edgeDefaults {
		p.graph.EdgeDefaults[k] = v
	}
	return nil
}

func (p *parser) parseStatement() error {
	tok := p.current()

	switch tok.Type {
	case TokenGraph:
		return p.parseGraphAttrStmt()
	case TokenNode:
		return p.parseNodeDefaults(nil)
	case TokenEdge:
		return p.parseEdgeDefaults()
	case TokenSubgraph:
		return p.parseSubgraph()
	case TokenIdentifier, TokenString:
		return p.parseNodeOrEdgeStmt()
	case TokenSemicolon:
		p.advance()
		return nil
	default:
		return fmt.Errorf("unexpected token %v (%q) at line %d, col %d",
			tok.Type, tok.Value, tok.Line, tok.Col)
	}
}

// parseGraphAttrStmt parses: 'graph' AttrBlock ';'?
func (p *parser) parseGraphAttrStmt() error {
	p.advance()

	if p.current().Type == TokenLBracket {
		attrs, err := p.parseAttrBlock()
		if err != nil {
			return err
		}
		for k, v := range attrs {
			p.graph.Attrs[k] = v
		}
	}

	p.skipSemicolon()
	return nil
}

// parseNodeDefaults parses: 'node' AttrBlock ';'?
// When sg is non-nil the defaults are also recorded on that subgraph scope.
func (p *parser) parseNodeDefaults(sg *Subgraph) error {
	p.advance()

	if p.current().Type == TokenLBracket {
		attrs, err := p.parseAttrBlock()
		if err != nil {
			return err
		}
		for k, v := range attrs {
			p.nodeDefaults[k] = v
			if sg != nil {
				sg.NodeDefaults[k] = v
			}
		}
	}

	p.skipSemicolon()
	return nil
}

// parseEdgeDefaults parses: 'edge' AttrBlock ';'?
func (p *parser) parseEdgeDefaults() error {
	p.advance()

	if p.current().Type == TokenLBracket {
		attrs, err := p.parseAttrBlock()
		if err != nil {
			return err
		}
		for k, v := range attrs {
			p.edgeDefaults[k] = v
		}
	}

	p.skipSemicolon()
	return nil
}

// parseSubgraph parses: 'subgraph' Identifier? '{' Statement* '}'
// Node defaults declared inside the subgraph are scoped to it. Nodes first
// declared inside the subgraph are recorded in its NodeIDs, and a class token
// derived from the subgraph label is applied to them.
func (p *parser) parseSubgraph() error {
	p.advance()

	sg := &Subgraph{
		NodeIDs:      make([]string, 0),
		NodeDefaults: make(map[string]string),
		Attrs:        make(map[string]string),
	}

	if p.current().Type == TokenIdentifier {
		sg.ID = p.current().Value
		sg.Name = p.current().Value
		p.advance()
	}

	if _, err := p.expect(TokenLBrace); err != nil {
		return err
	}

	// Scope node defaults: inherit outer, restore on exit.
	outerDefaults := p.nodeDefaults
	p.nodeDefaults = make(map[string]string, len(outerDefaults))
	for k, v := range outerDefaults {
		p.nodeDefaults[k] = v
	}

	nodesBefore := make(map[string]bool, len(p.graph.Nodes))
	for id := range p.graph.Nodes {
		nodesBefore[id] = true
	}

	for p.current().Type != TokenRBrace && p.current().Type != TokenEOF {
		tok := p.current()
		switch tok.Type {
		case TokenIdentifier:
			// Bare key=value inside a subgraph sets a subgraph attribute
			// (e.g. label = "Review Loop").
			if p.peek(1).Type == TokenEquals {
				key := p.advance().Value
				p.advance()
				val, err := p.parseValue()
				if err != nil {
					return err
				}
				sg.Attrs[key] = val
				p.skipSemicolon()
				continue
			}
			if err := p.parseNodeOrEdgeStmt(); err != nil {
				return err
			}
		case TokenString:
			if err := p.parseNodeOrEdgeStmt(); err != nil {
				return err
			}
		case TokenNode:
			if err := p.parseNodeDefaults(sg); err != nil {
				return err
			}
		case TokenEdge:
			if err := p.parseEdgeDefaults(); err != nil {
				return err
			}
		case TokenGraph:
			if err := p.parseGraphAttrStmt(); err != nil {
				return err
			}
		case TokenSemicolon:
			p.advance()
		default:
			return fmt.Errorf("unexpected token %v (%q) in subgraph at line %d, col %d",
				tok.Type, tok.Value, tok.Line, tok.Col)
		}
	}

	if _, err := p.expect(TokenRBrace); err != nil {
		return err
	}

	for id := range p.graph.Nodes {
		if !nodesBefore[id] {
			sg.NodeIDs = append(sg.NodeIDs, id)
		}
	}
	sort.Strings(sg.NodeIDs)

	// Nodes inherit a class token derived from the subgraph label unless they
	// already declared one.
	if label := sg.Attrs["label"]; label != "" {
		class := DeriveClassName(label)
		for _, nodeID := range sg.NodeIDs {
			if node := p.graph.Nodes[nodeID]; node != nil && node.Attrs["class"] == "" {
				node.Attrs["class"] = class
			}
		}
	}

	p.nodeDefaults = outerDefaults

	p.graph.Subgraphs = append(p.graph.Subgraphs, sg)
	p.skipSemicolon()
	return nil
}

// DeriveClassName produces a class token from a subgraph label: lowercased,
// with every run of non-alphanumeric characters collapsed to a single hyphen.
func DeriveClassName(label string) string {
	lower := strings.ToLower(label)
	var sb strings.Builder
	pendingHyphen := false
	for _, ch := range lower {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			if pendingHyphen && sb.Len() > 0 {
				sb.WriteByte('-')
			}
			pendingHyphen = false
			sb.WriteRune(ch)
		} else {
			pendingHyphen = true
		}
	}
	return sb.String()
}

// parseNodeOrEdgeStmt disambiguates between a node statement, an edge chain,
// and a bare graph-attribute assignment by one token of lookahead.
func (p *parser) parseNodeOrEdgeStmt() error {
	if p.peek(1).Type == TokenMinus {
		return fmt.Errorf("undirected edges (--) are not supported at line %d, col %d; use directed edges (->)",
			p.peek(1).Line, p.peek(1).Col)
	}

	// identifier = value at statement level is a graph attribute.
	if p.peek(1).Type == TokenEquals {
		key := p.advance().Value
		p.advance()
		val, err := p.parseValue()
		if err != nil {
			return err
		}
		p.graph.Attrs[key] = val
		p.skipSemicolon()
		return nil
	}

	id := p.advance().Value

	if p.current().Type == TokenArrow {
		return p.parseEdgeStmt(id)
	}
	return p.parseNodeStmt(id)
}

// parseNodeStmt parses: Identifier AttrBlock? ';'?
func (p *parser) parseNodeStmt(id string) error {
	var attrs map[string]string
	if p.current().Type == TokenLBracket {
		var err error
		attrs, err = p.parseAttrBlock()
		if err != nil {
			return err
		}
	}

	p.ensureNode(id, attrs)
	p.skipSemicolon()
	return nil
}

// parseEdgeStmt parses: Identifier ( '->' Identifier )+ AttrBlock? ';'?
// A chain A -> B -> C expands to edges A->B and B->C, each getting a copy of
// the attribute block merged over the current edge defaults.
func (p *parser) parseEdgeStmt(firstID string) error {
	nodeIDs := []string{firstID}

	for p.current().Type == TokenArrow {
		p.advance()
		tok := p.current()
		if tok.Type != TokenIdentifier && tok.Type != TokenString {
			return fmt.Errorf("expected identifier after -> at line %d, col %d", tok.Line, tok.Col)
		}
		nodeIDs = append(nodeIDs, tok.Value)
		p.advance()
	}

	var attrs map[string]string
	if p.current().Type == TokenLBracket {
		var err error
		attrs, err = p.parseAttrBlock()
		if err != nil {
			return err
		}
	}

	for _, id := range nodeIDs {
		p.ensureNode(id, nil)
	}

	for i := 0; i < len(nodeIDs)-1; i++ {
		edgeAttrs := make(map[string]string, len(p.edgeDefaults)+len(attrs))
		for k, v := range p.edgeDefaults {
			edgeAttrs[k] = v
		}
		for k, v := range attrs {
			edgeAttrs[k] = v
		}
		p.graph.Edges = append(p.graph.Edges, &Edge{
			From:  nodeIDs[i],
			To:    nodeIDs[i+1],
			Attrs: edgeAttrs,
		})
	}

	p.skipSemicolon()
	return nil
}

// ensureNode creates the node on first reference, applying the current node
// defaults, then merges any explicit attributes over it.
func (p *parser) ensureNode(id string, explicitAttrs map[string]string) {
	node, exists := p.graph.Nodes[id]
	if !exists {
		node = &Node{ID: id, Attrs: make(map[string]string, len(p.nodeDefaults))}
		for k, v := range p.nodeDefaults {
			node.Attrs[k] = v
		}
		p.graph.Nodes[id] = node
	}

	for k, v := range explicitAttrs {
		node.Attrs[k] = v
	}
}

// parseAttrBlock parses: '[' Attr ( Sep? Attr )* Sep? ']'
// where Sep is ',' or ';'. Graphviz also accepts bare whitespace between
// attributes, which the lexer has already discarded, so a following
// identifier continues the list without any separator token.
func (p *parser) parseAttrBlock() (map[string]string, error) {
	if _, err := p.expect(TokenLBracket); err != nil {
		return nil, err
	}

	attrs := make(map[string]string)

	if p.current().Type == TokenRBracket {
		p.advance()
		return attrs, nil
	}

	key, val, err := p.parseAttr()
	if err != nil {
		return nil, err
	}
	attrs[key] = val

	for {
		if t := p.current().Type; t == TokenComma || t == TokenSemicolon {
			p.advance()
		}
		if p.current().Type != TokenIdentifier {
			break
		}
		key, val, err = p.parseAttr()
		if err != nil {
			return nil, err
		}
		attrs[key] = val
	}

	if _, err := p.expect(TokenRBracket); err != nil {
		return nil, err
	}
	return attrs, nil
}

// parseAttr parses: Key '=' Value
func (p *parser) parseAttr() (string, string, error) {
	tok := p.current()
	if tok.Type != TokenIdentifier {
		return "", "", fmt.Errorf("expected attribute key (identifier) but got %v (%q) at line %d, col %d",
			tok.Type, tok.Value, tok.Line, tok.Col)
	}
	key := tok.Value
	p.advance()

	if _, err := p.expect(TokenEquals); err != nil {
		return "", "", err
	}

	val, err := p.parseValue()
	if err != nil {
		return "", "", err
	}
	return key, val, nil
}

// parseValue accepts a string, number, boolean, bare identifier, or a
// negative number written as MINUS NUMBER. All values are stored as strings.
func (p *parser) parseValue() (string, error) {
	tok := p.current()

	switch tok.Type {
	case TokenString, TokenNumber, TokenBoolean, TokenIdentifier:
		p.advance()
		return tok.Value, nil

	case TokenMinus:
		p.advance()
		if p.current().Type == TokenNumber {
			val := "-" + p.current().Value
			p.advance()
			return val, nil
		}
		return "-", nil

	default:
		return "", fmt.Errorf("expected value but got %v (%q) at line %d, col %d",
			tok.Type, tok.Value, tok.Line, tok.Col)
	}
}
