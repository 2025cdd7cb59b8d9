package dot

import (
	"fmt"
	"strings"

	"github.com/danshapiro/agentgraph/internal/graphprog/model"
)

// Parse parses a graph program written as a constrained DOT digraph.
// It strips comments, reads an optional leading "@desc:" description,
// flattens subgraphs, applies scoped node/edge defaults, expands chained
// edges, and decodes each node's variant from its attributes.
//
// Structural rules (Start/End cardinality, reachability, ...) are not
// checked here; see package validate.
func Parse(src []byte) (*model.Graph, error) {
	desc := extractDescription(src)
	clean, err := stripComments(src)
	if err != nil {
		return nil, err
	}
	p := &parser{
		lx: newLexer(clean),
	}
	if err := p.read(); err != nil {
		return nil, err
	}
	g, err := p.parseGraph()
	if err != nil {
		return nil, err
	}
	g.Description = desc
	if g.Description == "" {
		g.Description = strings.TrimSpace(g.Attrs["desc"])
	}
	for _, n := range g.Nodes {
		// Undecodable nodes keep a nil payload and are reported by validation.
		n.Payload, _ = model.DecodePayload(n.ID, n.Attrs)
	}
	return g, nil
}

// ParseName reads only the program name from src. It is cheaper than Parse
// and used to key sources before a full load.
func ParseName(src []byte) (string, error) {
	clean, err := stripComments(src)
	if err != nil {
		return "", err
	}
	lx := newLexer(clean)
	kw, err := lx.next()
	if err != nil {
		return "", err
	}
	if kw.typ != tokenIdent || kw.lit != "digraph" {
		return "", fmt.Errorf("dot parse: expected \"digraph\", got %q at %d", kw.lit, kw.pos)
	}
	name, err := lx.next()
	if err != nil {
		return "", err
	}
	if name.typ != tokenIdent && name.typ != tokenString {
		return "", fmt.Errorf("dot parse: expected graph identifier, got %q at %d", name.lit, name.pos)
	}
	return name.lit, nil
}

type parser struct {
	lx   *lexer
	peek token
	has  bool
}

func (p *parser) read() error {
	if p.has {
		return nil
	}
	tok, err := p.lx.next()
	if err != nil {
		return err
	}
	p.peek = tok
	p.has = true
	return nil
}

func (p *parser) next() (token, error) {
	if err := p.read(); err != nil {
		return token{}, err
	}
	tok := p.peek
	p.has = false
	return tok, nil
}

func (p *parser) expectSymbol(sym string) error {
	tok, err := p.next()
	if err != nil {
		return err
	}
	if tok.typ != tokenSymbol || tok.lit != sym {
		return fmt.Errorf("dot parse: expected %q, got %q at %d", sym, tok.lit, tok.pos)
	}
	return nil
}

func (p *parser) expectIdent(lit string) error {
	tok, err := p.next()
	if err != nil {
		return err
	}
	if tok.typ != tokenIdent || tok.lit != lit {
		return fmt.Errorf("dot parse: expected %q, got %q at %d", lit, tok.lit, tok.pos)
	}
	return nil
}

func (p *parser) parseGraph() (*model.Graph, error) {
	// digraph <name> { ... }
	if err := p.expectIdent("digraph"); err != nil {
		return nil, err
	}
	nameTok, err := p.next()
	if err != nil {
		return nil, err
	}
	if nameTok.typ != tokenIdent && nameTok.typ != tokenString {
		return nil, fmt.Errorf("dot parse: expected graph identifier, got %q at %d", nameTok.lit, nameTok.pos)
	}
	if strings.TrimSpace(nameTok.lit) == "" {
		return nil, fmt.Errorf("dot parse: program name is empty")
	}
	g := model.NewGraph(nameTok.lit)
	if err := p.expectSymbol("{"); err != nil {
		return nil, err
	}

	root := newScope(nil)
	if err := p.parseStatements(g, root); err != nil {
		return nil, err
	}
	if err := p.expectSymbol("}"); err != nil {
		return nil, err
	}
	// One program per source. Allow an optional trailing semicolon, then
	// require EOF.
	_ = p.consumeOptionalSemicolon()
	if err := p.read(); err != nil {
		return nil, err
	}
	if p.peek.typ != tokenEOF {
		return nil, fmt.Errorf("dot parse: trailing tokens after graph end at %d", p.peek.pos)
	}
	return g, nil
}

type scope struct {
	parent       *scope
	nodeDefaults map[string]string
	edgeDefaults map[string]string
}

func newScope(parent *scope) *scope {
	s := &scope{
		parent:       parent,
		nodeDefaults: map[string]string{},
		edgeDefaults: map[string]string{},
	}
	if parent != nil {
		for k, v := range parent.nodeDefaults {
			s.nodeDefaults[k] = v
		}
		for k, v := range parent.edgeDefaults {
			s.edgeDefaults[k] = v
		}
	}
	return s
}

func (p *parser) parseStatements(g *model.Graph, sc *scope) error {
	for {
		if err := p.read(); err != nil {
			return err
		}
		if p.peek.typ == tokenEOF {
			return fmt.Errorf("dot parse: unexpected EOF (missing '}')")
		}
		if p.peek.typ == tokenSymbol && p.peek.lit == "}" {
			return nil
		}

		tok, err := p.next()
		if err != nil {
			return err
		}
		if tok.typ != tokenIdent && tok.typ != tokenString {
			return fmt.Errorf("dot parse: expected identifier, got %q at %d", tok.lit, tok.pos)
		}

		if tok.typ == tokenIdent {
			switch tok.lit {
			case "graph":
				attrs, err := p.parseAttrBlock()
				if err != nil {
					return err
				}
				for k, v := range attrs {
					g.Attrs[k] = v
				}
				_ = p.consumeOptionalSemicolon()
				continue
			case "node":
				attrs, err := p.parseAttrBlock()
				if err != nil {
					return err
				}
				for k, v := range attrs {
					sc.nodeDefaults[k] = v
				}
				_ = p.consumeOptionalSemicolon()
				continue
			case "edge":
				attrs, err := p.parseAttrBlock()
				if err != nil {
					return err
				}
				for k, v := range attrs {
					sc.edgeDefaults[k] = v
				}
				_ = p.consumeOptionalSemicolon()
				continue
			case "subgraph":
				// subgraph <Identifier>? { ... }
				if err := p.read(); err != nil {
					return err
				}
				if p.peek.typ == tokenIdent {
					if _, err := p.next(); err != nil {
						return err
					}
				}
				if err := p.expectSymbol("{"); err != nil {
					return err
				}
				if err := p.parseStatements(g, newScope(sc)); err != nil {
					return err
				}
				if err := p.expectSymbol("}"); err != nil {
					return err
				}
				continue
			}
		}

		// Could be:
		// - Graph attr decl: key = value
		// - Node stmt: id [attrs]
		// - Edge stmt: id -> id (-> id)* [attrs]
		if err := p.read(); err != nil {
			return err
		}
		if p.peek.typ == tokenSymbol && p.peek.lit == "=" {
			if _, err := p.next(); err != nil {
				return err
			}
			valTok, err := p.next()
			if err != nil {
				return err
			}
			if valTok.typ != tokenIdent && valTok.typ != tokenString {
				return fmt.Errorf("dot parse: expected value after '=', got %q at %d", valTok.lit, valTok.pos)
			}
			g.Attrs[tok.lit] = valTok.lit
			_ = p.consumeOptionalSemicolon()
			continue
		}

		if p.peek.typ == tokenSymbol && p.peek.lit == "->" {
			chain := []string{tok.lit}
			for {
				if _, err := p.next(); err != nil { // ->
					return err
				}
				toTok, err := p.next()
				if err != nil {
					return err
				}
				if toTok.typ != tokenIdent && toTok.typ != tokenString {
					return fmt.Errorf("dot parse: expected edge target identifier, got %q at %d", toTok.lit, toTok.pos)
				}
				chain = append(chain, toTok.lit)

				if err := p.read(); err != nil {
					return err
				}
				if !(p.peek.typ == tokenSymbol && p.peek.lit == "->") {
					break
				}
			}

			attrs := map[string]string{}
			if err := p.read(); err != nil {
				return err
			}
			if p.peek.typ == tokenSymbol && p.peek.lit == "[" {
				attrs, err = p.parseAttrBlock()
				if err != nil {
					return err
				}
			}

			for i := 0; i+1 < len(chain); i++ {
				e := model.NewEdge(chain[i], chain[i+1])
				// Defaults first, then explicit attrs.
				for k, v := range sc.edgeDefaults {
					e.Attrs[k] = v
				}
				for k, v := range attrs {
					e.Attrs[k] = v
				}
				if err := g.AddEdge(e); err != nil {
					return err
				}
			}
			_ = p.consumeOptionalSemicolon()
			continue
		}

		// Node statement.
		nodeAttrs := map[string]string{}
		if p.peek.typ == tokenSymbol && p.peek.lit == "[" {
			nodeAttrs, err = p.parseAttrBlock()
			if err != nil {
				return err
			}
		}

		n := model.NewNode(tok.lit)
		n.Order = len(g.Nodes)
		for k, v := range sc.nodeDefaults {
			n.Attrs[k] = v
		}
		for k, v := range nodeAttrs {
			n.Attrs[k] = v
		}
		if err := g.AddNode(n); err != nil {
			return err
		}
		_ = p.consumeOptionalSemicolon()
	}
}

func (p *parser) consumeOptionalSemicolon() error {
	if err := p.read(); err != nil {
		return err
	}
	if p.peek.typ == tokenSymbol && p.peek.lit == ";" {
		_, err := p.next()
		return err
	}
	return nil
}

func (p *parser) parseAttrBlock() (map[string]string, error) {
	if err := p.expectSymbol("["); err != nil {
		return nil, err
	}
	attrs := map[string]string{}
	for {
		if err := p.read(); err != nil {
			return nil, err
		}
		if p.peek.typ == tokenSymbol && p.peek.lit == "]" {
			_, _ = p.next()
			return attrs, nil
		}

		keyTok, err := p.next()
		if err != nil {
			return nil, err
		}
		if keyTok.typ != tokenIdent {
			return nil, fmt.Errorf("dot parse: expected identifier key, got %q at %d", keyTok.lit, keyTok.pos)
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		val, err := p.parseAttrValue()
		if err != nil {
			return nil, err
		}
		attrs[keyTok.lit] = val

		// Next: ',' or ';' or ']'
		if err := p.read(); err != nil {
			return nil, err
		}
		if p.peek.typ == tokenSymbol && (p.peek.lit == "," || p.peek.lit == ";") {
			_, _ = p.next()
			continue
		}
		if p.peek.typ == tokenSymbol && p.peek.lit == "]" {
			continue
		}
		// Whitespace-separated attributes are legal DOT.
		if p.peek.typ == tokenIdent {
			continue
		}
		return nil, fmt.Errorf("dot parse: expected ',' or ']', got %q at %d", p.peek.lit, p.peek.pos)
	}
}

func (p *parser) parseAttrValue() (string, error) {
	// Values can be quoted or a run of unquoted identifier-ish tokens such as
	// 900s, http://host/x or a-b.
	if err := p.read(); err != nil {
		return "", err
	}
	if p.peek.typ == tokenString {
		tok, err := p.next()
		if err != nil {
			return "", err
		}
		return tok.lit, nil
	}
	var parts []string
	prevEnd := -1
	for {
		if err := p.read(); err != nil {
			return "", err
		}
		if p.peek.typ == tokenSymbol && (p.peek.lit == "," || p.peek.lit == "]" || p.peek.lit == ";") {
			break
		}
		// A new identifier separated by whitespace starts the next attribute.
		if p.peek.typ == tokenIdent && prevEnd >= 0 && p.peek.pos != prevEnd {
			break
		}
		tok, err := p.next()
		if err != nil {
			return "", err
		}
		switch tok.typ {
		case tokenIdent:
			parts = append(parts, tok.lit)
		case tokenSymbol:
			switch tok.lit {
			case "-", ":", "/":
				parts = append(parts, tok.lit)
			default:
				return "", fmt.Errorf("dot parse: unexpected token in value: %q at %d", tok.lit, tok.pos)
			}
		default:
			return "", fmt.Errorf("dot parse: unexpected token in value: %q at %d", tok.lit, tok.pos)
		}
		prevEnd = tok.pos + len([]rune(tok.lit))
	}
	val := strings.TrimSpace(strings.Join(parts, ""))
	if val == "" {
		return "", fmt.Errorf("dot parse: empty attr value")
	}
	return val, nil
}
