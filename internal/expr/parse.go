package expr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrParse is wrapped by every *ParseError.
var ErrParse = errors.New("parse error")

// ParseError reports the token at which the printed form stopped making sense.
type ParseError struct {
	Token int
	Text  string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("parse error at token %d: %s", e.Token, e.Msg)
	}
	return fmt.Sprintf("parse error at token %d (%q): %s", e.Token, e.Text, e.Msg)
}

func (e *ParseError) Unwrap() error { return ErrParse }

const (
	tokOpen  = "("
	tokClose = ")"
	tokNot   = "NOT"
	tokAnd   = "AND"
	tokOr    = "OR"
	tokIf    = "IF"
	tokThen  = "THEN"
	tokElse  = "ELSE"
)

func isKeyword(s string) bool {
	switch s {
	case tokOpen, tokClose, tokNot, tokAnd, tokOr, tokIf, tokThen, tokElse:
		return true
	}
	return false
}

// Parse reads the whitespace-separated form produced by String back into a
// tree whose terminals reference inputs.
func Parse(src string, inputs *InputSet) (*Node, error) {
	if inputs == nil {
		return nil, fmt.Errorf("input set is required")
	}
	p := &parser{toks: strings.Fields(src), inputs: inputs}
	if len(p.toks) == 0 {
		return nil, &ParseError{Msg: "empty expression"}
	}
	node, err := p.expr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, p.errorf("unexpected trailing token")
	}
	return node, nil
}

type parser struct {
	toks   []string
	i      int
	inputs *InputSet
}

func (p *parser) atEnd() bool { return p.i >= len(p.toks) }

func (p *parser) peek() string {
	if p.atEnd() {
		return ""
	}
	return p.toks[p.i]
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Token: p.i, Text: p.peek(), Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) need(tok string) error {
	if p.peek() != tok {
		if p.atEnd() {
			return p.errorf("expected %s, got end of input", tok)
		}
		return p.errorf("expected %s", tok)
	}
	p.i++
	return nil
}

func (p *parser) expr() (*Node, error) {
	if p.atEnd() {
		return nil, p.errorf("unexpected end of input")
	}
	tok := p.peek()
	if tok != tokOpen {
		if isKeyword(tok) {
			return nil, p.errorf("unexpected keyword")
		}
		idx, ok := p.inputs.Index(tok)
		if !ok {
			return nil, p.errorf("unknown input name")
		}
		p.i++
		return &Node{kind: KindTerminal, input: idx, inputs: p.inputs}, nil
	}
	p.i++

	switch p.peek() {
	case tokNot:
		p.i++
		child, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.need(tokClose); err != nil {
			return nil, err
		}
		return Not(child), nil
	case tokIf:
		p.i++
		cond, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.need(tokThen); err != nil {
			return nil, err
		}
		trueCase, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.need(tokElse); err != nil {
			return nil, err
		}
		falseCase, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.need(tokClose); err != nil {
			return nil, err
		}
		return If(cond, trueCase, falseCase), nil
	}

	first, err := p.expr()
	if err != nil {
		return nil, err
	}
	op := p.peek()
	if op != tokAnd && op != tokOr {
		return nil, p.errorf("expected AND or OR")
	}
	p.i++
	second, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.need(tokClose); err != nil {
		return nil, err
	}
	if op == tokAnd {
		return And(first, second), nil
	}
	return Or(first, second), nil
}
