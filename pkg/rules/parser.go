package rules

import (
	"fmt"
	"strings"

	"github.com/rsteinwert/csserver/pkg/codes"
)

type tokenKind uint8

const (
	tokIdent tokenKind = iota
	tokLBrace
	tokRBrace
	tokSlash
	tokColon
	tokSemi
	tokOp
	tokEOF
)

type token struct {
	kind   tokenKind
	text   string
	quoted bool
}

// lex tokenizes rules source text. Quoted strings become quoted idents
// (used for literal params); everything else is whitespace- and
// punctuation-delimited.
func lex(data []byte) ([]token, error) {
	var toks []token
	runes := []rune(string(data))
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			i++
		case r == '{':
			toks = append(toks, token{kind: tokLBrace})
			i++
		case r == '}':
			toks = append(toks, token{kind: tokRBrace})
			i++
		case r == '/':
			toks = append(toks, token{kind: tokSlash})
			i++
		case r == ':':
			toks = append(toks, token{kind: tokColon})
			i++
		case r == ';':
			toks = append(toks, token{kind: tokSemi})
			i++
		case r == '"':
			j := i + 1
			for j < len(runes) && runes[j] != '"' {
				j++
			}
			if j >= len(runes) {
				return nil, codes.New(codes.Parse, "unterminated string literal")
			}
			toks = append(toks, token{kind: tokIdent, text: string(runes[i+1 : j]), quoted: true})
			i = j + 1
		case strings.ContainsRune("=<>", r):
			j := i
			for j < len(runes) && strings.ContainsRune("=<>", runes[j]) {
				j++
			}
			toks = append(toks, token{kind: tokOp, text: string(runes[i:j])})
			i = j
		case isIdentRune(r):
			j := i
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(runes[i:j])})
			i = j
		default:
			return nil, codes.New(codes.Parse, fmt.Sprintf("unexpected character %q", r))
		}
	}
	toks = append(toks, token{kind: tokEOF})
	return toks, nil
}

func isIdentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.':
		return true
	default:
		return false
	}
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expectIdent(text string) error {
	t := p.next()
	if t.kind != tokIdent || t.quoted || t.text != text {
		return codes.New(codes.Parse, fmt.Sprintf("expected %q, got %q", text, t.text))
	}
	return nil
}

// Parse compiles rules source text into an ordered sequence of Rules.
func Parse(data []byte) ([]Rule, error) {
	toks, err := lex(data)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}

	var rules []Rule
	for p.peek().kind != tokEOF {
		rule, err := p.parseMatch()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (p *parser) parseMatch() (Rule, error) {
	if err := p.expectIdent("match"); err != nil {
		return Rule{}, err
	}

	pattern, vars, err := p.parsePath()
	if err != nil {
		return Rule{}, err
	}

	if p.peek().kind != tokLBrace {
		return Rule{}, codes.New(codes.Parse, "expected '{' after match path")
	}
	p.next()

	var prereqs []Prereq
	for p.peek().kind != tokRBrace {
		if p.peek().kind == tokEOF {
			return Rule{}, codes.New(codes.Parse, "truncated match block")
		}
		if p.peek().kind == tokSemi {
			p.next()
			continue
		}
		prereq, err := p.parseAllow(vars)
		if err != nil {
			return Rule{}, err
		}
		prereqs = append(prereqs, prereq)
		for p.peek().kind == tokSemi {
			p.next()
		}
	}
	p.next() // consume '}'

	return Rule{pattern: pattern, Prereqs: prereqs}, nil
}

// parsePath parses segment ('/' segment)*, returning the pattern and the
// set of variable names it declares. Duplicate variable names within one
// path are a PARAM_INVAL error.
func (p *parser) parsePath() ([]pathSegment, map[string]bool, error) {
	vars := make(map[string]bool)
	var segs []pathSegment

	for {
		seg, err := p.parseSegment(vars)
		if err != nil {
			return nil, nil, err
		}
		segs = append(segs, seg)
		if p.peek().kind == tokSlash {
			p.next()
			continue
		}
		break
	}
	return segs, vars, nil
}

func (p *parser) parseSegment(vars map[string]bool) (pathSegment, error) {
	if p.peek().kind == tokLBrace {
		p.next()
		name := p.next()
		if name.kind != tokIdent || name.quoted {
			return pathSegment{}, codes.New(codes.Parse, "expected identifier in path variable")
		}
		if p.peek().kind != tokRBrace {
			return pathSegment{}, codes.New(codes.Parse, "expected '}' closing path variable")
		}
		p.next()
		if vars[name.text] {
			return pathSegment{}, codes.New(codes.ParamInval, fmt.Sprintf("duplicate path variable %q", name.text))
		}
		vars[name.text] = true
		return pathSegment{isVar: true, varName: name.text}, nil
	}

	t := p.next()
	if t.kind != tokIdent || t.quoted {
		return pathSegment{}, codes.New(codes.Parse, "expected path segment")
	}
	return pathSegment{literal: t.text}, nil
}

func (p *parser) parseAllow(vars map[string]bool) (Prereq, error) {
	if err := p.expectIdent("allow"); err != nil {
		return Prereq{}, err
	}

	modeTok := p.next()
	if modeTok.kind != tokIdent || modeTok.quoted {
		return Prereq{}, codes.New(codes.Parse, "expected mode after allow")
	}
	mode, ok := parseMode(modeTok.text)
	if !ok {
		return Prereq{}, codes.New(codes.Parse, fmt.Sprintf("unknown mode %q", modeTok.text))
	}

	if p.peek().kind != tokColon {
		return Prereq{Grants: mode}, nil
	}
	p.next() // consume ':'
	if err := p.expectIdent("if"); err != nil {
		return Prereq{}, err
	}

	lhs, err := p.parseParam(vars)
	if err != nil {
		return Prereq{}, err
	}
	opTok := p.next()
	if opTok.kind != tokOp {
		return Prereq{}, codes.New(codes.Parse, "expected comparison operator")
	}
	op, ok := parseOp(opTok.text)
	if !ok {
		return Prereq{}, codes.New(codes.Parse, fmt.Sprintf("unknown operator %q", opTok.text))
	}
	rhs, err := p.parseParam(vars)
	if err != nil {
		return Prereq{}, err
	}

	return Prereq{Grants: mode, HasCheck: true, LHS: lhs, RHS: rhs, CmpOp: op}, nil
}

func (p *parser) parseParam(vars map[string]bool) (Param, error) {
	t := p.next()
	if t.kind != tokIdent {
		return Param{}, codes.New(codes.Parse, "expected param")
	}
	if t.quoted {
		return Param{Kind: ParamLiteral, Text: t.text}, nil
	}
	if t.text == "auth.uid" {
		return Param{Kind: ParamAuthUID}, nil
	}
	if vars[t.text] {
		return Param{Kind: ParamPathVar, Text: t.text}, nil
	}
	return Param{}, codes.New(codes.ParamInval, fmt.Sprintf("unknown param identifier %q", t.text))
}
