package formula

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrInvalidFormula is returned for formula text that cannot be translated.
	ErrInvalidFormula = errors.New("invalid formula")

	// ErrMaxExpression is returned by Translate for a max-of-options formula.
	// Use MaxOptions to split it first.
	ErrMaxExpression = errors.New("max-of-options formula")

	// ErrUnsupportedTerm marks a term with no numeric value, such as 现金价值.
	ErrUnsupportedTerm = errors.New("unsupported formula term")
)

// Variable names exposed to CEL.
const (
	VarBasicSum      = "basic_sum"
	VarPaidPremium   = "paid_premium"
	VarAnnualPremium = "annual_premium"
	VarN             = "n"
	VarAge           = "age"
	VarYear          = "year"
)

// terms maps canonical vocabulary onto variables.
var terms = map[string]string{
	"基本保险金额":  VarBasicSum,
	"基本保额":    VarBasicSum,
	"保险金额":    VarBasicSum,
	"投保金额":    VarBasicSum,
	"保额":      VarBasicSum,
	"累计已交保险费": VarPaidPremium,
	"累计已交保费":  VarPaidPremium,
	"已交保险费":   VarPaidPremium,
	"已交保费":    VarPaidPremium,
	"所交保险费":   VarPaidPremium,
	"所交保费":    VarPaidPremium,
	"已缴保费":    VarPaidPremium,
	"年交保险费":   VarAnnualPremium,
	"年交保费":    VarAnnualPremium,
	"年缴保险费":   VarAnnualPremium,
	"年缴保费":    VarAnnualPremium,
	"保单年度数":   VarN,
	"年龄":      VarAge,
	"到达年龄":    VarAge,
}

// unsupported terms have no value the calculator can supply.
var unsupported = []string{"现金价值", "账户价值", "保单价值"}

// filler words are dropped; adjacent operands multiply.
var filler = []string{"的", "按", "之"}

var sortedTerms = func() []string {
	keys := make([]string, 0, len(terms))
	for k := range terms {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return len([]rune(keys[i])) > len([]rune(keys[j]))
	})
	return keys
}()

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokPercent
	tokComma
)

type token struct {
	kind tokenKind
	text string
}

// Translate turns canonical formula text such as "基本保额×(1+3.5%)^(n)"
// into a CEL expression over double-typed variables.
func Translate(formula string) (string, error) {
	toks, err := lex(formula)
	if err != nil {
		return "", err
	}
	if len(toks) == 0 {
		return "", fmt.Errorf("%w: empty formula", ErrInvalidFormula)
	}
	p := &parser{toks: toks}
	out, err := p.expr()
	if err != nil {
		return "", err
	}
	if p.pos != len(p.toks) {
		return "", fmt.Errorf("%w: unexpected %q in %q", ErrInvalidFormula, p.toks[p.pos].text, formula)
	}
	return out, nil
}

func lex(s string) ([]token, error) {
	rs := []rune(s)
	var toks []token
	for i := 0; i < len(rs); {
		r := rs[i]
		rest := string(rs[i:])

		switch {
		case unicode.IsSpace(r):
			i++
			continue
		case isDigit(r):
			j := i
			for j < len(rs) && (isDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, halfWidth(string(rs[i:j]))})
			i = j
			continue
		}

		switch r {
		case '×', '*', '＊', '·':
			toks = append(toks, token{tokOp, "*"})
		case '÷', '/', '／':
			toks = append(toks, token{tokOp, "/"})
		case '+', '＋':
			toks = append(toks, token{tokOp, "+"})
		case '-', '－', '—':
			toks = append(toks, token{tokOp, "-"})
		case '^', '＾':
			toks = append(toks, token{tokOp, "^"})
		case '(', '（':
			toks = append(toks, token{tokLParen, "("})
		case ')', '）':
			toks = append(toks, token{tokRParen, ")"})
		case '%', '％':
			toks = append(toks, token{tokPercent, "%"})
		case ',', '，':
			toks = append(toks, token{tokComma, ","})
		default:
			n, tok, err := lexWord(rs[i:], rest)
			if err != nil {
				return nil, err
			}
			if tok != nil {
				toks = append(toks, *tok)
			}
			i += n
			continue
		}
		i++
	}
	return toks, nil
}

// lexWord consumes a vocabulary term, an ASCII identifier or a filler word.
func lexWord(rs []rune, rest string) (int, *token, error) {
	for _, k := range sortedTerms {
		if strings.HasPrefix(rest, k) {
			return len([]rune(k)), &token{tokIdent, terms[k]}, nil
		}
	}
	for _, u := range unsupported {
		if strings.HasPrefix(rest, u) {
			return 0, nil, fmt.Errorf("%w: %s", ErrUnsupportedTerm, u)
		}
	}
	for _, f := range filler {
		if strings.HasPrefix(rest, f) {
			return len([]rune(f)), nil, nil
		}
	}

	if isASCIILetter(rs[0]) {
		j := 0
		for j < len(rs) && (isASCIILetter(rs[j]) || rs[j] == '_') {
			j++
		}
		word := string(rs[:j])
		switch strings.ToLower(word) {
		case "x":
			return j, &token{tokOp, "*"}, nil
		case "n":
			return j, &token{tokIdent, VarN}, nil
		case "age":
			return j, &token{tokIdent, VarAge}, nil
		case "max":
			return 0, nil, ErrMaxExpression
		}
		return 0, nil, fmt.Errorf("%w: unknown identifier %q", ErrInvalidFormula, word)
	}

	return 0, nil, fmt.Errorf("%w: unknown term at %q", ErrInvalidFormula, truncate(rest, 8))
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() *token {
	if p.pos >= len(p.toks) {
		return nil
	}
	return &p.toks[p.pos]
}

func (p *parser) peekOp(ops ...string) (string, bool) {
	t := p.peek()
	if t == nil || t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			return op, true
		}
	}
	return "", false
}

// expr := term (('+'|'-') term)*
func (p *parser) expr() (string, error) {
	left, err := p.term()
	if err != nil {
		return "", err
	}
	for {
		op, ok := p.peekOp("+", "-")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return "", err
		}
		left = left + " " + op + " " + right
	}
}

// term := unary (('*'|'/')? unary)*
// Adjacent operands multiply, e.g. 基本保额的120%.
func (p *parser) term() (string, error) {
	left, err := p.unary()
	if err != nil {
		return "", err
	}
	for {
		op, ok := p.peekOp("*", "/")
		switch {
		case ok:
			p.pos++
		case p.startsOperand():
			op = "*"
		default:
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return "", err
		}
		left = left + " " + op + " " + right
	}
}

// unary := '-' unary | power
func (p *parser) unary() (string, error) {
	if _, ok := p.peekOp("-"); ok {
		p.pos++
		v, err := p.unary()
		if err != nil {
			return "", err
		}
		return "(-" + v + ")", nil
	}
	return p.power()
}

// power := postfix ('^' unary)?
func (p *parser) power() (string, error) {
	base, err := p.postfix()
	if err != nil {
		return "", err
	}
	if _, ok := p.peekOp("^"); !ok {
		return base, nil
	}
	p.pos++
	exp, err := p.unary()
	if err != nil {
		return "", err
	}
	return "pow(" + base + ", " + exp + ")", nil
}

// postfix := primary '%'*
func (p *parser) postfix() (string, error) {
	v, err := p.primary()
	if err != nil {
		return "", err
	}
	for {
		t := p.peek()
		if t == nil || t.kind != tokPercent {
			return v, nil
		}
		p.pos++
		v = "(" + v + " / 100.0)"
	}
}

// primary := number | ident | '(' expr ')'
func (p *parser) primary() (string, error) {
	t := p.peek()
	if t == nil {
		return "", fmt.Errorf("%w: unexpected end of formula", ErrInvalidFormula)
	}
	switch t.kind {
	case tokNumber:
		p.pos++
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return "", fmt.Errorf("%w: bad number %q", ErrInvalidFormula, t.text)
		}
		return doubleLiteral(f), nil
	case tokIdent:
		p.pos++
		return t.text, nil
	case tokLParen:
		p.pos++
		inner, err := p.expr()
		if err != nil {
			return "", err
		}
		if c := p.peek(); c == nil || c.kind != tokRParen {
			return "", fmt.Errorf("%w: missing closing parenthesis", ErrInvalidFormula)
		}
		p.pos++
		return "(" + inner + ")", nil
	}
	return "", fmt.Errorf("%w: unexpected %q", ErrInvalidFormula, t.text)
}

func (p *parser) startsOperand() bool {
	t := p.peek()
	return t != nil && (t.kind == tokNumber || t.kind == tokIdent || t.kind == tokLParen)
}

// doubleLiteral always renders a CEL double, never an int.
func doubleLiteral(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func isDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= '０' && r <= '９')
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func halfWidth(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return r - '０' + '0'
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}
