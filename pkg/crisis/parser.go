package crisis

import (
	"fmt"

	"github.com/antibyte/crisisroom/pkg/logger"
)

// Statement is a node of the program tree.
type Statement interface {
	Line() int
	String() string
}

// Action is a leaf command, including error tokens.
type Action struct {
	Token Token
}

func (a *Action) Line() int { return a.Token.Line }

func (a *Action) String() string {
	t := a.Token
	switch t.Kind {
	case TokenMove, TokenAttack:
		return fmt.Sprintf("%s('%s')", t.Kind, t.Direction)
	case TokenUseItem:
		return fmt.Sprintf("use_item('%s')", t.Item)
	case TokenError:
		return "error: " + t.Text
	}
	return t.Kind.String() + "()"
}

type ForLoop struct {
	Variable string
	Count    int
	Body     []Statement
	line     int
}

func (f *ForLoop) Line() int { return f.line }

func (f *ForLoop) String() string {
	return fmt.Sprintf("for %s in range(%d)", f.Variable, f.Count)
}

type WhileLoop struct {
	Cond Condition
	Body []Statement
	line int
}

func (w *WhileLoop) Line() int { return w.line }

func (w *WhileLoop) String() string { return "while " + w.Cond.Text }

// Branch is an if or elif arm.
type Branch struct {
	Cond Condition
	Body []Statement
	Line int
}

type Conditional struct {
	If    Branch
	Elifs []Branch
	Else  []Statement
	line  int
}

func (c *Conditional) Line() int { return c.line }

func (c *Conditional) String() string { return "if " + c.If.Cond.Text }

// Program is a parsed source text.
type Program struct {
	Statements []Statement
	// Warnings lists conditions outside the vocabulary; they evaluate to false.
	Warnings []string
}

// Compile tokenizes and parses source.
func Compile(source string, tabWidth int) (*Program, error) {
	tokens, err := TokenizeWithTabs(source, tabWidth)
	if err != nil {
		return nil, err
	}
	return Parse(tokens)
}

// Parse groups tokens into a statement tree. Nesting follows indentation:
// a body is the maximal run of deeper-indented tokens after its header.
// elif and else may sit at the if's own indentation or one level deeper.
func Parse(tokens []Token) (*Program, error) {
	p := &parser{}
	stmts, err := p.block(tokens)
	if err != nil {
		return nil, err
	}
	return &Program{Statements: stmts, Warnings: p.warnings}, nil
}

type parser struct {
	warnings []string
}

func (p *parser) condition(tok Token) Condition {
	c := ParseCondition(tok.Condition)
	if !c.Known() {
		msg := fmt.Sprintf("Unknown condition on line %d: %s (always false)", tok.Line, tok.Condition)
		p.warnings = append(p.warnings, msg)
		logger.InterpreterWarn("%s", msg)
	}
	return c
}

func (p *parser) block(tokens []Token) ([]Statement, error) {
	var stmts []Statement
	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		switch tok.Kind {
		case TokenFor, TokenWhile:
			body, next := extractBlock(tokens, i+1, tok.Indent)
			parsed, err := p.block(body)
			if err != nil {
				return nil, err
			}
			if tok.Kind == TokenFor {
				stmts = append(stmts, &ForLoop{Variable: tok.Variable, Count: tok.Count, Body: parsed, line: tok.Line})
			} else {
				stmts = append(stmts, &WhileLoop{Cond: p.condition(tok), Body: parsed, line: tok.Line})
			}
			i = next

		case TokenIf:
			cond, next, err := p.conditional(tokens, i)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, cond)
			i = next

		case TokenElif, TokenElse:
			keyword := "elif"
			if tok.Kind == TokenElse {
				keyword = "else"
			}
			return nil, newParseError(tok.Line, "'%s' without a matching 'if' on line %d", keyword, tok.Line)

		default:
			stmts = append(stmts, &Action{Token: tok})
			i++
		}
	}
	return stmts, nil
}

func (p *parser) conditional(tokens []Token, start int) (*Conditional, int, error) {
	header := tokens[start]
	level := header.Indent

	bodyTokens, i := extractBranch(tokens, start+1, level)
	body, err := p.block(bodyTokens)
	if err != nil {
		return nil, 0, err
	}
	c := &Conditional{If: Branch{Cond: p.condition(header), Body: body, Line: header.Line}, line: header.Line}

	for i < len(tokens) && tokens[i].Kind == TokenElif && isBranchIndent(tokens[i].Indent, level) {
		elif := tokens[i]
		bodyTokens, i = extractBranch(tokens, i+1, level)
		body, err := p.block(bodyTokens)
		if err != nil {
			return nil, 0, err
		}
		c.Elifs = append(c.Elifs, Branch{Cond: p.condition(elif), Body: body, Line: elif.Line})
	}

	if i < len(tokens) && tokens[i].Kind == TokenElse && isBranchIndent(tokens[i].Indent, level) {
		bodyTokens, i = extractBlock(tokens, i+1, level)
		body, err := p.block(bodyTokens)
		if err != nil {
			return nil, 0, err
		}
		c.Else = body
	}
	return c, i, nil
}

func isBranchIndent(indent, level int) bool {
	return indent == level || indent == level+1
}

// extractBlock returns the run of tokens deeper than level starting at start.
func extractBlock(tokens []Token, start, level int) ([]Token, int) {
	i := start
	for i < len(tokens) && tokens[i].Indent > level {
		i++
	}
	return tokens[start:i], i
}

// extractBranch is extractBlock that also stops at an elif or else one
// level deeper than the header, unless that elif/else continues an if
// nested at the same depth.
func extractBranch(tokens []Token, start, level int) ([]Token, int) {
	i := start
	nestedIfOpen := false
	for i < len(tokens) && tokens[i].Indent > level {
		t := tokens[i]
		isArm := t.Kind == TokenElif || t.Kind == TokenElse
		if t.Indent == level+1 {
			if isArm && !nestedIfOpen {
				break
			}
			switch {
			case t.Kind == TokenIf:
				nestedIfOpen = true
			case t.Kind == TokenElse:
				nestedIfOpen = false
			case !isArm:
				nestedIfOpen = false
			}
		}
		i++
	}
	return tokens[start:i], i
}
